// Пакет model — доменные модели Archive Service.
// ArtifactRecord — запись об артефакте (результат архивации или распаковки),
// единственный источник истины о статусе артефакта.
package model

import (
	"path"
	"time"
)

// ArtifactStatus — статус артефакта в жизненном цикле.
type ArtifactStatus string

const (
	// StatusUploaded — артефакт создан, ещё ни разу не скачан
	StatusUploaded ArtifactStatus = "uploaded"
	// StatusDownloaded — артефакт скачан хотя бы один раз
	StatusDownloaded ArtifactStatus = "downloaded"
	// StatusDeleted — файл удалён с диска, запись сохранена (конечный статус)
	StatusDeleted ArtifactStatus = "deleted"
)

// ParseStatus преобразует строку в ArtifactStatus.
// Возвращает false для недопустимых значений.
func ParseStatus(s string) (ArtifactStatus, bool) {
	switch st := ArtifactStatus(s); st {
	case StatusUploaded, StatusDownloaded, StatusDeleted:
		return st, true
	default:
		return "", false
	}
}

// ArtifactKind — тип операции, породившей артефакт.
type ArtifactKind string

const (
	// KindCompressed — результат сжатия (zip-архив)
	KindCompressed ArtifactKind = "compressed"
	// KindExtracted — результат распаковки
	KindExtracted ArtifactKind = "extracted"
)

// CompressedSuffix — расширение, добавляемое к имени сжатого артефакта.
const CompressedSuffix = ".zip"

// Suffix возвращает суффикс имени backing-файла для типа артефакта.
func (k ArtifactKind) Suffix() string {
	if k == KindCompressed {
		return CompressedSuffix
	}
	return ""
}

// ArtifactRecord — метаданные артефакта.
type ArtifactRecord struct {
	// ID — внешний идентификатор (UUID v4), неизменяем
	ID string
	// FileName — логическое имя файла без суффикса, зависящего от типа.
	// Для распакованного артефакта — путь первой записи архива.
	FileName string
	// StorageKey — имя поддиректории артефакта в корне хранилища.
	// Каждый артефакт занимает собственную поддиректорию.
	StorageKey string
	// Kind — compressed или extracted
	Kind ArtifactKind
	// Status — текущий статус
	Status ArtifactStatus
	// UploadedAt — время создания записи (UTC)
	UploadedAt time.Time
	// DownloadedAt — время последнего скачивания (nil до первого скачивания)
	DownloadedAt *time.Time
	// DeletedAt — время перехода в deleted
	DeletedAt *time.Time
	// ReclaimFailures — количество подряд неудачных попыток очистки
	ReclaimFailures int
}

// BackingPath возвращает путь backing-файла относительно корня хранилища.
// Формат: {storage_key}/{file_name}{suffix}
func (r *ArtifactRecord) BackingPath() string {
	return path.Join(r.StorageKey, r.FileName+r.Kind.Suffix())
}

// DownloadName возвращает имя, предлагаемое клиенту при скачивании.
// Для распакованного артефакта FileName может содержать поддиректории архива.
func (r *ArtifactRecord) DownloadName() string {
	return path.Base(r.FileName) + r.Kind.Suffix()
}

// Clone возвращает глубокую копию записи.
func (r *ArtifactRecord) Clone() *ArtifactRecord {
	c := *r
	if r.DownloadedAt != nil {
		t := *r.DownloadedAt
		c.DownloadedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// ArtifactView — представление артефакта для API.
type ArtifactView struct {
	ID           string     `json:"artifact_id"`
	FileName     string     `json:"file_name"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// ToView — единственное место преобразования записи в API-представление.
//
// Поля: ID, DownloadName() → FileName, Kind, Status, UploadedAt,
// DownloadedAt, DeletedAt. StorageKey и ReclaimFailures — внутренние,
// наружу не отдаются. При добавлении поля в ArtifactRecord обновить здесь.
func ToView(r *ArtifactRecord) ArtifactView {
	v := ArtifactView{
		ID:         r.ID,
		FileName:   r.DownloadName(),
		Kind:       string(r.Kind),
		Status:     string(r.Status),
		UploadedAt: r.UploadedAt,
	}
	if r.DownloadedAt != nil {
		t := *r.DownloadedAt
		v.DownloadedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		v.DeletedAt = &t
	}
	return v
}
