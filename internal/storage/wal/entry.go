// Пакет wal — файловый Write-Ahead Log создания артефактов.
//
// Каждая загрузка открывает транзакцию до записи рабочих копий и
// закрывает её после регистрации артефакта. Транзакция, оставшаяся
// pending после падения процесса, указывает на ключ хранения, чьи
// рабочие копии и выходная директория не принадлежат ни одной записи.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в AS_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpArtifactCreate — создание артефакта (сжатие или распаковка)
	OpArtifactCreate OperationType = "artifact_create"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — артефакт зарегистрирован
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — операция отменена, файлы удалены
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// StorageKey — ключ хранения, под которым создаются файлы
	StorageKey string `json:"storage_key"`

	// ArtifactID — идентификатор, под которым артефакт будет зарегистрирован
	ArtifactID string `json:"artifact_id,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC), nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const walSuffix = ".wal.json"

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}
