// Пакет filestore — операции с физическими файлами на диске.
//
// Два корня:
//   - storageDir — готовые артефакты, по поддиректории на артефакт: {storage_key}/...
//   - tempDir — рабочие копии загруженных файлов: {storage_key}/...
//
// Запись рабочих копий: temp файл → запись + SHA-256 → fsync → atomic rename.
// Все относительные пути проверяются на выход за пределы корня.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ErrInvalidName — имя файла или ключ недопустимы (пустые, с разделителями пути, "..").
var ErrInvalidName = errors.New("недопустимое имя файла")

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// storageDir — корень хранилища артефактов (AS_FILE_STORAGE_PATH)
	storageDir string
	// tempDir — корень рабочих копий (AS_TEMP_STORAGE_PATH)
	tempDir string
}

// SaveResult — результат сохранения рабочей копии.
type SaveResult struct {
	// Name — итоговое имя файла в рабочей директории
	Name string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт FileStore. Создаёт обе директории, если они не существуют.
func New(storageDir, tempDir string) (*FileStore, error) {
	if err := os.MkdirAll(storageDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", storageDir, err)
	}
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать временную директорию %s: %w", tempDir, err)
	}
	return &FileStore{storageDir: storageDir, tempDir: tempDir}, nil
}

// NewWorkspace выделяет новый ключ хранения и создаёт рабочую директорию для него.
func (fs *FileStore) NewWorkspace() (string, error) {
	key := uuid.New().String()
	if err := os.MkdirAll(filepath.Join(fs.tempDir, key), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания рабочей директории: %w", err)
	}
	return key, nil
}

// SaveWorkingCopy записывает данные из reader в рабочую директорию ключа.
// Имя очищается через SafeName; при совпадении имён добавляется суффикс _N.
// При ошибке temp файл удаляется.
func (fs *FileStore) SaveWorkingCopy(key, name string, reader io.Reader) (*SaveResult, error) {
	dir, err := fs.workspaceDir(key)
	if err != nil {
		return nil, err
	}
	name, err = SafeName(name)
	if err != nil {
		return nil, err
	}
	name = uniqueName(dir, name)
	fullPath := filepath.Join(dir, name)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Name:     name,
		FullPath: fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// OutputDir создаёт и возвращает директорию артефакта в хранилище.
func (fs *FileStore) OutputDir(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	dir := filepath.Join(fs.storageDir, key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания директории артефакта: %w", err)
	}
	return dir, nil
}

// Open открывает файл хранилища для чтения.
// relPath — путь относительно storageDir (например, {storage_key}/report.pdf.zip).
// Отсутствующий файл: ошибка оборачивает os.ErrNotExist.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(relPath string) (*os.File, error) {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("файл не найден: %s: %w", relPath, os.ErrNotExist)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", relPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", relPath, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("путь %s является директорией: %w", relPath, os.ErrNotExist)
	}
	return f, nil
}

// Exists проверяет существование обычного файла в хранилище.
func (fs *FileStore) Exists(relPath string) bool {
	fullPath, err := fs.resolve(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// RemoveTree рекурсивно удаляет директорию артефакта из хранилища.
// Отсутствующая директория — не ошибка. Прочие ошибки (права, I/O) возвращаются.
func (fs *FileStore) RemoveTree(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(fs.storageDir, key)); err != nil {
		return fmt.Errorf("ошибка удаления директории артефакта %s: %w", key, err)
	}
	return nil
}

// RemoveWorkingCopies удаляет рабочую директорию ключа. Идемпотентна.
func (fs *FileStore) RemoveWorkingCopies(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(fs.tempDir, key)); err != nil {
		return fmt.Errorf("ошибка удаления рабочих копий %s: %w", key, err)
	}
	return nil
}

// StorageDir возвращает корень хранилища артефактов.
func (fs *FileStore) StorageDir() string {
	return fs.storageDir
}

// TempDir возвращает корень рабочих копий.
func (fs *FileStore) TempDir() string {
	return fs.tempDir
}

// SafeName возвращает базовое имя файла без компонентов пути
// и управляющих символов. ErrInvalidName для пустых имён, "." и "..".
func SafeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// workspaceDir возвращает существующую рабочую директорию ключа.
func (fs *FileStore) workspaceDir(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	dir := filepath.Join(fs.tempDir, key)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания рабочей директории: %w", err)
	}
	return dir, nil
}

// resolve преобразует относительный путь в абсолютный внутри storageDir.
func (fs *FileStore) resolve(relPath string) (string, error) {
	fullPath := filepath.Join(fs.storageDir, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(fs.storageDir, fullPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: путь %q вне хранилища", ErrInvalidName, relPath)
	}
	return fullPath, nil
}

// validateKey проверяет, что ключ — одиночный компонент пути.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: ключ %q", ErrInvalidName, key)
	}
	return nil
}

// uniqueName добавляет суффикс _N к имени, если файл уже существует в dir.
// Пример: data.csv → data_1.csv
func uniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}
