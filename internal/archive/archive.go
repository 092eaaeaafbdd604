// Пакет archive — сжатие и распаковка файлов.
//
// Backend работает синхронно с путями на диске и не знает о жизненном
// цикле артефактов: вызывающий код готовит рабочие копии и выходную директорию.
// Реализация ZipBackend использует zip и gzip из klauspost/compress.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Ошибки распаковки.
var (
	// ErrUnsupportedFormat — расширение входного файла не поддерживается.
	ErrUnsupportedFormat = errors.New("неподдерживаемый формат архива")
	// ErrUnsafeEntry — запись архива выходит за пределы выходной директории.
	ErrUnsafeEntry = errors.New("небезопасный путь в архиве")
	// ErrTooLarge — суммарный размер распакованных данных превышает лимит.
	ErrTooLarge = errors.New("превышен лимит размера распакованных данных")
	// ErrEmptyArchive — архив не содержит файлов.
	ErrEmptyArchive = errors.New("архив не содержит файлов")
)

// supportedExtensions — расширения, принимаемые на распаковку.
var supportedExtensions = map[string]bool{
	".zip": true,
	".gz":  true,
}

// SupportedExtension проверяет, поддерживается ли файл для распаковки.
// Сравнение расширения — без учёта регистра.
func SupportedExtension(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Backend — внешний исполнитель сжатия и распаковки.
type Backend interface {
	// Compress упаковывает все обычные файлы srcDir (рекурсивно) в zip-архив dst.
	Compress(srcDir, dst string) error
	// Decompress распаковывает src в dstDir и возвращает относительные
	// пути извлечённых файлов (через "/", отсортированы).
	Decompress(src, dstDir string) ([]string, error)
}

// ZipBackend — реализация Backend на zip/gzip.
type ZipBackend struct {
	// maxExtracted — лимит суммарного размера распакованных данных (0 — без лимита)
	maxExtracted int64
}

// NewZipBackend создаёт ZipBackend. maxExtracted ограничивает суммарный
// размер распакованных данных одного архива (0 — без ограничения).
func NewZipBackend(maxExtracted int64) *ZipBackend {
	return &ZipBackend{maxExtracted: maxExtracted}
}

// Compress упаковывает файлы srcDir в dst методом Deflate.
// Запись ведётся во временный файл рядом с dst, затем fsync и rename.
func (b *ZipBackend) Compress(srcDir, dst string) error {
	var files []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка обхода директории %s: %w", srcDir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("нет файлов для сжатия в %s", srcDir)
	}
	sort.Strings(files)

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания архива: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, p := range files {
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return abortWrite(out, tmpPath, err)
		}
		if err := addFile(zw, p, filepath.ToSlash(rel)); err != nil {
			return abortWrite(out, tmpPath, err)
		}
	}
	if err := zw.Close(); err != nil {
		return abortWrite(out, tmpPath, err)
	}
	if err := out.Sync(); err != nil {
		return abortWrite(out, tmpPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия архива: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования архива: %w", err)
	}
	return nil
}

// Decompress распаковывает src (.zip или .gz) в dstDir.
func (b *ZipBackend) Decompress(src, dstDir string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".zip":
		return b.unzip(src, dstDir)
	case ".gz":
		return b.gunzip(src, dstDir)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
	}
}

func (b *ZipBackend) unzip(src, dstDir string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия zip-архива: %w", err)
	}
	defer zr.Close()

	var (
		entries []string
		total   int64
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := safeEntryName(f.Name)
		if err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения записи %s: %w", f.Name, err)
		}
		name, n, err := b.writeEntry(dstDir, name, rc, total)
		rc.Close()
		if err != nil {
			return nil, err
		}
		total += n
		entries = append(entries, name)
	}

	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}
	sort.Strings(entries)
	return entries, nil
}

func (b *ZipBackend) gunzip(src, dstDir string) ([]string, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия gzip-файла: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения gzip-заголовка: %w", err)
	}
	defer zr.Close()

	// Имя берётся из заголовка gzip, иначе — имя файла без .gz
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if zr.Name != "" {
		name = zr.Name
	}
	name, err = safeEntryName(path.Base(filepath.ToSlash(name)))
	if err != nil {
		return nil, err
	}

	name, _, err = b.writeEntry(dstDir, name, zr, 0)
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// writeEntry записывает содержимое r в dstDir/name, соблюдая лимит размера.
// already — объём, распакованный ранее из того же архива.
// Существующие файлы не перезаписываются: при совпадении к имени
// добавляется суффикс _N (data.csv → data_1.csv). Возвращает итоговое имя.
func (b *ZipBackend) writeEntry(dstDir, name string, r io.Reader, already int64) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dstDir, filepath.FromSlash(name))), 0o750); err != nil {
		return "", 0, fmt.Errorf("ошибка создания директории: %w", err)
	}
	name, out, err := createUnique(dstDir, name)
	if err != nil {
		return "", 0, err
	}

	src := r
	if b.maxExtracted > 0 {
		// +1 байт, чтобы отличить «ровно лимит» от превышения
		src = io.LimitReader(r, b.maxExtracted-already+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		out.Close()
		return "", n, fmt.Errorf("ошибка распаковки %s: %w", name, err)
	}
	if b.maxExtracted > 0 && already+n > b.maxExtracted {
		out.Close()
		return "", n, ErrTooLarge
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", n, fmt.Errorf("ошибка fsync: %w", err)
	}
	return name, n, out.Close()
}

// createUnique создаёт новый файл dstDir/name, подбирая свободное имя.
func createUnique(dstDir, name string) (string, *os.File, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		target := filepath.Join(dstDir, filepath.FromSlash(candidate))
		out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			return candidate, out, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("ошибка создания файла %s: %w", candidate, err)
		}
		candidate = base + "_" + strconv.Itoa(i) + ext
	}
}

// safeEntryName нормализует имя записи архива и отклоняет абсолютные пути
// и выход за пределы выходной директории (zip slip).
func safeEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeEntry, name)
	}
	return clean, nil
}

// addFile добавляет файл p в архив под именем name.
func addFile(zw *zip.Writer, p, name string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// abortWrite закрывает и удаляет недописанный архив.
func abortWrite(out *os.File, tmpPath string, cause error) error {
	out.Close()
	os.Remove(tmpPath)
	return fmt.Errorf("ошибка записи архива: %w", cause)
}
