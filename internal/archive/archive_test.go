package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// writeZip создаёт zip-архив с заданными записями (имя → содержимое).
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestSupportedExtension(t *testing.T) {
	require.True(t, SupportedExtension("data.zip"))
	require.True(t, SupportedExtension("DATA.ZIP"))
	require.True(t, SupportedExtension("logs.tar.gz"))
	require.False(t, SupportedExtension("data.unknown"))
	require.False(t, SupportedExtension("noext"))
}

// TestCompressDecompress_RoundTrip проверяет, что распаковка возвращает исходные файлы.
func TestCompressDecompress_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "report.pdf"), []byte("pdf content"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "notes.txt"), []byte("notes"), 0o644))

	b := NewZipBackend(0)
	dst := filepath.Join(t.TempDir(), "report.zip")
	require.NoError(t, b.Compress(src, dst))

	_, err := os.Stat(dst + ".tmp")
	require.True(t, os.IsNotExist(err), "временный файл не должен оставаться")

	out := t.TempDir()
	entries, err := b.Decompress(dst, out)
	require.NoError(t, err)
	require.Equal(t, []string{"report.pdf", "sub/notes.txt"}, entries)

	data, err := os.ReadFile(filepath.Join(out, "sub", "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "notes", string(data))
}

func TestCompress_EmptyDir(t *testing.T) {
	b := NewZipBackend(0)
	err := b.Compress(t.TempDir(), filepath.Join(t.TempDir(), "empty.zip"))
	require.Error(t, err)
}

func TestDecompress_Gzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.csv.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("a,b,c"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	out := t.TempDir()
	entries, err := NewZipBackend(0).Decompress(src, out)
	require.NoError(t, err)
	require.Equal(t, []string{"data.csv"}, entries)

	data, err := os.ReadFile(filepath.Join(out, "data.csv"))
	require.NoError(t, err)
	require.Equal(t, "a,b,c", string(data))
}

func TestDecompress_GzipHeaderName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "upload.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = "../../original.log"
	_, err := zw.Write([]byte("line"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	entries, err := NewZipBackend(0).Decompress(src, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, []string{"original.log"}, entries, "имя из заголовка без компонентов пути")
}

func TestDecompress_ZipSlip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, src, map[string]string{"../escape.txt": "x"})

	out := t.TempDir()
	_, err := NewZipBackend(0).Decompress(src, out)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(out), "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDecompress_AbsolutePath(t *testing.T) {
	src := filepath.Join(t.TempDir(), "abs.zip")
	writeZip(t, src, map[string]string{"/etc/passwd": "x"})

	_, err := NewZipBackend(0).Decompress(src, t.TempDir())
	require.Error(t, err)
}

func TestSafeEntryName(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"a.txt", "a.txt", false},
		{"dir/./b.txt", "dir/b.txt", false},
		{`win\path.txt`, "win/path.txt", false},
		{"dir/../c.txt", "c.txt", false},
		{"../escape.txt", "", true},
		{"/etc/passwd", "", true},
		{"..", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := safeEntryName(tt.input)
		if tt.wantErr {
			require.ErrorIs(t, err, ErrUnsafeEntry, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.want, got)
	}
}

func TestDecompress_Unsupported(t *testing.T) {
	src := filepath.Join(t.TempDir(), "data.unknown")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	_, err := NewZipBackend(0).Decompress(src, t.TempDir())
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecompress_Corrupted(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(src, []byte("not a zip"), 0o644))

	_, err := NewZipBackend(0).Decompress(src, t.TempDir())
	require.Error(t, err)
}

func TestDecompress_Empty(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty.zip")
	writeZip(t, src, map[string]string{})

	_, err := NewZipBackend(0).Decompress(src, t.TempDir())
	require.ErrorIs(t, err, ErrEmptyArchive)
}

func TestDecompress_SizeLimit(t *testing.T) {
	src := filepath.Join(t.TempDir(), "big.zip")
	writeZip(t, src, map[string]string{
		"a.txt": string(bytes.Repeat([]byte("a"), 60)),
		"b.txt": string(bytes.Repeat([]byte("b"), 60)),
	})

	_, err := NewZipBackend(100).Decompress(src, t.TempDir())
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := NewZipBackend(120).Decompress(src, t.TempDir())
	require.NoError(t, err, "ровно лимит допустим")
	require.Len(t, entries, 2)
}

// TestDecompress_NameCollision проверяет, что запись с уже существующим
// именем не перезаписывает файл, а получает суффикс _N.
func TestDecompress_NameCollision(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.zip")
	second := filepath.Join(dir, "second.zip")
	writeZip(t, first, map[string]string{"data.csv": "one", "sub/a.txt": "a1"})
	writeZip(t, second, map[string]string{"data.csv": "two", "sub/a.txt": "a2"})

	b := NewZipBackend(0)
	out := t.TempDir()
	entries, err := b.Decompress(first, out)
	require.NoError(t, err)
	require.Equal(t, []string{"data.csv", "sub/a.txt"}, entries)

	entries, err = b.Decompress(second, out)
	require.NoError(t, err)
	require.Equal(t, []string{"data_1.csv", "sub/a_1.txt"}, entries)

	for name, want := range map[string]string{
		"data.csv":    "one",
		"data_1.csv":  "two",
		"sub/a.txt":   "a1",
		"sub/a_1.txt": "a2",
	} {
		data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
		require.NoError(t, err)
		require.Equal(t, want, string(data), name)
	}
}
