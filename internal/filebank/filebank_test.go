package filebank

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestBank(t *testing.T, root string, exts ...string) *Bank {
	t.Helper()
	cfg := bank.DefaultConfig("files")
	cfg.HotStorageLocation = filepath.Join(t.TempDir(), "hot")
	cfg.Codec = "snappy"

	fb, err := New(root, exts, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fb.Close() })
	return fb
}

func TestBlob(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		// Arrange
		blob := NewBlob([]byte("glyph data"))
		var buf bytes.Buffer

		// Act
		require.NoError(t, blob.Serialize(&buf))
		restored := &Blob{}
		err := restored.Deserialize(&buf)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, blob.Bytes, restored.Bytes)
		assert.Equal(t, blob.Sum, restored.Sum)
		assert.Equal(t, int64(10), restored.SizeInMemory())
	})

	t.Run("checksum_mismatch", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewBlob([]byte("original")).Serialize(&buf))
		raw := buf.Bytes()
		raw[len(raw)-1] ^= 0xff

		err := (&Blob{}).Deserialize(bytes.NewReader(raw))
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("short_header", func(t *testing.T) {
		err := (&Blob{}).Deserialize(bytes.NewReader([]byte{1, 2}))
		assert.Error(t, err)
	})
}

func TestFileSource(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "a.txt", "a")
	info, err := os.Stat(path)
	require.NoError(t, err)

	mod, mutable := FileSource{Path: path}.ModifiedAt()
	assert.True(t, mutable)
	assert.Equal(t, info.ModTime(), mod)

	_, mutable = FileSource{Path: filepath.Join(root, "missing")}.ModifiedAt()
	assert.True(t, mutable, "missing files are always stale")
}

func TestBuilder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := writeFile(t, root, "big.bin", "0123456789")

	t.Run("reads_file", func(t *testing.T) {
		d, err := Builder{}.LoadFromSource(ctx, FileSource{Path: path})
		require.NoError(t, err)
		assert.Equal(t, []byte("0123456789"), d.(*Blob).Bytes)
	})

	t.Run("size_limit", func(t *testing.T) {
		_, err := Builder{MaxFileSize: 4}.LoadFromSource(ctx, FileSource{Path: path})
		assert.Error(t, err)
	})

	t.Run("wrong_source", func(t *testing.T) {
		_, err := Builder{}.LoadFromSource(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Builder{}.LoadFromSource(cctx, FileSource{Path: path})
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.IsType(t, &Blob{}, Builder{}.NewData())
}

func TestItemPath(t *testing.T) {
	root := t.TempDir()
	fb := newTestBank(t, root, ".png", ".TTF")

	tests := []struct {
		name string
		file string
		want string
		ok   bool
	}{
		{"nested", filepath.Join(root, "ui", "icon.png"), "ui/icon.png", true},
		{"extension_case", filepath.Join(root, "fonts", "Mono.ttf"), "fonts/Mono.ttf", true},
		{"filtered", filepath.Join(root, "notes.txt"), "", false},
		{"root_itself", root, "", false},
		{"outside", filepath.Join(filepath.Dir(root), "x.png"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fb.ItemPath(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, filepath.Join(root, "ui", "icon.png"), fb.FilePath("ui/icon.png"))
}

func TestScan(t *testing.T) {
	// Arrange
	root := t.TempDir()
	writeFile(t, root, "ui/icon.png", "icon")
	writeFile(t, root, "ui/button.png", "button")
	writeFile(t, root, "fonts/mono.ttf", "font")
	writeFile(t, root, "readme.md", "skip me")
	fb := newTestBank(t, root, ".png", ".ttf")

	// Act
	n, err := fb.Scan(root)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"fonts/mono.ttf", "ui/button.png", "ui/icon.png"}, fb.AllItems())

	n, err = fb.Scan(root)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rescanning adds nothing")
}

func TestBlobThroughTiers(t *testing.T) {
	// Arrange
	root := t.TempDir()
	writeFile(t, root, "data/a.bin", "alpha")
	fb := newTestBank(t, root)
	_, err := fb.Scan(root)
	require.NoError(t, err)

	// Act
	blob, err := fb.Blob("data/a.bin")
	require.NoError(t, err)
	require.NoError(t, fb.Unload("data/a.bin", bank.Hot, bank.RunNow))

	// Assert
	assert.Equal(t, []byte("alpha"), blob.Bytes)
	assert.Equal(t, bank.Hot, fb.Level("data/a.bin"))

	blob, err = fb.Blob("data/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), blob.Bytes)
	assert.Equal(t, bank.Memory, fb.Level("data/a.bin"))
}

func TestRemoveUnder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ui/a.png", "a")
	writeFile(t, root, "ui/deep/b.png", "b")
	writeFile(t, root, "other.png", "c")
	fb := newTestBank(t, root)
	_, err := fb.Scan(root)
	require.NoError(t, err)

	assert.Equal(t, 2, fb.RemoveUnder("ui"))
	assert.Equal(t, []string{"other.png"}, fb.AllItems())
	assert.Equal(t, 1, fb.RemoveUnder("other.png"))
	assert.Equal(t, 0, fb.RemoveUnder("missing"))
}

func TestNewWithCustomStore(t *testing.T) {
	store, err := hotstore.NewFS(t.TempDir())
	require.NoError(t, err)

	fb, err := New(t.TempDir(), nil, bank.DefaultConfig("custom"), nil, nil, bank.WithHotStore(store))
	require.NoError(t, err)
	defer fb.Close()

	assert.ErrorIs(t, fb.SetHotStorageLocation(t.TempDir()), bank.ErrFixedHotStorage)
}
