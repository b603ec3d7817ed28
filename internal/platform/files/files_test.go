package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SATT-backend/internal/platform/db"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"My Photo (1).JPG", "my_photo_1_.jpg"},
		{"ใบยืมครุภัณฑ์.pdf", ".pdf"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"", "file"},
		{"...", "file"},
		{"a___b.png", "a_b.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeFileName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
		})
	}
}

func TestDiskStoreUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := FromConfig(db.FilesConfig{Dir: dir, BaseURL: "http://localhost:8080/uploads/"})
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), []byte("fake image bytes"), "คู่มือ camera.jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/"))

	// ディスク上のファイル名にURLのベース名が対応している
	stored := strings.TrimPrefix(url, "http://localhost:8080/uploads/")
	data, err := os.ReadFile(filepath.Join(dir, stored))
	require.NoError(t, err)
	assert.Equal(t, "fake image bytes", string(data))
}

func TestDiskStoreUpload_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	store, err := FromConfig(db.FilesConfig{Dir: dir, BaseURL: "http://x"})
	require.NoError(t, err)

	u1, err := store.Upload(context.Background(), []byte("a"), "same.jpg")
	require.NoError(t, err)
	u2, err := store.Upload(context.Background(), []byte("b"), "same.jpg")
	require.NoError(t, err)
	assert.NotEqual(t, u1, u2)
}
