package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"SATT-backend/internal/platform/db"
)

// Store は画像等の添付ファイル置き場。返ってくるURLは不透明な文字列として
// orders の行にそのまま保存する。
type Store interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

func FromConfig(cfg db.FilesConfig) (Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = "uploads"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("アップロード先の作成に失敗: %w", err)
	}
	return &DiskStore{dir: cfg.Dir, baseURL: strings.TrimSuffix(cfg.BaseURL, "/")}, nil
}

// DiskStore はローカルディスク実装。S3等に差し替える場合もURLの意味は変えない。
type DiskStore struct {
	dir     string
	baseURL string
}

func (s *DiskStore) Upload(_ context.Context, data []byte, name string) (string, error) {
	clean := SanitizeFileName(name)
	// 同名衝突を避けるためUUIDを前置する
	stored := uuid.NewString() + "_" + clean
	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + stored, nil
}

var unsafeChars = regexp.MustCompile(`[^\w.-]`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// SanitizeFileName はタイ語等のファイル名をNFKD正規化してから
// 英数字・ドット・ハイフン以外を "_" に潰す。
func SanitizeFileName(name string) string {
	n := norm.NFKD.String(name)
	n = unsafeChars.ReplaceAllString(n, "_")
	n = repeatedUnderscore.ReplaceAllString(n, "_")
	n = strings.Trim(n, "_")
	if strings.Trim(n, ".") == "" {
		n = "file"
	}
	return strings.ToLower(n)
}
