package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

// AssetStore は service が必要とする永続化操作
type AssetStore interface {
	Insert(ctx context.Context, in CreateAssetRequest) (int64, error)
	GetByNumber(ctx context.Context, assetNumber string) (*AssetResponse, error)
	GetByID(ctx context.Context, id int64) (*AssetResponse, error)
	List(ctx context.Context, q SearchQuery, p Page) ([]AssetResponse, int64, error)
	UpdateByNumber(ctx context.Context, assetNumber string, in UpdateAssetRequest) (*AssetResponse, error)
	MarkDestroyed(ctx context.Context, assetNumber string) (int64, error)
	HasActiveBorrow(ctx context.Context, assetNumber string) (bool, error)
}

type Service struct {
	store AssetStore
}

func NewService(db *sql.DB) *Service { return &Service{store: NewStore(db)} }

// RegisterAsset は資産を台帳に登録する。
// asset_number の重複はDBのUNIQUE制約で検出して409を返す
// （事前SELECTでの存在確認はレースがあるのでやらない）。
func (s *Service) RegisterAsset(ctx context.Context, in CreateAssetRequest) (AssetResponse, error) {
	if strings.TrimSpace(in.AssetNumber) == "" || strings.TrimSpace(in.Name) == "" {
		return AssetResponse{}, ErrInvalid("asset_number and name are required")
	}

	id, err := s.store.Insert(ctx, in)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return AssetResponse{}, ErrConflict("asset_number already exists")
		}
		return AssetResponse{}, err
	}

	out, err := s.store.GetByID(ctx, id)
	if err != nil {
		return AssetResponse{}, err
	}
	return *out, nil
}

func (s *Service) GetAsset(ctx context.Context, assetNumber string) (AssetResponse, error) {
	out, err := s.store.GetByNumber(ctx, assetNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssetResponse{}, ErrNotFound("asset not found")
		}
		return AssetResponse{}, err
	}
	return *out, nil
}

func (s *Service) ListAssets(ctx context.Context, q SearchQuery, p Page) (ListAssetsResult, error) {
	items, total, err := s.store.List(ctx, q, p)
	if err != nil {
		return ListAssetsResult{}, err
	}
	return ListAssetsResult{Items: items, Total: total}, nil
}

func (s *Service) UpdateAsset(ctx context.Context, assetNumber string, in UpdateAssetRequest) (AssetResponse, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return AssetResponse{}, ErrInvalid("name must not be empty")
	}
	out, err := s.store.UpdateByNumber(ctx, assetNumber, in)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssetResponse{}, ErrNotFound("asset not found")
		}
		return AssetResponse{}, err
	}
	return *out, nil
}

// DestroyAsset は資産を破棄済みにする（物理削除はしない）。
// 貸出中の資産は破棄できない。既に破棄済みなら何もせず成功を返す。
func (s *Service) DestroyAsset(ctx context.Context, assetNumber string) (AssetResponse, error) {
	cur, err := s.store.GetByNumber(ctx, assetNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssetResponse{}, ErrNotFound("asset not found")
		}
		return AssetResponse{}, err
	}
	if cur.Destroyed {
		return *cur, nil // 冪等
	}

	active, err := s.store.HasActiveBorrow(ctx, assetNumber)
	if err != nil {
		return AssetResponse{}, err
	}
	if active {
		return AssetResponse{}, ErrConflict("asset has an active borrow")
	}

	if _, err := s.store.MarkDestroyed(ctx, assetNumber); err != nil {
		return AssetResponse{}, err
	}
	out, err := s.store.GetByNumber(ctx, assetNumber)
	if err != nil {
		return AssetResponse{}, err
	}
	return *out, nil
}
