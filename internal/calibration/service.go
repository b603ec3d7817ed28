package calibration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	ulid "github.com/oklog/ulid/v2"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		default:
			return 500
		}
	}
	return 500
}

const dateLayout = "2006-01-02"

type CalibrationStore interface {
	Insert(ctx context.Context, rec *Record) error
	GetByULID(ctx context.Context, u string) (*CalibrationResponse, error)
	ListByAsset(ctx context.Context, assetNumber string, limit, offset int) ([]CalibrationResponse, int64, error)
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]CalibrationResponse, error)
	UpdateByULID(ctx context.Context, u string, in UpdateCalibrationRequest) error
	DeleteByULID(ctx context.Context, u string) (int64, error)
}

type Record struct {
	CalibrationULID string
	AssetNumber     string
	CalibratedAt    time.Time
	NextDueDate     time.Time
	Result          string
	Notes           sql.NullString
}

type Service struct {
	store CalibrationStore
}

func NewService(db *sql.DB) *Service { return &Service{store: NewStore(db)} }

func (s *Service) CreateCalibration(ctx context.Context, in CreateCalibrationRequest) (CalibrationResponse, error) {
	if strings.TrimSpace(in.AssetNumber) == "" {
		return CalibrationResponse{}, ErrInvalid("asset_number required")
	}
	if in.Result != "pass" && in.Result != "fail" {
		return CalibrationResponse{}, ErrInvalid("result must be pass or fail")
	}
	calibratedAt, err := time.Parse(dateLayout, in.CalibratedAt)
	if err != nil {
		return CalibrationResponse{}, ErrInvalid("invalid calibrated_at, expected YYYY-MM-DD")
	}
	nextDue, err := time.Parse(dateLayout, in.NextDueDate)
	if err != nil {
		return CalibrationResponse{}, ErrInvalid("invalid next_due_date, expected YYYY-MM-DD")
	}
	if !nextDue.After(calibratedAt) {
		return CalibrationResponse{}, ErrInvalid("next_due_date must be after calibrated_at")
	}

	rec := &Record{
		CalibrationULID: ulid.Make().String(),
		AssetNumber:     in.AssetNumber,
		CalibratedAt:    calibratedAt,
		NextDueDate:     nextDue,
		Result:          in.Result,
	}
	if in.Notes != nil && *in.Notes != "" {
		rec.Notes = sql.NullString{String: *in.Notes, Valid: true}
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1452 {
			return CalibrationResponse{}, ErrNotFound("asset not found: " + in.AssetNumber)
		}
		return CalibrationResponse{}, err
	}
	out, err := s.store.GetByULID(ctx, rec.CalibrationULID)
	if err != nil {
		return CalibrationResponse{}, err
	}
	return *out, nil
}

func (s *Service) ListByAsset(ctx context.Context, assetNumber string, limit, offset int) (ListResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	items, total, err := s.store.ListByAsset(ctx, assetNumber, limit, offset)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ListDueSoon は days 日以内に校正期限を迎える記録を返す
func (s *Service) ListDueSoon(ctx context.Context, days int) ([]CalibrationResponse, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, days)
	return s.store.ListDueBefore(ctx, cutoff)
}

func (s *Service) UpdateCalibration(ctx context.Context, u string, in UpdateCalibrationRequest) (CalibrationResponse, error) {
	if in.Result != nil && *in.Result != "pass" && *in.Result != "fail" {
		return CalibrationResponse{}, ErrInvalid("result must be pass or fail")
	}
	for _, d := range []*string{in.CalibratedAt, in.NextDueDate} {
		if d != nil {
			if _, err := time.Parse(dateLayout, *d); err != nil {
				return CalibrationResponse{}, ErrInvalid("invalid date, expected YYYY-MM-DD")
			}
		}
	}
	if err := s.store.UpdateByULID(ctx, u, in); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalibrationResponse{}, ErrNotFound("calibration not found")
		}
		return CalibrationResponse{}, err
	}
	out, err := s.store.GetByULID(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalibrationResponse{}, ErrNotFound("calibration not found")
		}
		return CalibrationResponse{}, err
	}
	return *out, nil
}

func (s *Service) DeleteCalibration(ctx context.Context, u string) error {
	n, err := s.store.DeleteByULID(ctx, u)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound("calibration not found")
	}
	return nil
}
