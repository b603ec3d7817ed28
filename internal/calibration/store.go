package calibration

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const calibColumns = `
c.calibration_ulid, a.asset_number, a.name, c.calibrated_at, c.next_due_date,
c.result, c.notes, c.created_at`

const calibFrom = `
FROM calibrations c JOIN assets a ON a.asset_id = c.asset_id`

func scanCalib(row interface{ Scan(dest ...any) error }) (*CalibrationResponse, error) {
	var (
		out   CalibrationResponse
		notes sql.NullString
	)
	if err := row.Scan(
		&out.CalibrationULID, &out.AssetNumber, &out.AssetName,
		&out.CalibratedAt, &out.NextDueDate, &out.Result, &notes, &out.CreatedAt,
	); err != nil {
		return nil, err
	}
	if notes.Valid {
		out.Notes = &notes.String
	}
	return &out, nil
}

func (s *Store) Insert(ctx context.Context, rec *Record) error {
	// asset_id は asset_number から引く。存在しなければFK違反(1452)。
	const q = `
	INSERT INTO calibrations (calibration_ulid, asset_id, calibrated_at, next_due_date, result, notes, created_at)
	SELECT ?, a.asset_id, ?, ?, ?, ?, CURRENT_TIMESTAMP
	FROM assets a WHERE a.asset_number = ?`
	res, err := s.db.ExecContext(ctx, q,
		rec.CalibrationULID, rec.CalibratedAt, rec.NextDueDate, rec.Result, rec.Notes, rec.AssetNumber)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetByULID(ctx context.Context, u string) (*CalibrationResponse, error) {
	return scanCalib(s.db.QueryRowContext(ctx,
		`SELECT `+calibColumns+calibFrom+` WHERE c.calibration_ulid = ?`, u))
}

func (s *Store) ListByAsset(ctx context.Context, assetNumber string, limit, offset int) ([]CalibrationResponse, int64, error) {
	var conds []string
	var args []any
	if assetNumber != "" {
		conds = append(conds, `a.asset_number = ?`)
		args = append(args, assetNumber)
	}
	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) `+calibFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+calibColumns+calibFrom+where+` ORDER BY c.calibrated_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []CalibrationResponse
	for rows.Next() {
		c, err := scanCalib(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *c)
	}
	return items, total, rows.Err()
}

// ListDueBefore は資産ごとの最新の校正記録のうち、期限が cutoff までのものを返す
func (s *Store) ListDueBefore(ctx context.Context, cutoff time.Time) ([]CalibrationResponse, error) {
	const q = `
	SELECT ` + calibColumns + calibFrom + `
	WHERE c.calibration_id = (
	  SELECT c2.calibration_id FROM calibrations c2
	  WHERE c2.asset_id = c.asset_id
	  ORDER BY c2.calibrated_at DESC, c2.calibration_id DESC LIMIT 1)
	  AND c.next_due_date <= ?
	  AND a.destroyed = FALSE
	ORDER BY c.next_due_date`
	rows, err := s.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CalibrationResponse
	for rows.Next() {
		c, err := scanCalib(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	return items, rows.Err()
}

func (s *Store) UpdateByULID(ctx context.Context, u string, in UpdateCalibrationRequest) error {
	sets := []string{}
	args := []any{}
	if in.CalibratedAt != nil {
		sets = append(sets, "calibrated_at = ?")
		args = append(args, *in.CalibratedAt)
	}
	if in.NextDueDate != nil {
		sets = append(sets, "next_due_date = ?")
		args = append(args, *in.NextDueDate)
	}
	if in.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *in.Result)
	}
	if in.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *in.Notes)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, u)
	res, err := s.db.ExecContext(ctx,
		`UPDATE calibrations SET `+strings.Join(sets, ", ")+` WHERE calibration_ulid = ?`, args...)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		// 存在しないか同値更新。GetByULID 側で確かめる。
		return nil
	}
	return nil
}

func (s *Store) DeleteByULID(ctx context.Context, u string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calibrations WHERE calibration_ulid = ?`, u)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
