package assets

import (
	"context"
	"database/sql"
	"strings"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const assetColumns = `
asset_id, asset_number, name, nickname, location, image_url, destroyed, created_at, updated_at`

func scanAsset(row interface{ Scan(dest ...any) error }) (*AssetResponse, error) {
	var (
		out              AssetResponse
		nick, loc, image sql.NullString
	)
	if err := row.Scan(
		&out.AssetID, &out.AssetNumber, &out.Name, &nick, &loc, &image,
		&out.Destroyed, &out.CreatedAt, &out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if nick.Valid {
		out.Nickname = &nick.String
	}
	if loc.Valid {
		out.Location = &loc.String
	}
	if image.Valid {
		out.ImageURL = &image.String
	}
	return &out, nil
}

func (s *Store) Insert(ctx context.Context, in CreateAssetRequest) (int64, error) {
	const q = `
	INSERT INTO assets (asset_number, name, nickname, location, image_url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	res, err := s.db.ExecContext(ctx, q, in.AssetNumber, in.Name, in.Nickname, in.Location, in.ImageURL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetByID(ctx context.Context, id int64) (*AssetResponse, error) {
	return scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, id))
}

func (s *Store) GetByNumber(ctx context.Context, assetNumber string) (*AssetResponse, error) {
	return scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE asset_number = ?`, assetNumber))
}

func (s *Store) List(ctx context.Context, q SearchQuery, p Page) ([]AssetResponse, int64, error) {
	var conds []string
	var args []any
	if !q.IncludeDestroyed {
		conds = append(conds, `destroyed = FALSE`)
	}
	if q.Keyword != "" {
		conds = append(conds, `(asset_number LIKE ? OR name LIKE ?)`)
		kw := "%" + q.Keyword + "%"
		args = append(args, kw, kw)
	}
	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "DESC"
	if strings.EqualFold(p.Order, "asc") {
		dir = "ASC"
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets`+where+` ORDER BY asset_id `+dir+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []AssetResponse
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *a)
	}
	return items, total, rows.Err()
}

// 動的アップデート（nil のフィールドは触らない）
func (s *Store) UpdateByNumber(ctx context.Context, assetNumber string, in UpdateAssetRequest) (*AssetResponse, error) {
	sets := []string{}
	args := []any{}
	if in.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *in.Name)
	}
	if in.Nickname != nil {
		sets = append(sets, "nickname = ?")
		args = append(args, *in.Nickname)
	}
	if in.Location != nil {
		sets = append(sets, "location = ?")
		args = append(args, *in.Location)
	}
	if in.ImageURL != nil {
		sets = append(sets, "image_url = ?")
		args = append(args, *in.ImageURL)
	}
	if len(sets) == 0 {
		// 変更なしでも現行値を返す
		return s.GetByNumber(ctx, assetNumber)
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, assetNumber)

	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET `+strings.Join(sets, ", ")+` WHERE asset_number = ?`, args...)
	if err != nil {
		return nil, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		// 行が無いか値が同一。存在確認を兼ねて取り直す。
		return s.GetByNumber(ctx, assetNumber)
	}
	return s.GetByNumber(ctx, assetNumber)
}

func (s *Store) MarkDestroyed(ctx context.Context, assetNumber string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE assets SET destroyed = TRUE, updated_at = CURRENT_TIMESTAMP
	WHERE asset_number = ? AND destroyed = FALSE`, assetNumber)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) HasActiveBorrow(ctx context.Context, assetNumber string) (bool, error) {
	const q = `
	SELECT EXISTS (
	  SELECT 1 FROM borrow_items bi
	  JOIN assets a ON a.asset_id = bi.asset_id
	  WHERE a.asset_number = ? AND bi.status IN ('pending','borrowed'))`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, assetNumber).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
