package assets

import "time"

type CreateAssetRequest struct {
	AssetNumber string  `json:"asset_number"`
	Name        string  `json:"name"`
	Nickname    *string `json:"nickname,omitempty"`
	Location    *string `json:"location,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
}

type UpdateAssetRequest struct {
	Name     *string `json:"name,omitempty"`
	Nickname *string `json:"nickname,omitempty"`
	Location *string `json:"location,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

type AssetResponse struct {
	AssetID     int64     `json:"asset_id"`
	AssetNumber string    `json:"asset_number"`
	Name        string    `json:"name"`
	Nickname    *string   `json:"nickname,omitempty"`
	Location    *string   `json:"location,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Destroyed   bool      `json:"destroyed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 一覧検索条件。keyword は asset_number / name の部分一致。
type SearchQuery struct {
	Keyword          string
	IncludeDestroyed bool
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}

type ListAssetsResult struct {
	Items []AssetResponse `json:"items"`
	Total int64           `json:"total"`
}
