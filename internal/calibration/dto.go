package calibration

import "time"

type CreateCalibrationRequest struct {
	AssetNumber  string  `json:"asset_number"`
	CalibratedAt string  `json:"calibrated_at"` // "2006-01-02"
	NextDueDate  string  `json:"next_due_date"` // "2006-01-02"
	Result       string  `json:"result"`        // pass / fail
	Notes        *string `json:"notes,omitempty"`
}

type UpdateCalibrationRequest struct {
	CalibratedAt *string `json:"calibrated_at,omitempty"`
	NextDueDate  *string `json:"next_due_date,omitempty"`
	Result       *string `json:"result,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type CalibrationResponse struct {
	CalibrationULID string    `json:"calibration_ulid"`
	AssetNumber     string    `json:"asset_number"`
	AssetName       string    `json:"asset_name"`
	CalibratedAt    time.Time `json:"calibrated_at"`
	NextDueDate     time.Time `json:"next_due_date"`
	Result          string    `json:"result"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type ListResult struct {
	Items []CalibrationResponse `json:"items"`
	Total int64                 `json:"total"`
}
