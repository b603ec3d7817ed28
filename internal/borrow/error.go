package borrow

import (
	"errors"
	"fmt"
)

// ===== Error model =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnprocessable   Code = "UNPROCESSABLE_ENTITY" // 貸出不可・検品漏れ・延長不可など
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
	Details any // 資産ごとの不可理由や検品漏れのアイテムID一覧
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

// AssetUnavailableDetail は貸出不可だった資産とその理由
type AssetUnavailableDetail struct {
	AssetNumber string            `json:"asset_number"`
	Reason      UnavailableReason `json:"reason"`
}

func ErrAssetUnavailable(details []AssetUnavailableDetail) *APIError {
	return &APIError{
		Code:    CodeUnprocessable,
		Message: "asset unavailable",
		Details: details,
	}
}

func ErrIncompleteInspection(missing []int64) *APIError {
	return &APIError{
		Code:    CodeUnprocessable,
		Message: "inspection result missing for some items",
		Details: missing,
	}
}

func ErrExtensionNotAllowed(msg string) *APIError {
	return &APIError{Code: CodeUnprocessable, Message: msg}
}

// -------------- Error helpers for handler --------------

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		case CodeUnprocessable:
			return 422
		default:
			return 500
		}
	}
	return 500
}
