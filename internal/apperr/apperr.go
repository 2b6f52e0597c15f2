// Package apperr defines the typed errors every engine command returns.
package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeCampaignExpired       Code = "CAMPAIGN_EXPIRED"
	CodeInsufficientFunds     Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyPaidOut        Code = "ALREADY_PAID_OUT"
	CodeDuplicateContribution Code = "DUPLICATE_CONTRIBUTION"
	CodeAssetNotEnabled       Code = "ASSET_NOT_ENABLED"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeConflict              Code = "CONFLICT"
	CodeDependency            Code = "DEPENDENCY_ERROR"
	CodeInternal              Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeInvalidTransition: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "transition not allowed",
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "caller lacks the required role",
	},
	CodeCampaignExpired: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "campaign deadline has passed",
	},
	CodeInsufficientFunds: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "insufficient funds",
	},
	CodeAlreadyPaidOut: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "campaign already paid out",
	},
	CodeDuplicateContribution: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "contribution already recorded",
	},
	CodeAssetNotEnabled: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "asset not enabled for campaign",
	},
	CodeInvalidAmount: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "amount must be positive",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "campaign not found",
	},
	CodeValidation: {
		HTTPStatus:    http.StatusBadRequest,
		PublicMessage: "validation failed",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		Retryable:     true,
		PublicMessage: "conflicting update",
	},
	CodeDependency: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Retryable:     true,
		PublicMessage: "dependency unavailable",
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		PublicMessage: "internal server error",
	},
}

// MetadataFor returns the transport metadata of a code, falling back to
// CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code so callers can compare against the
// sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code && t.message == ""
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, CodeInternal for untyped errors
// and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidTransition     = &Error{code: CodeInvalidTransition}
	ErrUnauthorized          = &Error{code: CodeUnauthorized}
	ErrCampaignExpired       = &Error{code: CodeCampaignExpired}
	ErrInsufficientFunds     = &Error{code: CodeInsufficientFunds}
	ErrAlreadyPaidOut        = &Error{code: CodeAlreadyPaidOut}
	ErrDuplicateContribution = &Error{code: CodeDuplicateContribution}
	ErrAssetNotEnabled       = &Error{code: CodeAssetNotEnabled}
	ErrInvalidAmount         = &Error{code: CodeInvalidAmount}
	ErrNotFound              = &Error{code: CodeNotFound}
	ErrValidation            = &Error{code: CodeValidation}
	ErrConflict              = &Error{code: CodeConflict}
	ErrDependency            = &Error{code: CodeDependency}
)
