package authstate

import (
	"net/http"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeBackend        = "AUTH_BACKEND_ERROR"
	TextCodeConfiguration  = "AUTH_CONFIGURATION_ERROR"
	TextCodeValidation     = "AUTH_VALIDATION_ERROR"
	TextCodeMissingSession = "AUTH_MISSING_SESSION"
	TextCodeMissingUser    = "AUTH_MISSING_USER"
	TextCodeStoreClosed    = "AUTH_STORE_CLOSED"
	TextCodeTokenInvalid   = "AUTH_TOKEN_INVALID"
	TextCodeTokenExpired   = "AUTH_TOKEN_EXPIRED"
)

// ErrBackend is the base for every failure reported by the identity service
// or by the transport used to reach it. Use NewBackendError to keep the
// backend message verbatim.
var ErrBackend = goerrors.New("identity backend error", goerrors.CategoryExternal).
	WithTextCode(TextCodeBackend).
	WithCode(goerrors.CodeBadRequest)

// ErrConfiguration is returned when required environment configuration is
// missing. It is fatal: nothing should be served after it.
var ErrConfiguration = goerrors.New("missing required configuration", goerrors.CategoryInternal).
	WithTextCode(TextCodeConfiguration).
	WithCode(goerrors.CodeInternal)

// ErrValidation is returned by client side form checks. It never reaches
// the backend.
var ErrValidation = goerrors.New("invalid form input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingSession is returned when sign in succeeds without a session.
var ErrMissingSession = goerrors.New("login failed: no user or session returned", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingUser is returned when sign up succeeds without a user.
var ErrMissingUser = goerrors.New("sign up failed: no user returned", goerrors.CategoryAuth).
	WithTextCode(TextCodeMissingUser).
	WithCode(goerrors.CodeUnauthorized)

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = goerrors.New("auth store is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeStoreClosed).
	WithCode(goerrors.CodeInternal)

// ErrTokenInvalid is returned by token verifiers for bad or unknown tokens.
var ErrTokenInvalid = goerrors.New("Invalid authentication token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned by token verifiers for expired tokens.
var ErrTokenExpired = goerrors.New("Authentication token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// NewBackendError builds a backend error that carries the backend message
// as is. status is the HTTP status of the backend response, zero when the
// request never got an answer.
func NewBackendError(message string, status int, source error) *goerrors.Error {
	clone := ErrBackend.Clone()
	if clone == nil {
		clone = goerrors.New(message, goerrors.CategoryExternal).WithTextCode(TextCodeBackend)
	}

	if message != "" {
		clone.Message = message
	}
	clone.Source = source

	switch {
	case status >= http.StatusBadRequest && status < 600:
		clone.Code = status
	case status == 0:
		clone.Code = http.StatusBadGateway
	}

	meta := map[string]any{}
	if status != 0 {
		meta["status"] = status
	}
	if source != nil {
		meta["cause"] = source.Error()
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}

// NewValidationError wraps field errors produced by request validation.
// Field errors are sorted by field name.
func NewValidationError(message string, fields map[string]string) *goerrors.Error {
	clone := ErrValidation.Clone()
	if clone == nil {
		clone = goerrors.New(message, goerrors.CategoryValidation).WithTextCode(TextCodeValidation)
	}

	if message != "" {
		clone.Message = message
	}

	if len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		clone.ValidationErrors = make(goerrors.ValidationErrors, 0, len(names))
		for _, name := range names {
			clone.ValidationErrors = append(clone.ValidationErrors, goerrors.FieldError{
				Field:   name,
				Message: fields[name],
			})
		}
	}

	return clone
}

// NewConfigurationError reports the missing configuration keys.
func NewConfigurationError(missing []string, source error) *goerrors.Error {
	clone := ErrConfiguration.Clone()
	if clone == nil {
		clone = goerrors.New("missing required configuration", goerrors.CategoryInternal)
	}

	clone.Source = source
	if len(missing) > 0 {
		clone.WithMetadata(map[string]any{"missing": missing})
	}

	return clone
}

// IsBackendError reports whether err came from the identity backend.
func IsBackendError(err error) bool {
	return hasTextCode(err, TextCodeBackend)
}

// IsValidationError reports whether err is a client side validation error.
func IsValidationError(err error) bool {
	return hasTextCode(err, TextCodeValidation)
}

// IsConfigurationError reports whether err is a fatal configuration error.
func IsConfigurationError(err error) bool {
	return hasTextCode(err, TextCodeConfiguration)
}

// ErrorMessage returns the human readable message of err without the
// category and code decoration.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
