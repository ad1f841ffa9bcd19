// ABOUTME: Classified errors for scan, cache and signature update failures
// ABOUTME: A code plus a retry category, unwrappable and loggable through slog

package observability

import (
	"errors"
	"log/slog"
	"net/http"
)

// Category says whether retrying can help.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryUserError Category = "user_error"
)

// HTTPStatus is the response status for an error of this category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryUserError:
		return http.StatusBadRequest
	case CategoryTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeFeedFetchFailed  = "FEED_FETCH_FAILED"
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeStoreFailed      = "STORE_FAILED"
	CodeTimeout          = "TIMEOUT"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

// ErrorContext wraps an error with the operation that failed and how to
// treat it.
type ErrorContext struct {
	Code      string   `json:"code"`
	Category  Category `json:"category"`
	Operation string   `json:"operation"`
	Err       error    `json:"-"`
}

func newError(code string, category Category, operation string, err error) *ErrorContext {
	return &ErrorContext{Code: code, Category: category, Operation: operation, Err: err}
}

// InvalidArgument marks err as caused by caller input.
func InvalidArgument(operation string, err error) *ErrorContext {
	return newError(CodeInvalidArgument, CategoryUserError, operation, err)
}

// Transient marks err as worth retrying.
func Transient(code, operation string, err error) *ErrorContext {
	return newError(code, CategoryTransient, operation, err)
}

// Permanent marks err as failing again on retry with the same input.
func Permanent(code, operation string, err error) *ErrorContext {
	return newError(code, CategoryPermanent, operation, err)
}

// AsErrorContext finds the outermost ErrorContext in err's chain.
func AsErrorContext(err error) (*ErrorContext, bool) {
	var ec *ErrorContext
	ok := errors.As(err, &ec)
	return ec, ok
}

// IsRetryableError reports whether err was classified transient.
func IsRetryableError(err error) bool {
	ec, ok := AsErrorContext(err)
	return ok && ec.IsRetryable()
}

// IsPermanentError reports whether err was classified permanent.
// Unclassified errors are not permanent.
func IsPermanentError(err error) bool {
	ec, ok := AsErrorContext(err)
	return ok && ec.Category == CategoryPermanent
}

func (e *ErrorContext) IsRetryable() bool { return e.Category == CategoryTransient }

func (e *ErrorContext) Error() string {
	s := "[" + e.Code + "] " + string(e.Category) + ": " + e.Operation
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ErrorContext) Unwrap() error { return e.Err }

// LogValue logs the classification as a group.
func (e *ErrorContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("category", string(e.Category)),
		slog.String("operation", e.Operation),
		slog.Bool("retryable", e.IsRetryable()),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}
