package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Match with errors.Is against a returned error.
var (
	ErrNetwork           = errors.New("network error")
	ErrAuth              = errors.New("authentication failed")
	ErrNotFound          = errors.New("location not found")
	ErrRateLimit         = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidQuery      = errors.New("invalid query")
)

// Error describes a failed Fetch. Kind is one of the sentinels above.
type Error struct {
	Kind       error
	Query      string
	StatusCode int
	APICode    int
	// Field names the first missing or mistyped payload field for ErrMalformedResponse.
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("weather api: ")
	b.WriteString(e.Kind.Error())
	if e.Query != "" {
		fmt.Fprintf(&b, " (query %q)", e.Query)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.APICode != 0 {
		fmt.Fprintf(&b, " code=%d", e.APICode)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the sentinel kind of err, or nil when err did not come from a Fetch.
func KindOf(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return nil
}

// WeatherAPI.com error codes, see https://www.weatherapi.com/docs/#intro-error-codes.
const (
	codeKeyMissing    = 1002
	codeQueryMissing  = 1003
	codeInvalidURL    = 1005
	codeNoLocation    = 1006
	codeKeyInvalid    = 2006
	codeQuotaExceeded = 2007
	codeKeyDisabled   = 2008
	codeNoAccess      = 2009
	codeInternal      = 9999
)

// classify maps a non-2xx response to an error kind. The provider's own error
// code wins over the HTTP status when present.
func classify(status, apiCode int) error {
	switch apiCode {
	case codeKeyMissing, codeKeyInvalid, codeKeyDisabled, codeNoAccess:
		return ErrAuth
	case codeQuotaExceeded:
		return ErrRateLimit
	case codeNoLocation:
		return ErrNotFound
	case codeQueryMissing, codeInvalidURL:
		return ErrInvalidQuery
	case codeInternal:
		return ErrNetwork
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status >= 500:
		return ErrNetwork
	default:
		return ErrInvalidQuery
	}
}
