package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// ErrUnsupportedPlatform is returned when a store backend is unavailable on
// the current OS/runtime.
var ErrUnsupportedPlatform = errors.New("contacts: unsupported platform")

// AuthStatus describes Contacts permission state as reported by a Store.
type AuthStatus string

const (
	// AuthStatusNotDetermined indicates access has not been requested yet.
	AuthStatusNotDetermined AuthStatus = "not_determined"
	// AuthStatusRestricted indicates policy restrictions prevent access.
	AuthStatusRestricted AuthStatus = "restricted"
	// AuthStatusDenied indicates the user denied access.
	AuthStatusDenied AuthStatus = "denied"
	// AuthStatusAuthorized indicates Contacts access is granted.
	AuthStatusAuthorized AuthStatus = "authorized"
)

// ErrorCode classifies failures surfaced by the Service.
type ErrorCode string

const (
	// ErrorCodePermissionDenied indicates the user refused access.
	ErrorCodePermissionDenied ErrorCode = "permission_denied"
	// ErrorCodeRestricted indicates a parental or management policy blocks access.
	ErrorCodeRestricted ErrorCode = "restricted"
	// ErrorCodeNotDetermined indicates access has not been requested yet.
	ErrorCodeNotDetermined ErrorCode = "not_determined"
	// ErrorCodeUnavailable indicates the contact store is unreachable or absent.
	ErrorCodeUnavailable ErrorCode = "unavailable"
	// ErrorCodeQuery indicates the store could not be searched.
	ErrorCodeQuery ErrorCode = "query"
	// ErrorCodeUnknown indicates an unmapped error.
	ErrorCodeUnknown ErrorCode = "unknown"
)

// Error is a typed package error. Stores may return *Error directly to pick
// the code the Service reports; any other error is wrapped.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	if e == nil {
		return "contacts: <nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("contacts: %s", e.Code)
	}
	return fmt.Sprintf("contacts: %s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// match with errors.Is(err, &contacts.Error{Code: contacts.ErrorCodeQuery}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode carried by err, or ErrorCodeUnknown when err
// is not (and does not wrap) an *Error. A nil err yields "".
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return ErrorCodeUnknown
}

// IsUnauthorized reports whether err describes missing contacts authorization.
func IsUnauthorized(err error) bool {
	switch CodeOf(err) {
	case ErrorCodePermissionDenied, ErrorCodeRestricted, ErrorCodeNotDetermined:
		return true
	default:
		return false
	}
}

// LabeledValue is a simple labeled string value (email/phone).
type LabeledValue struct {
	Label string
	Value string
}

// Entry is one address-book entry as a Store projects it.
//
// FormattedName carries a store-composed full name (for example vCard FN)
// and is only used when the structured name fields are empty.
type Entry struct {
	ID            string
	GivenName     string
	FamilyName    string
	MiddleName    string
	Nickname      string
	FormattedName string
	Organization  string
	JobTitle      string
	Phones        []LabeledValue
	Emails        []LabeledValue
	// Thumbnail holds the encoded contact image (JPEG or PNG) when the
	// store has one.
	Thumbnail  []byte
	ModifiedAt time.Time
}

// Record is the read-only contact projection returned to callers.
type Record struct {
	ID           string
	GivenName    string
	FamilyName   string
	MiddleName   string
	Nickname     string
	DisplayName  string
	Organization string
	JobTitle     string
	Phones       []LabeledValue
	Emails       []LabeledValue
	Thumbnail    []byte
	ModifiedAt   time.Time
}

// Query is the request a Service forwards to Store.Query.
//
// Text is already trimmed; empty means every accessible contact. Language is
// the configured primary language, used by stores to order results and pick
// a name convention.
type Query struct {
	Text     string
	Language language.Tag
}

// Store is the contact store capability the Service wraps.
//
// AuthorizationStatus must not prompt. RequestAccess may prompt when the
// status is AuthStatusNotDetermined and resolves immediately otherwise.
// Query performs a read-only search using the store's own matching rules.
type Store interface {
	AuthorizationStatus(ctx context.Context) (AuthStatus, error)
	RequestAccess(ctx context.Context) (bool, error)
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// AccessResult is the single completion of Service.RequestAccessAsync.
type AccessResult struct {
	Granted bool
	Err     error
}

// LoadResult is the single completion of Service.LoadContactsAsync.
type LoadResult struct {
	Contacts []Record
	Err      error
}
