package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spachava753/contactkit/internal/i18n"
	"golang.org/x/text/language"
)

// Config is the immutable Service configuration.
type Config struct {
	// PrimaryLanguage is the language/locale identifier the Service was
	// created with, as given by the caller.
	PrimaryLanguage string
}

// Service requests contacts authorization and loads contacts from a Store.
//
// A Service holds no mutable state besides its configuration and is safe
// for concurrent use. It performs no caching, locking, retries or timeouts;
// the context passed to each call is handed to the Store unchanged.
type Service struct {
	store   Store
	config  Config
	lang    language.Tag
	order   NameOrder
	unknown string
}

// New creates a Service over store. It never fails and never contacts the
// store.
//
// primaryLanguage is a BCP 47 tag or POSIX locale ("zh", "en-US",
// "zh_CN.UTF-8"). When empty or unparsable the process locale (LC_ALL,
// LC_MESSAGES, LANG) is used, falling back to English.
func New(store Store, primaryLanguage string) *Service {
	lang := resolveLanguage(primaryLanguage)
	return &Service{
		store:   store,
		config:  Config{PrimaryLanguage: primaryLanguage},
		lang:    lang,
		order:   NameOrderFor(lang),
		unknown: i18n.New(lang.String()).T("contact.unknown_name"),
	}
}

// Config returns the configuration the Service was created with.
func (s *Service) Config() Config {
	return s.config
}

// Language returns the resolved primary language.
func (s *Service) Language() language.Tag {
	return s.lang
}

// RequestAccess asks the store for contacts authorization.
//
// Already authorized stores resolve to (true, nil) without prompting. Only a
// not-determined status leads to Store.RequestAccess, which may show a
// system prompt. Denied or restricted statuses resolve to false with a
// typed *Error and never prompt again.
func (s *Service) RequestAccess(ctx context.Context) (granted bool, err error) {
	defer recoverInto(&err, "request access")

	if s.store == nil {
		return false, &Error{Code: ErrorCodeUnavailable, Message: "no contact store configured"}
	}

	status, err := s.store.AuthorizationStatus(ctx)
	if err != nil {
		return false, classify(err, ErrorCodeUnavailable, "reading authorization status")
	}

	switch status {
	case AuthStatusAuthorized:
		return true, nil
	case AuthStatusNotDetermined:
		ok, err := s.store.RequestAccess(ctx)
		if err != nil {
			return false, classify(err, ErrorCodeUnknown, "requesting access")
		}
		if !ok {
			return false, &Error{Code: ErrorCodePermissionDenied, Message: "access denied by user"}
		}
		return true, nil
	default:
		return false, unauthorized(status)
	}
}

// RequestAccessAsync runs RequestAccess in the background. The returned
// channel receives exactly one AccessResult and is then closed.
func (s *Service) RequestAccessAsync(ctx context.Context) <-chan AccessResult {
	ch := make(chan AccessResult, 1)
	go func() {
		defer close(ch)
		granted, err := s.RequestAccess(ctx)
		ch <- AccessResult{Granted: granted, Err: err}
	}()
	return ch
}

// LoadContacts returns the contacts matching searchText.
//
// Authorization is re-checked through the store on every call; when it is
// not granted the call fails with an unauthorized *Error without querying
// or prompting. An empty (or whitespace-only) searchText returns every
// accessible contact. Matching and ordering are the store's; results come
// back in store order.
func (s *Service) LoadContacts(ctx context.Context, searchText string) (records []Record, err error) {
	defer func() {
		if err != nil {
			records = nil
		}
	}()
	defer recoverInto(&err, "load contacts")

	if s.store == nil {
		return nil, &Error{Code: ErrorCodeUnavailable, Message: "no contact store configured"}
	}

	status, err := s.store.AuthorizationStatus(ctx)
	if err != nil {
		return nil, classify(err, ErrorCodeUnavailable, "reading authorization status")
	}
	if status != AuthStatusAuthorized {
		return nil, unauthorized(status)
	}

	entries, err := s.store.Query(ctx, Query{
		Text:     strings.TrimSpace(searchText),
		Language: s.lang,
	})
	if err != nil {
		return nil, classify(err, ErrorCodeQuery, "querying store")
	}

	records = make([]Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, s.project(entry))
	}
	return records, nil
}

// LoadContactsAsync runs LoadContacts in the background. The returned
// channel receives exactly one LoadResult and is then closed.
func (s *Service) LoadContactsAsync(ctx context.Context, searchText string) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		defer close(ch)
		records, err := s.LoadContacts(ctx, searchText)
		ch <- LoadResult{Contacts: records, Err: err}
	}()
	return ch
}

func (s *Service) project(e Entry) Record {
	return Record{
		ID:           e.ID,
		GivenName:    e.GivenName,
		FamilyName:   e.FamilyName,
		MiddleName:   e.MiddleName,
		Nickname:     e.Nickname,
		DisplayName:  displayName(e, s.order, s.unknown),
		Organization: e.Organization,
		JobTitle:     e.JobTitle,
		Phones:       cloneValues(e.Phones),
		Emails:       cloneValues(e.Emails),
		Thumbnail:    cloneBytes(e.Thumbnail),
		ModifiedAt:   e.ModifiedAt,
	}
}

func cloneValues(values []LabeledValue) []LabeledValue {
	if len(values) == 0 {
		return nil
	}
	out := make([]LabeledValue, len(values))
	copy(out, values)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func unauthorized(status AuthStatus) error {
	switch status {
	case AuthStatusNotDetermined:
		return &Error{Code: ErrorCodeNotDetermined, Message: "contacts access has not been requested"}
	case AuthStatusDenied:
		return &Error{Code: ErrorCodePermissionDenied, Message: "contacts access denied"}
	case AuthStatusRestricted:
		return &Error{Code: ErrorCodeRestricted, Message: "contacts access restricted by policy"}
	default:
		return &Error{Code: ErrorCodeUnknown, Message: fmt.Sprintf("unknown authorization status %q", status)}
	}
}

// classify surfaces typed store errors verbatim and wraps anything else.
func classify(err error, code ErrorCode, op string) error {
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, ErrUnsupportedPlatform) {
		code = ErrorCodeUnavailable
	}
	return &Error{Code: code, Message: fmt.Sprintf("%s: %v", op, err), Err: err}
}

func recoverInto(err *error, op string) {
	if r := recover(); r != nil {
		*err = &Error{Code: ErrorCodeUnknown, Message: fmt.Sprintf("%s: store panicked: %v", op, r)}
	}
}
