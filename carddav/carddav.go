package carddav

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	cdav "github.com/emersion/go-webdav/carddav"
	"github.com/sirupsen/logrus"
	"github.com/spachava753/contactkit/contacts"
)

// searchFields are the vCard properties a search text is matched against.
var searchFields = []string{
	vcard.FieldFormattedName,
	vcard.FieldName,
	vcard.FieldNickname,
	vcard.FieldOrganization,
	vcard.FieldEmail,
	vcard.FieldTelephone,
}

// requestedFields are the vCard properties fetched for every match.
var requestedFields = []string{
	vcard.FieldVersion,
	vcard.FieldUID,
	vcard.FieldFormattedName,
	vcard.FieldName,
	vcard.FieldNickname,
	vcard.FieldOrganization,
	vcard.FieldTitle,
	vcard.FieldTelephone,
	vcard.FieldEmail,
	vcard.FieldRevision,
	vcard.FieldPhoto,
}

// Options configures a Store.
type Options struct {
	// Endpoint is the CardDAV context URL, e.g.
	// "https://dav.example.com/.well-known/carddav".
	Endpoint string
	Username string
	Password string
	// AddressBook selects an address book by path or display name. Empty
	// means the first one the server lists.
	AddressBook string
	// HTTPClient performs requests. Nil means http.DefaultClient.
	HTTPClient webdav.HTTPClient
	// Logger receives debug tracing. Nil discards.
	Logger logrus.FieldLogger
}

// Store is a contacts.Store backed by one CardDAV address book.
type Store struct {
	client      *cdav.Client
	addressBook string
	log         logrus.FieldLogger

	mu     sync.Mutex
	status contacts.AuthStatus
	book   string
}

// New returns a Store for opts. It performs no I/O.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "carddav: endpoint is required"}
	}

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	s := &Store{
		addressBook: strings.TrimSpace(opts.AddressBook),
		log:         log.WithFields(logrus.Fields{"store": "carddav", "endpoint": opts.Endpoint}),
		status:      contacts.AuthStatusNotDetermined,
	}

	var httpClient webdav.HTTPClient = http.DefaultClient
	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	}
	if opts.Username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, opts.Username, opts.Password)
	}

	client, err := cdav.NewClient(&deniedRecorder{next: httpClient, onDenied: s.markDenied}, opts.Endpoint)
	if err != nil {
		return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "carddav: invalid endpoint", Err: err}
	}
	s.client = client
	return s, nil
}

// AuthorizationStatus implements contacts.Store. It reports the outcome of
// the last RequestAccess or query and never contacts the server.
func (s *Store) AuthorizationStatus(ctx context.Context) (contacts.AuthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// RequestAccess implements contacts.Store. Only a not-determined Store
// contacts the server.
func (s *Store) RequestAccess(ctx context.Context) (bool, error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != contacts.AuthStatusNotDetermined {
		return status == contacts.AuthStatusAuthorized, nil
	}

	book, err := s.discover(ctx)
	if err != nil {
		if s.denied() {
			s.log.WithError(err).Debug("server rejected credentials")
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == contacts.AuthStatusNotDetermined {
		s.status = contacts.AuthStatusAuthorized
		s.book = book
	}
	s.log.WithField("address_book", s.book).Debug("access granted")
	return s.status == contacts.AuthStatusAuthorized, nil
}

// Query implements contacts.Store.
func (s *Store) Query(ctx context.Context, q contacts.Query) ([]contacts.Entry, error) {
	s.mu.Lock()
	status, book := s.status, s.book
	s.mu.Unlock()
	if status != contacts.AuthStatusAuthorized {
		return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "carddav: access has not been granted"}
	}

	objects, err := s.client.QueryAddressBook(ctx, book, buildQuery(q.Text))
	if err != nil {
		if s.denied() {
			return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "carddav: server rejected the credentials", Err: err}
		}
		return nil, fmt.Errorf("carddav: address book query failed: %w", err)
	}
	s.log.WithFields(logrus.Fields{"address_book": book, "count": len(objects)}).Debug("queried address book")

	entries := make([]contacts.Entry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, objectToEntry(obj))
	}
	contacts.SortEntries(entries, q.Language)
	return entries, nil
}

func (s *Store) discover(ctx context.Context) (string, error) {
	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("carddav: finding current user principal failed: %w", err)
	}
	homeSet, err := s.client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("carddav: finding address book home set failed: %w", err)
	}
	books, err := s.client.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("carddav: listing address books failed: %w", err)
	}
	s.log.WithFields(logrus.Fields{"principal": principal, "home_set": homeSet, "count": len(books)}).Debug("discovered address books")
	return selectAddressBook(books, s.addressBook)
}

func selectAddressBook(books []cdav.AddressBook, want string) (string, error) {
	if len(books) == 0 {
		return "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "carddav: server has no address books"}
	}
	if want == "" {
		return books[0].Path, nil
	}
	for _, b := range books {
		if strings.Trim(b.Path, "/") == strings.Trim(want, "/") || strings.EqualFold(b.Name, want) {
			return b.Path, nil
		}
	}
	return "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: fmt.Sprintf("carddav: address book %q not found", want)}
}

func (s *Store) markDenied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = contacts.AuthStatusDenied
}

func (s *Store) denied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == contacts.AuthStatusDenied
}

// deniedRecorder reports 401 and 403 responses, which go-webdav surfaces
// only as opaque errors.
type deniedRecorder struct {
	next     webdav.HTTPClient
	onDenied func()
}

func (r *deniedRecorder) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.next.Do(req)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		r.onDenied()
	}
	return resp, err
}

func buildQuery(text string) *cdav.AddressBookQuery {
	query := &cdav.AddressBookQuery{
		DataRequest: cdav.AddressDataRequest{Props: requestedFields},
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return query
	}

	query.FilterTest = cdav.FilterAnyOf
	for _, name := range searchFields {
		query.PropFilters = append(query.PropFilters, cdav.PropFilter{
			Name:        name,
			TextMatches: []cdav.TextMatch{{Text: text, MatchType: cdav.MatchContains}},
		})
	}
	return query
}

func objectToEntry(obj cdav.AddressObject) contacts.Entry {
	card := obj.Card
	e := contacts.Entry{
		ID:            strings.TrimSpace(card.Value(vcard.FieldUID)),
		FormattedName: strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)),
		Nickname:      firstListValue(card.PreferredValue(vcard.FieldNickname)),
		Organization:  firstComponent(card.PreferredValue(vcard.FieldOrganization)),
		JobTitle:      strings.TrimSpace(card.PreferredValue(vcard.FieldTitle)),
		Phones:        labeledValues(card[vcard.FieldTelephone], "tel:"),
		Emails:        labeledValues(card[vcard.FieldEmail], "mailto:"),
		Thumbnail:     photoData(card.Preferred(vcard.FieldPhoto)),
		ModifiedAt:    obj.ModTime,
	}
	if e.ID == "" {
		e.ID = obj.Path
	}
	if n := card.Name(); n != nil {
		e.GivenName = strings.TrimSpace(n.GivenName)
		e.MiddleName = strings.TrimSpace(n.AdditionalName)
		e.FamilyName = strings.TrimSpace(n.FamilyName)
	}
	if rev, err := card.Revision(); err == nil && !rev.IsZero() {
		e.ModifiedAt = rev
	}
	return e
}

// photoData decodes an inline PHOTO: a vCard 4 data: URI or a vCard 3
// ENCODING=b value. Remote URIs are not fetched.
func photoData(f *vcard.Field) []byte {
	if f == nil {
		return nil
	}
	value := strings.TrimSpace(f.Value)
	if len(value) > 5 && strings.EqualFold(value[:5], "data:") {
		meta, payload, ok := strings.Cut(value[5:], ",")
		if !ok {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(meta), ";base64") {
			return decodeBase64(payload)
		}
		data, err := url.PathUnescape(payload)
		if err != nil || data == "" {
			return nil
		}
		return []byte(data)
	}
	switch strings.ToLower(f.Params.Get("ENCODING")) {
	case "b", "base64":
		return decodeBase64(value)
	}
	return nil
}

func decodeBase64(s string) []byte {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func labeledValues(fields []*vcard.Field, scheme string) []contacts.LabeledValue {
	var out []contacts.LabeledValue
	for _, f := range fields {
		value := strings.TrimSpace(f.Value)
		if len(value) > len(scheme) && strings.EqualFold(value[:len(scheme)], scheme) {
			value = value[len(scheme):]
		}
		if value == "" {
			continue
		}
		out = append(out, contacts.LabeledValue{Label: fieldLabel(f), Value: value})
	}
	return out
}

// fieldLabel returns the first TYPE that names a kind rather than a
// preference or transport.
func fieldLabel(f *vcard.Field) string {
	for _, raw := range f.Params[vcard.ParamType] {
		for _, t := range strings.Split(raw, ",") {
			t = strings.ToLower(strings.Trim(strings.TrimSpace(t), `"`))
			switch t {
			case "", "pref", "voice", "internet", "x400":
				continue
			}
			return t
		}
	}
	return ""
}

func firstComponent(value string) string {
	first, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(first)
}

func firstListValue(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}
