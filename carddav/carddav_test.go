package carddav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-vcard"
	cdav "github.com/emersion/go-webdav/carddav"
	"github.com/nalgeon/be"
	"github.com/spachava753/contactkit/contacts"
	"golang.org/x/text/language"
)

const (
	principalPath = "/dav/principals/ann/"
	homeSetPath   = "/dav/books/ann/"
	contactsPath  = "/dav/books/ann/contacts/"
	workPath      = "/dav/books/ann/work/"
)

var books = map[string]map[string]string{
	contactsPath: {
		contactsPath + "ann.vcf": `BEGIN:VCARD
VERSION:3.0
UID:ann-1
FN:Ann Smith
N:Smith;Ann;Marie;;
ORG:Acme;Research
TITLE:CTO
TEL;TYPE=CELL,VOICE:+1 415 555 0101
TEL;TYPE=WORK;TYPE=PREF:+1 415 555 0102
EMAIL;TYPE=INTERNET,HOME:ann@example.com
REV:20240102T030405Z
END:VCARD
`,
		contactsPath + "bo.vcf": `BEGIN:VCARD
VERSION:3.0
UID:bo-2
FN:Bo Li
N:Li;Bo;;;
NICKNAME:Bobo,B
PHOTO;ENCODING=b;TYPE=JPEG:/9j/4A==
END:VCARD
`,
		contactsPath + "zeta.vcf": `BEGIN:VCARD
VERSION:3.0
FN:
ORG:Zeta Labs
END:VCARD
`,
	},
	workPath: {
		workPath + "wu.vcf": `BEGIN:VCARD
VERSION:3.0
UID:work-1
FN:Wu
N:;Wu;;;
END:VCARD
`,
	},
}

var textMatchRE = regexp.MustCompile(`text-match[^>]*>([^<]*)<`)

type fakeServer struct {
	mu       sync.Mutex
	password string
	requests int
	reports  []string
}

func (f *fakeServer) setPassword(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.password = p
}

func (f *fakeServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeServer) lastReport() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) == 0 {
		return ""
	}
	return f.reports[len(f.reports)-1]
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests++
	password := f.password
	if r.Method == "REPORT" {
		f.reports = append(f.reports, string(body))
	}
	f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != "ann" || pass != password {
		w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/") + "/"
	switch {
	case r.Method == "PROPFIND" && path == "/dav/":
		writeMultiStatus(w, response(path, `<d:current-user-principal><d:href>`+principalPath+`</d:href></d:current-user-principal>`))
	case r.Method == "PROPFIND" && path == principalPath:
		writeMultiStatus(w, response(path, `<card:addressbook-home-set><d:href>`+homeSetPath+`</d:href></card:addressbook-home-set>`))
	case r.Method == "PROPFIND" && path == homeSetPath:
		writeMultiStatus(w,
			response(homeSetPath, `<d:resourcetype><d:collection/></d:resourcetype><d:displayname>Home</d:displayname>`),
			response(contactsPath, `<d:resourcetype><d:collection/><card:addressbook/></d:resourcetype><d:displayname>Contacts</d:displayname>`),
			response(workPath, `<d:resourcetype><d:collection/><card:addressbook/></d:resourcetype><d:displayname>Work</d:displayname>`),
		)
	case r.Method == "REPORT" && books[path] != nil:
		text := ""
		if m := textMatchRE.FindStringSubmatch(string(body)); m != nil {
			text = m[1]
		}
		var parts []string
		for href, card := range books[path] {
			if text != "" && !cardMatches(card, text) {
				continue
			}
			parts = append(parts, response(href,
				`<d:getetag>"1"</d:getetag>`+
					`<d:getlastmodified>Mon, 01 Jan 2024 00:00:00 GMT</d:getlastmodified>`+
					`<card:address-data>`+card+`</card:address-data>`))
		}
		writeMultiStatus(w, parts...)
	default:
		http.NotFound(w, r)
	}
}

func cardMatches(card string, text string) bool {
	for _, line := range strings.Split(card, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, _, _ = strings.Cut(name, ";")
		switch name {
		case "FN", "N", "NICKNAME", "ORG", "EMAIL", "TEL":
			if strings.Contains(strings.ToLower(value), strings.ToLower(text)) {
				return true
			}
		}
	}
	return false
}

func response(href string, props string) string {
	return fmt.Sprintf(`<d:response><d:href>%s</d:href><d:propstat><d:prop>%s</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`, href, props)
}

func writeMultiStatus(w http.ResponseWriter, responses ...string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><d:multistatus xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">`)
	for _, r := range responses {
		io.WriteString(w, r)
	}
	io.WriteString(w, `</d:multistatus>`)
}

func newTestStore(t *testing.T, password string, addressBook string) (*Store, *fakeServer) {
	t.Helper()
	fake := &fakeServer{password: "secret"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(Options{
		Endpoint:    srv.URL + "/dav/",
		Username:    "ann",
		Password:    password,
		AddressBook: addressBook,
		HTTPClient:  srv.Client(),
	})
	be.Err(t, err, nil)
	return s, fake
}

func ids(entries []contacts.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Options{})
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodeUnavailable)
}

func TestRequestAccessGrants(t *testing.T) {
	s, fake := newTestStore(t, "secret", "")
	ctx := context.Background()

	status, err := s.AuthorizationStatus(ctx)
	be.Err(t, err, nil)
	be.Equal(t, status, contacts.AuthStatusNotDetermined)
	be.Equal(t, fake.requestCount(), 0)

	granted, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, granted)
	be.Equal(t, s.book, contactsPath)

	seen := fake.requestCount()
	granted, err = s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, granted)
	be.Equal(t, fake.requestCount(), seen)
}

func TestRequestAccessDeniedIsSticky(t *testing.T) {
	s, fake := newTestStore(t, "wrong", "")
	ctx := context.Background()

	granted, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, !granted)

	status, _ := s.AuthorizationStatus(ctx)
	be.Equal(t, status, contacts.AuthStatusDenied)

	seen := fake.requestCount()
	fake.setPassword("wrong")
	granted, err = s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, !granted)
	be.Equal(t, fake.requestCount(), seen)
}

func TestSelectsAddressBookByName(t *testing.T) {
	s, _ := newTestStore(t, "secret", "work")
	ctx := context.Background()

	granted, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, granted)

	got, err := s.Query(ctx, contacts.Query{})
	be.Err(t, err, nil)
	be.Equal(t, ids(got), []string{"work-1"})
}

func TestMissingAddressBookIsUnavailable(t *testing.T) {
	s, _ := newTestStore(t, "secret", "/dav/books/ann/nope/")
	granted, err := s.RequestAccess(context.Background())
	be.True(t, !granted)
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodeUnavailable)

	status, _ := s.AuthorizationStatus(context.Background())
	be.Equal(t, status, contacts.AuthStatusNotDetermined)
}

func TestQueryAll(t *testing.T) {
	s, fake := newTestStore(t, "secret", "")
	ctx := context.Background()
	_, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)

	got, err := s.Query(ctx, contacts.Query{Language: language.English})
	be.Err(t, err, nil)
	be.Equal(t, ids(got), []string{"ann-1", "bo-2", contactsPath + "zeta.vcf"})
	be.True(t, !strings.Contains(fake.lastReport(), "text-match"))

	ann := got[0]
	be.Equal(t, ann.GivenName, "Ann")
	be.Equal(t, ann.MiddleName, "Marie")
	be.Equal(t, ann.FamilyName, "Smith")
	be.Equal(t, ann.FormattedName, "Ann Smith")
	be.Equal(t, ann.Organization, "Acme")
	be.Equal(t, ann.JobTitle, "CTO")
	be.Equal(t, ann.Phones, []contacts.LabeledValue{
		{Label: "cell", Value: "+1 415 555 0101"},
		{Label: "work", Value: "+1 415 555 0102"},
	})
	be.Equal(t, ann.Emails, []contacts.LabeledValue{{Label: "home", Value: "ann@example.com"}})
	be.Equal(t, ann.ModifiedAt, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	be.True(t, ann.Thumbnail == nil)

	be.Equal(t, got[1].Nickname, "Bobo")
	be.Equal(t, got[1].Thumbnail, []byte{0xff, 0xd8, 0xff, 0xe0})
	be.Equal(t, got[2].Organization, "Zeta Labs")
}

func TestQuerySearchIsSentToServer(t *testing.T) {
	s, fake := newTestStore(t, "secret", "")
	ctx := context.Background()
	_, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)

	got, err := s.Query(ctx, contacts.Query{Text: " LI ", Language: language.English})
	be.Err(t, err, nil)
	be.Equal(t, ids(got), []string{"bo-2"})

	report := fake.lastReport()
	be.True(t, strings.Contains(report, "anyof"))
	be.True(t, strings.Contains(report, ">LI<"))
	for _, name := range searchFields {
		be.True(t, strings.Contains(report, `name="`+name+`"`))
	}

	got, err = s.Query(ctx, contacts.Query{Text: "nobody"})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 0)
}

func TestQueryRevokedMidFlight(t *testing.T) {
	s, fake := newTestStore(t, "secret", "")
	ctx := context.Background()
	_, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)

	fake.setPassword("rotated")
	_, err = s.Query(ctx, contacts.Query{})
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodePermissionDenied)

	status, _ := s.AuthorizationStatus(ctx)
	be.Equal(t, status, contacts.AuthStatusDenied)
}

func TestQueryBeforeAccess(t *testing.T) {
	s, fake := newTestStore(t, "secret", "")
	_, err := s.Query(context.Background(), contacts.Query{})
	be.True(t, contacts.IsUnauthorized(err))
	be.Equal(t, fake.requestCount(), 0)
}

func TestServiceOverCardDAV(t *testing.T) {
	s, _ := newTestStore(t, "secret", "")
	svc := contacts.New(s, "zh-Hans")
	ctx := context.Background()

	res := <-svc.RequestAccessAsync(ctx)
	be.Err(t, res.Err, nil)
	be.True(t, res.Granted)

	records, err := svc.LoadContacts(ctx, "bo")
	be.Err(t, err, nil)
	be.Equal(t, len(records), 1)
	be.Equal(t, records[0].DisplayName, "Li Bo")
}

func TestFieldLabel(t *testing.T) {
	field := func(types ...string) *vcard.Field {
		return &vcard.Field{Params: vcard.Params{vcard.ParamType: types}}
	}
	be.Equal(t, fieldLabel(field("pref", "HOME")), "home")
	be.Equal(t, fieldLabel(field("VOICE,cell")), "cell")
	be.Equal(t, fieldLabel(field("INTERNET")), "")
	be.Equal(t, fieldLabel(&vcard.Field{}), "")
}

func TestPhotoData(t *testing.T) {
	photo := func(value string, params vcard.Params) *vcard.Field {
		return &vcard.Field{Value: value, Params: params}
	}
	be.Equal(t, photoData(photo("data:image/png;base64,iVBORw==", nil)), []byte("\x89PNG"))
	be.Equal(t, photoData(photo("DATA:image/png;BASE64,iVBO\r\n Rw==", nil)), []byte("\x89PNG"))
	be.Equal(t, photoData(photo("data:text/plain,hi%21", nil)), []byte("hi!"))
	be.Equal(t, photoData(photo("/9j/4A==", vcard.Params{"ENCODING": {"b"}})), []byte{0xff, 0xd8, 0xff, 0xe0})
	be.True(t, photoData(photo("https://example.com/ann.jpg", vcard.Params{vcard.ParamValue: {"uri"}})) == nil)
	be.True(t, photoData(photo("data:image/png;base64,!!!", nil)) == nil)
	be.True(t, photoData(nil) == nil)
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery("  ")
	be.Equal(t, len(q.PropFilters), 0)

	q = buildQuery("ann")
	be.Equal(t, q.FilterTest, cdav.FilterAnyOf)
	be.Equal(t, len(q.PropFilters), len(searchFields))
	be.Equal(t, q.PropFilters[0].TextMatches[0], cdav.TextMatch{Text: "ann", MatchType: cdav.MatchContains})
}

func TestSelectAddressBook(t *testing.T) {
	list := []cdav.AddressBook{{Path: "/a/", Name: "Personal"}, {Path: "/b/", Name: "Work"}}

	path, err := selectAddressBook(list, "")
	be.Err(t, err, nil)
	be.Equal(t, path, "/a/")

	path, err = selectAddressBook(list, "b")
	be.Err(t, err, nil)
	be.Equal(t, path, "/b/")

	path, err = selectAddressBook(list, "WORK")
	be.Err(t, err, nil)
	be.Equal(t, path, "/b/")

	_, err = selectAddressBook(nil, "")
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodeUnavailable)
}
