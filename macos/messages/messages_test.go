package messages

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"github.com/spachava753/contactkit/contacts"
	"golang.org/x/text/language"
)

const chatSchema = `
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT, service TEXT, uncanonicalized_id TEXT);
CREATE TABLE message (ROWID INTEGER PRIMARY KEY, handle_id INTEGER, date INTEGER, is_empty INTEGER DEFAULT 0);

INSERT INTO handle VALUES
	(1, '+14155550101', 'iMessage', '(415) 555-0101'),
	(2, '+14155550101', 'SMS', NULL),
	(3, 'dana@lee.example', 'iMessage', NULL),
	(4, '+12125550199', 'SMS', NULL),
	(5, 'nobody@example.org', 'iMessage', NULL);
INSERT INTO message (ROWID, handle_id, date, is_empty) VALUES
	(1, 1, 700000000000000000, 0),
	(2, 2, 710000000000000000, 0),
	(3, 3, 690000000000000000, 0),
	(4, 4, 720000000000000000, 1),
	(5, 0, 730000000000000000, 0);
`

func createChatDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Library Messages", "chat.db")
	be.Err(t, os.MkdirAll(filepath.Dir(path), 0o755), nil)

	db, err := sql.Open("sqlite3", path)
	be.Err(t, err, nil)
	defer db.Close()

	_, err = db.Exec(chatSchema)
	be.Err(t, err, nil)
	return path
}

func newTestStore(t *testing.T, names map[string]string) *Store {
	t.Helper()
	s := New(Options{Path: createChatDB(t), ResolveNames: true})
	s.names = func(context.Context) (map[string]string, error) {
		if names == nil {
			return nil, contacts.ErrUnsupportedPlatform
		}
		return names, nil
	}
	return s
}

func TestQueryMergesHandles(t *testing.T) {
	s := newTestStore(t, map[string]string{"dana@lee.example": "Dana Lee"})

	got, err := s.Query(context.Background(), contacts.Query{Language: language.English})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 2)

	be.Equal(t, got[0].ID, "messages:dana@lee.example")
	be.Equal(t, got[0].FormattedName, "Dana Lee")
	be.Equal(t, got[0].Emails, []contacts.LabeledValue{{Label: "imessage", Value: "dana@lee.example"}})

	be.Equal(t, got[1].ID, "messages:+14155550101")
	be.Equal(t, got[1].FormattedName, "")
	be.Equal(t, got[1].Phones, []contacts.LabeledValue{
		{Label: "sms", Value: "+14155550101"},
		{Label: "imessage", Value: "(415) 555-0101"},
	})
	be.Equal(t, got[1].ModifiedAt, time.Unix(appleReferenceUnix+710000000, 0).UTC())
}

func TestDefaultQueryNeverScriptsMessages(t *testing.T) {
	s := New(Options{Path: createChatDB(t)})
	be.True(t, s.names == nil)

	svc := contacts.New(s, "en")
	for range 3 {
		records, err := svc.LoadContacts(context.Background(), "")
		be.Err(t, err, nil)
		be.Equal(t, len(records), 2)
	}
	got, err := s.Query(context.Background(), contacts.Query{Text: "dana"})
	be.Err(t, err, nil)
	be.Equal(t, got[0].FormattedName, "")
}

func TestResolveNamesCallsOncePerQuery(t *testing.T) {
	s := New(Options{Path: createChatDB(t), ResolveNames: true})
	be.True(t, s.names != nil)

	calls := 0
	s.names = func(context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"dana@lee.example": "Dana Lee"}, nil
	}
	got, err := s.Query(context.Background(), contacts.Query{Text: "dana lee"})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].FormattedName, "Dana Lee")
	be.Equal(t, calls, 1)
}

func TestQuerySearch(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	got, err := s.Query(ctx, contacts.Query{Text: "555-0101"})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].ID, "messages:+14155550101")

	got, err = s.Query(ctx, contacts.Query{Text: "DANA"})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 1)

	got, err = s.Query(ctx, contacts.Query{Text: "nobody"})
	be.Err(t, err, nil)
	be.Equal(t, len(got), 0)
}

func TestAuthorizationFollowsFileAccess(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	status, err := s.AuthorizationStatus(ctx)
	be.Err(t, err, nil)
	be.Equal(t, status, contacts.AuthStatusAuthorized)

	granted, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, granted)
}

func TestAuthorizationDeniedWhenUnreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}
	s := newTestStore(t, nil)
	be.Err(t, os.Chmod(s.path, 0o000), nil)
	ctx := context.Background()

	status, err := s.AuthorizationStatus(ctx)
	be.Err(t, err, nil)
	be.Equal(t, status, contacts.AuthStatusDenied)

	granted, err := s.RequestAccess(ctx)
	be.Err(t, err, nil)
	be.True(t, !granted)

	_, err = s.Query(ctx, contacts.Query{})
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodePermissionDenied)
}

func TestMissingDatabaseIsUnavailable(t *testing.T) {
	s := New(Options{Path: filepath.Join(t.TempDir(), "chat.db")})

	_, err := s.AuthorizationStatus(context.Background())
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodeUnavailable)

	_, err = s.Query(context.Background(), contacts.Query{})
	be.Equal(t, contacts.CodeOf(err), contacts.ErrorCodeUnavailable)
}

func TestServiceOverMessages(t *testing.T) {
	s := newTestStore(t, map[string]string{"+14155550101": "Priya Natarajan"})
	svc := contacts.New(s, "en")

	records, err := svc.LoadContacts(context.Background(), "")
	be.Err(t, err, nil)
	be.Equal(t, len(records), 2)
	be.Equal(t, records[0].DisplayName, "dana@lee.example")
	be.Equal(t, records[1].DisplayName, "Priya Natarajan")
}

func TestParseParticipants(t *testing.T) {
	out := "iMessage;-;+14155550101|||+14155550101|||Priya Natarajan\n" +
		"SMS;-;dana@lee.example||||||Dana Lee\n" +
		"iMessage;+;chat123|||x@y.example|||missing value\n" +
		"garbage"
	got := parseParticipants(out)
	be.Equal(t, got, map[string]string{
		"+14155550101":     "Priya Natarajan",
		"dana@lee.example": "Dana Lee",
	})
}

func TestParseChatIdentifier(t *testing.T) {
	be.Equal(t, parseChatIdentifier("iMessage;-;+14155550101"), "+14155550101")
	be.Equal(t, parseChatIdentifier("any;-;john@example.com"), "john@example.com")
	be.Equal(t, parseChatIdentifier("  "), "")
}

func TestAppleNanoToTime(t *testing.T) {
	be.True(t, appleNanoToTime(0).IsZero())
	be.Equal(t, appleNanoToTime(1_500_000_000), time.Unix(appleReferenceUnix+1, 500_000_000).UTC())
}
