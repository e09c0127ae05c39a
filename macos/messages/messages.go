package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spachava753/contactkit/contacts"
)

const (
	messagesDBRelativePath = "Library/Messages/chat.db"
	appleReferenceUnix     = int64(978307200) // 2001-01-01T00:00:00Z
)

// SettingsURL opens the Full Disk Access pane of System Settings.
const SettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_AllFiles"

// Options configures a Store.
type Options struct {
	// Path overrides ~/Library/Messages/chat.db.
	Path string
	// ResolveNames asks Messages.app for participant names on every
	// Query. Scripting Messages launches it and may show the Automation
	// consent prompt, so it is off by default.
	ResolveNames bool
	// Logger receives debug tracing. Nil discards.
	Logger logrus.FieldLogger
}

// Store is a contacts.Store over Messages handles.
type Store struct {
	path string
	log  logrus.FieldLogger
	// names is nil unless Options.ResolveNames is set.
	names func(ctx context.Context) (map[string]string, error)
}

// New returns a Store. It performs no I/O.
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	s := &Store{
		path: opts.Path,
		log:  log.WithField("store", "messages"),
	}
	if opts.ResolveNames {
		s.names = participantNames
	}
	return s
}

// AuthorizationStatus implements contacts.Store: authorized when chat.db
// can be opened, denied when the system refuses to open it.
func (s *Store) AuthorizationStatus(ctx context.Context) (contacts.AuthStatus, error) {
	path, err := s.dbPath()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		f.Close()
		return contacts.AuthStatusAuthorized, nil
	case errors.Is(err, fs.ErrPermission):
		return contacts.AuthStatusDenied, nil
	default:
		return "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "messages: chat database unavailable at " + path, Err: err}
	}
}

// RequestAccess implements contacts.Store. Full Disk Access has no prompt,
// so this only reports the current state.
func (s *Store) RequestAccess(ctx context.Context) (bool, error) {
	status, err := s.AuthorizationStatus(ctx)
	if err != nil {
		return false, err
	}
	return status == contacts.AuthStatusAuthorized, nil
}

// Query implements contacts.Store.
func (s *Store) Query(ctx context.Context, q contacts.Query) ([]contacts.Entry, error) {
	path, err := s.dbPath()
	if err != nil {
		return nil, err
	}
	stats, err := listHandleStats(ctx, path)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	if s.names != nil {
		resolved, err := s.names(ctx)
		if err != nil {
			s.log.WithError(err).Debug("participant names unavailable")
		} else {
			names = resolved
		}
	}

	entries := make([]contacts.Entry, 0, len(stats))
	for _, e := range mergeHandles(stats, names) {
		if contacts.MatchEntry(e, q.Text) {
			entries = append(entries, e)
		}
	}
	s.log.WithFields(logrus.Fields{"handles": len(stats), "count": len(entries)}).Debug("queried chat database")

	contacts.SortEntries(entries, q.Language)
	return entries, nil
}

func (s *Store) dbPath() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "messages: unable to resolve home directory", Err: err}
	}
	return filepath.Join(home, messagesDBRelativePath), nil
}

type handleStat struct {
	Handle                string
	UncanonicalizedHandle string
	Service               string
	LastMessage           time.Time
	MessageCount          int
}

const handleStatsQuery = `
WITH message_stats AS (
	SELECT
		m.handle_id AS handle_id,
		MAX(m.date) AS last_date,
		COUNT(m.ROWID) AS message_count
	FROM message m
	WHERE COALESCE(m.is_empty, 0) = 0 AND m.handle_id <> 0
	GROUP BY m.handle_id
)
SELECT
	COALESCE(h.id, ''),
	COALESCE(h.uncanonicalized_id, ''),
	COALESCE(h.service, ''),
	COALESCE(ms.last_date, 0),
	ms.message_count
FROM handle h
JOIN message_stats ms ON ms.handle_id = h.ROWID
ORDER BY ms.last_date DESC;
`

func listHandleStats(ctx context.Context, path string) ([]handleStat, error) {
	db, err := openMessagesDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, handleStatsQuery)
	if err != nil {
		return nil, fmt.Errorf("messages: sqlite query failed: %w", err)
	}
	defer rows.Close()

	stats := make([]handleStat, 0, 64)
	for rows.Next() {
		var (
			stat     handleStat
			lastDate int64
		)
		if err := rows.Scan(&stat.Handle, &stat.UncanonicalizedHandle, &stat.Service, &lastDate, &stat.MessageCount); err != nil {
			return nil, fmt.Errorf("messages: scanning sqlite row failed: %w", err)
		}
		stat.LastMessage = appleNanoToTime(lastDate)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: iterating sqlite rows failed: %w", err)
	}
	return stats, nil
}

// mergeHandles folds handle rows that name the same address on different
// services into one entry. stats must be ordered newest first.
func mergeHandles(stats []handleStat, names map[string]string) []contacts.Entry {
	byID := map[string]int{}
	entries := make([]contacts.Entry, 0, len(stats))

	for _, stat := range stats {
		handle := strings.TrimSpace(stat.Handle)
		if handle == "" {
			continue
		}
		key := strings.ToLower(handle)
		value := contacts.LabeledValue{
			Label: strings.ToLower(strings.TrimSpace(stat.Service)),
			Value: firstNonEmpty(stat.UncanonicalizedHandle, handle),
		}

		i, seen := byID[key]
		if !seen {
			i = len(entries)
			byID[key] = i
			entries = append(entries, contacts.Entry{
				ID:            "messages:" + key,
				FormattedName: firstNonEmpty(names[handle], names[key]),
				ModifiedAt:    stat.LastMessage,
			})
		}
		e := &entries[i]
		if strings.Contains(handle, "@") {
			e.Emails = appendValue(e.Emails, value)
		} else {
			e.Phones = appendValue(e.Phones, value)
		}
		if stat.LastMessage.After(e.ModifiedAt) {
			e.ModifiedAt = stat.LastMessage
		}
	}
	return entries
}

func appendValue(values []contacts.LabeledValue, v contacts.LabeledValue) []contacts.LabeledValue {
	for _, existing := range values {
		if existing.Label == v.Label && normalizeID(existing.Value) == normalizeID(v.Value) {
			return values
		}
	}
	return append(values, v)
}

func openMessagesDB(path string) (*sql.DB, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "messages: reading " + path + " was denied; grant Full Disk Access in System Settings", Err: err}
		}
		return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "messages: chat database unavailable at " + path, Err: err}
	}
	f.Close()

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", strings.ReplaceAll(path, " ", "%20"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("messages: opening sqlite database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("messages: connecting to sqlite database failed: %w", err)
	}
	return db, nil
}

func appleNanoToTime(nanos int64) time.Time {
	if nanos <= 0 {
		return time.Time{}
	}
	sec := nanos / int64(time.Second)
	nsec := nanos % int64(time.Second)
	return time.Unix(appleReferenceUnix+sec, nsec).UTC()
}

func parseChatIdentifier(chatID string) string {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return ""
	}
	parts := strings.Split(chatID, ";")
	return parts[len(parts)-1]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeID(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")
	return replacer.Replace(value)
}
