package addressbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spachava753/contactkit/contacts"
	"golang.org/x/text/cases"
)

const (
	addressBookRelativeDir = "Library/Application Support/AddressBook"
	databaseName           = "AddressBook-v22.abcddb"
	appleReferenceUnix     = int64(978307200) // 2001-01-01T00:00:00Z
	valuesChunkSize        = 500

	// driverName is go-sqlite3 with a Unicode-aware fold(text) function.
	driverName = "sqlite3_addressbook"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", foldText, true)
		},
	})
}

// foldText backs the SQL fold() function. A Caser is not safe for
// concurrent use, so each call gets its own.
func foldText(s string) string {
	return cases.Fold().String(s)
}

// SettingsURL opens the Contacts pane of System Settings' privacy section.
const SettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Contacts"

// Options configures a Store.
type Options struct {
	// Paths lists the databases to read. Empty means the current user's
	// AddressBook directory.
	Paths []string
	// Logger receives debug tracing. Nil discards.
	Logger logrus.FieldLogger
}

// Store is a contacts.Store backed by the macOS Contacts database.
type Store struct {
	paths []string
	log   logrus.FieldLogger
	auth  authorizer
}

// New returns a Store. It performs no I/O.
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Store{
		paths: append([]string(nil), opts.Paths...),
		log:   log.WithField("store", "addressbook"),
		auth:  systemAuthorizer(),
	}
}

// AuthorizationStatus implements contacts.Store.
func (s *Store) AuthorizationStatus(ctx context.Context) (contacts.AuthStatus, error) {
	status, err := s.auth.status(ctx)
	if err != nil {
		return "", fmt.Errorf("addressbook: reading authorization status failed: %w", err)
	}
	s.log.WithField("status", status).Debug("authorization status")
	return status, nil
}

// RequestAccess implements contacts.Store. The system shows its prompt only
// while the status is not determined.
func (s *Store) RequestAccess(ctx context.Context) (bool, error) {
	granted, err := s.auth.request(ctx)
	if err != nil {
		return false, fmt.Errorf("addressbook: requesting access failed: %w", err)
	}
	s.log.WithField("granted", granted).Debug("access request finished")
	return granted, nil
}

// Query implements contacts.Store.
func (s *Store) Query(ctx context.Context, q contacts.Query) ([]contacts.Entry, error) {
	paths, err := s.databasePaths()
	if err != nil {
		return nil, err
	}

	entries := make([]contacts.Entry, 0, 64)
	seen := map[string]struct{}{}
	for _, path := range paths {
		found, err := queryDatabase(ctx, path, q.Text)
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"path": path, "count": len(found)}).Debug("queried address book database")
		for _, e := range found {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			entries = append(entries, e)
		}
	}

	contacts.SortEntries(entries, q.Language)
	return entries, nil
}

func (s *Store) databasePaths() ([]string, error) {
	candidates := s.paths
	if len(candidates) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "addressbook: unable to resolve home directory", Err: err}
		}
		base := filepath.Join(home, addressBookRelativeDir)
		candidates = []string{filepath.Join(base, databaseName)}
		sources, _ := filepath.Glob(filepath.Join(base, "Sources", "*", databaseName))
		candidates = append(candidates, sources...)
	}

	paths := make([]string, 0, len(candidates))
	for _, path := range candidates {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			paths = append(paths, path)
		case errors.Is(err, fs.ErrNotExist):
			s.log.WithField("path", path).Debug("address book database missing")
		case errors.Is(err, fs.ErrPermission):
			return nil, permissionDenied(path, err)
		default:
			return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "addressbook: database unavailable at " + path, Err: err}
		}
	}
	if len(paths) == 0 {
		return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "addressbook: no contacts database found"}
	}
	return paths, nil
}

const recordsQuery = `
SELECT
	r.Z_PK,
	COALESCE(r.ZUNIQUEID, ''),
	COALESCE(r.ZFIRSTNAME, ''),
	COALESCE(r.ZMIDDLENAME, ''),
	COALESCE(r.ZLASTNAME, ''),
	COALESCE(r.ZNICKNAME, ''),
	COALESCE(r.ZORGANIZATION, ''),
	COALESCE(r.ZJOBTITLE, ''),
	COALESCE(r.ZMODIFICATIONDATE, 0),
	%s
FROM ZABCDRECORD r
WHERE r.Z_ENT IN (SELECT Z_ENT FROM Z_PRIMARYKEY WHERE Z_NAME = 'ABCDContact')
%s
ORDER BY r.Z_PK;
`

const phonesQuery = `
SELECT ZOWNER, COALESCE(ZFULLNUMBER, ''), COALESCE(ZLABEL, '')
FROM ZABCDPHONENUMBER
WHERE ZOWNER IN (%s)
ORDER BY ZOWNER, ZORDERINGINDEX, Z_PK;
`

const emailsQuery = `
SELECT ZOWNER, COALESCE(ZADDRESS, ''), COALESCE(ZLABEL, '')
FROM ZABCDEMAILADDRESS
WHERE ZOWNER IN (%s)
ORDER BY ZOWNER, ZORDERINGINDEX, Z_PK;
`

const phoneDigitsExpr = `REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(REPLACE(COALESCE(p.ZFULLNUMBER, ''), ' ', ''), '-', ''), '(', ''), ')', ''), '+', ''), '.', '')`

func queryDatabase(ctx context.Context, path string, text string) ([]contacts.Entry, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	thumbnail := "NULL"
	ok, err := hasColumn(ctx, db, "ZABCDRECORD", "ZTHUMBNAILIMAGEDATA")
	if err != nil {
		return nil, err
	}
	if ok {
		thumbnail = "r.ZTHUMBNAILIMAGEDATA"
	}

	filter, args := searchFilter(text)
	rows, err := db.QueryContext(ctx, fmt.Sprintf(recordsQuery, thumbnail, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("addressbook: sqlite query failed: %w", err)
	}
	defer rows.Close()

	entries := make([]contacts.Entry, 0, 64)
	byPK := map[int64]int{}
	for rows.Next() {
		var (
			pk       int64
			modified float64
			thumb    []byte
			e        contacts.Entry
		)
		if err := rows.Scan(&pk, &e.ID, &e.GivenName, &e.MiddleName, &e.FamilyName, &e.Nickname, &e.Organization, &e.JobTitle, &modified, &thumb); err != nil {
			return nil, fmt.Errorf("addressbook: scanning sqlite row failed: %w", err)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s#%d", path, pk)
		}
		e.ModifiedAt = appleSecondsToTime(modified)
		e.Thumbnail = imageData(path, thumb)
		byPK[pk] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("addressbook: iterating sqlite rows failed: %w", err)
	}

	owners := make([]any, 0, len(byPK))
	for pk := range byPK {
		owners = append(owners, pk)
	}
	for start := 0; start < len(owners); start += valuesChunkSize {
		chunk := owners[start:min(start+valuesChunkSize, len(owners))]
		err := loadValues(ctx, db, phonesQuery, chunk, func(owner int64, v contacts.LabeledValue) {
			entries[byPK[owner]].Phones = append(entries[byPK[owner]].Phones, v)
		})
		if err != nil {
			return nil, err
		}
		err = loadValues(ctx, db, emailsQuery, chunk, func(owner int64, v contacts.LabeledValue) {
			entries[byPK[owner]].Emails = append(entries[byPK[owner]].Emails, v)
		})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("addressbook: reading %s schema failed: %w", table, err)
	}
	return n > 0, nil
}

// imageData decodes a Core Data binary attribute. A leading 0x01 marks
// inline bytes; 0x02 marks a reference to a file under the store's
// _EXTERNAL_DATA directory. Anything else is returned as stored.
func imageData(dbPath string, raw []byte) []byte {
	if len(raw) < 2 {
		return nil
	}
	switch raw[0] {
	case 0x01:
		return append([]byte(nil), raw[1:]...)
	case 0x02:
		ref, _, _ := strings.Cut(string(raw[1:]), "\x00")
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.ContainsAny(ref, `/\`) {
			return nil
		}
		support := "." + strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath)) + "_SUPPORT"
		data, err := os.ReadFile(filepath.Join(filepath.Dir(dbPath), support, "_EXTERNAL_DATA", ref))
		if err != nil {
			return nil
		}
		return data
	default:
		return append([]byte(nil), raw...)
	}
}

func loadValues(ctx context.Context, db *sql.DB, query string, owners []any, add func(int64, contacts.LabeledValue)) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(owners)), ",")
	rows, err := db.QueryContext(ctx, fmt.Sprintf(query, placeholders), owners...)
	if err != nil {
		return fmt.Errorf("addressbook: sqlite query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			owner        int64
			value, label string
		)
		if err := rows.Scan(&owner, &value, &label); err != nil {
			return fmt.Errorf("addressbook: scanning sqlite row failed: %w", err)
		}
		if value = strings.TrimSpace(value); value == "" {
			continue
		}
		add(owner, contacts.LabeledValue{Label: normalizeLabel(label), Value: value})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("addressbook: iterating sqlite rows failed: %w", err)
	}
	return nil
}

func searchFilter(text string) (string, []any) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	// fold() rejects NULL and non-text arguments.
	folded := func(expr string) string {
		return `fold(CAST(` + expr + ` AS TEXT)) LIKE :like ESCAPE '\'`
	}
	clauses := []string{
		folded(`COALESCE(r.ZFIRSTNAME, '')`),
		folded(`COALESCE(r.ZMIDDLENAME, '')`),
		folded(`COALESCE(r.ZLASTNAME, '')`),
		folded(`COALESCE(r.ZNICKNAME, '')`),
		folded(`COALESCE(r.ZORGANIZATION, '')`),
		folded(`COALESCE(r.ZFIRSTNAME, '') || ' ' || COALESCE(r.ZLASTNAME, '')`),
		folded(`COALESCE(r.ZLASTNAME, '') || ' ' || COALESCE(r.ZFIRSTNAME, '')`),
		folded(`COALESCE(r.ZLASTNAME, '') || COALESCE(r.ZFIRSTNAME, '')`),
		`EXISTS (SELECT 1 FROM ZABCDEMAILADDRESS e WHERE e.ZOWNER = r.Z_PK AND ` + folded(`COALESCE(e.ZADDRESS, '')`) + `)`,
		`EXISTS (SELECT 1 FROM ZABCDPHONENUMBER p WHERE p.ZOWNER = r.Z_PK AND ` + folded(`COALESCE(p.ZFULLNUMBER, '')`) + `)`,
	}
	args := []any{sql.Named("like", "%"+escapeLike(foldText(text))+"%")}
	if digits := contacts.PhoneDigits(text); digits != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM ZABCDPHONENUMBER p WHERE p.ZOWNER = r.Z_PK AND `+phoneDigitsExpr+` LIKE :digits)`)
		args = append(args, sql.Named("digits", "%"+digits+"%"))
	}
	return "AND (\n\t" + strings.Join(clauses, "\n\tOR ") + "\n)", args
}

func openDatabase(path string) (*sql.DB, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, permissionDenied(path, err)
		}
		return nil, &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: "addressbook: database unavailable at " + path, Err: err}
	}
	f.Close()

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", strings.ReplaceAll(path, " ", "%20"))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("addressbook: opening sqlite database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("addressbook: connecting to sqlite database failed: %w", err)
	}
	return db, nil
}

func permissionDenied(path string, err error) error {
	return &contacts.Error{
		Code:    contacts.ErrorCodePermissionDenied,
		Message: "addressbook: reading " + path + " was denied; grant Contacts or Full Disk Access in System Settings",
		Err:     err,
	}
}

// normalizeLabel turns built-in labels such as "_$!<Mobile>!$_" into
// "mobile" and lowercases custom ones.
func normalizeLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "_$!<") && strings.HasSuffix(raw, ">!$_") && len(raw) >= 8 {
		raw = raw[4 : len(raw)-4]
	}
	return strings.ToLower(raw)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func appleSecondsToTime(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	whole := math.Floor(seconds)
	nsec := int64(math.Round((seconds - whole) * float64(time.Second)))
	return time.Unix(appleReferenceUnix+int64(whole), nsec).UTC()
}
