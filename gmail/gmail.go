package gmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spachava753/contactkit/contacts"
)

const (
	gmailIMAPAddress = "imap.gmail.com:993"
	gmailAllMail     = "[Gmail]/All Mail"

	envGmailAddress     = "GMAIL_ADDRESS"
	envGmailAppPassword = "GMAIL_APP_PASSWORD"

	defaultWindow      = 365 * 24 * time.Hour
	defaultMaxMessages = 500
)

// Options configures a Store. Zero values select Gmail defaults.
type Options struct {
	// Address and AppPassword default to GMAIL_ADDRESS and
	// GMAIL_APP_PASSWORD.
	Address     string
	AppPassword string
	// Server is the IMAP host:port. Default imap.gmail.com:993.
	Server string
	// Mailbox is searched read-only. Default "[Gmail]/All Mail".
	Mailbox string
	// Window bounds how far back messages are scanned. Default one year.
	Window time.Duration
	// MaxMessages caps how many of the newest matching messages are read.
	// Default 500.
	MaxMessages int
	// Dial opens the IMAP connection. Default dials TLS.
	Dial func(server string) (*client.Client, error)
	// Logger receives debug tracing. Nil discards.
	Logger logrus.FieldLogger
}

// Store is a contacts.Store over the people an account has exchanged mail
// with.
type Store struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	mu     sync.Mutex
	status contacts.AuthStatus
}

// New returns a Store for opts. It performs no I/O; credentials are read
// when access is requested.
func New(opts Options) *Store {
	if opts.Server == "" {
		opts.Server = gmailIMAPAddress
	}
	if opts.Mailbox == "" {
		opts.Mailbox = gmailAllMail
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.Dial == nil {
		opts.Dial = dialTLS
	}

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	return &Store{
		opts:   opts,
		log:    log.WithFields(logrus.Fields{"store": "gmail", "mailbox": opts.Mailbox}),
		now:    time.Now,
		status: contacts.AuthStatusNotDetermined,
	}
}

// AuthorizationStatus implements contacts.Store. It reports the outcome of
// the last sign-in and never contacts the server.
func (s *Store) AuthorizationStatus(ctx context.Context) (contacts.AuthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// RequestAccess implements contacts.Store by signing in once. A rejected
// login denies the Store for its lifetime.
func (s *Store) RequestAccess(ctx context.Context) (bool, error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != contacts.AuthStatusNotDetermined {
		return status == contacts.AuthStatusAuthorized, nil
	}

	imapClient, err := s.connect(ctx)
	if err != nil {
		if isAuthRejected(err) {
			s.setStatus(contacts.AuthStatusDenied)
			s.log.WithError(err).Debug("login rejected")
			return false, nil
		}
		return false, err
	}
	imapClient.Logout()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == contacts.AuthStatusNotDetermined {
		s.status = contacts.AuthStatusAuthorized
	}
	return s.status == contacts.AuthStatusAuthorized, nil
}

// Query implements contacts.Store. Each address seen in From, To or Cc of
// the newest matching messages becomes one Entry; the account's own address
// is skipped.
func (s *Store) Query(ctx context.Context, q contacts.Query) ([]contacts.Entry, error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != contacts.AuthStatusAuthorized {
		return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "gmail: access has not been granted"}
	}

	imapClient, err := s.connect(ctx)
	if err != nil {
		if isAuthRejected(err) {
			s.setStatus(contacts.AuthStatusDenied)
			return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "gmail: login rejected", Err: err}
		}
		return nil, err
	}
	defer imapClient.Logout()
	stop := context.AfterFunc(ctx, func() { imapClient.Terminate() })
	defer stop()

	if _, err := imapClient.Select(s.opts.Mailbox, true); err != nil {
		return nil, ctxOr(ctx, fmt.Errorf("gmail: selecting mailbox %q failed: %w", s.opts.Mailbox, err))
	}

	uids, err := imapClient.UidSearch(buildSearchCriteria(q.Text, s.now().Add(-s.opts.Window)))
	if err != nil {
		return nil, ctxOr(ctx, fmt.Errorf("gmail: searching messages failed: %w", err))
	}
	uids = newestUIDs(uids, s.opts.MaxMessages)

	envelopes, err := fetchEnvelopes(imapClient, uids)
	if err != nil {
		return nil, ctxOr(ctx, err)
	}
	s.log.WithFields(logrus.Fields{"search": q.Text, "messages": len(envelopes)}).Debug("fetched envelopes")

	address, _, _ := s.credentials()
	entries := harvestCorrespondents(envelopes, address, q.Text)
	contacts.SortEntries(entries, q.Language)
	return entries, nil
}

func (s *Store) setStatus(status contacts.AuthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Store) credentials() (address string, appPassword string, err error) {
	address = strings.TrimSpace(s.opts.Address)
	if address == "" {
		address = strings.TrimSpace(os.Getenv(envGmailAddress))
	}
	if address == "" {
		return "", "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: fmt.Sprintf("gmail: %s is required", envGmailAddress)}
	}

	appPassword = s.opts.AppPassword
	if appPassword == "" {
		appPassword = os.Getenv(envGmailAppPassword)
	}
	appPassword = strings.ReplaceAll(appPassword, " ", "")
	if appPassword == "" {
		return "", "", &contacts.Error{Code: contacts.ErrorCodeUnavailable, Message: fmt.Sprintf("gmail: %s is required", envGmailAppPassword)}
	}

	return address, appPassword, nil
}

func (s *Store) connect(ctx context.Context) (*client.Client, error) {
	address, appPassword, err := s.credentials()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imapClient, err := s.opts.Dial(s.opts.Server)
	if err != nil {
		return nil, fmt.Errorf("gmail: IMAP dial failed: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { imapClient.Terminate() })
	defer stop()

	if err := imapClient.Authenticate(sasl.NewPlainClient("", address, appPassword)); err != nil {
		imapClient.Logout()
		return nil, ctxOr(ctx, fmt.Errorf("gmail: IMAP authentication failed: %w", err))
	}
	return imapClient, nil
}

func dialTLS(server string) (*client.Client, error) {
	host, _, err := net.SplitHostPort(server)
	if err != nil {
		host = server
	}
	return client.DialTLS(server, &tls.Config{ServerName: host})
}

// isAuthRejected reports a tagged NO or BAD to AUTHENTICATE, as opposed to
// a transport failure.
func isAuthRejected(err error) bool {
	var statusErr *imap.ErrStatusResp
	return errors.As(err, &statusErr)
}

func ctxOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func buildSearchCriteria(text string, since time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	text = strings.TrimSpace(text)
	if text == "" {
		return criteria
	}
	header := func(key string) *imap.SearchCriteria {
		c := imap.NewSearchCriteria()
		c.Header.Add(key, text)
		return c
	}
	toOrCc := imap.NewSearchCriteria()
	toOrCc.Or = [][2]*imap.SearchCriteria{{header("To"), header("Cc")}}
	criteria.Or = [][2]*imap.SearchCriteria{{header("From"), toOrCc}}
	return criteria
}

func newestUIDs(uids []uint32, limit int) []uint32 {
	sorted := make([]uint32, len(uids))
	copy(sorted, uids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

type fetchedEnvelope struct {
	UID          uint32
	Envelope     *imap.Envelope
	InternalDate time.Time
}

func fetchEnvelopes(imapClient *client.Client, uids []uint32) ([]fetchedEnvelope, error) {
	if len(uids) == 0 {
		return []fetchedEnvelope{}, nil
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate}
	messages := make(chan *imap.Message, len(uids)+8)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.UidFetch(seqSet, items, messages)
	}()

	out := make([]fetchedEnvelope, 0, len(uids))
	for msg := range messages {
		out = append(out, fetchedEnvelope{UID: msg.Uid, Envelope: msg.Envelope, InternalDate: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("gmail: fetching messages failed: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID > out[j].UID })
	return out, nil
}

// harvestCorrespondents walks envelopes newest first, so the most recent
// display name and date win for each address.
func harvestCorrespondents(envelopes []fetchedEnvelope, self string, text string) []contacts.Entry {
	self = strings.ToLower(strings.TrimSpace(self))
	byAddress := map[string]int{}
	entries := make([]contacts.Entry, 0, len(envelopes))

	for _, msg := range envelopes {
		date := envelopeDate(msg.Envelope, msg.InternalDate)
		for _, addr := range envelopeParticipants(msg.Envelope) {
			email := strings.TrimSpace(addr.Address())
			key := strings.ToLower(email)
			if addr.MailboxName == "" || addr.HostName == "" || key == self {
				continue
			}
			name := strings.Trim(strings.TrimSpace(addr.PersonalName), `"'`)
			if strings.EqualFold(name, email) {
				name = ""
			}

			if i, ok := byAddress[key]; ok {
				if entries[i].FormattedName == "" {
					entries[i].FormattedName = name
				}
				if date.After(entries[i].ModifiedAt) {
					entries[i].ModifiedAt = date
				}
				continue
			}
			byAddress[key] = len(entries)
			entries = append(entries, contacts.Entry{
				ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+key)).String(),
				FormattedName: name,
				Emails:        []contacts.LabeledValue{{Value: email}},
				ModifiedAt:    date,
			})
		}
	}

	matched := entries[:0]
	for _, e := range entries {
		if contacts.MatchEntry(e, text) {
			matched = append(matched, e)
		}
	}
	return matched
}

func envelopeParticipants(env *imap.Envelope) []*imap.Address {
	if env == nil {
		return nil
	}
	out := make([]*imap.Address, 0, len(env.From)+len(env.To)+len(env.Cc))
	for _, group := range [][]*imap.Address{env.From, env.To, env.Cc} {
		for _, addr := range group {
			if addr != nil {
				out = append(out, addr)
			}
		}
	}
	return out
}

func envelopeDate(env *imap.Envelope, fallback time.Time) time.Time {
	if env != nil && !env.Date.IsZero() {
		return env.Date
	}
	return fallback
}
