// Package contactstest provides an in-memory contacts.Store for tests.
//
// The Store mimics a platform contact store: it starts not determined,
// "prompts" at most once, keeps the decision for its lifetime, and counts
// every round trip so tests can assert on prompts and queries.
package contactstest

import (
	"context"
	"sync"

	"github.com/spachava753/contactkit/contacts"
)

// Store is a concurrency-safe fake contacts.Store.
type Store struct {
	mu sync.Mutex

	status   contacts.AuthStatus
	decision bool
	entries  []contacts.Entry

	statusErr error
	promptErr error
	queryErr  error
	gate      chan struct{}

	prompts     int
	statusReads int
	queries     int
	lastQueries []contacts.Query
}

// New returns a not-determined Store holding entries. The simulated user
// grants access when prompted; use Decide to change that.
func New(entries ...contacts.Entry) *Store {
	s := &Store{
		status:   contacts.AuthStatusNotDetermined,
		decision: true,
	}
	s.entries = append(s.entries, entries...)
	return s
}

// Decide sets the answer given when the Store prompts.
func (s *Store) Decide(granted bool) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decision = granted
	return s
}

// SetStatus forces the authorization status, e.g. to simulate an external
// revocation.
func (s *Store) SetStatus(status contacts.AuthStatus) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return s
}

// FailStatus makes AuthorizationStatus return err.
func (s *Store) FailStatus(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusErr = err
	return s
}

// FailPrompt makes RequestAccess return err when it would prompt.
func (s *Store) FailPrompt(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptErr = err
	return s
}

// FailQuery makes Query return err.
func (s *Store) FailQuery(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
	return s
}

// Hold makes every Query block until Release is called or its context ends.
func (s *Store) Hold() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s
}

// Release unblocks queries held by Hold.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Add appends entries to the store.
func (s *Store) Add(entries ...contacts.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

// Prompts returns how many times the Store showed a permission prompt.
func (s *Store) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// StatusReads returns how many times AuthorizationStatus was called.
func (s *Store) StatusReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusReads
}

// Queries returns how many times Query was called.
func (s *Store) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// LastQueries returns every Query received, in arrival order.
func (s *Store) LastQueries() []contacts.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contacts.Query, len(s.lastQueries))
	copy(out, s.lastQueries)
	return out
}

// AuthorizationStatus implements contacts.Store.
func (s *Store) AuthorizationStatus(ctx context.Context) (contacts.AuthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusReads++
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.status, nil
}

// RequestAccess implements contacts.Store. It prompts only while the status
// is not determined.
func (s *Store) RequestAccess(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != contacts.AuthStatusNotDetermined {
		return s.status == contacts.AuthStatusAuthorized, nil
	}
	if s.promptErr != nil {
		return false, s.promptErr
	}
	s.prompts++
	if s.decision {
		s.status = contacts.AuthStatusAuthorized
	} else {
		s.status = contacts.AuthStatusDenied
	}
	return s.decision, nil
}

// Query implements contacts.Store using contacts.MatchEntry and
// contacts.SortEntries.
func (s *Store) Query(ctx context.Context, q contacts.Query) ([]contacts.Entry, error) {
	s.mu.Lock()
	s.queries++
	s.lastQueries = append(s.lastQueries, q)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.status != contacts.AuthStatusAuthorized {
		return nil, &contacts.Error{Code: contacts.ErrorCodePermissionDenied, Message: "access revoked"}
	}

	out := make([]contacts.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if contacts.MatchEntry(e, q.Text) {
			out = append(out, cloneEntry(e))
		}
	}
	contacts.SortEntries(out, q.Language)
	return out, nil
}

func cloneEntry(e contacts.Entry) contacts.Entry {
	e.Phones = append([]contacts.LabeledValue(nil), e.Phones...)
	e.Emails = append([]contacts.LabeledValue(nil), e.Emails...)
	e.Thumbnail = append([]byte(nil), e.Thumbnail...)
	return e
}
