package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"calmie/internal/storage"
)

// Listener receives the snapshot produced by a transition.
type Listener func(Snapshot)

type listenerEntry struct {
	id uint64
	fn Listener
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// Store is the single source of truth for the client session.
//
// Transitions are serialized and listeners see their snapshots in transition
// order, each after the transition is fully applied. Notifications are
// delivered by whichever goroutine is already draining the queue: when no
// delivery is in progress that is the goroutine that performed the
// transition, otherwise the transition returns at once and its snapshot is
// delivered by the goroutine already draining. A listener may call back into
// the Store; the nested notification is delivered after the current round
// finishes.
type Store struct {
	backend storage.Backend
	log     zerolog.Logger

	// opMu serializes Initialize, Login, Logout and UpdateProfile.
	opMu     sync.Mutex
	degraded atomic.Bool

	mu   sync.RWMutex
	snap Snapshot

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      uint64

	queueMu  sync.Mutex
	queue    []Snapshot
	draining bool
}

func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     zerolog.Nop(),
		snap:    Snapshot{State: StateUnknown},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "session").Logger()
	return s
}

// Initialize resolves the session from storage. It may be called again later;
// listeners only run when the result differs from the current snapshot.
func (s *Store) Initialize(ctx context.Context) error {
	s.opMu.Lock()

	next, err := s.readStored(ctx)
	if err != nil {
		s.opMu.Unlock()
		return err
	}

	changed := !next.equal(s.Current())
	s.setSnapshot(next)
	if changed {
		s.enqueue(next)
	}
	s.opMu.Unlock()

	s.drain()
	return nil
}

func (s *Store) readStored(ctx context.Context) (Snapshot, error) {
	if s.degraded.Load() {
		return s.memoryOnlySnapshot(), nil
	}

	values, err := s.backend.Get(ctx, KeyToken, KeyUser)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnavailable):
			s.degrade(err)
			return s.memoryOnlySnapshot(), nil
		case errors.Is(err, storage.ErrCorrupt):
			s.log.Warn().Err(err).Msg("stored session is unreadable, clearing it")
			s.clearStored(ctx)
			return Snapshot{State: StateUnauthenticated}, nil
		}
		return Snapshot{}, fmt.Errorf("read session: %w", err)
	}

	token := values[KeyToken]
	rawUser, hasUser := values[KeyUser]
	if token == "" || !hasUser {
		s.log.Debug().
			Bool("has_token", token != "").
			Bool("has_user", hasUser).
			Msg("no stored session")
		return Snapshot{State: StateUnauthenticated}, nil
	}

	user, err := decodeProfile(rawUser)
	if err != nil {
		s.log.Warn().Err(err).Msg("stored session is malformed, clearing it")
		s.clearStored(ctx)
		return Snapshot{State: StateUnauthenticated}, nil
	}

	s.log.Debug().Int64("user_id", user.ID).Msg("session restored")
	return Snapshot{State: StateAuthenticated, User: &user, Token: token}, nil
}

func (s *Store) clearStored(ctx context.Context) {
	if err := s.backend.Delete(ctx, KeyToken, KeyUser); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			s.degrade(err)
		} else {
			s.log.Error().Err(err).Msg("clear malformed session failed")
		}
	}
}

// memoryOnlySnapshot is what Initialize resolves to once storage is gone: the
// in-memory session if there is one, otherwise signed out.
func (s *Store) memoryOnlySnapshot() Snapshot {
	cur := s.Current()
	if cur.State == StateUnknown {
		return Snapshot{State: StateUnauthenticated}
	}
	return cur
}

// Login records a successful credential exchange. Both values reach storage
// before the snapshot changes. On a storage failure other than
// ErrStorageUnavailable nothing changes and the error is returned.
func (s *Store) Login(ctx context.Context, token string, user Profile) error {
	if err := checkLoginArguments(token, user); err != nil {
		return err
	}

	s.opMu.Lock()
	err := s.login(ctx, token, user)
	s.opMu.Unlock()

	s.drain()
	return err
}

// UpdateProfile replaces the stored profile while keeping the current token.
// The user id must not change.
func (s *Store) UpdateProfile(ctx context.Context, user Profile) error {
	s.opMu.Lock()

	cur := s.Current()
	if !cur.Authenticated() {
		s.opMu.Unlock()
		return ErrNotAuthenticated
	}
	if user.ID != cur.User.ID {
		s.opMu.Unlock()
		return fmt.Errorf("%w: profile id %d does not match session user %d",
			ErrInvalidLoginArguments, user.ID, cur.User.ID)
	}
	if err := checkLoginArguments(cur.Token, user); err != nil {
		s.opMu.Unlock()
		return err
	}

	err := s.login(ctx, cur.Token, user)
	s.opMu.Unlock()

	s.drain()
	return err
}

func checkLoginArguments(token string, user Profile) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidLoginArguments)
	}
	if err := validateProfile(user); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLoginArguments, err)
	}
	return nil
}

// login expects opMu to be held.
func (s *Store) login(ctx context.Context, token string, user Profile) error {
	rawUser, err := encodeProfile(user)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLoginArguments, err)
	}

	if !s.degraded.Load() {
		err := s.backend.Set(ctx, map[string]string{
			KeyToken: token,
			KeyUser:  rawUser,
		})
		if err != nil {
			if !errors.Is(err, storage.ErrUnavailable) {
				return fmt.Errorf("persist session: %w", err)
			}
			s.degrade(err)
		}
	}

	next := Snapshot{State: StateAuthenticated, User: &user, Token: token}
	s.setSnapshot(next)
	s.enqueue(next)

	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("signed in")
	return nil
}

// Logout clears the session from storage and memory. It never fails; storage
// errors are logged.
func (s *Store) Logout(ctx context.Context) {
	s.opMu.Lock()

	if !s.degraded.Load() {
		if err := s.backend.Delete(ctx, KeyToken, KeyUser); err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				s.degrade(err)
			} else {
				s.log.Error().Err(err).Msg("clear stored session failed")
			}
		}
	}

	next := Snapshot{State: StateUnauthenticated}
	s.setSnapshot(next)
	s.enqueue(next)
	s.opMu.Unlock()

	s.log.Info().Msg("signed out")
	s.drain()
}

// Current returns a copy of the session without touching storage.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Require is the gate for actions that need a signed-in user.
func (s *Store) Require() (Snapshot, error) {
	cur := s.Current()
	switch cur.State {
	case StateAuthenticated:
		return cur, nil
	case StateUnauthenticated:
		return cur, ErrNotAuthenticated
	default:
		return cur, ErrSessionUnresolved
	}
}

// BearerToken returns the token to attach to authenticated API calls.
func (s *Store) BearerToken() (string, bool) {
	cur := s.Current()
	if !cur.Authenticated() {
		return "", false
	}
	return cur.Token, true
}

// Degraded reports whether the store has fallen back to memory-only mode.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// Subscribe registers fn for every future transition. The returned function
// removes it and is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) setSnapshot(next Snapshot) {
	s.mu.Lock()
	s.snap = next.clone()
	s.mu.Unlock()
}

func (s *Store) degrade(cause error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.log.Warn().Err(cause).Msg("durable storage unavailable, session will not survive restart")
	}
}

// enqueue is called with opMu held so queued snapshots follow transition
// order.
func (s *Store) enqueue(snap Snapshot) {
	s.queueMu.Lock()
	s.queue = append(s.queue, snap.clone())
	s.queueMu.Unlock()
}

func (s *Store) drain() {
	s.queueMu.Lock()
	if s.draining {
		s.queueMu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		s.deliver(next)

		s.queueMu.Lock()
	}
	s.draining = false
	s.queueMu.Unlock()
}

func (s *Store) deliver(snap Snapshot) {
	s.listenersMu.Lock()
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		s.notify(l, snap.clone())
	}
}

func (s *Store) notify(l listenerEntry, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Uint64("listener", l.id).
				Str("state", snap.State.String()).
				Msg("session listener panicked")
		}
	}()
	l.fn(snap)
}
