package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"calmie/internal/storage"
)

// faultyBackend wraps a memory backend and fails the next call of a kind
// when the matching error is set.
type faultyBackend struct {
	*storage.Memory

	mu        sync.Mutex
	getErr    error
	setErr    error
	deleteErr error
	sets      int
	deletes   int
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{Memory: storage.NewMemory()}
}

func (f *faultyBackend) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Memory.Get(ctx, keys...)
}

func (f *faultyBackend) Set(ctx context.Context, entries map[string]string) error {
	f.mu.Lock()
	f.sets++
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Memory.Set(ctx, entries)
}

func (f *faultyBackend) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	f.deletes++
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Memory.Delete(ctx, keys...)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func stored(t *testing.T, b storage.Backend) map[string]string {
	t.Helper()
	values, err := b.Get(context.Background(), KeyToken, KeyUser)
	if err != nil {
		t.Fatalf("read backend: %v", err)
	}
	return values
}

func bob() Profile {
	return Profile{ID: 9, Username: "bob"}
}

func TestNewStartsUnknown(t *testing.T) {
	s := New(storage.NewMemory())
	cur := s.Current()
	if cur.State != StateUnknown || cur.User != nil || cur.Token != "" {
		t.Fatalf("expected empty unknown snapshot, got %+v", cur)
	}
	if _, err := s.Require(); !errors.Is(err, ErrSessionUnresolved) {
		t.Fatalf("expected ErrSessionUnresolved, got %v", err)
	}
}

func TestInitializeEmptyStorage(t *testing.T) {
	s := New(storage.NewMemory())
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cur := s.Current()
	if cur.State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", cur.State)
	}
	if cur.User != nil {
		t.Fatalf("expected nil user, got %+v", cur.User)
	}
	if _, err := s.Require(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestInitializeRestoresStoredSession(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	err := b.Set(ctx, map[string]string{
		KeyToken: "tok-1",
		KeyUser:  `{"id":7,"username":"alice","user_icon":"/a.png","introduction_text":"hi"}`,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(b)
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cur := s.Current()
	if cur.State != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", cur.State)
	}
	if cur.Token != "tok-1" {
		t.Fatalf("expected tok-1, got %q", cur.Token)
	}
	want := Profile{ID: 7, Username: "alice", IconURL: "/a.png", IntroductionText: "hi"}
	if cur.User == nil || *cur.User != want {
		t.Fatalf("expected %+v, got %+v", want, cur.User)
	}
}

func TestInitializeMissingKeyIsUnauthenticated(t *testing.T) {
	cases := map[string]map[string]string{
		"token only":  {KeyToken: "tok-1"},
		"user only":   {KeyUser: `{"id":7,"username":"alice"}`},
		"empty token": {KeyToken: "", KeyUser: `{"id":7,"username":"alice"}`},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := storage.NewMemory()
			if err := b.Set(ctx, seed); err != nil {
				t.Fatalf("seed: %v", err)
			}
			s := New(b)
			if err := s.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if cur := s.Current(); cur.State != StateUnauthenticated || cur.User != nil || cur.Token != "" {
				t.Fatalf("expected empty unauthenticated snapshot, got %+v", cur)
			}
		})
	}
}

func TestInitializeClearsMalformedSession(t *testing.T) {
	cases := map[string]string{
		"invalid json":   "{not valid json",
		"wrong id type":  `{"id":"7","username":"alice"}`,
		"missing id":     `{"username":"alice"}`,
		"empty username": `{"id":7,"username":""}`,
		"null":           "null",
	}
	for name, rawUser := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := storage.NewMemory()
			if err := b.Set(ctx, map[string]string{KeyToken: "abc", KeyUser: rawUser, "theme": "dark"}); err != nil {
				t.Fatalf("seed: %v", err)
			}

			s := New(b)
			if err := s.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if s.Current().State != StateUnauthenticated {
				t.Fatalf("expected unauthenticated, got %s", s.Current().State)
			}
			if values := stored(t, b); len(values) != 0 {
				t.Fatalf("expected both keys removed, got %v", values)
			}
			other, err := b.Get(ctx, "theme")
			if err != nil || other["theme"] != "dark" {
				t.Fatalf("unrelated key must survive, got %v (%v)", other, err)
			}
		})
	}
}

func TestInitializeReadErrorLeavesStateUnchanged(t *testing.T) {
	b := newFaultyBackend()
	b.getErr = errors.New("boom")

	s := New(b)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	if err := s.Initialize(context.Background()); err == nil {
		t.Fatalf("expected read error")
	}
	if s.Current().State != StateUnknown {
		t.Fatalf("expected state to stay unknown, got %s", s.Current().State)
	}
	if rec.count() != 0 {
		t.Fatalf("listener must not run on failed initialize")
	}
}

func TestLoginThenReloadRoundTrips(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()

	tokens := []string{"tok-2", "t", "eyJhbGciOiJIUzI1NiJ9.e30.sig"}
	profiles := []Profile{
		bob(),
		{ID: 1, Username: "アリス", IconURL: "https://cdn.example/a.png", IntroductionText: "line1\nline2 \"quoted\""},
		{ID: 1 << 40, Username: "x", IntroductionText: "<script>alert(1)</script>"},
	}

	for i, token := range tokens {
		user := profiles[i]
		t.Run(fmt.Sprintf("pair-%d", i), func(t *testing.T) {
			first := New(b)
			if err := first.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if err := first.Login(ctx, token, user); err != nil {
				t.Fatalf("login: %v", err)
			}

			reloaded := New(b)
			if err := reloaded.Initialize(ctx); err != nil {
				t.Fatalf("reload: %v", err)
			}
			cur := reloaded.Current()
			if cur.State != StateAuthenticated || cur.Token != token || cur.User == nil || *cur.User != user {
				t.Fatalf("round trip mismatch: got %+v user=%+v", cur, cur.User)
			}
		})
	}
}

func TestLoginWritesStorageBeforeNotifying(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var seen map[string]string
	s.Subscribe(func(snap Snapshot) {
		seen = stored(t, b)
	})

	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if seen[KeyToken] != "tok-2" || seen[KeyUser] == "" {
		t.Fatalf("listener saw storage before write completed: %v", seen)
	}

	cur := s.Current()
	if cur.State != StateAuthenticated || cur.User.Username != "bob" {
		t.Fatalf("unexpected snapshot %+v", cur)
	}
}

func TestReloginReplacesSession(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)

	if err := s.Login(ctx, "tok-1", Profile{ID: 7, Username: "alice"}); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("second login: %v", err)
	}

	cur := s.Current()
	if cur.Token != "tok-2" || cur.User.ID != 9 {
		t.Fatalf("expected replaced session, got %+v", cur)
	}
	if values := stored(t, b); values[KeyToken] != "tok-2" {
		t.Fatalf("expected storage to hold tok-2, got %v", values)
	}
}

func TestLoginRejectsInvalidArguments(t *testing.T) {
	cases := map[string]struct {
		token string
		user  Profile
	}{
		"empty token":    {token: "", user: bob()},
		"zero id":        {token: "tok", user: Profile{Username: "bob"}},
		"empty username": {token: "tok", user: Profile{ID: 9}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newFaultyBackend()
			if err := b.Memory.Set(ctx, map[string]string{KeyToken: "tok-1", KeyUser: `{"id":7,"username":"alice"}`}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			s := New(b)
			if err := s.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			before := s.Current()
			rec := &recorder{}
			s.Subscribe(rec.listen)

			err := s.Login(ctx, tc.token, tc.user)
			if !errors.Is(err, ErrInvalidLoginArguments) {
				t.Fatalf("expected ErrInvalidLoginArguments, got %v", err)
			}
			if !s.Current().equal(before) {
				t.Fatalf("state changed: before %+v after %+v", before, s.Current())
			}
			if b.sets != 0 {
				t.Fatalf("storage must not be written, got %d sets", b.sets)
			}
			if values := stored(t, b); values[KeyToken] != "tok-1" {
				t.Fatalf("storage changed: %v", values)
			}
			if rec.count() != 0 {
				t.Fatalf("listener must not run")
			}
		})
	}
}

func TestLoginStorageFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	b := newFaultyBackend()
	s := New(b)
	_ = s.Initialize(ctx)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	b.setErr = fmt.Errorf("write: %w", storage.ErrQuotaExceeded)
	err := s.Login(ctx, "tok-2", bob())
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if s.Current().State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", s.Current().State)
	}
	if s.Degraded() {
		t.Fatalf("quota errors must not switch to memory-only mode")
	}
	if rec.count() != 0 {
		t.Fatalf("listener must not run on failed login")
	}
}

func TestLogoutClearsTogether(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	if err := b.Set(ctx, map[string]string{"theme": "dark"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(b)
	_ = s.Initialize(ctx)
	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login: %v", err)
	}

	s.Logout(ctx)

	cur := s.Current()
	if cur.State != StateUnauthenticated || cur.User != nil || cur.Token != "" {
		t.Fatalf("expected cleared snapshot, got %+v", cur)
	}
	if values := stored(t, b); len(values) != 0 {
		t.Fatalf("expected no session keys in storage, got %v", values)
	}
	if other, _ := b.Get(ctx, "theme"); other["theme"] != "dark" {
		t.Fatalf("logout must not touch unrelated keys")
	}
	if _, ok := s.BearerToken(); ok {
		t.Fatalf("no bearer token expected after logout")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)
	_ = s.Login(ctx, "tok-2", bob())

	s.Logout(ctx)
	first := s.Current()
	firstStored := stored(t, b)

	s.Logout(ctx)
	if !s.Current().equal(first) {
		t.Fatalf("second logout changed state: %+v -> %+v", first, s.Current())
	}
	if values := stored(t, b); len(values) != len(firstStored) {
		t.Fatalf("second logout changed storage: %v -> %v", firstStored, values)
	}
}

func TestLogoutSurvivesStorageErrors(t *testing.T) {
	ctx := context.Background()
	b := newFaultyBackend()
	s := New(b)
	_ = s.Initialize(ctx)
	_ = s.Login(ctx, "tok-2", bob())

	b.deleteErr = errors.New("disk on fire")
	s.Logout(ctx)

	if s.Current().State != StateUnauthenticated {
		t.Fatalf("logout must clear memory even when storage fails")
	}
}

func TestListenerCalledOncePerTransition(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	rec := &recorder{}
	s.Subscribe(rec.listen)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rec.count() != 1 || rec.last().State != StateUnauthenticated {
		t.Fatalf("expected one unauthenticated notification, got %d", rec.count())
	}

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("no-op initialize must not notify, got %d", rec.count())
	}

	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.count() != 2 || rec.last().State != StateAuthenticated || rec.last().Token != "tok-2" {
		t.Fatalf("expected authenticated notification, got %+v", rec.last())
	}

	_ = s.Current()
	if rec.count() != 2 {
		t.Fatalf("reads must not notify")
	}

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize after login: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("initialize with unchanged storage must not notify, got %d", rec.count())
	}

	s.Logout(ctx)
	if rec.count() != 3 || rec.last().State != StateUnauthenticated {
		t.Fatalf("expected logout notification, got %d", rec.count())
	}
}

func TestListenersRunInInsertionOrderAndIsolatePanics(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	var order []string
	s.Subscribe(func(Snapshot) { order = append(order, "first") })
	s.Subscribe(func(Snapshot) { panic("listener bug") })
	s.Subscribe(func(Snapshot) { order = append(order, "third") })

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.listen)

	_ = s.Initialize(ctx)
	unsubscribe()
	unsubscribe()

	_ = s.Login(ctx, "tok-2", bob())
	if rec.count() != 1 {
		t.Fatalf("expected only the initialize notification, got %d", rec.count())
	}
}

func TestListenerMutatingSnapshotDoesNotLeak(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	_ = s.Initialize(ctx)
	s.Subscribe(func(snap Snapshot) {
		if snap.User != nil {
			snap.User.Username = "mallory"
		}
	})

	_ = s.Login(ctx, "tok-2", bob())
	if s.Current().User.Username != "bob" {
		t.Fatalf("listener mutated store state")
	}
}

func TestReentrantListenerTransitionsAreDeliveredInOrder(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)

	var states []State
	s.Subscribe(func(snap Snapshot) {
		states = append(states, snap.State)
		if snap.State == StateAuthenticated {
			s.Logout(ctx)
		}
	})

	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(states) != 2 || states[0] != StateAuthenticated || states[1] != StateUnauthenticated {
		t.Fatalf("unexpected delivery order %v", states)
	}
	if s.Current().State != StateUnauthenticated {
		t.Fatalf("expected final state unauthenticated, got %s", s.Current().State)
	}
}

func TestListenerMayReloadFromStorage(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)

	reloaded := make(chan Snapshot, 1)
	s.Subscribe(func(snap Snapshot) {
		if snap.State != StateAuthenticated {
			return
		}
		fresh := New(b)
		if err := fresh.Initialize(ctx); err == nil {
			reloaded <- fresh.Current()
		}
	})

	_ = s.Login(ctx, "tok-2", bob())
	got := <-reloaded
	if got.State != StateAuthenticated || got.Token != "tok-2" {
		t.Fatalf("reload inside listener saw %+v", got)
	}
}

func TestStorageUnavailableDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	s := New(storage.Disabled{})
	rec := &recorder{}
	s.Subscribe(rec.listen)

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("initialize must not fail on unavailable storage: %v", err)
	}
	if !s.Degraded() {
		t.Fatalf("expected degraded mode")
	}
	if s.Current().State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", s.Current().State)
	}

	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login in degraded mode: %v", err)
	}
	if s.Current().State != StateAuthenticated {
		t.Fatalf("expected in-memory login")
	}

	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if s.Current().State != StateAuthenticated {
		t.Fatalf("re-initialize must keep the in-memory session while degraded")
	}

	s.Logout(ctx)
	if s.Current().State != StateUnauthenticated {
		t.Fatalf("expected logout to apply in memory")
	}
	if rec.count() != 3 {
		t.Fatalf("expected 3 notifications, got %d", rec.count())
	}
}

func TestStorageLostAfterStartDegrades(t *testing.T) {
	ctx := context.Background()
	b := newFaultyBackend()
	s := New(b)
	_ = s.Initialize(ctx)

	b.setErr = fmt.Errorf("dial: %w", storage.ErrUnavailable)
	if err := s.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login must succeed when storage disappears: %v", err)
	}
	if !s.Degraded() || s.Current().State != StateAuthenticated {
		t.Fatalf("expected degraded authenticated session")
	}

	b.setErr = nil
	_ = s.Login(ctx, "tok-3", bob())
	if b.sets != 1 {
		t.Fatalf("degraded store must not retry storage per call, got %d sets", b.sets)
	}
}

func TestUpdateProfileKeepsToken(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)

	if err := s.UpdateProfile(ctx, bob()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	_ = s.Login(ctx, "tok-2", bob())

	updated := Profile{ID: 9, Username: "robert", IconURL: "/r.png", IntroductionText: "hello"}
	if err := s.UpdateProfile(ctx, updated); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	cur := s.Current()
	if cur.Token != "tok-2" || *cur.User != updated {
		t.Fatalf("unexpected snapshot after update %+v", cur)
	}

	reloaded := New(b)
	_ = reloaded.Initialize(ctx)
	if got := reloaded.Current().User; got == nil || *got != updated {
		t.Fatalf("updated profile not persisted, got %+v", got)
	}

	if err := s.UpdateProfile(ctx, Profile{ID: 10, Username: "eve"}); !errors.Is(err, ErrInvalidLoginArguments) {
		t.Fatalf("expected id mismatch rejection, got %v", err)
	}
}

func TestConcurrentTransitionsLeaveConsistentState(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemory()
	s := New(b)
	_ = s.Initialize(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.Login(ctx, fmt.Sprintf("tok-%d", i), Profile{ID: int64(i + 1), Username: "u"})
				return
			}
			s.Logout(ctx)
		}(i)
	}
	wg.Wait()

	cur := s.Current()
	values := stored(t, b)
	switch cur.State {
	case StateAuthenticated:
		if values[KeyToken] != cur.Token || values[KeyUser] == "" {
			t.Fatalf("storage %v disagrees with memory %+v", values, cur)
		}
	case StateUnauthenticated:
		if len(values) != 0 {
			t.Fatalf("storage %v disagrees with signed-out memory", values)
		}
	default:
		t.Fatalf("unexpected state %s", cur.State)
	}
}

func TestLoginDuringDeliveryIsQueuedBehindRunningListeners(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())
	_ = s.Initialize(ctx)

	rec := &recorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	s.Subscribe(func(snap Snapshot) {
		if snap.Token == "tok-a" {
			close(entered)
			<-release
		}
		rec.listen(snap)
	})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Login(ctx, "tok-a", bob())
	}()
	<-entered

	if err := s.Login(ctx, "tok-b", bob()); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if s.Current().Token != "tok-b" {
		t.Fatalf("state must be applied before login returns, got %q", s.Current().Token)
	}
	if rec.count() != 0 {
		t.Fatalf("second snapshot must wait behind the running delivery, saw %d", rec.count())
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first login: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.snaps) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(rec.snaps))
	}
	if rec.snaps[0].Token != "tok-a" || rec.snaps[1].Token != "tok-b" {
		t.Fatalf("deliveries out of order: %q then %q", rec.snaps[0].Token, rec.snaps[1].Token)
	}
}

func TestInitializeRecoversFromCorruptFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reopen := func() *Store {
		t.Helper()
		b, err := storage.NewFile(path)
		if err != nil {
			t.Fatalf("open file storage: %v", err)
		}
		s := New(b)
		if err := s.Initialize(ctx); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		return s
	}

	first := reopen()
	if first.Current().State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", first.Current().State)
	}
	if first.Degraded() {
		t.Fatalf("a corrupt document must not degrade the store")
	}
	if err := first.Login(ctx, "tok-2", bob()); err != nil {
		t.Fatalf("login: %v", err)
	}

	second := reopen()
	cur := second.Current()
	if cur.State != StateAuthenticated || cur.Token != "tok-2" || cur.User.Username != "bob" {
		t.Fatalf("session did not survive reopen: %+v", cur)
	}
	if second.Degraded() {
		t.Fatalf("reopened store must not be degraded")
	}
}
