package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/minus-twelve/roster/storage"
	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.done
	t.done = true
	return pending
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// Jump moves time forward without firing anything.
func (c *fakeClock) Jump(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAuth struct {
	mu         sync.Mutex
	loginRes   *types.AuthResult
	loginErr   error
	refreshRes *types.AuthResult
	refreshErr error
	logoutErr  error
	logouts    []string
	refreshed  []string

	// hooks run inside the call, without fakeAuth's lock held
	onLogin   func()
	onRefresh func()
}

func (a *fakeAuth) Login(ctx context.Context, creds types.Credentials) (*types.AuthResult, error) {
	if a.onLogin != nil {
		a.onLogin()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	res := *a.loginRes
	return &res, nil
}

func (a *fakeAuth) Refresh(ctx context.Context, token string) (*types.AuthResult, error) {
	if a.onRefresh != nil {
		a.onRefresh()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshed = append(a.refreshed, token)
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	res := *a.refreshRes
	return &res, nil
}

func (a *fakeAuth) Logout(ctx context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts = append(a.logouts, token)
	return a.logoutErr
}

func (a *fakeAuth) loggedOut() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logouts...)
}

type countingNotifier struct {
	mu       sync.Mutex
	expiring int
	expired  int
}

func (n *countingNotifier) SessionExpiring(SessionInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expiring++
}

func (n *countingNotifier) SessionExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired++
}

func (n *countingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.expiring, n.expired
}

var alice = &types.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Role: "admin", Status: "approved"}

type managerFixture struct {
	m        *Manager
	auth     *fakeAuth
	clock    *fakeClock
	store    *storage.MemorySessionStore
	notifier *countingNotifier
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &managerFixture{
		auth: &fakeAuth{
			loginRes:   &types.AuthResult{Token: "tok-1", ExpiresIn: 3600, User: alice},
			refreshRes: &types.AuthResult{Token: "tok-2", ExpiresIn: 3600},
		},
		clock:    newFakeClock(),
		store:    storage.NewMemorySessionStore(),
		notifier: &countingNotifier{},
	}
	f.m = NewManager(f.auth, f.store,
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithLogger(log),
	)
	t.Cleanup(f.m.Close)
	return f
}

func (f *managerFixture) stored(t *testing.T) (types.Session, bool) {
	t.Helper()
	s, ok, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return s, ok
}

func TestLoginSchedulesWarningThenExpiry(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	session, err := f.m.Login(ctx, types.Credentials{Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", session.Token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, StateActive, f.m.State())

	stored, ok := f.stored(t)
	require.True(t, ok)
	assert.Equal(t, "tok-1", stored.Token)

	f.clock.Advance(54*time.Minute + 59*time.Second)
	assert.Equal(t, StateActive, f.m.State())

	f.clock.Advance(time.Second)
	assert.Equal(t, StateExpiringSoon, f.m.State())
	expiring, expired := f.notifier.counts()
	assert.Equal(t, 1, expiring)
	assert.Equal(t, 0, expired)
	assert.True(t, f.m.IsAuthenticated())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, StateLoggedOut, f.m.State())
	_, expired = f.notifier.counts()
	assert.Equal(t, 1, expired)
	assert.False(t, f.m.IsAuthenticated())

	token, ok := f.m.Token(ctx)
	assert.False(t, ok)
	assert.Empty(t, token)

	_, ok = f.stored(t)
	assert.False(t, ok)
	assert.Equal(t, []string{"tok-1"}, f.auth.loggedOut())
}

func TestLoginRejectedLeavesNoState(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.loginErr = types.ErrInvalidCredentials

	_, err := f.m.Login(context.Background(), types.Credentials{Email: "alice@example.com", Password: "bad"})
	require.ErrorIs(t, err, types.ErrInvalidCredentials)

	assert.False(t, f.m.IsAuthenticated())
	assert.Equal(t, StateLoggedOut, f.m.State())
	_, ok := f.stored(t)
	assert.False(t, ok)
}

func TestLoginWithoutExpiresInUsesDefaultTTL(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.loginRes = &types.AuthResult{Token: "tok-1", User: alice}

	session, err := f.m.Login(context.Background(), types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Hour), session.ExpiresAt)
}

func TestShortLivedTokenWarnsImmediately(t *testing.T) {
	f := newManagerFixture(t)
	f.auth.loginRes = &types.AuthResult{Token: "tok-1", ExpiresIn: 120, User: alice}

	_, err := f.m.Login(context.Background(), types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	f.clock.Advance(0)
	assert.Equal(t, StateExpiringSoon, f.m.State())

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, StateLoggedOut, f.m.State())
}

func TestTokenChecksExpiryOnRead(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	token, ok := f.m.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)

	// Timers have not fired, e.g. the process was suspended.
	f.clock.Jump(2 * time.Hour)

	token, ok = f.m.Token(ctx)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, StateLoggedOut, f.m.State())
	_, stored := f.stored(t)
	assert.False(t, stored)
	assert.Equal(t, []string{"tok-1"}, f.auth.loggedOut())

	// The stale expiry timer must not notify after the lazy logout.
	f.clock.Advance(time.Hour)
	_, expired := f.notifier.counts()
	assert.Equal(t, 0, expired)
}

func TestRefreshReplacesTokenAndTimers(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	f.clock.Advance(56 * time.Minute)
	require.Equal(t, StateExpiringSoon, f.m.State())

	session, err := f.m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", session.Token)
	assert.Equal(t, alice.ID, session.User.ID)
	assert.Equal(t, StateActive, f.m.State())
	assert.Equal(t, []string{"tok-1"}, f.auth.refreshed)

	// Past the original expiry: the old timers were cancelled.
	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, StateActive, f.m.State())
	_, expired := f.notifier.counts()
	assert.Equal(t, 0, expired)

	token, ok := f.m.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-2", token)

	stored, _ := f.stored(t)
	assert.Equal(t, "tok-2", stored.Token)
}

func TestRefreshWithoutSession(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.m.Refresh(context.Background())
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
}

func TestRefreshFailureLogsOut(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.auth.refreshErr = errors.New("refresh rejected")

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	_, err = f.m.Refresh(ctx)
	require.Error(t, err)
	assert.False(t, f.m.IsAuthenticated())
	_, ok := f.stored(t)
	assert.False(t, ok)
}

type saveFailingStore struct {
	*storage.MemorySessionStore
	mu    sync.Mutex
	fails bool
}

func (s *saveFailingStore) Save(ctx context.Context, session types.Session) error {
	s.mu.Lock()
	fails := s.fails
	s.mu.Unlock()
	if fails {
		return errors.New("disk full")
	}
	return s.MemorySessionStore.Save(ctx, session)
}

func TestRefreshPersistFailureLogsOut(t *testing.T) {
	log, _ := test.NewNullLogger()
	auth := &fakeAuth{
		loginRes:   &types.AuthResult{Token: "tok-1", ExpiresIn: 3600, User: alice},
		refreshRes: &types.AuthResult{Token: "tok-2", ExpiresIn: 3600},
	}
	clock := newFakeClock()
	store := &saveFailingStore{MemorySessionStore: storage.NewMemorySessionStore()}
	m := NewManager(auth, store, WithClock(clock), WithLogger(log))
	t.Cleanup(m.Close)
	ctx := context.Background()

	_, err := m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	store.mu.Lock()
	store.fails = true
	store.mu.Unlock()

	_, err = m.Refresh(ctx)
	require.EqualError(t, err, "disk full")
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, StateLoggedOut, m.State())
	_, ok := m.Token(ctx)
	assert.False(t, ok)

	_, stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, stored)

	auth.mu.Lock()
	assert.Equal(t, []string{"tok-2"}, auth.logouts)
	auth.mu.Unlock()
}

func TestLogoutDuringRefreshWins(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	f.auth.onRefresh = func() { f.m.Logout(ctx) }

	_, err = f.m.Refresh(ctx)
	require.ErrorIs(t, err, types.ErrSuperseded)

	assert.False(t, f.m.IsAuthenticated())
	assert.Equal(t, StateLoggedOut, f.m.State())
	token, ok := f.m.Token(ctx)
	assert.False(t, ok)
	assert.Empty(t, token)
	_, stored := f.stored(t)
	assert.False(t, stored)
}

func TestLogoutDuringLoginWins(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.auth.onLogin = func() { f.m.Logout(ctx) }

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.ErrorIs(t, err, types.ErrSuperseded)

	assert.False(t, f.m.IsAuthenticated())
	_, stored := f.stored(t)
	assert.False(t, stored)
}

func TestLogoutSwallowsServerErrors(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.auth.logoutErr = errors.New("connection refused")

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	f.m.Logout(ctx)
	assert.False(t, f.m.IsAuthenticated())
	assert.Equal(t, []string{"tok-1"}, f.auth.loggedOut())

	// Timers from the ended session stay silent.
	f.clock.Advance(2 * time.Hour)
	expiring, expired := f.notifier.counts()
	assert.Zero(t, expiring)
	assert.Zero(t, expired)
}

func TestRelogReplacesPreviousSession(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	f.auth.loginRes = &types.AuthResult{Token: "tok-3", ExpiresIn: 7200, User: alice}
	_, err = f.m.Login(ctx, types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-1"}, f.auth.loggedOut())

	f.clock.Advance(90 * time.Minute)
	assert.Equal(t, StateActive, f.m.State())
	token, _ := f.m.Token(ctx)
	assert.Equal(t, "tok-3", token)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("active session", func(t *testing.T) {
		f := newManagerFixture(t)
		require.NoError(t, f.store.Save(ctx, types.Session{
			Token:     "persisted",
			ExpiresAt: f.clock.Now().Add(30 * time.Minute),
			User:      alice,
		}))

		require.NoError(t, f.m.Restore(ctx))
		assert.True(t, f.m.IsAuthenticated())

		f.clock.Advance(30 * time.Minute)
		assert.False(t, f.m.IsAuthenticated())
		_, expired := f.notifier.counts()
		assert.Equal(t, 1, expired)
	})

	t.Run("expired session is cleared", func(t *testing.T) {
		f := newManagerFixture(t)
		require.NoError(t, f.store.Save(ctx, types.Session{
			Token:     "persisted",
			ExpiresAt: f.clock.Now().Add(-time.Minute),
			User:      alice,
		}))

		require.NoError(t, f.m.Restore(ctx))
		assert.False(t, f.m.IsAuthenticated())
		_, ok := f.stored(t)
		assert.False(t, ok)
	})

	t.Run("nothing stored", func(t *testing.T) {
		f := newManagerFixture(t)
		require.NoError(t, f.m.Restore(ctx))
		assert.Equal(t, StateLoggedOut, f.m.State())
	})
}

func TestSessionInfo(t *testing.T) {
	f := newManagerFixture(t)

	info := f.m.SessionInfo()
	assert.False(t, info.IsAuthenticated)
	assert.Nil(t, info.User)
	assert.Nil(t, info.TokenExpiry)

	_, err := f.m.Login(context.Background(), types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	info = f.m.SessionInfo()
	assert.True(t, info.IsAuthenticated)
	assert.True(t, info.IsAdmin)
	assert.True(t, info.IsApproved)
	require.NotNil(t, info.TimeUntilExpiry)
	assert.Equal(t, 50*time.Minute, *info.TimeUntilExpiry)

	// Mutating the returned user does not leak into the manager.
	info.User.Role = "user"
	assert.True(t, f.m.SessionInfo().IsAdmin)
}

type panickyNotifier struct{}

func (panickyNotifier) SessionExpiring(SessionInfo) { panic("boom") }
func (panickyNotifier) SessionExpired()             { panic("boom") }

func TestTimerCallbackPanicIsContained(t *testing.T) {
	log, hook := test.NewNullLogger()
	clock := newFakeClock()
	auth := &fakeAuth{loginRes: &types.AuthResult{Token: "tok-1", ExpiresIn: 600, User: alice}}
	m := NewManager(auth, storage.NewMemorySessionStore(),
		WithClock(clock), WithNotifier(panickyNotifier{}), WithLogger(log))
	defer m.Close()

	_, err := m.Login(context.Background(), types.Credentials{Email: "a", Password: "b"})
	require.NoError(t, err)

	assert.NotPanics(t, func() { clock.Advance(time.Hour) })
	assert.False(t, m.IsAuthenticated())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
