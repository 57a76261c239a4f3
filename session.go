package roster

import (
	"context"
	"sync"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
)

// Authenticator exchanges credentials and tokens with the auth collaborator.
type Authenticator interface {
	Login(ctx context.Context, creds types.Credentials) (*types.AuthResult, error)
	Refresh(ctx context.Context, token string) (*types.AuthResult, error)
	Logout(ctx context.Context, token string) error
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Notifier receives the time-driven session events.
type Notifier interface {
	SessionExpiring(info SessionInfo)
	SessionExpired()
}

type logNotifier struct {
	log logrus.FieldLogger
}

func (n logNotifier) SessionExpiring(info SessionInfo) {
	n.log.WithField("expires_at", info.TokenExpiry).
		Warn("Your session will expire soon. Please save your work.")
}

func (n logNotifier) SessionExpired() {
	n.log.Warn("Your session has expired. Please login again.")
}

type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateActive
	StateExpiringSoon
)

func (s State) String() string {
	switch s {
	case StateLoggingIn:
		return "logging-in"
	case StateActive:
		return "active"
	case StateExpiringSoon:
		return "expiring-soon"
	default:
		return "logged-out"
	}
}

type SessionInfo struct {
	State           State          `json:"state"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	IsAdmin         bool           `json:"isAdmin"`
	IsApproved      bool           `json:"isApproved"`
	User            *types.User    `json:"user"`
	TokenExpiry     *time.Time     `json:"tokenExpiry"`
	TimeUntilExpiry *time.Duration `json:"timeUntilExpiry"`
}

type ManagerConfig struct {
	WarnBefore    time.Duration
	DefaultTTL    time.Duration
	LogoutTimeout time.Duration
}

func ManagerConfigFrom(cfg types.SessionConfig) ManagerConfig {
	return ManagerConfig{
		WarnBefore:    cfg.WarnBefore,
		DefaultTTL:    cfg.DefaultTTL,
		LogoutTimeout: cfg.LogoutTimeout,
	}
}

type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

func WithConfig(cfg ManagerConfig) Option { return func(m *Manager) { m.config = cfg } }

// Manager owns one authenticated session. Every transition bumps gen, and
// work started under an older gen (in-flight login or refresh, timers) is
// dropped instead of applied.
type Manager struct {
	auth     Authenticator
	store    SessionStore
	clock    Clock
	notifier Notifier
	log      logrus.FieldLogger
	config   ManagerConfig

	mu          sync.Mutex
	state       State
	gen         uint64
	session     *types.Session
	warnTimer   Timer
	expiryTimer Timer
}

func NewManager(auth Authenticator, store SessionStore, opts ...Option) *Manager {
	m := &Manager{
		auth:  auth,
		store: store,
		clock: realClock{},
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.config.WarnBefore <= 0 {
		m.config.WarnBefore = 5 * time.Minute
	}
	if m.config.DefaultTTL <= 0 {
		m.config.DefaultTTL = time.Hour
	}
	if m.config.LogoutTimeout <= 0 {
		m.config.LogoutTimeout = 5 * time.Second
	}
	if m.notifier == nil {
		m.notifier = logNotifier{log: m.log}
	}
	return m
}

// Restore picks up a session persisted by an earlier process. An expired
// session is cleared.
func (m *Manager) Restore(ctx context.Context) error {
	stored, ok, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !stored.Active(m.clock.Now()) {
		m.log.Info("stored session expired, clearing")
		return m.store.Clear(ctx)
	}
	m.gen++
	m.apply(stored)
	return nil
}

func (m *Manager) Login(ctx context.Context, creds types.Credentials) (types.Session, error) {
	m.mu.Lock()
	stale := m.teardown(ctx)
	m.state = StateLoggingIn
	gen := m.gen
	m.mu.Unlock()

	m.notifyServer(ctx, stale)
	res, err := m.auth.Login(ctx, creds)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return types.Session{}, types.ErrSuperseded
	}
	if err != nil {
		m.state = StateLoggedOut
		return types.Session{}, err
	}

	session := types.Session{
		Token:     res.Token,
		ExpiresAt: m.clock.Now().Add(m.ttl(res.ExpiresIn)),
		User:      res.User,
	}
	if err := m.store.Save(ctx, session); err != nil {
		m.state = StateLoggedOut
		return types.Session{}, err
	}
	m.apply(session)

	m.log.WithFields(logrus.Fields{
		"user":       userID(session.User),
		"expires_at": session.ExpiresAt,
	}).Info("logged in")
	return copySession(session), nil
}

func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.teardown(ctx)
	m.mu.Unlock()

	m.notifyServer(ctx, token)
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeLocked()
}

// Token returns the current bearer token. A token found expired at read
// time logs the session out.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return "", false
	}
	if m.session.Expired(m.clock.Now()) {
		token := m.teardown(ctx)
		m.mu.Unlock()
		m.log.Info("token expired on access")
		m.notifyServer(ctx, token)
		return "", false
	}
	token := m.session.Token
	m.mu.Unlock()
	return token, token != ""
}

func (m *Manager) Refresh(ctx context.Context) (types.Session, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return types.Session{}, types.ErrNotAuthenticated
	}
	gen := m.gen
	token := m.session.Token
	m.mu.Unlock()

	res, err := m.auth.Refresh(ctx, token)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.log.Debug("discarding refresh result for a replaced session")
		return types.Session{}, types.ErrSuperseded
	}
	if err != nil {
		stale := m.teardown(ctx)
		m.mu.Unlock()
		m.log.WithError(err).Warn("token refresh failed")
		m.notifyServer(ctx, stale)
		return types.Session{}, err
	}

	session := types.Session{
		Token:     res.Token,
		ExpiresAt: m.clock.Now().Add(m.ttl(res.ExpiresIn)),
		User:      m.session.User,
	}
	if res.User != nil {
		session.User = res.User
	}
	if err := m.store.Save(ctx, session); err != nil {
		// The server already rotated the token, so the old one is dead too.
		m.teardown(ctx)
		m.mu.Unlock()
		m.log.WithError(err).Warn("failed to persist refreshed session")
		m.notifyServer(ctx, session.Token)
		return types.Session{}, err
	}
	m.gen++
	m.apply(session)
	m.mu.Unlock()

	m.log.WithField("expires_at", session.ExpiresAt).Info("token refreshed")
	return copySession(session), nil
}

func (m *Manager) SessionInfo() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := SessionInfo{
		State:           m.state,
		IsAuthenticated: m.activeLocked(),
	}
	if m.session == nil {
		return info
	}
	if u := m.session.User; u != nil {
		c := *u
		info.User = &c
		info.IsAdmin = u.Role == "admin"
		info.IsApproved = u.Status == "approved"
	}
	if exp := m.session.ExpiresAt; !exp.IsZero() {
		left := exp.Sub(m.clock.Now())
		info.TokenExpiry = &exp
		info.TimeUntilExpiry = &left
	}
	return info
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Close stops pending timers without touching the stored session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimers()
}

func (m *Manager) activeLocked() bool {
	return m.session != nil && m.session.Active(m.clock.Now())
}

func (m *Manager) ttl(expiresIn int64) time.Duration {
	if expiresIn <= 0 {
		return m.config.DefaultTTL
	}
	return time.Duration(expiresIn) * time.Second
}

// apply installs session as the active one and schedules its timers for the
// current gen. Caller holds mu.
func (m *Manager) apply(session types.Session) {
	m.stopTimers()
	s := copySession(session)
	m.session = &s
	m.state = StateActive

	if session.ExpiresAt.IsZero() {
		return
	}
	gen := m.gen
	until := session.ExpiresAt.Sub(m.clock.Now())
	warnIn := until - m.config.WarnBefore
	if warnIn < 0 {
		warnIn = 0
	}
	m.warnTimer = m.clock.AfterFunc(warnIn, func() { m.onWarning(gen) })
	m.expiryTimer = m.clock.AfterFunc(until, func() { m.onExpiry(gen) })
}

// teardown clears local state and returns the token that was active so the
// caller can notify the server outside the lock. Caller holds mu.
func (m *Manager) teardown(ctx context.Context) string {
	m.stopTimers()
	m.gen++
	token := ""
	if m.session != nil {
		token = m.session.Token
	}
	m.session = nil
	m.state = StateLoggedOut
	if err := m.store.Clear(ctx); err != nil {
		m.log.WithError(err).Warn("failed to clear stored session")
	}
	return token
}

func (m *Manager) stopTimers() {
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
}

func (m *Manager) notifyServer(ctx context.Context, token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.LogoutTimeout)
	defer cancel()

	if err := m.auth.Logout(ctx, token); err != nil {
		m.log.WithError(err).Debug("server logout failed, ignoring")
	}
}

func (m *Manager) onWarning(gen uint64) {
	defer m.recoverCallback("warning")

	m.mu.Lock()
	if gen != m.gen || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.state = StateExpiringSoon
	m.mu.Unlock()

	m.notifier.SessionExpiring(m.SessionInfo())
}

func (m *Manager) onExpiry(gen uint64) {
	defer m.recoverCallback("expiry")
	ctx := context.Background()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.expiryTimer = nil
	token := m.teardown(ctx)
	m.mu.Unlock()

	m.log.Info("session expired")
	m.notifier.SessionExpired()
	m.notifyServer(ctx, token)
}

func (m *Manager) recoverCallback(name string) {
	if r := recover(); r != nil {
		m.log.WithField("timer", name).Errorf("session timer callback panicked: %v", r)
	}
}

func copySession(s types.Session) types.Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

func userID(u *types.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
