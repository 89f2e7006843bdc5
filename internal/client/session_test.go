package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/rryowa/vidauth/internal/api"
	"github.com/rryowa/vidauth/internal/controller"
	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/password"
	"github.com/rryowa/vidauth/internal/service"
	"github.com/rryowa/vidauth/internal/storage/memory"
	"github.com/rryowa/vidauth/internal/util"
)

const (
	forceUnauthorizedHeader = "X-Force-Unauthorized"
	holdResponseHeader      = "X-Hold-Response"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorded struct {
	method string
	path   string
	header http.Header
	body   string
}

// recordingTransport logs every request the client sends. It can hold the
// refresh call, or the response to a request marked with holdResponseHeader,
// until a test is ready for it.
type recordingTransport struct {
	next http.RoundTripper

	mu            sync.Mutex
	records       []recorded
	beforeRefresh func()
	afterResponse func(*http.Response)
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := recorded{
		method: req.Method,
		path:   strings.TrimPrefix(req.URL.Path, models.APIBasePath),
		header: req.Header.Clone(),
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		rec.body = string(data)
	}

	rt.mu.Lock()
	rt.records = append(rt.records, rec)
	hook := rt.beforeRefresh
	hold := rt.afterResponse
	rt.mu.Unlock()

	if rec.path == models.RefreshTokenPath && hook != nil {
		hook()
	}
	if req.Header.Get(forceUnauthorizedHeader) != "" {
		return &http.Response{
			Status:     "401 Unauthorized",
			StatusCode: http.StatusUnauthorized,
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"statusCode":401,"data":null,"message":"unauthorized","success":false}`)),
			Request:    req,
		}, nil
	}
	resp, err := rt.next.RoundTrip(req)
	if err == nil && hold != nil && req.Header.Get(holdResponseHeader) != "" {
		hold(resp)
	}
	return resp, err
}

func (rt *recordingTransport) onRefresh(hook func()) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.beforeRefresh = hook
}

func (rt *recordingTransport) onHeldResponse(hook func(*http.Response)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.afterResponse = hook
}

func (rt *recordingTransport) sent(path string) []recorded {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []recorded
	for _, rec := range rt.records {
		if rec.path == path {
			out = append(out, rec)
		}
	}
	return out
}

type fixture struct {
	server    *httptest.Server
	clock     *testClock
	repo      *memory.InMemoryIdentityManager
	transport *recordingTransport
	client    *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCookies(t, &util.CookieConfig{SameSite: http.SameSiteLaxMode})
}

func newFixtureWithCookies(t *testing.T, cookies *util.CookieConfig) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	clock := &testClock{now: time.Now().UTC()}
	repo := memory.NewIdentityRepository(log)

	tokens := service.NewTokenService(&util.TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    240 * time.Hour,
	}, service.WithClock(clock.Now))
	authService := service.NewAuthService(tokens, password.NewHasher(bcrypt.MinCost), repo, nil, log)
	ctrl := controller.NewController(log, authService, cookies)

	a, err := api.NewAPI(ctrl, authService, log, &util.ServerConfig{})
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	transport := &recordingTransport{next: srv.Client().Transport}
	c := New(&util.ClientConfig{
		ServerURL:      srv.URL + models.APIBasePath,
		RefreshTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
	}, WithTransport(transport), WithLogger(log))

	_, err = c.Register(context.Background(), models.RegisterRequest{
		Handle: "alice", Contact: "alice@example.com", DisplayName: "Alice", Password: "wonderland",
	})
	require.NoError(t, err)

	return &fixture{server: srv, clock: clock, repo: repo, transport: transport, client: c}
}

func (f *fixture) login(t *testing.T) *Session {
	t.Helper()
	s, err := f.client.Login(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	return s
}

// holdRefreshUntilQueued delays the refresh call until n callers wait on the
// session's Coordinator.
func (f *fixture) holdRefreshUntilQueued(t *testing.T, s *Session, n int) {
	f.transport.onRefresh(func() {
		assert.Eventually(t, func() bool { return queued(s.coord) == n }, 2*time.Second, time.Millisecond)
	})
}

func currentUserConcurrently(s *Session, n int) []error {
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, errs[i] = s.CurrentUser(context.Background())
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func TestSession_LoginAndProtectedCall(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	assert.Equal(t, "alice", s.User().Handle)

	profile, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", profile.Contact)
	assert.Empty(t, f.transport.sent(models.RefreshTokenPath))
}

func TestSession_DefaultCookieConfigOverPlainHTTP(t *testing.T) {
	t.Setenv("COOKIE_SECURE", "")
	t.Setenv("COOKIE_SAMESITE", "")
	f := newFixtureWithCookies(t, util.NewCookieConfig())
	s := f.login(t)

	profile, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Handle)
	assert.Empty(t, f.transport.sent(models.RefreshTokenPath))

	f.clock.Advance(16 * time.Minute)
	_, err = s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1)
}

func TestSession_ExpiredAccessTokenIsRefreshedAndReplayed(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)

	f.clock.Advance(16 * time.Minute)

	profile, err := s.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Handle)

	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1)
	assert.Len(t, f.transport.sent("/users/current-user"), 2)
}

func TestSession_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	f.holdRefreshUntilQueued(t, s, 2)

	f.clock.Advance(16 * time.Minute)

	for _, err := range currentUserConcurrently(s, 2) {
		assert.NoError(t, err)
	}
	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1)
	assert.Len(t, f.transport.sent("/users/current-user"), 4)
}

func TestSession_ExpiredRefreshTokenFailsEveryone(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	f.holdRefreshUntilQueued(t, s, 2)

	f.clock.Advance(241 * time.Hour)

	for _, err := range currentUserConcurrently(s, 2) {
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.ErrorIs(t, err, ErrRefreshRejected)
	}
	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1)
	assert.Len(t, f.transport.sent("/users/current-user"), 2, "no replay after a failed refresh")
}

func TestSession_RotatedRefreshTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)

	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	var stale string
	for _, c := range s.http.Jar.Cookies(u) {
		if c.Name == models.RefreshTokenCookie {
			stale = c.Value
		}
	}
	require.NotEmpty(t, stale)

	f.clock.Advance(16 * time.Minute)
	_, err = s.CurrentUser(context.Background())
	require.NoError(t, err)

	s.http.Jar.SetCookies(u, []*http.Cookie{{Name: models.RefreshTokenCookie, Value: stale, Path: "/"}})
	f.clock.Advance(16 * time.Minute)

	_, err = s.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 2)
}

func TestSession_ReplayIsIdentical(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	f.clock.Advance(16 * time.Minute)

	req, err := s.NewRequest(context.Background(), http.MethodPatch, "/users/update-account",
		models.UpdateAccountRequest{DisplayName: "Alice L."})
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-42")

	resp, err := s.Do(req)
	require.NoError(t, err)
	var profile models.Profile
	require.NoError(t, decodeResponse(resp, &profile))
	assert.Equal(t, "Alice L.", profile.DisplayName)

	sent := f.transport.sent("/users/update-account")
	require.Len(t, sent, 2)
	first, replay := sent[0], sent[1]
	assert.Equal(t, first.method, replay.method)
	assert.Equal(t, first.body, replay.body)
	assert.JSONEq(t, `{"displayName":"Alice L.","contact":""}`, replay.body)
	assert.Equal(t, "req-42", replay.header.Get("X-Request-Id"))
	assert.Equal(t, first.header.Get("Content-Type"), replay.header.Get("Content-Type"))
	assert.NotEqual(t, first.header.Get("Cookie"), replay.header.Get("Cookie"))
	assert.Equal(t, 1, strings.Count(replay.header.Get("Cookie"), models.AccessTokenCookie+"="))
}

func TestSession_ReplayIsNotRefreshedAgain(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)

	req, err := s.NewRequest(context.Background(), http.MethodGet, "/users/current-user", nil)
	require.NoError(t, err)
	req.Header.Set(forceUnauthorizedHeader, "1")

	resp, err := s.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1)
	assert.Len(t, f.transport.sent("/users/current-user"), 2)
}

func TestSession_LateUnauthorizedReusesSettledRefresh(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	f.clock.Advance(16 * time.Minute)

	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.transport.onHeldResponse(func(resp *http.Response) {
		if resp.StatusCode != http.StatusUnauthorized {
			return
		}
		once.Do(func() { close(arrived) })
		<-release
	})

	req, err := s.NewRequest(context.Background(), http.MethodGet, "/users/current-user", nil)
	require.NoError(t, err)
	req.Header.Set(holdResponseHeader, "1")

	late := make(chan error, 1)
	go func() {
		resp, err := s.Do(req)
		if err == nil {
			err = decodeResponse(resp, nil)
		}
		late <- err
	}()
	<-arrived

	_, err = s.CurrentUser(context.Background())
	require.NoError(t, err)
	require.Len(t, f.transport.sent(models.RefreshTokenPath), 1)

	close(release)
	require.NoError(t, <-late)

	assert.Len(t, f.transport.sent(models.RefreshTokenPath), 1, "the late 401 joins the settled flight")
	assert.Len(t, f.transport.sent("/users/current-user"), 4)
}

func TestSession_LoginPathDoesNotTriggerRefresh(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)

	req, err := s.NewRequest(context.Background(), http.MethodPost, models.LoginPath,
		models.LoginRequest{Login: "alice", Password: "wrong"})
	require.NoError(t, err)

	resp, err := s.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.transport.sent(models.RefreshTokenPath))
}

func TestSession_LogoutDuringRefresh(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)

	arrived := make(chan struct{})
	release := make(chan struct{})
	f.transport.onRefresh(func() {
		close(arrived)
		<-release
	})
	f.clock.Advance(16 * time.Minute)

	pending := make(chan error, 1)
	go func() {
		_, err := s.CurrentUser(context.Background())
		pending <- err
	}()
	<-arrived

	loggedOut := make(chan error, 1)
	go func() { loggedOut <- s.Logout(context.Background()) }()
	require.Eventually(t, func() bool {
		s.coord.mu.Lock()
		defer s.coord.mu.Unlock()
		return s.coord.closed
	}, time.Second, time.Millisecond)

	f.transport.onRefresh(nil)
	close(release)

	assert.ErrorIs(t, <-pending, ErrSessionClosed)
	require.NoError(t, <-loggedOut)

	_, err := s.CurrentUser(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	identity, err := f.repo.GetIdentityByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, identity.RefreshToken, "logout clears the token minted by the late refresh")
}

func TestClient_LoginFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Login(context.Background(), "alice", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestSession_ChangePasswordAndUpdateAccount(t *testing.T) {
	f := newFixture(t)
	s := f.login(t)
	ctx := context.Background()

	err := s.ChangePassword(ctx, "wrong", "looking-glass")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Empty(t, f.transport.sent(models.RefreshTokenPath))

	require.NoError(t, s.ChangePassword(ctx, "wonderland", "looking-glass"))

	profile, err := s.UpdateAccount(ctx, models.UpdateAccountRequest{Contact: "alice@looking.glass"})
	require.NoError(t, err)
	assert.Equal(t, "alice@looking.glass", profile.Contact)

	_, err = f.client.Login(ctx, "alice@looking.glass", "looking-glass")
	assert.NoError(t, err)
}
