package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gracelog/internal/attendance"
	"gracelog/internal/audit"
	"gracelog/internal/auth"
	"gracelog/internal/httpapi"
	"gracelog/internal/member"
	"gracelog/internal/metrics"
	"gracelog/internal/session"
	"gracelog/internal/store/storetest"
)

// newServer starts the real API over an in-memory SQLite store and returns
// its URL, the server-side session bus and the audit trail.
func newServer(t *testing.T) (string, *session.InMemory, *audit.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := storetest.NewSQLite(t)
	m := metrics.New(prometheus.NewRegistry())
	bus := session.NewInMemory(16)
	trail := audit.NewRepository(db)

	authSvc := auth.NewService(auth.NewRepository(db), bus, auth.Options{
		Issuer: "gracelog", SigningKey: "test-key", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour,
	}, nil, m)
	h := httpapi.New(authSvc, member.NewService(member.NewRepository(db), m), attendance.NewService(attendance.NewRepository(db), m), bus, trail, nil)
	router := httpapi.NewRouter(h, httpapi.RouterOptions{
		SigningKey:      "test-key",
		Issuer:          "gracelog",
		RateLimitPerMin: 1000,
		CORSOrigins:     []string{"*"},
		Metrics:         m,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL, bus, trail
}

func signedIn(t *testing.T, url, email string, bus session.Bus) *Client {
	t.Helper()
	ctx := context.Background()
	c := New(url, bus, nil)
	_, err := c.SignUp(ctx, email, "hunter22")
	require.NoError(t, err)
	_, err = c.SignIn(ctx, email, "hunter22")
	require.NoError(t, err)
	return c
}

func next(t *testing.T, ch <-chan session.Event) session.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
		return session.Event{}
	}
}

func TestSignInPublishesLocally(t *testing.T) {
	url, _, _ := newServer(t)
	local := session.NewInMemory(8)
	events, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	c := signedIn(t, url, "pastor@church.test", local)

	evt := next(t, events)
	assert.Equal(t, session.SignedIn, evt.Type)
	require.NotNil(t, evt.Session)
	assert.Equal(t, "pastor@church.test", evt.Session.User.Email)
	assert.Equal(t, c.Session().User.ID, evt.UserID)
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	url, _, _ := newServer(t)
	ctx := context.Background()
	c := New(url, nil, nil)

	_, err := c.SignIn(ctx, "nobody@church.test", "whatever")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid login credentials", err.Error())
	assert.Nil(t, c.Session())

	_, err = c.SignUp(ctx, "kim@church.test", "hunter22")
	require.NoError(t, err)
	_, err = c.SignUp(ctx, "kim@church.test", "hunter22")
	assert.EqualError(t, err, "user already registered")
}

func TestCallsWithoutSession(t *testing.T) {
	url, _, _ := newServer(t)
	c := New(url, nil, nil)

	_, err := c.ListMembers(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrNotSignedIn)
	assert.NoError(t, c.SignOut(context.Background()))
}

func TestMembersAndAttendance(t *testing.T) {
	url, _, _ := newServer(t)
	ctx := context.Background()
	c := signedIn(t, url, "pastor@church.test", nil)
	date := attendance.Date{Year: 2024, Month: time.March, Day: 10}

	_, err := c.AddMember(ctx, "  ", "kim@x.com")
	assert.EqualError(t, err, member.ErrBlankField.Error())

	kim, err := c.AddMember(ctx, "Kim", "kim@x.com")
	require.NoError(t, err)
	lee, err := c.AddMember(ctx, "Lee", "lee@x.com")
	require.NoError(t, err)

	members, err := c.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)

	st, err := c.MemberAttendance(ctx, kim.ID, date)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusUnknown, st)

	rec, err := c.ToggleAttendance(ctx, kim.ID, date)
	require.NoError(t, err)
	assert.True(t, rec.Present)
	assert.Equal(t, date, rec.Date)

	_, err = c.ToggleAttendance(ctx, lee.ID, date)
	require.NoError(t, err)
	_, err = c.ToggleAttendance(ctx, lee.ID, date)
	require.NoError(t, err)

	statuses, err := c.Attendance(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, map[string]attendance.Status{
		kim.ID: attendance.StatusPresent,
		lee.ID: attendance.StatusAbsent,
	}, statuses)

	empty, err := c.Attendance(ctx, date.AddDays(1))
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	require.NoError(t, c.DeleteMember(ctx, kim.ID))
	err = c.DeleteMember(ctx, kim.ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestAccessTokenRefreshedNearExpiry(t *testing.T) {
	url, _, _ := newServer(t)
	local := session.NewInMemory(8)
	c := signedIn(t, url, "pastor@church.test", local)
	before := c.Session()

	events, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	c.now = func() time.Time { return before.ExpiresAt.Add(-30 * time.Second) }
	_, err = c.ListMembers(context.Background())
	require.NoError(t, err)

	after := c.Session()
	require.NotNil(t, after)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, session.TokenRefreshed, next(t, events).Type)
}

func TestConcurrentCallsShareOneRefresh(t *testing.T) {
	url, _, _ := newServer(t)
	local := session.NewInMemory(16)
	c := signedIn(t, url, "pastor@church.test", local)
	before := c.Session()

	events, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	c.now = func() time.Time { return before.ExpiresAt.Add(-30 * time.Second) }

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ListMembers(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	after := c.Session()
	require.NotNil(t, after)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)

drain:
	for {
		select {
		case evt := <-events:
			assert.NotEqual(t, session.SignedOut, evt.Type)
		default:
			break drain
		}
	}
}

func TestStaleRefreshRejectionKeepsNewerSession(t *testing.T) {
	url, _, _ := newServer(t)
	c := signedIn(t, url, "pastor@church.test", nil)
	stale := c.Session().RefreshToken

	require.NoError(t, c.Refresh(context.Background()))
	current := c.Session()

	// a caller still holding the spent token must neither refresh nor sign out
	require.NoError(t, c.refresh(context.Background(), stale))
	assert.Equal(t, current, c.Session())

	c.clearSessionIf(context.Background(), stale)
	assert.Equal(t, current, c.Session())
}

func TestRejectedRefreshEndsSession(t *testing.T) {
	url, _, _ := newServer(t)
	local := session.NewInMemory(8)
	c := signedIn(t, url, "pastor@church.test", local)
	stale := c.Session()

	require.NoError(t, c.Refresh(context.Background()))

	events, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	// the rotated-out refresh token can no longer be used
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	c.Restore(stale)
	_, err = c.ListMembers(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Nil(t, c.Session())

	evt := next(t, events)
	assert.Equal(t, session.SignedOut, evt.Type)
	assert.Equal(t, stale.User.ID, evt.UserID)
}

func TestSignOutAlwaysClearsLocally(t *testing.T) {
	url, _, _ := newServer(t)
	local := session.NewInMemory(8)
	c := signedIn(t, url, "pastor@church.test", local)

	events, unsubscribe, err := local.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, c.Session())
	assert.Equal(t, session.SignedOut, next(t, events).Type)

	// a dead server still leaves the client signed out
	c.Restore(&session.Session{AccessToken: "x", RefreshToken: "y", ExpiresAt: time.Now().Add(time.Hour), User: session.User{ID: "u1"}})
	c.BaseURL = "http://127.0.0.1:1"
	assert.Error(t, c.SignOut(context.Background()))
	assert.Nil(t, c.Session())
}

func TestWatchSessionFollowsRemoteSignOut(t *testing.T) {
	url, serverBus, _ := newServer(t)
	local := session.NewInMemory(8)
	c := signedIn(t, url, "pastor@church.test", local)
	userID := c.Session().User.ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.WatchSession(ctx) }()

	// keep announcing until the stream has subscribed and reacted
	require.Eventually(t, func() bool {
		_ = serverBus.Publish(ctx, session.Event{Type: session.SignedOut, UserID: userID, At: time.Now()})
		return c.Session() == nil
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
}

func TestWatchSessionRequiresSession(t *testing.T) {
	c := New("http://127.0.0.1:1", nil, nil)
	err := c.WatchSession(context.Background())
	assert.True(t, errors.Is(err, ErrNotSignedIn))
}

func TestSessionHistory(t *testing.T) {
	url, _, trail := newServer(t)
	ctx := context.Background()
	c := signedIn(t, url, "pastor@church.test", nil)
	userID := c.Session().User.ID

	history, err := c.SessionHistory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err = trail.Record(ctx, session.Event{Type: session.SignedIn, UserID: userID, At: at})
	require.NoError(t, err)
	_, err = trail.Record(ctx, session.Event{Type: session.SignedOut, UserID: userID, At: at.Add(time.Hour)})
	require.NoError(t, err)

	history, err = c.SessionHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.SignedOut, history[0].Event)

	history, err = c.SessionHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHealth(t *testing.T) {
	url, _, _ := newServer(t)
	assert.NoError(t, New(url, nil, nil).Health(context.Background()))
	assert.Error(t, New("http://127.0.0.1:1", nil, nil).Health(context.Background()))
}
