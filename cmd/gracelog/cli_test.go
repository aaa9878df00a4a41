package main

import (
	"bytes"
	"context"
	"os"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gracelog/internal/attendance"
	"gracelog/internal/audit"
	"gracelog/internal/auth"
	"gracelog/internal/httpapi"
	"gracelog/internal/member"
	"gracelog/internal/metrics"
	"gracelog/internal/session"
	"gracelog/internal/store/storetest"
)

type cli struct {
	api         string
	sessionPath string
}

// startAudit runs the audit consumer against bus and returns once it is
// recording events.
func startAudit(t *testing.T, bus session.Bus, trail *audit.Repository) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = audit.Consume(ctx, bus, trail, zap.NewNop()) }()
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, session.Event{Type: session.SignedIn, UserID: "warmup", At: time.Now()})
		entries, err := trail.ForUser(ctx, "warmup", 1)
		return err == nil && len(entries) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func newCLI(t *testing.T) cli {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := storetest.NewSQLite(t)
	m := metrics.New(prometheus.NewRegistry())
	bus := session.NewInMemory(16)
	authSvc := auth.NewService(auth.NewRepository(db), bus, auth.Options{
		Issuer: "gracelog", SigningKey: "test-key", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour,
	}, nil, m)
	trail := audit.NewRepository(db)
	startAudit(t, bus, trail)
	h := httpapi.New(authSvc, member.NewService(member.NewRepository(db), m), attendance.NewService(attendance.NewRepository(db), m), bus, trail, nil)
	srv := httptest.NewServer(httpapi.NewRouter(h, httpapi.RouterOptions{
		SigningKey: "test-key", Issuer: "gracelog", RateLimitPerMin: 1000, Metrics: m,
	}))
	t.Cleanup(srv.Close)
	return cli{api: srv.URL, sessionPath: filepath.Join(t.TempDir(), "session.yaml")}
}

// run executes one invocation the way main does and returns stdout.
func (c cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--api", c.api, "--session-file", c.sessionPath}, args...))
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return out.String(), err
}

var uuidRe = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestCLIWorkflow(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "", "members")
	assert.ErrorIs(t, err, errSignedOut)

	out, err := c.run(t, "hunter22\n", "signup", "pastor@church.test")
	require.NoError(t, err)
	assert.Contains(t, out, "Account created")

	_, err = c.run(t, "", "signin", "pastor@church.test", "--password", "wrong")
	assert.EqualError(t, err, "invalid login credentials")

	out, err = c.run(t, "", "signin", "pastor@church.test", "-p", "hunter22")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as pastor@church.test")

	out, err = c.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "pastor@church.test")

	out, err = c.run(t, "", "members", "add", "Kim", "kim@x.com", "--date", "2024-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Kim")
	assert.Contains(t, out, "unknown")
	id := uuidRe.FindString(out)
	require.NotEmpty(t, id)

	out, err = c.run(t, "", "members", "add", " ", "lee@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Kim")
	assert.NotContains(t, out, "No members yet")

	out, err = c.run(t, "", "attendance", "toggle", id, "--date", "2024-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Kim is present on 2024-03-10")

	out, err = c.run(t, "", "attendance", "status", id, "--date", "2024-03-10")
	require.NoError(t, err)
	assert.Contains(t, out, id+" on 2024-03-10: present")

	out, err = c.run(t, "", "attendance", "show", "--date", "2024-03-11")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown")

	_, err = c.run(t, "", "attendance", "show", "--date", "March 10")
	assert.ErrorIs(t, err, attendance.ErrInvalidDate)

	out, err = c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")
	assert.Contains(t, out, "Signed in as pastor@church.test")

	require.Eventually(t, func() bool {
		out, err := c.run(t, "", "history")
		return err == nil && strings.Contains(out, "signed_in")
	}, 2*time.Second, 20*time.Millisecond)

	out, err = c.run(t, "", "members", "rm", id)
	require.NoError(t, err)
	assert.Contains(t, out, "No members yet")

	out, err = c.run(t, "", "signout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")

	_, err = c.run(t, "", "whoami")
	assert.ErrorIs(t, err, errSignedOut)
}

func TestUnchangedSessionIsNotWrittenBack(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "hunter22\n", "signup", "pastor@church.test")
	require.NoError(t, err)
	_, err = c.run(t, "", "signin", "pastor@church.test", "-p", "hunter22")
	require.NoError(t, err)

	root, a := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--api", c.api, "--session-file", c.sessionPath, "whoami"})
	require.NoError(t, root.Execute())

	// another invocation rotates the session while this one is still running
	_, err = c.run(t, "", "signin", "pastor@church.test", "-p", "hunter22")
	require.NoError(t, err)
	newer, err := os.ReadFile(c.sessionPath)
	require.NoError(t, err)

	require.NoError(t, a.close())
	after, err := os.ReadFile(c.sessionPath)
	require.NoError(t, err)
	assert.Equal(t, string(newer), string(after))
}
