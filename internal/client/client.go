// Package client is a typed HTTP client for the GraceLog API. It owns the
// signed-in session and announces every session change on a local bus.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gracelog/internal/attendance"
	"gracelog/internal/audit"
	"gracelog/internal/member"
	"gracelog/internal/session"
)

// ErrNotSignedIn is returned by calls that need a session when there is none.
var ErrNotSignedIn = errors.New("not signed in")

// refreshSkew is how close to expiry an access token may get before it is refreshed.
const refreshSkew = time.Minute

// APIError is a non-2xx response. Error returns the server's message verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Client calls the GraceLog API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Stream serves long-lived requests and must not carry a timeout.
	Stream *http.Client

	bus session.Bus
	log *zap.Logger
	now func() time.Time

	mu   sync.Mutex
	sess *session.Session

	// refreshes are keyed by the refresh token being spent
	refreshes singleflight.Group
}

// New creates a client. bus may be nil when nobody listens for session changes.
func New(baseURL string, bus session.Bus, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Stream:  &http.Client{},
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	return &s
}

// Restore installs a previously saved session without announcing it.
func (c *Client) Restore(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil {
		c.sess = nil
		return
	}
	cp := *s
	c.sess = &cp
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

// ---------- Auth ----------

// SignUp creates an account. It does not sign in.
func (c *Client) SignUp(ctx context.Context, email, password string) (session.User, error) {
	var out struct {
		User session.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": email, "password": password}, &out)
	return out.User, err
}

// SignIn establishes a session and publishes signed_in.
func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	var sess session.Session
	if err := c.do(ctx, http.MethodPost, "/v1/auth/signin", "", map[string]string{"email": email, "password": password}, &sess); err != nil {
		return nil, err
	}
	c.setSession(ctx, session.SignedIn, &sess)
	return c.Session(), nil
}

// Refresh trades the refresh token for a new session and publishes token_refreshed.
// A rejected refresh token ends the session locally.
func (c *Client) Refresh(ctx context.Context) error {
	cur := c.Session()
	if cur == nil {
		return ErrNotSignedIn
	}
	return c.refresh(ctx, cur.RefreshToken)
}

// refresh spends token at most once. Concurrent callers holding the same
// token share one request, and a caller whose token was already rotated by
// someone else returns without calling the server.
func (c *Client) refresh(ctx context.Context, token string) error {
	_, err, _ := c.refreshes.Do(token, func() (any, error) {
		cur := c.Session()
		if cur == nil {
			return nil, ErrNotSignedIn
		}
		if cur.RefreshToken != token {
			return nil, nil
		}
		var sess session.Session
		err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": token}, &sess)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
				c.clearSessionIf(ctx, token)
			}
			return nil, err
		}
		c.setSession(ctx, session.TokenRefreshed, &sess)
		return nil, nil
	})
	return err
}

// SignOut revokes the session server side and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Session() == nil {
		return nil
	}
	err := c.authed(ctx, http.MethodPost, "/v1/auth/signout", nil, nil)
	c.clearSession(ctx)
	if errors.Is(err, ErrNotSignedIn) {
		return nil
	}
	return err
}

func (c *Client) setSession(ctx context.Context, typ session.EventType, s *session.Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	c.publish(ctx, session.Event{Type: typ, UserID: s.User.ID, Email: s.User.Email, At: c.now().UTC(), Session: c.Session()})
}

func (c *Client) clearSession(ctx context.Context) {
	c.clearSessionIf(ctx, "")
}

// clearSessionIf drops the session unless refreshToken is set and the held
// session no longer carries it.
func (c *Client) clearSessionIf(ctx context.Context, refreshToken string) {
	c.mu.Lock()
	prev := c.sess
	if prev == nil || (refreshToken != "" && prev.RefreshToken != refreshToken) {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.mu.Unlock()
	c.publish(ctx, session.Event{Type: session.SignedOut, UserID: prev.User.ID, Email: prev.User.Email, At: c.now().UTC()})
}

func (c *Client) publish(ctx context.Context, evt session.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		c.log.Warn("local session event dropped", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

// SessionHistory returns the signed-in user's recorded session events,
// newest first. limit <= 0 uses the server default.
func (c *Client) SessionHistory(ctx context.Context, limit int) ([]audit.Entry, error) {
	path := "/v1/session/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := c.authed(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ---------- Members ----------

// ListMembers returns the signed-in user's members, newest first.
func (c *Client) ListMembers(ctx context.Context) ([]member.Member, error) {
	var out struct {
		Members []member.Member `json:"members"`
	}
	if err := c.authed(ctx, http.MethodGet, "/v1/members", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) AddMember(ctx context.Context, name, email string) (member.Member, error) {
	var out struct {
		Member member.Member `json:"member"`
	}
	err := c.authed(ctx, http.MethodPost, "/v1/members", map[string]string{"name": name, "email": email}, &out)
	return out.Member, err
}

func (c *Client) DeleteMember(ctx context.Context, id string) error {
	return c.authed(ctx, http.MethodDelete, "/v1/members/"+url.PathEscape(id), nil, nil)
}

// ---------- Attendance ----------

// MemberAttendance returns one member's status on date.
func (c *Client) MemberAttendance(ctx context.Context, memberID string, date attendance.Date) (attendance.Status, error) {
	var out struct {
		Status attendance.Status `json:"status"`
	}
	path := "/v1/members/" + url.PathEscape(memberID) + "/attendance?date=" + date.String()
	if err := c.authed(ctx, http.MethodGet, path, nil, &out); err != nil {
		return attendance.StatusUnknown, err
	}
	return out.Status, nil
}

// Attendance returns every recorded status on date keyed by member id.
func (c *Client) Attendance(ctx context.Context, date attendance.Date) (map[string]attendance.Status, error) {
	var out struct {
		Statuses map[string]attendance.Status `json:"statuses"`
	}
	if err := c.authed(ctx, http.MethodGet, "/v1/attendance?date="+date.String(), nil, &out); err != nil {
		return nil, err
	}
	if out.Statuses == nil {
		out.Statuses = map[string]attendance.Status{}
	}
	return out.Statuses, nil
}

func (c *Client) ToggleAttendance(ctx context.Context, memberID string, date attendance.Date) (attendance.Record, error) {
	var out struct {
		Record attendance.Record `json:"record"`
	}
	path := "/v1/members/" + url.PathEscape(memberID) + "/attendance/toggle"
	err := c.authed(ctx, http.MethodPost, path, map[string]string{"date": date.String()}, &out)
	return out.Record, err
}

// ---------- Transport ----------

// accessToken returns a usable access token, refreshing it first when it is
// about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	cur := c.Session()
	if cur == nil {
		return "", ErrNotSignedIn
	}
	if cur.Expired(c.now(), refreshSkew) {
		if err := c.refresh(ctx, cur.RefreshToken); err != nil {
			return "", err
		}
		cur = c.Session()
		if cur == nil {
			return "", ErrNotSignedIn
		}
	}
	return cur.AccessToken, nil
}

func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, body, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
