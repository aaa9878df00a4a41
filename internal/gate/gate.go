// Package gate decides whether the user sees the login screen or the
// dashboard, following session events as they arrive.
package gate

import (
	"context"
	"fmt"
	"sync"

	"gracelog/internal/session"
)

// View is the screen the gate currently shows.
type View int

const (
	ViewLogin View = iota
	ViewDashboard
)

func (v View) String() string {
	switch v {
	case ViewLogin:
		return "login"
	case ViewDashboard:
		return "dashboard"
	default:
		return fmt.Sprintf("View(%d)", int(v))
	}
}

// Gate holds the current session and re-evaluates the view on every event.
type Gate struct {
	mu       sync.Mutex
	sess     *session.Session
	handlers []func(View)

	unsubscribe func()
	done        chan struct{}
}

// New subscribes to bus and starts from initial, which may be nil.
func New(ctx context.Context, bus session.Bus, initial *session.Session) (*Gate, error) {
	events, unsubscribe, err := bus.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to session events: %w", err)
	}
	g := &Gate{
		sess:        copySession(initial),
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	go g.run(events)
	return g, nil
}

func (g *Gate) run(events <-chan session.Event) {
	defer close(g.done)
	for evt := range events {
		if !g.apply(evt) {
			continue
		}
		view := g.View()
		g.mu.Lock()
		handlers := append([]func(View){}, g.handlers...)
		g.mu.Unlock()
		for _, fn := range handlers {
			fn(view)
		}
	}
}

// apply folds evt into the current session and reports whether it changed anything.
func (g *Gate) apply(evt session.Event) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch evt.Type {
	case session.SignedIn, session.TokenRefreshed:
		// remote events carry no credentials
		if evt.Session == nil {
			return false
		}
		g.sess = copySession(evt.Session)
		return true
	case session.SignedOut:
		if g.sess == nil {
			return false
		}
		if evt.UserID != "" && evt.UserID != g.sess.User.ID {
			return false
		}
		g.sess = nil
		return true
	default:
		return false
	}
}

// View returns ViewDashboard while a session is held, ViewLogin otherwise.
func (g *Gate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return ViewLogin
	}
	return ViewDashboard
}

// Session returns a copy of the held session, or nil.
func (g *Gate) Session() *session.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copySession(g.sess)
}

// OnChange registers fn to run with the new view after every applied event.
func (g *Gate) OnChange(fn func(View)) {
	g.mu.Lock()
	g.handlers = append(g.handlers, fn)
	g.mu.Unlock()
}

// Close unsubscribes and waits for pending handlers to finish.
func (g *Gate) Close() {
	g.unsubscribe()
	<-g.done
}

func copySession(s *session.Session) *session.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
