package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"gracelog/internal/audit"
	"gracelog/internal/session"
)

func TestAppWiring(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("HTTP_PORT", "0")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("SESSION_BUS", "memory")
	gin.SetMode(gin.TestMode)

	var (
		router *gin.Engine
		bus    session.Bus
		trail  *audit.Repository
	)
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Provide(newConfig, newLogger, newDB, newRedis, newSessionBus, newMetrics, newServices, newAuditRepo, newRouter, newServer),
		fx.Invoke(runAuditConsumer, registerHooks),
		fx.Populate(&router, &bus, &trail),
	)
	app.RequireStart()
	defer app.RequireStop()

	_, inMemory := bus.(*session.InMemory)
	assert.True(t, inMemory)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "redis")

	w = httptest.NewRecorder()
	body := strings.NewReader(`{"email":"pastor@church.test","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	// the in-process consumer records events published on the memory bus
	assert.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), session.Event{Type: session.SignedIn, UserID: "u-audit", At: time.Now()})
		entries, err := trail.ForUser(context.Background(), "u-audit", 1)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 20*time.Millisecond)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
