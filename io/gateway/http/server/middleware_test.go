package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicIsRecoveredAndLogged(t *testing.T) {
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() { log.SetLevel(level) })
	hook := test.NewGlobal()
	t.Cleanup(hook.Reset)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logFormatter{}), middleware.Recoverer)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var panicked bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.ErrorLevel {
			panicked = true
			assert.Contains(t, e.Message, "panic: boom")
			assert.Equal(t, "/boom", e.Data["path"])
		}
	}
	assert.True(t, panicked)

	hook.Reset()
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "request served", last.Message)
	assert.Equal(t, http.StatusTeapot, last.Data["status"])
}
