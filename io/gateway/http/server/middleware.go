package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// tokenIssuer signs and verifies admin bearer tokens.
type tokenIssuer struct {
	method jwt.SigningMethod
	secret []byte
	expiry time.Duration
}

func newTokenIssuer(alg string, secret []byte, expiry time.Duration) (*tokenIssuer, error) {
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, errors.Errorf("unsupported jwt algorithm %q", alg)
	}
	return &tokenIssuer{method: method, secret: secret, expiry: expiry}, nil
}

func (t *tokenIssuer) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
	}
	return jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
}

func (t *tokenIssuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{t.method.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// bearer rejects admin requests without a valid token.
func (s *Server) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if _, err := s.tokens.Verify(strings.TrimSpace(raw)); err != nil {
			log.Debugf("rejected admin token: %v", err)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// webhookKey rejects webhook deliveries without the configured api key. An empty
// key disables the check.
func (s *Server) webhookKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.Config.WebhookAPIKey
		if want != "" && !equal(r.Header.Get("x-api-key"), want) {
			writeDetail(w, http.StatusForbidden, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// logFormatter feeds chi's request logger and recoverer into logrus.
type logFormatter struct{}

func (logFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &logEntry{fields: log.Fields{"method": r.Method, "path": r.URL.Path}}
}

type logEntry struct {
	fields log.Fields
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	log.WithFields(e.fields).WithFields(log.Fields{
		"status":   status,
		"bytes":    bytes,
		"duration": elapsed.String(),
	}).Debug("request served")
}

func (e *logEntry) Panic(v interface{}, stack []byte) {
	log.WithFields(e.fields).Errorf("panic: %v\n%s", v, stack)
}
