package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) LookupEnv {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load(nil, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), conf)
	assert.Equal(t, 300*time.Minute, conf.JWTExpiry)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endorser.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":7000\"\nagent_url: http://file:9031\nadmin_user: file-admin\njwt_expiry: 10m\n"), 0o600))

	conf, err := Load(
		[]string{"--config", path, "--addr", ":8000"},
		envOf(map[string]string{
			"ENDORSER_ADDR":                   ":6000",
			"ACAPY_ADMIN_URL":                 "http://env:9031",
			"ACAPY_API_ADMIN_KEY":             "env-key",
			"JWT_ACCESS_TOKEN_EXPIRE_MINUTES": "60",
		}),
	)
	require.NoError(t, err)

	// flag beats file beats env beats default
	assert.Equal(t, ":8000", conf.Addr)
	assert.Equal(t, "http://file:9031", conf.AgentURL)
	assert.Equal(t, "file-admin", conf.AdminUser)
	assert.Equal(t, 10*time.Minute, conf.JWTExpiry)
	assert.Equal(t, "env-key", conf.AgentAPIKey)
	assert.Equal(t, "./data/badger", conf.DBPath)
}

func TestLoad_UnsetFlagsDoNotOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endorser.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nlog_json: true\n"), 0o600))

	conf, err := Load([]string{"--config", path}, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.True(t, conf.LogJSON)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(nil, envOf(map[string]string{"JWT_ACCESS_TOKEN_EXPIRE_MINUTES": "soon"}))
	assert.Error(t, err)

	_, err = Load([]string{"--jwt-algorithm", "RS256"}, envOf(nil))
	assert.Error(t, err)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, envOf(nil))
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"}, envOf(nil))
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	conf := Default()
	conf.LogLevel = "debug"
	require.NoError(t, conf.SetupLogging())
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	conf.LogLevel = "chatty"
	assert.Error(t, conf.SetupLogging())
}
