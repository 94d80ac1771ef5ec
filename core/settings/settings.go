// Package settings resolves the endorser's runtime tunables.
//
// A setting's effective value comes from, in order: a stored override, the process
// environment, the compiled-in default. Resolved values are cached and the cache
// entry is dropped whenever an override is written.
package settings

import (
	stdErrors "errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/ledger"
	"github.com/vadiminshakov/endorser/io/store"
)

const (
	AutoAcceptConnections = "ENDORSER_AUTO_ACCEPT_CONNECTIONS"
	AutoAcceptAuthors     = "ENDORSER_AUTO_ACCEPT_AUTHORS"
	AutoEndorseRequests   = "ENDORSER_AUTO_ENDORSE_REQUESTS"
	AutoEndorseTxnTypes   = "ENDORSER_AUTO_ENDORSE_TXN_TYPES"
	RejectByDefault       = "ENDORSER_REJECT_BY_DEFAULT"
)

// Names lists the recognized settings in display order.
var Names = []string{
	AutoAcceptConnections,
	AutoAcceptAuthors,
	AutoEndorseRequests,
	AutoEndorseTxnTypes,
	RejectByDefault,
}

// Defaults is the compiled-in value of every recognized setting.
var Defaults = map[string]string{
	AutoAcceptConnections: "false",
	AutoAcceptAuthors:     "false",
	AutoEndorseRequests:   "false",
	AutoEndorseTxnTypes:   "",
	RejectByDefault:       "false",
}

var truthy = map[string]struct{}{
	"true": {}, "1": {}, "t": {}, "y": {}, "yes": {}, "yeah": {}, "yup": {}, "certainly": {}, "uh-huh": {},
}

// IsTrue reports whether value is one of the accepted truthy forms.
func IsTrue(value string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// SplitCSV splits a comma-joined setting into trimmed, non-empty elements.
func SplitCSV(value string) []string {
	out := make([]string, 0)
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LookupEnv reads the environment tier.
type LookupEnv func(key string) (string, bool)

// Source reads the stored tier.
type Source interface {
	Get(name string) (*dto.ConfigSetting, error)
}

// Resolve returns the effective value of name from src, env and defaults.
// It fails only for names missing from defaults.
func Resolve(src Source, env LookupEnv, defaults map[string]string, name string) (*dto.ConfigSetting, error) {
	def, known := defaults[name]
	if !known {
		return nil, errors.Wrapf(dto.ErrInvalidConfigName, "%q", name)
	}

	if src != nil {
		stored, err := src.Get(name)
		switch {
		case err == nil:
			stored.Source = dto.SourceDatabase
			return stored, nil
		case !stdErrors.Is(err, dto.ErrNotFound):
			log.Warnf("failed to read stored setting %s, falling back: %v", name, err)
		}
	}

	if env != nil {
		if v, ok := env(name); ok {
			return &dto.ConfigSetting{Name: name, Value: v, Source: dto.SourceEnvironment}, nil
		}
	}

	return &dto.ConfigSetting{Name: name, Value: def, Source: dto.SourceDefault}, nil
}

// Validate checks a value against the shape of its setting.
func Validate(name, value string) error {
	if _, ok := Defaults[name]; !ok {
		return errors.Wrapf(dto.ErrInvalidConfigName, "%q", name)
	}

	if name == AutoEndorseTxnTypes {
		for _, code := range SplitCSV(value) {
			if !ledger.IsTypeCode(code) {
				return errors.Wrapf(dto.ErrInvalidConfigValue, "%s is not a valid transaction type", code)
			}
		}
	}

	return nil
}

// Settings is the configuration store.
type Settings struct {
	table *store.Table[dto.ConfigSetting]
	env   LookupEnv
	cache *ristretto.Cache[string, dto.ConfigSetting]
	mu    sync.RWMutex
}

// New creates the configuration store. A nil env reads the process environment.
func New(s *store.Store, env LookupEnv) (*Settings, error) {
	if env == nil {
		env = os.LookupEnv
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, dto.ConfigSetting]{
		NumCounters: 100,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create settings cache")
	}

	return &Settings{
		table: store.NewTable[dto.ConfigSetting](s, "config"),
		env:   env,
		cache: cache,
	}, nil
}

// Close releases the cache.
func (s *Settings) Close() {
	s.cache.Close()
}

// Get returns the effective value of a setting.
func (s *Settings) Get(name string) (*dto.ConfigSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cached, ok := s.cache.Get(name); ok {
		return &cached, nil
	}

	setting, err := Resolve(s.table, s.env, Defaults, name)
	if err != nil {
		return nil, err
	}

	s.cache.Set(name, *setting, 1)
	s.cache.Wait()

	return setting, nil
}

// All returns the effective value of every recognized setting.
func (s *Settings) All() ([]*dto.ConfigSetting, error) {
	out := make([]*dto.ConfigSetting, 0, len(Names))
	for _, name := range Names {
		setting, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, setting)
	}
	return out, nil
}

// Set validates and stores an override, inserting the row on first write.
func (s *Settings) Set(name, value string) (*dto.ConfigSetting, error) {
	if err := Validate(name, value); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored, err := s.table.Upsert(name, func(rec *dto.ConfigSetting, exists bool) error {
		if !exists {
			rec.ID = uuid.NewString()
			rec.Name = name
			rec.CreatedAt = now
		}
		rec.Value = value
		rec.Source = dto.SourceDatabase
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "store setting %s", name)
	}

	s.cache.Del(name)
	log.Infof("setting %s updated to %q", name, value)

	return stored, nil
}

// Bool resolves a boolean setting; unreadable settings are false.
func (s *Settings) Bool(name string) bool {
	setting, err := s.Get(name)
	if err != nil {
		log.Errorf("failed to resolve setting %s: %v", name, err)
		return false
	}
	return IsTrue(setting.Value)
}

// CSV resolves a comma-joined setting.
func (s *Settings) CSV(name string) []string {
	setting, err := s.Get(name)
	if err != nil {
		log.Errorf("failed to resolve setting %s: %v", name, err)
		return nil
	}
	return SplitCSV(setting.Value)
}
