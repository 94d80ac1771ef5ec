package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string        `yaml:"addr"`
	DBPath            string        `yaml:"db_path"`
	JournalPath       string        `yaml:"journal_path"`
	AgentURL          string        `yaml:"agent_url"`
	AgentAPIKey       string        `yaml:"agent_api_key"`
	WalletToken       string        `yaml:"wallet_token"`
	WebhookAPIKey     string        `yaml:"webhook_api_key"`
	AdminUser         string        `yaml:"admin_user"`
	AdminKey          string        `yaml:"admin_key"`
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTAlgorithm      string        `yaml:"jwt_algorithm"`
	JWTExpiry         time.Duration `yaml:"jwt_expiry"`
	LogLevel          string        `yaml:"log_level"`
	LogJSON           bool          `yaml:"log_json"`
	PublicName        string        `yaml:"public_name"`
	PublicDescription string        `yaml:"public_description"`
}

// LookupEnv reads an environment variable.
type LookupEnv func(key string) (string, bool)

type stringVar struct {
	flag, env, usage string
	field            func(c *Config) *string
}

var stringVars = []stringVar{
	{"addr", "ENDORSER_ADDR", "listen address", func(c *Config) *string { return &c.Addr }},
	{"db-path", "ENDORSER_DB_PATH", "database path on filesystem, empty keeps data in memory", func(c *Config) *string { return &c.DBPath }},
	{"journal-path", "ENDORSER_JOURNAL_PATH", "webhook journal directory", func(c *Config) *string { return &c.JournalPath }},
	{"agent-url", "ACAPY_ADMIN_URL", "agent admin API url", func(c *Config) *string { return &c.AgentURL }},
	{"agent-api-key", "ACAPY_API_ADMIN_KEY", "agent admin API key", func(c *Config) *string { return &c.AgentAPIKey }},
	{"wallet-token", "ACAPY_WALLET_AUTH_TOKEN", "agent wallet bearer token", func(c *Config) *string { return &c.WalletToken }},
	{"webhook-api-key", "ACAPY_WEBHOOK_URL_API_KEY", "key the agent sends with webhooks", func(c *Config) *string { return &c.WebhookAPIKey }},
	{"admin-user", "ENDORSER_API_ADMIN_USER", "admin API user", func(c *Config) *string { return &c.AdminUser }},
	{"admin-key", "ENDORSER_API_ADMIN_KEY", "admin API password", func(c *Config) *string { return &c.AdminKey }},
	{"jwt-secret", "JWT_SECRET_KEY", "admin token signing secret (random when empty)", func(c *Config) *string { return &c.JWTSecret }},
	{"jwt-algorithm", "JWT_ALGORITHM", "admin token signing algorithm", func(c *Config) *string { return &c.JWTAlgorithm }},
	{"log-level", "LOG_LEVEL", "log level", func(c *Config) *string { return &c.LogLevel }},
	{"public-name", "ENDORSER_PUBLIC_NAME", "service name", func(c *Config) *string { return &c.PublicName }},
	{"public-description", "ENDORSER_PUBLIC_DESC", "service description", func(c *Config) *string { return &c.PublicDescription }},
}

const (
	expiryEnv  = "JWT_ACCESS_TOKEN_EXPIRE_MINUTES"
	logJSONEnv = "LOG_JSON"
)

// Default returns the compiled defaults.
func Default() *Config {
	return &Config{
		Addr:              ":5000",
		DBPath:            "./data/badger",
		JournalPath:       "./data/journal",
		AgentURL:          "http://localhost:9031",
		AdminUser:         "endorser",
		JWTAlgorithm:      "HS256",
		JWTExpiry:         300 * time.Minute,
		LogLevel:          "info",
		PublicName:        "Endorser",
		PublicDescription: "An endorser service for aca-py wallets",
	}
}

// Get creates configuration from defaults, environment, yaml configuration file (if '--config' flag specified)
// and command-line arguments, in that order of precedence.
func Get() *Config {
	conf, err := Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return conf
}

// Load is Get with explicit arguments and environment.
func Load(args []string, env LookupEnv) (*Config, error) {
	conf := Default()
	if err := applyEnv(conf, env); err != nil {
		return nil, err
	}

	// flags are bound to a copy so that only explicitly set ones override the file
	flags := *conf
	fs := pflag.NewFlagSet("endorser", pflag.ContinueOnError)
	path := fs.String("config", "", "yaml configuration file")
	for _, v := range stringVars {
		fs.StringVar(v.field(&flags), v.flag, *v.field(&flags), v.usage)
	}
	fs.DurationVar(&flags.JWTExpiry, "jwt-expiry", flags.JWTExpiry, "admin token lifetime")
	fs.BoolVar(&flags.LogJSON, "log-json", flags.LogJSON, "log in json format")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	if *path != "" {
		raw, err := os.ReadFile(*path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(raw, conf); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", *path)
		}
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "jwt-expiry":
			conf.JWTExpiry = flags.JWTExpiry
		case "log-json":
			conf.LogJSON = flags.LogJSON
		default:
			for _, v := range stringVars {
				if v.flag == f.Name {
					*v.field(conf) = *v.field(&flags)
				}
			}
		}
	})

	return conf, conf.validate()
}

func applyEnv(conf *Config, env LookupEnv) error {
	if env == nil {
		return nil
	}
	for _, v := range stringVars {
		if value, ok := env(v.env); ok {
			*v.field(conf) = value
		}
	}
	if value, ok := env(expiryEnv); ok {
		minutes, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", expiryEnv)
		}
		conf.JWTExpiry = time.Duration(minutes) * time.Minute
	}
	if value, ok := env(logJSONEnv); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", logJSONEnv)
		}
		conf.LogJSON = b
	}
	return nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if c.AgentURL == "" {
		return errors.New("agent url is empty")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("jwt expiry must be positive")
	}
	if c.JWTAlgorithm != "HS256" && c.JWTAlgorithm != "HS384" && c.JWTAlgorithm != "HS512" {
		return errors.Errorf("unsupported jwt algorithm %q", c.JWTAlgorithm)
	}
	return nil
}

// SetupLogging configures the global logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	log.SetLevel(level)

	if c.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC822,
		})
	}
	return nil
}
