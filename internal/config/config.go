package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the config file path when
// --config is not given.
const FileEnv = "SKRUMBLE_RELAY_CONFIG"

// Config is the relay configuration. Values are resolved in the order
// defaults, YAML file, environment, flags; later sources win.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"`
	DebugRoutes bool   `yaml:"debug_routes"`
	JWTSecret   string `yaml:"jwt_secret"`

	Skrumble  SkrumbleConfig  `yaml:"skrumble"`
	Database  DatabaseConfig  `yaml:"database"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// IssueToken, when set, makes the binary print a bearer token for that
	// user id and exit.
	IssueToken string        `yaml:"-"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

type SkrumbleConfig struct {
	ClientID       string        `yaml:"client_id"`
	ClientSecret   string        `yaml:"client_secret"`
	APIHost        string        `yaml:"api_host"`
	AuthHost       string        `yaml:"auth_host"`
	Email          string        `yaml:"email"`
	Password       string        `yaml:"password"`
	Insecure       bool          `yaml:"insecure"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DatabaseConfig configures the message archive. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AMQPConfig configures event publishing. An empty URL selects the noop
// publisher.
type AMQPConfig struct {
	URL             string `yaml:"url"`
	Exchange        string `yaml:"exchange"`
	AuditRoutingKey string `yaml:"audit_routing_key"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8083",
		LogLevel:    "info",
		Environment: "development",
		TokenTTL:    24 * time.Hour,
		Skrumble: SkrumbleConfig{
			ConnectTimeout: 20 * time.Second,
		},
		AMQP: AMQPConfig{
			Exchange:        "skrumble.events",
			AuditRoutingKey: "audit.events",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "skrumble-relay",
		},
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration from args (without the program name) and
// the environment. pflag.ErrHelp is returned unchanged when --help is given.
func Load(args []string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	fs, flags := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	path := flags.configPath
	if path == "" {
		path, _ = lookup(FileEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	flags.apply(fs, cfg)

	if cfg.IssueToken == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required to issue tokens")
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if val, ok := lookup(key); ok {
			*dst = val
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("APP_ENV", &c.Environment)
	str("JWT_SECRET", &c.JWTSecret)
	str("SKRUMBLE_CLIENT_ID", &c.Skrumble.ClientID)
	str("SKRUMBLE_CLIENT_SECRET", &c.Skrumble.ClientSecret)
	str("SKRUMBLE_API_HOST", &c.Skrumble.APIHost)
	str("SKRUMBLE_AUTH_HOST", &c.Skrumble.AuthHost)
	str("SKRUMBLE_EMAIL", &c.Skrumble.Email)
	str("SKRUMBLE_PASSWORD", &c.Skrumble.Password)
	str("DB_DSN", &c.Database.DSN)
	str("AMQP_URL", &c.AMQP.URL)
	str("AMQP_EXCHANGE", &c.AMQP.Exchange)
	str("OTEL_SERVICE_NAME", &c.Telemetry.ServiceName)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if val, ok := lookup("DEBUG_ROUTES"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("DEBUG_ROUTES: %w", err)
		}
		c.DebugRoutes = b
	}
	if val, ok := lookup("SKRUMBLE_INSECURE"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("SKRUMBLE_INSECURE: %w", err)
		}
		c.Skrumble.Insecure = b
	}
	return nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	check := func(name, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	check("jwt_secret", c.JWTSecret)
	check("skrumble.client_id", c.Skrumble.ClientID)
	check("skrumble.client_secret", c.Skrumble.ClientSecret)
	check("skrumble.email", c.Skrumble.Email)
	check("skrumble.password", c.Skrumble.Password)
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

type flagValues struct {
	configPath  string
	httpAddr    string
	logLevel    string
	debugRoutes bool
	dsn         string
	amqpURL     string
	otlp        string
	apiHost     string
	insecure    bool
	issueToken  string
	tokenTTL    time.Duration
}

func newFlagSet() (*pflag.FlagSet, *flagValues) {
	v := &flagValues{}
	fs := pflag.NewFlagSet("skrumble-relay", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&v.configPath, "config", "", "path to a YAML config file (env "+FileEnv+")")
	fs.StringVar(&v.httpAddr, "http-addr", "", "HTTP listen address")
	fs.StringVar(&v.logLevel, "log-level", "", "log level: all, info, warn, error, none")
	fs.BoolVar(&v.debugRoutes, "debug-routes", false, "expose /debug endpoints")
	fs.StringVar(&v.dsn, "db-dsn", "", "PostgreSQL DSN for the message archive")
	fs.StringVar(&v.amqpURL, "amqp-url", "", "RabbitMQ URL for event publishing")
	fs.StringVar(&v.otlp, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	fs.StringVar(&v.apiHost, "api-host", "", "Skrumble API host")
	fs.BoolVar(&v.insecure, "insecure", false, "use http/ws instead of https/wss")
	fs.StringVar(&v.issueToken, "issue-token", "", "print a bearer token for this user id and exit")
	fs.DurationVar(&v.tokenTTL, "token-ttl", 0, "lifetime of tokens printed by --issue-token")
	return fs, v
}

// apply copies only the flags that were set on the command line.
func (v *flagValues) apply(fs *pflag.FlagSet, c *Config) {
	if fs.Changed("http-addr") {
		c.HTTPAddr = v.httpAddr
	}
	if fs.Changed("log-level") {
		c.LogLevel = v.logLevel
	}
	if fs.Changed("debug-routes") {
		c.DebugRoutes = v.debugRoutes
	}
	if fs.Changed("db-dsn") {
		c.Database.DSN = v.dsn
	}
	if fs.Changed("amqp-url") {
		c.AMQP.URL = v.amqpURL
	}
	if fs.Changed("otlp-endpoint") {
		c.Telemetry.OTLPEndpoint = v.otlp
	}
	if fs.Changed("api-host") {
		c.Skrumble.APIHost = v.apiHost
	}
	if fs.Changed("insecure") {
		c.Skrumble.Insecure = v.insecure
	}
	if fs.Changed("issue-token") {
		c.IssueToken = v.issueToken
	}
	if fs.Changed("token-ttl") {
		c.TokenTTL = v.tokenTTL
	}
}

// Usage renders the flag help text.
func Usage() string {
	fs, _ := newFlagSet()
	return fs.FlagUsages()
}
