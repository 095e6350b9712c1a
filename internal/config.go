package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreDriverBadger   = "badger"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH"`
	DatabaseURL    string `env:"DATABASE_URL"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	LimitMessages    *int `env:"LIMIT_MESSAGES"`
	MaxContentLength int  `env:"MAX_CONTENT_LENGTH,default=4096"`

	WSPingInterval     time.Duration `env:"WS_PING_INTERVAL,default=30s"`
	WSPongTimeout      time.Duration `env:"WS_PONG_TIMEOUT,default=60s"`
	WSHandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT,default=10s"`
	WSSendBuffer       int           `env:"WS_SEND_BUFFER,default=64"`

	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,default=2s"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=1m"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`
	DebugPort       int           `env:"DEBUG_PORT"`
}

// LoadConfig reads the optional dotenv files, then the environment.
// Variables already set in the environment win over the files.
func LoadConfig(files ...string) (Config, error) {
	for _, file := range files {
		// a missing file is not an error
		_ = godotenv.Load(file)
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverBadger:
		if c.BadgerFilepath == "" {
			return fmt.Errorf("BADGER_FILEPATH is required with STORE_DRIVER=%s", c.StoreDriver)
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", StoreDriverBadger, StoreDriverPostgres, c.StoreDriver)
	}
	if c.LimitMessages != nil && *c.LimitMessages < 0 {
		return fmt.Errorf("LIMIT_MESSAGES must not be negative")
	}
	if c.WSPongTimeout <= c.WSPingInterval {
		return fmt.Errorf("WS_PONG_TIMEOUT (%s) must be longer than WS_PING_INTERVAL (%s)", c.WSPongTimeout, c.WSPingInterval)
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
