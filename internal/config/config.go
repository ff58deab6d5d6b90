// Package config loads relay configuration from the environment, with an
// optional .env file preloaded first, replacing the teacher's ad hoc
// envOr helper with a single typed struct bound by struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full set of tunables §6 names as the relay's configuration
// surface.
type Config struct {
	Host string `env:"MOQRELAY_HOST" envDefault:"0.0.0.0"`
	Port uint16 `env:"MOQRELAY_PORT" envDefault:"4443"`

	CertFile string `env:"MOQRELAY_CERT_FILE"`
	KeyFile  string `env:"MOQRELAY_KEY_FILE"`

	MaxRequestID  uint64        `env:"MOQRELAY_MAX_REQUEST_ID" envDefault:"100"`
	CacheSize     int           `env:"MOQRELAY_CACHE_SIZE" envDefault:"2000"`
	CacheGrowRatioBeforeEvicting float64 `env:"MOQRELAY_CACHE_GROW_RATIO" envDefault:"1.2"`

	MaxIdleTimeout  time.Duration `env:"MOQRELAY_MAX_IDLE_TIMEOUT" envDefault:"7s"`
	KeepAlive       time.Duration `env:"MOQRELAY_KEEP_ALIVE" envDefault:"3s"`
	SetupDeadline   time.Duration `env:"MOQRELAY_SETUP_DEADLINE" envDefault:"5s"`

	RequestRate  float64 `env:"MOQRELAY_REQUEST_RATE" envDefault:"50"`
	RequestBurst int     `env:"MOQRELAY_REQUEST_BURST" envDefault:"100"`

	LogFolder           string `env:"MOQRELAY_LOG_FOLDER"`
	EnableObjectLogging bool   `env:"MOQRELAY_ENABLE_OBJECT_LOGGING" envDefault:"false"`

	MetricsAddr string `env:"MOQRELAY_METRICS_ADDR" envDefault:":9090"`

	AuthJWTSecret string `env:"MOQRELAY_AUTH_JWT_SECRET"`

	ClusterNATSURL string `env:"MOQRELAY_CLUSTER_NATS_URL"`
	ClusterSubject string `env:"MOQRELAY_CLUSTER_SUBJECT" envDefault:"moqrelay.announce"`
}

// Load reads envFile (if non-empty and present) into the process
// environment, then binds Config from the environment. A missing envFile
// is not an error; an envFile present but unparsable is.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
