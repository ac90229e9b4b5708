package cli

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from SUBCTL_* variables; command-line flags override it.
type Config struct {
	APIURL    string `envconfig:"API_URL" default:"http://localhost:8080"`
	Token     string `envconfig:"TOKEN"`
	CacheDir  string `envconfig:"CACHE_DIR"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	JSON      bool   `envconfig:"JSON"`
	Verbose   bool   `envconfig:"VERBOSE"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("subctl", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// cacheDir defaults to the user's cache directory.
func (c *Config) cacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "timetrack")
	}
	return filepath.Join(os.TempDir(), "timetrack")
}
