// Package cli implements subctl, the command-line client of the billing API.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"timetrack/internal/apiclient"
	"timetrack/internal/subscription"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// App is the composition root of one subctl invocation: it owns the cache,
// the fetch coordinator and the manager every command goes through.
type App struct {
	cfg     *Config
	out     io.Writer
	now     func() time.Time
	logger  zerolog.Logger
	client  *apiclient.Client
	manager *subscription.Manager
	closers []func() error
}

func NewRootCommand(out io.Writer) *cobra.Command {
	app := &App{out: out, now: time.Now, logger: zerolog.Nop()}
	flags := &Config{}

	root := &cobra.Command{
		Use:   "subctl",
		Short: "Inspect and manage your subscription",
		Long: `subctl shows and changes the subscription of the signed-in user.

Configuration comes from SUBCTL_API_URL, SUBCTL_TOKEN, SUBCTL_CACHE_DIR and
SUBCTL_REDIS_ADDR; flags take precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.APIURL, "api-url", "", "Billing API base URL")
	pf.StringVar(&flags.Token, "token", "", "Access token of the signed-in user")
	pf.StringVar(&flags.CacheDir, "cache-dir", "", "Directory of the local subscription cache")
	pf.StringVar(&flags.RedisAddr, "redis-addr", "", "Share the subscription cache through this Redis server")
	pf.BoolVar(&flags.JSON, "json", false, "Print JSON")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Log fetches and cache activity to stderr")

	root.AddCommand(
		app.statusCmd(),
		app.refreshCmd(),
		app.watchCmd(),
		app.checkoutCmd(),
		app.verifyCmd(),
		app.cancelCmd(),
		app.changePlanCmd(),
		app.invoicesCmd(),
		app.invoicePDFCmd(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command, flags *Config) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fs := cmd.Flags()
	if fs.Changed("api-url") {
		cfg.APIURL = flags.APIURL
	}
	if fs.Changed("token") {
		cfg.Token = flags.Token
	}
	if fs.Changed("cache-dir") {
		cfg.CacheDir = flags.CacheDir
	}
	if fs.Changed("redis-addr") {
		cfg.RedisAddr = flags.RedisAddr
	}
	if fs.Changed("json") {
		cfg.JSON = flags.JSON
	}
	if fs.Changed("verbose") {
		cfg.Verbose = flags.Verbose
	}
	a.cfg = cfg

	level := zerolog.WarnLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	if cfg.Token == "" {
		return errors.New("no access token: set SUBCTL_TOKEN or pass --token")
	}
	a.client, err = apiclient.New(cfg.APIURL, cfg.Token)
	if err != nil {
		return err
	}
	userID := a.client.UserID()

	store, err := a.store(userID)
	if err != nil {
		return err
	}
	cache := subscription.NewCache(store, subscription.WithCacheLogger(a.logger), subscription.WithCacheClock(a.now))
	coord := subscription.NewCoordinator(a.client, cache,
		subscription.WithLogger(a.logger),
		subscription.WithClock(a.now),
	)
	a.manager = subscription.NewManager(userID, coord, cache, a.client, a.logger)
	return nil
}

func (a *App) store(userID string) (subscription.Store, error) {
	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		a.logger.Debug().Str("addr", a.cfg.RedisAddr).Msg("Using Redis subscription cache")
		return subscription.NewRedisStore(rdb, userID, subscription.DefaultStaleWindow), nil
	}
	return subscription.NewFileStore(a.cfg.cacheDir(), userID)
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Debug().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
