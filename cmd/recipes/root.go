package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/recipes/internal/database"
	"github.com/dukerupert/recipes/internal/logging"
	"github.com/dukerupert/recipes/internal/recipes"
	"github.com/dukerupert/recipes/internal/shopping"
	"github.com/dukerupert/recipes/internal/store"
)

var cfgFile string

// app holds what every command shares. It is built once per invocation in
// the root command's PersistentPreRunE.
type app struct {
	logger    *slog.Logger
	logCloser io.Closer
	dbPath    string
	db        *sql.DB
	cache     *store.CacheStore
	queue     *store.QueueStore
	client    *recipes.Client
	syncer    *shopping.Syncer
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Headless client for the recipe and shopping list API",
	Long: `recipes keeps a local, offline-capable copy of a recipe collection
and its shopping lists, and syncs both with the recipe API.

Settings come from flags, RECIPES_* environment variables, or a config
file (recipes.yaml in the user config directory).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if err := loadConfig(); err != nil {
			return err
		}
		a, err := newApp(cmd.Name() == "watch")
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: <user config dir>/recipes/recipes.yaml)")
	flags.String("api", "http://localhost:3000", "origin serving the recipe API under /api")
	flags.String("public-url", "", "origin used in share links (default: --api)")
	flags.String("db", "", "local cache database (default: <user cache dir>/recipes/cache.db)")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")

	for _, name := range []string{"api", "public-url", "db", "log-level", "log-file"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func loadConfig() error {
	viper.SetEnvPrefix("RECIPES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil
		}
		viper.AddConfigPath(filepath.Join(dir, "recipes"))
		viper.SetConfigName("recipes")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func dbPath() (string, error) {
	if p := viper.GetString("db"); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(dir, "recipes", "cache.db"), nil
}

// newApp opens the cache and builds the sync client. Long-running commands
// log to a file by default so the terminal stays readable.
func newApp(longRunning bool) (*app, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}

	a := &app{dbPath: path}
	level := viper.GetString("log-level")
	logFile := viper.GetString("log-file")
	if logFile == "" && longRunning && path != database.Memory {
		logFile = filepath.Join(filepath.Dir(path), "recipes.log")
	}
	if logFile != "" {
		a.logger, a.logCloser = logging.SetupFile(level, logging.FileConfig{Path: logFile})
	} else {
		a.logger = logging.Setup(level)
	}

	a.db, err = database.Open(path)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cache = store.NewCacheStore(a.db)
	a.queue = store.NewQueueStore(a.db)

	a.client, err = recipes.New(recipes.Config{
		BaseURL:   viper.GetString("api"),
		PublicURL: viper.GetString("public-url"),
	}, a.cache, a.logger.With("component", "recipes"))
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// shopping builds the shopping list syncer on first use. The private list
// is reported under the logged-in user's name.
func (a *app) shopping() *shopping.Syncer {
	if a.syncer != nil {
		return a.syncer
	}
	var private string
	if status := a.client.Status(); status != nil {
		private = status.Username
	}
	transport := shopping.NewHTTPTransport(a.client.BaseURL(), a.client.HTTPClient())
	a.syncer = shopping.NewSyncer(transport, a.cache, a.queue, shopping.Config{
		PrivateListID: private,
	}, a.logger.With("component", "shopping"))
	return a.syncer
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
