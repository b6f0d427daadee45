package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"birdseed/internal/cmdlog"
	"birdseed/internal/collect"
	"birdseed/internal/config"
	"birdseed/internal/logging"
	"birdseed/internal/metrics"
	"birdseed/internal/model"
	"birdseed/internal/resolve"
	"birdseed/internal/scoring"
	"birdseed/internal/store"
	"birdseed/internal/xclient"
)

// newSource builds the social API client. Tests replace it.
var newSource = func(cfg config.Config) xclient.Source {
	c := xclient.NewHTTPClient(cfg.Credentials.BearerToken).WithRateLimit(cfg.Collect.APIRPS, cfg.Collect.APIBurst)
	o := xclient.NewOAuth1(cfg.Credentials.ConsumerKey, cfg.Credentials.ConsumerSecret, cfg.Credentials.AccessToken, cfg.Credentials.AccessSecret)
	if o.Complete() {
		c.WithOAuth1(o)
	}
	return c
}

type app struct {
	cfgPath  string
	logLevel string

	cfg       config.Config
	log       zerolog.Logger
	st        *store.Store
	collector *collect.Collector
	metrics   *http.Server
}

// loadConfig reads the config file, falling back to defaults plus the
// environment when it does not exist.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.ResolveEnv(); err != nil {
			return err
		}
		err = cfg.Validate()
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", a.cfgPath, err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.New("birdseed", cfg.Log.Level)
	logging.SetDefault(a.log)
	return nil
}

func (a *app) open(concurrency int) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if concurrency > 0 {
		a.cfg.Collect.Concurrency = concurrency
	}
	st, err := store.Open(store.Config{Driver: a.cfg.Storage.Driver, DSN: a.cfg.Storage.DSN, TablePrefix: a.cfg.Storage.TablePrefix})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st
	if a.cfg.Credentials.BearerToken == "" {
		a.log.Warn().Msg("missing X_BEARER_TOKEN; API calls will fail")
	}

	var c *collect.Collector
	var scorer scoring.Scorer = scoring.Heuristic{Lookup: func(ctx context.Context, id string) (model.Payload, error) {
		return c.StoredProfile(ctx, id)
	}}
	if a.cfg.Scoring.Endpoint != "" {
		scorer = scoring.NewHTTPScorer(a.cfg.Scoring.Endpoint, a.cfg.Scoring.APIKey)
	}
	c = collect.New(st, newSource(a.cfg), scorer, resolve.New(a.cfg.Collect.InvalidIDs, a.log),
		collect.Options{Concurrency: a.cfg.Collect.Concurrency, FailOnAll: a.cfg.Collect.FailOnAllErrors}, a.log)
	a.collector = c
	a.metrics = metrics.StartServer(a.cfg.Metrics.Addr)
	return nil
}

func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}
	if a.st != nil {
		_ = a.st.Close()
	}
}

// run opens the app, runs f as a logged command and prints its summary.
func (a *app) run(cmd *cobra.Command, concurrency int, f func(ctx context.Context) (model.Summary, error)) error {
	if err := a.open(concurrency); err != nil {
		return err
	}
	defer a.close()
	return cmdlog.RunSummary(cmd.Name(), cmd.OutOrStdout(), func() (model.Summary, error) {
		return f(cmd.Context())
	})
}
