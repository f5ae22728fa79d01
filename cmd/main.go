package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calmerge/internal/config"
	"calmerge/internal/google"
	"calmerge/internal/icloud"
	"calmerge/internal/logging"
	"calmerge/internal/metrics"
	"calmerge/internal/models"
	"calmerge/internal/reconciler"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "calmerge",
		Usage: "Merge several calendars into one destination calendar.",
		Commands: []*cli.Command{
			authCommand(),
			mergeCommand(),
			calendarsCommand(),
		},
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Name to store the token under (e.g. 'personal', 'work')."},
			&cli.StringFlag{Name: "token-dir", Value: ".", Usage: "Directory holding token files."},
		},
		Action: func(c *cli.Context) error {
			logger := logging.Setup("info")
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Fprintf(c.App.Writer, "Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Fprint(c.App.Writer, "Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := c.String("account")
			if accountName == "" {
				fmt.Fprint(c.App.Writer, "Enter a name for this account (e.g., 'personal', 'work'): ")
				accountName, _ = reader.ReadString('\n')
				accountName = strings.TrimSpace(accountName)
			}
			if accountName == "" {
				return errors.New("account name must not be empty")
			}

			tokenFile := google.TokenFile(c.String("token-dir"), accountName)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file."},
		&cli.StringFlag{Name: "store", Usage: "Event store: google or caldav."},
		&cli.StringFlag{Name: "credentials", Usage: "Google service account JSON key."},
		&cli.StringFlag{Name: "account", Usage: "Google account token created by the auth command."},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error."},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Merge the source calendars into the destination calendar.",
		Flags: append(storeFlags(),
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source calendar ID. Repeatable."},
			&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Destination calendar ID."},
			&cli.BoolFlag{Name: "censor", Usage: "Replace summaries and descriptions of merged events."},
			&cli.StringFlag{Name: "censor-name", Usage: "Summary of censored events."},
			&cli.StringFlag{Name: "censor-description", Usage: "Description of censored events."},
			&cli.BoolFlag{Name: "delete", Value: true, Usage: "Remove destination events missing from the sources."},
			&cli.StringSliceFlag{Name: "exclude", Aliases: []string{"x"}, Usage: "Skip source events whose summary or description starts with this pattern, ignoring case. Repeatable."},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log every imported and removed event."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would change without making changes."},
			&cli.IntFlag{Name: "workers", Usage: "Number of concurrent add/delete calls."},
			&cli.IntFlag{Name: "watch", Usage: "Run a merge every N seconds."},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address."},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel)

			if cfg.DryRun {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := newStore(ctx, logger, cfg)
			if err != nil {
				return err
			}
			r, err := reconciler.New(store, logger, cfg.ReconcileOptions())
			if err != nil {
				return err
			}

			var m *metrics.Metrics
			if cfg.MetricsAddr != "" {
				if m, err = serveMetrics(ctx, logger, cfg.MetricsAddr); err != nil {
					return err
				}
			}

			return runMerges(ctx, logger, r, m, cfg)
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars visible to the configured store.",
		Flags: storeFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel)

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			defer w.Flush()

			switch cfg.Store {
			case config.StoreGoogle:
				client, err := newGoogleClient(c.Context, logger, cfg)
				if err != nil {
					return err
				}
				cals, err := client.ListCalendars(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tSUMMARY\tACCESS\tPRIMARY")
				for _, cal := range cals {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", cal.ID, cal.Summary, cal.AccessRole, cal.Primary)
				}
			case config.StoreCalDAV:
				client, err := newCalDAVClient(logger, cfg)
				if err != nil {
					return err
				}
				cals, err := client.ListCalendars(c.Context)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "NAME\tPATH")
				for _, cal := range cals {
					fmt.Fprintf(w, "%s\t%s\n", cal.Name, cal.Path)
				}
			default:
				return models.NewConfigurationError(fmt.Sprintf("unknown store %q", cfg.Store))
			}
			return nil
		},
	}
}

// loadConfig layers the config file, the environment and the flags of c.
// Merge settings are only validated for the merge command.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	applyFlags(c, cfg)

	if c.Command.Name != "merge" {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	stringFlags := map[string]*string{
		"store":              &cfg.Store,
		"credentials":        &cfg.Google.CredentialsFile,
		"account":            &cfg.Google.Account,
		"log-level":          &cfg.LogLevel,
		"destination":        &cfg.Destination,
		"censor-name":        &cfg.CensorName,
		"censor-description": &cfg.CensorDescription,
		"metrics-addr":       &cfg.MetricsAddr,
	}
	for name, dst := range stringFlags {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}

	boolFlags := map[string]*bool{
		"censor":  &cfg.Censor,
		"delete":  &cfg.Delete,
		"verbose": &cfg.Verbose,
		"dry-run": &cfg.DryRun,
	}
	for name, dst := range boolFlags {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}

	if c.IsSet("source") {
		cfg.Sources = c.StringSlice("source")
	}
	if c.IsSet("exclude") {
		cfg.Exclude = c.StringSlice("exclude")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("watch") {
		cfg.Watch = time.Duration(c.Int("watch")) * time.Second
	}
}

func newStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (reconciler.EventStore, error) {
	if cfg.Store == config.StoreCalDAV {
		return newCalDAVClient(logger, cfg)
	}
	return newGoogleClient(ctx, logger, cfg)
}

func newCalDAVClient(logger *slog.Logger, cfg *config.Config) (*icloud.CalDAVClient, error) {
	if cfg.CalDAV.Username == "" || cfg.CalDAV.Password == "" {
		return nil, models.NewConfigurationError("caldav store requires a username and password")
	}
	client, err := icloud.NewClient(logger, cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return client, nil
}

// newGoogleClient prefers a service account key. Otherwise it uses the OAuth
// token of the configured account, or the only token found.
func newGoogleClient(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*google.CalendarClient, error) {
	if cfg.Google.CredentialsFile != "" {
		return google.NewServiceAccountClient(ctx, logger, cfg.Google.CredentialsFile)
	}

	account := cfg.Google.Account
	if account == "" {
		accounts, err := google.GetTokenAccounts(cfg.Google.TokenDir)
		if err != nil {
			return nil, fmt.Errorf("could not look for google accounts: %w", err)
		}
		switch len(accounts) {
		case 0:
			return nil, models.NewConfigurationError("no google credentials: set --credentials or run the 'auth' command first")
		case 1:
			account = accounts[0]
		default:
			return nil, models.NewConfigurationError(fmt.Sprintf("several google accounts found (%s), choose one with --account", strings.Join(accounts, ", ")))
		}
	}

	client, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, google.TokenFile(cfg.Google.TokenDir, account))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
	}
	return client, nil
}

// serveMetrics starts the metrics endpoint and stops it when ctx is done.
func serveMetrics(ctx context.Context, logger *slog.Logger, addr string) (*metrics.Metrics, error) {
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("Serving metrics.", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", logging.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return m, nil
}

// merger is the part of the reconciler runMerges drives.
type merger interface {
	Reconcile(ctx context.Context, sources []string, destination string) (*reconciler.Result, error)
}

// runMerges runs one merge, or one every cfg.Watch until ctx is done.
// In watch mode only configuration errors stop the loop.
func runMerges(ctx context.Context, logger *slog.Logger, r merger, m *metrics.Metrics, cfg *config.Config) error {
	run := func() error {
		start := time.Now()
		res, err := r.Reconcile(ctx, cfg.Sources, cfg.Destination)
		if m != nil {
			m.Observe(res, err, time.Since(start))
		}
		if res != nil && res.Failed() {
			logger.Warn("Some events could not be merged.", "failed", len(res.Failures))
		}
		return err
	}

	if cfg.Watch == 0 {
		logger.Info("Running a single merge.")
		if err := run(); err != nil {
			return fmt.Errorf("merge failed: %w", err)
		}
		return nil
	}

	logger.Info("Starting watcher.", "interval", cfg.Watch)
	ticker := time.NewTicker(cfg.Watch)
	defer ticker.Stop()
	for {
		if err := run(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if models.IsConfiguration(err) {
				return fmt.Errorf("merge failed: %w", err)
			}
			logger.Error("Merge failed", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("Stopping watcher.")
			return nil
		case <-ticker.C:
		}
	}
}
