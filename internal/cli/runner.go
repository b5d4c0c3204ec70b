package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fireshield/fsclient/internal/apiclient"
	"github.com/fireshield/fsclient/internal/config"
	"github.com/fireshield/fsclient/internal/credential"
	"github.com/fireshield/fsclient/internal/db"
	"github.com/fireshield/fsclient/internal/logging"
	"github.com/fireshield/fsclient/internal/model"
	"github.com/fireshield/fsclient/internal/render"
	"github.com/fireshield/fsclient/internal/session"
)

type Runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg *config.Config
	now func() time.Time
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// errReported marks a failure already written to the output.
var errReported = errors.New("reported")

func NewRunner(in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{in: in, out: out, errOut: errOut, now: time.Now}
}

// WithConfig skips file and environment loading.
func (r *Runner) WithConfig(cfg config.Config) *Runner {
	if r == nil {
		return nil
	}
	clone := *r
	clone.cfg = &cfg
	return &clone
}

// Run executes one command and returns the process exit code: 0 on
// success, 1 on failure, 2 on bad usage.
func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.rootCmd()
	root.SetArgs(args)
	root.SetIn(r.in)
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, errReported) {
		return 1
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintln(r.errOut, root.UsageString())
		return 2
	}
	return 1
}

type globalFlags struct {
	configPath string
	baseURL    string
	logLevel   string
}

func (r *Runner) rootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "fireshield",
		Short:         "Firefighter exposure dashboard client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $FIRESHIELD_CONFIG or ~/.config/fireshield/config.yaml)")
	root.PersistentFlags().StringVar(&g.baseURL, "base-url", "", "server base URL")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "trace|debug|info|warn|error")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		r.loginCmd(&g),
		r.logoutCmd(&g),
		r.statusCmd(&g),
		r.reportCmd(&g),
		r.seriesCmd(&g),
		r.watchCmd(&g),
		r.configCmd(&g),
	)
	return root
}

func (r *Runner) loadConfig(g *globalFlags) (config.Config, error) {
	var cfg config.Config
	if r.cfg != nil {
		cfg = *r.cfg
	} else {
		path := g.configPath
		if path == "" {
			path = config.DefaultFilePath()
		}
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app is the wired client stack for one command.
type app struct {
	cfg     config.Config
	logger  hclog.Logger
	store   *db.Store
	creds   *credential.Guarded
	client  *apiclient.Client
	ctl     *session.Controller
	closers []func() error
}

func (r *Runner) open(ctx context.Context, g *globalFlags, tweaks ...func(*config.Config)) (*app, error) {
	cfg, err := r.loadConfig(g)
	if err != nil {
		return nil, err
	}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	a := &app{cfg: cfg, logger: logging.New("fireshield", cfg.LogLevel, r.errOut)}

	store, err := db.OpenMigrated(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	var backend credential.Store
	switch cfg.CredentialBackend {
	case config.BackendMemory:
		backend = credential.NewMemory()
	case config.BackendRedis:
		rs, err := credential.NewRedis(cfg.RedisAddr, cfg.RedisKeyPrefix)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		backend = rs
	default:
		backend = credential.NewSQLite(store)
	}
	a.creds = credential.NewGuarded(backend, a.logger)

	client, err := apiclient.New(cfg.BaseURL, a.creds,
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithRetry(cfg.RetryAttempts, cfg.RetryDelay),
		apiclient.WithLogger(a.logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.client = client

	a.ctl = session.New(client,
		session.WithPollInterval(cfg.PollInterval),
		session.WithWindowHours(cfg.WindowHours),
		session.WithBucket(model.Bucket(cfg.Bucket)),
		session.WithOnboardingComplete(cfg.OnboardingComplete),
		session.WithHealthPolicy(session.HealthPolicy{
			DegradedAfterFailures: cfg.DegradedAfterFailures,
			DownAfterFailures:     cfg.DownAfterFailures,
			RecoverAfterSuccesses: cfg.RecoverAfterSuccesses,
		}),
		session.WithCache(store),
		session.WithLogger(a.logger),
	)
	a.closers = append(a.closers, a.ctl.Close)
	a.ctl.Init(ctx)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error, tweaks ...func(*config.Config)) error {
	ctx := cmd.Context()
	a, err := r.open(ctx, g, tweaks...)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck
	return fn(ctx, a)
}

func requireSignedIn(snap session.Snapshot) error {
	if !snap.IsAuthenticated {
		return errors.New("not signed in; run `fireshield login`")
	}
	return nil
}

func (r *Runner) loginCmd(g *globalFlags) *cobra.Command {
	var email, password string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and fetch the current report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if strings.TrimSpace(email) == "" || password == "" {
				return usageError{err: errors.New("please fill in both email and password")}
			}
			return r.withApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.ctl.Login(ctx, email, password); err != nil {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), a.ctl.Snapshot().LastError)
					return errReported
				}
				a.ctl.StopPolling()
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Status(a.ctl.Snapshot(), r.now()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (r *Runner) logoutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential and cached data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.ctl.Logout(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

type statusJSON struct {
	State         session.State      `json:"state"`
	Authenticated bool               `json:"authenticated"`
	Severity      model.Severity     `json:"severity"`
	Critical      bool               `json:"critical"`
	Link          session.LinkHealth `json:"link"`
	Stale         bool               `json:"stale"`
	UpdatedAt     *time.Time         `json:"updated_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
}

func toStatusJSON(snap session.Snapshot) statusJSON {
	out := statusJSON{
		State:         snap.State,
		Authenticated: snap.IsAuthenticated,
		Severity:      snap.Severity,
		Critical:      snap.IsCritical,
		Link:          snap.Link,
		Stale:         snap.Stale,
		LastError:     snap.LastError,
	}
	if !snap.UpdatedAt.IsZero() {
		ts := snap.UpdatedAt.UTC()
		out.UpdatedAt = &ts
	}
	return out
}

func (r *Runner) statusCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state and the cached report age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, g, func(_ context.Context, a *app) error {
				snap := a.ctl.Snapshot()
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), toStatusJSON(snap))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Status(snap, r.now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) reportCmd(g *globalFlags) *cobra.Command {
	var hours int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch and show the exposure report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := requireSignedIn(a.ctl.Snapshot()); err != nil {
					return err
				}
				if hours <= 0 {
					hours = a.cfg.WindowHours
				}
				refreshErr := a.ctl.Refresh(ctx, hours)
				snap := a.ctl.Snapshot()
				if jsonOut {
					if snap.Report == nil {
						_, _ = fmt.Fprintln(cmd.ErrOrStderr(), snap.LastError)
						return errReported
					}
					return writeJSON(cmd.OutOrStdout(), snap.Report)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Dashboard(snap, r.now()))
				if refreshErr != nil && snap.Report == nil {
					return errReported
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "window in hours (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the report as JSON")
	return cmd
}

func (r *Runner) seriesCmd(g *globalFlags) *cobra.Command {
	var hours, days int
	var bucket string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Show the TVOC time series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := requireSignedIn(a.ctl.Snapshot()); err != nil {
					return err
				}
				var (
					points []model.TimePoint
					err    error
				)
				if cmd.Flags().Changed("days") {
					points, err = a.client.FetchDailySeries(ctx, days)
				} else {
					if hours <= 0 {
						hours = a.cfg.WindowHours
					}
					if bucket == "" {
						bucket = a.cfg.Bucket
					}
					points, err = a.client.FetchSeries(ctx, hours, model.Bucket(bucket))
				}
				if err != nil {
					if errors.Is(err, apiclient.ErrUnauthorized) {
						_ = a.ctl.Logout(ctx)
					}
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), session.Describe(err))
					return errReported
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), points)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Sparkline(points))
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.SeriesTable(points))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "window in hours (default from config)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "minute|hour|day (default from config)")
	cmd.Flags().IntVar(&days, "days", apiclient.DefaultDailyDays, "daily buckets for the last N days")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func (r *Runner) watchCmd(g *globalFlags) *cobra.Command {
	var updates int
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the server and redraw the dashboard on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval < 0 {
				return usageError{err: errors.New("--interval must not be negative")}
			}
			return r.withApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := requireSignedIn(a.ctl.Snapshot()); err != nil {
					return err
				}
				ch, unsubscribe := a.ctl.Subscribe(1)
				defer unsubscribe()

				if err := a.ctl.Refresh(ctx, a.cfg.WindowHours); err != nil && !errors.Is(err, session.ErrDiscarded) {
					a.logger.Debug("initial refresh failed", "error", err)
				}
				a.ctl.StartPolling(ctx)
				defer a.ctl.StopPolling()

				shown := 0
				for {
					select {
					case <-ctx.Done():
						return nil
					case snap, ok := <-ch:
						if !ok {
							return nil
						}
						if !snap.Polling && snap.IsAuthenticated {
							// intermediate state before polling starts
							continue
						}
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Dashboard(snap, r.now()))
						shown++
						if !snap.IsAuthenticated {
							return errReported
						}
						if updates > 0 && shown >= updates {
							return nil
						}
					}
				}
			}, func(cfg *config.Config) {
				if interval > 0 {
					cfg.PollInterval = interval
				}
			})
		},
	}
	cmd.Flags().IntVar(&updates, "updates", 0, "exit after N redraws (0 = until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	return cmd
}

func (r *Runner) configCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.loadConfig(g)
			if err != nil {
				return err
			}
			if cfg.DemoPassword != "" {
				cfg.DemoPassword = "[REDACTED]"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
