// Command mentor is the Mentor chat client: an interactive terminal chat,
// and an HTTP/websocket server hosting chat sessions for browser widgets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/mentor-chat/internal/agent"
	"github.com/ashureev/mentor-chat/internal/config"
	"github.com/ashureev/mentor-chat/internal/domain"
	"github.com/ashureev/mentor-chat/internal/store"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	endpoint   string
	transport  string
	learnerID  string
	courseID   string
	pageURL    string
	timeout    time.Duration
	verbose    bool

	storeBackend string
	dbPath       string
	storeDir     string
	redisAddr    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "mentor",
		Short:         "Chat with the Mentor course assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if err := godotenv.Load(); err == nil {
				slog.Debug("Loaded .env file")
			}
			if cmd.Name() != "serve" {
				setupCLILogger(flags.verbose || config.VerboseFromEnv())
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", defaultConfigFile(), "YAML file with endpoint, learner_id and course_id")
	pf.StringVar(&flags.endpoint, "endpoint", "", "Mentor API endpoint (overrides CHATBOT_API_ENDPOINT)")
	pf.StringVar(&flags.transport, "transport", "", "transport to the Mentor service: http or grpc")
	pf.StringVar(&flags.learnerID, "learner", "", "learner id (overrides CHATBOT_USER_ID)")
	pf.StringVar(&flags.courseID, "course", "", "course id (overrides CHATBOT_COURSE_ID)")
	pf.StringVar(&flags.pageURL, "page-url", "", "course page URL used to discover the course id")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "per-request timeout")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flags.storeBackend, "store", envOr("STORE_BACKEND", store.BackendSQLite), "store backend: sqlite, file, redis or memory")
	pf.StringVar(&flags.dbPath, "db", envOr("DB_PATH", "./data/mentor.db"), "SQLite database path")
	pf.StringVar(&flags.storeDir, "store-dir", envOr("STORE_DIR", "./data/sessions"), "directory for the file store")
	pf.StringVar(&flags.redisAddr, "redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address for the redis store")

	root.AddCommand(
		newChatCmd(flags),
		newServeCmd(),
		newHistoryCmd(flags),
		newResetCmd(flags),
	)
	return root
}

func setupCLILogger(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func defaultConfigFile() string {
	if p := os.Getenv("MENTOR_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir + "/mentor/config.yaml"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveSession runs the configuration chain for CLI commands.
func (f *globalFlags) resolveSession() (config.Session, error) {
	s, err := config.ResolveSession(config.Session{
		Endpoint:  f.endpoint,
		Transport: f.transport,
		LearnerID: f.learnerID,
		CourseID:  f.courseID,
	}, config.ResolveOptions{
		ConfigFile: f.configFile,
		PageURL:    f.pageURL,
	})
	if errors.Is(err, config.ErrMissingEndpoint) {
		return s, fmt.Errorf("%w: pass --endpoint or set CHATBOT_API_ENDPOINT", err)
	}
	return s, err
}

// resolveIdentity resolves only learner and course; commands that never
// contact the service do not need an endpoint.
func (f *globalFlags) resolveIdentity() (domain.Identity, error) {
	s, err := config.ResolveIdentity(config.Session{
		LearnerID: f.learnerID,
		CourseID:  f.courseID,
	}, config.ResolveOptions{
		ConfigFile: f.configFile,
		PageURL:    f.pageURL,
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{LearnerID: s.LearnerID, CourseID: s.CourseID}, nil
}

// openScopedStore opens the configured backend and scopes it to identity,
// matching the layout used by the server.
func (f *globalFlags) openScopedStore(ctx context.Context, id domain.Identity) (store.Store, func(), error) {
	base, err := store.Open(ctx, store.Options{
		Backend:   f.storeBackend,
		DBPath:    f.dbPath,
		Dir:       f.storeDir,
		RedisAddr: f.redisAddr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeFn := func() {
		if err := base.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
	return store.Scoped(base, id.Key()), closeFn, nil
}

func (f *globalFlags) transportConfig(s config.Session) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.Kind = s.Transport
	cfg.Endpoint = s.Endpoint
	cfg.Timeout = f.timeout
	return cfg
}
