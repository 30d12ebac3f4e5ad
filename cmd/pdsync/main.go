package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pdsync/internal/auth"
	"pdsync/internal/authcache"
	"pdsync/internal/config"
	"pdsync/internal/core"
	"pdsync/internal/drive"
	"pdsync/internal/engine"
	"pdsync/internal/logging"
	"pdsync/internal/model"
	"pdsync/internal/processor"
	"pdsync/internal/statebackup"
	"pdsync/internal/store"
	"pdsync/internal/watcher"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdsync",
	Short: "Mirrors local directories to Proton Drive",
}

// openStore opens the state store at the resolved XDG state directory.
func openStore() (*store.SQLiteStore, *config.Defaults, error) {
	defaults, err := config.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving default paths: %w", err)
	}
	if err := os.MkdirAll(defaults.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating state directory: %w", err)
	}

	s, err := store.Open(filepath.Join(defaults.StateDir, "pdsync.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}
	return s, defaults, nil
}

// newClient builds a core.Client. The real Proton Drive SRP/auth handshake
// is out of scope per spec.md §1, so the HTTP backend expects a bearer
// token obtained some other way: PDSYNC_AUTH_TOKEN, or a session cached
// earlier by `pdsync login`. With no token and no cache, or no
// PDSYNC_BASE_URL, --memory-backend (or the lack of either) falls back to
// the in-memory backend so `start` is runnable without live credentials.
func newClient(useMemory bool, defaults *config.Defaults) (core.Client, error) {
	if useMemory {
		return drive.NewMemoryClient(), nil
	}

	baseURL := os.Getenv("PDSYNC_BASE_URL")
	token := os.Getenv("PDSYNC_AUTH_TOKEN")

	if token == "" {
		cache := authcache.New(sessionCachePath(defaults))
		if cache.IsConfigured() {
			passphrase, err := authcache.ReadPassphrase(int(os.Stdin.Fd()), "Session passphrase: ")
			if err != nil {
				return nil, fmt.Errorf("reading session passphrase: %w", err)
			}
			cached, err := cache.Unlock(passphrase)
			if err != nil {
				return nil, fmt.Errorf("unlocking cached session: %w", err)
			}
			token = string(cached)
		}
	}

	if token == "" || baseURL == "" {
		return drive.NewMemoryClient(), nil
	}

	provider := auth.New(staticTokenProvider{baseURL: baseURL, token: token})
	return provider.Login()
}

// sessionCachePath is the age-encrypted bearer token cache written by
// `pdsync login` and read back by newClient.
func sessionCachePath(defaults *config.Defaults) string {
	return filepath.Join(defaults.StateDir, "session.age")
}

type staticTokenProvider struct {
	baseURL string
	token   string
}

func (p staticTokenProvider) Login() (core.Client, error) {
	return drive.NewHTTPClient(p.baseURL, p.token), nil
}

// buildRoots resolves cfg's sync_dirs into engine.SyncRoot values, one
// stable ID per configured directory.
func buildRoots(cfg *config.Config) []engine.SyncRoot {
	ignore := watcher.NewIgnoreMatcher(cfg.ExcludePatterns)
	roots := make([]engine.SyncRoot, len(cfg.SyncDirs))
	for i, d := range cfg.SyncDirs {
		abs, err := filepath.Abs(d.SourcePath)
		if err != nil {
			abs = d.SourcePath
		}
		roots[i] = engine.SyncRoot{
			ID:         fmt.Sprintf("root-%d", i),
			LocalPath:  abs,
			RemoteRoot: d.RemoteRoot,
			Ignore:     ignore,
		}
	}
	return roots
}

var (
	flagNoWatch    bool
	flagDryRun     bool
	flagPaused     bool
	flagMemoryOnly bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the sync engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := config.GetDefaults()
		if err != nil {
			return fmt.Errorf("resolving default paths: %w", err)
		}
		cfg, err := config.Load(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, closer, err := logging.New(defaults.LogDir, "engine")
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer closer.Close()
		coreLogger := logging.NewAdapter(logger)

		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		client, err := newClient(flagMemoryOnly, defaults)
		if err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}

		clock := core.RealClock{}
		proc := processor.New(s, client, clock,
			processor.WithConcurrency(cfg.SyncConcurrency),
			processor.WithLogger(coreLogger),
		)

		roots := buildRoots(cfg)
		eng, err := engine.New(s, client, clock, coreLogger, roots, proc, engine.Options{
			NoWatch: flagNoWatch,
			DryRun:  flagDryRun,
			Paused:  flagPaused,
		})
		if err != nil {
			return fmt.Errorf("constructing engine: %w", err)
		}

		return eng.Run(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running engine to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pushSignal(model.SignalStop)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause claiming new jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pushSignal(model.SignalPause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume claiming new jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pushSignal(model.SignalResume)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Cache a Proton Drive bearer token, encrypted at rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := os.Getenv("PDSYNC_AUTH_TOKEN")
		if token == "" {
			return fmt.Errorf("login: set PDSYNC_AUTH_TOKEN to a bearer token obtained via the out-of-scope SRP handshake")
		}

		defaults, err := config.GetDefaults()
		if err != nil {
			return fmt.Errorf("resolving default paths: %w", err)
		}
		if err := os.MkdirAll(defaults.StateDir, 0o755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}

		passphrase, err := authcache.ReadPassphrase(int(os.Stdin.Fd()), "Set a session passphrase: ")
		if err != nil {
			return fmt.Errorf("reading session passphrase: %w", err)
		}

		cache := authcache.New(sessionCachePath(defaults))
		if err := cache.Save(passphrase, []byte(token)); err != nil {
			return fmt.Errorf("caching session: %w", err)
		}
		fmt.Fprintln(os.Stdout, "session cached; PDSYNC_AUTH_TOKEN is no longer needed for `pdsync start`")
		return nil
	},
}

var (
	flagBackupBucket string
	flagBackupPrefix string
	flagBackupRegion string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the state store and upload it to S3",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagBackupBucket == "" {
			return fmt.Errorf("backup: --bucket is required")
		}

		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		uploader, err := statebackup.New(cmd.Context(), s, statebackup.Config{
			Bucket: flagBackupBucket,
			Prefix: flagBackupPrefix,
			Region: flagBackupRegion,
		})
		if err != nil {
			return fmt.Errorf("constructing uploader: %w", err)
		}

		key, err := uploader.Snapshot(cmd.Context(), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("snapshotting state store: %w", err)
		}
		fmt.Fprintf(os.Stdout, "uploaded snapshot to s3://%s/%s\n", flagBackupBucket, key)
		return nil
	},
}

func pushSignal(tag model.SignalTag) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return s.PushSignal(tag)
}

var (
	flagResetSignalsOnly bool
	flagResetRetriesOnly bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the state store",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		switch {
		case flagResetSignalsOnly:
			for {
				_, ok, err := s.PopSignal()
				if err != nil {
					return fmt.Errorf("draining signal queue: %w", err)
				}
				if !ok {
					return nil
				}
			}
		case flagResetRetriesOnly:
			return resetRetryTimers(s)
		default:
			return s.ResetAll()
		}
	},
}

// resetRetryTimers clears retryAt on every BLOCKED job so it is eligible
// for immediate reclaim, without touching PENDING/PROCESSING/SYNCED rows.
func resetRetryTimers(s *store.SQLiteStore) error {
	blocked, err := s.ListBlocked(-1)
	if err != nil {
		return fmt.Errorf("listing blocked jobs: %w", err)
	}
	now := time.Now()
	for _, job := range blocked {
		if err := s.FailJob(job.ID, job.LastError, &now, false); err != nil {
			return fmt.Errorf("unblocking job %d: %w", job.ID, err)
		}
	}
	return nil
}

func init() {
	startCmd.Flags().BoolVar(&flagNoWatch, "no-watch", false, "run the initial scan only, without a live watcher")
	startCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "perform reads only; skip all state and network writes")
	startCmd.Flags().BoolVar(&flagPaused, "paused", false, "start with job claiming paused")
	startCmd.Flags().BoolVar(&flagMemoryOnly, "memory-backend", false, "use the in-memory drive backend instead of PDSYNC_AUTH_TOKEN/PDSYNC_BASE_URL")

	resetCmd.Flags().BoolVar(&flagResetSignalsOnly, "signals-only", false, "clear only the signal queue")
	resetCmd.Flags().BoolVar(&flagResetRetriesOnly, "retries-only", false, "clear only retry timers on blocked jobs")

	backupCmd.Flags().StringVar(&flagBackupBucket, "bucket", "", "destination S3 bucket (required)")
	backupCmd.Flags().StringVar(&flagBackupPrefix, "prefix", "", "destination S3 key prefix")
	backupCmd.Flags().StringVar(&flagBackupRegion, "region", "us-east-1", "AWS region")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(backupCmd)
}
