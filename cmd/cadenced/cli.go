package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/api"
	audithook "github.com/xraph/cadence/audit_hook"
	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/client"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/executor"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/store/postgres"
	redisstore "github.com/xraph/cadence/store/redis"
)

var (
	configFile string
	serverURL  string
)

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cadenced",
		Short: "cadenced: a bucket-leased distributed workflow scheduler",
		Long: `cadenced runs a scheduling node. Nodes share a PostgreSQL catalog and
a Redis broadcast stream; each owns a disjoint set of buckets of the run
keyspace and dispatches the runs in them to HTTP executors.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "cadence.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "",
		"send control commands to a running node at this URL instead of opening the backends")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildTriggerCommand())
	rootCmd.AddCommand(buildKillCommand())
	rootCmd.AddCommand(buildRerunCommand())
	rootCmd.AddCommand(buildRefreshCommand())

	return rootCmd
}

// ──────────────────────────────────────────────────
// Wiring
// ──────────────────────────────────────────────────

// runtime is an engine built on the configured backends.
type runtime struct {
	cfg    daemonConfig
	logger *slog.Logger
	node   *cadence.Node
	engine *engine.Engine
	rdb    *redis.Client
}

func (rt *runtime) Close() {
	if err := rt.node.Close(); err != nil {
		rt.logger.Warn("close backends", slog.String("error", err.Error()))
	}
	if err := rt.rdb.Close(); err != nil {
		rt.logger.Warn("close redis client", slog.String("error", err.Error()))
	}
}

func openRuntime(ctx context.Context, path string) (*runtime, error) {
	nodeCfg, err := cadence.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg, err := loadDaemonConfig(path)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rs := redisstore.New(rdb,
		redisstore.WithLogger(logger),
		redisstore.WithCodec(broadcast.GetCodec(cfg.Redis.Codec)),
		redisstore.WithStreamMaxLen(cfg.Redis.StreamMaxLen),
	)
	if err := rs.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	pg, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	check := pg.CheckSchema
	if cfg.Postgres.Migrate {
		check = pg.Migrate
	}
	if err := check(ctx); err != nil {
		_ = pg.Close()
		_ = rdb.Close()
		return nil, err
	}

	var clusterStore cadence.Storer = rs
	if cfg.ClusterStore == "postgres" {
		clusterStore = pg
	}
	node, err := cadence.New(
		cadence.WithConfig(nodeCfg),
		cadence.WithLogger(logger),
		cadence.WithCatalog(pg),
		cadence.WithClusterStore(clusterStore),
		cadence.WithTransport(rs),
	)
	if err != nil {
		_ = pg.Close()
		_ = rdb.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Executor.Timeout}
	endpoints := make([]executor.Endpoint, 0, len(cfg.Executor.Endpoints))
	for _, base := range cfg.Executor.Endpoints {
		endpoints = append(endpoints, executor.NewHTTPEndpoint(base, httpClient))
	}

	opts := []engine.Option{
		engine.WithExecutor(executor.NewRouter(logger, endpoints...)),
		engine.WithClaimStore(rs, cfg.Redis.ClaimTTL),
		engine.WithThrottle(cfg.Throttle...),
	}
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(
			audithook.New(audithook.NewLogRecorder(logger.With(slog.String("component", "audit")))),
		))
	}

	eng, err := engine.Build(node, opts...)
	if err != nil {
		_ = node.Close()
		_ = rdb.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, node: node, engine: eng, rdb: rdb}, nil
}

// controller is the control API shared by a local engine and a remote
// node client.
type controller interface {
	TriggerWorkflow(ctx context.Context, workflowID int64) (id.RunID, error)
	KillWorkflowRun(ctx context.Context, workflowRunID id.RunID) error
	RerunWorkflowRun(ctx context.Context, workflowRunID id.RunID, jobRuns map[id.RunID]int64) (id.RunID, error)
	RefreshJobInfo(ctx context.Context, jobID int64, op broadcast.RefreshOp) error
}

var (
	_ controller = (*engine.Engine)(nil)
	_ controller = (*client.Client)(nil)
)

// withController runs one control command against --server when set, or
// against an engine built on the configured backends.
func withController(cmd *cobra.Command, fn func(ctx context.Context, c controller) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if serverURL != "" {
		return fn(ctx, client.New(serverURL))
	}
	rt, err := openRuntime(ctx, configFile)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.engine)
}

// ──────────────────────────────────────────────────
// run
// ──────────────────────────────────────────────────

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a scheduling node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx)
		},
	}
}

func runNode(ctx context.Context) error {
	rt, err := openRuntime(ctx, configFile)
	if err != nil {
		return fmt.Errorf("failed to open backends: %w", err)
	}
	defer rt.Close()
	logger, eng := rt.logger, rt.engine

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              rt.cfg.HTTP.Addr,
		Handler:           api.New(eng, logger).Handler(),
		ReadHeaderTimeout: rt.cfg.HTTP.ReadHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.node.Config().ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine stop", slog.String("error", err.Error()))
	}
	return runErr
}

// ──────────────────────────────────────────────────
// Control commands
// ──────────────────────────────────────────────────

func buildTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <workflowID>",
		Short: "Start a run of an ONLINE workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID, err := parseID("workflow id", args[0])
			if err != nil {
				return err
			}
			return withController(cmd, func(ctx context.Context, c controller) error {
				runID, err := c.TriggerWorkflow(ctx, workflowID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), runID)
				return nil
			})
		},
	}
}

func buildKillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <workflowRunID>",
		Short: "Cancel every active job run of a workflow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return err
			}
			return withController(cmd, func(ctx context.Context, c controller) error {
				return c.KillWorkflowRun(ctx, runID)
			})
		},
	}
}

func buildRerunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <workflowRunID> [jobRunID=jobID ...]",
		Short: "Repeat job runs of a finished workflow run",
		Long: `Repeat the selected job runs of a workflow run in a new workflow run.
Without a selection every job run that did not succeed is repeated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return err
			}
			jobRuns, err := parseJobRuns(args[1:])
			if err != nil {
				return err
			}
			return withController(cmd, func(ctx context.Context, c controller) error {
				next, err := c.RerunWorkflowRun(ctx, runID, jobRuns)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), next)
				return nil
			})
		},
	}
}

func buildRefreshCommand() *cobra.Command {
	var deleted bool
	cmd := &cobra.Command{
		Use:   "refresh <jobID>",
		Short: "Tell every node that a job definition changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID("job id", args[0])
			if err != nil {
				return err
			}
			op := broadcast.RefreshUpdate
			if deleted {
				op = broadcast.RefreshDelete
			}
			return withController(cmd, func(ctx context.Context, c controller) error {
				return c.RefreshJobInfo(ctx, jobID, op)
			})
		},
	}
	cmd.Flags().BoolVar(&deleted, "delete", false, "the job definition was deleted")
	return cmd
}

func parseID(what, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}

// parseJobRuns reads jobRunID=jobID pairs.
func parseJobRuns(args []string) (map[id.RunID]int64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[id.RunID]int64, len(args))
	for _, arg := range args {
		runPart, jobPart, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid selection %q, want jobRunID=jobID", arg)
		}
		runID, err := id.ParseRunID(runPart)
		if err != nil {
			return nil, err
		}
		jobID, err := parseID("job id", jobPart)
		if err != nil {
			return nil, err
		}
		out[runID] = jobID
	}
	return out, nil
}
