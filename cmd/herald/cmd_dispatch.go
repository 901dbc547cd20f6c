package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	inats "github.com/wehubfusion/Herald/internal/nats"
	"github.com/wehubfusion/Herald/internal/tracing"
	"github.com/wehubfusion/Herald/pkg/assets"
	"github.com/wehubfusion/Herald/pkg/concurrency"
	"github.com/wehubfusion/Herald/pkg/dispatch"
	herrors "github.com/wehubfusion/Herald/pkg/errors"
	"github.com/wehubfusion/Herald/pkg/job"
	"github.com/wehubfusion/Herald/pkg/platform/graphapi"
	"github.com/wehubfusion/Herald/pkg/storage"
	"github.com/wehubfusion/Herald/pkg/transport/natsexec"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	transportGraph = "graph"
	transportNATS  = "nats"
)

var dispatchFlags struct {
	targets   []string
	transport string
	subject   string
	batchSize int
	retries   int
	trace     bool
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <tree.yaml>",
	Short: "Render a tree and send it to one or more targets",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

func init() {
	f := dispatchCmd.Flags()
	f.StringSliceVarP(&dispatchFlags.targets, "target", "t", nil, "Target id (repeatable)")
	f.StringVar(&dispatchFlags.transport, "transport", transportGraph, "Executor transport (graph or nats)")
	f.StringVar(&dispatchFlags.subject, "subject", natsexec.DefaultSubject, "NATS subject for the nats transport")
	f.IntVar(&dispatchFlags.batchSize, "batch-size", 0, "Override HERALD_MAX_BATCH_SIZE")
	f.IntVar(&dispatchFlags.retries, "retries", 0, "Override HERALD_RETRY_MAX_TRIES")
	f.BoolVar(&dispatchFlags.trace, "trace", false, "Export traces over OTLP")

	_ = dispatchCmd.MarkFlagRequired("target")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(rootFlags.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	if dispatchFlags.trace {
		shutdown, err := tracing.SetupTracing(ctx, tracing.LoadConfig("herald"), logger)
		if err != nil {
			return err
		}
		defer tracing.ShutdownTracing(shutdown, logger) //nolint:errcheck
	}

	tree, err := loadTree(args[0])
	if err != nil {
		return err
	}

	config := dispatch.LoadConfig()
	if dispatchFlags.batchSize > 0 {
		config.MaxBatchSize = dispatchFlags.batchSize
	}
	if dispatchFlags.retries > 0 {
		config.RetryMaxTries = dispatchFlags.retries
	}
	logger.Info("Dispatch configuration", zap.String("config", config.String()))

	executor, closeExecutor, err := newExecutor(ctx, logger)
	if err != nil {
		return err
	}
	defer closeExecutor()

	store, err := newAssetStore(logger)
	if err != nil {
		return err
	}

	concurrencyConfig := concurrency.LoadConfig()
	logger.Info("Concurrency configuration", zap.String("config", concurrencyConfig.String()))

	middlewares := []dispatch.Middleware{
		dispatch.LoggingMiddleware(logger),
		dispatch.TracingMiddleware(otel.Tracer("herald")),
	}
	if reporting, flush := newReporting(logger); reporting != nil {
		defer flush()
		middlewares = append(middlewares, reporting)
	}
	middlewares = append(middlewares,
		dispatch.LimiterMiddleware(concurrencyConfig.NewLimiter()),
		assets.SaveMiddleware(store, logger),
		graphapi.ReuseMiddleware(store, logger),
	)

	d, err := dispatch.New(
		graphapi.NewRenderer(logger),
		graphapi.NewCompiler(logger),
		executor,
		config,
		logger,
		middlewares...,
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			logger.Warn("Dispatcher did not drain", zap.Error(err))
		}
	}()

	targets := make([]job.Target, len(dispatchFlags.targets))
	for i, t := range dispatchFlags.targets {
		targets[i] = job.StringTarget(t)
	}

	responses, err := d.DispatchMany(ctx, tree, targets...)
	printResponses(cmd.OutOrStdout(), targets, responses)
	return err
}

// newExecutor builds the executor for the selected transport and returns a
// function releasing its connection.
func newExecutor(ctx context.Context, logger *zap.Logger) (dispatch.Executor, func(), error) {
	switch dispatchFlags.transport {
	case transportGraph:
		exec, err := graphapi.NewExecutor(graphapi.LoadConfig(), logger)
		return exec, func() {}, err

	case transportNATS:
		conn, err := inats.Connect(ctx, inats.LoadConnectionConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		exec, err := natsexec.NewExecutor(conn, natsexec.Config{Subject: dispatchFlags.subject}, logger)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return exec, func() {
			if err := inats.Close(conn); err != nil {
				logger.Warn("Failed to close NATS connection", zap.Error(err))
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", dispatchFlags.transport)
}

// newAssetStore keeps asset ids in memory, backed by blob storage when
// HERALD_AZURE_STORAGE_CONNECTION_STRING is set.
func newAssetStore(logger *zap.Logger) (assets.Store, error) {
	memory, err := assets.NewMemoryStore(10000, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	conn := os.Getenv("HERALD_AZURE_STORAGE_CONNECTION_STRING")
	if conn == "" {
		return memory, nil
	}
	container := os.Getenv("HERALD_AZURE_STORAGE_CONTAINER")
	if container == "" {
		container = "herald"
	}
	blobs, err := storage.NewAzureBlobClient(conn, container, logger)
	if err != nil {
		return nil, err
	}
	durable := assets.NewBlobStore(storage.NewRecordClient(blobs, logger), graphapi.Platform)
	return assets.NewTieredStore(memory, durable, logger), nil
}

// newReporting enables error reporting when HERALD_SENTRY_DSN is set.
func newReporting(logger *zap.Logger) (dispatch.Middleware, func()) {
	dsn := os.Getenv("HERALD_SENTRY_DSN")
	if dsn == "" {
		return nil, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: os.Getenv("HERALD_ENVIRONMENT"),
		Release:     "herald@" + version,
	}); err != nil {
		logger.Warn("Failed to initialize error reporting", zap.Error(err))
		return nil, nil
	}
	return dispatch.ReportingMiddleware(sentry.CurrentHub()), func() { sentry.Flush(2 * time.Second) }
}

func printResponses(out io.Writer, targets []job.Target, responses []*dispatch.Response) {
	for i, resp := range responses {
		uid := targets[i].UID()
		if resp == nil {
			fmt.Fprintf(out, "%s: not sent\n", uid)
			continue
		}
		failed := resp.Failed()
		fmt.Fprintf(out, "%s: %d jobs, %d failed\n", uid, len(resp.Results), len(failed))
		for _, idx := range failed {
			r := resp.Results[idx]
			reason := "not attempted"
			if r != nil && r.Err != nil {
				reason = r.Err.Error()
			}
			if r != nil && herrors.IsDependencyUnresolved(r.Err) {
				reason = "skipped: " + reason
			}
			fmt.Fprintf(out, "  job %d: %s\n", idx, reason)
		}
	}
}
