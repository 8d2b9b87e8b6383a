// Command server runs the embedded HTTP and WebSocket server: a JSON API,
// the preview and sampling services, an admin router, Prometheus metrics
// and static files from a document root.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matrixji/beast-examples/internal/handlers"
	"github.com/matrixji/beast-examples/internal/preview"
	"github.com/matrixji/beast-examples/internal/sampling"
	"github.com/matrixji/beast-examples/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Set at build time.
var version = "dev"

const defaultDocRoot = "/tmp"

type options struct {
	cfg           *server.Config
	docRoot       string
	drainTimeout  time.Duration
	logLevel      string
	logPretty     bool
	previewLimit  int
	sampleEvery   time.Duration
	s3            preview.S3Options
	metricsEnable bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: server.NewConfigFromEnv()}

	cmd := &cobra.Command{
		Use:   "server [docroot] [port]",
		Short: "Embedded HTTP and WebSocket server",
		Long: `Serves the JSON API, picture previews, calibration sampling, the admin
router and static files below docroot (default /tmp) on port (default 8088).
Every connection is upgraded to a WebSocket session when it asks for it.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.applyArgs(args, cmd.Flags().Changed("addr")); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cfg.Addr, "addr", opts.cfg.Addr, "listen address, overrides the port argument")
	f.DurationVar(&opts.cfg.IdleTimeout, "idle-timeout", opts.cfg.IdleTimeout, "close sessions idle this long")
	f.Int64Var(&opts.cfg.BodyLimit, "body-limit", opts.cfg.BodyLimit, "maximum request body in bytes")
	f.IntVar(&opts.cfg.MaxHeaderBytes, "max-header-bytes", opts.cfg.MaxHeaderBytes, "maximum request line and headers in bytes")
	f.IntVar(&opts.cfg.WriteQueueLimit, "write-queue-limit", opts.cfg.WriteQueueLimit, "outstanding responses before a connection stops reading")
	f.StringSliceVar(&opts.cfg.AllowedOrigins, "allowed-origins", opts.cfg.AllowedOrigins, "origins allowed to open WebSocket sessions")
	f.Int64Var(&opts.cfg.MaxMessageSize, "max-message-size", opts.cfg.MaxMessageSize, "maximum inbound WebSocket message in bytes")
	f.IntVar(&opts.cfg.InboundQueueSize, "inbound-queue-size", opts.cfg.InboundQueueSize, "inbound WebSocket messages buffered per session")
	f.IntVar(&opts.cfg.SendQueueSize, "send-queue-size", opts.cfg.SendQueueSize, "outbound WebSocket messages buffered per session")
	f.DurationVar(&opts.cfg.WriteWait, "write-wait", opts.cfg.WriteWait, "deadline for a single WebSocket write")
	f.IntVar(&opts.cfg.RateLimit.Burst, "rate-limit-burst", opts.cfg.RateLimit.Burst, "inbound WebSocket messages allowed in a burst")
	f.DurationVar(&opts.cfg.RateLimit.RefillInterval, "rate-limit-interval", opts.cfg.RateLimit.RefillInterval, "time to refill the whole burst")
	f.DurationVar(&opts.drainTimeout, "drain-timeout", 30*time.Second, "time allowed for sessions to drain on shutdown")
	f.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	f.BoolVar(&opts.logPretty, "log-pretty", false, "human readable console logs")
	f.BoolVar(&opts.metricsEnable, "metrics", true, "serve Prometheus metrics at /metrics")
	f.IntVar(&opts.previewLimit, "preview-limit", preview.DefaultLimit, "previews kept before the oldest is dropped")
	f.DurationVar(&opts.sampleEvery, "sampling-interval", time.Second, "tick of calibration sampling jobs")
	f.StringVar(&opts.s3.Bucket, "s3-bucket", "", "store preview pictures in this S3 bucket instead of memory")
	f.StringVar(&opts.s3.Prefix, "s3-prefix", "previews/", "key prefix for preview pictures")
	f.StringVar(&opts.s3.Region, "s3-region", envOr("AWS_REGION", "us-east-1"), "S3 region")
	f.StringVar(&opts.s3.Endpoint, "s3-endpoint", "", "custom S3 endpoint URL")
	f.BoolVar(&opts.s3.PathStyle, "s3-path-style", false, "use path-style S3 addressing")

	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "server %s (api %s)\n", version, handlers.APIVersion)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// applyArgs takes the positional docroot and port. The port only sets the
// listen address when --addr was not given.
func (o *options) applyArgs(args []string, addrSet bool) error {
	o.docRoot = defaultDocRoot
	if len(args) >= 1 {
		o.docRoot = args[0]
	}
	if len(args) >= 2 {
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		if !addrSet {
			o.cfg.Addr = net.JoinHostPort("", strconv.FormatUint(port, 10))
		}
	}
	return nil
}

func newLogger(level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger(), nil
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}

func run(ctx context.Context, opts *options) error {
	log, err := newLogger(opts.logLevel, opts.logPretty)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.NewServer(*opts.cfg, server.WithLogger(log), server.WithMetrics(server.NewMetrics(reg)))
	listener, err := server.NewListener(srv)
	if err != nil {
		log.Error().Err(err).Str("addr", opts.cfg.Addr).Msg("cannot start listener")
		return err
	}

	samplingSvc := sampling.NewService(opts.sampleEvery, log.With().Str("component", "sampling").Logger())
	defer samplingSvc.Close()

	if err := installRoutes(srv, reg, opts, samplingSvc, log); err != nil {
		_ = listener.Shutdown(context.Background())
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- listener.Run() }()
	log.Info().Str("addr", listener.Addr().String()).Str("docroot", opts.docRoot).Str("version", version).Msg("server started")

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("drain_timeout", opts.drainTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.drainTimeout)
	defer cancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Warn().Msg("drain timeout reached, remaining sessions were closed")
	}
	if err := <-runErr; err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// installRoutes registers every route. Order matters: the static handler
// is the catch-all and goes last.
func installRoutes(srv *server.Server, reg *prometheus.Registry, opts *options, svc *sampling.Service, log zerolog.Logger) error {
	if err := srv.Handle(`^/api/v1/version$`, handlers.Version()); err != nil {
		return err
	}
	if err := sampling.Install(srv, svc); err != nil {
		return err
	}

	var blobs preview.BlobStore = preview.NewMemoryBlobs()
	if opts.s3.Bucket != "" {
		blobs = preview.NewS3Blobs(preview.NewS3Client(opts.s3), opts.s3.Bucket, opts.s3.Prefix)
		log.Info().Str("bucket", opts.s3.Bucket).Str("region", opts.s3.Region).Msg("preview pictures stored in S3")
	}
	previewLog := log.With().Str("component", "preview").Logger()
	store := preview.NewStore(blobs, opts.previewLimit, previewLog)
	if err := preview.Install(srv, preview.NewCache(store, previewLog), store); err != nil {
		return err
	}

	if err := srv.Handle(handlers.AdminPattern, handlers.Admin(srv)); err != nil {
		return err
	}
	if opts.metricsEnable {
		metrics := server.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		if err := srv.Handle(`^/metrics$`, metrics); err != nil {
			return err
		}
	}
	handlers.InstallMessages(srv)

	return srv.Handle(`.*`, handlers.NewStatic(opts.docRoot))
}
