// Package cli implements ucpctl, a command line front end for the UCP client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/ucp-agent/internal/agentprofile"
	"github.com/angelmondragon/ucp-agent/pkg/config"
	"github.com/angelmondragon/ucp-agent/pkg/logger"
	"github.com/angelmondragon/ucp-agent/pkg/metrics"
	"github.com/angelmondragon/ucp-agent/pkg/redis"
	"github.com/angelmondragon/ucp-agent/pkg/transport"
	"github.com/angelmondragon/ucp-agent/pkg/ucp"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	showMetrics bool
	logLevel    string
	requestID   string
	headers     []string
}

// Execute runs ucpctl with the process's arguments and standard streams.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(version, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree writing results to stdout and logs to stderr.
func NewRootCommand(version string, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "ucpctl",
		Short: "Talk to UCP merchants as an agent",
		Long: `ucpctl discovers UCP merchants, negotiates capabilities and drives checkouts.

Configuration is read from UCP_* environment variables (a .env file is honored).

Examples:
  ucpctl discover https://shop.example
  ucpctl checkout create https://shop.example --item SKU-1:2:19.99
  ucpctl checkout complete cs_123 --merchant https://shop.example --handler google_pay --credential '{"token":"tok"}'`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print client metrics to stderr after the command")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override UCP_LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.requestID, "request-id", "", "Request-Id sent on every call instead of generated ones")
	root.PersistentFlags().StringArrayVarP(&a.headers, "header", "H", nil, "extra request header as Name=Value (repeatable)")

	root.AddCommand(a.discoverCmd())
	root.AddCommand(a.negotiateCmd())
	root.AddCommand(a.checkoutCmd())
	root.AddCommand(a.orderCmd())
	return root
}

// session is the per-invocation wiring shared by every subcommand.
type session struct {
	cfg      *config.Config
	logger   *logger.Logger
	client   *ucp.Client
	agent    *agentprofile.Profile
	registry *prometheus.Registry
}

// run loads configuration, builds a client, runs fn and reports its outcome.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := a.open(ctx)
	if err != nil {
		writeError(a.stdout, err)
		return err
	}
	if a.requestID != "" {
		ctx = transport.WithRequestID(ctx, a.requestID)
		ctx = s.logger.WithRequestID(ctx, a.requestID)
	}
	defer func() {
		if err := s.client.Close(); err != nil {
			s.logger.Error(ctx, "close client", err)
		}
	}()

	data, err := fn(ctx, s)
	if a.showMetrics {
		a.dumpMetrics(s)
	}
	if err != nil {
		writeError(a.stdout, err)
		return err
	}
	return writeSuccess(a.stdout, data)
}

func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.Agent.Name,
		Level:       logger.ParseLevel(level),
		WarnStack:   cfg.Log.WarnStack,
		Format:      cfg.Log.Format,
		Output:      a.stderr,
	})

	agent := agentprofile.Default()
	if cfg.Agent.ProfilePath != "" {
		if agent, err = agentprofile.Load(cfg.Agent.ProfilePath); err != nil {
			return nil, err
		}
	}

	transportOpts := []transport.Option{transport.WithTimeout(cfg.HTTP.Timeout)}
	for _, raw := range a.headers {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q must be Name=Value", raw)
		}
		transportOpts = append(transportOpts, transport.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	if cfg.HTTP.BreakerEnabled {
		transportOpts = append(transportOpts, transport.WithCircuitBreaker(transport.BreakerSettings{
			ConsecutiveFailures: cfg.HTTP.BreakerFailures,
			OpenTimeout:         cfg.HTTP.BreakerOpenTimeout,
		}))
	}

	registry := prometheus.NewRegistry()
	cache, err := buildCache(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	client, err := ucp.NewClient(cfg.Agent.ProfileURL,
		ucp.WithTransportOptions(transportOpts...),
		ucp.WithCache(cache),
		ucp.WithLogger(logg),
		ucp.WithMetrics(metrics.NewClientMetrics(registry)),
		agent.ClientOption(),
	)
	if err != nil {
		if closer, ok := cache.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				logg.Error(ctx, "close profile cache", cerr)
			}
		}
		return nil, err
	}

	return &session{cfg: cfg, logger: logg, client: client, agent: agent, registry: registry}, nil
}

func buildCache(ctx context.Context, cfg *config.Config, logg *logger.Logger) (ucp.ProfileCache, error) {
	local := ucp.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if !cfg.Redis.Enabled() {
		return local, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis profile cache: %w", err)
	}
	return ucp.NewTieredCache(local, redis.NewProfileCache(client, cfg.Redis.CacheTTL)), nil
}

func (a *app) dumpMetrics(s *session) {
	families, err := s.registry.Gather()
	if err != nil {
		fmt.Fprintf(a.stderr, "gather metrics: %v\n", err)
		return
	}
	encoder := expfmt.NewEncoder(a.stderr, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			fmt.Fprintf(a.stderr, "encode metrics: %v\n", err)
			return
		}
	}
}
