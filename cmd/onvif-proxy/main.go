package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/config"
	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/anthonyacole/onvif-proxy/internal/service"
	redisx "github.com/anthonyacole/onvif-proxy/redis"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "onvif-proxy",
		Short: "ONVIF gateway that repairs Reolink camera responses for standard clients",
		Long: `onvif-proxy serves each configured camera under /onvif/{cameraId}/ and
forwards device, media and event requests to it, rewriting the answers into
standard ONVIF. Motion events are polled from the camera and served through
pull-point subscriptions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	bindFlags(cmd, v)
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	cmd.AddCommand(newCheckConfigCmd(v))
	return cmd
}

// bindFlags registers the persistent flags and binds each to its viper key,
// so a flag beats the environment, which beats the file.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", config.DefaultPath, "camera configuration file (env CONFIG_PATH)")
	f.String("listen", "", "listen address, overrides proxy.listen_address (env LISTEN_ADDRESS)")
	f.String("base-url", "", "URL clients use to reach the gateway (env BASE_URL)")
	f.String("redis", "", "Redis address for the camera store (env REDIS_ADDRESS)")
	f.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")

	for key, flag := range map[string]string{
		config.KeyConfigPath:    "config",
		config.KeyListenAddress: "listen",
		config.KeyBaseURL:       "base-url",
		config.KeyRedisAddress:  "redis",
		config.KeyLogLevel:      "log-level",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
}

func newCheckConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print each camera's translation pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return checkConfig(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

// checkConfig resolves every camera's pipeline without contacting anything.
func checkConfig(ctx context.Context, w io.Writer, cfg *config.Config) error {
	reg := registry.New(nil, nil, zap.NewNop())
	for _, ep := range cfg.Cameras {
		if _, err := reg.Upsert(ctx, ep); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "listen %s, base url %s\n", cfg.Proxy.ListenAddress, valueOr(cfg.Proxy.BaseURL, "(detected at start)"))
	fmt.Fprintf(w, "%d camera(s)\n", reg.Len())
	for _, ep := range reg.List() {
		entry, err := reg.Get(ep.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-16s %-22s model=%s pipeline=%v\n", ep.ID, ep.Address, ep.Model, entry.Pipeline.Rules())
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.Named("main")

	log.Info("starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("env", cfg.Env),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, closeStore, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	lister := config.NewLocalAddrLister(config.LocalAddrListerOptions{RequireInterfaceUp: true})
	baseURL := cfg.Proxy.BaseURL
	if baseURL == "" {
		baseURL, err = lister.BaseURL(ctx, cfg.ListenPort())
		if err != nil {
			return fmt.Errorf("detect base url (set proxy.base_url): %w", err)
		}
		log.Info("base url detected", zap.String("base_url", baseURL))
	}

	mgr := events.NewManager(cfg.Events, log)
	gw := service.NewGateway(mgr, baseURL, log)
	r := buildRouter(cfg, log, routerDeps{
		registry: reg,
		events:   mgr,
		gateway:  gw,
		addrs:    lister,
	})

	httpsrv := &http.Server{
		Addr:              cfg.Proxy.ListenAddress,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,                         // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second,                        // full request read (incl. body)
		WriteTimeout:      service.MaxPullTimeout + 30*time.Second, // PullMessages may wait this long
		IdleTimeout:       60 * time.Second,                        // keep-alive cap
		MaxHeaderBytes:    1 << 20,                                 // 1MB cap
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error {
		log.Info("running HTTP server",
			zap.String("addr", httpsrv.Addr),
			zap.String("base_url", baseURL),
			zap.Int("cameras", reg.Len()),
		)
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpsrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("server closed")
	return err
}

// buildRegistry opens the Redis store when one is configured, restores the
// cameras saved there and then applies the configured ones on top.
func buildRegistry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*registry.Registry, func(), error) {
	var (
		store     registry.Store
		closeFunc = func() {}
	)
	if cfg.Redis.Address != "" {
		rc := redisx.NewClient(cfg.Redis, log)
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, nil, err
		}
		rs, err := registry.NewRedisStore(rc.Client, cfg.Redis.KeyPrefix, log)
		if err != nil {
			_ = rc.Close()
			return nil, nil, err
		}
		store = rs
		closeFunc = func() { _ = rc.Close() }
	}

	reg := registry.New(quirks.NewRegistry(log), store, log)
	if store != nil {
		n, err := reg.Load(ctx)
		if err != nil {
			closeFunc()
			return nil, nil, fmt.Errorf("restore cameras: %w", err)
		}
		log.Info("cameras restored", zap.Int("count", n))
	}
	for _, ep := range cfg.Cameras {
		if _, err := reg.Upsert(ctx, ep); err != nil {
			closeFunc()
			return nil, nil, fmt.Errorf("camera %s: %w", ep.ID, err)
		}
	}
	if reg.Len() == 0 {
		log.Warn("no cameras configured; add some through PUT /api/cameras/{id}")
	}
	return reg, closeFunc, nil
}

// buildLogger follows the console layout used in development (colored levels,
// no timestamps, no caller) unless JSON output is configured.
func buildLogger(o config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}

	var logConfig zap.Config
	if o.Format == "json" {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.TimeKey = ""
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level = zap.NewAtomicLevelAt(level)
	return logConfig.Build()
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "onvif-proxy %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
