package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/mnemos/internal/profile"
	"github.com/hrygo/mnemos/internal/version"
	"github.com/hrygo/mnemos/memory"
	_ "github.com/hrygo/mnemos/memory/knowledge"
	"github.com/hrygo/mnemos/memory/metrics"
	_ "github.com/hrygo/mnemos/memory/profilemem"
	"github.com/hrygo/mnemos/memory/search"
)

var rootCmd = &cobra.Command{
	Use:   "mnemos",
	Short: `A pluggable memory service: user profiles, knowledge documents, and hybrid semantic search behind one provider API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:          viper.GetString("mode"),
			Addr:          viper.GetString("addr"),
			Port:          viper.GetInt("port"),
			Data:          viper.GetString("data"),
			DSN:           viper.GetString("dsn"),
			PgDSN:         viper.GetString("pg-dsn"),
			ProfileImpl:   viper.GetString("profile-impl"),
			KnowledgeImpl: viper.GetString("knowledge-impl"),
			SearchBackend: viper.GetString("search-backend"),
			RulesPath:     viper.GetString("rules"),
			Version:       version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel(instanceProfile),
		}))
		slog.SetDefault(logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		srv, err := buildService(ctx, instanceProfile, logger)
		if err != nil {
			cancel()
			slog.Error("failed to build memory service", "error", err)
			os.Exit(1)
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		// SIGTERM is what most process managers (systemd, kubernetes) send.
		signal.Notify(c, terminationSignals...)

		go func() {
			if err := srv.start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start admin server", "error", err)
				cancel()
			}
		}()

		printGreetings(instanceProfile)

		go func() {
			<-c
			srv.shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

// service bundles the providers with the admin HTTP surface.
type service struct {
	profileProvider   memory.Provider
	knowledgeProvider memory.Provider
	backend           memory.Backend
	echo              *echo.Echo
	addr              string
	logger            *slog.Logger
}

func buildService(ctx context.Context, p *profile.Profile, logger *slog.Logger) (*service, error) {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	backend, err := buildBackend(p)
	if err != nil {
		return nil, fmt.Errorf("build search backend: %w", err)
	}

	var searcher memory.Searcher
	if backend != nil {
		searcher = search.New(backend,
			search.WithLogger(logger),
			search.WithRateLimit(50, 100),
		)
	}

	cfg := memory.Config{
		Logger:  logger,
		Search:  searcher,
		DSN:     p.DSN,
		DataDir: p.Data,
		Metrics: exporter,
	}
	if p.RulesPath != "" {
		cfg.Options = map[string]string{"rules_file": p.RulesPath}
	}

	profileProvider, err := memory.NewProvider(memory.DomainProfile, p.ProfileImpl, cfg)
	if err != nil {
		return nil, fmt.Errorf("construct profile provider: %w", err)
	}
	knowledgeProvider, err := memory.NewProvider(memory.DomainKnowledge, p.KnowledgeImpl, cfg)
	if err != nil {
		return nil, fmt.Errorf("construct knowledge provider: %w", err)
	}

	// The backend pulls content from the knowledge provider on reindex.
	if corpus, ok := knowledgeProvider.(search.Corpus); ok {
		bindCorpus(backend, corpus)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return profileProvider.Initialize(gctx) })
	g.Go(func() error { return knowledgeProvider.Initialize(gctx) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("initialize providers: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	srv := &service{
		profileProvider:   profileProvider,
		knowledgeProvider: knowledgeProvider,
		backend:           backend,
		echo:              e,
		addr:              fmt.Sprintf("%s:%d", p.Addr, p.Port),
		logger:            logger,
	}

	e.GET("/healthz", srv.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": p.Version, "build": version.StringFull()})
	})

	return srv, nil
}

func buildBackend(p *profile.Profile) (memory.Backend, error) {
	embedder, modelTag, err := buildEmbedder(p)
	if err != nil {
		return nil, err
	}

	switch p.SearchBackend {
	case "chromem":
		return search.NewChromem(embedder, modelTag), nil
	case "pgvector":
		if embedder == nil {
			embedder = search.NewHashEmbedder(p.EmbeddingDims)
			modelTag = "hash-bow"
		}
		return search.NewPgvector(p.PgDSN, embedder, modelTag)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", p.SearchBackend)
	}
}

func buildEmbedder(p *profile.Profile) (memory.EmbeddingService, string, error) {
	if !p.UsesRemoteEmbeddings() {
		// nil lets each backend fall back to its deterministic local embedder
		return nil, "", nil
	}
	svc, err := memory.NewEmbeddingService(&memory.EmbeddingConfig{
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDims,
	})
	if err != nil {
		return nil, "", err
	}
	return svc, p.EmbeddingModel, nil
}

type corpusBinder interface {
	BindCorpus(search.Corpus)
}

func bindCorpus(backend memory.Backend, corpus search.Corpus) {
	if b, ok := backend.(corpusBinder); ok {
		b.BindCorpus(corpus)
	}
}

func (s *service) start() error {
	return s.echo.Start(s.addr)
}

func (s *service) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin server shutdown", "error", err)
	}
	if err := s.knowledgeProvider.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("knowledge provider shutdown", "error", err)
	}
	if err := s.profileProvider.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("profile provider shutdown", "error", err)
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("search backend close", "error", err)
		}
	}
	s.logger.Info("mnemos stopped")
}

func (s *service) handleHealthz(c echo.Context) error {
	ctx := c.Request().Context()

	type domainHealth struct {
		Status  memory.HealthState `json:"status"`
		Latency string             `json:"latency"`
		Details map[string]string  `json:"details,omitempty"`
	}
	report := make(map[string]domainHealth, 2)

	overall := memory.HealthHealthy
	for domain, provider := range map[memory.Domain]memory.Provider{
		memory.DomainProfile:   s.profileProvider,
		memory.DomainKnowledge: s.knowledgeProvider,
	} {
		h, err := provider.HealthCheck(ctx)
		if err != nil {
			report[string(domain)] = domainHealth{Status: memory.HealthUnhealthy, Details: map[string]string{"error": err.Error()}}
			overall = memory.HealthUnhealthy
			continue
		}
		report[string(domain)] = domainHealth{Status: h.Status, Latency: h.Latency.String(), Details: h.Details}
		switch h.Status {
		case memory.HealthUnhealthy:
			overall = memory.HealthUnhealthy
		case memory.HealthDegraded:
			if overall == memory.HealthHealthy {
				overall = memory.HealthDegraded
			}
		}
	}

	code := http.StatusOK
	if overall == memory.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{"status": overall, "domains": report})
}

func logLevel(p *profile.Profile) slog.Level {
	if p.IsDev() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28091)
	viper.SetDefault("search-backend", "chromem")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("dsn", "", "sqlite data source name for the profile domain")
	rootCmd.PersistentFlags().String("pg-dsn", "", "postgres data source name for the pgvector backend")
	rootCmd.PersistentFlags().String("profile-impl", "memory", "profile memory implementation (memory, sqlite)")
	rootCmd.PersistentFlags().String("knowledge-impl", "memory", "knowledge memory implementation (memory)")
	rootCmd.PersistentFlags().String("search-backend", "chromem", "search backend (chromem, pgvector, none)")
	rootCmd.PersistentFlags().String("rules", "", "path to an extraction rules file")

	for _, key := range []string{"mode", "addr", "port", "data", "dsn", "pg-dsn", "profile-impl", "knowledge-impl", "search-backend", "rules"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("mnemos")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Mnemos %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Profile implementation: %s\n", p.ProfileImpl)
	fmt.Printf("Search backend: %s\n", p.SearchBackend)
	fmt.Printf("Mode: %s\n", p.Mode)

	if len(p.Addr) == 0 {
		fmt.Printf("Admin endpoints on http://localhost:%d (healthz, metrics, version)\n", p.Port)
	} else {
		fmt.Printf("Admin endpoints on http://%s:%d (healthz, metrics, version)\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
