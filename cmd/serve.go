package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gluk-w/codelive/internal/aibridge"
	"github.com/gluk-w/codelive/internal/auth"
	"github.com/gluk-w/codelive/internal/config"
	"github.com/gluk-w/codelive/internal/database"
	"github.com/gluk-w/codelive/internal/handlers"
	"github.com/gluk-w/codelive/internal/live"
	"github.com/gluk-w/codelive/internal/llm"
	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/metrics"
	"github.com/gluk-w/codelive/internal/middleware"
	"github.com/gluk-w/codelive/internal/runner"
	"github.com/gluk-w/codelive/internal/terminal"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and live channel server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func validatorFromConfig() (auth.Validator, error) {
	if config.Cfg.AuthDisabled {
		return auth.AllowAll{}, nil
	}
	if config.Cfg.JWTSecret == "" {
		return nil, errors.New("CODELIVE_JWT_SECRET is required unless CODELIVE_AUTH_DISABLED=true")
	}
	return auth.NewHMACValidator(config.Cfg.JWTSecret), nil
}

// originHosts turns CORS origins into the host patterns websocket.Accept
// matches against. A "*" origin disables the check.
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

func serve(ctx context.Context) error {
	cfg := config.Cfg
	log := logging.NewLogger("main")

	validator, err := validatorFromConfig()
	if err != nil {
		return err
	}
	if cfg.AuthDisabled {
		log.Warn("authentication is disabled, every client is anonymous")
	}

	toolchain, err := config.LoadToolchain(cfg.ToolchainFile)
	if err != nil {
		return err
	}

	if err := database.Init(cfg.DatabasePath); err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer database.Close()
	store := database.NewStore(database.DB)

	m := metrics.New()
	hub := live.NewHub(m)

	engine := runner.NewEngine(runner.Options{
		TempDir:      cfg.RunTempDir,
		Timeout:      cfg.RunTimeout,
		OutputBuffer: cfg.RunOutputBuffer,
		Toolchain:    toolchain,
		Emitter:      hub,
		Metrics:      m,
	})
	terminals := terminal.NewMultiplexer(terminal.Options{
		Shell:   cfg.TerminalShell,
		Workdir: cfg.TerminalWorkdir,
		Spawner: terminal.PTYSpawner{},
		Emitter: hub,
		Metrics: m,
	})

	chain := llm.NewDefaultChain(m,
		llm.NewGemini(cfg.GeminiBaseURL, cfg.GoogleAPIKey, nil), cfg.GeminiModels,
		llm.NewGroq(cfg.GroqBaseURL, cfg.GroqAPIKey, nil), cfg.GroqModel,
	)
	if cfg.GoogleAPIKey == "" && cfg.GroqAPIKey == "" {
		log.Warn("no AI provider key configured, @ai messages will get the fallback reply")
	}
	assistant := aibridge.New(aibridge.Options{
		Completer: chain,
		Store:     store,
		Emitter:   hub,
		Timeout:   cfg.AITimeout,
	})

	upgrades := live.NewIPLimiter(cfg.UpgradeRatePerIP)
	channel := live.NewServer(live.Options{
		Hub:        hub,
		Rooms:      live.NewRoomManager(hub),
		Validator:  validator,
		Store:      store,
		Terminals:  terminals,
		Assistant:  assistant,
		Metrics:    m,
		EventRate:  cfg.EventRateLimit,
		EventBurst: cfg.EventRateBurst,
		Upgrades:   upgrades,

		OriginPatterns: originHosts(cfg.CORSOrigins),
	})

	sched := cron.New()
	if err := upgrades.Schedule(sched, "@every 5m", 10*time.Minute); err != nil {
		return fmt.Errorf("schedule limiter cleanup: %w", err)
	}
	if cfg.TerminalReapEmptyRooms {
		if err := terminals.ScheduleReaper(sched, cfg.TerminalReapSchedule, hub); err != nil {
			return fmt.Errorf("schedule terminal reaper: %w", err)
		}
		log.Infof("terminals of empty rooms are reaped on %q", cfg.TerminalReapSchedule)
	}
	sched.Start()
	defer sched.Stop()

	api := handlers.NewAPI(engine, terminals, store)
	ai := handlers.NewAI(chain, cfg.AITimeout)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.HealthCheck(map[string]func() int{
		"connections": hub.ConnCount,
		"rooms":       hub.RoomCount,
		"terminals":   terminals.Count,
		"runs":        engine.Count,
	}))
	r.Handle("/metrics", m.Handler())
	r.Get("/ws", channel.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator))

		r.Post("/projects/run", api.RunProject)
		r.Get("/projects/{projectId}/messages", api.ListMessages)

		r.Get("/rooms/{roomId}/terminals", api.ListTerminals)
		r.Delete("/rooms/{roomId}/terminals/{terminalId}", api.KillTerminal)

		r.Get("/ai/get-result", ai.GetResult)
		r.Post("/ai/generate", ai.Generate)

		r.Get("/server-logs", handlers.GetServerLogs)
		r.Delete("/server-logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-sigCtx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	log.Info("Shutting down...")

	channel.Shutdown()
	engine.Shutdown()
	terminals.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
