// Package main provides the entry point for Pantin.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/browser"
	"github.com/skarab42/pantin/internal/config"
	"github.com/skarab42/pantin/internal/handlers"
	"github.com/skarab42/pantin/internal/middleware"
	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/stats"
	"github.com/skarab42/pantin/pkg/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Pantin %s\n", version.Full())
		return
	}

	cfg := config.Load()

	setupLogging(cfg.LogLevel)

	cfg.Validate()

	printBanner()

	log.Info().
		Str("path", cfg.ProfileOverridesPath).
		Bool("hot_reload", cfg.ProfileHotReload).
		Msg("loading profile bootstrap")
	profileMgr, err := profile.NewManager(cfg.ProfileOverridesPath, cfg.ProfileHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize profile manager")
	}

	log.Info().
		Uint32("max_size", cfg.Pool.MaxSize).
		Str("browser_program", cfg.Pool.BrowserProgram).
		Msg("initializing browser fleet pool")
	pool := browser.NewPool(cfg.Pool, profileMgr.Get())

	statsManager := stats.NewManager()

	handler := handlers.New(pool, statsManager)
	router := handlers.NewRouter(handler)

	var finalHandler http.Handler = router

	// Apply middleware in reverse order — the last one applied runs
	// first. Outermost to innermost: CORS, security headers, rate limit
	// (optional), logging, recovery, timeout (closest to the handler).
	finalHandler = middleware.Timeout(cfg.RequestTimeout)(finalHandler)
	finalHandler = middleware.Recovery(finalHandler)
	finalHandler = middleware.Logging(finalHandler)

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
		finalHandler = rateLimiter.Handler()(finalHandler)
	}

	finalHandler = middleware.SecurityHeaders(finalHandler)
	finalHandler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})(finalHandler)

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       cfg.RequestTimeout + 10*time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // prevent slowloris
	}

	go func() {
		log.Info().
			Str("address", addr).
			Uint32("pool_size", cfg.Pool.MaxSize).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("pantin is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}

	pool.Shutdown(ctx)

	if err := profileMgr.Close(); err != nil {
		log.Error().Err(err).Msg("profile manager close error")
	}

	log.Info().Msg("shutdown complete")
}

// setupLogging configures zerolog based on the configured level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 ____              _   _
|  _ \ __ _ _ __ | |_(_)_ __
| |_) / _' | '_ \| __| | '_ \
|  __/ (_| | | | | |_| | | | |
|_|   \__,_|_| |_|\__|_|_| |_|
                     headless screenshots
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting pantin")
}
