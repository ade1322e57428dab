package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hft-ensemble/internal/cfg"
	"hft-ensemble/internal/ensemble"
	"hft-ensemble/internal/feed"
	"hft-ensemble/internal/metrics"
	"hft-ensemble/internal/server"
	"hft-ensemble/internal/storage"
	"hft-ensemble/internal/window"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	importCSV := flag.String("import", "", "import ticks from a CSV file and exit")
	flag.Parse()

	_ = godotenv.Load()
	setupLogging()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("data_path", c.DataPath).Msg("storage initialization failed")
	}
	defer store.Close()

	if *importCSV != "" {
		n, err := store.ImportCSV(*importCSV)
		if err != nil {
			log.Fatal().Err(err).Str("path", *importCSV).Msg("csv import failed")
		}
		log.Info().Int("ticks", n).Msg("import finished")
		return
	}

	engine, err := buildEngine(c, store, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("engine initialization failed")
	}

	startMetricsServer(ctx, c.MetricsPort)

	var wg sync.WaitGroup
	if c.FeedEnabled {
		startFeed(ctx, &wg, c, store, mw)
	}
	startHealthChecks(ctx, &wg, engine)

	api := server.New(engine, store, c.APIPort, c.InferTimeout)
	go func() {
		if err := api.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		if parsed, err := zerolog.ParseLevel(lv); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

// buildEngine wires artifacts, windowing, aggregation and calibration
// into the decision engine. Missing artifacts are not fatal here: the
// engine starts in the not-loaded state and the API reports it.
func buildEngine(c cfg.Settings, store *storage.Store, mw *metrics.Wrapper) (*ensemble.Engine, error) {
	builder := window.NewBuilder(store, c.WindowSize, c.Indicators)

	res, err := ensemble.LoadArtifacts(ensemble.LoadOptions{
		ModelsDir:    c.ModelsDir,
		WindowSize:   builder.Size(),
		IndicatorDim: builder.IndicatorDim(),
		Timeout:      c.InferTimeout,
		Metrics:      mw,
	})
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	bases := res.Bases
	if len(bases) == 0 && c.Fallback {
		// Explicit opt-in only: missing artifacts never degrade to the
		// heuristic silently.
		bases = []ensemble.Predictor{ensemble.NewHeuristicPredictor(8, 0.05)}
		log.Warn().Msg("no model artifacts found, serving on heuristic fallback")
	}

	agg := ensemble.NewAggregator(bases, res.Meta)
	if res.Weights != nil {
		if err := agg.SetWeights(res.Weights.Weights); err != nil {
			log.Warn().Err(err).Msg("stored model weights rejected, boosting falls back to uniform")
		}
	}

	policy, err := ensemble.PolicyByName(c.BoostPolicy)
	if err != nil {
		return nil, err
	}
	cal := ensemble.NewCalibrator(c.Temperature, policy, c.MinConfidence)
	cal.Isotonic = res.Isotonic

	engine := ensemble.NewEngine(builder, agg, cal, mw, c.BatchLimit)

	log.Info().
		Int("base_models", agg.NumBase()).
		Bool("meta_model", agg.HasMeta()).
		Bool("isotonic", res.Isotonic != nil).
		Str("boost_policy", policy.Name()).
		Msg("ensemble engine initialized")
	return engine, nil
}

func startMetricsServer(ctx context.Context, port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func startFeed(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, store *storage.Store, mw *metrics.Wrapper) {
	rest := feed.NewREST(c.FeedRestURL, c.RESTTimeout)
	go feed.Backfill(ctx, rest, store, c.Symbols, c.WindowSize)

	ticks := make(chan feed.Tick, 256)
	ws := feed.NewWS(c.FeedWsURL, mw)
	ingestor := feed.NewIngestor(store, mw)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := ws.Stream(ctx, c.Symbols, ticks, c.FeedPing); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("websocket stream ended")
		}
		close(ticks)
	}()
	go func() {
		defer wg.Done()
		ingestor.Run(ctx, ticks)
	}()
}

func startHealthChecks(ctx context.Context, wg *sync.WaitGroup, engine *ensemble.Engine) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := engine.HealthCheck(ctx, 30*time.Second); err != nil {
					log.Warn().Err(err).Msg("ensemble health check failed")
				}
			}
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()
}
