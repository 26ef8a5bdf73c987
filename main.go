package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aicamera/circle-detection-service/capture"
	"github.com/aicamera/circle-detection-service/config"
	"github.com/aicamera/circle-detection-service/detections"
	"github.com/aicamera/circle-detection-service/logger"
	"github.com/aicamera/circle-detection-service/models"
	"github.com/aicamera/circle-detection-service/monitor"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	imagePath := flag.String("image", "", "detect circles in one image file, print JSON and exit")
	validate := flag.Bool("validate", false, "run the detector self test and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	if err := initLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	log := logger.Log()

	log.Info("starting circle detection service",
		zap.String("version", version),
		zap.String("mode", cfg.Detector.Mode),
		zap.String("model", cfg.Model.Path),
		zap.Any("cpu_features", detections.CPUFeatures()))

	if cfg.Detector.Mode == config.ModeONNX {
		if err := detections.InitializeRuntime(cfg.Runtime.LibraryPath); err != nil {
			log.Error("failed to initialize ONNX runtime", zap.Error(err))
			return 1
		}
		defer detections.DestroyRuntime()
	}

	factory := newDetectorFactory(cfg)

	switch {
	case *validate:
		return runSelfTest(factory, cfg.Model.InputSize, log)
	case *imagePath != "":
		return runSingleImage(factory, *imagePath, log)
	}

	if err := serve(cfg, factory, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func initLogger(cfg config.LogConfig) error {
	if cfg.Development {
		return logger.InitDevelopment(cfg.Level)
	}
	return logger.InitProduction(cfg.Level)
}

// newDetectorFactory picks the detector variant once, from configuration.
func newDetectorFactory(cfg *config.Config) DetectorFactory {
	if cfg.Detector.Mode == config.ModeFallback {
		return func() (detections.Detector, error) {
			return detections.NewFallbackDetector(), nil
		}
	}

	pipelineCfg := cfg.PipelineConfig()
	engineOpts := cfg.EngineOptions()
	modelPath := cfg.Model.Path

	var (
		loadOnce  sync.Once
		modelData []byte
		loadErr   error
	)
	newEngine := func() (*detections.OnnxEngine, error) {
		if !cfg.Model.Preload {
			return detections.NewOnnxEngine(modelPath, engineOpts)
		}
		loadOnce.Do(func() {
			modelData, loadErr = os.ReadFile(modelPath)
			if loadErr != nil {
				loadErr = &detections.ProcessingError{Kind: detections.ErrModelLoad, Message: "read model " + modelPath, Cause: loadErr}
			}
		})
		if loadErr != nil {
			return nil, loadErr
		}
		return detections.NewOnnxEngineFromBytes(modelData, engineOpts)
	}

	return func() (detections.Detector, error) {
		engine, err := newEngine()
		if err != nil {
			return nil, err
		}
		pipeline, err := detections.NewPipeline(engine, pipelineCfg, logger.Named("pipeline"))
		if err != nil {
			engine.Destroy()
			return nil, err
		}
		return pipeline, nil
	}
}

func runSelfTest(factory DetectorFactory, size int, log *zap.Logger) int {
	d, err := factory()
	if err != nil {
		log.Error("failed to load detector", zap.Error(err))
		return 1
	}
	defer d.Close()

	count, err := detections.SelfTest(d, size)
	if err != nil {
		log.Error("self test failed", zap.Error(err))
		return 1
	}
	log.Info("self test passed", zap.Int("circles", count))
	return 0
}

func runSingleImage(factory DetectorFactory, path string, log *zap.Logger) int {
	d, err := factory()
	if err != nil {
		log.Error("failed to load detector", zap.Error(err))
		return 1
	}
	defer d.Close()

	img, err := capture.NewFileSource(path).Frame(context.Background())
	if err != nil {
		log.Error("failed to read image", zap.Error(err))
		return 1
	}

	timings := &models.ProcessingTimings{RequestID: path}
	circles, err := d.Detect(img, timings)
	if err != nil {
		log.Error("detection failed", zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newDetectionResponse(path, circles)); err != nil {
		log.Error("failed to write result", zap.Error(err))
		return 1
	}
	return 0
}

func serve(cfg *config.Config, factory DetectorFactory, log *zap.Logger) error {
	pool, err := NewDetectorPool(factory, PoolOptions{
		Size:              cfg.Pool.Size,
		AcquireTimeout:    cfg.Pool.AcquireTimeout,
		HealthCheckPeriod: cfg.Pool.HealthCheckPeriod,
	}, logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("create detector pool: %w", err)
	}
	defer pool.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &AppState{
		Mode:           cfg.Detector.Mode,
		ModelPath:      cfg.Model.Path,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Pool:           pool,
		Log:            logger.Named("http"),
	}
	if cfg.Monitor.Enabled {
		state.Metrics = monitor.New()
		go state.Metrics.StartProcessStats(ctx, cfg.Monitor.ProcessStatsInterval, logger.Named("monitor"))
	}
	if cfg.Capture.SnapshotURL != "" {
		state.Snapshot, err = capture.NewSnapshotSource(cfg.Capture.SnapshotURL, capture.SnapshotOptions{
			Username: cfg.Capture.Username,
			Password: cfg.Capture.Password,
			Timeout:  cfg.Capture.Timeout,
		})
		if err != nil {
			return fmt.Errorf("configure snapshot source: %w", err)
		}
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.Int("pool_size", pool.Size()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
