package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/webshot/internal/common/config"
	logutil "github.com/edgecomet/webshot/internal/common/logger"
	"github.com/edgecomet/webshot/internal/common/metricsserver"
	"github.com/edgecomet/webshot/internal/common/redis"
	"github.com/edgecomet/webshot/internal/identity"
	"github.com/edgecomet/webshot/internal/render/chrome"
	"github.com/edgecomet/webshot/internal/render/dispatcher"
	"github.com/edgecomet/webshot/internal/shot/cache"
	"github.com/edgecomet/webshot/internal/shot/metrics"
	"github.com/edgecomet/webshot/internal/shot/orchestrator"
	"github.com/edgecomet/webshot/internal/shot/server"
)

func main() {
	configPath := flag.String("c", "configs/webshot.yaml", "Path to webshot configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.LoadWSConfig(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// INFO level during startup if the configured level is higher
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Close()

	logger := dynamicLogger.Logger

	si, err := identity.New(cfg)
	if err != nil {
		logger.Fatal("Failed to resolve server identity", zap.Error(err))
	}
	if err := os.MkdirAll(si.BaseDirectory, 0755); err != nil {
		logger.Fatal("Failed to create base directory", zap.String("base_dir", si.BaseDirectory), zap.Error(err))
	}

	logger.Info("Webshot starting",
		zap.String("id", si.ID),
		zap.String("listen", cfg.Server.Listen),
		zap.String("base_url", si.BaseURL),
		zap.String("base_dir", si.BaseDirectory),
		zap.String("chrome_pool_size", cfg.Chrome.PoolSize))

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(cfg.Metrics, collector, logger)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	chromeConfig := chrome.NewConfig(cfg)
	if err := chromeConfig.Validate(); err != nil {
		logger.Fatal("Invalid Chrome configuration", zap.Error(err))
	}

	logger.Info("Initializing Chrome pool")
	pool, err := chrome.NewChromePool(chromeConfig, collector, logger)
	if err != nil {
		logger.Fatal("Failed to create Chrome pool", zap.Error(err))
	}

	engine := dispatcher.NewChromeEngine(pool)
	renderDispatcher := dispatcher.New(engine, cfg.Chrome.Render.MaxTimeout.ToDuration(), collector, logger)

	logger.Info("Chrome pool initialized",
		zap.Int("pool_size", chromeConfig.CalculatePoolSize()),
		zap.String("browser", engine.BrowserVersion()))

	// Cache tiers: memory LRU in front of disk files indexed in Redis
	var (
		store         cache.Store
		redisClient   *redis.Client
		diskStore     *cache.DiskStore
		cleanupWorker *cache.CleanupWorker
	)
	if cfg.Cache.IsEnabled() {
		memory, err := cache.NewMemoryStore(cfg.Cache.MemoryEntries, logger)
		if err != nil {
			logger.Fatal("Failed to create memory cache", zap.Error(err))
		}

		var disk cache.Store
		if cfg.Redis.Enabled {
			redisClient, err = redis.NewClient(&cfg.Redis, logger)
			if err != nil {
				logger.Fatal("Failed to connect to Redis", zap.Error(err))
			}
			diskStore = cache.NewDiskStore(redisClient, si.BaseDirectory, cfg.Cache.Compression, collector, logger)
			disk = diskStore

			cleanupWorker = cache.NewCleanupWorker(cfg.Cache.Cleanup, si.BaseDirectory, collector, logger)
			cleanupWorker.Start()
		} else {
			logger.Info("Redis disabled, caching in memory only")
		}

		store = cache.NewTieredStore(memory, disk, logger)
	} else {
		logger.Info("Cache disabled, every request renders")
	}

	coordinator := orchestrator.NewCacheCoordinator(store, cfg.Cache.TTL.ToDuration(), collector, logger)
	shotOrchestrator := orchestrator.NewShotOrchestrator(coordinator, renderDispatcher, collector, logger)

	serverTimeout := cfg.Chrome.Render.CalculateServerTimeout()
	shotServer := server.NewServer(si, server.NewRequestParser(cfg), shotOrchestrator,
		renderDispatcher, serverTimeout, collector, logger)
	if diskStore != nil {
		shotServer.SetCacheHealth(diskStore)
	}

	httpServer := &fasthttp.Server{
		Handler:      shotServer.HandleRequest,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         si.Signature,
	}

	serverErrCh := make(chan error, 2)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	var fcgiListener net.Listener
	if cfg.Server.FastCGIListen != "" {
		fcgiListener, err = net.Listen("tcp", cfg.Server.FastCGIListen)
		if err != nil {
			logger.Fatal("Failed to listen for FastCGI", zap.String("listen", cfg.Server.FastCGIListen), zap.Error(err))
		}
		go func() {
			if err := shotServer.ServeFastCGI(fcgiListener); err != nil {
				serverErrCh <- err
			}
		}()
	}

	// Wait briefly for HTTP server to start listening
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	logger.Info("Webshot ready",
		zap.String("id", si.ID),
		zap.String("signature", si.Signature),
		zap.Bool("cache", store != nil),
		zap.Bool("fastcgi", fcgiListener != nil))

	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	if fcgiListener != nil {
		_ = fcgiListener.Close()
	}

	// Complete in-flight requests before the pool goes away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverTimeout)
	defer shutdownCancel()
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsCancel()
	}

	if cleanupWorker != nil {
		cleanupWorker.Shutdown()
	}

	if err := pool.Shutdown(); err != nil {
		logger.Error("Chrome pool shutdown error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("Webshot stopped")
}
