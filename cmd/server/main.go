package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "mediastream/internal/api/http"
	"mediastream/internal/app"
	"mediastream/internal/domain"
	"mediastream/internal/metrics"
	"mediastream/internal/probe"
	mongorepo "mediastream/internal/repository/mongo"
	"mediastream/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "media-engine")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "media-engine"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.MediaDataDir),
		slog.String("hlsDir", cfg.HLSDir),
		slog.Bool("mongoEnabled", cfg.MongoURI != ""),
	)
	if cfg.SegmentTokenKey == "" {
		logger.Warn("SEGMENT_TOKEN_SECRET not set, stream tokens are signed with an empty secret")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var resolver apihttp.FileResolver
	var mongoDisconnect func()
	var sink probe.MetadataSink

	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		defer cancel()

		mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		repo := mongorepo.NewMediaRepository(mongoClient, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		resolver = repo
		sink = repo
		mongoDisconnect = func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
	} else {
		// No catalog database: file ids are relative paths under the data
		// directory.
		resolver = &dirResolver{root: cfg.MediaDataDir}
		logger.Info("running without catalog database, resolving ids against data dir")
	}

	prober := probe.New(cfg.FFProbePath,
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithCacheSize(cfg.ProbeCacheSize),
		probe.WithMetadataSink(sink),
		probe.WithLogger(logger),
	)

	handler := apihttp.NewServer(cfg,
		apihttp.WithResolver(resolver),
		apihttp.WithAuthorizer(newStaticAuthorizer(cfg.AuthBearerToken)),
		apihttp.WithProber(prober),
		apihttp.WithLogger(logger),
	)
	handler.StartReaper(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if mongoDisconnect != nil {
		mongoDisconnect()
	}

	logger.Info("server stopped")
}

// dirResolver maps file ids to paths below a root directory. Ids are
// slash-separated relative paths; anything escaping the root resolves to not
// found.
type dirResolver struct {
	root string
}

func (d *dirResolver) Resolve(_ context.Context, fileID string) (domain.MediaFile, error) {
	root := filepath.Clean(d.root)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	joined := filepath.Join(root, filepath.FromSlash(fileID))
	joined = filepath.Clean(joined)
	if abs, err := filepath.Abs(joined); err == nil {
		joined = abs
	}
	if joined == root || !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return domain.MediaFile{}, domain.ErrNotFound
	}

	info, err := os.Stat(joined)
	if err != nil || info.IsDir() {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	return domain.MediaFile{
		ID:     fileID,
		ItemID: fileID,
		Path:   joined,
		Size:   info.Size(),
	}, nil
}

// newStaticAuthorizer checks a fixed bearer token. With no token configured
// every request passes, which suits single-user deployments behind a reverse
// proxy that already authenticates.
func newStaticAuthorizer(bearer string) apihttp.Authorizer {
	if bearer == "" {
		return apihttp.AuthorizerFunc(func(*http.Request) bool { return true })
	}
	return apihttp.AuthorizerFunc(func(r *http.Request) bool {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") && strings.TrimPrefix(header, "Bearer ") == bearer {
			return true
		}
		return r.URL.Query().Get("api_key") == bearer
	})
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
