// soundrift-core is the headless engine behind the player UI: it resolves
// tracks to playable sources, manages the cache-download lifecycle through
// the external byte-fetcher, and persists source selections. The UI talks
// to it in-process through the packages under internal/; this binary exists
// for standalone operation: it wires everything together, ingests fetcher
// events over HTTP and exposes health and metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soundrift/soundrift-go/internal/btindex"
	"github.com/soundrift/soundrift-go/internal/config"
	"github.com/soundrift/soundrift-go/internal/download"
	apperrors "github.com/soundrift/soundrift-go/internal/errors"
	"github.com/soundrift/soundrift-go/internal/fetcher"
	"github.com/soundrift/soundrift-go/internal/filelist"
	"github.com/soundrift/soundrift-go/internal/monitoring"
	"github.com/soundrift/soundrift-go/internal/provider"
	"github.com/soundrift/soundrift-go/internal/resolver"
	"github.com/soundrift/soundrift-go/internal/source"
	"github.com/soundrift/soundrift-go/internal/store"
)

const version = "2.0.0"

// zapPanicLogger adapts zap to the panic-recovery helper.
type zapPanicLogger struct {
	logger *zap.Logger
}

func (l *zapPanicLogger) Error(msg string, fields map[string]interface{}) {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	l.logger.Error(msg, zapFields...)
}

func main() {
	configPath := flag.String("config", "", "path to settings.json (defaults to the data directory)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "soundrift-core: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := monitoring.NewLogger(&monitoring.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("soundrift-core starting", zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.InitDB(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	sourceStore := store.NewSourceStore(db, logger)
	kvStore := store.NewKVStore(db)

	sourceStore.OnSelectionChanged(func(trackID string) {
		logger.Info("selection changed", zap.String("track_id", trackID))
	})

	netTimeout := time.Duration(cfg.Network.Timeout) * time.Second
	torrents := provider.NewTorrentLookup(cfg.Providers.TorrentBaseURL, netTimeout, cfg.Providers.RequestsPerSec)
	streams := provider.NewStreamLookup(cfg.Providers.StreamBaseURL, netTimeout, cfg.Providers.RequestsPerSec)

	res := resolver.New(torrents, streams, logger, resolver.Config{
		MaxCandidates: cfg.Sources.MaxCandidates,
		MinSeeders:    cfg.Sources.MinSeeders,
	})

	btidx, err := btindex.New(filepath.Join(cfg.Storage.DataDir, "btindex"), logger)
	if err != nil {
		return fmt.Errorf("init torrent index: %w", err)
	}
	defer btidx.Close()

	loader := filelist.NewLoader(btidx, streams, logger, cfg.Sources.FileListTimeout)

	warmer := filelist.NewWarmer(loader, logger, cfg.Sources.PrefetchWorkers, cfg.Sources.PrefetchPause)
	if err := warmer.Start(ctx); err != nil {
		return fmt.Errorf("start prefetch warmer: %w", err)
	}
	defer warmer.Stop()

	fetchClient := fetcher.NewClient(cfg.Providers.FetcherBaseURL, netTimeout)
	orchestrator := download.NewOrchestrator(fetchClient, loader, logger, download.Config{
		CacheCheckTTL:  cfg.Download.CacheCheckTTL,
		PollFast:       cfg.Download.PollFast,
		PollFastWindow: cfg.Download.PollFastWindow,
		PollMid:        cfg.Download.PollMid,
		PollMidWindow:  cfg.Download.PollMidWindow,
		PollSlow:       cfg.Download.PollSlow,
		PollCeiling:    cfg.Download.PollCeiling,
	})

	aggregator := download.NewAggregator(logger, cfg.Download.CompletionGrace)
	defer aggregator.Close()

	cacheBus := fetcher.NewBus[fetcher.Event](logger)
	playbackBus := fetcher.NewBus[fetcher.PlaybackEvent](logger)
	defer cacheBus.Close()
	defer playbackBus.Close()

	cacheEvents, cancelCache := cacheBus.Subscribe(256)
	playbackEvents, cancelPlayback := playbackBus.Subscribe(256)
	defer cancelCache()
	defer cancelPlayback()

	panicLog := &zapPanicLogger{logger: logger}
	apperrors.Go(panicLog, "progress-aggregator", func() {
		aggregator.Run(ctx, cacheEvents, playbackEvents)
	})

	health := monitoring.NewHealthChecker(version, db)
	health.RegisterProvider("torrent_lookup", torrents)
	health.RegisterProvider("stream_lookup", streams)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health.Check(r.Context(), orchestrator.Active()))
	})
	mux.HandleFunc("/events/cache", eventIngest(logger, func(e fetcher.Event) {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		cacheBus.Publish(e)
	}))
	mux.HandleFunc("/events/playback", eventIngest(logger, func(e fetcher.PlaybackEvent) {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		playbackBus.Publish(e)
	}))
	mux.HandleFunc("/resolve", resolveHandler(logger, res, warmer.Submit))
	mux.HandleFunc("/kv/", kvHandler(logger, kvStore))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	apperrors.Go(panicLog, "control-listener", func() {
		logger.Info("control endpoint listening", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control endpoint failed", zap.Error(err))
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control endpoint shutdown", zap.Error(err))
	}
	return nil
}

// resolveHandler runs a source search for a track and returns the visible
// candidate set. The full set is warmed in the background so file lists are
// ready before the caller picks a source.
func resolveHandler(logger *zap.Logger, res *resolver.Resolver, warm func([]source.Candidate)) http.HandlerFunc {
	type request struct {
		TrackID string `json:"track_id"`
		Title   string `json:"title"`
		Artist  string `json:"artist"`
		Year    int    `json:"year,omitempty"`
	}
	type response struct {
		Candidates     []source.Candidate `json:"candidates"`
		ProviderErrors []string           `json:"provider_errors,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		result, err := res.Resolve(r.Context(), resolver.Query{
			TrackID: req.TrackID,
			Title:   req.Title,
			Artist:  req.Artist,
			Year:    req.Year,
		})
		if err != nil {
			logger.Warn("resolve request failed",
				zap.String("track_id", req.TrackID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		visible := result.Visible(res.MinSeeders())
		warm(visible)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response{
			Candidates:     visible,
			ProviderErrors: result.Errors,
		})
	}
}

// kvHandler exposes the opaque key-value store under /kv/{key}. Values pass
// through untouched; callers own the serialization.
func kvHandler(logger *zap.Logger, kv *store.KVStore) http.HandlerFunc {
	const maxValueSize = 1 << 20
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			value, ok, err := kv.Get(key)
			if err != nil {
				logger.Error("kv read failed", zap.String("key", key), zap.Error(err))
				http.Error(w, "storage error", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(value)
		case http.MethodPut, http.MethodPost:
			value, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
			if err != nil {
				http.Error(w, "read body", http.StatusBadRequest)
				return
			}
			if len(value) > maxValueSize {
				http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
				return
			}
			if err := kv.Set(key, value); err != nil {
				logger.Error("kv write failed", zap.String("key", key), zap.Error(err))
				http.Error(w, "storage error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := kv.Delete(key); err != nil {
				logger.Error("kv delete failed", zap.String("key", key), zap.Error(err))
				http.Error(w, "storage error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// eventIngest decodes a posted fetcher event and hands it to publish. The
// byte-fetcher pushes its lifecycle stream here.
func eventIngest[T any](logger *zap.Logger, publish func(T)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var event T
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			logger.Debug("rejected malformed event", zap.Error(err))
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		publish(event)
		w.WriteHeader(http.StatusAccepted)
	}
}
