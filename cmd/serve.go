package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/cover"
	"github.com/loamworks/tessera/internal/monitoring"
	"github.com/loamworks/tessera/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Serves visited rectangles, coverage queries, city rankings, and activity ingest over HTTP.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		road, err := initRoadClient(ctx, st)
		if err != nil {
			return err
		}

		api := &apiServer{
			st:       st,
			road:     road,
			cellSize: cfg.Grid.CellSize,
			trim:     cfg.Privacy.TrimMeters,
			zoom:     cfg.Roadnet.Zoom,
			topN:     cfg.Coverage.Top,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer holds the dependencies the HTTP handlers need. road may be nil
// in tests; the coverage endpoint then reports the source as unavailable.
type apiServer struct {
	st       store.Store
	road     roadCellSource
	cellSize float64
	trim     float64
	zoom     int
	topN     int
}

// newRouter assembles the API routes with logging, panic recovery, and CORS.
func newRouter(s *apiServer, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/visited", s.handleVisited)
		r.Get("/coverage", s.handleCoverage)
		r.Get("/cities", s.handleCities)
		r.Post("/activities", s.handleActivities)
	})
	return r
}

// requestLogger logs each request at debug with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := monitoring.NewCollector(s.st, s.road).Collect(r.Context(), s.cellSize)
	if err != nil {
		zap.L().Error("status collection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status collection failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// visitedPayload is the /api/visited response body.
type visitedPayload struct {
	CellSize   float64             `json:"cell_size"`
	Rectangles []compact.Rectangle `json:"rectangles"`
}

// handleVisited serves the rectangle snapshot with an ETag derived from the
// body, so unchanged polls cost a hash comparison instead of a transfer.
func (s *apiServer) handleVisited(w http.ResponseWriter, r *http.Request) {
	cellSize, ok := s.cellSizeParam(w, r)
	if !ok {
		return
	}

	rects, err := s.st.Rects(r.Context(), cellSize)
	if err != nil {
		zap.L().Error("load rectangles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load rectangles failed")
		return
	}
	if rects == nil {
		rects = []compact.Rectangle{}
	}

	body, err := json.Marshal(visitedPayload{CellSize: cellSize, Rectangles: rects})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode rectangles failed")
		return
	}

	etag := fmt.Sprintf("%q", strconv.FormatUint(xxhash.Sum64(body), 16))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *apiServer) handleCoverage(w http.ResponseWriter, r *http.Request) {
	if s.road == nil {
		writeError(w, http.StatusServiceUnavailable, "road source not configured")
		return
	}

	bbox, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cellSize, ok := s.cellSizeParam(w, r)
	if !ok {
		return
	}

	report, err := coverageReport(r.Context(), s.st, s.road, bbox, cellSize, s.zoom)
	if err != nil {
		zap.L().Error("coverage query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "coverage query failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleCities(w http.ResponseWriter, r *http.Request) {
	top := s.topN
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = n
	}

	rankings, err := rankCities(r.Context(), s.st, top)
	if err != nil {
		zap.L().Error("city ranking failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "city ranking failed")
		return
	}
	if rankings == nil {
		rankings = []cover.Ranking{}
	}
	writeJSON(w, http.StatusOK, rankings)
}

// handleActivities ingests a JSON array of activities synchronously and
// reports per-batch counts. One bad activity never rejects the batch.
func (s *apiServer) handleActivities(w http.ResponseWriter, r *http.Request) {
	acts, err := activity.FromJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	succeeded, failed, err := ingestActivities(r.Context(), s.st, acts, s.cellSize, s.trim, 4)
	if err != nil {
		zap.L().Error("activity ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "activity ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"ingested": succeeded,
		"failed":   failed,
	})
}

// cellSizeParam reads the optional cell_size query parameter, writing a 400
// on garbage.
func (s *apiServer) cellSizeParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := r.URL.Query().Get("cell_size")
	if raw == "" {
		return s.cellSize, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "cell_size must be a positive number")
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
