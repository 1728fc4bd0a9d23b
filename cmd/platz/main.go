// CLAUDE:SUMMARY Entry point for the platz HTTP service — chi router, SQLite store, optional MCP stdio.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/platz/booking"
	"github.com/hazyhaar/platz/dbopen"
)

func main() {
	secretInput := os.Getenv("PLATZ_SECRET")
	if secretInput == "" {
		slog.Error("PLATZ_SECRET is required; it seals stored portal credentials")
		os.Exit(1)
	}
	// Derive the 32-byte sealing key via SHA-256.
	key := sha256.Sum256([]byte(secretInput))

	configPath := env("PLATZ_CONFIG", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := booking.LoadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if addr := os.Getenv("PLATZ_LISTEN"); addr != "" {
		cfg.Listen = addr
	}
	if path := os.Getenv("PLATZ_DB"); path != "" {
		cfg.DatabasePath = path
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DatabasePath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(booking.Schema))
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc := booking.NewService(cfg, db, key, booking.WithLogger(logger))
	defer svc.Close()
	slog.Info("portals active", "portals", svc.Portals())

	// Optional MCP over stdio.
	if cfg.MCP || os.Getenv("MCP_TRANSPORT") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "platz",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
		slog.Info("mcp stdio serving")
	}

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				UserID string `json:"user_id"`
				booking.Query
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			slots, err := svc.Search(req.Context(), body.UserID, body.Query)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, slots)
		})

		r.Post("/book", func(w http.ResponseWriter, req *http.Request) {
			var body booking.BookingRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			result, err := svc.Book(req.Context(), body)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, result)
		})

		r.Get("/history/{userID}", func(w http.ResponseWriter, req *http.Request) {
			entries, err := svc.History(req.Context(), chi.URLParam(req, "userID"), queryInt(req, "limit", 0))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if entries == nil {
				entries = []booking.HistoryEntry{}
			}
			writeJSON(w, 200, entries)
		})

		r.Get("/preferences/{userID}", func(w http.ResponseWriter, req *http.Request) {
			summary, err := svc.Preferences(req.Context(), chi.URLParam(req, "userID"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, summary)
		})

		r.Put("/credentials/{userID}/{portal}", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, 400, err)
				return
			}
			err := svc.SaveCredential(req.Context(),
				chi.URLParam(req, "userID"), chi.URLParam(req, "portal"),
				body.Username, body.Password)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "stored"})
		})

		r.Delete("/credentials/{userID}/{portal}", func(w http.ResponseWriter, req *http.Request) {
			err := svc.DeleteCredential(req.Context(),
				chi.URLParam(req, "userID"), chi.URLParam(req, "portal"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// statusFor maps service sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidQuery):
		return 400
	case errors.Is(err, booking.ErrUnknownPortal), errors.Is(err, booking.ErrNoCredential):
		return 404
	case errors.Is(err, booking.ErrBookingInFlight):
		return 409
	default:
		return 502
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
