package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/user/grimoire/config"
	"github.com/user/grimoire/internal/api"
	"github.com/user/grimoire/internal/catalog"
	"github.com/user/grimoire/internal/game"
	"github.com/user/grimoire/internal/metrics"
	"github.com/user/grimoire/internal/whatsapp"
)

func main() {
	configPath := flag.String("config", "./config/config.json", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// the logger level comes from the config, so fall back to defaults
		logger := setupLogger("info")
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger := setupLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	rules, err := catalog.Build(cfg.Catalog.RolesPath, logger)
	if err != nil {
		logger.Fatal("Failed to load role catalog", zap.Error(err))
	}

	gameMetrics := metrics.NewMetrics("grimoire", prometheus.DefaultRegisterer)
	gameManager := game.NewGameManager(cfg, rules, logger, gameMetrics)

	router := api.NewRouter(gameManager, logger)
	router.Handle(cfg.Server.MetricsPath, promhttp.Handler())

	var clientManager *whatsapp.ClientManager
	if cfg.WhatsApp.Enabled {
		clientManager = whatsapp.NewClientManager(gameManager, cfg, logger)
		gameManager.SetMessageSender(clientManager)
		clientManager.RestoreSessions()

		qrManager := whatsapp.NewQRCodeManager(clientManager, cfg, logger)
		sessionManager := whatsapp.NewSessionManager(cfg.WhatsApp.StoreDir, logger)
		mountWhatsAppRoutes(router, clientManager, qrManager, sessionManager, logger)
	} else {
		logger.Info("WhatsApp disabled, role reveals are unavailable")
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	if clientManager != nil {
		clientManager.DisconnectAll()
	}
	logger.Info("Shutdown complete")
}

func setupLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, _ := config.Build()
	return logger
}

// mountWhatsAppRoutes adds device linking and session management
func mountWhatsAppRoutes(router chi.Router, clientManager *whatsapp.ClientManager, qrManager *whatsapp.QRCodeManager, sessionManager *whatsapp.SessionManager, logger *zap.Logger) {
	router.Post("/qr", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber string `json:"phone_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		sessionID := uuid.New().String()
		qrCode, err := qrManager.GenerateQRCode(sessionID, req.PhoneNumber)
		if err != nil {
			logger.Error("Failed to generate QR code",
				zap.String("phone_number", req.PhoneNumber),
				zap.Error(err))
			http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": sessionID,
			"qr_code":    qrCode,
		})
	})

	router.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := sessionManager.ListSessions()
		if err != nil {
			logger.Error("Failed to list sessions", zap.Error(err))
			http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)
	})

	router.Delete("/sessions/{phone_number}/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		phoneNumber := chi.URLParam(r, "phone_number")
		sessionID := chi.URLParam(r, "session_id")

		if err := clientManager.Disconnect(phoneNumber); err != nil {
			logger.Debug("No client to disconnect", zap.String("phone_number", phoneNumber))
		}

		if err := sessionManager.DeleteSession(phoneNumber, sessionID); err != nil {
			logger.Error("Failed to delete session",
				zap.String("phone_number", phoneNumber),
				zap.String("session_id", sessionID),
				zap.Error(err))
			http.Error(w, "Failed to delete session", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	})
}

func waitForShutdown(logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}
