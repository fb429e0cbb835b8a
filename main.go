package main

import (
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kovacsmedia/SchoolLive-backend/internal/audit"
	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commandsapp "github.com/kovacsmedia/SchoolLive-backend/internal/commands/application"
	commandsrepo "github.com/kovacsmedia/SchoolLive-backend/internal/commands/infrastructure/postgres"
	commandshttp "github.com/kovacsmedia/SchoolLive-backend/internal/commands/interfaces/http"
	devicesapp "github.com/kovacsmedia/SchoolLive-backend/internal/devices/application"
	devicesrepo "github.com/kovacsmedia/SchoolLive-backend/internal/devices/infrastructure/postgres"
	deviceshttp "github.com/kovacsmedia/SchoolLive-backend/internal/devices/interfaces/http"
	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
	provisioningapp "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/application"
	provisioningrepo "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/infrastructure/postgres"
	provisioninghttp "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/interfaces/http"
)

type config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret      string `env:"AUTH_JWT_SECRET"`
	DispatchConfig string `env:"DISPATCH_CONFIG"`
	LogFile        string `env:"LOG_FILE"`
	LogMaxSizeMB   int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups  int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}

	logger := log.New(logOutput(cfg), "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	dispatchPolicy := commandsapp.DefaultPolicy()
	if cfg.DispatchConfig != "" {
		dispatchPolicy, err = commandsapp.LoadPolicy(cfg.DispatchConfig)
		if err != nil {
			logger.Fatalf("dispatch config error: %v", err)
		}
	}

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	deviceService, err := devicesapp.NewService(deviceRepo, nil)
	if err != nil {
		logger.Fatalf("device service error: %v", err)
	}
	deviceHandler, err := deviceshttp.NewHandler(deviceService, auditRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	beaconHandler, err := deviceshttp.NewBeaconHandler(deviceService)
	if err != nil {
		logger.Fatalf("beacon handler error: %v", err)
	}

	commandRepo := commandsrepo.NewCommandRepository(db)
	commandService, err := commandsapp.NewService(commandRepo, deviceService, dispatchPolicy, nil, logger)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandAdminHandler, err := commandshttp.NewAdminHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	commandDeviceHandler, err := commandshttp.NewDeviceHandler(commandService)
	if err != nil {
		logger.Fatalf("device command handler error: %v", err)
	}

	sessionStore := provisioningrepo.NewSessionStore(db)
	provisionService, err := provisioningapp.NewService(deviceRepo, sessionStore, nil)
	if err != nil {
		logger.Fatalf("provisioning service error: %v", err)
	}
	provisionHandler, err := provisioninghttp.NewHandler(provisionService, auditRepo)
	if err != nil {
		logger.Fatalf("provisioning handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics", "/api/v1/provisioning/confirm"},
		[]string{"/api/v1/device/"},
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	deviceKeyMiddleware := auth.NewDeviceKeyMiddleware(deviceService)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/commands", commandAdminHandler)
	mux.Handle("/api/v1/commands/", commandAdminHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/device/poll", deviceKeyMiddleware.Wrap(commandDeviceHandler))
	mux.Handle("/api/v1/device/ack", deviceKeyMiddleware.Wrap(commandDeviceHandler))
	mux.Handle("/api/v1/device/beacon", deviceKeyMiddleware.Wrap(beaconHandler))
	mux.HandleFunc("/api/v1/provisioning/start", provisionHandler.ServeStart)
	mux.HandleFunc("/api/v1/provisioning/confirm", provisionHandler.ServeConfirm)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func logOutput(cfg config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
