package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Niakdashit/Tirages-jeux/adapters/excel"
	"github.com/Niakdashit/Tirages-jeux/adapters/ledger"
	"github.com/Niakdashit/Tirages-jeux/app"
	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/internal/api"
	"github.com/Niakdashit/Tirages-jeux/internal/config"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logr, err := logger.New("tirages", appConfig.App.Env, appConfig.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logr.SafeSync()

	widths, err := loadTemplate(appConfig.Paths.TemplateOpt)
	if err != nil {
		logr.Warnw("[Startup] OPT reference template unavailable, Optin sheets keep default widths",
			"path", appConfig.Paths.TemplateOpt, "error", err.Error())
	} else {
		logr.Infow("[Startup] OPT reference template loaded", "path", appConfig.Paths.TemplateOpt, "columns", len(widths))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service := app.NewBatchService(excel.NewDecoder(logr), excel.NewWriter(logr), logr)
	server := api.NewServer(service, api.Defaults{
		Year:           appConfig.Campaign.Year,
		Quota:          appConfig.Campaign.DefaultQuota,
		TemplateWidths: widths,
		MaxUploadBytes: appConfig.Server.MaxUploadBytes(),
		MaxJobs:        appConfig.Server.MaxJobs,
	}, logr)

	if appConfig.Ledger.Enabled() {
		store, err := ledger.Open(ctx, appConfig.Ledger.DSN, logr)
		if err != nil {
			logr.Fatalw("[Startup] run ledger unavailable", "error", err.Error())
		}
		defer store.Close()
		service.WithLedger(store)
		server.WithLedger(store)
	} else {
		logr.Info("[Startup] LEDGER_DSN not set, runs are not recorded")
	}

	srv := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Infow("[Startup] http listening", "addr", srv.Addr, "env", appConfig.App.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatalw("[Startup] http server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	logr.Info("[Shutdown] signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Errorw("[Shutdown] graceful shutdown failed", "error", err.Error())
	}
}

// loadTemplate reads the OPT reference workbook widths
func loadTemplate(path string) (contact.ColumnWidths, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read reference template %s", path)
	}
	widths, err := excel.LoadTemplateWidths(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse reference template %s", path)
	}
	return widths, nil
}
