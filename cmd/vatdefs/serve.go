package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/auth"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/config"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/logging"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/server"
)

const shutdownTimeout = 10 * time.Second

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func adminTokenConfig(admin config.AdminConfig) auth.TokenConfig {
	return auth.TokenConfig{
		SigningSecret: []byte(admin.SigningSecret),
		Issuer:        admin.Issuer,
		Audience:      admin.Audience,
		TokenTTL:      admin.TokenTTL,
	}
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			logger.Warn("store close failed", zap.Error(closeErr))
		}
	}()

	deps := server.Dependencies{
		Definitions: app.service,
		Metrics:     app.metrics.Handler(),
		Logger:      logger,
	}
	if appConfig.Admin.Enabled() {
		validator, err := auth.NewTokenValidator(adminTokenConfig(appConfig.Admin))
		if err != nil {
			return err
		}
		deps.Admin = validator
	} else {
		logger.Info("admin refresh endpoint disabled; admin.signing_secret is empty")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go warmDefinitions(signalCtx, app, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// warmDefinitions runs the first session at startup so the first request is served from cache.
func warmDefinitions(ctx context.Context, app *application, logger *zap.Logger) {
	if _, err := app.service.LoadDefinitions(ctx); err != nil {
		logger.Warn("startup synchronization incomplete", zap.Error(err))
	}
}

type sessionReport struct {
	SessionID string            `json:"session_id"`
	CheckDue  bool              `json:"check_due"`
	Sources   map[string]string `json:"sources"`
	Errors    []string          `json:"errors,omitempty"`
}

func runSession(ctx context.Context, out io.Writer, force bool) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	load := app.service.LoadDefinitions
	if force {
		load = app.service.Refresh
	}
	loaded, sessionErr := load(signalCtx)
	if sessionErr != nil && !errors.Is(sessionErr, definitions.ErrDefinitionUnavailable) {
		return sessionErr
	}

	report := sessionReport{
		SessionID: loaded.SessionID,
		CheckDue:  loaded.CheckDue,
		Sources:   make(map[string]string, len(loaded.Outcomes)),
	}
	for kind, outcome := range loaded.Outcomes {
		report.Sources[kind.String()] = string(outcome.Source)
	}
	for _, kind := range definitions.Kinds() {
		if _, ok := loaded.Outcomes[kind]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("%s unavailable", kind))
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return err
	}
	return sessionErr
}
