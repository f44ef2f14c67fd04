package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/config"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/database"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/defsync"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/formats"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/metrics"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/origin"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/store"
)

// application holds the wired engine and its resources.
type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   *store.Store
	metrics *metrics.Collector
	service *defsync.Service
}

func newApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	collector := metrics.New()

	definitionStore := store.Open(ctx, database.Opener(appConfig.DatabasePath, logger), store.Config{Logger: logger})

	httpClient := origin.NewHTTPClient(appConfig.Sync.HTTPTimeout)

	mirror, err := origin.NewMirrorMetaFetcher(origin.MirrorConfig{
		BaseURL:      appConfig.Mirror.BaseURL,
		ManifestPath: appConfig.Mirror.ManifestPath,
		Client:       httpClient,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		return nil, closeOnError(definitionStore, err)
	}

	repository, err := newRepositorySource(appConfig.Repository, httpClient, logger, collector)
	if err != nil {
		return nil, closeOnError(definitionStore, err)
	}

	serviceConfig := defsync.ServiceConfig{
		Store:         definitionStore,
		Mirror:        mirror,
		Codecs:        formats.Codecs(),
		CheckInterval: appConfig.Sync.CheckInterval,
		Logger:        logger,
		Metrics:       collector,
	}
	if repository != nil {
		serviceConfig.Repository = repository
	}
	service, err := defsync.NewService(serviceConfig)
	if err != nil {
		return nil, closeOnError(definitionStore, err)
	}

	return &application{
		config:  appConfig,
		logger:  logger,
		store:   definitionStore,
		metrics: collector,
		service: service,
	}, nil
}

// newRepositorySource returns nil when the repository origin is disabled.
func newRepositorySource(cfg config.RepositoryConfig, httpClient *origin.HTTPClient, logger *zap.Logger, collector *metrics.Collector) (*origin.RepositoryMetaFetcher, error) {
	var transport origin.Repository
	switch cfg.Transport {
	case config.TransportNone:
		logger.Info("repository origin disabled")
		return nil, nil
	case config.TransportGit:
		gitRepository, err := origin.NewGitRepository(origin.GitConfig{
			URL:    cfg.GitURL,
			Branch: cfg.Branch,
			Token:  cfg.Token,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		transport = gitRepository
	case config.TransportGitHub:
		gitHubRepository, err := origin.NewGitHubRepository(origin.GitHubConfig{
			APIURL: cfg.APIURL,
			Owner:  cfg.Owner,
			Name:   cfg.Name,
			Branch: cfg.Branch,
			Token:  cfg.Token,
			Client: httpClient,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		transport = gitHubRepository
	default:
		return nil, fmt.Errorf("unsupported repository transport %q", cfg.Transport)
	}

	return origin.NewRepositoryMetaFetcher(origin.RepositoryConfig{
		Repository:   transport,
		MainPath:     strings.TrimSpace(cfg.MainPath),
		BoundaryPath: strings.TrimSpace(cfg.BoundaryPath),
		Logger:       logger,
		Metrics:      collector,
	})
}

func (a *application) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

func closeOnError(definitionStore *store.Store, err error) error {
	if closeErr := definitionStore.Close(context.Background()); closeErr != nil {
		return fmt.Errorf("%w (close store: %v)", err, closeErr)
	}
	return err
}
