package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "VATDEFS"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "vatdefs.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultCheckInterval   = 24 * time.Hour
	defaultHTTPTimeout     = 30 * time.Second
	defaultTransport       = TransportGitHub
	defaultAPIURL          = "https://api.github.com"
	defaultOwner           = "vatsimnetwork"
	defaultRepositoryName  = "vatspy-data-project"
	defaultBranch          = "master"
	defaultMainPath        = "VATSpy.dat"
	defaultBoundaryPath    = "Boundaries.geojson"
	defaultManifestPath    = "manifest.json"
	defaultAdminTokenTTL   = 15 * time.Minute
	defaultAdminIssuer     = "vatdefs"
	defaultAdminAudience   = "vatdefs-admin"
	minimumAdminSecretSize = 16
)

const (
	// TransportGitHub reads the repository through the GitHub REST API.
	TransportGitHub = "github"
	// TransportGit reads the repository through a shallow git clone.
	TransportGit = "git"
	// TransportNone disables the repository origin.
	TransportNone = "none"
)

// AppConfig captures runtime configuration for the synchronization engine.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string
	Sync         SyncConfig
	Repository   RepositoryConfig
	Mirror       MirrorConfig
	Admin        AdminConfig
}

// SyncConfig controls the staleness gate and origin timeouts.
type SyncConfig struct {
	CheckInterval time.Duration
	HTTPTimeout   time.Duration
}

// RepositoryConfig locates the version-controlled origin.
type RepositoryConfig struct {
	Transport    string
	APIURL       string
	GitURL       string
	Owner        string
	Name         string
	Branch       string
	MainPath     string
	BoundaryPath string
	Token        string
}

// MirrorConfig locates the mirror origin.
type MirrorConfig struct {
	BaseURL      string
	ManifestPath string
}

// AdminConfig configures bearer tokens for manual refresh.
type AdminConfig struct {
	SigningSecret string
	TokenTTL      time.Duration
	Issuer        string
	Audience      string
}

// Enabled reports whether admin tokens can be issued and verified.
func (c AdminConfig) Enabled() bool {
	return strings.TrimSpace(c.SigningSecret) != ""
}

// LoadDotEnv loads environment files, skipping ones that do not exist.
// Variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("sync.check_interval", defaultCheckInterval)
	configViper.SetDefault("sync.http_timeout", defaultHTTPTimeout)
	configViper.SetDefault("repository.transport", defaultTransport)
	configViper.SetDefault("repository.api_url", defaultAPIURL)
	configViper.SetDefault("repository.git_url", "")
	configViper.SetDefault("repository.owner", defaultOwner)
	configViper.SetDefault("repository.name", defaultRepositoryName)
	configViper.SetDefault("repository.branch", defaultBranch)
	configViper.SetDefault("repository.main_path", defaultMainPath)
	configViper.SetDefault("repository.boundary_path", defaultBoundaryPath)
	configViper.SetDefault("repository.token", "")
	configViper.SetDefault("mirror.base_url", "")
	configViper.SetDefault("mirror.manifest_path", defaultManifestPath)
	configViper.SetDefault("admin.signing_secret", "")
	configViper.SetDefault("admin.token_ttl", defaultAdminTokenTTL)
	configViper.SetDefault("admin.issuer", defaultAdminIssuer)
	configViper.SetDefault("admin.audience", defaultAdminAudience)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),
		Sync: SyncConfig{
			CheckInterval: configViper.GetDuration("sync.check_interval"),
			HTTPTimeout:   configViper.GetDuration("sync.http_timeout"),
		},
		Repository: RepositoryConfig{
			Transport:    strings.ToLower(strings.TrimSpace(configViper.GetString("repository.transport"))),
			APIURL:       configViper.GetString("repository.api_url"),
			GitURL:       configViper.GetString("repository.git_url"),
			Owner:        configViper.GetString("repository.owner"),
			Name:         configViper.GetString("repository.name"),
			Branch:       configViper.GetString("repository.branch"),
			MainPath:     configViper.GetString("repository.main_path"),
			BoundaryPath: configViper.GetString("repository.boundary_path"),
			Token:        configViper.GetString("repository.token"),
		},
		Mirror: MirrorConfig{
			BaseURL:      configViper.GetString("mirror.base_url"),
			ManifestPath: configViper.GetString("mirror.manifest_path"),
		},
		Admin: AdminConfig{
			SigningSecret: configViper.GetString("admin.signing_secret"),
			TokenTTL:      configViper.GetDuration("admin.token_ttl"),
			Issuer:        configViper.GetString("admin.issuer"),
			Audience:      configViper.GetString("admin.audience"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Mirror.BaseURL) == "" {
		return fmt.Errorf("mirror.base_url is required")
	}
	if c.Sync.CheckInterval <= 0 {
		return fmt.Errorf("sync.check_interval must be positive")
	}
	if c.Sync.HTTPTimeout <= 0 {
		return fmt.Errorf("sync.http_timeout must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if err := c.Repository.validate(); err != nil {
		return err
	}
	if c.Admin.Enabled() {
		if len(c.Admin.SigningSecret) < minimumAdminSecretSize {
			return fmt.Errorf("admin.signing_secret must be at least %d characters", minimumAdminSecretSize)
		}
		if c.Admin.TokenTTL <= 0 {
			return fmt.Errorf("admin.token_ttl must be positive")
		}
	}
	return nil
}

func (c RepositoryConfig) validate() error {
	switch c.Transport {
	case TransportNone:
		return nil
	case TransportGitHub:
		if strings.TrimSpace(c.Owner) == "" || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("repository.owner and repository.name are required for the github transport")
		}
	case TransportGit:
		if strings.TrimSpace(c.GitURL) == "" {
			return fmt.Errorf("repository.git_url is required for the git transport")
		}
	default:
		return fmt.Errorf("repository.transport must be one of %s, %s, %s; got %q", TransportGitHub, TransportGit, TransportNone, c.Transport)
	}
	if strings.TrimSpace(c.Branch) == "" {
		return fmt.Errorf("repository.branch is required")
	}
	if strings.TrimSpace(c.MainPath) == "" || strings.TrimSpace(c.BoundaryPath) == "" {
		return fmt.Errorf("repository.main_path and repository.boundary_path are required")
	}
	return nil
}
