package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	DatabasePath string `envconfig:"DB_PATH" default:""`
	ProfilesPath string `envconfig:"PROFILES_PATH" default:""`
	KnownHosts   string `envconfig:"KNOWN_HOSTS" default:""`

	// Connection defaults
	DefaultUser       string        `envconfig:"DEFAULT_USER" default:"root"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`

	// Walker and download policy
	Workers               int `envconfig:"WORKERS" default:"4"`
	DownloadMaxDepth      int `envconfig:"DOWNLOAD_MAX_DEPTH" default:"-1"` // negative is unbounded
	ListingErrorThreshold int `envconfig:"LISTING_ERROR_THRESHOLD" default:"32"`

	AuditDisabled      bool `envconfig:"AUDIT_DISABLED" default:"false"`
	AuditRetentionDays int  `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

// Load reads FILESSH_* environment variables into Cfg and exits on error.
func Load() {
	if err := Process(&Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Process fills s from the environment and resolves the derived paths.
func Process(s *Settings) error {
	if err := envconfig.Process("FILESSH", s); err != nil {
		return err
	}
	dataDir := s.DataDir()
	if s.LogPath == "" {
		s.LogPath = filepath.Join(dataDir, "filessh.log")
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(dataDir, "filessh.db")
	}
	if s.ProfilesPath == "" {
		s.ProfilesPath = filepath.Join(dataDir, "profiles.yaml")
	}
	if s.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			s.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	return nil
}

// DataDir is FILESSH_DATA_PATH, or the per-user config directory, or ./.data
// as a last resort.
func (s *Settings) DataDir() string {
	if s.DataPath != "" {
		return s.DataPath
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "filessh")
	}
	return filepath.Join(".", ".data")
}
