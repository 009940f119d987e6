package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// ServerURL is the realtime channel endpoint (ws:// or wss://).
	ServerURL string
	// APIBaseURL is the REST backend used for presence fallbacks.
	APIBaseURL string
	// JournalPath is the local presence journal file. Empty disables
	// the journal.
	JournalPath string
	// DebugAddr serves /debug/vars. Empty disables the debug server.
	DebugAddr      string
	AllowedOrigins []string
}

// fileConfig is the TOML shape of an on-disk config file.
type fileConfig struct {
	ServerURL      string   `toml:"server_url"`
	APIBaseURL     string   `toml:"api_base_url"`
	JournalPath    string   `toml:"journal_path"`
	DebugAddr      string   `toml:"debug_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

func validateURL(rawURL string, schemes ...string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, rawURL)
}

func NewConfig(serverURL, apiBaseURL, journalPath, debugAddr string, allowedOrigins []string) (*Config, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if err := validateURL(serverURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("server URL: %w", err)
	}
	if apiBaseURL == "" {
		return nil, fmt.Errorf("API base URL cannot be empty")
	}
	if err := validateURL(apiBaseURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("API base URL: %w", err)
	}

	return &Config{
		ServerURL:      serverURL,
		APIBaseURL:     apiBaseURL,
		JournalPath:    journalPath,
		DebugAddr:      debugAddr,
		AllowedOrigins: allowedOrigins,
	}, nil
}

// LoadFile reads a TOML config file and validates it through NewConfig.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return NewConfig(fc.ServerURL, fc.APIBaseURL, fc.JournalPath, fc.DebugAddr, fc.AllowedOrigins)
}
