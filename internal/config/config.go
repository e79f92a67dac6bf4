package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"lan_presence/internal/broadcast"
	"lan_presence/internal/dataType"
	"lan_presence/internal/registry"
	"lan_presence/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type TLSConfig struct {
	CertFile     string `yaml:"cert_file" validate:"required"`
	KeyFile      string `yaml:"key_file" validate:"required"`
	ClientCAFile string `yaml:"client_ca_file" validate:"required"`
}

type MainConfig struct {
	Port            string           `yaml:"port" validate:"required,numeric"`
	NodeName        string           `yaml:"node_name"`
	LogPath         string           `yaml:"log_path"`
	Debug           bool             `yaml:"debug"`
	TLS             TLSConfig        `yaml:"tls"`
	Registry        registry.Config  `yaml:"registry"`
	Broadcast       broadcast.Config `yaml:"broadcast"`
	TrustedProxies  []string         `yaml:"trusted_proxies" validate:"dive,cidr|ip"`
	UpdateRateLimit []string         `yaml:"update_rate_limit"`
	MetricsListen   string           `yaml:"metrics_listen" validate:"omitempty,hostname_port"`
}

func defaultConfig() MainConfig {
	return MainConfig{
		Port:     "8443",
		NodeName: "LAN Presence",
		LogPath:  "/www/lan_presence/log/",
		TLS: TLSConfig{
			CertFile:     "/www/lan_presence/config/tls/server.crt",
			KeyFile:      "/www/lan_presence/config/tls/server.key",
			ClientCAFile: "/www/lan_presence/config/tls/client_ca.crt",
		},
		Registry: registry.Config{
			Backend: registry.BackendMemory,
		},
		Broadcast: broadcast.Config{
			SourcePort: broadcast.DefaultSourcePort,
			DestPort:   broadcast.DefaultDestPort,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadMainConfig Read the configuration file over the defaults and validate
// the result
func LoadMainConfig(basePath string) (*MainConfig, error) {
	defaultCfg := defaultConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "presence.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return &defaultCfg, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &defaultCfg, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return &defaultCfg, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

func (c *MainConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.UpdateRateLimits(); err != nil {
		return err
	}
	b := c.Broadcast
	if b.SourcePort < 0 || b.SourcePort > 65535 || b.DestPort <= 0 || b.DestPort > 65535 {
		return fmt.Errorf("broadcast ports out of range: source %d, dest %d", b.SourcePort, b.DestPort)
	}
	if b.Address != "" && b.Address != broadcast.AutoAddress && net.ParseIP(b.Address).To4() == nil {
		return fmt.Errorf("broadcast address %q is neither an IPv4 address nor %q", b.Address, broadcast.AutoAddress)
	}
	return nil
}

// TrustedProxyTrie builds the set of peers allowed to supply address
// overrides. A nil trie means every peer is trusted.
func (c *MainConfig) TrustedProxyTrie() (*dataType.PrefixTrie, error) {
	if len(c.TrustedProxies) == 0 {
		return nil, nil
	}
	trie := &dataType.PrefixTrie{}
	for _, entry := range c.TrustedProxies {
		line := strings.TrimSpace(entry)
		if !strings.Contains(line, "/") {
			if strings.Contains(line, ":") {
				line = line + "/128"
			} else {
				line = line + "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(line)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		trie.Insert(ipNet)
	}
	return trie, nil
}

// UpdateRateLimits maps a window length in seconds to the number of updates
// one peer may make within it.
func (c *MainConfig) UpdateRateLimits() (map[int64]int64, error) {
	limits := make(map[int64]int64, len(c.UpdateRateLimit))
	for _, s := range c.UpdateRateLimit {
		limit, seconds, err := utils.ParseRate(s)
		if err != nil {
			return nil, err
		}
		limits[int64(seconds)] = int64(limit)
	}
	return limits, nil
}
