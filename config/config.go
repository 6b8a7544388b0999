package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the sentra server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Tokens    *TokensBlock    `hcl:"tokens,block"`
	Policy    *PolicyBlock    `hcl:"policy,block"`
	Seal      *SealBlock      `hcl:"seal,block"`
	Audit     *AuditBlock     `hcl:"audit,block"`
}

type ListenerBlock struct {
	Name        string `hcl:"name,label"`
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem" or "postgres"

	// PostgreSQL storage specific config
	ConnectionUrl   string `hcl:"connection_url,optional"`
	Table           string `hcl:"table,optional"`
	MaxParallel     int    `hcl:"max_parallel,optional"`
	SkipCreateTable bool   `hcl:"skip_create_table,optional"`
}

// Config returns the storage configuration as a map
func (s *StorageBlock) Config() map[string]string {
	config := map[string]string{
		"type": s.Type,
	}
	if s.ConnectionUrl != "" {
		config["connection_url"] = s.ConnectionUrl
	}
	if s.Table != "" {
		config["table"] = s.Table
	}
	if s.MaxParallel != 0 {
		config["max_parallel"] = fmt.Sprintf("%d", s.MaxParallel)
	}
	if s.SkipCreateTable {
		config["skip_create_table"] = "true"
	}
	return config
}

// TokensBlock configures token lifetimes and revocation behavior.
type TokensBlock struct {
	Issuer        string `hcl:"issuer,optional"`
	AccessTTLRaw  string `hcl:"access_ttl,optional"`
	RefreshTTLRaw string `hcl:"refresh_ttl,optional"`
	ForensicRaw   string `hcl:"forensic_window,optional"`
	DenylistType  string `hcl:"denylist,optional"` // "inmem" or "redis"
	RedisAddress  string `hcl:"redis_address,optional"`
	RedisPassword string `hcl:"redis_password,optional"`
}

const (
	DefaultAccessTTL      = 10 * time.Minute
	DefaultRefreshTTL     = 30 * 24 * time.Hour
	DefaultForensicWindow = 30 * 24 * time.Hour
)

func (t *TokensBlock) AccessTTL() (time.Duration, error) {
	return parseDurationOr(t.AccessTTLRaw, DefaultAccessTTL)
}

func (t *TokensBlock) RefreshTTL() (time.Duration, error) {
	return parseDurationOr(t.RefreshTTLRaw, DefaultRefreshTTL)
}

func (t *TokensBlock) ForensicWindow() (time.Duration, error) {
	return parseDurationOr(t.ForensicRaw, DefaultForensicWindow)
}

// PolicyBlock configures the policy cache.
type PolicyBlock struct {
	CacheSize    int    `hcl:"cache_size,optional"`
	StalenessRaw string `hcl:"staleness,optional"`
}

const DefaultCacheStaleness = 3 * time.Second

func (p *PolicyBlock) Staleness() (time.Duration, error) {
	return parseDurationOr(p.StalenessRaw, DefaultCacheStaleness)
}

// SealBlock configures the wrapper protecting signing key material at rest.
type SealBlock struct {
	Type string `hcl:"type,label"` // "aead" for a locally held root key
	Key  string `hcl:"key,optional"`
}

// AuditBlock configures audit sinks.
type AuditBlock struct {
	FilePath   string `hcl:"file_path,optional"`
	WebhookURL string `hcl:"webhook_url,optional"`
}

func parseDurationOr(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := parseutil.ParseDurationSecond(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// LoadConfig loads an HCL config file.
func LoadConfig(configFile string) (*Config, error) {
	var config Config
	if err := hclsimple.DecodeFile(configFile, nil, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}
