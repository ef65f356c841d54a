package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures the mirrored
// source account, the target instance, freshness bounds, link hygiene tables,
// media policy and ledger retention.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Freshness FreshnessConfig `yaml:"freshness"`
	Posting   PostingConfig   `yaml:"posting"`
	Links     LinksConfig     `yaml:"links"`
	Media     MediaConfig     `yaml:"media"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type SourceConfig struct {
	// Account handle on the origin platform, without leading @.
	Account string `yaml:"account"`
	// Base URLs of read-only mirror instances, tried in order until one
	// serves a recognizable timeline page.
	MirrorBases []string `yaml:"mirrorBases"`
	// User agents rotated across requests. Empty means a built-in pool.
	UserAgents []string `yaml:"userAgents"`
}

type TargetConfig struct {
	// Instance hostname, e.g. mastodon.example. Also used as the
	// target-service component of the dedup key.
	Instance string `yaml:"instance"`
	Account  string `yaml:"account"`
	// Access token for the target API. If empty, read MIRRORBIRD_ACCESS_TOKEN,
	// else obtained via password login with the credentials below.
	AccessToken  string `yaml:"accessToken"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Password     string `yaml:"password"`
}

type FreshnessConfig struct {
	// Posts younger than this are skipped (they may still be deleted).
	MinDelayMinutes float64 `yaml:"minDelayMinutes"`
	// Posts older than this are skipped.
	MaxAgeDays float64 `yaml:"maxAgeDays"`
}

func (f FreshnessConfig) MinDelayHours() float64 { return f.MinDelayMinutes / 60.0 }
func (f FreshnessConfig) MaxAgeHours() float64   { return f.MaxAgeDays * 24.0 }

type PostingConfig struct {
	// Optional fixed footer appended to every delivered message.
	Footer string `yaml:"footer"`
	// Append a back-link to the original post. Enabled by default.
	BackLink *bool `yaml:"backLink"`
	// Base URL prefixed to the post permalink in the back-link.
	OriginBase string `yaml:"originBase"`
	// Suppress replies / reposts entirely instead of annotating them.
	SkipReplies bool `yaml:"skipReplies"`
	SkipReposts bool `yaml:"skipReposts"`
}

// BackLinkEnabled treats an absent backLink key as true.
func (p PostingConfig) BackLinkEnabled() bool { return p.BackLink == nil || *p.BackLink }

type LinksConfig struct {
	// Query / fragment parameter names stripped from outbound links.
	TrackerParams []string `yaml:"trackerParams"`
	// Host substitution groups applied to resolved links.
	Substitutions []Substitution `yaml:"substitutions"`
}

// Substitution replaces a matched source host with a randomly chosen mirror
// host, leaving the rest of the URL untouched.
type Substitution struct {
	Hosts   []string `yaml:"hosts"`
	Mirrors []string `yaml:"mirrors"`
}

type MediaConfig struct {
	// Root of the per-run download workspace. Removed per account after a run.
	Dir string `yaml:"dir"`
	// Download native videos and upload them to the target.
	CaptureVideo bool `yaml:"captureVideo"`
	// Fail a post whose only attachment was a video we could not fetch.
	RequireVideo bool `yaml:"requireVideo"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
	// Most recent deliveries kept per source account after pruning.
	Retention int `yaml:"retention"`
}

type MetricsConfig struct {
	// Listen address for /metrics, e.g. ":9090". Empty disables the server.
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Source: SourceConfig{
			MirrorBases: []string{"https://nitter.net"},
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/87.0.4280.88 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:84.0) Gecko/20100101 Firefox/84.0",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 11_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.1 Safari/605.1.15",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/87.0.4280.88 Safari/537.36 Edg/87.0.664.60",
			},
		},
		Freshness: FreshnessConfig{MinDelayMinutes: 0, MaxAgeDays: 1},
		Posting:   PostingConfig{OriginBase: "https://twitter.com"},
		Links: LinksConfig{
			TrackerParams: []string{
				"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
				"mkt_tok",
				"campaign_name", "ad_set_name", "campaign_id", "ad_set_id",
				"media", "interest_group_name",
				"xtor",
			},
			Substitutions: []Substitution{
				{Hosts: []string{"twitter.com", "www.twitter.com", "mobile.twitter.com"}, Mirrors: []string{"nitter.net"}},
				{Hosts: []string{"youtube.com", "www.youtube.com", "youtu.be"}, Mirrors: []string{"yewtu.be", "invidious.snopyta.org"}},
				{Hosts: []string{"reddit.com", "www.reddit.com", "old.reddit.com"}, Mirrors: []string{"teddit.net"}},
			},
		},
		Media:  MediaConfig{Dir: "./output", CaptureVideo: false, RequireVideo: false},
		Ledger: LedgerConfig{Path: "./mirrorbird.db", Retention: 1000},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Target.AccessToken == "" {
		c.Target.AccessToken = os.Getenv("MIRRORBIRD_ACCESS_TOKEN")
	}
	if c.Target.Password == "" {
		c.Target.Password = os.Getenv("MIRRORBIRD_PASSWORD")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
