package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// Paths. SessionFile, ProfileDir, DebugDir and DBPath default to children of DataDir.
	DataDir     string
	SessionFile string
	ProfileDir  string
	DebugDir    string
	DBPath      string

	// Login flow
	AccountURL        string
	SignInURL         string
	FormWaitTimeout   time.Duration
	ManualWaitTimeout time.Duration
	NavigationTimeout time.Duration
	LoginAttempts     int

	// Browser
	BrowserChannel string
	ChromePath     string
	Headless       bool
	Locale         string
	Timezone       string
	WindowWidth    int
	WindowHeight   int
	UserAgent      string

	// Queue
	QueueConcurrency  int
	QueuePollInterval time.Duration
	VisibilityTimeout time.Duration
	JobMaxAttempts    int
	JobBackoff        time.Duration
	JobCourtesyDelay  time.Duration

	// Video platform API
	HTTPTimeout       time.Duration
	YouTubeAPIKey     string
	YouTubeAPIBase    string
	YouTubeRPS        float64
	YouTubeBurst      int
	YouTubeCacheTTL   time.Duration
	CacheMaxSizeBytes int64

	// Scraping
	MaxVideosPerScrape int
	BrowserFallback    bool
	FetchDescriptions  bool

	// Server and scheduling
	ServerAddr     string
	ScrapeSchedule string
	// ScrapeSpread delays each scheduled channel scrape this much after the previous one
	ScrapeSpread time.Duration
}

// fileConfig mirrors the TOML layout. Durations are written as Go duration strings ("10s").
type fileConfig struct {
	LogLevel string `toml:"log_level"`
	JSONLog  *bool  `toml:"json_log"`
	DataDir  string `toml:"data_dir"`

	Login struct {
		AccountURL        string `toml:"account_url"`
		SignInURL         string `toml:"signin_url"`
		FormWaitTimeout   string `toml:"form_wait_timeout"`
		ManualWaitTimeout string `toml:"manual_wait_timeout"`
		NavigationTimeout string `toml:"navigation_timeout"`
		Attempts          int    `toml:"attempts"`
	} `toml:"login"`

	Browser struct {
		Channel      string `toml:"channel"`
		ChromePath   string `toml:"chrome_path"`
		Headless     *bool  `toml:"headless"`
		Locale       string `toml:"locale"`
		Timezone     string `toml:"timezone"`
		WindowWidth  int    `toml:"window_width"`
		WindowHeight int    `toml:"window_height"`
		UserAgent    string `toml:"user_agent"`
	} `toml:"browser"`

	Queue struct {
		Concurrency       int    `toml:"concurrency"`
		PollInterval      string `toml:"poll_interval"`
		VisibilityTimeout string `toml:"visibility_timeout"`
		MaxAttempts       int    `toml:"max_attempts"`
		Backoff           string `toml:"backoff"`
		CourtesyDelay     string `toml:"courtesy_delay"`
	} `toml:"queue"`

	YouTube struct {
		APIKey   string  `toml:"api_key"`
		APIBase  string  `toml:"api_base"`
		Timeout  string  `toml:"timeout"`
		RPS      float64 `toml:"rps"`
		Burst    int     `toml:"burst"`
		CacheTTL string  `toml:"cache_ttl"`
	} `toml:"youtube"`

	Scrape struct {
		MaxVideos         int    `toml:"max_videos"`
		BrowserFallback   *bool  `toml:"browser_fallback"`
		FetchDescriptions *bool  `toml:"fetch_descriptions"`
		Schedule          string `toml:"schedule"`
		Spread            string `toml:"spread"`
	} `toml:"scrape"`

	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`
}

// Load builds a Config by combining defaults, an optional config file, environment variables, and CLI flags.
// Caller should pass the root *cobra.Command so flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := Defaults()

	// Config file (lowest priority after defaults)
	path := os.Getenv("PANELWATCH_CONFIG")
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	// Read CLI flags if provided
	if cmd != nil {
		if f := cmd.Flags().Lookup("user-agent"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.UserAgent = s
			}
		}
		if f := cmd.Flags().Lookup("data-dir"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.DataDir = s
			}
		}
		if f := cmd.Flags().Lookup("timeout"); f != nil && f.Changed {
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.HTTPTimeout = d
			}
		}
		if f := cmd.Flags().Lookup("headless"); f != nil && f.Changed {
			cfg.Headless = f.Value.String() == "true"
		}
		if f := cmd.Flags().Lookup("json"); f != nil {
			if f.Value.String() == "true" {
				cfg.JSONLog = true
			}
		}
		if f := cmd.Flags().Lookup("verbose"); f != nil {
			if f.Value.String() == "true" {
				cfg.LogLevel = "debug"
			}
		}
		if f := cmd.Flags().Lookup("quiet"); f != nil {
			if f.Value.String() == "true" {
				cfg.LogLevel = "error"
			}
		}
	}

	cfg.resolvePaths()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values only
func Defaults() *Config {
	cfg := &Config{
		LogLevel:           DefaultLogLevel,
		JSONLog:            DefaultJSONLog,
		AccountURL:         DefaultAccountURL,
		SignInURL:          DefaultSignInURL,
		FormWaitTimeout:    DefaultFormWaitTimeout,
		ManualWaitTimeout:  DefaultManualWaitTimeout,
		NavigationTimeout:  DefaultNavigationTimeout,
		LoginAttempts:      DefaultLoginAttempts,
		BrowserChannel:     DefaultBrowserChannel,
		Locale:             DefaultLocale,
		Timezone:           DefaultTimezone,
		WindowWidth:        DefaultWindowWidth,
		WindowHeight:       DefaultWindowHeight,
		UserAgent:          DefaultUserAgent,
		QueueConcurrency:   DefaultQueueConcurrency,
		QueuePollInterval:  DefaultQueuePollInterval,
		VisibilityTimeout:  DefaultVisibilityTimeout,
		JobMaxAttempts:     DefaultJobMaxAttempts,
		JobBackoff:         DefaultJobBackoff,
		JobCourtesyDelay:   DefaultJobCourtesyDelay,
		HTTPTimeout:        DefaultHTTPTimeout,
		YouTubeAPIBase:     DefaultYouTubeAPIBase,
		YouTubeRPS:         DefaultYouTubeRPS,
		YouTubeBurst:       DefaultYouTubeBurst,
		YouTubeCacheTTL:    DefaultYouTubeCacheTTL,
		CacheMaxSizeBytes:  DefaultCacheMaxSizeBytes,
		MaxVideosPerScrape: DefaultMaxVideosPerScrape,
		BrowserFallback:    DefaultBrowserFallback,
		FetchDescriptions:  DefaultFetchDescriptions,
		ServerAddr:         DefaultServerAddr,
		ScrapeSchedule:     DefaultScrapeSchedule,
		ScrapeSpread:       DefaultScrapeSpread,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DataDir = filepath.Join(home, DefaultDataDir)
	} else {
		cfg.DataDir = DefaultDataDir
	}
	return cfg
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.LogLevel, fc.LogLevel)
	if fc.JSONLog != nil {
		cfg.JSONLog = *fc.JSONLog
	}
	setString(&cfg.DataDir, fc.DataDir)

	setString(&cfg.AccountURL, fc.Login.AccountURL)
	setString(&cfg.SignInURL, fc.Login.SignInURL)
	setInt(&cfg.LoginAttempts, fc.Login.Attempts)

	setString(&cfg.BrowserChannel, fc.Browser.Channel)
	setString(&cfg.ChromePath, fc.Browser.ChromePath)
	if fc.Browser.Headless != nil {
		cfg.Headless = *fc.Browser.Headless
	}
	setString(&cfg.Locale, fc.Browser.Locale)
	setString(&cfg.Timezone, fc.Browser.Timezone)
	setInt(&cfg.WindowWidth, fc.Browser.WindowWidth)
	setInt(&cfg.WindowHeight, fc.Browser.WindowHeight)
	setString(&cfg.UserAgent, fc.Browser.UserAgent)

	setInt(&cfg.QueueConcurrency, fc.Queue.Concurrency)
	setInt(&cfg.JobMaxAttempts, fc.Queue.MaxAttempts)

	setString(&cfg.YouTubeAPIKey, fc.YouTube.APIKey)
	setString(&cfg.YouTubeAPIBase, fc.YouTube.APIBase)
	if fc.YouTube.RPS > 0 {
		cfg.YouTubeRPS = fc.YouTube.RPS
	}
	setInt(&cfg.YouTubeBurst, fc.YouTube.Burst)

	setInt(&cfg.MaxVideosPerScrape, fc.Scrape.MaxVideos)
	if fc.Scrape.BrowserFallback != nil {
		cfg.BrowserFallback = *fc.Scrape.BrowserFallback
	}
	if fc.Scrape.FetchDescriptions != nil {
		cfg.FetchDescriptions = *fc.Scrape.FetchDescriptions
	}
	setString(&cfg.ScrapeSchedule, fc.Scrape.Schedule)
	setString(&cfg.ServerAddr, fc.Server.Addr)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"login.form_wait_timeout", fc.Login.FormWaitTimeout, &cfg.FormWaitTimeout},
		{"login.manual_wait_timeout", fc.Login.ManualWaitTimeout, &cfg.ManualWaitTimeout},
		{"login.navigation_timeout", fc.Login.NavigationTimeout, &cfg.NavigationTimeout},
		{"queue.poll_interval", fc.Queue.PollInterval, &cfg.QueuePollInterval},
		{"queue.visibility_timeout", fc.Queue.VisibilityTimeout, &cfg.VisibilityTimeout},
		{"queue.backoff", fc.Queue.Backoff, &cfg.JobBackoff},
		{"queue.courtesy_delay", fc.Queue.CourtesyDelay, &cfg.JobCourtesyDelay},
		{"scrape.spread", fc.Scrape.Spread, &cfg.ScrapeSpread},
		{"youtube.timeout", fc.YouTube.Timeout, &cfg.HTTPTimeout},
		{"youtube.cache_ttl", fc.YouTube.CacheTTL, &cfg.YouTubeCacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// applyEnv overrides from PANELWATCH_* environment variables
func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, os.Getenv("PANELWATCH_DATA_DIR"))
	setString(&cfg.ChromePath, os.Getenv("PANELWATCH_CHROME_PATH"))
	setString(&cfg.UserAgent, os.Getenv("PANELWATCH_USER_AGENT"))
	setString(&cfg.YouTubeAPIKey, os.Getenv("PANELWATCH_YOUTUBE_API_KEY"))
	setString(&cfg.ServerAddr, os.Getenv("PANELWATCH_SERVER_ADDR"))
	setString(&cfg.LogLevel, os.Getenv("PANELWATCH_LOG_LEVEL"))
	if v := os.Getenv("PANELWATCH_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v := os.Getenv("PANELWATCH_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
}

func (c *Config) resolvePaths() {
	if c.SessionFile == "" {
		c.SessionFile = filepath.Join(c.DataDir, "session", "cookies.json")
	}
	if c.ProfileDir == "" {
		c.ProfileDir = filepath.Join(c.DataDir, "profile")
	}
	if c.DebugDir == "" {
		c.DebugDir = filepath.Join(c.DataDir, "debug")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "db")
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
