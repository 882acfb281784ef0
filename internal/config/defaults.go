package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel = "info"
	DefaultJSONLog  = false
	DefaultDataDir  = ".panelwatch"

	// Login flow
	DefaultAccountURL        = "https://myaccount.google.com/"
	DefaultSignInURL         = "https://accounts.google.com/"
	DefaultFormWaitTimeout   = 10 * time.Second
	DefaultManualWaitTimeout = 120 * time.Second
	DefaultNavigationTimeout = 60 * time.Second
	DefaultLoginAttempts     = 2 // one run plus one retry

	// Browser
	DefaultBrowserChannel = "chrome"
	DefaultLocale         = "en-US"
	DefaultTimezone       = "America/New_York"
	DefaultWindowWidth    = 1366
	DefaultWindowHeight   = 768
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// Queue
	DefaultQueueConcurrency   = 2
	DefaultMaxQueueWorkers    = 16
	DefaultQueuePollInterval  = 1 * time.Second
	DefaultVisibilityTimeout  = 10 * time.Minute
	DefaultJobMaxAttempts     = 3
	DefaultJobBackoff         = 30 * time.Second
	DefaultJobCourtesyDelay   = 2 * time.Second
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultYouTubeAPIBase     = "https://www.googleapis.com/youtube/v3"
	DefaultYouTubeRPS         = 2.0
	DefaultYouTubeBurst       = 4
	DefaultYouTubeCacheTTL    = 10 * time.Minute
	DefaultCacheMaxSizeBytes  = 16 * 1024 * 1024 // 16MB
	DefaultMaxVideosPerScrape = 25
	DefaultBrowserFallback    = true
	DefaultFetchDescriptions  = true

	// Server and scheduling
	DefaultServerAddr     = "127.0.0.1:8790"
	DefaultScrapeSchedule = "@every 6h"
	DefaultScrapeSpread   = 10 * time.Second
)
