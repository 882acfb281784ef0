package config

import "fmt"

func validate(c *Config) error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.FormWaitTimeout <= 0 || c.ManualWaitTimeout <= 0 {
		return fmt.Errorf("login wait timeouts must be > 0")
	}
	if c.FormWaitTimeout >= c.ManualWaitTimeout {
		return fmt.Errorf("form wait timeout (%s) must be shorter than manual wait timeout (%s)", c.FormWaitTimeout, c.ManualWaitTimeout)
	}
	if c.LoginAttempts <= 0 {
		return fmt.Errorf("login attempts must be > 0")
	}
	if c.QueueConcurrency <= 0 || c.QueueConcurrency > DefaultMaxQueueWorkers {
		return fmt.Errorf("queue concurrency must be between 1 and %d", DefaultMaxQueueWorkers)
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("job max attempts must be > 0")
	}
	if c.CacheMaxSizeBytes <= 0 {
		return fmt.Errorf("cache max size must be > 0")
	}
	if c.ScrapeSpread < 0 {
		return fmt.Errorf("scrape spread must be >= 0")
	}
	if c.AccountURL == "" || c.SignInURL == "" {
		return fmt.Errorf("account and sign-in URLs are required")
	}
	return nil
}
