// Package diagnostics records a screenshot and the rendered markup of a page when
// a browser flow fails. Capture is best-effort and never returns an error.
package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/browser"
)

// Artifact name prefixes
const (
	// DefaultPrefix names artifacts produced by the login flow
	DefaultPrefix = "login-failure"
	ScrapePrefix  = "scrape-failure"
)

// artifactTimeout bounds each read from the page so a hung tab cannot stall error reporting
const artifactTimeout = 15 * time.Second

// Artifacts lists the files Capture attempted to write
type Artifacts struct {
	Screenshot string
	HTML       string
}

// Capturer writes debug artifacts under a fixed directory
type Capturer struct {
	dir    string
	prefix string

	now       func() time.Time
	mkdirAll  func(string, os.FileMode) error
	writeFile func(string, []byte, os.FileMode) error
}

// New creates a Capturer writing to dir
func New(dir string) *Capturer {
	return &Capturer{
		dir:       dir,
		prefix:    DefaultPrefix,
		now:       time.Now,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
	}
}

// WithPrefix returns a copy that names artifacts <prefix>-<timestamp>
func (c *Capturer) WithPrefix(prefix string) *Capturer {
	cp := *c
	cp.prefix = prefix
	return &cp
}

// Capture saves <prefix>-<ts>.png and <prefix>-<ts>.html. Each write is independent;
// failures are logged and cause is always logged last.
func (c *Capturer) Capture(ctx context.Context, page browser.Page, cause error) Artifacts {
	stamp := Timestamp(c.now())
	art := Artifacts{
		Screenshot: filepath.Join(c.dir, c.prefix+"-"+stamp+".png"),
		HTML:       filepath.Join(c.dir, c.prefix+"-"+stamp+".html"),
	}

	// The flow's ctx may already be done (that is often why we are here)
	base := context.WithoutCancel(ctx)

	if err := c.mkdirAll(c.dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", c.dir).Msg("Failed to create debug directory")
	}

	if page == nil {
		log.Warn().Msg("No page available for diagnostics")
	} else {
		c.saveScreenshot(base, page, art.Screenshot)
		c.saveHTML(base, page, art.HTML)
	}

	ev := log.Error()
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Str("screenshot", art.Screenshot).Str("html", art.HTML).Msg("Browser flow failed")
	return art
}

func (c *Capturer) saveScreenshot(ctx context.Context, page browser.Page, path string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Screenshot capture panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, artifactTimeout)
	defer cancel()

	png, err := page.Screenshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to capture screenshot")
		return
	}
	if err := c.writeFile(path, png, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save screenshot")
		return
	}
	log.Info().Str("path", path).Msg("Saved failure screenshot")
}

func (c *Capturer) saveHTML(ctx context.Context, page browser.Page, path string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("HTML capture panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, artifactTimeout)
	defer cancel()

	html, err := page.Content(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read page markup")
		return
	}
	if err := c.writeFile(path, []byte(html), 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save page markup")
		return
	}
	log.Info().Str("path", path).Msg("Saved failure page markup")
}

// Timestamp formats t as UTC ISO-8601 with ':' and '.' replaced by '-'
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}
