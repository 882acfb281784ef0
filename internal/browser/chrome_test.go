package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFindChrome_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chrome")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	t.Setenv("CHROME_PATH", path)

	if got := FindChrome("chrome"); got != path {
		t.Errorf("FindChrome() = %q, want %q", got, path)
	}
}

func TestFindChrome_IgnoresNonExecutableEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "chrome")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("CHROME_PATH", path)

	if got := FindChrome("chrome"); got == path {
		t.Errorf("FindChrome() returned non-executable CHROME_PATH %q", got)
	}
}

func TestCandidates_PerChannel(t *testing.T) {
	for _, channel := range []string{"chrome", "chromium", "msedge"} {
		if runtime.GOOS == "windows" && os.Getenv("ProgramFiles") == "" {
			continue
		}
		if len(candidates(channel)) == 0 {
			t.Errorf("candidates(%q) is empty", channel)
		}
		if len(pathNames(channel)) == 0 {
			t.Errorf("pathNames(%q) is empty", channel)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrTimeout, true},
		{"wrapped sentinel", fmt.Errorf("wait: %w", ErrTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewChromeLauncher_Defaults(t *testing.T) {
	l := NewChromeLauncher(Options{})
	if l.opts.Channel != "chrome" {
		t.Errorf("Channel = %q, want chrome", l.opts.Channel)
	}
	if l.opts.NavigationTimeout <= 0 {
		t.Error("NavigationTimeout should default to a positive value")
	}
	if l.opts.WindowWidth != 1366 || l.opts.WindowHeight != 768 {
		t.Errorf("window = %dx%d, want 1366x768", l.opts.WindowWidth, l.opts.WindowHeight)
	}
}
