package browser

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
)

// FindChrome locates the executable for the requested browser channel.
// Supported channels are "chrome", "chromium" and "msedge"; an empty result lets
// chromedp fall back to its own lookup.
func FindChrome(channel string) string {
	// 1. Environment variable (highest priority)
	if path := os.Getenv("CHROME_PATH"); path != "" {
		if isExecutable(path) {
			log.Debug().Str("path", path).Msg("Chrome found via CHROME_PATH environment variable")
			return path
		}
		log.Warn().Str("path", path).Msg("CHROME_PATH set but not executable")
	}

	// 2. Standard locations per OS and channel
	for _, path := range candidates(channel) {
		if isExecutable(path) {
			log.Debug().Str("path", path).Str("channel", channel).Msg("Browser found at standard location")
			return path
		}
	}

	// 3. PATH lookup
	for _, name := range pathNames(channel) {
		if path, err := exec.LookPath(name); err == nil {
			log.Debug().Str("path", path).Msg("Browser found in PATH")
			return path
		}
	}

	log.Warn().
		Str("os", runtime.GOOS).
		Str("channel", channel).
		Msg("Browser not found, will use chromedp default (may fail)")
	return ""
}

func candidates(channel string) []string {
	switch runtime.GOOS {
	case "darwin":
		switch channel {
		case "chromium":
			return []string{"/Applications/Chromium.app/Contents/MacOS/Chromium"}
		case "msedge":
			return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}
		}
		paths := []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
		if home := os.Getenv("HOME"); home != "" {
			paths = append(paths, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome"))
		}
		return paths

	case "windows":
		var paths []string
		for _, base := range []string{os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)"), os.Getenv("LocalAppData")} {
			if base == "" {
				continue
			}
			switch channel {
			case "chromium":
				paths = append(paths, filepath.Join(base, "Chromium\\Application\\chrome.exe"))
			case "msedge":
				paths = append(paths, filepath.Join(base, "Microsoft\\Edge\\Application\\msedge.exe"))
			default:
				paths = append(paths, filepath.Join(base, "Google\\Chrome\\Application\\chrome.exe"))
			}
		}
		return paths

	default:
		switch channel {
		case "chromium":
			return []string{"/usr/bin/chromium", "/usr/bin/chromium-browser", "/snap/bin/chromium"}
		case "msedge":
			return []string{"/usr/bin/microsoft-edge", "/usr/bin/microsoft-edge-stable"}
		}
		return []string{"/usr/bin/google-chrome-stable", "/usr/bin/google-chrome", "/opt/google/chrome/chrome"}
	}
}

func pathNames(channel string) []string {
	switch channel {
	case "chromium":
		return []string{"chromium", "chromium-browser"}
	case "msedge":
		return []string{"msedge", "microsoft-edge"}
	}
	return []string{"google-chrome-stable", "google-chrome", "chrome"}
}

// isExecutable checks if a file exists and is executable
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if runtime.GOOS == "windows" {
		return !info.IsDir()
	}

	return !info.IsDir() && info.Mode()&0111 != 0
}
