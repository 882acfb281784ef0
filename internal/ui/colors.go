package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color and style codes for CLI output. They are empty when stdout is not a
// terminal or NO_COLOR is set, so piped output stays plain.
var (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

func init() {
	if !colorEnabled(os.Stdout.Fd()) {
		DisableColor()
	}
}

func colorEnabled(fd uintptr) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DisableColor turns every style code into an empty string
func DisableColor() {
	for _, c := range []*string{
		&ColorReset, &ColorBold, &ColorDim,
		&ColorCyan, &ColorGreen, &ColorYellow, &ColorWhite, &ColorRed,
	} {
		*c = ""
	}
}

func Bold(s string) string {
	return ColorBold + s + ColorReset
}

func Success(s string) string {
	return ColorGreen + s + ColorReset
}

// Info is dim yellow, for hints and progress notes
func Info(s string) string {
	return ColorDim + ColorYellow + s + ColorReset
}

func Error(s string) string {
	return ColorRed + s + ColorReset
}
