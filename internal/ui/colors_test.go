package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoColorDisablesStyles(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, colorEnabled(0))

	styles := []*string{&ColorReset, &ColorBold, &ColorDim, &ColorCyan, &ColorGreen, &ColorYellow, &ColorWhite, &ColorRed}
	saved := make([]string, len(styles))
	for i, s := range styles {
		saved[i] = *s
	}
	t.Cleanup(func() {
		for i, s := range styles {
			*s = saved[i]
		}
	})

	DisableColor()
	assert.Equal(t, "panel", Bold("panel"))
	assert.Equal(t, "done", Success("done"))
}
