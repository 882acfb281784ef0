package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/law-makers/panelwatch/internal/ui"
	"github.com/law-makers/panelwatch/internal/utils/output"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// wantJSON reports whether --json was given
func wantJSON(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("json")
	return f != nil && f.Value.String() == "true"
}

// emitJSON writes v to stdout as indented JSON
func emitJSON(v any) error {
	return output.WriteJSON(os.Stdout, v)
}

func title(s string) {
	fmt.Printf("\n%s\n", ui.Bold(s))
	fmt.Printf("%s\n\n", ui.ColorDim+rule+ui.ColorReset)
}

func field(name, value string) {
	fmt.Printf("  %s %s\n", ui.ColorBold+name+ui.ColorReset, ui.ColorWhite+value+ui.ColorReset)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC1123)
}
