// Package printer renders CLI output. Errors go to Err with a title,
// explanation and suggestions; everything else goes to Out.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out receives regular output. Tests swap it for a buffer.
	Out io.Writer = os.Stdout
	// Err receives formatted errors.
	Err io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// SetOutput redirects Out and Err; nil leaves a writer unchanged.
func SetOutput(out, errOut io.Writer) {
	if out != nil {
		Out = out
	}
	if errOut != nil {
		Err = errOut
	}
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprint(Out, withPrefix("✓ ", fmt.Sprintf(format, a...)))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	yellow.Fprint(Err, withPrefix("⚠️  ", fmt.Sprintf(format, a...)))
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints title, explanation and suggestions to Err and returns an error
// carrying only the title, so cobra does not print the details twice.
func Error(title, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details listed after the
// explanation, sorted by key.
func ErrorWithContext(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, details[k])
		}
	}

	writeSuggestions(Err, suggestions)

	return fmt.Errorf("%s", title)
}

func writeSuggestions(w io.Writer, suggestions []string) {
	switch len(suggestions) {
	case 0:
		return
	case 1:
		fmt.Fprintf(w, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(w, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}
}

func withPrefix(prefix, msg string) string {
	if strings.HasPrefix(msg, strings.TrimSpace(prefix)) {
		return msg
	}
	return prefix + msg
}
