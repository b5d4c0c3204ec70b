package logging

import (
	"io"
	"os"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

// New returns a named logger writing key/value lines to w (stderr when nil).
// Unknown levels fall back to info.
func New(name, level string, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := hclog.LevelFromString(strings.TrimSpace(level))
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  lvl,
		Output: w,
	})
}

// OrNull substitutes a discarding logger for nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
