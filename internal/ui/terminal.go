package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// stdoutIsTerminal is replaced in tests.
var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// ShouldUseColor reports whether ctxd output may carry ANSI colors.
//
// CTXCONF_COLOR=always|never overrides everything else. Otherwise NO_COLOR
// (any value) disables color, CLICOLOR_FORCE=1 enables it without a
// terminal, CLICOLOR=0 disables it, and the default follows stdout.
func ShouldUseColor() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CTXCONF_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return stdoutIsTerminal()
}
