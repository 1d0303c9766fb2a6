package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/alfredjeanlab/ctxconf/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule styles the capture groups of one pattern in cobra's help text.
// style[i] is applied to group i+1; nil leaves the group as is.
type helpRule struct {
	re    *regexp.Regexp
	style []func(string) string
}

var helpRules = []helpRule{
	// Section headers such as "Overrides:" or "Flags:".
	{regexp.MustCompile(`(?m)^([A-Z][A-Za-z ]*:)[ \t]*$`), []func(string) string{ui.RenderAccent}},
	// Command names in the command list.
	{regexp.MustCompile(`(?m)^(  )(\S+)(  )`), []func(string) string{nil, ui.RenderCommand, nil}},
	// Flag value types, e.g. "--http-url string".
	{regexp.MustCompile(`(--?\S+ )(string|int|bool|duration|stringArray)\b`), []func(string) string{nil, ui.RenderMuted}},
	// Defaults, e.g. (default "http://localhost:8080").
	{regexp.MustCompile(`(\(default [^)]*\))`), []func(string) string{ui.RenderMuted}},
}

// colorizedHelpFunc renders cobra's usage text, styled when the terminal
// supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			groups := r.re.FindStringSubmatch(match)
			var b bytes.Buffer
			for i, g := range groups[1:] {
				if i < len(r.style) && r.style[i] != nil {
					g = r.style[i](g)
				}
				b.WriteString(g)
			}
			return b.String()
		})
	}
	return s
}
