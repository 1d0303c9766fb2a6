package model

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Preferences is the simplified per-user settings form. Nil fields are left
// unchanged.
type Preferences struct {
	ThemeMode    *string `json:"theme_mode,omitempty"`
	PrimaryColor *string `json:"primary_color,omitempty"`
	FontSize     *string `json:"font_size,omitempty"`
	CompactMode  *bool   `json:"compact_mode,omitempty"`
}

var hexColorRE = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// fontScales maps a font-size preference onto theme.typography.font_size.
var fontScales = map[string]map[string]any{
	"sm":   {"base": "0.875rem", "lg": "1rem", "xl": "1.125rem"},
	"base": {"base": "1rem", "lg": "1.125rem", "xl": "1.25rem"},
	"lg":   {"base": "1.125rem", "lg": "1.25rem", "xl": "1.375rem"},
}

// compactFactor scales rem spacing values in compact mode.
const compactFactor = 0.8

// Validate checks enum and colour values.
func (p Preferences) Validate() error {
	var ve ValidationError
	if p.ThemeMode != nil && *p.ThemeMode != "light" && *p.ThemeMode != "dark" {
		ve.Errors = append(ve.Errors, FieldError{Field: "theme_mode", Message: fmt.Sprintf("invalid value %q", *p.ThemeMode)})
	}
	if p.PrimaryColor != nil && !hexColorRE.MatchString(*p.PrimaryColor) {
		ve.Errors = append(ve.Errors, FieldError{Field: "primary_color", Message: "must be a #rrggbb colour"})
	}
	if p.FontSize != nil {
		if _, ok := fontScales[*p.FontSize]; !ok {
			ve.Errors = append(ve.Errors, FieldError{Field: "font_size", Message: fmt.Sprintf("invalid value %q", *p.FontSize)})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// IsEmpty reports whether no preference is set.
func (p Preferences) IsEmpty() bool {
	return p.ThemeMode == nil && p.PrimaryColor == nil && p.FontSize == nil && p.CompactMode == nil
}

// Patch builds a partial override for the merge engine. base is the
// payload the patch will be applied to; compact mode reads its spacing.
func (p Preferences) Patch(base Payload) Payload {
	theme := map[string]any{}
	if p.ThemeMode != nil {
		theme["mode"] = *p.ThemeMode
	}
	if p.PrimaryColor != nil {
		theme["colors"] = map[string]any{"primary": ColorShades(*p.PrimaryColor)}
	}
	if p.FontSize != nil {
		if scale, ok := fontScales[*p.FontSize]; ok {
			sizes := make(map[string]any, len(scale))
			for k, v := range scale {
				sizes[k] = v
			}
			theme["typography"] = map[string]any{"font_size": sizes}
		}
	}
	if p.CompactMode != nil && *p.CompactMode {
		if spacing := compactSpacing(base); len(spacing) > 0 {
			theme["layout"] = map[string]any{"spacing": spacing}
		}
	}

	patch := Payload{}
	if len(theme) > 0 {
		patch["theme"] = theme
	}
	return patch
}

func compactSpacing(base Payload) map[string]any {
	theme, _ := base["theme"].(map[string]any)
	layout, _ := theme["layout"].(map[string]any)
	spacing, _ := layout["spacing"].(map[string]any)
	out := map[string]any{}
	for k, v := range spacing {
		s, ok := v.(string)
		if !ok || !strings.HasSuffix(s, "rem") {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "rem"), 64)
		if err != nil {
			continue
		}
		out[k] = strconv.FormatFloat(math.Round(f*compactFactor*1e4)/1e4, 'f', -1, 64) + "rem"
	}
	return out
}

// ColorShades derives a 50..900 palette from a #rrggbb base colour; 500 is
// the base itself.
func ColorShades(base string) map[string]any {
	r, g, b, ok := parseHex(base)
	if !ok {
		return map[string]any{"500": base}
	}
	mix := func(target uint8, amount float64) func(c uint8) uint8 {
		return func(c uint8) uint8 {
			return uint8(float64(c) + (float64(target)-float64(c))*amount + 0.5)
		}
	}
	shade := func(target uint8, amount float64) string {
		f := mix(target, amount)
		return fmt.Sprintf("#%02x%02x%02x", f(r), f(g), f(b))
	}
	return map[string]any{
		"50":  shade(255, 0.9),
		"100": shade(255, 0.8),
		"200": shade(255, 0.6),
		"300": shade(255, 0.4),
		"400": shade(255, 0.2),
		"500": strings.ToLower(base),
		"600": shade(0, 0.1),
		"700": shade(0, 0.2),
		"800": shade(0, 0.3),
		"900": shade(0, 0.4),
	}
}

func parseHex(s string) (r, g, b uint8, ok bool) {
	if !hexColorRE.MatchString(s) {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}
