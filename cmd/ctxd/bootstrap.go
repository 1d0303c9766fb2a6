package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alfredjeanlab/ctxconf/internal/merge"
	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// defaultGlobalPayload seeds the global record when no bootstrap file is
// configured.
func defaultGlobalPayload() model.Payload {
	prefs := model.Preferences{
		ThemeMode:    strPtr("light"),
		PrimaryColor: strPtr("#3b82f6"),
		FontSize:     strPtr("base"),
	}
	base := model.Payload{
		"theme": map[string]any{
			"layout": map[string]any{
				"spacing": map[string]any{"sm": "0.5rem", "md": "1rem", "lg": "1.5rem"},
				"radius":  "0.375rem",
			},
		},
		"branding": map[string]any{"name": "ctxconf"},
	}
	return merge.Merge(base, prefs.Patch(base))
}

// loadBootstrap reads a JSON object from path, or returns the built-in
// defaults when path is empty.
func loadBootstrap(path string) (model.Payload, error) {
	if path == "" {
		return defaultGlobalPayload(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bootstrap file: %w", err)
	}
	var p model.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing bootstrap file %s: %w", path, err)
	}
	if p == nil {
		return nil, fmt.Errorf("bootstrap file %s: expected a JSON object", path)
	}
	if err := model.ValidatePayload(p); err != nil {
		return nil, fmt.Errorf("bootstrap file %s: %w", path, err)
	}
	return p, nil
}

func strPtr(s string) *string { return &s }
