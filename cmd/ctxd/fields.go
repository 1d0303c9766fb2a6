package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// splitField splits "key=value" into (key, value, true).
// Returns ("", "", false) if there is no '=' or key is empty.
func splitField(s string) (string, string, bool) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// parseValue decodes v when it looks like a JSON literal (object, array,
// quoted string, boolean, null, or number). Anything else is a plain string.
func parseValue(v string) any {
	if len(v) == 0 {
		return v
	}
	looksJSON := false
	switch v[0] {
	case '{', '[', '"':
		looksJSON = true
	default:
		looksJSON = v == "true" || v == "false" || v == "null" ||
			v[0] == '-' || unicode.IsDigit(rune(v[0]))
	}
	if looksJSON {
		var out any
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return v
}

// setPath stores value at a dotted path such as "theme.colors.primary",
// creating intermediate objects and replacing non-object values on the way.
func setPath(p model.Payload, path string, value any) error {
	keys := strings.Split(path, ".")
	cur := map[string]any(p)
	for i, k := range keys {
		if k == "" {
			return fmt.Errorf("invalid path %q: empty segment", path)
		}
		if i == len(keys)-1 {
			cur[k] = value
			return nil
		}
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	return nil
}

// buildPayload reads a JSON object from file ("-" for stdin) when set, then
// applies each --set path=value pair on top.
func buildPayload(file string, sets []string, stdin io.Reader) (model.Payload, error) {
	p := model.Payload{}
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing payload: %w", err)
		}
		if p == nil {
			return nil, fmt.Errorf("payload must be a JSON object")
		}
	}
	for _, s := range sets {
		k, v, ok := splitField(s)
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected path=value", s)
		}
		if err := setPath(p, k, parseValue(v)); err != nil {
			return nil, err
		}
	}
	return p, nil
}
