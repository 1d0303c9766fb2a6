package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/model"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/alfredjeanlab/ctxconf/internal/server"
	"github.com/alfredjeanlab/ctxconf/internal/store/memory"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// startServer runs an in-process server over a memory store seeded with the
// default global payload.
func startServer(t *testing.T) string {
	t.Helper()
	st := memory.New()
	c := cache.New(cache.NewLocalBackend(100, time.Minute))
	t.Cleanup(func() { c.Close() })
	svc := overrides.New(st, c)
	if _, _, err := svc.EnsureGlobal(context.Background(), defaultGlobalPayload(), "bootstrap"); err != nil {
		t.Fatalf("seed global: %v", err)
	}
	ts := httptest.NewServer(server.NewConfigServer(svc, st).NewHTTPHandler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--http-url", url, "--actor", "tester", "--no-color"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRunCLI(t *testing.T, url string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, url, args...)
	if err != nil {
		t.Fatalf("ctxd %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCLI_CreateResolveLifecycle(t *testing.T) {
	url := startServer(t)

	out := mustRunCLI(t, url, "--json", "create", "user", "alice", "--set", "theme.mode=dark")
	var rec model.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode create output: %v\n%s", err, out)
	}
	if rec.Context.Kind != model.KindUser || rec.Context.Identifier != "alice" || !rec.IsActive {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CreatedBy != "tester" {
		t.Fatalf("created_by = %q, want tester", rec.CreatedBy)
	}

	out = mustRunCLI(t, url, "--json", "resolve", "alice", "--org", "acme")
	var res model.Resolved
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode resolve output: %v\n%s", err, out)
	}
	if res.SourceKind != model.KindUser || res.RecordID != rec.ID {
		t.Fatalf("resolved from %s/%s, want user override %s", res.SourceKind, res.RecordID, rec.ID)
	}
	// The user override wins whole; nothing is merged in from global.
	if _, ok := res.Payload["branding"]; ok {
		t.Fatalf("payload leaked global keys: %v", res.Payload)
	}

	// Merge update keeps existing keys.
	mustRunCLI(t, url, "update", rec.ID, "--merge", "--set", "theme.density=compact")
	out = mustRunCLI(t, url, "show", rec.ID)
	if !strings.Contains(out, `"mode": "dark"`) || !strings.Contains(out, `"density": "compact"`) {
		t.Fatalf("show after merge:\n%s", out)
	}

	// Deactivating falls back to global.
	out = mustRunCLI(t, url, "deactivate", rec.ID)
	if !strings.Contains(out, "Deactivated "+rec.ID) {
		t.Fatalf("deactivate output: %s", out)
	}
	out = mustRunCLI(t, url, "resolve", "alice")
	if !strings.Contains(out, "Source:      global") {
		t.Fatalf("resolve after deactivate:\n%s", out)
	}

	mustRunCLI(t, url, "delete", rec.ID)
	if _, err := runCLI(t, url, "show", rec.ID); err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("show deleted record: %v", err)
	}
}

func TestCLI_ShowContextAndList(t *testing.T) {
	url := startServer(t)

	out := mustRunCLI(t, url, "show", "--context", "global")
	if !strings.Contains(out, "Context:     global") || !strings.Contains(out, "Status:      active") {
		t.Fatalf("show --context global:\n%s", out)
	}

	mustRunCLI(t, url, "create", "organization", "acme", "--set", "branding.name=Acme")
	out = mustRunCLI(t, url, "list", "org")
	if !strings.Contains(out, "org:acme") || !strings.Contains(out, "1 records") {
		t.Fatalf("list org:\n%s", out)
	}

	out = mustRunCLI(t, url, "search", "--kind", "org", "--size", "5")
	if !strings.Contains(out, "org:acme") || !strings.Contains(out, "1 total") {
		t.Fatalf("search:\n%s", out)
	}
}

func TestCLI_DuplicateActiveIsRejected(t *testing.T) {
	url := startServer(t)
	mustRunCLI(t, url, "create", "role", "admin", "--set", "nav.admin=true")

	_, err := runCLI(t, url, "create", "role", "admin", "--set", "nav.admin=false")
	if err == nil || !strings.Contains(err.Error(), "duplicate_active_context") {
		t.Fatalf("expected duplicate_active_context, got %v", err)
	}

	// A second, inactive record is fine.
	mustRunCLI(t, url, "create", "role", "admin", "--inactive", "--set", "nav.admin=false")
}

func TestCLI_LocalValidation(t *testing.T) {
	url := startServer(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad kind", []string{"create", "team", "x"}, "invalid context kind"},
		{"global with identifier", []string{"create", "global", "x"}, "identifier"},
		{"user without identifier", []string{"create", "user"}, "identifier"},
		{"update without payload", []string{"update", "cfg-1"}, "nothing to update"},
		{"empty prefs", []string{"prefs", "alice"}, "nothing to save"},
		{"bad bulk action", []string{"bulk", "archive", "cfg-1"}, "unknown bulk action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, url, tt.args...)
			if err == nil || !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCLI_PrefsBulkStats(t *testing.T) {
	url := startServer(t)

	out := mustRunCLI(t, url, "--json", "prefs", "bob", "--theme", "dark", "--compact")
	var rec model.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode prefs output: %v\n%s", err, out)
	}
	theme, _ := rec.Payload["theme"].(map[string]any)
	if theme["mode"] != "dark" {
		t.Fatalf("theme.mode = %v", theme["mode"])
	}
	spacing := theme["layout"].(map[string]any)["spacing"].(map[string]any)
	if spacing["md"] != "0.8rem" {
		t.Fatalf("compact spacing = %v", spacing)
	}

	out = mustRunCLI(t, url, "bulk", "deactivate", rec.ID)
	if !strings.Contains(out, "1 succeeded, 0 failed") {
		t.Fatalf("bulk deactivate:\n%s", out)
	}
	_, err := runCLI(t, url, "bulk", "activate", rec.ID, "cfg-missing")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 failed") {
		t.Fatalf("expected partial failure, got %v", err)
	}

	out = mustRunCLI(t, url, "stats")
	if !strings.Contains(out, "KIND") || !strings.Contains(out, "Cache (local)") {
		t.Fatalf("stats:\n%s", out)
	}
	out = mustRunCLI(t, url, "flush-cache")
	if !strings.Contains(out, "Cache flushed") {
		t.Fatalf("flush-cache: %s", out)
	}
	out = mustRunCLI(t, url, "health")
	if !strings.Contains(out, "Health: ok") {
		t.Fatalf("health: %s", out)
	}
}
