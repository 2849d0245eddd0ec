package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFakeOP(t *testing.T, script string) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "op"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func writeAuthConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_ReadsTokenFromOnePassword(t *testing.T) {
	writeFakeOP(t, `#!/usr/bin/env bash
set -euo pipefail
if [ "$1" = "account" ]; then
  exit 0
fi
if [ "$1" = "item" ] && [ "$3" = "Replicate" ] && [ "$5" = "credential" ]; then
  echo "r8_from_vault"
  exit 0
fi
echo "unexpected args: $*" >&2
exit 1
`)
	cfg := writeAuthConfig(t, "replicate:\n  item_name: Replicate\n  field_name: credential\n")

	token, err := Resolve(context.Background(), Options{Use1Password: true, AuthConfigPath: cfg, EnvToken: "r8_env"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if token != "r8_from_vault" {
		t.Fatalf("expected vault token, got %q", token)
	}
}

func TestResolve_FallsBackToEnvironment(t *testing.T) {
	writeFakeOP(t, `#!/usr/bin/env bash
echo "not signed in" >&2
exit 1
`)
	cfg := writeAuthConfig(t, "replicate:\n  item_name: Replicate\n  field_name: credential\n")

	token, err := Resolve(context.Background(), Options{Use1Password: true, AuthConfigPath: cfg, EnvToken: " r8_env "})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if token != "r8_env" {
		t.Fatalf("expected env token, got %q", token)
	}
}

func TestResolve_NoTokenAnywhere(t *testing.T) {
	_, err := Resolve(context.Background(), Options{Use1Password: true, AuthConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestResolve_SkipsOnePasswordWhenDisabled(t *testing.T) {
	writeFakeOP(t, `#!/usr/bin/env bash
echo "op must not be called" >&2
exit 1
`)
	token, err := Resolve(context.Background(), Options{Use1Password: false, EnvToken: "r8_env"})
	if err != nil || token != "r8_env" {
		t.Fatalf("expected env token, got %q err=%v", token, err)
	}
}

func TestLoadAuthConfig_RequiresReplicateSection(t *testing.T) {
	path := writeAuthConfig(t, "openai:\n  item_name: x\n  field_name: y\n")
	if _, err := LoadAuthConfig(path); err == nil || !strings.Contains(err.Error(), "replicate") {
		t.Fatalf("expected missing section error, got %v", err)
	}
}

func TestParseSessionExports(t *testing.T) {
	out := "export OP_SESSION_my=\"abc123\"\n# comment\nexport BROKEN\n"
	vars := parseSessionExports(out)
	if len(vars) != 1 || vars["OP_SESSION_my"] != "abc123" {
		t.Fatalf("unexpected session exports: %#v", vars)
	}
}
