// Package secrets resolves the provider API token from 1Password or the environment.
package secrets

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrNoToken = errors.New("no Replicate API token found: configure 1Password via the auth config or set REPLICATE_API_TOKEN in .env or the environment")

type Options struct {
	Use1Password   bool
	AuthConfigPath string
	EnvToken       string
	OPBinary       string

	// Interactive sign-in streams; nil disables the sign-in fallback.
	Stdin  io.Reader
	Stderr io.Writer
}

type AuthConfig struct {
	Replicate *OPItemRef `yaml:"replicate"`
}

type OPItemRef struct {
	ItemName  string `yaml:"item_name"`
	FieldName string `yaml:"field_name"`
}

// Resolve returns the token from 1Password when enabled and configured, falling back
// to the environment token.
func Resolve(ctx context.Context, opts Options) (string, error) {
	log := zerolog.Ctx(ctx)

	if opts.Use1Password {
		token, err := FromOnePassword(ctx, opts)
		if err == nil && token != "" {
			log.Info().Msg("retrieved Replicate API token from 1Password")
			return token, nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("1Password lookup failed, falling back to environment")
		} else {
			log.Warn().Msg("1Password returned an empty token, falling back to environment")
		}
	}

	token := strings.TrimSpace(opts.EnvToken)
	if token == "" {
		return "", ErrNoToken
	}
	log.Debug().Msg("using REPLICATE_API_TOKEN from environment")
	return token, nil
}

func LoadAuthConfig(path string) (AuthConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AuthConfig{}, fmt.Errorf("read auth config %s: %w", path, err)
	}
	var cfg AuthConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AuthConfig{}, fmt.Errorf("parse auth config %s: %w", path, err)
	}
	if cfg.Replicate == nil {
		return AuthConfig{}, fmt.Errorf("auth config %s has no replicate section", path)
	}
	if strings.TrimSpace(cfg.Replicate.ItemName) == "" || strings.TrimSpace(cfg.Replicate.FieldName) == "" {
		return AuthConfig{}, fmt.Errorf("auth config %s: replicate.item_name and replicate.field_name are required", path)
	}
	return cfg, nil
}

func FromOnePassword(ctx context.Context, opts Options) (string, error) {
	cfg, err := LoadAuthConfig(opts.AuthConfigPath)
	if err != nil {
		return "", err
	}
	bin := opBinary(opts)
	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("missing dependency: 1Password CLI (%s) is not installed or not on PATH", bin)
	}
	if err := ensureSignedIn(ctx, bin, opts); err != nil {
		return "", err
	}

	ref := cfg.Replicate
	zerolog.Ctx(ctx).Info().Str("item", ref.ItemName).Msg("retrieving Replicate API token from 1Password")

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, bin, "item", "get", ref.ItemName, "--field", ref.FieldName)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("op item get failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// OPAvailable reports the path of the op binary, if installed.
func OPAvailable(bin string) (string, bool) {
	if strings.TrimSpace(bin) == "" {
		bin = "op"
	}
	path, err := exec.LookPath(bin)
	return path, err == nil
}

func ensureSignedIn(ctx context.Context, bin string, opts Options) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := exec.CommandContext(cctx, bin, "account", "get").Run()
	cancel()
	if err == nil {
		zerolog.Ctx(ctx).Debug().Msg("1Password session is active")
		return nil
	}
	if opts.Stdin == nil {
		return fmt.Errorf("1Password session is not active and interactive sign-in is unavailable")
	}

	zerolog.Ctx(ctx).Info().Msg("1Password session expired or not found, signing in")
	sctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	cmd := exec.CommandContext(sctx, bin, "signin")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stdin = opts.Stdin
	cmd.Stderr = opts.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("1Password sign-in failed: %w", err)
	}
	for key, value := range parseSessionExports(stdout.String()) {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// parseSessionExports reads `export KEY="value"` lines printed by op signin.
func parseSessionExports(out string) map[string]string {
	vars := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return vars
}

func opBinary(opts Options) string {
	if strings.TrimSpace(opts.OPBinary) != "" {
		return opts.OPBinary
	}
	return "op"
}
