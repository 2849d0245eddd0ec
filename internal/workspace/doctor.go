// Package workspace prepares and checks the USER-FILES layout a run reads from and writes to.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidmatrix/internal/jobfile"
	"vidmatrix/internal/profile"
	"vidmatrix/internal/runstore"
	"vidmatrix/internal/secrets"
)

type DoctorOptions struct {
	InputDir       string
	ProfilesDir    string
	OutputDir      string
	AuthConfigPath string
	Use1Password   bool
	EnvToken       string
	OPBinary       string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Doctor checks directories, inputs and credentials without contacting the provider.
func Doctor(opts DoctorOptions) (DoctorResult, error) {
	checks := make([]DoctorCheck, 0, 5)

	outOK, outMsg := ensureWritableDir(opts.OutputDir)
	checks = append(checks, DoctorCheck{Name: "directory:output", OK: outOK, Message: outMsg})

	jobs, err := jobfile.Discover(opts.InputDir)
	checks = append(checks, countCheck("input:jobs", len(jobs), "job", err))

	profiles, err := profile.Load(opts.ProfilesDir)
	checks = append(checks, countCheck("input:profiles", len(profiles), "profile", err))

	checks = append(checks, credentialChecks(opts)...)

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}, nil
}

func countCheck(name string, n int, noun string, err error) DoctorCheck {
	if err != nil {
		return DoctorCheck{Name: name, OK: false, Message: firstLine(err.Error())}
	}
	if n != 1 {
		noun += "s"
	}
	return DoctorCheck{Name: name, OK: true, Message: fmt.Sprintf("%d %s", n, noun)}
}

func credentialChecks(opts DoctorOptions) []DoctorCheck {
	envOK := strings.TrimSpace(opts.EnvToken) != ""
	if !opts.Use1Password {
		msg := "REPLICATE_API_TOKEN is set"
		if !envOK {
			msg = "1Password disabled and REPLICATE_API_TOKEN is not set"
		}
		return []DoctorCheck{{Name: "credentials:replicate", OK: envOK, Message: msg}}
	}

	checks := make([]DoctorCheck, 0, 2)
	opPath, opFound := secrets.OPAvailable(opts.OPBinary)
	_, cfgErr := secrets.LoadAuthConfig(opts.AuthConfigPath)
	switch {
	case opFound:
		checks = append(checks, DoctorCheck{Name: "dependency:op", OK: true, Message: "1Password CLI found at " + opPath})
	case envOK:
		checks = append(checks, DoctorCheck{Name: "dependency:op", OK: true, Message: "1Password CLI not found; using REPLICATE_API_TOKEN"})
	default:
		checks = append(checks, DoctorCheck{Name: "dependency:op", OK: false, Message: "1Password CLI not found on PATH"})
	}

	switch {
	case opFound && cfgErr == nil:
		checks = append(checks, DoctorCheck{Name: "credentials:replicate", OK: true, Message: "1Password item configured in " + opts.AuthConfigPath})
	case envOK:
		checks = append(checks, DoctorCheck{Name: "credentials:replicate", OK: true, Message: "REPLICATE_API_TOKEN is set"})
	case cfgErr != nil:
		checks = append(checks, DoctorCheck{Name: "credentials:replicate", OK: false, Message: firstLine(cfgErr.Error())})
	default:
		checks = append(checks, DoctorCheck{Name: "credentials:replicate", OK: false, Message: secrets.ErrNoToken.Error()})
	}
	return checks
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "vidmatrix-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable: " + filepath.Clean(path)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " (and more)"
	}
	return s
}
