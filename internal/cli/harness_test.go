package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/model"
	"vidmatrix/internal/report"
	"vidmatrix/internal/runstore"
)

const harnessProfile = `Model:
  endpoint: acme/video
  code-nickname: acme
pricing:
  cost_per_second: 0.05
duration_type: seconds
fps: 24
duration_min: 5
duration_max: 10
duration_param_name: duration
params:
  mode: standard
`

const harnessJob = "slow dolly-in on a lighthouse\n120\n![lighthouse](https://cdn.example.com/lh.png)\n"

var harnessVideo = []byte("fake mp4 payload")

type harnessWorkspace struct {
	inputDir    string
	profilesDir string
	outputDir   string
}

func (w harnessWorkspace) args(cmd string, extra ...string) []string {
	args := []string{cmd, "--input-dir", w.inputDir, "--profiles-dir", w.profilesDir}
	if cmd != "validate" {
		args = append(args, "--output-dir", w.outputDir)
	}
	return append(args, extra...)
}

func setupHarness(t *testing.T, jobs map[string]string) harnessWorkspace {
	t.Helper()
	tmp := t.TempDir()
	chdirForTest(t, tmp)
	t.Setenv("VIDMATRIX_USE_1PASSWORD", "false")
	t.Setenv("VIDMATRIX_LOG_LEVEL", "error")

	w := harnessWorkspace{
		inputDir:    filepath.Join(tmp, "input"),
		profilesDir: filepath.Join(tmp, "profiles"),
		outputDir:   filepath.Join(tmp, "output"),
	}
	for _, dir := range []string{w.inputDir, w.profilesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(w.profilesDir, "acme.yaml"), []byte(harnessProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, body := range jobs {
		if err := os.WriteFile(filepath.Join(w.inputDir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

// fakeReplicate serves one model endpoint. Every prediction finishes on the first poll;
// the one with id failID fails.
func fakeReplicate(t *testing.T, failID string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var submits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/models/acme/video/predictions":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body struct {
				Input map[string]any `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if body.Input["image"] == nil || body.Input["duration"] == nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			n := submits.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"p`+string(rune('0'+n))+`","status":"starting"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/predictions/"):
			id := strings.TrimPrefix(r.URL.Path, "/predictions/")
			if id == failID {
				_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "failed", "error": "nsfw content detected"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     id,
				"status": "succeeded",
				"output": srv.URL + "/files/" + id + ".mp4",
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
			_, _ = w.Write(harnessVideo)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	t.Setenv("REPLICATE_BASE_URL", srv.URL)
	return srv, &submits
}

func TestHarnessRunGeneratesEveryCell(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob, "shot2.txt": strings.Replace(harnessJob, "120", "48", 1)})
	_, submits := fakeReplicate(t, "")
	t.Setenv("REPLICATE_API_TOKEN", "test-token")

	output := captureStdout(t, func() {
		if err := Run(context.Background(), w.args("run", "--progress=false", "--poll-interval", "10ms")); err != nil {
			t.Fatalf("run failed: %v", err)
		}
	})
	if !strings.Contains(output, "SUCCESS") || !strings.Contains(output, "videos: 2/2") {
		t.Fatalf("unexpected run output: %s", output)
	}
	if got := submits.Load(); got != 2 {
		t.Fatalf("expected 2 submissions, got %d", got)
	}

	runDir, err := runstore.LatestRunDir(w.outputDir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(runDir, "_acme") {
		t.Fatalf("expected single-profile run dir name, got %s", runDir)
	}
	if _, err := os.Stat(filepath.Join(runDir, report.SuccessFile)); err != nil {
		t.Fatalf("expected success report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, report.AdjustmentsFile)); err != nil {
		t.Fatalf("expected adjustments report for the 2s job: %v", err)
	}

	var cells model.CellsManifest
	if err := runstore.ReadJSON(runstore.CellsPath(runDir), &cells); err != nil {
		t.Fatal(err)
	}
	if cells.Total != 2 || cells.Completed != 2 {
		t.Fatalf("unexpected cell counts: %+v", cells)
	}
	for _, c := range cells.Cells {
		if filepath.IsAbs(c.VideoPath) {
			t.Fatalf("expected video path relative to the run dir, got %s", c.VideoPath)
		}
		data, err := os.ReadFile(filepath.Join(runDir, c.VideoPath))
		if err != nil {
			t.Fatalf("expected video for %s: %v", c.CellID, err)
		}
		if string(data) != string(harnessVideo) {
			t.Fatalf("unexpected video bytes for %s", c.CellID)
		}
	}

	meta, err := runstore.LoadRunMeta(runDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != runstore.RunStatusSucceeded || meta.Success != 2 || meta.Total != 2 {
		t.Fatalf("unexpected run meta: %+v", meta)
	}
	// 120 frames at 24 fps is 5s, 48 frames is 2s clamped to 5s.
	if meta.Cost != 0.5 {
		t.Fatalf("expected cost 0.5, got %v", meta.Cost)
	}

	status := captureStdout(t, func() {
		if err := Run(context.Background(), []string{"status", "--output-dir", w.outputDir}); err != nil {
			t.Fatalf("status failed: %v", err)
		}
	})
	if !strings.Contains(status, "completed/pending/failed: 2/0/0 of 2") {
		t.Fatalf("unexpected status output: %s", status)
	}
}

func TestHarnessResumeSkipsCompletedCells(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob, "shot2.md": harnessJob})
	_, submits := fakeReplicate(t, "p2")
	t.Setenv("REPLICATE_API_TOKEN", "test-token")

	var firstErr error
	captureStdout(t, func() {
		firstErr = Run(context.Background(), w.args("run", "--progress=false", "--poll-interval", "10ms"))
	})
	if got := apperr.ExitCode(firstErr); got != apperr.ExitGeneration {
		t.Fatalf("expected first run to fail with exit code %d, got %d (%v)", apperr.ExitGeneration, got, firstErr)
	}
	runDir, err := runstore.LatestRunDir(w.outputDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(runDir, report.FailureFile)); err != nil {
		t.Fatalf("expected failure report after first run: %v", err)
	}

	captureStdout(t, func() {
		if err := Run(context.Background(), w.args("run", "--progress=false", "--poll-interval", "10ms", "--resume", runDir)); err != nil {
			t.Fatalf("resume failed: %v", err)
		}
	})
	// shot1 once, shot2 failed once and retried once.
	if got := submits.Load(); got != 3 {
		t.Fatalf("expected resume to skip the completed cell, got %d submissions", got)
	}
	dirs, err := runstore.ListRunDirs(w.outputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected resume to reuse the run dir, got %v", dirs)
	}
	if _, err := os.Stat(filepath.Join(runDir, report.SuccessFile)); err != nil {
		t.Fatalf("expected success report after resume: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, report.FailureFile)); !os.IsNotExist(err) {
		t.Fatalf("expected stale failure report to be removed, got %v", err)
	}
	meta, err := runstore.LoadRunMeta(runDir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Resumes != 1 || meta.Success != 2 || meta.Status != runstore.RunStatusSucceeded {
		t.Fatalf("unexpected meta after resume: %+v", meta)
	}
}

func TestHarnessRunWithoutTokenIsAuthError(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob})
	t.Setenv("REPLICATE_API_TOKEN", "")

	err := Run(context.Background(), w.args("run", "--progress=false"))
	if got := apperr.ExitCode(err); got != apperr.ExitAuth {
		t.Fatalf("expected exit code %d, got %d (%v)", apperr.ExitAuth, got, err)
	}
	if _, statErr := os.Stat(w.outputDir); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output dir before credentials resolve, got %v", statErr)
	}
}

func TestHarnessValidateReportsBadJob(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob, "broken.md": "prompt only\n"})

	var err error
	output := captureStdout(t, func() {
		err = Run(context.Background(), w.args("validate", "--json"))
	})
	if got := apperr.ExitCode(err); got != apperr.ExitInput {
		t.Fatalf("expected exit code %d, got %d (%v)", apperr.ExitInput, got, err)
	}
	var out validateOutput
	if jsonErr := json.Unmarshal([]byte(output), &out); jsonErr != nil {
		t.Fatalf("expected JSON output, got %q", output)
	}
	if out.OK || !strings.Contains(out.Error, "broken") {
		t.Fatalf("expected failing validation naming the file, got %+v", out)
	}
}

func TestHarnessEstimateWritesReport(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob})

	output := captureStdout(t, func() {
		if err := Run(context.Background(), w.args("estimate")); err != nil {
			t.Fatalf("estimate failed: %v", err)
		}
	})
	if !strings.Contains(output, "total: 1 videos, 5s, $0.2500") {
		t.Fatalf("unexpected estimate output: %s", output)
	}
	data, err := os.ReadFile(filepath.Join(w.outputDir, report.CostEstimateFile))
	if err != nil {
		t.Fatalf("expected estimate report: %v", err)
	}
	if !strings.Contains(string(data), "acme") {
		t.Fatalf("expected profile in estimate report, got %s", data)
	}
}

func TestHarnessUnknownProfileIsConfigError(t *testing.T) {
	w := setupHarness(t, map[string]string{"shot1.md": harnessJob})

	err := Run(context.Background(), w.args("estimate", "--no-report", "--profiles", "missing"))
	if got := apperr.ExitCode(err); got != apperr.ExitInput {
		t.Fatalf("expected exit code %d, got %d (%v)", apperr.ExitInput, got, err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	captureStdout(t, func() {
		if err := Run(context.Background(), []string{"bogus"}); err == nil {
			t.Fatal("expected error for unknown command")
		}
	})
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
	}()
	defer r.Close()

	fn()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
