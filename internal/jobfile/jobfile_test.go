package jobfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJob = "slow dolly-in on a lighthouse\n121\n![lighthouse](https://cdn.example.com/lh.png)\n"

func TestParseValid(t *testing.T) {
	job, err := Parse("clip01", "\ufeff"+strings.ReplaceAll(validJob, "\n", "\r\n")+"\r\n\r\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if job.SourceID != "clip01" || job.Prompt != "slow dolly-in on a lighthouse" || job.FrameCount != 121 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.ImageURL != "https://cdn.example.com/lh.png" {
		t.Fatalf("unexpected image URL: %q", job.ImageURL)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	a, errA := Parse("clip01", validJob)
	b, errB := Parse("clip01", validJob)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	if a != b {
		t.Fatalf("expected equal jobs, got %+v and %+v", a, b)
	}
}

func TestParseErrorsNameLineAndReason(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		line   int
		reason string
	}{
		{"too few lines", "prompt\n12\n", 0, "expected 3 lines"},
		{"empty prompt", "   \n12\n![a](https://x.io/a.png)", 1, "prompt is empty"},
		{"non-integer frames", "p\ntwelve\n![a](https://x.io/a.png)", 2, "not an integer"},
		{"zero frames", "p\n0\n![a](https://x.io/a.png)", 2, "must be >= 1"},
		{"no image ref", "p\n12\nhttps://x.io/a.png", 3, "missing image reference"},
		{"relative url", "p\n12\n![a](/a.png)", 3, "must use http or https"},
		{"ftp url", "p\n12\n![a](ftp://x.io/a.png)", 3, "must use http or https"},
		{"no host", "p\n12\n![a](https:///a.png)", 3, "has no host"},
		{"trailing content", "p\n12\n![a](https://x.io/a.png)\nextra", 4, "unexpected content"},
	}

	for _, tc := range cases {
		_, err := Parse("job", tc.text)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected *ParseError, got %v", tc.name, err)
		}
		if pe.Line != tc.line {
			t.Fatalf("%s: expected line %d, got %d (%v)", tc.name, tc.line, pe.Line, err)
		}
		if !strings.Contains(pe.Reason, tc.reason) {
			t.Fatalf("%s: expected reason containing %q, got %q", tc.name, tc.reason, pe.Reason)
		}
	}
}

func TestDiscoverSortsNaturallyAndCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("shot10.md", validJob)
	write("shot2.txt", validJob)
	write("shot1.md", validJob)
	write("notes.json", "{}")

	jobs, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover failed: %v", err)
	}
	got := []string{}
	for _, j := range jobs {
		got = append(got, j.SourceID)
	}
	if strings.Join(got, ",") != "shot1,shot2,shot10" {
		t.Fatalf("unexpected order: %v", got)
	}

	write("bad_a.md", "p\nx\n![a](https://x.io/a.png)")
	write("bad_b.md", "p\n3\nno image")
	_, err = Discover(dir)
	if err == nil {
		t.Fatalf("expected errors")
	}
	if !strings.Contains(err.Error(), "bad_a: line 2") || !strings.Contains(err.Error(), "bad_b: line 3") {
		t.Fatalf("expected both parse errors, got %v", err)
	}
}

func TestDiscoverRejectsDuplicateStems(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.md", "a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(validJob), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Discover(dir); err == nil || !strings.Contains(err.Error(), "duplicate job id") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDiscoverEmpty(t *testing.T) {
	if _, err := Discover(t.TempDir()); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs, got %v", err)
	}
	if _, err := Discover(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("expected ErrNoJobs for missing dir, got %v", err)
	}
}
