package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFetchWritesFileAndReportsProgress(t *testing.T) {
	payload := strings.Repeat("v", 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cell", "clip01.mp4")
	var last, total int64
	n, err := New(time.Second*5, nil).Fetch(context.Background(), srv.URL+"/out.mp4", dest, func(w, tot int64) {
		last, total = w, tot
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if n != int64(len(payload)) || last != n {
		t.Fatalf("expected %d bytes and matching progress, got n=%d last=%d", len(payload), n, last)
	}
	if total != int64(len(payload)) {
		t.Fatalf("expected content length in progress, got %d", total)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != payload {
		t.Fatalf("unexpected file content (len=%d) err=%v", len(data), err)
	}
}

func TestFetchRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "clip.mp4")
	_, err := New(0, nil).Fetch(context.Background(), srv.URL, dest, nil)
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file on failure")
	}
}

func TestFetchHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0, nil).Fetch(ctx, srv.URL, filepath.Join(t.TempDir(), "x.mp4"), nil); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}

func TestExactReaderDetectsTruncation(t *testing.T) {
	r := &exactReader{r: strings.NewReader("abc"), want: 10}
	buf := make([]byte, 16)
	for {
		_, err := r.Read(buf)
		if err != nil {
			if !strings.Contains(err.Error(), "truncated") {
				t.Fatalf("expected truncation error, got %v", err)
			}
			return
		}
	}
}
