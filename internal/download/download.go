// Package download streams a result artifact to disk.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidmatrix/internal/runstore"
)

// ProgressFunc receives bytes written so far and the expected total (0 when unknown).
type ProgressFunc func(written, total int64)

type Fetcher struct {
	client *http.Client
}

func New(timeout time.Duration, client *http.Client) *Fetcher {
	if client == nil {
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client}
}

// Fetch GETs url into dest. Non-2xx responses and short bodies are errors and leave no file.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, onProgress ProgressFunc) (int64, error) {
	log := zerolog.Ctx(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(url), nil)
	if err != nil {
		return 0, fmt.Errorf("download: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("download: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	body := io.Reader(resp.Body)
	if total > 0 {
		body = &exactReader{r: body, want: total}
	}
	if onProgress != nil {
		body = &progressReader{r: body, total: total, fn: onProgress}
	}

	n, err := runstore.WriteStream(dest, body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", dest, err)
	}
	log.Info().Str("path", dest).Int64("bytes", n).Msg("saved video")
	return n, nil
}

type progressReader struct {
	r       io.Reader
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.fn(p.written, p.total)
	}
	return n, err
}

// exactReader fails when the body ends before the advertised Content-Length.
type exactReader struct {
	r    io.Reader
	want int64
	got  int64
}

func (e *exactReader) Read(b []byte) (int, error) {
	n, err := e.r.Read(b)
	e.got += int64(n)
	if err == io.EOF && e.got < e.want {
		return n, fmt.Errorf("body truncated: got %d of %d bytes: %w", e.got, e.want, io.ErrUnexpectedEOF)
	}
	return n, err
}
