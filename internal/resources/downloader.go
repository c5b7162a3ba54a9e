package resources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/proxy"
)

// File is one quiz resource downloaded into a step's working directory.
// Textual kinds carry a preview so the planner can reason about the
// contents instead of guessing from the URL.
type File struct {
	URL     string
	Name    string // base name inside the working directory
	Kind    string // csv | json | text | pdf | audio | binary
	Size    int
	Preview string
}

const (
	maxDownloadBytes = 16 << 20
	maxPreviewBytes  = 2048
	downloadRetries  = 2
)

// Downloader fetches the files a quiz page links to, so generated scripts
// can read them locally and the planner sees what is actually in them.
type Downloader struct {
	httpClient *http.Client
	rotation   *proxy.Rotation
	timeout    time.Duration
	logger     *zap.Logger
}

func New(timeout time.Duration, rotation *proxy.Rotation, logger *zap.Logger) *Downloader {
	return &Downloader{
		httpClient: &http.Client{},
		rotation:   rotation,
		timeout:    timeout,
		logger:     logger,
	}
}

// Fetch downloads urls into dir, best effort: a resource that stays
// unreachable after retries is logged and skipped, never fails the step.
func (d *Downloader) Fetch(ctx context.Context, urls []string, dir string) []File {
	var files []File
	seen := make(map[string]bool)
	for _, u := range urls {
		f, err := d.fetchOne(ctx, u, dir, seen)
		if err != nil {
			d.logger.Warn("resource download failed", zap.String("url", u), zap.Error(err))
			continue
		}
		files = append(files, *f)
	}
	return files
}

func (d *Downloader) fetchOne(ctx context.Context, rawURL, dir string, seen map[string]bool) (*File, error) {
	var lastErr error
	for attempt := 0; attempt <= downloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		body, err := d.get(ctx, rawURL)
		if err != nil {
			lastErr = err
			continue
		}
		name := uniqueName(fileName(rawURL), seen)
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			return nil, err
		}
		kind := kindOf(rawURL)
		return &File{
			URL:     rawURL,
			Name:    name,
			Kind:    kind,
			Size:    len(body),
			Preview: preview(kind, body),
		}, nil
	}
	return nil, lastErr
}

func (d *Downloader) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.rotation.UserAgent())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return body, nil
}

var kindsByExtension = map[string]string{
	".csv":  "csv",
	".json": "json",
	".txt":  "text",
	".pdf":  "pdf",
	".opus": "audio", ".mp3": "audio", ".wav": "audio",
	".m4a": "audio", ".ogg": "audio", ".flac": "audio",
}

func kindOf(rawURL string) string {
	ext := strings.ToLower(path.Ext(fileName(rawURL)))
	if k, ok := kindsByExtension[ext]; ok {
		return k
	}
	return "binary"
}

// preview returns the textual head of the contents for kinds the planner
// can read inline. Audio stays name-only: there is no transcription path.
func preview(kind string, body []byte) string {
	switch kind {
	case "csv", "json", "text":
		if len(body) > maxPreviewBytes {
			body = body[:maxPreviewBytes]
		}
		return strings.ToValidUTF8(string(body), "")
	}
	return ""
}

func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "resource"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "resource"
	}
	return name
}

func uniqueName(name string, seen map[string]bool) string {
	candidate := name
	for i := 2; seen[candidate]; i++ {
		ext := path.Ext(name)
		candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), i, ext)
	}
	seen[candidate] = true
	return candidate
}
