package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	appLog "ttcatalog/internal/log"
)

// Source is one timetable spreadsheet, either a local file or a URL.
type Source struct {
	// ID is an internal identifier used for logging.
	ID string
	// Path is a local file path. Takes precedence over URL.
	Path string
	// URL is an http(s) download location.
	URL string
}

func (s Source) String() string {
	if s.ID != "" {
		return s.ID
	}
	if s.Path != "" {
		return s.Path
	}
	return redactURL(s.URL)
}

// Resolved is a source mapped onto a readable local file.
type Resolved struct {
	Source    Source
	LocalPath string
	FromCache bool // true if a cached download was reused
}

// cacheEntry holds HTTP cache metadata for a single spreadsheet URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	FileName     string    `json:"file_name"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher resolves sources to local files. Remote spreadsheets are
// downloaded with HTTP caching (ETag / Last-Modified) into a disk cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a new Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/sheet-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// ResolveAll resolves sources in order. Unlike a best-effort feed refresh,
// a timetable import cannot run on a subset of its files, so the first
// failure is returned.
func (f *Fetcher) ResolveAll(ctx context.Context, sources []Source) ([]Resolved, error) {
	out := make([]Resolved, 0, len(sources))
	for _, src := range sources {
		res, err := f.Resolve(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Resolve maps one source onto a local file.
func (f *Fetcher) Resolve(ctx context.Context, src Source) (Resolved, error) {
	if src.Path != "" {
		if _, err := os.Stat(src.Path); err != nil {
			return Resolved{}, err
		}
		return Resolved{Source: src, LocalPath: src.Path}, nil
	}
	if src.URL == "" {
		return Resolved{}, errors.New("source has neither path nor url")
	}
	return f.download(ctx, src)
}

func (f *Fetcher) download(ctx context.Context, src Source) (Resolved, error) {
	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return Resolved{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Resolved{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cached := ""
	if meta.FileName != "" {
		p := filepath.Join(cachePath, meta.FileName)
		if _, err := os.Stat(p); err == nil {
			cached = p
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Resolved{}, err
	}
	if cached != "" {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("sheet download start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if cached != "" {
			appLog.Error("sheet download network error, using cached file", err, "id", src.ID, "url", redactURL(src.URL))
			return Resolved{Source: src, LocalPath: cached, FromCache: true}, nil
		}
		return Resolved{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		name := fileNameForURL(src.URL)
		target := filepath.Join(cachePath, name)
		if err := writeFileAtomic(target, resp.Body); err != nil {
			return Resolved{}, err
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			FileName:     name,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCacheMeta(cachePath, newMeta); err != nil {
			appLog.Error("sheet cache meta save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("sheet download success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "from_cache", false)
		return Resolved{Source: src, LocalPath: target}, nil

	case http.StatusNotModified:
		if cached == "" {
			return Resolved{}, errors.New("received 304 Not Modified but no cached file available")
		}
		appLog.Info("sheet not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return Resolved{Source: src, LocalPath: cached, FromCache: true}, nil

	default:
		if cached != "" {
			appLog.Error("sheet download non-OK, using cached file", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return Resolved{Source: src, LocalPath: cached, FromCache: true}, nil
		}
		return Resolved{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) (string, error) {
	if u == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCacheMeta(cachePath string, meta cacheEntry) error {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// fileNameForURL keeps the extension of the remote file so the sheet
// reader can pick a decoder. Defaults to .xlsx.
func fileNameForURL(raw string) string {
	ext := ".xlsx"
	if u, err := url.Parse(raw); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e == ".csv" || e == ".xlsx" || e == ".xlsm" {
			ext = e
		}
	}
	return "body" + ext
}

func writeFileAtomic(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// redactURL hides the path and query of a URL for logging purposes.
//
//	https://example.com/path/to/timetable.xlsx?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "url://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
