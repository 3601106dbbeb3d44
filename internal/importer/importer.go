package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ttcatalog/internal/config"
	"ttcatalog/internal/ics"
	appLog "ttcatalog/internal/log"
	"ttcatalog/internal/model"
	"ttcatalog/internal/sheet"
	"ttcatalog/internal/source"
	"ttcatalog/internal/timetable"
)

// Result describes one completed import run.
type Result struct {
	Courses     []model.Course
	Diagnostics []timetable.Diagnostic

	// OutputPath is the written JSON catalog; ICSPath is empty unless
	// ICS export is enabled.
	OutputPath string
	ICSPath    string

	// Stamp is the newest modification time among the input files.
	Stamp      time.Time
	FinishedAt time.Time
}

// Importer runs the configured sources through the timetable pipeline and
// writes the catalog. Runs are serialized.
type Importer struct {
	cfg     *config.Config
	fetcher *source.Fetcher

	mu sync.Mutex
}

func New(cfg *config.Config) *Importer {
	return &Importer{
		cfg:     cfg,
		fetcher: source.NewFetcher(cfg.CacheDir),
	}
}

// Sources converts the configured sources.
func (im *Importer) Sources() []source.Source {
	out := make([]source.Source, 0, len(im.cfg.Sources))
	for _, s := range im.cfg.Sources {
		out = append(out, source.Source{ID: s.ID, Path: s.Path, URL: s.URL})
	}
	return out
}

// CatalogPath is where Run writes the JSON catalog.
func (im *Importer) CatalogPath() string {
	return filepath.Join(im.cfg.OutputDir, im.cfg.OutputBase()+".json")
}

// Run resolves every source, builds the merged catalog and writes
// {institution}_{year}.json (and .ics when enabled) into the output
// directory. Nothing is written if any step fails.
func (im *Importer) Run(ctx context.Context) (*Result, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	started := time.Now()
	appLog.Info("import start",
		"institution", im.cfg.Institution,
		"year", im.cfg.Year,
		"source_count", len(im.cfg.Sources),
	)

	resolved, err := im.fetcher.ResolveAll(ctx, im.Sources())
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(resolved))
	for _, r := range resolved {
		paths = append(paths, r.LocalPath)
	}

	courses, diags, err := BuildCatalog(ctx, paths)
	if err != nil {
		return nil, err
	}

	stamp, err := newestModTime(paths)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Courses:     courses,
		Diagnostics: diags,
		Stamp:       stamp,
		OutputPath:  im.CatalogPath(),
	}

	var catalog bytes.Buffer
	if err := WriteJSON(&catalog, courses); err != nil {
		return nil, err
	}

	var calendar bytes.Buffer
	if im.cfg.ICSExport {
		res.ICSPath = filepath.Join(im.cfg.OutputDir, im.cfg.OutputBase()+".ics")
		opts := ics.ExportOptions{
			Domain: im.cfg.Institution,
			Name:   im.cfg.Institution + " " + im.cfg.Year,
			Stamp:  stamp,
		}
		if err := ics.Write(&calendar, courses, opts); err != nil {
			return nil, err
		}
	}

	// Both payloads are rendered before anything touches the output dir.
	if err := writeFileAtomic(res.OutputPath, catalog.Bytes()); err != nil {
		return nil, fmt.Errorf("write catalog: %w", err)
	}
	if res.ICSPath != "" {
		if err := writeFileAtomic(res.ICSPath, calendar.Bytes()); err != nil {
			return nil, fmt.Errorf("write calendar: %w", err)
		}
	}

	res.FinishedAt = time.Now()
	appLog.Info("import completed",
		"output", res.OutputPath,
		"ics", res.ICSPath,
		"course_count", len(courses),
		"skipped_rows", len(diags),
		"elapsed", res.FinishedAt.Sub(started).String(),
	)
	return res, nil
}

// BuildCatalog reads each file in order, folds it into a per-file catalog
// and merges them. Skipped rows are logged and returned; a malformed value,
// a missing header or an unreadable file aborts the whole build.
func BuildCatalog(ctx context.Context, paths []string) ([]model.Course, []timetable.Diagnostic, error) {
	perFile := make([][]model.Course, 0, len(paths))
	var diags []timetable.Diagnostic

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		tbl, err := sheet.Read(p)
		if err != nil {
			return nil, nil, err
		}
		appLog.Info("importing file", "path", p, "rows", len(tbl.Rows))

		courses, fileDiags, err := timetable.ProcessTable(tbl)
		if err != nil {
			return nil, nil, err
		}
		for _, d := range fileDiags {
			appLog.Warn("row skipped",
				"course", d.Key.String(),
				"reason", d.Reason.String(),
				"source", d.Source,
				"line", d.Line,
			)
		}
		appLog.Debug("file folded", "path", p, "course_count", len(courses), "skipped_rows", len(fileDiags))

		perFile = append(perFile, courses)
		diags = append(diags, fileDiags...)
	}

	return timetable.Merge(perFile), diags, nil
}

// WriteJSON encodes the catalog with 4-space indentation and without
// HTML escaping. Object keys come out sorted (see model field order) and
// the document has no trailing newline.
func WriteJSON(w io.Writer, courses []model.Course) error {
	if courses == nil {
		courses = []model.Course{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(courses); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if _, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// LoadCatalog reads a catalog previously written by Run. Diagnostics are
// not stored in the file, so the result carries none; Stamp and FinishedAt
// are the file's modification time.
func LoadCatalog(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var courses []model.Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return &Result{
		Courses:    courses,
		OutputPath: path,
		Stamp:      info.ModTime(),
		FinishedAt: info.ModTime(),
	}, nil
}

func newestModTime(paths []string) (time.Time, error) {
	var newest time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcatalog-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
