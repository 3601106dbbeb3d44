package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"ttcatalog/internal/config"
	"ttcatalog/internal/model"
	"ttcatalog/internal/sheet"
)

var header = []any{
	"TERM", "COURSE CODE", "CLASS SECTION", "COURSE TITLE",
	"START DATE", "END DATE", "VENUE", "START TIME", "END TIME",
	"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN",
}

func writeWorkbook(t *testing.T, dir, name string, rows ...[]any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f := excelize.NewFile()
	defer f.Close()

	all := append([][]any{header}, rows...)
	for i, r := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		row := r
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

// thursday builds a row meeting on Thursdays only.
func thursday(term, code, section, title, start, end, venue, from, to string) []any {
	return []any{term, code, section, title, start, end, venue, from, to, "", "", "", "Y"}
}

func newConfig(t *testing.T, paths ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.Institution = "hku"
	cfg.Year = "2022-2023"
	for _, p := range paths {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{ID: filepath.Base(p), Path: p})
	}
	return cfg
}

func readCatalog(t *testing.T, path string) []model.Course {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var courses []model.Course
	if err := json.Unmarshal(data, &courses); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return courses
}

func TestRunMergesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeWorkbook(t, dir, "2022-23_class_timetable_20220801.xlsx",
		thursday("2022-23 Sem 1", "MATH1001", "A", "Old Title", "2022-09-01", "2022-09-15", "Rm1", "09:00", "10:00"),
		thursday("2022-23 Sem 1", "CCST9999", "A", "Critical Thinking", "2022-09-01", "2022-09-15", "Rm101", "09:00", "10:30"),
		thursday("2022-23 Sem 2", "MATH1001", "B", "Spring", "2023-01-12", "2023-01-12", "Rm2", "14:00", "15:00"),
	)
	second := writeWorkbook(t, dir, "2022-23_class_timetable_20220901.xlsx",
		thursday("2022-23 Sem 1", "MATH1001", "Z", "New Title", "2022-09-08", "2022-09-08", "Rm9", "11:00", "12:00"),
		thursday("2022-23 Sem 1", "ARTS1000", "A", "Art", "2022-09-01", "2022-09-01", "", "08:00", "09:00"),
	)

	cfg := newConfig(t, first, second)
	res, err := New(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if filepath.Base(res.OutputPath) != "hku_2022-2023.json" {
		t.Fatalf("unexpected output path %q", res.OutputPath)
	}

	courses := readCatalog(t, res.OutputPath)
	var keys []string
	for _, c := range courses {
		keys = append(keys, c.Key().String())
	}
	want := []string{"ARTS1000_s1", "CCST9999_s1", "MATH1001_s1", "MATH1001_s2"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	math := courses[2]
	if math.Title != "New Title" || len(math.Subclass) != 1 || math.Subclass[0].Name != "Z" {
		t.Fatalf("expected second file to replace MATH1001_s1, got %#v", math)
	}
	if len(math.Subclass[0].Times) != 1 || math.Subclass[0].Times[0].From.String() != "2022-09-08T11:00:00" {
		t.Fatalf("unexpected MATH1001_s1 times: %#v", math.Subclass[0].Times)
	}
	if len(courses[1].Subclass[0].Times) != 3 {
		t.Fatalf("expected 3 CCST9999 meetings, got %d", len(courses[1].Subclass[0].Times))
	}
}

func TestRunIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	p := writeWorkbook(t, dir, "t.xlsx",
		thursday("2022-23 Sem 1", "CCST9999", "A", "Critical Thinking – Ünïcode", "2022-09-01", "2022-09-15", "Rm<101>", "09:00", "10:30"),
	)
	cfg := newConfig(t, p)
	cfg.ICSExport = true
	im := New(cfg)

	res1, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	json1, _ := os.ReadFile(res1.OutputPath)
	ics1, _ := os.ReadFile(res1.ICSPath)

	res2, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	json2, _ := os.ReadFile(res2.OutputPath)
	ics2, _ := os.ReadFile(res2.ICSPath)

	if string(json1) != string(json2) || string(ics1) != string(ics2) {
		t.Fatalf("re-run output differs")
	}
	if !strings.Contains(string(json1), "Ünïcode") || !strings.Contains(string(json1), "Rm<101>") {
		t.Fatalf("expected unescaped text in output:\n%s", json1)
	}
	if !strings.Contains(string(json1), "\n    {\n        \"code\": \"CCST9999\",") {
		t.Fatalf("expected 4-space indentation with sorted keys:\n%s", json1)
	}
	if !strings.HasSuffix(string(json1), "\n]") {
		t.Fatalf("expected catalog to end with ']' and no trailing newline: %q", json1[len(json1)-5:])
	}
	if !strings.Contains(string(ics1), "BEGIN:VEVENT") {
		t.Fatalf("expected ics events")
	}
}

func TestLoadCatalogReadsRunOutput(t *testing.T) {
	dir := t.TempDir()
	p := writeWorkbook(t, dir, "t.xlsx",
		thursday("2022-23 Sem 1", "CCST9999", "A", "Critical Thinking", "2022-09-01", "2022-09-15", "Rm101", "09:00", "10:30"),
		thursday("2022-23 Sem 2", "MATH1001", "B", "Calculus", "2023-01-12", "2023-01-12", "", "14:00", "15:00"),
	)
	im := New(newConfig(t, p))
	res, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.OutputPath != im.CatalogPath() {
		t.Fatalf("output %q, catalog path %q", res.OutputPath, im.CatalogPath())
	}

	loaded, err := LoadCatalog(res.OutputPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Courses) != 2 {
		t.Fatalf("expected 2 courses, got %d", len(loaded.Courses))
	}
	if got := loaded.Courses[0].Subclass[0].Times[2].To.String(); got != "2022-09-15T10:30:00" {
		t.Fatalf("unexpected last meeting end %q", got)
	}

	var want, got bytes.Buffer
	if err := WriteJSON(&want, res.Courses); err != nil {
		t.Fatalf("encode run result: %v", err)
	}
	if err := WriteJSON(&got, loaded.Courses); err != nil {
		t.Fatalf("encode loaded catalog: %v", err)
	}
	if want.String() != got.String() {
		t.Fatalf("loaded catalog differs:\n%s\nwant:\n%s", got.String(), want.String())
	}
	if loaded.FinishedAt.IsZero() {
		t.Fatalf("expected modification time")
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCatalog(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"code":"X","subclass":[{"name":"A","times":[{"from":"01/09/2022","to":"x","venue":""}]}]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadCatalog(bad); err == nil {
		t.Fatalf("expected decode error for malformed timestamp")
	}
}

func TestBuildCatalogByteOrderMarkCSV(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bom.csv")
	in := "\ufeffTERM,COURSE CODE,CLASS SECTION,COURSE TITLE,START DATE,END DATE,VENUE,START TIME,END TIME,MON,TUE,WED,THU,FRI,SAT,SUN\n" +
		"2022-23 Sem 1,CCST9999,A,Critical Thinking,2022-09-01,2022-09-15,Rm101,09:00,10:30,,,,Y,,,\n"
	if err := os.WriteFile(p, []byte(in), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	courses, diags, err := BuildCatalog(context.Background(), []string{p})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(diags) != 0 || len(courses) != 1 || courses[0].Term != model.TermS1 {
		t.Fatalf("unexpected catalog %#v diags %#v", courses, diags)
	}
	if len(courses[0].Subclass[0].Times) != 3 {
		t.Fatalf("expected 3 meetings, got %d", len(courses[0].Subclass[0].Times))
	}
}

func TestRunMalformedValueWritesNothing(t *testing.T) {
	dir := t.TempDir()
	p := writeWorkbook(t, dir, "bad.xlsx",
		thursday("2022-23 Sem 1", "CCST9999", "A", "T", "01/09/2022", "2022-09-15", "Rm101", "09:00", "10:30"),
	)
	cfg := newConfig(t, p)
	if _, err := New(cfg).Run(context.Background()); err == nil {
		t.Fatalf("expected error for malformed date")
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "hku_2022-2023.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, stat err = %v", err)
	}
}

func TestWriteJSONEmptyCatalog(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "[]" {
		t.Fatalf("got %q, want %q", buf.String(), "[]")
	}
}

func TestBuildCatalogReportsSkippedRows(t *testing.T) {
	dir := t.TempDir()
	p := writeWorkbook(t, dir, "skip.xlsx",
		[]any{"2022-23 Sem 1", "CCST9999", "A", "T", "2022-09-01", "2022-09-15", "Rm101", "09:00", "10:30"},
		thursday("2022-23 Sem 1", "CCST9999", "B", "T", "", "2022-09-15", "Rm101", "09:00", "10:30"),
	)
	courses, diags, err := BuildCatalog(context.Background(), []string{p})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %#v", diags)
	}
	if len(courses) != 1 || len(courses[0].Subclass) != 2 {
		t.Fatalf("skipped rows should still register sections: %#v", courses)
	}
	for _, s := range courses[0].Subclass {
		if len(s.Times) != 0 {
			t.Fatalf("expected no occurrences in %s", s.Name)
		}
	}
}

func TestBuildCatalogMissingHeader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(p, []byte("TERM,COURSE CODE\nx,y\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := BuildCatalog(context.Background(), []string{p}); !errors.Is(err, sheet.ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader, got %v", err)
	}
}

func TestBuildCatalogCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := BuildCatalog(ctx, []string{"unused.xlsx"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
