package main

import (
	"testing"

	"ttcatalog/internal/config"
)

func TestApplyFlagsOverridesSources(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Sources = []config.SourceConfig{{ID: "old", Path: "old.xlsx"}}

	applyFlags(conf, flagConfig{
		institution: "hku",
		year:        "2021-2022",
		ics:         true,
		files: []string{
			"2021-22_class_timetable_00000000.xlsx",
			"https://example.com/2021-22_class_timetable_20220112.xlsx",
		},
	})

	if conf.OutputBase() != "hku_2021-2022" || !conf.ICSExport {
		t.Fatalf("flags not applied: %#v", conf)
	}
	if len(conf.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(conf.Sources))
	}
	if conf.Sources[0].Path == "" || conf.Sources[1].URL == "" {
		t.Fatalf("unexpected sources: %#v", conf.Sources)
	}
}
