package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"ttcatalog/internal/config"
	"ttcatalog/internal/importer"
	appLog "ttcatalog/internal/log"
	"ttcatalog/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath  string
	institution string
	year        string
	outputDir   string
	listen      string
	ics         bool
	serve       bool
	files       []string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	appLog.Setup(conf.LogLevel, conf.LogFormat)

	appLog.Info("effective config",
		"institution", conf.Institution,
		"year", conf.Year,
		"source_count", len(conf.Sources),
		"output_dir", conf.OutputDir,
		"ics_export", conf.ICSExport,
		"serve", flags.serve,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	im := importer.New(conf)

	if !flags.serve {
		if _, err := im.Run(ctx); err != nil {
			appLog.Error("import failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, conf, im); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("ttcatalog exiting")
}

// serve publishes the catalog left by an earlier run, runs an initial
// import, then keeps the API up and re-imports on the configured cron
// schedule until ctx is canceled. Failed imports keep the previously
// published catalog.
func serve(ctx context.Context, conf *config.Config, im *importer.Importer) error {
	srv := web.NewServer(conf, im)

	prev, err := importer.LoadCatalog(im.CatalogPath())
	switch {
	case err == nil:
		srv.Publish(prev)
		appLog.Info("published existing catalog", "path", prev.OutputPath, "course_count", len(prev.Courses))
	case errors.Is(err, fs.ErrNotExist):
		appLog.Debug("no existing catalog", "path", im.CatalogPath())
	default:
		appLog.Warn("ignoring existing catalog", "path", im.CatalogPath(), "error", err.Error())
	}

	runOnce := func() {
		res, err := im.Run(ctx)
		if err != nil {
			appLog.Error("scheduled import failed", err)
			return
		}
		srv.Publish(res)
	}
	runOnce()

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, runOnce); err != nil {
		return err
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()
	appLog.Info("refresh scheduled", "cron", conf.RefreshCron)

	return srv.StartServer(ctx)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./ttcatalog.yaml", "Path to config file")
	flag.StringVar(&cfg.institution, "institution", "", "Institution name used in the output file name")
	flag.StringVar(&cfg.year, "year", "", "Academic year label used in the output file name")
	flag.StringVar(&cfg.outputDir, "out", "", "Output directory (overrides config if set)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.ics, "ics", false, "Also write an iCalendar export")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the catalog over HTTP and re-import on the refresh schedule")

	flag.Parse()
	// Remaining args are source files, imported in the given order.
	cfg.files = flag.Args()

	return cfg
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.institution != "" {
		conf.Institution = flags.institution
	}
	if flags.year != "" {
		conf.Year = flags.year
	}
	if flags.outputDir != "" {
		conf.OutputDir = flags.outputDir
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.ics {
		conf.ICSExport = true
	}
	if len(flags.files) > 0 {
		conf.Sources = make([]config.SourceConfig, 0, len(flags.files))
		for _, f := range flags.files {
			src := config.SourceConfig{ID: filepath.Base(f)}
			if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
				src.URL = f
			} else {
				src.Path = f
			}
			conf.Sources = append(conf.Sources, src)
		}
	}
}
