package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"adipoprep/internal/logger"
	"adipoprep/pkg/config"
	"adipoprep/pkg/imageio"
	"adipoprep/pkg/preparator"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("adipoprep", flag.ContinueOnError)
	configPath := flags.String("config", "", "YAML task configuration (defaults when empty)")
	outDir := flags.String("out", "", "output directory, overrides output.dir")
	logLevel := flags.String("log-level", "", "log level, overrides log.level")
	recursive := flags.Bool("r", false, "walk input directories recursively")
	initPath := flags.String("init", "", "write a default configuration to this path and exit")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: adipoprep [flags] <file-or-directory>...\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *initPath != "" {
		if err := config.CreateDefaultConfigFile(*initPath); err != nil {
			return err
		}
		fmt.Printf("Default configuration written to %s\n", *initPath)
		return nil
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return fmt.Errorf("no input given")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *recursive {
		cfg.Input.Recursive = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	paths, err := collectInputs(flags.Args(), cfg.Input.Recursive)
	if err != nil {
		return err
	}
	tasks := buildTasks(paths, cfg.SeriesSelection(), log)
	if len(tasks) == 0 {
		return fmt.Errorf("no images found")
	}
	fmt.Printf("Preparing %d image(s) with %d channel task(s)\n", len(tasks), len(cfg.Channels))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	batch := &preparator.Batch{
		Processor: &preparator.Processor{
			Log:      log,
			DebugDir: cfg.Output.DebugDir,
		},
		Configs:      cfg.Channels,
		Compose:      cfg.Composition,
		NumberFormat: cfg.NumberFormat(),
		Sink:         &fileSink{cfg: cfg, log: log},
		Progress:     printProgress,
		Log:          log,
	}

	startTime := time.Now()
	sum, err := batch.Run(ctx, tasks)
	elapsed := time.Since(startTime)

	fmt.Println()
	fmt.Printf("=== Preparation Summary (%.1fs) ===\n", elapsed.Seconds())
	fmt.Printf("  Images:    %d\n", len(tasks))
	fmt.Printf("  Prepared:  %d\n", sum.Done)
	fmt.Printf("  Skipped:   %d\n", sum.Skipped)
	fmt.Printf("  Failed:    %d\n", sum.Failed)
	for _, e := range sum.Errors {
		fmt.Printf("  - %v\n", e)
	}
	fmt.Println("===================================")

	if errors.Is(err, preparator.ErrCanceled) {
		return fmt.Errorf("stopped after %d of %d images: %w", sum.Done+sum.Skipped+sum.Failed, len(tasks), err)
	}
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d image(s) failed", sum.Failed)
	}
	return nil
}

func newLogger(cfg *config.Config) (logger.Logger, func(), error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.File == "" {
		return logger.NewConsoleLogger(level), func() {}, nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return logger.NewConsoleFileLogger(level, f), func() { f.Close() }, nil
}

func printProgress(p preparator.Progress) {
	switch p.Stage {
	case "processing":
		fmt.Printf("[%d/%d] %s...\n", p.Task, p.Total, p.Name)
	case "done":
		fmt.Printf("[%d/%d] %s done (%.0f%%)\n", p.Task, p.Total, p.Name, p.Percent)
	}
}

// collectInputs expands directories into the files they contain. Hidden
// files and outputs of earlier runs are left out of directory listings;
// explicitly named files are always kept.
func collectInputs(args []string, recursive bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != arg && (!recursive || strings.HasPrefix(name, ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(name, ".") || isOutputFile(name) {
				return nil
			}
			found = append(found, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}

func isOutputFile(name string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.Contains(base, "_AQP")
}

// buildTasks turns input paths into tasks. TIFF and FITS files hold a
// single series.
func buildTasks(paths []string, series preparator.SeriesSelection, log logger.Logger) []preparator.Task {
	var tasks []preparator.Task
	for _, path := range paths {
		selected := series.Select(1)
		if len(selected) == 0 {
			log.Info("input", "no selected series", logger.Fields{"path": path, "series": series.String()})
			continue
		}
		p := path
		tasks = append(tasks, preparator.Task{
			Path:        p,
			Name:        filepath.Base(p),
			Series:      1,
			TotalSeries: 1,
			Load:        func() (*preparator.Raster, error) { return loadRaster(p) },
		})
	}
	return tasks
}

func loadRaster(path string) (*preparator.Raster, error) {
	if imageio.IsFITS(path) {
		return imageio.ReadFITS(path)
	}
	r, err := imageio.Read(path)
	if errors.Is(err, imageio.ErrNotTIFF) {
		return loadOtherImage(path)
	}
	return r, err
}
