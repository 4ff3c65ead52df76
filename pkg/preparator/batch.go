package preparator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"adipoprep/internal/logger"
)

// ErrCanceled is returned by Batch.Run when the batch stopped before its
// last task.
var ErrCanceled = errors.New("batch canceled")

// Task is one image (or one series of a multi-series file) to prepare.
type Task struct {
	Path        string
	Name        string // file name shown in logs and reports
	Series      int    // 1-based series index
	TotalSeries int
	Load        func() (*Raster, error)
}

// Sink receives the outputs of a finished task. The result is closed by
// the batch after Write returns.
type Sink interface {
	Write(task Task, res *TaskResult, report []byte) error
}

// Progress is an advisory snapshot passed to the progress callback.
type Progress struct {
	Task    int // 1-based
	Total   int
	Name    string
	Stage   string
	Percent float64 // 0..100 over the whole batch
}

// Summary counts task outcomes.
type Summary struct {
	Done    int
	Skipped int
	Failed  int
	Errors  []error
}

// MemoryCheck returns an error when a task needing need bytes should not
// start.
type MemoryCheck func(need uint64) error

// AvailableMemoryCheck rejects tasks that need more than the currently
// available system memory.
func AvailableMemoryCheck(need uint64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// Unknown memory state does not block processing.
		return nil
	}
	if need > vm.Available {
		return fmt.Errorf("%w: task needs about %d MiB, %d MiB available",
			ErrInputRejected, need>>20, vm.Available>>20)
	}
	return nil
}

// workingCopies approximates the number of full planes alive while one
// channel is processed.
const workingCopies = 8

// Batch processes tasks strictly one after another. Cancellation is
// observed between tasks only.
type Batch struct {
	Processor    *Processor
	Configs      []ChannelConfig
	Compose      ComposeOptions
	NumberFormat NumberFormat
	Sink         Sink
	Progress     func(Progress)
	Log          logger.Logger
	Memory       MemoryCheck
	Now          func() time.Time

	proceed atomic.Bool
}

// Cancel asks the batch to stop before the next task.
func (b *Batch) Cancel() { b.proceed.Store(false) }

func (b *Batch) log() logger.Logger {
	if b.Log == nil {
		return logger.Nop{}
	}
	return b.Log
}

func (b *Batch) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Batch) report(p Progress) {
	if b.Progress != nil {
		b.Progress(p)
	}
}

// Validate checks every channel config.
func (b *Batch) Validate() error {
	if len(b.Configs) == 0 {
		return fmt.Errorf("%w: no channel configured", ErrConfigInvalid)
	}
	for _, c := range b.Configs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if _, err := ParseNumberFormat(string(b.NumberFormat)); err != nil {
		return err
	}
	return nil
}

// Run validates the configuration and processes tasks in order. Rejected
// inputs are skipped, other failures are counted; both let the batch
// continue. It returns ErrCanceled (wrapping the context error, if any)
// when stopped early.
func (b *Batch) Run(ctx context.Context, tasks []Task) (Summary, error) {
	var sum Summary
	if err := b.Validate(); err != nil {
		return sum, err
	}
	if b.Processor == nil {
		b.Processor = &Processor{Log: b.Log}
	}
	memCheck := b.Memory
	if memCheck == nil {
		memCheck = AvailableMemoryCheck
	}

	b.proceed.Store(true)
	stop := context.AfterFunc(ctx, b.Cancel)
	defer stop()

	log := b.log()
	total := len(tasks)
	for i, task := range tasks {
		if !b.proceed.Load() || ctx.Err() != nil {
			log.Warning("batch", "canceled", logger.Fields{"done": i, "total": total})
			if err := ctx.Err(); err != nil {
				return sum, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
			return sum, ErrCanceled
		}
		progress := Progress{Task: i + 1, Total: total, Name: task.Name, Percent: 100 * float64(i) / float64(total)}
		progress.Stage = "processing"
		b.report(progress)

		err := b.runTask(ctx, task, memCheck)
		switch {
		case err == nil:
			sum.Done++
			log.Info("batch", "task finished", logger.Fields{"task": i + 1, "name": task.Name, "series": task.Series})
		case errors.Is(err, ErrInputRejected):
			sum.Skipped++
			sum.Errors = append(sum.Errors, fmt.Errorf("task %d (%s): %w", i+1, task.Name, err))
			log.Warning("batch", "task skipped", logger.Fields{"task": i + 1, "name": task.Name, "reason": err.Error()})
		default:
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Errorf("task %d (%s): %w", i+1, task.Name, err))
			log.Error("batch", err, logger.Fields{"task": i + 1, "name": task.Name})
		}

		progress.Stage = "done"
		progress.Percent = 100 * float64(i+1) / float64(total)
		b.report(progress)
	}
	return sum, nil
}

func (b *Batch) runTask(ctx context.Context, task Task, memCheck MemoryCheck) error {
	if skip, why := SkipFile(task.Path); skip {
		return fmt.Errorf("%w: %s", ErrInputRejected, why)
	}
	started := b.now()
	src, err := task.Load()
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.Check(); err != nil {
		return err
	}
	if err := memCheck(src.EstimatedBytes() * workingCopies); err != nil {
		return err
	}

	res, err := b.Processor.Process(ctx, src, b.Configs, b.Compose)
	if err != nil {
		return err
	}
	defer res.Close()

	series := 0
	if task.TotalSeries > 1 {
		series = task.Series
	}
	var report strings.Builder
	info := ReportInfo{
		ImageName:    task.Name,
		Series:       series,
		Started:      started,
		Finished:     b.now(),
		NumberFormat: b.NumberFormat,
		Compose:      b.Compose,
	}
	if err := WriteReport(&report, info, res); err != nil {
		return err
	}
	if b.Sink == nil {
		return nil
	}
	return b.Sink.Write(task, res, []byte(report.String()))
}

// SkipFile reports whether a path is a companion file rather than an image.
func SkipFile(path string) (bool, string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".zip", ".yaml", ".yml", ".roi":
		return true, fmt.Sprintf("%s is not an image", filepath.Base(path))
	}
	return false, ""
}

// SeriesSelection picks series out of multi-series files: all of them, or
// an explicit 1-based list.
type SeriesSelection struct {
	All  bool
	List []int
}

// ParseSeriesSelection accepts "ALL" or a comma-separated list like "1,3".
func ParseSeriesSelection(s string) (SeriesSelection, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return SeriesSelection{All: true}, nil
	}
	var sel SeriesSelection
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return SeriesSelection{}, fmt.Errorf("%w: bad series %q in %q", ErrConfigInvalid, part, s)
		}
		sel.List = append(sel.List, n)
	}
	if len(sel.List) == 0 {
		return SeriesSelection{}, fmt.Errorf("%w: empty series selection %q", ErrConfigInvalid, s)
	}
	return sel, nil
}

// Select returns the selected 1-based series of a file holding total
// series; listed series beyond total are dropped.
func (s SeriesSelection) Select(total int) []int {
	var out []int
	if s.All {
		for i := 1; i <= total; i++ {
			out = append(out, i)
		}
		return out
	}
	for _, n := range s.List {
		if n <= total {
			out = append(out, n)
		}
	}
	return out
}

// String renders the selection in the form ParseSeriesSelection accepts.
func (s SeriesSelection) String() string {
	if s.All {
		return "ALL"
	}
	parts := make([]string, len(s.List))
	for i, n := range s.List {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// OutputPrefix builds "<dir>/<name without ext>[_s<series>]_AQP[_yyMMdd_HHmmss]".
// The series suffix appears only for files with more than one series.
func OutputPrefix(dir, name string, series, totalSeries int, stamp bool, at time.Time) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if totalSeries > 1 {
		base += "_s" + strconv.Itoa(series)
	}
	base += "_AQP"
	if stamp {
		base += "_" + at.Format("060102_150405")
	}
	return filepath.Join(dir, base)
}
