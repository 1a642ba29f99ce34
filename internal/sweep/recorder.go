package sweep

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/banshee-data/ringroad/internal/fsutil"
	"github.com/banshee-data/ringroad/internal/sim"
)

// Recorder receives one summary per completed scenario. A failing recorder
// never alters or stops the sweep.
type Recorder interface {
	Record(ctx context.Context, run Run, s sim.Summary) error
}

// RunLifecycle is implemented by recorders that keep per-run bookkeeping.
type RunLifecycle interface {
	BeginRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run, status SweepStatus, completed int) error
}

// LineRecorder appends "density,avg_speed" and "density,flow" lines to two
// files, one line per scenario, flushed as soon as it is written.
type LineRecorder struct {
	mu     sync.Mutex
	speed  *csv.Writer
	flow   *csv.Writer
	closer []io.Closer
}

// NewLineRecorder opens (or creates) speedPath and flowPath for appending.
// Lines from earlier runs are kept.
func NewLineRecorder(fs fsutil.FileSystem, speedPath, flowPath string) (*LineRecorder, error) {
	rec := &LineRecorder{}
	for _, p := range []string{speedPath, flowPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := fs.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create output directory: %w", err)
			}
		}
	}
	speedFile, err := fs.OpenAppend(speedPath)
	if err != nil {
		return nil, fmt.Errorf("open speed output: %w", err)
	}
	flowFile, err := fs.OpenAppend(flowPath)
	if err != nil {
		speedFile.Close()
		return nil, fmt.Errorf("open flow output: %w", err)
	}
	rec.speed = csv.NewWriter(speedFile)
	rec.flow = csv.NewWriter(flowFile)
	rec.closer = []io.Closer{speedFile, flowFile}
	return rec, nil
}

// Record writes one line to each stream.
func (l *LineRecorder) Record(_ context.Context, _ Run, s sim.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	density := formatFloat(s.Density)
	return errors.Join(
		writeRow(l.speed, density, formatFloat(s.AvgSpeed)),
		writeRow(l.flow, density, formatFloat(s.Flow)),
	)
}

// Close flushes and closes both files.
func (l *LineRecorder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.speed.Flush()
	l.flow.Flush()
	errs := []error{l.speed.Error(), l.flow.Error()}
	for _, c := range l.closer {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func writeRow(w *csv.Writer, fields ...string) error {
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
