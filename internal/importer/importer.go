package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
)

// ErrImportInProgress is returned when another import holds the manifest lock.
var ErrImportInProgress = errors.New("another import is in progress")

const (
	defaultWorkers     = 4
	defaultSaveEvery   = 50
	defaultLockTimeout = 5 * time.Second
	maxFailures        = 100
)

// Indexer stores one reference image and counts what the index holds.
type Indexer interface {
	Index(ctx context.Context, id string, meta domref.Metadata, data []byte) (domref.Reference, bool, error)
	Count(ctx context.Context, category string) (int, error)
}

// Failure describes one entry that could not be imported.
type Failure struct {
	Index int
	ID    string
	File  string
	Err   error
}

// Result summarizes an import run.
type Result struct {
	RunID    string
	Total    int
	Resumed  int // entries skipped because a previous run already covered them
	Created  int64
	Updated  int64
	Failed   int64
	Failures []Failure // first failures only
	Duration time.Duration
	Stored   int // references in the index after a finished run, -1 when unknown
}

// Importer runs a bounded worker pool over a manifest.
type Importer struct {
	idx         Indexer
	workers     int
	saveEvery   int
	lockTimeout time.Duration
	metrics     *Metrics
	logger      *zap.Logger
	readFile    func(string) ([]byte, error)
}

// New creates an importer that stores entries through idx.
func New(idx Indexer, logger *zap.Logger) *Importer {
	return &Importer{
		idx:         idx,
		workers:     defaultWorkers,
		saveEvery:   defaultSaveEvery,
		lockTimeout: defaultLockTimeout,
		logger:      logger,
		readFile:    os.ReadFile,
	}
}

// WithWorkers sets the number of concurrent indexing workers.
func (im *Importer) WithWorkers(n int) *Importer {
	if n > 0 {
		im.workers = n
	}
	return im
}

// WithSaveEvery sets how many advanced entries trigger a cursor save.
func (im *Importer) WithSaveEvery(n int) *Importer {
	if n > 0 {
		im.saveEvery = n
	}
	return im
}

// WithLockTimeout sets how long to wait for a concurrent import to release the lock.
func (im *Importer) WithLockTimeout(d time.Duration) *Importer {
	im.lockTimeout = d
	return im
}

// WithMetrics enables Prometheus progress metrics.
func (im *Importer) WithMetrics(m *Metrics) *Importer {
	im.metrics = m
	return im
}

// CursorPath is where progress for a manifest is stored.
func CursorPath(m *Manifest) string {
	return m.Path + ".cursor.json"
}

type task struct {
	index int
	entry Entry
}

type outcome struct {
	index   int
	created bool
	aborted bool // canceled before completion; stays below the cursor
	failure *Failure
}

// Run imports the manifest, resuming from its cursor unless reset is set.
// A completed cursor for the same manifest makes Run a no-op.
func (im *Importer) Run(ctx context.Context, m *Manifest, reset bool) (Result, error) {
	unlock, err := acquireLock(CursorPath(m)+".lock", im.lockTimeout)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	ct, err := loadCursor(CursorPath(m), im.saveEvery, im.logger)
	if err != nil {
		return Result{}, err
	}

	cur := ct.Get()
	switch {
	case reset || cur.RunID == "" || cur.Manifest != m.Path:
		ct.Start(uuid.NewString(), m.Path)
	case cur.Done:
		im.logger.Info("Import already complete",
			zap.String("run_id", cur.RunID),
			zap.Int("processed", cur.Processed),
		)
		return Result{
			RunID:   cur.RunID,
			Total:   len(m.References),
			Resumed: len(m.References),
			Stored:  im.stored(ctx),
		}, nil
	default:
		im.logger.Info("Resuming import",
			zap.String("run_id", cur.RunID),
			zap.Int("offset", cur.Offset),
			zap.Int("processed", cur.Processed),
			zap.Int("failed", cur.Failed),
		)
	}
	cur = ct.Get()
	if cur.Offset > len(m.References) {
		return Result{}, fmt.Errorf("cursor offset %d beyond manifest size %d (use reset)", cur.Offset, len(m.References))
	}

	res := Result{RunID: cur.RunID, Total: len(m.References), Resumed: cur.Offset, Stored: -1}
	start := time.Now()

	tasks := make(chan task, im.workers*2)
	outcomes := make(chan outcome, im.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < im.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				outcomes <- im.process(ctx, m, t)
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i := cur.Offset; i < len(m.References); i++ {
			select {
			case <-ctx.Done():
				return
			case tasks <- task{index: i, entry: m.References[i]}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	wm := newWatermark(cur.Offset, len(m.References))
	for o := range outcomes {
		if o.aborted {
			continue
		}
		var p, f int
		switch {
		case o.failure != nil:
			res.Failed++
			f = 1
			if len(res.Failures) < maxFailures {
				res.Failures = append(res.Failures, *o.failure)
			}
		case o.created:
			res.Created++
			p = 1
		default:
			res.Updated++
			p = 1
		}

		offset := wm.mark(o.index)
		ct.Advance(offset, p, f)
		if im.metrics != nil {
			im.metrics.cursorOffset.Set(float64(offset))
		}
	}

	res.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		ct.forceSave()
		return res, fmt.Errorf("import interrupted at offset %d: %w", ct.Get().Offset, err)
	}
	ct.Finish()

	res.Stored = im.stored(ctx)

	im.logger.Info("Import finished",
		zap.String("run_id", res.RunID),
		zap.Int64("created", res.Created),
		zap.Int64("updated", res.Updated),
		zap.Int64("failed", res.Failed),
		zap.Int("stored", res.Stored),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (im *Importer) stored(ctx context.Context) int {
	n, err := im.idx.Count(ctx, "")
	if err != nil {
		im.logger.Warn("Failed to count stored references", zap.Error(err))
		return -1
	}
	return n
}

func (im *Importer) process(ctx context.Context, m *Manifest, t task) outcome {
	start := time.Now()
	path := m.FilePath(t.entry)
	defer func() {
		if im.metrics != nil {
			im.metrics.entryDuration.Observe(time.Since(start).Seconds())
		}
	}()

	fail := func(reason string, err error) outcome {
		im.count(reason)
		im.logger.Warn("Import entry failed",
			zap.Int("index", t.index),
			zap.String("id", t.entry.ID),
			zap.String("file", path),
			zap.Error(err),
		)
		return outcome{index: t.index, failure: &Failure{Index: t.index, ID: t.entry.ID, File: path, Err: err}}
	}

	if ctx.Err() != nil {
		return outcome{index: t.index, aborted: true}
	}

	data, err := im.readFile(path)
	if err != nil {
		return fail("read_error", fmt.Errorf("read image: %w", err))
	}

	_, created, err := im.idx.Index(ctx, t.entry.ID, t.entry.Metadata, data)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{index: t.index, aborted: true}
		}
		return fail("index_error", err)
	}

	if created {
		im.count("created")
	} else {
		im.count("updated")
	}
	return outcome{index: t.index, created: created}
}

func (im *Importer) count(result string) {
	if im.metrics != nil {
		im.metrics.entriesTotal.WithLabelValues(result).Inc()
	}
}

// watermark tracks the lowest manifest index not yet completed.
// Workers finish out of order; the cursor only moves past contiguous completions.
type watermark struct {
	offset int
	done   []bool
}

func newWatermark(offset, total int) *watermark {
	return &watermark{offset: offset, done: make([]bool, total)}
}

func (w *watermark) mark(i int) int {
	w.done[i] = true
	for w.offset < len(w.done) && w.done[w.offset] {
		w.offset++
	}
	return w.offset
}
