package taskvault

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Persister coalesces bursts of mutations into a single snapshot write.
// Every Schedule call re-arms a single-shot timer, so the quiet period is
// measured from the last mutation: a continuously mutating table defers
// its save until a gap occurs. When the timer fires the persister
// snapshots the table, rotates backups, and writes the data file.
//
// Write failures are logged and swallowed; the in-memory table stays
// authoritative and the next mutation's debounce cycle tries again. The
// durable file can therefore lag memory by up to one debounce interval at
// all times.
type Persister struct {
	name      string
	key       string
	backend   Backend
	mirror    Backend // optional off-machine copy target, may be nil
	interval  time.Duration
	retention int
	snapshot  func() ([]byte, error)
	logger    Logger
	metrics   Metrics

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool

	// writeMu serializes snapshot writes so a timer fire and an explicit
	// Flush never interleave their backup rotation and Put
	writeMu sync.Mutex

	inflight sync.WaitGroup // outstanding mirror uploads
}

func newPersister(name, key string, backend, mirror Backend, interval time.Duration, retention int, snapshot func() ([]byte, error), logger Logger, metrics Metrics) *Persister {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	if retention <= 0 {
		retention = DefaultBackupRetention
	}
	return &Persister{
		name:      name,
		key:       key,
		backend:   backend,
		mirror:    mirror,
		interval:  interval,
		retention: retention,
		snapshot:  snapshot,
		logger:    logger,
		metrics:   metrics,
	}
}

// Schedule marks a save as pending and re-arms the debounce timer from now
func (p *Persister) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.pending = true
	if p.timer == nil {
		p.timer = time.AfterFunc(p.interval, p.fire)
	} else {
		p.timer.Reset(p.interval)
	}
}

func (p *Persister) fire() {
	p.mu.Lock()
	if !p.pending || p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = false
	p.mu.Unlock()

	if err := p.write(); err != nil {
		// Already logged; the next Schedule retries
		_ = err
	}
}

// Flush forces a synchronous write if a save is pending. Used on shutdown
// so the last debounce window's mutations are not lost.
func (p *Persister) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return WithContext(ErrStoreClosed, map[string]interface{}{"store": p.name})
	}
	if !p.pending {
		p.mu.Unlock()
		return nil
	}
	p.pending = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	return p.write()
}

// Close flushes any pending save, stops the timer, and waits for
// outstanding mirror uploads
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.Flush()

	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	p.inflight.Wait()
	return err
}

func (p *Persister) write() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	ctx := context.Background()
	start := time.Now()

	data, err := p.snapshot()
	if err != nil {
		p.metrics.Increment(MetricSaveError, "store", p.name)
		p.logger.Error("snapshot serialization failed", "store", p.name, "error", err)
		return WithContext(ErrPersistenceFailure, map[string]interface{}{
			"store": p.name,
			"cause": err.Error(),
		})
	}

	p.rotateBackups(ctx)

	if err := p.backend.Put(ctx, p.key, data); err != nil {
		p.metrics.Increment(MetricSaveError, "store", p.name)
		p.logger.Error("snapshot write failed", "store", p.name, "key", p.key, "error", err)
		return WithContext(ErrPersistenceFailure, map[string]interface{}{
			"store": p.name,
			"key":   p.key,
			"cause": err.Error(),
		})
	}

	p.metrics.Increment(MetricSaveSuccess, "store", p.name)
	p.metrics.Timing(MetricSaveDuration, time.Since(start), "store", p.name)
	p.metrics.Histogram(MetricSaveBytes, float64(len(data)), "store", p.name)
	p.logger.Debug("snapshot written", "store", p.name, "key", p.key, "bytes", len(data))

	if p.mirror != nil {
		p.inflight.Add(1)
		go p.uploadMirror(data)
	}
	return nil
}

// uploadMirror copies the snapshot to the configured mirror backend,
// best-effort. Mirror failures never affect the local write.
func (p *Persister) uploadMirror(data []byte) {
	defer p.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), mirrorUploadTimeout)
	defer cancel()

	if err := p.mirror.Put(ctx, p.key, data); err != nil {
		p.metrics.Increment(MetricMirrorError, "store", p.name)
		p.logger.Warn("mirror upload failed", "store", p.name, "key", p.key, "error", err)
		return
	}
	p.metrics.Increment(MetricMirrorSuccess, "store", p.name)
}

// rotateBackups shifts the .bak.N chain upward before the data file is
// overwritten: .bak.1 is always the previous snapshot, .bak.retention the
// oldest kept. Entirely best-effort; rotation failures are logged and
// never block the write.
func (p *Persister) rotateBackups(ctx context.Context) {
	exists, err := p.backend.Exists(ctx, p.key)
	if err != nil || !exists {
		return
	}

	oldest := p.backupKey(p.retention)
	if ok, _ := p.backend.Exists(ctx, oldest); ok {
		if err := p.backend.Delete(ctx, oldest); err != nil {
			p.metrics.Increment(MetricBackupError, "store", p.name)
			p.logger.Warn("backup prune failed", "store", p.name, "key", oldest, "error", err)
		} else {
			p.metrics.Increment(MetricBackupPruned, "store", p.name)
		}
	}

	for n := p.retention - 1; n >= 1; n-- {
		data, err := p.backend.Get(ctx, p.backupKey(n))
		if err != nil {
			continue
		}
		if err := p.backend.Put(ctx, p.backupKey(n+1), data); err != nil {
			p.metrics.Increment(MetricBackupError, "store", p.name)
			p.logger.Warn("backup rotation failed", "store", p.name, "key", p.backupKey(n+1), "error", err)
		}
	}

	current, err := p.backend.Get(ctx, p.key)
	if err != nil {
		p.metrics.Increment(MetricBackupError, "store", p.name)
		p.logger.Warn("backup of current file failed", "store", p.name, "key", p.key, "error", err)
		return
	}
	if err := p.backend.Put(ctx, p.backupKey(1), current); err != nil {
		p.metrics.Increment(MetricBackupError, "store", p.name)
		p.logger.Warn("backup of current file failed", "store", p.name, "key", p.backupKey(1), "error", err)
	}
}

func (p *Persister) backupKey(n int) string {
	return fmt.Sprintf("%s.bak.%d", p.key, n)
}
