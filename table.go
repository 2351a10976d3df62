package taskvault

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// table is the primary id -> entity mapping shared by every store. It owns
// the store's single coarse lock: the lock guards the table and all of the
// owning store's secondary indexes together, so cross-index consistency
// never needs multi-lock coordination. Stores lock mu directly when they
// mutate their indexes alongside the items map.
type table[T Entity[T]] struct {
	name    string // store name, used in logs and metric tags
	key     string // data file key, e.g. "tasks.json"
	backend Backend
	logger  Logger
	metrics Metrics

	mu    sync.RWMutex
	items map[string]T

	// rebuildLocked rebuilds the owning store's secondary indexes from
	// items in one pass. Called with mu held.
	rebuildLocked func()

	// less is the store's canonical ordering for List results
	less func(a, b T) bool

	pers *Persister
	feed *Feed[T]
}

func newTable[T Entity[T]](name, key string, backend Backend, logger Logger, metrics Metrics, less func(a, b T) bool) *table[T] {
	return &table[T]{
		name:    name,
		key:     key,
		backend: backend,
		logger:  logger,
		metrics: metrics,
		items:   make(map[string]T),
		less:    less,
		feed:    newFeed[T](),
	}
}

// get returns a clone of the entity, soft-deleted or not
func (t *table[T]) get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.Clone(), true
}

// list returns clones of all entities matching filter, in the table's
// canonical order. A nil filter matches everything.
func (t *table[T]) list(filter func(T) bool, includeDeleted bool) []T {
	t.mu.RLock()
	out := make([]T, 0, len(t.items))
	for _, e := range t.items {
		if !includeDeleted && e.meta().Deleted {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return t.less(out[i], out[j]) })
	return out
}

// count returns the number of entities in the table, including soft-deleted
func (t *table[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// committed is called after every successful mutation, outside the lock:
// it schedules the debounced save and updates the table size gauge.
func (t *table[T]) committed(sizeAfter int) {
	t.metrics.Gauge(MetricTableSize, float64(sizeAfter), "store", t.name)
	t.pers.Schedule()
}

// snapshotJSON clones the table under the read lock and serializes outside
// it, so slow marshaling never blocks mutations. Entities are ordered by
// id; ids are time-ordered, so the file stays in creation order and diffs
// cleanly between snapshots.
func (t *table[T]) snapshotJSON() ([]byte, error) {
	t.mu.RLock()
	clones := make([]T, 0, len(t.items))
	for _, e := range t.items {
		clones = append(clones, e.Clone())
	}
	t.mu.RUnlock()

	sort.Slice(clones, func(i, j int) bool {
		return clones[i].EntityID() < clones[j].EntityID()
	})
	return json.MarshalIndent(clones, "", "  ")
}

// load replaces the table contents from the data file and rebuilds every
// secondary index in one pass. An absent file is a normal first run. A
// corrupt file is quarantined alongside the original and the table starts
// empty; that trade-off loses data and is logged loudly so an operator can
// recover the quarantined copy by hand.
func (t *table[T]) load(ctx context.Context) error {
	data, err := t.backend.Get(ctx, t.key)

	var loadErr error
	var items map[string]T

	switch {
	case IsNotFound(err):
		t.logger.Debug("data file absent, starting empty", "store", t.name, "key", t.key)
		items = make(map[string]T)

	case err != nil:
		t.logger.Error("data file unreadable, starting empty",
			"store", t.name, "key", t.key, "error", err)
		t.metrics.Increment(MetricLoadError, "store", t.name)
		items = make(map[string]T)
		loadErr = WithContext(ErrLoadFailure, map[string]interface{}{
			"store": t.name,
			"key":   t.key,
			"cause": err.Error(),
		})

	default:
		var list []T
		if uerr := json.Unmarshal(data, &list); uerr != nil {
			t.quarantine(ctx, data, uerr)
			t.metrics.Increment(MetricLoadError, "store", t.name)
			items = make(map[string]T)
			loadErr = WithContext(ErrLoadFailure, map[string]interface{}{
				"store": t.name,
				"key":   t.key,
				"cause": uerr.Error(),
			})
		} else {
			items = make(map[string]T, len(list))
			for _, e := range list {
				items[e.EntityID()] = e
			}
			t.metrics.Increment(MetricLoadSuccess, "store", t.name)
		}
	}

	t.mu.Lock()
	t.items = items
	t.rebuildLocked()
	size := len(t.items)
	t.mu.Unlock()

	t.metrics.Gauge(MetricTableSize, float64(size), "store", t.name)
	t.feed.publish(Event[T]{Kind: EventReloaded})
	return loadErr
}

// quarantine copies a corrupt data file aside so a reload never silently
// destroys the only copy of the user's data
func (t *table[T]) quarantine(ctx context.Context, data []byte, cause error) {
	qkey := t.key + ".corrupt." + time.Now().UTC().Format("20060102_150405")
	if err := t.backend.Put(ctx, qkey, data); err != nil {
		t.logger.Error("data file corrupt and quarantine failed",
			"store", t.name, "key", t.key, "quarantine", qkey,
			"parse_error", cause, "quarantine_error", err)
		return
	}
	t.logger.Error("data file corrupt, quarantined copy and starting empty",
		"store", t.name, "key", t.key, "quarantine", qkey, "parse_error", cause)
}

// clear truncates the table and all indexes, then schedules a save of the
// empty set. Test/reset hook.
func (t *table[T]) clear() {
	t.mu.Lock()
	t.items = make(map[string]T)
	t.rebuildLocked()
	t.mu.Unlock()

	t.metrics.Gauge(MetricTableSize, 0, "store", t.name)
	t.pers.Schedule()
	t.feed.publish(Event[T]{Kind: EventReloaded})
}
