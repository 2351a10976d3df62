package taskvault

import (
	"context"
	"sort"
	"time"
)

// TaskStatus is a task's workflow state
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// Task is a unit of work, optionally nested under a parent task
type Task struct {
	Meta
	ParentID    string     `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Status      TaskStatus `json:"status"`
	SortOrder   int        `json:"sort_order"`
	Tags        []string   `json:"tags,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy
func (t *Task) Clone() *Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// taskLess is the canonical ordering: sort order ascending, then most
// recently updated first, then id for determinism
func taskLess(a, b *Task) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func validateTask(t *Task) error {
	if t.Title == "" {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "title",
			"reason": "title is required",
		})
	}
	switch t.Status {
	case StatusPending, StatusInProgress, StatusDone:
	default:
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field": "status",
			"value": string(t.Status),
		})
	}
	// CompletedAt is a terminal-state field: only valid on a done task
	if t.CompletedAt != nil && t.Status != StatusDone {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "completed_at",
			"reason": "completed_at requires status done",
		})
	}
	if len(t.Tags) > MaxTags {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "tags",
			"reason": "too many tags",
			"count":  len(t.Tags),
		})
	}
	for _, tag := range t.Tags {
		if !validTag(tag) {
			return WithContext(ErrInvalidEntity, map[string]interface{}{
				"field": "tags",
				"value": tag,
			})
		}
	}
	return nil
}

// validTag accepts non-empty tags of letters, digits, dash and underscore
func validTag(tag string) bool {
	if tag == "" || len(tag) > MaxTagLength {
		return false
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// TaskStore holds the task table and its parent -> children adjacency
// index. The adjacency always mirrors each task's ParentID field,
// including soft-deleted tasks; Children filters deleted entries at read
// time so cascades can still reach every descendant.
type TaskStore struct {
	tbl *table[*Task]

	// children maps parent id -> set of child ids; root tasks live under ""
	children map[string]map[string]struct{}
}

// NewTaskStore builds a task store over the given backend and loads the
// data file synchronously. A missing file is a normal first run; a corrupt
// one is quarantined and logged, and the store starts empty.
func NewTaskStore(backend Backend, opts StoreOptions) *TaskStore {
	opts = opts.withDefaults(DefaultTasksFile)

	s := &TaskStore{children: make(map[string]map[string]struct{})}
	s.tbl = newTable[*Task]("tasks", opts.FileName, backend, opts.Logger, opts.Metrics, taskLess)
	s.tbl.rebuildLocked = s.rebuildIndexesLocked
	s.tbl.pers = newPersister("tasks", opts.FileName, backend, opts.Mirror,
		opts.Debounce, opts.Retention, s.tbl.snapshotJSON, opts.Logger, opts.Metrics)

	_ = s.tbl.load(context.Background())
	return s
}

// Events returns the store's change notification feed
func (s *TaskStore) Events() *Feed[*Task] { return s.tbl.feed }

// Get returns the task with the given id, soft-deleted or not
func (s *TaskStore) Get(id string) (*Task, bool) { return s.tbl.get(id) }

// List returns tasks matching filter in canonical order. A nil filter
// matches everything.
func (s *TaskStore) List(filter func(*Task) bool, includeDeleted bool) []*Task {
	return s.tbl.list(filter, includeDeleted)
}

// Children returns the non-deleted direct children of the given parent in
// canonical order. An empty parentID returns root tasks.
func (s *TaskStore) Children(parentID string) []*Task {
	s.tbl.mu.RLock()
	out := make([]*Task, 0, len(s.children[parentID]))
	for id := range s.children[parentID] {
		if t, ok := s.tbl.items[id]; ok && !t.Deleted {
			out = append(out, t.Clone())
		}
	}
	s.tbl.mu.RUnlock()

	sortTasks(out)
	return out
}

// Count returns the number of tasks in the table, including soft-deleted
func (s *TaskStore) Count() int { return s.tbl.count() }

// Create validates and inserts a new task, assigning its id and
// timestamps. The parent, when set, must exist and not be soft-deleted.
func (s *TaskStore) Create(task *Task) (*Task, error) {
	if task == nil {
		return nil, WithContext(ErrInvalidEntity, map[string]interface{}{"reason": "nil task"})
	}
	t := task.Clone()
	if t.Status == "" {
		t.Status = StatusPending
	}
	if err := validateTask(t); err != nil {
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return nil, err
	}

	s.tbl.mu.Lock()
	if t.ParentID != "" {
		parent, ok := s.tbl.items[t.ParentID]
		if !ok {
			s.tbl.mu.Unlock()
			return nil, WithContext(ErrNotFound, map[string]interface{}{"parent_id": t.ParentID})
		}
		// A live child under a deleted subtree would survive the cascade
		// that removed its ancestors
		if parent.Deleted {
			s.tbl.mu.Unlock()
			return nil, WithContext(ErrInvalidEntity, map[string]interface{}{
				"field":  "parent_id",
				"reason": "parent is deleted",
			})
		}
	}
	t.stamp(time.Now().UTC())
	s.tbl.items[t.ID] = t
	s.linkLocked(t.ParentID, t.ID)
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricCreateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Task]{Kind: EventAdded, ID: t.ID, Entity: t.Clone()})
	return t.Clone(), nil
}

// Update replaces the task's domain fields. Unknown ids report
// ErrNotFound so "already removed" races stay cheap to handle. A parent
// change moves the task between adjacency lists in the same critical
// section; a change that would make the task its own ancestor is refused.
func (s *TaskStore) Update(task *Task) error {
	if task == nil || task.ID == "" {
		return WithContext(ErrNotFound, map[string]interface{}{"reason": "missing id"})
	}
	t := task.Clone()

	s.tbl.mu.Lock()
	cur, ok := s.tbl.items[t.ID]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": t.ID})
	}
	if t.Status == "" {
		t.Status = cur.Status
	}
	if err := validateTask(t); err != nil {
		s.tbl.mu.Unlock()
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return err
	}
	if t.ParentID != cur.ParentID {
		if t.ParentID != "" {
			parent, ok := s.tbl.items[t.ParentID]
			if !ok {
				s.tbl.mu.Unlock()
				return WithContext(ErrNotFound, map[string]interface{}{"parent_id": t.ParentID})
			}
			if parent.Deleted {
				s.tbl.mu.Unlock()
				return WithContext(ErrInvalidEntity, map[string]interface{}{
					"field":  "parent_id",
					"reason": "parent is deleted",
				})
			}
			if s.wouldCycleLocked(t.ID, t.ParentID) {
				s.tbl.mu.Unlock()
				return WithContext(ErrInvalidEntity, map[string]interface{}{
					"field":  "parent_id",
					"reason": "task cannot become its own descendant",
				})
			}
		}
		s.unlinkLocked(cur.ParentID, t.ID)
		s.linkLocked(t.ParentID, t.ID)
	}

	t.CreatedAt = cur.CreatedAt
	t.Deleted = cur.Deleted
	t.UpdatedAt = cur.UpdatedAt
	t.touch(time.Now().UTC())
	s.tbl.items[t.ID] = t
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricUpdateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Task]{Kind: EventUpdated, ID: t.ID, Entity: t.Clone()})
	return nil
}

// SoftDelete marks the task and all of its descendants deleted, persists
// once for the whole cascade, and emits one Deleted event per flipped id.
// A cascade that flips nothing is a no-op: no event, no save.
func (s *TaskStore) SoftDelete(id string) error {
	now := time.Now().UTC()

	s.tbl.mu.Lock()
	if _, ok := s.tbl.items[id]; !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	var flipped []string
	for _, cid := range s.subtreeLocked(id) {
		t := s.tbl.items[cid]
		if t.Deleted {
			continue
		}
		t.Deleted = true
		t.touch(now)
		flipped = append(flipped, cid)
	}
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	if len(flipped) == 0 {
		return nil
	}

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "soft")
	s.tbl.metrics.Histogram(MetricCascadeSize, float64(len(flipped)), "store", s.tbl.name)
	s.tbl.committed(size)
	for _, cid := range flipped {
		s.tbl.feed.publish(Event[*Task]{Kind: EventDeleted, ID: cid})
	}
	return nil
}

// HardDelete removes the task and all of its descendants from the table
// and every index. Irreversible.
func (s *TaskStore) HardDelete(id string) error {
	s.tbl.mu.Lock()
	if _, ok := s.tbl.items[id]; !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	removed := s.subtreeLocked(id)
	for _, cid := range removed {
		t := s.tbl.items[cid]
		delete(s.tbl.items, cid)
		delete(s.children, cid)
		s.unlinkLocked(t.ParentID, cid)
	}
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "hard")
	s.tbl.metrics.Histogram(MetricCascadeSize, float64(len(removed)), "store", s.tbl.name)
	s.tbl.committed(size)
	for _, cid := range removed {
		s.tbl.feed.publish(Event[*Task]{Kind: EventDeleted, ID: cid})
	}
	return nil
}

// Reload re-reads the data file, discarding in-memory state
func (s *TaskStore) Reload(ctx context.Context) error { return s.tbl.load(ctx) }

// Clear truncates the table and schedules a save of the empty set
func (s *TaskStore) Clear() { s.tbl.clear() }

// Flush forces any pending save to disk synchronously
func (s *TaskStore) Flush() error { return s.tbl.pers.Flush() }

// Close flushes pending writes and stops the debounce timer
func (s *TaskStore) Close() error { return s.tbl.pers.Close() }

// subtreeLocked returns the id and all transitive descendant ids,
// parent-first. Caller holds the table lock.
func (s *TaskStore) subtreeLocked(rootID string) []string {
	order := []string{rootID}
	for i := 0; i < len(order); i++ {
		for cid := range s.children[order[i]] {
			order = append(order, cid)
		}
	}
	return order
}

// wouldCycleLocked reports whether putting id under newParent would make
// id its own ancestor. Caller holds the table lock.
func (s *TaskStore) wouldCycleLocked(id, newParent string) bool {
	for p := newParent; p != ""; {
		if p == id {
			return true
		}
		t, ok := s.tbl.items[p]
		if !ok {
			return false
		}
		p = t.ParentID
	}
	return false
}

func (s *TaskStore) linkLocked(parentID, id string) {
	set := s.children[parentID]
	if set == nil {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	set[id] = struct{}{}
}

func (s *TaskStore) unlinkLocked(parentID, id string) {
	if set := s.children[parentID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.children, parentID)
		}
	}
}

func (s *TaskStore) rebuildIndexesLocked() {
	s.children = make(map[string]map[string]struct{})
	for id, t := range s.tbl.items {
		s.linkLocked(t.ParentID, id)
	}
}

func sortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return taskLess(tasks[i], tasks[j]) })
}
