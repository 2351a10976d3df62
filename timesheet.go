package taskvault

import (
	"context"
	"sort"
	"strings"
	"time"
)

// WeekEnding dates are stored as plain calendar dates in this layout
const WeekEndingLayout = "2006-01-02"

// WeekEntry records hours against a (week, project code, activity code)
// combination. Days runs Monday through Sunday; each slot is 0-24 hours.
// The combination is unique among non-deleted entries, compared
// case-insensitively on both codes.
type WeekEntry struct {
	Meta
	WeekEnding   string     `json:"week_ending"`
	ProjectCode  string     `json:"project_code"`
	ActivityCode string     `json:"activity_code"`
	Days         [7]float64 `json:"days"`
	Comment      string     `json:"comment,omitempty"`
}

// Clone returns a copy
func (w *WeekEntry) Clone() *WeekEntry {
	c := *w
	return &c
}

// Total returns the entry's hours summed across the week
func (w *WeekEntry) Total() float64 {
	var sum float64
	for _, d := range w.Days {
		sum += d
	}
	return sum
}

// comboKey is the uniqueness key for a week entry
func (w *WeekEntry) comboKey() string {
	return w.WeekEnding + "|" + strings.ToLower(w.ProjectCode) + "|" + strings.ToLower(w.ActivityCode)
}

func weekLess(a, b *WeekEntry) bool {
	if a.WeekEnding != b.WeekEnding {
		return a.WeekEnding < b.WeekEnding
	}
	ap, bp := strings.ToLower(a.ProjectCode), strings.ToLower(b.ProjectCode)
	if ap != bp {
		return ap < bp
	}
	aa, ba := strings.ToLower(a.ActivityCode), strings.ToLower(b.ActivityCode)
	if aa != ba {
		return aa < ba
	}
	return a.ID < b.ID
}

func validateWeekEntry(w *WeekEntry) error {
	if _, err := time.Parse(WeekEndingLayout, w.WeekEnding); err != nil {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field": "week_ending",
			"value": w.WeekEnding,
		})
	}
	if strings.TrimSpace(w.ProjectCode) == "" {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "project_code",
			"reason": "project_code is required",
		})
	}
	if strings.TrimSpace(w.ActivityCode) == "" {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "activity_code",
			"reason": "activity_code is required",
		})
	}
	for i, d := range w.Days {
		if d < 0 || d > MaxDayHours {
			return WithContext(ErrInvalidEntity, map[string]interface{}{
				"field": "days",
				"day":   i,
				"value": d,
			})
		}
	}
	return nil
}

// TimesheetStore holds the week-entry table, a compound uniqueness index
// over (week ending, project code, activity code), and a per-week bucket
// index for the common "show me this week" query
type TimesheetStore struct {
	tbl *table[*WeekEntry]

	byCombo map[string]string              // combo key -> id, non-deleted only
	byWeek  map[string]map[string]struct{} // week ending -> set of ids, all rows
}

// NewTimesheetStore builds a timesheet store over the given backend and
// loads the data file synchronously
func NewTimesheetStore(backend Backend, opts StoreOptions) *TimesheetStore {
	opts = opts.withDefaults(DefaultWeeksFile)

	s := &TimesheetStore{
		byCombo: make(map[string]string),
		byWeek:  make(map[string]map[string]struct{}),
	}
	s.tbl = newTable[*WeekEntry]("weeks", opts.FileName, backend, opts.Logger, opts.Metrics, weekLess)
	s.tbl.rebuildLocked = s.rebuildIndexesLocked
	s.tbl.pers = newPersister("weeks", opts.FileName, backend, opts.Mirror,
		opts.Debounce, opts.Retention, s.tbl.snapshotJSON, opts.Logger, opts.Metrics)

	_ = s.tbl.load(context.Background())
	return s
}

// Events returns the store's change notification feed
func (s *TimesheetStore) Events() *Feed[*WeekEntry] { return s.tbl.feed }

// Get returns the entry with the given id, soft-deleted or not
func (s *TimesheetStore) Get(id string) (*WeekEntry, bool) { return s.tbl.get(id) }

// GetByCombination looks up the non-deleted entry for the exact
// (week ending, project code, activity code) tuple, codes compared
// case-insensitively
func (s *TimesheetStore) GetByCombination(weekEnding, projectCode, activityCode string) (*WeekEntry, bool) {
	probe := &WeekEntry{WeekEnding: weekEnding, ProjectCode: projectCode, ActivityCode: activityCode}

	s.tbl.mu.RLock()
	defer s.tbl.mu.RUnlock()

	id, ok := s.byCombo[probe.comboKey()]
	if !ok {
		return nil, false
	}
	w, ok := s.tbl.items[id]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// Week returns the non-deleted entries for the given week ending date in
// canonical order
func (s *TimesheetStore) Week(weekEnding string) []*WeekEntry {
	s.tbl.mu.RLock()
	out := make([]*WeekEntry, 0, len(s.byWeek[weekEnding]))
	for id := range s.byWeek[weekEnding] {
		if w, ok := s.tbl.items[id]; ok && !w.Deleted {
			out = append(out, w.Clone())
		}
	}
	s.tbl.mu.RUnlock()

	sortWeekEntries(out)
	return out
}

// List returns entries matching filter in canonical order. A nil filter
// matches everything.
func (s *TimesheetStore) List(filter func(*WeekEntry) bool, includeDeleted bool) []*WeekEntry {
	return s.tbl.list(filter, includeDeleted)
}

// Count returns the number of entries in the table, including soft-deleted
func (s *TimesheetStore) Count() int { return s.tbl.count() }

// Create validates and inserts a new week entry. A second non-deleted
// entry for the same combination reports ErrDuplicateCombination.
func (s *TimesheetStore) Create(entry *WeekEntry) (*WeekEntry, error) {
	if entry == nil {
		return nil, WithContext(ErrInvalidEntity, map[string]interface{}{"reason": "nil entry"})
	}
	w := entry.Clone()
	if err := validateWeekEntry(w); err != nil {
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return nil, err
	}
	combo := w.comboKey()

	s.tbl.mu.Lock()
	if other, taken := s.byCombo[combo]; taken {
		s.tbl.mu.Unlock()
		return nil, WithContext(ErrDuplicateCombination, map[string]interface{}{
			"week_ending":   w.WeekEnding,
			"project_code":  w.ProjectCode,
			"activity_code": w.ActivityCode,
			"owner_id":      other,
		})
	}
	w.stamp(time.Now().UTC())
	s.tbl.items[w.ID] = w
	s.byCombo[combo] = w.ID
	s.bucketLocked(w.WeekEnding, w.ID)
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricCreateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*WeekEntry]{Kind: EventAdded, ID: w.ID, Entity: w.Clone()})
	return w.Clone(), nil
}

// Update replaces the entry's domain fields. A combination change is
// re-checked against non-deleted entries, ignoring the entry's own slot,
// and both indexes move atomically with the row.
func (s *TimesheetStore) Update(entry *WeekEntry) error {
	if entry == nil || entry.ID == "" {
		return WithContext(ErrNotFound, map[string]interface{}{"reason": "missing id"})
	}
	w := entry.Clone()
	if err := validateWeekEntry(w); err != nil {
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return err
	}
	combo := w.comboKey()

	s.tbl.mu.Lock()
	cur, ok := s.tbl.items[w.ID]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": w.ID})
	}
	if other, taken := s.byCombo[combo]; taken && other != w.ID {
		s.tbl.mu.Unlock()
		return WithContext(ErrDuplicateCombination, map[string]interface{}{
			"week_ending":   w.WeekEnding,
			"project_code":  w.ProjectCode,
			"activity_code": w.ActivityCode,
			"owner_id":      other,
		})
	}
	if !cur.Deleted {
		if old := cur.comboKey(); old != combo {
			if s.byCombo[old] == w.ID {
				delete(s.byCombo, old)
			}
		}
		s.byCombo[combo] = w.ID
	}
	if cur.WeekEnding != w.WeekEnding {
		s.unbucketLocked(cur.WeekEnding, w.ID)
		s.bucketLocked(w.WeekEnding, w.ID)
	}

	w.CreatedAt = cur.CreatedAt
	w.Deleted = cur.Deleted
	w.UpdatedAt = cur.UpdatedAt
	w.touch(time.Now().UTC())
	s.tbl.items[w.ID] = w
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricUpdateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*WeekEntry]{Kind: EventUpdated, ID: w.ID, Entity: w.Clone()})
	return nil
}

// SoftDelete marks the entry deleted and releases its combination for
// reuse. The row stays in its week bucket so deleted history is still
// reachable via List with includeDeleted. Deleting an already-deleted
// entry is a no-op: no event, no save.
func (s *TimesheetStore) SoftDelete(id string) error {
	s.tbl.mu.Lock()
	w, ok := s.tbl.items[id]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	if w.Deleted {
		s.tbl.mu.Unlock()
		return nil
	}
	w.Deleted = true
	w.touch(time.Now().UTC())
	if combo := w.comboKey(); s.byCombo[combo] == id {
		delete(s.byCombo, combo)
	}
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "soft")
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*WeekEntry]{Kind: EventDeleted, ID: id})
	return nil
}

// HardDelete removes the entry from the table and every index.
// Irreversible.
func (s *TimesheetStore) HardDelete(id string) error {
	s.tbl.mu.Lock()
	w, ok := s.tbl.items[id]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	if combo := w.comboKey(); s.byCombo[combo] == id {
		delete(s.byCombo, combo)
	}
	s.unbucketLocked(w.WeekEnding, id)
	delete(s.tbl.items, id)
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "hard")
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*WeekEntry]{Kind: EventDeleted, ID: id})
	return nil
}

// Reload re-reads the data file, discarding in-memory state
func (s *TimesheetStore) Reload(ctx context.Context) error { return s.tbl.load(ctx) }

// Clear truncates the table and schedules a save of the empty set
func (s *TimesheetStore) Clear() { s.tbl.clear() }

// Flush forces any pending save to disk synchronously
func (s *TimesheetStore) Flush() error { return s.tbl.pers.Flush() }

// Close flushes pending writes and stops the debounce timer
func (s *TimesheetStore) Close() error { return s.tbl.pers.Close() }

func (s *TimesheetStore) bucketLocked(weekEnding, id string) {
	set := s.byWeek[weekEnding]
	if set == nil {
		set = make(map[string]struct{})
		s.byWeek[weekEnding] = set
	}
	set[id] = struct{}{}
}

func (s *TimesheetStore) unbucketLocked(weekEnding, id string) {
	if set := s.byWeek[weekEnding]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byWeek, weekEnding)
		}
	}
}

func (s *TimesheetStore) rebuildIndexesLocked() {
	s.byCombo = make(map[string]string)
	s.byWeek = make(map[string]map[string]struct{})
	for id, w := range s.tbl.items {
		s.bucketLocked(w.WeekEnding, id)
		if !w.Deleted {
			s.byCombo[w.comboKey()] = id
		}
	}
}

func sortWeekEntries(entries []*WeekEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return weekLess(entries[i], entries[j]) })
}
