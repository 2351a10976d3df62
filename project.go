package taskvault

import (
	"context"
	"strings"
	"time"
)

// Project is a billable or trackable engagement. Nickname and ExternalCode
// are optional; when non-empty, each is unique among non-deleted projects,
// compared case-insensitively.
type Project struct {
	Meta
	Nickname     string `json:"nickname"`
	ExternalCode string `json:"external_code"`
	Description  string `json:"description,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
}

// Clone returns a copy
func (p *Project) Clone() *Project {
	c := *p
	return &c
}

func projectLess(a, b *Project) bool {
	an, bn := strings.ToLower(a.Nickname), strings.ToLower(b.Nickname)
	if an != bn {
		return an < bn
	}
	return a.ID < b.ID
}

func validateProject(p *Project) error {
	// Both keys are optional, but a non-empty key must not be all whitespace
	if p.Nickname != "" && strings.TrimSpace(p.Nickname) == "" {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "nickname",
			"reason": "nickname cannot be blank",
		})
	}
	if p.ExternalCode != "" && strings.TrimSpace(p.ExternalCode) == "" {
		return WithContext(ErrInvalidEntity, map[string]interface{}{
			"field":  "external_code",
			"reason": "external_code cannot be blank",
		})
	}
	return nil
}

// ProjectStore holds the project table and two case-insensitive unique
// indexes, nickname and external code. Only non-deleted projects with a
// non-empty key own an index slot: empty keys never occupy one, and
// soft-deleting a project releases both for reuse while the deleted row
// keeps its original casing for display.
type ProjectStore struct {
	tbl *table[*Project]

	byNickname map[string]string // lower(nickname) -> id, non-deleted only
	byCode     map[string]string // lower(external_code) -> id, non-deleted only
}

// NewProjectStore builds a project store over the given backend and loads
// the data file synchronously
func NewProjectStore(backend Backend, opts StoreOptions) *ProjectStore {
	opts = opts.withDefaults(DefaultProjectsFile)

	s := &ProjectStore{
		byNickname: make(map[string]string),
		byCode:     make(map[string]string),
	}
	s.tbl = newTable[*Project]("projects", opts.FileName, backend, opts.Logger, opts.Metrics, projectLess)
	s.tbl.rebuildLocked = s.rebuildIndexesLocked
	s.tbl.pers = newPersister("projects", opts.FileName, backend, opts.Mirror,
		opts.Debounce, opts.Retention, s.tbl.snapshotJSON, opts.Logger, opts.Metrics)

	_ = s.tbl.load(context.Background())
	return s
}

// Events returns the store's change notification feed
func (s *ProjectStore) Events() *Feed[*Project] { return s.tbl.feed }

// Get returns the project with the given id, soft-deleted or not
func (s *ProjectStore) Get(id string) (*Project, bool) { return s.tbl.get(id) }

// GetByNickname looks up a non-deleted project by nickname,
// case-insensitively
func (s *ProjectStore) GetByNickname(nickname string) (*Project, bool) {
	return s.getByIndex(s.byNickname, nickname)
}

// GetByCode looks up a non-deleted project by external code,
// case-insensitively
func (s *ProjectStore) GetByCode(code string) (*Project, bool) {
	return s.getByIndex(s.byCode, code)
}

func (s *ProjectStore) getByIndex(idx map[string]string, key string) (*Project, bool) {
	if key == "" {
		return nil, false
	}

	s.tbl.mu.RLock()
	defer s.tbl.mu.RUnlock()

	id, ok := idx[strings.ToLower(key)]
	if !ok {
		return nil, false
	}
	p, ok := s.tbl.items[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// List returns projects matching filter in nickname order. A nil filter
// matches everything.
func (s *ProjectStore) List(filter func(*Project) bool, includeDeleted bool) []*Project {
	return s.tbl.list(filter, includeDeleted)
}

// Count returns the number of projects in the table, including soft-deleted
func (s *ProjectStore) Count() int { return s.tbl.count() }

// Create validates and inserts a new project. Both unique keys are checked
// against non-deleted projects before anything is applied.
func (s *ProjectStore) Create(project *Project) (*Project, error) {
	if project == nil {
		return nil, WithContext(ErrInvalidEntity, map[string]interface{}{"reason": "nil project"})
	}
	p := project.Clone()
	if err := validateProject(p); err != nil {
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return nil, err
	}
	nick, code := strings.ToLower(p.Nickname), strings.ToLower(p.ExternalCode)

	s.tbl.mu.Lock()
	if nick != "" {
		if other, taken := s.byNickname[nick]; taken {
			s.tbl.mu.Unlock()
			return nil, WithContext(ErrDuplicateKey, map[string]interface{}{
				"field":    "nickname",
				"value":    p.Nickname,
				"owner_id": other,
			})
		}
	}
	if code != "" {
		if other, taken := s.byCode[code]; taken {
			s.tbl.mu.Unlock()
			return nil, WithContext(ErrDuplicateKey, map[string]interface{}{
				"field":    "external_code",
				"value":    p.ExternalCode,
				"owner_id": other,
			})
		}
	}
	p.stamp(time.Now().UTC())
	s.tbl.items[p.ID] = p
	if nick != "" {
		s.byNickname[nick] = p.ID
	}
	if code != "" {
		s.byCode[code] = p.ID
	}
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricCreateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Project]{Kind: EventAdded, ID: p.ID, Entity: p.Clone()})
	return p.Clone(), nil
}

// Update replaces the project's domain fields. Uniqueness is re-checked
// for any key that changed, ignoring the project's own entry, and both
// index slots move atomically with the row.
func (s *ProjectStore) Update(project *Project) error {
	if project == nil || project.ID == "" {
		return WithContext(ErrNotFound, map[string]interface{}{"reason": "missing id"})
	}
	p := project.Clone()
	if err := validateProject(p); err != nil {
		s.tbl.metrics.Increment(MetricValidationFail, "store", s.tbl.name)
		return err
	}
	nick, code := strings.ToLower(p.Nickname), strings.ToLower(p.ExternalCode)

	s.tbl.mu.Lock()
	cur, ok := s.tbl.items[p.ID]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": p.ID})
	}
	if nick != "" {
		if other, taken := s.byNickname[nick]; taken && other != p.ID {
			s.tbl.mu.Unlock()
			return WithContext(ErrDuplicateKey, map[string]interface{}{
				"field":    "nickname",
				"value":    p.Nickname,
				"owner_id": other,
			})
		}
	}
	if code != "" {
		if other, taken := s.byCode[code]; taken && other != p.ID {
			s.tbl.mu.Unlock()
			return WithContext(ErrDuplicateKey, map[string]interface{}{
				"field":    "external_code",
				"value":    p.ExternalCode,
				"owner_id": other,
			})
		}
	}
	if !cur.Deleted {
		s.releaseKeysLocked(cur)
		if nick != "" {
			s.byNickname[nick] = p.ID
		}
		if code != "" {
			s.byCode[code] = p.ID
		}
	}

	p.CreatedAt = cur.CreatedAt
	p.Deleted = cur.Deleted
	p.UpdatedAt = cur.UpdatedAt
	p.touch(time.Now().UTC())
	s.tbl.items[p.ID] = p
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricUpdateTotal, "store", s.tbl.name)
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Project]{Kind: EventUpdated, ID: p.ID, Entity: p.Clone()})
	return nil
}

// SoftDelete marks the project deleted and releases its nickname and
// external code for reuse by a new project. Deleting an already-deleted
// project is a no-op: no event, no save.
func (s *ProjectStore) SoftDelete(id string) error {
	s.tbl.mu.Lock()
	p, ok := s.tbl.items[id]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	if p.Deleted {
		s.tbl.mu.Unlock()
		return nil
	}
	p.Deleted = true
	p.touch(time.Now().UTC())
	s.releaseKeysLocked(p)
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "soft")
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Project]{Kind: EventDeleted, ID: id})
	return nil
}

// HardDelete removes the project from the table and both indexes.
// Irreversible.
func (s *ProjectStore) HardDelete(id string) error {
	s.tbl.mu.Lock()
	p, ok := s.tbl.items[id]
	if !ok {
		s.tbl.mu.Unlock()
		return WithContext(ErrNotFound, map[string]interface{}{"id": id})
	}
	if !p.Deleted {
		s.releaseKeysLocked(p)
	}
	delete(s.tbl.items, id)
	size := len(s.tbl.items)
	s.tbl.mu.Unlock()

	s.tbl.metrics.Increment(MetricDeleteTotal, "store", s.tbl.name, "mode", "hard")
	s.tbl.committed(size)
	s.tbl.feed.publish(Event[*Project]{Kind: EventDeleted, ID: id})
	return nil
}

// Reload re-reads the data file, discarding in-memory state
func (s *ProjectStore) Reload(ctx context.Context) error { return s.tbl.load(ctx) }

// Clear truncates the table and schedules a save of the empty set
func (s *ProjectStore) Clear() { s.tbl.clear() }

// Flush forces any pending save to disk synchronously
func (s *ProjectStore) Flush() error { return s.tbl.pers.Flush() }

// Close flushes pending writes and stops the debounce timer
func (s *ProjectStore) Close() error { return s.tbl.pers.Close() }

// releaseKeysLocked drops the project's index entries if it still owns
// them. A stale row whose key was reused after soft delete must not evict
// the new owner.
func (s *ProjectStore) releaseKeysLocked(p *Project) {
	if nick := strings.ToLower(p.Nickname); nick != "" && s.byNickname[nick] == p.ID {
		delete(s.byNickname, nick)
	}
	if code := strings.ToLower(p.ExternalCode); code != "" && s.byCode[code] == p.ID {
		delete(s.byCode, code)
	}
}

func (s *ProjectStore) rebuildIndexesLocked() {
	s.byNickname = make(map[string]string)
	s.byCode = make(map[string]string)
	for id, p := range s.tbl.items {
		if p.Deleted {
			continue
		}
		if nick := strings.ToLower(p.Nickname); nick != "" {
			s.byNickname[nick] = id
		}
		if code := strings.ToLower(p.ExternalCode); code != "" {
			s.byCode[code] = id
		}
	}
}
