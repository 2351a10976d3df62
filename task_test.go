package taskvault

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTaskStore_CreateAndGet(t *testing.T) {
	s, _ := newTestTaskStore(t)

	created := mustCreateTask(t, s, &Task{Title: "write report", Tags: []string{"work"}})

	if created.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if created.Status != StatusPending {
		t.Errorf("expected default status pending, got %q", created.Status)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, ok := s.Get(created.ID)
	if !ok {
		t.Fatal("Get failed after Create")
	}
	if got.Title != "write report" {
		t.Errorf("Title mismatch: got %q", got.Title)
	}

	t.Run("returned values are isolated copies", func(t *testing.T) {
		got.Title = "mutated"
		got.Tags[0] = "mutated"

		again, _ := s.Get(created.ID)
		if again.Title != "write report" || again.Tags[0] != "work" {
			t.Errorf("store state leaked through returned pointer: %+v", again)
		}
	})
}

func TestTaskStore_Validation(t *testing.T) {
	s, _ := newTestTaskStore(t)

	done := time.Now()
	cases := []struct {
		name string
		task *Task
	}{
		{"empty title", &Task{}},
		{"bad status", &Task{Title: "x", Status: "paused"}},
		{"completed_at without done", &Task{Title: "x", Status: StatusPending, CompletedAt: &done}},
		{"tag with space", &Task{Title: "x", Tags: []string{"has space"}}},
		{"empty tag", &Task{Title: "x", Tags: []string{""}}},
		{"tag too long", &Task{Title: "x", Tags: []string{strings.Repeat("a", MaxTagLength+1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Create(tc.task); !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	t.Run("too many tags", func(t *testing.T) {
		tags := make([]string, MaxTags+1)
		for i := range tags {
			tags[i] = "t"
		}
		if _, err := s.Create(&Task{Title: "x", Tags: tags}); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unknown parent", func(t *testing.T) {
		if _, err := s.Create(&Task{Title: "x", ParentID: "missing"}); !IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("nothing applied on failure", func(t *testing.T) {
		if s.Count() != 0 {
			t.Errorf("failed creates left %d rows behind", s.Count())
		}
	})
}

func TestTaskStore_Update(t *testing.T) {
	s, _ := newTestTaskStore(t)

	task := mustCreateTask(t, s, &Task{Title: "original"})

	t.Run("changes fields and bumps UpdatedAt", func(t *testing.T) {
		mod := task.Clone()
		mod.Title = "renamed"
		mod.Status = StatusInProgress
		if err := s.Update(mod); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		got, _ := s.Get(task.ID)
		if got.Title != "renamed" || got.Status != StatusInProgress {
			t.Errorf("update not applied: %+v", got)
		}
		if got.UpdatedAt.Before(task.UpdatedAt) {
			t.Error("UpdatedAt went backwards")
		}
		if !got.CreatedAt.Equal(task.CreatedAt) {
			t.Error("CreatedAt must not change on update")
		}
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		ghost := task.Clone()
		ghost.ID = NewID()
		if err := s.Update(ghost); !IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestTaskStore_Reparent(t *testing.T) {
	s, _ := newTestTaskStore(t)

	a := mustCreateTask(t, s, &Task{Title: "a"})
	b := mustCreateTask(t, s, &Task{Title: "b", ParentID: a.ID})
	c := mustCreateTask(t, s, &Task{Title: "c"})

	t.Run("move updates adjacency", func(t *testing.T) {
		mod := b.Clone()
		mod.ParentID = c.ID
		if err := s.Update(mod); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if got := s.Children(a.ID); len(got) != 0 {
			t.Errorf("old parent still has %d children", len(got))
		}
		got := s.Children(c.ID)
		if len(got) != 1 || got[0].ID != b.ID {
			t.Errorf("new parent children wrong: %+v", got)
		}
	})

	t.Run("cycle refused", func(t *testing.T) {
		// b now sits under c; putting c under b would close a loop
		mod := c.Clone()
		mod.ParentID = b.ID
		if err := s.Update(mod); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}

		got, _ := s.Get(c.ID)
		if got.ParentID != "" {
			t.Errorf("refused move still applied: parent %q", got.ParentID)
		}
	})

	t.Run("self parent refused", func(t *testing.T) {
		mod := a.Clone()
		mod.ParentID = a.ID
		if err := s.Update(mod); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestTaskStore_SoftDeleteCascade(t *testing.T) {
	cb := newCountingBackend(NewFilesystemBackend(t.TempDir()))
	s := NewTaskStore(cb, StoreOptions{Debounce: time.Hour})
	t.Cleanup(func() { s.Close() })

	root := mustCreateTask(t, s, &Task{Title: "root"})
	child := mustCreateTask(t, s, &Task{Title: "child", ParentID: root.ID})
	grandchild := mustCreateTask(t, s, &Task{Title: "grandchild", ParentID: child.ID})
	bystander := mustCreateTask(t, s, &Task{Title: "bystander"})

	var deleted []string
	cancel := s.Events().Subscribe(func(e Event[*Task]) {
		if e.Kind == EventDeleted {
			deleted = append(deleted, e.ID)
		}
	})
	defer cancel()

	// Drain the creates' pending save so the counter only sees the cascade
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	before := cb.putCount(DefaultTasksFile)

	if err := s.SoftDelete(root.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		got, ok := s.Get(id)
		if !ok || !got.Deleted {
			t.Errorf("task %s not soft-deleted", id)
		}
	}
	if got, _ := s.Get(bystander.ID); got.Deleted {
		t.Error("unrelated task was deleted")
	}

	if len(deleted) != 3 {
		t.Errorf("expected 3 deleted events, got %d (%v)", len(deleted), deleted)
	}

	if got := s.Children(root.ID); len(got) != 0 {
		t.Errorf("Children should exclude deleted rows, got %d", len(got))
	}
	if got := s.List(nil, false); len(got) != 1 {
		t.Errorf("expected 1 live task, got %d", len(got))
	}
	if got := s.List(nil, true); len(got) != 4 {
		t.Errorf("expected 4 total tasks, got %d", len(got))
	}

	t.Run("cascade persists once", func(t *testing.T) {
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if n := cb.putCount(DefaultTasksFile) - before; n != 1 {
			t.Errorf("cascade produced %d writes, want 1", n)
		}
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		if err := s.SoftDelete("missing"); !IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestTaskStore_DeletedParentRefused(t *testing.T) {
	s, _ := newTestTaskStore(t)

	parent := mustCreateTask(t, s, &Task{Title: "doomed parent"})
	loose := mustCreateTask(t, s, &Task{Title: "loose"})
	if err := s.SoftDelete(parent.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	t.Run("create under deleted parent", func(t *testing.T) {
		if _, err := s.Create(&Task{Title: "orphan", ParentID: parent.ID}); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("reparent onto deleted parent", func(t *testing.T) {
		mod := loose.Clone()
		mod.ParentID = parent.ID
		if err := s.Update(mod); !IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
		got, _ := s.Get(loose.ID)
		if got.ParentID != "" {
			t.Errorf("refused move still applied: parent %q", got.ParentID)
		}
	})
}

func TestTaskStore_SoftDeleteAlreadyDeletedIsNoOp(t *testing.T) {
	s, _ := newTestTaskStore(t)

	task := mustCreateTask(t, s, &Task{Title: "once"})
	if err := s.SoftDelete(task.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	deletedEvents := 0
	cancel := s.Events().Subscribe(func(e Event[*Task]) {
		if e.Kind == EventDeleted {
			deletedEvents++
		}
	})
	defer cancel()

	if err := s.SoftDelete(task.ID); err != nil {
		t.Fatalf("repeat SoftDelete failed: %v", err)
	}
	if deletedEvents != 0 {
		t.Errorf("no-op cascade emitted %d events", deletedEvents)
	}
}

func TestTaskStore_HardDeleteCascade(t *testing.T) {
	s, _ := newTestTaskStore(t)

	root := mustCreateTask(t, s, &Task{Title: "root"})
	child := mustCreateTask(t, s, &Task{Title: "child", ParentID: root.ID})
	bystander := mustCreateTask(t, s, &Task{Title: "bystander"})

	if err := s.HardDelete(root.ID); err != nil {
		t.Fatalf("HardDelete failed: %v", err)
	}

	for _, id := range []string{root.ID, child.ID} {
		if _, ok := s.Get(id); ok {
			t.Errorf("task %s survived hard delete", id)
		}
	}
	if _, ok := s.Get(bystander.ID); !ok {
		t.Error("unrelated task was removed")
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 remaining task, got %d", s.Count())
	}
}

func TestTaskStore_ChildrenOrdering(t *testing.T) {
	s, _ := newTestTaskStore(t)

	parent := mustCreateTask(t, s, &Task{Title: "parent"})
	mustCreateTask(t, s, &Task{Title: "third", ParentID: parent.ID, SortOrder: 3})
	mustCreateTask(t, s, &Task{Title: "first", ParentID: parent.ID, SortOrder: 1})
	mustCreateTask(t, s, &Task{Title: "second", ParentID: parent.ID, SortOrder: 2})

	got := s.Children(parent.ID)
	if len(got) != 3 {
		t.Fatalf("expected 3 children, got %d", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Title != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].Title, want)
		}
	}
}

func TestTaskStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend := NewFilesystemBackend(dir)

	s1 := NewTaskStore(backend, testOpts())
	root := mustCreateTask(t, s1, &Task{Title: "root", Tags: []string{"keep"}})
	child := mustCreateTask(t, s1, &Task{Title: "child", ParentID: root.ID})
	if err := s1.SoftDelete(child.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2 := NewTaskStore(backend, testOpts())
	defer s2.Close()

	if s2.Count() != 2 {
		t.Fatalf("expected 2 tasks after reload, got %d", s2.Count())
	}
	got, ok := s2.Get(root.ID)
	if !ok || got.Title != "root" || len(got.Tags) != 1 {
		t.Errorf("root task not faithfully restored: %+v", got)
	}
	gotChild, ok := s2.Get(child.ID)
	if !ok || !gotChild.Deleted {
		t.Error("soft-deleted flag not restored")
	}
	if kids := s2.Children(root.ID); len(kids) != 0 {
		t.Errorf("adjacency not rebuilt: %d live children", len(kids))
	}
}

func TestTaskStore_CorruptFileQuarantined(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())

	if err := backend.Put(ctx, DefaultTasksFile, []byte("{not json")); err != nil {
		t.Fatalf("seeding corrupt file failed: %v", err)
	}

	s := NewTaskStore(backend, testOpts())
	defer s.Close()

	if s.Count() != 0 {
		t.Errorf("store should start empty on corrupt file, got %d rows", s.Count())
	}

	keys, err := backend.List(ctx, DefaultTasksFile+".corrupt.")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 quarantined copy, got %v", keys)
	}
	data, err := backend.Get(ctx, keys[0])
	if err != nil || string(data) != "{not json" {
		t.Errorf("quarantined copy corrupted: %q, %v", data, err)
	}
}

func TestTaskStore_MissingFileStartsEmpty(t *testing.T) {
	s, _ := newTestTaskStore(t)
	if s.Count() != 0 {
		t.Errorf("expected empty store, got %d rows", s.Count())
	}
}

func TestTaskStore_Clear(t *testing.T) {
	s, _ := newTestTaskStore(t)

	mustCreateTask(t, s, &Task{Title: "a"})
	mustCreateTask(t, s, &Task{Title: "b"})

	s.Clear()
	if s.Count() != 0 {
		t.Errorf("expected empty store after Clear, got %d", s.Count())
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	data, err := s.tbl.backend.Get(context.Background(), DefaultTasksFile)
	if err != nil {
		t.Fatalf("data file missing after Clear+Flush: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty array on disk, got %q", data)
	}
}
