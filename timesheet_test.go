package taskvault

import (
	"errors"
	"testing"
)

func mustCreateEntry(t *testing.T, s *TimesheetStore, w *WeekEntry) *WeekEntry {
	t.Helper()
	created, err := s.Create(w)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return created
}

func TestTimesheetStore_DuplicateCombination(t *testing.T) {
	s, _ := newTestTimesheetStore(t)

	mustCreateEntry(t, s, &WeekEntry{
		WeekEnding:   "2026-08-30",
		ProjectCode:  "acme",
		ActivityCode: "dev",
		Days:         [7]float64{8, 8, 8, 8, 8, 0, 0},
	})

	t.Run("same combination clashes, codes case-insensitive", func(t *testing.T) {
		_, err := s.Create(&WeekEntry{
			WeekEnding:   "2026-08-30",
			ProjectCode:  "ACME",
			ActivityCode: "DEV",
		})
		if !errors.Is(err, ErrDuplicateCombination) {
			t.Errorf("expected ErrDuplicateCombination, got %v", err)
		}
	})

	t.Run("different activity is a different combination", func(t *testing.T) {
		mustCreateEntry(t, s, &WeekEntry{
			WeekEnding:   "2026-08-30",
			ProjectCode:  "acme",
			ActivityCode: "review",
		})
	})

	t.Run("different week is a different combination", func(t *testing.T) {
		mustCreateEntry(t, s, &WeekEntry{
			WeekEnding:   "2026-09-06",
			ProjectCode:  "acme",
			ActivityCode: "dev",
		})
	})
}

func TestTimesheetStore_Validation(t *testing.T) {
	s, _ := newTestTimesheetStore(t)

	cases := []struct {
		name  string
		entry *WeekEntry
	}{
		{"bad date", &WeekEntry{WeekEnding: "30/08/2026", ProjectCode: "p", ActivityCode: "a"}},
		{"missing project code", &WeekEntry{WeekEnding: "2026-08-30", ActivityCode: "a"}},
		{"missing activity code", &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "p"}},
		{"negative hours", &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "p", ActivityCode: "a", Days: [7]float64{-1}}},
		{"over 24 hours", &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "p", ActivityCode: "a", Days: [7]float64{0, 25}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Create(tc.entry); !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestTimesheetStore_Week(t *testing.T) {
	s, _ := newTestTimesheetStore(t)

	mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "zeta", ActivityCode: "dev"})
	mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "dev"})
	other := mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-09-06", ProjectCode: "acme", ActivityCode: "dev"})
	gone := mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "review"})
	if err := s.SoftDelete(gone.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	got := s.Week("2026-08-30")
	if len(got) != 2 {
		t.Fatalf("expected 2 live entries for the week, got %d", len(got))
	}
	if got[0].ProjectCode != "acme" || got[1].ProjectCode != "zeta" {
		t.Errorf("week entries out of order: %s, %s", got[0].ProjectCode, got[1].ProjectCode)
	}
	for _, w := range got {
		if w.ID == other.ID {
			t.Error("entry from another week leaked into the bucket")
		}
	}

	if got := s.Week("2030-01-06"); len(got) != 0 {
		t.Errorf("expected empty week, got %d entries", len(got))
	}
}

func TestTimesheetStore_SoftDeleteReleasesCombination(t *testing.T) {
	s, _ := newTestTimesheetStore(t)

	old := mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "dev"})
	if err := s.SoftDelete(old.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	fresh := mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "dev"})

	got, ok := s.GetByCombination("2026-08-30", "ACME", "dev")
	if !ok || got.ID != fresh.ID {
		t.Errorf("combination should resolve to the new entry")
	}
	if gotOld, ok := s.Get(old.ID); !ok || !gotOld.Deleted {
		t.Error("old entry should remain as a deleted row")
	}
}

func TestTimesheetStore_Update(t *testing.T) {
	s, _ := newTestTimesheetStore(t)

	e1 := mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "dev"})
	mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "review"})

	t.Run("hours update in place", func(t *testing.T) {
		mod := e1.Clone()
		mod.Days = [7]float64{8, 8, 4, 0, 0, 0, 0}
		if err := s.Update(mod); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, _ := s.Get(e1.ID)
		if got.Total() != 20 {
			t.Errorf("expected 20 hours, got %v", got.Total())
		}
	})

	t.Run("cannot move onto an existing combination", func(t *testing.T) {
		mod := e1.Clone()
		mod.ActivityCode = "REVIEW"
		if err := s.Update(mod); !errors.Is(err, ErrDuplicateCombination) {
			t.Errorf("expected ErrDuplicateCombination, got %v", err)
		}
	})

	t.Run("week change moves buckets", func(t *testing.T) {
		mod := e1.Clone()
		mod.WeekEnding = "2026-09-06"
		if err := s.Update(mod); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if got := s.Week("2026-09-06"); len(got) != 1 || got[0].ID != e1.ID {
			t.Errorf("entry missing from new week bucket: %+v", got)
		}
		for _, w := range s.Week("2026-08-30") {
			if w.ID == e1.ID {
				t.Error("entry still in old week bucket")
			}
		}

		// Old combination is free now
		mustCreateEntry(t, s, &WeekEntry{WeekEnding: "2026-08-30", ProjectCode: "acme", ActivityCode: "dev"})
	})
}

func TestTimesheetStore_RoundTrip(t *testing.T) {
	backend := NewFilesystemBackend(t.TempDir())

	s1 := NewTimesheetStore(backend, testOpts())
	e := mustCreateEntry(t, s1, &WeekEntry{
		WeekEnding:   "2026-08-30",
		ProjectCode:  "acme",
		ActivityCode: "dev",
		Days:         [7]float64{8, 8, 8, 8, 8, 0, 0},
	})
	if err := s1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2 := NewTimesheetStore(backend, testOpts())
	defer s2.Close()

	got, ok := s2.GetByCombination("2026-08-30", "acme", "dev")
	if !ok || got.ID != e.ID {
		t.Fatal("combination index not rebuilt on reload")
	}
	if got.Total() != 40 {
		t.Errorf("hours not restored: %v", got.Total())
	}
	if week := s2.Week("2026-08-30"); len(week) != 1 {
		t.Errorf("week bucket not rebuilt: %d entries", len(week))
	}
}
