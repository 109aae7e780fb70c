package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"cvforge/internal/cv"
)

type saveRecorder struct {
	mu       sync.Mutex
	payloads []SavePayload
	err      error
}

func (r *saveRecorder) save(_ context.Context, payload SavePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *saveRecorder) last() SavePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[len(r.payloads)-1]
}

func newLoadedStore(save SaveFunc, debounce time.Duration) *Store {
	s := NewStore(save, debounce)
	s.Load(1, "My CV", "CLASSIC", cv.DefaultTheme(), cv.EmptyData("Alice", "alice@example.com"))
	return s
}

func TestDebounceCoalescesBurstsIntoOneSave(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, 30*time.Millisecond)

	for i := 0; i < 5; i++ {
		s.UpdateData(func(d *cv.Data) {
			d.Header.Title = "Engineer"
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	s.Wait()

	if got := rec.count(); got != 1 {
		t.Fatalf("expected one coalesced save, got %d", got)
	}
	if rec.last().Data.Header.Title != "Engineer" {
		t.Errorf("payload missing latest edit")
	}
}

func TestAutosaveSendsFullPayload(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, 10*time.Millisecond)

	s.SetTemplate("MODERN")

	time.Sleep(60 * time.Millisecond)
	s.Wait()

	if rec.count() == 0 {
		t.Fatal("expected autosave to fire")
	}
	payload := rec.last()
	if payload.CVID != 1 || payload.Title != "My CV" || payload.Template != "MODERN" {
		t.Errorf("payload incomplete: %+v", payload)
	}
	if payload.Data.Header.FullName != "Alice" {
		t.Errorf("payload must carry the whole document, got header %+v", payload.Data.Header)
	}
	if payload.Theme.FontFamily == "" {
		t.Error("payload must carry the theme")
	}
}

func TestWaitCoversScheduledSave(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, 20*time.Millisecond)

	s.SetTitle("Renamed")

	// 不等待去抖到期，Wait 必须把尚未触发的保存也等完
	s.Wait()

	if got := rec.count(); got != 1 {
		t.Fatalf("expected the scheduled save to complete before Wait returns, got %d saves", got)
	}
	if rec.last().Title != "Renamed" {
		t.Errorf("payload missing the edit: %+v", rec.last())
	}
}

func TestLoadCancelsPendingAutosave(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, time.Hour)

	s.SetTitle("Dirty")
	s.Load(2, "Fresh", "CLASSIC", cv.DefaultTheme(), cv.EmptyData("", ""))

	// 被 Load 取消的保存不能让 Wait 悬挂
	s.Wait()

	if got := rec.count(); got != 0 {
		t.Fatalf("cancelled autosave must not fire, got %d saves", got)
	}
}

func TestLoadDoesNotTriggerSave(t *testing.T) {
	rec := &saveRecorder{}
	s := NewStore(rec.save, 10*time.Millisecond)

	s.Load(7, "Loaded", "COMPACT", cv.DefaultTheme(), cv.EmptyData("", ""))

	time.Sleep(50 * time.Millisecond)
	s.Wait()

	if got := rec.count(); got != 0 {
		t.Fatalf("load must not autosave, got %d saves", got)
	}
	if s.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", s.Status())
	}
}

func TestToggleSectionRoundTripsThroughTheme(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, time.Hour)

	s.ToggleSection("projects")
	if !s.SectionHidden("projects") {
		t.Fatal("projects should be hidden")
	}
	payload := s.Snapshot()
	found := false
	for _, key := range payload.Theme.HiddenSections {
		if key == "projects" {
			found = true
		}
	}
	if !found {
		t.Error("hidden section must be reflected in theme")
	}

	s.ToggleSection("projects")
	if s.SectionHidden("projects") {
		t.Error("second toggle should unhide")
	}
}

func TestReorderSections(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, time.Hour)

	order := []string{"header", "skills", "experience", "education", "summary",
		"projects", "certifications", "languages", "interests", "customSections"}
	s.ReorderSections(order)

	got := s.SectionOrder()
	if len(got) != len(order) || got[1] != "skills" {
		t.Errorf("order = %v", got)
	}
	if s.Snapshot().Theme.SectionOrder[1] != "skills" {
		t.Error("order must be written back to theme")
	}
}

func TestFlushReportsStatus(t *testing.T) {
	rec := &saveRecorder{}
	s := newLoadedStore(rec.save, time.Hour)

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Status() != StatusSaved {
		t.Errorf("status = %q, want saved", s.Status())
	}

	rec.err = context.DeadlineExceeded
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if s.Status() != StatusError {
		t.Errorf("status = %q, want error", s.Status())
	}
}
