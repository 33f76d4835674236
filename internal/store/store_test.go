package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// helper to open a migrated store in a fresh temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// helper to insert a pending code diff task.
func addCodeDiff(t *testing.T, s *Store, name string) *task.CodeDiffTask {
	t.Helper()
	cd := &task.CodeDiffTask{
		Header:  task.Header{Name: name},
		RepoURL: "https://example.com/repo.git",
		BaseRef: "main",
		HeadRef: "feature",
	}
	if err := s.Create(context.Background(), cd); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return cd
}

// helper to drive a task through dispatch and start, returning the dispatch id.
func startTask(t *testing.T, s *Store, kind task.Kind, id string) string {
	t.Helper()
	ctx := context.Background()
	d, err := s.Dispatch(ctx, kind, id)
	if err != nil {
		t.Fatalf("dispatch %s: %v", id, err)
	}
	if err := s.Start(ctx, kind, id, d, false); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	return d
}

func completeCodeDiff(t *testing.T, s *Store, id string) {
	t.Helper()
	d := startTask(t, s, task.KindCodeDiff, id)
	res := task.CodeDiffResult{DiffText: "+a\n-b\n", DiffSummary: "1 files changed, +1/-1 lines", FilesChanged: 1, LinesAdded: 1, LinesDeleted: 1}
	if err := s.Complete(context.Background(), task.KindCodeDiff, id, d, res); err != nil {
		t.Fatalf("complete %s: %v", id, err)
	}
}

func mustStatus(t *testing.T, s *Store, kind task.Kind, id string, want task.Status) {
	t.Helper()
	got, err := s.Status(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("status %s: %v", id, err)
	}
	if got != want {
		t.Fatalf("expected status %s, got %s", want, got)
	}
}

// ---------------------------------------------------------------------------
// Create / Get basics
// ---------------------------------------------------------------------------

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "diff one")

	if cd.ID == "" {
		t.Fatal("expected an id to be assigned")
	}
	got, err := s.GetCodeDiff(context.Background(), cd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "diff one" || got.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", got.Header)
	}
	if got.HeadRef != "feature" {
		t.Fatalf("expected head_ref feature, got %s", got.HeadRef)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPipeline(context.Background(), "nope")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDiscardsCallerLifecycleFields(t *testing.T) {
	s := newTestStore(t)
	cd := &task.CodeDiffTask{
		Header:   task.Header{Name: "x", Status: task.StatusCompleted, ErrorMessage: "old"},
		RepoURL:  "r",
		BaseRef:  "a",
		HeadRef:  "b",
		DiffText: "smuggled",
	}
	if err := s.Create(context.Background(), cd); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.GetCodeDiff(context.Background(), cd.ID)
	if got.Status != task.StatusPending || got.ErrorMessage != "" || got.DiffText != "" {
		t.Fatalf("lifecycle fields should be reset: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []task.Record{
		&task.CodeDiffTask{Header: task.Header{Name: "  "}, RepoURL: "r", BaseRef: "a", HeadRef: "b"},
		&task.CodeDiffTask{Header: task.Header{Name: "n"}, RepoURL: "r", BaseRef: "a"},
		&task.RequirementTask{Header: task.Header{Name: "n"}, InputType: task.InputText},
		&task.RequirementTask{Header: task.Header{Name: "n"}, InputType: task.InputFile},
		&task.RequirementTask{Header: task.Header{Name: "n"}, InputType: "pdf", OriginalContent: "x"},
		&task.RequirementTask{Header: task.Header{Name: "n"}, InputType: task.InputText, OriginalContent: "x", Priority: "whenever"},
		&task.PipelineTask{Header: task.Header{Name: "n"}, PipelineType: "poetry"},
	}
	for i, rec := range cases {
		if err := s.Create(ctx, rec); !errors.Is(err, task.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestCreateRequirementDefaults(t *testing.T) {
	s := newTestStore(t)
	req := &task.RequirementTask{
		Header:    task.Header{Name: "brief"},
		InputType: task.InputFile,
		FilePath:  "/tmp/reqs/login.md",
	}
	if err := s.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.FileName != "login.md" {
		t.Fatalf("expected file name login.md, got %s", req.FileName)
	}
	if req.Priority != "medium" {
		t.Fatalf("expected default priority medium, got %s", req.Priority)
	}
}

// ---------------------------------------------------------------------------
// Dispatch / Start guards
// ---------------------------------------------------------------------------

func TestDispatchSetsKindSpecificStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	p := &task.PipelineTask{Header: task.Header{Name: "p"}, PipelineType: task.PipelineOther}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	if _, err := s.Dispatch(ctx, task.KindCodeDiff, cd.ID); err != nil {
		t.Fatalf("dispatch code diff: %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusProcessing)

	d, err := s.Dispatch(ctx, task.KindPipeline, p.ID)
	if err != nil {
		t.Fatalf("dispatch pipeline: %v", err)
	}
	if d == "" {
		t.Fatal("expected a dispatch id")
	}
	mustStatus(t, s, task.KindPipeline, p.ID, task.StatusQueued)
}

func TestDispatchTwiceIsAlreadyInFlight(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	if _, err := s.Dispatch(context.Background(), task.KindCodeDiff, cd.ID); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	_, err := s.Dispatch(context.Background(), task.KindCodeDiff, cd.ID)
	if !errors.Is(err, task.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
}

func TestDispatchMissingTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Dispatch(context.Background(), task.KindCodeDiff, "missing")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartOnlyFromDispatchStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d := startTask(t, s, task.KindCodeDiff, cd.ID)
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusRunning)

	// a duplicate first delivery finds the task running
	err := s.Start(ctx, task.KindCodeDiff, cd.ID, d, false)
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStartWithWrongDispatchIsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	if _, err := s.Dispatch(ctx, task.KindCodeDiff, cd.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	err := s.Start(ctx, task.KindCodeDiff, cd.ID, "someone-else", false)
	if !errors.Is(err, task.ErrStaleDispatch) {
		t.Fatalf("expected ErrStaleDispatch, got %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusProcessing)
}

func TestRedeliveryStartsFromFailedOrRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d := startTask(t, s, task.KindCodeDiff, cd.ID)

	// worker died while running: the retry may pick the task up as is
	if err := s.Start(ctx, task.KindCodeDiff, cd.ID, d, true); err != nil {
		t.Fatalf("redelivery from running: %v", err)
	}
	if err := s.Fail(ctx, task.KindCodeDiff, cd.ID, d, "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.Start(ctx, task.KindCodeDiff, cd.ID, d, true); err != nil {
		t.Fatalf("redelivery from failed: %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusRunning)
}

func TestRedispatchMakesOldJobStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d1 := startTask(t, s, task.KindCodeDiff, cd.ID)
	if err := s.Fail(ctx, task.KindCodeDiff, cd.ID, d1, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	d2, err := s.Dispatch(ctx, task.KindCodeDiff, cd.ID)
	if err != nil {
		t.Fatalf("re-dispatch from failed: %v", err)
	}
	if d2 == d1 {
		t.Fatal("re-dispatch should mint a new dispatch id")
	}
	err = s.Start(ctx, task.KindCodeDiff, cd.ID, d1, true)
	if !errors.Is(err, task.ErrStaleDispatch) {
		t.Fatalf("expected ErrStaleDispatch for the old job, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Complete / Fail
// ---------------------------------------------------------------------------

func TestCompleteWritesResultAndStatus(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	completeCodeDiff(t, s, cd.ID)

	got, err := s.GetCodeDiff(context.Background(), cd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.DiffText == "" || got.FilesChanged != 1 {
		t.Fatalf("result not stored: %+v", got)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("completed task should have no error, got %q", got.ErrorMessage)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected start and completion timestamps")
	}
}

func TestCompleteOnlyFromRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d, _ := s.Dispatch(ctx, task.KindCodeDiff, cd.ID)

	err := s.Complete(ctx, task.KindCodeDiff, cd.ID, d, task.CodeDiffResult{DiffText: "x"})
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusProcessing)
}

func TestCompleteRejectsMismatchedResult(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	d := startTask(t, s, task.KindCodeDiff, cd.ID)
	err := s.Complete(context.Background(), task.KindCodeDiff, cd.ID, d, task.PipelineResult{Result: "x"})
	if !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCompleteAfterCancelIsDiscarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d := startTask(t, s, task.KindCodeDiff, cd.ID)

	if ok, err := s.Cancel(ctx, task.KindCodeDiff, cd.ID); err != nil || !ok {
		t.Fatalf("cancel running: ok=%v err=%v", ok, err)
	}
	err := s.Complete(ctx, task.KindCodeDiff, cd.ID, d, task.CodeDiffResult{DiffText: "late"})
	if !errors.Is(err, task.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	got, _ := s.GetCodeDiff(ctx, cd.ID)
	if got.Status != task.StatusCancelled || got.DiffText != "" {
		t.Fatalf("cancelled task should keep no result: %+v", got)
	}
}

func TestFailRequiresMessage(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	d := startTask(t, s, task.KindCodeDiff, cd.ID)
	err := s.Fail(context.Background(), task.KindCodeDiff, cd.ID, d, "   ")
	if !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusRunning)
}

func TestFailClearsEarlierResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	completeCodeDiff(t, s, cd.ID)

	// a re-run from completed that fails must not leave the old diff behind
	d := startTask(t, s, task.KindCodeDiff, cd.ID)
	if err := s.Fail(ctx, task.KindCodeDiff, cd.ID, d, "clone failed"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := s.GetCodeDiff(ctx, cd.ID)
	if got.Status != task.StatusFailed || got.ErrorMessage != "clone failed" {
		t.Fatalf("unexpected failed task: %+v", got.Header)
	}
	if got.DiffText != "" || got.FilesChanged != 0 {
		t.Fatalf("result should be cleared on failure: %+v", got)
	}
}

func TestFailFromDispatchStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	d, _ := s.Dispatch(ctx, task.KindCodeDiff, cd.ID)

	if err := s.Fail(ctx, task.KindCodeDiff, cd.ID, d, "enqueue: redis down"); err != nil {
		t.Fatalf("fail from processing: %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusFailed)
}

func TestRequirementResultColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	req := &task.RequirementTask{Header: task.Header{Name: "r"}, InputType: task.InputText, OriginalContent: "Users log in.", Category: "auth"}
	if err := s.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	d := startTask(t, s, task.KindRequirement, req.ID)
	res := task.RequirementResult{
		ParsedContent:  "Login",
		Structured:     map[string]any{"summary": "Login", "estimated_hours": 8.0},
		Complexity:     "medium",
		EstimatedHours: 8,
		Model:          "llama3",
		TokensUsed:     42,
	}
	if err := s.Complete(ctx, task.KindRequirement, req.ID, d, res); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := s.GetRequirement(ctx, req.ID)
	if got.Category != "auth" {
		t.Fatalf("empty result category should keep the input category, got %q", got.Category)
	}
	if got.StructuredRequirements["summary"] != "Login" || got.LLMModel != "llama3" || got.TokensUsed != 42 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Concurrent dispatch (exactly one winner)
// ---------------------------------------------------------------------------

func TestConcurrentDispatchSingleWinner(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "race")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Dispatch(context.Background(), task.KindCodeDiff, cd.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, task.ErrAlreadyInFlight):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning dispatch, got %d", wins)
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancelledIsFinal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")

	ok, err := s.Cancel(ctx, task.KindCodeDiff, cd.ID)
	if err != nil || !ok {
		t.Fatalf("cancel pending: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Cancel(ctx, task.KindCodeDiff, cd.ID); ok {
		t.Fatal("second cancel should report no change")
	}
	_, err = s.Dispatch(ctx, task.KindCodeDiff, cd.ID)
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelDoesNotOverwriteCompleted(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	completeCodeDiff(t, s, cd.ID)

	ok, err := s.Cancel(context.Background(), task.KindCodeDiff, cd.ID)
	if err != nil || ok {
		t.Fatalf("cancel completed: ok=%v err=%v", ok, err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusCompleted)
}

func TestCancelMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Cancel(context.Background(), task.KindCodeDiff, "missing")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelMany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addCodeDiff(t, s, "a")
	b := addCodeDiff(t, s, "b")
	c := addCodeDiff(t, s, "c")
	completeCodeDiff(t, s, c.ID)

	n, err := s.CancelMany(ctx, task.KindCodeDiff, []string{a.ID, c.ID})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 cancelled, got %d (%v)", n, err)
	}
	n, err = s.CancelMany(ctx, task.KindCodeDiff, nil)
	if err != nil || n != 1 {
		t.Fatalf("expected the remaining 1 cancelled, got %d (%v)", n, err)
	}
	mustStatus(t, s, task.KindCodeDiff, b.ID, task.StatusCancelled)
	mustStatus(t, s, task.KindCodeDiff, c.ID, task.StatusCompleted)
}

// ---------------------------------------------------------------------------
// Update / Delete
// ---------------------------------------------------------------------------

func TestUpdatePendingTask(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")

	rec, err := s.Update(context.Background(), task.KindCodeDiff, cd.ID, map[string]any{
		"name":     "renamed",
		"metadata": map[string]any{"team": "core"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got := rec.(*task.CodeDiffTask)
	if got.Name != "renamed" || got.Metadata["team"] != "core" {
		t.Fatalf("patch not applied: %+v", got.Header)
	}
}

func TestUpdateRejectedWhileInFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	if _, err := s.Dispatch(ctx, task.KindCodeDiff, cd.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	_, err := s.Update(ctx, task.KindCodeDiff, cd.ID, map[string]any{"name": "x"})
	if !errors.Is(err, task.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	_, err := s.Update(context.Background(), task.KindCodeDiff, cd.ID, map[string]any{"status": "completed"})
	if !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	mustStatus(t, s, task.KindCodeDiff, cd.ID, task.StatusPending)
}

func TestDeleteInputDoesNotCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cd := addCodeDiff(t, s, "d")
	completeCodeDiff(t, s, cd.ID)
	p := &task.PipelineTask{Header: task.Header{Name: "p"}, PipelineType: task.PipelineCodeReview, CodeDiffTaskID: &cd.ID}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	if err := s.Delete(ctx, task.KindCodeDiff, cd.ID); err != nil {
		t.Fatalf("delete input: %v", err)
	}
	got, err := s.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("pipeline should survive: %v", err)
	}
	if got.CodeDiffTaskID == nil || *got.CodeDiffTaskID != cd.ID {
		t.Fatal("pipeline reference should be left as is")
	}
	if err := s.Delete(ctx, task.KindCodeDiff, cd.ID); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteRejectedWhileInFlight(t *testing.T) {
	s := newTestStore(t)
	cd := addCodeDiff(t, s, "d")
	startTask(t, s, task.KindCodeDiff, cd.ID)
	err := s.Delete(context.Background(), task.KindCodeDiff, cd.ID)
	if !errors.Is(err, task.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// List filtering
// ---------------------------------------------------------------------------

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addCodeDiff(t, s, "alpha 100%")
	addCodeDiff(t, s, "beta")
	addCodeDiff(t, s, "alpha two")
	completeCodeDiff(t, s, a.ID)

	all, err := s.List(ctx, task.KindCodeDiff, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d (%v)", len(all), err)
	}
	if all[0].Head().Name != "alpha two" {
		t.Fatalf("expected newest first, got %s", all[0].Head().Name)
	}

	byName, _ := s.List(ctx, task.KindCodeDiff, Filter{NameContains: "alpha"})
	if len(byName) != 2 {
		t.Fatalf("expected 2 alpha tasks, got %d", len(byName))
	}
	literal, _ := s.List(ctx, task.KindCodeDiff, Filter{NameContains: "100%"})
	if len(literal) != 1 {
		t.Fatalf("%% should match literally, got %d", len(literal))
	}

	done, _ := s.Completed(ctx, task.KindCodeDiff, 0)
	if len(done) != 1 || done[0].Head().ID != a.ID {
		t.Fatalf("expected only the completed task as a selector, got %d", len(done))
	}

	page, _ := s.List(ctx, task.KindCodeDiff, Filter{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].Head().Name != "beta" {
		t.Fatalf("unexpected page: %d", len(page))
	}
}

func TestListFilterKindMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.List(ctx, task.KindCodeDiff, Filter{Category: "auth"}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for category on code diffs, got %v", err)
	}
	if _, err := s.List(ctx, task.KindCodeDiff, Filter{Status: task.StatusQueued}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for queued on code diffs, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Stats / Summary
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addCodeDiff(t, s, "a")
	b := addCodeDiff(t, s, "b")
	c := addCodeDiff(t, s, "c")
	addCodeDiff(t, s, "d")
	completeCodeDiff(t, s, a.ID)
	completeCodeDiff(t, s, b.ID)
	d := startTask(t, s, task.KindCodeDiff, c.ID)
	if err := s.Fail(ctx, task.KindCodeDiff, c.ID, d, "x"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	cds := st.Kinds[task.KindCodeDiff]
	if cds.Total != 4 || cds.ByStatus[task.StatusCompleted] != 2 || cds.ByStatus[task.StatusPending] != 1 {
		t.Fatalf("unexpected code diff stats: %+v", cds)
	}
	if st.Kinds[task.KindPipeline].ByStatus[task.StatusQueued] != 0 {
		t.Fatal("every status should be present with a zero count")
	}
	if st.TotalExecutions != 3 {
		t.Fatalf("expected 3 finished runs, got %d", st.TotalExecutions)
	}
	if st.SuccessRate != 66.67 {
		t.Fatalf("expected success rate 66.67, got %v", st.SuccessRate)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalExecutions != 0 || st.SuccessRate != 0 {
		t.Fatalf("expected zero stats, got %+v", st)
	}
}

func TestSummaryCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addCodeDiff(t, s, "a")
	b := addCodeDiff(t, s, "b")
	c := addCodeDiff(t, s, "c")
	completeCodeDiff(t, s, a.ID)
	if _, err := s.Dispatch(ctx, task.KindCodeDiff, b.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sum, statuses, err := s.Summary(ctx, task.KindCodeDiff, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 3 || sum.Completed != 1 || sum.Dispatched != 1 || sum.Pending != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	sum, _, _ = s.Summary(ctx, task.KindCodeDiff, []string{c.ID})
	if sum.Total != 1 || sum.Pending != 1 {
		t.Fatalf("unexpected filtered summary: %+v", sum)
	}
}

func TestSummaryEmpty(t *testing.T) {
	s := newTestStore(t)
	sum, statuses, err := s.Summary(context.Background(), task.KindPipeline, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 0 || len(statuses) != 0 {
		t.Fatalf("expected empty summary, got %+v", sum)
	}
}

// ---------------------------------------------------------------------------
// ElapsedSeconds
// ---------------------------------------------------------------------------

func TestElapsedSeconds(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) *time.Time { ts := now.Add(-d); return &ts }

	cases := []struct {
		name string
		h    task.Header
		want int
	}{
		{"pending", task.Header{Status: task.StatusPending, CreatedAt: now.Add(-10 * time.Second)}, 10},
		{"queued", task.Header{Status: task.StatusQueued, UpdatedAt: now.Add(-4 * time.Second)}, 4},
		{"running", task.Header{Status: task.StatusRunning, StartedAt: ago(7 * time.Second)}, 7},
		{"running without start", task.Header{Status: task.StatusRunning}, 0},
		{"completed", task.Header{Status: task.StatusCompleted, StartedAt: ago(9 * time.Second), CompletedAt: ago(3 * time.Second)}, 6},
		{"failed before start", task.Header{Status: task.StatusFailed, CompletedAt: ago(time.Second)}, 0},
		{"cancelled while pending", task.Header{Status: task.StatusCancelled, CompletedAt: ago(time.Second)}, 0},
	}
	for _, tc := range cases {
		if got := ElapsedSeconds(&tc.h, now); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func TestTemplateCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tpl := &prompt.Template{Identifier: "review", Content: "Review {{code_diff}}", IsActive: true}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tpl.Name != "review" {
		t.Fatalf("name should default to the identifier, got %q", tpl.Name)
	}
	if err := s.CreateTemplate(ctx, &prompt.Template{Identifier: "review", Content: "x"}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected duplicate identifier to be rejected, got %v", err)
	}
	if err := s.CreateTemplate(ctx, &prompt.Template{Identifier: "bad-id", Content: "x"}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("expected invalid identifier to be rejected, got %v", err)
	}

	got, err := s.TemplateByIdentifier(ctx, "review")
	if err != nil || got == nil || got.ID != tpl.ID {
		t.Fatalf("lookup by identifier: %v %v", got, err)
	}
	missing, err := s.TemplateByIdentifier(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing identifier should be (nil, nil), got %v %v", missing, err)
	}

	updated, err := s.UpdateTemplate(ctx, tpl.ID, map[string]any{"is_active": false})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive {
		t.Fatal("template should be inactive")
	}
	if _, err := s.UpdateTemplate(ctx, tpl.ID, map[string]any{"identifier": "other"}); !errors.Is(err, task.ErrInvalidInput) {
		t.Fatalf("identifier should be immutable, got %v", err)
	}

	active, _ := s.ListTemplates(ctx, "", true)
	if len(active) != 0 {
		t.Fatalf("expected no active templates, got %d", len(active))
	}

	if err := s.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteTemplate(ctx, tpl.ID); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateInactiveTemplateStaysInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateTemplate(ctx, &prompt.Template{Identifier: "draft", Content: "x", IsActive: false}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.TemplateByIdentifier(ctx, "draft")
	if got.IsActive {
		t.Fatal("template created inactive should stay inactive")
	}
}

func TestUpsertTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateTemplate(ctx, &prompt.Template{Identifier: "a", Content: "old", IsActive: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	created, updated, err := s.UpsertTemplates(ctx, []prompt.Template{
		{Identifier: "a", Content: "new", IsActive: true},
		{Identifier: "b", Content: "bee", IsActive: true},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created != 1 || updated != 1 {
		t.Fatalf("expected 1 created and 1 updated, got %d/%d", created, updated)
	}
	a, _ := s.TemplateByIdentifier(ctx, "a")
	if a.Content != "new" {
		t.Fatalf("expected content overwritten, got %q", a.Content)
	}
}

// ---------------------------------------------------------------------------
// Resolution through the store
// ---------------------------------------------------------------------------

func TestStoreBacksResolver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateTemplate(ctx, &prompt.Template{Identifier: "footer", Content: "Regards, {{name}}", IsActive: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := prompt.NewResolver(s).Resolve(ctx, "Hi {{name}}, {{GENERATE_FROM:footer}}", map[string]any{"name": "Ann"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "Hi Ann, [LLM_OUTPUT_FOR:footer]\nRegards, Ann" {
		t.Fatalf("unexpected resolution: %q", got)
	}
}
