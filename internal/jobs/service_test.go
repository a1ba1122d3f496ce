package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"continuity/internal/domain"
	"continuity/internal/lock"
	"continuity/internal/providers/sora"
)

type harness struct {
	svc          *Service
	ledger       *memLedger
	generator    *fakeGenerator
	transform    *fakeTransform
	store        *fakeStore
	entitlements *fakeEntitlements
	scratch      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger:       newMemLedger(),
		generator:    newFakeGenerator(),
		transform:    &fakeTransform{},
		store:        newFakeStore(),
		entitlements: &fakeEntitlements{entitled: map[string]bool{}},
		scratch:      t.TempDir(),
	}
	h.build(t, nil)
	return h
}

func (h *harness) build(t *testing.T, flight lock.Flight) {
	t.Helper()
	svc, err := NewService(Options{
		Ledger:           h.ledger,
		Generator:        h.generator,
		Watermark:        h.transform,
		Store:            h.store,
		Entitlements:     h.entitlements,
		Flight:           flight,
		ScratchDir:       h.scratch,
		UpstreamTimeout:  time.Second,
		TransformTimeout: time.Second,
		StorageTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	h.svc = svc
}

func (h *harness) submit(t *testing.T, identity string) *domain.SubmitResult {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), domain.Submission{
		Prompt:   "a cat",
		Size:     domain.SizeLandscape,
		Seconds:  "4",
		Identity: identity,
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	return res
}

func (h *harness) check(t *testing.T, id, identity string) *domain.StatusResult {
	t.Helper()
	res, err := h.svc.CheckStatus(context.Background(), id, identity)
	if err != nil {
		t.Fatalf("CheckStatus error: %v", err)
	}
	return res
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch not cleaned up: %d entries", len(entries))
	}
}

func TestAnonymousJobLifecycle(t *testing.T) {
	h := newHarness(t)

	sub := h.submit(t, "")
	if sub.Status != domain.JobStatusQueued || !sub.WatermarkRequired {
		t.Fatalf("unexpected submit result: %+v", sub)
	}
	if h.generator.submits.Load() != 1 || h.ledger.inserts != 1 {
		t.Fatalf("expected one submit and one insert, got %d and %d", h.generator.submits.Load(), h.ledger.inserts)
	}

	h.generator.set(sub.ID, domain.JobStatusRunning)
	res := h.check(t, sub.ID, "")
	if res.Status != domain.JobStatusRunning || res.OutputURL != "" {
		t.Fatalf("unexpected running result: %+v", res)
	}
	if h.ledger.row(sub.ID).Status != domain.JobStatusRunning {
		t.Fatal("ledger status should follow the remote status")
	}
	if h.transform.calls.Load() != 0 || h.store.puts.Load() != 0 {
		t.Fatal("no materialization before completion")
	}

	h.generator.set(sub.ID, domain.JobStatusCompleted)
	done := h.check(t, sub.ID, "")
	want := "https://cdn.test/anon/" + sub.ID + ".mp4"
	if done.Status != domain.JobStatusCompleted || done.OutputURL != want {
		t.Fatalf("unexpected completed result: %+v", done)
	}
	if h.transform.calls.Load() != 1 || h.store.puts.Load() != 1 || h.ledger.commits != 1 {
		t.Fatalf("expected one transform, upload and commit; got %d %d %d",
			h.transform.calls.Load(), h.store.puts.Load(), h.ledger.commits)
	}
	if got := string(h.store.object("anon/" + sub.ID + ".mp4")); got != "marked:raw-video" {
		t.Fatalf("uploaded artifact = %q, want watermarked bytes", got)
	}
	if h.store.types["anon/"+sub.ID+".mp4"] != "video/mp4" {
		t.Fatal("artifact must be stored as video/mp4")
	}

	polls := h.generator.polls.Load()
	again := h.check(t, sub.ID, "")
	if again.OutputURL != want {
		t.Fatalf("cached URL changed: %q", again.OutputURL)
	}
	if h.transform.calls.Load() != 1 || h.store.puts.Load() != 1 {
		t.Fatal("repeated checks must not re-materialize")
	}
	if h.generator.polls.Load() != polls {
		t.Fatal("materialized jobs must be answered without a remote call")
	}
	h.assertScratchEmpty(t)
}

func TestEntitledJobSkipsWatermark(t *testing.T) {
	h := newHarness(t)
	h.entitlements.set("user-1", true)

	sub := h.submit(t, "user-1")
	if sub.WatermarkRequired {
		t.Fatal("entitled identity must not require a watermark")
	}

	h.generator.set(sub.ID, domain.JobStatusCompleted)
	res := h.check(t, sub.ID, "user-1")
	if res.OutputURL != "https://cdn.test/user-1/"+sub.ID+".mp4" {
		t.Fatalf("unexpected url %q", res.OutputURL)
	}
	if h.transform.calls.Load() != 0 {
		t.Fatal("watermark must not run for entitled jobs")
	}
	if got := string(h.store.object("user-1/" + sub.ID + ".mp4")); got != "raw-video" {
		t.Fatalf("uploaded artifact = %q, want raw bytes", got)
	}
}

func TestEntitlementFrozenAtSubmission(t *testing.T) {
	h := newHarness(t)

	sub := h.submit(t, "user-1")
	if !sub.WatermarkRequired {
		t.Fatal("non-subscriber should require a watermark")
	}
	h.entitlements.set("user-1", true)

	if !h.ledger.row(sub.ID).WatermarkRequired {
		t.Fatal("watermark decision must not change after an upgrade")
	}
	h.generator.set(sub.ID, domain.JobStatusCompleted)
	h.check(t, sub.ID, "user-1")
	if h.transform.calls.Load() != 1 {
		t.Fatal("job submitted before the upgrade must still be watermarked")
	}
}

func TestCheckStatusAuthorization(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "owner-a")

	for _, status := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusCompleted} {
		h.generator.set(sub.ID, status)
		for _, identity := range []string{"owner-b", ""} {
			_, err := h.svc.CheckStatus(context.Background(), sub.ID, identity)
			if !domain.IsKind(err, domain.KindAuthorization) {
				t.Fatalf("status %s identity %q: expected authorization error, got %v", status, identity, err)
			}
		}
	}

	h.check(t, sub.ID, "owner-a")
	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "owner-b")
	var e *domain.Error
	if !errors.As(err, &e) || e.HTTPStatus() != 403 {
		t.Fatalf("materialized job must still reject other identities, got %v", err)
	}
	if h.generator.polls.Load() != 1 {
		t.Fatalf("rejected checks must not poll, got %d polls", h.generator.polls.Load())
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name  string
		sub   domain.Submission
		field string
	}{
		{"empty prompt", domain.Submission{Prompt: "  ", Size: domain.SizeLandscape, Seconds: "4"}, "prompt"},
		{"bad size", domain.Submission{Prompt: "a cat", Size: "640x480", Seconds: "4"}, "size"},
		{"bad seconds", domain.Submission{Prompt: "a cat", Size: domain.SizeLandscape, Seconds: "5"}, "seconds"},
	}
	for _, tc := range cases {
		_, err := h.svc.Submit(context.Background(), tc.sub)
		var e *domain.Error
		if !errors.As(err, &e) || e.Kind != domain.KindValidation || e.Field != tc.field {
			t.Fatalf("%s: expected validation error on %s, got %v", tc.name, tc.field, err)
		}
	}
	if h.generator.submits.Load() != 0 || h.ledger.inserts != 0 {
		t.Fatal("invalid submissions must not reach the generator or ledger")
	}
}

func TestSubmitMissingCredentialsBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.generator.credentials = false

	_, err := h.svc.Submit(context.Background(), domain.Submission{Prompt: "a cat", Size: domain.SizeLandscape, Seconds: "4", Identity: "user-1"})
	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, sora.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey in chain, got %v", err)
	}
	if h.generator.submits.Load() != 0 || h.entitlements.calls != 0 {
		t.Fatal("no lookup or remote call may happen without credentials")
	}
}

func TestSubmitNormalizesPrompt(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), domain.Submission{Prompt: "  café at dusk ", Size: domain.SizePortrait, Seconds: "12"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if got := h.generator.submitted[0].Prompt; got != "café at dusk" {
		t.Fatalf("prompt = %q", got)
	}
}

func TestSubmitUpstreamErrorRecordsNothing(t *testing.T) {
	h := newHarness(t)
	h.generator.submitErr = domain.Upstream(domain.StageSubmit, 400, []byte(`{"error":{"message":"moderation_blocked"}}`))

	_, err := h.svc.Submit(context.Background(), domain.Submission{Prompt: "a cat", Size: domain.SizeLandscape, Seconds: "4"})
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.KindUpstream || e.StatusCode != 400 {
		t.Fatalf("expected upstream 400, got %v", err)
	}
	if h.ledger.inserts != 0 {
		t.Fatal("failed submissions must not be recorded")
	}
}

func TestPollUpstreamErrorLeavesLedger(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	before := h.ledger.row(sub.ID)
	h.generator.statusErr = domain.Upstream(domain.StagePoll, 503, []byte("unavailable"))

	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
	if !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if *h.ledger.row(sub.ID) != *before {
		t.Fatal("upstream failure must not mutate the ledger")
	}
}

func TestDownloadFailureLeavesLedger(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)
	h.generator.contentErr = domain.Upstream(domain.StageDownload, 502, nil)

	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
	if !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if h.ledger.row(sub.ID).Materialized() || h.store.puts.Load() != 0 || h.transform.calls.Load() != 0 {
		t.Fatal("download failure must stop before transform and upload")
	}
	h.assertScratchEmpty(t)
}

func TestProcessingFailureIsRetriedOnNextCheck(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)
	h.transform.err = domain.Processing(1, "ffmpeg exited with status 1", errBoom)

	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.KindProcessing || e.ExitCode != 1 {
		t.Fatalf("expected processing error, got %v", err)
	}
	if h.ledger.row(sub.ID).Materialized() || h.store.puts.Load() != 0 {
		t.Fatal("processing failure must not upload or commit")
	}
	h.assertScratchEmpty(t)

	h.transform.err = nil
	res := h.check(t, sub.ID, "")
	if res.OutputURL == "" || h.transform.calls.Load() != 2 {
		t.Fatalf("retry should materialize from raw bytes, got %+v", res)
	}
}

func TestUnclassifiedTransformErrorBecomesProcessing(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)
	h.transform.err = errBoom

	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
	if !domain.IsKind(err, domain.KindProcessing) || !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped processing error, got %v", err)
	}
	var e *domain.Error
	if !errors.As(err, &e) || e.ExitCode != domain.ExitCodeUnknown {
		t.Fatalf("unclassified failure must not report a real exit code, got %+v", e)
	}
}

func TestStorageFailureLeavesLedger(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)
	h.store.err = errBoom

	_, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.KindStorage || !e.Retryable() {
		t.Fatalf("expected retryable storage error, got %v", err)
	}
	if h.ledger.row(sub.ID).Materialized() || h.ledger.commits != 0 {
		t.Fatal("storage failure must not commit")
	}
	h.assertScratchEmpty(t)
}

func TestUntrackedJobIsWatermarkedWithoutCommit(t *testing.T) {
	h := newHarness(t)
	h.generator.set("video_external", domain.JobStatusCompleted)

	res := h.check(t, "video_external", "anyone")
	if res.OutputURL != "https://cdn.test/anon/video_external.mp4" {
		t.Fatalf("unexpected url %q", res.OutputURL)
	}
	if h.transform.calls.Load() != 1 {
		t.Fatal("untracked jobs are treated as not entitled")
	}
	if h.ledger.commits != 0 || h.ledger.inserts != 0 {
		t.Fatal("untracked jobs must not be written to the ledger")
	}
}

func TestUntrackedJobStillPolls(t *testing.T) {
	h := newHarness(t)
	h.generator.set("video_external", domain.JobStatusInProgress)

	res := h.check(t, "video_external", "")
	if res.Status != domain.JobStatusInProgress || h.ledger.statusUpdates != 0 {
		t.Fatalf("unexpected result %+v with %d ledger updates", res, h.ledger.statusUpdates)
	}
}

func TestCheckStatusRequiresID(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.CheckStatus(context.Background(), " ", ""); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLedgerReadFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.ledger.getErr = errBoom
	_, err := h.svc.CheckStatus(context.Background(), "video_1", "")
	if !domain.IsKind(err, domain.KindInternal) || h.generator.polls.Load() != 0 {
		t.Fatalf("expected internal error without polling, got %v", err)
	}
}

func TestConcurrentChecksMaterializeOnce(t *testing.T) {
	h := newHarness(t)
	h.transform.block = make(chan struct{})
	h.transform.started = make(chan struct{}, 1)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)

	const callers = 10
	var wg sync.WaitGroup
	urls := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.CheckStatus(context.Background(), sub.ID, "")
			if err != nil {
				t.Errorf("CheckStatus error: %v", err)
				return
			}
			urls <- res.OutputURL
		}()
	}
	<-h.transform.started
	time.Sleep(50 * time.Millisecond)
	close(h.transform.block)
	wg.Wait()
	close(urls)

	var first string
	for url := range urls {
		if first == "" {
			first = url
		}
		if url == "" || url != first {
			t.Fatalf("callers saw different urls: %q vs %q", first, url)
		}
	}
	if h.transform.calls.Load() != 1 || h.store.puts.Load() != 1 || h.ledger.commits != 1 {
		t.Fatalf("expected exactly one materialization, got transform=%d puts=%d commits=%d",
			h.transform.calls.Load(), h.store.puts.Load(), h.ledger.commits)
	}
}

func TestHeldLockReportsProcessing(t *testing.T) {
	h := newHarness(t)
	h.build(t, heldFlight{})
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)

	res := h.check(t, sub.ID, "")
	if res.Status != domain.JobStatusProcessing || res.OutputURL != "" {
		t.Fatalf("expected processing status, got %+v", res)
	}
	if h.transform.calls.Load() != 0 {
		t.Fatal("lock losers must not materialize")
	}
}

func TestMaterializeSkipsWhenCommittedMeanwhile(t *testing.T) {
	h := newHarness(t)
	sub := h.submit(t, "")
	h.generator.set(sub.ID, domain.JobStatusCompleted)

	// Another process commits between our upload and our commit.
	h.ledger.beforeComplete = func(id string) {
		h.ledger.mu.Lock()
		job := h.ledger.rows[id]
		job.OutputURL = "https://cdn.test/other.mp4"
		h.ledger.rows[id] = job
		h.ledger.mu.Unlock()
	}
	res := h.check(t, sub.ID, "")
	if res.OutputURL != "https://cdn.test/other.mp4" {
		t.Fatalf("expected the stored url to win, got %q", res.OutputURL)
	}
	if h.ledger.commits != 0 {
		t.Fatal("lost commit must not overwrite")
	}
}

func TestSubmitBatch(t *testing.T) {
	h := newHarness(t)
	items, err := h.svc.SubmitBatch(context.Background(), BatchRequest{
		BasePrompt: "a lighthouse",
		Variants:   []string{"at dawn", " ", "in a storm"},
		Size:       domain.SizePortrait,
		Seconds:    "8",
	})
	if err != nil {
		t.Fatalf("SubmitBatch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two items, got %d", len(items))
	}
	if items[1].Prompt != "a lighthouse\n\nVariant: in a storm" {
		t.Fatalf("unexpected prompt %q", items[1].Prompt)
	}
	for _, item := range items {
		if item.Err != nil || item.Result == nil || !item.Result.WatermarkRequired {
			t.Fatalf("unexpected item %+v", item)
		}
	}
	if h.ledger.inserts != 2 {
		t.Fatalf("expected each variant recorded, got %d", h.ledger.inserts)
	}
}

func TestSubmitBatchValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.SubmitBatch(context.Background(), BatchRequest{BasePrompt: "x", Size: domain.SizeLandscape, Seconds: "4"}); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for empty variants, got %v", err)
	}
	if _, err := h.svc.SubmitBatch(context.Background(), BatchRequest{Variants: []string{"a"}, Size: domain.SizeLandscape, Seconds: "4"}); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for empty base prompt, got %v", err)
	}
}

func TestSubmitBatchKeepsGoingAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.generator.submitErr = domain.Upstream(domain.StageSubmit, 429, nil)
	items, err := h.svc.SubmitBatch(context.Background(), BatchRequest{BasePrompt: "x", Variants: []string{"a", "b"}, Size: domain.SizeLandscape, Seconds: "4"})
	if err != nil {
		t.Fatalf("SubmitBatch error: %v", err)
	}
	if len(items) != 2 || items[0].Err == nil || items[1].Err == nil {
		t.Fatalf("expected per-variant errors, got %+v", items)
	}
	if h.generator.submits.Load() != 2 {
		t.Fatal("every variant should be attempted")
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, "")
	second := h.submit(t, "user-2")
	h.generator.set(first.ID, domain.JobStatusCompleted)
	h.generator.set(second.ID, domain.JobStatusInProgress)

	report, err := h.svc.Reconcile(context.Background(), 10)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if report.Checked != 2 || report.Completed != 1 || report.Pending != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !h.ledger.row(first.ID).Materialized() {
		t.Fatal("completed job should be materialized by reconcile")
	}
	if !strings.HasPrefix(h.ledger.row(second.ID).OwnerID, "user-2") || h.ledger.row(second.ID).Status != domain.JobStatusInProgress {
		t.Fatal("owned job should be checked as its owner")
	}
}
