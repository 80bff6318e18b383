package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/template"
)

type receiptRecorder struct {
	mu       sync.Mutex
	receipts []Receipt
}

func (r *receiptRecorder) record(receipt Receipt) {
	r.mu.Lock()
	r.receipts = append(r.receipts, receipt)
	r.mu.Unlock()
}

func (r *receiptRecorder) all() []Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Receipt, len(r.receipts))
	copy(out, r.receipts)
	return out
}

func (r *receiptRecorder) byJob(jobID string) []Receipt {
	var out []Receipt
	for _, rc := range r.all() {
		if rc.JobID == jobID {
			out = append(out, rc)
		}
	}
	return out
}

func testJob(id, contact string, p Priority) *Job {
	return &Job{
		ID:        id,
		ContactID: contact,
		Priority:  p,
		Message:   template.RenderedMessage{TemplateKey: "greeting", Kind: event.KindText, Text: "hola"},
	}
}

func newTestQueue(t *testing.T, cfg Config, rec *receiptRecorder) (*Queue, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	if rec != nil {
		cfg.OnReceipt = rec.record
	}
	cfg.Now = func() time.Time { return now }
	return New(cfg), now
}

func TestNextOrdersByPriorityThenSeq(t *testing.T) {
	q, now := newTestQueue(t, Config{}, nil)

	// Lower-priority jobs enqueued earlier must still yield to critical.
	mustEnqueue(t, q, testJob("n1", "c1", PriorityNormal))
	mustEnqueue(t, q, testJob("n2", "c2", PriorityNormal))
	mustEnqueue(t, q, testJob("crit", "c3", PriorityCritical))
	mustEnqueue(t, q, testJob("hi", "c4", PriorityHigh))

	want := []string{"crit", "hi", "n1", "n2"}
	for _, id := range want {
		job := q.Next(now)
		if job == nil {
			t.Fatalf("Next returned nil, want job %q", id)
		}
		if job.ID != id {
			t.Fatalf("Next returned %q, want %q", job.ID, id)
		}
	}
	if job := q.Next(now); job != nil {
		t.Fatalf("Next on drained queue returned %q, want nil", job.ID)
	}
}

func TestNextHonorsScheduledAt(t *testing.T) {
	q, now := newTestQueue(t, Config{}, nil)

	job := testJob("later", "c1", PriorityCritical)
	job.ScheduledAt = now.Add(time.Hour)
	mustEnqueue(t, q, job)
	mustEnqueue(t, q, testJob("soon", "c2", PriorityLow))

	// Before the scheduled time only the unscheduled low job is ready,
	// even though the scheduled one outranks it.
	if got := q.Next(now); got == nil || got.ID != "soon" {
		t.Fatalf("Next before schedule = %v, want soon", got)
	}
	if got := q.Next(now.Add(time.Hour - time.Millisecond)); got != nil {
		t.Fatalf("Next just before schedule = %q, want nil", got.ID)
	}
	if got := q.Next(now.Add(time.Hour)); got == nil || got.ID != "later" {
		t.Fatalf("Next at schedule = %v, want later", got)
	}
}

func TestRetryBackoffThenDeadLetter(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{MaxAttempts: 3, BackoffBase: 2 * time.Second, BackoffCap: time.Minute}, rec)

	mustEnqueue(t, q, testJob("j1", "c1", PriorityNormal))

	// Attempt 1 fails: retry after 2s.
	job := q.Next(now)
	job.Attempt++
	q.MarkFailed(job, "gateway unavailable", false)

	if got := q.Next(now.Add(time.Second)); got != nil {
		t.Fatalf("job ready during backoff, got %q", got.ID)
	}
	job = q.Next(now.Add(2 * time.Second))
	if job == nil {
		t.Fatal("job not ready after backoff elapsed")
	}

	// Attempt 2 fails: retry after 4s.
	job.Attempt++
	q.MarkFailed(job, "gateway unavailable", false)
	if got := q.Next(now.Add(3 * time.Second)); got != nil {
		t.Fatalf("job ready during second backoff, got %q", got.ID)
	}
	job = q.Next(now.Add(10 * time.Second))
	if job == nil {
		t.Fatal("job not ready after second backoff")
	}

	// Attempt 3 fails: out of attempts, dead-lettered.
	job.Attempt++
	q.MarkFailed(job, "gateway unavailable", false)

	dls := q.DeadLetters()
	if len(dls) != 1 || dls[0].Job.ID != "j1" {
		t.Fatalf("DeadLetters = %+v, want one entry for j1", dls)
	}
	if got := q.Next(now.Add(time.Hour)); got != nil {
		t.Fatalf("dead-lettered job surfaced again: %q", got.ID)
	}

	receipts := rec.byJob("j1")
	if len(receipts) != 1 {
		t.Fatalf("got %d receipts for j1, want exactly 1", len(receipts))
	}
	if receipts[0].Outcome != OutcomeDeadLettered {
		t.Fatalf("receipt outcome = %q, want %q", receipts[0].Outcome, OutcomeDeadLettered)
	}
	if receipts[0].Attempts != 3 {
		t.Fatalf("receipt attempts = %d, want 3", receipts[0].Attempts)
	}
}

func TestPermanentFailureSkipsRetry(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{MaxAttempts: 5}, rec)

	mustEnqueue(t, q, testJob("bad", "c1", PriorityHigh))
	job := q.Next(now)
	job.Attempt++
	q.MarkFailed(job, "invalid recipient", true)

	if dls := q.DeadLetters(); len(dls) != 1 {
		t.Fatalf("DeadLetters = %d entries, want 1", len(dls))
	}
	receipts := rec.byJob("bad")
	if len(receipts) != 1 || receipts[0].Outcome != OutcomeDeadLettered {
		t.Fatalf("receipts = %+v, want one dead-lettered", receipts)
	}
	if receipts[0].Attempts != 1 {
		t.Fatalf("permanent failure attempts = %d, want 1", receipts[0].Attempts)
	}
}

func TestMarkSentEmitsSingleReceipt(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{}, rec)

	mustEnqueue(t, q, testJob("ok", "c1", PriorityNormal))
	job := q.Next(now)
	job.Attempt++
	q.MarkSent(job, "wamid.123")

	receipts := rec.byJob("ok")
	if len(receipts) != 1 {
		t.Fatalf("got %d receipts, want 1", len(receipts))
	}
	r := receipts[0]
	if r.Outcome != OutcomeSent || r.GatewayMessageID != "wamid.123" || r.Attempts != 1 {
		t.Fatalf("receipt = %+v", r)
	}
}

func TestSaturationRejectsNormalAndLow(t *testing.T) {
	q, _ := newTestQueue(t, Config{Capacity: 2}, nil)
	mustEnqueue(t, q, testJob("a", "c1", PriorityNormal))
	mustEnqueue(t, q, testJob("b", "c2", PriorityNormal))

	for _, p := range []Priority{PriorityNormal, PriorityLow} {
		err := q.Enqueue(testJob("over-"+p.String(), "c3", p))
		if !errors.Is(err, ErrQueueSaturated) {
			t.Fatalf("Enqueue %s at capacity: err = %v, want ErrQueueSaturated", p, err)
		}
	}
}

func TestSaturationDisplacesOldestLow(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{Capacity: 2}, rec)

	mustEnqueue(t, q, testJob("low1", "c1", PriorityLow))
	mustEnqueue(t, q, testJob("low2", "c2", PriorityLow))
	mustEnqueue(t, q, testJob("crit", "c3", PriorityCritical))

	receipts := rec.byJob("low1")
	if len(receipts) != 1 || receipts[0].Outcome != OutcomeFailed {
		t.Fatalf("displaced receipts = %+v, want one failed for low1", receipts)
	}

	if got := q.Next(now); got == nil || got.ID != "crit" {
		t.Fatalf("Next = %v, want crit", got)
	}
	if got := q.Next(now); got == nil || got.ID != "low2" {
		t.Fatalf("Next = %v, want surviving low2", got)
	}

	// With no low jobs left to displace, even critical fails fast.
	mustEnqueue(t, q, testJob("n1", "c4", PriorityNormal))
	mustEnqueue(t, q, testJob("n2", "c5", PriorityNormal))
	if err := q.Enqueue(testJob("crit2", "c6", PriorityCritical)); !errors.Is(err, ErrQueueSaturated) {
		t.Fatalf("Enqueue with nothing to displace: err = %v, want ErrQueueSaturated", err)
	}
}

func TestCancelContactDiscardsPendingJobs(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{}, rec)

	mustEnqueue(t, q, testJob("keep", "active", PriorityNormal))
	mustEnqueue(t, q, testJob("drop", "optout", PriorityCritical))
	q.CancelContact("optout")

	// The cancelled critical job is discarded at dequeue, not delivered.
	if got := q.Next(now); got == nil || got.ID != "keep" {
		t.Fatalf("Next = %v, want keep", got)
	}
	receipts := rec.byJob("drop")
	if len(receipts) != 1 || receipts[0].Outcome != OutcomeFailed {
		t.Fatalf("cancelled receipts = %+v, want one failed", receipts)
	}

	// New enqueues for an inactive contact terminate immediately.
	if err := q.Enqueue(testJob("drop2", "optout", PriorityNormal)); err != nil {
		t.Fatalf("Enqueue for inactive contact: %v", err)
	}
	if got := rec.byJob("drop2"); len(got) != 1 {
		t.Fatalf("got %d receipts for drop2, want 1", len(got))
	}

	// Reactivation restores normal delivery.
	q.ActivateContact("optout")
	mustEnqueue(t, q, testJob("back", "optout", PriorityNormal))
	if got := q.Next(now); got == nil || got.ID != "back" {
		t.Fatalf("Next after reactivation = %v, want back", got)
	}
}

func TestFinalJobSurvivesCancellation(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{}, rec)

	mustEnqueue(t, q, testJob("pending", "optout", PriorityNormal))

	confirm := testJob("confirm", "optout", PriorityCritical)
	confirm.Final = true
	mustEnqueue(t, q, confirm)
	q.CancelContact("optout")

	// The opt-out confirmation still goes out; everything else is purged.
	if got := q.Next(now); got == nil || got.ID != "confirm" {
		t.Fatalf("Next = %v, want confirm", got)
	}
	if got := q.Next(now); got != nil {
		t.Fatalf("Next = %q, want nil after purge", got.ID)
	}
	if receipts := rec.byJob("pending"); len(receipts) != 1 || receipts[0].Outcome != OutcomeFailed {
		t.Fatalf("pending receipts = %+v, want one failed", receipts)
	}
}

func TestRetryDeadLetter(t *testing.T) {
	rec := &receiptRecorder{}
	q, now := newTestQueue(t, Config{MaxAttempts: 1}, rec)

	mustEnqueue(t, q, testJob("dl", "c1", PriorityNormal))
	job := q.Next(now)
	job.Attempt++
	q.MarkFailed(job, "boom", false)

	if err := q.RetryDeadLetter("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RetryDeadLetter(missing) = %v, want ErrUnknownJob", err)
	}
	if err := q.RetryDeadLetter("dl"); err != nil {
		t.Fatalf("RetryDeadLetter(dl) = %v", err)
	}
	if dls := q.DeadLetters(); len(dls) != 0 {
		t.Fatalf("dead-letter set not emptied: %+v", dls)
	}

	job = q.Next(now)
	if job == nil || job.ID != "dl" {
		t.Fatalf("Next after retry = %v, want dl", job)
	}
	if job.Attempt != 0 {
		t.Fatalf("retried job attempt = %d, want reset to 0", job.Attempt)
	}
}

func TestDepths(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, nil)
	mustEnqueue(t, q, testJob("a", "c1", PriorityCritical))
	mustEnqueue(t, q, testJob("b", "c2", PriorityNormal))
	mustEnqueue(t, q, testJob("c", "c3", PriorityNormal))

	depths := q.Depths()
	want := map[string]int{"critical": 1, "high": 0, "normal": 2, "low": 0}
	for band, n := range want {
		if depths[band] != n {
			t.Fatalf("Depths[%s] = %d, want %d", band, depths[band], n)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	cap := 30 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(base, cap, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func mustEnqueue(t *testing.T, q *Queue, job *Job) {
	t.Helper()
	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue(%s): %v", job.ID, err)
	}
}
