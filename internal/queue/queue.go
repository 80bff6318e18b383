package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anclora/whatsapp-pipeline/internal/metrics"
)

// ErrQueueSaturated is returned when the queue is at capacity and the job's
// priority does not allow displacing a queued low-priority job.
var ErrQueueSaturated = errors.New("outbound queue saturated")

// ErrUnknownJob is returned when a dead-letter id is not found.
var ErrUnknownJob = errors.New("unknown job id")

type Config struct {
	Capacity    int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// OnReceipt receives the terminal receipt of every job. Called outside
	// the queue lock.
	OnReceipt func(Receipt)

	Now func() time.Time
}

// Queue is the shared priority- and time-ordered outbound dispatch
// structure. All mutation happens under one mutex so band selection and
// capacity accounting stay atomic with respect to concurrent workers.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	bands    [numPriorities][]*Job
	size     int
	seq      uint64
	inactive map[string]struct{}
	dead     map[string]*DeadLetter
	deadIDs  []string
}

func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		cfg:      cfg,
		inactive: make(map[string]struct{}),
		dead:     make(map[string]*DeadLetter),
	}
}

// Enqueue accepts a job for dispatch. At capacity, normal and low jobs fail
// fast with ErrQueueSaturated; critical and high jobs displace the oldest
// queued low job so urgent messages stay responsive.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	var receipts []Receipt
	defer func() {
		q.mu.Unlock()
		q.emit(receipts)
	}()

	now := q.cfg.Now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	if _, gone := q.inactive[job.ContactID]; gone && !job.Final {
		receipts = append(receipts, q.terminalLocked(job, OutcomeFailed, "contact inactive", "cancelled"))
		return nil
	}

	if q.size >= q.cfg.Capacity {
		if job.Priority > PriorityHigh {
			return fmt.Errorf("%w: capacity %d", ErrQueueSaturated, q.cfg.Capacity)
		}
		displaced := q.displaceOldestLowLocked()
		if displaced == nil {
			return fmt.Errorf("%w: capacity %d, nothing to displace", ErrQueueSaturated, q.cfg.Capacity)
		}
		receipts = append(receipts, q.terminalLocked(displaced, OutcomeFailed, "displaced by higher-priority enqueue", "displaced"))
	}

	q.seq++
	job.seq = q.seq
	q.bands[job.Priority] = append(q.bands[job.Priority], job)
	q.size++
	q.updateDepthLocked()
	return nil
}

// Next pops the highest-priority ready job, or nil when none is ready. A job
// is ready once its scheduled time and any backoff delay have passed. Jobs
// for contacts deactivated since enqueue are discarded here with a cancelled
// receipt; that is cleanup, not delivery failure.
func (q *Queue) Next(now time.Time) *Job {
	q.mu.Lock()
	var receipts []Receipt
	defer func() {
		q.mu.Unlock()
		q.emit(receipts)
	}()

	for band := PriorityCritical; band <= PriorityLow; band++ {
		for {
			idx := -1
			var best *Job
			for i, job := range q.bands[band] {
				if job.ScheduledAt.After(now) || job.notBefore.After(now) {
					continue
				}
				if best == nil || job.seq < best.seq {
					best, idx = job, i
				}
			}
			if best == nil {
				break
			}
			q.removeLocked(band, idx)
			if _, gone := q.inactive[best.ContactID]; gone && !best.Final {
				receipts = append(receipts, q.receiptLocked(best, OutcomeFailed, "contact inactive", "cancelled"))
				q.updateDepthLocked()
				continue
			}
			q.updateDepthLocked()
			return best
		}
	}
	return nil
}

// MarkSent records the single successful terminal receipt for job.
func (q *Queue) MarkSent(job *Job, gatewayMessageID string) {
	q.mu.Lock()
	r := q.receiptLocked(job, OutcomeSent, "", "sent")
	r.GatewayMessageID = gatewayMessageID
	q.mu.Unlock()

	if !job.EventAt.IsZero() {
		metrics.ObserveDeliveryLatency(r.At.Sub(job.EventAt))
	}
	q.emit([]Receipt{r})
}

// MarkFailed handles a failed delivery attempt. Permanent failures and jobs
// out of attempts are dead-lettered; everything else is re-enqueued with an
// exponential backoff delay.
func (q *Queue) MarkFailed(job *Job, reason string, permanent bool) {
	q.mu.Lock()
	var receipts []Receipt

	switch {
	case permanent:
		receipts = append(receipts, q.deadLetterLocked(job, reason))
	case job.Attempt >= job.MaxAttempts:
		receipts = append(receipts, q.deadLetterLocked(job, fmt.Sprintf("max attempts (%d) exceeded: %s", job.MaxAttempts, reason)))
	default:
		// First retry waits base, then doubles per subsequent retry.
		job.notBefore = q.cfg.Now().Add(backoffDelay(q.cfg.BackoffBase, q.cfg.BackoffCap, job.Attempt-1))
		q.bands[job.Priority] = append(q.bands[job.Priority], job)
		q.size++
		q.updateDepthLocked()
	}
	q.mu.Unlock()
	q.emit(receipts)
}

// CancelContact deactivates a contact. Pending jobs are discarded the next
// time they surface at dequeue, before any delivery attempt.
func (q *Queue) CancelContact(contactID string) {
	q.mu.Lock()
	q.inactive[contactID] = struct{}{}
	q.mu.Unlock()
}

// ActivateContact re-enables delivery for a contact, e.g. when a closed
// conversation is re-opened by a fresh inbound message.
func (q *Queue) ActivateContact(contactID string) {
	q.mu.Lock()
	delete(q.inactive, contactID)
	q.mu.Unlock()
}

// DeadLetters returns a snapshot of the dead-letter set in arrival order.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, 0, len(q.deadIDs))
	for _, id := range q.deadIDs {
		if dl, ok := q.dead[id]; ok {
			out = append(out, *dl)
		}
	}
	return out
}

// RetryDeadLetter moves a dead-lettered job back into the queue with a fresh
// attempt budget. Operator-driven; never automatic.
func (q *Queue) RetryDeadLetter(jobID string) error {
	q.mu.Lock()
	dl, ok := q.dead[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	delete(q.dead, jobID)
	for i, id := range q.deadIDs {
		if id == jobID {
			q.deadIDs = append(q.deadIDs[:i], q.deadIDs[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	job := dl.Job
	job.Attempt = 0
	job.notBefore = time.Time{}
	return q.Enqueue(job)
}

// Depths reports the number of queued jobs per priority band.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, numPriorities)
	for band := PriorityCritical; band <= PriorityLow; band++ {
		out[band.String()] = len(q.bands[band])
	}
	return out
}

func (q *Queue) removeLocked(band Priority, idx int) {
	q.bands[band] = append(q.bands[band][:idx], q.bands[band][idx+1:]...)
	q.size--
}

func (q *Queue) displaceOldestLowLocked() *Job {
	idx := -1
	var oldest *Job
	for i, job := range q.bands[PriorityLow] {
		if oldest == nil || job.seq < oldest.seq {
			oldest, idx = job, i
		}
	}
	if oldest == nil {
		return nil
	}
	q.removeLocked(PriorityLow, idx)
	q.updateDepthLocked()
	return oldest
}

func (q *Queue) deadLetterLocked(job *Job, reason string) Receipt {
	r := q.receiptLocked(job, OutcomeDeadLettered, reason, "dead_lettered")
	q.dead[job.ID] = &DeadLetter{Job: job, Reason: reason, At: r.At}
	q.deadIDs = append(q.deadIDs, job.ID)
	return r
}

// terminalLocked builds a receipt for a job that never entered (or was
// displaced from) the bands.
func (q *Queue) terminalLocked(job *Job, outcome Outcome, reason, metricLabel string) Receipt {
	return q.receiptLocked(job, outcome, reason, metricLabel)
}

func (q *Queue) receiptLocked(job *Job, outcome Outcome, reason, metricLabel string) Receipt {
	metrics.IncDelivery(metricLabel)
	return Receipt{
		JobID:       job.ID,
		ContactID:   job.ContactID,
		TemplateKey: job.Message.TemplateKey,
		Outcome:     outcome,
		Reason:      reason,
		Attempts:    job.Attempt,
		At:          q.cfg.Now(),
	}
}

func (q *Queue) updateDepthLocked() {
	for band := PriorityCritical; band <= PriorityLow; band++ {
		metrics.SetQueueDepth(band.String(), len(q.bands[band]))
	}
}

func (q *Queue) emit(receipts []Receipt) {
	if q.cfg.OnReceipt == nil {
		return
	}
	for _, r := range receipts {
		q.cfg.OnReceipt(r)
	}
}

// backoffDelay is base*2^attempt capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
