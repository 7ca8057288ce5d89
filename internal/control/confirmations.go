package control

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ConfirmationPending  = "pending"
	ConfirmationApproved = "approved"
	ConfirmationRejected = "rejected"

	pendingListLimit = 20
)

// Confirmation is an action plan waiting for the operator.
type Confirmation struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	Status    string         `json:"status" enum:"pending,approved,rejected"`
	Plan      map[string]any `json:"plan"`
}

// ConfirmationQueue holds action plans until they are confirmed or rejected.
// It lives in memory only.
type ConfirmationQueue struct {
	mu    sync.Mutex
	items map[string]*Confirmation
	seq   map[string]int
	next  int
	now   func() time.Time
}

func NewConfirmationQueue(now func() time.Time) *ConfirmationQueue {
	if now == nil {
		now = time.Now
	}
	return &ConfirmationQueue{items: map[string]*Confirmation{}, seq: map[string]int{}, now: now}
}

// Add queues plan and returns its id.
func (q *ConfirmationQueue) Add(plan map[string]any) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.items[id] = &Confirmation{
		ID:        id,
		CreatedAt: q.now().UTC().Format(time.RFC3339Nano),
		Status:    ConfirmationPending,
		Plan:      plan,
	}
	q.seq[id] = q.next
	q.next++
	return id
}

// Pending returns the most recent pending plans, oldest first.
func (q *ConfirmationQueue) Pending() []Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []Confirmation{}
	for _, c := range q.items {
		if c.Status == ConfirmationPending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return q.seq[out[i].ID] < q.seq[out[j].ID] })
	if len(out) > pendingListLimit {
		out = out[len(out)-pendingListLimit:]
	}
	return out
}

// Approve confirms a pending plan. Unknown or settled ids return false.
func (q *ConfirmationQueue) Approve(id string) (Confirmation, bool) {
	return q.settle(id, ConfirmationApproved)
}

// Reject drops a pending plan. Unknown or settled ids return false.
func (q *ConfirmationQueue) Reject(id string) (Confirmation, bool) {
	return q.settle(id, ConfirmationRejected)
}

func (q *ConfirmationQueue) settle(id, status string) (Confirmation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.items[id]
	if !ok || c.Status != ConfirmationPending {
		return Confirmation{}, false
	}
	c.Status = status
	return *c, true
}
