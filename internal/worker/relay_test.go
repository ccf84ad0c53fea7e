package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/showgrid/seat-reservation/internal/model"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
	err      error
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
	return nil
}

type fakeStream struct {
	mu          sync.Mutex
	name        string
	due         []model.OutboxMessage
	dueErr      error
	published   []uint64
	rescheduled map[uint64]time.Time
	retries     map[uint64]uint32
}

func newFakeStream(name string, msgs ...model.OutboxMessage) *fakeStream {
	return &fakeStream{
		name:        name,
		due:         msgs,
		rescheduled: make(map[uint64]time.Time),
		retries:     make(map[uint64]uint32),
	}
}

func (f *fakeStream) Name() string { return f.name }

func (f *fakeStream) Due(_ context.Context, limit, _ int) ([]model.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStream) MarkPublished(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *fakeStream) Reschedule(_ context.Context, id uint64, retryCount uint32, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries[id] = retryCount
	f.rescheduled[id] = nextRetryAt
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []string
	failOn map[uint64]bool // fail messages whose payload carries this id
}

type testPayload struct {
	ID uint64
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := payload.(testPayload); ok && f.failOn[p.ID] {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, eventType)
	return nil
}

func relayCfg() RelayConfig {
	return RelayConfig{
		Period:     time.Second,
		Batch:      50,
		LockTTL:    30 * time.Second,
		Backoff:    30 * time.Second,
		BackoffMax: time.Hour,
		MaxRetries: 8,
	}
}

func TestRelayPublishesAndMarks(t *testing.T) {
	stream := newFakeStream("created",
		model.OutboxMessage{ID: 1, EventType: "reservation.created", Payload: testPayload{ID: 1}},
		model.OutboxMessage{ID: 2, EventType: "reservation.created", Payload: testPayload{ID: 2}},
	)
	pub := &fakePublisher{}
	locks := &fakeLocker{}
	r := NewRelay(locks, pub, relayCfg(), stream)

	r.tick(context.Background())

	if len(pub.sent) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.sent))
	}
	if len(stream.published) != 2 {
		t.Fatalf("marked %d rows, want 2", len(stream.published))
	}
	if locks.releases != 1 {
		t.Errorf("lock released %d times, want 1", locks.releases)
	}
}

func TestRelayFailureIsolatedPerRow(t *testing.T) {
	stream := newFakeStream("created",
		model.OutboxMessage{ID: 1, EventType: "reservation.created", Payload: testPayload{ID: 1}},
		model.OutboxMessage{ID: 2, RetryCount: 3, EventType: "reservation.created", Payload: testPayload{ID: 2}},
		model.OutboxMessage{ID: 3, EventType: "reservation.created", Payload: testPayload{ID: 3}},
	)
	pub := &fakePublisher{failOn: map[uint64]bool{2: true}}
	r := NewRelay(&fakeLocker{}, pub, relayCfg(), stream)

	before := time.Now().UTC()
	r.tick(context.Background())

	// rows 1 and 3 went out despite row 2 failing
	if len(stream.published) != 2 {
		t.Fatalf("marked rows = %v, want ids 1 and 3", stream.published)
	}
	if got := stream.retries[2]; got != 4 {
		t.Errorf("retry_count = %d, want 4", got)
	}
	// retryCount 3 means the fourth failure: delay 30s * 2^3 = 240s
	wantDelay := 240 * time.Second
	next := stream.rescheduled[2]
	if d := next.Sub(before); d < wantDelay-time.Second || d > wantDelay+time.Second {
		t.Errorf("next_retry_at delay = %s, want about %s", d, wantDelay)
	}
}

func TestRelaySkipsWhenLockHeld(t *testing.T) {
	stream := newFakeStream("created",
		model.OutboxMessage{ID: 1, EventType: "reservation.created", Payload: testPayload{ID: 1}},
	)
	pub := &fakePublisher{}
	locks := &fakeLocker{held: true}
	r := NewRelay(locks, pub, relayCfg(), stream)

	r.tick(context.Background())

	if len(pub.sent) != 0 {
		t.Fatalf("published %d messages under a held lock, want 0", len(pub.sent))
	}
	if locks.releases != 0 {
		t.Errorf("released a lock it never held")
	}
}

func TestBackoffDelay(t *testing.T) {
	base, max := 30*time.Second, time.Hour
	cases := []struct {
		retries uint32
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{3, 240 * time.Second},
		{6, 1920 * time.Second},
		{7, time.Hour},  // 3840s capped
		{8, time.Hour},
		{40, time.Hour}, // shift would overflow
	}
	for _, tc := range cases {
		if got := backoffDelay(base, max, tc.retries); got != tc.want {
			t.Errorf("backoffDelay(retries=%d) = %s, want %s", tc.retries, got, tc.want)
		}
	}
}
