package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a notification is dropped by a Throttled notifier.
var ErrThrottled = errors.New("notification dropped: rate limit exceeded")

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier, even after a failure, and joins the errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many notifiers are combined.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Throttled limits how often the wrapped notifier is called. A burst of
// failures produces at most perMinute notifications per minute; the rest are
// dropped and counted.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter

	mu      sync.Mutex
	dropped int
}

func NewThrottled(next Notifier, perMinute int) *Throttled {
	if perMinute < 1 {
		perMinute = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (t *Throttled) Send(ctx context.Context, title, body string) error {
	if !t.limiter.Allow() {
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		return ErrThrottled
	}
	return t.next.Send(ctx, title, body)
}

// Dropped returns the number of notifications suppressed so far.
func (t *Throttled) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
