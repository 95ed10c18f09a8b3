package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually driven clock for tests.
//
// Time only moves when Advance or AdvanceTo is called. Pending After
// channels and tickers fire in deadline order as time passes them.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	waiters []*waiter
}

type waiter struct {
	id       uint64
	deadline time.Time
	ch       chan time.Time
	interval time.Duration // non-zero for tickers
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(c.now.Add(d), ch, 0)
	return ch
}

// NewTicker returns a Ticker that fires every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	id := c.add(c.now.Add(d), ch, d)
	return &fakeTicker{clock: c, id: id, ch: ch}
}

// Advance moves the clock forward by d, firing anything that comes due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.AdvanceTo(target)
}

// AdvanceTo moves the clock to t. Moving backwards is a no-op.
func (c *FakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.now) {
		return
	}

	for len(c.waiters) > 0 && !c.waiters[0].deadline.After(t) {
		w := c.waiters[0]
		c.now = w.deadline

		// Non-blocking like time.Ticker: a slow reader drops ticks.
		select {
		case w.ch <- w.deadline:
		default:
		}

		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
		} else {
			c.waiters = c.waiters[1:]
		}
		c.sortLocked()
	}
	c.now = t
}

// BlockUntilWaiters blocks until at least n timers or tickers are pending.
// Tests use it to make sure a goroutine has reached its wait point.
func (c *FakeClock) BlockUntilWaiters(n int) {
	for {
		c.mu.Lock()
		count := len(c.waiters)
		c.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Microsecond)
	}
}

// WaiterCount returns the number of pending timers and tickers.
func (c *FakeClock) WaiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *FakeClock) add(deadline time.Time, ch chan time.Time, interval time.Duration) uint64 {
	c.nextID++
	c.waiters = append(c.waiters, &waiter{
		id:       c.nextID,
		deadline: deadline,
		ch:       ch,
		interval: interval,
	})
	c.sortLocked()
	return c.nextID
}

func (c *FakeClock) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w.id == id {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// sortLocked orders waiters by deadline, then creation. Caller holds c.mu.
func (c *FakeClock) sortLocked() {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		if c.waiters[i].deadline.Equal(c.waiters[j].deadline) {
			return c.waiters[i].id < c.waiters[j].id
		}
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
}

type fakeTicker struct {
	clock *FakeClock
	id    uint64
	ch    chan time.Time
	once  sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.once.Do(func() { t.clock.remove(t.id) })
}
