package hsm

import (
	"container/heap"
	"sync"
	"time"
)

type mailItem struct {
	target *Machine
	ev     Event
}

// Loop is the single-threaded cooperative event loop. Exactly one
// goroutine calls Run; every Machine driven by this Loop is only ever
// touched from inside that goroutine, which is what lets phy and lnk
// get away with zero locking on their own state (spec.md §5).
type Loop struct {
	mailbox chan mailItem
	wake    chan struct{} // nudges Run to recompute its timer wait
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex // guards timers and subs; posting can race Run's pop
	timers  timerHeap
	nextSeq uint64
	subs    map[Signal][]*Machine

	now func() time.Time // overridable clock, for deterministic tests
}

// NewLoop creates an idle Loop. Call Run in its own goroutine to start
// processing.
func NewLoop() *Loop {
	l := &Loop{
		mailbox: make(chan mailItem, 64),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		subs:    make(map[Signal][]*Machine),
		now:     time.Now,
	}
	heap.Init(&l.timers)
	return l
}

// Time returns the loop's current notion of time, the common monotonic
// clock every Machine driven by this Loop schedules against.
func (l *Loop) Time() time.Time { return l.now() }

// Post enqueues ev for delivery to target as soon as Run's select next
// turns, preserving FIFO order against every other Post/timer-fire
// already queued. ISR callbacks and cross-machine signalling both go
// through this path — it is the only thing allowed to touch a Machine
// from outside Run's goroutine.
func (l *Loop) Post(target *Machine, ev Event) {
	select {
	case l.mailbox <- mailItem{target, ev}:
	case <-l.stop:
	}
}

// Subscribe registers m to receive ev whenever Publish(ev) is called
// with a matching Signal, implementing the "published (broadcast)"
// half of component F's signal model.
func (l *Loop) Subscribe(m *Machine, sig Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[sig] = append(l.subs[sig], m)
}

// Publish posts ev to every Machine subscribed to ev.Signal.
func (l *Loop) Publish(ev Event) {
	l.mu.Lock()
	targets := append([]*Machine(nil), l.subs[ev.Signal]...)
	l.mu.Unlock()
	for _, m := range targets {
		l.Post(m, ev)
	}
}

// PostAt arms a one-shot timer that delivers ev to target at (or after)
// at. Equal-time timers fire in post order, via a monotonically
// increasing sequence number used as the heap tiebreaker.
func (l *Loop) PostAt(at time.Time, target *Machine, ev Event) Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq++
	te := &timerEvent{at: at, seq: l.nextSeq, target: target, ev: ev, armed: true}
	heap.Push(&l.timers, te)
	l.nudge()
	return Timer{te}
}

// PostIn arms a one-shot timer that fires after d.
func (l *Loop) PostIn(d time.Duration, target *Machine, ev Event) Timer {
	return l.PostAt(l.now().Add(d), target, ev)
}

// PostEvery arms a periodic timer, first firing after period and then
// every period thereafter until Disarm'd.
func (l *Loop) PostEvery(period time.Duration, target *Machine, ev Event) Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq++
	te := &timerEvent{at: l.now().Add(period), seq: l.nextSeq, period: period, target: target, ev: ev, armed: true}
	heap.Push(&l.timers, te)
	l.nudge()
	return Timer{te}
}

// nudge wakes Run if it is blocked waiting on a stale timer, so a
// newly posted earlier deadline is noticed immediately.
func (l *Loop) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes mailbox items and due timers until Stop is called. It
// must be called from exactly one goroutine; that goroutine is the
// "single event loop" of spec.md §5.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		timer := l.nextTimerWait()
		select {
		case <-l.stop:
			return
		case item := <-l.mailbox:
			item.target.Dispatch(item.ev)
		case <-timer.C:
			l.fireDueTimers()
		case <-l.wake:
		}
		timer.Stop()
	}
}

// nextTimerWait returns a time.Timer firing when the earliest armed
// timer is due, or a Timer that never fires if the queue is empty or
// every pending entry has been Disarm'd (they're popped lazily in
// fireDueTimers).
func (l *Loop) nextTimerWait() *time.Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.timers.Len() > 0 && !l.timers[0].armed {
		heap.Pop(&l.timers)
	}
	if l.timers.Len() == 0 {
		return time.NewTimer(24 * time.Hour)
	}
	d := l.timers[0].at.Sub(l.now())
	if d < 0 {
		d = 0
	}
	return time.NewTimer(d)
}

func (l *Loop) fireDueTimers() {
	now := l.now()
	for {
		l.mu.Lock()
		if l.timers.Len() == 0 || l.timers[0].at.After(now) {
			l.mu.Unlock()
			break
		}
		te := heap.Pop(&l.timers).(*timerEvent)
		if !te.armed {
			l.mu.Unlock()
			continue
		}
		if te.period > 0 {
			te.at = te.at.Add(te.period)
			heap.Push(&l.timers, te)
		}
		l.mu.Unlock()
		te.target.Dispatch(te.ev)
	}
}

// Stop halts Run and waits for it to return.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}
