package phy

import "time"

// Kind distinguishes a receive window from a transmit burst.
type Kind int

const (
	KindRX Kind = iota
	KindTX
)

// RxCallback receives a completed reception: a timestamp, the raw
// frame bytes, and the RSSI/SNR the chip measured for it (spec.md
// §4.B). The timestamp is the loop time at which PHY handled the
// RxDone interrupt, not the earlier time the valid header was detected.
type RxCallback func(hdrTime time.Time, frameBytes []byte, rssiDBm int32, snrDB float32)

// Action is one scheduled radio operation, posted by the owner via
// PostRxAction/PostTxAction.
type Action struct {
	Kind Kind

	// Immediate requests "transmit as soon as possible", jumping the
	// time-indexed queue entirely. At is ignored when true.
	Immediate bool
	At        time.Time

	// Duration is the RXONCE window length for an RX action; unused
	// for TX.
	Duration time.Duration

	// Settings overrides the base settings for the duration of this
	// action only (e.g. a one-off frequency or SF change).
	Settings map[string]int64

	// Payload is the frame bytes to transmit; TX only.
	Payload []byte

	// Callback overrides the default RX callback for this one
	// reception; RX only. Nil means use the registered default.
	Callback RxCallback
}

// soonThreshold is spec.md §4.B's "due within 40ms" cutoff that lets a
// queued action preempt an idle lingering state immediately.
const soonThreshold = 40 * time.Millisecond

type timedEntry struct {
	at     time.Time
	action Action
}

// ActionQueue is the two-part FIFO-ordered action store spec.md §4.B
// describes: an immediate LIFO stack, and a time-indexed store where
// same-time collisions are broken by a small epsilon nudge so FIFO
// order survives among equal-time posts.
type ActionQueue struct {
	immediate []Action
	timed     []timedEntry // kept sorted ascending by at
}

// NewActionQueue returns an empty queue.
func NewActionQueue() *ActionQueue { return &ActionQueue{} }

// Push enqueues a, onto the immediate stack if a.Immediate, otherwise
// into the time-indexed store at a.At (nudged forward by a nanosecond
// at a time until no collision remains).
func (q *ActionQueue) Push(a Action) {
	if a.Immediate {
		q.immediate = append(q.immediate, a)
		return
	}
	at := a.At
	for collides(q.timed, at) {
		at = at.Add(time.Nanosecond)
	}
	i := 0
	for i < len(q.timed) && !q.timed[i].at.After(at) {
		i++
	}
	q.timed = append(q.timed, timedEntry{})
	copy(q.timed[i+1:], q.timed[i:])
	q.timed[i] = timedEntry{at: at, action: a}
}

func collides(timed []timedEntry, at time.Time) bool {
	for _, e := range timed {
		if e.at.Equal(at) {
			return true
		}
	}
	return false
}

// Peek reports the head action (immediate actions take priority over
// the earliest timed one), whether it counts as "soon" (due within
// soonThreshold, or itself immediate), and whether the queue has any
// action at all.
func (q *ActionQueue) Peek(now time.Time) (action Action, soon bool, ok bool) {
	if len(q.immediate) > 0 {
		return q.immediate[len(q.immediate)-1], true, true
	}
	if len(q.timed) == 0 {
		return Action{}, false, false
	}
	head := q.timed[0]
	return head.action, head.at.Sub(now) < soonThreshold, true
}

// Pop removes and returns the head action, by the same priority rule
// as Peek.
func (q *ActionQueue) Pop() (Action, bool) {
	if len(q.immediate) > 0 {
		n := len(q.immediate) - 1
		a := q.immediate[n]
		q.immediate = q.immediate[:n]
		return a, true
	}
	if len(q.timed) == 0 {
		return Action{}, false
	}
	a := q.timed[0].action
	q.timed = q.timed[1:]
	return a, true
}

// Empty reports whether the queue holds no actions at all.
func (q *ActionQueue) Empty() bool { return len(q.immediate) == 0 && len(q.timed) == 0 }

// NextTimedAt returns the fire time of the earliest timed (non
// immediate) action and true, or the zero time and false if there is
// none. Pending immediate actions are not considered.
func (q *ActionQueue) NextTimedAt() (time.Time, bool) {
	if len(q.timed) == 0 {
		return time.Time{}, false
	}
	return q.timed[0].at, true
}
