package phy

import (
	"testing"
	"time"
)

// TestActionQueuePreservesPostOrderOnTies is spec.md §8 PHY scenario 4:
// two tx actions posted with identical timestamps are executed in post
// order, via Push's epsilon-nudge collision handling.
func TestActionQueuePreservesPostOrderOnTies(t *testing.T) {
	q := NewActionQueue()
	at := time.Now()

	first := Action{Kind: KindTX, At: at, Payload: []byte("first")}
	second := Action{Kind: KindTX, At: at, Payload: []byte("second")}
	q.Push(first)
	q.Push(second)

	a, ok := q.Pop()
	if !ok || string(a.Payload) != "first" {
		t.Fatalf("first pop = %+v, want payload 'first'", a)
	}
	a, ok = q.Pop()
	if !ok || string(a.Payload) != "second" {
		t.Fatalf("second pop = %+v, want payload 'second'", a)
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining both ties")
	}
}

func TestActionQueueImmediateOutranksTimed(t *testing.T) {
	q := NewActionQueue()
	q.Push(Action{Kind: KindTX, At: time.Now(), Payload: []byte("timed")})
	q.Push(Action{Kind: KindTX, Immediate: true, Payload: []byte("immediate")})

	a, soon, ok := q.Peek(time.Now())
	if !ok || !soon || string(a.Payload) != "immediate" {
		t.Fatalf("Peek = %+v soon=%v, want the immediate action", a, soon)
	}
}

func TestActionQueuePeekSoonThreshold(t *testing.T) {
	q := NewActionQueue()
	now := time.Now()
	q.Push(Action{Kind: KindTX, At: now.Add(500 * time.Millisecond)})

	if _, soon, ok := q.Peek(now); !ok || soon {
		t.Fatal("an action 500ms out should not be reported soon")
	}
	if _, soon, ok := q.Peek(now.Add(470 * time.Millisecond)); !ok || !soon {
		t.Fatal("an action due in under 40ms should be reported soon")
	}
}
