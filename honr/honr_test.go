package honr

import (
	"testing"

	"pgregory.net/rapid"
)

func mustAddr(t *testing.T, raw []byte) Addr {
	t.Helper()
	a, err := New(raw)
	if err != nil {
		t.Fatalf("New(% x): %v", raw, err)
	}
	return a
}

func TestNewRejectsBadLength(t *testing.T) {
	if _, err := New([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for 3-byte address")
	}
}

func TestNewRejectsMalformed(t *testing.T) {
	// 0x10, 0x00 -> nibbles [1,0,0,0]: fine (zero run after leftmost zero).
	if _, err := New([]byte{0x10, 0x00}); err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	// 0x10, 0x01 -> nibbles [1,0,0,1]: nonzero after leftmost zero: bad.
	if _, err := New([]byte{0x10, 0x01}); err == nil {
		t.Fatal("expected error for nonzero nibble after leftmost zero")
	}
}

func TestRankAndParent(t *testing.T) {
	a := mustAddr(t, []byte{0x12, 0x00}) // nibbles [1,2,0,0]
	if got := a.Rank(); got != 2 {
		t.Fatalf("Rank() = %d, want 2", got)
	}
	p, ok := a.Parent()
	if !ok {
		t.Fatal("Parent() returned ok=false for non-root address")
	}
	if p.Rank() != 1 {
		t.Fatalf("Parent().Rank() = %d, want 1", p.Rank())
	}

	root := mustAddr(t, []byte{0x00, 0x00})
	if !root.IsRoot() {
		t.Fatal("IsRoot() false for all-zero address")
	}
	if _, ok := root.Parent(); ok {
		t.Fatal("Parent() of root should return ok=false")
	}
}

func TestNearestCommonAncestor(t *testing.T) {
	a := mustAddr(t, []byte{0x12, 0x30})
	b := mustAddr(t, []byte{0x12, 0x40})
	nca, err := NearestCommonAncestor(a, b)
	if err != nil {
		t.Fatalf("NearestCommonAncestor: %v", err)
	}
	want := mustAddr(t, []byte{0x12, 0x00})
	if !addrEqual(nca, want) {
		t.Fatalf("NearestCommonAncestor = %v, want %v", nca.Bytes(), want.Bytes())
	}
}

func TestNearestCommonAncestorLengthMismatch(t *testing.T) {
	a := mustAddr(t, []byte{0x12, 0x00})
	b := mustAddr(t, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if _, err := NearestCommonAncestor(a, b); err == nil {
		t.Fatal("expected error for mismatched address lengths")
	}
}

func TestRouteSameAddress(t *testing.T) {
	a := mustAddr(t, []byte{0x12, 0x30})
	route, err := Route(a, a)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(route) != 1 || !addrEqual(route[0], a) {
		t.Fatalf("Route(a, a) = %v, want [a]", route)
	}
}

func TestRouteEndpointsAndAdjacency(t *testing.T) {
	src := mustAddr(t, []byte{0x12, 0x30})
	dst := mustAddr(t, []byte{0x14, 0x50})
	route, err := Route(src, dst)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !addrEqual(route[0], src) {
		t.Fatalf("route[0] = %v, want src %v", route[0].Bytes(), src.Bytes())
	}
	if !addrEqual(route[len(route)-1], dst) {
		t.Fatalf("route[last] = %v, want dst %v", route[len(route)-1].Bytes(), dst.Bytes())
	}
	for i := 1; i < len(route); i++ {
		d := route[i].Rank() - route[i-1].Rank()
		if d != 1 && d != -1 {
			t.Fatalf("adjacent ranks %d, %d differ by %d, want +/-1", route[i-1].Rank(), route[i].Rank(), d)
		}
	}
}

func TestShouldForward(t *testing.T) {
	resender := mustAddr(t, []byte{0x12, 0x00})
	dst := mustAddr(t, []byte{0x14, 0x50})
	route, err := Route(resender, dst)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(route) < 2 {
		t.Fatal("expected a multi-hop route for this fixture")
	}
	ok, err := ShouldForward(resender, dst, route[1])
	if err != nil {
		t.Fatalf("ShouldForward: %v", err)
	}
	if !ok {
		t.Fatal("ShouldForward() = false for the actual next hop")
	}

	notNext := mustAddr(t, []byte{0x99, 0x00})
	ok, err = ShouldForward(resender, dst, notNext)
	if err != nil {
		t.Fatalf("ShouldForward: %v", err)
	}
	if ok {
		t.Fatal("ShouldForward() = true for an address not on the route")
	}
}

func TestBroadcastValidity(t *testing.T) {
	valid := mustAddr(t, []byte{0x12, 0xff})
	if !valid.IsBroadcastValid() {
		t.Fatal("IsBroadcastValid() = false for trailing-0xf address")
	}
	if valid.IsNodeValid() {
		t.Fatal("IsNodeValid() = true for a broadcast address")
	}

	node := mustAddr(t, []byte{0x12, 0x30})
	if !node.IsNodeValid() {
		t.Fatal("IsNodeValid() = false for an ordinary node address")
	}
}

func TestMatchesBroadcastAndForwardToChild(t *testing.T) {
	bcast := mustAddr(t, []byte{0x12, 0xff})
	member := mustAddr(t, []byte{0x12, 0x3a})
	if !MatchesBroadcast(bcast, member) {
		t.Fatal("MatchesBroadcast() = false for a member of the group")
	}
	nonMember := mustAddr(t, []byte{0x13, 0x00})
	if MatchesBroadcast(bcast, nonMember) {
		t.Fatal("MatchesBroadcast() = true for an address outside the group's prefix")
	}

	fwd, err := ForwardToChild(bcast, 5)
	if err != nil {
		t.Fatalf("ForwardToChild: %v", err)
	}
	want := mustAddr(t, []byte{0x12, 0x5f})
	if !addrEqual(fwd, want) {
		t.Fatalf("ForwardToChild = %v, want %v", fwd.Bytes(), want.Bytes())
	}
}

// genWellFormedAddr generates a well-formed Addr of the given nibble
// count: a random rank r, nonzero nibbles in [0, r), zero nibbles at
// [r, n).
func genWellFormedAddr(nibbleCount int) *rapid.Generator[Addr] {
	return rapid.Custom(func(t *rapid.T) Addr {
		rank := rapid.IntRange(0, nibbleCount).Draw(t, "rank")
		nibbles := make([]byte, nibbleCount)
		for i := 0; i < rank; i++ {
			nibbles[i] = byte(rapid.IntRange(1, 14).Draw(t, "nibble"))
		}
		return withNibbles(nibbles)
	})
}

func TestPropertyRouteSelfIsSingleton(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		a := genWellFormedAddr(nibbleCount).Draw(t, "a")
		route, err := Route(a, a)
		if err != nil {
			t.Fatalf("Route(a, a): %v", err)
		}
		if len(route) != 1 || !addrEqual(route[0], a) {
			t.Fatalf("Route(a, a) = %v, want [a]", route)
		}
	})
}

func TestPropertyRouteEndpoints(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		src := genWellFormedAddr(nibbleCount).Draw(t, "src")
		dst := genWellFormedAddr(nibbleCount).Draw(t, "dst")
		route, err := Route(src, dst)
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
		if !addrEqual(route[0], src) {
			t.Fatalf("route[0] != src")
		}
		if !addrEqual(route[len(route)-1], dst) {
			t.Fatalf("route[last] != dst")
		}
	})
}

func TestPropertyRouteAdjacentRanksDifferByOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		src := genWellFormedAddr(nibbleCount).Draw(t, "src")
		dst := genWellFormedAddr(nibbleCount).Draw(t, "dst")
		route, err := Route(src, dst)
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
		for i := 1; i < len(route); i++ {
			d := route[i].Rank() - route[i-1].Rank()
			if d != 1 && d != -1 {
				t.Fatalf("ranks %d -> %d differ by %d", route[i-1].Rank(), route[i].Rank(), d)
			}
		}
	})
}

func TestPropertyNCAIsMaximalCommonPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		a := genWellFormedAddr(nibbleCount).Draw(t, "a")
		b := genWellFormedAddr(nibbleCount).Draw(t, "b")
		nca, err := NearestCommonAncestor(a, b)
		if err != nil {
			t.Fatalf("NearestCommonAncestor: %v", err)
		}
		// nca must be a prefix of both: every nonzero nibble of nca
		// matches the corresponding nibble of a and of b.
		for i := 0; i < nca.Rank(); i++ {
			if nca.Nibble(i) != a.Nibble(i) || nca.Nibble(i) != b.Nibble(i) {
				t.Fatalf("nca nibble %d not a common prefix of a, b", i)
			}
		}
		// maximality: the nibble one past nca's rank (if any) must
		// differ between a and b, unless nca.Rank() already covers one
		// of their own ranks.
		r := nca.Rank()
		if r < a.Rank() && r < b.Rank() && a.Nibble(r) == b.Nibble(r) {
			t.Fatalf("nca not maximal: nibble %d agrees in both a and b", r)
		}
	})
}

func TestPropertyParentRankInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		a := genWellFormedAddr(nibbleCount).Draw(t, "a")
		p, ok := a.Parent()
		if a.IsRoot() {
			if ok {
				t.Fatal("Parent() of root should report ok=false")
			}
			return
		}
		if !ok {
			t.Fatal("Parent() of non-root should report ok=true")
		}
		if p.Rank() != a.Rank()-1 {
			t.Fatalf("Parent().Rank() = %d, want %d", p.Rank(), a.Rank()-1)
		}
	})
}

func TestPropertyShouldForwardMatchesSecondRouteHop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nibbleCount := rapid.SampledFrom([]int{4, 16}).Draw(t, "nibbleCount")
		resender := genWellFormedAddr(nibbleCount).Draw(t, "resender")
		dst := genWellFormedAddr(nibbleCount).Draw(t, "dst")
		local := genWellFormedAddr(nibbleCount).Draw(t, "local")

		route, err := Route(resender, dst)
		if err != nil {
			t.Fatalf("Route: %v", err)
		}
		want := len(route) >= 2 && addrEqual(route[1], local)

		got, err := ShouldForward(resender, dst, local)
		if err != nil {
			t.Fatalf("ShouldForward: %v", err)
		}
		if got != want {
			t.Fatalf("ShouldForward() = %v, want %v", got, want)
		}
	})
}
