package honr

// Broadcast nibble value, denoting "all descendants at this rank"
// when trailing (spec.md §3, §4.E).
const broadcastNibble = 0xf

// broadcastRun returns the index of the first member of the unbroken
// run of broadcastNibble that ends at a's last nibble, or
// len(a.nibbles) if the last nibble is not broadcastNibble. A run that
// is followed by zero nibbles is not found.
func (a Addr) broadcastRun() int {
	i := len(a.nibbles)
	for i > 0 && a.nibbles[i-1] == broadcastNibble {
		i--
	}
	return i
}

// IsBroadcastValid reports whether a is well-formed AND its 0xf
// nibbles (if any) form a run that extends to the rightmost non-zero
// nibble, with nothing non-zero after it (spec.md §4.E).
func (a Addr) IsBroadcastValid() bool {
	if !a.wellFormed() {
		return false
	}
	// a is well-formed, so every nibble from Rank() on is zero and the
	// rightmost non-zero nibble is at Rank()-1.
	start := a.Rank()
	for start > 0 && a.nibbles[start-1] == broadcastNibble {
		start--
	}
	for i := 0; i < start; i++ {
		if a.nibbles[i] == broadcastNibble {
			return false
		}
	}
	return true
}

// IsNodeValid reports whether a is well-formed and carries no
// broadcastNibble, i.e. it names one specific node rather than a
// broadcast group.
func (a Addr) IsNodeValid() bool {
	if !a.wellFormed() {
		return false
	}
	for _, n := range a.nibbles {
		if n == broadcastNibble {
			return false
		}
	}
	return true
}

// MatchesBroadcast reports whether local is a member of the broadcast
// group named by bcast: local's prefix (outside the 0xf run) must
// match bcast's, and local must have non-zero nibbles at every
// position in the run. Only a run ending at bcast's last nibble is
// recognized (see broadcastRun); for any other bcast, only an address
// equal to bcast matches.
func MatchesBroadcast(bcast, local Addr) bool {
	if bcast.Len() != local.Len() || !bcast.IsBroadcastValid() {
		return false
	}
	start := bcast.broadcastRun()
	for i := 0; i < start; i++ {
		if bcast.nibbles[i] != local.nibbles[i] {
			return false
		}
	}
	for i := start; i < len(bcast.nibbles); i++ {
		if local.nibbles[i] == 0 {
			return false
		}
	}
	return true
}

// ForwardToChild substitutes childNibble into the first broadcastNibble
// position of bcast's run, producing the address a node uses to
// forward a broadcast one level down to a specific child. It returns an
// error when bcast has no run ending at its last nibble.
func ForwardToChild(bcast Addr, childNibble byte) (Addr, error) {
	start := bcast.broadcastRun()
	if start == len(bcast.nibbles) {
		return Addr{}, addrErr("ForwardToChild: address has no broadcast run")
	}
	if childNibble == 0 || childNibble == broadcastNibble {
		return Addr{}, addrErr("ForwardToChild: child nibble %d invalid", childNibble)
	}
	nibbles := append([]byte(nil), bcast.nibbles...)
	nibbles[start] = childNibble
	return withNibbles(nibbles), nil
}
