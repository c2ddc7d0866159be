package frame

import "testing"

func roundTrip(t *testing.T, f *Frame) []byte {
	t.Helper()
	b, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse(serialize(f)): %v", err)
	}
	if !f.Equal(got) {
		t.Fatalf("parse(serialize(f)) != f\n  f   = %+v\n  got = %+v", f, got)
	}
	return b
}

func TestRoundTripShortAddrs(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{0x01, 0x02}).WithSaddr([]byte{0x03, 0x04}).WithPayload([]byte("hi"))
	roundTrip(t, f)
}

func TestRoundTripLongAddrsAndNetID(t *testing.T) {
	f := New(PIDCSMA).WithLongAddrs(true).
		WithNetID(0xBEEF).
		WithDaddr([]byte{1, 2, 3, 4, 5, 6, 7, 8}).
		WithSaddr([]byte{8, 7, 6, 5, 4, 3, 2, 1}).
		WithPayload([]byte{0xAA, 0xBB, 0xCC})
	roundTrip(t, f)
}

func TestRoundTripWithIEs(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{0, 1}).
		WithIEs([]IE{NewSequenceNumberIE(42)}, nil).
		WithPayload([]byte{0x01})
	roundTrip(t, f)
}

func TestRoundTripMultiHop(t *testing.T) {
	f := New(PIDCSMA).WithLongAddrs(true).
		WithDaddr(make([]byte, 8)).
		WithSaddr(make([]byte, 8)).
		WithPayload([]byte{0x42}).
		WithMultiHop(3, make([]byte, 8))
	roundTrip(t, f)
}

func TestRoundTripMICWithDeclaredSize(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 1}).
		WithIEs(nil, []IE{NewMICIE(1, 4)}).
		WithPayload([]byte{0x10, 0x20}).
		WithMIC([]byte{1, 2, 3, 4})
	roundTrip(t, f)
}

func TestParseThenSerializeIsIdentity(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{9, 9}).WithPayload([]byte("round"))
	orig, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := Parse(orig)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	again, err := parsed.Serialize()
	if err != nil {
		t.Fatalf("re-Serialize: %v", err)
	}
	if string(again) != string(orig) {
		t.Fatalf("serialize(parse(b)) != b:\n  orig  = % x\n  again = % x", orig, again)
	}
}

func TestSetAddrWrongLengthFailsSerialize(t *testing.T) {
	f := New(PIDCSMA)
	f.Daddr = []byte{1, 2, 3} // bypass the setter's own bookkeeping to test validate()
	f.Fctl |= FctlD
	if _, err := f.Serialize(); err == nil {
		t.Fatal("expected structure error for 3-byte Daddr")
	}
}

func TestUnsettingDaddrClearsFctlD(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 2})
	if f.Fctl&FctlD == 0 {
		t.Fatal("Fctl.D not set after WithDaddr")
	}
	f.WithDaddr(nil)
	if f.Fctl&FctlD != 0 {
		t.Fatal("Fctl.D still set after clearing Daddr")
	}
}

func TestXWithDaddrFailsSerialize(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 2})
	f.Fctl |= FctlX
	if _, err := f.Serialize(); err == nil {
		t.Fatal("expected structure error for Fctl.X with Daddr set")
	}
}

func TestOversizeFrameFailsSerialize(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 2}).WithPayload(make([]byte, 300))
	if _, err := f.Serialize(); err == nil {
		t.Fatal("expected structure error for oversize frame")
	}
}

func TestParseRejectsWrongPID(t *testing.T) {
	if _, err := Parse([]byte{0x00, 0x00}); err == nil {
		t.Fatal("expected error for non-Heymac PID")
	}
}

func TestParseRejectsReservedSubProtocol(t *testing.T) {
	// 0xE1: upper nibble 0xE is Heymac, but the lower nibble names
	// neither TDMA (0x0) nor CSMA (0x4).
	if _, err := Parse([]byte{0xE1, 0x00}); err == nil {
		t.Fatal("expected error for reserved sub-protocol")
	}
}

func TestSerializeRejectsReservedSubProtocol(t *testing.T) {
	f := New(0xE1).WithDaddr([]byte{1, 2})
	if _, err := f.Serialize(); err == nil {
		t.Fatal("expected structure error for reserved sub-protocol")
	}
}

func TestParseRejectsMissingIETerminator(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 2}).
		WithIEs([]IE{NewSequenceNumberIE(1)}, nil)
	b, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// Drop the final byte (the mandatory pIE terminator) so the IE
	// sequence never closes.
	if _, err := Parse(b[:len(b)-1]); err == nil {
		t.Fatal("expected error for missing IE terminator")
	}
}

func TestParseRejectsTrailingByteAfterMultiHop(t *testing.T) {
	f := New(PIDCSMA).WithDaddr([]byte{1, 2}).WithPayload([]byte("x")).WithMultiHop(1, []byte{9, 9})
	b, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	b = append(b, 0xFF)
	if _, err := Parse(b); err == nil {
		t.Fatal("expected error for unconsumed trailing byte after multi-hop trailer")
	}
}
