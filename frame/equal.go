package frame

import "bytes"

// Equal reports whether f and other carry the same frame, treating a
// nil byte slice/IE slice as equal to an empty one so that a frame
// built by hand and the same frame round-tripped through Parse compare
// equal regardless of which representation left a field nil.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.PID != other.PID || f.Fctl != other.Fctl {
		return false
	}
	if (f.NetID == nil) != (other.NetID == nil) {
		return false
	}
	if f.NetID != nil && *f.NetID != *other.NetID {
		return false
	}
	if !bytes.Equal(f.Daddr, other.Daddr) || !bytes.Equal(f.Saddr, other.Saddr) || !bytes.Equal(f.Taddr, other.Taddr) {
		return false
	}
	if f.Hops != other.Hops {
		return false
	}
	if !bytes.Equal(f.Payload, other.Payload) || !bytes.Equal(f.MIC, other.MIC) {
		return false
	}
	return ieSliceEqual(f.HeaderIEs, other.HeaderIEs) && ieSliceEqual(f.PayloadIEs, other.PayloadIEs)
}

func ieSliceEqual(a, b []IE) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Payload != b[i].Payload || a[i].Subtype != b[i].Subtype || !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
