package frame

// IE is one information element in a header-IE or payload-IE sequence.
// Control byte layout (spec.md §4.C): bits 7-6 size class, bit 5
// category (0=header, 1=payload), bits 4-0 subtype.
type IE struct {
	Payload bool // false = header IE, true = payload IE
	Subtype byte // 0-31
	Data    []byte
}

// Header/payload IE subtypes (spec.md §4.C's defined IE list).
const (
	IETerminator    byte = 0 // both categories: size 0, subtype 0
	IESequenceNum   byte = 1 // header: u16
	IECipherInfo    byte = 2 // header: u16
	IEFrag0         byte = 1 // payload: dgram_size:11, dgram_tag:5
	IEFragN         byte = 2 // payload: dgram_offset:11, dgram_tag:5
	IEMIC           byte = 3 // payload: algo:u8, size:u4 (low nibble of 2nd byte)
)

const (
	sizeClass0 = 0 // no payload
	sizeClass1 = 1 // no payload (spec.md: distinct code, same effect)
	sizeClass2 = 2 // 2-byte payload
	sizeClass3 = 3 // length-prefixed payload
)

func (ie IE) isTerminator() bool { return ie.Subtype == IETerminator && len(ie.Data) == 0 }

func terminator(payload bool) IE { return IE{Payload: payload, Subtype: IETerminator} }

// sizeClassFor picks the size class that represents Data without
// ambiguity: 0 bytes -> class 0, 2 bytes -> class 2 (the only fixed
// non-empty size this catalog defines), anything else -> class 3
// (length-prefixed).
func sizeClassFor(data []byte) byte {
	switch len(data) {
	case 0:
		return sizeClass0
	case 2:
		return sizeClass2
	default:
		return sizeClass3
	}
}

// encodeIE appends ie's wire encoding to buf.
func encodeIE(buf []byte, ie IE) ([]byte, error) {
	if ie.Subtype > 0x1f {
		return nil, structErr("IE subtype %d out of range", ie.Subtype)
	}
	class := sizeClassFor(ie.Data)
	ctl := class<<6 | ie.Subtype
	if ie.Payload {
		ctl |= 0x20
	}
	buf = append(buf, ctl)
	if class == sizeClass3 {
		if len(ie.Data) > 0xff {
			return nil, structErr("IE payload too long: %d bytes", len(ie.Data))
		}
		buf = append(buf, byte(len(ie.Data)))
	}
	buf = append(buf, ie.Data...)
	return buf, nil
}

// decodeIESeq parses a sequence of IEs of the given category
// (payload=false for header IEs, true for payload IEs) starting at
// data[0], stopping at (and consuming) the matching terminator.
// Returns the parsed IEs, the number of bytes consumed including the
// terminator, and an error if the sequence runs out of bytes or never
// terminates.
func decodeIESeq(data []byte, payload bool) ([]IE, int, error) {
	var ies []IE
	pos := 0
	for {
		if pos >= len(data) {
			return nil, 0, structErr("IE sequence truncated, missing terminator")
		}
		ctl := data[pos]
		class := ctl >> 6
		cat := ctl&0x20 != 0
		subtype := ctl & 0x1f
		pos++

		var body []byte
		switch class {
		case sizeClass0, sizeClass1:
			// no payload
		case sizeClass2:
			if pos+2 > len(data) {
				return nil, 0, structErr("IE truncated: need 2 bytes")
			}
			body = data[pos : pos+2]
			pos += 2
		case sizeClass3:
			if pos >= len(data) {
				return nil, 0, structErr("IE truncated: missing length byte")
			}
			n := int(data[pos])
			pos++
			if pos+n > len(data) {
				return nil, 0, structErr("IE truncated: declared %d bytes, not available", n)
			}
			body = data[pos : pos+n]
			pos += n
		}

		ie := IE{Payload: cat, Subtype: subtype, Data: append([]byte(nil), body...)}
		if cat != payload {
			return nil, 0, structErr("IE category mismatch in sequence")
		}
		if ie.isTerminator() {
			return ies, pos, nil
		}
		ies = append(ies, ie)
	}
}

// encodeIESeq appends ies followed by their category's terminator.
func encodeIESeq(buf []byte, ies []IE, payload bool) ([]byte, error) {
	var err error
	for _, ie := range ies {
		if ie.Payload != payload {
			return nil, structErr("IE category mismatch while encoding")
		}
		buf, err = encodeIE(buf, ie)
		if err != nil {
			return nil, err
		}
	}
	return encodeIE(buf, terminator(payload))
}

// NewSequenceNumberIE builds a header IE carrying a 16-bit sequence
// number, big-endian.
func NewSequenceNumberIE(seq uint16) IE {
	return IE{Subtype: IESequenceNum, Data: []byte{byte(seq >> 8), byte(seq)}}
}

// NewMICIE builds a payload IE declaring the MIC algorithm and size
// (size is a 4-bit nibble per spec.md §4.C, stored in the data byte's
// low nibble).
func NewMICIE(algo byte, size byte) IE {
	return IE{Payload: true, Subtype: IEMIC, Data: []byte{algo, size & 0x0f}}
}
