package model

import "unicode/utf8"

// streamDecoder accumulates raw engine pieces and releases only byte runs
// that end on a rune boundary, so multi-byte glyphs split across pieces are
// never streamed as broken sequences.
type streamDecoder struct {
	buf []byte
}

// push appends a raw piece and returns the longest decodable prefix of the
// buffer. The undecodable tail stays buffered for the next piece.
func (d *streamDecoder) push(piece string) string {
	d.buf = append(d.buf, piece...)
	n := completeRuneLen(d.buf)
	if n == 0 {
		return ""
	}
	out := string(d.buf[:n])
	d.buf = append(d.buf[:0], d.buf[n:]...)
	return out
}

// pending reports how many bytes remain buffered without a rune boundary.
func (d *streamDecoder) pending() int {
	return len(d.buf)
}

// completeRuneLen returns the length of the longest prefix of b that does
// not end in the middle of a multi-byte UTF-8 sequence. Invalid bytes pass
// through untouched.
func completeRuneLen(b []byte) int {
	n := len(b)
	if n == 0 {
		return 0
	}
	start := n - 1
	for start > 0 && n-start < utf8.UTFMax && b[start]&0xC0 == 0x80 {
		start--
	}
	c := b[start]
	switch {
	case c < utf8.RuneSelf:
		return n
	case c&0xE0 == 0xC0:
		if n-start >= 2 {
			return n
		}
	case c&0xF0 == 0xE0:
		if n-start >= 3 {
			return n
		}
	case c&0xF8 == 0xF0:
		if n-start >= 4 {
			return n
		}
	default:
		// not a lead byte; nothing to wait for
		return n
	}
	return start
}
