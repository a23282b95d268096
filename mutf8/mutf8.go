package mutf8

import (
	"unicode/utf8"

	"github.com/wippyai/jvm-runtime/errors"
)

// Encode converts s to a NUL-terminated Modified-UTF-8 buffer.
//
// Encoding never fails: invalid UTF-8 in s decodes to U+FFFD during
// iteration, which is a programmer error upstream, not a runtime error
// here. The returned buffer contains no 0x00 byte except the terminator.
func Encode(s string) []byte {
	b := make([]byte, 0, EncodedLen(s))
	b = appendScalars(b, s)
	return append(b, 0x00)
}

// EncodedLen returns the exact length of Encode(s), terminator included.
func EncodedLen(s string) int {
	n := 1 // terminator
	for _, r := range s {
		switch {
		case r == 0:
			n += 2
		case r <= 0x7F:
			n++
		case r <= 0x7FF:
			n += 2
		case r <= 0xFFFF:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

// UTF16Len returns the number of UTF-16 code units s occupies, which is
// what the VM's string-length accessor reports.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func appendScalars(b []byte, s string) []byte {
	for _, r := range s {
		v := uint32(r)
		switch {
		case v == 0:
			// Overlong NUL keeps the buffer free of literal zero bytes.
			b = append(b, 0xC0, 0x80)
		case v <= 0x7F:
			b = append(b, byte(v))
		case v <= 0x7FF:
			b = append(b, 0xC0|byte(v>>6), 0x80|byte(v&0x3F))
		case v <= 0xFFFF:
			b = append(b,
				0xE0|byte(v>>12),
				0x80|byte((v>>6)&0x3F),
				0x80|byte(v&0x3F))
		default:
			// Supplementary scalars are written as a surrogate pair, each
			// half its own 3-byte group with lead byte 0xED.
			s := v - 0x10000
			b = append(b,
				0xED, 0xA0|byte(s>>16), 0x80|byte((s>>10)&0x3F),
				0xED, 0xB0|byte((s>>6)&0x0F), 0x80|byte(s&0x3F))
		}
	}
	return b
}

// Decode converts a NUL-terminated Modified-UTF-8 buffer back to a Go
// string. Decoding stops at the first bare 0x00 byte; a buffer with no
// terminator, or any byte pattern the encoder cannot produce, yields a
// decode failure rather than a guessed result.
func Decode(b []byte) (string, error) {
	return decode(b, true)
}

// DecodeAll converts an unterminated Modified-UTF-8 region, as returned by
// the VM's string-region accessor. A bare 0x00 byte is malformed here; the
// encoder only ever emits one as a terminator.
func DecodeAll(b []byte) (string, error) {
	return decode(b, false)
}

func decode(b []byte, terminated bool) (string, error) {
	out := make([]byte, 0, len(b))
	i := 0
	for i < len(b) {
		lead := b[i]
		switch {
		case lead == 0x00:
			if !terminated {
				return "", errors.DecodeFailure(i, b[i:], "bare NUL byte inside region")
			}
			return string(out), nil

		case lead <= 0x7F:
			out = append(out, lead)
			i++

		case lead == 0xC0:
			cont, err := continuation(b, i, 1)
			if err != nil {
				return "", err
			}
			if cont[0] == 0x80 {
				out = append(out, 0x00)
			} else {
				// Not the overlong NUL; an ordinary 2-byte sequence that
				// happens to use the 0xC0 lead passes through unchanged.
				out = append(out, lead, cont[0])
			}
			i += 2

		case lead >= 0xC1 && lead <= 0xDF:
			cont, err := continuation(b, i, 1)
			if err != nil {
				return "", err
			}
			out = append(out, lead, cont[0])
			i += 2

		case lead == 0xED:
			cont, err := continuation(b, i, 1)
			if err != nil {
				return "", err
			}
			if cont[0]&0xE0 != 0xA0 {
				// No surrogate marker: an ordinary 3-byte sequence.
				cont, err = continuation(b, i, 2)
				if err != nil {
					return "", err
				}
				out = append(out, lead, cont[0], cont[1])
				i += 3
				break
			}
			r, n, err := decodeSurrogatePair(b, i)
			if err != nil {
				return "", err
			}
			out = utf8.AppendRune(out, r)
			i += n

		case lead >= 0xE0 && lead <= 0xEF:
			cont, err := continuation(b, i, 2)
			if err != nil {
				return "", err
			}
			out = append(out, lead, cont[0], cont[1])
			i += 3

		default:
			// 0x80..0xBF stray continuation, or 0xF0..0xFF: the VM's
			// encoder never produces these lead bytes.
			return "", errors.DecodeFailure(i, b[i:], "invalid lead byte")
		}
	}
	if terminated {
		return "", errors.DecodeFailure(len(b), nil, "missing NUL terminator")
	}
	return string(out), nil
}

// decodeSurrogatePair reads the 6-byte encoding of a supplementary scalar
// starting at i. The field layout mirrors the encoder exactly:
//
//	ED  A0|s[19:16]  80|s[15:10]  ED  B0|s[9:6]  80|s[5:0]
//
// where s = scalar - 0x10000. Every fixed bit is checked; any mismatch is
// a decode failure, never a silently-wrong scalar.
func decodeSurrogatePair(b []byte, i int) (rune, int, error) {
	cont, err := continuation(b, i, 5)
	if err != nil {
		return 0, 0, err
	}
	hi1, hi2, lead2, lo1, lo2 := cont[0], cont[1], cont[2], cont[3], cont[4]

	if hi1&0xF0 != 0xA0 {
		return 0, 0, errors.DecodeFailure(i, b[i:], "invalid high surrogate marker")
	}
	if hi2&0xC0 != 0x80 {
		return 0, 0, errors.DecodeFailure(i, b[i:], "invalid high surrogate continuation")
	}
	if lead2 != 0xED {
		return 0, 0, errors.DecodeFailure(i, b[i:], "missing low surrogate group")
	}
	if lo1&0xF0 != 0xB0 {
		return 0, 0, errors.DecodeFailure(i, b[i:], "invalid low surrogate marker")
	}
	if lo2&0xC0 != 0x80 {
		return 0, 0, errors.DecodeFailure(i, b[i:], "invalid low surrogate continuation")
	}

	s := uint32(hi1&0x0F)<<16 | uint32(hi2&0x3F)<<10 | uint32(lo1&0x0F)<<6 | uint32(lo2&0x3F)
	return rune(s + 0x10000), 6, nil
}

// continuation returns the n bytes following the lead byte at i, failing
// if the buffer ends first.
func continuation(b []byte, i, n int) ([]byte, error) {
	if i+n >= len(b) {
		return nil, errors.DecodeFailure(i, b[i:], "truncated sequence")
	}
	return b[i+1 : i+1+n], nil
}
