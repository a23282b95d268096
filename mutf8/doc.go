// Package mutf8 implements the VM's Modified-UTF-8 string encoding.
//
// Modified-UTF-8 is the wire format every string crossing the VM boundary
// travels in. It is standard UTF-8 with two deviations:
//
//   - U+0000 is written as the overlong pair 0xC0 0x80, so a buffer never
//     contains a literal zero byte except its NUL terminator.
//   - Scalars above U+FFFF are written as a UTF-16-style surrogate pair,
//     each half encoded as its own 3-byte group, 6 bytes total:
//
//     ED A0|s[19:16] 80|s[15:10]  ED B0|s[9:6] 80|s[5:0]   (s = v - 0x10000)
//
// # Contract
//
// Encode is total and pure: the same string always produces the same
// bytes, and valid Unicode input cannot fail. Decode is strict: it accepts
// exactly the language Encode produces plus the pass-through sequences the
// VM's own encoder can emit, and reports a structured decode failure for
// everything else. Round-tripping any valid string is lossless, including
// embedded U+0000 and the full supplementary plane.
//
// # Buffer layout
//
//	Scalar range        Encoding
//	─────────────────────────────────────────────
//	U+0000              C0 80
//	U+0001..U+007F      1 byte
//	U+0080..U+07FF      2 bytes (C0|v>>6, 80|v&3F)
//	U+0800..U+FFFF      3 bytes
//	U+10000..U+10FFFF   6 bytes (surrogate pair)
//	terminator          00
//
// Decode failures are never recoverable by resynchronization: the source
// data must have come from the VM's own encoder, so a malformed byte means
// the buffer is corrupt, not merely misaligned.
package mutf8
