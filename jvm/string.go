package jvm

import (
	"github.com/wippyai/jvm-runtime/mutf8"
)

// Length returns the string's length in UTF-16 code units, as the VM
// counts it.
func (s *Str) Length(cap *Capability) int {
	s.e.borrowClear(cap, "Str.Length")
	return int(s.e.table.GetStringLength(s.use("Str.Length")))
}

// UTFLength returns the string's Modified-UTF-8 byte length, terminator
// excluded.
func (s *Str) UTFLength(cap *Capability) int {
	s.e.borrowClear(cap, "Str.UTFLength")
	return int(s.e.table.GetStringUTFLength(s.use("Str.UTFLength")))
}

// Text copies the string out of the VM and decodes it. The VM-side buffer
// is released before returning on every path.
func (s *Str) Text(cap *Capability) (string, error) {
	s.e.borrowClear(cap, "Str.Text")
	ref := s.use("Str.Text")
	chars, _ := s.e.table.GetStringUTFChars(ref)
	defer s.e.table.ReleaseStringUTFChars(ref, chars)
	return mutf8.Decode(chars)
}

// Region decodes length UTF-16 code units starting at start. An
// out-of-range region raises an exception in the VM. The region accessor
// returns an unterminated buffer, so decoding goes through DecodeAll.
func (s *Str) Region(cap *Capability, start, length int) (string, *Capability, error) {
	s.e.consumeClear(cap, "Str.Region")
	raw := s.e.table.GetStringUTFRegion(s.use("Str.Region"), int32(start), int32(length))
	if s.e.table.ExceptionCheck() {
		return "", nil, s.e.thrown("Str.Region")
	}
	out, err := mutf8.DecodeAll(raw)
	return out, s.e.issueClear(), err
}
