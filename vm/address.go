package vm

import "fmt"

// Address is a validated, non-negative memory offset.
type Address uint64

// RelativeOffset is a signed displacement from the relative base.
type RelativeOffset int64

// NewAddress converts a word to an Address, rejecting negative values.
func NewAddress(w Word) (Address, error) {
	if w < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAddress, w)
	}
	return Address(w), nil
}

// Param returns the address of parameter i of the instruction at a.
func (a Address) Param(i int) Address {
	return a + Address(i) + 1
}

// Offset adds o to a. The result must stay non-negative and must not
// overflow.
func (a Address) Offset(o RelativeOffset) (Address, error) {
	base := Word(a)
	sum := base + Word(o)
	if base < 0 || sum < 0 || (o > 0 && sum < base) {
		return 0, fmt.Errorf("%w: %d%+d", ErrInvalidAddress, a, o)
	}
	return Address(sum), nil
}
