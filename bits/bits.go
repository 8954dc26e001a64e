// https://github.com/usbarmory/tamago
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bits provides primitives for bitwise operations on the packed
// header fields (address, control, length) of a CMUX frame.
package bits

// Get returns the value at a specific bit position and with a bitmask
// applied.
func Get(val byte, pos int, mask int) byte {
	return byte((int(val) >> pos) & mask)
}

// Set modifies the pointed value by setting an individual bit at the
// position argument.
func Set(val *byte, pos int) {
	*val |= 1 << pos
}

// Clear modifies the pointed value by clearing an individual bit at the
// position argument.
func Clear(val *byte, pos int) {
	*val &= ^(byte(1) << pos)
}

// SetN modifies the pointed value by setting a value at a specific bit
// position and with a bitmask applied.
func SetN(val *byte, pos int, mask int, n byte) {
	*val = (*val & ^(byte(mask) << pos)) | (n << pos)
}
