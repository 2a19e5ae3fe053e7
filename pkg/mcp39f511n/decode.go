// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

// Reply is a complete reply as received from the chip:
//
//	[ACK][count][data...][checksum]
//
// Field accessors take a logical address relative to the first data byte
// and read little-endian, unsigned values. Bytes beyond the reply read
// as zero; callers are expected to have validated the frame.
type Reply []byte

func (r Reply) byteAt(i int) byte {
	if i < 0 || i >= len(r) {
		return 0
	}
	return r[i]
}

// Data returns the data bytes between the count and the checksum
func (r Reply) Data() []byte {
	if len(r) < DataOffset+1 {
		return nil
	}
	return r[DataOffset : len(r)-1]
}

// Uint16 decodes 2 bytes at addr
func (r Reply) Uint16(addr int) uint16 {
	base := addr + DataOffset
	return uint16(r.byteAt(base)) | uint16(r.byteAt(base+1))<<8
}

// Uint32 decodes 4 bytes at addr
func (r Reply) Uint32(addr int) uint32 {
	base := addr + DataOffset
	return uint32(r.byteAt(base)) | uint32(r.byteAt(base+1))<<8 |
		uint32(r.byteAt(base+2))<<16 | uint32(r.byteAt(base+3))<<24
}

// Uint64 decodes 8 bytes at addr
func (r Reply) Uint64(addr int) uint64 {
	return uint64(r.Uint32(addr)) | uint64(r.Uint32(addr+4))<<32
}

// ExtractByte returns byte n of v (0 = least significant)
func ExtractByte(v uint32, n int) uint8 {
	if n < 0 || n > 3 {
		return 0
	}
	return uint8(v >> (8 * n))
}
