package usrnet

import (
	"encoding/binary"
)

// CRC791 implements the Internet checksum defined by RFC 791: the 16-bit
// ones' complement of the ones' complement sum of all 16-bit words in the
// covered region. An odd trailing byte is treated as the high octet of a
// zero-padded trailing word.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
	odd bool
	// pending holds a carried-over high octet when a previous Write call
	// ended on an odd boundary, so multi-call writers (pseudo-header then
	// payload) still checksum correctly across the seam.
	pending byte
}

func checksum16(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, so an additional round is enough
	return ^uint16(sum + sum>>16)
}

// Write adds the bytes in buff to the running checksum, handling an odd
// length by carrying the final byte into the next Write call or, if this is
// the last call, padding it as the low octet is normally padded.
func (c *CRC791) Write(buff []byte) {
	if c.odd {
		var word [2]byte
		word[0] = c.pending
		if len(buff) > 0 {
			word[1] = buff[0]
			buff = buff[1:]
		}
		c.sum += uint32(binary.BigEndian.Uint16(word[:]))
		c.odd = false
	}
	n := len(buff) &^ 1
	c.sum += checksumWriteEven(0, buff[:n])
	if len(buff)&1 != 0 {
		c.pending = buff[n]
		c.odd = true
	}
}

// WriteEven adds the bytes in buff to the running checksum. buff must have
// even length.
func (c *CRC791) WriteEven(buff []byte) {
	c.sum = checksumWriteEven(c.sum, buff)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
	}
	return sum
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	c.sum += uint32(value)
}

// Sum16 calculates the checksum with the data written to c thus far,
// flushing any pending odd trailing byte as the high octet of a padded word.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	if c.odd {
		sum += uint32(c.pending) << 8
	}
	return checksum16(sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in buff to
// the running checksum, without mutating c.
func (c *CRC791) PayloadSum16(buff []byte) uint16 {
	cp := *c
	cp.Write(buff)
	return cp.Sum16()
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// NeverZeroChecksum ensures that the given checksum is not zero, by returning
// 0xffff instead, since 0x0000 and 0xffff are equal in ones' complement math
// and RFC 768 reserves zero to mean "no checksum computed".
func NeverZeroChecksum(sum16 uint16) uint16 {
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}
