package blake2b

import (
	"encoding/binary"
	"fmt"
)

// Config holds the user-visible parameters of a BLAKE2b hash instance.
type Config struct {
	// Size is the digest length in bytes, between 1 and Size.
	Size int
	// Key turns the hash into a MAC. Up to KeyLength bytes, may be nil.
	Key []byte
	// Salt is up to SaltLength bytes. Shorter salts are right-padded with zero.
	Salt []byte
	// Personalization is up to SeparatorLength bytes. Shorter strings are
	// right-padded with zero.
	Personalization []byte
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidParameter)
	}
	if c.Size < 1 || c.Size > Size {
		return fmt.Errorf("%w: digest size %d not in [1, %d]", ErrInvalidParameter, c.Size, Size)
	}
	if len(c.Key) > KeyLength {
		return fmt.Errorf("%w: key length %d exceeds %d", ErrInvalidParameter, len(c.Key), KeyLength)
	}
	if len(c.Salt) > SaltLength {
		return fmt.Errorf("%w: salt length %d exceeds %d", ErrInvalidParameter, len(c.Salt), SaltLength)
	}
	if len(c.Personalization) > SeparatorLength {
		return fmt.Errorf("%w: personalization length %d exceeds %d",
			ErrInvalidParameter, len(c.Personalization), SeparatorLength)
	}
	return nil
}

// parameterBlock is XOR'd with the IV at the beginning of the hash. Only
// sequential mode is supported, so the tree fields stay at their defaults.
// They are kept so the layout below reads like the one in the BLAKE2 paper.
type parameterBlock struct {
	digestLength byte   // 0
	keyLength    byte   // 1
	fanout       byte   // 2
	depth        byte   // 3
	leafLength   uint32 // 4-7
	nodeOffset   uint64 // 8-15
	nodeDepth    byte   // 16
	innerLength  byte   // 17
	// 18-31 reserved
	salt            [SaltLength]byte      // 32-47
	personalization [SeparatorLength]byte // 48-63
}

func newParameterBlock(c *Config) parameterBlock {
	p := parameterBlock{
		digestLength: byte(c.Size),
		keyLength:    byte(len(c.Key)),
		fanout:       1,
		depth:        1,
	}
	copy(p.salt[:], c.Salt)
	copy(p.personalization[:], c.Personalization)
	return p
}

func (p *parameterBlock) marshal() [64]byte {
	var buf [64]byte
	buf[0] = p.digestLength
	buf[1] = p.keyLength
	buf[2] = p.fanout
	buf[3] = p.depth
	binary.LittleEndian.PutUint32(buf[4:], p.leafLength)
	binary.LittleEndian.PutUint64(buf[8:], p.nodeOffset)
	buf[16] = p.nodeDepth
	buf[17] = p.innerLength
	copy(buf[32:], p.salt[:])
	copy(buf[48:], p.personalization[:])
	return buf
}

// chainingValue derives the initial chaining value from the parameter block.
func (p *parameterBlock) chainingValue() [8]uint64 {
	buf := p.marshal()
	var h [8]uint64
	for i := range h {
		h[i] = iv[i] ^ binary.LittleEndian.Uint64(buf[i*8:])
	}
	return h
}
