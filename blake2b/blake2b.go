// Package blake2b implements the BLAKE2b secure hashing algorithm with support
// for keying, salting and personalization. BLAKE2b is optimized for 64-bit
// platforms and produces digests of any size between 1 and 64 bytes.
//
// A Hasher accepts any number of Update calls followed by exactly one
// Finalize. It also satisfies hash.Hash, whose Sum does not end the hasher's
// lifetime.
package blake2b

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
)

// The constant values will be different for other BLAKE2 variants. These are
// appropriate for BLAKE2b.
const (
	// Maximum length of the key, in bytes.
	KeyLength = 64
	// Maximum digest size, in bytes.
	Size = 64
	// Digest size of BLAKE2b-256, in bytes.
	Size256 = 32
	// Max size of the salt, in bytes
	SaltLength = 16
	// Max size of the personalization string, in bytes
	SeparatorLength = 16
	// Number of G function rounds for BLAKE2b.
	RoundCount = 12
	// Size of a block buffer in bytes
	BlockSize = 128

	lastBlock = ^uint64(0)
)

// Initialization vector for BLAKE2b, shared with SHA-512.
var iv = [8]uint64{
	0x6a09e667f3bcc908, 0xbb67ae8584caa73b, 0x3c6ef372fe94f82b, 0xa54ff53a5f1d36f1,
	0x510e527fade682d1, 0x9b05688c2b3e6c1f, 0x1f83d9abfb41bd6b, 0x5be0cd19137e2179,
}

var (
	// ErrInvalidParameter is returned when a hasher is requested with an
	// out-of-range digest size, key, salt or personalization.
	ErrInvalidParameter = errors.New("blake2b: invalid parameter")
	// ErrState is returned by Update and Finalize once the digest has been
	// produced.
	ErrState = errors.New("blake2b: hasher already finalized")
)

var _ hash.Hash = (*Hasher)(nil)

// Hasher represents the internal state of the BLAKE2b algorithm. A Hasher
// must not be used from several goroutines at once. Once finalized, Sum keeps
// returning the final digest until Reset.
type Hasher struct {
	h      [8]uint64
	t0, t1 uint64
	f0, f1 uint64

	buf    [BlockSize]byte
	offset int // current offset inside the block

	size      int
	finalized bool
	digest    [Size]byte

	// Needed by Reset.
	ih     [8]uint64
	key    [BlockSize]byte
	keyLen int
}

// New returns a Hasher producing size bytes of output. A non-empty key turns
// the hash into a MAC; an empty or nil key gives the plain hash.
func New(size int, key []byte) (*Hasher, error) {
	return NewWithConfig(&Config{Size: size, Key: key})
}

// New512 returns an unkeyed Hasher for BLAKE2b-512.
func New512() *Hasher {
	d, _ := New(Size, nil)
	return d
}

// New256 returns an unkeyed Hasher for BLAKE2b-256.
func New256() *Hasher {
	d, _ := New(Size256, nil)
	return d
}

// NewWithConfig constructs a Hasher from a full configuration.
func NewWithConfig(c *Config) (*Hasher, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	p := newParameterBlock(c)

	d := &Hasher{
		ih:     p.chainingValue(),
		size:   c.Size,
		keyLen: len(c.Key),
	}
	copy(d.key[:], c.Key)
	d.Reset()
	return d, nil
}

// Reset returns the hasher to the state right after construction, including
// the absorbed key block. A finalized hasher becomes usable again.
func (d *Hasher) Reset() {
	d.h = d.ih
	d.t0, d.t1 = 0, 0
	d.f0, d.f1 = 0, 0
	clear(d.buf[:])
	d.offset = 0
	d.finalized = false
	clear(d.digest[:])

	if d.keyLen > 0 {
		// The zero-padded key is the first block. It stays buffered so that
		// an empty message still gets the last block flag on it.
		copy(d.buf[:], d.key[:])
		d.offset = BlockSize
	}
}

// Update adds more data to the running hash. The last block seen so far is
// always kept in the buffer, since only Finalize knows that it is the last
// one.
func (d *Hasher) Update(data []byte) error {
	if d.finalized {
		return fmt.Errorf("%w: update called after finalize", ErrState)
	}
	d.absorb(data)
	return nil
}

func (d *Hasher) absorb(data []byte) {
	for len(data) > 0 {
		if d.offset == BlockSize {
			// More input follows, so the buffered block is not the last.
			d.increment(BlockSize)
			d.compress(d.buf[:])
			d.offset = 0
		}

		if d.offset == 0 && len(data) > BlockSize {
			d.increment(BlockSize)
			d.compress(data[:BlockSize])
			data = data[BlockSize:]
			continue
		}

		n := copy(d.buf[d.offset:], data)
		d.offset += n
		data = data[n:]
	}
}

// Write adds more data to the running hash. It fails only after Finalize.
func (d *Hasher) Write(p []byte) (int, error) {
	if err := d.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finalize pads and compresses the last block and returns the digest. The
// hasher cannot be updated or finalized again until Reset.
func (d *Hasher) Finalize() ([]byte, error) {
	if d.finalized {
		return nil, fmt.Errorf("%w: finalize called twice", ErrState)
	}

	d.finish(d.digest[:d.size])

	d.finalized = true
	clear(d.buf[:])
	d.offset = 0
	return append([]byte(nil), d.digest[:d.size]...), nil
}

// Finalized reports whether Finalize has been called since construction or
// the last Reset.
func (d *Hasher) Finalized() bool { return d.finalized }

func (d *Hasher) finish(out []byte) {
	clear(d.buf[d.offset:])
	// Only the real bytes count, not the padding.
	d.increment(uint64(d.offset))
	d.f0 = lastBlock
	d.compress(d.buf[:])

	var sum [Size]byte
	for i, w := range d.h {
		binary.LittleEndian.PutUint64(sum[i*8:], w)
	}
	copy(out, sum[:d.size])
}

// Sum appends the digest of the data written so far to b. It does not change
// the underlying hash state.
func (d *Hasher) Sum(b []byte) []byte {
	if d.finalized {
		return append(b, d.digest[:d.size]...)
	}

	// if there's space, reuse the b slice
	var out []byte
	if n := len(b) + d.size; cap(b) >= n {
		out = b[:n]
	} else {
		out = make([]byte, n)
		copy(out, b)
	}

	dCopy := *d
	dCopy.finish(out[len(b):])
	return out
}

// Size returns the digest output size in bytes.
func (d *Hasher) Size() int { return d.size }

// BlockSize returns the hash's underlying block size. The Write method must be
// able to accept any amount of data, but it may operate more efficiently if
// all writes are a multiple of the block size.
func (d *Hasher) BlockSize() int { return BlockSize }

// Sum512 returns the BLAKE2b-512 checksum of the data.
func Sum512(data []byte) [Size]byte {
	var sum [Size]byte
	d := New512()
	d.absorb(data)
	d.finish(sum[:])
	return sum
}

// Sum256 returns the BLAKE2b-256 checksum of the data.
func Sum256(data []byte) [Size256]byte {
	var sum [Size256]byte
	d := New256()
	d.absorb(data)
	d.finish(sum[:])
	return sum
}

// Sum returns the size-byte, optionally keyed, checksum of the data.
func Sum(data []byte, size int, key []byte) ([]byte, error) {
	d, err := New(size, key)
	if err != nil {
		return nil, err
	}
	if err := d.Update(data); err != nil {
		return nil, err
	}
	return d.Finalize()
}
