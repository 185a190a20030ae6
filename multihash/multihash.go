/*
Package multihash registers the BLAKE2b hasher with go-multihash for the whole
blake2b-8 through blake2b-512 code range, and produces self-describing
multihash digests with it.

Importing the package is enough to make multihash.Sum and core.GetHasher use
this implementation for those codes.
*/
package multihash

import (
	"fmt"
	"hash"

	mh "github.com/multiformats/go-multihash"
	mhcore "github.com/multiformats/go-multihash/core"

	"github.com/b2js/blake2/blake2b"
)

const (
	// Blake2bMin is the multicodec code of blake2b-8.
	Blake2bMin = 0xb201
	// Blake2bMax is the multicodec code of blake2b-512.
	Blake2bMax = 0xb240
)

func init() {
	for c := uint64(Blake2bMin); c <= Blake2bMax; c++ {
		size := int(c - Blake2bMin + 1)
		mhcore.Register(c, func() hash.Hash {
			h, err := blake2b.New(size, nil)
			if err != nil {
				panic(err)
			}
			return h
		})
	}
}

// Code returns the multicodec code for a BLAKE2b digest of size bytes.
func Code(size int) (uint64, error) {
	if size < 1 || size > blake2b.Size {
		return 0, fmt.Errorf("%w: digest size %d not in [1, %d]", blake2b.ErrInvalidParameter, size, blake2b.Size)
	}
	return Blake2bMin + uint64(size) - 1, nil
}

// Size returns the digest size encoded by a BLAKE2b multicodec code.
func Size(code uint64) (int, error) {
	if code < Blake2bMin || code > Blake2bMax {
		return 0, fmt.Errorf("code %#x is not a blake2b multihash", code)
	}
	return int(code-Blake2bMin) + 1, nil
}

// Encode wraps a raw BLAKE2b digest in a multihash.
func Encode(digest []byte) (mh.Multihash, error) {
	code, err := Code(len(digest))
	if err != nil {
		return nil, err
	}
	buf, err := mh.Encode(digest, code)
	if err != nil {
		return nil, fmt.Errorf("encode multihash: %w", err)
	}
	return mh.Multihash(buf), nil
}

// Sum hashes data with unkeyed BLAKE2b of the given size.
func Sum(data []byte, size int) (mh.Multihash, error) {
	return SumKeyed(data, size, nil)
}

// SumKeyed hashes data with BLAKE2b of the given size under key. The
// multihash does not record that a key was used.
func SumKeyed(data []byte, size int, key []byte) (mh.Multihash, error) {
	digest, err := blake2b.Sum(data, size, key)
	if err != nil {
		return nil, err
	}
	return Encode(digest)
}

// Digest extracts the raw BLAKE2b digest from a multihash, rejecting other
// hash functions.
func Digest(m mh.Multihash) ([]byte, error) {
	decoded, err := mh.Decode(m)
	if err != nil {
		return nil, fmt.Errorf("decode multihash: %w", err)
	}
	size, err := Size(decoded.Code)
	if err != nil {
		return nil, err
	}
	if decoded.Length != size {
		return nil, fmt.Errorf("multihash length %d does not match code %#x", decoded.Length, decoded.Code)
	}
	return decoded.Digest, nil
}
