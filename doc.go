// Package blake2 is the root of a pure Go BLAKE2b implementation.
//
// The engine lives in package blake2b: create a Hasher with a digest size of
// 1 to 64 bytes and an optional key of up to 64 bytes, feed it with Update,
// and call Finalize once to get the digest. Package multihash registers the
// engine with go-multihash, and cmd/b2sum is a command line front end.
package blake2
