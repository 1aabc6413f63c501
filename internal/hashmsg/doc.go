// Package hashmsg builds the BGPsec hash-input buffers used to verify or
// generate Signature_Block entries (RFC 8205 Section 3.3). Rather than the
// pointer-chasing struct the reference crypto API returns (SCA_HashMessage,
// whose per-segment entries are raw pointers into one shared buffer), this
// package returns one owned []byte per segment: each segment's digest
// needs every older segment's signature folded in while omitting its own,
// which no single contiguous byte range can express for every index at
// once, so Go gets independent slices rather than a shared-buffer pointer
// map.
package hashmsg
