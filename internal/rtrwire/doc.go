// Package rtrwire implements the RPKI-to-Router (RTR) protocol wire codec
// (RFC 6810 / RFC 8210). It defines the PDU types, their bit-exact field
// layout, and Encode/Decode functions operating on big-endian byte slices.
//
// This package has no session or cache state: it is a pure codec, mirroring
// how the BFD control packet codec is a pure function of bytes in, struct
// out (and vice versa).
package rtrwire
