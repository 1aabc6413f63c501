// Package keystore manages the BGPsec router key material used to validate
// and generate path signatures (RFC 8205). Keys are indexed by ASN and
// Subject Key Identifier (SKI), bucketed for fast lookup, with explicit
// support for SKI/ASN collisions (more than one key registered under the
// same identity, as happens during key rollover).
package keystore
