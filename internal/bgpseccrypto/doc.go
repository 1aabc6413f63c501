// Package bgpseccrypto defines the pluggable BGPsec crypto provider
// capability interface (grounded on srx-crypto-api's SRxCryptoAPI method
// table) and a built-in ECDSA P-256/SHA-256 implementation. The reference
// API loads providers via dlopen against a method-table struct; this
// package replaces that indirection with a single Go interface and one
// concrete implementation registered at construction time (see DESIGN.md).
package bgpseccrypto
