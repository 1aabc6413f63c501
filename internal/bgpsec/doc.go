// Package bgpsec parses the BGPsec_PATH path attribute and implements the
// validate/sign engine on top of internal/hashmsg (digest construction) and
// internal/bgpseccrypto (the ECDSA primitive and key store). The attribute
// codec follows the framing style of internal/rtrwire even though the
// attribute itself is a BGP path attribute, not an RTR PDU.
package bgpsec
