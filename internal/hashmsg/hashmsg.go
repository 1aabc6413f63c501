package hashmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SKILength is the length in octets of a Subject Key Identifier.
const SKILength = 20

// Sentinel errors returned by the builder.
var (
	// ErrSyntax indicates the secure-path segment count and signature
	// segment count disagree, or a signature after the first is empty.
	ErrSyntax = errors.New("hashmsg: syntax error in secure-path/signature-block pairing")

	// ErrNoSegments indicates an empty path was supplied where at least
	// one segment (the origin) is required.
	ErrNoSegments = errors.New("hashmsg: at least one path segment is required")
)

// PathSegment is one Secure_Path segment (RFC 8205 Section 3.1): the AS
// that is propagating the route, how many signatures it has added so far,
// and its confederation/other flags.
type PathSegment struct {
	PCount uint8
	Flags  uint8
	ASN    uint32
}

// SignatureSegment is one Signature_Block entry (RFC 8205 Section 3.2):
// the SKI identifying the signer's key and the signature bytes themselves.
type SignatureSegment struct {
	SKI [SKILength]byte
	Sig []byte
}

// NLRI carries the address-family and prefix fields that terminate every
// hash message (the "short form" shared tail).
type NLRI struct {
	AFI       uint16
	SAFI      uint8
	PrefixLen uint8
	Prefix    []byte // exactly ceil(PrefixLen/8) bytes
}

// Message holds the digest input for every segment of a BGPsec_PATH: the
// buffer an AS's signature over segment i was (or must be) computed from.
// Digests[0] covers the newest segment; Digests[N-1] covers the origin.
// Each entry is built independently rather than sliced out of one shared
// buffer, because segment i's digest must include every older segment's
// signature while segment i+1's digest must NOT include its own — the two
// requirements cannot both be satisfied by one contiguous byte range.
type Message struct {
	Digests [][]byte
}

// Digest returns the byte slice a signature over segment i was (or must
// be) computed from.
func (m *Message) Digest(i int) []byte {
	return m.Digests[i]
}

// BuildValidation constructs the hash message used to validate a received
// BGPsec_PATH attribute. targetASN is the verifying router's own ASN (the
// AS the newest segment's signature was directed to). segs and sigs MUST
// be parallel arrays in wire order (index 0 = newest).
func BuildValidation(targetASN uint32, segs []PathSegment, sigs []SignatureSegment, algoID uint8, nlri NLRI) (*Message, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w", ErrNoSegments)
	}
	if len(segs) != len(sigs) {
		return nil, fmt.Errorf("hashmsg: %d path segments vs %d signature segments: %w",
			len(segs), len(sigs), ErrSyntax)
	}
	// sigs[0] is the signature segment for the newest segment: it is what
	// Digest(0) will be verified against, never material embedded inside
	// a digest itself, so only sigs[1:] need non-empty bytes here.
	for _, sig := range sigs[1:] {
		if len(sig.Sig) == 0 {
			return nil, fmt.Errorf("hashmsg: empty signature: %w", ErrSyntax)
		}
	}

	n := len(segs)
	digests := make([][]byte, n)
	for i := 0; i < n; i++ {
		// Segment i's target ASN is the caller-supplied value for the
		// newest segment, or simply the ASN the next-newer segment
		// carries (the AS that segment was announced to) otherwise.
		target := targetASN
		if i > 0 {
			target = segs[i-1].ASN
		}

		buf := make([]byte, 0, 4+6+1+4+len(nlri.Prefix))
		head := make([]byte, 4)
		binary.BigEndian.PutUint32(head, target)
		buf = append(buf, head...)
		buf = appendPathSegment(buf, segs[i])

		for j := i + 1; j < n; j++ {
			buf = appendSignatureSegment(buf, sigs[j])
			buf = appendPathSegment(buf, segs[j])
		}

		buf = append(buf, algoID)
		buf = appendNLRI(buf, nlri)
		digests[i] = buf
	}

	return &Message{Digests: digests}, nil
}

// BuildOrigin constructs the short-form hash message used when the origin
// AS itself signs a route it is announcing for the first time: a single
// path segment plus the NLRI, with no older signature/segment chain.
func BuildOrigin(peerASN uint32, origin PathSegment, algoID uint8, nlri NLRI) (*Message, error) {
	return BuildValidation(peerASN, []PathSegment{origin}, []SignatureSegment{{}}, algoID, nlri)
}

func appendPathSegment(buf []byte, seg PathSegment) []byte {
	asnBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(asnBuf, seg.ASN)
	buf = append(buf, seg.PCount, seg.Flags)
	return append(buf, asnBuf...)
}

func appendSignatureSegment(buf []byte, sig SignatureSegment) []byte {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(sig.Sig)))
	buf = append(buf, sig.SKI[:]...)
	buf = append(buf, lenBuf...)
	return append(buf, sig.Sig...)
}

func appendNLRI(buf []byte, nlri NLRI) []byte {
	afiBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(afiBuf, nlri.AFI)
	buf = append(buf, afiBuf...)
	buf = append(buf, nlri.SAFI, nlri.PrefixLen)
	return append(buf, nlri.Prefix...)
}
