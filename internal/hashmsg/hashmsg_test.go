package hashmsg_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bgpsrx/rtrsec/internal/hashmsg"
)

func asn(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestBuildOriginShortForm(t *testing.T) {
	t.Parallel()

	origin := hashmsg.PathSegment{PCount: 1, Flags: 0, ASN: 65000}
	nlri := hashmsg.NLRI{AFI: 1, SAFI: 1, PrefixLen: 24, Prefix: []byte{192, 0, 2}}

	msg, err := hashmsg.BuildOrigin(65001, origin, 1, nlri)
	if err != nil {
		t.Fatalf("BuildOrigin() error = %v", err)
	}
	if len(msg.Digests) != 1 {
		t.Fatalf("Digests len = %d, want 1", len(msg.Digests))
	}

	var want []byte
	want = append(want, asn(65001)...) // targetASN
	want = append(want, 1, 0)          // pCount, flags
	want = append(want, asn(65000)...) // origin's own ASN
	want = append(want, 1)             // algoID
	want = append(want, 0, 1, 1, 24)   // afi=1 safi=1 prefixLen=24
	want = append(want, 192, 0, 2)     // prefix

	if !bytes.Equal(msg.Digest(0), want) {
		t.Fatalf("Digest(0) = % x, want % x", msg.Digest(0), want)
	}
}

func TestBuildValidationMultiSegment(t *testing.T) {
	t.Parallel()

	segs := []hashmsg.PathSegment{
		{PCount: 1, Flags: 0, ASN: 65002}, // newest
		{PCount: 1, Flags: 0, ASN: 65001},
		{PCount: 1, Flags: 0, ASN: 65000}, // origin
	}
	sigs := []hashmsg.SignatureSegment{
		{SKI: [20]byte{1}, Sig: []byte{0xAA, 0xAA}}, // unused by the builder but required shape
		{SKI: [20]byte{2}, Sig: []byte{0xBB, 0xBB, 0xBB}},
		{SKI: [20]byte{3}, Sig: []byte{0xCC}},
	}
	nlri := hashmsg.NLRI{AFI: 1, SAFI: 1, PrefixLen: 24, Prefix: []byte{198, 51, 100}}

	msg, err := hashmsg.BuildValidation(65003, segs, sigs, 1, nlri)
	if err != nil {
		t.Fatalf("BuildValidation() error = %v", err)
	}
	if len(msg.Digests) != 3 {
		t.Fatalf("Digests len = %d, want 3", len(msg.Digests))
	}

	var nlriTail []byte
	nlriTail = append(nlriTail, 0, 1, 1, 24)
	nlriTail = append(nlriTail, nlri.Prefix...)

	pathSeg := func(seg hashmsg.PathSegment) []byte {
		b := []byte{seg.PCount, seg.Flags}
		return append(b, asn(seg.ASN)...)
	}
	sigSeg := func(sig hashmsg.SignatureSegment) []byte {
		b := append([]byte{}, sig.SKI[:]...)
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(sig.Sig)))
		b = append(b, lenBuf...)
		return append(b, sig.Sig...)
	}

	var d0 []byte
	d0 = append(d0, asn(65003)...)
	d0 = append(d0, pathSeg(segs[0])...)
	d0 = append(d0, sigSeg(sigs[1])...)
	d0 = append(d0, pathSeg(segs[1])...)
	d0 = append(d0, sigSeg(sigs[2])...)
	d0 = append(d0, pathSeg(segs[2])...)
	d0 = append(d0, 1)
	d0 = append(d0, nlriTail...)
	if !bytes.Equal(msg.Digest(0), d0) {
		t.Fatalf("Digest(0) = % x, want % x", msg.Digest(0), d0)
	}

	var d1 []byte
	d1 = append(d1, asn(segs[0].ASN)...) // target reused from the newer segment
	d1 = append(d1, pathSeg(segs[1])...)
	d1 = append(d1, sigSeg(sigs[2])...)
	d1 = append(d1, pathSeg(segs[2])...)
	d1 = append(d1, 1)
	d1 = append(d1, nlriTail...)
	if !bytes.Equal(msg.Digest(1), d1) {
		t.Fatalf("Digest(1) = % x, want % x", msg.Digest(1), d1)
	}

	var d2 []byte
	d2 = append(d2, asn(segs[1].ASN)...)
	d2 = append(d2, pathSeg(segs[2])...)
	d2 = append(d2, 1)
	d2 = append(d2, nlriTail...)
	if !bytes.Equal(msg.Digest(2), d2) {
		t.Fatalf("Digest(2) = % x, want % x", msg.Digest(2), d2)
	}

	if len(d1) >= len(d0) || len(d2) >= len(d1) {
		t.Fatalf("digest lengths must strictly decrease: len(d0)=%d len(d1)=%d len(d2)=%d", len(d0), len(d1), len(d2))
	}
}

func TestBuildValidationSegmentCountMismatch(t *testing.T) {
	t.Parallel()

	segs := []hashmsg.PathSegment{{ASN: 1}, {ASN: 2}}
	sigs := []hashmsg.SignatureSegment{{Sig: []byte{1}}}
	_, err := hashmsg.BuildValidation(1, segs, sigs, 1, hashmsg.NLRI{})
	if !errors.Is(err, hashmsg.ErrSyntax) {
		t.Fatalf("error = %v, want ErrSyntax", err)
	}
}

func TestBuildValidationEmptySegments(t *testing.T) {
	t.Parallel()

	_, err := hashmsg.BuildValidation(1, nil, nil, 1, hashmsg.NLRI{})
	if !errors.Is(err, hashmsg.ErrNoSegments) {
		t.Fatalf("error = %v, want ErrNoSegments", err)
	}
}

func TestBuildValidationEmptyOlderSignature(t *testing.T) {
	t.Parallel()

	segs := []hashmsg.PathSegment{{ASN: 1}, {ASN: 2}}
	sigs := []hashmsg.SignatureSegment{{Sig: []byte{1}}, {Sig: nil}}
	_, err := hashmsg.BuildValidation(1, segs, sigs, 1, hashmsg.NLRI{})
	if !errors.Is(err, hashmsg.ErrSyntax) {
		t.Fatalf("error = %v, want ErrSyntax", err)
	}
}

func TestBuildValidationOriginSignatureUnused(t *testing.T) {
	t.Parallel()

	// sigs[0] (the signature being produced/verified for the newest
	// segment) is never embedded in any digest, so an empty placeholder
	// there must not trip the empty-signature check.
	segs := []hashmsg.PathSegment{{ASN: 1}, {ASN: 2}}
	sigs := []hashmsg.SignatureSegment{{}, {Sig: []byte{0xAA}}}
	msg, err := hashmsg.BuildValidation(1, segs, sigs, 1, hashmsg.NLRI{})
	if err != nil {
		t.Fatalf("BuildValidation() error = %v", err)
	}
	if !bytes.Contains(msg.Digest(0), sigs[1].Sig) {
		t.Fatalf("Digest(0) must embed the older signature")
	}
}
