package bgpsec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bgpsrx/rtrsec/internal/hashmsg"
)

func sampleAttribute() *Attribute {
	var ski1, ski2 [hashmsg.SKILength]byte
	ski1[0] = 0xAA
	ski2[0] = 0xBB
	return &Attribute{
		Flags: 0xC0,
		Code:  30,
		Path: []hashmsg.PathSegment{
			{PCount: 1, Flags: 0, ASN: 65001},
			{PCount: 1, Flags: 0, ASN: 65000},
		},
		Blocks: []SignatureBlock{
			{
				AlgoID: 1,
				Signatures: []hashmsg.SignatureSegment{
					{SKI: ski1, Sig: []byte{1, 2, 3, 4}},
					{SKI: ski2, Sig: []byte{5, 6, 7, 8, 9}},
				},
			},
		},
	}
}

func TestAttributeEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleAttribute()
	wire := want.Encode()

	got, n, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(wire) {
		t.Fatalf("Decode() consumed %d bytes, want %d", n, len(wire))
	}
	if got.Code != want.Code {
		t.Fatalf("Code = %d, want %d", got.Code, want.Code)
	}
	if len(got.Path) != len(want.Path) {
		t.Fatalf("Path len = %d, want %d", len(got.Path), len(want.Path))
	}
	for i, seg := range want.Path {
		if got.Path[i] != seg {
			t.Fatalf("Path[%d] = %+v, want %+v", i, got.Path[i], seg)
		}
	}
	if len(got.Blocks) != 1 || got.Blocks[0].AlgoID != 1 || len(got.Blocks[0].Signatures) != 2 {
		t.Fatalf("Blocks = %+v", got.Blocks)
	}
	for i, sig := range want.Blocks[0].Signatures {
		gsig := got.Blocks[0].Signatures[i]
		if gsig.SKI != sig.SKI || !bytes.Equal(gsig.Sig, sig.Sig) {
			t.Fatalf("Signatures[%d] = %+v, want %+v", i, gsig, sig)
		}
	}
}

func TestAttributeEncodeChoosesExtendedLength(t *testing.T) {
	var ski [hashmsg.SKILength]byte
	bigSig := make([]byte, 300)
	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{{PCount: 1, ASN: 65000}},
		Blocks: []SignatureBlock{{
			AlgoID:     1,
			Signatures: []hashmsg.SignatureSegment{{SKI: ski, Sig: bigSig}},
		}},
	}
	wire := attr.Encode()
	if wire[0]&extendedLengthFlag == 0 {
		t.Fatalf("Encode() did not set extended length flag for a %d-byte body", len(wire))
	}

	got, n, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(wire) {
		t.Fatalf("Decode() consumed %d bytes, want %d", n, len(wire))
	}
	if len(got.Blocks[0].Signatures[0].Sig) != 300 {
		t.Fatalf("decoded signature length = %d, want 300", len(got.Blocks[0].Signatures[0].Sig))
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, _, err := Decode([]byte{0x00, 30})
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("error = %v, want ErrTooShort", err)
	}
}

func TestDecodeSegmentCountMismatch(t *testing.T) {
	attr := sampleAttribute()
	// Drop the second signature segment's bytes without updating the
	// secure-path so the block carries fewer signatures than segments.
	attr.Blocks[0].Signatures = attr.Blocks[0].Signatures[:1]
	wire := attr.Encode()

	_, _, err := Decode(wire)
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("error = %v, want ErrSyntax", err)
	}
}

func TestDecodeSecurePathNotMultipleOfSix(t *testing.T) {
	buf := []byte{
		0x00, 30, // flags, type
		7,          // length: 2-byte secure-path length field + 5 stray bytes
		0x00, 0x07, // secure-path length = 7 (invalid: 7-2=5, not a multiple of 6)
		1, 2, 3, 4, 5,
	}
	_, _, err := Decode(buf)
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("error = %v, want ErrSyntax", err)
	}
}
