package bgpsec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bgpsrx/rtrsec/internal/hashmsg"
)

// extendedLengthFlag is the BGP path attribute flags bit (0x10) that widens
// the attribute length field from one byte to two (RFC 4271 Section 4.3).
const extendedLengthFlag = 0x10

// Sentinel errors returned while decoding a BGPsec_PATH attribute.
var (
	// ErrTooShort indicates fewer bytes were supplied than the declared
	// length fields require.
	ErrTooShort = errors.New("bgpsec: buffer too short")

	// ErrSyntax indicates an inner length field is inconsistent with the
	// bytes remaining in the attribute (RFC 8205 Section 4.2's
	// "no dangling lengths" requirement).
	ErrSyntax = errors.New("bgpsec: syntax error in attribute encoding")
)

// Attribute is a decoded BGPsec_PATH path attribute: the BGP attribute
// header, the Secure_Path segments (newest first), and one or two
// Signature_Blocks.
type Attribute struct {
	Flags  uint8
	Code   uint8
	Path   []hashmsg.PathSegment
	Blocks []SignatureBlock
}

// SignatureBlock is one Signature_Block: an algorithm suite plus one
// signature segment per Secure_Path segment, in the same order.
type SignatureBlock struct {
	AlgoID     uint8
	Signatures []hashmsg.SignatureSegment
}

// Decode parses a BGPsec_PATH attribute starting at the BGP attribute
// header (flags, type code, length). It does not consume trailing bytes
// belonging to a later attribute.
func Decode(buf []byte) (*Attribute, int, error) {
	if len(buf) < 3 {
		return nil, 0, fmt.Errorf("bgpsec: header: %w", ErrTooShort)
	}
	flags := buf[0]
	code := buf[1]

	hdrLen := 3
	var length int
	if flags&extendedLengthFlag != 0 {
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("bgpsec: extended header: %w", ErrTooShort)
		}
		length = int(binary.BigEndian.Uint16(buf[2:4]))
		hdrLen = 4
	} else {
		length = int(buf[2])
	}

	total := hdrLen + length
	if len(buf) < total {
		return nil, 0, fmt.Errorf("bgpsec: body %d bytes, have %d: %w", length, len(buf)-hdrLen, ErrTooShort)
	}
	body := buf[hdrLen:total]

	path, rest, err := decodeSecurePath(body)
	if err != nil {
		return nil, 0, err
	}

	var blocks []SignatureBlock
	for len(rest) > 0 {
		var blk SignatureBlock
		blk, rest, err = decodeSignatureBlock(rest, len(path))
		if err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, blk)
	}

	return &Attribute{Flags: flags, Code: code, Path: path, Blocks: blocks}, total, nil
}

func decodeSecurePath(buf []byte) ([]hashmsg.PathSegment, []byte, error) {
	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("bgpsec: secure-path length: %w", ErrTooShort)
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	if length < 2 || length > len(buf) {
		return nil, nil, fmt.Errorf("bgpsec: secure-path length %d: %w", length, ErrSyntax)
	}
	body := buf[2:length]
	if len(body)%6 != 0 {
		return nil, nil, fmt.Errorf("bgpsec: secure-path body %d bytes not a multiple of 6: %w", len(body), ErrSyntax)
	}
	n := len(body) / 6
	segs := make([]hashmsg.PathSegment, n)
	for i := 0; i < n; i++ {
		off := i * 6
		segs[i] = hashmsg.PathSegment{
			PCount: body[off],
			Flags:  body[off+1],
			ASN:    binary.BigEndian.Uint32(body[off+2 : off+6]),
		}
	}
	return segs, buf[length:], nil
}

func decodeSignatureBlock(buf []byte, segCount int) (SignatureBlock, []byte, error) {
	if len(buf) < 3 {
		return SignatureBlock{}, nil, fmt.Errorf("bgpsec: signature-block length: %w", ErrTooShort)
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	if length < 3 || length > len(buf) {
		return SignatureBlock{}, nil, fmt.Errorf("bgpsec: signature-block length %d: %w", length, ErrSyntax)
	}
	algoID := buf[2]
	body := buf[3:length]

	sigs := make([]hashmsg.SignatureSegment, 0, segCount)
	for len(body) > 0 {
		if len(body) < hashmsg.SKILength+2 {
			return SignatureBlock{}, nil, fmt.Errorf("bgpsec: signature segment header: %w", ErrTooShort)
		}
		var ski [hashmsg.SKILength]byte
		copy(ski[:], body[:hashmsg.SKILength])
		sigLen := int(binary.BigEndian.Uint16(body[hashmsg.SKILength : hashmsg.SKILength+2]))
		entryLen := hashmsg.SKILength + 2 + sigLen
		if entryLen > len(body) {
			return SignatureBlock{}, nil, fmt.Errorf("bgpsec: signature %d bytes, have %d: %w", sigLen, len(body)-hashmsg.SKILength-2, ErrTooShort)
		}
		sig := make([]byte, sigLen)
		copy(sig, body[hashmsg.SKILength+2:entryLen])
		sigs = append(sigs, hashmsg.SignatureSegment{SKI: ski, Sig: sig})
		body = body[entryLen:]
	}
	if len(sigs) != segCount {
		return SignatureBlock{}, nil, fmt.Errorf("bgpsec: %d signatures vs %d secure-path segments: %w", len(sigs), segCount, ErrSyntax)
	}
	return SignatureBlock{AlgoID: algoID, Signatures: sigs}, buf[length:], nil
}

// Encode renders the attribute back to wire form, choosing the extended
// two-byte length form only when the body would not fit in one byte.
func (a *Attribute) Encode() []byte {
	body := encodeSecurePath(a.Path)
	for _, blk := range a.Blocks {
		body = append(body, encodeSignatureBlock(blk)...)
	}

	flags := a.Flags &^ extendedLengthFlag
	var hdr []byte
	if len(body) > 0xFF {
		flags |= extendedLengthFlag
		hdr = make([]byte, 4)
		hdr[0], hdr[1] = flags, a.Code
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(body)))
	} else {
		hdr = make([]byte, 3)
		hdr[0], hdr[1] = flags, a.Code
		hdr[2] = byte(len(body))
	}
	return append(hdr, body...)
}

func encodeSecurePath(path []hashmsg.PathSegment) []byte {
	length := 2 + len(path)*6
	buf := make([]byte, 2, length)
	binary.BigEndian.PutUint16(buf, uint16(length))
	for _, seg := range path {
		asnBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(asnBuf, seg.ASN)
		buf = append(buf, seg.PCount, seg.Flags)
		buf = append(buf, asnBuf...)
	}
	return buf
}

func encodeSignatureBlock(blk SignatureBlock) []byte {
	body := []byte{blk.AlgoID}
	for _, sig := range blk.Signatures {
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(sig.Sig)))
		body = append(body, sig.SKI[:]...)
		body = append(body, lenBuf...)
		body = append(body, sig.Sig...)
	}
	out := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(2+len(body)))
	return append(out, body...)
}
