package rtrwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// decodeErrPrefix is the common error prefix for PDU decoding failures.
const decodeErrPrefix = "decode rtr pdu"

// Sentinel errors for the codec. All are wrapped with context via %w so
// callers can errors.Is against them regardless of the specific PDU type.
var (
	// ErrTooShort indicates fewer bytes were supplied than the common
	// header requires (spec.md Section 4.1: "Decode fails with
	// CorruptData if length < 8").
	ErrTooShort = errors.New("rtrwire: buffer shorter than common header")

	// ErrLengthTooSmall indicates the header's length field is below the
	// 8-byte common header minimum.
	ErrLengthTooSmall = errors.New("rtrwire: length field below common header size")

	// ErrLengthExceedsBuffer indicates the header's length field claims
	// more bytes than were supplied.
	ErrLengthExceedsBuffer = errors.New("rtrwire: length field exceeds available bytes")

	// ErrUnknownType indicates a PDU type code with no known layout.
	ErrUnknownType = errors.New("rtrwire: unknown or unsupported pdu type")

	// ErrBadFixedLength indicates a fixed-size PDU's length field does not
	// match the layout mandated by spec.md Section 4.1.
	ErrBadFixedLength = errors.New("rtrwire: length field inconsistent with fixed pdu layout")

	// ErrTruncatedVariable indicates a variable-length PDU (Router Key,
	// Error Report, ASPA) whose declared sub-lengths do not fit the
	// remaining bytes (spec.md Section 4.4: "endless-loop protection").
	ErrTruncatedVariable = errors.New("rtrwire: variable-length field exceeds remaining bytes")
)

// CommonHeader is the 8-byte header shared by every RTR PDU
// (spec.md Section 4.1: "version(8), type(8), mixed(16), length(32)").
type CommonHeader struct {
	Version uint8
	Type    Type
	Mixed   uint16
	Length  uint32
}

// DecodeHeader parses the fixed 8-byte common header from the front of buf.
// It does not validate Length against len(buf); callers needing a framed
// read loop (internal/rtrserver, internal/rtrclient) use this to learn how
// many more bytes to read before calling Decode.
func DecodeHeader(buf []byte) (CommonHeader, error) {
	if len(buf) < CommonHeaderSize {
		return CommonHeader{}, fmt.Errorf("%s: %w", decodeErrPrefix, ErrTooShort)
	}
	h := CommonHeader{
		Version: buf[0],
		Type:    Type(buf[1]),
		Mixed:   binary.BigEndian.Uint16(buf[2:4]),
		Length:  binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Length < CommonHeaderSize {
		return h, fmt.Errorf("%s: length %d: %w", decodeErrPrefix, h.Length, ErrLengthTooSmall)
	}
	return h, nil
}

// Decode parses a complete RTR PDU from buf. buf must contain exactly the
// number of bytes the common header's Length field declares (callers read
// the header first via DecodeHeader, then read Length-CommonHeaderSize
// more bytes and pass the full buffer here).
//
// Decode fails with a wrapped ErrLengthExceedsBuffer/ErrBadFixedLength/
// ErrTruncatedVariable/ErrUnknownType per spec.md Section 4.1's contract:
// "Decode fails with CorruptData if length < 8 or length exceeds bytes
// received after grow-retry."
func Decode(buf []byte) (PDU, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(h.Length) > uint64(len(buf)) {
		return nil, fmt.Errorf("%s: length %d exceeds buffer %d: %w",
			decodeErrPrefix, h.Length, len(buf), ErrLengthExceedsBuffer)
	}
	body := buf[:h.Length]

	switch h.Type {
	case TypeSerialNotify:
		return decodeSerialNotify(h, body)
	case TypeSerialQuery:
		return decodeSerialQuery(h, body)
	case TypeResetQuery:
		return decodeResetQuery(h, body)
	case TypeCacheResponse:
		return decodeCacheResponse(h, body)
	case TypeIPv4Prefix:
		return decodeIPv4Prefix(h, body)
	case TypeIPv6Prefix:
		return decodeIPv6Prefix(h, body)
	case TypeEndOfData:
		return decodeEndOfData(h, body)
	case TypeCacheReset:
		return decodeCacheReset(h, body)
	case TypeRouterKey:
		return decodeRouterKey(h, body)
	case TypeErrorReport:
		return decodeErrorReport(h, body)
	case TypeASPA:
		return decodeASPA(h, body)
	default:
		return nil, fmt.Errorf("%s: type %d: %w", decodeErrPrefix, uint8(h.Type), ErrUnknownType)
	}
}

// putHeader writes the 8-byte common header into buf[0:8].
func putHeader(buf []byte, version uint8, typ Type, mixed uint16, length uint32) {
	buf[0] = version
	buf[1] = uint8(typ)
	binary.BigEndian.PutUint16(buf[2:4], mixed)
	binary.BigEndian.PutUint32(buf[4:8], length)
}

// -------------------------------------------------------------------------
// Serial Notify / Serial Query (12 bytes: header + session_id + serial)
// -------------------------------------------------------------------------

const serialPDULen = 12

func decodeSerialNotify(h CommonHeader, body []byte) (PDU, error) {
	if h.Length != serialPDULen {
		return nil, fmt.Errorf("%s: serial notify length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	return &SerialNotify{
		Version:   h.Version,
		SessionID: h.Mixed,
		Serial:    binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// Encode implements PDU.
func (p *SerialNotify) Encode() []byte {
	buf := make([]byte, serialPDULen)
	putHeader(buf, p.Version, TypeSerialNotify, p.SessionID, serialPDULen)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	return buf
}

func decodeSerialQuery(h CommonHeader, body []byte) (PDU, error) {
	if h.Length != serialPDULen {
		return nil, fmt.Errorf("%s: serial query length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	return &SerialQuery{
		Version:   h.Version,
		SessionID: h.Mixed,
		Serial:    binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// Encode implements PDU.
func (p *SerialQuery) Encode() []byte {
	buf := make([]byte, serialPDULen)
	putHeader(buf, p.Version, TypeSerialQuery, p.SessionID, serialPDULen)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	return buf
}

// -------------------------------------------------------------------------
// Reset Query / Cache Reset (8 bytes: header only)
// -------------------------------------------------------------------------

func decodeResetQuery(h CommonHeader, _ []byte) (PDU, error) {
	if h.Length != CommonHeaderSize {
		return nil, fmt.Errorf("%s: reset query length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	return &ResetQuery{Version: h.Version}, nil
}

// Encode implements PDU.
func (p *ResetQuery) Encode() []byte {
	buf := make([]byte, CommonHeaderSize)
	putHeader(buf, p.Version, TypeResetQuery, 0, CommonHeaderSize)
	return buf
}

func decodeCacheReset(h CommonHeader, _ []byte) (PDU, error) {
	if h.Length != CommonHeaderSize {
		return nil, fmt.Errorf("%s: cache reset length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	return &CacheReset{Version: h.Version}, nil
}

// Encode implements PDU.
func (p *CacheReset) Encode() []byte {
	buf := make([]byte, CommonHeaderSize)
	putHeader(buf, p.Version, TypeCacheReset, 0, CommonHeaderSize)
	return buf
}

// -------------------------------------------------------------------------
// Cache Response (8 bytes: header with session_id in mixed field)
// -------------------------------------------------------------------------

func decodeCacheResponse(h CommonHeader, _ []byte) (PDU, error) {
	if h.Length != CommonHeaderSize {
		return nil, fmt.Errorf("%s: cache response length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	return &CacheResponse{Version: h.Version, SessionID: h.Mixed}, nil
}

// Encode implements PDU.
func (p *CacheResponse) Encode() []byte {
	buf := make([]byte, CommonHeaderSize)
	putHeader(buf, p.Version, TypeCacheResponse, p.SessionID, CommonHeaderSize)
	return buf
}

// -------------------------------------------------------------------------
// IPv4 / IPv6 Prefix
// -------------------------------------------------------------------------

const ipv4PrefixPDULen = 20

func decodeIPv4Prefix(h CommonHeader, body []byte) (PDU, error) {
	if h.Length != ipv4PrefixPDULen {
		return nil, fmt.Errorf("%s: ipv4 prefix length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	p := &IPv4Prefix{
		Version:   h.Version,
		Flags:     body[8],
		PrefixLen: body[9],
		MaxLen:    body[10],
	}
	copy(p.Addr[:], body[12:16])
	p.ASN = binary.BigEndian.Uint32(body[16:20])
	return p, nil
}

// Encode implements PDU.
func (p *IPv4Prefix) Encode() []byte {
	buf := make([]byte, ipv4PrefixPDULen)
	putHeader(buf, p.Version, TypeIPv4Prefix, 0, ipv4PrefixPDULen)
	buf[8] = p.Flags
	buf[9] = p.PrefixLen
	buf[10] = p.MaxLen
	buf[11] = 0
	copy(buf[12:16], p.Addr[:])
	binary.BigEndian.PutUint32(buf[16:20], p.ASN)
	return buf
}

const ipv6PrefixPDULen = 32

func decodeIPv6Prefix(h CommonHeader, body []byte) (PDU, error) {
	if h.Length != ipv6PrefixPDULen {
		return nil, fmt.Errorf("%s: ipv6 prefix length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
	}
	p := &IPv6Prefix{
		Version:   h.Version,
		Flags:     body[8],
		PrefixLen: body[9],
		MaxLen:    body[10],
	}
	copy(p.Addr[:], body[12:28])
	p.ASN = binary.BigEndian.Uint32(body[28:32])
	return p, nil
}

// Encode implements PDU.
func (p *IPv6Prefix) Encode() []byte {
	buf := make([]byte, ipv6PrefixPDULen)
	putHeader(buf, p.Version, TypeIPv6Prefix, 0, ipv6PrefixPDULen)
	buf[8] = p.Flags
	buf[9] = p.PrefixLen
	buf[10] = p.MaxLen
	buf[11] = 0
	copy(buf[12:28], p.Addr[:])
	binary.BigEndian.PutUint32(buf[28:32], p.ASN)
	return buf
}

// -------------------------------------------------------------------------
// End of Data (12 bytes at version 0, 24 bytes at version >= 1)
// -------------------------------------------------------------------------

const (
	endOfDataV0Len = 12
	endOfDataV1Len = 24
)

func decodeEndOfData(h CommonHeader, body []byte) (PDU, error) {
	p := &EndOfData{
		Version:   h.Version,
		SessionID: h.Mixed,
	}
	switch {
	case h.Version == 0:
		if h.Length != endOfDataV0Len {
			return nil, fmt.Errorf("%s: end of data (v0) length %d: %w", decodeErrPrefix, h.Length, ErrBadFixedLength)
		}
	case h.Length == endOfDataV1Len:
		p.RefreshInterval = binary.BigEndian.Uint32(body[12:16])
		p.RetryInterval = binary.BigEndian.Uint32(body[16:20])
		p.ExpireInterval = binary.BigEndian.Uint32(body[20:24])
	default:
		return nil, fmt.Errorf("%s: end of data (v%d) length %d: %w",
			decodeErrPrefix, h.Version, h.Length, ErrBadFixedLength)
	}
	p.Serial = binary.BigEndian.Uint32(body[8:12])
	return p, nil
}

// Encode implements PDU. Timer fields are only emitted for Version >= 1
// (spec.md Section 4.1).
func (p *EndOfData) Encode() []byte {
	if p.Version == 0 {
		buf := make([]byte, endOfDataV0Len)
		putHeader(buf, p.Version, TypeEndOfData, p.SessionID, endOfDataV0Len)
		binary.BigEndian.PutUint32(buf[8:12], p.Serial)
		return buf
	}
	buf := make([]byte, endOfDataV1Len)
	putHeader(buf, p.Version, TypeEndOfData, p.SessionID, endOfDataV1Len)
	binary.BigEndian.PutUint32(buf[8:12], p.Serial)
	binary.BigEndian.PutUint32(buf[12:16], p.RefreshInterval)
	binary.BigEndian.PutUint32(buf[16:20], p.RetryInterval)
	binary.BigEndian.PutUint32(buf[20:24], p.ExpireInterval)
	return buf
}

// -------------------------------------------------------------------------
// Router Key (variable length: header + flags/zero + ski[20] + asn(32) + spki)
// -------------------------------------------------------------------------

const routerKeyFixedLen = CommonHeaderSize + 2 + SKILength + 4

func decodeRouterKey(h CommonHeader, body []byte) (PDU, error) {
	if len(body) < routerKeyFixedLen {
		return nil, fmt.Errorf("%s: router key: %w", decodeErrPrefix, ErrTruncatedVariable)
	}
	p := &RouterKey{
		Version: h.Version,
		Flags:   body[8],
	}
	copy(p.SKI[:], body[10:30])
	p.ASN = binary.BigEndian.Uint32(body[30:34])
	spkiLen := int(h.Length) - routerKeyFixedLen
	if spkiLen < 0 {
		return nil, fmt.Errorf("%s: router key: %w", decodeErrPrefix, ErrTruncatedVariable)
	}
	p.SPKI = append([]byte(nil), body[34:34+spkiLen]...)
	return p, nil
}

// Encode implements PDU.
func (p *RouterKey) Encode() []byte {
	total := routerKeyFixedLen + len(p.SPKI)
	buf := make([]byte, total)
	putHeader(buf, p.Version, TypeRouterKey, 0, uint32(total))
	buf[8] = p.Flags
	buf[9] = 0
	copy(buf[10:30], p.SKI[:])
	binary.BigEndian.PutUint32(buf[30:34], p.ASN)
	copy(buf[34:], p.SPKI)
	return buf
}

// -------------------------------------------------------------------------
// Error Report (variable length: header + enc_pdu_len(32) + enc_pdu + msg_len(32) + msg)
// -------------------------------------------------------------------------

func decodeErrorReport(h CommonHeader, body []byte) (PDU, error) {
	if len(body) < CommonHeaderSize+4 {
		return nil, fmt.Errorf("%s: error report: %w", decodeErrPrefix, ErrTruncatedVariable)
	}
	off := CommonHeaderSize
	encLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if uint64(off)+uint64(encLen)+4 > uint64(len(body)) {
		return nil, fmt.Errorf("%s: error report encapsulated pdu len %d: %w",
			decodeErrPrefix, encLen, ErrTruncatedVariable)
	}
	encPDU := append([]byte(nil), body[off:off+int(encLen)]...)
	off += int(encLen)

	msgLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if uint64(off)+uint64(msgLen) > uint64(len(body)) {
		return nil, fmt.Errorf("%s: error report message len %d: %w",
			decodeErrPrefix, msgLen, ErrTruncatedVariable)
	}
	msg := string(body[off : off+int(msgLen)])

	return &ErrorReport{
		Version:         h.Version,
		Code:            ErrorCode(h.Mixed),
		EncapsulatedPDU: encPDU,
		Message:         msg,
	}, nil
}

// Encode implements PDU.
func (p *ErrorReport) Encode() []byte {
	total := CommonHeaderSize + 4 + len(p.EncapsulatedPDU) + 4 + len(p.Message)
	buf := make([]byte, total)
	putHeader(buf, p.Version, TypeErrorReport, uint16(p.Code), uint32(total))
	off := CommonHeaderSize
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(p.EncapsulatedPDU)))
	off += 4
	copy(buf[off:], p.EncapsulatedPDU)
	off += len(p.EncapsulatedPDU)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(p.Message)))
	off += 4
	copy(buf[off:], p.Message)
	return buf
}

// -------------------------------------------------------------------------
// ASPA (variable length: header + flags/zero + provider_count(16) + customer_asn(32) + providers[])
// -------------------------------------------------------------------------

const aspaFixedLen = CommonHeaderSize + 2 + 2 + 4

func decodeASPA(h CommonHeader, body []byte) (PDU, error) {
	if len(body) < aspaFixedLen {
		return nil, fmt.Errorf("%s: aspa: %w", decodeErrPrefix, ErrTruncatedVariable)
	}
	providerCount := binary.BigEndian.Uint16(body[10:12])
	p := &ASPA{
		Version:     h.Version,
		Flags:       body[8],
		CustomerASN: binary.BigEndian.Uint32(body[12:16]),
	}
	need := aspaFixedLen + int(providerCount)*4
	if len(body) < need {
		return nil, fmt.Errorf("%s: aspa provider count %d: %w", decodeErrPrefix, providerCount, ErrTruncatedVariable)
	}
	p.Providers = make([]uint32, providerCount)
	off := aspaFixedLen
	for i := range p.Providers {
		p.Providers[i] = binary.BigEndian.Uint32(body[off : off+4])
		off += 4
	}
	return p, nil
}

// Encode implements PDU.
func (p *ASPA) Encode() []byte {
	total := aspaFixedLen + len(p.Providers)*4
	buf := make([]byte, total)
	putHeader(buf, p.Version, TypeASPA, 0, uint32(total))
	buf[8] = p.Flags
	buf[9] = 0
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(p.Providers)))
	binary.BigEndian.PutUint32(buf[12:16], p.CustomerASN)
	off := aspaFixedLen
	for _, asn := range p.Providers {
		binary.BigEndian.PutUint32(buf[off:off+4], asn)
		off += 4
	}
	return buf
}
