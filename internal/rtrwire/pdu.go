package rtrwire

import "fmt"

// -------------------------------------------------------------------------
// Protocol Constants — RFC 6810 Section 5, RFC 8210 Section 5
// -------------------------------------------------------------------------

// CommonHeaderSize is the size in bytes of the fixed PDU header shared by
// every RTR PDU type: version(8) type(8) mixed(16) length(32).
const CommonHeaderSize = 8

// SKILength is the length in octets of a Subject Key Identifier.
const SKILength = 20

// Type is the PDU type code carried in byte 1 of the common header.
type Type uint8

// PDU type codes (RFC 6810 Section 5, RFC 8210 Section 5, spec.md Table 4.1).
const (
	TypeSerialNotify  Type = 0
	TypeSerialQuery   Type = 1
	TypeResetQuery    Type = 2
	TypeCacheResponse Type = 3
	TypeIPv4Prefix    Type = 4
	TypeIPv6Prefix    Type = 6
	TypeEndOfData     Type = 7
	TypeCacheReset    Type = 8
	TypeRouterKey     Type = 9
	TypeErrorReport   Type = 10
	TypeASPA          Type = 11
	TypeReserved      Type = 255
)

// String returns the human-readable PDU type name.
func (t Type) String() string {
	switch t {
	case TypeSerialNotify:
		return "SerialNotify"
	case TypeSerialQuery:
		return "SerialQuery"
	case TypeResetQuery:
		return "ResetQuery"
	case TypeCacheResponse:
		return "CacheResponse"
	case TypeIPv4Prefix:
		return "IPv4Prefix"
	case TypeIPv6Prefix:
		return "IPv6Prefix"
	case TypeEndOfData:
		return "EndOfData"
	case TypeCacheReset:
		return "CacheReset"
	case TypeRouterKey:
		return "RouterKey"
	case TypeErrorReport:
		return "ErrorReport"
	case TypeASPA:
		return "ASPA"
	case TypeReserved:
		return "Reserved"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ErrorCode is the 16-bit error code carried in an Error Report PDU
// (spec.md Section 6 "Error codes").
type ErrorCode uint16

// RTR error codes (RFC 6810 Section 5.10, RFC 8210 Section 5.10).
const (
	ErrCorruptData             ErrorCode = 0
	ErrInternalError           ErrorCode = 1
	ErrNoDataAvailable         ErrorCode = 2
	ErrInvalidRequest          ErrorCode = 3
	ErrUnsupportedProtoVersion ErrorCode = 4
	ErrUnsupportedPDU          ErrorCode = 5
	ErrUnknownWithdrawal       ErrorCode = 6
	ErrDuplicateAnnouncement   ErrorCode = 7
	ErrASPAProviderListError   ErrorCode = 8
	ErrReserved                ErrorCode = 255
)

// String returns the human-readable error code name.
func (e ErrorCode) String() string {
	switch e {
	case ErrCorruptData:
		return "CorruptData"
	case ErrInternalError:
		return "InternalError"
	case ErrNoDataAvailable:
		return "NoDataAvailable"
	case ErrInvalidRequest:
		return "InvalidRequest"
	case ErrUnsupportedProtoVersion:
		return "UnsupportedProtocolVersion"
	case ErrUnsupportedPDU:
		return "UnsupportedPDU"
	case ErrUnknownWithdrawal:
		return "UnknownWithdrawal"
	case ErrDuplicateAnnouncement:
		return "DuplicateAnnouncement"
	case ErrASPAProviderListError:
		return "ASPAProviderListError"
	case ErrReserved:
		return "Reserved"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(e))
	}
}

// AnnouncementFlag is the lowest bit of a prefix/router-key PDU's flags
// byte: set for announcement, clear for withdrawal (spec.md Section 4.1).
const AnnouncementFlag uint8 = 0x01

// PDU is implemented by every decoded RTR protocol data unit.
type PDU interface {
	// PDUType returns the wire type code of this PDU.
	PDUType() Type

	// Encode serializes the PDU to its bit-exact wire representation,
	// including the common header and a correct length field.
	Encode() []byte
}

// -------------------------------------------------------------------------
// PDU structures
// -------------------------------------------------------------------------

// SerialNotify is PDU type 0 (spec.md Section 4.1).
type SerialNotify struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

// PDUType implements PDU.
func (p *SerialNotify) PDUType() Type { return TypeSerialNotify }

// SerialQuery is PDU type 1.
type SerialQuery struct {
	Version   uint8
	SessionID uint16
	Serial    uint32
}

// PDUType implements PDU.
func (p *SerialQuery) PDUType() Type { return TypeSerialQuery }

// ResetQuery is PDU type 2. It carries no body beyond the common header.
type ResetQuery struct {
	Version uint8
}

// PDUType implements PDU.
func (p *ResetQuery) PDUType() Type { return TypeResetQuery }

// CacheResponse is PDU type 3.
type CacheResponse struct {
	Version   uint8
	SessionID uint16
}

// PDUType implements PDU.
func (p *CacheResponse) PDUType() Type { return TypeCacheResponse }

// IPv4Prefix is PDU type 4.
type IPv4Prefix struct {
	Version   uint8
	Flags     uint8
	PrefixLen uint8
	MaxLen    uint8
	Addr      [4]byte
	ASN       uint32
}

// PDUType implements PDU.
func (p *IPv4Prefix) PDUType() Type { return TypeIPv4Prefix }

// Announcement reports whether the PDU flags indicate an announcement
// (spec.md Section 4.1: "PDU flags lowest bit = 1 ⇒ announcement").
func (p *IPv4Prefix) Announcement() bool { return p.Flags&AnnouncementFlag != 0 }

// IPv6Prefix is PDU type 6.
type IPv6Prefix struct {
	Version   uint8
	Flags     uint8
	PrefixLen uint8
	MaxLen    uint8
	Addr      [16]byte
	ASN       uint32
}

// PDUType implements PDU.
func (p *IPv6Prefix) PDUType() Type { return TypeIPv6Prefix }

// Announcement reports whether the PDU flags indicate an announcement.
func (p *IPv6Prefix) Announcement() bool { return p.Flags&AnnouncementFlag != 0 }

// EndOfData is PDU type 7. RefreshInterval/RetryInterval/ExpireInterval
// are only present (and only encoded/decoded) for Version >= 1
// (spec.md Section 4.1: "[+ v1+: refresh(32), retry(32), expire(32)]").
type EndOfData struct {
	Version         uint8
	SessionID       uint16
	Serial          uint32
	RefreshInterval uint32
	RetryInterval   uint32
	ExpireInterval  uint32
}

// PDUType implements PDU.
func (p *EndOfData) PDUType() Type { return TypeEndOfData }

// CacheReset is PDU type 8. It carries no body beyond the common header.
type CacheReset struct {
	Version uint8
}

// PDUType implements PDU.
func (p *CacheReset) PDUType() Type { return TypeCacheReset }

// RouterKey is PDU type 9.
type RouterKey struct {
	Version uint8
	Flags   uint8
	SKI     [SKILength]byte
	ASN     uint32
	SPKI    []byte
}

// PDUType implements PDU.
func (p *RouterKey) PDUType() Type { return TypeRouterKey }

// Announcement reports whether the PDU flags indicate an announcement.
func (p *RouterKey) Announcement() bool { return p.Flags&AnnouncementFlag != 0 }

// ErrorReport is PDU type 10. ErrorCode lives in the common header's
// "mixed" field. EncapsulatedPDU is the raw bytes of the PDU that caused
// the error (may be empty); Message is an optional human-readable string.
type ErrorReport struct {
	Version         uint8
	Code            ErrorCode
	EncapsulatedPDU []byte
	Message         string
}

// PDUType implements PDU.
func (p *ErrorReport) PDUType() Type { return TypeErrorReport }

// ASPA is PDU type 11 (protocol version 2, RFC 9582 style provider-
// authorization records, spec.md Section 4.1 / Data Model ASPA Record v2).
type ASPA struct {
	Version     uint8
	Flags       uint8
	CustomerASN uint32
	Providers   []uint32
}

// PDUType implements PDU.
func (p *ASPA) PDUType() Type { return TypeASPA }

// Announcement reports whether the PDU flags indicate an announcement.
func (p *ASPA) Announcement() bool { return p.Flags&AnnouncementFlag != 0 }
