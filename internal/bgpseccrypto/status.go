package bgpseccrypto

import "fmt"

// Status is a 32-bit flag field reported alongside every Provider call:
// the low 16 bits carry informational flags, the high 16 bits carry error
// flags (srx-crypto-api's API_STATUS_* bit layout, srxcryptoapi.h). A
// result is considered an error iff any bit in the error half is set.
type Status uint32

const (
	infoMask uint32 = 0x0000FFFF
	errMask  uint32 = 0xFFFF0000
)

// Informational flags (low 16 bits).
const (
	StatusOK                Status = 0
	StatusInfoSignature     Status = 0x00000001
	StatusInfoKeyNotFound   Status = 0x00000002
	StatusInfoDuplicateKey  Status = 0x00001000
	StatusInfoAdditionalKey Status = 0x00002000
)

// Error flags (high 16 bits).
const (
	StatusErrNoData            Status = 0x00010000
	StatusErrNoPrefix          Status = 0x00020000
	StatusErrInvalidKey        Status = 0x00040000
	StatusErrKeyIO             Status = 0x00080000
	StatusErrInsufficientBuf   Status = 0x00100000
	StatusErrInsufficientStore Status = 0x00200000
	StatusErrUnsupportedAlgo   Status = 0x00400000
	StatusErrSyntax            Status = 0x00800000
	StatusErrSignatureMismatch Status = 0x01000000
	StatusErrInitAlreadyDone   Status = 0x02000000
)

// Info returns the low 16 bits (informational flags only).
func (s Status) Info() Status { return s & Status(infoMask) }

// Err returns the high 16 bits (error flags only).
func (s Status) Err() Status { return s & Status(errMask) }

// IsError reports whether any error bit is set. A Provider MUST return
// Error from validate/sign iff this is true.
func (s Status) IsError() bool { return s.Err() != 0 }

// Has reports whether every bit in flag is set in s.
func (s Status) Has(flag Status) bool { return s&flag == flag }

// String renders the set flags for logging.
func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	names := []struct {
		flag Status
		name string
	}{
		{StatusInfoSignature, "InfoSignature"},
		{StatusInfoKeyNotFound, "InfoKeyNotFound"},
		{StatusInfoDuplicateKey, "InfoDuplicateKey"},
		{StatusInfoAdditionalKey, "InfoAdditionalKey"},
		{StatusErrNoData, "ErrNoData"},
		{StatusErrNoPrefix, "ErrNoPrefix"},
		{StatusErrInvalidKey, "ErrInvalidKey"},
		{StatusErrKeyIO, "ErrKeyIO"},
		{StatusErrInsufficientBuf, "ErrInsufficientBuffer"},
		{StatusErrInsufficientStore, "ErrInsufficientStorage"},
		{StatusErrUnsupportedAlgo, "ErrUnsupportedAlgo"},
		{StatusErrSyntax, "ErrSyntax"},
		{StatusErrSignatureMismatch, "ErrSignatureMismatch"},
		{StatusErrInitAlreadyDone, "ErrInitAlreadyDone"},
	}
	out := ""
	for _, n := range names {
		if s.Has(n.flag) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return fmt.Sprintf("Status(0x%08x)", uint32(s))
	}
	return out
}
