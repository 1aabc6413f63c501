package bgpsec

import (
	"errors"
	"fmt"

	"github.com/bgpsrx/rtrsec/internal/bgpseccrypto"
	"github.com/bgpsrx/rtrsec/internal/hashmsg"
	"github.com/bgpsrx/rtrsec/internal/keystore"
)

// Sentinel errors returned by the engine. Each pairs with a bgpseccrypto
// Status flag describing the same failure for callers that only inspect
// status bits (e.g. a counter label).
var (
	ErrUnsupportedAlgo   = errors.New("bgpsec: no signature block uses a supported algorithm")
	ErrSegmentMismatch   = errors.New("bgpsec: secure-path and signature-block segment counts differ")
	ErrKeyNotFound       = errors.New("bgpsec: signer key not found")
	ErrSignatureMismatch = errors.New("bgpsec: signature verification failed")
	ErrNoNLRI            = errors.New("bgpsec: origin signing requires an NLRI")
)

// Result reports the outcome of Validate: the aggregate status, and, on
// failure, which secure-path segment (newest = index 0) caused it.
type Result struct {
	Status        bgpseccrypto.Status
	FailedSegment int // -1 if every segment verified
}

// Valid reports whether every segment verified.
func (r Result) Valid() bool { return !r.Status.IsError() }

// Engine implements the BGPsec validate/sign contract on top of a crypto
// Provider's key store and the hashmsg digest builder. It is stateless
// aside from the Provider's stores, so a single Engine may be shared across
// goroutines provided each call builds its own hash message.
type Engine struct {
	provider bgpseccrypto.Provider
}

// NewEngine returns an Engine backed by provider's key stores and crypto
// operations.
func NewEngine(provider bgpseccrypto.Provider) *Engine {
	return &Engine{provider: provider}
}

// Validate checks every signature in attr against myASN's view of the path,
// per RFC 8205 Section 5: walk newest to oldest, verifying segment i against
// the public key of the ASN carried in that same segment (the party that
// produced it).
//
// The first Signature_Block whose algorithm the provider supports is used;
// if neither is supported, the result carries StatusErrUnsupportedAlgo.
func (e *Engine) Validate(myASN uint32, attr *Attribute, nlri hashmsg.NLRI) (Result, error) {
	if len(attr.Path) == 0 {
		return Result{Status: bgpseccrypto.StatusErrSyntax, FailedSegment: -1},
			fmt.Errorf("bgpsec: %w", hashmsg.ErrNoSegments)
	}

	block, ok := e.chooseBlock(attr.Blocks)
	if !ok {
		return Result{Status: bgpseccrypto.StatusErrUnsupportedAlgo, FailedSegment: -1},
			fmt.Errorf("bgpsec: %w", ErrUnsupportedAlgo)
	}
	if len(block.Signatures) != len(attr.Path) {
		return Result{Status: bgpseccrypto.StatusErrSyntax, FailedSegment: -1},
			fmt.Errorf("bgpsec: %d path segments vs %d signatures: %w",
				len(attr.Path), len(block.Signatures), ErrSegmentMismatch)
	}

	algo := keystore.Algorithm(block.AlgoID)
	msg, err := hashmsg.BuildValidation(myASN, attr.Path, block.Signatures, block.AlgoID, nlri)
	if err != nil {
		return Result{Status: bgpseccrypto.StatusErrSyntax, FailedSegment: -1},
			fmt.Errorf("bgpsec: build hash message: %w", err)
	}

	for i := range attr.Path {
		// The signer of segment i is the ASN recorded in that same
		// Secure_Path segment: it is the party that added this hop (and,
		// for the newest segment, the announcer itself).
		signerASN := attr.Path[i].ASN
		ski := block.Signatures[i].SKI

		keys, err := e.provider.Keys().LookupPublicKeys(algo, signerASN, ski)
		if err != nil || len(keys) == 0 {
			return Result{Status: bgpseccrypto.StatusInfoKeyNotFound | bgpseccrypto.StatusErrInvalidKey, FailedSegment: i},
				fmt.Errorf("bgpsec: segment %d asn=%d ski=%x: %w", i, signerASN, ski, ErrKeyNotFound)
		}

		digest := msg.Digest(i)
		verified := false
		var lastErr error
		for _, k := range keys {
			pub, err := k.PublicKey()
			if err != nil {
				lastErr = err
				continue
			}
			status, err := e.provider.Validate(algo, pub, digest, block.Signatures[i].Sig)
			if err != nil {
				lastErr = err
				continue
			}
			if status == bgpseccrypto.StatusOK {
				verified = true
				break
			}
		}
		if !verified {
			if lastErr != nil {
				return Result{Status: bgpseccrypto.StatusErrSignatureMismatch, FailedSegment: i}, lastErr
			}
			return Result{Status: bgpseccrypto.StatusErrSignatureMismatch, FailedSegment: i},
				fmt.Errorf("bgpsec: segment %d asn=%d: %w", i, signerASN, ErrSignatureMismatch)
		}
	}

	return Result{Status: bgpseccrypto.StatusOK, FailedSegment: -1}, nil
}

func (e *Engine) chooseBlock(blocks []SignatureBlock) (SignatureBlock, bool) {
	for _, blk := range blocks {
		if e.provider.IsAlgorithmSupported(keystore.Algorithm(blk.AlgoID)) {
			return blk, true
		}
	}
	return SignatureBlock{}, false
}

// Sign produces the signature segment a router must attach when it
// announces or re-announces a route. nlri is always required. For an
// origin announcement, pass olderPath and olderSigs as nil/empty;
// BuildOrigin constructs the short-form digest. For a transit
// re-announcement, pass the Secure_Path segments and Signature_Block
// entries exactly as received from upstream (oldest last, matching wire
// order) — the engine rebuilds the full hash message with myPathSegment
// prepended as the new newest segment.
func (e *Engine) Sign(
	myASN uint32,
	ski [hashmsg.SKILength]byte,
	algoID uint8,
	peerAS uint32,
	myPathSegment hashmsg.PathSegment,
	olderPath []hashmsg.PathSegment,
	olderSigs []hashmsg.SignatureSegment,
	nlri *hashmsg.NLRI,
) (hashmsg.SignatureSegment, bgpseccrypto.Status, error) {
	var msg *hashmsg.Message
	if len(olderPath) == 0 {
		if nlri == nil {
			return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrNoData,
				fmt.Errorf("bgpsec: %w", ErrNoNLRI)
		}
		var err error
		msg, err = hashmsg.BuildOrigin(peerAS, myPathSegment, algoID, *nlri)
		if err != nil {
			return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrSyntax,
				fmt.Errorf("bgpsec: build origin hash message: %w", err)
		}
	} else {
		if nlri == nil {
			return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrNoData,
				fmt.Errorf("bgpsec: %w", ErrNoNLRI)
		}
		path := append([]hashmsg.PathSegment{myPathSegment}, olderPath...)
		sigs := append([]hashmsg.SignatureSegment{{}}, olderSigs...)
		var err error
		msg, err = hashmsg.BuildValidation(peerAS, path, sigs, algoID, *nlri)
		if err != nil {
			return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrSyntax,
				fmt.Errorf("bgpsec: build transit hash message: %w", err)
		}
	}

	algo := keystore.Algorithm(algoID)
	if !e.provider.IsAlgorithmSupported(algo) {
		return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrUnsupportedAlgo,
			fmt.Errorf("bgpsec: algo %d: %w", algoID, ErrUnsupportedAlgo)
	}

	keys, err := e.provider.Keys().LookupPrivateKeys(algo, myASN, ski)
	if err != nil || len(keys) == 0 {
		return hashmsg.SignatureSegment{}, bgpseccrypto.StatusInfoKeyNotFound | bgpseccrypto.StatusErrInvalidKey,
			fmt.Errorf("bgpsec: asn=%d ski=%x: %w", myASN, ski, ErrKeyNotFound)
	}
	priv, err := keys[0].PrivateKey()
	if err != nil {
		return hashmsg.SignatureSegment{}, bgpseccrypto.StatusErrInvalidKey,
			fmt.Errorf("bgpsec: asn=%d ski=%x: %w", myASN, ski, err)
	}

	sig, status, err := e.provider.Sign(algo, priv, msg.Digest(0))
	if err != nil {
		return hashmsg.SignatureSegment{}, status, fmt.Errorf("bgpsec: sign: %w", err)
	}
	return hashmsg.SignatureSegment{SKI: ski, Sig: sig}, status, nil
}
