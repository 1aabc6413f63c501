package bgpsec

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"net"
	"testing"

	"github.com/bgpsrx/rtrsec/internal/bgpseccrypto"
	"github.com/bgpsrx/rtrsec/internal/hashmsg"
	"github.com/bgpsrx/rtrsec/internal/keystore"
)

type testRouter struct {
	asn  uint32
	ski  [hashmsg.SKILength]byte
	priv *ecdsa.PrivateKey
	der  []byte
}

func newTestRouter(t *testing.T, asn uint32, skiByte byte) testRouter {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	var ski [hashmsg.SKILength]byte
	ski[0] = skiByte
	return testRouter{asn: asn, ski: ski, priv: priv, der: der}
}

func (r testRouter) registerAs(t *testing.T, p bgpseccrypto.Provider, role string) {
	t.Helper()
	k := &keystore.Key{Algorithm: keystore.AlgoECDSAP256SHA256, ASN: r.asn, SKI: r.ski, DER: r.der, Priv: r.priv}
	var err error
	switch role {
	case "public":
		_, err = p.RegisterPublicKey(k)
	case "private":
		_, err = p.RegisterPrivateKey(k)
	}
	if err != nil {
		t.Fatalf("Register%sKey(asn=%d) error = %v", role, r.asn, err)
	}
}

func samplePrefix() hashmsg.NLRI {
	_, ipnet, _ := net.ParseCIDR("192.0.2.0/24")
	ones, _ := ipnet.Mask.Size()
	octets := (ones + 7) / 8
	return hashmsg.NLRI{AFI: 1, SAFI: 1, PrefixLen: uint8(ones), Prefix: ipnet.IP.To4()[:octets]}
}

// TestEngineOriginSignAndValidate is scenario S4: an origin AS signs its own
// announcement and a downstream peer validates it against the origin's
// public key.
func TestEngineOriginSignAndValidate(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	origin := newTestRouter(t, 64500, 0x01)
	origin.registerAs(t, provider, "private")
	origin.registerAs(t, provider, "public")

	const peerAS = 64501
	nlri := samplePrefix()
	mySeg := hashmsg.PathSegment{PCount: 1, Flags: 0, ASN: origin.asn}

	sigSeg, status, err := engine.Sign(origin.asn, origin.ski, uint8(keystore.AlgoECDSAP256SHA256), peerAS, mySeg, nil, nil, &nlri)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if status != bgpseccrypto.StatusOK {
		t.Fatalf("Sign() status = %v, want StatusOK", status)
	}

	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{mySeg},
		Blocks: []SignatureBlock{{
			AlgoID:     uint8(keystore.AlgoECDSAP256SHA256),
			Signatures: []hashmsg.SignatureSegment{sigSeg},
		}},
	}

	result, err := engine.Validate(peerAS, attr, nlri)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid() {
		t.Fatalf("Validate() result = %+v, want valid", result)
	}
}

// TestEngineKeyNotFound is scenario S5: validating against an empty key
// store must report StatusInfoKeyNotFound without a crash.
func TestEngineKeyNotFound(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	var ski [hashmsg.SKILength]byte
	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{{PCount: 1, ASN: 64500}},
		Blocks: []SignatureBlock{{
			AlgoID:     uint8(keystore.AlgoECDSAP256SHA256),
			Signatures: []hashmsg.SignatureSegment{{SKI: ski, Sig: []byte{1, 2, 3}}},
		}},
	}

	result, err := engine.Validate(64501, attr, samplePrefix())
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Validate() error = %v, want ErrKeyNotFound", err)
	}
	if !result.Status.Has(bgpseccrypto.StatusInfoKeyNotFound) {
		t.Fatalf("status = %v, want StatusInfoKeyNotFound", result.Status)
	}
	if result.Valid() {
		t.Fatalf("Validate() result.Valid() = true, want false")
	}
}

// TestEngineTransitChainSignAndValidate covers a two-hop path: the origin
// signs, a transit AS re-signs adding its own segment, and a final receiver
// validates both signatures.
func TestEngineTransitChainSignAndValidate(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	origin := newTestRouter(t, 64500, 0x01)
	transit := newTestRouter(t, 64501, 0x02)
	for _, r := range []testRouter{origin, transit} {
		r.registerAs(t, provider, "private")
		r.registerAs(t, provider, "public")
	}

	const algoID = uint8(keystore.AlgoECDSAP256SHA256)
	nlri := samplePrefix()

	originSeg := hashmsg.PathSegment{PCount: 1, Flags: 0, ASN: origin.asn}
	originSig, _, err := engine.Sign(origin.asn, origin.ski, algoID, transit.asn, originSeg, nil, nil, &nlri)
	if err != nil {
		t.Fatalf("origin Sign() error = %v", err)
	}

	const receiverAS = 64502
	transitSeg := hashmsg.PathSegment{PCount: 1, Flags: 0, ASN: transit.asn}
	transitSig, _, err := engine.Sign(transit.asn, transit.ski, algoID, receiverAS, transitSeg,
		[]hashmsg.PathSegment{originSeg}, []hashmsg.SignatureSegment{originSig}, &nlri)
	if err != nil {
		t.Fatalf("transit Sign() error = %v", err)
	}

	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{transitSeg, originSeg},
		Blocks: []SignatureBlock{{
			AlgoID:     algoID,
			Signatures: []hashmsg.SignatureSegment{transitSig, originSig},
		}},
	}

	result, err := engine.Validate(receiverAS, attr, nlri)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid() {
		t.Fatalf("Validate() result = %+v, want valid", result)
	}
}

func TestEngineUnsupportedAlgorithm(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	var ski [hashmsg.SKILength]byte
	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{{PCount: 1, ASN: 64500}},
		Blocks: []SignatureBlock{{
			AlgoID:     99,
			Signatures: []hashmsg.SignatureSegment{{SKI: ski, Sig: []byte{1}}},
		}},
	}

	result, err := engine.Validate(64501, attr, samplePrefix())
	if !errors.Is(err, ErrUnsupportedAlgo) {
		t.Fatalf("Validate() error = %v, want ErrUnsupportedAlgo", err)
	}
	if !result.Status.Has(bgpseccrypto.StatusErrUnsupportedAlgo) {
		t.Fatalf("status = %v, want StatusErrUnsupportedAlgo", result.Status)
	}
}

func TestEngineSegmentCountMismatch(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	var ski [hashmsg.SKILength]byte
	attr := &Attribute{
		Code: 30,
		Path: []hashmsg.PathSegment{
			{PCount: 1, ASN: 64500},
			{PCount: 1, ASN: 64499},
		},
		Blocks: []SignatureBlock{{
			AlgoID:     uint8(keystore.AlgoECDSAP256SHA256),
			Signatures: []hashmsg.SignatureSegment{{SKI: ski, Sig: []byte{1}}},
		}},
	}

	result, err := engine.Validate(64501, attr, samplePrefix())
	if !errors.Is(err, ErrSegmentMismatch) {
		t.Fatalf("Validate() error = %v, want ErrSegmentMismatch", err)
	}
	if !result.Status.Has(bgpseccrypto.StatusErrSyntax) {
		t.Fatalf("status = %v, want StatusErrSyntax", result.Status)
	}
}

func TestEngineSignOriginWithoutNLRI(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	var ski [hashmsg.SKILength]byte
	_, _, err := engine.Sign(64500, ski, uint8(keystore.AlgoECDSAP256SHA256), 64501,
		hashmsg.PathSegment{ASN: 64500, PCount: 1}, nil, nil, nil)
	if !errors.Is(err, ErrNoNLRI) {
		t.Fatalf("Sign() error = %v, want ErrNoNLRI", err)
	}
}

func TestEngineSignTransitWithoutNLRI(t *testing.T) {
	provider := bgpseccrypto.NewECDSAP256Provider()
	if _, err := provider.Init("", 0); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	engine := NewEngine(provider)

	var ski [hashmsg.SKILength]byte
	olderPath := []hashmsg.PathSegment{{ASN: 64499, PCount: 1}}
	olderSigs := []hashmsg.SignatureSegment{{SKI: ski, Sig: []byte{1, 2, 3}}}
	_, _, err := engine.Sign(64500, ski, uint8(keystore.AlgoECDSAP256SHA256), 64501,
		hashmsg.PathSegment{ASN: 64500, PCount: 1}, olderPath, olderSigs, nil)
	if !errors.Is(err, ErrNoNLRI) {
		t.Fatalf("Sign() error = %v, want ErrNoNLRI", err)
	}
}
