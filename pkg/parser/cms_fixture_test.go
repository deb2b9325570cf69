package parser

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"
)

// RFC 5652/6488 OIDs, duplicated here (rather than imported) since
// certutil keeps its own copies unexported: this file builds wire
// bytes, it does not reuse certutil's decoder types.
var (
	oidSignedDataTest    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidSHA256Test        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidMessageDigestTest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSHA256WithRSATest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
)

type cmsAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

type cmsEncapContent struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type cmsSignerInfo struct {
	Version            int
	SID                 asn1.RawValue
	DigestAlgorithm     pkix.AlgorithmIdentifier
	SignedAttrs         asn1.RawValue
	SignatureAlgorithm  pkix.AlgorithmIdentifier
	Signature           []byte
}

type cmsSignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo cmsEncapContent
	Certificates     asn1.RawValue
	SignerInfos      []cmsSignerInfo `asn1:"set"`
}

type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue
}

// signingIdentity is a self-signed RSA EE certificate used to wrap
// fixtures in a valid CMS SignedData envelope.
type signingIdentity struct {
	cert *x509.Certificate
	priv *rsa.PrivateKey
}

func newSigningIdentity(t *testing.T) signingIdentity {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ski := make([]byte, 20)
	for i := range ski {
		ski[i] = byte(i + 1)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-ee"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		SubjectKeyId: ski,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return signingIdentity{cert: cert, priv: priv}
}

// buildCMS assembles a minimal RFC 6488-profile CMS SignedData DER blob
// wrapping eContent under eContentType, signed by id, so ParseManifest/
// ParseROA/ParseGBR can be exercised end to end against
// certutil.VerifyCMS without a network or a real repository.
func buildCMS(t *testing.T, id signingIdentity, eContentType asn1.ObjectIdentifier, eContent []byte) []byte {
	t.Helper()

	digest := sha256.Sum256(eContent)
	attrs := []cmsAttribute{
		{Type: oidMessageDigestTest, Values: marshalSet(t, [][]byte{digest[:]})},
	}
	attrsSetDER := marshalSetBytes(t, attrs)
	implicitAttrs := append([]byte(nil), attrsSetDER...)
	implicitAttrs[0] = 0xa0 // [0] IMPLICIT, replacing the universal SET tag

	sigDigest := sha256.Sum256(attrsSetDER)
	sig, err := rsa.SignPKCS1v15(rand.Reader, id.priv, crypto.SHA256, sigDigest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	certSetDER := marshalSetBytes(t, []asn1.RawValue{{FullBytes: id.cert.Raw}})
	implicitCerts := append([]byte(nil), certSetDER...)
	implicitCerts[0] = 0xa0

	si := cmsSignerInfo{
		Version:            3,
		SID:                asn1.RawValue{FullBytes: mustMarshal(t, []byte("test-ski"))},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: oidSHA256Test},
		SignedAttrs:        asn1.RawValue{FullBytes: implicitAttrs},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidSHA256WithRSATest},
		Signature:          sig,
	}

	sd := cmsSignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{{Algorithm: oidSHA256Test}},
		EncapContentInfo: cmsEncapContent{EContentType: eContentType, EContent: eContent},
		Certificates:     asn1.RawValue{FullBytes: implicitCerts},
		SignerInfos:      []cmsSignerInfo{si},
	}
	sdDER := mustMarshal(t, sd)

	ci := cmsContentInfo{
		ContentType: oidSignedDataTest,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	}
	return mustMarshal(t, ci)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	der, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return der
}

func marshalSetBytes(t *testing.T, v any) []byte {
	t.Helper()
	der, err := asn1.MarshalWithParams(v, "set")
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	return der
}

func marshalSet(t *testing.T, v any) asn1.RawValue {
	t.Helper()
	return asn1.RawValue{FullBytes: marshalSetBytes(t, v)}
}
