package certutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// RPKI signed objects are profiled to a single digest algorithm
// (RFC 6485/7935): SHA-256.
var (
	oidSHA256          = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidMessageDigest   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type algorithmIdentifier = pkix.AlgorithmIdentifier

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type signerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    algorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm algorithmIdentifier
	Signature          []byte
}

type signedData struct {
	Version          int
	DigestAlgorithms []algorithmIdentifier `asn1:"set"`
	EncapContentInfo encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// CMS is a verified CMS signed object (RFC 6488): the encapsulated
// eContent and the single embedded EE certificate that signed it.
type CMS struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte
	SignerCert   *x509.Certificate
}

// VerifyCMS parses and verifies a DER-encoded CMS ContentInfo per RFC 6488:
// exactly one signerInfo, exactly one embedded EE certificate, a SHA-256
// message digest over eContent matching the signed messageDigest attribute,
// and a signature over the (re-tagged) signed attributes verified against
// the embedded certificate's public key. This is the parser's sole crypto
// boundary collaborator — callers never touch asn1 or crypto primitives
// directly.
func VerifyCMS(der []byte) (CMS, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return CMS{}, fmt.Errorf("certutil: cms: parse ContentInfo: %w", err)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return CMS{}, fmt.Errorf("certutil: cms: parse SignedData: %w", err)
	}
	// RFC 6488 2.1.1 fixes SignedData.version at 3 (the CMSVersion implied
	// by a subjectKeyIdentifier SignerInfo.sid choice), distinct from the
	// eContent's own embedded version checked by cms_econtent_version.
	if sd.Version != 3 {
		return CMS{}, fmt.Errorf("certutil: cms: SignedData version %d, want 3", sd.Version)
	}
	if len(sd.SignerInfos) != 1 {
		return CMS{}, fmt.Errorf("certutil: cms: expected exactly one signerInfo, got %d", len(sd.SignerInfos))
	}
	si := sd.SignerInfos[0]
	if !si.DigestAlgorithm.Algorithm.Equal(oidSHA256) {
		return CMS{}, fmt.Errorf("certutil: cms: unsupported digest algorithm %v, want SHA-256", si.DigestAlgorithm.Algorithm)
	}

	cert, err := extractSignerCert(sd.Certificates)
	if err != nil {
		return CMS{}, err
	}

	digest := sha256.Sum256(sd.EncapContentInfo.EContent)

	if len(si.SignedAttrs.FullBytes) == 0 {
		return CMS{}, fmt.Errorf("certutil: cms: signedAttrs missing, required by RFC 6488")
	}
	// The signature covers, and messageDigestAttr must parse, the signed
	// attributes re-encoded as an ordinary SET (RFC 5652 5.4) — not the
	// SignerInfo's [0] IMPLICIT encoding, whose stripped content bytes
	// carry no wrapping tag a slice decode could key off.
	signedAttrsSet := retagSignedAttrsAsSet(si.SignedAttrs.FullBytes)

	msgDigest, err := messageDigestAttr(signedAttrsSet)
	if err != nil {
		return CMS{}, err
	}
	if string(msgDigest) != string(digest[:]) {
		return CMS{}, fmt.Errorf("certutil: cms: messageDigest attribute does not match eContent")
	}

	if err := verifySignature(cert, si.SignatureAlgorithm, signedAttrsSet, si.Signature); err != nil {
		return CMS{}, fmt.Errorf("certutil: cms: signature verification failed: %w", err)
	}

	return CMS{
		EContentType: sd.EncapContentInfo.EContentType,
		EContent:     sd.EncapContentInfo.EContent,
		SignerCert:   cert,
	}, nil
}

// CMSEContentVersionFromInt is cms_econtent_version applied to an
// already-decoded integer. VerifyCMS does not call it, nor the
// ASN1Frame-based CMSEContentVersion.
func CMSEContentVersionFromInt(version int) error {
	if version != 0 {
		return fmt.Errorf("certutil: cms econtent version %d, want 0", version)
	}
	return nil
}

// extractSignerCert decodes the [0] IMPLICIT SET OF CertificateChoices and
// requires exactly one certificate, per the RPKI signed-object profile.
func extractSignerCert(raw asn1.RawValue) (*x509.Certificate, error) {
	if len(raw.FullBytes) == 0 {
		return nil, fmt.Errorf("certutil: cms: no embedded certificates")
	}

	var n int
	var certDER []byte
	rest := raw.Bytes
	for len(rest) > 0 {
		_, _, consumed, err := ASN1Frame(rest)
		if err != nil {
			return nil, fmt.Errorf("certutil: cms: malformed certificates set: %w", err)
		}
		if n == 0 {
			certDER = rest[:consumed]
		}
		rest = rest[consumed:]
		n++
	}
	if n != 1 {
		return nil, fmt.Errorf("certutil: cms: expected exactly one embedded certificate, got %d", n)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("certutil: cms: parse embedded certificate: %w", err)
	}
	return cert, nil
}

// messageDigestAttr expects setDER to be a complete SET-tagged TLV (as
// produced by retagSignedAttrsAsSet), not just its content: decoding a
// slice requires the wrapping tag to size and type the iteration.
func messageDigestAttr(setDER []byte) ([]byte, error) {
	var attrs []attribute
	if _, err := asn1.UnmarshalWithParams(setDER, &attrs, "set"); err != nil {
		return nil, fmt.Errorf("certutil: cms: parse signedAttrs: %w", err)
	}
	for _, a := range attrs {
		if !a.Type.Equal(oidMessageDigest) {
			continue
		}
		var values [][]byte
		if _, err := asn1.UnmarshalWithParams(a.Values.FullBytes, &values, "set"); err != nil {
			return nil, fmt.Errorf("certutil: cms: parse messageDigest attribute: %w", err)
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("certutil: cms: messageDigest attribute must have exactly one value")
		}
		return values[0], nil
	}
	return nil, fmt.Errorf("certutil: cms: signedAttrs missing messageDigest")
}

// retagSignedAttrsAsSet rewrites the SignerInfo's [0] IMPLICIT signedAttrs
// tag (0xA0) to a universal SET OF tag (0x31), per RFC 5652 5.4: the
// signature covers the DER re-encoding of signedAttrs as an ordinary SET,
// not the context-specific tag it carries inside SignerInfo.
func retagSignedAttrsAsSet(fullBytes []byte) []byte {
	out := make([]byte, len(fullBytes))
	copy(out, fullBytes)
	out[0] = asn1.TagSet | 0x20 // constructed SET
	return out
}

func verifySignature(cert *x509.Certificate, alg algorithmIdentifier, signed, signature []byte) error {
	digest := sha256.Sum256(signed)

	switch {
	case alg.Algorithm.Equal(oidSHA256WithRSA), alg.Algorithm.Equal(oidRSAEncryption):
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected RSA public key, got %T", cert.PublicKey)
		}
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
	case alg.Algorithm.Equal(oidECDSAWithSHA256):
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected ECDSA public key, got %T", cert.PublicKey)
		}
		if !ecdsa.VerifyASN1(pub, digest[:], signature) {
			return fmt.Errorf("ecdsa signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature algorithm %v", alg.Algorithm)
	}
}
