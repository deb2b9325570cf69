package certutil

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// RFC 5280/6487 extension and access-method OIDs not exposed structurally
// by crypto/x509.
var (
	oidSubjectInfoAccess  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}
	oidAuthorityInfoAccess = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}

	accessMethodCAIssuers   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
	accessMethodCARepository = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	accessMethodRPKIManifest = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
	accessMethodRPKINotify   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 13}
)

type accessDescription struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

// SIA holds the three access-description URIs an RPKI CA certificate's
// Subject Information Access extension carries (spec.md 4.1). Notify is
// empty for CAs that do not publish over RRDP.
type SIA struct {
	Repository string
	Manifest   string
	Notify     string
}

// findExtension returns the raw extension value for oid, or nil if the
// certificate does not carry it.
func findExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) []byte {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext.Value
		}
	}
	return nil
}

func decodeAccessDescriptions(der []byte) ([]accessDescription, error) {
	var ads []accessDescription
	if _, err := asn1.Unmarshal(der, &ads); err != nil {
		return nil, fmt.Errorf("certutil: decode AccessDescription sequence: %w", err)
	}
	return ads, nil
}

// uriFromGeneralName extracts a uniformResourceIdentifier GeneralName
// (context tag 6, as an IA5String), returning "" for any other choice.
func uriFromGeneralName(raw asn1.RawValue) string {
	if raw.Class != asn1.ClassContextSpecific || raw.Tag != 6 {
		return ""
	}
	return string(raw.Bytes)
}

// ParseSIA extracts the rsync repository, manifest, and (optional) RRDP
// notify URIs from a CA certificate's Subject Information Access
// extension.
func ParseSIA(cert *x509.Certificate) (SIA, error) {
	raw := findExtension(cert, oidSubjectInfoAccess)
	if raw == nil {
		return SIA{}, fmt.Errorf("certutil: certificate carries no SIA extension")
	}
	ads, err := decodeAccessDescriptions(raw)
	if err != nil {
		return SIA{}, err
	}

	var sia SIA
	for _, ad := range ads {
		uri := uriFromGeneralName(ad.Location)
		if uri == "" {
			continue
		}
		switch {
		case ad.Method.Equal(accessMethodCARepository):
			sia.Repository = uri
		case ad.Method.Equal(accessMethodRPKIManifest):
			sia.Manifest = uri
		case ad.Method.Equal(accessMethodRPKINotify):
			sia.Notify = uri
		}
	}
	return sia, nil
}

// ParseAIA extracts the issuer's ca-issuers rsync URI from a
// certificate's Authority Information Access extension. A trust anchor
// certificate carries no AIA; callers treat "" as that case rather than
// an error.
func ParseAIA(cert *x509.Certificate) (string, error) {
	raw := findExtension(cert, oidAuthorityInfoAccess)
	if raw == nil {
		return "", nil
	}
	ads, err := decodeAccessDescriptions(raw)
	if err != nil {
		return "", err
	}
	for _, ad := range ads {
		if ad.Method.Equal(accessMethodCAIssuers) {
			return uriFromGeneralName(ad.Location), nil
		}
	}
	return "", nil
}

// CRLDistributionPoint returns the single rsync CRL URI a CA certificate
// carries, per spec.md 3's one-CRL-per-CA invariant. crypto/x509 already
// exposes this structurally as CRLDistributionPoints; this wrapper just
// enforces the "exactly one" shape and surfaces a clear error otherwise.
func CRLDistributionPoint(cert *x509.Certificate) (string, error) {
	switch len(cert.CRLDistributionPoints) {
	case 0:
		return "", nil // trust anchors carry none
	case 1:
		return cert.CRLDistributionPoints[0], nil
	default:
		return "", fmt.Errorf("certutil: certificate carries %d CRL distribution points, want 0 or 1", len(cert.CRLDistributionPoints))
	}
}

// SubjectKeyID and AuthorityKeyID wrap the corresponding crypto/x509
// fields; RPKI requires both to be present (except AKI on a TA) and
// exactly 20 bytes (a SHA-1 digest per RFC 6487 section 4.8.2), which
// crypto/x509 does not itself enforce.
func SubjectKeyID(cert *x509.Certificate) ([]byte, error) {
	if len(cert.SubjectKeyId) != 20 {
		return nil, fmt.Errorf("certutil: SKI length %d, want 20", len(cert.SubjectKeyId))
	}
	return cert.SubjectKeyId, nil
}

func AuthorityKeyID(cert *x509.Certificate) ([]byte, error) {
	if cert.AuthorityKeyId == nil {
		return nil, nil
	}
	if len(cert.AuthorityKeyId) != 20 {
		return nil, fmt.Errorf("certutil: AKI length %d, want 20", len(cert.AuthorityKeyId))
	}
	return cert.AuthorityKeyId, nil
}

// PublicKeyEqual compares two DER-encoded SubjectPublicKeyInfo blobs
// byte-for-byte, the check valid_ta uses to confirm a fetched trust
// anchor certificate's key matches its TAL.
func PublicKeyEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
