// Package parser implements the parser worker from spec.md 4.1: a pure,
// single-threaded decoder of one entity at a time from the local cache.
// It never touches the network and never blocks on anything but the
// filesystem; signature verification crosses into pkg/certutil's CMS
// boundary rather than happening here directly.
package parser

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cuemby/rpki-client/pkg/certutil"
	"github.com/cuemby/rpki-client/pkg/resources"
	"github.com/cuemby/rpki-client/pkg/types"
)

// ParseCert is cert_parse: validates X.509 syntax, extracts AIA/CRL DP/SIA,
// SKI/AKI, and RFC 3779 AS/IP resources, and enforces the per-certificate
// sorted-disjoint-no-inherit-mixing invariant. The returned cert always has
// Valid == false; only valid_cert (pkg/validator) sets it.
func ParseCert(path string) (types.Cert, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: read %s: %w", path, err)
	}
	return parseCertDER(raw)
}

// ParseTA is ta_parse: as ParseCert, but additionally requires the cert's
// SubjectPublicKeyInfo to equal the TAL's expected key; the result carries
// no AIA/AKI since a trust anchor is self-signed and is its own issuer.
func ParseTA(path string, expectedPubKeyDER []byte) (types.Cert, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: read %s: %w", path, err)
	}
	cert, err := parseCertDER(raw)
	if err != nil {
		return types.Cert{}, err
	}
	if !certutil.PublicKeyEqual(cert.PublicKeyDER, expectedPubKeyDER) {
		return types.Cert{}, fmt.Errorf("parser: ta_parse: public key does not match TAL-asserted key")
	}
	cert.AIA = ""
	cert.AKI = nil
	return cert, nil
}

func parseCertDER(raw []byte) (types.Cert, error) {
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: parse certificate: %w", err)
	}

	ski, err := certutil.SubjectKeyID(cert)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}

	sia, err := certutil.ParseSIA(cert)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}

	aia, err := certutil.ParseAIA(cert)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}

	crldp, err := certutil.CRLDistributionPoint(cert)
	if err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}

	var aki []byte
	if len(cert.AuthorityKeyId) > 0 {
		aki, err = certutil.AuthorityKeyID(cert)
		if err != nil {
			return types.Cert{}, fmt.Errorf("parser: %w", err)
		}
	}

	ipEls, asEls, err := decodeResourceExtensions(cert)
	if err != nil {
		return types.Cert{}, err
	}
	if err := resources.ValidateSorted(ipEls); err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}
	if err := resources.ValidateSortedAS(asEls); err != nil {
		return types.Cert{}, fmt.Errorf("parser: %w", err)
	}

	return types.Cert{
		AS:           asEls,
		IP:           ipEls,
		Repo:         sia.Repository,
		MFT:          sia.Manifest,
		Notify:       sia.Notify,
		CRL:          crldp,
		AIA:          aia,
		AKI:          aki,
		SKI:          ski,
		NotAfter:     cert.NotAfter,
		PublicKeyDER: cert.RawSubjectPublicKeyInfo,
		Raw:          raw,
	}, nil
}

func decodeResourceExtensions(cert *x509.Certificate) ([]types.IPElement, []types.ASElement, error) {
	ipOID, asOID := certutil.ExtensionOIDs()

	var ipEls []types.IPElement
	var asEls []types.ASElement
	var err error

	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(ipOID):
			ipEls, err = certutil.DecodeIPAddrBlocks(ext.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("parser: %w", err)
			}
		case ext.Id.Equal(asOID):
			asEls, err = certutil.DecodeASIdentifiers(ext.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("parser: %w", err)
			}
		}
	}
	return ipEls, asEls, nil
}
