package parser

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cuemby/rpki-client/pkg/types"
)

// ParseCRL is crl_parse: parses a DER X.509 CRL and indexes its revoked
// serial numbers, keyed by the issuer's AKI (the SKI of the CA that signed
// it) for lookup during the manifest-driven walk.
func ParseCRL(path string) (types.CRL, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.CRL{}, fmt.Errorf("parser: read %s: %w", path, err)
	}

	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return types.CRL{}, fmt.Errorf("parser: crl_parse: %w", err)
	}
	if len(crl.AuthorityKeyId) == 0 {
		return types.CRL{}, fmt.Errorf("parser: crl_parse: no AuthorityKeyIdentifier extension")
	}

	revoked := make(map[string]struct{}, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber != nil {
			revoked[entry.SerialNumber.String()] = struct{}{}
		}
	}

	return types.CRL{
		AKI:        crl.AuthorityKeyId,
		ThisUpdate: crl.ThisUpdate,
		NextUpdate: crl.NextUpdate,
		Revoked:    revoked,
	}, nil
}
