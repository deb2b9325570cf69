package parser

import (
	"encoding/asn1"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/cuemby/rpki-client/pkg/certutil"
	"github.com/cuemby/rpki-client/pkg/resources"
	"github.com/cuemby/rpki-client/pkg/types"
)

type manifestContent struct {
	Version     int `asn1:"optional,default:0,tag:0"`
	Number      *big.Int
	ThisUpdate  time.Time
	NextUpdate  time.Time
	FileHashAlg asn1.ObjectIdentifier
	FileList    []fileAndHash
}

type fileAndHash struct {
	File string
	Hash asn1.BitString
}

type roaContent struct {
	Version      int `asn1:"optional,default:0,tag:0"`
	ASID         int64
	IPAddrBlocks []roaIPAddressFamily
}

type roaIPAddressFamily struct {
	AddressFamily []byte
	Addresses     []roaIPAddress
}

type roaIPAddress struct {
	Address   asn1.BitString
	MaxLength int `asn1:"optional,default:-1"`
}

// ParseManifest is mft_parse: verifies the CMS signing structure, then
// decodes the RFC 6486 Manifest content (thisUpdate/nextUpdate,
// manifestNumber, and the (file, SHA-256) list). Stale is set when wall
// time is past nextUpdate; a stale manifest is still returned, never an
// error (spec.md 4.3's staleness policy).
func ParseManifest(path string) (types.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Manifest{}, fmt.Errorf("parser: read %s: %w", path, err)
	}

	cms, err := certutil.VerifyCMS(raw)
	if err != nil {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: %w", err)
	}

	var content manifestContent
	if _, err := asn1.Unmarshal(cms.EContent, &content); err != nil {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: decode manifest content: %w", err)
	}
	if content.Version != 0 {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: version %d, want 0", content.Version)
	}
	if !content.Number.IsUint64() {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: manifestNumber does not fit a uint64")
	}

	ski, err := certutil.SubjectKeyID(cms.SignerCert)
	if err != nil {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: %w", err)
	}
	var aki []byte
	if len(cms.SignerCert.AuthorityKeyId) > 0 {
		aki, err = certutil.AuthorityKeyID(cms.SignerCert)
		if err != nil {
			return types.Manifest{}, fmt.Errorf("parser: mft_parse: %w", err)
		}
	}
	aia, err := certutil.ParseAIA(cms.SignerCert)
	if err != nil {
		return types.Manifest{}, fmt.Errorf("parser: mft_parse: %w", err)
	}

	entries := make([]types.ManifestEntry, 0, len(content.FileList))
	for _, fh := range content.FileList {
		if fh.Hash.BitLength != 256 {
			return types.Manifest{}, fmt.Errorf("parser: mft_parse: file %q has a %d-bit hash, want 256", fh.File, fh.Hash.BitLength)
		}
		var digest [32]byte
		copy(digest[:], fh.Hash.Bytes)
		entries = append(entries, types.ManifestEntry{Filename: fh.File, Hash: digest})
	}

	return types.Manifest{
		AKI:        aki,
		SKI:        ski,
		AIA:        aia,
		Number:     content.Number.Uint64(),
		ThisUpdate: content.ThisUpdate,
		NextUpdate: content.NextUpdate,
		Stale:      time.Now().After(content.NextUpdate),
		Entries:    entries,
	}, nil
}

// ParseROA is roa_parse: verifies the CMS signing structure, then decodes
// the RFC 6482 RouteOriginAttestation content (asID and the prefix/maxlen
// list per address family).
func ParseROA(path string) (types.ROA, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.ROA{}, fmt.Errorf("parser: read %s: %w", path, err)
	}

	cms, err := certutil.VerifyCMS(raw)
	if err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: %w", err)
	}

	var content roaContent
	if _, err := asn1.Unmarshal(cms.EContent, &content); err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: decode ROA content: %w", err)
	}
	if content.Version != 0 {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: version %d, want 0", content.Version)
	}
	if content.ASID < 0 || content.ASID > 0xffffffff {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: asID %d out of uint32 range", content.ASID)
	}

	var prefixes []types.ROAPrefix
	for _, fam := range content.IPAddrBlocks {
		if len(fam.AddressFamily) < 2 {
			return types.ROA{}, fmt.Errorf("parser: roa_parse: malformed address family octet string")
		}
		afi, ok := afiFromFamilyBytes(fam.AddressFamily)
		if !ok {
			continue // unsupported family, silently skipped
		}
		width := 4
		if afi == types.AFIv6 {
			width = 16
		}
		for _, addr := range fam.Addresses {
			prefixLen := addr.Address.BitLength
			if prefixLen > width*8 {
				return types.ROA{}, fmt.Errorf("parser: roa_parse: prefix length %d exceeds family width", prefixLen)
			}
			maxLength := addr.MaxLength
			if maxLength == -1 {
				maxLength = prefixLen
			}
			if maxLength < prefixLen || maxLength > afi.MaxPrefixLen() {
				return types.ROA{}, fmt.Errorf("parser: roa_parse: maxLength %d out of range for prefixLen %d", maxLength, prefixLen)
			}
			prefixBytes := make([]byte, width)
			copy(prefixBytes, addr.Address.Bytes)
			prefixes = append(prefixes, types.ROAPrefix{
				AFI:       afi,
				Prefix:    prefixBytes,
				PrefixLen: prefixLen,
				MaxLength: maxLength,
			})
		}
	}

	ski, err := certutil.SubjectKeyID(cms.SignerCert)
	if err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: %w", err)
	}
	var aki []byte
	if len(cms.SignerCert.AuthorityKeyId) > 0 {
		aki, err = certutil.AuthorityKeyID(cms.SignerCert)
		if err != nil {
			return types.ROA{}, fmt.Errorf("parser: roa_parse: %w", err)
		}
	}
	aia, err := certutil.ParseAIA(cms.SignerCert)
	if err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: %w", err)
	}

	eeIP, _, err := decodeResourceExtensions(cms.SignerCert)
	if err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: %w", err)
	}
	if err := resources.ValidateSorted(eeIP); err != nil {
		return types.ROA{}, fmt.Errorf("parser: roa_parse: EE cert: %w", err)
	}

	return types.ROA{
		AKI:         aki,
		SKI:         ski,
		AIA:         aia,
		ASID:        uint32(content.ASID),
		Prefixes:    prefixes,
		EEResources: eeIP,
		EENotAfter:  cms.SignerCert.NotAfter,
	}, nil
}

// ParseGBR is gbr_parse: verifies the CMS signing structure and returns the
// opaque vCard payload; Ghostbuster records are validated but never
// contribute to the VRP store.
func ParseGBR(path string) (types.GBR, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.GBR{}, fmt.Errorf("parser: read %s: %w", path, err)
	}

	cms, err := certutil.VerifyCMS(raw)
	if err != nil {
		return types.GBR{}, fmt.Errorf("parser: gbr_parse: %w", err)
	}

	ski, err := certutil.SubjectKeyID(cms.SignerCert)
	if err != nil {
		return types.GBR{}, fmt.Errorf("parser: gbr_parse: %w", err)
	}
	var aki []byte
	if len(cms.SignerCert.AuthorityKeyId) > 0 {
		aki, err = certutil.AuthorityKeyID(cms.SignerCert)
		if err != nil {
			return types.GBR{}, fmt.Errorf("parser: gbr_parse: %w", err)
		}
	}
	aia, err := certutil.ParseAIA(cms.SignerCert)
	if err != nil {
		return types.GBR{}, fmt.Errorf("parser: gbr_parse: %w", err)
	}

	return types.GBR{AKI: aki, SKI: ski, AIA: aia, VCard: cms.EContent}, nil
}

func afiFromFamilyBytes(b []byte) (types.AFI, bool) {
	switch (uint16(b[0]) << 8) | uint16(b[1]) {
	case 1:
		return types.AFIv4, true
	case 2:
		return types.AFIv6, true
	default:
		return 0, false
	}
}
