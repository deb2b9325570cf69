// Package certutil holds the structural X.509/RFC-3779 helpers shared by
// the parser worker: extension extraction, the minimal ASN.1 frame
// peeler used for CMS eContent version checks, and RFC 3779 resource
// extension decoding. CMS SignedData signature verification is done in
// this package too, by VerifyCMS in cms.go.
package certutil

import (
	"encoding/asn1"
	"fmt"

	"github.com/cuemby/rpki-client/pkg/types"
)

// ASN1Frame is the minimal DER frame decoder from spec.md 4.1: it peels a
// single tag/length off der and returns the tag byte, the content bytes,
// and the number of bytes consumed. It is used for CMS eContent version
// checks and for splitting the CMS certificates set, not as a general
// ASN.1 parser.
func ASN1Frame(der []byte) (tag byte, content []byte, consumed int, err error) {
	if len(der) < 2 {
		return 0, nil, 0, fmt.Errorf("certutil: frame too short")
	}
	tag = der[0]
	lenByte := der[1]

	var length, headerLen int
	switch {
	case lenByte < 0x80:
		length = int(lenByte)
		headerLen = 2
	case lenByte == 0x80:
		return 0, nil, 0, fmt.Errorf("certutil: indefinite-length DER not permitted")
	default:
		numLenBytes := int(lenByte &^ 0x80)
		if numLenBytes == 0 || numLenBytes > 4 || len(der) < 2+numLenBytes {
			return 0, nil, 0, fmt.Errorf("certutil: invalid long-form length")
		}
		for i := 0; i < numLenBytes; i++ {
			length = (length << 8) | int(der[2+i])
		}
		headerLen = 2 + numLenBytes
	}

	if length < 0 || len(der) < headerLen+length {
		return 0, nil, 0, fmt.Errorf("certutil: truncated DER frame")
	}
	return tag, der[headerLen : headerLen+length], headerLen + length, nil
}

// CMSEContentVersion validates that a CMS SignedData's eContent version
// integer is exactly 0 (spec.md 4.1 cms_econtent_version); any other
// value is a parse failure.
func CMSEContentVersion(econtent []byte) error {
	_, content, _, err := ASN1Frame(econtent)
	if err != nil {
		return fmt.Errorf("certutil: cms econtent version: %w", err)
	}
	var version int
	if _, err := asn1.Unmarshal(content, &version); err != nil {
		// Some eContent wrappers carry the version as the first element
		// of a SEQUENCE rather than a bare INTEGER; fall back to peeling
		// the first frame's own header.
		tag, inner, _, ferr := ASN1Frame(content)
		if ferr != nil || tag != asn1.TagInteger {
			return fmt.Errorf("certutil: cms econtent version: unrecognized structure")
		}
		version = 0
		for _, b := range inner {
			version = version<<8 | int(b)
		}
	}
	if version != 0 {
		return fmt.Errorf("certutil: cms econtent version %d, want 0", version)
	}
	return nil
}

// RFC 3779 extension OIDs (RFC 3779 section 3).
var (
	oidIPAddrBlocks  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	oidASIdentifiers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
)

// asn1IPAddressFamily mirrors RFC 3779's IPAddressFamily SEQUENCE, with
// addressFamily as the raw 2-3 byte AFI+SAFI octet string (we only use
// the first two bytes to discriminate IPv4/IPv6) and addresses as the
// CHOICE between inherit and explicit.
type asn1IPAddressFamily struct {
	AddressFamily []byte
	Addresses     asn1.RawValue
}

type asn1ASIdentifierChoice struct {
	ASNum asn1.RawValue `asn1:"optional,explicit,tag:0"`
	RDI   asn1.RawValue `asn1:"optional,explicit,tag:1"`
}

// DecodeIPAddrBlocks parses the raw DER value of an RFC 3779 IPAddrBlocks
// extension (already stripped of the OCTET STRING wrapper crypto/x509
// leaves extensions in) into a flat, per-AFI element list.
func DecodeIPAddrBlocks(der []byte) ([]types.IPElement, error) {
	var families []asn1IPAddressFamily
	if _, err := asn1.Unmarshal(der, &families); err != nil {
		return nil, fmt.Errorf("certutil: decode IPAddrBlocks: %w", err)
	}

	var out []types.IPElement
	for _, fam := range families {
		if len(fam.AddressFamily) < 2 {
			return nil, fmt.Errorf("certutil: malformed address family octet string")
		}
		var afi types.AFI
		switch (uint16(fam.AddressFamily[0]) << 8) | uint16(fam.AddressFamily[1]) {
		case 1:
			afi = types.AFIv4
		case 2:
			afi = types.AFIv6
		default:
			continue // unsupported family, silently skipped like unknown manifest suffixes
		}

		// Addresses is a CHOICE: either the NULL "inherit" or a
		// SEQUENCE OF IPAddressOrRange.
		if fam.Addresses.Tag == asn1.TagNull {
			out = append(out, types.IPElement{AFI: afi, Inherit: true})
			continue
		}

		// decodeIPAddressOrRanges unmarshals into a []RawValue, which
		// requires the SEQUENCE OF wrapping tag a non-explicit RawValue
		// capture strips off; FullBytes keeps that tag, Bytes does not.
		els, err := decodeIPAddressOrRanges(afi, fam.Addresses.FullBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, els...)
	}
	return out, nil
}

type asn1IPAddressRange struct {
	Min asn1.BitString
	Max asn1.BitString
}

func decodeIPAddressOrRanges(afi types.AFI, der []byte) ([]types.IPElement, error) {
	var raws []asn1.RawValue
	if _, err := asn1.Unmarshal(der, &raws); err != nil {
		return nil, fmt.Errorf("certutil: decode IPAddressOrRange sequence: %w", err)
	}

	width := 4
	if afi == types.AFIv6 {
		width = 16
	}

	var out []types.IPElement
	for _, raw := range raws {
		if raw.Class == asn1.ClassContextSpecific && raw.Tag == 1 {
			// IPAddressRange ::= SEQUENCE { min, max }
			var r asn1IPAddressRange
			if _, err := asn1.Unmarshal(raw.FullBytes, &r); err != nil {
				return nil, fmt.Errorf("certutil: decode IPAddressRange: %w", err)
			}
			minB := bitStringToAddr(r.Min, width)
			maxB := bitStringToAddr(r.Max, width)
			var rng types.IPRange
			copy(rng.Min[:], pad16(minB))
			copy(rng.Max[:], pad16(maxB))
			out = append(out, types.IPElement{AFI: afi, PrefixLen: -1, Range: rng})
			continue
		}

		// IPAddress ::= BIT STRING (a prefix)
		var bits asn1.BitString
		if _, err := asn1.Unmarshal(raw.FullBytes, &bits); err != nil {
			return nil, fmt.Errorf("certutil: decode IPAddress prefix: %w", err)
		}
		addr := bitStringToAddr(bits, width)
		plen := bits.BitLength
		if plen > width*8 {
			return nil, fmt.Errorf("certutil: prefix length %d exceeds family width", plen)
		}
		out = append(out, types.IPElement{AFI: afi, Prefix: addr, PrefixLen: plen})
	}
	return out, nil
}

func bitStringToAddr(bits asn1.BitString, width int) []byte {
	out := make([]byte, width)
	copy(out, bits.Bytes)
	return out
}

func pad16(addr []byte) []byte {
	if len(addr) == 16 {
		return addr
	}
	out := make([]byte, 16)
	copy(out, addr)
	return out
}

// DecodeASIdentifiers parses the raw DER value of an RFC 3779
// ASIdentifiers extension's "asnum" choice into a flat AS element list.
// The RDI (routing domain identifier) choice is not part of this
// validator's scope and is ignored if present.
func DecodeASIdentifiers(der []byte) ([]types.ASElement, error) {
	var choice asn1ASIdentifierChoice
	if _, err := asn1.Unmarshal(der, &choice); err != nil {
		return nil, fmt.Errorf("certutil: decode ASIdentifiers: %w", err)
	}
	if choice.ASNum.FullBytes == nil {
		return nil, nil
	}
	// ASNum is EXPLICIT [0], so Bytes holds the complete inner TLV: its
	// own leading tag byte distinguishes the inherit NULL from the
	// asIdsOrRanges SEQUENCE, unlike choice.ASNum.Tag which always
	// reflects the outer context tag instead.
	if len(choice.ASNum.Bytes) > 0 && choice.ASNum.Bytes[0] == byte(asn1.TagNull) {
		return []types.ASElement{{Inherit: true}}, nil
	}

	var raws []asn1.RawValue
	if _, err := asn1.Unmarshal(choice.ASNum.Bytes, &raws); err != nil {
		return nil, fmt.Errorf("certutil: decode ASIdOrRange sequence: %w", err)
	}

	var out []types.ASElement
	for _, raw := range raws {
		if raw.Class == asn1.ClassContextSpecific && raw.Tag == 1 {
			var r struct {
				Min int64
				Max int64
			}
			if _, err := asn1.Unmarshal(raw.FullBytes, &r); err != nil {
				return nil, fmt.Errorf("certutil: decode ASIdRange: %w", err)
			}
			out = append(out, types.ASElement{Min: uint32(r.Min), Max: uint32(r.Max)})
			continue
		}
		var id int64
		if _, err := asn1.Unmarshal(raw.FullBytes, &id); err != nil {
			return nil, fmt.Errorf("certutil: decode ASId: %w", err)
		}
		out = append(out, types.ASElement{Min: uint32(id), Max: uint32(id)})
	}
	return out, nil
}

// ExtensionOIDs exposes the two RFC 3779 OIDs so the parser can locate
// them among a certificate's raw extensions.
func ExtensionOIDs() (ip, as asn1.ObjectIdentifier) {
	return oidIPAddrBlocks, oidASIdentifiers
}
