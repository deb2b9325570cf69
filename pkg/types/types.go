// Package types holds the core RPKI domain structures shared across the
// parser, validator, fetch, and VRP-store packages.
package types

import (
	"time"
)

// AFI is the address family of an IP resource element.
type AFI uint8

const (
	AFIv4 AFI = 1
	AFIv6 AFI = 2
)

// String implements fmt.Stringer.
func (a AFI) String() string {
	switch a {
	case AFIv4:
		return "IPv4"
	case AFIv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// MaxPrefixLen returns the address family's maximum prefix length.
func (a AFI) MaxPrefixLen() int {
	if a == AFIv6 {
		return 128
	}
	return 32
}

// IPRange is the canonical [min,max] byte-range form of an IP resource
// element, zero-padded to 16 bytes for uniform comparison regardless of
// family. Every IPElement carries one of these alongside its original
// representation; pkg/resources recomputes it rather than trusting any
// cached copy (see SPEC_FULL.md Open Question decisions).
type IPRange struct {
	Min [16]byte
	Max [16]byte
}

// IPElement is one disjoint member of a certificate's or ROA's IP resource
// set for a given AFI: either a prefix, an explicit [min,max] range, or the
// INHERIT sentinel.
type IPElement struct {
	AFI       AFI
	Inherit   bool
	Prefix    []byte // network address, family-width
	PrefixLen int    // -1 if this element is a range rather than a prefix
	Range     IPRange
}

// ASElement is one disjoint member of a certificate's AS resource set:
// a singleton, a [min,max] range, or INHERIT.
type ASElement struct {
	Inherit bool
	Min     uint32
	Max     uint32 // Min == Max for a singleton
}

// Cert is a parsed RPKI certificate (trust anchor, CA, or EE).
type Cert struct {
	AS    []ASElement
	IP    []IPElement
	Repo  string // SIA: rsync publication-point URI of this CA
	MFT   string // SIA: rsync manifest URI
	Notify string // SIA: RRDP notification URI, may be empty
	CRL   string // CRL distribution point rsync URI, empty only for a TA
	AIA   string // issuer access URI, empty only for a TA
	AKI   []byte // issuer SKI, nil only for a TA
	SKI   []byte // this cert's own SKI, always present

	Valid    bool // true once valid_cert has checked resource containment
	NotAfter time.Time

	PublicKeyDER []byte // DER SubjectPublicKeyInfo, for TA pubkey comparison
	Raw          []byte // full DER, opaque handle for signature verification
}

// TAL is a trust anchor locator: candidate fetch URIs plus the expected
// public key and a human description used as VRP provenance.
type TAL struct {
	Name          string // human-readable description, e.g. filename stem
	URIs          []string
	PublicKeyDER  []byte
}

// ManifestEntry is one (filename, digest) pair listed on a manifest.
type ManifestEntry struct {
	Filename string // basename, no path separators
	Hash     [32]byte
}

// Manifest is a parsed, CMS-verified manifest object.
type Manifest struct {
	AKI, SKI []byte
	AIA      string
	Number   uint64 // manifestNumber, monotonically increasing per repo
	ThisUpdate time.Time
	NextUpdate time.Time
	Stale      bool
	Entries    []ManifestEntry
}

// CRL is a parsed X.509 CRL, indexed by its issuer's AKI.
type CRL struct {
	AKI      []byte
	ThisUpdate time.Time
	NextUpdate time.Time
	Revoked    map[string]struct{} // serial numbers, string-formatted
}

// ROAPrefix is one (AFI, prefix, maxlength) entry of a ROA payload.
type ROAPrefix struct {
	AFI       AFI
	Prefix    []byte
	PrefixLen int
	MaxLength int
}

// ROA is a parsed, CMS-verified Route Origin Authorization.
type ROA struct {
	AKI, SKI []byte
	AIA      string
	ASID     uint32 // 0 means "disavow"
	Prefixes []ROAPrefix
	TAL      string    // provenance, the TAL name of the root this chains to
	Expires  time.Time // min(NotAfter) across the whole chain

	// EEResources is the signing EE certificate's own RFC 3779 IP resource
	// set, captured at parse time so valid_roa can check each prefix is
	// covered without re-decoding the embedded certificate's extensions.
	EEResources []IPElement
	EENotAfter  time.Time
}

// GBR is an opaque Ghostbuster record: validated but never contributes to
// the VRP store.
type GBR struct {
	AKI, SKI []byte
	AIA      string
	VCard    []byte
}

// EntityType tags the kind of object a work-queue Entity refers to.
type EntityType uint8

const (
	EntityTAL EntityType = iota
	EntityMFT
	EntityROA
	EntityCER
	EntityCRL
	EntityGBR
)

func (t EntityType) String() string {
	switch t {
	case EntityTAL:
		return "TAL"
	case EntityMFT:
		return "MFT"
	case EntityROA:
		return "ROA"
	case EntityCER:
		return "CER"
	case EntityCRL:
		return "CRL"
	case EntityGBR:
		return "GBR"
	default:
		return "unknown"
	}
}

// EntityTypeForFilename classifies a manifest-listed filename by suffix,
// per spec.md 4.3 step 4. The ok result is false for unknown suffixes,
// which the manifest walk ignores silently.
func EntityTypeForFilename(filename string) (EntityType, bool) {
	switch {
	case hasSuffix(filename, ".cer"):
		return EntityCER, true
	case hasSuffix(filename, ".roa"):
		return EntityROA, true
	case hasSuffix(filename, ".crl"):
		return EntityCRL, true
	case hasSuffix(filename, ".gbr"):
		return EntityGBR, true
	default:
		return 0, false
	}
}

func hasSuffix(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

// Entity is a unit of pending work on the parse/validate queue.
type Entity struct {
	Type     EntityType
	Path     string // local cache file path
	TAL      string // provenance, carried from the root TAL
	RepoID   uint64 // repository this entity's path belongs to

	// TAPubKey and TAName are set only for EntityTAL items, carrying the
	// expected public key override used by ta_parse.
	TAPubKey []byte
	TAName   string
}
