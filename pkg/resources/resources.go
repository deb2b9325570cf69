// Package resources implements RFC 3779 resource-set arithmetic: canonical
// range composition, per-certificate disjointness, and parent/child
// coverage checks for both IP and AS resources.
package resources

import (
	"bytes"
	"fmt"

	"github.com/cuemby/rpki-client/pkg/types"
)

// ComposeIPRange canonicalizes a parsed IP element to its [min,max] byte
// form. A prefix becomes [addr, addr | hostmask]; an explicit range is
// returned as-is; INHERIT is returned unchanged (callers must special-case
// it). This is ip_cert_compose_ranges from spec.md 4.2 — it is always
// recomputed from Prefix/PrefixLen, never trusted from a cached Range,
// per the SPEC_FULL.md Open Question decision on roa_ip.min/max.
func ComposeIPRange(el types.IPElement) types.IPRange {
	if el.Inherit {
		return el.Range
	}
	if el.PrefixLen < 0 {
		return el.Range
	}

	width := 4
	if el.AFI == types.AFIv6 {
		width = 16
	}

	addr := make([]byte, width)
	copy(addr, el.Prefix)

	var min, max [16]byte
	copy(min[:], pad16(addr))
	maxAddr := make([]byte, width)
	copy(maxAddr, addr)
	setHostBits(maxAddr, el.PrefixLen, width*8)
	copy(max[:], pad16(maxAddr))

	return types.IPRange{Min: min, Max: max}
}

// setHostBits sets every bit beyond prefixLen (out of totalBits) to 1,
// producing the broadcast/last address of the prefix.
func setHostBits(addr []byte, prefixLen, totalBits int) {
	for bit := prefixLen; bit < totalBits; bit++ {
		byteIdx := bit / 8
		bitIdx := 7 - (bit % 8)
		addr[byteIdx] |= 1 << uint(bitIdx)
	}
}

// pad16 extends a 4-byte address to 16 bytes by appending zeros (the
// address keeps the leading bytes, as in pkg/certutil's decoding) so that
// IPv4 and IPv6 ranges compare correctly against each other's padding
// under unsigned lexicographic order — in practice IPv4 and IPv6 never
// intermix in a coverage check because the AFI is compared first, but a
// single comparator keeps callers simple.
func pad16(addr []byte) []byte {
	if len(addr) == 16 {
		return addr
	}
	out := make([]byte, 16)
	copy(out, addr)
	return out
}

// CompareRange orders two ranges by min first, then by the implied
// width of the range (larger max sorts first), matching spec.md 4.2's
// "ties are broken by prefix length (shorter = smaller)" — a shorter
// prefix has a larger max for the same min, so for equal mins the
// *larger* max indicates the *shorter* (less specific) prefix, which
// sorts first.
func CompareRange(a, b types.IPRange) int {
	if c := bytes.Compare(a.Min[:], b.Min[:]); c != 0 {
		return c
	}
	// Equal min: the wider range (larger max) is the shorter prefix and
	// sorts first, i.e. is "smaller".
	return bytes.Compare(b.Max[:], a.Max[:])
}

// CheckIPOverlap reports whether new overlaps any element of existing,
// enforcing the per-certificate disjointness invariant (spec.md 3). A
// human-readable issuerName is folded into the returned error for
// diagnostics.
func CheckIPOverlap(issuerName string, newEl types.IPElement, existing []types.IPElement) error {
	if newEl.Inherit {
		return nil
	}
	newRange := ComposeIPRange(newEl)
	for _, e := range existing {
		if e.Inherit || e.AFI != newEl.AFI {
			continue
		}
		er := ComposeIPRange(e)
		if rangesOverlap(newRange, er) {
			return fmt.Errorf("resources: overlapping IP resource on %s", issuerName)
		}
	}
	return nil
}

func rangesOverlap(a, b types.IPRange) bool {
	return bytes.Compare(a.Min[:], b.Max[:]) <= 0 && bytes.Compare(b.Min[:], a.Max[:]) <= 0
}

// CoverResult is the three-way outcome of a coverage check: covered,
// not covered, or "recurse to the grandparent because the parent
// inherits for this family".
type CoverResult int

const (
	NotCovered CoverResult = iota
	Covered
	RecurseInherit
)

// CheckIPCovered reports whether [min,max] is fully contained in some
// element of parent, per spec.md 4.2 ip_addr_check_covered. If parent
// holds INHERIT for this AFI, the caller must recurse to the
// grandparent: RecurseInherit is returned rather than guessing.
func CheckIPCovered(afi types.AFI, target types.IPRange, parent []types.IPElement) CoverResult {
	sawInherit := false
	for _, p := range parent {
		if p.AFI != afi {
			continue
		}
		if p.Inherit {
			sawInherit = true
			continue
		}
		pr := ComposeIPRange(p)
		if bytes.Compare(pr.Min[:], target.Min[:]) <= 0 && bytes.Compare(target.Max[:], pr.Max[:]) <= 0 {
			return Covered
		}
	}
	if sawInherit {
		return RecurseInherit
	}
	return NotCovered
}

// CheckASOverlap is the AS analog of CheckIPOverlap.
func CheckASOverlap(issuerName string, newEl types.ASElement, existing []types.ASElement) error {
	if newEl.Inherit {
		return nil
	}
	for _, e := range existing {
		if e.Inherit {
			continue
		}
		if newEl.Min <= e.Max && e.Min <= newEl.Max {
			return fmt.Errorf("resources: overlapping AS resource on %s", issuerName)
		}
	}
	return nil
}

// CheckASCovered is the AS analog of CheckIPCovered. A singleton {id=x}
// is represented and compared identically to the range {min=x,max=x},
// per spec.md 8's boundary case.
func CheckASCovered(target types.ASElement, parent []types.ASElement) CoverResult {
	sawInherit := false
	for _, p := range parent {
		if p.Inherit {
			sawInherit = true
			continue
		}
		if p.Min <= target.Min && target.Max <= p.Max {
			return Covered
		}
	}
	if sawInherit {
		return RecurseInherit
	}
	return NotCovered
}

// ValidateSorted enforces the per-certificate invariant from spec.md 3:
// elements of the same family are pairwise non-overlapping and sorted by
// min, and a set containing INHERIT contains no other element of that
// family. It is run once by the parser immediately after decoding a
// certificate's RFC 3779 extensions.
func ValidateSorted(ip []types.IPElement) error {
	byAFI := map[types.AFI][]types.IPElement{}
	for _, e := range ip {
		byAFI[e.AFI] = append(byAFI[e.AFI], e)
	}
	for afi, els := range byAFI {
		hasInherit := false
		for _, e := range els {
			if e.Inherit {
				hasInherit = true
			}
		}
		if hasInherit && len(els) > 1 {
			return fmt.Errorf("resources: %s set mixes INHERIT with explicit elements", afi)
		}
		var prevRange types.IPRange
		havePrev := false
		for _, e := range els {
			if e.Inherit {
				continue
			}
			r := ComposeIPRange(e)
			if havePrev {
				if bytes.Compare(r.Min[:], prevRange.Min[:]) < 0 {
					return fmt.Errorf("resources: %s set not sorted by min", afi)
				}
				if rangesOverlap(prevRange, r) {
					return fmt.Errorf("resources: %s set contains overlapping elements", afi)
				}
			}
			prevRange = r
			havePrev = true
		}
	}
	return nil
}

// ValidateSortedAS is the AS analog of ValidateSorted.
func ValidateSortedAS(as []types.ASElement) error {
	hasInherit := false
	for _, e := range as {
		if e.Inherit {
			hasInherit = true
		}
	}
	if hasInherit && len(as) > 1 {
		return fmt.Errorf("resources: AS set mixes INHERIT with explicit elements")
	}
	var prevMax uint32
	havePrev := false
	for _, e := range as {
		if e.Inherit {
			continue
		}
		if havePrev {
			if e.Min < prevMax {
				return fmt.Errorf("resources: AS set not sorted or overlapping")
			}
			if e.Min <= prevMax {
				return fmt.Errorf("resources: AS set contains overlapping elements")
			}
		}
		prevMax = e.Max
		havePrev = true
	}
	return nil
}
