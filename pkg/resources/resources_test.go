package resources

import (
	"testing"

	"github.com/cuemby/rpki-client/pkg/types"
)

func v4(prefix string, bytes4 [4]byte, plen int) types.IPElement {
	return types.IPElement{
		AFI:       types.AFIv4,
		Prefix:    bytes4[:],
		PrefixLen: plen,
	}
}

func TestComposeIPRangeZeroSlashZero(t *testing.T) {
	el := v4("0.0.0.0/0", [4]byte{0, 0, 0, 0}, 0)
	r := ComposeIPRange(el)

	allZero := [16]byte{}
	if r.Min != allZero {
		t.Fatalf("expected min to be all zero, got %x", r.Min)
	}
	// max should be 255.255.255.255 in the leading four bytes, followed by
	// zero padding
	want := [16]byte{255, 255, 255, 255, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if r.Max != want {
		t.Fatalf("expected max %x, got %x", want, r.Max)
	}
}

func TestCheckIPCoveredCoversAll(t *testing.T) {
	zero := v4("0.0.0.0/0", [4]byte{0, 0, 0, 0}, 0)
	target := ComposeIPRange(v4("10.1.0.0/16", [4]byte{10, 1, 0, 0}, 16))

	result := CheckIPCovered(types.AFIv4, target, []types.IPElement{zero})
	if result != Covered {
		t.Fatalf("expected Covered, got %v", result)
	}
}

func TestCheckIPCoveredNotCovered(t *testing.T) {
	parent := v4("10.0.0.0/16", [4]byte{10, 0, 0, 0}, 16)
	target := ComposeIPRange(v4("10.1.0.0/16", [4]byte{10, 1, 0, 0}, 16))

	result := CheckIPCovered(types.AFIv4, target, []types.IPElement{parent})
	if result != NotCovered {
		t.Fatalf("expected NotCovered, got %v", result)
	}
}

func TestCheckIPCoveredRecurseInherit(t *testing.T) {
	inherit := types.IPElement{AFI: types.AFIv4, Inherit: true}
	target := ComposeIPRange(v4("10.1.0.0/16", [4]byte{10, 1, 0, 0}, 16))

	result := CheckIPCovered(types.AFIv4, target, []types.IPElement{inherit})
	if result != RecurseInherit {
		t.Fatalf("expected RecurseInherit, got %v", result)
	}
}

func TestCheckASCoveredSingletonEqualsRange(t *testing.T) {
	parent := types.ASElement{Min: 64496, Max: 64496}
	target := types.ASElement{Min: 64496, Max: 64496}

	if CheckASCovered(target, []types.ASElement{parent}) != Covered {
		t.Fatalf("expected singleton {id=x} to equal range {min=x,max=x} under coverage")
	}
}

func TestCheckASCoveredRangeNotCovered(t *testing.T) {
	parent := types.ASElement{Min: 64496, Max: 64497}
	target := types.ASElement{Min: 64496, Max: 64498}

	if CheckASCovered(target, []types.ASElement{parent}) != NotCovered {
		t.Fatalf("expected NotCovered for a target range exceeding the parent's")
	}
}

func TestValidateSortedRejectsMixedInherit(t *testing.T) {
	els := []types.IPElement{
		{AFI: types.AFIv4, Inherit: true},
		v4("10.0.0.0/8", [4]byte{10, 0, 0, 0}, 8),
	}
	if err := ValidateSorted(els); err == nil {
		t.Fatal("expected error mixing INHERIT with an explicit element")
	}
}

func TestValidateSortedRejectsOverlap(t *testing.T) {
	els := []types.IPElement{
		v4("10.0.0.0/8", [4]byte{10, 0, 0, 0}, 8),
		v4("10.1.0.0/16", [4]byte{10, 1, 0, 0}, 16),
	}
	if err := ValidateSorted(els); err == nil {
		t.Fatal("expected error for overlapping elements")
	}
}

func TestValidateSortedAcceptsEmpty(t *testing.T) {
	if err := ValidateSorted(nil); err != nil {
		t.Fatalf("empty resource set must be valid: %v", err)
	}
	if err := ValidateSortedAS(nil); err != nil {
		t.Fatalf("empty AS resource set must be valid: %v", err)
	}
}

func TestCheckIPOverlapDetectsOverlap(t *testing.T) {
	existing := []types.IPElement{v4("10.0.0.0/8", [4]byte{10, 0, 0, 0}, 8)}
	newEl := v4("10.1.0.0/16", [4]byte{10, 1, 0, 0}, 16)

	if err := CheckIPOverlap("issuer", newEl, existing); err == nil {
		t.Fatal("expected overlap error")
	}
}
