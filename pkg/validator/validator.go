package validator

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/rpki-client/pkg/resources"
	"github.com/cuemby/rpki-client/pkg/types"
)

// ValidSKIAKI is the chain entry point (spec.md 4.3 valid_ski_aki): it
// verifies that ski is not already present in tree and that aki resolves
// to an existing node, returning that parent or failing.
func ValidSKIAKI(tree *AuthTree, ski, aki []byte) (*AuthNode, error) {
	if tree.Has(ski) {
		return nil, fmt.Errorf("validator: subject key identifier %x already present in auth tree", ski)
	}
	parent, ok := tree.Lookup(aki)
	if !ok {
		return nil, fmt.Errorf("validator: authority key identifier %x does not resolve to a known issuer", aki)
	}
	return parent, nil
}

// ValidCert is valid_cert: walks the parent chain and enforces set
// containment — every non-INHERIT element of cert must be covered by the
// nearest ancestor that does not inherit for that family, recursing
// through INHERIT ancestors until one grounds the chain. On success cert
// is marked Valid and installed as a new node of the tree.
func ValidCert(tree *AuthTree, cert *types.Cert) error {
	parent, err := ValidSKIAKI(tree, cert.SKI, cert.AKI)
	if err != nil {
		return err
	}

	for _, el := range cert.IP {
		if el.Inherit {
			continue
		}
		target := resources.ComposeIPRange(el)
		covered, err := coveredFromNode(tree, parent, el.AFI, target)
		if err != nil {
			return fmt.Errorf("validator: valid_cert: %w", err)
		}
		if !covered {
			return fmt.Errorf("validator: valid_cert: %s resource not covered by issuer", el.AFI)
		}
	}
	for _, el := range cert.AS {
		if el.Inherit {
			continue
		}
		covered, err := coveredByASChain(tree, parent, el)
		if err != nil {
			return fmt.Errorf("validator: valid_cert: %w", err)
		}
		if !covered {
			return fmt.Errorf("validator: valid_cert: AS resource [%d,%d] not covered by issuer", el.Min, el.Max)
		}
	}

	cert.Valid = true
	return tree.Install(&AuthNode{
		SKI:      cert.SKI,
		AKI:      cert.AKI,
		IP:       cert.IP,
		AS:       cert.AS,
		NotAfter: cert.NotAfter,
	})
}

// ValidTA is valid_ta: requires the cert's public key to equal the
// TAL-asserted key and installs the cert as a root of the auth tree. The
// key comparison itself already happened in pkg/parser.ParseTA (the only
// place the TAL's expected key is threaded through), so ValidTA's
// remaining job is installation; expectedPubKeyDER is re-checked here as
// a second, defense-in-depth gate so a tree root can never be installed
// through any path but this one without the comparison being made.
func ValidTA(tree *AuthTree, cert *types.Cert, tal types.TAL) error {
	if len(cert.PublicKeyDER) != len(tal.PublicKeyDER) || subtle.ConstantTimeCompare(cert.PublicKeyDER, tal.PublicKeyDER) != 1 {
		return fmt.Errorf("validator: valid_ta: certificate public key does not match TAL %q", tal.Name)
	}
	cert.Valid = true
	return tree.Install(&AuthNode{
		SKI:      cert.SKI,
		AKI:      nil,
		IP:       cert.IP,
		AS:       cert.AS,
		NotAfter: cert.NotAfter,
		TAL:      tal.Name,
	})
}

// ValidROA is valid_roa: locates the issuing CA via the ROA's AKI (the
// ROA's embedded EE certificate is a transient auth node — checked here
// against the tree but never installed, since nothing chains off a ROA).
// For each prefix it requires that the EE cert's IP resources cover the
// prefix; maxlength bounds were already enforced at parse time
// (pkg/parser.ParseROA), so they are not re-checked here.
func ValidROA(tree *AuthTree, roa *types.ROA) error {
	parent, err := ValidSKIAKI(tree, roa.SKI, roa.AKI)
	if err != nil {
		return fmt.Errorf("validator: valid_roa: %w", err)
	}

	for _, el := range roa.EEResources {
		if el.Inherit {
			continue
		}
		target := resources.ComposeIPRange(el)
		covered, err := coveredFromNode(tree, parent, el.AFI, target)
		if err != nil {
			return fmt.Errorf("validator: valid_roa: EE certificate: %w", err)
		}
		if !covered {
			return fmt.Errorf("validator: valid_roa: EE certificate's %s resource not covered by issuer", el.AFI)
		}
	}

	ee := &AuthNode{AKI: roa.AKI, IP: roa.EEResources}
	for _, p := range roa.Prefixes {
		target := resources.ComposeIPRange(types.IPElement{AFI: p.AFI, Prefix: p.Prefix, PrefixLen: p.PrefixLen})
		covered, err := coveredFromNode(tree, ee, p.AFI, target)
		if err != nil {
			return fmt.Errorf("validator: valid_roa: %w", err)
		}
		if !covered {
			return fmt.Errorf("validator: valid_roa: prefix not covered by signing EE certificate's %s resources", p.AFI)
		}
	}

	roa.Expires = chainMinNotAfter(tree, parent)
	if roa.EENotAfter.Before(roa.Expires) {
		roa.Expires = roa.EENotAfter
	}
	return nil
}

// coveredFromNode checks target against node's IP set, recursing to
// node's own issuer while the set inherits, until grounded or the root
// is reached without a match.
func coveredFromNode(tree *AuthTree, node *AuthNode, afi types.AFI, target types.IPRange) (bool, error) {
	for {
		switch resources.CheckIPCovered(afi, target, node.IP) {
		case resources.Covered:
			return true, nil
		case resources.NotCovered:
			return false, nil
		case resources.RecurseInherit:
			if len(node.AKI) == 0 {
				return false, fmt.Errorf("inherit chain ungrounded at trust anchor")
			}
			parent, ok := tree.Lookup(node.AKI)
			if !ok {
				return false, fmt.Errorf("issuer %x not found while resolving inherited resources", node.AKI)
			}
			node = parent
		}
	}
}

func coveredByASChain(tree *AuthTree, start *AuthNode, target types.ASElement) (bool, error) {
	node := start
	for {
		switch resources.CheckASCovered(target, node.AS) {
		case resources.Covered:
			return true, nil
		case resources.NotCovered:
			return false, nil
		case resources.RecurseInherit:
			if len(node.AKI) == 0 {
				return false, fmt.Errorf("inherit chain ungrounded at trust anchor")
			}
			parent, ok := tree.Lookup(node.AKI)
			if !ok {
				return false, fmt.Errorf("issuer %x not found while resolving inherited resources", node.AKI)
			}
			node = parent
		}
	}
}

// ValidFileHash is valid_filehash: reads path, computes its SHA-256
// digest, and constant-time-compares it against expected. This is the
// manifest-entry binding (spec.md 4.3 step 3).
func ValidFileHash(path string, expected [32]byte) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("validator: valid_filehash: read %s: %w", path, err)
	}
	got := sha256.Sum256(data)
	return subtle.ConstantTimeCompare(got[:], expected[:]) == 1, nil
}

// ValidURI is valid_uri: a syntactic check that uri carries the required
// scheme prefix and is free of control characters and path traversal.
// maxLen bounds the overall length (0 means unbounded).
func ValidURI(uri string, maxLen int, scheme string) bool {
	if maxLen > 0 && len(uri) > maxLen {
		return false
	}
	if !strings.HasPrefix(uri, scheme) {
		return false
	}
	for _, r := range uri {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	rest := strings.TrimPrefix(uri, scheme)
	for _, seg := range strings.Split(rest, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
