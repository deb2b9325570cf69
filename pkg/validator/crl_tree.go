package validator

import (
	"sync"

	"github.com/cuemby/rpki-client/pkg/types"
)

// CRLTree is the CRL index from spec.md 4.3 step 2: "install it in the
// CRL tree keyed by AKI". One CRL per issuer is retained; a later fetch
// of the same issuer's CRL replaces the prior one (CRLs are reissued on
// every update, never merged).
type CRLTree struct {
	mu    sync.RWMutex
	byAKI map[string]types.CRL
}

// NewCRLTree returns an empty tree.
func NewCRLTree() *CRLTree {
	return &CRLTree{byAKI: make(map[string]types.CRL)}
}

// Install records crl, keyed by its own AKI, replacing any prior CRL for
// that issuer.
func (t *CRLTree) Install(crl types.CRL) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAKI[string(crl.AKI)] = crl
}

// Lookup returns the CRL installed for aki, if any.
func (t *CRLTree) Lookup(aki []byte) (types.CRL, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byAKI[string(aki)]
	return c, ok
}

// Revoked reports whether serial is revoked on the CRL installed for aki.
// A missing CRL is not itself a revocation — callers decide whether an
// absent CRL is fatal.
func (t *CRLTree) Revoked(aki []byte, serial string) bool {
	crl, ok := t.Lookup(aki)
	if !ok {
		return false
	}
	_, revoked := crl.Revoked[serial]
	return revoked
}
