package validator

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/cuemby/rpki-client/pkg/parser"
	"github.com/cuemby/rpki-client/pkg/types"
)

// RepoResolver is the manifest walk's only view of the fetch orchestrator:
// it reports whether a publication point has finished syncing and where
// its files live on local disk. A real implementation is the fetch
// dispatcher's repository table (spec.md 4.4); tests use a fake.
type RepoResolver interface {
	// Resolve looks up (or creates) the repository for repoURI/notifyURI
	// and reports its local cache directory and sync readiness.
	Resolve(repoURI, notifyURI string) (localDir string, ready bool)
}

// EntityQueue receives entities the walk cannot process yet (its
// repository has not finished syncing) or that it discovers from a
// manifest (the CA's children). The real queue lives with the
// orchestrator; spec.md 4.4's entityq_flush redelivers deferred entities
// once their repository becomes READY.
type EntityQueue interface {
	Enqueue(types.Entity)
}

// Walker drives the manifest-driven walk of spec.md 4.3 over one CA
// certificate at a time, threading the auth tree, CRL tree, repo
// resolver, and downstream entity queue through each step.
type Walker struct {
	Auth  *AuthTree
	CRLs  *CRLTree
	Repos RepoResolver
	Queue EntityQueue

	// Seen records, per repository local directory, every filename the
	// walk has matched to a manifest entry. It backs spec.md 4.3 step 5's
	// cross-check: files present on disk but never claimed by a manifest
	// are candidates for later cleanup (spec.md 9's del_files/del_dirs).
	Seen map[string]map[string]bool
}

// NewWalker wires a Walker against shared auth/CRL trees and the given
// collaborators.
func NewWalker(auth *AuthTree, crls *CRLTree, repos RepoResolver, queue EntityQueue) *Walker {
	return &Walker{Auth: auth, CRLs: crls, Repos: repos, Queue: queue, Seen: make(map[string]map[string]bool)}
}

// WalkStats accumulates the counters spec.md 4.3/9 track across a walk:
// stale manifests and skipped manifest entries (failed valid_filehash).
// WalkCert does not fill in FilesUnclaimed; it only records claimed
// filenames in Walker.Seen, and Cleanup counts the unclaimed files it
// removes.
type WalkStats struct {
	MftsStale      int
	EntriesFailed  int
	FilesUnclaimed int
}

// WalkCert runs the five-step manifest-driven walk over cert, whose
// containment has already been established by ValidCert/ValidTA.
// Unresolved repositories defer the certificate back onto queue rather
// than failing the walk (spec.md 4.3 step 1); everything else accumulates
// into stats and a multierror of non-fatal per-entry failures, never
// aborting the walk itself (spec.md 7's "skip, count, continue" policy).
func (w *Walker) WalkCert(entity types.Entity, cert types.Cert) (WalkStats, error) {
	var stats WalkStats

	localDir, ready := w.Repos.Resolve(cert.Repo, cert.Notify)
	if !ready {
		w.Queue.Enqueue(entity)
		return stats, nil
	}

	var errs *multierror.Error

	if cert.CRL != "" {
		crlPath := filepath.Join(localDir, path.Base(cert.CRL))
		crl, err := parser.ParseCRL(crlPath)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			w.CRLs.Install(crl)
		}
	}

	mftPath := filepath.Join(localDir, path.Base(cert.MFT))
	mft, err := parser.ParseManifest(mftPath)
	if err != nil {
		return stats, err // an unparseable manifest invalidates nothing else, but there is nothing further to walk
	}
	if mft.Stale {
		stats.MftsStale++
	}

	claimed := w.seenSet(localDir)
	for _, entry := range mft.Entries {
		entPath := filepath.Join(localDir, entry.Filename)
		ok, err := ValidFileHash(entPath, entry.Hash)
		if err != nil {
			stats.EntriesFailed++
			errs = multierror.Append(errs, err)
			continue
		}
		if !ok {
			stats.EntriesFailed++
			errs = multierror.Append(errs, fmt.Errorf("manifest entry %q: hash mismatch", entry.Filename))
			continue
		}
		claimed[entry.Filename] = true

		typ, known := types.EntityTypeForFilename(entry.Filename)
		if !known {
			continue // unknown suffix, ignored silently per spec.md 4.3 step 4
		}
		w.Queue.Enqueue(types.Entity{
			Type:   typ,
			Path:   entPath,
			TAL:    entity.TAL,
			RepoID: entity.RepoID,
		})
	}

	return stats, errs.ErrorOrNil()
}

func (w *Walker) seenSet(localDir string) map[string]bool {
	s, ok := w.Seen[localDir]
	if !ok {
		s = make(map[string]bool)
		w.Seen[localDir] = s
	}
	return s
}
