// Package fetch implements the repository table and per-repository
// fetch state machine from spec.md 4.4: repo_lookup/ta_lookup resolve a
// publication point to a cache directory, and the Dispatcher drives each
// repository's NEW -> SYNCING -> (FAIL|FALLBACK) -> READY transitions,
// flushing any entities deferred while the repository was not yet ready.
package fetch

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/rpki-client/pkg/fetch/transport"
	"github.com/cuemby/rpki-client/pkg/types"
)

// State is a repository's position in spec.md 4.4's state machine.
type State int

const (
	StateNew State = iota
	StateSyncing
	StateFail
	StateFallback
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSyncing:
		return "SYNCING"
	case StateFail:
		return "FAIL"
	case StateFallback:
		return "FALLBACK"
	case StateReady:
		return "READY"
	default:
		return "unknown"
	}
}

// ParseState reverses State.String, for decoding a pkg/store checkpoint.
// An unrecognized value resolves to StateNew, the safe default a resumed
// repository falls back to if its persisted state is ever corrupted.
func ParseState(s string) State {
	switch s {
	case "SYNCING":
		return StateSyncing
	case "FAIL":
		return StateFail
	case "FALLBACK":
		return StateFallback
	case "READY":
		return StateReady
	default:
		return StateNew
	}
}

// Repo is one publication point: an rsync URI, an optional RRDP
// notification URI, and the local cache directory its objects land in
// once synced. ID is the repo's integer id spec.md 4.4 tags every
// fire-and-forget fetch request with.
type Repo struct {
	mu sync.Mutex

	ID        uint64
	RsyncURI  string
	NotifyURI string
	LocalDir  string

	State    State
	Protocol transport.Protocol

	// generation is bumped on every fetch_start; a dial completion or
	// watchdog firing that captured an older generation is a stale
	// result and is discarded (spec.md 5's cancellation/timeouts note).
	generation uint64

	// lastProtocol records which transport the most recent dial attempt
	// used, so a circuit-breaker trip or final failure can be labeled
	// with the right protocol in metrics.
	lastProtocol transport.Protocol

	// deferred holds entities enqueued against this repo before it
	// reached READY or FAIL.
	deferred []types.Entity

	// Health tracks this repo's rolling dial history, surfaced for
	// diagnostics independently of the circuit breaker that actually
	// drives the FAIL/FALLBACK transition.
	Health *transport.Status
}

// Table is the repository table keyed by publication point, per
// spec.md 4.4. Safe for concurrent use.
type Table struct {
	mu        sync.RWMutex
	byRsync   map[string]*Repo
	byTALName map[string]*Repo
	byID      map[uint64]*Repo
	cacheRoot string
	nextID    uint64
}

// NewTable returns an empty repository table rooted at cacheRoot.
func NewTable(cacheRoot string) *Table {
	return &Table{
		byRsync:   make(map[string]*Repo),
		byTALName: make(map[string]*Repo),
		byID:      make(map[uint64]*Repo),
		cacheRoot: cacheRoot,
	}
}

// RepoLookup returns or creates the repo for rsyncURI, per spec.md 4.4's
// repo_lookup. notifyURI is recorded if this is the first lookup to
// supply one; RRDP is preferred over rsync only when notifyURI is set.
func (t *Table) RepoLookup(rsyncURI, notifyURI string) *Repo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.byRsync[rsyncURI]; ok {
		if r.NotifyURI == "" && notifyURI != "" {
			r.mu.Lock()
			r.NotifyURI = notifyURI
			r.mu.Unlock()
		}
		return r
	}

	t.nextID++
	r := &Repo{
		ID:        t.nextID,
		RsyncURI:  rsyncURI,
		NotifyURI: notifyURI,
		LocalDir:  filepath.Join(t.cacheRoot, cachePath(rsyncURI)),
		State:     StateNew,
		Health:    transport.NewStatus(),
	}
	t.byRsync[rsyncURI] = r
	t.byID[r.ID] = r
	return r
}

// Seed installs a repository at its last-persisted state ahead of the
// first real RepoLookup, so a resumed run picks up where the prior one
// left off instead of re-discovering every repository at NEW. A repo
// already present (from an earlier Seed or lookup) is left untouched.
func (t *Table) Seed(rsyncURI string, state State, protocol transport.Protocol) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byRsync[rsyncURI]; ok {
		return
	}

	t.nextID++
	r := &Repo{
		ID:       t.nextID,
		RsyncURI: rsyncURI,
		LocalDir: filepath.Join(t.cacheRoot, cachePath(rsyncURI)),
		State:    state,
		Protocol: protocol,
		Health:   transport.NewStatus(),
	}
	t.byRsync[rsyncURI] = r
	t.byID[r.ID] = r
}

// TALookup returns the synthetic repo for a trust anchor's own
// candidate URIs, per spec.md 4.4's ta_lookup. A TAL is fetched
// directly from its first URI; it has no manifest/CRL of its own.
func (t *Table) TALookup(tal types.TAL) (*Repo, error) {
	if len(tal.URIs) == 0 {
		return nil, fmt.Errorf("fetch: ta_lookup: %q has no candidate URIs", tal.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.byTALName[tal.Name]; ok {
		return r, nil
	}

	t.nextID++
	r := &Repo{
		ID:       t.nextID,
		RsyncURI: tal.URIs[0],
		LocalDir: filepath.Join(t.cacheRoot, "tal", tal.Name),
		State:    StateNew,
		Health:   transport.NewStatus(),
	}
	t.byTALName[tal.Name] = r
	t.byID[r.ID] = r
	return r, nil
}

// ByID resolves a repo by its integer id, as stored on a types.Entity.
func (t *Table) ByID(id uint64) (*Repo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[id]
	return r, ok
}

// All returns every repo currently in the table, in no particular order.
func (t *Table) All() []*Repo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Repo, 0, len(t.byRsync)+len(t.byTALName))
	for _, r := range t.byRsync {
		out = append(out, r)
	}
	for _, r := range t.byTALName {
		out = append(out, r)
	}
	return out
}

// CountByProtocolAndState implements metrics.RepositoryLister: the
// number of repos currently in each (protocol, state) pair, for the
// rpki_repositories_total gauge.
func (t *Table) CountByProtocolAndState() map[[2]string]int {
	counts := make(map[[2]string]int)
	for _, r := range t.All() {
		r.mu.Lock()
		key := [2]string{string(r.Protocol), r.State.String()}
		r.mu.Unlock()
		counts[key]++
	}
	return counts
}

// RepoSnapshot is a point-in-time, lock-free copy of a Repo's
// persistence-worthy fields, for pkg/store checkpointing.
type RepoSnapshot struct {
	ID        uint64
	RsyncURI  string
	NotifyURI string
	LocalDir  string
	State     State
	Protocol  transport.Protocol
}

// Snapshots returns a RepoSnapshot for every repo in the table, safe to
// persist without holding any repo's lock past this call.
func (t *Table) Snapshots() []RepoSnapshot {
	repos := t.All()
	out := make([]RepoSnapshot, 0, len(repos))
	for _, r := range repos {
		r.mu.Lock()
		out = append(out, RepoSnapshot{
			ID:        r.ID,
			RsyncURI:  r.RsyncURI,
			NotifyURI: r.NotifyURI,
			LocalDir:  r.LocalDir,
			State:     r.State,
			Protocol:  r.Protocol,
		})
		r.mu.Unlock()
	}
	return out
}

// cachePath derives the <host>/<path> cache subdirectory spec.md 6
// describes from an rsync URI, stripping the rsync:// scheme.
func cachePath(rsyncURI string) string {
	u, err := url.Parse(rsyncURI)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(rsyncURI, "rsync://")
	}
	return filepath.Join(u.Host, u.Path)
}
