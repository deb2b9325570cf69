// Package stats aggregates the run statistics spec.md 6 names (object
// counts by type, failures per category, repository counts per
// protocol, unique vs total VRPs, deleted files/dirs, timing, TAL
// names) and applies spec.md 7's exit-code policy: zero only when at
// least one TA produced at least one VRP.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/rpki-client/pkg/fetch"
	"github.com/cuemby/rpki-client/pkg/metrics"
	"github.com/cuemby/rpki-client/pkg/types"
	"github.com/cuemby/rpki-client/pkg/validator"
)

// Stats accumulates one run's counters. Safe for concurrent use: the
// parser and validator workers record into it from multiple goroutines.
type Stats struct {
	mu sync.Mutex

	Parsed map[types.EntityType]int
	Failed map[types.EntityType]int
	// Invalid counts objects that parsed successfully but failed
	// validation (resource-set coverage, signature, hash), keyed the
	// same way as Parsed/Failed.
	Invalid map[types.EntityType]int

	MftsStale      int
	EntriesFailed  int
	FilesUnclaimed int

	RsyncRepos      int
	RRDPRepos       int
	RRDPFails       int
	ReposFailed     int
	EntitiesDropped int

	VRPsTotal  int
	VRPsUnique int
	TALNames   []string

	FilesDeleted int
	DirsDeleted  int

	Wall time.Duration
	User time.Duration
	Sys  time.Duration
}

// New returns an empty Stats ready to accumulate a run.
func New() *Stats {
	return &Stats{
		Parsed:  make(map[types.EntityType]int),
		Failed:  make(map[types.EntityType]int),
		Invalid: make(map[types.EntityType]int),
	}
}

// RecordParsed counts one object of kind t successfully parsed.
func (s *Stats) RecordParsed(t types.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Parsed[t]++
}

// RecordFailed counts one object of kind t that failed to parse
// (spec.md 7's "parse failure"/"cryptographic failure" error kinds).
func (s *Stats) RecordFailed(t types.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed[t]++
}

// RecordInvalid counts one object of kind t that parsed but was
// rejected by validation (spec.md 7's "resource-set violation").
func (s *Stats) RecordInvalid(t types.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalid[t]++
	metrics.InvalidObjectsTotal.WithLabelValues(t.String(), "validation_failed").Inc()
}

// RecordValid counts one object of kind t that passed validation
// (valid_cert/valid_ta/valid_roa returning no error).
func (s *Stats) RecordValid(t types.EntityType) {
	metrics.ValidObjectsTotal.WithLabelValues(t.String()).Inc()
}

// RecordVRP counts one VRP produced by a ROA; isNew reports whether it
// was a distinct key in the store (vrp.Store.Insert's return value),
// distinguishing the total-vs-unique counts spec.md 6 asks for.
func (s *Stats) RecordVRP(isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VRPsTotal++
	if isNew {
		s.VRPsUnique++
	}
}

// MergeWalk folds one WalkCert call's WalkStats into the run total.
func (s *Stats) MergeWalk(ws validator.WalkStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MftsStale += ws.MftsStale
	s.EntriesFailed += ws.EntriesFailed
	s.FilesUnclaimed += ws.FilesUnclaimed
	if ws.MftsStale > 0 {
		metrics.StaleManifestsTotal.Add(float64(ws.MftsStale))
	}
}

// MergeFetch copies the fetch dispatcher's end-of-run counters
// (per-protocol repo counts, RRDP fallbacks, dropped entities).
func (s *Stats) MergeFetch(fs fetch.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RsyncRepos = fs.RsyncRepos
	s.RRDPRepos = fs.RRDPRepos
	s.RRDPFails = fs.RRDPFails
	s.ReposFailed = fs.ReposFailed
	s.EntitiesDropped = fs.EntitiesDropped
}

// SetTALNames records the TAL provenance names the VRP store produced
// output under (vrp.Store.TALNames), used by ExitCode.
func (s *Stats) SetTALNames(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TALNames = append([]string(nil), names...)
}

// RecordCleanup records the end-of-walk cache cleanup pass's counts
// (spec.md 6's del_files/del_dirs).
func (s *Stats) RecordCleanup(files, dirs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FilesDeleted += files
	s.DirsDeleted += dirs
	metrics.FilesDeletedTotal.Add(float64(files))
	metrics.DirsDeletedTotal.Add(float64(dirs))
}

// SetTiming records the run's wall/user/system time, normally measured
// by the caller around the whole validation run.
func (s *Stats) SetTiming(wall, user, sys time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Wall, s.User, s.Sys = wall, user, sys
	metrics.ValidationDuration.Observe(wall.Seconds())
}

// ExitCode implements spec.md 7's policy: zero when at least one TA
// produced at least one VRP, non-zero otherwise.
func (s *Stats) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.TALNames) > 0 {
		return 0
	}
	return 1
}

// WriteSummary prints the run's statistics as a human-readable table
// to w, in the same fixed-width fmt.Printf style the teacher's cluster
// status commands use.
func (s *Stats) WriteSummary(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(w, "%-12s %-10s %-10s %-10s\n", "TYPE", "PARSED", "FAILED", "INVALID")
	for _, t := range orderedTypes() {
		if s.Parsed[t] == 0 && s.Failed[t] == 0 && s.Invalid[t] == 0 {
			continue
		}
		fmt.Fprintf(w, "%-12s %-10d %-10d %-10d\n", t.String(), s.Parsed[t], s.Failed[t], s.Invalid[t])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "manifests stale:     %d\n", s.MftsStale)
	fmt.Fprintf(w, "manifest entries skipped: %d\n", s.EntriesFailed)
	fmt.Fprintf(w, "unclaimed files:     %d\n", s.FilesUnclaimed)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "repositories: %d rsync, %d rrdp (%d rrdp fallbacks, %d failed)\n",
		s.RsyncRepos, s.RRDPRepos, s.RRDPFails, s.ReposFailed)
	fmt.Fprintf(w, "entities dropped:    %d\n", s.EntitiesDropped)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "vrps: %d total, %d unique\n", s.VRPsTotal, s.VRPsUnique)
	fmt.Fprintf(w, "tals: %s\n", namesOrNone(s.TALNames))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "cache cleanup: %d files, %d dirs removed\n", s.FilesDeleted, s.DirsDeleted)
	fmt.Fprintf(w, "time: wall %s, user %s, sys %s\n", s.Wall, s.User, s.Sys)
}

func namesOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	out := sorted[0]
	for _, n := range sorted[1:] {
		out += ", " + n
	}
	return out
}

func orderedTypes() []types.EntityType {
	return []types.EntityType{
		types.EntityTAL,
		types.EntityCER,
		types.EntityMFT,
		types.EntityCRL,
		types.EntityROA,
		types.EntityGBR,
	}
}
