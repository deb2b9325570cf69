package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cuemby/rpki-client/pkg/events"
	"github.com/cuemby/rpki-client/pkg/fetch/transport"
	"github.com/cuemby/rpki-client/pkg/log"
	"github.com/cuemby/rpki-client/pkg/metrics"
	"github.com/cuemby/rpki-client/pkg/types"
)

// Stats accumulates the fetch-side counters spec.md 6/9 report: repo
// counts per protocol, protocol fallbacks, and entities dropped when a
// repository gives up entirely.
type Stats struct {
	mu sync.Mutex

	RsyncRepos      int
	RRDPRepos       int
	RRDPFails       int
	ReposFailed     int
	EntitiesDropped int
}

func (s *Stats) recordProtocol(p transport.Protocol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch p {
	case transport.ProtocolRsync:
		s.RsyncRepos++
	case transport.ProtocolRRDP:
		s.RRDPRepos++
	}
}

func (s *Stats) recordRRDPFail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RRDPFails++
}

func (s *Stats) recordRepoFail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReposFailed++
}

func (s *Stats) recordDropped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EntitiesDropped += n
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RsyncRepos:      s.RsyncRepos,
		RRDPRepos:       s.RRDPRepos,
		RRDPFails:       s.RRDPFails,
		ReposFailed:     s.ReposFailed,
		EntitiesDropped: s.EntitiesDropped,
	}
}

// IngressQueue is the downstream hand-off point for entities a
// repository has finished deferring: once a repo reaches READY, its
// queued entities land here for the parser/validator side to drain.
type IngressQueue struct {
	mu    sync.Mutex
	items []types.Entity
}

func (q *IngressQueue) push(e types.Entity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
}

// Drain removes and returns every entity currently queued.
func (q *IngressQueue) Drain() []types.Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// rrdpSyncer is the narrow interface pkg/rrdp.Client satisfies: fetch
// notifyURI's notification document and bring localDir up to date
// with it, applying deltas or a full snapshot reload as needed. Left
// unset, Dispatcher falls back to a bare reachability probe of the
// notification URL instead of materializing any objects.
type rrdpSyncer interface {
	Sync(ctx context.Context, repoID uint64, notifyURI, localDir string) (bool, error)
}

// Dispatcher drives repository synchronization: it is the concrete
// validator.RepoResolver/validator.EntityQueue implementation that a
// Walker is wired against once a real fetch layer exists (spec.md
// 4.3/4.4). One dispatcher owns one repository table and a circuit
// breaker per publication point.
type Dispatcher struct {
	table  *Table
	policy transport.Policy
	stats  Stats
	logger zerolog.Logger

	Ingress *IngressQueue

	// RRDP materializes snapshot/delta content into a repo's local
	// cache once its notification is reachable. Nil is valid: rrdpFetch
	// then only probes reachability, which is enough to drive the
	// FAIL/FALLBACK state machine even before pkg/rrdp is wired in.
	RRDP rrdpSyncer

	// Events, left nil by default, receives a RepoStateChanged publication
	// at every committed state transition and an EntityDropped publication
	// whenever entities for a failed repository are dropped.
	Events *events.Broker

	breakersMu sync.Mutex
	breakers   map[uint64]*gobreaker.CircuitBreaker

	httpClient *retryablehttp.Client

	// watchdogBudget bounds total wall-clock time for one fetch attempt,
	// beyond policy.Timeout, before the watchdog marks the repo FAIL
	// regardless of what the dial itself is doing (spec.md 5).
	watchdogBudget time.Duration
}

// NewDispatcher wires a Dispatcher against table, applying policy's
// per-attempt timeout/retry threshold uniformly across repositories.
func NewDispatcher(table *Table, policy transport.Policy) *Dispatcher {
	rc := retryablehttp.NewClient()
	rc.RetryMax = policy.Retries
	rc.Logger = nil // pkg/log handles our own diagnostics instead

	return &Dispatcher{
		table:          table,
		policy:         policy,
		logger:         log.WithComponent("fetch"),
		Ingress:        &IngressQueue{},
		breakers:       make(map[uint64]*gobreaker.CircuitBreaker),
		httpClient:     rc,
		watchdogBudget: policy.Timeout + 30*time.Second,
	}
}

// Stats returns a snapshot of the dispatcher's run counters.
func (d *Dispatcher) Stats() Stats { return d.stats.Snapshot() }

func (d *Dispatcher) publishStateChange(repo *Repo, from, to State) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(&events.Event{
		Type:    events.RepoStateChanged,
		Message: repo.RsyncURI + ": " + from.String() + " -> " + to.String(),
		Metadata: map[string]string{
			"repo_id": fmt.Sprint(repo.ID),
			"from":    from.String(),
			"to":      to.String(),
		},
	})
}

func (d *Dispatcher) publishDropped(repo *Repo, count int) {
	if d.Events == nil || count == 0 {
		return
	}
	d.Events.Publish(&events.Event{
		Type:    events.EntityDropped,
		Message: fmt.Sprintf("%s: dropped %d queued entities", repo.RsyncURI, count),
		Metadata: map[string]string{
			"repo_id": fmt.Sprint(repo.ID),
			"count":   fmt.Sprint(count),
		},
	})
}

func (d *Dispatcher) breakerFor(repo *Repo) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()

	if cb, ok := d.breakers[repo.ID]; ok {
		return cb
	}

	name := repo.RsyncURI
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(d.policy.Retries)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn().Str("repo", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			if to == gobreaker.StateOpen {
				repo.mu.Lock()
				proto := repo.lastProtocol
				repo.mu.Unlock()
				metrics.FetchCircuitOpenTotal.WithLabelValues(string(proto)).Inc()
			}
		},
	})
	d.breakers[repo.ID] = cb
	return cb
}

// Resolve implements validator.RepoResolver: it looks up (or creates)
// the repo for repoURI/notifyURI, kicking off a sync if it has never
// been attempted, and reports its local cache directory once READY.
func (d *Dispatcher) Resolve(repoURI, notifyURI string) (string, bool) {
	repo := d.table.RepoLookup(repoURI, notifyURI)

	repo.mu.Lock()
	state := repo.State
	localDir := repo.LocalDir
	repo.mu.Unlock()

	switch state {
	case StateNew:
		go d.Sync(context.Background(), repo)
		return "", false
	case StateReady:
		return localDir, true
	default:
		return "", false
	}
}

// ResolveTA is spec.md 4.4's ta_lookup path: a trust anchor is fetched
// from its own candidate URI directly, with no manifest or CRL of its
// own, but otherwise rides the same NEW/SYNCING/READY state machine as
// Resolve. The caller is expected to retry until ready is true or the
// repo has failed permanently.
func (d *Dispatcher) ResolveTA(tal types.TAL) (localDir string, ready bool, err error) {
	repo, err := d.table.TALookup(tal)
	if err != nil {
		return "", false, err
	}

	repo.mu.Lock()
	state := repo.State
	localDir = repo.LocalDir
	repo.mu.Unlock()

	switch state {
	case StateNew:
		go d.Sync(context.Background(), repo)
		return "", false, nil
	case StateReady:
		return localDir, true, nil
	default:
		return "", false, nil
	}
}

// Enqueue implements validator.EntityQueue. An entity whose repo is
// already READY is forwarded straight to the ingress queue; one whose
// repo has permanently FAILed is dropped and counted (spec.md 7's
// transport-failure policy); anything else is deferred until that
// repo's next state transition flushes it.
func (d *Dispatcher) Enqueue(e types.Entity) {
	repo, ok := d.table.ByID(e.RepoID)
	if !ok {
		d.Ingress.push(e)
		return
	}

	repo.mu.Lock()
	switch repo.State {
	case StateReady:
		repo.mu.Unlock()
		d.Ingress.push(e)
	case StateFail:
		repo.mu.Unlock()
		d.stats.recordDropped(1)
		d.publishDropped(repo, 1)
	default:
		repo.deferred = append(repo.deferred, e)
		repo.mu.Unlock()
	}
}

// Sync drives repo through one fetch_start cycle: RRDP is attempted
// first when a notification URI is known, falling back to rsync only
// on RRDP failure (spec.md 4.4); a bare rsync repo skips straight to
// the rsync dial. Must be called at most once concurrently per repo;
// Resolve only triggers it from StateNew.
func (d *Dispatcher) Sync(ctx context.Context, repo *Repo) {
	requestID := uuid.NewString()

	repo.mu.Lock()
	repo.State = StateSyncing
	repo.generation++
	gen := repo.generation
	repo.mu.Unlock()

	logger := d.logger.With().Uint64("repo_id", repo.ID).Str("request_id", requestID).Logger()
	logger.Info().Str("rsync_uri", repo.RsyncURI).Msg("fetch_start")

	dialCtx, cancel := context.WithTimeout(ctx, d.policy.Timeout)
	defer cancel()

	watchdog := time.AfterFunc(d.watchdogBudget, func() {
		logger.Warn().Msg("watchdog: wall-clock budget exceeded")
		d.markFail(repo, gen)
	})
	defer watchdog.Stop()

	if repo.NotifyURI != "" {
		if d.rrdpFetch(dialCtx, repo, logger) {
			d.finish(repo, gen, StateReady, transport.ProtocolRRDP)
			return
		}
		d.stats.recordRRDPFail()
		d.transition(repo, gen, StateFallback)

		if d.rsyncFetch(dialCtx, repo, logger) {
			d.finish(repo, gen, StateReady, transport.ProtocolRsync)
			return
		}
		d.markFail(repo, gen)
		return
	}

	if d.rsyncFetch(dialCtx, repo, logger) {
		d.finish(repo, gen, StateReady, transport.ProtocolRsync)
		return
	}
	d.markFail(repo, gen)
}

func (d *Dispatcher) rrdpFetch(ctx context.Context, repo *Repo, logger zerolog.Logger) bool {
	cb := d.breakerFor(repo)

	repo.mu.Lock()
	repo.lastProtocol = transport.ProtocolRRDP
	repo.mu.Unlock()

	timer := metrics.NewTimer()
	_, err := cb.Execute(func() (interface{}, error) {
		if d.RRDP != nil {
			ok, err := d.RRDP.Sync(ctx, repo.ID, repo.NotifyURI, repo.LocalDir)
			if err != nil {
				return nil, fmt.Errorf("rrdp_finish: %w", err)
			}
			if !ok {
				return nil, fmt.Errorf("rrdp_finish: sync did not complete")
			}
			return ok, nil
		}

		dialer := transport.NewHTTPDialer(repo.NotifyURI).
			WithMethod(http.MethodGet).
			WithHeader("User-Agent", "rpki-client").
			WithStatusRange(200, 399)
		dialer.Client = d.httpClient.StandardClient()
		res := dialer.Dial(ctx)
		if !res.Healthy {
			return nil, fmt.Errorf("rrdp_finish: %s", res.Message)
		}
		return res, nil
	})
	timer.ObserveDurationVec(metrics.FetchDuration, string(transport.ProtocolRRDP))
	repo.Health.Update(transport.Result{Healthy: err == nil, Message: errMessage(err), CheckedAt: time.Now(), Duration: timer.Duration()}, d.policy)
	if err != nil {
		logger.Warn().Err(err).Msg("rrdp sync failed")
		metrics.FetchFailuresTotal.WithLabelValues(string(transport.ProtocolRRDP)).Inc()
		return false
	}
	return true
}

// rsyncHostPort derives the host:port a rsync:// URI's module lives
// behind, for a cheap TCP reachability probe ahead of spawning the
// rsync child process. Port 873 is rsync's IANA-assigned default.
func rsyncHostPort(rsyncURI string) string {
	u, err := url.Parse(rsyncURI)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "873"
	}
	return u.Hostname() + ":" + port
}

func (d *Dispatcher) rsyncFetch(ctx context.Context, repo *Repo, logger zerolog.Logger) bool {
	if hostPort := rsyncHostPort(repo.RsyncURI); hostPort != "" {
		probe := transport.NewTCPDialer(hostPort)
		if res := probe.Dial(ctx); !res.Healthy {
			logger.Warn().Str("host", hostPort).Msg("rsync preflight TCP probe failed, skipping dial")
			repo.Health.Update(res, d.policy)
			metrics.FetchFailuresTotal.WithLabelValues(string(transport.ProtocolRsync)).Inc()
			return false
		}
	}

	cb := d.breakerFor(repo)
	dialer := transport.NewRsyncDialer(repo.RsyncURI, repo.LocalDir)
	dialer.Timeout = d.policy.Timeout

	repo.mu.Lock()
	repo.lastProtocol = transport.ProtocolRsync
	repo.mu.Unlock()

	timer := metrics.NewTimer()
	result, err := cb.Execute(func() (interface{}, error) {
		res := dialer.Dial(ctx)
		if !res.Healthy {
			return res, fmt.Errorf("rsync_finish: %s", res.Message)
		}
		return res, nil
	})
	timer.ObserveDurationVec(metrics.FetchDuration, string(transport.ProtocolRsync))
	if res, ok := result.(transport.Result); ok {
		repo.Health.Update(res, d.policy)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("rsync sync failed")
		metrics.FetchFailuresTotal.WithLabelValues(string(transport.ProtocolRsync)).Inc()
		return false
	}
	return true
}

// errMessage renders err as a Status message, or "" when err is nil.
func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// finish commits repo's successful transition to READY and flushes any
// entities deferred while it synced, unless gen is stale.
func (d *Dispatcher) finish(repo *Repo, gen uint64, state State, proto transport.Protocol) {
	repo.mu.Lock()
	if repo.generation != gen {
		repo.mu.Unlock()
		return
	}
	from := repo.State
	repo.State = state
	repo.Protocol = proto
	deferred := repo.deferred
	repo.deferred = nil
	repo.mu.Unlock()

	d.stats.recordProtocol(proto)
	d.publishStateChange(repo, from, state)
	for _, e := range deferred {
		d.Ingress.push(e)
	}
}

// transition moves repo to state unless gen is stale, without touching
// its deferred entities (used for the SYNCING -> FALLBACK hop).
func (d *Dispatcher) transition(repo *Repo, gen uint64, state State) {
	repo.mu.Lock()
	if repo.generation != gen {
		repo.mu.Unlock()
		return
	}
	from := repo.State
	repo.State = state
	repo.mu.Unlock()

	d.publishStateChange(repo, from, state)
}

// markFail commits repo's transition to FAIL unless gen is stale,
// dropping and counting any entities that were deferred against it.
func (d *Dispatcher) markFail(repo *Repo, gen uint64) {
	repo.mu.Lock()
	if repo.generation != gen {
		repo.mu.Unlock()
		return
	}
	from := repo.State
	repo.State = StateFail
	dropped := len(repo.deferred)
	repo.deferred = nil
	repo.mu.Unlock()

	d.stats.recordRepoFail()
	d.publishStateChange(repo, from, StateFail)
	if dropped > 0 {
		d.stats.recordDropped(dropped)
		d.publishDropped(repo, dropped)
	}
}
