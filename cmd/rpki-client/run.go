package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rpki-client/pkg/config"
	"github.com/cuemby/rpki-client/pkg/events"
	"github.com/cuemby/rpki-client/pkg/fetch"
	"github.com/cuemby/rpki-client/pkg/fetch/transport"
	"github.com/cuemby/rpki-client/pkg/ipc"
	"github.com/cuemby/rpki-client/pkg/log"
	"github.com/cuemby/rpki-client/pkg/metrics"
	"github.com/cuemby/rpki-client/pkg/parser"
	"github.com/cuemby/rpki-client/pkg/rrdp"
	"github.com/cuemby/rpki-client/pkg/stats"
	"github.com/cuemby/rpki-client/pkg/store"
	"github.com/cuemby/rpki-client/pkg/types"
	"github.com/cuemby/rpki-client/pkg/validator"
	"github.com/cuemby/rpki-client/pkg/vrp"
)

// taResolveTimeout bounds how long a single trust anchor is given to
// reach READY before its TAL is abandoned for this run.
const taResolveTimeout = 2 * time.Minute

// drainPollInterval paces the ingress-queue drain loop, the same
// fixed-interval polling cadence the teacher's cluster status commands
// use while waiting on an async condition.
const drainPollInterval = 500 * time.Millisecond

// drainIdleTimeout ends the drain loop once the ingress queue has had
// nothing to offer for this long.
const drainIdleTimeout = 10 * time.Second

// runValidate is the root command's RunE body: it wires every
// collaborator package together for one validation run over cfg's
// trust anchors and reports spec.md 7's exit-code policy via os.Exit.
func runValidate(cfg config.Config) error {
	start := time.Now()
	log.Init(cfg.LogConfig())
	logger := log.WithComponent("run")

	metrics.SetVersion(Version)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("rpki-client: open store: %w", err)
	}
	defer st.Close()
	metrics.RegisterComponent("store", true, "")

	table := fetch.NewTable(cfg.CacheDir)
	if err := restoreRepoCheckpoints(st, table, logger); err != nil {
		logger.Warn().Err(err).Msg("repo checkpoint restore")
	}
	dispatcher := fetch.NewDispatcher(table, transport.Policy{Timeout: cfg.FetchTimeout, Retries: cfg.FetchRetries})
	if !cfg.DisableRRDP {
		dispatcher.RRDP = rrdp.NewClient(http.DefaultClient, st)
	}
	metrics.RegisterComponent("fetch", true, "")
	metrics.RegisterComponent("validator", true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	dispatcher.Events = broker

	vrpStore := vrp.New()
	collector := metrics.NewCollector(vrpStore, table)
	collector.Start()
	defer collector.Stop()

	metricsSrv := startMetricsServer(metricsListenAddr, logger)
	defer metricsSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := spawnWorkerPool(ctx, cfg.Workers)
	if err != nil {
		return err
	}
	defer pool.Stop()

	auth := validator.NewAuthTree()
	crlTree := validator.NewCRLTree()
	walker := validator.NewWalker(auth, crlTree, dispatcher, dispatcher)
	runStats := stats.New()

	for _, talPath := range cfg.TALPaths {
		if err := processTAL(talPath, table, dispatcher, walker, auth, runStats, logger); err != nil {
			logger.Error().Str("tal", talPath).Err(err).Msg("trust anchor failed")
			staleOutputNotice(st, strings.TrimSuffix(filepath.Base(talPath), filepath.Ext(talPath)), logger)
		}
	}

	drainIngress(ctx, dispatcher, walker, auth, crlTree, vrpStore, pool, runStats, logger)

	if err := checkpointRepos(st, table); err != nil {
		logger.Warn().Err(err).Msg("repo checkpoint save")
	}
	cacheVRPOutputs(st, vrpStore, logger)

	filesDeleted, dirsDeleted, err := walker.Cleanup()
	if err != nil {
		logger.Warn().Err(err).Msg("cache cleanup")
	}
	runStats.RecordCleanup(filesDeleted, dirsDeleted)
	runStats.MergeFetch(dispatcher.Stats())
	runStats.SetTALNames(vrpStore.TALNames())
	runStats.SetTiming(time.Since(start), 0, 0)
	runStats.WriteSummary(os.Stdout)

	announceOutputs(cfg, vrpStore, logger)

	os.Exit(runStats.ExitCode())
	return nil
}

// restoreRepoCheckpoints seeds table with every repository persisted by
// the previous run, so a resumed run does not treat every publication
// point as freshly discovered (spec.md 57's "repo is created on first
// lookup and lives until shutdown" implies that lifecycle should
// survive a restart, not just a single process).
func restoreRepoCheckpoints(st *store.Store, table *fetch.Table, logger zerolog.Logger) error {
	checkpoints, err := st.LoadRepoCheckpoints()
	if err != nil {
		return err
	}
	for _, c := range checkpoints {
		table.Seed(c.RsyncURI, fetch.ParseState(c.State), transport.Protocol(c.Protocol))
	}
	if len(checkpoints) > 0 {
		logger.Info().Int("count", len(checkpoints)).Msg("restored repo checkpoints from previous run")
	}
	return nil
}

// checkpointRepos persists the repository table's final state so the
// next run's restoreRepoCheckpoints has something to resume from.
func checkpointRepos(st *store.Store, table *fetch.Table) error {
	snapshots := table.Snapshots()
	checkpoints := make([]store.RepoCheckpoint, 0, len(snapshots))
	for _, s := range snapshots {
		checkpoints = append(checkpoints, store.RepoCheckpoint{
			ID:        s.ID,
			RsyncURI:  s.RsyncURI,
			NotifyURI: s.NotifyURI,
			LocalDir:  s.LocalDir,
			State:     s.State.String(),
			Protocol:  string(s.Protocol),
		})
	}
	return st.SaveRepoCheckpoints(checkpoints)
}

// cacheVRPOutputs saves this run's VRPs, grouped by TAL, as the
// last-known-good output for that trust anchor (pkg/store's
// SaveOutput/LoadOutput pair). A future run whose TAL fails outright
// can fall back to LoadOutput rather than publishing nothing for it.
func cacheVRPOutputs(st *store.Store, vrpStore *vrp.Store, logger zerolog.Logger) {
	byTAL := make(map[string][]vrp.VRP)
	for _, v := range vrpStore.Sorted() {
		byTAL[v.TAL] = append(byTAL[v.TAL], v)
	}
	for tal, vrps := range byTAL {
		data, err := json.Marshal(vrps)
		if err != nil {
			logger.Warn().Str("tal", tal).Err(err).Msg("marshal output cache")
			continue
		}
		if err := st.SaveOutput(tal, data); err != nil {
			logger.Warn().Str("tal", tal).Err(err).Msg("save output cache")
		}
	}
}

// staleOutputNotice reports whether tal has a last-known-good output
// cached from a previous run, logging its VRP count if so. Called when
// a trust anchor fails outright this run, so the operator knows stale
// data remains available even though this run produced nothing for it.
func staleOutputNotice(st *store.Store, tal string, logger zerolog.Logger) {
	data, found, err := st.LoadOutput(tal)
	if err != nil || !found {
		return
	}
	var vrps []vrp.VRP
	if err := json.Unmarshal(data, &vrps); err != nil {
		return
	}
	logger.Warn().Str("tal", tal).Int("stale_vrps", len(vrps)).Msg("serving stale cached output from previous run")
}

func startMetricsServer(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}

// processTAL loads one TAL, drives its trust anchor certificate through
// ResolveTA until ready, and walks it into the tree — seeding the
// ingress queue with its manifest's children for drainIngress to pick
// up afterward.
func processTAL(talPath string, table *fetch.Table, dispatcher *fetch.Dispatcher, walker *validator.Walker, auth *validator.AuthTree, runStats *stats.Stats, logger zerolog.Logger) error {
	tal, err := parser.ParseTAL(talPath)
	if err != nil {
		return fmt.Errorf("parse tal: %w", err)
	}
	talLogger := log.WithTAL(tal.Name)

	var localDir string
	var ready bool
	deadline := time.Now().Add(taResolveTimeout)
	for {
		localDir, ready, err = dispatcher.ResolveTA(tal)
		if err != nil {
			return fmt.Errorf("resolve ta: %w", err)
		}
		if ready {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("trust anchor %q did not become ready before deadline", tal.Name)
		}
		time.Sleep(drainPollInterval)
	}

	taCertPath := filepath.Join(localDir, path.Base(tal.URIs[0]))
	cert, err := parser.ParseTA(taCertPath, tal.PublicKeyDER)
	if err != nil {
		runStats.RecordFailed(types.EntityCER)
		return fmt.Errorf("parse ta cert: %w", err)
	}
	runStats.RecordParsed(types.EntityCER)

	if err := validator.ValidTA(auth, &cert, tal); err != nil {
		runStats.RecordInvalid(types.EntityCER)
		return fmt.Errorf("valid ta: %w", err)
	}
	runStats.RecordValid(types.EntityCER)

	repo, repoErr := table.TALookup(tal)
	var repoID uint64
	if repoErr == nil {
		repoID = repo.ID
	}

	entity := types.Entity{Type: types.EntityCER, Path: taCertPath, TAL: tal.Name, RepoID: repoID}
	ws, err := walker.WalkCert(entity, cert)
	runStats.MergeWalk(ws)
	if err != nil {
		talLogger.Warn().Err(err).Msg("walk_cert reported non-fatal entry failures")
	}
	return nil
}

// drainIngress repeatedly drains the dispatcher's ingress queue,
// dispatching each entity through the parser worker and the validator,
// until the queue has been empty for drainIdleTimeout or ctx is done.
func drainIngress(ctx context.Context, dispatcher *fetch.Dispatcher, walker *validator.Walker, auth *validator.AuthTree, crlTree *validator.CRLTree, vrpStore *vrp.Store, pool *workerPool, runStats *stats.Stats, logger zerolog.Logger) {
	lastNonEmpty := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items := dispatcher.Ingress.Drain()
		if len(items) == 0 {
			if time.Since(lastNonEmpty) > drainIdleTimeout {
				return
			}
			time.Sleep(drainPollInterval)
			continue
		}
		lastNonEmpty = time.Now()

		for _, entity := range items {
			processEntity(entity, walker, auth, crlTree, vrpStore, pool, runStats, logger)
		}
	}
}

func processEntity(entity types.Entity, walker *validator.Walker, auth *validator.AuthTree, crlTree *validator.CRLTree, vrpStore *vrp.Store, pool *workerPool, runStats *stats.Stats, logger zerolog.Logger) {
	resp, err := parseViaWorker(pool.take(), entity)
	if err != nil {
		log.CryptoFatal(entity.Path, fmt.Errorf("worker request failed: %w", err))
		return
	}
	if resp.Err != "" {
		log.CryptoWarn(entity.Path, errors.New(resp.Err))
		runStats.RecordFailed(entity.Type)
		return
	}
	runStats.RecordParsed(entity.Type)

	switch entity.Type {
	case types.EntityCER:
		cert := resp.Cert
		if err := validator.ValidCert(auth, &cert); err != nil {
			runStats.RecordInvalid(entity.Type)
			logger.Warn().Str("path", entity.Path).Err(err).Msg("valid_cert rejected certificate")
			return
		}
		runStats.RecordValid(entity.Type)
		ws, err := walker.WalkCert(entity, cert)
		runStats.MergeWalk(ws)
		if err != nil {
			logger.Warn().Str("path", entity.Path).Err(err).Msg("walk_cert reported non-fatal entry failures")
		}

	case types.EntityROA:
		roa := resp.ROA
		if err := validator.ValidROA(auth, &roa); err != nil {
			runStats.RecordInvalid(entity.Type)
			logger.Warn().Str("path", entity.Path).Err(err).Msg("valid_roa rejected ROA")
			return
		}
		runStats.RecordValid(entity.Type)
		for _, p := range roa.Prefixes {
			isNew := vrpStore.Insert(vrp.VRP{
				AFI:       p.AFI,
				Prefix:    p.Prefix,
				PrefixLen: p.PrefixLen,
				MaxLength: p.MaxLength,
				ASID:      roa.ASID,
				TAL:       roa.TAL,
				Expires:   roa.Expires,
			})
			runStats.RecordVRP(isNew)
		}

	case types.EntityCRL:
		crlTree.Install(resp.CRL)

	case types.EntityGBR:
		// Ghostbusters records carry contact information only; nothing
		// chains off one, so parsing and counting it is the whole job.

	default:
		logger.Warn().Str("path", entity.Path).Str("type", entity.Type.String()).Msg("unexpected entity type from ingress queue")
	}
}

func parseViaWorker(worker *ipc.Worker, entity types.Entity) (ipc.ParseResponse, error) {
	if err := ipc.WriteParseRequest(worker.Requests(), ipc.ParseRequest{Type: entity.Type, Path: entity.Path, TAL: entity.TAL}); err != nil {
		return ipc.ParseResponse{}, err
	}
	return ipc.ReadParseResponse(worker.Responses())
}

// announceOutputs implements spec.md 6's outformats bitmask selection
// without the formatter implementations themselves (the OpenBGPD/BIRD/
// CSV/JSON serializers are explicitly out of scope): it logs which
// formats this run would have produced and where.
func announceOutputs(cfg config.Config, vrpStore *vrp.Store, logger zerolog.Logger) {
	formats := []struct {
		bit  config.OutFormat
		name string
	}{
		{config.OutFormatOpenBGPD, "openbgpd"},
		{config.OutFormatBIRD1IPv4, "bird1-ipv4"},
		{config.OutFormatBIRD1IPv6, "bird1-ipv6"},
		{config.OutFormatBIRD2, "bird2"},
		{config.OutFormatCSV, "csv"},
		{config.OutFormatJSON, "json"},
	}
	for _, f := range formats {
		if !f.bit.Has(cfg.OutFormats) {
			continue
		}
		logger.Info().
			Str("format", f.name).
			Str("output_dir", cfg.OutputDir).
			Int("vrps", vrpStore.Len()).
			Msg("vrp dump format selected (serializer out of scope)")
	}
}
