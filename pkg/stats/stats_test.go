package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rpki-client/pkg/fetch"
	"github.com/cuemby/rpki-client/pkg/types"
	"github.com/cuemby/rpki-client/pkg/validator"
)

func TestRecordParsedFailedInvalidCountByType(t *testing.T) {
	s := New()
	s.RecordParsed(types.EntityROA)
	s.RecordParsed(types.EntityROA)
	s.RecordFailed(types.EntityROA)
	s.RecordInvalid(types.EntityROA)

	assert.Equal(t, 2, s.Parsed[types.EntityROA])
	assert.Equal(t, 1, s.Failed[types.EntityROA])
	assert.Equal(t, 1, s.Invalid[types.EntityROA])
}

func TestRecordVRPTracksTotalAndUnique(t *testing.T) {
	s := New()
	s.RecordVRP(true)
	s.RecordVRP(false)
	s.RecordVRP(true)

	assert.Equal(t, 3, s.VRPsTotal)
	assert.Equal(t, 2, s.VRPsUnique)
}

func TestMergeWalkAccumulatesAcrossCalls(t *testing.T) {
	s := New()
	s.MergeWalk(validator.WalkStats{MftsStale: 1, EntriesFailed: 2, FilesUnclaimed: 3})
	s.MergeWalk(validator.WalkStats{MftsStale: 1, EntriesFailed: 0, FilesUnclaimed: 1})

	assert.Equal(t, 2, s.MftsStale)
	assert.Equal(t, 2, s.EntriesFailed)
	assert.Equal(t, 4, s.FilesUnclaimed)
}

func TestMergeFetchCopiesLatestSnapshot(t *testing.T) {
	s := New()
	s.MergeFetch(fetch.Stats{RsyncRepos: 2, RRDPRepos: 1, RRDPFails: 1, ReposFailed: 1, EntitiesDropped: 4})

	assert.Equal(t, 2, s.RsyncRepos)
	assert.Equal(t, 1, s.RRDPRepos)
	assert.Equal(t, 1, s.RRDPFails)
	assert.Equal(t, 1, s.ReposFailed)
	assert.Equal(t, 4, s.EntitiesDropped)
}

func TestExitCodeZeroOnlyWithAtLeastOneTALProducingVRPs(t *testing.T) {
	s := New()
	assert.Equal(t, 1, s.ExitCode(), "no TAL names recorded yet: run produced nothing")

	s.SetTALNames([]string{"afrinic"})
	assert.Equal(t, 0, s.ExitCode())
}

func TestWriteSummaryIncludesCoreCounters(t *testing.T) {
	s := New()
	s.RecordParsed(types.EntityROA)
	s.RecordVRP(true)
	s.SetTALNames([]string{"afrinic", "ripe"})
	s.MergeFetch(fetch.Stats{RsyncRepos: 1, RRDPRepos: 2})
	s.RecordCleanup(3, 1)
	s.SetTiming(2*time.Second, time.Second, 500*time.Millisecond)

	var buf bytes.Buffer
	s.WriteSummary(&buf)
	out := buf.String()

	require.Contains(t, out, "ROA")
	assert.Contains(t, out, "vrps: 1 total, 1 unique")
	assert.Contains(t, out, "afrinic, ripe")
	assert.Contains(t, out, "1 rsync, 2 rrdp")
	assert.True(t, strings.Contains(out, "cache cleanup: 3 files, 1 dirs removed"))
}
