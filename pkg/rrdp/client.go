package rrdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/rpki-client/pkg/log"
	"github.com/cuemby/rpki-client/pkg/metrics"
)

// SessionStore persists the rrdp_session record spec.md 4.5 describes
// (session_id, serial, last_mod) across runs, keyed by repo id.
type SessionStore interface {
	LoadSession(repoID uint64) (Session, bool, error)
	SaveSession(repoID uint64, s Session) error
}

// Client drives the fetch side of RFC 8182: retrieve a notification
// document, decide between applying deltas or reloading the snapshot,
// and materialize the result via HandleFile.
type Client struct {
	HTTP  *http.Client
	Store SessionStore
}

// NewClient returns a Client backed by httpClient and store.
func NewClient(httpClient *http.Client, store SessionStore) *Client {
	return &Client{HTTP: httpClient, Store: store}
}

// Sync fetches notifyURI and brings localDir up to date with it,
// preferring incremental deltas over a full snapshot reload when the
// locally persisted session allows it. Returns whether the repository
// ends up current; the caller treats a false return as an rrdp_finish
// failure per spec.md 4.4.
func (c *Client) Sync(ctx context.Context, repoID uint64, notifyURI, localDir string) (bool, error) {
	logger := log.WithComponent("rrdp").With().Uint64("repo_id", repoID).Logger()

	notif, err := c.fetchNotification(ctx, notifyURI)
	if err != nil {
		return false, err
	}

	prior, hasPrior, err := c.Store.LoadSession(repoID)
	if err != nil {
		return false, fmt.Errorf("rrdp: load session: %w", err)
	}

	if hasPrior && prior.SessionID == notif.SessionID && prior.Serial < notif.Serial {
		if deltas, ok := deltaChain(notif.Deltas, prior.Serial+1, notif.Serial); ok {
			if err := c.applyDeltas(ctx, localDir, deltas, logger); err != nil {
				return false, err
			}
			return true, c.Store.SaveSession(repoID, Session{SessionID: notif.SessionID, Serial: notif.Serial})
		}
		logger.Debug().Msg("delta chain incomplete, falling back to snapshot")
		metrics.RRDPFallbackToSnapshotTotal.Inc()
	}

	if hasPrior && prior.SessionID == notif.SessionID && prior.Serial == notif.Serial {
		return true, nil // already current
	}

	if err := c.applySnapshot(ctx, localDir, notif, logger); err != nil {
		return false, err
	}
	return true, c.Store.SaveSession(repoID, Session{SessionID: notif.SessionID, Serial: notif.Serial})
}

func (c *Client) fetchNotification(ctx context.Context, uri string) (*Notification, error) {
	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ParseNotification(body)
}

func (c *Client) get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("rrdp: build request for %s: %w", uri, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rrdp: fetch %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("rrdp: fetch %s: status %d", uri, resp.StatusCode)
	}
	return resp.Body, nil
}

// deltaChain selects, in ascending serial order, the contiguous run
// of advertised deltas covering [from, to]. Any gap means the chain
// is incomplete and a snapshot reload is required instead.
func deltaChain(refs []DeltaRef, from, to uint64) ([]DeltaRef, bool) {
	byserial := make(map[uint64]DeltaRef, len(refs))
	for _, r := range refs {
		byserial[r.Serial] = r
	}

	out := make([]DeltaRef, 0, to-from+1)
	for s := from; s <= to; s++ {
		r, ok := byserial[s]
		if !ok {
			return nil, false
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, true
}

func (c *Client) applyDeltas(ctx context.Context, localDir string, refs []DeltaRef, logger zerolog.Logger) error {
	for _, ref := range refs {
		body, err := c.get(ctx, ref.URI)
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return fmt.Errorf("rrdp: read delta %s: %w", ref.URI, err)
		}
		if ref.Hash != "" {
			sum := sha256.Sum256(raw)
			if !strings.EqualFold(hex.EncodeToString(sum[:]), ref.Hash) {
				return fmt.Errorf("rrdp: delta %s: hash mismatch", ref.URI)
			}
		}

		delta, err := ParseDelta(strings.NewReader(string(raw)))
		if err != nil {
			return err
		}

		for _, p := range delta.Publishes {
			payload, err := decodeBody(p.Body)
			if err != nil {
				return fmt.Errorf("rrdp: decode publish %s: %w", p.URI, err)
			}
			op := OpAdd
			if p.Hash != "" {
				op = OpUpdate
			}
			if err := HandleFile(localDir, op, p.URI, p.Hash, payload); err != nil {
				return err
			}
		}
		for _, w := range delta.Withdraws {
			if err := HandleFile(localDir, OpDelete, w.URI, w.Hash, nil); err != nil {
				return err
			}
		}
		logger.Debug().Uint64("serial", ref.Serial).Int("publishes", len(delta.Publishes)).Int("withdraws", len(delta.Withdraws)).Msg("delta applied")
		metrics.RRDPDeltaAppliedTotal.Inc()
	}
	return nil
}

func (c *Client) applySnapshot(ctx context.Context, localDir string, notif *Notification, logger zerolog.Logger) error {
	body, err := c.get(ctx, notif.SnapshotURI)
	if err != nil {
		return err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("rrdp: read snapshot: %w", err)
	}
	if notif.SnapshotHash != "" {
		sum := sha256.Sum256(raw)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), notif.SnapshotHash) {
			return fmt.Errorf("rrdp: snapshot hash mismatch")
		}
	}

	snap, err := ParseSnapshot(strings.NewReader(string(raw)))
	if err != nil {
		return err
	}

	for _, p := range snap.Publishes {
		payload, err := decodeBody(p.Body)
		if err != nil {
			return fmt.Errorf("rrdp: decode publish %s: %w", p.URI, err)
		}
		// A snapshot is the repository's full authoritative state, so it
		// overwrites whatever is on disk unconditionally rather than going
		// through HandleFile's delta-oriented ADD/UPD hash checks.
		if err := writeFile(localPath(localDir, p.URI), payload); err != nil {
			return fmt.Errorf("rrdp: write %s: %w", p.URI, err)
		}
	}
	logger.Debug().Uint64("serial", snap.Serial).Int("publishes", len(snap.Publishes)).Msg("snapshot applied")
	return nil
}
