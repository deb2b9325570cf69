package rrdp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	sessions map[uint64]Session
}

func newMemStore() *memStore { return &memStore{sessions: make(map[uint64]Session)} }

func (m *memStore) LoadSession(repoID uint64) (Session, bool, error) {
	s, ok := m.sessions[repoID]
	return s, ok, nil
}

func (m *memStore) SaveSession(repoID uint64, s Session) error {
	m.sessions[repoID] = s
	return nil
}

const testSessionID = "9df4b597-af9e-4dca-a950-96a0cc500372"

func TestClientSyncAppliesSnapshotWhenNoPriorSession(t *testing.T) {
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/notification.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<notification version="1" session_id="%s" serial="1">
  <snapshot uri="%s/snapshot.xml" hash=""/>
</notification>`, testSessionID, "http://"+r.Host)
	})
	mux.HandleFunc("/snapshot.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<snapshot version="1" session_id="`+testSessionID+`" serial="1">
  <publish uri="rsync://rpki.example/repo/a.cer">YWJj</publish>
</snapshot>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	client := NewClient(srv.Client(), store)

	ok, err := client.Sync(context.Background(), 1, srv.URL+"/notification.xml", dir)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(filepath.Join(dir, "rpki.example", "repo", "a.cer"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	sess, has, err := store.LoadSession(1)
	require.NoError(t, err)
	require.True(t, has)
	assert.EqualValues(t, 1, sess.Serial)
}

func TestClientSyncAppliesDeltasWhenChainIsComplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rpki.example", "repo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rpki.example", "repo", "a.cer"), []byte("v1"), 0o644))

	mux := http.NewServeMux()
	mux.HandleFunc("/notification.xml", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		fmt.Fprintf(w, `<notification version="1" session_id="%s" serial="2">
  <snapshot uri="%s/snapshot.xml" hash=""/>
  <delta serial="2" uri="%s/2.xml" hash=""/>
</notification>`, testSessionID, base, base)
	})
	mux.HandleFunc("/2.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<delta version="1" session_id="`+testSessionID+`" serial="2">
  <publish uri="rsync://rpki.example/repo/a.cer" hash="`+hashOf([]byte("v1"))+`">djI=</publish>
</delta>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.SaveSession(1, Session{SessionID: testSessionID, Serial: 1}))
	client := NewClient(srv.Client(), store)

	ok, err := client.Sync(context.Background(), 1, srv.URL+"/notification.xml", dir)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(filepath.Join(dir, "rpki.example", "repo", "a.cer"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestClientSyncFallsBackToSnapshotWhenDeltaChainIncomplete(t *testing.T) {
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/notification.xml", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		fmt.Fprintf(w, `<notification version="1" session_id="%s" serial="5">
  <snapshot uri="%s/snapshot.xml" hash=""/>
  <delta serial="5" uri="%s/5.xml" hash=""/>
</notification>`, testSessionID, base, base)
	})
	mux.HandleFunc("/snapshot.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<snapshot version="1" session_id="`+testSessionID+`" serial="5">
  <publish uri="rsync://rpki.example/repo/a.cer">c25hcA==</publish>
</snapshot>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.SaveSession(1, Session{SessionID: testSessionID, Serial: 1})) // gap: missing deltas 2-4
	client := NewClient(srv.Client(), store)

	ok, err := client.Sync(context.Background(), 1, srv.URL+"/notification.xml", dir)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(filepath.Join(dir, "rpki.example", "repo", "a.cer"))
	require.NoError(t, err)
	assert.Equal(t, "snap", string(got))
}

func TestClientSyncIsNoOpWhenAlreadyCurrent(t *testing.T) {
	dir := t.TempDir()

	mux := http.NewServeMux()
	mux.HandleFunc("/notification.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<notification version="1" session_id="%s" serial="3">
  <snapshot uri="http://%s/snapshot.xml" hash=""/>
</notification>`, testSessionID, r.Host)
	})
	mux.HandleFunc("/snapshot.xml", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("snapshot should not be fetched when already current")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newMemStore()
	require.NoError(t, store.SaveSession(1, Session{SessionID: testSessionID, Serial: 3}))
	client := NewClient(srv.Client(), store)

	ok, err := client.Sync(context.Background(), 1, srv.URL+"/notification.xml", dir)
	require.NoError(t, err)
	assert.True(t, ok)
}
