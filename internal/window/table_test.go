package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct {
	closed []string
}

func (f *fakeCloser) ClosePeer(peerID string) { f.closed = append(f.closed, peerID) }

type fakeAffinity struct {
	m map[string]string
}

func (f *fakeAffinity) Get(sessionID string) (string, bool) {
	w, ok := f.m[sessionID]
	return w, ok
}

func TestClaimEvictsPriorOwner(t *testing.T) {
	closer := &fakeCloser{}
	tbl := New(closer)

	tbl.Claim("w1", "p1", "peerA", "https://a.test", "A", true, "tab")
	tbl.Claim("w1", "p1", "peerB", "https://b.test", "B", true, "tab")

	require.Equal(t, []string{"peerA"}, closer.closed)
	w, ok := tbl.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "peerB", w.PeerID)
	assert.Equal(t, "https://b.test", w.URL)
}

func TestClaimIdempotentForSamePeer(t *testing.T) {
	closer := &fakeCloser{}
	tbl := New(closer)

	tbl.Claim("w1", "p1", "peerA", "https://a.test", "A", true, "tab")
	tbl.Claim("w1", "p1", "peerA", "https://a2.test", "A2", true, "tab")

	assert.Empty(t, closer.closed)
	w, _ := tbl.Get("w1")
	assert.Equal(t, "https://a2.test", w.URL)
}

func TestDropAdvancesFocus(t *testing.T) {
	tbl := New(nil)
	tbl.Claim("w1", "p1", "peerA", "u1", "t1", true, "tab")
	tbl.Claim("w2", "p2", "peerB", "u2", "t2", true, "tab")

	require.Equal(t, "w1", tbl.FocusedWindowID())

	dropped := tbl.Drop("peerA")
	assert.Equal(t, "w1", dropped)
	assert.Equal(t, "w2", tbl.FocusedWindowID())

	dropped = tbl.Drop("peerB")
	assert.Equal(t, "w2", dropped)
	assert.Equal(t, "", tbl.FocusedWindowID())
}

func TestResolveTargetExplicitWins(t *testing.T) {
	tbl := New(nil)
	tbl.Claim("w1", "p1", "peerA", "u1", "t1", true, "tab")
	tbl.Claim("w2", "p2", "peerB", "u2", "t2", true, "tab")

	id, ok := tbl.ResolveTarget("w2", "", nil)
	require.True(t, ok)
	assert.Equal(t, "w2", id)
}

func TestResolveTargetExplicitMissingFails(t *testing.T) {
	tbl := New(nil)
	_, ok := tbl.ResolveTarget("ghost", "", nil)
	assert.False(t, ok)
}

func TestResolveTargetSessionAffinity(t *testing.T) {
	tbl := New(nil)
	tbl.Claim("w1", "p1", "peerA", "u1", "t1", true, "tab")
	tbl.Claim("w2", "p2", "peerB", "u2", "t2", true, "tab")

	aff := &fakeAffinity{m: map[string]string{"sess1": "w2"}}
	id, ok := tbl.ResolveTarget("", "sess1", aff)
	require.True(t, ok)
	assert.Equal(t, "w2", id)
}

func TestResolveTargetFallsBackToFocused(t *testing.T) {
	tbl := New(nil)
	tbl.Claim("w1", "p1", "peerA", "u1", "t1", true, "tab")
	tbl.Claim("w2", "p2", "peerB", "u2", "t2", true, "tab")

	id, ok := tbl.ResolveTarget("", "", nil)
	require.True(t, ok)
	assert.Equal(t, "w1", id)
}

func TestResolveTargetAfterFocusedWindowDropped(t *testing.T) {
	tbl := New(nil)
	tbl.Claim("w1", "p1", "peerA", "u1", "t1", true, "tab")
	tbl.Claim("w2", "p2", "peerB", "u2", "t2", true, "tab")
	tbl.Drop("peerA") // w1 gone, focus advances to the only remaining window

	time.Sleep(2 * time.Millisecond)
	tbl.Touch("w2")

	id, ok := tbl.ResolveTarget("", "", nil)
	require.True(t, ok)
	assert.Equal(t, "w2", id)
}

func TestResolveTargetNoneConnected(t *testing.T) {
	tbl := New(nil)
	_, ok := tbl.ResolveTarget("", "", nil)
	assert.False(t, ok)
}
