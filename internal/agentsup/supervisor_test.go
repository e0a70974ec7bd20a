package agentsup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/transcript"
)

func newTestSupervisor() *Supervisor {
	return New("unused-binary", nil, []string{"ember", "mica"}, logging.Default(), transcript.NewStore())
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s := newTestSupervisor()
	a := s.GetOrCreate("sess1", "/tmp")
	b := s.GetOrCreate("sess1", "/tmp")
	assert.Same(t, a, b)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAllocateNameFromPoolThenOverflow(t *testing.T) {
	s := newTestSupervisor()
	a := s.GetOrCreate("sess1", "/tmp")
	b := s.GetOrCreate("sess2", "/tmp")
	c := s.GetOrCreate("sess3", "/tmp")

	names := map[string]bool{a.Name: true, b.Name: true, c.Name: true}
	assert.True(t, names["ember"])
	assert.True(t, names["mica"])
	assert.Equal(t, "session-1", c.Name)
}

func TestRemoveFreesName(t *testing.T) {
	s := newTestSupervisor()
	a := s.GetOrCreate("sess1", "/tmp")
	require.Equal(t, "ember", a.Name)

	s.Remove("sess1")
	_, ok := s.Get("sess1")
	assert.False(t, ok)

	b := s.GetOrCreate("sess2", "/tmp")
	assert.Equal(t, "ember", b.Name)
}

func TestInterruptAndQueueNotFound(t *testing.T) {
	s := newTestSupervisor()
	result := s.InterruptAndQueue("ghost", "ember", "hello")
	assert.Equal(t, InterruptNotFound, result)
}

func TestInterruptAndQueueNoRunningChildQueuesAndSends(t *testing.T) {
	s := newTestSupervisor()
	s.GetOrCreate("sess1", "/tmp")

	result := s.InterruptAndQueue("sess1", "mica", "hello")
	assert.Equal(t, InterruptSent, result)

	sess, _ := s.Get("sess1")
	drained := sess.drainQueue()
	assert.Contains(t, drained, "[message from mica]: hello")
}

func TestKillUnknownSession(t *testing.T) {
	s := newTestSupervisor()
	err := s.Kill("ghost")
	assert.Error(t, err)
}

func TestRestoreSessionSeedsContextOnce(t *testing.T) {
	s := newTestSupervisor()
	restored := &transcript.Restored{ShellID: "old", Name: "ember", Cwd: "/tmp", RestoredContext: "- user said: hi"}

	sess := s.RestoreSession("new-sess", restored)
	assert.Equal(t, "ember", sess.Name)

	first := sess.takeRestoredContext()
	assert.Equal(t, "- user said: hi", first)

	second := sess.takeRestoredContext()
	assert.Empty(t, second)
}
