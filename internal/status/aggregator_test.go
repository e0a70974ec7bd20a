package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabbroker/tabbroker/internal/wsproto"
)

type fakePublisher struct {
	frames []*wsproto.Frame
}

func (f *fakePublisher) BroadcastStatus(frame *wsproto.Frame) { f.frames = append(f.frames, frame) }

func TestDefaultLineWhenNoBrowser(t *testing.T) {
	a := New(&fakePublisher{})
	assert.Equal(t, "no browser connected", a.GetStatusLine())
}

func TestUpdateStatusJoinsToolEntries(t *testing.T) {
	pub := &fakePublisher{}
	a := New(pub)
	a.UpdateStatus("crawler", "running")
	assert.Equal(t, "no browser connected | crawler: running", a.GetStatusLine())
	require.Len(t, pub.frames, 1)
}

func TestUpdateStatusClearWithEmptyValue(t *testing.T) {
	a := New(&fakePublisher{})
	a.UpdateStatus("crawler", "running")
	a.UpdateStatus("crawler", "")
	assert.Equal(t, "no browser connected", a.GetStatusLine())
}

func TestWindowsChangedFocused(t *testing.T) {
	a := New(&fakePublisher{})
	a.WindowsChanged("example.com", "A Very Long Title That Exceeds Forty Characters For Sure", 1)
	assert.Contains(t, a.GetStatusLine(), "example.com — ")
}

func TestWindowsChangedTabCountNoFocus(t *testing.T) {
	a := New(&fakePublisher{})
	a.WindowsChanged("", "", 3)
	assert.Equal(t, "3 tab(s) connected", a.GetStatusLine())
}

func TestWindowsChangedNoTabs(t *testing.T) {
	a := New(&fakePublisher{})
	a.WindowsChanged("", "", 0)
	assert.Equal(t, "no browser connected", a.GetStatusLine())
}
