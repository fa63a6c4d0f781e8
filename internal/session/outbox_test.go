package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/player"
)

func TestOutbox_PushAndDrain(t *testing.T) {
	o := NewOutbox("s1", 0)

	o.SendCommand(player.Command{MediaID: "a", Op: player.OpPlay})
	o.SendScroll(activation.ScrollRequest{Index: 1, MediaID: "b", Reason: activation.ScrollReasonComplete})

	select {
	case <-o.Ready():
	default:
		t.Fatal("expected wake signal")
	}

	msgs := o.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, EventCommand, msgs[0].Event)
	assert.Equal(t, player.OpPlay, msgs[0].Data.(player.Command).Op)
	assert.Equal(t, EventScroll, msgs[1].Event)
	assert.Zero(t, o.Len())
	assert.Empty(t, o.Drain())
}

func TestOutbox_DropsOldestWhenFull(t *testing.T) {
	o := NewOutbox("s1", 2)

	for _, op := range []player.Op{player.OpSetup, player.OpPlay, player.OpPause} {
		o.SendCommand(player.Command{MediaID: "a", Op: op})
	}

	msgs := o.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, player.OpPlay, msgs[0].Data.(player.Command).Op)
	assert.Equal(t, player.OpPause, msgs[1].Data.(player.Command).Op)
}

func TestOutbox_Close(t *testing.T) {
	o := NewOutbox("s1", 0)
	o.Push(Message{Event: EventPing})
	o.Close()

	assert.True(t, o.Closed())
	assert.Zero(t, o.Len())

	o.Push(Message{Event: EventPing})
	assert.Zero(t, o.Len())
}
