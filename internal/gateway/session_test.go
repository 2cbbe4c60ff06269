package gateway

import (
	"testing"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []SessionState
		wantErr bool
	}{
		{"full lifecycle", []SessionState{StateConnected, StateStreaming, StateDisconnected}, false},
		{"drop before upgrade", []SessionState{StateDisconnected}, false},
		{"drop while waiting for config", []SessionState{StateConnected, StateDisconnected}, false},
		{"skip connected", []SessionState{StateStreaming}, true},
		{"reconnect after disconnect", []SessionState{StateDisconnected, StateConnected}, true},
		{"repeat state", []SessionState{StateConnected, StateConnected}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRegistry().Open(1, "127.0.0.1:1234")
			var err error
			for _, next := range tt.path {
				if err = s.Transition(next); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Open(1, "10.0.0.1:5000")
	b := r.Open(1, "10.0.0.2:5000")
	c := r.Open(2, "10.0.0.3:5000")

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StateConnecting, a.State())

	require.NoError(t, a.Transition(StateConnected))
	a.recordEvent(a.ConnectedAt)

	list := r.List(1)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, info := range list {
		if info.ID == a.ID {
			assert.Equal(t, StateConnected, info.State)
			assert.Equal(t, uint64(1), info.Events)
			require.NotNil(t, info.LastEventAt)
		}
	}

	r.Close(c)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, r.List(2))
	_, ok := r.Get(c.ID)
	assert.False(t, ok)

	got, ok := r.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)
}
