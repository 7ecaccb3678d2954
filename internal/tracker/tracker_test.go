package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmarks-net/exhale/internal/switchctl"
	"github.com/pmarks-net/exhale/internal/wireless"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func TestWaitForNodesLatchesHomeIDAndQueriesNodes(t *testing.T) {
	mgr := wireless.NewFakeManager()
	tr := New(mgr, time.Minute, switchctl.Timing{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		mgr.Emit(wireless.Notification{Type: "DriverReady", HomeID: intPtr(42)})
		mgr.Emit(wireless.Notification{Type: "AllNodesQueried"})
	}()

	require.NoError(t, tr.WaitForNodes(ctx))
	id, ok := tr.HomeID()
	require.True(t, ok)
	assert.Equal(t, 42, id)
	assert.True(t, tr.nodesQueried)
}

func TestSwitchRegistrationAndDesirePropagation(t *testing.T) {
	mgr := wireless.NewFakeManager()
	tr := New(mgr, 50*time.Millisecond, switchctl.Timing{
		PulseOff: time.Millisecond,
		PulseOn:  time.Millisecond,
		Debounce: 5 * time.Millisecond,
	}, nil)
	root, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartSwitchControllers(root)

	ctx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()

	go mgr.Emit(wireless.Notification{
		Type:   "ValueAdded",
		NodeID: intPtr(7),
		ValueID: &wireless.ValueID{
			ID:           1,
			CommandClass: "COMMAND_CLASS_SWITCH_BINARY",
			Index:        0,
			Value:        false,
		},
	})

	switchID, ok := tr.WaitForSwitchAdded(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, switchID)
	assert.Equal(t, 1, tr.SwitchCount())

	// The node scan completes after the switch exists, so WaitForNodes
	// injects Alive into it and the controller leaves its pre-alive phase.
	go func() {
		mgr.Emit(wireless.Notification{Type: "DriverReady", HomeID: intPtr(7)})
		mgr.Emit(wireless.Notification{Type: "AllNodesQueried"})
	}()
	require.NoError(t, tr.WaitForNodes(ctx))

	tr.PublishDesire(true)

	assert.Eventually(t, func() bool {
		mgr.Emit(wireless.Notification{
			Type:   "ValueChanged",
			NodeID: intPtr(7),
			ValueID: &wireless.ValueID{
				ID:           1,
				CommandClass: "COMMAND_CLASS_SWITCH_BINARY",
				Index:        0,
				Value:        true,
			},
		})
		// The first three calls are the announcement pulse (off, on,
		// off); an on command after them comes from the desire.
		for i, c := range mgr.SetValueCalls {
			if i >= 3 && c.SwitchID == 1 && c.Value {
				return true
			}
		}
		return false
	}, 500*time.Millisecond, 10*time.Millisecond)

	tr.Stop()
}

func TestWaitForControllerStateAndDriverRemoved(t *testing.T) {
	mgr := wireless.NewFakeManager()
	tr := New(mgr, time.Minute, switchctl.Timing{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go mgr.Emit(wireless.Notification{Type: "ControllerCommand", ControllerState: strPtr("Completed")})
	require.True(t, tr.WaitForControllerState(ctx, "Completed"))

	go func() {
		mgr.Emit(wireless.Notification{Type: "DriverReady", HomeID: intPtr(1)})
		mgr.Emit(wireless.Notification{Type: "AllNodesQueried"})
	}()
	require.NoError(t, tr.WaitForNodes(context.Background()))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	go mgr.Emit(wireless.Notification{Type: "DriverRemoved"})
	require.True(t, tr.WaitForDriverRemoved(ctx2))

	_, ok := tr.HomeID()
	assert.False(t, ok)
}

func TestNodeAliveNotificationInjectsAliveAfterNodesQueried(t *testing.T) {
	mgr := wireless.NewFakeManager()
	tr := New(mgr, time.Minute, switchctl.Timing{
		PulseOff: time.Millisecond,
		PulseOn:  time.Millisecond,
		Debounce: 2 * time.Millisecond,
	}, nil)
	root, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartSwitchControllers(root)

	go func() {
		mgr.Emit(wireless.Notification{Type: "DriverReady", HomeID: intPtr(5)})
		mgr.Emit(wireless.Notification{Type: "AllNodesQueried"})
	}()
	require.NoError(t, tr.WaitForNodes(context.Background()))

	ctx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	go mgr.Emit(wireless.Notification{
		Type:   "ValueAdded",
		NodeID: intPtr(9),
		ValueID: &wireless.ValueID{
			ID: 3, CommandClass: "COMMAND_CLASS_SWITCH_BINARY", Index: 0, Value: false,
		},
	})
	_, ok := tr.WaitForSwitchAdded(ctx)
	require.True(t, ok)
	assert.Empty(t, mgr.SetValueCalls)

	code := 6
	mgr.Emit(wireless.Notification{Type: "Notification", NodeID: intPtr(9), NotificationCode: &code})
	tr.WaitUntil(ctx, time.Now().Add(50*time.Millisecond))

	// Alive releases the controller, which starts its announcement pulse.
	assert.Eventually(t, func() bool {
		return len(mgr.SetValueCalls) > 0
	}, 500*time.Millisecond, 10*time.Millisecond)
	tr.Stop()
}
