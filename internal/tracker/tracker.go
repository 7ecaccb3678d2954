// Package tracker implements the single-executor event tracker that sits
// between the wireless stack's callback thread and the rest of the
// program (spec.md §4.3, §4.4). Exactly one goroutine — whichever one
// calls a Wait* method — acts as the executor; the wireless callback
// only ever does a non-blocking channel send across the thread
// boundary.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmarks-net/exhale/internal/switchctl"
	"github.com/pmarks-net/exhale/internal/wireless"
)

const (
	defaultWaitTimeout = 60 * time.Second
	switchAddedTimeout = 15 * time.Minute
)

// scanMilestones are the notification types that signal the initial
// node scan has finished, in whichever form the wireless stack reports
// it (spec.md §4.4).
var scanMilestones = map[string]bool{
	"AllNodesQueried":         true,
	"AllNodesQueriedSomeDead": true,
	"AwakeNodesQueried":       true,
}

const nodeAliveCode = 6

// trackedSwitch is everything the tracker keeps about one discovered
// binary switch node.
type trackedSwitch struct {
	nodeID   int
	switchID int
	mailbox  chan switchctl.Event
	cancel   context.CancelFunc
}

// Tracker consumes wireless.Notification values and maintains the set of
// known switches plus a small amount of driver/controller state shared
// across the program's startup handshakes (spec.md §4.2, §4.3).
type Tracker struct {
	mgr wireless.Manager
	log *logrus.Entry

	queue chan wireless.Notification

	homeID            *int
	nodesQueried      bool
	controllerState   *string
	switches          map[int]*trackedSwitch
	lastAddedSwitchID *int

	manualSecs time.Duration
	timing     switchctl.Timing

	switchesRoot context.Context
	switchesStop context.CancelFunc
}

// New constructs a Tracker bound to mgr. mgr.SetNotificationHandler is
// called immediately, so New must run before mgr.AddDriver.
func New(mgr wireless.Manager, manualSecs time.Duration, timing switchctl.Timing, log *logrus.Entry) *Tracker {
	t := &Tracker{
		mgr:        mgr,
		log:        log,
		queue:      make(chan wireless.Notification, 64),
		switches:   make(map[int]*trackedSwitch),
		manualSecs: manualSecs,
		timing:     timing,
	}
	mgr.SetNotificationHandler(t.HandleNotification)
	return t
}

// HandleNotification is registered as the wireless.NotificationHandler.
// It must never block: the wireless stack may call it from its own
// worker thread, and a full queue means the tracker has fallen behind
// catastrophically, in which case dropping is preferable to stalling the
// stack's thread.
func (t *Tracker) HandleNotification(n wireless.Notification) {
	select {
	case t.queue <- n:
	default:
		if t.log != nil {
			t.log.Warn("tracker: notification queue full, dropping event")
		}
	}
}

// StartSwitchControllers sets the parent context under which every
// switch Controller goroutine runs; call once before the first wait.
// If never called, controllers run under a background context that
// Stop can still cancel.
func (t *Tracker) StartSwitchControllers(root context.Context) {
	t.switchesRoot, t.switchesStop = context.WithCancel(root)
}

// recv pulls exactly one notification off the queue — blocking
// indefinitely if deadline is zero, or until deadline otherwise — and
// runs it through consume() before returning it to the caller for
// predicate matching. Every Wait* method is built on this.
func (t *Tracker) recv(ctx context.Context, deadline time.Time) (wireless.Notification, bool) {
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wireless.Notification{}, false
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case n := <-t.queue:
		t.consume(n)
		return n, true
	case <-timeoutCh:
		return wireless.Notification{}, false
	case <-ctx.Done():
		return wireless.Notification{}, false
	}
}

// consume applies the core bookkeeping rules common to every
// notification, regardless of which Wait* call is currently the
// executor (spec.md §4.4):
//  1. ValueAdded on a binary switch creates a new controller, replacing
//     any existing one for the same node.
//  2. ValueChanged on a binary switch forwards to the known switch's
//     mailbox as an observed-state event; a node/switch mismatch logs
//     and is ignored.
//  3. Notification code 6 ("alive") injects Alive once nodes have been
//     queried.
func (t *Tracker) consume(n wireless.Notification) {
	switch n.Type {
	case "DriverReady":
		if n.HomeID != nil {
			id := *n.HomeID
			t.homeID = &id
		}
		return
	case "Notification":
		if n.NotificationCode != nil && *n.NotificationCode == nodeAliveCode && n.NodeID != nil && t.nodesQueried {
			if sw, known := t.switches[*n.NodeID]; known {
				t.send(sw, switchctl.Event{Kind: switchctl.EventAlive})
			}
		}
		return
	case "ControllerCommand":
		if n.ControllerState != nil {
			s := *n.ControllerState
			t.controllerState = &s
		}
		return
	}

	if n.ValueID == nil || n.NodeID == nil || !n.IsBinarySwitch() {
		return
	}

	switch n.Type {
	case "ValueAdded":
		if old, known := t.switches[*n.NodeID]; known {
			if t.log != nil {
				t.log.WithField("node", *n.NodeID).Info("replacing controller for known node")
			}
			if old.cancel != nil {
				old.cancel()
			}
		}
		t.registerSwitch(*n.NodeID, n.ValueID.ID, n.ValueID.Value)
	case "ValueChanged":
		sw, known := t.switches[*n.NodeID]
		if !known {
			return
		}
		if sw.switchID != n.ValueID.ID {
			if t.log != nil {
				t.log.WithFields(logrus.Fields{"node": *n.NodeID, "switch": n.ValueID.ID}).Warn("unknown switch")
			}
			return
		}
		kind := switchctl.EventObservedOff
		if n.ValueID.Value {
			kind = switchctl.EventObservedOn
		}
		t.send(sw, switchctl.Event{Kind: kind})
	}
}

func (t *Tracker) registerSwitch(nodeID, switchID int, initialValue bool) {
	mailbox := make(chan switchctl.Event, 16)
	sw := &trackedSwitch{nodeID: nodeID, switchID: switchID, mailbox: mailbox}
	t.switches[nodeID] = sw
	id := switchID
	t.lastAddedSwitchID = &id

	if t.switchesRoot == nil {
		t.switchesRoot, t.switchesStop = context.WithCancel(context.Background())
	}
	ctx, cancel := context.WithCancel(t.switchesRoot)
	sw.cancel = cancel

	var log *logrus.Entry
	if t.log != nil {
		log = t.log.WithField("node", nodeID)
	}
	ctrl := switchctl.New(nodeID, switchID, mailbox, t.mgr.SetValue, t.manualSecs, t.timing, log)
	go ctrl.Run(ctx)

	kind := switchctl.EventObservedOff
	if initialValue {
		kind = switchctl.EventObservedOn
	}
	t.send(sw, switchctl.Event{Kind: kind})
}

func (t *Tracker) send(sw *trackedSwitch, ev switchctl.Event) {
	select {
	case sw.mailbox <- ev:
	default:
		if t.log != nil {
			t.log.WithField("node", sw.nodeID).Warn("switch mailbox full, dropping event")
		}
	}
}

// WaitForNodes runs the startup handshake: requires home_id is
// currently unset, waits for DriverReady (latching home_id), waits for
// a scan-complete milestone, marks nodes as queried, and injects Alive
// into every switch already known at that point (spec.md §4.4).
//
// Calling it with home_id already latched is a programmer error, not a
// transient condition, so it panics rather than returning an error.
func (t *Tracker) WaitForNodes(ctx context.Context) error {
	if t.homeID != nil {
		panic("tracker: WaitForNodes called with home_id already set")
	}
	deadline := time.Now().Add(defaultWaitTimeout)

	for t.homeID == nil {
		n, ok := t.recvDriverReady(ctx, deadline)
		if !ok {
			return fmt.Errorf("tracker: timed out waiting for DriverReady")
		}
		_ = n
	}

	deadline = time.Now().Add(defaultWaitTimeout)
	for !t.sawScanMilestone(ctx, deadline) {
		if time.Now().After(deadline) {
			return fmt.Errorf("tracker: timed out waiting for node scan to complete")
		}
	}

	t.nodesQueried = true
	for _, sw := range t.switches {
		t.send(sw, switchctl.Event{Kind: switchctl.EventAlive})
	}
	return nil
}

func (t *Tracker) recvDriverReady(ctx context.Context, deadline time.Time) (wireless.Notification, bool) {
	for {
		n, ok := t.recv(ctx, deadline)
		if !ok {
			return wireless.Notification{}, false
		}
		if n.Type == "DriverReady" {
			return n, true
		}
	}
}

func (t *Tracker) sawScanMilestone(ctx context.Context, deadline time.Time) bool {
	n, ok := t.recv(ctx, deadline)
	if !ok {
		return false
	}
	return scanMilestones[n.Type]
}

// WaitForDriverRemoved waits for DriverRemoved, then clears home_id and
// nodes_queried, cancels every controller, and empties the switch map.
func (t *Tracker) WaitForDriverRemoved(ctx context.Context) bool {
	deadline := time.Now().Add(defaultWaitTimeout)
	for {
		n, ok := t.recv(ctx, deadline)
		if !ok {
			return false
		}
		if n.Type == "DriverRemoved" {
			break
		}
	}
	t.homeID = nil
	t.nodesQueried = false
	for _, sw := range t.switches {
		if sw.cancel != nil {
			sw.cancel()
		}
	}
	t.switches = make(map[int]*trackedSwitch)
	return true
}

// WaitForControllerState returns true once the most recently reported
// ControllerCommand state equals state (at once if it already does), or
// false if the default timeout elapses or ctx ends first.
func (t *Tracker) WaitForControllerState(ctx context.Context, state string) bool {
	deadline := time.Now().Add(defaultWaitTimeout)
	for t.controllerState == nil || *t.controllerState != state {
		if _, ok := t.recv(ctx, deadline); !ok {
			return false
		}
	}
	return true
}

// WaitForSwitchAdded blocks up to 15 minutes for a new binary-switch
// ValueAdded, returning the switch_id of the one that was just added —
// not an arbitrary already-known entry from a prior call.
func (t *Tracker) WaitForSwitchAdded(ctx context.Context) (int, bool) {
	t.lastAddedSwitchID = nil
	deadline := time.Now().Add(switchAddedTimeout)
	for t.lastAddedSwitchID == nil {
		if _, ok := t.recv(ctx, deadline); !ok {
			return 0, false
		}
	}
	return *t.lastAddedSwitchID, true
}

// WaitUntil passively drains the queue (applying consume() to every
// entry) until deadline, without any particular predicate — used
// between control-loop ticks.
func (t *Tracker) WaitUntil(ctx context.Context, deadline time.Time) {
	for {
		if _, ok := t.recv(ctx, deadline); !ok {
			return
		}
	}
}

// PublishDesire forwards a desired on/off state to every tracked switch
// controller's mailbox (spec.md §4.5's "desired" input).
func (t *Tracker) PublishDesire(on bool) {
	kind := switchctl.EventDesireOff
	if on {
		kind = switchctl.EventDesireOn
	}
	for _, sw := range t.switches {
		t.send(sw, switchctl.Event{Kind: kind})
	}
}

// HomeID reports the home ID learned from DriverReady, if any.
func (t *Tracker) HomeID() (int, bool) {
	if t.homeID == nil {
		return 0, false
	}
	return *t.homeID, true
}

// SwitchCount reports how many switches are currently tracked.
func (t *Tracker) SwitchCount() int {
	return len(t.switches)
}

// Stop cancels every switch controller goroutine.
func (t *Tracker) Stop() {
	if t.switchesStop != nil {
		t.switchesStop()
	}
}
