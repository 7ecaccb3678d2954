package wireless

import "sync"

// FakeManager is an in-memory Manager used by tests in place of a real
// wireless stack (spec.md §9).
type FakeManager struct {
	mu      sync.Mutex
	handler NotificationHandler

	SetValueCalls []SetValueCall
	AddNodeCalls  []AddNodeCall
	Destroyed     bool
}

// SetValueCall records a single SetValue invocation.
type SetValueCall struct {
	SwitchID int
	Value    bool
}

// AddNodeCall records a single AddNode invocation.
type AddNodeCall struct {
	HomeID     int
	DoSecurity bool
}

func NewFakeManager() *FakeManager {
	return &FakeManager{}
}

func (f *FakeManager) SetNotificationHandler(h NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Emit delivers n to the registered handler, simulating the wireless
// stack's worker thread.
func (f *FakeManager) Emit(n Notification) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(n)
	}
}

func (f *FakeManager) AddDriver(device string) error { return nil }
func (f *FakeManager) RemoveDriver() error            { return nil }
func (f *FakeManager) ResetController(homeID int) error {
	return nil
}

func (f *FakeManager) AddNode(homeID int, doSecurity bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddNodeCalls = append(f.AddNodeCalls, AddNodeCall{HomeID: homeID, DoSecurity: doSecurity})
	return nil
}

func (f *FakeManager) SetValue(switchID int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetValueCalls = append(f.SetValueCalls, SetValueCall{SwitchID: switchID, Value: on})
	return nil
}

func (f *FakeManager) SetPollInterval(milliseconds int, intervalBetweenPolls bool) error {
	return nil
}

func (f *FakeManager) EnablePollPerValue(valueID int) error { return nil }

func (f *FakeManager) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = true
	return nil
}
