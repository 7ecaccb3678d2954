package wireless

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// command is the outbound frame written to the controller over the
// serial link.
type command struct {
	Op           string `json:"op"`
	Device       string `json:"device,omitempty"`
	HomeID       int    `json:"homeId,omitempty"`
	DoSecurity   bool   `json:"doSecurity,omitempty"`
	SwitchID     int    `json:"switchId,omitempty"`
	Value        bool   `json:"value,omitempty"`
	Milliseconds int    `json:"milliseconds,omitempty"`
	Intervals    bool   `json:"intervalBetweenPolls,omitempty"`
	ValueID      int    `json:"valueId,omitempty"`
}

// SerialManager implements Manager over a serial link to the wireless
// controller. Because the controller's real wire protocol is out of
// scope for this system (spec.md §1, §6), it speaks a minimal
// newline-delimited JSON framing: one Notification object per inbound
// line, one command object per outbound line.
type SerialManager struct {
	port *serial.Port
	log  *logrus.Entry

	mu      sync.Mutex
	handler NotificationHandler

	closeOnce sync.Once
	done      chan struct{}
}

// OpenSerialManager opens device (e.g. "/dev/ttyACM0") and returns a
// Manager backed by it.
func OpenSerialManager(device string, log *logrus.Entry) (*SerialManager, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: 115200})
	if err != nil {
		return nil, fmt.Errorf("wireless: open %s: %w", device, err)
	}
	m := &SerialManager{port: port, log: log, done: make(chan struct{})}
	return m, nil
}

// SetNotificationHandler registers h and starts the background reader —
// the "wireless stack's own worker thread" that may invoke h from a
// goroutine other than the caller's.
func (m *SerialManager) SetNotificationHandler(h NotificationHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	go m.readLoop()
}

func (m *SerialManager) readLoop() {
	scanner := bufio.NewScanner(m.port)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			if m.log != nil {
				m.log.WithError(err).Warn("wireless: malformed notification")
			}
			continue
		}
		m.mu.Lock()
		h := m.handler
		m.mu.Unlock()
		if h != nil {
			h(n)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF && m.log != nil {
		m.log.WithError(err).Warn("wireless: serial read loop ended")
	}
	close(m.done)
}

func (m *SerialManager) send(c command) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = m.port.Write(b)
	return err
}

func (m *SerialManager) AddDriver(device string) error {
	return m.send(command{Op: "addDriver", Device: device})
}

func (m *SerialManager) RemoveDriver() error {
	return m.send(command{Op: "removeDriver"})
}

func (m *SerialManager) ResetController(homeID int) error {
	return m.send(command{Op: "resetController", HomeID: homeID})
}

func (m *SerialManager) AddNode(homeID int, doSecurity bool) error {
	return m.send(command{Op: "addNode", HomeID: homeID, DoSecurity: doSecurity})
}

func (m *SerialManager) SetValue(switchID int, on bool) error {
	return m.send(command{Op: "setValue", SwitchID: switchID, Value: on})
}

func (m *SerialManager) SetPollInterval(milliseconds int, intervalBetweenPolls bool) error {
	return m.send(command{Op: "setPollInterval", Milliseconds: milliseconds, Intervals: intervalBetweenPolls})
}

func (m *SerialManager) EnablePollPerValue(valueID int) error {
	return m.send(command{Op: "enablePoll", ValueID: valueID})
}

func (m *SerialManager) Destroy() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.port.Close()
	})
	return err
}
