package agent

import "sync/atomic"

// Status is the coarse state of a session.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusStarting      Status = "starting"
	StatusIdle          Status = "idle"
	StatusThinking      Status = "thinking"
	StatusResponding    Status = "responding"
	StatusApplyingPatch Status = "applying-patch"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
)

// busy reports whether the status means the agent is working.
func (s Status) busy() bool {
	switch s {
	case StatusThinking, StatusResponding, StatusApplyingPatch, StatusStarting:
		return true
	}
	return false
}

// statusCell holds the current status and reports transitions.
type statusCell struct {
	v        atomic.Value
	onChange func(Status)
}

func newStatusCell(onChange func(Status)) *statusCell {
	c := &statusCell{onChange: onChange}
	c.v.Store(StatusDisconnected)
	return c
}

func (c *statusCell) Load() Status {
	return c.v.Load().(Status)
}

func (c *statusCell) Set(s Status) {
	prev := c.v.Swap(s).(Status)
	if prev != s && c.onChange != nil {
		c.onChange(s)
	}
}
