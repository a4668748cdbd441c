package models

// DeviceStatus is the availability of a single execution slot.
type DeviceStatus string

const (
	DeviceAvailable DeviceStatus = "available"
	DeviceBusy      DeviceStatus = "busy"
)

// AgentStatus is the aggregate state of a worker agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Device is a capability-typed execution slot owned by exactly one agent.
// AgentID is a lookup key, not a pointer; agent status is recomputed from
// its devices on every mutation.
type Device struct {
	ID          string       `json:"id"`
	Type        Target       `json:"type"`
	Target      Target       `json:"target"`
	Status      DeviceStatus `json:"status"`
	AgentID     string       `json:"agent_id"`
	CurrentJobs []string     `json:"current_jobs"`
}

// Agent is a worker process exposing one or more devices.
type Agent struct {
	ID      string      `json:"id"`
	Status  AgentStatus `json:"status"`
	Devices []*Device   `json:"devices"`
}

// RecomputeStatus sets the agent busy iff every owned device is busy.
// Offline is externally signaled and never overwritten here.
func (a *Agent) RecomputeStatus() {
	if a.Status == AgentOffline {
		return
	}
	for _, d := range a.Devices {
		if d.Status == DeviceAvailable {
			a.Status = AgentOnline
			return
		}
	}
	a.Status = AgentBusy
}
