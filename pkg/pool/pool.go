package pool

import (
	"fmt"
	"strings"
	"sync"

	"testhive/pkg/models"
)

// AgentSpec seeds one agent and its devices at startup.
type AgentSpec struct {
	ID      string
	Devices []string
}

// DefaultSpec is the documented five-agent, fifteen-device composition.
// Insertion order matters: FindAvailable tie-breaks on it.
const DefaultSpec = "agent-1:emulator-1,device-1;" +
	"agent-2:emulator-2,device-2,browserstack-1,browserstack-2;" +
	"agent-3:emulator-3,device-3,browserstack-3;" +
	"agent-4:emulator-4,device-4;" +
	"agent-5:emulator-5,device-5,browserstack-4,browserstack-5"

// ParseSpec parses "agent-1:emulator-1,device-1;agent-2:..." into agent
// specs. Device targets derive from the id prefix (emulator-*, device-*,
// browserstack-*).
func ParseSpec(spec string) ([]AgentSpec, error) {
	var out []AgentSpec
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed pool spec entry: %q", entry)
		}
		s := AgentSpec{ID: strings.TrimSpace(parts[0])}
		for _, dev := range strings.Split(parts[1], ",") {
			dev = strings.TrimSpace(dev)
			if dev == "" {
				continue
			}
			if _, err := deviceTarget(dev); err != nil {
				return nil, err
			}
			s.Devices = append(s.Devices, dev)
		}
		if len(s.Devices) == 0 {
			return nil, fmt.Errorf("agent %s has no devices", s.ID)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty pool spec")
	}
	return out, nil
}

func deviceTarget(deviceID string) (models.Target, error) {
	idx := strings.LastIndex(deviceID, "-")
	if idx <= 0 {
		return "", fmt.Errorf("malformed device id: %q", deviceID)
	}
	t := models.Target(deviceID[:idx])
	if !models.ValidTarget(t) {
		return "", fmt.Errorf("unknown device target in id %q", deviceID)
	}
	return t, nil
}

// Pool is the in-memory registry of agents and their devices. State is
// process-local and never persisted; crash recovery resets assignments
// instead.
type Pool struct {
	mu     sync.Mutex
	agents []*models.Agent
}

// New seeds a pool from agent specs, preserving insertion order.
func New(specs []AgentSpec) (*Pool, error) {
	p := &Pool{}
	for _, s := range specs {
		agent := &models.Agent{ID: s.ID, Status: models.AgentOnline}
		for _, dev := range s.Devices {
			target, err := deviceTarget(dev)
			if err != nil {
				return nil, err
			}
			agent.Devices = append(agent.Devices, &models.Device{
				ID:      dev,
				Type:    target,
				Target:  target,
				Status:  models.DeviceAvailable,
				AgentID: s.ID,
			})
		}
		p.agents = append(p.agents, agent)
	}
	return p, nil
}

// FindAvailable returns the first online agent with an available device of
// the requested target, in insertion order. The device is not reserved;
// call Acquire once the jobs are locked.
func (p *Pool) FindAvailable(target models.Target) (*models.Agent, *models.Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, agent := range p.agents {
		if agent.Status == models.AgentOffline {
			continue
		}
		for _, dev := range agent.Devices {
			if dev.Status == models.DeviceAvailable && dev.Target == target {
				return agent, dev, true
			}
		}
	}
	return nil, nil, false
}

// FindDevice resolves a previously bound agent/device pair, used when
// resuming a group that already holds scheduled jobs.
func (p *Pool) FindDevice(agentID, deviceID string) (*models.Agent, *models.Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, agent := range p.agents {
		if agent.ID != agentID {
			continue
		}
		for _, dev := range agent.Devices {
			if dev.ID == deviceID {
				return agent, dev, true
			}
		}
	}
	return nil, nil, false
}

// Acquire marks the device busy, records its assigned jobs, and recomputes
// the owning agent's status.
func (p *Pool) Acquire(device *models.Device, jobIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	device.Status = models.DeviceBusy
	device.CurrentJobs = append([]string(nil), jobIDs...)
	p.recomputeAgent(device.AgentID)
}

// Release frees the device, clears its job list, and recomputes the owning
// agent's status.
func (p *Pool) Release(device *models.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	device.Status = models.DeviceAvailable
	device.CurrentJobs = nil
	p.recomputeAgent(device.AgentID)
}

func (p *Pool) recomputeAgent(agentID string) {
	for _, agent := range p.agents {
		if agent.ID == agentID {
			agent.RecomputeStatus()
			return
		}
	}
}

// Devices returns a flat snapshot of every device for the read API.
func (p *Pool) Devices() []models.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Device
	for _, agent := range p.agents {
		for _, dev := range agent.Devices {
			snap := *dev
			snap.CurrentJobs = append([]string(nil), dev.CurrentJobs...)
			out = append(out, snap)
		}
	}
	return out
}

// AgentCount returns the number of registered agents.
func (p *Pool) AgentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// DeviceCount returns the total number of devices.
func (p *Pool) DeviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, agent := range p.agents {
		n += len(agent.Devices)
	}
	return n
}

// RunningJobs returns the number of jobs currently assigned to busy devices.
func (p *Pool) RunningJobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, agent := range p.agents {
		for _, dev := range agent.Devices {
			n += len(dev.CurrentJobs)
		}
	}
	return n
}

// BusyDevices returns the number of devices currently acquired.
func (p *Pool) BusyDevices() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, agent := range p.agents {
		for _, dev := range agent.Devices {
			if dev.Status == models.DeviceBusy {
				n++
			}
		}
	}
	return n
}
