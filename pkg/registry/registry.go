// SPDX-License-Identifier: Apache-2.0

// Package registry tracks which field-bus devices have been observed and
// which of their measurements were already announced for discovery. The
// registry is process-lifetime state: devices are never forgotten except
// through an explicit Clear, which forces a full batch re-announcement.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ehstools/nasabridge/pkg/nasa"
)

// Device is a snapshot of one known device.
type Device struct {
	Addr         nasa.Address
	Measurements []string // sorted
	LastSeen     time.Time
}

type deviceState struct {
	announced map[string]struct{}
	lastSeen  time.Time
}

// Registry is safe for concurrent use; in the bridge it is mutated by the
// ingest path and read by republish triggers arriving from the telemetry
// side.
type Registry struct {
	mu      sync.Mutex
	devices map[nasa.Address]*deviceState
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[nasa.Address]*deviceState)}
}

// Observe records that a valid packet from addr was seen. Returns true when
// this is the first observation of the device.
func (r *Registry) Observe(addr nasa.Address, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[addr]
	if !ok {
		r.devices[addr] = &deviceState{
			announced: make(map[string]struct{}),
			lastSeen:  now,
		}
		return true
	}
	dev.lastSeen = now
	return false
}

// Record marks a measurement name as announced for addr. Returns true when
// the name was not announced before, i.e. a discovery update is due.
func (r *Registry) Record(addr nasa.Address, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[addr]
	if !ok {
		dev = &deviceState{announced: make(map[string]struct{})}
		r.devices[addr] = dev
	}
	if _, seen := dev.announced[name]; seen {
		return false
	}
	dev.announced[name] = struct{}{}
	return true
}

// Restore seeds the registry from a previously persisted snapshot (the
// retained known-devices topic), so a restart does not re-announce
// everything.
func (r *Registry) Restore(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		dev, ok := r.devices[d.Addr]
		if !ok {
			dev = &deviceState{announced: make(map[string]struct{})}
			r.devices[d.Addr] = dev
		}
		for _, name := range d.Measurements {
			dev.announced[name] = struct{}{}
		}
	}
}

// Snapshot returns all known devices with their announced measurements in
// deterministic order.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.devices))
	for addr, dev := range r.devices {
		names := make([]string, 0, len(dev.announced))
		for name := range dev.announced {
			names = append(names, name)
		}
		sort.Strings(names)
		out = append(out, Device{Addr: addr, Measurements: names, LastSeen: dev.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Addr.ID() < out[j].Addr.ID()
	})
	return out
}

// Device returns the snapshot for a single address.
func (r *Registry) Device(addr nasa.Address) (Device, bool) {
	for _, d := range r.Snapshot() {
		if d.Addr == addr {
			return d, true
		}
	}
	return Device{}, false
}

// Clear forgets every device and announcement at once. The next packet from
// each device re-walks the Unseen to Known transition.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[nasa.Address]*deviceState)
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
