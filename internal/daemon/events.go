package daemon

import (
	"context"
	"sync"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/presentation"
)

// Event types published to presentation clients.
const (
	EventDeviceAdded    = "device_added"
	EventDeviceRemoving = "device_removing"
	EventDevicesRemoved = "devices_removed"
	EventStateChanged   = "state_changed"
)

// Event is one presentation notification.
type Event struct {
	Sequence  uint64             `json:"seq"`
	Timestamp time.Time          `json:"ts"`
	Type      string             `json:"type"`
	Device    string             `json:"device,omitempty"`
	Name      string             `json:"name,omitempty"`
	State     string             `json:"state,omitempty"`
	Payload   *device.Payload    `json:"payload,omitempty"`
	View      *presentation.View `json:"view,omitempty"`
	Reset     bool               `json:"reset,omitempty"`
	Remaining int                `json:"remaining"`
}

// eventHub buffers recent events and wakes waiters when new ones arrive.
// The registry and device callbacks run on the dispatch loop, so publish never
// blocks on readers.
type eventHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	now      func() time.Time
	count    func() int
}

func newEventHub(capacity int) *eventHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &eventHub{capacity: capacity, now: time.Now}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// DeviceAdded implements registry.Observer.
func (h *eventHub) DeviceAdded(dev *device.Device) {
	h.publish(h.deviceEvent(EventDeviceAdded, dev, false))
}

// DeviceAboutToBeRemoved implements registry.Observer.
func (h *eventHub) DeviceAboutToBeRemoved(dev *device.Device) {
	h.publish(h.deviceEvent(EventDeviceRemoving, dev, false))
}

// DevicesRemoved implements registry.Observer.
func (h *eventHub) DevicesRemoved(remaining int) {
	h.publish(Event{Type: EventDevicesRemoved, Remaining: remaining})
}

// DeviceStateChanged implements device.Listener.
func (h *eventHub) DeviceStateChanged(dev *device.Device, change device.StateChange) {
	evt := h.deviceEvent(EventStateChanged, dev, change.Reset)
	evt.State = change.State.String()
	payload := change.Payload
	evt.Payload = &payload
	view := presentation.Render(change.State, change.Payload, dev.FileCount())
	evt.View = &view
	h.publish(evt)
}

func (h *eventHub) deviceEvent(kind string, dev *device.Device, reset bool) Event {
	evt := Event{
		Type:  kind,
		Reset: reset,
	}
	if dev != nil {
		evt.Device = dev.ID().String()
		evt.Name = dev.Name()
		evt.State = dev.State().String()
	}
	if h.count != nil {
		evt.Remaining = h.count()
	}
	return evt
}

func (h *eventHub) publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns events with a sequence greater than since along with the
// cursor to pass next time. When wait is set it blocks until at least one
// event is available or ctx ends.
func (h *eventHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stopWake := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Cursor returns the latest assigned sequence.
func (h *eventHub) Cursor() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

func (h *eventHub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	start := len(h.buffer)
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			start = i
			break
		}
	}
	if start == len(h.buffer) {
		return nil, h.nextSeq
	}
	end := min(start+limit, len(h.buffer))
	out := make([]Event, end-start)
	copy(out, h.buffer[start:end])
	// A partial page resumes after its last event, not at the head.
	return out, out[len(out)-1].Sequence
}
