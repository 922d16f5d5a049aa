package ipc

import (
	"camwatch/internal/daemon"
	"camwatch/internal/gphoto"
	"camwatch/internal/settings"
)

// Status mirrors the daemon status DTO for IPC callers.
type Status = daemon.Status

// DeviceView is a camera snapshot plus its rendered presentation view.
type DeviceView = daemon.DeviceView

// Event is a presentation event from the daemon's event hub.
type Event = daemon.Event

// File describes one file on a camera.
type File = gphoto.File

// TransferRecord is one row of transfer history.
type TransferRecord = settings.TransferRecord

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status.
type StatusResponse struct {
	Status Status `json:"status"`
}

// DevicesRequest lists attached cameras.
type DevicesRequest struct{}

// DevicesResponse contains the attached cameras in attach order.
type DevicesResponse struct {
	Devices []DeviceView `json:"devices"`
}

// DeviceRequest addresses a single camera by port path ("usb:001,004" or
// "001,004").
type DeviceRequest struct {
	Device string `json:"device"`
}

// DeviceResponse contains one camera.
type DeviceResponse struct {
	Device DeviceView `json:"device"`
}

// FilesResponse contains the cached listing of a camera.
type FilesResponse struct {
	Device string `json:"device"`
	Files  []File `json:"files"`
}

// TransferRequest asks the daemon to stage a copy or move for confirmation.
type TransferRequest struct {
	Device string `json:"device"`
	Move   bool   `json:"move"`
}

// ActionResponse reports an accepted device action.
type ActionResponse struct {
	Device string `json:"device"`
	Action string `json:"action"`
	JobID  string `json:"job_id,omitempty"`
	State  string `json:"state"`
}

// RefreshRequest re-enumerates cameras.
type RefreshRequest struct{}

// RefreshResponse reports the number of attached cameras after a refresh.
type RefreshResponse struct {
	Devices int `json:"devices"`
}

// DestinationSetRequest stores a destination for a camera model.
type DestinationSetRequest struct {
	Device string `json:"device"`
	Path   string `json:"path"`
}

// DestinationResponse reports the resolved destination of a camera.
type DestinationResponse struct {
	Device string `json:"device"`
	Path   string `json:"path"`
}

// HistoryRequest limits the number of returned history rows.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse contains transfer history, newest first.
type HistoryResponse struct {
	Records []TransferRecord `json:"records"`
}

// EventsRequest polls the event hub. WaitMillis > 0 blocks until an event
// arrives or the wait elapses.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_millis"`
}

// EventsResponse contains a page of events and the cursor to resume from.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse describes the outcome of a notification test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
