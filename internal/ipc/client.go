package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const (
	serviceName = "Camwatch"
	dialTimeout = 2 * time.Second
)

// Client is a JSON-RPC connection to the daemon socket. It is not safe to
// issue calls after Close.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close hangs up. Calls blocked in Events return an error.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func call[T any](c *Client, method string, req any) (*T, error) {
	resp := new(T)
	if err := c.rpc.Call(serviceName+"."+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Devices lists attached cameras.
func (c *Client) Devices() (*DevicesResponse, error) {
	return call[DevicesResponse](c, "Devices", DevicesRequest{})
}

func (c *Client) Device(device string) (*DeviceResponse, error) {
	return call[DeviceResponse](c, "Device", DeviceRequest{Device: device})
}

// Files returns the cached file listing of a camera.
func (c *Client) Files(device string) (*FilesResponse, error) {
	return call[FilesResponse](c, "Files", DeviceRequest{Device: device})
}

// Transfer stages a copy (move=false) or move for confirmation.
func (c *Client) Transfer(device string, move bool) (*ActionResponse, error) {
	return call[ActionResponse](c, "Transfer", TransferRequest{Device: device, Move: move})
}

// Confirm starts the staged transfer.
func (c *Client) Confirm(device string) (*ActionResponse, error) {
	return call[ActionResponse](c, "Confirm", DeviceRequest{Device: device})
}

// Decline abandons the staged transfer.
func (c *Client) Decline(device string) (*ActionResponse, error) {
	return call[ActionResponse](c, "Decline", DeviceRequest{Device: device})
}

// Cancel stops a running transfer.
func (c *Client) Cancel(device string) (*ActionResponse, error) {
	return call[ActionResponse](c, "Cancel", DeviceRequest{Device: device})
}

// Ack acknowledges a finished or failed camera and re-lists its files.
func (c *Client) Ack(device string) (*ActionResponse, error) {
	return call[ActionResponse](c, "Ack", DeviceRequest{Device: device})
}

// Refresh re-enumerates cameras.
func (c *Client) Refresh() (*RefreshResponse, error) {
	return call[RefreshResponse](c, "Refresh", RefreshRequest{})
}

func (c *Client) DestinationGet(device string) (*DestinationResponse, error) {
	return call[DestinationResponse](c, "DestinationGet", DeviceRequest{Device: device})
}

// DestinationSet stores a destination for the camera's model.
func (c *Client) DestinationSet(device, path string) (*DestinationResponse, error) {
	return call[DestinationResponse](c, "DestinationSet", DestinationSetRequest{Device: device, Path: path})
}

// History returns recent transfer records, newest first.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	return call[HistoryResponse](c, "History", HistoryRequest{Limit: limit})
}

// Events pages through the daemon event log, optionally blocking for up to
// req.WaitMillis until something new arrives.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	return call[EventsResponse](c, "Events", req)
}

// TestNotification asks the daemon to send an ntfy test message.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
