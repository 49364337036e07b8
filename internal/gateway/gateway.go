package gateway

import "context"

// Status is the connection state of the underlying messaging channel.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// Sender dispatches one text message through the messaging channel.
// Implementations must bound the call with a timeout; callers treat a
// timeout like any other send error.
type Sender interface {
	SendText(ctx context.Context, destination, body string) (deliveryID string, err error)
}

// StatusProvider reports the channel's current connection state.
type StatusProvider interface {
	ConnectionState() Status
}
