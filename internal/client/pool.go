// Package client defines the client-pool boundary the coordinator consumes
// but does not own: "run this task with a connected client bound to player
// P." The coordinator is built against these two interfaces; TCPPool is one
// concrete implementation, grounded on a real device connection manager.
package client

import (
	"context"

	"github.com/arung-agamani/djlink/internal/proto"
)

// Client is a single bound session with one device: send a request message,
// then read back the menu response it produced.
type Client interface {
	Send(ctx context.Context, msg *proto.Message) error
	ReadMenu(ctx context.Context) (*proto.MenuResponse, error)
}

// Pool borrows a connected Client for the duration of fn, bound to device.
// Implementations serialize access per device — at most one in-flight
// request per device's connection.
type Pool interface {
	WithClient(ctx context.Context, device proto.DeviceID, fn func(Client) error) error
}
