package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/proto"
)

// AddressResolver maps a device number to the host:port its query service
// listens on. Supplied by the discovery layer; the pool itself never
// browses the network.
type AddressResolver interface {
	Address(device proto.DeviceID) (string, bool)
}

// TCPPool is a Pool backed by one long-lived TCP connection per device. A
// connection that fails mid-session is dropped and redialed by a background
// sweep on a retry ticker (or eagerly by the next WithClient call, whichever
// comes first). Access to a device's connection is serialized by a
// per-device mutex, so at most one request is in flight on it at a time.
type TCPPool struct {
	resolver    AddressResolver
	dialTimeout time.Duration
	retryEvery  time.Duration

	mu    sync.Mutex
	conns map[proto.DeviceID]*deviceConn

	done      chan struct{}
	closeOnce sync.Once
}

// NewTCPPool builds a pool that resolves device addresses via resolver and
// starts its reconnect sweep. dialTimeout bounds each connection attempt;
// retryEvery paces the sweep's redial of dropped connections. Zero values
// fall back to 3s / 2s. CloseAll stops the sweep.
func NewTCPPool(resolver AddressResolver, dialTimeout, retryEvery time.Duration) *TCPPool {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	if retryEvery <= 0 {
		retryEvery = 2 * time.Second
	}
	p := &TCPPool{
		resolver:    resolver,
		dialTimeout: dialTimeout,
		retryEvery:  retryEvery,
		conns:       make(map[proto.DeviceID]*deviceConn),
		done:        make(chan struct{}),
	}
	go p.reconnectLoop()
	return p
}

// reconnectLoop periodically redials devices whose connection has been
// dropped, so a player that rebooted mid-set is picked back up without
// waiting for the next query against it.
func (p *TCPPool) reconnectLoop() {
	ticker := time.NewTicker(p.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.redialDropped()
		}
	}
}

func (p *TCPPool) redialDropped() {
	p.mu.Lock()
	devices := make([]proto.DeviceID, 0, len(p.conns))
	for device := range p.conns {
		devices = append(devices, device)
	}
	p.mu.Unlock()

	for _, device := range devices {
		if _, announced := p.resolver.Address(device); !announced {
			continue
		}
		dc := p.deviceConnFor(device)
		dc.mu.Lock()
		if dc.conn == nil {
			ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
			if conn, err := p.connect(ctx, device); err == nil {
				slog.Info("reconnected to device", "device", device)
				dc.conn = conn
			}
			cancel()
		}
		dc.mu.Unlock()
	}
}

type deviceConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// WithClient borrows the connection for device, reconnecting it if
// necessary, and runs fn with exclusive access to it.
func (p *TCPPool) WithClient(ctx context.Context, device proto.DeviceID, fn func(Client) error) error {
	dc := p.deviceConnFor(device)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.conn == nil {
		conn, err := p.connect(ctx, device)
		if err != nil {
			return err
		}
		dc.conn = conn
	}

	c := &tcpClient{conn: dc.conn}
	err := fn(c)
	if err != nil {
		slog.Warn("client session failed, dropping connection", "device", device, "error", err)
		dc.conn.Close()
		dc.conn = nil
	}
	return err
}

func (p *TCPPool) deviceConnFor(device proto.DeviceID) *deviceConn {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, ok := p.conns[device]
	if !ok {
		dc = &deviceConn{}
		p.conns[device] = dc
	}
	return dc
}

func (p *TCPPool) connect(ctx context.Context, device proto.DeviceID) (net.Conn, error) {
	addr, ok := p.resolver.Address(device)
	if !ok {
		return nil, fmt.Errorf("%w: device %d is not currently announced", cdjerr.IO, device)
	}

	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial device %d at %s: %v", cdjerr.IO, device, addr, err)
	}
	return conn, nil
}

// CloseAll stops the reconnect sweep and drops every open connection.
// Called on coordinator stop; safe to call more than once.
func (p *TCPPool) CloseAll() {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for device, dc := range p.conns {
		dc.mu.Lock()
		if dc.conn != nil {
			dc.conn.Close()
			dc.conn = nil
		}
		dc.mu.Unlock()
		delete(p.conns, device)
	}
}

// tcpClient is the Client bound to one device's connection for the
// duration of one WithClient call.
type tcpClient struct {
	conn net.Conn
}

func (c *tcpClient) Send(ctx context.Context, msg *proto.Message) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	if err := proto.WriteMessage(c.conn, msg); err != nil {
		return fmt.Errorf("%w: send message: %v", cdjerr.IO, err)
	}
	return nil
}

func (c *tcpClient) ReadMenu(ctx context.Context) (*proto.MenuResponse, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	}
	menu, err := proto.ReadMenu(c.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read menu response: %v", cdjerr.IO, err)
	}
	return menu, nil
}
