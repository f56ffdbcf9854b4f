package adapter

import (
	"context"
	"fmt"
	"sync"
)

// Network is an in-process stand-in for a set of hosts. Transports
// created from it see each other's exported names.
type Network struct {
	mu      sync.RWMutex
	hosts   map[string]bool
	exports map[string]Handler
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{
		hosts:   make(map[string]bool),
		exports: make(map[string]Handler),
	}
}

// SetHostUp marks a host reachable or not
func (n *Network) SetHostUp(host string, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hosts[host] = up
}

func (n *Network) handler(url string) (Handler, error) {
	host, _, _, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.hosts[host] {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, host)
	}
	h, ok := n.exports[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, url)
	}
	return h, nil
}

// Transport returns a transport exporting names on host:port
func (n *Network) Transport(host string, port int) *MemoryTransport {
	n.SetHostUp(host, true)
	return &MemoryTransport{net: n, host: host, port: port}
}

// MemoryTransport is a Transport on a Network
type MemoryTransport struct {
	net  *Network
	host string
	port int
}

// Export publishes h under name on the transport's host
func (t *MemoryTransport) Export(name string, h Handler) error {
	url := URL(t.host, t.port, name)
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if _, dup := t.net.exports[url]; dup {
		return fmt.Errorf("adapter: %s already exported", url)
	}
	t.net.exports[url] = h
	return nil
}

// Unexport removes name
func (t *MemoryTransport) Unexport(name string) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	delete(t.net.exports, URL(t.host, t.port, name))
	return nil
}

// Lookup returns a peer for url if it is currently exported
func (t *MemoryTransport) Lookup(ctx context.Context, url string) (Peer, error) {
	if _, err := t.net.handler(url); err != nil {
		return nil, err
	}
	return &memoryPeer{net: t.net, url: url}, nil
}

type memoryPeer struct {
	net *Network
	url string
}

func (p *memoryPeer) Call(ctx context.Context, method string, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := p.net.handler(p.url)
	if err != nil {
		return nil, &CallError{Method: method, Err: err}
	}
	return h.Serve(ctx, method, body)
}

func (p *memoryPeer) Close() error { return nil }
