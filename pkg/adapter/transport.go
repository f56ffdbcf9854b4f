// Package adapter pairs a panel running on one host with a screen on
// another. Each side runs an Adapter that exports a handler under a
// well-known name, looks up its peer and keeps checking it with
// heartbeats. The transport is pluggable.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Remote method names
const (
	MethodPing     = "ping"
	MethodUpdate   = "update"
	MethodReset    = "reset"
	MethodSetPanel = "setPanel"
	MethodServe    = "serve"
	MethodDestroy  = "destroy"
)

var (
	// ErrNotBound means the peer host answered but nothing is exported under the name
	ErrNotBound = errors.New("adapter: name not bound")
	// ErrUnreachable means the peer host could not be contacted
	ErrUnreachable = errors.New("adapter: host unreachable")
	// ErrInvalidURL is returned for malformed adapter URLs
	ErrInvalidURL = errors.New("adapter: invalid url")
	// ErrUnknownMethod is returned by handlers for methods they do not serve
	ErrUnknownMethod = errors.New("adapter: unknown method")
)

// CallError wraps a failed remote call
type CallError struct {
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("adapter: call %s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Handler serves remote calls for an exported name
type Handler interface {
	Serve(ctx context.Context, method string, body []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, method string, body []byte) ([]byte, error)

// Serve calls f
func (f HandlerFunc) Serve(ctx context.Context, method string, body []byte) ([]byte, error) {
	return f(ctx, method, body)
}

// Peer is a handle on a remote exported name
type Peer interface {
	Call(ctx context.Context, method string, body []byte) ([]byte, error)
	Close() error
}

// Transport publishes handlers by name and finds remote ones by URL
type Transport interface {
	Export(name string, h Handler) error
	Unexport(name string) error
	Lookup(ctx context.Context, url string) (Peer, error)
}

// Role is the side of a panel/screen pair an adapter serves
type Role uint8

const (
	// RoleScreen runs next to the display and receives snapshots
	RoleScreen Role = iota
	// RolePanel runs next to the panel logic and sends snapshots
	RolePanel
)

func (r Role) String() string {
	if r == RolePanel {
		return "PanelAdapter"
	}
	return "ScreenAdapter"
}

// Peer returns the role on the other side of the pair
func (r Role) Peer() Role {
	if r == RolePanel {
		return RoleScreen
	}
	return RolePanel
}

// Locator supplies the naming scheme shared by every process of a deployment
type Locator struct {
	HostName    string
	Port        int
	ServiceName string
}

// AdapterName returns the exported name of an adapter with role r paired
// with peerHost, e.g. "lcars.ScreenAdapter.BRIDGE"
func (l Locator) AdapterName(r Role, peerHost string) string {
	return l.ServiceName + "." + r.String() + "." + strings.ToUpper(peerHost)
}

// ServerName returns the exported name of the registry
func (l Locator) ServerName() string {
	return l.ServiceName + ".Server"
}

// URL returns the location of name on host, e.g. "//bridge:1099/lcars.Server"
func URL(host string, port int, name string) string {
	return "//" + host + ":" + strconv.Itoa(port) + "/" + name
}

// ParseURL splits an adapter URL into its parts
func ParseURL(url string) (host string, port int, name string, err error) {
	rest, ok := strings.CutPrefix(url, "//")
	if !ok {
		return "", 0, "", fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	addr, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		return "", 0, "", fmt.Errorf("%w: %q has no name", ErrInvalidURL, url)
	}
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok || host == "" {
		return "", 0, "", fmt.Errorf("%w: %q has no host:port", ErrInvalidURL, url)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, "", fmt.Errorf("%w: %q has a bad port", ErrInvalidURL, url)
	}
	return host, port, name, nil
}
