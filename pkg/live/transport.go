package live

import (
	"context"

	"github.com/recera/lcars/pkg/adapter"
)

// Transport exports handlers on a Server and dials remote ones
type Transport struct {
	server *Server
}

// NewTransport returns a transport exporting names on server
func NewTransport(server *Server) *Transport {
	return &Transport{server: server}
}

// Export publishes h under name
func (t *Transport) Export(name string, h adapter.Handler) error {
	return t.server.Handle(name, h)
}

// Unexport removes name and drops connections to it
func (t *Transport) Unexport(name string) error {
	t.server.Remove(name)
	return nil
}

// Lookup dials the name behind url
func (t *Transport) Lookup(ctx context.Context, url string) (adapter.Peer, error) {
	c, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}
