package resession

import (
	"net/http"
)

// Transport is the underlying session handle the guard delegates to. It is
// the only contract the reset machinery needs from an HTTP client: issue a
// request, and release resources when discarded.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
	Close() error
}

// Factory builds a fresh Transport. The same factory is used for the first
// session and for every replacement, so every session a guard ever holds is
// configured identically except for being a fresh connection.
type Factory func() (Transport, error)

// httpTransport adapts an *http.Client to the Transport interface.
type httpTransport struct {
	client *http.Client
}

// WrapClient adapts an *http.Client into a Transport. Close drains the
// client's idle connection pool; http.Client has no harder teardown.
func WrapClient(client *http.Client) Transport {
	return &httpTransport{client: client}
}

func (t *httpTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
