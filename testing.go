package fusd

import "github.com/Godzil/fusd/internal/fixtures"

// Provider is a fake provider process for exercising a Broker end to end in
// tests, without needing a real out-of-process daemon. It wraps one of the
// canned fixtures (echo, ring-log, pager, IOCTL-demo) connected over the
// broker's own provider socket.
type Provider struct {
	inner *fixtures.Provider
}

// NewEchoProvider registers an echo device on socketPath: writes land in an
// in-memory buffer at the given offset, reads return whatever's there.
func NewEchoProvider(socketPath, name string) (*Provider, error) {
	p, err := fixtures.NewEchoProvider(socketPath, name)
	if err != nil {
		return nil, err
	}
	return &Provider{inner: p}, nil
}

// NewRingLogProvider registers a device backed by a fixed-size ring buffer:
// writes past capacity wrap and overwrite the oldest bytes.
func NewRingLogProvider(socketPath, name string, capacity int) (*Provider, error) {
	p, err := fixtures.NewRingLogProvider(socketPath, name, capacity)
	if err != nil {
		return nil, err
	}
	return &Provider{inner: p}, nil
}

// NewPagerProvider registers a device that starts not-readable and flips to
// readable once SignalReady is called, for exercising the readiness-diff
// long-poll wake path.
func NewPagerProvider(socketPath, name string) (*Provider, error) {
	p, err := fixtures.NewPagerProvider(socketPath, name)
	if err != nil {
		return nil, err
	}
	return &Provider{inner: p}, nil
}

// NewIoctlDemoProvider registers a device that answers IoctlCapitalize by
// uppercasing its payload in place.
func NewIoctlDemoProvider(socketPath, name string) (*Provider, error) {
	p, err := fixtures.NewIoctlDemoProvider(socketPath, name)
	if err != nil {
		return nil, err
	}
	return &Provider{inner: p}, nil
}

// IoctlCapitalize is the demo command number NewIoctlDemoProvider answers.
const IoctlCapitalize = fixtures.IoctlCapitalize

// Serve answers calls on the provider connection until it closes or an
// error occurs. Meant to be run in its own goroutine.
func (p *Provider) Serve() error {
	return p.inner.Serve()
}

// Close closes the provider's connection.
func (p *Provider) Close() error {
	return p.inner.Close()
}

// SignalReady flips a pager provider to readable. No-op on any other
// provider kind.
func (p *Provider) SignalReady() {
	p.inner.SignalReady()
}
