package fixtures

import "github.com/Godzil/fusd/internal/wire"

// NewPagerProvider builds a provider that starts not-readable and flips to
// readable after SignalReady is called, answering a readiness-diff request with
// the new bits. Used to exercise the long-poll readiness protocol's wake
// path.
func NewPagerProvider(socketPath, name string) (*Provider, error) {
	p, err := Dial(socketPath, name, "fusd", "fusd/"+name, 0666)
	if err != nil {
		return nil, err
	}

	ready := make(chan struct{})

	p.Handlers[wire.SubOpen] = func(req *wire.Message) (int64, []byte) { return 0, nil }
	p.Handlers[wire.SubClose] = func(req *wire.Message) (int64, []byte) { return 0, nil }
	p.Handlers[wire.SubPollDiff] = func(req *wire.Message) (int64, []byte) {
		<-ready // blocks until SignalReady, modeling a provider's long-poll handler
		return int64(pollIn), nil
	}

	p.signal = func() { close(ready) }
	return p, nil
}

const pollIn = 0x1 // matches unix.POLLIN; duplicated locally to avoid importing x/sys here

// SignalReady flips the pager provider to readable. No-op if the provider
// wasn't built by NewPagerProvider.
func (p *Provider) SignalReady() {
	if p.signal != nil {
		p.signal()
	}
}
