// Command fusdctl drives one of the bundled demo providers against a
// running fusdbroker daemon, for manually exercising a broker from the
// command line. The client-facing operations (open/read/write/ioctl/poll)
// are Go-level calls on a *fusd.Broker within the same process as the
// broker that accepted the connection (see broker.go), so there is no
// wire-level status query a separate process could issue against a
// daemon it didn't start; this tool's role is limited to standing up a
// provider.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Godzil/fusd"
)

func main() {
	var (
		socketPath = flag.String("socket", fusd.DefaultConfig().SocketPath, "broker's provider-facing Unix domain socket path")
		kind       = flag.String("kind", "echo", "demo provider kind: echo, ringlog, pager, ioctldemo")
		name       = flag.String("name", "demo", "device name to register")
		ringCap    = flag.Int("ring-capacity", 4096, "ring buffer capacity in bytes (ringlog only)")
	)
	flag.Parse()

	p, err := newProvider(*kind, *socketPath, *name, *ringCap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fusdctl: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- p.Serve() }()

	fmt.Printf("registered %q (%s) on %s, press Ctrl+C to stop\n", *name, *kind, *socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("stopping")
	case err := <-serveErr:
		fmt.Fprintf(os.Stderr, "fusdctl: provider connection closed: %v\n", err)
		os.Exit(1)
	}
}

func newProvider(kind, socketPath, name string, ringCap int) (*fusd.Provider, error) {
	switch kind {
	case "echo":
		return fusd.NewEchoProvider(socketPath, name)
	case "ringlog":
		return fusd.NewRingLogProvider(socketPath, name, ringCap)
	case "pager":
		return fusd.NewPagerProvider(socketPath, name)
	case "ioctldemo":
		return fusd.NewIoctlDemoProvider(socketPath, name)
	default:
		return nil, fmt.Errorf("unknown provider kind %q (want echo, ringlog, pager, or ioctldemo)", kind)
	}
}
