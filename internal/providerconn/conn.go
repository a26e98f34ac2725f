// Package providerconn supplies the provider-facing transport: a Unix
// domain socket listener that providers dial to register devices and
// exchange call/reply frames with the broker.
//
// Everything here is local-machine, matching the non-goal of routing
// provider traffic over a network (spec.md §1): a Unix socket is the
// grounded, zero-new-dependency choice for "local, bidirectional,
// byte-stream" in this module's dependency stack.
package providerconn

import (
	"fmt"
	"io"
	"net"
	"os"
)

// Listener accepts provider connections on a Unix domain socket.
type Listener struct {
	ln   net.Listener
	path string
}

// Listen creates a Unix domain socket at path and starts listening.
// Any stale socket file at path is removed first.
func Listen(path string) (*Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("providerconn: listen %s: %w", path, err)
	}
	return &Listener{ln: ln, path: path}, nil
}

// Accept blocks until a provider connects.
func (l *Listener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Close stops accepting connections and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	_ = os.Remove(l.path)
	return err
}

// Addr returns the socket path.
func (l *Listener) Addr() string {
	return l.path
}

// Dial connects to a broker's provider socket. Used by providers (and by
// test fixtures standing in for a provider process).
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("providerconn: dial %s: %w", path, err)
	}
	return conn, nil
}

// ReadExact reads exactly len(buf) bytes from r, matching the two-phase
// read contract's "exact length or error" rule: a short read is always a
// protocol violation, never silently tolerated.
func ReadExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// WriteExact writes the entirety of buf to w, returning an error if not
// all bytes were accepted.
func WriteExact(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
