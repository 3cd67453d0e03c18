package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/problame/go-netssh"

	"github.com/oppo-bigdata/foundationdb/config"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/util/errorarray"
)

func MultiStdinserverListenerFactoryFromConfig(in *config.SSHStdinserverServer) (transport.AuthenticatedListenerFactory, error) {
	for _, ci := range in.ClientIdentities {
		if err := transport.ValidateClientIdentity(ci); err != nil {
			return nil, errors.Wrapf(err, "invalid client identity %q", ci)
		}
	}
	clientIdentities := in.ClientIdentities
	sockdir := in.SockDir
	return func() (transport.AuthenticatedListener, error) {
		return multiStdinserverListenerFromClientIdentities(sockdir, clientIdentities)
	}, nil
}

type multiStdinserverAcceptRes struct {
	conn *transport.AuthConn
	err  error
}

// MultiStdinserverListener fans in Accept calls across one netssh.Listener
// per configured client identity: sshd forces each identity's session into
// its own socket (via ForceCommand + AuthorizedKeysCommand or an
// authorized_keys `command=` prefix naming the identity), so there is no
// single listening socket to demultiplex on the way a TCP/TLS listener would.
type MultiStdinserverListener struct {
	listeners []*stdinserverListener
	accepts   chan multiStdinserverAcceptRes
	closed    int32
}

func multiStdinserverListenerFromClientIdentities(sockdir string, cis []string) (*MultiStdinserverListener, error) {
	if err := os.MkdirAll(sockdir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create sockdir %q", sockdir)
	}
	listeners := make([]*stdinserverListener, 0, len(cis))
	var err error
	for _, ci := range cis {
		sockpath := path.Join(sockdir, ci)
		l := &stdinserverListener{clientIdentity: ci}
		if l.l, err = netssh.Listen(sockpath); err != nil {
			break
		}
		listeners = append(listeners, l)
	}
	if err != nil {
		for _, l := range listeners {
			l.Close()
		}
		return nil, err
	}
	return &MultiStdinserverListener{listeners: listeners}, nil
}

func (m *MultiStdinserverListener) Accept(ctx context.Context) (*transport.AuthConn, error) {
	if m.accepts == nil {
		m.accepts = make(chan multiStdinserverAcceptRes, len(m.listeners))
		for i := range m.listeners {
			go func(i int) {
				for atomic.LoadInt32(&m.closed) == 0 {
					conn, err := m.listeners[i].Accept(context.Background())
					m.accepts <- multiStdinserverAcceptRes{conn, err}
				}
			}(i)
		}
	}
	res := <-m.accepts
	return res.conn, res.err
}

type multiListenerAddr struct {
	clients []string
}

func (multiListenerAddr) Network() string { return "netssh" }

func (l multiListenerAddr) String() string {
	return fmt.Sprintf("netssh:clients=%v", l.clients)
}

func (m *MultiStdinserverListener) Addr() net.Addr {
	cis := make([]string, len(m.listeners))
	for i := range cis {
		cis[i] = m.listeners[i].clientIdentity
	}
	return multiListenerAddr{cis}
}

func (m *MultiStdinserverListener) Close() error {
	atomic.StoreInt32(&m.closed, 1)
	var errs []error
	for _, l := range m.listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	e := errorarray.Wrap(errs, "close ssh listeners")
	return &e
}

type stdinserverListener struct {
	l              *netssh.Listener
	clientIdentity string
}

type listenerAddr struct {
	clientIdentity string
}

func (listenerAddr) Network() string { return "netssh" }

func (a listenerAddr) String() string {
	return fmt.Sprintf("netssh:client=%q", a.clientIdentity)
}

func (l stdinserverListener) Addr() net.Addr {
	return listenerAddr{l.clientIdentity}
}

func (l stdinserverListener) Accept(ctx context.Context) (*transport.AuthConn, error) {
	c, err := l.l.Accept()
	if err != nil {
		return nil, err
	}
	return transport.NewAuthConn(c, l.clientIdentity), nil
}

func (l stdinserverListener) Close() error {
	return l.l.Close()
}
