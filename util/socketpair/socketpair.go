package socketpair

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Wire is the subset of net.Conn plus half-close that a local connection
// through SocketPair provides; it matches transport.Wire structurally
// without this package importing it.
type Wire interface {
	net.Conn
	CloseWrite() error
}

type fileConn struct {
	net.Conn // net.FileConn
	f        *os.File
}

func (c fileConn) Close() error {
	if err := c.Conn.Close(); err != nil {
		return err
	}
	if err := c.f.Close(); err != nil {
		return err
	}
	return nil
}

func (c fileConn) CloseWrite() error {
	cw, ok := c.Conn.(interface{ CloseWrite() error })
	if !ok {
		return fmt.Errorf("socketpair: underlying connection %T does not support CloseWrite", c.Conn)
	}
	return cw.CloseWrite()
}

func SocketPair() (a, b Wire, err error) {
	// don't use net.Pipe, as it doesn't implement things like lingering, which our code relies on
	sockpair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	toConn := func(fd int) (Wire, error) {
		f := os.NewFile(uintptr(fd), "fileconn")
		if f == nil {
			panic(fd)
		}
		c, err := net.FileConn(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return fileConn{Conn: c, f: f}, nil
	}
	if a, err = toConn(sockpair[0]); err != nil { // shadowing
		return nil, nil, err
	}
	if b, err = toConn(sockpair[1]); err != nil { // shadowing
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}
