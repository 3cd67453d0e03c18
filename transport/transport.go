// Package transport defines a common interface for
// network connections that have an associated client identity.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/oppo-bigdata/foundationdb/logger"
	"github.com/oppo-bigdata/foundationdb/rpc/dataconn/timeoutconn"
)

type AuthConn struct {
	Wire
	clientIdentity string
}

var _ timeoutconn.SyscallConner = AuthConn{}

func (a AuthConn) SyscallConn() (rawConn syscall.RawConn, err error) {
	scc, ok := a.Wire.(timeoutconn.SyscallConner)
	if !ok {
		return nil, timeoutconn.SyscallConnNotSupported
	}
	return scc.SyscallConn()
}

func NewAuthConn(conn Wire, clientIdentity string) *AuthConn {
	return &AuthConn{conn, clientIdentity}
}

func (c *AuthConn) ClientIdentity() string {
	if err := ValidateClientIdentity(c.clientIdentity); err != nil {
		panic(err)
	}
	return c.clientIdentity
}

// like net.Listener, but with an AuthenticatedConn instead of net.Conn
type AuthenticatedListener interface {
	Addr() net.Addr
	Accept(ctx context.Context) (*AuthConn, error)
	Close() error
}

type AuthenticatedListenerFactory func() (AuthenticatedListener, error)

type Wire = timeoutconn.Wire

type Connecter interface {
	Connect(ctx context.Context) (Wire, error)
}

// A client identity must be a single non-empty path component: no slashes,
// no '@' (reserved for snapshot-style suffixes some callers append), no
// leading or trailing whitespace.
func ValidateClientIdentity(in string) (err error) {
	if in == "" {
		return errors.New("client identity must not be empty")
	}
	if strings.ContainsAny(in, "/@") {
		return errors.New("client identity must be a single path component (not empty, no '/' or '@')")
	}
	if strings.TrimSpace(in) != in {
		return errors.New("client identity must not have leading or trailing whitespace")
	}
	return nil
}

type contextKey int

const contextKeyLog contextKey = 0

type Logger = *logger.Logger

func WithLogger(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, log)
}

func GetLogger(ctx context.Context) Logger {
	if log, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return log
	}
	return logger.NewNullLogger()
}
