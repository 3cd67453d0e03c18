// Package ssh carries Registry traffic over an SSH-tunnelled stdin/stdout
// pipe instead of a TCP socket: the client execs `ssh` with a forced remote
// command, the server is invoked as that forced command by sshd, and both
// sides treat their own stdin/stdout as the Wire.
package ssh

import (
	"context"
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/problame/go-netssh"

	"github.com/oppo-bigdata/foundationdb/config"
	"github.com/oppo-bigdata/foundationdb/transport"
)

type SSHStdinserverConnecter struct {
	Host         string
	User         string
	Port         uint16
	IdentityFile string
	SSHCommand   string
	Options      []string
	dialTimeout  time.Duration
}

func SSHStdinserverConnecterFromConfig(in *config.SSHStdinserverConnect) (*SSHStdinserverConnecter, error) {
	return &SSHStdinserverConnecter{
		Host:         in.Host,
		User:         in.User,
		Port:         in.Port,
		IdentityFile: in.IdentityFile,
		SSHCommand:   in.SSHCommand,
		Options:      in.Options,
		dialTimeout:  in.DialTimeout,
	}, nil
}

// Connect execs the configured ssh binary and returns its stdin/stdout as a
// transport.Wire. The field-for-field copy into netssh.Endpoint is done with
// copier rather than a literal, since SSHStdinserverConnecter and
// netssh.Endpoint are maintained independently and a literal would silently
// stop copying a field if either struct's field names drift apart.
func (c *SSHStdinserverConnecter) Connect(dialCtx context.Context) (transport.Wire, error) {
	var endpoint netssh.Endpoint
	if err := copier.Copy(&endpoint, c); err != nil {
		return nil, errors.WithStack(err)
	}
	dialCtx, dialCancel := context.WithTimeout(dialCtx, c.dialTimeout)
	defer dialCancel()
	nconn, err := netssh.Dial(dialCtx, endpoint)
	if err != nil {
		if err == context.DeadlineExceeded {
			return nil, errors.Errorf("dial_timeout of %s exceeded", c.dialTimeout)
		}
		return nil, err
	}
	return nconn, nil
}
