// Package fromconfig instantiates transports based on the config structures
// defined in package config.
package fromconfig

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/oppo-bigdata/foundationdb/config"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/transport/local"
	"github.com/oppo-bigdata/foundationdb/transport/ssh"
	"github.com/oppo-bigdata/foundationdb/transport/tcp"
	"github.com/oppo-bigdata/foundationdb/transport/tls"
)

func ListenerFactoryFromConfig(g *config.Global, in config.ServeEnum) (transport.AuthenticatedListenerFactory, error) {

	var (
		l   transport.AuthenticatedListenerFactory
		err error
	)
	switch v := in.Ret.(type) {
	case *config.TCPServe:
		l, err = tcp.TCPListenerFactoryFromConfig(g, v)
	case *config.TLSServe:
		l, err = tls.TLSListenerFactoryFromConfig(g, v)
	case *config.LocalServe:
		l, err = local.LocalListenerFactoryFromConfig(g, v)
	case *config.SSHStdinserverServer:
		l, err = ssh.MultiStdinserverListenerFactoryFromConfig(v)
	default:
		return nil, errors.Errorf("internal error: unknown serve type %T", v)
	}

	return l, err
}

func ConnecterFromConfig(g *config.Global, in config.ConnectEnum) (transport.Connecter, error) {
	var (
		connecter transport.Connecter
		err       error
	)
	switch v := in.Ret.(type) {
	case *config.TCPConnect:
		connecter, err = tcp.TCPConnecterFromConfig(v)
	case *config.TLSConnect:
		connecter, err = tls.TLSConnecterFromConfig(v)
	case *config.LocalConnect:
		connecter, err = local.LocalConnecterFromConfig(v)
	case *config.SSHStdinserverConnect:
		connecter, err = ssh.SSHStdinserverConnecterFromConfig(v)
	default:
		panic(fmt.Sprintf("implementation error: unknown connecter type %T", v))
	}

	return connecter, err
}
