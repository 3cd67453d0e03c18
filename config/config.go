// Package config parses the YAML configuration for an rpc endpoint: which
// transport to listen on or connect over, and the handful of knobs the rpc
// and transport packages expose (flow-control window size, well-known
// token bindings).
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	yaml "github.com/zrepl/yaml-config"
)

// Config is the top-level document for the rpcping/rpcstat demo binaries.
type Config struct {
	Global  *Global     `yaml:"global,optional,fromdefaults"`
	Serve   ServeEnum   `yaml:"serve,optional"`
	Connect ConnectEnum `yaml:"connect,optional"`
}

type Global struct {
	RPC RPCConfig `yaml:"rpc,optional,fromdefaults"`
}

// RPCConfig configures the generic rpc layer, independent of which
// transport carries it.
type RPCConfig struct {
	// WindowSize is parsed (and overlaid from the environment) but no code in
	// this module reads it: a ReplyStream's window is the window argument of
	// rpc.NewReplyStream, where zero means the package default (2 MiB).
	WindowSize uint64 `yaml:"window_size,optional"`
	// WellKnownTokens binds a human-readable name to a fixed 128-bit token
	// (hex-encoded), so a server can advertise stable well-known endpoints.
	WellKnownTokens map[string]string `yaml:"well_known_tokens,optional"`
}

type ConnectEnum struct {
	Ret interface{}
}

type ConnectCommon struct {
	Type string `yaml:"type"`
}

type TCPConnect struct {
	ConnectCommon `yaml:",inline"`
	Address       string        `yaml:"address"`
	DialTimeout   time.Duration `yaml:"dial_timeout,positive,default=10s"`
}

type TLSConnect struct {
	ConnectCommon `yaml:",inline"`
	Address       string        `yaml:"address"`
	Ca            string        `yaml:"ca"`
	Cert          string        `yaml:"cert"`
	Key           string        `yaml:"key"`
	ServerCN      string        `yaml:"server_cn"`
	DialTimeout   time.Duration `yaml:"dial_timeout,positive,default=10s"`
}

type LocalConnect struct {
	ConnectCommon  `yaml:",inline"`
	ListenerName   string        `yaml:"listener_name"`
	ClientIdentity string        `yaml:"client_identity"`
	DialTimeout    time.Duration `yaml:"dial_timeout,positive,default=10s"`
}

type SSHStdinserverConnect struct {
	ConnectCommon `yaml:",inline"`
	Host          string        `yaml:"host"`
	User          string        `yaml:"user"`
	Port          uint16        `yaml:"port"`
	IdentityFile  string        `yaml:"identity_file"`
	SSHCommand    string        `yaml:"ssh_command,optional,default=ssh"`
	Options       []string      `yaml:"options,optional"`
	DialTimeout   time.Duration `yaml:"dial_timeout,positive,default=10s"`
}

type ServeEnum struct {
	Ret interface{}
}

type ServeCommon struct {
	Type string `yaml:"type"`
}

type TCPServe struct {
	ServeCommon    `yaml:",inline"`
	Listen         string            `yaml:"listen"`
	ListenFreeBind bool              `yaml:"listen_freebind,optional"`
	Clients        map[string]string `yaml:"clients"`
}

type TLSServe struct {
	ServeCommon      `yaml:",inline"`
	Listen           string        `yaml:"listen"`
	ListenFreeBind   bool          `yaml:"listen_freebind,optional"`
	Ca               string        `yaml:"ca"`
	Cert             string        `yaml:"cert"`
	Key              string        `yaml:"key"`
	ClientCNs        []string      `yaml:"client_cns"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,positive,default=10s"`
}

type LocalServe struct {
	ServeCommon  `yaml:",inline"`
	ListenerName string `yaml:"listener_name"`
}

type SSHStdinserverServer struct {
	ServeCommon      `yaml:",inline"`
	ClientIdentities []string `yaml:"client_identities"`
	SockDir          string   `yaml:"sockdir"`
}

func enumUnmarshal(u func(interface{}, bool) error, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string
	}
	if err := u(&in, true); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &yaml.TypeError{Errors: []string{"must specify type"}}
	}
	v, ok := types[in.Type]
	if !ok {
		return nil, &yaml.TypeError{Errors: []string{fmt.Sprintf("invalid type name %q", in.Type)}}
	}
	if err := u(v, false); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *ConnectEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"tcp":   &TCPConnect{},
		"tls":   &TLSConnect{},
		"local": &LocalConnect{},
		"ssh":   &SSHStdinserverConnect{},
	})
	return
}

func (t *ServeEnum) UnmarshalYAML(u func(interface{}, bool) error) (err error) {
	t.Ret, err = enumUnmarshal(u, map[string]interface{}{
		"tcp":   &TCPServe{},
		"tls":   &TLSServe{},
		"local": &LocalServe{},
		"ssh":   &SSHStdinserverServer{},
	})
	return
}

var ConfigFileDefaultLocations = []string{
	"/etc/rpcping/rpcping.yml",
	"/usr/local/etc/rpcping/rpcping.yml",
}

func ParseConfig(path string) (*Config, error) {
	if path == "" {
		for _, l := range ConfigFileDefaultLocations {
			stat, statErr := os.Stat(l)
			if statErr != nil {
				continue
			}
			if !stat.Mode().IsRegular() {
				return nil, errors.Errorf("file at default location is not a regular file: %s", l)
			}
			path = l
			break
		}
	}
	if path == "" {
		return nil, errors.New("no config file given and none found at default locations")
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return ParseConfigBytes(raw)
}

func ParseConfigBytes(raw []byte) (*Config, error) {
	var c *Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("config is empty or only consists of comments")
	}
	applyEnvOverlay(c)
	return c, nil
}

// envOverlayPrefix is the viper env-var prefix: RPCPING_GLOBAL_RPC_WINDOW_SIZE
// overrides Global.RPC.WindowSize, RPCPING_GLOBAL_RPC_WELL_KNOWN_TOKENS is
// not overlaid (it's a map, env vars only override scalars here).
const envOverlayPrefix = "RPCPING"

// applyEnvOverlay lets a small, fixed set of scalar knobs be overridden from
// the environment without touching the YAML file, the way a container
// deployment typically wants to tweak one setting without templating the
// whole config. Unset env vars leave the parsed YAML value untouched.
func applyEnvOverlay(c *Config) {
	v := viper.New()
	v.SetEnvPrefix(envOverlayPrefix)
	v.AutomaticEnv()

	if c.Global == nil {
		c.Global = &Global{}
	}
	if raw := v.GetString("global_rpc_window_size"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			c.Global.RPC.WindowSize = n
		}
	}
}
