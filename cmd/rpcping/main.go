// Command rpcping is a demo client/server exercising the rpc/transport
// stack end to end over a real Connecter/AuthenticatedListener pair: serve
// registers a well-known RequestStream endpoint and answers pings, connect
// sends one and prints the round-trip latency.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/profile"
	"github.com/spf13/pflag"

	"github.com/oppo-bigdata/foundationdb/cli"
	"github.com/oppo-bigdata/foundationdb/failuremonitor"
	"github.com/oppo-bigdata/foundationdb/logger"
	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/transport/fromconfig"
)

// pingToken is the well-known Endpoint token the serve side registers its
// ping RequestStream under, so connect can reach it without a discovery step.
var pingToken = rpc.TokenFromHex("ff000000000000000000000000000001")

// serverAddr is the rpc.Address the client addresses its RemoteEndpoint
// with. It is never interpreted by transport.Registry, only used as the
// peerConn cache key, so any fixed string works for a single-peer demo.
const serverAddr rpc.Address = "rpcping-server"

type serveArgsT struct {
	cpuprofile bool
}

func main() {
	// fatih/color falls back to its own isatty check, but that check runs
	// against os.Stdout at import time and never sees a later os.Stdout
	// swap (e.g. under the test harness), so gate explicitly here instead.
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd())

	var serveArgs serveArgsT
	cli.AddSubcommand(&cli.Subcommand{
		Use:   "serve",
		Short: "listen for pings and answer them",
		SetupFlags: func(f *pflag.FlagSet) {
			f.BoolVar(&serveArgs.cpuprofile, "cpuprofile", false, "write a CPU profile of the serve loop to ./cpu.pprof")
		},
		Run: runServe(&serveArgs),
	})
	cli.AddSubcommand(&cli.Subcommand{
		Use:   "connect",
		Short: "send one ping and print the round trip",
		Run:   runConnect,
	})
	cli.Run()
}

func runServe(args *serveArgsT) func(s *cli.Subcommand, _ []string) error {
	return func(s *cli.Subcommand, _ []string) error {
		if args.cpuprofile {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
		}
		cfg := s.Config()
		log := logger.NewStderrDebugLogger()

		lf, err := fromconfig.ListenerFactoryFromConfig(cfg.Global, cfg.Serve)
		if err != nil {
			return fmt.Errorf("build listener: %w", err)
		}
		listener, err := lf()
		if err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
		defer listener.Close()

		reg := transport.NewRegistry(rpc.Address(listener.Addr().String()), nil)
		reg.SetLogger(log)
		reg.SetFailureMonitor(failuremonitor.New())

		ping, err := rpc.MakeWellKnownRequestStream[string, string](reg, pingToken, rpc.TaskDefaultPriority)
		if err != nil {
			return fmt.Errorf("register ping endpoint: %w", err)
		}

		go acceptLoop(listener, reg, log)

		color.New(color.FgGreen).Printf("listening on %s, well-known ping token %s\n", listener.Addr(), pingToken)
		for {
			req, err := ping.Pop(context.Background())
			if err != nil {
				log.WithError(err).Error("ping endpoint closed")
				return err
			}
			log.WithField("payload", req.Arg).Debug("received ping")
			if err := req.Reply.Send(context.Background(), req.Arg); err != nil {
				log.WithError(err).Error("send pong failed")
			}
		}
	}
}

func acceptLoop(listener transport.AuthenticatedListener, reg *transport.Registry, log *logger.Logger) {
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			log.WithError(err).Error("accept failed, stopping accept loop")
			return
		}
		reg.AdoptConnection(rpc.Address(conn.ClientIdentity()), conn)
	}
}

func runConnect(s *cli.Subcommand, _ []string) error {
	cfg := s.Config()
	log := logger.NewStderrDebugLogger()

	connecter, err := fromconfig.ConnecterFromConfig(cfg.Global, cfg.Connect)
	if err != nil {
		return fmt.Errorf("build connecter: %w", err)
	}

	dialer := transport.DialerFunc(func(ctx context.Context, _ rpc.Address) (transport.Wire, error) {
		return connecter.Connect(ctx)
	})
	reg := transport.NewRegistry("rpcping-client", dialer)
	reg.SetLogger(log)

	client, err := rpc.NewRequestStream[string, string](reg, rpc.TaskDefaultPriority)
	if err != nil {
		return fmt.Errorf("create request stream: %w", err)
	}

	server := rpc.RemoteEndpoint(pingToken, serverAddr)
	start := time.Now()
	v, err := client.GetReply(context.Background(), server, "ping")
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "ping failed:", err)
		return err
	}
	color.New(color.FgGreen).Printf("pong %q in %s\n", v, time.Since(start))
	return nil
}
