// Command rpcstat is an interactive terminal dashboard that repeatedly
// pings an rpcping serve instance and renders the rolling round-trip
// history and failure-monitor state with gdamore/tcell instead of
// printing a new status line per tick.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell"

	"github.com/oppo-bigdata/foundationdb/cli"
	"github.com/oppo-bigdata/foundationdb/failuremonitor"
	"github.com/oppo-bigdata/foundationdb/logger"
	"github.com/oppo-bigdata/foundationdb/rpc"
	"github.com/oppo-bigdata/foundationdb/transport"
	"github.com/oppo-bigdata/foundationdb/transport/fromconfig"
)

var pingToken = rpc.TokenFromHex("ff000000000000000000000000000001")

const serverAddr rpc.Address = "rpcstat-server"
const historyLen = 40

type sample struct {
	rtt time.Duration
	err error
}

type dashboard struct {
	mu      sync.Mutex
	history []sample
	failed  bool
}

func (d *dashboard) push(s sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, s)
	if len(d.history) > historyLen {
		d.history = d.history[len(d.history)-historyLen:]
	}
}

func (d *dashboard) snapshot() ([]sample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sample, len(d.history))
	copy(out, d.history)
	return out, d.failed
}

func (d *dashboard) setFailed(v bool) {
	d.mu.Lock()
	d.failed = v
	d.mu.Unlock()
}

func main() {
	cli.AddSubcommand(&cli.Subcommand{
		Use:   "watch",
		Short: "ping a server every second and render round-trip history",
		Run:   runWatch,
	})
	cli.Run()
}

func runWatch(s *cli.Subcommand, _ []string) error {
	cfg := s.Config()
	log := logger.NewNullLogger()

	connecter, err := fromconfig.ConnecterFromConfig(cfg.Global, cfg.Connect)
	if err != nil {
		return fmt.Errorf("build connecter: %w", err)
	}

	dialer := transport.DialerFunc(func(ctx context.Context, _ rpc.Address) (transport.Wire, error) {
		return connecter.Connect(ctx)
	})
	reg := transport.NewRegistry("rpcstat-client", dialer)
	reg.SetLogger(log)
	fm := failuremonitor.New()
	reg.SetFailureMonitor(fm)

	client, err := rpc.NewRequestStream[string, string](reg, rpc.TaskDefaultPriority)
	if err != nil {
		return fmt.Errorf("create request stream: %w", err)
	}
	server := rpc.RemoteEndpoint(pingToken, serverAddr)

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer screen.Fini()

	board := &dashboard{}
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			events <- screen.PollEvent()
		}
	}()

	stop := make(chan struct{})
	go pingLoop(client, server, fm, board, stop)
	defer close(stop)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case *tcell.EventKey:
				if e.Key() == tcell.KeyEscape || e.Key() == tcell.KeyCtrlC || e.Rune() == 'q' {
					return nil
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			render(screen, board)
		}
	}
}

func pingLoop(client *rpc.RequestStream[string, string], server rpc.Endpoint, fm *failuremonitor.Monitor, board *dashboard, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := client.TryGetReply(ctx, server, "ping", fm)
			cancel()
			board.push(sample{rtt: time.Since(start), err: err})
			board.setFailed(err != nil)
		}
	}
}

func render(screen tcell.Screen, board *dashboard) {
	screen.Clear()
	history, failed := board.snapshot()

	headerStyle := tcell.StyleDefault.Bold(true)
	if failed {
		headerStyle = headerStyle.Foreground(tcell.ColorRed)
	} else {
		headerStyle = headerStyle.Foreground(tcell.ColorGreen)
	}
	status := "OK"
	if failed {
		status = "FAILED"
	}
	drawText(screen, 0, 0, headerStyle, fmt.Sprintf("rpcstat  status=%s  samples=%d", status, len(history)))

	for i, s := range history {
		line := fmt.Sprintf("%3d  %-10s", i, s.rtt.Round(time.Microsecond))
		style := tcell.StyleDefault
		if s.err != nil {
			line = fmt.Sprintf("%3d  error: %s", i, s.err)
			style = style.Foreground(tcell.ColorRed)
		}
		drawText(screen, 0, i+2, style, line)
	}
	screen.Show()
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
