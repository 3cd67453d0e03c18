package transport

import "github.com/prometheus/client_golang/prometheus"

var regprom struct {
	EndpointsRegistered prometheus.Gauge
	PeerConnections      prometheus.Gauge
	FramesSent           prometheus.Counter
	FramesDropped        *prometheus.CounterVec
}

func init() {
	regprom.EndpointsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rpc",
		Subsystem: "registry",
		Name:      "endpoints_registered",
		Help:      "Number of Endpoints currently registered with this process's Registry",
	})
	regprom.PeerConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rpc",
		Subsystem: "registry",
		Name:      "peer_connections",
		Help:      "Number of open framed connections to remote peers",
	})
	regprom.FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rpc",
		Subsystem: "registry",
		Name:      "frames_sent_total",
		Help:      "Number of envelope frames successfully written to a peer connection",
	})
	regprom.FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpc",
		Subsystem: "registry",
		Name:      "frames_dropped_total",
		Help:      "Number of received frames dropped due to decode errors or unknown local endpoints",
	}, []string{"reason"})
}

// PrometheusRegister registers this package's metrics with registry. Safe
// to call at most once per prometheus.Registerer.
func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		regprom.EndpointsRegistered,
		regprom.PeerConnections,
		regprom.FramesSent,
		regprom.FramesDropped,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
