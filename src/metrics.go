package malamute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the whole process; per-connection detail comes from the
// logs. Exposed via the default registry, so programs that want them
// just serve promhttp.Handler().
var framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "malamute_frames_received_total",
	Help: "AX.25 frames received and parsed, by frame type.",
}, []string{"type"})

var framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "malamute_frames_sent_total",
	Help: "AX.25 frames transmitted, by frame type.",
}, []string{"type"})

var dlErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "malamute_dl_errors_total",
	Help: "Data-link protocol error indications, by specification code.",
}, []string{"code"})

var connectionsEstablished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "malamute_connections_established_total",
	Help: "Connections that reached the connected state.",
})

var connectionsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "malamute_connections_failed_total",
	Help: "Outgoing connection attempts that timed out.",
})
