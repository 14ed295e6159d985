package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// Result labels for Downloads.
const (
	ResultDownloaded = "downloaded"
	ResultFailed     = "failed"
	ResultCancelled  = "cancelled"
)

var (
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sucker",
			Name:      "downloads_total",
			Help:      "Downloads finished, by result.",
		},
		[]string{"result"},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sucker",
			Name:      "bytes_downloaded_total",
			Help:      "Bytes written to destination files.",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sucker",
			Name:      "active_downloads",
			Help:      "Downloads currently holding a worker slot.",
		},
	)

	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sucker",
			Name:      "download_duration_seconds",
			Help:      "Wall time of finished downloads.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

// Register registers the collectors into reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Downloads, BytesDownloaded, ActiveDownloads, DownloadDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewRouter exposes /metrics for gatherer and a /healthz probe.
func NewRouter(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.WithError(err).Warn("write healthz response")
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

// Server serves the metrics router until Shutdown.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts listening on addr in the background.
func Serve(addr string, gatherer prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:     NewRouter(gatherer),
			IdleTimeout: 120 * time.Second,
			ReadTimeout: 5 * time.Second,
		},
	}
	go func() {
		logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return s, nil
}

// Addr returns the bound address, useful when addr used port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server, waiting at most a few seconds for scrapes.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
