// HTTP exposition on the daemon's optional --metrics-addr, adapted from the
// teacher's internal/server.Router (a gin.Engine with gin.Recovery and a
// standalone *http.Server wrapper) and from oarkflow-supervisor's
// startMetricsServer, which mounts promhttp alongside a healthz endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// StatusFunc returns a JSON-marshalable status snapshot for the /status
// debug endpoint, supplied by the Supervisor so this package stays
// decoupled from the registry type.
type StatusFunc func() any

// NewServer builds a standalone *http.Server exposing /metrics and /healthz
// (and, if statusFn is non-nil, /status) on addr, registering this
// package's collectors with the default registry that /metrics serves.
func NewServer(addr string, statusFn StatusFunc) *http.Server {
	_ = Register(prometheus.DefaultRegisterer)
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	g.GET("/metrics", gin.WrapH(Handler()))
	if statusFn != nil {
		g.GET("/status", func(c *gin.Context) { c.JSON(http.StatusOK, statusFn()) })
	}
	return &http.Server{
		Addr:              addr,
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve starts srv in the background and returns a shutdown func.
func Serve(srv *http.Server) func(context.Context) error {
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv.Shutdown
}
