package distributed

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/stats"
)

// Source is anything the web API can report on and control: a master or a
// single-process runner
type Source interface {
	Stats() *stats.Registry
	State() string
	UserCount() int
	Host() string
	Workers() []stats.WorkerReport
	Swarm(userCount int, spawnRate float64, host string) error
	Stop()
}

// SwarmRequest is the body of POST /swarm (form or JSON)
type SwarmRequest struct {
	UserCount int     `form:"user_count" json:"user_count" binding:"min=0"`
	SpawnRate float64 `form:"spawn_rate" json:"spawn_rate" binding:"required,gt=0"`
	Host      string  `form:"host" json:"host"`
}

// NewAPI builds the stats and control API. Routes and payloads follow the
// Locust web API so existing tooling can read them.
func NewAPI(src Source, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":        src.State(),
			"user_count":   src.UserCount(),
			"worker_count": len(src.Workers()),
			"host":         src.Host(),
		})
	})

	router.GET("/stats/requests", func(c *gin.Context) {
		report := src.Stats().Report(src.State(), src.UserCount())
		report.Workers = src.Workers()
		c.JSON(http.StatusOK, report)
	})

	router.GET("/stats/failures", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"failures": src.Stats().Failures()})
	})

	router.GET("/exceptions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"exceptions": src.Stats().Exceptions()})
	})

	router.GET("/workers", func(c *gin.Context) {
		workers := src.Workers()
		c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
	})

	router.POST("/swarm", func(c *gin.Context) {
		var req SwarmRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}
		if err := src.Swarm(req.UserCount, req.SpawnRate, req.Host); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNoWorkers) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Swarming started", "host": src.Host()})
	})

	router.GET("/stop", func(c *gin.Context) {
		src.Stop()
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test stopped"})
	})

	router.GET("/stats/reset", func(c *gin.Context) {
		src.Stats().Reset()
		c.String(http.StatusOK, "ok")
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("API request")
	}
}

// MasterCollectors exposes merged master stats as Prometheus gauges
func MasterCollectors(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swarm_requests_total",
			Help: "Total requests reported by workers",
		}, func() float64 { return float64(src.Stats().Total().NumRequests) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swarm_request_failures_total",
			Help: "Total failures reported by workers",
		}, func() float64 { return float64(src.Stats().Total().NumFailures) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swarm_current_rps",
			Help: "Requests per second over the last seconds",
		}, func() float64 {
			r := src.Stats()
			return r.Total().CurrentRPS(r.Now())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swarm_users",
			Help: "Simulated users across all workers",
		}, func() float64 { return float64(src.UserCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "swarm_workers",
			Help: "Connected workers",
		}, func() float64 { return float64(len(src.Workers())) }),
	)
	return reg
}

// Serve runs handler on addr until ctx ends, then shuts down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
