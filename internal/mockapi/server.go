// Package mockapi serves a stand-in for the FastAPI target application so
// load scenarios can run without the real service or its database.
package mockapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/studiowebux/swarm/internal/mockdb"
)

const (
	// Version is served by the app-version resource
	Version = "1.0.0"

	defaultTokenTTL = 8 * 24 * time.Hour
	limiterIdle     = 3 * time.Minute
)

// Options configures the mock API
type Options struct {
	JWTSecret  string
	TokenTTL   time.Duration
	LoginRate  rate.Limit // logins per second per client IP, 0 disables
	LoginBurst int
}

// DefaultOptions allows 10 quick logins, then one every 2 seconds per IP
func DefaultOptions(secret string) Options {
	return Options{
		JWTSecret:  secret,
		TokenTTL:   defaultTokenTTL,
		LoginRate:  rate.Every(2 * time.Second),
		LoginBurst: 10,
	}
}

// Server is the mock application
type Server struct {
	store   mockdb.Store
	tokens  *TokenIssuer
	limiter *LoginLimiter
	engine  *gin.Engine
}

// New builds the server and its routes
func New(store mockdb.Store, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}

	s := &Server{
		store:   store,
		tokens:  NewTokenIssuer(opts.JWTSecret, opts.TokenTTL),
		limiter: NewLoginLimiter(opts.LoginRate, opts.LoginBurst),
	}

	r := gin.New()
	r.Use(logger(), recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/api/sample", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "sample", "time": time.Now().UTC()})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1.POST("/login/access-token", s.login)
	v1.POST("/users/signup", s.signup)
	v1.GET("/notes", s.listNotes)

	mcp := v1.Group("/mcp")
	mcp.GET("/status", s.mcpStatus)
	mcp.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	mcp.GET("/discovery", s.mcpDiscovery)
	v1.POST("/tools/call", s.callTool)
	v1.GET("/resources/*uri", s.readResource)

	authed := v1.Group("", s.requireUser())
	authed.GET("/users/", s.listUsers)
	authed.GET("/users/me", s.readMe)
	authed.GET("/items/", s.listItems)
	authed.POST("/items/", s.createItem)
	authed.GET("/items/:id", s.readItem)
	authed.PUT("/items/:id", s.updateItem)
	authed.DELETE("/items/:id", s.deleteItem)

	s.engine = r
	return s
}

// ServeHTTP makes Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Limiter exposes the login rate limiter
func (s *Server) Limiter() *LoginLimiter { return s.limiter }

// Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.Prune(limiterIdle); n > 0 {
					logrus.WithField("clients", n).Debug("Pruned idle login limiters")
				}
			}
		}
	}()

	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("Mock API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logger() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logrus.WithFields(logrus.Fields{
			"status":  param.StatusCode,
			"method":  param.Method,
			"path":    param.Path,
			"ip":      param.ClientIP,
			"latency": param.Latency,
		}).Debug("Request processed")
		return ""
	})
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logrus.WithField("error", recovered).Error("Panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	})
}
