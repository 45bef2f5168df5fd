// Package server exposes health, metrics and counter snapshots over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"chimebot/controller"
	appSentry "chimebot/sentry"
	"chimebot/stats"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// GatewayStatus reports whether the gateway session is up.
type GatewayStatus interface {
	Connected() bool
}

// VoiceSessions lists the voice sessions. *controller.Controller satisfies it.
type VoiceSessions interface {
	Sessions() []controller.SessionSnapshot
}

type Options struct {
	Port     string
	Gatherer prometheus.Gatherer
	Gateway  GatewayStatus
	Commands *stats.CommandCounter
	// Voice may be nil when voice is disabled.
	Voice VoiceSessions
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	options    Options
	logger     *log.Entry
}

func NewServer(options Options) *Server {
	if options.Port == "" {
		options.Port = "8080"
	}
	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery(), appSentry.GetSentryGin())

	s := &Server{
		router:  router,
		options: options,
		logger: log.WithFields(log.Fields{
			"module": "server",
		}),
	}

	router.GET("/healthz", s.healthz)
	router.GET("/stats", s.stats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.Gatherer, promhttp.HandlerOpts{})))

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", options.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(c *gin.Context) {
	connected := s.options.Gateway != nil && s.options.Gateway.Connected()
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"connected": connected,
	})
}

func (s *Server) stats(c *gin.Context) {
	commands := map[string]uint64{}
	if s.options.Commands != nil {
		commands = s.options.Commands.Snapshot()
	}
	voice := []controller.SessionSnapshot{}
	if s.options.Voice != nil {
		voice = s.options.Voice.Sessions()
	}
	c.JSON(http.StatusOK, gin.H{
		"commands": commands,
		"voice":    voice,
	})
}

// Run serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Run() error {
	s.logger.Infof("Starting server on :%s", s.options.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
