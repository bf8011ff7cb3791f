package api

import (
	"context"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/monitor"
	"trading-core/internal/order"

	"github.com/gin-gonic/gin"
)

// orderExecutor is the narrow slice of order.Executor this Server needs,
// the same interface-seam pattern the teacher used for Engine/OrderQueue —
// lets tests substitute a stub instead of wiring a live state store.
type orderExecutor interface {
	ExecuteInstantOrder(ctx context.Context, req order.Request) (order.ExecuteResult, error)
}

// stateReader is the narrow slice of *statestore.Store the status query
// needs.
type stateReader interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// orderDispatcher is the narrow slice of *provider.OutboundClient the
// background dispatch step needs.
type orderDispatcher interface {
	Send(ctx context.Context, p order.ProviderPayload) error
}

// Server wires the thin HTTP surface spec.md §6 names (POST /orders/instant
// plus a status query) around the Executor. The teacher's strategy/
// connections/balance/risk CRUD and self-serve auth registration are out of
// scope (spec.md §1: "the HTTP request-deserialization layer" and "the
// administrative/CRUD backoffice" are explicitly not rebuilt here) — this
// Server exposes only what spec.md §6 actually contracts for.
type Server struct {
	Router *gin.Engine

	Executor orderExecutor
	State    stateReader
	Outbound orderDispatcher
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics

	JWTSecret string
}

// NewServer builds the HTTP surface.
func NewServer(
	executor orderExecutor,
	state stateReader,
	outbound orderDispatcher,
	bus *events.Bus,
	metrics *monitor.SystemMetrics,
	jwtSecret string,
) *Server {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Executor:  executor,
		State:     state,
		Outbound:  outbound,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	orders := s.Router.Group("/orders")
	orders.Use(AuthMiddleware(s.JWTSecret))
	{
		orders.POST("/instant", s.createInstantOrder)
		orders.GET("/:id", s.getOrderStatus)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// Start runs the HTTP server; blocks until the listener stops.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
