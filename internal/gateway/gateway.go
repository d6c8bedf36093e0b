// Package gateway is the REST front door. Each handler wraps the request in
// an envelope, pushes it onto the engine's queue and waits for the reply
// published on the envelope's correlation channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orbitex/exchange-core/internal/config"
	"github.com/orbitex/exchange-core/internal/model"
	"github.com/orbitex/exchange-core/internal/transport/redisq"
)

// Transport pushes one request and blocks for its correlated reply.
type Transport interface {
	PushAndWait(ctx context.Context, queue, correlationID string, payload []byte, timeout time.Duration) ([]byte, error)
}

type Server struct {
	transport Transport
	cfg       config.Gateway
	log       *zap.Logger
	router    *gin.Engine
}

func New(transport Transport, cfg config.Gateway, log *zap.Logger) *Server {
	s := &Server{transport: transport, cfg: cfg, log: log}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(cors.Default())

	v1 := router.Group("/api/v1")
	v1.POST("/order", s.createOrder)
	v1.DELETE("/order", s.cancelOrder)
	v1.DELETE("/orders", s.cancelAllOrders)
	v1.GET("/order", s.openOrder)
	v1.GET("/orders", s.openOrders)
	v1.GET("/depth", s.depth)
	v1.POST("/user", s.createUser)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router = router
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) createOrder(c *gin.Context) {
	var req model.CreateOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.roundTrip(c, redisq.QueueOrders, model.MsgOrderCreate, req)
}

func (s *Server) cancelOrder(c *gin.Context) {
	var req model.CancelOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.roundTrip(c, redisq.QueueOrders, model.MsgOrderCancel, req)
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	var req model.CancelAllOrders
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.roundTrip(c, redisq.QueueOrders, model.MsgOrderCancelAll, req)
}

func (s *Server) openOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Query("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be a uuid"})
		return
	}
	req := model.GetOpenOrder{
		UserID:  c.Query("user_id"),
		OrderID: orderID,
		Market:  c.Query("market"),
	}
	s.roundTrip(c, redisq.QueueOrders, model.MsgOrderOpen, req)
}

func (s *Server) openOrders(c *gin.Context) {
	req := model.GetOpenOrders{
		UserID: c.Query("user_id"),
		Market: c.Query("market"),
	}
	s.roundTrip(c, redisq.QueueOrders, model.MsgOrdersOpen, req)
}

func (s *Server) depth(c *gin.Context) {
	req := model.GetDepth{Symbol: c.Query("symbol")}
	s.roundTrip(c, redisq.QueueOrders, model.MsgDepthGet, req)
}

func (s *Server) createUser(c *gin.Context) {
	var req model.CreateUser
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.roundTrip(c, redisq.QueueUsers, model.MsgUserCreate, req)
}

// roundTrip pushes the enveloped request and translates the engine's reply:
// 200 on ok, 400 on an engine error, 504 when no reply arrived in time.
func (s *Server) roundTrip(c *gin.Context, queue string, msgType model.MessageType, req any) {
	env, err := model.NewEnvelope(msgType, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payload, err := s.transport.PushAndWait(c.Request.Context(), queue, env.CorrelationID, raw, s.cfg.ReplyTimeout)
	if err != nil {
		if errors.Is(err, redisq.ErrNoMessage) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "engine did not reply in time"})
			return
		}
		s.log.Error("transport round trip failed",
			zap.String("type", string(msgType)),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "transport unavailable"})
		return
	}

	var reply model.Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "malformed engine reply"})
		return
	}
	if reply.Status != model.ReplyOK {
		c.JSON(http.StatusBadRequest, reply)
		return
	}
	c.JSON(http.StatusOK, reply)
}
