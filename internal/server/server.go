// Package server exposes a facade.SaleService over HTTP with the wire
// contract the engine's HTTP binding expects: bare sale bodies, the
// conflict-as-success add envelope, the delete status envelope, and
// kind-tagged error envelopes.
//
// It exists for development and conformance testing: `salesync serve`
// runs it over the in-memory service so a cart client has a real
// server to talk to.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alryyan1/salesync/internal/catalog"
	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/sale"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "salesync",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method, route, and status code.",
	},
	[]string{"method", "route", "status"},
)

// Server binds the sale service wire contract to a gin router.
type Server struct {
	svc    facade.SaleService
	ids    *identity.Manager
	cat    *catalog.Catalog
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog exposes the given product catalog at GET /api/products.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(s *Server) {
		s.cat = cat
	}
}

// WithLogger sets the logger used for request-level diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server over svc. Tokens on incoming requests are
// verified with ids.
func New(svc facade.SaleService, ids *identity.Manager, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		ids:    ids,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", s.countRequests, s.requireAuth)
	api.POST("/sales", s.handleCreateSale)
	api.GET("/sales", s.handleListSales)
	api.GET("/sales/:id", s.handleGetSale)
	api.PUT("/sales/:id", s.handleUpdateSale)
	api.POST("/sales/:id/items", s.handleAddItem)
	api.PUT("/sales/:id/items/:lineID", s.handleUpdateItem)
	api.DELETE("/sales/:id/items/:lineID", s.handleDeleteItem)
	api.POST("/sales/:id/payments", s.handleRecordPayment)
	api.GET("/products", s.handleListProducts)

	return router
}

// countRequests records one counter increment per API request, labeled
// with the route pattern rather than the raw path so cardinality stays
// bounded.
func (s *Server) countRequests(c *gin.Context) {
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	requestsTotal.WithLabelValues(
		c.Request.Method,
		route,
		strconv.Itoa(c.Writer.Status()),
	).Inc()
}

// requireAuth verifies the bearer token and stashes the operator on the
// request context, where the sale service picks it up for attribution.
func (s *Server) requireAuth(c *gin.Context) {
	authorization := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		s.abortError(c, http.StatusUnauthorized, sale.KindValidation, "missing bearer token")
		return
	}

	token := strings.TrimSpace(authorization[len("bearer "):])
	op, err := s.ids.Parse(token)
	if err != nil {
		s.logger.Debug("rejected token", "error", err)
		s.abortError(c, http.StatusUnauthorized, sale.KindValidation, "invalid bearer token")
		return
	}

	ctx := identity.WithOperator(c.Request.Context(), op)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListProducts(c *gin.Context) {
	if s.cat == nil {
		s.writeError(c, http.StatusNotFound, sale.KindNotFound, "no catalog loaded")
		return
	}
	c.JSON(http.StatusOK, s.cat.Products())
}
