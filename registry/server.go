package registry

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/itsneelabh/agentrelay/core"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server exposes a SQLiteStore over the registry HTTP contract:
//
//	POST   /register               201 {"uuid"}
//	DELETE /withdraw/:uuid         204, 404 {"error"}
//	GET    /discover?capability=   200 [{"uuid","name","capabilities"}]
//	GET    /                       200 [{"uuid","name","capabilities"}]
//	GET    /agents/:uuid           200 full self-description
//	GET    /healthcheck            200 {"agent_count"}
type Server struct {
	store  *SQLiteStore
	logger core.Logger
	echo   *echo.Echo
}

// NewServer builds the echo application serving store.
func NewServer(store *SQLiteStore, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("registry/http")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{store: store, logger: logger, echo: e}
	e.Use(s.requestLogger)
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes mounts the registry endpoints on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/register", s.Register)
	e.DELETE("/withdraw/:uuid", s.Withdraw)
	e.GET("/discover", s.Discover)
	e.GET("/agents/:uuid", s.Get)
	e.GET("/healthcheck", s.HealthCheck)
	e.GET("/", s.List)
}

// Use adds middleware in front of every route.
func (s *Server) Use(mw ...echo.MiddlewareFunc) {
	s.echo.Use(mw...)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Registry listening", map[string]interface{}{"addr": addr})
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Register stores the posted self-description.
// POST /register
func (s *Server) Register(c echo.Context) error {
	var info core.AgentInfo
	if err := c.Bind(&info); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(info.Name) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	id, err := s.store.Register(c.Request().Context(), &info)
	if err != nil {
		s.logger.Error("Failed to register agent", map[string]interface{}{
			"name":  info.Name,
			"error": err.Error(),
		})
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to register agent"})
	}
	return c.JSON(http.StatusCreated, map[string]string{"uuid": id})
}

// Withdraw removes a registration.
// DELETE /withdraw/:uuid
func (s *Server) Withdraw(c echo.Context) error {
	id := c.Param("uuid")
	err := s.store.Withdraw(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, core.ErrAgentNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Agent with UUID " + id + " not found."})
	default:
		s.logger.Error("Failed to withdraw agent", map[string]interface{}{
			"uuid":  id,
			"error": err.Error(),
		})
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to withdraw agent"})
	}
}

// Discover lists agents offering a capability.
// GET /discover?capability=
func (s *Server) Discover(c echo.Context) error {
	refs, err := s.store.Discover(c.Request().Context(), c.QueryParam("capability"))
	if err != nil {
		s.logger.Error("Discovery failed", map[string]interface{}{"error": err.Error()})
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "discovery failed"})
	}
	return c.JSON(http.StatusOK, refs)
}

// List returns every registered agent.
// GET /
func (s *Server) List(c echo.Context) error {
	refs, err := s.store.FetchAll(c.Request().Context())
	if err != nil {
		s.logger.Error("Listing failed", map[string]interface{}{"error": err.Error()})
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list agents"})
	}
	return c.JSON(http.StatusOK, refs)
}

// Get returns the full self-description of one agent, schema included.
// GET /agents/:uuid
func (s *Server) Get(c echo.Context) error {
	id := c.Param("uuid")
	info, err := s.store.Lookup(c.Request().Context(), id)
	if errors.Is(err, core.ErrAgentNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Agent with UUID " + id + " not found."})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load agent"})
	}
	return c.JSON(http.StatusOK, info)
}

// HealthCheck reports the number of registered agents.
// GET /healthcheck
func (s *Server) HealthCheck(c echo.Context) error {
	n, err := s.store.Count(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"agent_count": n})
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		s.logger.Debug("Request handled", map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
			"status": c.Response().Status,
		})
		return err
	}
}
