package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/petrijr/flowstate/internal/catalog"
	"github.com/petrijr/flowstate/internal/ingest"
	"github.com/petrijr/flowstate/pkg/api"
)

// ListNodes returns the views of every node known in a flow
// (GET /flows/:flow/nodes)
func (s *Server) ListNodes(c echo.Context) error {
	views := s.engine.ReadAll(c.Request().Context(), flowParam(c))
	if views == nil {
		views = []api.NodeView{}
	}
	return c.JSON(http.StatusOK, views)
}

// GetNode returns one node view; unknown nodes read as IDLE
// (GET /flows/:flow/nodes/:node)
func (s *Server) GetNode(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.View(c.Request().Context(), keyParam(c)))
}

// GetEffectiveModel returns the override of a node, falling back to the
// catalog default
// (GET /flows/:flow/nodes/:node/model)
func (s *Server) GetEffectiveModel(c echo.Context) error {
	ctx := c.Request().Context()
	key := keyParam(c)

	var global *api.Model
	if s.engine.GetOverride(ctx, key) == nil {
		global = catalog.DefaultModel(s.engine.LoadCatalog(ctx))
	}
	m := s.engine.EffectiveModel(ctx, key, global)
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no model available")
	}
	return c.JSON(http.StatusOK, m)
}

// PutOverride sets the model override of a node
// (PUT /flows/:flow/nodes/:node/override)
func (s *Server) PutOverride(c echo.Context) error {
	var m api.Model
	if err := c.Bind(&m); err != nil {
		return err
	}
	if m.ModelName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model_name is required")
	}
	if !m.Provider.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider "+string(m.Provider))
	}

	ctx := c.Request().Context()
	key := keyParam(c)
	s.engine.SetOverride(ctx, key, &m)
	return c.JSON(http.StatusOK, s.engine.View(ctx, key))
}

// DeleteOverride clears the model override of a node
// (DELETE /flows/:flow/nodes/:node/override)
func (s *Server) DeleteOverride(c echo.Context) error {
	ctx := c.Request().Context()
	key := keyParam(c)
	s.engine.SetOverride(ctx, key, nil)
	return c.JSON(http.StatusOK, s.engine.View(ctx, key))
}

type outputResponse struct {
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt int64           `json:"completed_at"`
}

// GetOutput returns the result of the latest run
// (GET /flows/:flow/output)
func (s *Server) GetOutput(c echo.Context) error {
	out, ok := s.engine.Output(c.Request().Context(), flowParam(c))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no run output")
	}
	return c.JSON(http.StatusOK, outputResponse{
		Data:        json.RawMessage(out.Data),
		Error:       out.Error,
		CompletedAt: out.CompletedAt,
	})
}

// PostEvent queues one stream envelope for a flow
// (POST /flows/:flow/events)
func (s *Server) PostEvent(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event queue not configured")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body").SetInternal(err)
	}
	ev, err := ingest.DecodeEnvelope(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.events.Enqueue(c.Request().Context(), flowParam(c), ev); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "enqueue failed").SetInternal(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"type": string(ev.Type)})
}
