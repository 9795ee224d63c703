package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/petrijr/flowstate/internal/catalog"
	"github.com/petrijr/flowstate/pkg/api"
)

type sessionResponse struct {
	Current api.FlowID   `json:"current"`
	Tabs    []api.FlowID `json:"tabs"`
}

type flowRequest struct {
	Flow    api.FlowID `json:"flow"`
	OpenTab bool       `json:"open_tab,omitempty"`
}

func (s *Server) session() sessionResponse {
	tabs := s.engine.Tabs()
	if tabs == nil {
		tabs = []api.FlowID{}
	}
	return sessionResponse{Current: s.engine.Current(), Tabs: tabs}
}

// GetSession returns the current flow and the open tabs
// (GET /session, GET /session/current)
func (s *Server) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session())
}

// SwitchFlow makes a flow current, optionally opening a tab for it
// (PUT /session/current)
func (s *Server) SwitchFlow(c echo.Context) error {
	var req flowRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.OpenTab {
		s.engine.OpenTab(ctx, req.Flow)
	} else {
		s.engine.SwitchTo(ctx, req.Flow)
	}
	return c.JSON(http.StatusOK, s.session())
}

// OpenTab opens a tab and makes it current
// (POST /session/tabs)
func (s *Server) OpenTab(c echo.Context) error {
	var req flowRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	s.engine.OpenTab(c.Request().Context(), req.Flow)
	return c.JSON(http.StatusOK, s.session())
}

// CloseTab closes a tab; its partition is kept
// (DELETE /session/tabs/:flow)
func (s *Server) CloseTab(c echo.Context) error {
	s.engine.CloseTab(c.Request().Context(), flowParam(c))
	return c.JSON(http.StatusOK, s.session())
}

type modelsResponse struct {
	Models  []api.Model `json:"models"`
	Default *api.Model  `json:"default"`
}

// ListModels returns the model catalog; an unreachable backend yields an
// empty list, not an error
// (GET /models)
func (s *Server) ListModels(c echo.Context) error {
	models := s.engine.LoadCatalog(c.Request().Context())
	if models == nil {
		models = []api.Model{}
	}
	return c.JSON(http.StatusOK, modelsResponse{Models: models, Default: catalog.DefaultModel(models)})
}
