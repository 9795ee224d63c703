package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// ListFlows returns all stored flows
// (GET /flows)
func (s *Server) ListFlows(c echo.Context) error {
	flows, err := s.flows.ListFlows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if flows == nil {
		flows = []api.Flow{}
	}
	return c.JSON(http.StatusOK, flows)
}

// CreateFlow stores a new flow and registers its graph
// (POST /flows)
func (s *Server) CreateFlow(c echo.Context) error {
	var f api.Flow
	if err := c.Bind(&f); err != nil {
		return err
	}
	if err := s.checkGraph(f); err != nil {
		return err
	}

	created, err := s.flows.CreateFlow(c.Request().Context(), f)
	if errors.Is(err, persistence.ErrFlowExists) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save flow: "+err.Error())
	}
	s.register(created)
	return c.JSON(http.StatusCreated, created)
}

// GetFlow returns one stored flow
// (GET /flows/:flow)
func (s *Server) GetFlow(c echo.Context) error {
	f, err := s.flows.GetFlow(c.Request().Context(), flowParam(c))
	if errors.Is(err, persistence.ErrFlowNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

// UpdateFlow replaces a stored flow and re-registers its graph
// (PUT /flows/:flow)
func (s *Server) UpdateFlow(c echo.Context) error {
	var f api.Flow
	if err := c.Bind(&f); err != nil {
		return err
	}
	f.ID = flowParam(c)
	if err := s.checkGraph(f); err != nil {
		return err
	}

	updated, err := s.flows.UpdateFlow(c.Request().Context(), f)
	if errors.Is(err, persistence.ErrFlowNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save flow: "+err.Error())
	}
	s.register(updated)
	return c.JSON(http.StatusOK, updated)
}

// DeleteFlow destroys the partition of a flow and, when flows are stored,
// the flow record itself
// (DELETE /flows/:flow)
func (s *Server) DeleteFlow(c echo.Context) error {
	ctx := c.Request().Context()
	flow := flowParam(c)

	s.engine.Delete(ctx, flow)
	if s.resolver != nil {
		s.resolver.Forget(flow)
	}
	if s.flows != nil {
		err := s.flows.DeleteFlow(ctx, flow)
		if err != nil && !errors.Is(err, persistence.ErrFlowNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

type partitionInfo struct {
	Flow  api.FlowID `json:"flow_id"`
	State string     `json:"state"`
}

// ListPartitions returns the flows that own a partition
// (GET /partitions)
func (s *Server) ListPartitions(c echo.Context) error {
	flows := s.engine.Flows()
	out := make([]partitionInfo, 0, len(flows))
	for _, f := range flows {
		out = append(out, partitionInfo{Flow: f, State: s.engine.PartitionState(f).String()})
	}
	return c.JSON(http.StatusOK, out)
}

// checkGraph rejects graphs the resolver would refuse, before anything is
// stored.
func (s *Server) checkGraph(f api.Flow) error {
	agents := make(map[string]api.NodeID, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "node without id")
		}
		if n.Agent == "" {
			continue
		}
		if other, ok := agents[n.Agent]; ok && other != n.ID {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				fmt.Sprintf("agent %q claimed by %q and %q", n.Agent, other, n.ID))
		}
		agents[n.Agent] = n.ID
	}
	for _, n := range f.Nodes {
		if other, ok := agents[string(n.ID)]; ok && other != n.ID {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				fmt.Sprintf("node id %q shadows agent of %q", n.ID, other))
		}
	}
	return nil
}

func (s *Server) register(f api.Flow) {
	if s.resolver == nil {
		return
	}
	if err := s.resolver.RegisterFlow(f); err != nil {
		s.logger.Warn("flow_register_failed", "flow_id", string(f.ID), "error", err)
	}
}
