// Package httpapi exposes the engine over HTTP for consumers that do not
// run in-process.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/petrijr/flowstate/internal/ingest"
	"github.com/petrijr/flowstate/internal/metrics"
	"github.com/petrijr/flowstate/internal/normalize"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// DefaultFlowToken names api.DefaultFlow in URL paths.
const DefaultFlowToken = "_"

// Options lists the optional collaborators of a Server.
type Options struct {
	// Flows enables the /flows CRUD routes.
	Flows persistence.FlowStore

	// Resolver is kept in sync with stored flow graphs.
	Resolver *normalize.GraphResolver

	// Events receives events posted to /flows/:flow/events, normally a
	// worker queue. Without it the route answers 503.
	Events ingest.Sink

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	engine   api.Engine
	flows    persistence.FlowStore
	resolver *normalize.GraphResolver
	events   ingest.Sink
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewServer creates a new Server.
func NewServer(engine api.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		flows:    opts.Flows,
		resolver: opts.Resolver,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Echo builds the router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			s.logger.LogAttrs(c.Request().Context(), level, "http_request", attrs...)
			return nil
		},
	}))
	if s.metrics != nil {
		e.Use(s.recordMetrics)
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	e.GET("/healthz", s.Health)
	e.GET("/models", s.ListModels)

	e.GET("/session", s.GetSession)
	e.GET("/session/current", s.GetSession)
	e.PUT("/session/current", s.SwitchFlow)
	e.POST("/session/tabs", s.OpenTab)
	e.DELETE("/session/tabs/:flow", s.CloseTab)

	e.GET("/partitions", s.ListPartitions)

	if s.flows != nil {
		e.GET("/flows", s.ListFlows)
		e.POST("/flows", s.CreateFlow)
		e.GET("/flows/:flow", s.GetFlow)
		e.PUT("/flows/:flow", s.UpdateFlow)
	}
	e.DELETE("/flows/:flow", s.DeleteFlow)

	e.GET("/flows/:flow/nodes", s.ListNodes)
	e.GET("/flows/:flow/nodes/:node", s.GetNode)
	e.GET("/flows/:flow/nodes/:node/model", s.GetEffectiveModel)
	e.PUT("/flows/:flow/nodes/:node/override", s.PutOverride)
	e.DELETE("/flows/:flow/nodes/:node/override", s.DeleteOverride)
	e.GET("/flows/:flow/output", s.GetOutput)
	e.POST("/flows/:flow/events", s.PostEvent)

	return e
}

// Health reports liveness
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request().Method, route, status, time.Since(start))
		return err
	}
}

func flowParam(c echo.Context) api.FlowID {
	v := c.Param("flow")
	if v == DefaultFlowToken {
		return api.DefaultFlow
	}
	return api.FlowID(v)
}

func keyParam(c echo.Context) api.Key {
	return api.Key{Flow: flowParam(c), Node: api.NodeID(c.Param("node"))}
}

// sonicSerializer is an echo.JSONSerializer backed by sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	var (
		b   []byte
		err error
	)
	if indent != "" {
		b, err = sonic.ConfigStd.MarshalIndent(i, "", indent)
	} else {
		b, err = sonic.ConfigStd.Marshal(i)
	}
	if err != nil {
		return err
	}
	_, err = c.Response().Write(b)
	return err
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return nil
}
