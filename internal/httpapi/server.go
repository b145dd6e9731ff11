// Package httpapi exposes spec.md §6's external interfaces: the ingestion
// and search endpoints, the Memory API, and the fan-out hub's WebSocket
// topics. Generalized from the teacher's echo-based root server
// (routes.go's e.Group/registerAPIEndpoints shape) down to this package's
// narrower route table.
package httpapi

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"lineage/internal/aggregator"
	"lineage/internal/dedup"
	"lineage/internal/eventparser"
	"lineage/internal/fanout"
	"lineage/internal/memoryapi"
	"lineage/internal/retrieve"
)

// Deps wires a Server's dependencies.
type Deps struct {
	Parser     *eventparser.Registry
	Aggregator *aggregator.Aggregator
	Dedup      *dedup.Engine
	Retrieve   *retrieve.Engine
	Memory     *memoryapi.API
	Hub        *fanout.Hub
}

// Server holds the echo instance and the wired component dependencies.
type Server struct {
	echo *echo.Echo
	deps Deps

	seqMu sync.Mutex
	seq   map[string]*int64
}

// NewServer constructs a Server and registers every route.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: deps, seq: make(map[string]*int64)}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, delegating to the echo instance.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.echo.POST("/ingest", s.handleIngest)
	s.echo.POST("/search", s.handleSearch)

	memory := s.echo.Group("/memory")
	memory.POST("/remember", s.handleRemember)
	memory.POST("/recall", s.handleRecall)
	memory.POST("/query", s.handleQuery)
	memory.POST("/context", s.handleGetContext)

	s.echo.GET("/ws/logs", s.handleWSLogs)
	s.echo.GET("/ws/metrics", s.handleWSMetrics)
	s.echo.GET("/ws/session/:id", s.handleWSSession)
}

// nextSeq returns a monotonically increasing per-session sequence number,
// satisfying the ordering the turn aggregator's reorder buffer expects
// (spec.md §4.3) for deltas arriving for the same session.
func (s *Server) nextSeq(sessionID string) int {
	s.seqMu.Lock()
	counter, ok := s.seq[sessionID]
	if !ok {
		var n int64
		counter = &n
		s.seq[sessionID] = counter
	}
	s.seqMu.Unlock()
	return int(atomic.AddInt64(counter, 1) - 1)
}

func logAndRespondError(c echo.Context, status int, msg string, err error) error {
	log.Error().Err(err).Str("msg", msg).Send()
	return c.JSON(status, map[string]string{"error": msg})
}
