package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xtxerr/livedata/internal/export"
	"github.com/xtxerr/livedata/internal/journal"
	"github.com/xtxerr/livedata/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// handleSearch is GET /api/search. Query parameters: q, start, end,
// hostname, unit, priority, limit, offset, sort, sort_dir. Times accept
// RFC 3339 or relative offsets (-1h, -15m, -7d); start defaults to -1h.
func (s *Server) handleSearch(c *gin.Context) {
	now := time.Now().UTC()

	start, err := parseTime(c.DefaultQuery("start", "-1h"), now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	end, err := parseTime(c.DefaultQuery("end", "now"), now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	params := storage.SearchParams{
		Text:        c.Query("q"),
		Start:       start,
		End:         end,
		Hostnames:   splitList(c.Query("hostname")),
		Units:       splitList(c.Query("unit")),
		MaxPriority: -1,
		SortColumn:  c.DefaultQuery("sort", "timestamp"),
		SortDesc:    c.DefaultQuery("sort_dir", "desc") != "asc",
	}

	if raw := c.Query("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 || p > 7 {
			badRequest(c, "priority must be 0-7")
			return
		}
		params.MaxPriority = p
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		params.Limit = n
	} else {
		params.Limit = 100
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		params.Offset = n
	}

	resp, err := s.storage.Search(c.Request.Context(), params)
	if err != nil {
		s.log.Error("search failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "search failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleFilters is GET /api/filters.
func (s *Server) handleFilters(c *gin.Context) {
	fv, err := s.storage.Filters(c.Request.Context(), journal.PriorityLabel)
	if err != nil {
		s.log.Error("filter listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "filter listing failed"})
		return
	}
	c.JSON(http.StatusOK, fv)
}

// handleProcesses is GET /api/processes: the latest sample set, busiest
// first.
func (s *Server) handleProcesses(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	procs, err := s.storage.ProcessSnapshot(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("process snapshot failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "process snapshot failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": procs, "count": len(procs)})
}

// handleHealth is GET /health.
func (s *Server) handleHealth(c *gin.Context) {
	snap, err := s.storage.Health(c.Request.Context())
	if err != nil {
		s.log.Error("health snapshot failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"cleanup":  s.storage.SchedulerState().String(),
		"database": snap,
	})
}

// handleRetention is POST /api/retention: run one retention pass now.
func (s *Server) handleRetention(c *gin.Context) {
	stats, err := s.storage.EnforceRetention(c.Request.Context())
	if err != nil {
		s.log.Error("manual retention failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "retention pass failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleExport is POST /api/export: export completed minutes in a range
// to Parquet. Defaults to the last hour.
func (s *Server) handleExport(c *gin.Context) {
	if s.exporter == nil {
		c.JSON(http.StatusNotImplemented, errorResponse{Error: "export directory not configured"})
		return
	}

	now := time.Now().UTC()
	start, err := parseTime(c.DefaultQuery("start", "-1h"), now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	end, err := parseTime(c.DefaultQuery("end", "now"), now)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	results, err := s.exporter.ExportRange(c.Request.Context(), start, end)
	if err != nil {
		s.log.Error("export failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	if results == nil {
		results = []export.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"exported": results, "count": len(results)})
}
