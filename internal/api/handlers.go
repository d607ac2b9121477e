package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roach88/grab/internal/store"
)

// DefaultRunLimit is the number of runs /api/runs returns without ?limit.
const DefaultRunLimit = 20

// Handler holds the API handlers.
type Handler struct {
	reader Reader
	logger *logrus.Logger
}

// NewHandler creates a Handler over r.
func NewHandler(r Reader, logger *logrus.Logger) *Handler {
	return &Handler{reader: r, logger: logger}
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRuns returns the most recent runs.
// GET /api/runs?limit=20
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultRunLimit)))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	runs, err := h.reader.ListSyncRuns(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "ListRuns", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one run.
// GET /api/runs/:correlation_id
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("correlation_id")

	run, err := h.reader.GetSyncRun(c.Request.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, "GetRun", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Export returns the per-item projection, optionally for one store.
// GET /api/export?store=ozon
func (h *Handler) Export(c *gin.Context) {
	rows, err := h.reader.ExportRows(c.Request.Context())
	if err != nil {
		h.fail(c, "Export", err)
		return
	}
	if code := strings.TrimSpace(c.Query("store")); code != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.StoreCode == code {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []store.ExportRow{}
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}

// Duplicates returns the suspected-duplicate report.
// GET /api/duplicates
func (h *Handler) Duplicates(c *gin.Context) {
	report, err := h.reader.DuplicateDiagnostics(c.Request.Context())
	if err != nil {
		h.fail(c, "Duplicates", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Counts returns the row count per table.
// GET /api/counts
func (h *Handler) Counts(c *gin.Context) {
	counts, err := h.reader.Counts(c.Request.Context())
	if err != nil {
		h.fail(c, "Counts", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.WithError(err).Error(op + " failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
