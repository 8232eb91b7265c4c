package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type ReplenishmentHandler struct {
	service *service.DashboardService
}

func NewReplenishmentHandler(service *service.DashboardService) *ReplenishmentHandler {
	return &ReplenishmentHandler{service: service}
}

// parseFilter maps query parameters onto a FilterSpec. Defaults and validation of
// sort fields happen in the service.
func (h *ReplenishmentHandler) parseFilter(c *gin.Context) (domain.FilterSpec, error) {
	filter := domain.FilterSpec{
		Warehouse:     strings.TrimSpace(c.Query("warehouse")),
		Cluster:       strings.TrimSpace(c.Query("cluster")),
		Source:        strings.TrimSpace(c.Query("source")),
		SortField:     domain.SortField(c.Query("sort_field")),
		SortDirection: domain.SortDirection(c.Query("sort_direction")),
	}

	// Support both ?status=critical&status=low and ?status=critical,low
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, err := domain.ParseLiquidityStatus(part)
			if err != nil {
				return filter, &domain.InvalidFilterError{Field: "status", Reason: err.Error()}
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	parseBool := func(param string) (bool, error) {
		value := strings.TrimSpace(c.Query(param))
		if value == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, &domain.InvalidFilterError{Field: param, Reason: fmt.Sprintf("not a boolean: %q", value)}
		}
		return b, nil
	}

	parseInt := func(param string) (int, error) {
		value := strings.TrimSpace(c.Query(param))
		if value == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, &domain.InvalidFilterError{Field: param, Reason: fmt.Sprintf("not an integer: %q", value)}
		}
		return n, nil
	}

	var err error
	if filter.ActiveOnly, err = parseBool("active_only"); err != nil {
		return filter, err
	}
	if filter.NeedsReplenishment, err = parseBool("needs_replenishment"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseInt("offset"); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseInt("limit"); err != nil {
		return filter, err
	}

	return filter, nil
}

func (h *ReplenishmentHandler) GetMetrics(c *gin.Context) {
	filter, err := h.parseFilter(c)
	if err != nil {
		writeError(c, err, "invalid filter")
		return
	}

	page, err := h.service.Query(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, "failed to fetch metrics")
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *ReplenishmentHandler) ExportCSV(c *gin.Context) {
	h.export(c, "csv", contentTypeCSV, h.service.ExportCSV)
}

func (h *ReplenishmentHandler) ExportXLSX(c *gin.Context) {
	h.export(c, "xlsx", contentTypeXLSX, h.service.ExportXLSX)
}

type exportFunc func(ctx context.Context, filter domain.FilterSpec, w io.Writer) (int, error)

func (h *ReplenishmentHandler) export(c *gin.Context, ext, contentType string, render exportFunc) {
	filter, err := h.parseFilter(c)
	if err != nil {
		writeError(c, err, "invalid filter")
		return
	}

	var buf bytes.Buffer
	rows, err := render(c.Request.Context(), filter, &buf)
	if err != nil {
		writeError(c, err, "failed to export metrics")
		return
	}

	filename := fmt.Sprintf("replenishment_%s.%s", time.Now().UTC().Format("20060102_150405"), ext)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Row-Count", strconv.Itoa(rows))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *ReplenishmentHandler) GetRefreshStatus(c *gin.Context) {
	status, err := h.service.RefreshStatus(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to fetch refresh status")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ReplenishmentHandler) GetRefreshRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.service.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to fetch refresh runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// TriggerRefresh starts a pass in the background and answers immediately.
func (h *ReplenishmentHandler) TriggerRefresh(c *gin.Context) {
	if err := h.service.StartRefresh(c.Request.Context()); err != nil {
		writeError(c, err, "failed to start refresh")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func writeError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsInvalidFilter(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPassInProgress):
		status = http.StatusConflict
	case domain.IsDataUnavailable(err), errors.Is(err, domain.ErrSchedulerStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMetricNotFound):
		status = http.StatusNotFound
	}

	if status >= http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.Request.URL.Path).Msg(message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}
