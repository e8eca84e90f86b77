package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researchd/models"
)

// ReportsHandler serves the report rows of finished threads.
type ReportsHandler struct {
	Reports ReportReader
}

func (h *ReportsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:thread_id", h.get)
	g.GET("/:thread_id/download", h.download)
}

func (h *ReportsHandler) list(c echo.Context) error {
	if h.Reports == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "report store not configured")
	}
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return err
	}
	recs, err := h.Reports.ListReports(c.Request().Context(), c.QueryParam("job_id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if recs == nil {
		recs = []models.ReportRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *ReportsHandler) get(c echo.Context) error {
	rec, err := h.find(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// download sends one exported file. format defaults to the row's file_url.
func (h *ReportsHandler) download(c echo.Context) error {
	rec, err := h.find(c)
	if err != nil {
		return err
	}
	if rec.Status != models.ReportCompleted {
		return echo.NewHTTPError(http.StatusConflict, "report is "+string(rec.Status))
	}
	path := rec.FileURL
	if format := strings.ToLower(c.QueryParam("format")); format != "" {
		path = rec.Paths[format]
	}
	if path == "" {
		return echo.NewHTTPError(http.StatusNotFound, "report format not available")
	}
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report file not found")
	}
	return c.Attachment(path, filepath.Base(path))
}

func (h *ReportsHandler) find(c echo.Context) (models.ReportRecord, error) {
	if h.Reports == nil {
		return models.ReportRecord{}, echo.NewHTTPError(http.StatusServiceUnavailable, "report store not configured")
	}
	rec, ok, err := h.Reports.FindReport(c.Request().Context(), c.Param("thread_id"))
	if err != nil {
		return models.ReportRecord{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return models.ReportRecord{}, echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return rec, nil
}
