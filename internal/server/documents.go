package server

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/models"
)

// DocumentsHandler ingests plain-text evidence into the retrieval store.
type DocumentsHandler struct {
	Documents DocumentIndexer

	logger *zap.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
}

func (h *DocumentsHandler) create(c echo.Context) error {
	if h.Documents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "document index not configured")
	}
	var req DocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and text required")
	}
	doc := models.Document{ID: req.ID, JobID: req.JobID, Title: req.Title, URL: req.URL, Text: req.Text}
	if err := h.Documents.Index(c.Request().Context(), doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	h.logger.Info("document indexed", zap.String("id", doc.ID), zap.String("job_id", doc.JobID))
	return c.JSON(http.StatusCreated, DocumentResponse{ID: doc.ID, JobID: doc.JobID, Chars: utf8.RuneCountInString(doc.Text)})
}
