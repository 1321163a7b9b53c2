package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/attunehealth/attune/internal/crisis"
	"github.com/attunehealth/attune/internal/ingest"
	"github.com/attunehealth/attune/internal/retrieval"
	"github.com/attunehealth/attune/models"
)

// SearchHandler exposes the retrieval pipeline directly, without the
// conversational policy graph. Intended for clinical content tooling.
type SearchHandler struct {
	Pipeline *retrieval.Pipeline
	TopK     int
}

func (h *SearchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.search)
}

func (h *SearchHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.TopK
	}
	q := models.Query{Text: req.Text, TopK: topK, Filters: req.Filters, Patient: req.Patient}
	if err := q.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	results, err := h.Pipeline.Search(c.Request().Context(), q)
	if err != nil {
		if errors.Is(err, models.ErrDimensionMismatch) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// TurnHandler drives conversational turns through the crisis policy graph.
type TurnHandler struct {
	Engine *crisis.Engine
}

func (h *TurnHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/turn", h.turn)
	g.POST("/:id/turn", h.turn)
	g.DELETE("/:id", h.end)
}

func (h *TurnHandler) turn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	// Empty session id starts a new session.
	res := h.Engine.Turn(c.Request().Context(), c.Param("id"), req.Text)
	return c.JSON(http.StatusOK, TurnResponse{
		SessionID: res.SessionID,
		Reply:     res.Reply.Text,
		Path:      res.Reply.Path,
		Resources: res.Reply.Resources,
	})
}

func (h *TurnHandler) end(c echo.Context) error {
	if err := h.Engine.EndSession(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// IngestHandler accepts JSONL knowledge content uploads.
type IngestHandler struct {
	Loader *ingest.Loader
}

func (h *IngestHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/documents", h.upload)
}

func (h *IngestHandler) upload(c echo.Context) error {
	n, err := h.Loader.Load(c.Request().Context(), c.Request().Body)
	if err != nil {
		if errors.Is(err, models.ErrDimensionMismatch) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, IngestResponse{Ingested: n, Total: h.Loader.Total()})
}
