package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/samjosdev/deepresearch/internal/reportindex"
	"github.com/samjosdev/deepresearch/internal/store"
)

// ReportsHandler serves the archive of finished research reports.
type ReportsHandler struct {
	Store *store.Store
	Index *reportindex.Index
}

func (h *ReportsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
}

func (h *ReportsHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	records, err := h.Store.ListReports(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]reportListItem, 0, len(records))
	for _, rec := range records {
		out = append(out, toListItem(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ReportsHandler) get(c echo.Context) error {
	rec, ok, err := h.Store.GetReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, reportResponse{
		reportListItem: toListItem(rec),
		MarkdownReport: rec.MarkdownReport,
		FollowUps:      rec.FollowUps,
	})
}

func (h *ReportsHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := h.Index.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []reportindex.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func toListItem(rec store.ReportRecord) reportListItem {
	return reportListItem{
		ID:               rec.ID,
		Topic:            rec.Topic,
		Summary:          rec.Summary,
		SearchesPlanned:  rec.SearchesPlanned,
		SearchesUsed:     rec.SearchesUsed,
		ProcessingTimeMS: rec.ProcessingTime.Milliseconds(),
		CreatedAt:        rec.CreatedAt,
	}
}
