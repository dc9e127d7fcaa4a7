package api

import (
	"context"
	"net/http"
	"strconv"

	"LingLongTa/internal/cvedb"
	"LingLongTa/internal/model"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPage         = 1
	defaultLimit        = 10
	defaultHistoryLimit = 20

	notFoundMessage      = "CVE not found"
	internalErrorMessage = "Internal server error"
)

// CVEStore 控制器依赖的查询接口，由 *cvedb.CVEDatabase 实现
type CVEStore interface {
	ListPage(ctx context.Context, page, limit int) (model.CVEPage, error)
	GetByID(ctx context.Context, id string) (model.VulnerabilityRecord, error)
	FilterByYear(ctx context.Context, year string) ([]model.VulnerabilityRecord, error)
	FilterByMinScore(ctx context.Context, score float64) ([]model.VulnerabilityRecord, error)
	FilterByModifiedSince(ctx context.Context, days int) ([]model.VulnerabilityRecord, string, error)
	GetUpdateHistory(ctx context.Context, limit int) ([]model.IngestRun, error)
	Ping(ctx context.Context) error
}

type scoreResponse struct {
	CVEs  []model.VulnerabilityRecord `json:"cves"`
	Score float64                     `json:"score"`
}

type modifiedResponse struct {
	CVEs      []model.VulnerabilityRecord `json:"cves"`
	DateLimit string                      `json:"dateLimit"`
}

type CVEController struct {
	store CVEStore
}

func NewCVEController(store CVEStore) *CVEController {
	return &CVEController{store: store}
}

// RegisterRoutes 注册只读API路由
func (cc *CVEController) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", cc.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api")
	g.GET("/cves", cc.List)
	g.GET("/cves/:id", cc.Read)
	g.GET("/cves/year/:year", cc.ListByYear)
	g.GET("/cves/score/:score", cc.ListByScore)
	g.GET("/cves/modified/:days", cc.ListModified)
	g.GET("/ingest/history", cc.History)
}

// toHTTPError 将存储层错误映射为HTTP错误
func toHTTPError(err error) error {
	var validation *cvedb.ValidationError
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error()).WithInternal(err)
	case errors.Is(err, cvedb.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMessage).WithInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, internalErrorMessage).WithInternal(err)
	}
}

// intParam 参数缺失时返回默认值，格式错误时返回校验错误
func intParam(name, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &cvedb.ValidationError{Field: name, Reason: "必须是整数"}
	}
	return n, nil
}

func (cc *CVEController) List(ctx echo.Context) error {
	page, err := intParam("page", ctx.QueryParam("page"), defaultPage)
	if err != nil {
		return toHTTPError(err)
	}
	limit, err := intParam("limit", ctx.QueryParam("limit"), defaultLimit)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := cc.store.ListPage(ctx.Request().Context(), page, limit)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, result)
}

func (cc *CVEController) Read(ctx echo.Context) error {
	record, err := cc.store.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, record)
}

func (cc *CVEController) ListByYear(ctx echo.Context) error {
	records, err := cc.store.FilterByYear(ctx.Request().Context(), ctx.Param("year"))
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, records)
}

func (cc *CVEController) ListByScore(ctx echo.Context) error {
	score, err := strconv.ParseFloat(ctx.Param("score"), 64)
	if err != nil {
		return toHTTPError(&cvedb.ValidationError{Field: "score", Reason: "必须是数值"})
	}

	records, err := cc.store.FilterByMinScore(ctx.Request().Context(), score)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, scoreResponse{CVEs: records, Score: score})
}

func (cc *CVEController) ListModified(ctx echo.Context) error {
	days, err := strconv.Atoi(ctx.Param("days"))
	if err != nil {
		return toHTTPError(&cvedb.ValidationError{Field: "days", Reason: "必须是整数"})
	}

	records, cutoff, err := cc.store.FilterByModifiedSince(ctx.Request().Context(), days)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, modifiedResponse{CVEs: records, DateLimit: cutoff})
}

func (cc *CVEController) History(ctx echo.Context) error {
	limit, err := intParam("limit", ctx.QueryParam("limit"), defaultHistoryLimit)
	if err != nil {
		return toHTTPError(err)
	}

	runs, err := cc.store.GetUpdateHistory(ctx.Request().Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	return ctx.JSON(http.StatusOK, runs)
}

func (cc *CVEController) Health(ctx echo.Context) error {
	if err := cc.store.Ping(ctx.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return ctx.String(http.StatusOK, "ok")
}
