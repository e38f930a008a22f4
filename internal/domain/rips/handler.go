package rips

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	core "github.com/ehr/rips/internal/platform/rips"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/versions", h.ListVersions)
	api.GET("/versions/:version/structure", h.GetStructure)
	api.GET("/file-types/:code/rules", h.GetRules)
	api.POST("/versions/:version/file-types/:code/validate", h.ValidateData)
	api.POST("/versions/:version/generate", h.GenerateFiles)
	api.GET("/compare", h.CompareSchemas)
	api.POST("/migrate", h.Migrate)
}

func (h *Handler) ListVersions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Versions())
}

func (h *Handler) GetStructure(c echo.Context) error {
	v, err := h.svc.Structure(c.Param("version"))
	if err != nil {
		return httpError(err, core.ErrUnknownVersion)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetRules(c echo.Context) error {
	set, err := h.svc.Rules(c.Param("code"))
	if err != nil {
		return httpError(err, core.ErrUnknownFileType)
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) ValidateData(c echo.Context) error {
	var req ValidateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Validate(c.Request().Context(), c.Param("version"), c.Param("code"), req.Records)
	if err != nil {
		return httpError(err, core.ErrUnknownVersion, core.ErrUnknownFileType)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GenerateFiles(c echo.Context) error {
	var req GenerateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	job, err := h.svc.Generate(c.Request().Context(), c.Param("version"), req.Files, req.Format)
	if err != nil {
		return httpError(err, core.ErrUnknownVersion)
	}
	return c.JSON(http.StatusCreated, job)
}

func (h *Handler) CompareSchemas(c echo.Context) error {
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to are required")
	}
	report, err := h.svc.Compare(from, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Migrate(c echo.Context) error {
	var req MigrateRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Migrate(req.From, req.To, req.Files)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// bind decodes the JSON body keeping numbers as json.Number, so amounts
// reach the encoder with the digits the client sent, then validates it.
func (h *Handler) bind(c echo.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	if err := h.validate.Struct(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// httpError maps service errors to HTTP errors. Configuration errors whose
// cause is one of pathErrs name something in the URL path and become 404;
// other configuration errors come from the query or body and become 400.
func httpError(err error, pathErrs ...error) error {
	switch {
	case core.IsConfigurationError(err):
		for _, pe := range pathErrs {
			if errors.Is(err, pe) {
				return echo.NewHTTPError(http.StatusNotFound, err.Error())
			}
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
