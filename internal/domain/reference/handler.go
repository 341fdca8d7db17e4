package reference

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/facstrack/facstrack/pkg/pagination"
)

type Handler struct {
	loader         *Loader
	panels         PanelRepository
	params         ParameterRepository
	maxUploadBytes int64
}

func NewHandler(loader *Loader, panels PanelRepository, params ParameterRepository, maxUploadBytes int64) *Handler {
	return &Handler{loader: loader, panels: panels, params: params, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/panels", h.ListPanels)
	api.GET("/panels/:id/parameters", h.ListParameters)
	api.POST("/reference", h.LoadReference)
}

func (h *Handler) ListPanels(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.panels.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Path()))
}

func (h *Handler) ListParameters(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid panel id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.params.ListByPanel(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Path()))
}

// LoadReference ingests a panel/parameter reference file posted as the
// multipart form field "file".
func (h *Handler) LoadReference(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	if err := h.loader.Load(c.Request().Context(), f); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "loaded", "filename": fh.Filename})
}
