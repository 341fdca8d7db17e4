package patientmeta

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/facstrack/facstrack/internal/domain/upload"
	"github.com/facstrack/facstrack/pkg/pagination"
)

type Handler struct {
	svc            *Service
	keys           KeyRepository
	maxUploadBytes int64
}

func NewHandler(svc *Service, keys KeyRepository, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, keys: keys, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patient-files", h.StagePatientFile)
	api.POST("/patient-files/:id/upload", h.UploadPatientFile)
	api.GET("/metadata-keys", h.ListMetadataKeys)
}

type stageResponse struct {
	File       *upload.UploadedFile      `json:"file"`
	Validation []*upload.ValidationEntry `json:"validation"`
}

func (h *Handler) StagePatientFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	ctx := c.Request().Context()
	pf, err := h.svc.NewPatientFile(ctx, fh.Filename, c.FormValue("uploaded_by"), c.FormValue("description"), src)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	entries, err := h.svc.Validate(ctx, pf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, stageResponse{File: pf.File(), Validation: entries})
}

func (h *Handler) UploadPatientFile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	dryRun := c.QueryParam("dry_run") == "true"

	ctx := c.Request().Context()
	pf, err := h.svc.PatientFileFromStored(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "uploaded file not found")
	}
	report, err := h.svc.Upload(ctx, pf, dryRun)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListMetadataKeys(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.keys.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Path()))
}
