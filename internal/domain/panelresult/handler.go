package panelresult

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/facstrack/facstrack/internal/domain/upload"
	"github.com/facstrack/facstrack/pkg/pagination"
)

type Handler struct {
	svc            *Service
	files          upload.FileRepository
	entries        upload.EntryRepository
	samples        SampleRepository
	maxUploadBytes int64
}

func NewHandler(svc *Service, files upload.FileRepository, entries upload.EntryRepository, samples SampleRepository, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, files: files, entries: entries, samples: samples, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sample-files", h.StageSampleFile)
	api.POST("/sample-files/:id/upload", h.UploadSampleFile)
	api.GET("/sample-files", h.ListSampleFiles)
	api.GET("/sample-files/:id", h.GetSampleFile)
	api.GET("/sample-files/:id/validation", h.ListValidation)
	api.GET("/samples", h.ListSamples)
}

type stageResponse struct {
	File       *upload.UploadedFile      `json:"file"`
	Validation []*upload.ValidationEntry `json:"validation"`
}

// StageSampleFile accepts a panel-result file as the multipart field
// "file", stages it and runs validation. The response carries the
// findings so the caller can decide whether to proceed to upload.
func (h *Handler) StageSampleFile(c echo.Context) error {
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

	gatingStrategy := c.FormValue("gating_strategy")
	if gatingStrategy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing gating_strategy field")
	}

	ctx := c.Request().Context()
	sf, err := h.svc.NewSampleFile(ctx, fh.Filename, c.FormValue("uploaded_by"), c.FormValue("description"), gatingStrategy, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	entries, err := h.svc.Validate(ctx, sf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, stageResponse{File: sf.File(), Validation: entries})
}

// UploadSampleFile runs the upload engine over a previously staged file.
// dry_run=true previews row-level issues without committing.
func (h *Handler) UploadSampleFile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	gatingStrategy := c.FormValue("gating_strategy")
	if gatingStrategy == "" {
		gatingStrategy = c.QueryParam("gating_strategy")
	}
	if gatingStrategy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing gating_strategy")
	}
	dryRun := c.QueryParam("dry_run") == "true"

	ctx := c.Request().Context()
	sf, err := h.svc.SampleFileFromStored(ctx, id, gatingStrategy)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "uploaded file not found")
	}
	report, err := h.svc.Upload(ctx, sf, dryRun)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListSampleFiles(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.files.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Path()))
}

func (h *Handler) GetSampleFile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f, err := h.files.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "uploaded file not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListValidation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entries, err := h.entries.ListByFile(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ListSamples(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.samples.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewLinkedResponse(items, total, pg, c.Path()))
}
