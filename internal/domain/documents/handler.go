package documents

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/auth"
	"github.com/anesth/preop/internal/platform/blobstore"
	"github.com/anesth/preop/pkg/pagination"
)

type Handler struct {
	svc     *Service
	printer *Printer
}

func NewHandler(svc *Service, p *Printer) *Handler {
	return &Handler{svc: svc, printer: p}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("anesthesiologist", "surgeon", "nurse"))
	readGroup.GET("/documents", h.List)
	readGroup.GET("/documents/:id", h.Get)
	readGroup.GET("/documents/:id/print", h.Print)
	readGroup.GET("/patients/:id/documents", h.ListByPatient)

	writeGroup := api.Group("", auth.RequireRole("anesthesiologist", "surgeon"))
	writeGroup.POST("/documents", h.Create)
	writeGroup.PUT("/documents/:id", h.Update)
	writeGroup.DELETE("/documents/:id", h.Delete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) Create(c echo.Context) error {
	var d Document
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &d, actor(c)); err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), pagination.SearchParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var d Document
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.Update(c.Request().Context(), &d, actor(c)); err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.HTTP(err, "document")
	}
	return c.NoContent(http.StatusNoContent)
}

// Print renders the document; ?archive=true also stores it.
func (h *Handler) Print(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	archive, _ := strconv.ParseBool(c.QueryParam("archive"))
	ctx := c.Request().Context()
	printedBy := auth.UserNameFromContext(ctx)
	if printedBy == "" {
		printedBy = auth.UserIDFromContext(ctx)
	}
	body, meta, err := h.printer.Print(ctx, id, printedBy, archive)
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return apperr.HTTP(err, "document")
	}
	if meta != nil {
		c.Response().Header().Set("X-Archive-ID", meta.ID)
	}
	return c.HTMLBlob(http.StatusOK, body)
}
