package assessment

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

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
	readGroup.GET("/assessments", h.List)
	readGroup.GET("/assessments/export.xlsx", h.ExportXLSX)
	readGroup.GET("/assessments/:id", h.Get)
	readGroup.GET("/assessments/:id/draft", h.GetDraft)
	readGroup.GET("/assessments/:id/export", h.Export)
	readGroup.GET("/assessments/:id/print", h.Print)
	readGroup.GET("/patients/:id/assessments", h.ListByPatient)
	readGroup.POST("/scores/reconcile", h.Reconcile)

	writeGroup := api.Group("", auth.RequireRole("anesthesiologist"))
	writeGroup.POST("/assessments", h.Create)
	writeGroup.POST("/assessments/import", h.ImportNew)
	writeGroup.PUT("/assessments/:id", h.Update)
	writeGroup.PUT("/assessments/:id/sections/:section", h.UpdateSection)
	writeGroup.PUT("/assessments/:id/draft", h.SaveDraft)
	writeGroup.DELETE("/assessments/:id/draft", h.DiscardDraft)
	writeGroup.POST("/assessments/:id/draft/recover", h.RecoverDraft)
	writeGroup.POST("/assessments/:id/finalize", h.Finalize)
	writeGroup.POST("/assessments/:id/import", h.Import)
	writeGroup.DELETE("/assessments/:id", h.Delete)
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
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Create(c.Request().Context(), r, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, a)
}

// List returns summaries. Filters: ?patient=, ?status=, ?day_admission=,
// ?asa_class=, ?identifier=, ?name=, ?from=, ?to=; ?sort= orders them.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := pagination.SearchParams(c)
	params["sort"] = c.QueryParam("sort")
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries(items), total, pg.Limit, pg.Offset))
}

func summaries(items []*Assessment) []Summary {
	out := make([]Summary, 0, len(items))
	for _, a := range items {
		out = append(out, a.Summary())
	}
	return out
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Update(c.Request().Context(), id, r, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateSection(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateSection(c.Request().Context(), id, c.Param("section"), body, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Finalize(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.NoContent(http.StatusNoContent)
}

// SaveDraft answers 202: the record is accepted and will be written once
// edits pause. The reconciled record is returned so the form can refresh
// its derived fields.
func (h *Handler) SaveDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.SaveDraft(c.Request().Context(), id, r, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) GetDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetDraft(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "draft")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) RecoverDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.RecoverDraft(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "draft")
	}
	return c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) DiscardDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	h.svc.DiscardDraft(c.Request().Context(), id)
	return c.NoContent(http.StatusNoContent)
}

// Reconcile recomputes the derived fields of an unsaved record.
func (h *Handler) Reconcile(c echo.Context) error {
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	Reconcile(&r)
	h.svc.metrics.ScoreComputed("reconcile")
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Export(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, a, err := h.svc.Export(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	name := fmt.Sprintf("consultation-%s-%s.json", a.Record.Patient.Identifier, time.Now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(name))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, data)
}

// readImport returns the uploaded file: a multipart "file" field or the raw
// request body.
func readImport(c echo.Context) ([]byte, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request().Body)
}

func (h *Handler) Import(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	data, err := readImport(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Import(c.Request().Context(), id, data, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ImportNew(c echo.Context) error {
	data, err := readImport(c)
	if err != nil {
		return err
	}
	a, err := h.svc.ImportNew(c.Request().Context(), data, actor(c))
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	return c.JSON(http.StatusCreated, a)
}

// Print renders the consultation document; ?archive=true also stores it.
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
		return printError(err)
	}
	if meta != nil {
		c.Response().Header().Set("X-Archive-ID", meta.ID)
	}
	return c.HTMLBlob(http.StatusOK, body)
}

func printError(err error) error {
	if errors.Is(err, blobstore.ErrFileTooLarge) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	}
	return apperr.HTTP(err, "assessment")
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	params := pagination.SearchParams(c)
	params["sort"] = c.QueryParam("sort")
	data, _, err := h.svc.ExportXLSX(c.Request().Context(), params)
	if err != nil {
		return apperr.HTTP(err, "assessment")
	}
	name := fmt.Sprintf("consultations-%s.xlsx", time.Now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, attachment(name))
	return c.Blob(http.StatusOK, XLSXContentType, data)
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
