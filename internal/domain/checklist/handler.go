package checklist

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
	// the whole operating room team reads and fills the checklist
	g := api.Group("", auth.RequireRole("anesthesiologist", "surgeon", "nurse"))
	g.GET("/checklists", h.List)
	g.GET("/checklists/template", h.Template)
	g.GET("/checklists/:id", h.Get)
	g.GET("/checklists/:id/print", h.Print)
	g.GET("/patients/:id/checklists", h.ListByPatient)
	g.POST("/checklists", h.Create)
	g.PUT("/checklists/:id", h.Update)
	g.PUT("/checklists/:id/phases/:phase/items/:code", h.SetAnswer)
	g.DELETE("/checklists/:id", h.Delete)
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

func (h *Handler) Template(c echo.Context) error {
	return c.JSON(http.StatusOK, DefaultPhases())
}

func (h *Handler) Create(c echo.Context) error {
	var cl Checklist
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &cl, actor(c)); err != nil {
		return apperr.HTTP(err, "checklist")
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err, "checklist")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), pagination.SearchParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err, "checklist")
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
		return apperr.HTTP(err, "checklist")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Checklist
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = id
	if err := h.svc.Update(c.Request().Context(), &cl, actor(c)); err != nil {
		return apperr.HTTP(err, "checklist")
	}
	return c.JSON(http.StatusOK, cl)
}

type answerRequest struct {
	Answer  Answer `json:"answer"`
	Comment string `json:"comment"`
}

func (h *Handler) SetAnswer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.SetAnswer(c.Request().Context(), id, c.Param("phase"), c.Param("code"), req.Answer, req.Comment, actor(c))
	if err != nil {
		return apperr.HTTP(err, "checklist")
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.HTTP(err, "checklist")
	}
	return c.NoContent(http.StatusNoContent)
}

// Print renders the checklist; ?archive=true also stores it.
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
		return apperr.HTTP(err, "checklist")
	}
	if meta != nil {
		c.Response().Header().Set("X-Archive-ID", meta.ID)
	}
	return c.HTMLBlob(http.StatusOK, body)
}
