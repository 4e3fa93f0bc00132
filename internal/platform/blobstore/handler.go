package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/anesth/preop/internal/platform/auth"
	"github.com/anesth/preop/pkg/pagination"
)

type BlobHandler struct {
	store BlobStore
}

func NewBlobHandler(store BlobStore) *BlobHandler {
	return &BlobHandler{store: store}
}

func (h *BlobHandler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("anesthesiologist", "surgeon", "nurse"))
	readGroup.GET("/patients/:id/archive", h.handleList)
	readGroup.GET("/patients/:id/archive/:blobId", h.handleDownload)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/patients/:id/archive/:blobId", h.handleDelete)
}

func patientParam(c echo.Context) (string, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id.String(), nil
}

func storeError(err error) error {
	if errors.Is(err, ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, "archive unavailable, retry")
}

func (h *BlobHandler) handleList(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListByPatient(c.Request().Context(), patientID, c.QueryParam("kind"), pg.Limit, pg.Offset)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	rc, meta, err := h.store.Download(c.Request().Context(), patientID, c.Param("blobId"))
	if err != nil {
		return storeError(err)
	}
	defer rc.Close()

	disposition := "inline"
	if c.QueryParam("download") == "true" {
		disposition = "attachment"
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	patientID, err := patientParam(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), patientID, c.Param("blobId")); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
