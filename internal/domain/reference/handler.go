package reference

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/surveillance/internal/platform/apperr"
	"github.com/ehr/surveillance/internal/platform/auth"
	"github.com/ehr/surveillance/internal/platform/search"
	"github.com/ehr/surveillance/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleEpidemiologist, auth.RoleOfficer, auth.RoleReporter, auth.RoleViewer))
	readGroup.GET("/pathologies", h.SearchPathologies)
	readGroup.GET("/pathologies/:id", h.GetPathology)
	readGroup.GET("/patients", h.SearchPatients)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/countries", h.ListCountries)
	readGroup.GET("/countries/:id/subdivisions", h.ListSubdivisions)

	// Code tables are maintained by administrators; patients are registered
	// by anyone who files reports.
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/pathologies", h.CreatePathology)
	adminGroup.POST("/countries", h.CreateCountry)
	adminGroup.POST("/countries/:id/subdivisions", h.CreateSubdivision)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleOfficer, auth.RoleReporter))
	writeGroup.POST("/patients", h.CreatePatient)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreatePathology(c echo.Context) error {
	var p Pathology
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePathology(c.Request().Context(), &p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPathology(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Pathology(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPathologies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPathologies(c.Request().Context(), search.ExtractParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Patient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), search.ExtractParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateCountry(c echo.Context) error {
	var country Country
	if err := c.Bind(&country); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCountry(c.Request().Context(), &country); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, country)
}

func (h *Handler) ListCountries(c echo.Context) error {
	countries, err := h.svc.Countries(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, countries)
}

func (h *Handler) CreateSubdivision(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var sub Subdivision
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub.CountryID = id
	if err := h.svc.CreateSubdivision(c.Request().Context(), &sub); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) ListSubdivisions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	subs, err := h.svc.Subdivisions(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, subs)
}
