package notification

import (
	"context"
	"net/http"
	"time"

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
	// Read endpoints – everyone with surveillance access
	readGroup := api.Group("", auth.RequireRole(auth.RoleEpidemiologist, auth.RoleOfficer, auth.RoleReporter, auth.RoleViewer))
	readGroup.GET("/notification-statuses", h.ListStatuses)
	readGroup.GET("/notifications", h.SearchNotifications)
	readGroup.GET("/notifications/by-code/:code", h.GetNotificationByCode)
	readGroup.GET("/notifications/:id", h.GetNotification)
	readGroup.GET("/notifications/:id/rules", h.GetRules)
	readGroup.GET("/notifications/:id/patient", h.GetPatientSummary)
	readGroup.GET("/notifications/:id/state-changes", h.GetStateChanges)
	readGroup.GET("/notifications/:id/symptoms", h.GetSymptoms)
	readGroup.GET("/notifications/:id/specimens", h.GetSpecimens)
	readGroup.GET("/notifications/:id/travel", h.GetTravel)
	readGroup.GET("/notifications/:id/risk-factors", h.GetRiskFactors)

	// Write endpoints – reporters file cases, officers maintain them
	writeGroup := api.Group("", auth.RequireRole(auth.RoleEpidemiologist, auth.RoleOfficer, auth.RoleReporter))
	writeGroup.GET("/encounters/:id/notification", h.FromEncounter)
	writeGroup.POST("/notifications", h.CreateNotification)
	writeGroup.PUT("/notifications/:id", h.UpdateNotification)
	writeGroup.POST("/notifications/:id/symptoms", h.AddSymptom)
	writeGroup.DELETE("/notifications/:id/symptoms/:child", h.RemoveSymptom)
	writeGroup.POST("/notifications/:id/specimens", h.AddSpecimen)
	writeGroup.PUT("/notifications/:id/specimens/:child", h.UpdateSpecimen)
	writeGroup.DELETE("/notifications/:id/specimens/:child", h.RemoveSpecimen)
	writeGroup.POST("/notifications/:id/travel", h.AddTravel)
	writeGroup.DELETE("/notifications/:id/travel/:child", h.RemoveTravel)
	writeGroup.POST("/notifications/:id/risk-factors", h.AddRiskFactor)
	writeGroup.DELETE("/notifications/:id/risk-factors/:child", h.RemoveRiskFactor)

	// Classification – epidemiologists and surveillance officers
	classifyGroup := api.Group("", auth.RequireRole(auth.RoleEpidemiologist, auth.RoleOfficer))
	classifyGroup.PATCH("/notifications/:id/status", h.ChangeStatus)
	classifyGroup.POST("/notifications/:id/duplicate", h.DuplicateNotification)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/notifications/:id", h.DeleteNotification)
}

func parseUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

type statusInfo struct {
	Value Status `json:"value"`
	Label string `json:"label"`
	End   bool   `json:"end_state"`
}

func (h *Handler) ListStatuses(c echo.Context) error {
	out := make([]statusInfo, 0, len(statuses))
	for _, s := range Statuses() {
		out = append(out, statusInfo{Value: s, Label: s.Label(), End: s.IsEnd()})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateNotification(c echo.Context) error {
	var n Notification
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &n); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNotification(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) GetNotificationByCode(c echo.Context) error {
	n, err := h.svc.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) SearchNotifications(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), search.ExtractParams(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// UpdateNotification applies the request body on top of the stored record,
// so fields absent from the body keep their values.
func (h *Handler) UpdateNotification(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if err := c.Bind(n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.ID = id
	if err := h.svc.Update(c.Request().Context(), n); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.ChangeStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) DuplicateNotification(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.Duplicate(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) DeleteNotification(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetRules(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n.Rules())
}

func (h *Handler) GetPatientSummary(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	summary, err := h.svc.PatientSummary(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetStateChanges(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	changes, err := h.svc.StateChanges(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, changes)
}

// FromEncounter answers with the encounter's notification, or with an
// unsaved draft prefilled from the query parameters.
func (h *Handler) FromEncounter(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var d EncounterDraft
	if v := c.QueryParam("patient_id"); v != "" {
		if d.PatientID, err = uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
	}
	if v := c.QueryParam("diagnosis_id"); v != "" {
		diag, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid diagnosis_id")
		}
		d.DiagnosisID = &diag
	}
	if v := c.QueryParam("date_seen"); v != "" {
		seen, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date_seen")
		}
		d.DateSeen = &seen
	}
	d.HealthProf = c.QueryParam("healthprof")
	d.ReportingFacility = c.QueryParam("reporting_facility")

	n, existing, err := h.svc.FromEncounter(c.Request().Context(), id, d)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"existing":     existing,
		"notification": n,
	})
}

// -- Children --

func (h *Handler) AddSymptom(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var s Symptom
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.NotificationID = id
	if err := h.svc.AddSymptom(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetSymptoms(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Symptoms(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RemoveSymptom(c echo.Context) error {
	return h.removeChild(c, h.svc.RemoveSymptom)
}

func (h *Handler) AddSpecimen(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var s Specimen
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.NotificationID = id
	if err := h.svc.AddSpecimen(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) UpdateSpecimen(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	childID, err := parseUUID(c, "child")
	if err != nil {
		return err
	}
	var s Specimen
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ID = childID
	s.NotificationID = id
	if err := h.svc.UpdateSpecimen(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetSpecimens(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Specimens(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RemoveSpecimen(c echo.Context) error {
	return h.removeChild(c, h.svc.RemoveSpecimen)
}

func (h *Handler) AddTravel(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var t TravelHistory
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.NotificationID = id
	if err := h.svc.AddTravel(c.Request().Context(), &t); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTravel(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.Travel(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RemoveTravel(c echo.Context) error {
	return h.removeChild(c, h.svc.RemoveTravel)
}

func (h *Handler) AddRiskFactor(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var rf RiskFactor
	if err := c.Bind(&rf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rf.NotificationID = id
	if err := h.svc.AddRiskFactor(c.Request().Context(), &rf); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rf)
}

func (h *Handler) GetRiskFactors(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.RiskFactors(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RemoveRiskFactor(c echo.Context) error {
	return h.removeChild(c, h.svc.RemoveRiskFactor)
}

func (h *Handler) removeChild(c echo.Context, remove func(ctx context.Context, notificationID, id uuid.UUID) error) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	childID, err := parseUUID(c, "child")
	if err != nil {
		return err
	}
	if err := remove(c.Request().Context(), id, childID); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
