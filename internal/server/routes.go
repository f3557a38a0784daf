package server

import (
	"net/http"
	"time"

	"venuszero/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type statusBattery struct {
	Name             string    `json:"name"`
	SOC              float64   `json:"soc"`
	PowerWatt        float64   `json:"power_watt"`
	StoredEnergyKwh  float64   `json:"stored_energy_kwh"`
	TotalCapacityKwh float64   `json:"total_capacity_kwh"`
	Available        bool      `json:"available"`
	LastUpdate       time.Time `json:"last_update"`
}

type statusResponse struct {
	Mode           string                     `json:"mode"`
	ManualOverride bool                       `json:"manual_override"`
	WeeklyComplete bool                       `json:"weekly_charge_complete"`
	Batteries      []statusBattery            `json:"batteries"`
	LatestDecision *domain.PredictiveDecision `json:"latest_decision,omitempty"`
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetControllerStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	status, ok := res.(domain.GetControllerStatusResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}

	batteries := make([]statusBattery, 0, len(status.Batteries))
	for _, rt := range status.Batteries {
		batteries = append(batteries, statusBattery{
			Name:             rt.Name,
			SOC:              rt.SOC,
			PowerWatt:        rt.PowerWatt,
			StoredEnergyKwh:  rt.StoredEnergyKwh,
			TotalCapacityKwh: rt.TotalCapacityKwh,
			Available:        rt.Available,
			LastUpdate:       rt.LastUpdate,
		})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Mode:           string(status.Mode),
		ManualOverride: status.State.ManualOverride,
		WeeklyComplete: status.State.Weekly.Complete,
		Batteries:      batteries,
		LatestDecision: status.LatestDecision,
	})
}
