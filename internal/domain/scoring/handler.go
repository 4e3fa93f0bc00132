package scoring

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anesth/preop/internal/platform/auth"
	"github.com/anesth/preop/internal/platform/metrics"
)

// Handler exposes the calculators so that a form front-end can recompute
// derived fields on every change without saving the record.
type Handler struct {
	metrics *metrics.Registry
}

func NewHandler(m *metrics.Registry) *Handler {
	return &Handler{metrics: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scores", auth.RequireRole("anesthesiologist", "surgeon", "nurse"))
	g.POST("/stop-bang", h.StopBang)
	g.POST("/apfel", h.Apfel)
	g.POST("/lee", h.Lee)
	g.POST("/postop-pain", h.PostopPain)
	g.POST("/bmi", h.BMI)
	g.POST("/day-admission", h.DayAdmission)
}

func (h *Handler) StopBang(c echo.Context) error {
	var f StopBangFactors
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.metrics.ScoreComputed("stop-bang")
	return c.JSON(http.StatusOK, StopBang(f))
}

func (h *Handler) Apfel(c echo.Context) error {
	var f ApfelFactors
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.metrics.ScoreComputed("apfel")
	return c.JSON(http.StatusOK, Apfel(f))
}

func (h *Handler) Lee(c echo.Context) error {
	var f LeeFactors
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.metrics.ScoreComputed("lee")
	return c.JSON(http.StatusOK, Lee(f))
}

func (h *Handler) PostopPain(c echo.Context) error {
	var f PostopPainFactors
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.metrics.ScoreComputed("postop-pain")
	return c.JSON(http.StatusOK, PostopPain(f))
}

type bmiRequest struct {
	Weight string `json:"weight"`
	Height string `json:"height"`
}

type bmiResponse struct {
	BMI string `json:"bmi"`
}

// BMI takes raw form values; an empty bmi in the response means the inputs
// were not usable.
func (h *Handler) BMI(c echo.Context) error {
	var req bmiRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.metrics.ScoreComputed("bmi")
	return c.JSON(http.StatusOK, bmiResponse{BMI: BMIFromText(req.Weight, req.Height)})
}

type dayAdmissionRequest struct {
	Factors DayAdmissionFactors `json:"factors"`
	// StopBang is used to derive the apnea risk when present.
	StopBang *StopBangFactors `json:"stop_bang,omitempty"`
	// ApneaRisk is used when StopBang is absent.
	ApneaRisk bool `json:"apnea_risk"`
}

type dayAdmissionResponse struct {
	Eligibility Eligibility `json:"eligibility"`
	Label       string      `json:"label"`
	ApneaRisk   bool        `json:"apnea_risk"`
}

func (h *Handler) DayAdmission(c echo.Context) error {
	var req dayAdmissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	apnea := req.ApneaRisk
	if req.StopBang != nil {
		apnea = StopBang(*req.StopBang).ApneaRisk
	}
	h.metrics.ScoreComputed("day-admission")
	e := req.Factors.Classify(apnea)
	return c.JSON(http.StatusOK, dayAdmissionResponse{Eligibility: e, Label: e.Label(), ApneaRisk: apnea})
}
