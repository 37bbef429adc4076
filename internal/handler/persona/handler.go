package persona

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/pkg/utils"
)

// Handler persona 的HTTP处理器
type Handler struct {
	registry *onboarding.Registry
}

// New 创建persona处理器
func New(registry *onboarding.Registry) *Handler {
	return &Handler{
		registry: registry,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas/sample", h.handleSample)
	r.Get("/onboarding/{clientID}/persona", h.handleClientPersona)
}

// View 是 persona 的展示形式，附带由原始属性推导的字段。
type View struct {
	Attributes     persona.Persona  `json:"attributes"`
	Goals          []string         `json:"goals,omitempty"`
	RiskTolerance  string           `json:"riskTolerance,omitempty"`
	MonthlySurplus *decimal.Decimal `json:"monthlySurplus,omitempty"`
	Sample         bool             `json:"sample,omitempty"`
}

// NewView builds the display form of p.
func NewView(p persona.Persona) View {
	v := View{Attributes: p, Goals: p.List(persona.Goals)}
	v.RiskTolerance, _ = p.Text(persona.RiskTolerance)
	if surplus, ok := p.MonthlySurplus(); ok {
		v.MonthlySurplus = &surplus
	}
	return v
}

// handleSample 返回离线示例 persona
func (h *Handler) handleSample(w http.ResponseWriter, r *http.Request) {
	v := NewView(persona.Sample())
	v.Sample = true
	utils.RespondJSON(w, http.StatusOK, v)
}

// handleClientPersona 返回客户端当前会话提取到的 persona
func (h *Handler) handleClientPersona(w http.ResponseWriter, r *http.Request) {
	client, err := h.registry.Get(chi.URLParam(r, "clientID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "client not found")
		return
	}

	p, sample := currentPersona(r.Context(), client)
	if p.Empty() {
		snap, err := client.Snapshot(r.Context())
		if err != nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "onboarding unavailable")
			return
		}
		p = snap.Persona
	}
	if p.Empty() {
		utils.RespondError(w, http.StatusNotFound, "persona not extracted yet")
		return
	}

	v := NewView(p)
	v.Sample = sample
	utils.RespondJSON(w, http.StatusOK, v)
}

// currentPersona prefers the completed result, which also covers sample data.
func currentPersona(ctx context.Context, client *onboarding.Client) (persona.Persona, bool) {
	result, ok, err := client.Result(ctx)
	if err != nil || !ok || result.Persona.Empty() {
		return nil, false
	}
	sample := result.Recommendations != nil && result.Recommendations.Sample
	return result.Persona, sample
}
