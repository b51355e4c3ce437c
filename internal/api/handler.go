// Package api provides HTTP handlers for the UNOA backend API.
package api

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lacheln1/unoa-server/internal/domain"
	"github.com/lacheln1/unoa-server/internal/llm"
	"github.com/lacheln1/unoa-server/internal/prompt"
	"github.com/lacheln1/unoa-server/internal/session"
	"github.com/lacheln1/unoa-server/internal/store"
)

// randomPlanCategories are the catalog categories eligible for the random
// plan endpoint.
var randomPlanCategories = []string{"5G/LTE 요금제", "온라인 다이렉트 요금제"}

// loyaltyYearOptions mirrors the long-term customer buckets shown on plan
// cards. Empty means no loyalty benefit is displayed.
var loyaltyYearOptions = []string{"10년 이상", "5년 이상", "2년 이상", ""}

// Handler provides the REST API handlers.
type Handler struct {
	repo      store.Repository
	deriver   *session.Deriver
	generator llm.Client
	env       string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, deriver *session.Deriver, generator llm.Client, env string) *Handler {
	return &Handler{
		repo:      repo,
		deriver:   deriver,
		generator: generator,
		env:       env,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/api/plans", h.GetPlans)
	r.Get("/api/plans/random", h.GetRandomPlan)
	r.Post("/api/plans/compare", h.ComparePlans)
	r.Get("/api/benefits", h.GetBenefits)
	r.Get("/api/chatbot/conversation/{sessionID}", h.GetConversationByID)
	r.Get("/api/chatbot/conversation/by-ip/{ip}", h.GetConversationByIP)
	r.Get("/api/admin/stats", h.GetAdminStats)
}

// Root reports server status.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"message":     "UNOA Backend API Server",
		"status":      "running",
		"environment": h.env,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetPlans returns the full plan catalog.
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.repo.AllPlans(r.Context())
	if err != nil {
		slog.Error("failed to load plans", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}
	if plans == nil {
		plans = []*domain.Plan{}
	}
	JSON(w, http.StatusOK, plans)
}

// randomPlanInfo is the reduced card payload for the random plan endpoint.
type randomPlanInfo struct {
	Title      string `json:"title"`
	Price      int    `json:"price"`
	Membership string `json:"membership"`
	Years      string `json:"years,omitempty"`
}

// GetRandomPlan returns one random recommendable plan with a membership
// tier derived from its price.
func (h *Handler) GetRandomPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.repo.RandomPlan(r.Context(), randomPlanCategories)
	if err != nil {
		slog.Error("failed to pick random plan", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}
	if plan == nil {
		Error(w, http.StatusNotFound, "랜덤 요금제를 찾을 수 없습니다.")
		return
	}

	JSON(w, http.StatusOK, randomPlanInfo{
		Title:      plan.Title,
		Price:      plan.Price,
		Membership: membershipFor(plan.Price),
		Years:      loyaltyYearOptions[rand.Intn(len(loyaltyYearOptions))],
	})
}

func membershipFor(price int) string {
	switch {
	case price >= 95000:
		return "VVIP"
	case price >= 74800:
		return "VIP"
	default:
		return "우수"
	}
}

// comparePlanRequest is the body of the compare endpoint.
type comparePlanRequest struct {
	PlanNames []string `json:"planNames"`
}

// ComparePlans resolves two plans by title and returns a generated
// comparison of them alongside their summaries.
func (h *Handler) ComparePlans(w http.ResponseWriter, r *http.Request) {
	var req comparePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
		return
	}
	if len(req.PlanNames) != 2 {
		Error(w, http.StatusBadRequest, "비교할 요금제 2개를 선택해주세요.")
		return
	}

	plans, err := h.repo.PlansByTitles(r.Context(), req.PlanNames)
	if err != nil {
		slog.Error("failed to resolve compared plans", "titles", req.PlanNames, "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}
	if len(plans) != 2 {
		Error(w, http.StatusNotFound, "비교할 요금제를 찾을 수 없습니다.")
		return
	}

	systemPrompt, err := prompt.BuildComparePrompt(plans)
	if err != nil {
		slog.Error("failed to build compare prompt", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}

	comparison, err := h.generator.Complete(r.Context(), []llm.Message{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: req.PlanNames[0] + " 와 " + req.PlanNames[1] + " 의 차이점을 비교해주세요."},
	})
	if err != nil {
		slog.Error("plan comparison failed", "titles", req.PlanNames, "error", err)
		Error(w, http.StatusInternalServerError, "요금제 비교 중 오류가 발생했습니다.")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"comparison": comparison,
		"plans":      domain.SummarizePlans(plans),
	})
}

// GetBenefits returns the membership/loyalty benefit records.
func (h *Handler) GetBenefits(w http.ResponseWriter, r *http.Request) {
	benefits, err := h.repo.AllBenefits(r.Context())
	if err != nil {
		slog.Error("failed to load benefits", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}
	if benefits == nil {
		benefits = []*domain.Benefit{}
	}
	JSON(w, http.StatusOK, benefits)
}

// GetConversationByID returns the stored messages for a session key.
// Unknown sessions yield an empty array, matching the store contract.
func (h *Handler) GetConversationByID(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	history, err := h.repo.LoadHistory(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load conversation", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}
	JSON(w, http.StatusOK, history)
}

// conversationResponse is the by-ip lookup payload.
type conversationResponse struct {
	SessionID string                   `json:"sessionId"`
	Messages  []domain.Message         `json:"messages"`
	Metadata  *domain.ConversationMeta `json:"metadata"`
}

// GetConversationByIP derives the session key from the path IP and the
// request's User-Agent, then returns the record if one exists.
func (h *Handler) GetConversationByIP(w http.ResponseWriter, r *http.Request) {
	clientIP := chi.URLParam(r, "ip")
	sessionID := h.deriver.SessionID(clientIP, r.UserAgent())

	conv, err := h.repo.GetConversation(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load conversation by ip", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}

	resp := conversationResponse{SessionID: sessionID, Messages: []domain.Message{}}
	if conv != nil {
		resp.Messages = conv.Messages
		resp.Metadata = &conv.Meta
	}
	JSON(w, http.StatusOK, resp)
}

// GetAdminStats returns conversation volume counters.
func (h *Handler) GetAdminStats(w http.ResponseWriter, r *http.Request) {
	total, err := h.repo.CountConversations(r.Context())
	if err != nil {
		slog.Error("failed to count conversations", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}

	activeToday, err := h.repo.CountActiveSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		slog.Error("failed to count active conversations", "error", err)
		Error(w, http.StatusInternalServerError, "서버 오류가 발생했습니다.")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"totalConversations": total,
		"activeToday":        activeToday,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}
