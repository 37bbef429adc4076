package onboarding

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/pkg/utils"
)

// Handler 暴露对话引擎的 HTTP、SSE 与 WebSocket 接口。
type Handler struct {
	registry  *onboarding.Registry
	logger    *zap.SugaredLogger
	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// New 创建对话处理器
func New(registry *onboarding.Registry, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		registry:  registry,
		logger:    logger,
		heartbeat: 15 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/onboarding", h.handleOpen)
	r.Route("/onboarding/{clientID}", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Post("/messages", h.handleSubmit)
		r.Post("/retry", h.handleRetry)
		r.Post("/sample", h.handleSample)
		r.Post("/reset", h.handleReset)
		r.Get("/result", h.handleResult)
		r.Get("/events", h.handleEvents)
		r.Get("/ws", h.handleWebSocket)
	})
}

type openResponse struct {
	ClientID string              `json:"clientId"`
	Snapshot onboarding.Snapshot `json:"snapshot"`
}

// handleOpen 创建或恢复客户端会话。请求体可为空，或携带之前的 clientId。
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientID string `json:"clientId"`
	}
	if err := utils.DecodeJSON(r, &payload, true); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, created, err := h.registry.Open(payload.ClientID)
	if errors.Is(err, onboarding.ErrUnknownClient) {
		utils.RespondError(w, http.StatusBadRequest, "clientId must be a UUID")
		return
	}
	if err != nil {
		h.respondControllerError(w, err)
		return
	}
	h.rememberToken(r, client)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if err := client.Start(r.Context()); err != nil {
			h.respondControllerError(w, err)
			return
		}
	}

	snap, err := client.Snapshot(r.Context())
	if err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, status, openResponse{ClientID: client.ID, Snapshot: snap})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, http.StatusOK, nil)
}

// handleSubmit 提交一条用户输入。回复异步到达，可通过 events 或 ws 订阅。
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.withClient(w, r, http.StatusAccepted, func(ctx context.Context, c *onboarding.Client) error {
		return c.SubmitUserInput(ctx, payload.Text)
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, http.StatusAccepted, func(ctx context.Context, c *onboarding.Client) error {
		return c.Retry(ctx)
	})
}

func (h *Handler) handleSample(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, http.StatusOK, func(ctx context.Context, c *onboarding.Client) error {
		return c.UseSampleData(ctx)
	})
}

// handleReset 清空会话并立即开始新的对话。
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, http.StatusAccepted, func(ctx context.Context, c *onboarding.Client) error {
		if err := c.Reset(ctx); err != nil {
			return err
		}
		return c.Start(ctx)
	})
}

// handleResult 返回最近一次完成时交给展示层的结果。
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	result, done, err := client.Result(r.Context())
	if err != nil {
		h.respondControllerError(w, err)
		return
	}
	if !done {
		utils.RespondError(w, http.StatusNotFound, "onboarding not complete")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) client(w http.ResponseWriter, r *http.Request) (*onboarding.Client, bool) {
	client, err := h.registry.Get(chi.URLParam(r, "clientID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "client not found")
		return nil, false
	}
	h.rememberToken(r, client)
	return client, true
}

// rememberToken 保存请求携带的 Bearer token，供登录用户保存 persona 使用。
func (h *Handler) rememberToken(r *http.Request, client *onboarding.Client) {
	token := bearerToken(r)
	if token == "" {
		return
	}
	if err := client.SetToken(r.Context(), token); err != nil {
		h.logger.Warnf("[onboarding] store auth token for %s: %v", client.ID, err)
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// withClient 执行操作后返回最新快照。
func (h *Handler) withClient(w http.ResponseWriter, r *http.Request, status int, op func(context.Context, *onboarding.Client) error) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	if op != nil {
		if err := op(r.Context(), client); err != nil {
			h.respondControllerError(w, err)
			return
		}
	}
	snap, err := client.Snapshot(r.Context())
	if err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, status, snap)
}

func (h *Handler) respondControllerError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnf("[onboarding] request failed: %v", err)
	}
	utils.RespondError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, onboarding.ErrEmptyInput):
		return http.StatusBadRequest, "message is empty"
	case errors.Is(err, onboarding.ErrUnknownClient):
		return http.StatusNotFound, "client not found"
	case errors.Is(err, onboarding.ErrNotRetryable):
		return http.StatusConflict, "the failed step cannot be retried, start a new assessment"
	case errors.Is(err, onboarding.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, onboarding.ErrClosed):
		return http.StatusServiceUnavailable, "onboarding is shutting down"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
