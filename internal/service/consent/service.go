package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/fin-onboard/backend/internal/analysis/consent"
)

// Config 控制同意判定服务的行为。
type Config struct {
	Enabled bool
	// MinConfidence 低于该置信度的模型结果回退到启发式规则。
	MinConfidence float32
}

// Result 表示一次判定结果。
type Result struct {
	Verdict    analysis.Verdict
	Confidence float32
	Reason     string
}

// Service 使用大模型判定用户是否同意查看推荐，失败时回退到关键词启发式。
type Service struct {
	enabled       bool
	minConfidence float32
	classifier    compose.Runnable[map[string]any, *schema.Message]
	fallback      func(answer string) analysis.Decision
	logger        *zap.SugaredLogger
}

// NewService 创建判定服务。chatModel 为 nil 或未启用时只使用启发式规则。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config, logger *zap.SugaredLogger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}

	svc := &Service{
		enabled:       cfg.Enabled && chatModel != nil,
		minConfidence: minConfidence,
		fallback:      analysis.Analyze,
		logger:        logger,
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(consentSystemPrompt),
		schema.UserMessage(consentUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile consent classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了大模型判定。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify 判定 answer 是否同意 question。
func (s *Service) Classify(ctx context.Context, question, answer string) Result {
	if !s.Enabled() {
		return s.fallbackResult(answer)
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{
		"question": strings.TrimSpace(question),
		"answer":   strings.TrimSpace(answer),
	})
	if err != nil {
		s.logger.Warnf("[consent] classifier invoke failed, use fallback: %v", err)
		return s.fallbackResult(answer)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackResult(answer)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warnf("[consent] classifier output parse failed, use fallback: %v", err)
		return s.fallbackResult(answer)
	}

	verdict, ok := parseVerdict(payload.Verdict)
	if !ok || payload.Confidence < s.minConfidence {
		return s.fallbackResult(answer)
	}

	confidence := payload.Confidence
	if confidence > 1 {
		confidence = 1
	}
	return Result{Verdict: verdict, Confidence: confidence, Reason: strings.TrimSpace(payload.Reason)}
}

func (s *Service) fallbackResult(answer string) Result {
	decision := s.fallback(answer)
	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.6
	}
	return Result{Verdict: decision.Verdict, Confidence: confidence, Reason: "fallback"}
}

// parseClassifierOutput 解析大模型返回的 JSON。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func parseVerdict(raw string) (analysis.Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "affirmative", "yes":
		return analysis.Affirmative, true
	case "negative", "no":
		return analysis.Negative, true
	case "sample", "mock":
		return analysis.Sample, true
	case "unrecognized", "unknown", "unclear":
		return analysis.Unrecognized, true
	default:
		return "", false
	}
}

type classifierPayload struct {
	Verdict    string  `json:"verdict"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const consentSystemPrompt = "You classify a user's answer to a yes/no question asked at the end of a financial onboarding dialogue.\nReturn only one JSON object with fields: verdict (one of affirmative/negative/sample/unrecognized; use sample only when the user asks for sample or mock data), confidence (number between 0 and 1), reason (short English explanation). Use unrecognized when the answer is ambiguous. Output nothing else."

const consentUserPrompt = "Question:\n{question}\n\nAnswer:\n{answer}\n\nReturn the JSON."
