package onboarding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

// scriptedUnderstander asks a fixed list of questions and then reports the
// dialogue complete. fail makes every call return that error instead.
type scriptedUnderstander struct {
	mu        sync.Mutex
	questions []string
	asked     int
	fail      error
}

func (s *scriptedUnderstander) Understand(_ context.Context, _, _ string) (gateway.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return gateway.Reply{}, s.fail
	}
	if s.asked >= len(s.questions) {
		return gateway.Reply{SessionID: "s-1", Text: "Thanks, that is everything.", IsComplete: true}, nil
	}
	q := s.questions[s.asked]
	s.asked++
	return gateway.Reply{SessionID: "s-1", Text: q}, nil
}

type staticProfiles struct{}

func (staticProfiles) ExtractPersona(context.Context, string) (persona.Persona, error) {
	return persona.Persona{persona.Income: 64000.0, persona.RiskTolerance: "medium"}, nil
}

func (staticProfiles) SavePersona(context.Context, persona.Persona) error { return nil }

type staticRecommender struct{}

func (staticRecommender) Recommend(context.Context, persona.Persona) (recommendation.Set, error) {
	return recommendation.Set{
		Recommendations: []recommendation.Recommendation{{
			Product:     recommendation.Product{Name: "Index Fund"},
			Confidence:  0.8,
			Explanation: "Medium risk tolerance",
		}},
		News: []recommendation.NewsItem{},
	}, nil
}

func newTestServer(t *testing.T, u *scriptedUnderstander) *httptest.Server {
	t.Helper()
	registry := onboarding.NewRegistry(onboarding.RegistryConfig{
		Controller: onboarding.Config{
			WelcomeMessage: "Welcome!",
			Deadlines: onboarding.Deadlines{
				Bootstrap:  time.Second,
				Understand: time.Second,
				Profile:    time.Second,
				Recommend:  time.Second,
			},
		},
		Storage: storage.NewMemoryStore(),
		NewGateway: func(gateway.TokenSource) gateway.Gateway {
			return gateway.Gateway{Understander: u, Profiles: staticProfiles{}, Recommender: staticRecommender{}}
		},
	})

	h := New(registry, nil)
	h.heartbeat = 50 * time.Millisecond
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		registry.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func openClient(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/onboarding", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["clientId"].(string)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	return id
}

func waitForResult(t *testing.T, srv *httptest.Server, id string) map[string]any {
	t.Helper()
	var result map[string]any
	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/onboarding/"+id+"/result", nil)
		result = body
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond, "no result recorded")
	return result
}

func waitForState(t *testing.T, srv *httptest.Server, id, want string) map[string]any {
	t.Helper()
	var snap map[string]any
	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/onboarding/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		snap = body
		return body["state"] == want
	}, 3*time.Second, 10*time.Millisecond, "never reached %s", want)
	return snap
}

func TestOpenStartsDialogue(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{questions: []string{"What is your income?"}})
	id := openClient(t, srv)

	snap := waitForState(t, srv, id, "awaiting_user_input")
	messages := snap["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "bot", first["sender"])
	assert.Equal(t, "Welcome!\n\nWhat is your income?", first["text"])
	assert.Equal(t, true, snap["inputEnabled"])

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/onboarding", map[string]string{"clientId": id})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["clientId"])
}

func TestOpenRejectsMalformedClientID(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/onboarding", map[string]string{"clientId": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "UUID")
}

func TestUnknownClientIsNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{})
	for _, path := range []string{"", "/result", "/events"} {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/onboarding/"+uuid.NewString()+path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/onboarding/"+uuid.NewString()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDialogueRunsToResult(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{questions: []string{"What is your income?", "What are your goals?"}})
	id := openClient(t, srv)
	base := srv.URL + "/onboarding/" + id
	waitForState(t, srv, id, "awaiting_user_input")

	resp, _ := doJSON(t, http.MethodGet, base+"/result", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, base+"/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "message is empty", body["error"])

	resp, _ = doJSON(t, http.MethodPost, base+"/messages", map[string]string{"text": "About 64k a year"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, srv, id, "awaiting_user_input")

	resp, _ = doJSON(t, http.MethodPost, base+"/messages", map[string]string{"text": "Retire early"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	snap := waitForState(t, srv, id, "complete")
	assert.Len(t, snap["messages"].([]any), 5)
	assert.Equal(t, false, snap["inputEnabled"])

	result := waitForResult(t, srv, id)
	assert.Equal(t, false, result["declined"])
	recs := result["recommendations"].(map[string]any)["recommendations"].([]any)
	require.Len(t, recs, 1)

	resp, body = doJSON(t, http.MethodPost, base+"/messages", map[string]string{"text": "more"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestBearerTokenReachesPersonaSave(t *testing.T) {
	var (
		mu   sync.Mutex
		auth []string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/user/profile":
			_, _ = w.Write([]byte(`{"persona":{"income":64000,"risk_tolerance":"medium"}}`))
		case "/api/v1/auth/persona":
			mu.Lock()
			auth = append(auth, r.Header.Get("Authorization"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"success":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	gwCfg := gateway.DefaultConfig()
	gwCfg.UnderstanderURL = upstream.URL
	gwCfg.AuthURL = upstream.URL
	u := &scriptedUnderstander{questions: []string{"What is your income?"}}
	registry := onboarding.NewRegistry(onboarding.RegistryConfig{
		Controller: onboarding.Config{Deadlines: onboarding.Deadlines{
			Bootstrap:  time.Second,
			Understand: time.Second,
			Profile:    time.Second,
			Recommend:  time.Second,
		}},
		Storage: storage.NewMemoryStore(),
		NewGateway: func(tokens gateway.TokenSource) gateway.Gateway {
			return gateway.Gateway{
				Understander: u,
				Profiles:     gateway.NewProfileClient(gwCfg, tokens, zap.NewNop().Sugar()),
				Recommender:  staticRecommender{},
			}
		},
	})
	r := chi.NewRouter()
	New(registry, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer func() {
		srv.Close()
		registry.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/onboarding", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var opened openResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&opened))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	id := opened.ClientID
	waitForState(t, srv, id, "awaiting_user_input")
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/onboarding/"+id+"/messages", map[string]string{"text": "64k"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, srv, id, "complete")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer tok-1"}, auth)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, bearerToken(r), "header %q", header)
	}
}

func TestRetryOutsideErrorConflicts(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{questions: []string{"Q1"}})
	id := openClient(t, srv)
	waitForState(t, srv, id, "awaiting_user_input")

	for _, action := range []string{"retry", "sample"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/onboarding/"+id+"/"+action, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, action)
	}
}

func TestSampleDataAfterFault(t *testing.T) {
	u := &scriptedUnderstander{fail: &gateway.Fault{Op: "understand", Kind: gateway.KindServerError, Status: 500, Message: "boom"}}
	srv := newTestServer(t, u)
	id := openClient(t, srv)

	snap := waitForState(t, srv, id, "error")
	fault := snap["fault"].(map[string]any)
	assert.Equal(t, "boom", fault["message"])
	assert.Equal(t, true, fault["retryable"])

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/onboarding/"+id+"/sample", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "complete", body["state"])

	result := waitForResult(t, srv, id)
	assert.Equal(t, true, result["recommendations"].(map[string]any)["sample"])
}

func TestResetStartsOver(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{questions: []string{"Q1", "Q2", "Q3"}})
	id := openClient(t, srv)
	base := srv.URL + "/onboarding/" + id
	waitForState(t, srv, id, "awaiting_user_input")

	resp, _ := doJSON(t, http.MethodPost, base+"/messages", map[string]string{"text": "answer"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	snap := waitForState(t, srv, id, "awaiting_user_input")
	require.Len(t, snap["messages"].([]any), 3)

	resp, _ = doJSON(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		_, body := doJSON(t, http.MethodGet, base, nil)
		msgs, _ := body["messages"].([]any)
		return body["state"] == "awaiting_user_input" && len(msgs) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEventStream(t *testing.T) {
	srv := newTestServer(t, &scriptedUnderstander{questions: []string{"Q1", "Q2"}})
	id := openClient(t, srv)
	waitForState(t, srv, id, "awaiting_user_input")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/onboarding/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}
	require.Equal(t, "snapshot", nextEvent())

	resp2, _ := doJSON(t, http.MethodPost, srv.URL+"/onboarding/"+id+"/messages", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusAccepted, resp2.StatusCode)

	var seen []string
	for len(seen) < 3 {
		name := nextEvent()
		require.NotEmpty(t, name, "stream ended after %v", seen)
		seen = append(seen, name)
	}
	assert.Equal(t, []string{"message_appended", "state_changed", "message_appended"}, seen)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{onboarding.ErrEmptyInput, http.StatusBadRequest},
		{onboarding.ErrUnknownClient, http.StatusNotFound},
		{onboarding.ErrNotRetryable, http.StatusConflict},
		{fmt.Errorf("%w: submit in complete", onboarding.ErrInvalidTransition), http.StatusConflict},
		{onboarding.ErrClosed, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, msg := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
		assert.NotEmpty(t, msg)
	}
}
