package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

func testConfig(url string) Config {
	return Config{
		UnderstanderURL:   url,
		AuthURL:           url,
		RecommenderURL:    url,
		UnderstandTimeout: time.Second,
		BootstrapTimeout:  time.Second,
		ProfileTimeout:    time.Second,
		RecommendTimeout:  time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func requireFault(t *testing.T, err error, kind Kind) *Fault {
	t.Helper()
	require.Error(t, err)
	fault, ok := AsFault(err)
	require.True(t, ok, "expected *Fault, got %T: %v", err, err)
	assert.Equal(t, kind, fault.Kind)
	return fault
}

func TestUnderstandSendsSessionAndToken(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/understand", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, `{"session_id":"s-1","text":"What is your income?","state":{"is_complete":false}}`)
	}))
	defer srv.Close()

	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), TokenKey, "tok-123"))

	client := NewUnderstanderClient(testConfig(srv.URL), StoredToken{KV: kv}, zap.NewNop().Sugar())
	reply, err := client.Understand(context.Background(), "50000", "s-1")
	require.NoError(t, err)

	assert.Equal(t, Reply{SessionID: "s-1", Text: "What is your income?"}, reply)
	assert.Equal(t, "50000", got["message"])
	assert.Equal(t, "s-1", got["session_id"])
	assert.Equal(t, "Bearer tok-123", auth)
}

func TestUnderstandBootstrapSendsNullSession(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"session_id":"new","text":"Hi there","state":{"is_complete":false}}`)
	}))
	defer srv.Close()

	client := NewUnderstanderClient(testConfig(srv.URL), StoredToken{KV: storage.NewMemoryStore()}, zap.NewNop().Sugar())
	reply, err := client.Understand(context.Background(), "Hello", "")
	require.NoError(t, err)
	assert.Equal(t, "new", reply.SessionID)

	value, present := got["session_id"]
	assert.True(t, present)
	assert.Nil(t, value)
}

func TestUnderstandMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>`,
		"no session":     `{"text":"hi","state":{"is_complete":false}}`,
		"no text":        `{"session_id":"s","state":{"is_complete":false}}`,
		"no state":       `{"session_id":"s","text":"hi"}`,
		"no is_complete": `{"session_id":"s","text":"hi","state":{}}`,
		"blank text":     `{"session_id":"s","text":"  ","state":{"is_complete":true}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, body)
			}))
			defer srv.Close()

			client := NewUnderstanderClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
			_, err := client.Understand(context.Background(), "x", "s")
			requireFault(t, err, KindMalformed)
		})
	}
}

func TestServerErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"model overloaded"}`)
	}))
	defer srv.Close()

	client := NewUnderstanderClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	_, err := client.Understand(context.Background(), "x", "s")
	fault := requireFault(t, err, KindServerError)
	assert.Equal(t, http.StatusInternalServerError, fault.Status)
	assert.Equal(t, "model overloaded", fault.Message)
	assert.False(t, fault.SessionGone())
	assert.False(t, fault.Network())
}

func TestNotFoundIsSessionGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"message":"unknown session"}`)
	}))
	defer srv.Close()

	client := NewUnderstanderClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	_, err := client.Understand(context.Background(), "x", "expired")
	fault := requireFault(t, err, KindServerError)
	assert.True(t, fault.SessionGone())
	assert.Equal(t, "expired", fault.SessionID)
	assert.Equal(t, "unknown session", fault.Message)
}

func TestNotFoundWithoutSessionIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cfg := testConfig(srv.URL)

	_, err := NewUnderstanderClient(cfg, nil, zap.NewNop().Sugar()).Understand(context.Background(), "Hello", "")
	fault := requireFault(t, err, KindServerError)
	assert.False(t, fault.SessionGone(), "bootstrap carries no session")

	_, err = NewRecommenderClient(cfg, nil, zap.NewNop().Sugar()).Recommend(context.Background(), persona.Sample())
	fault = requireFault(t, err, KindServerError)
	assert.Equal(t, http.StatusNotFound, fault.Status)
	assert.False(t, fault.SessionGone())

	err = NewProfileClient(cfg, nil, zap.NewNop().Sugar()).SavePersona(context.Background(), persona.Sample())
	fault = requireFault(t, err, KindServerError)
	assert.False(t, fault.SessionGone())

	_, err = NewProfileClient(cfg, nil, zap.NewNop().Sugar()).ExtractPersona(context.Background(), "s-9")
	fault = requireFault(t, err, KindServerError)
	assert.True(t, fault.SessionGone())
}

func TestTimeoutFault(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.UnderstandTimeout = 50 * time.Millisecond
	client := NewUnderstanderClient(cfg, nil, zap.NewNop().Sugar())

	_, err := client.Understand(context.Background(), "x", "s")
	fault := requireFault(t, err, KindTimeout)
	assert.True(t, fault.Network())
}

func TestUnreachableFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewUnderstanderClient(testConfig(url), nil, zap.NewNop().Sugar())
	_, err := client.Understand(context.Background(), "x", "s")
	fault := requireFault(t, err, KindUnreachable)
	assert.True(t, fault.Network())
}

func TestExtractPersona(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/user/profile", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "s-9", body["session_id"])
		writeJSON(w, http.StatusOK, `{"persona":{"Income":90000,"goals":["retire early"],"risk_tolerance":"high"}}`)
	}))
	defer srv.Close()

	client := NewProfileClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	p, err := client.ExtractPersona(context.Background(), "s-9")
	require.NoError(t, err)

	income, ok := p.Amount(persona.Income)
	require.True(t, ok)
	assert.Equal(t, "90000", income.String())
	assert.Equal(t, []string{"retire early"}, p.List(persona.Goals))
}

func TestExtractPersonaMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"missing": `{"ok":true}`,
		"null":    `{"persona":null}`,
		"empty":   `{"persona":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, body)
			}))
			defer srv.Close()

			client := NewProfileClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
			_, err := client.ExtractPersona(context.Background(), "s")
			requireFault(t, err, KindMalformed)
		})
	}
}

func TestSavePersona(t *testing.T) {
	var saved map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/persona", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&saved)
		writeJSON(w, http.StatusOK, `{"success":true}`)
	}))
	defer srv.Close()

	client := NewProfileClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	require.NoError(t, client.SavePersona(context.Background(), persona.Sample()))
	assert.Equal(t, "moderate", saved["persona"]["risk_tolerance"])
}

func TestSavePersonaRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":false,"error":"user not found"}`)
	}))
	defer srv.Close()

	client := NewProfileClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	err := client.SavePersona(context.Background(), persona.Sample())
	fault := requireFault(t, err, KindServerError)
	assert.Equal(t, "user not found", fault.Message)
}

func recommenderServer(t *testing.T, recs, news string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/recommendations":
			writeJSON(w, http.StatusOK, recs)
		case "/api/v1/news":
			writeJSON(w, http.StatusOK, news)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRecommend(t *testing.T) {
	srv := recommenderServer(t,
		`{"recommendations":[
			{"product":{"id":"p1","name":"Index Fund","description":"Broad market","features":["low fee"]},"confidence":0.9,"explanation":"fits"},
			{"product":"Bond Ladder","confidence_score":0.4,"explanation":"stable"}
		]}`,
		`{"news":[{"title":"Rates hold","summary":"Fed unchanged","date":"2024-05-01"},{"title":"Markets up","summary":"","date":"someday"}]}`,
	)
	defer srv.Close()

	client := NewRecommenderClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
	set, err := client.Recommend(context.Background(), persona.Sample())
	require.NoError(t, err)

	require.Len(t, set.Recommendations, 2)
	assert.Equal(t, "Index Fund", set.Recommendations[0].Product.Name)
	assert.Equal(t, []string{"low fee"}, set.Recommendations[0].Product.Features)
	assert.Equal(t, "Bond Ladder", set.Recommendations[1].Product.Name)
	assert.InDelta(t, 0.4, set.Recommendations[1].Confidence, 1e-9)
	assert.False(t, set.Sample)

	require.Len(t, set.News, 2)
	require.NotNil(t, set.News[0].Date)
	assert.Equal(t, 2024, set.News[0].Date.Year())
	assert.Nil(t, set.News[1].Date)
}

func TestRecommendRejectsBadPayloads(t *testing.T) {
	goodNews := `{"news":[]}`
	goodRecs := `{"recommendations":[]}`
	cases := []struct {
		name string
		recs string
		news string
	}{
		{"missing recommendations", `{}`, goodNews},
		{"confidence above one", `{"recommendations":[{"product":"A","confidence":1.5,"explanation":"x"}]}`, goodNews},
		{"confidence missing", `{"recommendations":[{"product":"A","explanation":"x"}]}`, goodNews},
		{"explanation missing", `{"recommendations":[{"product":"A","confidence":0.5}]}`, goodNews},
		{"product missing", `{"recommendations":[{"confidence":0.5,"explanation":"x"}]}`, goodNews},
		{"product without name", `{"recommendations":[{"product":{"id":"1"},"confidence":0.5,"explanation":"x"}]}`, goodNews},
		{"missing news", goodRecs, `{}`},
		{"news without title", goodRecs, `{"news":[{"summary":"s"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := recommenderServer(t, tc.recs, tc.news)
			defer srv.Close()

			client := NewRecommenderClient(testConfig(srv.URL), nil, zap.NewNop().Sugar())
			_, err := client.Recommend(context.Background(), persona.Sample())
			requireFault(t, err, KindMalformed)
		})
	}
}

func TestRecommendRequiresPersona(t *testing.T) {
	client := NewRecommenderClient(testConfig("http://127.0.0.1:1"), nil, zap.NewNop().Sugar())
	_, err := client.Recommend(context.Background(), persona.Persona{})
	requireFault(t, err, KindMalformed)
}
