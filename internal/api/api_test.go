package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/flow"
	"github.com/BTreeMap/DengueCast/internal/messaging"
	"github.com/BTreeMap/DengueCast/internal/metrics"
	"github.com/BTreeMap/DengueCast/internal/models"
	"github.com/BTreeMap/DengueCast/internal/prediction"
	"github.com/BTreeMap/DengueCast/internal/session"
	"github.com/BTreeMap/DengueCast/internal/store"
	"github.com/BTreeMap/DengueCast/internal/twiliowhatsapp"
	"github.com/prometheus/client_golang/prometheus"
)

type stubModel struct{}

func (stubModel) EncodeDistrict(ctx context.Context, code int) ([]float64, error) {
	return []float64{float64(code)}, nil
}

func (stubModel) Predict(ctx context.Context, features []float64) (float64, error) {
	return 150, nil
}

type testServer struct {
	*Server
	handler http.Handler
	store   *store.InMemoryStore
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	years, err := catalog.NewYearCatalog(2015, 2020)
	if err != nil {
		t.Fatalf("NewYearCatalog: %v", err)
	}
	cats, err := catalog.New(years)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	st := store.NewInMemoryStore()
	mgr := session.NewManager(flow.NewMachine(cats, prediction.NewInvoker(stubModel{})), session.WithStore(st))
	srv := NewServer(mgr, cats, st, opts...)
	return &testServer{Server: srv, handler: srv.Handler(), store: st}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := createJSONRequest(t, method, path, body)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func createJSONRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func assertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

func assertJSONStatus(t *testing.T, rr *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != expected {
		t.Errorf("expected JSON status %q, got %q (message %q)", expected, resp.Status, resp.Message)
	}
}

// decodeResult decodes the envelope's result into v.
func decodeResult(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		t.Fatalf("failed to decode result %s: %v", env.Result, err)
	}
}

func createSession(t *testing.T, ts *testServer) models.SessionSnapshot {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/sessions", "")
	assertHTTPStatus(t, http.StatusCreated, rr.Code, "create session")
	var snap models.SessionSnapshot
	decodeResult(t, rr, &snap)
	return snap
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)

	if snap.SessionID == "" {
		t.Fatal("expected a session ID")
	}
	if snap.State.Stage != models.StageAwaitingGreeting {
		t.Errorf("expected AWAITING_GREETING, got %v", snap.State.Stage)
	}
	if len(snap.Transcript) != 1 || !strings.Contains(snap.Transcript[0].Content, "Dengue Prediction Bot") {
		t.Errorf("expected intro transcript, got %+v", snap.Transcript)
	}
}

func TestPostMessagesFullScenario(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)
	path := "/sessions/" + snap.SessionID + "/messages"

	inputs := []string{"hi", "2019", "July", "Dhaka", "120.5", "30.2", "78", "3.5", "15000"}
	var res models.TurnResult
	for _, in := range inputs {
		body, _ := json.Marshal(models.MessageRequest{Text: in})
		rr := ts.do(t, http.MethodPost, path, string(body))
		assertHTTPStatus(t, http.StatusOK, rr.Code, "post "+in)
		decodeResult(t, rr, &res)
	}

	if len(res.TranscriptDelta) != 2 || !strings.Contains(res.TranscriptDelta[1].Content, "Prediction Complete!") {
		t.Fatalf("unexpected final delta %+v", res.TranscriptDelta)
	}
	if res.State.Stage != models.StageAwaitingGreeting || res.State.Year != nil {
		t.Errorf("state should reset after prediction, got %+v", res.State)
	}

	rr := ts.do(t, http.MethodGet, "/predictions?limit=5", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "list predictions")
	var preds []models.PredictionRecord
	decodeResult(t, rr, &preds)
	if len(preds) != 1 || preds[0].DistrictCode != 16 || preds[0].PredictedCases != 150 {
		t.Errorf("unexpected predictions %+v", preds)
	}
}

func TestPostMessageNonFiniteNumbers(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)
	path := "/sessions/" + snap.SessionID + "/messages"

	inputs := []string{"hi", "2019", "July", "Dhaka", "nan", "inf", "-inf", "3.5"}
	for _, in := range inputs {
		body, _ := json.Marshal(models.MessageRequest{Text: in})
		rr := ts.do(t, http.MethodPost, path, string(body))
		assertHTTPStatus(t, http.StatusOK, rr.Code, "post "+in)
	}

	rr := ts.do(t, http.MethodGet, "/sessions/"+snap.SessionID, "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "get session with non-finite values")
	if !strings.Contains(rr.Body.String(), `"rainfall_mm":"NaN"`) || !strings.Contains(rr.Body.String(), `"temperature_c":"+Inf"`) {
		t.Errorf("expected non-finite values encoded as strings, got %s", rr.Body.String())
	}
	var got models.SessionSnapshot
	decodeResult(t, rr, &got)
	if got.State.Stage != models.StageAwaitingPopulation {
		t.Errorf("expected AWAITING_POPULATION, got %s", got.State.Stage)
	}
	if got.State.RainfallMm == nil || !math.IsNaN(*got.State.RainfallMm) {
		t.Errorf("rainfall should decode as NaN, got %v", got.State.RainfallMm)
	}
	if got.State.HumidityPct == nil || !math.IsInf(*got.State.HumidityPct, -1) {
		t.Errorf("humidity should decode as -Inf, got %v", got.State.HumidityPct)
	}

	rr = ts.do(t, http.MethodPost, path, `{"text":"15000"}`)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "post population")
	var res models.TurnResult
	decodeResult(t, rr, &res)
	if !strings.Contains(res.TranscriptDelta[1].Content, "Prediction Complete!") {
		t.Errorf("unexpected final reply %q", res.TranscriptDelta[1].Content)
	}

	rr = ts.do(t, http.MethodGet, "/predictions", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "list predictions with non-finite values")
	var preds []models.PredictionRecord
	decodeResult(t, rr, &preds)
	if len(preds) != 1 || !math.IsNaN(preds[0].RainfallMm) || !math.IsInf(preds[0].TemperatureC, 1) {
		t.Errorf("unexpected predictions %+v", preds)
	}
}

func TestPostMessageBlankTextReachesMachine(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)

	rr := ts.do(t, http.MethodPost, "/sessions/"+snap.SessionID+"/messages", `{"text":"   "}`)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "blank text")
	var res models.TurnResult
	decodeResult(t, rr, &res)
	if len(res.TranscriptDelta) != 2 || res.TranscriptDelta[0].Content != "" ||
		res.TranscriptDelta[1].Content != flow.GreetingRequiredMessage {
		t.Errorf("unexpected delta %+v", res.TranscriptDelta)
	}
	if res.State.Stage != models.StageAwaitingGreeting {
		t.Errorf("rejected input must keep the stage, got %s", res.State.Stage)
	}
}

func TestPostMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)
	path := "/sessions/" + snap.SessionID + "/messages"

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"missing text", `{}`},
		{"empty text", `{"text":""}`},
		{"unknown field", `{"text":"hi","extra":1}`},
		{"too long", `{"text":"` + strings.Repeat("a", models.MaxMessageLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, path, tt.body)
			assertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			assertJSONStatus(t, rr, "error")
		})
	}

	got, err := ts.sessions.Get(snap.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Transcript) != 1 {
		t.Errorf("rejected requests must not touch the transcript, got %d turns", len(got.Transcript))
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/sessions/nope/messages", `{"text":"hi"}`)
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "post to unknown session")
	assertJSONStatus(t, rr, "error")

	rr = ts.do(t, http.MethodGet, "/sessions/nope", "")
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "get unknown session")

	rr = ts.do(t, http.MethodDelete, "/sessions/nope", "")
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "delete unknown session")
}

func TestGetAndDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	snap := createSession(t, ts)

	rr := ts.do(t, http.MethodPost, "/sessions/"+snap.SessionID+"/messages", `{"text":"hi"}`)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "post hi")

	rr = ts.do(t, http.MethodGet, "/sessions/"+snap.SessionID, "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "get session")
	var got models.SessionSnapshot
	decodeResult(t, rr, &got)
	if got.State.Stage != models.StageAwaitingYear || len(got.Transcript) != 3 {
		t.Errorf("unexpected snapshot %+v", got)
	}

	rr = ts.do(t, http.MethodDelete, "/sessions/"+snap.SessionID, "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "delete session")
	assertJSONStatus(t, rr, "ok")

	rr = ts.do(t, http.MethodGet, "/sessions/"+snap.SessionID, "")
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "get deleted session")
}

func TestCatalogHandler(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/catalog", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "catalog")

	var cat CatalogResponse
	decodeResult(t, rr, &cat)
	if len(cat.Years) != 6 || cat.Years[0] != 2015 || cat.Years[5] != 2020 {
		t.Errorf("unexpected years %v", cat.Years)
	}
	if len(cat.Months) != 12 || cat.Months[0] != "January" {
		t.Errorf("unexpected months %v", cat.Months)
	}
	if len(cat.Districts) != 20 || cat.Districts[0].Name != "Dhaka" || cat.Districts[0].Code != 16 {
		t.Errorf("unexpected districts %v", cat.Districts)
	}
}

func TestPredictionsLimitValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{"0", "-1", "abc"} {
		rr := ts.do(t, http.MethodGet, "/predictions?limit="+q, "")
		assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "limit="+q)
	}
	for _, q := range []string{"1125899906842624", "1000000000"} {
		rr := ts.do(t, http.MethodGet, "/predictions?limit="+q, "")
		assertHTTPStatus(t, http.StatusOK, rr.Code, "limit="+q)
	}
	rr := ts.do(t, http.MethodGet, "/predictions", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "default limit")
	if !strings.Contains(rr.Body.String(), `"result":[]`) {
		t.Errorf("empty list should encode as [], got %s", rr.Body.String())
	}
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)
	createSession(t, ts)

	rr := ts.do(t, http.MethodGet, "/health", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	var h HealthResponse
	decodeResult(t, rr, &h)
	if h.Status != "ok" || h.Sessions != 1 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/sessions", "")
	assertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET /sessions")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, WithMetrics(metrics.New(prometheus.NewRegistry())))
	rr := ts.do(t, http.MethodGet, "/metrics", "")
	assertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "denguecast_") {
		t.Errorf("expected denguecast metrics, got %s", rr.Body.String())
	}

	without := newTestServer(t)
	rr = without.do(t, http.MethodGet, "/metrics", "")
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "metrics disabled")
}

func TestTwilioWebhookRoute(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	ts := newTestServer(t, WithTwilioWebhook(svc))

	form := url.Values{"From": {"whatsapp:+8801711000000"}, "Body": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "twilio webhook")

	select {
	case resp := <-svc.Responses():
		if resp.Body != "hi" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("webhook should queue the inbound message")
	}
}
