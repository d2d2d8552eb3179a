package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mediaflow/internal/api"
	"mediaflow/internal/events"
	"mediaflow/internal/logging"
	"mediaflow/internal/template"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

const clipTemplate = `{
  "id": "clip",
  "name": "Clip",
  "steps": [
    {"id": "ingest", "kind": "ingest"},
    {"id": "review", "kind": "review", "depends_on": ["ingest"]}
  ]
}`

func startTestDaemon(t *testing.T, token string) (*Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	cfg.Orchestrator.BuiltinTemplates = false
	d, err := New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, "http://" + d.APIAddress()
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPIWorkflowLifecycle(t *testing.T) {
	_, base := startTestDaemon(t, "")

	var reg api.TemplateResponse
	if code := doJSON(t, http.MethodPost, base+"/api/templates", "", clipTemplate, &reg); code != http.StatusCreated {
		t.Fatalf("register template: status %d", code)
	}
	if reg.Template.ID != "clip" || reg.Template.Steps != 2 {
		t.Fatalf("unexpected template response: %+v", reg)
	}
	if code := doJSON(t, http.MethodPost, base+"/api/templates", "", clipTemplate, &reg); code != http.StatusOK || reg.Created {
		t.Fatalf("re-registration should return 200 without creating, got %d %+v", code, reg)
	}

	var started api.WorkflowResponse
	req := api.StartWorkflowRequest{Template: "clip", Asset: "reel-9"}
	if code := doJSON(t, http.MethodPost, base+"/api/workflows", "", req, &started); code != http.StatusCreated {
		t.Fatalf("start workflow: status %d", code)
	}
	id := started.Workflow.ID

	deadline := time.Now().Add(5 * time.Second)
	var current api.WorkflowResponse
	for {
		if code := doJSON(t, http.MethodGet, base+"/api/workflows/"+id, "", nil, &current); code != http.StatusOK {
			t.Fatalf("get workflow: status %d", code)
		}
		if current.Workflow.State == string(workflow.StateCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("workflow stuck in %s", current.Workflow.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var list api.WorkflowListResponse
	if code := doJSON(t, http.MethodGet, base+"/api/workflows?state=completed&template=clip", "", nil, &list); code != http.StatusOK || len(list.Workflows) != 1 {
		t.Fatalf("list workflows: status %d, %d items", code, len(list.Workflows))
	}

	var apiErr api.ErrorResponse
	if code := doJSON(t, http.MethodPost, base+"/api/workflows/"+id+"/retry", "", nil, &apiErr); code != http.StatusConflict {
		t.Fatalf("retry of completed workflow: status %d", code)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/workflows/"+id, "", nil, nil); code != http.StatusNoContent {
		t.Fatalf("archive: status %d", code)
	}
	if code := doJSON(t, http.MethodGet, base+"/api/workflows/"+id, "", nil, &apiErr); code != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("archived workflow: status %d code %q", code, apiErr.Code)
	}

	var evts api.EventListResponse
	if code := doJSON(t, http.MethodGet, base+"/api/events?since=0&limit=1000", "", nil, &evts); code != http.StatusOK {
		t.Fatalf("events: status %d", code)
	}
	var sawCompleted bool
	for _, evt := range evts.Events {
		if evt.WorkflowID == id && evt.Type == events.TypeWorkflowStateChanged && evt.To == string(workflow.StateCompleted) {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatalf("completion event missing from %d events", len(evts.Events))
	}
}

func TestAPIRejectsBadRequests(t *testing.T) {
	_, base := startTestDaemon(t, "")
	var apiErr api.ErrorResponse

	cases := []struct {
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{http.MethodPost, "/api/templates", `{"id":"x","steps":[],"bogus":1}`, http.StatusBadRequest, "invalid_template"},
		{http.MethodPost, "/api/templates", `{"id":"loop","name":"Loop","steps":[{"id":"a","kind":"noop","depends_on":["b"]},{"id":"b","kind":"noop","depends_on":["a"]}]}`, http.StatusBadRequest, "invalid_template"},
		{http.MethodPost, "/api/workflows", api.StartWorkflowRequest{Template: "missing", Asset: "a"}, http.StatusNotFound, "template_not_found"},
		{http.MethodPost, "/api/workflows", api.StartWorkflowRequest{Template: "missing"}, http.StatusBadRequest, "bad_request"},
		{http.MethodGet, "/api/workflows?state=bogus", nil, http.StatusBadRequest, "bad_request"},
		{http.MethodPost, "/api/workflows/nope/cancel", nil, http.StatusNotFound, "not_found"},
		{http.MethodPost, "/api/workflows/nope/explode", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			apiErr = api.ErrorResponse{}
			code := doJSON(t, tc.method, base+tc.path, "", tc.body, &apiErr)
			if code != tc.status || apiErr.Code != tc.code {
				t.Fatalf("got %d %q, want %d %q", code, apiErr.Code, tc.status, tc.code)
			}
		})
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	_, base := startTestDaemon(t, "s3cret")

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	var status api.DaemonStatus
	if code := doJSON(t, http.MethodGet, base+"/api/status", "s3cret", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if !status.Running || len(status.Executors) == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAPIMetricsEndpoint(t *testing.T) {
	_, base := startTestDaemon(t, "")
	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "mediaflow_dispatch_in_flight") {
		t.Fatalf("dispatch gauge missing from exposition")
	}
}

func TestAPIEventStreamDeliversEvents(t *testing.T) {
	d, base := startTestDaemon(t, "")
	if _, err := d.RegisterTemplate(context.Background(), mustParse(t, clipTemplate)); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	wf, err := d.StartWorkflow(context.Background(), "clip", "reel-1")
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.WorkflowID == wf.ID && evt.Terminal() {
			if evt.To != string(workflow.StateCompleted) {
				t.Fatalf("unexpected terminal state %s", evt.To)
			}
			return
		}
	}
}

func TestWriteDomainErrorStatus(t *testing.T) {
	srv := &apiServer{}
	cases := []struct {
		err    error
		status int
	}{
		{workflow.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", workflow.ErrIllegalTransition), http.StatusConflict},
		{workflow.ErrInvalidTemplate, http.StatusBadRequest},
		{ErrNotRunning, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		srv.writeDomainError(w, tc.err)
		if w.Code != tc.status {
			t.Fatalf("%v: got %d, want %d", tc.err, w.Code, tc.status)
		}
	}
}

func mustParse(t *testing.T, body string) template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tpl
}

func TestAPITokenRejectsWrongValue(t *testing.T) {
	_, base := startTestDaemon(t, "s3cret")
	var apiErr api.ErrorResponse
	if code := doJSON(t, http.MethodGet, base+"/api/workflows", "wrong", nil, &apiErr); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", code)
	}
	if apiErr.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %+v", apiErr)
	}
}
