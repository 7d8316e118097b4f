package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doorap/dori/internal/agent"
	"github.com/doorap/dori/internal/caller"
	"github.com/doorap/dori/internal/scheduler"
)

type echoAsker struct {
	mu      sync.Mutex
	callers []string
	cc      []agent.CallerContext
}

func (e *echoAsker) Invoke(ctx context.Context, q string, cc agent.CallerContext) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callers = append(e.callers, caller.From(ctx))
	e.cc = append(e.cc, cc)
	return "answer to: " + q
}

func (e *echoAsker) call(i int) (string, agent.CallerContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callers[i], e.cc[i]
}

func newTestServer(t *testing.T, a Asker, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithGatherer(prometheus.NewRegistry()),
	}, opts...)
	s := New(a, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postAsk(t *testing.T, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/api/dori/ask", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestAsk(t *testing.T) {
	a := &echoAsker{}
	_, ts := newTestServer(t, a)

	resp, body := postAsk(t, ts.URL, `{"message":"Who owes rent?","context":{"currentUser":"jane","company":"Leith Lettings"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var out AskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != "answer to: Who owes rent?" {
		t.Errorf("answer = %q", out.Answer)
	}
	id, cc := a.call(0)
	if id != "http:jane" {
		t.Errorf("caller = %q", id)
	}
	if cc["company"] != "Leith Lettings" {
		t.Errorf("context = %v", cc)
	}
}

func TestAskCallerHeaderWins(t *testing.T) {
	a := &echoAsker{}
	_, ts := newTestServer(t, a)
	postAsk(t, ts.URL, `{"message":"hi","context":{"currentUser":"jane"}}`, http.Header{userHeader: {"ops"}})
	if id, _ := a.call(0); id != "http:ops" {
		t.Errorf("caller = %q", id)
	}
}

func TestAskBadRequests(t *testing.T) {
	_, ts := newTestServer(t, &echoAsker{})
	for _, body := range []string{`not json`, `{"message":"   "}`, `{}`} {
		resp, b := postAsk(t, ts.URL, body, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, resp.StatusCode)
		}
		if !strings.Contains(string(b), `"error"`) {
			t.Errorf("%s: body = %s", body, b)
		}
	}

	big := `{"message":"` + strings.Repeat("a", maxRequestBytes) + `"}`
	if resp, _ := postAsk(t, ts.URL, big, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized body: status = %d", resp.StatusCode)
	}
}

func TestAskWrongMethod(t *testing.T) {
	_, ts := newTestServer(t, &echoAsker{})
	resp, err := http.Get(ts.URL + "/api/dori/ask")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	_, ts := newTestServer(t, &echoAsker{}, WithHealthCheck(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("database is down")
	}))

	get := func() int {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	if code := get(); code != http.StatusOK {
		t.Errorf("healthy status = %d", code)
	}
	healthy.Store(false)
	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := agent.NewMetrics(reg)
	m.Cycles.WithLabelValues("answered").Inc()
	_, ts := newTestServer(t, &echoAsker{}, WithGatherer(reg))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `dori_agent_cycles_total{outcome="answered"} 1`) {
		t.Errorf("metrics body missing cycle counter:\n%s", b)
	}
}

func TestToolsAndVersion(t *testing.T) {
	_, ts := newTestServer(t, &echoAsker{})

	resp, err := http.Get(ts.URL + "/api/dori/tools")
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(list) != 4 || list[0]["name"] != "get_arrears_report" {
		t.Errorf("tools = %v", list)
	}

	resp, err = http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var v map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v["version"] == "" {
		t.Errorf("version = %v", v)
	}
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/dori/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func TestWebsocketChat(t *testing.T) {
	a := &echoAsker{}
	_, ts := newTestServer(t, a)
	c := dial(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, c, AskRequest{Message: "rent at Elm Street?", Context: agent.CallerContext{"currentUser": "jane"}}); err != nil {
		t.Fatal(err)
	}
	var out AskResponse
	if err := wsjson.Read(ctx, c, &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != "answer to: rent at Elm Street?" {
		t.Errorf("answer = %q", out.Answer)
	}
	if id, _ := a.call(0); id != "ws:jane" {
		t.Errorf("caller = %q", id)
	}

	if err := wsjson.Write(ctx, c, AskRequest{}); err != nil {
		t.Fatal(err)
	}
	var e errorResponse
	if err := wsjson.Read(ctx, c, &e); err != nil {
		t.Fatal(err)
	}
	if e.Error != "message is required" {
		t.Errorf("error = %q", e.Error)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func TestHubBroadcastsDigests(t *testing.T) {
	s, ts := newTestServer(t, &echoAsker{})
	c := dial(t, ts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Round trip once so the server has registered the connection.
	if err := wsjson.Write(ctx, c, AskRequest{Message: "ping"}); err != nil {
		t.Fatal(err)
	}
	var ack AskResponse
	if err := wsjson.Read(ctx, c, &ack); err != nil {
		t.Fatal(err)
	}
	if s.Hub().Len() != 1 {
		t.Fatalf("hub clients = %d", s.Hub().Len())
	}

	if err := s.Hub().Notify(ctx, "morning-arrears", "Two tenants owe rent."); err != nil {
		t.Fatal(err)
	}
	var msg DigestMessage
	if err := wsjson.Read(ctx, c, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Digest != "morning-arrears" || msg.Answer != "Two tenants owe rent." {
		t.Errorf("digest = %+v", msg)
	}
}

func TestListenAndServeShutsDown(t *testing.T) {
	s := New(&echoAsker{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithGatherer(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestDigestEndpoints(t *testing.T) {
	sched := scheduler.New(&echoAsker{}, nil, scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	sched.Start([]scheduler.Job{
		{Name: "arrears", Schedule: "0 8 * * 1-5", Question: "Who owes rent?"},
		{Name: "certs", Schedule: "@weekly", Question: "Which certificates expire soon?", Paused: true},
	})
	defer func() { _ = sched.Stop(context.Background()) }()

	s, ts := newTestServer(t, &echoAsker{})
	s.HandleDigests(sched)

	list := func() map[string]digestInfo {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/dori/digests")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		var out []digestInfo
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		byName := map[string]digestInfo{}
		for _, d := range out {
			byName[d.Name] = d
		}
		return byName
	}
	post := func(path string) int {
		t.Helper()
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	got := list()
	if d := got["arrears"]; d.Paused || d.NextRun == nil {
		t.Errorf("arrears = %+v", d)
	}
	if d := got["certs"]; !d.Paused || d.NextRun != nil {
		t.Errorf("certs = %+v", d)
	}

	if code := post("/api/dori/digests/arrears/pause"); code != http.StatusNoContent {
		t.Fatalf("pause status = %d", code)
	}
	if code := post("/api/dori/digests/certs/resume"); code != http.StatusNoContent {
		t.Fatalf("resume status = %d", code)
	}
	got = list()
	if d := got["arrears"]; !d.Paused || d.NextRun != nil {
		t.Errorf("after pause: %+v", d)
	}
	if d := got["certs"]; d.Paused || d.NextRun == nil {
		t.Errorf("after resume: %+v", d)
	}

	if code := post("/api/dori/digests/nope/pause"); code != http.StatusNotFound {
		t.Errorf("unknown digest status = %d", code)
	}
}
