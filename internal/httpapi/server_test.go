package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tkowalczyk/wabridge/internal/gateway"
	"github.com/tkowalczyk/wabridge/internal/history"
	"github.com/tkowalczyk/wabridge/internal/hub"
	"github.com/tkowalczyk/wabridge/internal/sched"
)

type fixedStatus struct {
	state gateway.Status
}

func (f *fixedStatus) ConnectionState() gateway.Status { return f.state }

type fakeInbound struct {
	recorded [][2]string
	handled  [][2]string
	reply    string
	err      error
}

func (f *fakeInbound) RecordInbound(sender, text string) error {
	f.recorded = append(f.recorded, [2]string{sender, text})
	return f.err
}

func (f *fakeInbound) HandleInbound(ctx context.Context, sender, text string) (string, error) {
	f.handled = append(f.handled, [2]string{sender, text})
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeRenderer struct {
	pdf []byte
	err error
	key string
}

func (f *fakeRenderer) Render(ctx context.Context, contactKey string, entries []history.Entry) ([]byte, error) {
	f.key = contactKey
	return f.pdf, f.err
}

type serverFixture struct {
	handler http.Handler
	store   *sched.Store
	history *history.Manager
	hub     *hub.Hub
	inbound *fakeInbound
	now     time.Time
}

func newFixture(t *testing.T, autoReply bool) *serverFixture {
	t.Helper()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &serverFixture{
		store:   sched.NewStore(sched.Config{Clock: clock}),
		history: history.NewManager(history.Config{Clock: clock}),
		hub:     hub.New(hub.Config{}, nil),
		inbound: &fakeInbound{reply: "auto reply"},
		now:     now,
	}
	f.handler = NewServer(Deps{
		Store:     f.store,
		History:   f.history,
		Hub:       f.hub,
		Status:    &fixedStatus{state: gateway.StatusConnected},
		Inbound:   f.inbound,
		Renderer:  &fakeRenderer{pdf: []byte("%PDF-1.4 fake")},
		AutoReply: autoReply,
	})
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(blob)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateScheduled(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/scheduled", map[string]any{
		"destination":   "628123456789",
		"body":          "happy birthday",
		"schedule_time": f.now.Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	m := out["scheduled"].(map[string]any)
	if m["id"] == "" || m["state"] != "scheduled" {
		t.Fatalf("unexpected record: %#v", m)
	}
	if len(f.store.List()) != 1 {
		t.Fatalf("record did not reach the store")
	}
}

func TestCreateScheduledValidation(t *testing.T) {
	f := newFixture(t, false)

	cases := []map[string]any{
		{"destination": "+62-812", "body": "hi", "schedule_time": f.now.Add(time.Hour).Format(time.RFC3339)},
		{"destination": "628123456789", "body": "", "schedule_time": f.now.Add(time.Hour).Format(time.RFC3339)},
		{"destination": "628123456789", "body": "hi", "schedule_time": f.now.Add(-time.Hour).Format(time.RFC3339)},
		{"destination": "628123456789", "body": "hi", "schedule_time": "yesterday"},
	}
	for i, payload := range cases {
		rec := f.do(t, http.MethodPost, "/v1/scheduled", payload)
		if rec.Code != 400 {
			t.Fatalf("case %d: expected 400, got %d: %s", i, rec.Code, rec.Body.String())
		}
		out := decode(t, rec)
		errObj := out["error"].(map[string]any)
		if errObj["code"] != sched.CodeValidation {
			t.Fatalf("case %d: unexpected error code %v", i, errObj["code"])
		}
	}
}

func TestListScheduled(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.store.Create(sched.CreateInput{
		Destination:  "628123456789",
		Body:         "hi",
		ScheduleTime: f.now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/scheduled", nil)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if list := out["scheduled"].([]any); len(list) != 1 {
		t.Fatalf("expected 1 record, got %d", len(list))
	}
}

func TestGetAndDeleteScheduledByID(t *testing.T) {
	f := newFixture(t, false)
	m, err := f.store.Create(sched.CreateInput{
		Destination:  "628123456789",
		Body:         "hi",
		ScheduleTime: f.now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/scheduled/"+m.ID, nil)
	if rec.Code != 200 {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/scheduled/"+m.ID, nil)
	if rec.Code != 200 {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/scheduled/"+m.ID, nil)
	if rec.Code != 404 {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/scheduled/"+m.ID, nil)
	if rec.Code != 404 {
		t.Fatalf("get deleted: expected 404, got %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.history.Append("628123456789", history.RoleInbound, "hi"); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/history?contact=628123456789%40s.whatsapp.net", nil)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["contact_key"] != "628123456789" {
		t.Fatalf("unexpected contact key %v", out["contact_key"])
	}
	if entries := out["entries"].([]any); len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	rec = f.do(t, http.MethodDelete, "/v1/history?contact=628123456789", nil)
	if rec.Code != 200 {
		t.Fatalf("clear: expected 200, got %d", rec.Code)
	}
	if len(f.history.Read("628123456789")) != 0 {
		t.Fatalf("history not cleared")
	}

	rec = f.do(t, http.MethodGet, "/v1/history", nil)
	if rec.Code != 400 {
		t.Fatalf("missing contact: expected 400, got %d", rec.Code)
	}
}

func TestHistoryExport(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.history.Append("628123456789", history.RoleInbound, "hi"); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/history/export?contact=628123456789", nil)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatalf("expected pdf bytes, got %q", rec.Body.String())
	}
}

func TestInboundRecordOnly(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/inbound", map[string]any{
		"sender": "628123456789@s.whatsapp.net",
		"body":   "hi",
	})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["replied"] != false {
		t.Fatalf("expected replied=false, got %v", out["replied"])
	}
	if len(f.inbound.recorded) != 1 || len(f.inbound.handled) != 0 {
		t.Fatalf("expected record-only path, got recorded=%d handled=%d", len(f.inbound.recorded), len(f.inbound.handled))
	}
}

func TestInboundAutoReply(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/inbound", map[string]any{
		"sender": "628123456789",
		"body":   "hi",
	})
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["replied"] != true || out["reply"] != "auto reply" {
		t.Fatalf("unexpected response: %#v", out)
	}
	if len(f.inbound.handled) != 1 {
		t.Fatalf("expected handled path, got %d", len(f.inbound.handled))
	}
}

func TestInboundValidation(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/inbound", map[string]any{"sender": "", "body": ""})
	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(f.inbound.handled) != 0 {
		t.Fatalf("invalid payload must not reach the handler")
	}
}

func TestInboundAutoReplyError(t *testing.T) {
	f := newFixture(t, true)
	f.inbound.err = fmt.Errorf("model overloaded")

	rec := f.do(t, http.MethodPost, "/v1/inbound", map[string]any{
		"sender": "628123456789",
		"body":   "hi",
	})
	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/v1/health", nil)
	if rec.Code != 200 {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	out := decode(t, rec)
	if out["channel"] != "connected" {
		t.Fatalf("unexpected channel state %v", out["channel"])
	}

	rec = f.do(t, http.MethodGet, "/v1/status", nil)
	if rec.Code != 200 {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	out = decode(t, rec)
	system := out["system"].(map[string]any)
	if system["channel"] != "connected" {
		t.Fatalf("unexpected system payload: %#v", system)
	}
}

func TestStreamDeliversSnapshotAndEvents(t *testing.T) {
	f := newFixture(t, false)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	// Wait for the viewer to register, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.ViewerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.hub.Publish(hub.EventScheduledStatus, map[string]any{"id": "msg-1", "state": "sent"})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: scheduled_message_status" {
		t.Fatalf("unexpected event line %q", eventLine)
	}
	if !strings.Contains(dataLine, `"msg-1"`) {
		t.Fatalf("unexpected data line %q", dataLine)
	}
}
