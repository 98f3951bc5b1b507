// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adiadia/crm-automation/internal/automation"
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/notify"
	"github.com/adiadia/crm-automation/internal/scoring"
	"github.com/adiadia/crm-automation/internal/store"
	"github.com/adiadia/crm-automation/internal/store/memory"
	"github.com/google/uuid"
)

const testAdminToken = "admin-secret"

const validWorkflow = `{
	"name": "Qualified follow-up",
	"trigger_type": "status_change",
	"trigger_config": {"to_status": "Qualified"},
	"steps": [
		{"action_type": "create_task", "action_config": {"title": "Call {{prospect_name}}"}},
		{"action_type": "wait_days", "action_config": {"days": 2}}
	]
}`

type fakeAutomation struct {
	invalidations int
	events        []domain.Event
	eventErr      error
	sweepReport   automation.SweepReport
	sweepErr      error
	rescored      []uuid.UUID
	rescoreErr    error
}

func (f *fakeAutomation) HandleEvent(_ context.Context, ev domain.Event) (automation.EventReport, error) {
	f.events = append(f.events, ev)
	if f.eventErr != nil {
		return automation.EventReport{}, f.eventErr
	}
	return automation.EventReport{EventID: ev.ID, Matched: 1, Results: []automation.RunResult{{
		EventID: ev.ID,
		Outcome: automation.OutcomeCompleted,
		Status:  domain.RunCompleted,
	}}}, nil
}

func (f *fakeAutomation) Sweep(context.Context) (automation.SweepReport, error) {
	return f.sweepReport, f.sweepErr
}

func (f *fakeAutomation) Rescore(_ context.Context, id uuid.UUID) (scoring.Result, automation.EventReport, error) {
	f.rescored = append(f.rescored, id)
	if f.rescoreErr != nil {
		return scoring.Result{}, automation.EventReport{}, f.rescoreErr
	}
	return scoring.Result{FitScore: 80, EngagementScore: 60, ProspectScore: 70, Segment: domain.SegmentHotLead},
		automation.EventReport{EventID: "score:" + id.String()}, nil
}

func (f *fakeAutomation) InvalidateWorkflows() { f.invalidations++ }

type fakeNotifier struct {
	scheduled  []domain.ScheduledNotification
	sweepNow   time.Time
	failed     []domain.ScheduledNotification
	failedArgs []int
	resendErr  error
}

func (f *fakeNotifier) Sweep(_ context.Context, now time.Time) (notify.Report, error) {
	f.sweepNow = now
	return notify.Report{SuccessCount: 2, FailureCount: 1}, nil
}

func (f *fakeNotifier) Schedule(_ context.Context, n domain.ScheduledNotification) (domain.ScheduledNotification, error) {
	if n.Recipient == "" {
		verr := &domain.ValidationError{}
		return domain.ScheduledNotification{}, verr.Add("recipient", "is required")
	}
	n.ID = uuid.New()
	f.scheduled = append(f.scheduled, n)
	return n, nil
}

func (f *fakeNotifier) Resend(_ context.Context, id uuid.UUID) (domain.ScheduledNotification, error) {
	if f.resendErr != nil {
		return domain.ScheduledNotification{}, f.resendErr
	}
	return domain.ScheduledNotification{ID: id}, nil
}

func (f *fakeNotifier) Failed(_ context.Context, limit int) ([]domain.ScheduledNotification, error) {
	f.failedArgs = append(f.failedArgs, limit)
	return f.failed, nil
}

type fakeRuns struct {
	runs    map[uuid.UUID]domain.Run
	filters []domain.RunFilter
	listErr error
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, filter domain.RunFilter) ([]domain.Run, error) {
	f.filters = append(f.filters, filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Run, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Check(context.Context) error { return f.err }

type routerHarness struct {
	router     http.Handler
	workflows  store.Collection[domain.Workflow]
	automation *fakeAutomation
	notifier   *fakeNotifier
	runs       *fakeRuns
	now        time.Time
}

func newHarness(t *testing.T) *routerHarness {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	h := &routerHarness{
		workflows:  memory.New(clock).Workflows,
		automation: &fakeAutomation{},
		notifier:   &fakeNotifier{},
		runs:       &fakeRuns{runs: map[uuid.UUID]domain.Run{}},
		now:        now,
	}
	h.router = NewRouter(Deps{
		Workflows:     h.workflows,
		Runs:          h.runs,
		Automation:    h.automation,
		Notifications: h.notifier,
		Logger:        discardLogger(),
		Now:           clock,
		AdminToken:    testAdminToken,
	})
	return h
}

func (h *routerHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

type problemBody struct {
	Type     string                `json:"type"`
	Status   int                   `json:"status"`
	Detail   string                `json:"detail"`
	Instance string                `json:"instance"`
	Problems []domain.FieldProblem `json:"problems"`
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problemBody {
	t.Helper()
	if got := rec.Header().Get("Content-Type"); got != problemContentType {
		t.Fatalf("expected problem content type got %q", got)
	}
	var p problemBody
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func TestRouter_OpenEndpoints(t *testing.T) {
	router := NewRouter(Deps{
		Logger:  discardLogger(),
		Health:  fakeHealth{},
		Version: "1.2.3",
	})

	for _, path := range []string{"/healthz", "/metrics", "/version"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200 got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if resp["version"] != "1.2.3" || resp["commit"] != "none" {
		t.Fatalf("unexpected version body %+v", resp)
	}
}

func TestRouter_HealthReportsSchemaProblems(t *testing.T) {
	router := NewRouter(Deps{Logger: discardLogger(), Health: fakeHealth{err: errors.New("missing table runs")}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestRouter_AdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sweeps/automation", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}
}

func TestRouter_CreateWorkflow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/workflows", validWorkflow)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}

	var created domain.Workflow
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode workflow: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected generated workflow id")
	}
	if !created.Active {
		t.Fatal("expected workflow without active flag to be active")
	}
	if len(created.Steps) != 2 || created.Steps[1].Type() != domain.ActionWaitDays {
		t.Fatalf("unexpected steps %+v", created.Steps)
	}
	if h.automation.invalidations != 1 {
		t.Fatalf("expected workflow cache invalidation, got %d", h.automation.invalidations)
	}

	stored, err := h.workflows.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get stored workflow: %v", err)
	}
	if stored.Name != "Qualified follow-up" {
		t.Fatalf("unexpected stored name %q", stored.Name)
	}
}

func TestRouter_CreateWorkflowRejectsInvalidDefinition(t *testing.T) {
	h := newHarness(t)

	body := `{"name": "x", "trigger_type": "status_change", "trigger_config": {"to_status": "Qualified"},
		"steps": [{"action_type": "wait_days", "action_config": {"days": 0}}]}`
	rec := h.do(http.MethodPost, "/workflows", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	p := decodeProblem(t, rec)
	if p.Type != "validation_error" || len(p.Problems) == 0 {
		t.Fatalf("unexpected problem %+v", p)
	}
	if p.Problems[0].Field != "steps[0].action_config.days" {
		t.Fatalf("unexpected field %q", p.Problems[0].Field)
	}

	items, err := h.workflows.List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(items))
	}
	if h.automation.invalidations != 0 {
		t.Fatal("expected no invalidation for rejected workflow")
	}
}

func TestRouter_CreateWorkflowRequiresBody(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/workflows", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestRouter_WorkflowLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wf, err := h.workflows.Create(ctx, domain.Workflow{
		Name:          "old",
		Active:        true,
		TriggerType:   domain.TriggerStatusChange,
		TriggerConfig: domain.TriggerConfig{ToStatus: "Won"},
		Steps:         []domain.Step{{Action: domain.WaitDaysAction{Days: 1}}},
	})
	if err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	path := "/workflows/" + wf.ID.String()

	rec := h.do(http.MethodPost, path+"/deactivate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200 got %d", rec.Code)
	}
	stored, _ := h.workflows.Get(ctx, wf.ID)
	if stored.Active {
		t.Fatal("expected workflow to be inactive")
	}

	rec = h.do(http.MethodGet, "/workflows?active=false", "")
	var listed struct {
		Workflows []domain.Workflow `json:"workflows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Workflows) != 1 {
		t.Fatalf("expected one inactive workflow got %d", len(listed.Workflows))
	}

	rec = h.do(http.MethodPost, path+"/activate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: expected 200 got %d", rec.Code)
	}

	rec = h.do(http.MethodPut, path, validWorkflow)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ = h.workflows.Get(ctx, wf.ID)
	if stored.Name != "Qualified follow-up" || len(stored.Steps) != 2 {
		t.Fatalf("unexpected replaced workflow %+v", stored)
	}

	rec = h.do(http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200 got %d", rec.Code)
	}

	rec = h.do(http.MethodDelete, path, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204 got %d", rec.Code)
	}

	rec = h.do(http.MethodGet, path, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404 got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "not_found" || p.Instance != path {
		t.Fatalf("unexpected problem %+v", p)
	}

	if h.automation.invalidations != 4 {
		t.Fatalf("expected 4 invalidations got %d", h.automation.invalidations)
	}
}

func TestRouter_ReplaceWorkflowKeepsActiveFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wf, err := h.workflows.Create(ctx, domain.Workflow{
		Name:          "paused",
		Active:        false,
		TriggerType:   domain.TriggerStatusChange,
		TriggerConfig: domain.TriggerConfig{ToStatus: "Won"},
		Steps:         []domain.Step{{Action: domain.WaitDaysAction{Days: 1}}},
	})
	if err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	path := "/workflows/" + wf.ID.String()

	rec := h.do(http.MethodPut, path, validWorkflow)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := h.workflows.Get(ctx, wf.ID)
	if stored.Active {
		t.Fatal("expected replace without active to keep the workflow inactive")
	}
	if stored.Name != "Qualified follow-up" {
		t.Fatalf("expected name to be replaced got %q", stored.Name)
	}

	withActive := strings.Replace(validWorkflow, `"name": "Qualified follow-up",`, `"name": "Qualified follow-up", "active": true,`, 1)
	rec = h.do(http.MethodPut, path, withActive)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace with active: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ = h.workflows.Get(ctx, wf.ID)
	if !stored.Active {
		t.Fatal("expected explicit active=true to activate the workflow")
	}
}

func TestRouter_InvalidIDs(t *testing.T) {
	h := newHarness(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/workflows/nope"},
		{http.MethodGet, "/runs/nope"},
		{http.MethodPost, "/prospects/nope/score"},
		{http.MethodPost, "/notifications/nope/resend"},
	} {
		rec := h.do(tc.method, tc.path, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400 got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRouter_HandleEvent(t *testing.T) {
	h := newHarness(t)
	prospectID := uuid.New()

	body, _ := json.Marshal(map[string]any{
		"id":          "evt-1",
		"type":        "status_change",
		"prospect_id": prospectID,
		"new_status":  "Qualified",
	})
	rec := h.do(http.MethodPost, "/events", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var report automation.EventReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.EventID != "evt-1" || report.Matched != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(h.automation.events) != 1 || !h.automation.events[0].OccurredAt.Equal(h.now) {
		t.Fatalf("expected occurred_at defaulted to now, got %+v", h.automation.events)
	}
}

func TestRouter_HandleEventErrors(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/events", `{"id": "x", "bogus": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400 got %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/events", `{"id": "a"}{"id": "b"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("two objects: expected 400 got %d", rec.Code)
	}

	h.automation.eventErr = fmtValidation("prospect_id", "is required")
	rec = h.do(http.MethodPost, "/events", `{"id": "x", "type": "status_change"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("validation: expected 400 got %d", rec.Code)
	}

	h.automation.eventErr = domain.External("entity_store", "get prospect", errors.New("connection refused"))
	rec = h.do(http.MethodPost, "/events", `{"id": "x", "type": "status_change"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("external: expected 502 got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); strings.Contains(p.Detail, "connection refused") {
		t.Fatalf("expected cause to stay out of the response, got %q", p.Detail)
	}
}

func TestRouter_Sweeps(t *testing.T) {
	h := newHarness(t)
	h.automation.sweepReport = automation.SweepReport{Claimed: 3, Completed: 2, Suspended: 1}

	rec := h.do(http.MethodPost, "/sweeps/automation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("automation sweep: expected 200 got %d", rec.Code)
	}
	var sweep automation.SweepReport
	if err := json.NewDecoder(rec.Body).Decode(&sweep); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if sweep.Claimed != 3 || sweep.Completed != 2 {
		t.Fatalf("unexpected sweep report %+v", sweep)
	}

	rec = h.do(http.MethodPost, "/sweeps/notifications", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("notification sweep: expected 200 got %d", rec.Code)
	}
	var report notify.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode notify report: %v", err)
	}
	if report.SuccessCount != 2 || report.FailureCount != 1 {
		t.Fatalf("unexpected notify report %+v", report)
	}
	if !h.notifier.sweepNow.Equal(h.now) {
		t.Fatalf("expected sweep at %v got %v", h.now, h.notifier.sweepNow)
	}

	h.automation.sweepErr = errors.New("boom")
	rec = h.do(http.MethodPost, "/sweeps/automation", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed sweep: expected 500 got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Detail != "" {
		t.Fatalf("expected internal error detail to be hidden, got %q", p.Detail)
	}
}

func TestRouter_Runs(t *testing.T) {
	h := newHarness(t)
	run := domain.Run{ID: uuid.New(), WorkflowID: uuid.New(), Status: domain.RunSuspended, EventID: "evt"}
	h.runs.runs[run.ID] = run

	rec := h.do(http.MethodGet, "/runs/"+run.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: expected 200 got %d", rec.Code)
	}
	var got domain.Run
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if got.Status != domain.RunSuspended || got.EventID != "evt" {
		t.Fatalf("unexpected run %+v", got)
	}

	rec = h.do(http.MethodGet, "/runs/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run: expected 404 got %d", rec.Code)
	}

	rec = h.do(http.MethodGet, "/runs?status=failed&workflow_id="+run.WorkflowID.String()+"&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list runs: expected 200 got %d", rec.Code)
	}
	if len(h.runs.filters) != 1 {
		t.Fatalf("expected one list call got %d", len(h.runs.filters))
	}
	f := h.runs.filters[0]
	if f.Status != domain.RunFailed || f.WorkflowID != run.WorkflowID || f.Limit != 5 {
		t.Fatalf("unexpected filter %+v", f)
	}

	for _, q := range []string{"status=weird", "workflow_id=nope", "limit=-1", "limit=x"} {
		rec = h.do(http.MethodGet, "/runs?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", q, rec.Code)
		}
	}
}

func TestRouter_ScoreProspect(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	rec := h.do(http.MethodPost, "/prospects/"+id.String()+"/score", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp struct {
		Score  scoring.Result         `json:"score"`
		Report automation.EventReport `json:"report"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if resp.Score.Segment != domain.SegmentHotLead || resp.Report.EventID != "score:"+id.String() {
		t.Fatalf("unexpected response %+v", resp)
	}

	h.automation.rescoreErr = domain.ErrNotFound
	rec = h.do(http.MethodPost, "/prospects/"+id.String()+"/score", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing prospect: expected 404 got %d", rec.Code)
	}
}

func TestRouter_Notifications(t *testing.T) {
	h := newHarness(t)

	body := `{"recipient": "ops@acme.test", "subject": "Renewal", "scheduled_date": "2026-03-02T09:00:00Z"}`
	rec := h.do(http.MethodPost, "/notifications", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: expected 201 got %d", rec.Code)
	}
	if len(h.notifier.scheduled) != 1 || h.notifier.scheduled[0].Subject != "Renewal" {
		t.Fatalf("unexpected scheduled %+v", h.notifier.scheduled)
	}

	rec = h.do(http.MethodPost, "/notifications", `{"subject": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid schedule: expected 400 got %d", rec.Code)
	}

	h.notifier.failed = []domain.ScheduledNotification{{ID: uuid.New(), Error: "smtp down", Attempts: 2}}
	rec = h.do(http.MethodGet, "/notifications?failed=true&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: expected 200 got %d", rec.Code)
	}
	var listed struct {
		Notifications []domain.ScheduledNotification `json:"notifications"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode failed list: %v", err)
	}
	if len(listed.Notifications) != 1 || listed.Notifications[0].Error != "smtp down" {
		t.Fatalf("unexpected list %+v", listed)
	}
	if h.notifier.failedArgs[0] != 10 {
		t.Fatalf("expected limit 10 got %d", h.notifier.failedArgs[0])
	}

	rec = h.do(http.MethodGet, "/notifications", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unfiltered list: expected 400 got %d", rec.Code)
	}

	id := uuid.New()
	rec = h.do(http.MethodPost, "/notifications/"+id.String()+"/resend", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resend: expected 200 got %d", rec.Code)
	}

	h.notifier.resendErr = fmtValidation("sent", "already sent")
	rec = h.do(http.MethodPost, "/notifications/"+id.String()+"/resend", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("resend sent: expected 400 got %d", rec.Code)
	}
}

func TestWriteErrorMapsConflicts(t *testing.T) {
	for _, err := range []error{domain.ErrConcurrencyConflict, domain.ErrDuplicateRun} {
		req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader(nil))
		rec := httptest.NewRecorder()
		writeError(rec, req, discardLogger(), err)
		if rec.Code != http.StatusConflict {
			t.Fatalf("%v: expected 409 got %d", err, rec.Code)
		}
	}
}

func fmtValidation(field, reason string) error {
	verr := &domain.ValidationError{}
	return verr.Add(field, reason)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
