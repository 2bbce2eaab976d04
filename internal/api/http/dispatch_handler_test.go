package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"batch-dispatch/internal/domain"
)

// fakeDispatcher captures what the handler forwards and returns a scripted
// outcome.
type fakeDispatcher struct {
	payload  map[string]any
	services []string
	result   *domain.BatchResult
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, payload map[string]any, serviceNames []string) (*domain.BatchResult, error) {
	f.payload = payload
	f.services = serviceNames
	return f.result, f.err
}

func (f *fakeDispatcher) History(context.Context, string) ([]*domain.ResultRecord, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, fake *fakeDispatcher, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewDispatchHandler(fake, testLogger())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestDispatchSuccessResponseShape(t *testing.T) {
	fake := &fakeDispatcher{
		result: &domain.BatchResult{
			RequestID: "r1",
			Services: map[string]domain.ServiceOutcome{
				"ip-validation": {
					ID:     "t1",
					Status: domain.TaskStatusDone,
					Result: domain.ResultData{Data: map[string]any{"valid": true}},
				},
			},
		},
	}

	rec := serve(t, fake, http.MethodPost, "/dispatch/192.0.2.1",
		`{"services": "ip-validation"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Services map[string]struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Result struct {
				Data map[string]any `json:"data"`
			} `json:"result"`
		} `json:"services"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	entry, ok := body.Services["ip-validation"]
	if !ok || entry.Status != "done" || entry.Result.Data["valid"] != true {
		t.Errorf("response = %s", rec.Body.String())
	}

	// A single-string services selector reaches the dispatcher as a list.
	if len(fake.services) != 1 || fake.services[0] != "ip-validation" {
		t.Errorf("services forwarded = %v", fake.services)
	}
}

func TestDispatchClassifiesAddress(t *testing.T) {
	tests := []struct {
		address   string
		wantField string
	}{
		{"203.0.113.9", "ip"},
		{"2001:db8::2", "ip"},
		{"example.com", "domain"},
	}
	for _, tt := range tests {
		fake := &fakeDispatcher{result: &domain.BatchResult{Services: map[string]domain.ServiceOutcome{}}}
		rec := serve(t, fake, http.MethodPost, "/dispatch/"+tt.address, `{"extra": 1}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status(%s) = %d", tt.address, rec.Code)
		}
		if fake.payload[tt.wantField] != tt.address {
			t.Errorf("payload[%s] = %v, want %s", tt.wantField, fake.payload[tt.wantField], tt.address)
		}
		if fake.payload["address"] != tt.address {
			t.Errorf("payload[address] = %v", fake.payload["address"])
		}
		if fake.payload["extra"] != float64(1) {
			t.Errorf("body fields not forwarded: %v", fake.payload)
		}
	}
}

func TestDispatchRejectsMalformedAddress(t *testing.T) {
	fake := &fakeDispatcher{}
	rec := serve(t, fake, http.MethodPost, "/dispatch/not..a..host", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if fake.payload != nil {
		t.Error("dispatcher reached despite invalid address")
	}
}

func TestDispatchRejectsBadServicesField(t *testing.T) {
	fake := &fakeDispatcher{}
	rec := serve(t, fake, http.MethodPost, "/dispatch/192.0.2.1", `{"services": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDispatchMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", domain.NewValidationError("bad request", "field x missing"), 400},
		{"timeout", domain.NewBatchTimeout("r1", 2), 504},
		{"internal", domain.NewInternalFault("registry hole", nil), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDispatcher{err: tt.err}
			rec := serve(t, fake, http.MethodPost, "/dispatch/192.0.2.1", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decodeError(t, rec)
			if body.Code != tt.wantCode {
				t.Errorf("error.code = %d, want %d", body.Code, tt.wantCode)
			}
			if body.Message == "" {
				t.Error("error.message is empty")
			}
		})
	}
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	fake := &fakeDispatcher{}
	rec := serve(t, fake, http.MethodGet, "/dispatch/192.0.2.1", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
