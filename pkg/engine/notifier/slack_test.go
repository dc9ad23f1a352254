package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
	"github.com/cloudreap/cloudreap/pkg/engine/report"
)

func TestSendRunReport(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackClient(srv.URL, "#cloud-costs")
	rep := report.Report{
		Region:       "us-east-1",
		TotalSavings: 42.5,
		Anomalies: []anomaly.Anomaly{
			{Detector: "exfil", Severity: anomaly.SeverityHigh, Message: "10.0.0.7 transferred 12884901888 bytes"},
		},
	}

	if err := s.SendRunReport(context.Background(), rep); err != nil {
		t.Fatalf("SendRunReport failed: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if payload["channel"] != "#cloud-costs" {
		t.Errorf("Channel override lost: %v", payload["channel"])
	}
	if !strings.Contains(string(body), "42.50") {
		t.Error("Savings missing from payload")
	}
	// High severity findings get their own block.
	if !strings.Contains(string(body), "exfil") {
		t.Error("High severity anomaly missing from payload")
	}
}

func TestSend_Alert(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackClient(srv.URL, "")
	if err := s.Send(context.Background(), anomaly.SeverityHigh, "Spend spike", "EC2 spend doubled overnight"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.Contains(string(body), "Spend spike") {
		t.Error("Subject missing from payload")
	}
}

func TestSendRunReport_EmptyWebhookIsNoop(t *testing.T) {
	s := NewSlackClient("", "")
	if err := s.SendRunReport(context.Background(), report.Report{}); err != nil {
		t.Fatalf("Empty webhook must be a no-op, got %v", err)
	}
}

func TestSendRunReport_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlackClient(srv.URL, "")
	if err := s.SendRunReport(context.Background(), report.Report{}); err == nil {
		t.Error("Expected error for non-200 response")
	}
}
