package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordMessage("metrics-test", 18, 1, 15)
	RecordMessage("metrics-test", 18, 1, 15)
	RecordFailure("metrics-test", "truncated_payload", 40)
	RecordConsumed("metrics-test", 70)
	RecordDesync("metrics-test")

	if got := testutil.ToFloat64(codecMessages.WithLabelValues("metrics-test", "18", "1")); got != 2 {
		t.Fatalf("expected 2 messages, got %v", got)
	}
	if got := testutil.ToFloat64(codecFailures.WithLabelValues("metrics-test", "truncated_payload")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(codecBytes.WithLabelValues("metrics-test")); got != 70 {
		t.Fatalf("expected 70 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(codecDesyncs.WithLabelValues("metrics-test")); got != 1 {
		t.Fatalf("expected 1 desync, got %v", got)
	}
}

func TestHandlerServesCodecMetrics(t *testing.T) {
	RecordMessage("handler-test", 3, 9, 100)

	srv := httptest.NewServer(RequestLogger(zerolog.Nop(), Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body strings.Builder
	if _, err := io.Copy(&body, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(body.String(), `kproxy_codec_messages_total{api_key="3",api_version="9",filter="handler-test"} 1`) {
		t.Fatalf("scrape missing codec metric:\n%s", body.String())
	}
}
