package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hrygo/mnemos/memory"
)

func TestObserveOp(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	exporter.ObserveOp(memory.DomainProfile, "add_fact", 2*time.Millisecond, nil)
	exporter.ObserveOp(memory.DomainProfile, "add_fact", 4*time.Millisecond, nil)
	exporter.ObserveOp(memory.DomainKnowledge, "index_document", 30*time.Millisecond, errors.New("backend down"))

	families, err := exporter.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"mnemos_memory_op_latency_seconds",
		"mnemos_memory_ops_total",
		"mnemos_memory_op_errors_total",
	} {
		if !found[name] {
			t.Errorf("expected metric family %s", name)
		}
	}
}

func TestHandler(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())
	exporter.ObserveOp(memory.DomainProfile, "search_facts", time.Millisecond, nil)
	exporter.ObserveOp(memory.DomainProfile, "search_facts", time.Millisecond, errors.New("boom"))

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "mnemos_memory_ops_total") {
		t.Error("expected ops_total metric in output")
	}
	if !strings.Contains(body, `status="success"`) {
		t.Error("expected success-labeled sample in output")
	}
	if !strings.Contains(body, `status="error"`) {
		t.Error("expected error-labeled sample in output")
	}
	if !strings.Contains(body, "mnemos_memory_op_errors_total") {
		t.Error("expected op_errors_total metric in output")
	}
}
