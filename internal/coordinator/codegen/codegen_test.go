package codegen

import (
	"strings"
	"testing"

	"github.com/cmu-db/oucore/internal/ou"
)

func TestRenderMarkersSubstitutesPlaceholders(t *testing.T) {
	op := Operation{
		Name:  "SeqScan",
		Index: 3,
		Features: []Feature{
			{Name: "relid", ReadArgP: false},
			{Name: "plan", ReadArgP: true, StructRef: "Plan"},
		},
	}

	out, err := RenderMarkers(op)
	if err != nil {
		t.Fatalf("RenderMarkers() error: %v", err)
	}

	if !strings.Contains(out, "SeqScan_features") {
		t.Errorf("rendered markers missing OU-specific function name:\n%s", out)
	}
	if !strings.Contains(out, "return 3") {
		t.Errorf("rendered markers missing OU index substitution:\n%s", out)
	}
	if !strings.Contains(out, "bpf_usdt_readarg(2, ctx, &(features->relid))") {
		t.Errorf("rendered markers missing readarg for relid:\n%s", out)
	}
	if !strings.Contains(out, "bpf_usdt_readarg_p(3, ctx, &(features->plan), sizeof(struct Plan))") {
		t.Errorf("rendered markers missing readarg_p for plan:\n%s", out)
	}
	if !strings.Contains(out, `"relid"`) {
		t.Errorf("rendered markers missing first-feature name:\n%s", out)
	}
}

func TestRenderMarkersRejectsEmptyFeatures(t *testing.T) {
	_, err := RenderMarkers(Operation{Name: "Empty", Index: 0})
	if err == nil {
		t.Error("expected an error for an operation with no features")
	}
}

func TestRenderMarkersEmitsClientSocketMacroWhenSet(t *testing.T) {
	op := Operation{
		Name:            "BackendSocket",
		Index:           5,
		Features:        []Feature{{Name: "relid"}},
		HasClientSocket: true,
	}
	out, err := RenderMarkers(op)
	if err != nil {
		t.Fatalf("RenderMarkers() error: %v", err)
	}
	if !strings.Contains(out, "#define BackendSocket_CLIENT_SOCKET_FD 1") {
		t.Errorf("rendered markers missing client-socket macro:\n%s", out)
	}
}

func TestRenderMarkersOmitsClientSocketMacroByDefault(t *testing.T) {
	op := Operation{Name: "SeqScan", Index: 3, Features: []Feature{{Name: "relid"}}}
	out, err := RenderMarkers(op)
	if err != nil {
		t.Fatalf("RenderMarkers() error: %v", err)
	}
	if strings.Contains(out, "CLIENT_SOCKET_FD") {
		t.Errorf("rendered markers should not define a client-socket macro:\n%s", out)
	}
}

func TestRenderMetricsExcludesIdentityFieldsFromAccumulate(t *testing.T) {
	out, err := RenderMetrics(DefaultMetricFields(true))
	if err != nil {
		t.Fatalf("RenderMetrics() error: %v", err)
	}
	if strings.Contains(out, "lhs->start_time += rhs->start_time") {
		t.Error("start_time must not be accumulated")
	}
	if !strings.Contains(out, "lhs->cpu_cycles += rhs->cpu_cycles") {
		t.Error("cpu_cycles should be accumulated")
	}
	if !strings.Contains(out, "m->start_time") {
		t.Error("resource_metrics_first should reference the first field, start_time")
	}
}

func TestDefaultMetricFieldsMatchesOrderedSpecList(t *testing.T) {
	fields := DefaultMetricFields(true)
	if len(fields) != len(ou.MetricFields) {
		t.Fatalf("codegen has %d metric fields, spec has %d", len(fields), len(ou.MetricFields))
	}
	for i, f := range fields {
		if f.Name != ou.MetricFields[i].Name {
			t.Errorf("field %d: codegen name %q, spec name %q", i, f.Name, ou.MetricFields[i].Name)
		}
	}
}

func TestDefaultMetricFieldsExcludesNetworkCountersWithoutClientSocket(t *testing.T) {
	fields := DefaultMetricFields(false)
	if len(fields) != len(ou.MetricFields)-2 {
		t.Fatalf("got %d fields, want %d (14 minus the two TCP counters)", len(fields), len(ou.MetricFields)-2)
	}
	for _, f := range fields {
		if f.Name == "network_bytes_read" || f.Name == "network_bytes_written" {
			t.Errorf("field %q should be excluded when hasClientSocket is false", f.Name)
		}
	}
}
