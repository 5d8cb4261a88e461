// Package codegen renders the per-OU BPF source text-template expansion
// that original_source/cmudb/tscout/tscout.py's generate_markers and
// collector() perform by repeated string.replace calls over markers.c /
// collector.c. This package uses text/template with the same closed
// substitution vocabulary (§9: SUBST_OU, SUBST_INDEX,
// SUBST_FEATURES, SUBST_METRICS, SUBST_FIRST_FEATURE, SUBST_FIRST_METRIC,
// SUBST_READARGS, SUBST_ACCUMULATE) instead of sequential string.Replace
// calls, so a missing substitution fails at render time rather than
// silently leaving a SUBST_ placeholder in the emitted C.
package codegen

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouerrors"
)

// Operation is the codegen-facing view of one OU: enough to render its
// markers and its slot in the metrics struct.
type Operation struct {
	Name     string // e.g. "SeqScan" - becomes the marker function name (SUBST_OU)
	Index    ou.Index
	Features []Feature
	// HasClientSocket mirrors ou.Schema.HasClientSocket: when true, the
	// rendered markers gain a CLIENT_SOCKET_FD macro and the OU's metrics
	// struct carries the two per-socket TCP counters.
	HasClientSocket bool
}

// Feature is one OU feature: its BPF-visible name and the readarg helper
// that should read it off the USDT probe.
type Feature struct {
	Name      string
	ReadArgP  bool // true selects bpf_usdt_readarg_p, false selects bpf_usdt_readarg
	StructRef string // for ReadArgP, the sizeof(struct ...) argument
}

// MetricField is one column of the shared resource-metrics struct (§
// 3); start_time, end_time, pid, and cpu_id are excluded from
// accumulation, matching tscout.py's own exclusion list.
type MetricField struct {
	Name        string
	Accumulates bool
}

// markersTemplate mirrors markers.c's placeholder shape with Go template
// actions instead of literal SUBST_ tokens.
const markersTemplate = `
{{if .HasClientSocket}}#define {{.Name}}_CLIENT_SOCKET_FD 1
{{end}}static inline void {{.Name}}_features(struct pt_regs *ctx) {
  struct {{.Name}}_features_t *features = features_alloc();
{{.ReadArgs}}
}

static inline int {{.Name}}_index(void) { return {{.Index}}; }

static inline const char *{{.Name}}_first_feature(void) { return "{{.FirstFeature}}"; }
`

// metricsTemplate mirrors collector.c's SUBST_METRICS / SUBST_ACCUMULATE /
// SUBST_FIRST_METRIC placeholders.
const metricsTemplate = `
struct resource_metrics {
{{range .Fields}}  int64_t {{.Name}};
{{end}}};

static inline void resource_metrics_accumulate(struct resource_metrics *lhs, const struct resource_metrics *rhs) {
{{range .Fields}}{{if .Accumulates}}  lhs->{{.Name}} += rhs->{{.Name}};
{{end}}{{end}}}

static inline int64_t resource_metrics_first(const struct resource_metrics *m) { return m->{{.First}}; }
`

var (
	markersTmpl = template.Must(template.New("markers").Parse(markersTemplate))
	metricsTmpl = template.Must(template.New("metrics").Parse(metricsTemplate))
)

type markersData struct {
	Name            string
	Index           ou.Index
	ReadArgs        string
	FirstFeature    string
	HasClientSocket bool
}

// RenderMarkers renders one OU's marker C source (the SUBST_OU-family
// substitutions from original_source/cmudb/tscout/tscout.py's
// generate_markers).
func RenderMarkers(op Operation) (string, error) {
	if len(op.Features) == 0 {
		return "", errors.Wrapf(ouerrors.ErrConfiguration, "operation %q has no features to render", op.Name)
	}
	var buf bytes.Buffer
	data := markersData{
		Name:            op.Name,
		Index:           op.Index,
		ReadArgs:        generateReadArgs(op.Features),
		FirstFeature:    op.Features[0].Name,
		HasClientSocket: op.HasClientSocket,
	}
	if err := markersTmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(ouerrors.ErrConfiguration, "render markers for %q: %v", op.Name, err)
	}
	return buf.String(), nil
}

// generateReadArgs mirrors tscout.py's generate_readargs: one
// bpf_usdt_readarg / bpf_usdt_readarg_p call per feature, offset by the
// fixed ou_instance USDT argument.
func generateReadArgs(features []Feature) string {
	const nonFeatureArgs = 1
	var b strings.Builder
	for i, f := range features {
		argIdx := i + 1 + nonFeatureArgs
		if f.ReadArgP {
			fmt.Fprintf(&b, "  bpf_usdt_readarg_p(%d, ctx, &(features->%s), sizeof(struct %s));\n",
				argIdx, f.Name, f.StructRef)
		} else {
			fmt.Fprintf(&b, "  bpf_usdt_readarg(%d, ctx, &(features->%s));\n", argIdx, f.Name)
		}
	}
	return b.String()
}

type metricsData struct {
	Fields []MetricField
	First  string
}

// RenderMetrics renders the shared resource-metrics struct and its
// accumulate function, used by every OU's collector object.
func RenderMetrics(fields []MetricField) (string, error) {
	if len(fields) == 0 {
		return "", errors.Wrap(ouerrors.ErrConfiguration, "no metric fields to render")
	}
	var buf bytes.Buffer
	if err := metricsTmpl.Execute(&buf, metricsData{Fields: fields, First: fields[0].Name}); err != nil {
		return "", errors.Wrap(ouerrors.ErrConfiguration, "render metrics struct")
	}
	return buf.String(), nil
}

// DefaultMetricFields is §3's 14-field metrics layout, with the
// four non-accumulating identity fields marked. The two per-socket TCP
// counters (network_bytes_read, network_bytes_written) are included only
// when hasClientSocket is true, matching ou.Schema.HasClientSocket: an OU
// with no client socket has nothing to attribute those bytes to, so its
// generated resource_metrics struct omits the fields entirely rather than
// carrying two counters that can never be non-zero.
func DefaultMetricFields(hasClientSocket bool) []MetricField {
	nonAccumulating := map[string]bool{"start_time": true, "end_time": true, "pid": true, "cpu_id": true}
	names := []string{
		"start_time", "end_time", "elapsed_us", "cpu_cycles", "instructions",
		"cache_references", "cache_misses", "ref_cpu_cycles",
		"disk_bytes_read", "disk_bytes_written",
	}
	if hasClientSocket {
		names = append(names, "network_bytes_read", "network_bytes_written")
	}
	names = append(names, "cpu_id", "pid")
	out := make([]MetricField, 0, len(names))
	for _, n := range names {
		out = append(out, MetricField{Name: n, Accumulates: !nonAccumulating[n]})
	}
	return out
}
