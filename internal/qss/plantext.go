package qss

import "strings"

// FormatPlanText renders a QueryDesc's plan nodes into the human-readable
// string persisted as the plans row's features_text column (§4.2),
// the one piece of explain/explain.go's sketched Explain type ("PlanOutput")
// this system actually needed: a plan rendering independent of running
// EXPLAIN again, built from the same node list ExecutorStart already
// walked to install counter blocks.
//
// qd.PlanNodes is the flat order the database reports nodes in, not a
// parent-linked tree, so nesting is not rendered - only tag, and the
// instrumented/not-instrumented distinction NodeTags already decides.
func FormatPlanText(qd *QueryDesc) string {
	if qd == nil || len(qd.PlanNodes) == 0 {
		return ""
	}
	var b strings.Builder
	for i, node := range qd.PlanNodes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(node.Tag)
		if NodeTags[node.Tag] {
			b.WriteString(" [instrumented]")
		}
	}
	return b.String()
}
