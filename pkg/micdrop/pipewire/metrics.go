package pipewire

import "github.com/hashicorp/go-metrics"

var (
	MetricCommandCount      = []string{"pipewire", "command", "count"}
	MetricCommandErrorCount = []string{"pipewire", "command", "error", "count"}
	MetricCommandDuration   = []string{"pipewire", "command", "duration"}
	MetricGlobalAddedCount  = []string{"pipewire", "global", "added", "count"}
	MetricGlobalRemoveCount = []string{"pipewire", "global", "removed", "count"}
	MetricTrackedNodes      = []string{"pipewire", "tracked", "nodes"}
	MetricTrackedPorts      = []string{"pipewire", "tracked", "ports"}
	MetricTrackedLinks      = []string{"pipewire", "tracked", "links"}
)

type TelemetryLabel string

var (
	LabelCommand TelemetryLabel = "command"
	LabelType    TelemetryLabel = "type"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}
