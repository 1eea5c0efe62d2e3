package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue reads a counter from the default registry for one label value.
func counterValue(t *testing.T, name, labelValue string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCountersIncrement(t *testing.T) {
	InitForTest()

	IncrementFrames("testusdt@kline_1m")
	IncrementFrames("testusdt@kline_1m")
	IncrementParseErrors("testusdt@kline_1m")
	IncrementReconnects("testusdt@kline_1m")
	IncrementThrottled("testusdt@kline_1m")
	IncrementResyncs("TESTUSDT")
	IncrementSnapshotSuccess("TESTUSDT")
	IncrementSnapshotError("TESTUSDT")

	cases := []struct {
		name  string
		label string
		want  float64
	}{
		{"marketsync_frames_total", "testusdt@kline_1m", 2},
		{"marketsync_parse_errors_total", "testusdt@kline_1m", 1},
		{"marketsync_reconnects_total", "testusdt@kline_1m", 1},
		{"marketsync_throttled_total", "testusdt@kline_1m", 1},
		{"marketsync_resyncs_total", "TESTUSDT", 1},
		{"marketsync_snapshot_success_total", "TESTUSDT", 1},
		{"marketsync_snapshot_errors_total", "TESTUSDT", 1},
	}
	for _, tc := range cases {
		if got := counterValue(t, tc.name, tc.label); got != tc.want {
			t.Errorf("%s{%s} = %f, want %f", tc.name, tc.label, got, tc.want)
		}
	}
}
