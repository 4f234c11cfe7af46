package mcpmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/pmcp-dev/pmcp/mcpmetrics"
)

func TestNilMetricsObserveMethodsDoNotPanic(t *testing.T) {
	var m *mcpmetrics.Metrics
	m.ObserveRequest("tools/call")
	m.ObserveError("InvalidParams")
	m.ObserveNotificationCoalesced("notifications/tools/list_changed")
	m.ObserveNotificationEmitted("notifications/tools/list_changed")
	m.AddBytesRead(128)
	m.AddBytesWritten(256)
	m.ObserveDuration("tools/call", 0.01)
}

func TestNewRegisteredRegistersAgainstGivenRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := mcpmetrics.NewRegistered(reg)

	m.ObserveRequest("tools/call")
	m.ObserveRequest("tools/call")
	m.ObserveError("InvalidParams")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawRequests, sawErrors bool
	for _, fam := range families {
		switch fam.GetName() {
		case "pmcp_rpc_requests_total":
			sawRequests = true
			if got := counterValue(fam, "method", "tools/call"); got != 2 {
				t.Errorf("pmcp_rpc_requests_total{method=tools/call} = %v, want 2", got)
			}
		case "pmcp_rpc_errors_total":
			sawErrors = true
			if got := counterValue(fam, "code", "InvalidParams"); got != 1 {
				t.Errorf("pmcp_rpc_errors_total{code=InvalidParams} = %v, want 1", got)
			}
		}
	}
	if !sawRequests {
		t.Errorf("pmcp_rpc_requests_total was not registered/collected")
	}
	if !sawErrors {
		t.Errorf("pmcp_rpc_errors_total was not registered/collected")
	}
}

func counterValue(fam *dto.MetricFamily, label, value string) float64 {
	for _, metric := range fam.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return -1
}
