/*
Package metrics defines the process's Prometheus collectors: each concern
(requests, pipeline throughput, catalogue RPCs, tenant registry size) gets
its own CounterVec/HistogramVec/GaugeVec, registered once at init and
served over /metrics via Handler.

Request outcomes are recorded by pkg/dataplane.Service via instrument,
catalogue RPCs by catalogue.Instrumented, and orphaned-path counts by
pkg/orphan — every collector here is wired to a concrete caller, not left
for a future instrumentation pass.
*/
package metrics
