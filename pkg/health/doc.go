/*
Package health provides the Checker/Result/Status building blocks used to
report process liveness: a Checker runs one liveness probe, Status applies
hysteresis (a configurable number of consecutive failures before flipping
unhealthy; a single success flips it back) so a single transient failure
doesn't flap the reported state.

HTTPChecker and TCPChecker probe a reachable dependency over the network;
cmd/dataplaned's /healthz handler instead defines its own catalogueChecker
against the in-process catalogue handle, but a deployment that talks to the
external metadata catalogue over HTTP or the object-store backend over TCP
can compose the same Checker interface against those instead.

# Usage

	checker := health.NewTCPChecker("catalogue.internal:5433")
	status := health.NewStatus()
	cfg := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy {
		// surface 503 from /healthz
	}
*/
package health
