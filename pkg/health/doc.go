/*
Package health tracks worker liveness for the cluster control plane.

Meta needs a verdict per registered worker — compute or compactor — that is
robust to a single dropped heartbeat: draining a compute node's actors or
re-queueing a compactor's task is expensive, so the verdict only flips
after several consecutive failures.

# Model

A Status accumulates check Results under a Config:

 1. Worker registers; monitoring starts, assumed healthy.
 2. Each reconciler cycle produces one Result per worker (heartbeat fresh
    or stale).
 3. A failed check increments ConsecutiveFailures; at Config.Retries of
    them the worker is marked unhealthy.
 4. A single success resets the counter and restores health.

StartPeriod covers the window right after registration where a compute
node is still pinning its initial version and catching up a chain
snapshot; failures inside it are expected and not counted.

# Check types

CheckTypeHeartbeat is passive: Meta derives the Result from the worker's
own heartbeat RPC timestamps, adding no network traffic; it is the only
kind Meta uses. CheckTypeHTTP and CheckTypeTCP name active probes of a
worker's listener behind the Checker interface; this package ships no
Checker implementation for them.

# Usage

	st := health.NewStatus()
	cfg := health.DefaultConfig()
	for range ticker.C {
		st.Update(health.Result{Healthy: heartbeatFresh(w), CheckedAt: time.Now()}, cfg)
		if !st.Healthy {
			markUnhealthy(w)
		}
	}

# See Also

  - pkg/reconciler - Drives the per-cycle checks and acts on the verdict
  - pkg/meta - Owns the worker registry the verdicts apply to
*/
package health
