package registry

import (
	"slices"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/flight-signaling/internal/metrics"
)

const DefaultSweepInterval = 120 * time.Second

// Sweep evicts flights that can no longer make progress: no members, owner
// marked disconnected, or owner without a user record. Remaining members are
// released. Each eviction is reported like an owner departure, sorted by
// code, so callers can tell the released members.
func (r *Registry) Sweep() []LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []LeaveResult
	for code, f := range r.flights {
		if f.ownerConnected && r.consistentLocked(f) {
			continue
		}
		f.ownerConnected = false
		res := LeaveResult{Code: code, Dissolved: true, Flight: r.snapshotLocked(f)}
		for _, id := range f.members {
			if u, ok := r.users[id]; ok && u.flight == code {
				res.Notify = append(res.Notify, id)
			}
		}
		r.dissolveLocked(f)
		r.logger.Info("evicted stale flight", "code", code, "released", len(res.Notify))
		evicted = append(evicted, res)
	}
	slices.SortFunc(evicted, func(a, b LeaveResult) int { return strings.Compare(a.Code, b.Code) })
	r.metrics.Add(metrics.FlightsEvicted, uint64(len(evicted)))
	return evicted
}
