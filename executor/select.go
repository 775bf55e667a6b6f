package executor

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
)

// Select picks an endpoint for strategy. key feeds HASH; rr is the round
// robin counter. FAILOVER expects endpoints already filtered to healthy
// ones in preference order. SHARDING picks by rr like ROUND_ROBIN; the
// caller advances rr once per range.
func Select(strategy job.RouteStrategy, endpoints []Endpoint, key string, rr uint64) (Endpoint, error) {
	n := len(endpoints)
	if n == 0 {
		return nil, cadence.ErrNoEndpoints
	}
	switch strategy {
	case job.RouteRoundRobin, job.RouteSharding:
		return endpoints[rr%uint64(n)], nil //nolint:gosec // n is a positive slice length
	case job.RouteRandom:
		return endpoints[rand.IntN(n)], nil //nolint:gosec // load spreading only
	case job.RouteHash:
		h := fnv.New64a()
		h.Write([]byte(key)) //nolint:errcheck,gosec // hash writes never fail

		return endpoints[h.Sum64()%uint64(n)], nil //nolint:gosec // n is a positive slice length
	case job.RouteLeastBusy:
		best := endpoints[0]
		for _, ep := range endpoints[1:] {
			if ep.Busy() < best.Busy() {
				best = ep
			}
		}
		return best, nil
	default:
		// FIRST, FAILOVER and unknown strategies take the head.
		return endpoints[0], nil
	}
}
