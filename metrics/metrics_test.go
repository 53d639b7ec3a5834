package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakePool struct {
	inUse, capacity int
}

func (p *fakePool) InUse() int    { return p.inUse }
func (p *fakePool) Capacity() int { return p.capacity }

type fakeGroupCache struct {
	revokeCycles, inFlight int
}

func (g *fakeGroupCache) RevokeCycles() int   { return g.revokeCycles }
func (g *fakeGroupCache) InFlightEvents() int { return g.inFlight }

func TestCollectorReportsRegisteredPools(t *testing.T) {
	c := NewCollector("groupcache", nil)
	c.RegisterPool("sp", &fakePool{inUse: 3, capacity: 64})

	want := `
# HELP groupcache_pool_in_use Number of items currently acquired from a bounded object pool.
# TYPE groupcache_pool_in_use gauge
groupcache_pool_in_use{pool="sp"} 3
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "groupcache_pool_in_use"); err != nil {
		t.Fatalf("unexpected collected metrics: %v", err)
	}
}

func TestCollectorReportsGroupCaches(t *testing.T) {
	c := NewCollector("groupcache", func() map[uint32]GroupCacheStats {
		return map[uint32]GroupCacheStats{
			1: &fakeGroupCache{revokeCycles: 2, inFlight: 5},
		}
	})

	want := `
# HELP groupcache_group_revoke_cycles_total Number of completed revoke cycles observed for a group.
# TYPE groupcache_group_revoke_cycles_total counter
groupcache_group_revoke_cycles_total{group_uid="0x00000001"} 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "groupcache_group_revoke_cycles_total"); err != nil {
		t.Fatalf("unexpected collected metrics: %v", err)
	}
}

func TestCollectorWithNoPoolsOrGroupsCollectsNothing(t *testing.T) {
	c := NewCollector("groupcache", nil)
	if got := testutil.CollectAndCount(c); got != 0 {
		t.Fatalf("CollectAndCount = %d, want 0", got)
	}
}
