package topology

import "testing"

func fourHostConfig() *StaticHostsConfig {
	return NewStaticHostsConfig([]uint64{100, 200, 300, 400})
}

func TestUpdateBuildsCountsIncrementally(t *testing.T) {
	idx := New(16, fourHostConfig())

	if err := idx.Update(0, 5, 100); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := idx.Update(1, 5, 100); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := idx.Update(2, 6, 100); err != nil {
		t.Fatalf("Update: %v", err)
	}

	sp5 := idx.SPsHash[5]
	if sp5 == nil || sp5.NRanks != 2 {
		t.Fatalf("sp5 = %+v, want NRanks=2", sp5)
	}
	host := idx.HostsHash[100]
	if host == nil || host.NumRanks != 3 || host.NumSPs != 2 {
		t.Fatalf("host = %+v, want NumRanks=3 NumSPs=2", host)
	}
}

func TestUpdateRejectsUnknownHost(t *testing.T) {
	idx := New(16, fourHostConfig())
	if err := idx.Update(0, 5, 999); err != ErrUnknownHost {
		t.Fatalf("Update with unknown host = %v, want ErrUnknownHost", err)
	}
}

func TestPopulateAssignsLIDsByAscendingGID(t *testing.T) {
	idx := New(16, fourHostConfig())
	// Insert out of GID order to prove lid assignment doesn't depend on
	// arrival order.
	idx.Update(0, 30, 100)
	idx.Update(1, 10, 100)
	idx.Update(2, 20, 100)

	idx.Populate()

	if len(idx.SPsArray) != 3 {
		t.Fatalf("got %d SPs, want 3", len(idx.SPsArray))
	}
	wantOrder := []uint64{10, 20, 30}
	for i, gid := range wantOrder {
		if idx.SPsArray[i].GID != gid {
			t.Fatalf("SPsArray[%d].GID = %d, want %d", i, idx.SPsArray[i].GID, gid)
		}
		if idx.SPsArray[i].LID != i {
			t.Fatalf("SPsArray[%d].LID = %d, want %d", i, idx.SPsArray[i].LID, i)
		}
	}
	if idx.SPsBitset.Count() != 3 {
		t.Fatalf("SPsBitset.Count() = %d, want 3", idx.SPsBitset.Count())
	}
}

func TestPopulateIsIdempotent(t *testing.T) {
	idx := New(16, fourHostConfig())
	idx.Update(0, 1, 100)
	idx.Populate()
	first := idx.SPsArray[0]

	idx.Populate()
	if idx.SPsArray[0] != first {
		t.Error("second Populate call mutated the already-populated index")
	}
}

func TestHostsArrayOrderedByConfigIdx(t *testing.T) {
	idx := New(16, fourHostConfig())
	// host 400 (config idx 3) observed before host 100 (config idx 0).
	idx.Update(0, 1, 400)
	idx.Update(1, 2, 100)

	idx.Populate()

	if len(idx.HostsArray) != 2 {
		t.Fatalf("got %d hosts, want 2", len(idx.HostsArray))
	}
	if idx.HostsArray[0].UID != 100 || idx.HostsArray[1].UID != 400 {
		t.Fatalf("hosts not ordered by config_idx: %+v", idx.HostsArray)
	}
}

func TestResetClearsEverything(t *testing.T) {
	idx := New(16, fourHostConfig())
	idx.Update(0, 1, 100)
	idx.Populate()

	idx.Reset(32)

	if len(idx.SPsHash) != 0 || len(idx.HostsHash) != 0 {
		t.Error("Reset left stale hash entries")
	}
	if idx.LookupTablesPopulated {
		t.Error("Reset should clear LookupTablesPopulated")
	}
	if idx.GroupSize != 32 {
		t.Errorf("GroupSize = %d, want 32", idx.GroupSize)
	}
}
