package wire

import (
	"bytes"
	"testing"
)

func sampleEntry() *RankEntry {
	e := &RankEntry{
		Set: true,
		ProcInfo: ProcInfo{
			GroupUID:    7,
			GroupRank:   3,
			GroupSize:   2048,
			SeqNum:      1,
			NLocalRanks: 4,
			LocalRank:   1,
			HostInfo:    99,
		},
		HostInfo: 99,
		AddrLen:  4,
		ClientID: 123456,
	}
	copy(e.Addr[:], []byte{1, 2, 3, 4})
	e.NumShadowServiceProcs = 2
	e.ShadowServiceProcs[0] = 10
	e.ShadowServiceProcs[1] = 11
	return e
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := sampleEntry()

	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) != Size {
		t.Fatalf("Marshal produced %d bytes, want %d", len(data), Size)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Set != want.Set ||
		got.ProcInfo != want.ProcInfo ||
		got.HostInfo != want.HostInfo ||
		got.AddrLen != want.AddrLen ||
		got.ClientID != want.ClientID ||
		got.NumShadowServiceProcs != want.NumShadowServiceProcs ||
		got.ShadowServiceProcs != want.ShadowServiceProcs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Addr[:], want.Addr[:]) {
		t.Fatalf("addr mismatch: got %v, want %v", got.Addr, want.Addr)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	a := sampleEntry()
	b := sampleEntry()
	b.ProcInfo.GroupRank = 4

	data, err := MarshalBatch([]*RankEntry{a, b})
	if err != nil {
		t.Fatalf("MarshalBatch: %v", err)
	}
	if len(data) != 2*Size {
		t.Fatalf("MarshalBatch produced %d bytes, want %d", len(data), 2*Size)
	}

	entries, err := UnmarshalBatch(data)
	if err != nil {
		t.Fatalf("UnmarshalBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ProcInfo.GroupRank != 3 || entries[1].ProcInfo.GroupRank != 4 {
		t.Fatalf("entries out of order or corrupted: %+v", entries)
	}
}

func TestUnmarshalBatchRejectsMisalignedPayload(t *testing.T) {
	_, err := UnmarshalBatch(make([]byte, Size+1))
	if err == nil {
		t.Fatal("expected error for payload not a multiple of Size")
	}
}

func TestUnmarshalRejectsShortPayload(t *testing.T) {
	_, err := Unmarshal(make([]byte, Size-1))
	if err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestLittleEndianByteOrder(t *testing.T) {
	e := sampleEntry()
	e.ProcInfo.GroupUID = 0x01020304

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// GroupUID immediately follows the 1-byte Set field + 7 bytes padding.
	groupUIDBytes := data[8:12]
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(groupUIDBytes, want) {
		t.Fatalf("GroupUID not little-endian: got %v, want %v", groupUIDBytes, want)
	}
}
