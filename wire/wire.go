// Package wire implements the §6.1 rank-entry wire payload: a fixed-layout,
// little-endian encoding of one rank entry, and the packed-array framing a
// PEER_CACHE_ENTRIES message uses to carry many of them in one send.
//
// The shape follows the teacher's msg package (msg/msg.go), which
// hand-rolls Marshal/Unmarshal over bytes.Buffer and encoding/binary rather
// than reaching for a schema compiler; the only substantive difference is
// byte order, which §6.1 pins to little-endian where ZRE's wire format
// uses big-endian.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxShadowSPs is the compile-time maximum number of shadow SPs an entry's
// wire form can carry (the spec's "K").
const MaxShadowSPs = 8

// AddrLen is the size of the opaque transport-level endpoint address field.
const AddrLen = 64

// UnsetGroupUID marks a RankEntry's GroupUID field as "unset" (§3).
const UnsetGroupUID uint32 = 0x7FFFFFFF

// UnsetSeqNum marks SeqNum as "unset"; it is invalid on the wire (§6.1).
const UnsetSeqNum uint64 = 0

// ProcInfo is the peer.proc_info wire sub-record.
type ProcInfo struct {
	GroupUID    uint32
	GroupRank   int64
	GroupSize   int64
	SeqNum      uint64
	NLocalRanks int64
	LocalRank   int64
	HostInfo    uint64
}

// RankEntry is one §6.1 wire record: a fixed-size description of a single
// rank, including the addr and shadow-SP arrays as they appear on the
// wire, padding included.
type RankEntry struct {
	Set      bool
	ProcInfo ProcInfo
	HostInfo uint64 // duplicate of ProcInfo.HostInfo, kept for wire compatibility
	AddrLen  uint64
	Addr     [AddrLen]byte

	ClientID              uint64
	NumShadowServiceProcs uint32
	ShadowServiceProcs    [MaxShadowSPs]uint64
}

// Size is the fixed, padded size in bytes of one marshaled RankEntry.
const Size = 1 + 7 + // Set + padding to 8-byte alignment
	4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + // ProcInfo (GroupUID padded to 8 with 4 bytes)
	8 + // HostInfo
	8 + AddrLen + // AddrLen + Addr
	8 + // ClientID
	4 + 4 + // NumShadowServiceProcs + padding
	MaxShadowSPs*8

// Marshal encodes e into its fixed little-endian wire form.
func (e *RankEntry) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(Size)

	var setByte byte
	if e.Set {
		setByte = 1
	}
	buf.WriteByte(setByte)
	buf.Write(make([]byte, 7)) // pad to 8-byte alignment

	binary.Write(buf, binary.LittleEndian, e.ProcInfo.GroupUID)
	buf.Write(make([]byte, 4)) // pad GroupUID to 8 bytes
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.GroupRank)
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.GroupSize)
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.SeqNum)
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.NLocalRanks)
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.LocalRank)
	binary.Write(buf, binary.LittleEndian, e.ProcInfo.HostInfo)

	binary.Write(buf, binary.LittleEndian, e.HostInfo)

	binary.Write(buf, binary.LittleEndian, e.AddrLen)
	buf.Write(e.Addr[:])

	binary.Write(buf, binary.LittleEndian, e.ClientID)
	binary.Write(buf, binary.LittleEndian, e.NumShadowServiceProcs)
	buf.Write(make([]byte, 4)) // pad to 8-byte alignment before the array

	for i := 0; i < MaxShadowSPs; i++ {
		binary.Write(buf, binary.LittleEndian, e.ShadowServiceProcs[i])
	}

	if buf.Len() != Size {
		return nil, fmt.Errorf("wire: internal encoding size mismatch: got %d, want %d", buf.Len(), Size)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single RankEntry from the front of data. It returns
// an error if data is shorter than Size.
func Unmarshal(data []byte) (*RankEntry, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("wire: short rank entry: got %d bytes, want %d", len(data), Size)
	}

	r := bytes.NewReader(data[:Size])
	e := &RankEntry{}

	var setByte byte
	binary.Read(r, binary.LittleEndian, &setByte)
	e.Set = setByte != 0
	skip(r, 7)

	binary.Read(r, binary.LittleEndian, &e.ProcInfo.GroupUID)
	skip(r, 4)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.GroupRank)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.GroupSize)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.SeqNum)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.NLocalRanks)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.LocalRank)
	binary.Read(r, binary.LittleEndian, &e.ProcInfo.HostInfo)

	binary.Read(r, binary.LittleEndian, &e.HostInfo)

	binary.Read(r, binary.LittleEndian, &e.AddrLen)
	r.Read(e.Addr[:])

	binary.Read(r, binary.LittleEndian, &e.ClientID)
	binary.Read(r, binary.LittleEndian, &e.NumShadowServiceProcs)
	skip(r, 4)

	for i := 0; i < MaxShadowSPs; i++ {
		binary.Read(r, binary.LittleEndian, &e.ShadowServiceProcs[i])
	}

	return e, nil
}

func skip(r *bytes.Reader, n int64) {
	r.Seek(n, 1)
}

// MarshalBatch packs a slice of entries into a single PEER_CACHE_ENTRIES
// payload, one fixed-size record after another.
func MarshalBatch(entries []*RankEntry) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(Size * len(entries))
	for _, e := range entries {
		b, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// UnmarshalBatch splits a PEER_CACHE_ENTRIES payload back into its
// constituent entries.
func UnmarshalBatch(data []byte) ([]*RankEntry, error) {
	if len(data)%Size != 0 {
		return nil, fmt.Errorf("wire: payload length %d is not a multiple of entry size %d", len(data), Size)
	}
	n := len(data) / Size
	out := make([]*RankEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := Unmarshal(data[i*Size : (i+1)*Size])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
