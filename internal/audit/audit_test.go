package audit

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/risk"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

func TestStore_QueryByOrderAndTime(t *testing.T) {
	s := NewStore(16, nil, nil)

	s.ArchiveOrder(types.Order{OrderID: 1, State: types.OrderStateFilled}, 100)
	s.ArchiveVerdict(types.Order{OrderID: 2}, risk.Verdict{Reason: risk.ReasonRateLimit}, 150)
	s.ArchiveOrder(types.Order{OrderID: 2, State: types.OrderStateRejected}, 200)

	byID := s.ByOrderID(2)
	require.Len(t, byID, 2)
	assert.Equal(t, RecordVerdict, byID[0].Kind)
	assert.Equal(t, "rate_limit", byID[0].Reason)

	byTime := s.ByTimeRange(120, 180)
	require.Len(t, byTime, 1)
	assert.Equal(t, uint64(150), byTime[0].TSC)
	assert.NotEmpty(t, byTime[0].ID)
}

func TestStore_RingOverwritesOldest(t *testing.T) {
	s := NewStore(4, nil, nil)
	for i := uint64(1); i <= 6; i++ {
		s.ArchiveOrder(types.Order{OrderID: i}, i)
	}
	assert.Equal(t, 4, s.Len())
	assert.Empty(t, s.ByOrderID(1), "oldest records are overwritten")
	assert.Len(t, s.ByOrderID(6), 1)
}

func TestFileBackend_PersistAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl.gz")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)

	s := NewStore(8, backend, nil)
	s.ArchiveOrder(types.Order{OrderID: 9, State: types.OrderStateCancelled}, 42)
	require.NoError(t, s.Flush())
	require.NoError(t, backend.Close())
	assert.Zero(t, s.PersistFailures())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	snap := &Snapshot{
		SessionID: 777,
		Positions: []position.Position{
			{SymbolID: 1, NetQty: 100, LongQty: 100, AvgLongPx: 10_000_000,
				RealizedPnL: 5_000_000, MarkPx: 10_500_000, LastUpdateTSC: 99},
			{SymbolID: 2, NetQty: -50, ShortQty: 50, AvgShortPx: 20_000_000},
		},
		OpenOrders: []types.Order{
			{OrderID: 11, SymbolID: 1, Side: types.SideBuy, Type: types.OrderTypeLimit,
				TIF: types.TIFGTC, State: types.OrderStateAcknowledged,
				Price: 10_000_000, Quantity: 200, FilledQty: 50,
				ClientOrderID: "c-11", VenueID: 3},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeSnapshot(&buf, snap))

	got, err := DecodeSnapshot(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestSnapshot_DetectsCorruption(t *testing.T) {
	snap := &Snapshot{SessionID: 1}
	var buf bytes.Buffer
	require.NoError(t, EncodeSnapshot(&buf, snap))

	raw := buf.Bytes()
	raw[10] ^= 0xFF
	_, err := DecodeSnapshot(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestSnapshot_RejectsBadMagic(t *testing.T) {
	snap := &Snapshot{SessionID: 1}
	var buf bytes.Buffer
	require.NoError(t, EncodeSnapshot(&buf, snap))

	// Flip the magic and fix the checksum so only the magic is wrong.
	payload := append([]byte(nil), buf.Bytes()[:buf.Len()-4]...)
	payload[0] ^= 0xFF
	var out bytes.Buffer
	out.Write(payload)
	require.NoError(t, binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(payload)))

	_, err := DecodeSnapshot(bytes.NewReader(out.Bytes()))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestSnapshot_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.hfts")
	snap := &Snapshot{
		SessionID: 5,
		Positions: []position.Position{{SymbolID: 3, NetQty: 7, LongQty: 7}},
	}
	require.NoError(t, WriteSnapshotFile(path, snap))

	got, err := ReadSnapshotFile(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}
