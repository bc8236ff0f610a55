package audit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/abdoElHodaky/hftcore/internal/position"
	"github.com/abdoElHodaky/hftcore/internal/types"
)

// Snapshot file format, little-endian:
//
//	magic   u32  0x48465453 ("HFTS")
//	version u32
//	session u64
//	npos    u32, then npos packed position records
//	nord    u32, then nord packed open-order records
//	crc32   u32  (IEEE, over everything before it)
const (
	SnapshotMagic   uint32 = 0x48465453
	SnapshotVersion uint32 = 1
)

// Snapshot file errors.
var (
	ErrBadMagic    = errors.New("snapshot: bad magic")
	ErrBadVersion  = errors.New("snapshot: unsupported version")
	ErrBadChecksum = errors.New("snapshot: checksum mismatch")
	ErrTruncated   = errors.New("snapshot: truncated")
)

// Snapshot is the persisted session state.
type Snapshot struct {
	SessionID  uint64
	Positions  []position.Position
	OpenOrders []types.Order
}

// EncodeSnapshot writes the snapshot in the fixed binary layout.
func EncodeSnapshot(w io.Writer, snap *Snapshot) error {
	var body bytes.Buffer

	write := func(v any) {
		_ = binary.Write(&body, binary.LittleEndian, v)
	}

	write(SnapshotMagic)
	write(SnapshotVersion)
	write(snap.SessionID)

	write(uint32(len(snap.Positions)))
	for i := range snap.Positions {
		p := &snap.Positions[i]
		write(p.SymbolID)
		write(p.NetQty)
		write(p.LongQty)
		write(p.ShortQty)
		write(p.AvgLongPx)
		write(p.AvgShortPx)
		write(p.RealizedPnL)
		write(p.UnrealizedPnL)
		write(p.MarkPx)
		write(p.LastUpdateTSC)
	}

	write(uint32(len(snap.OpenOrders)))
	for i := range snap.OpenOrders {
		o := &snap.OpenOrders[i]
		write(o.OrderID)
		write(o.ParentID)
		write(o.Price)
		write(o.Quantity)
		write(o.FilledQty)
		write(o.CreatedTSC)
		write(o.LastUpdateTSC)
		write(o.ExpiryTSC)
		write(o.SymbolID)
		write(o.StrategyID)
		write(uint8(o.Side))
		write(uint8(o.Type))
		write(uint8(o.TIF))
		write(uint8(o.State))
		write(o.VenueID)
		cid := []byte(o.ClientOrderID)
		write(uint16(len(cid)))
		body.Write(cid)
	}

	payload := body.Bytes()
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc32.ChecksumIEEE(payload))
}

// DecodeSnapshot reads and verifies a snapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4+4+8+4+4+4 {
		return nil, ErrTruncated
	}

	payload := raw[:len(raw)-4]
	stored := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(payload) != stored {
		return nil, ErrBadChecksum
	}

	buf := bytes.NewReader(payload)
	read := func(v any) error {
		return binary.Read(buf, binary.LittleEndian, v)
	}

	var magic, version uint32
	if err := read(&magic); err != nil {
		return nil, ErrTruncated
	}
	if magic != SnapshotMagic {
		return nil, ErrBadMagic
	}
	if err := read(&version); err != nil {
		return nil, ErrTruncated
	}
	if version != SnapshotVersion {
		return nil, ErrBadVersion
	}

	snap := &Snapshot{}
	if err := read(&snap.SessionID); err != nil {
		return nil, ErrTruncated
	}

	var npos uint32
	if err := read(&npos); err != nil {
		return nil, ErrTruncated
	}
	if npos > 0 {
		snap.Positions = make([]position.Position, npos)
	}
	for i := range snap.Positions {
		p := &snap.Positions[i]
		for _, v := range []any{
			&p.SymbolID, &p.NetQty, &p.LongQty, &p.ShortQty,
			&p.AvgLongPx, &p.AvgShortPx, &p.RealizedPnL, &p.UnrealizedPnL,
			&p.MarkPx, &p.LastUpdateTSC,
		} {
			if err := read(v); err != nil {
				return nil, ErrTruncated
			}
		}
	}

	var nord uint32
	if err := read(&nord); err != nil {
		return nil, ErrTruncated
	}
	if nord > 0 {
		snap.OpenOrders = make([]types.Order, nord)
	}
	for i := range snap.OpenOrders {
		o := &snap.OpenOrders[i]
		var side, otype, tif, state uint8
		for _, v := range []any{
			&o.OrderID, &o.ParentID, &o.Price, &o.Quantity, &o.FilledQty,
			&o.CreatedTSC, &o.LastUpdateTSC, &o.ExpiryTSC,
			&o.SymbolID, &o.StrategyID,
			&side, &otype, &tif, &state, &o.VenueID,
		} {
			if err := read(v); err != nil {
				return nil, ErrTruncated
			}
		}
		o.Side = types.Side(side)
		o.Type = types.OrderType(otype)
		o.TIF = types.TimeInForce(tif)
		o.State = types.OrderState(state)

		var cidLen uint16
		if err := read(&cidLen); err != nil {
			return nil, ErrTruncated
		}
		cid := make([]byte, cidLen)
		if _, err := io.ReadFull(buf, cid); err != nil {
			return nil, ErrTruncated
		}
		o.ClientOrderID = string(cid)
	}
	return snap, nil
}

// WriteSnapshotFile encodes to a temp file and renames into place.
func WriteSnapshotFile(path string, snap *Snapshot) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := EncodeSnapshot(f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSnapshotFile decodes a snapshot from disk.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSnapshot(f)
}
