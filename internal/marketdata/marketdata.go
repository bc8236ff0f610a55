// Package marketdata defines the ingress edge: the burst receiver the
// ingress worker polls, and the parser mapping raw payloads to normalized
// events. Wire-protocol parsers live behind the Parser trait; the core only
// consumes events.
package marketdata

import (
	"errors"

	"github.com/abdoElHodaky/hftcore/internal/types"
)

// ErrParse is returned by parsers for malformed payloads.
var ErrParse = errors.New("marketdata: malformed payload")

// Packet is one raw ingress unit with its hardware receive timestamp.
type Packet struct {
	TimestampTSC uint64
	SymbolID     uint32
	Payload      []byte
}

// Ingress is polled in a tight loop by the ingress worker. RecvBurst fills
// buf and returns the count; it must not block.
type Ingress interface {
	RecvBurst(buf []Packet) int
}

// Parser maps a raw payload to a normalized event.
type Parser interface {
	Parse(pkt *Packet, out *types.MarketDataEvent) error
}
