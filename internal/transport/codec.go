package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the smallest payload Duskmesh bothers compressing.
// Put content is typically the only message large enough for this to pay
// off; probes and status responses stay well under it.
const compressThreshold = 512

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("transport: init zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("transport: init zstd decoder: %v", err))
	}
}

// envelope tags whether the payload that follows is zstd-compressed, so
// the receiver doesn't have to guess or attempt-and-fallback.
const (
	envelopeRaw byte = iota
	envelopeCompressed
)

// encodeEnvelope prefixes a message-type tag and a compression flag ahead
// of payload, compressing payload with zstd when it is large enough to be
// worth the round trip.
func encodeEnvelope(t msgType, payload []byte) []byte {
	if len(payload) < compressThreshold {
		out := make([]byte, 0, len(payload)+2)
		out = append(out, byte(t), envelopeRaw)
		return append(out, payload...)
	}

	compressed := encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	out := make([]byte, 0, len(compressed)+2)
	out = append(out, byte(t), envelopeCompressed)
	return append(out, compressed...)
}

// decodeEnvelope reverses encodeEnvelope, decompressing when needed.
func decodeEnvelope(data []byte) (msgType, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("envelope too short")
	}

	t := msgType(data[0])
	flag := data[1]
	body := data[2:]

	switch flag {
	case envelopeRaw:
		return t, body, nil
	case envelopeCompressed:
		out, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("decompress payload: %w", err)
		}
		return t, out, nil
	default:
		return 0, nil, fmt.Errorf("unknown envelope flag %d", flag)
	}
}
