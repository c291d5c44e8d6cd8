package models

// PacketFlags marks structural properties of a demuxed packet that
// consumers need without inspecting payload bytes.
type PacketFlags uint8

const (
	// FlagKeyFrame marks a video packet starting a new GOP.
	FlagKeyFrame PacketFlags = 1 << iota
	// FlagDiscontinuity marks a packet following a lost interval of time
	// (reconnect, ring overflow). Consumers must treat it as a hard
	// boundary: segmenters rotate, HLS marks a discontinuity tag.
	FlagDiscontinuity
	// FlagAudio marks an audio-elementary-stream packet. Audio recording
	// is a Non-goal; the Segmenter and HLS Writer ignore audio packets
	// but the Stream Reader still demuxes and tags them so they can be
	// dropped deliberately rather than silently misparsed as video.
	FlagAudio
)

// Has reports whether the given flag is set.
func (f PacketFlags) Has(flag PacketFlags) bool {
	return f&flag != 0
}

// Packet is an immutable container-level unit handed from the Stream
// Reader (E) to the Packet Ring (A). Once published, a Packet's fields
// and Payload are never mutated. Packets are not reference-counted: the
// ring and every cursor share the same *Packet, and a packet the ring
// has evicted stays valid for as long as a consumer still holds it
// (see ring.Ring).
//
// Invariant: within a stream, Sequence strictly increases. PTS/DTS are
// weakly monotonic modulo FlagDiscontinuity (§3).
type Packet struct {
	Sequence      uint64
	PTSMicros     int64
	DTSMicros     int64
	Flags         PacketFlags
	Codec         string
	Payload       []byte
}

// IsKeyFrame reports whether this packet starts a new GOP.
func (p *Packet) IsKeyFrame() bool { return p.Flags.Has(FlagKeyFrame) }

// IsDiscontinuity reports whether this packet follows a dropped interval.
func (p *Packet) IsDiscontinuity() bool { return p.Flags.Has(FlagDiscontinuity) }

// IsAudio reports whether this packet carries an audio elementary stream.
func (p *Packet) IsAudio() bool { return p.Flags.Has(FlagAudio) }

// Clone returns a deep copy of the packet, including its payload. Used
// where a consumer hands data on to another owner (e.g. the Detection
// Tap handing a snapshot across a goroutine boundary).
func (p *Packet) Clone() *Packet {
	clone := *p
	if len(p.Payload) > 0 {
		clone.Payload = make([]byte, len(p.Payload))
		copy(clone.Payload, p.Payload)
	}
	return &clone
}
