// Package fmp4io builds standalone-fMP4 (CMAF-style) byte streams: one
// init segment (ftyp+moov) per video track, followed by a sequence of
// fragments (moof+mdat), each holding one access unit. It is the single
// place that talks to mediacommon's fmp4 types, shared by the MP4
// Segmenter (B), which writes one continuous init+fragments file per
// recording segment, and the HLS Writer (C), which writes one shared
// init.mp4 plus a separate small file per live segment so the fragment
// sequence number keeps incrementing across segment boundaries.
//
// Grounded on the FMP4StreamWriter pattern in
// _examples/other_examples/2636d386_babelcloud-gbox's
// device_connect/transport/stream fmp4_writer.go (fmp4.Init/fmp4.Part
// construction via seekablebuffer.Buffer), narrowed to video-only since
// audio recording is an explicit Non-goal.
package fmp4io

import (
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/opensensor/lightnvr/internal/codecutil"
	"github.com/opensensor/lightnvr/internal/models"
)

const (
	// VideoTrackID is the sole track ID used in every init segment this
	// package writes (no audio track: recording audio is a Non-goal).
	VideoTrackID = 1
	// VideoTimescale is the fMP4 track time scale, in ticks per second.
	VideoTimescale = 90000
)

// BuildInit marshals a standalone ftyp+moov init segment for one video
// track. paramSets is {sps, pps} for h264 or {vps, sps, pps} for h265.
func BuildInit(codec string, paramSets [][]byte) ([]byte, error) {
	var mp4Codec mp4.Codec
	switch codec {
	case "h264":
		if len(paramSets) != 2 {
			return nil, fmt.Errorf("h264 init requires sps+pps, got %d param sets", len(paramSets))
		}
		mp4Codec = &mp4.CodecH264{SPS: paramSets[0], PPS: paramSets[1]}
	case "h265":
		if len(paramSets) != 3 {
			return nil, fmt.Errorf("h265 init requires vps+sps+pps, got %d param sets", len(paramSets))
		}
		mp4Codec = &mp4.CodecH265{VPS: paramSets[0], SPS: paramSets[1], PPS: paramSets[2]}
	default:
		return nil, fmt.Errorf("unsupported codec %q for fMP4 init segment", codec)
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{ID: VideoTrackID, TimeScale: VideoTimescale, Codec: mp4Codec},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("marshal init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// FragmentWriter emits one moof+mdat fragment per access unit. Sequence
// numbering is monotonic across however many destinations WriteAccessUnit
// is called against, so callers that split fragments across several
// files (the HLS Writer) still produce a single coherent sequence.
type FragmentWriter struct {
	sequence uint32
	firstPTS int64
	lastPTS  int64
	frames   int
}

// NewFragmentWriter creates a FragmentWriter whose first fragment carries
// the given sequence number.
func NewFragmentWriter(startSequence uint32) *FragmentWriter {
	if startSequence == 0 {
		startSequence = 1
	}
	return &FragmentWriter{sequence: startSequence}
}

// WriteAccessUnit marshals one fragment for pkt and writes it to dst.
func (w *FragmentWriter) WriteAccessUnit(dst io.Writer, pkt *models.Packet) (int, error) {
	dts := scaleMicrosToTimescale(pkt.PTSMicros, VideoTimescale)
	if w.frames == 0 {
		w.firstPTS = dts
	}

	sample := &fmp4.Sample{
		IsNonSyncSample: !pkt.IsKeyFrame(),
		Payload:         codecutil.AnnexBToAVCC(pkt.Payload),
	}
	if w.lastPTS != 0 {
		if dur := dts - w.lastPTS; dur > 0 {
			sample.Duration = uint32(dur)
		}
	}
	if sample.Duration == 0 {
		sample.Duration = VideoTimescale / 30
	}

	baseTime := uint64(0)
	if dts > w.firstPTS {
		baseTime = uint64(dts - w.firstPTS)
	}

	part := &fmp4.Part{
		SequenceNumber: w.sequence,
		Tracks: []*fmp4.PartTrack{
			{ID: VideoTrackID, BaseTime: baseTime, Samples: []*fmp4.Sample{sample}},
		},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return 0, fmt.Errorf("marshal fragment: %w", err)
	}
	n, err := dst.Write(buf.Bytes())
	if err != nil {
		return n, fmt.Errorf("write fragment: %w", err)
	}

	w.lastPTS = dts
	w.sequence++
	w.frames++
	return n, nil
}

// Frames returns the number of access units written so far.
func (w *FragmentWriter) Frames() int { return w.frames }

// NextSequence returns the fragment sequence number the next
// WriteAccessUnit call will use.
func (w *FragmentWriter) NextSequence() uint32 { return w.sequence }

func scaleMicrosToTimescale(micros int64, timescale uint32) int64 {
	if micros <= 0 {
		return 0
	}
	return (micros * int64(timescale)) / 1_000_000
}
