// Package reader implements the Stream Reader (E): the sole producer
// into a stream's Packet Ring, responsible for connecting to a camera's
// RTSP endpoint, negotiating its codec, depacketizing RTP into access
// units, and reconnecting with backoff on failure (§4.4).
//
// Grounded on the gortsplib.Client usage pattern in
// other_examples/607cf7bb (DESCRIBE → find video format → SETUP → Play
// → OnPacketRTP), generalized from a single H.264-only subscriber fan-out
// to a codec-agnostic depacketizer feeding a ring.Ring, and from the
// example's fixed 3-attempt retry to the bounded full-jitter Backoff
// used throughout this package.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/ring"
)

// Hooks lets the Lifecycle Manager (G) observe Stream Reader transitions
// without the Reader depending on the Lifecycle Manager's package.
type Hooks struct {
	OnConnecting func()
	OnConnected  func(codec string, width, height int)
	OnError      func(kind models.Kind, err error)
	OnStall      func()
}

// Config configures one Reader instance.
type Config struct {
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	StallTimeout      time.Duration
}

// Reader connects to one stream's RTSP source and publishes demuxed
// packets into its Ring until ctx is canceled.
type Reader struct {
	stream *models.StreamDescriptor
	ring   *ring.Ring
	cfg    Config
	hooks  Hooks
	log    *slog.Logger

	backoff *Backoff
}

// New creates a Reader for the given stream, publishing into ring.
func New(stream *models.StreamDescriptor, r *ring.Ring, cfg Config, hooks Hooks, log *slog.Logger) *Reader {
	return &Reader{
		stream:  stream,
		ring:    r,
		cfg:     cfg,
		hooks:   hooks,
		log:     log.With("stream", stream.Name),
		backoff: NewBackoff(cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay),
	}
}

// Run connects and re-connects with backoff until ctx is done. Each
// connection attempt blocks until the session ends (cleanly, by stall,
// or by error), then Run sleeps for the next backoff interval and
// retries.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.hooks.OnConnecting != nil {
			r.hooks.OnConnecting()
		}

		err := r.runSession(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			err = models.NewError("reader.runSession", models.KindIOError, errors.New("session ended"))
		}

		kind := classifyError(err)
		if r.hooks.OnError != nil {
			r.hooks.OnError(kind, err)
		}
		r.log.Warn("stream reader session ended", "error", err, "attempt", r.backoff.Attempt())

		delay := r.backoff.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runSession performs one connect-describe-setup-play cycle and blocks
// until the session ends.
func (r *Reader) runSession(ctx context.Context) error {
	u, err := base.ParseURL(r.stream.URI)
	if err != nil {
		return models.NewError("reader.runSession", models.KindInvalidConfig, err)
	}

	client := &gortsplib.Client{}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return models.NewError("reader.Start", models.KindIOError, err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return classifyConnectError("reader.Describe", err)
	}

	media, codecName, width, height, err := selectVideoMedia(desc)
	if err != nil {
		return models.NewError("reader.selectVideoMedia", models.KindDecodeError, err)
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		return models.NewError("reader.Setup", models.KindIOError, err)
	}

	demux, err := newDemuxer(codecName, media)
	if err != nil {
		return models.NewError("reader.newDemuxer", models.KindDecodeError, err)
	}

	lastPacket := time.Now()
	var seq uint64
	client.OnPacketRTP(media, media.Formats[0], func(pkt *rtp.Packet) {
		lastPacket = time.Now()
		payload, pts, keyFrame, err := demux.feed(pkt)
		if err != nil {
			r.log.Debug("dropping unparsable RTP packet", "error", err)
			return
		}
		if payload == nil {
			return // fragment accumulated, access unit not yet complete
		}
		seq++
		_ = r.ring.Publish(&models.Packet{
			Sequence:  seq,
			PTSMicros: pts,
			DTSMicros: pts,
			Flags:     flagsFor(keyFrame),
			Codec:     codecName,
			Payload:   payload,
		})
	})

	if r.hooks.OnConnected != nil {
		r.hooks.OnConnected(codecName, width, height)
	}

	if _, err := client.Play(nil); err != nil {
		return models.NewError("reader.Play", models.KindIOError, err)
	}
	r.backoff.Reset()

	stallTicker := time.NewTicker(r.cfg.StallTimeout / 2)
	defer stallTicker.Stop()

	done := make(chan error, 1)
	go func() { done <- client.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		case <-stallTicker.C:
			if time.Since(lastPacket) > r.cfg.StallTimeout {
				if r.hooks.OnStall != nil {
					r.hooks.OnStall()
				}
				return models.NewError("reader.stall", models.KindIOError, fmt.Errorf("no packets for %s", r.cfg.StallTimeout))
			}
		}
	}
}

func flagsFor(keyFrame bool) models.PacketFlags {
	if keyFrame {
		return models.FlagKeyFrame
	}
	return 0
}

// selectVideoMedia finds the first video track this system can demux.
func selectVideoMedia(desc *description.Session) (*description.Media, string, int, int, error) {
	for _, media := range desc.Medias {
		if media.Type != description.MediaTypeVideo {
			continue
		}
		for _, f := range media.Formats {
			switch vf := f.(type) {
			case *format.H264:
				return media, "h264", 0, 0, nil
			case *format.H265:
				return media, "h265", 0, 0, nil
			case *format.MJPEG:
				_ = vf
				return media, "mjpeg", 0, 0, nil
			}
		}
	}
	return nil, "", 0, 0, fmt.Errorf("no supported video track in SDP")
}

// classifyConnectError maps a DESCRIBE failure to the auth_error kind
// when the server rejected credentials, per §7.
func classifyConnectError(op string, err error) error {
	var re *base.ResponseError
	if errors.As(err, &re) {
		if re.Response != nil && (re.Response.StatusCode == 401 || re.Response.StatusCode == 403) {
			return models.NewError(op, models.KindAuthError, err)
		}
	}
	return models.NewError(op, models.KindIOError, err)
}

func classifyError(err error) models.Kind {
	if kind, ok := models.KindOf(err); ok {
		return kind
	}
	return models.KindIOError
}

// demuxer accumulates RTP packets into access units for one codec.
type demuxer struct {
	codec string
	h264  *rtph264.Decoder
	h265  *rtph265.Decoder
}

func newDemuxer(codecName string, media *description.Media) (*demuxer, error) {
	d := &demuxer{codec: codecName}
	for _, f := range media.Formats {
		switch vf := f.(type) {
		case *format.H264:
			dec, err := vf.CreateDecoder()
			if err != nil {
				return nil, err
			}
			d.h264 = dec
		case *format.H265:
			dec, err := vf.CreateDecoder()
			if err != nil {
				return nil, err
			}
			d.h265 = dec
		}
	}
	return d, nil
}

// feed decodes one RTP packet. It returns a nil payload while a
// fragmented access unit is still being reassembled; once complete, it
// returns the access unit as Annex-B-delimited NAL units (one payload
// per video frame), its timestamp in microseconds, and whether it is a
// key frame.
func (d *demuxer) feed(pkt *rtp.Packet) (payload []byte, ptsMicros int64, keyFrame bool, err error) {
	switch d.codec {
	case "h264":
		units, pts, err := d.h264.Decode(pkt)
		if err != nil {
			if errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) || errors.Is(err, rtph264.ErrMorePacketsNeeded) {
				return nil, 0, false, nil
			}
			return nil, 0, false, err
		}
		annexB, err := h264.AnnexB(units).Marshal()
		if err != nil {
			return nil, 0, false, err
		}
		return annexB, pts.Microseconds(), isH264KeyFrame(units), nil
	case "h265":
		units, pts, err := d.h265.Decode(pkt)
		if err != nil {
			if errors.Is(err, rtph265.ErrNonStartingPacketAndNoPrevious) || errors.Is(err, rtph265.ErrMorePacketsNeeded) {
				return nil, 0, false, nil
			}
			return nil, 0, false, err
		}
		return joinAnnexB(units), pts.Microseconds(), isH265KeyFrame(units), nil
	default:
		return pkt.Payload, 0, false, nil
	}
}

// joinAnnexB concatenates NAL units with start codes. Used for H.265,
// which mediacommon does not expose an AnnexB marshaler for.
func joinAnnexB(units [][]byte) []byte {
	var buf []byte
	for _, u := range units {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, u...)
	}
	return buf
}

func isH264KeyFrame(units [][]byte) bool {
	for _, u := range units {
		if len(u) == 0 {
			continue
		}
		switch u[0] & 0x1F {
		case 5, 7, 8: // IDR, SPS, PPS
			return true
		}
	}
	return false
}

func isH265KeyFrame(units [][]byte) bool {
	for _, u := range units {
		if len(u) < 2 {
			continue
		}
		nalType := (u[0] >> 1) & 0x3F
		if nalType >= 16 && nalType <= 23 { // IRAP types
			return true
		}
	}
	return false
}
