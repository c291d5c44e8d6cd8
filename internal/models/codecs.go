package models

import "github.com/opensensor/lightnvr/internal/codec"

// VideoCodec identifies the video codec carried by a stream's packets.
type VideoCodec string

const (
	VideoCodecH264 VideoCodec = VideoCodec(codec.VideoH264)
	VideoCodecH265 VideoCodec = VideoCodec(codec.VideoH265)
	VideoCodecMJPEG VideoCodec = VideoCodec(codec.VideoMJPEG)
)

// AudioCodec identifies the audio codec carried by a stream's packets.
// Audio recording is a Non-goal; this exists only so demuxed audio packets
// can be tagged and discarded rather than mis-typed as video.
type AudioCodec string

const (
	AudioCodecAAC  AudioCodec = AudioCodec(codec.AudioAAC)
	AudioCodecPCMA AudioCodec = AudioCodec(codec.AudioPCMA)
	AudioCodecPCMU AudioCodec = AudioCodec(codec.AudioPCMU)
)

// ParseVideoCodec parses a string to a VideoCodec, returning the codec and
// whether it's a codec this system can demux at the container level.
func ParseVideoCodec(s string) (VideoCodec, bool) {
	v, ok := codec.ParseVideo(s)
	if !ok {
		return "", false
	}
	return VideoCodec(v), true
}

// ParseAudioCodec parses a string to an AudioCodec.
func ParseAudioCodec(s string) (AudioCodec, bool) {
	a, ok := codec.ParseAudio(s)
	if !ok {
		return "", false
	}
	return AudioCodec(a), true
}

// NormalizeCodecName converts RTSP SDP encoding names and aliases to the
// canonical codec names used throughout the catalog.
func NormalizeCodecName(name string) string {
	return codec.Normalize(name)
}
