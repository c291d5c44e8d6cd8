package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketFlags(t *testing.T) {
	p := &Packet{Flags: FlagKeyFrame | FlagDiscontinuity}
	assert.True(t, p.IsKeyFrame())
	assert.True(t, p.IsDiscontinuity())
	assert.False(t, p.IsAudio())
}

func TestPacketClone(t *testing.T) {
	original := &Packet{
		Sequence: 7,
		Codec:    "h264",
		Payload:  []byte{1, 2, 3},
	}
	clone := original.Clone()

	assert.Equal(t, original.Sequence, clone.Sequence)
	assert.Equal(t, original.Payload, clone.Payload)

	clone.Payload[0] = 0xFF
	assert.NotEqual(t, original.Payload[0], clone.Payload[0], "clone must not share backing array with original")
}

func TestPacketClone_EmptyPayload(t *testing.T) {
	p := &Packet{Sequence: 1}
	clone := p.Clone()
	assert.Nil(t, clone.Payload)
}
