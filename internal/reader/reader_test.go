package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensensor/lightnvr/internal/models"
)

func TestIsH264KeyFrame(t *testing.T) {
	cases := []struct {
		name  string
		units [][]byte
		want  bool
	}{
		{"idr", [][]byte{{0x65, 0x01, 0x02}}, true},
		{"sps", [][]byte{{0x67, 0x01}}, true},
		{"pps", [][]byte{{0x68, 0x01}}, true},
		{"non-idr slice", [][]byte{{0x41, 0x01}}, false},
		{"empty", [][]byte{{}}, false},
		{"no units", [][]byte{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isH264KeyFrame(tc.units))
		})
	}
}

func TestIsH265KeyFrame(t *testing.T) {
	cases := []struct {
		name  string
		units [][]byte
		want  bool
	}{
		{"idr_w_radl", [][]byte{{19 << 1, 0x01}}, true},
		{"idr_n_lp", [][]byte{{20 << 1, 0x01}}, true},
		{"trail_r", [][]byte{{1 << 1, 0x01}}, false},
		{"too short", [][]byte{{0x01}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isH265KeyFrame(tc.units))
		})
	}
}

func TestFlagsFor(t *testing.T) {
	assert.True(t, flagsFor(true).Has(models.FlagKeyFrame))
	assert.False(t, flagsFor(false).Has(models.FlagKeyFrame))
}
