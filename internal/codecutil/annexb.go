// Package codecutil holds NAL-unit helpers shared by any component that
// repacks Annex-B elementary-stream data into length-prefixed MP4 sample
// data: the MP4 Segmenter (B) and the HLS Writer (C) both need it, once
// per standalone-fMP4 output they produce. Generalizes a common
// NAL-type-switch pattern to a single codec-agnostic code path for
// H.264 and H.265 (mediacommon's AnnexB/AVCC helper types are
// H.264-specific and have no H.265 counterpart).
package codecutil

// SplitAnnexB splits Annex-B start-code-delimited data into individual
// NAL units, accepting both 3-byte and 4-byte start codes.
func SplitAnnexB(data []byte) [][]byte {
	var units [][]byte
	start := -1
	i := 0
	for i < len(data) {
		if i+3 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				units = append(units, trimTrailingZeros(data[start:i]))
			}
			start = i + 3
			i += 3
			continue
		}
		if i+4 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if start >= 0 {
				units = append(units, trimTrailingZeros(data[start:i]))
			}
			start = i + 4
			i += 4
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		units = append(units, data[start:])
	}
	return units
}

func trimTrailingZeros(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

// AnnexBToAVCC splits Annex-B data and repacks the NAL units with 4-byte
// big-endian length prefixes, as MP4 sample data requires.
func AnnexBToAVCC(data []byte) []byte {
	units := SplitAnnexB(data)
	size := 0
	for _, u := range units {
		size += 4 + len(u)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		n := len(u)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, u...)
	}
	return out
}

// ExtractParamSets pulls the parameter-set NAL units out of a key frame's
// Annex-B payload, in the order an fMP4 init segment needs them:
// {sps, pps} for H.264, {vps, sps, pps} for H.265. Returns nil if the key
// frame doesn't carry a complete parameter set.
func ExtractParamSets(codec string, payload []byte) [][]byte {
	units := SplitAnnexB(payload)

	switch codec {
	case "h264":
		var sps, pps []byte
		for _, u := range units {
			if len(u) == 0 {
				continue
			}
			switch u[0] & 0x1F {
			case 7:
				sps = u
			case 8:
				pps = u
			}
		}
		if sps == nil || pps == nil {
			return nil
		}
		return [][]byte{sps, pps}
	case "h265":
		var vps, sps, pps []byte
		for _, u := range units {
			if len(u) < 2 {
				continue
			}
			switch (u[0] >> 1) & 0x3F {
			case 32:
				vps = u
			case 33:
				sps = u
			case 34:
				pps = u
			}
		}
		if vps == nil || sps == nil || pps == nil {
			return nil
		}
		return [][]byte{vps, sps, pps}
	default:
		return nil
	}
}
