package segmenter

import "github.com/opensensor/lightnvr/internal/codecutil"

// extractParamSets pulls the parameter-set NAL units out of a key frame's
// payload, in the order writeInit expects: {sps, pps} for H.264,
// {vps, sps, pps} for H.265. Returns nil if the key frame doesn't carry
// a complete parameter set (the segmenter then waits for the next one).
func extractParamSets(codec string, payload []byte) [][]byte {
	return codecutil.ExtractParamSets(codec, payload)
}
