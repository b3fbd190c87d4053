package flv

import "fmt"

// buildAVCDecoderConfigurationRecord builds the ISO 14496-15
// AVCDecoderConfigurationRecord this muxer emits once, as the body of
// the first video sequence-header tag, from the most recently seen
// SPS/PPS. Layout: configurationVersion(1)=1, AVCProfileIndication,
// profile_compatibility, AVCLevelIndication (all three copied from
// SPS bytes 1-3), lengthSizeMinusOne (6 reserved-1 bits | 0b11 for our
// 4-byte length prefix), numOfSPS (3 reserved-1 bits | count), then
// each SPS as a 16-bit length + bytes, numOfPPS, then each PPS the
// same way.
func buildAVCDecoderConfigurationRecord(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("flv: SPS too short to build AVCDecoderConfigurationRecord")
	}
	if len(pps) == 0 {
		return nil, fmt.Errorf("flv: missing PPS")
	}

	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out, 0x01)          // configurationVersion
	out = append(out, sps[1])        // AVCProfileIndication
	out = append(out, sps[2])        // profile_compatibility
	out = append(out, sps[3])        // AVCLevelIndication
	out = append(out, 0xFC|0x03)     // reserved(6) | lengthSizeMinusOne(2) = 3 (4-byte lengths)
	out = append(out, 0xE0|0x01)     // reserved(3) | numOfSequenceParameterSets(5) = 1
	out = append(out, byte(len(sps)>>8), byte(len(sps)))
	out = append(out, sps...)
	out = append(out, 0x01) // numOfPictureParameterSets = 1
	out = append(out, byte(len(pps)>>8), byte(len(pps)))
	out = append(out, pps...)

	return out, nil
}

// annexBToLengthPrefixed converts an Annex-B access unit (NAL units
// separated by 00 00 00 01 start codes, as pkg/rtp's H264Processor
// emits) into the 4-byte-big-endian-length-prefixed form an AVC video
// tag body carries.
func annexBToLengthPrefixed(au []byte) []byte {
	out := make([]byte, 0, len(au))
	for _, nalu := range splitAnnexB(au) {
		n := len(nalu)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, nalu...)
	}
	return out
}

// splitAnnexB splits an Annex-B byte stream into its constituent NAL
// units (without the start codes).
func splitAnnexB(au []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+3 < len(au); {
		if au[i] == 0 && au[i+1] == 0 && au[i+2] == 0 && au[i+3] == 1 {
			if start >= 0 {
				nalus = append(nalus, au[start:i])
			}
			start = i + 4
			i += 4
			continue
		}
		i++
	}
	if start >= 0 && start < len(au) {
		nalus = append(nalus, au[start:])
	}
	return nalus
}
