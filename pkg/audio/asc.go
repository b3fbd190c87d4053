package audio

// AudioObjectTypeAACLC is MPEG-4 Audio Object Type 2, per §4.4's
// AAC-LC requirement.
const AudioObjectTypeAACLC = 2

var sampleRateTable = [...]int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

func sampleRateIndex(sampleRate int) int {
	for i, r := range sampleRateTable {
		if r == sampleRate {
			return i
		}
	}
	return -1
}

// buildAudioSpecificConfig builds the 2-byte MPEG-4 AudioSpecificConfig
// (audio object type, sampling-frequency-index, channel-configuration)
// this FLV muxer emits once per publish as the AAC sequence header's
// payload, per §4.4.
func buildAudioSpecificConfig(sampleRate, channels int) []byte {
	idx := sampleRateIndex(sampleRate)
	if idx < 0 {
		idx = 0x0F // escape value: sample rate given explicitly elsewhere; not expected here
	}
	b0 := byte(AudioObjectTypeAACLC<<3) | byte(idx>>1)
	b1 := byte((idx&0x01)<<7) | byte(channels<<3)
	return []byte{b0, b1}
}
