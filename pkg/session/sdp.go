package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Jsep is the JSEP envelope exchanged with the gateway: an SDP offer
// coming in with a record request, an SDP answer going out with the
// recording event.
type Jsep struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// buildAnswer parses the offered session description and returns a
// recvonly answer with the same media sections, codecs, and payload
// types the offer proposed — this plugin terminates media, it never
// originates a track back to the browser, and it does not transcode
// H.264 or renegotiate codecs (see Non-goals), so the answer is the
// offer's own media description with direction flipped to recvonly.
func buildAnswer(offer Jsep) (Jsep, error) {
	if offer.Type != "offer" {
		return Jsep{}, fmt.Errorf("buildAnswer: jsep type is %q, want offer", offer.Type)
	}

	var answer sdp.SessionDescription
	if err := answer.Unmarshal([]byte(offer.SDP)); err != nil {
		return Jsep{}, fmt.Errorf("parse offer SDP: %w", err)
	}
	answer.Origin.SessionVersion++

	for _, md := range answer.MediaDescriptions {
		if md.MediaName.Media != "audio" && md.MediaName.Media != "video" {
			continue
		}
		md.Attributes = recvOnlyAttributes(md.Attributes)
	}

	out, err := answer.Marshal()
	if err != nil {
		return Jsep{}, fmt.Errorf("marshal answer SDP: %w", err)
	}
	return Jsep{Type: "answer", SDP: string(out)}, nil
}

// simulcastInfo carries the simulcast SSRC-to-substream mapping parsed
// out of an offer's video media section, substream 0 being the
// lowest-quality layer and substream 2 (rtp.DefaultTargetSubstream)
// the highest, matching the ssrc-group:SIM ordering convention.
type simulcastInfo struct {
	ssrcs []uint32 // index -> SSRC, in ascending substream order
}

// parseSimulcastInfo extracts the offer's video SSRCs in substream
// order. Browsers signaling simulcast via SSRCs (as opposed to RID)
// carry an "a=ssrc-group:SIM s0 s1 s2" attribute listing every
// substream's SSRC in order; lacking that (no simulcast, or a
// single-SSRC offer), this falls back to the order distinct
// "a=ssrc:<id> ..." lines first appear in.
func parseSimulcastInfo(offerSDP string) (simulcastInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offerSDP)); err != nil {
		return simulcastInfo{}, fmt.Errorf("parse offer SDP: %w", err)
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		if ssrcs, ok := ssrcGroupSIM(md.Attributes); ok {
			return simulcastInfo{ssrcs: ssrcs}, nil
		}
		return simulcastInfo{ssrcs: ssrcAppearanceOrder(md.Attributes)}, nil
	}
	return simulcastInfo{}, nil
}

// ssrcGroupSIM parses "a=ssrc-group:SIM <ssrc0> <ssrc1> <ssrc2>".
func ssrcGroupSIM(attrs []sdp.Attribute) ([]uint32, bool) {
	for _, a := range attrs {
		if a.Key != "ssrc-group" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) < 2 || fields[0] != "SIM" {
			continue
		}
		out := make([]uint32, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, false
			}
			out = append(out, uint32(v))
		}
		if len(out) > 0 {
			return out, true
		}
	}
	return nil, false
}

// ssrcAppearanceOrder collects the distinct SSRCs named by "a=ssrc:<id>
// ..." lines, in first-appearance order, capped at three substreams.
func ssrcAppearanceOrder(attrs []sdp.Attribute) []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, a := range attrs {
		if a.Key != "ssrc" {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		ssrc := uint32(v)
		if seen[ssrc] {
			continue
		}
		seen[ssrc] = true
		out = append(out, ssrc)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// recvOnlyAttributes replaces any direction attribute
// (sendrecv/sendonly/recvonly/inactive) with recvonly, leaving every
// other attribute (rtpmap, fmtp, ssrc, mid, ...) untouched.
func recvOnlyAttributes(attrs []sdp.Attribute) []sdp.Attribute {
	out := make([]sdp.Attribute, 0, len(attrs))
	replaced := false
	for _, a := range attrs {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			if !replaced {
				out = append(out, sdp.Attribute{Key: "recvonly"})
				replaced = true
			}
		default:
			out = append(out, a)
		}
	}
	if !replaced {
		out = append(out, sdp.Attribute{Key: "recvonly"})
	}
	return out
}
