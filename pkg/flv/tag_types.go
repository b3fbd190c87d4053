package flv

import "github.com/yutopp/go-flv/tag"

// Tag is one muxed FLV tag, ready to become the payload of an RTMP
// audio/video/script-data message: the RTMP message type maps
// one-to-one onto TagType and TimestampMs maps onto the RTMP message
// timestamp, so Body is exactly the FLV tag body (first byte onward),
// not the 11-byte on-disk tag header — this plugin never serializes
// to a .flv file, per spec's push-only non-goal.
type Tag struct {
	Type        tag.TagType
	TimestampMs uint32
	Body        []byte
}
