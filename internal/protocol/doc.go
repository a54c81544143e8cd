// Package protocol owns the restream wire contract.
//
// Ownership boundary:
// - session preamble and packet framing primitives (frame)
// - transport/session configuration and retry policy (session)
// - the error taxonomy shared by every layer above the wire
//
// Wire layout (all integers big-endian, no padding):
//
//	preamble  codec_tag u32 | width u32 | height u32
//	packet    pts_flags u64 | packet_size u32 | payload [packet_size]byte
//
// pts_flags bit 63 marks a config packet, bit 62 a keyframe and the low
// 62 bits carry the presentation timestamp.
package protocol
