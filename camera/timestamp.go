package camera

import "encoding/binary"

// metadataCIDTimestamp is the Andor SDK3 metadata chunk identifier carrying
// the frame's internal clock tick, grounded on original_source/mop_cam.c's
// cam_ticks.
const metadataCIDTimestamp = 1

// maxMetadataRecords bounds how many trailing metadata records cam_ticks
// walks before giving up and returning zero, matching the original's fixed
// three-record search depth.
const maxMetadataRecords = 3

// FrameTicks walks the metadata records appended to the end of a raw frame
// buffer and returns the CID=1 timestamp clock tick, or 0 if none is found
// within the last maxMetadataRecords records.
//
// Each trailing record has the layout [payload][cid:4 LE][len:4 LE], where
// len counts the cid field plus the payload (SDK3's documented metadata
// chunk format). CID=1's payload is an 8-byte little-endian tick count.
func FrameTicks(frame []byte) uint64 {
	end := len(frame)
	for i := 0; i < maxMetadataRecords && end >= 8; i++ {
		lenField := binary.LittleEndian.Uint32(frame[end-4 : end])
		if lenField < 4 || int(lenField) > end-4 {
			return 0
		}
		recordStart := end - 4 - int(lenField)
		if recordStart < 0 {
			return 0
		}
		cid := binary.LittleEndian.Uint32(frame[end-8 : end-4])
		payload := frame[recordStart : end-8]
		if cid == metadataCIDTimestamp {
			if len(payload) < 8 {
				return 0
			}
			return binary.LittleEndian.Uint64(payload[:8])
		}
		end = recordStart
	}
	return 0
}
