package chunk

// Message represents one fully reassembled RTMP message: every chunk for a
// given CSID/timestamp has already been concatenated into Payload by
// Reader, or is about to be fragmented into chunks by Writer.
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}

// IsMedia reports whether this message carries the tag-pipeline payloads
// (audio, video, or AMF0 data/metadata) rather than RTMP's own protocol
// control messages, matching the type IDs command_integration.go's message
// handler routes into the publish/play/record/relay paths.
func (m *Message) IsMedia() bool {
	return m.TypeID == 8 || m.TypeID == 9 || m.TypeID == 18
}
