package raw

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/alxayo/go-streamcore/internal/tag"
)

func TestSplitterEmitsFixedSizeChunks(t *testing.T) {
	data := []byte("0123456789ABCDEF") // 16 bytes
	s := NewSplitter(4, 10)
	r := bufio.NewReader(bytes.NewReader(data))

	var got []byte
	var timestamps []int64
	for {
		tg, err := s.Next(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		mt := tg.(*tag.MediaTag)
		got = append(got, mt.Payload.Bytes()...)
		timestamps = append(timestamps, mt.TimestampMs())
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled bytes mismatch: got %q want %q", got, data)
	}
	for i, ts := range timestamps {
		if ts != int64(i)*10 {
			t.Fatalf("chunk %d: expected ts %d, got %d", i, i*10, ts)
		}
	}
}
