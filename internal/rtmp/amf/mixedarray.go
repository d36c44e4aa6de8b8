package amf

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	amferrors "github.com/alxayo/go-streamcore/internal/errors"
)

// markerMixedArray is the AMF0 type marker for ECMA (mixed) Array (0x08).
// Wire format mirrors Object but is preceded by a 4-byte (unreliable)
// element-count hint and is the marker FLV onMetaData payloads actually use.
const markerMixedArray = 0x08

// EncodeMixedArray encodes an AMF0 ECMA Array (map[string]interface{}).
// Keys are emitted in lexicographic order for deterministic output.
func EncodeMixedArray(w io.Writer, m map[string]interface{}) error {
	var hdr [5]byte
	hdr[0] = markerMixedArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(m)))
	if _, err := w.Write(hdr[:]); err != nil {
		return amferrors.NewAMFError("encode.mixedarray.header.write", err)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var klen [2]byte
	for _, k := range keys {
		kb := []byte(k)
		if len(kb) > 0xFFFF {
			return amferrors.NewAMFError("encode.mixedarray.key.length", fmt.Errorf("key '%s' length %d exceeds 65535", k, len(kb)))
		}
		binary.BigEndian.PutUint16(klen[:], uint16(len(kb)))
		if _, err := w.Write(klen[:]); err != nil {
			return amferrors.NewAMFError("encode.mixedarray.key.length.write", err)
		}
		if len(kb) > 0 {
			if _, err := w.Write(kb); err != nil {
				return amferrors.NewAMFError("encode.mixedarray.key.write", err)
			}
		}
		if err := encodeAny(w, m[k]); err != nil {
			return amferrors.NewAMFError("encode.mixedarray.value", fmt.Errorf("key '%s': %w", k, err))
		}
	}
	if _, err := w.Write([]byte{0x00, 0x00, markerObjectEnd}); err != nil {
		return amferrors.NewAMFError("encode.mixedarray.end.write", err)
	}
	return nil
}

// DecodeMixedArray decodes an AMF0 ECMA Array into a map[string]interface{}.
// The leading element-count hint is read and discarded: encoders routinely
// get it wrong, so it is not trustworthy as a pre-allocation size.
func DecodeMixedArray(r io.Reader) (map[string]interface{}, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.mixedarray.marker.read", err)
	}
	if marker[0] != markerMixedArray {
		return nil, amferrors.NewAMFError("decode.mixedarray.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerMixedArray, marker[0]))
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, amferrors.NewAMFError("decode.mixedarray.count.read", err)
	}

	out := make(map[string]interface{})
	for {
		var klenBuf [2]byte
		if _, err := io.ReadFull(r, klenBuf[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.mixedarray.key.length.read", err)
		}
		klen := binary.BigEndian.Uint16(klenBuf[:])
		if klen == 0 {
			var end [1]byte
			if _, err := io.ReadFull(r, end[:]); err != nil {
				return nil, amferrors.NewAMFError("decode.mixedarray.end.read", err)
			}
			if end[0] != markerObjectEnd {
				return nil, amferrors.NewAMFError("decode.mixedarray.end.marker", fmt.Errorf("expected 0x%02x got 0x%02x", markerObjectEnd, end[0]))
			}
			break
		}
		keyBytes := make([]byte, klen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, amferrors.NewAMFError("decode.mixedarray.key.read", err)
		}
		var valMarker [1]byte
		if _, err := io.ReadFull(r, valMarker[:]); err != nil {
			return nil, amferrors.NewAMFError("decode.mixedarray.value.marker.read", err)
		}
		val, err := decodeValueWithMarker(valMarker[0], r)
		if err != nil {
			return nil, amferrors.NewAMFError("decode.mixedarray.value", fmt.Errorf("key '%s': %w", string(keyBytes), err))
		}
		out[string(keyBytes)] = val
	}
	return out, nil
}
