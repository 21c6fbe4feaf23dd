// Package codec splits attachment bytes into fixed-size chunks and encodes
// each chunk as standard padded base64 so it can travel as text.
//
// Chunk sizes must be a multiple of GroupSize. With that rule every chunk but
// the last encodes without padding, so the encoded payloads of a run can be
// concatenated in index order and decoded once to recover the original bytes.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

// GroupSize is the number of input bytes base64 encodes into one 4-character group.
const GroupSize = 3

// ErrChunkSize reports a chunk size that is not a positive multiple of GroupSize.
var ErrChunkSize = errors.New("chunk size must be a positive multiple of 3")

// ErrPayload reports a fragment payload that is not well-formed base64.
var ErrPayload = errors.New("malformed fragment payload")

var enc = base64.StdEncoding

// ValidateChunkSize checks that size can be used to split attachments.
func ValidateChunkSize(size int) error {
	if size < GroupSize || size%GroupSize != 0 {
		return fmt.Errorf("%w: got %d", ErrChunkSize, size)
	}
	return nil
}

// Split cuts data into consecutive pieces of size bytes; the final piece may
// be shorter. Empty input yields no pieces. The pieces alias data.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	out := make([][]byte, 0, ChunkCount(int64(len(data)), size))
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		out = append(out, data[start:end])
	}
	return out
}

// ChunkCount returns ceil(total/size).
func ChunkCount(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// Encode returns the padded base64 text of one chunk.
func Encode(chunk []byte) []byte {
	out := make([]byte, enc.EncodedLen(len(chunk)))
	enc.Encode(out, chunk)
	return out
}

// EncodedLen returns the encoded length of an n-byte chunk.
func EncodedLen(n int) int { return enc.EncodedLen(n) }

// Decode returns the bytes represented by text.
func Decode(text []byte) ([]byte, error) {
	out := make([]byte, enc.DecodedLen(len(text)))
	n, err := enc.Decode(out, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	return out[:n], nil
}

// ValidatePayload checks that payload is one self-contained encoded chunk and
// returns its decoded length.
func ValidatePayload(payload []byte) (int64, error) {
	if len(payload) == 0 || len(payload)%4 != 0 {
		return 0, fmt.Errorf("%w: length %d is not a multiple of 4", ErrPayload, len(payload))
	}
	if i := bytes.IndexByte(payload, '='); i >= 0 && i < len(payload)-2 {
		return 0, fmt.Errorf("%w: padding inside payload", ErrPayload)
	}
	n, err := Decode(payload)
	if err != nil {
		return 0, err
	}
	return int64(len(n)), nil
}

// Padded reports whether payload ends in base64 padding, which only the final
// chunk of a run may carry.
func Padded(payload []byte) bool {
	return len(payload) > 0 && payload[len(payload)-1] == '='
}

// Reassemble concatenates encoded payloads in the given order and decodes the
// whole text once.
func Reassemble(payloads [][]byte) ([]byte, error) {
	total := 0
	for _, p := range payloads {
		total += len(p)
	}
	joined := make([]byte, 0, total)
	for _, p := range payloads {
		joined = append(joined, p...)
	}
	return Decode(joined)
}
