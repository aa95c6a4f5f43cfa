package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/markdave123-py/pdfindex/internal/models"
)

const (
	magic         = "PDXI"
	formatVersion = uint16(1)
	headerSize    = len(magic) + 2 + 4 + 4
)

var ErrCorruptIndex = errors.New("corrupt index payload")

// MarshalIndex encodes the vectors: magic, version, dimension, count, then
// count*dimension little-endian float32 values.
func MarshalIndex(ix *Index) ([]byte, error) {
	if err := ix.validate(); err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+4*ix.Dimension*len(ix.Vectors)))
	buf.WriteString(magic)
	var hdr [10]byte
	binary.LittleEndian.PutUint16(hdr[0:], formatVersion)
	binary.LittleEndian.PutUint32(hdr[2:], uint32(ix.Dimension))
	binary.LittleEndian.PutUint32(hdr[6:], uint32(len(ix.Vectors)))
	buf.Write(hdr[:])

	var word [4]byte
	for _, v := range ix.Vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
			buf.Write(word[:])
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalIndex decodes vectors written by MarshalIndex.
func UnmarshalIndex(data []byte) (dimension int, vectors [][]float32, err error) {
	if len(data) < headerSize || string(data[:len(magic)]) != magic {
		return 0, nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	r := bytes.NewReader(data[len(magic):])
	var hdr struct {
		Version   uint16
		Dimension uint32
		Count     uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if hdr.Version != formatVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, hdr.Version)
	}
	want := uint64(hdr.Dimension) * uint64(hdr.Count) * 4
	if uint64(r.Len()) != want {
		return 0, nil, fmt.Errorf("%w: payload has %d bytes, expected %d", ErrCorruptIndex, r.Len(), want)
	}

	vectors = make([][]float32, hdr.Count)
	for i := range vectors {
		v := make([]float32, hdr.Dimension)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil && !errors.Is(err, io.EOF) {
			return 0, nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		vectors[i] = v
	}
	return int(hdr.Dimension), vectors, nil
}

type sidecar struct {
	RequestID string            `json:"request_id"`
	Model     string            `json:"model"`
	Dimension int               `json:"dimension"`
	Fragments []models.Fragment `json:"fragments"`
}

// MarshalSidecar encodes the fragment metadata that accompanies the vectors.
func MarshalSidecar(ix *Index) ([]byte, error) {
	frags := ix.Fragments
	if frags == nil {
		frags = []models.Fragment{}
	}
	return json.Marshal(sidecar{
		RequestID: ix.RequestID,
		Model:     ix.Model,
		Dimension: ix.Dimension,
		Fragments: frags,
	})
}

// Load reassembles an index from its two payloads.
func Load(indexData, sidecarData []byte) (*Index, error) {
	dim, vectors, err := UnmarshalIndex(indexData)
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(sidecarData, &sc); err != nil {
		return nil, fmt.Errorf("%w: sidecar: %v", ErrCorruptIndex, err)
	}
	if sc.Dimension != dim && len(vectors) > 0 {
		return nil, fmt.Errorf("%w: sidecar dimension %d, index dimension %d", ErrCorruptIndex, sc.Dimension, dim)
	}
	ix := &Index{
		RequestID: sc.RequestID,
		Model:     sc.Model,
		Dimension: dim,
		Vectors:   vectors,
		Fragments: sc.Fragments,
	}
	if ix.Fragments == nil {
		ix.Fragments = []models.Fragment{}
	}
	if err := ix.validate(); err != nil {
		return nil, err
	}
	return ix, nil
}
