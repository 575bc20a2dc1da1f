package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/sensim/internal/tensor"
)

// ReadFile reads a SafeTensors file written by WriteFile or by another
// tool, as long as every tensor is F64 with at most two dimensions.
func ReadFile(path string) (*Archive, error) {
	//nolint:gosec // G304: File path comes from user input
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return Read(file)
}

// Read decodes a SafeTensors stream. One-dimensional tensors become
// columns and scalars become 1x1 matrices.
func Read(r io.Reader) (*Archive, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, &ValidationError{Kind: ErrHeaderTooLarge, Details: fmt.Sprintf("%d bytes", headerSize)}
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	archive := &Archive{Tensors: make(map[string]*tensor.Dense), Metadata: map[string]string{}}
	if m, ok := raw[MetadataKey]; ok {
		if err := json.Unmarshal(m, &archive.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		delete(raw, MetadataKey)
	}
	if sum, ok := archive.Metadata[ChecksumKey]; ok {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, err
		}
	}

	headers := make(map[string]TensorHeader, len(raw))
	regions := make([]region, 0, len(raw))
	for name, msg := range raw {
		if err := ValidateTensorName(name); err != nil {
			return nil, err
		}
		var h TensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, fmt.Errorf("failed to parse header of %q: %w", name, err)
		}
		headers[name] = h
		regions = append(regions, region{name: name, start: h.DataOffsets[0], end: h.DataOffsets[1]})
	}
	if err := validateRegions(regions, int64(len(data))); err != nil {
		return nil, err
	}

	for name, h := range headers {
		d, err := decode(name, h, data[h.DataOffsets[0]:h.DataOffsets[1]])
		if err != nil {
			return nil, err
		}
		archive.Tensors[name] = d
	}
	return archive, nil
}

func decode(name string, h TensorHeader, buf []byte) (*tensor.Dense, error) {
	if h.DType != DTypeFloat64 {
		return nil, &ValidationError{Kind: ErrUnsupportedDType, Tensor: name, Details: h.DType}
	}
	rows, cols := int64(1), int64(1)
	switch len(h.Shape) {
	case 0:
	case 1:
		rows = h.Shape[0]
	case 2:
		rows, cols = h.Shape[0], h.Shape[1]
	default:
		return nil, &ValidationError{Kind: ErrInvalidShape, Tensor: name, Details: fmt.Sprintf("%d dimensions", len(h.Shape))}
	}
	if rows < 0 || cols < 0 || rows*cols*ElementSize != int64(len(buf)) {
		return nil, &ValidationError{
			Kind:    ErrInvalidShape,
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, have %d", h.Shape, rows*cols*ElementSize, len(buf)),
		}
	}
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*ElementSize:]))
	}
	return fromRowMajor(int(rows), int(cols), values), nil
}
