package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/sensim/internal/tensor"
)

// WriteFile writes tensors and metadata to a SafeTensors file at path.
func WriteFile(path string, tensors map[string]*tensor.Dense, metadata map[string]string) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for result saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(file, tensors, metadata); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Write encodes tensors and metadata in SafeTensors format. The checksum
// key of metadata is overwritten.
func Write(w io.Writer, tensors map[string]*tensor.Dense, metadata map[string]string) error {
	names := sortedNames(tensors)

	var data bytes.Buffer
	header := make(map[string]any, len(names)+1)
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		d := tensors[name]
		if d == nil {
			return fmt.Errorf("tensor %q is nil", name)
		}
		start := int64(data.Len())
		for _, v := range rowMajor(d) {
			var b [ElementSize]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			data.Write(b[:])
		}
		header[name] = TensorHeader{
			DType:       DTypeFloat64,
			Shape:       []int64{int64(d.Rows()), int64(d.Cols())},
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	sum := ComputeChecksum(data.Bytes())
	meta[ChecksumKey] = hex.EncodeToString(sum[:])
	header[MetadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

func sortedNames(tensors map[string]*tensor.Dense) []string {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
