package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// region is the byte range of one tensor in the data section.
type region struct {
	name       string
	start, end int64
}

// validateRegions checks for overlapping tensor offsets and out-of-bounds
// access.
func validateRegions(regions []region, dataSize int64) error {
	if len(regions) > MaxTensorCount {
		return &ValidationError{
			Kind:    ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(regions), MaxTensorCount),
		}
	}

	sorted := append([]region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	for i, r := range sorted {
		if r.start < 0 || r.end < r.start {
			return &ValidationError{
				Kind:    ErrNegativeOffset,
				Tensor:  r.name,
				Details: fmt.Sprintf("offsets [%d, %d]", r.start, r.end),
			}
		}
		if r.end > dataSize {
			return &ValidationError{
				Kind:    ErrOutOfBounds,
				Tensor:  r.name,
				Details: fmt.Sprintf("end %d > data_size %d", r.end, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if r.end > next.start {
				return &ValidationError{
					Kind:    ErrOffsetOverlap,
					Tensor:  r.name,
					Tensor2: next.name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", r.start, r.end, next.start, next.end),
				}
			}
		}
	}
	return nil
}

// ValidateTensorName rejects empty, overlong and path-like names.
func ValidateTensorName(name string) error {
	if name == "" {
		return &ValidationError{Kind: ErrInvalidTensorName, Details: "empty name"}
	}
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Kind:    ErrInvalidTensorName,
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	if name == MetadataKey {
		return &ValidationError{Kind: ErrInvalidTensorName, Tensor: name, Details: "reserved for metadata"}
	}
	if strings.Contains(name, "..") {
		return &ValidationError{Kind: ErrInvalidTensorName, Tensor: name, Details: "contains '..'"}
	}
	if strings.ContainsAny(name, "/\\") {
		return &ValidationError{Kind: ErrInvalidTensorName, Tensor: name, Details: "contains path separator (/ or \\)"}
	}
	if strings.Contains(name, "\x00") {
		return &ValidationError{Kind: ErrInvalidTensorName, Tensor: name, Details: "contains null byte"}
	}
	return nil
}
