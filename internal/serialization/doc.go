// Package serialization stores named result matrices in the SafeTensors
// format, so sensitivities computed here can be loaded by other tools.
//
//	File Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw bytes]
//
// Every matrix is written as F64 with shape [rows, cols] in row-major order,
// which is the SafeTensors convention; the in-memory layout is column-major
// and is converted on the way in and out. Tensors are written in
// alphabetical order by name. A SHA-256 of the data section is stored under
// the "sha256" metadata key and verified on read when present.
//
// Example usage:
//
//	err := serialization.WriteFile("run.safetensors", map[string]*tensor.Dense{
//	    "xf":   xf,
//	    "pbar": pbar,
//	}, map[string]string{"problem": "linear"})
//
//	archive, err := serialization.ReadFile("run.safetensors")
//	xf := archive.Tensors["xf"]
package serialization
