package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default tensor names of an ultralytics ONNX export.
const (
	defaultInputName  = "images"
	defaultOutputName = "output0"
)

// Metadata is the JSON sidecar exported next to every model (best.onnx → best.json).
type Metadata struct {
	InputName    string    `json:"input_name"`
	OutputNames  []string  `json:"output_names"`
	InputShape   []int64   `json:"input_shape"`
	OutputShape  []int64   `json:"output_shape"`
	OutputShapes [][]int64 `json:"output_shapes"`
	Classes      []string  `json:"classes"`
	ImageSize    int       `json:"image_size"`
	// Softmax is set when the exported head emits logits rather than probabilities.
	Softmax bool `json:"softmax"`
}

// SidecarPath returns the metadata path for a model file.
func SidecarPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".json"
}

// LoadMetadata reads and validates the sidecar of modelPath.
func LoadMetadata(modelPath string) (Metadata, error) {
	raw, err := os.ReadFile(SidecarPath(modelPath))
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	if err := m.normalize(); err != nil {
		return Metadata{}, fmt.Errorf("metadata %s: %w", SidecarPath(modelPath), err)
	}
	return m, nil
}

func (m *Metadata) normalize() error {
	if m.InputName == "" {
		m.InputName = defaultInputName
	}
	if len(m.OutputShapes) == 0 && len(m.OutputShape) > 0 {
		m.OutputShapes = [][]int64{m.OutputShape}
	}
	if len(m.OutputNames) == 0 && len(m.OutputShapes) == 1 {
		m.OutputNames = []string{defaultOutputName}
	}

	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must be NCHW, got %v", m.InputShape)
	}
	if m.InputShape[1] != 3 {
		return fmt.Errorf("input_shape must have 3 channels, got %d", m.InputShape[1])
	}
	if m.InputShape[2] != m.InputShape[3] {
		return fmt.Errorf("input must be square, got %dx%d", m.InputShape[3], m.InputShape[2])
	}
	if len(m.OutputShapes) == 0 {
		return fmt.Errorf("output_shapes is required")
	}
	if len(m.OutputNames) != len(m.OutputShapes) {
		return fmt.Errorf("%d output names for %d output shapes", len(m.OutputNames), len(m.OutputShapes))
	}
	for i, s := range m.OutputShapes {
		if volume(s) <= 0 {
			return fmt.Errorf("output %s has invalid shape %v", m.OutputNames[i], s)
		}
	}
	if m.ImageSize == 0 {
		m.ImageSize = int(m.InputShape[3])
	}
	if int64(m.ImageSize) != m.InputShape[3] {
		return fmt.Errorf("image_size %d does not match input_shape %v", m.ImageSize, m.InputShape)
	}
	return nil
}

func volume(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	v := int64(1)
	for _, d := range shape {
		v *= d
	}
	return v
}
