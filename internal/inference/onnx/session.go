package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// session owns one AdvancedSession with its preallocated tensors.
// Run mutates the shared tensors, so calls are serialized.
type session struct {
	mu      sync.Mutex
	sess    *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	meta    Metadata
}

func openSession(modelPath string, meta Metadata) (*session, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	s := &session{input: input, meta: meta}
	outputs := make([]ort.ArbitraryTensor, 0, len(meta.OutputShapes))
	for _, shape := range meta.OutputShapes {
		out, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			_ = s.close()
			return nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		s.outputs = append(s.outputs, out)
		outputs = append(outputs, out)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, meta.OutputNames,
		[]ort.ArbitraryTensor{input}, outputs,
		nil)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.sess = sess
	return s, nil
}

// run copies data into the input tensor and returns copies of every output.
// The context is checked before the run; an in-flight run is not interrupted.
func (s *session) run(ctx context.Context, data []float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("inference canceled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.input.GetData()
	if len(data) != len(in) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(data), len(in))
	}
	copy(in, data)

	if err := s.sess.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outs := make([][]float32, len(s.outputs))
	for i, t := range s.outputs {
		src := t.GetData()
		outs[i] = make([]float32, len(src))
		copy(outs[i], src)
	}
	return outs, nil
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.sess != nil {
		if err := s.sess.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy session: %w", err))
		}
		s.sess = nil
	}
	if s.input != nil {
		if err := s.input.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy input tensor: %w", err))
		}
		s.input = nil
	}
	for _, t := range s.outputs {
		if err := t.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy output tensor: %w", err))
		}
	}
	s.outputs = nil
	return errors.Join(errs...)
}
