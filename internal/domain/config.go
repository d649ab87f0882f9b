package domain

// KeyPrefix is the default namespace for every key evidex writes to the store.
const KeyPrefix = "evidex:"

// PipelineConfig holds the embedding pipeline settings shared by every caller.
type PipelineConfig struct {
	InputSize int
	MaxPixels int // decode limit on width*height
	TargetDim int
	L2        bool
	TopK      int
	MaxTopK   int
	Threshold float64
}

// DefaultPipelineConfig returns the defaults the reference collection was built with.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		InputSize: 640,
		MaxPixels: 89_478_485,
		TargetDim: 16000,
		L2:        true,
		TopK:      5,
		MaxTopK:   100,
		Threshold: 0.6,
	}
}
