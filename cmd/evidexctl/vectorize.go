package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/evidex/internal/domain/vector"
	"github.com/kailas-cloud/evidex/internal/usecase/pipeline"
)

var vectorizeFlags struct {
	segmentFirst bool
	normalize    bool
	targetDim    int
	format       string
	json         bool
}

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize IMAGE",
	Short: "Convert an image into a fixed-length feature vector",
	Args:  cobra.ExactArgs(1),
	RunE:  runVectorize,
}

func init() {
	f := vectorizeCmd.Flags()
	f.BoolVar(&vectorizeFlags.segmentFirst, "segment-first", true, "isolate the most confident drug instance first")
	f.BoolVar(&vectorizeFlags.normalize, "normalize", true, "L2-normalize the vector")
	f.IntVar(&vectorizeFlags.targetDim, "target-dim", 0, "output length (0 uses pipeline.target_dim)")
	f.StringVar(&vectorizeFlags.format, "format", formatBase64, "vector encoding: base64 or literal")
	f.BoolVar(&vectorizeFlags.json, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(vectorizeCmd)
}

type vectorizeOutput struct {
	Vector        string                `json:"vector"`
	Format        string                `json:"format"`
	Dimensions    int                   `json:"dimensions"`
	RawDimensions int                   `json:"raw_dimensions"`
	Normalized    bool                  `json:"normalized"`
	Norm          float64               `json:"norm"`
	Segmentation  pipeline.Segmentation `json:"segmentation"`
}

func runVectorize(cmd *cobra.Command, args []string) error {
	if vectorizeFlags.targetDim < 0 {
		return fmt.Errorf("--target-dim must be positive")
	}
	data, err := readImage(args[0])
	if err != nil {
		return err
	}

	stack, cleanup, err := openModels(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := pipeline.Options{
		SegmentFirst: vectorizeFlags.segmentFirst,
		Normalize:    vectorizeFlags.normalize,
		TargetDim:    vectorizeFlags.targetDim,
	}
	res, err := stack.pipe.Vectorize(cmd.Context(), data, opts)
	if err != nil {
		return fmt.Errorf("vectorize %s: %w", args[0], err)
	}

	encoded, err := encodeVector(res.Vector, vectorizeFlags.format)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !vectorizeFlags.json {
		_, err := fmt.Fprintln(out, encoded)
		return err
	}
	return printJSON(out, vectorizeOutput{
		Vector:        encoded,
		Format:        vectorizeFlags.format,
		Dimensions:    len(res.Vector),
		RawDimensions: res.RawDim,
		Normalized:    opts.Normalize,
		Norm:          vector.L2Norm(res.Vector),
		Segmentation:  res.Segmentation,
	})
}
