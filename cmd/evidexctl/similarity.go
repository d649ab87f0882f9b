package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/evidex/internal/domain/similarity"
)

var (
	similarityNormalize bool
	similarityVectors   bool
)

var similarityCmd = &cobra.Command{
	Use:   "similarity IMAGE1 IMAGE2",
	Short: "Cosine similarity between two images",
	Long: `Vectorizes both images and prints their cosine similarity.

With --vectors the arguments are vectors printed by ` + "`evidexctl vectorize`" + `
(base64 or [a,b,...] literal, or @FILE holding one) and no model is loaded.`,
	Args: cobra.ExactArgs(2),
	RunE: runSimilarity,
}

func init() {
	similarityCmd.Flags().BoolVar(&similarityNormalize, "normalize", true, "L2-normalize both vectors")
	similarityCmd.Flags().BoolVar(&similarityVectors, "vectors", false, "compare encoded vectors instead of images")
	rootCmd.AddCommand(similarityCmd)
}

func runSimilarity(cmd *cobra.Command, args []string) error {
	if similarityVectors {
		score, err := vectorSimilarity(args[0], args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", score)
		return err
	}

	a, err := readImage(args[0])
	if err != nil {
		return err
	}
	b, err := readImage(args[1])
	if err != nil {
		return err
	}

	stack, cleanup, err := openModels(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	score, err := stack.pipe.Similarity(cmd.Context(), a, b, similarityNormalize)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", score)
	return err
}

func vectorSimilarity(a, b string) (float64, error) {
	va, err := decodeVector(a)
	if err != nil {
		return 0, fmt.Errorf("first vector: %w", err)
	}
	vb, err := decodeVector(b)
	if err != nil {
		return 0, fmt.Errorf("second vector: %w", err)
	}
	return similarity.Cosine(va, vb)
}
