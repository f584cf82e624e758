// Package main provides the Kron CLI.
package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/kron-ml/kron/kfac"
	"github.com/kron-ml/kron/mlp"
)

const version = "v0.1.0-dev"

func main() {
	root := &cobra.Command{
		Use:   "kron",
		Short: "Kron - K-FAC natural-gradient training for Go",
	}
	root.AddCommand(versionCmd(), trainCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Kron %s\n", version)
		},
	}
}

// trainCmd runs a small self-contained K-FAC demo on Gaussian cluster data,
// exposing every optimizer hyperparameter as a flag.
func trainCmd() *cobra.Command {
	var (
		inputDim   int
		hiddenDims []int
		classes    int
		samples    int
		cfg        kfac.Config
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a demo classifier on synthetic Gaussian clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewSource(cfg.Seed))
			inputs, targets, labels := gaussianClusters(rng, samples, inputDim, classes)

			sizes := append(append([]int{inputDim}, hiddenDims...), classes)
			params, err := mlp.InitRandomParams(rng, 0.1, sizes)
			if err != nil {
				return err
			}

			objective := func(p mlp.Params, i int) (float64, mlp.Params, error) {
				return mlp.Objective(p, inputs, targets)
			}
			getBatch := func(i int) (*mat.Dense, error) { return inputs, nil }

			initLoss, _, err := mlp.Objective(params, inputs, targets)
			if err != nil {
				return err
			}

			trained, err := kfac.Run(cfg, objective, getBatch, sizes, params)
			if err != nil {
				return err
			}

			finalLoss, _, err := mlp.Objective(trained, inputs, targets)
			if err != nil {
				return err
			}
			logProbs, err := mlp.Predict(trained, inputs)
			if err != nil {
				return err
			}

			fmt.Printf("NLL %.4f -> %.4f over %d iterations\n",
				initLoss/float64(samples), finalLoss/float64(samples), cfg.NumIters)
			fmt.Printf("accuracy: %.2f%%\n", 100*accuracy(logProbs, labels))
			return nil
		},
	}

	cmd.Flags().IntVar(&inputDim, "input-dim", 16, "input dimensionality")
	cmd.Flags().IntSliceVar(&hiddenDims, "hidden", []int{32, 16}, "hidden layer widths")
	cmd.Flags().IntVar(&classes, "classes", 4, "number of classes")
	cmd.Flags().IntVar(&samples, "dataset-size", 512, "synthetic dataset size")
	cmd.Flags().Float64Var(&cfg.StepSize, "step", 1e-2, "step size")
	cmd.Flags().IntVar(&cfg.NumIters, "iters", 100, "training iterations")
	cmd.Flags().IntVar(&cfg.NumSamples, "samples", 256, "Fisher samples per collection event")
	cmd.Flags().IntVar(&cfg.SamplePeriod, "sample-period", 5, "iterations between sample collections")
	cmd.Flags().IntVar(&cfg.ReestimatePeriod, "reestimate-period", 20, "iterations between factor re-estimations")
	cmd.Flags().IntVar(&cfg.UpdatePrecondPeriod, "precond-period", 20, "iterations between preconditioner rebuilds")
	cmd.Flags().Float64Var(&cfg.Lambda, "lambda", 1e-2, "inversion damping")
	cmd.Flags().Float64Var(&cfg.Eps, "eps", 0.05, "factor EMA weight on the old estimate")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "RNG seed")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log loss and factor condition numbers")
	return cmd
}

// gaussianClusters draws each example from a class-specific Gaussian with a
// random mean on a sphere of radius 2.
func gaussianClusters(rng *rand.Rand, n, dim, classes int) (inputs, targets *mat.Dense, labels []int) {
	means := mat.NewDense(classes, dim, nil)
	for c := 0; c < classes; c++ {
		row := means.RawRowView(c)
		var norm float64
		for j := range row {
			row[j] = rng.NormFloat64()
			norm += row[j] * row[j]
		}
		scaleRow(row, 2/math.Sqrt(norm))
	}

	inputs = mat.NewDense(n, dim, nil)
	targets = mat.NewDense(n, classes, nil)
	labels = make([]int, n)
	for i := 0; i < n; i++ {
		c := rng.Intn(classes)
		labels[i] = c
		targets.Set(i, c, 1)
		row := inputs.RawRowView(i)
		mean := means.RawRowView(c)
		for j := range row {
			row[j] = mean[j] + 0.5*rng.NormFloat64()
		}
	}
	return inputs, targets, labels
}

func accuracy(logProbs *mat.Dense, labels []int) float64 {
	n, k := logProbs.Dims()
	var correct int
	for r := 0; r < n; r++ {
		row := logProbs.RawRowView(r)
		best := 0
		for c := 1; c < k; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if best == labels[r] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func scaleRow(row []float64, s float64) {
	for i := range row {
		row[i] *= s
	}
}
