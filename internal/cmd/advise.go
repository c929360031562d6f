package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexshd/chunkwise"
)

var (
	adviseItems    int
	adviseItemTime time.Duration
	advisePayload  int
	adviseIO       bool
	adviseExplain  bool
	adviseJSON     bool
)

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Advise on a synthetic workload with the given shape",
	Long: `Advise builds a synthetic task matching the shape you describe - item
duration, payload size, CPU-bound or IO-bound - and runs the full pipeline
against it: profile, dry run, cost model, decision.

Useful for exploring what this machine would decide for a workload before
writing it, and for checking how decisions shift under load or memory
pressure.

Examples:
  chunkwise advise --items 10000 --item-time 50ms
  chunkwise advise --items 10000 --item-time 20ms --io
  chunkwise advise --items 5000 --item-time 1ms --payload-bytes 10485760 --explain`,
	Args: cobra.NoArgs,
	RunE: runAdvise,
}

func init() {
	rootCmd.AddCommand(adviseCmd)

	adviseCmd.Flags().IntVar(&adviseItems, "items", 10000, "batch size")
	adviseCmd.Flags().DurationVar(&adviseItemTime, "item-time", 50*time.Millisecond, "wall time of one item")
	adviseCmd.Flags().IntVar(&advisePayload, "payload-bytes", 1024, "result size per item")
	adviseCmd.Flags().BoolVar(&adviseIO, "io", false, "simulate waiting (sleep) instead of computing (spin)")
	adviseCmd.Flags().BoolVar(&adviseExplain, "explain", false, "print the full reasoning")
	adviseCmd.Flags().BoolVar(&adviseJSON, "json", false, "output the decision as JSON")
}

func runAdvise(cmd *cobra.Command, args []string) error {
	task := syntheticTask(adviseItemTime, advisePayload, adviseIO)

	items := make([]int, adviseItems)
	for i := range items {
		items[i] = i
	}

	opts := []chunkwise.Option{
		chunkwise.WithLogger(slog.Default()),
		chunkwise.WithSampleSize(viper.GetInt("sample_size")),
		chunkwise.WithTargetChunkDuration(viper.GetDuration("target_chunk_duration")),
		chunkwise.WithPreferThreadsForIO(viper.GetBool("prefer_threads_for_io")),
		chunkwise.WithAdjustForLoad(viper.GetBool("adjust_for_load")),
	}

	d, err := chunkwise.Evaluate(task, chunkwise.FromSlice(items), opts...)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	switch {
	case adviseJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case adviseExplain:
		fmt.Print(d.Explain())
	default:
		verdict := "serial"
		if d.Accepted {
			verdict = fmt.Sprintf("%d workers (%s), chunks of %d", d.NJobs, d.Executor, d.Chunksize)
		}
		fmt.Printf("%s\n  %s\n", verdict, d.Reason)
		for _, w := range d.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	return nil
}

// syntheticTask spins or sleeps for the requested duration and returns a
// payload of the requested size.
func syntheticTask(d time.Duration, payload int, io bool) chunkwise.Task[int, []byte] {
	return func(_ int) ([]byte, error) {
		if io {
			time.Sleep(d)
		} else {
			for start := time.Now(); time.Since(start) < d; {
			}
		}
		return make([]byte, payload), nil
	}
}
