package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexshd/chunkwise"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Profile this machine's parallelization characteristics",
	Long: `Probe detects cores, available memory, swap, cache topology and memory
bandwidth, then measures the real cost of spawning a worker process and of
dispatching a chunk. Implausible measurements are replaced by static
estimates and flagged as such.

Examples:
  chunkwise probe
  chunkwise probe --json`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	p := chunkwise.NewProfiler(chunkwise.WithProfilerLogger(slog.Default()))
	hp := p.Profile()

	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "physical cores\t%d\n", hp.PhysicalCores)
	fmt.Fprintf(w, "logical cores\t%d\n", hp.LogicalCores)
	fmt.Fprintf(w, "available memory\t%d MiB\n", hp.AvailableMemoryBytes>>20)
	fmt.Fprintf(w, "swap used\t%d MiB\n", hp.SwapUsedBytes>>20)
	fmt.Fprintf(w, "spawn strategy\t%s\n", hp.SpawnStrategy)
	fmt.Fprintf(w, "spawn cost\t%v (%s)\n", hp.MeasuredSpawnCost, provenance(hp.SpawnCostMeasured))
	fmt.Fprintf(w, "chunk overhead\t%v (%s)\n", hp.MeasuredChunkOverhead, provenance(hp.ChunkOverheadMeasured))
	if hp.LLCBytes > 0 {
		fmt.Fprintf(w, "last-level cache\t%d KiB\n", hp.LLCBytes>>10)
	} else {
		fmt.Fprintf(w, "last-level cache\tundetected\n")
	}
	fmt.Fprintf(w, "numa nodes\t%d\n", hp.NUMANodes)
	if hp.MemoryBandwidthBytesPerSec > 0 {
		fmt.Fprintf(w, "memory bandwidth\t%.1f GB/s\n", hp.MemoryBandwidthBytesPerSec/1e9)
	} else {
		fmt.Fprintf(w, "memory bandwidth\tundetected\n")
	}
	return w.Flush()
}

func provenance(measured bool) string {
	if measured {
		return "measured"
	}
	return "static estimate"
}
