// Package main provides the metalgrep CLI entry point.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/vantasys/metalgrep/pkg/metalgrep"
)

var version = "0.1.0"

func newLogger(verbose bool) logr.Logger {
	log := stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags))
	if verbose {
		stdr.SetVerbosity(1)
	}
	return log
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "metalgrep",
		Short: "metalgrep - GPU-accelerated exact substring search over mapped files",
		Long: `metalgrep maps a file read-only and searches it for every occurrence
of an exact byte pattern using a GPU compute dispatch (Metal on darwin,
a CPU fallback elsewhere).`,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "log device selection and fallback decisions")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("metalgrep v%s\n", version)
		},
	})

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search a file for a pattern",
		RunE:  runSearch,
	}
	searchCmd.Flags().String("file", "", "path to the file to search")
	searchCmd.Flags().String("pattern", "", "byte pattern to search for")
	searchCmd.Flags().Uint32("max-positions", 0, "positions-buffer capacity hint (0 uses the default)")
	_ = searchCmd.MarkFlagRequired("file")
	_ = searchCmd.MarkFlagRequired("pattern")
	rootCmd.AddCommand(searchCmd)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark repeated searches for a pattern",
		RunE:  runBench,
	}
	benchCmd.Flags().String("file", "", "path to the file to search")
	benchCmd.Flags().String("pattern", "", "byte pattern to search for")
	benchCmd.Flags().Int("iterations", 100, "number of search iterations")
	benchCmd.Flags().Bool("warmup", true, "discard one warmup iteration before timing")
	_ = benchCmd.MarkFlagRequired("file")
	_ = benchCmd.MarkFlagRequired("pattern")
	rootCmd.AddCommand(benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	pattern, _ := cmd.Flags().GetString("pattern")
	maxPositions, _ := cmd.Flags().GetUint32("max-positions")

	var capHint *uint32
	if maxPositions > 0 {
		capHint = &maxPositions
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	engine, err := metalgrep.NewWithOptions(metalgrep.Options{CapacityHint: capHint, Log: newLogger(verbose)})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Map(file); err != nil {
		return err
	}

	result, err := engine.Search(context.Background(), []byte(pattern))
	if err != nil {
		return err
	}

	fmt.Printf("matches: %d\n", result.MatchCount)
	fmt.Printf("positions: %v\n", result.Positions)
	fmt.Printf("time: %s\n", result.ExecutionTime)
	fmt.Printf("throughput: %.2f MB/s\n", result.ThroughputMBps)
	if result.Truncated {
		fmt.Println("warning: match count exceeded the positions buffer capacity")
	}
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	pattern, _ := cmd.Flags().GetString("pattern")
	iterations, _ := cmd.Flags().GetInt("iterations")
	warmup, _ := cmd.Flags().GetBool("warmup")

	verbose, _ := cmd.Flags().GetBool("verbose")
	engine, err := metalgrep.NewWithOptions(metalgrep.Options{Log: newLogger(verbose)})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Map(file); err != nil {
		return err
	}

	result, err := engine.Benchmark(context.Background(), []byte(pattern), iterations, warmup)
	if err != nil {
		return err
	}

	fmt.Println(result.Summary())
	return nil
}
