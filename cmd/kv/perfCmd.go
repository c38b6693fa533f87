package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/env"
	libutil "github.com/ValentinKolb/txKV/lib/util"
	"github.com/ValentinKolb/txKV/lib/writer"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the txKV writer",
		Long:    "Runs write and read benchmarks against the selected database. Keys are written below the prefix __test and removed afterwards.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfBatchSize        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many puts the batch test submits at once"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfBatchSize = max(viper.GetInt("batch-size"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	if txDB.Options().KeyType == env.KeyUint32 {
		return fmt.Errorf("perf needs a binary or string keyed database")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	fmt.Println("Performance testing tool for the txKV writer")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(txEnv.Options().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	results := make(map[string]testing.BenchmarkResult)
	latencies := make(map[string]libutil.Stats)
	names := make([]string, 0)
	bench := func(name string, prepare bool, op func(key []byte, counter int) error) {
		names = append(names, name)
		var samples latencySamples
		results[name] = testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}
			samples.reset()

			getKey, iter := getKeys(name)
			if prepare {
				iter(func(k []byte) {
					if _, err := txDB.Put(ctx, k, []byte("test")); err != nil {
						log.Printf("(%s) - error setting key: %v\n", name, err)
					}
				})
			}

			// cleanup
			b.Cleanup(func() {
				iter(func(k []byte) {
					if _, err := txDB.Delete(ctx, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", name, err)
					}
				})
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					start := time.Now()
					if err := op(getKey(counter), counter); err != nil {
						log.Printf("(%s) - error: %v\n", name, err)
					}
					if counter%latencySampleRate == 0 {
						samples.add(time.Since(start))
					}
					counter++
				}
			})
		})
		latencies[name] = samples.stats()
		printResult(name, results[name], latencies[name])
	}

	bench("put", false, func(key []byte, _ int) error {
		_, err := txDB.Put(ctx, key, []byte("test"))
		return err
	})

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	bench("put-large", false, func(key []byte, _ int) error {
		_, err := txDB.Put(ctx, key, largeValue)
		return err
	})

	bench("put-async", false, func(key []byte, counter int) error {
		b := txDB.NewBatch()
		if err := b.Put(key, []byte("test")); err != nil {
			return err
		}
		_, err := txDB.WriteAsync(b)
		if err != nil || counter%perfBatchSize != 0 {
			return err
		}
		return txEnv.Flush(ctx)
	})

	bench("batch", false, func(key []byte, counter int) error {
		b := txDB.NewBatch()
		for i := 0; i < perfBatchSize; i++ {
			if err := b.Put(append(key, byte(i)), []byte("test")); err != nil {
				return err
			}
		}
		for i := 0; i < perfBatchSize; i++ {
			if err := b.Delete(append(key, byte(i))); err != nil {
				return err
			}
		}
		_, err := txDB.Write(ctx, b)
		return err
	})

	bench("get", true, func(key []byte, _ int) error {
		_, _, err := txDB.Get(key)
		return err
	})

	bench("get-miss", false, func(key []byte, _ int) error {
		_, _, err := txDB.Get(key)
		return err
	})

	bench("delete", true, func(key []byte, _ int) error {
		_, err := txDB.Delete(ctx, key)
		return err
	})

	bench("update", true, func(key []byte, _ int) error {
		return txEnv.Update(ctx, func(txn *env.Txn) error {
			e, _, err := txn.Get(txDB, key)
			if err != nil {
				return err
			}
			_, err = txn.Put(txDB, key, append(e.Value[:len(e.Value):len(e.Value)], '.'))
			return err
		})
	})

	bench("mixed", true, func(key []byte, counter int) error {
		var err error
		switch counter % 4 {
		case 0: // put
			_, err = txDB.Put(ctx, key, []byte("test"))
		case 1: // get
			_, _, err = txDB.Get(key)
		case 2: // delete
			_, err = txDB.Delete(ctx, key)
		case 3: // prefetch
			_, err = txDB.Prefetch(ctx, key)
		}
		return err
	})

	fmt.Printf("\nwriter state: %s\n", txEnv.WriterState())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, names, results, latencies, txEnv.Options()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) []byte, func(func([]byte))) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) []byte {
		k := keys[i%perfKeySpread]
		return k[:len(k):len(k)]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func([]byte)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// latencySampleRate is the fraction (1/n) of operations whose latency is recorded
const latencySampleRate = 16

// latencySamples collects operation latencies of one benchmark run
type latencySamples struct {
	mu      sync.Mutex
	samples []float64
}

func (l *latencySamples) reset() {
	l.mu.Lock()
	l.samples = l.samples[:0]
	l.mu.Unlock()
}

func (l *latencySamples) add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, float64(d.Nanoseconds()))
	l.mu.Unlock()
}

func (l *latencySamples) stats() libutil.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return libutil.NewStats(l.samples)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, latency libutil.Stats) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tlatency mean=%s max=%s sd=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(latency.Mean), time.Duration(latency.Max), time.Duration(latency.StdDeviation))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, names []string, results map[string]testing.BenchmarkResult, latencies map[string]libutil.Stats, opts env.Options) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"LatencyMeanNs", "LatencyMaxNs", "LatencyStdDevNs",
		"Engine", "Compression", "NoSync", "MaxBatchWait", "MaxBatchSize",
		"Threads", "LargeValueSizeKB", "Keys Count", "BatchSize",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	compression := "none"
	if opts.Compression != nil {
		compression = string(opts.Compression.Algorithm)
	}
	wopts := opts.Writer
	if wopts == (writer.Options{}) {
		wopts = writer.DefaultOptions()
	}

	for _, test := range names {
		result := results[test]
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			fmt.Sprintf("%.0f", latencies[test].Mean),
			fmt.Sprintf("%.0f", latencies[test].Max),
			fmt.Sprintf("%.0f", latencies[test].StdDeviation),
			string(opts.Engine),
			compression,
			strconv.FormatBool(opts.NoSync),
			wopts.MaxBatchWait.String(),
			strconv.Itoa(wopts.MaxBatchSize),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfBatchSize),
		}

		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
