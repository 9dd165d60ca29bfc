package policy

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datasafe/papl/cmd/util"
	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the policy store",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 64
	perfNumThreads       = 10
	perfOpsPerThread     = 1000
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfResult is the outcome of one performance test
type perfResult struct {
	name    string
	skipped bool
	elapsed time.Duration
	timer   gometrics.Timer
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Tests to skip (comma separated - e.g. save,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent callers"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Operations per caller and test"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("How large the policy for the save-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfOpsPerThread = viper.GetInt("ops")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 || perfNumThreads <= 0 || perfOpsPerThread <= 0 {
		return fmt.Errorf("keys, threads and ops must be positive")
	}

	// unique prefix so that concurrent runs against one database do not collide
	perfKeyPrefix = "__perf-" + uuid.NewString()
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for the policy store")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	config := util.GetStoreConfig()
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Ops per thread: %d, Keys: %d\n", perfNumThreads, perfOpsPerThread, perfKeySpread)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := gometrics.NewRegistry()
	stamp := time.Now().UnixNano()
	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)

	getKey, iter := getKeys()
	defer iter(func(k string) {
		if _, err := policyStore.Delete(k); err != nil {
			plog.Warningf("(cleanup) - error deleting key: %v", err)
		}
	})

	tests := []struct {
		name  string
		setup func()
		op    func(i int) error
	}{
		{
			name: "save",
			op: func(i int) error {
				_, err := policyStore.Save(getKey(i), "package perf", "v1", stamp)
				return err
			},
		},
		{
			name: "save-large",
			op: func(i int) error {
				_, err := policyStore.Save(getKey(i), largeValue, "v1", stamp)
				return err
			},
		},
		{
			name: "get",
			setup: func() {
				iter(func(k string) { policyStore.Save(k, "package perf", "v1", stamp) })
			},
			op: func(i int) error {
				_, err := policyStore.Get(getKey(i))
				return err
			},
		},
		{
			name: "show",
			op: func(i int) error {
				_, _, err := policyStore.VersionAndValue(getKey(i))
				return err
			},
		},
		{
			name: "keys-paged",
			op: func(i int) error {
				page := int64(i%perfKeySpread)/10 + 1
				_, err := policyStore.KeysWithStampAtLeastPageable(stamp, page, 10)
				return err
			},
		},
		{
			name: "mixed",
			op: func(i int) error {
				var err error
				switch i % 10 {
				case 0, 1:
					_, err = policyStore.Save(getKey(i), "package perf", "v2", stamp)
				case 2:
					_, err = policyStore.KeysWithStampAtMost(stamp)
				default:
					_, err = policyStore.Get(getKey(i))
				}
				return err
			},
		},
	}

	results := make([]perfResult, 0, len(tests))
	for _, test := range tests {
		if shouldSkip(test.name) {
			result := perfResult{name: test.name, skipped: true}
			results = append(results, result)
			printResult(result)
			continue
		}
		if test.setup != nil {
			test.setup()
		}
		result := runTest(registry, test.name, test.op)
		results = append(results, result)
		printResult(result)
	}

	csvPath := viper.GetString("csv")
	if csvPath != "" {
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// runTest runs op perfOpsPerThread times on each of perfNumThreads goroutines,
// timing every call with a timer registered in registry
func runTest(registry gometrics.Registry, name string, op func(i int) error) perfResult {
	timer := gometrics.GetOrRegisterTimer(name, registry)
	errorCount := gometrics.GetOrRegisterCounter(name+".errors", registry)

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perfOpsPerThread; i++ {
				var err error
				timer.Time(func() { err = op(w*perfOpsPerThread + i) })
				if err != nil {
					errorCount.Inc(1)
					plog.Debugf("(%s) - error: %v", name, err)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := errorCount.Count(); n > 0 {
		plog.Warningf("(%s) - %d operations failed", name, n)
	}

	return perfResult{name: name, elapsed: time.Since(start), timer: timer}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys() (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%d", perfKeyPrefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// opsPerSec returns the throughput of a result
func opsPerSec(result perfResult) float64 {
	seconds := math.Max(result.elapsed.Seconds(), 1e-9) // prevent division by zero
	return float64(result.timer.Count()) / seconds
}

// printResult prints the result of a performance test in a formatted way
func printResult(result perfResult) {
	if result.skipped {
		fmt.Printf("%-14sskipped\n", result.name)
		return
	}

	snapshot := result.timer.Snapshot()
	fmt.Printf("%-14s%8d ops  mean %-12s p50 %-12s p99 %-12s max %-12s %.0f ops/sec\n",
		result.name,
		snapshot.Count(),
		time.Duration(snapshot.Mean()),
		time.Duration(snapshot.Percentile(0.5)),
		time.Duration(snapshot.Percentile(0.99)),
		time.Duration(snapshot.Max()),
		opsPerSec(result),
	)
}

// writeResultsToCSV writes the results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetStoreConfig()

	// Write header
	header := []string{
		"Test", "Ops", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec", "Skipped",
		"Engine", "InMemory", "Threads", "OpsPerThread", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, result := range results {
		row := []string{result.name, "0", "0", "0", "0", "0", "0", "true"}
		if !result.skipped {
			snapshot := result.timer.Snapshot()
			row = []string{
				result.name,
				strconv.FormatInt(snapshot.Count(), 10),
				fmt.Sprintf("%.0f", snapshot.Mean()),
				fmt.Sprintf("%.0f", snapshot.Percentile(0.5)),
				fmt.Sprintf("%.0f", snapshot.Percentile(0.99)),
				strconv.FormatInt(snapshot.Max(), 10),
				fmt.Sprintf("%.0f", opsPerSec(result)),
				"false",
			}
		}
		row = append(row,
			string(config.Engine),
			strconv.FormatBool(config.Ephemeral()),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfOpsPerThread),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", result.name, err)
		}
	}

	return nil
}
