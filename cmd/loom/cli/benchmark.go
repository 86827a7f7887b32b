package cli

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		url         string
		credential  string
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark authentication throughput",
		Long: `Run a load test against a running Loom server to measure authenticated
request throughput and latency. Executes concurrent requests against the
identity endpoint using the given API key or token.`,
		Example: `  loom benchmark --credential sk_... --duration 30s --concurrency 50
  loom benchmark --url http://127.0.0.1:8317 --credential "$(loom key token <id>)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(url, credential, duration, concurrency)
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8317", "Base URL of the running server")
	cmd.Flags().StringVar(&credential, "credential", "", "API key or bearer token (required)")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.MarkFlagRequired("credential")

	return cmd
}

// redactCredential shortens a credential for display.
func redactCredential(credential string) string {
	if len(credential) <= 8 {
		return "****"
	}
	return credential[:8] + "..."
}

// printBanner prints the ASCII art banner and benchmark configuration.
func printBanner(url, credential string, duration time.Duration, concurrency int) {
	fmt.Print(banner)
	fmt.Println("Loom Benchmark Suite")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: %s (credential %s)\n", url, redactCredential(credential))
	fmt.Printf("Duration: %s | Concurrency: %d\n", duration, concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func runBenchmark(url, credential string, duration time.Duration, concurrency int) error {
	printBanner(url, credential, duration, concurrency)

	memBefore := captureMemStats()

	target := url + "/api/v1/auth/whoami"

	// Probe once so auth failures surface before the load starts.
	fmt.Print("Probing... ")
	client := &http.Client{Timeout: 5 * time.Second}
	probe, err := authedRequest(target, credential)
	if err != nil {
		return err
	}
	resp, err := client.Do(probe)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe request returned %d; check the credential", resp.StatusCode)
	}
	fmt.Println("ok")
	fmt.Println()
	fmt.Println("Running benchmark...")
	fmt.Println()

	var (
		totalRequests atomic.Int64
		totalErrors   atomic.Int64
		latencies     = make([]time.Duration, 0, 100000)
		latencyMu     sync.Mutex
	)

	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := &http.Client{Timeout: 10 * time.Second}
			for time.Now().Before(deadline) {
				req, err := authedRequest(target, credential)
				if err != nil {
					totalErrors.Add(1)
					continue
				}

				start := time.Now()
				resp, err := worker.Do(req)
				elapsed := time.Since(start)

				if err != nil {
					totalErrors.Add(1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					totalErrors.Add(1)
					continue
				}

				totalRequests.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}()
	}

	wg.Wait()

	memAfter := captureMemStats()

	total := totalRequests.Load()
	errors := totalErrors.Load()
	rps := float64(total) / duration.Seconds()

	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total requests: %d\n", total)
	fmt.Printf("  Errors:         %d\n", errors)
	fmt.Printf("  RPS:            %.1f\n", rps)

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		fmt.Printf("  Latency p50:    %s\n", latencies[len(latencies)*50/100])
		fmt.Printf("  Latency p95:    %s\n", latencies[len(latencies)*95/100])
		fmt.Printf("  Latency p99:    %s\n", latencies[len(latencies)*99/100])
		fmt.Printf("  Latency max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("Memory")
	fmt.Println("------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  RSS (sys) before: %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  RSS (sys) after:  %s\n", formatBytes(memAfter.Sys))

	return nil
}

func authedRequest(target, credential string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	return req, nil
}
