package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/client"
)

type Stats struct {
	totalStreams   int64
	totalErrors    int64
	totalFragments int64
	latencies      []int64 // full stream duration, microseconds
	firstFragment  []int64 // time to first fragment, microseconds
	mu             sync.Mutex
}

func main() {
	duration := flag.Int("duration", 30, "Test duration in seconds")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	rps := flag.Int("rps", 0, "Target stream initiations per second (0 = unlimited)")
	base := flag.String("base", "http://localhost:8000", "Daemon base URL")
	password := flag.String("password", "loadtest-pw", "Password for the generated accounts")
	message := flag.String("message", "Hello", "User message sent each turn")

	flag.Parse()

	fmt.Printf("Starting load test:\n")
	fmt.Printf("  Base URL: %s\n", *base)
	fmt.Printf("  Duration: %d seconds\n", *duration)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target RPS: %d\n", *rps)
	fmt.Println()

	stats := &Stats{}

	var wg sync.WaitGroup
	start := time.Now()
	done := make(chan bool)

	// Rate limiter
	var ticker *time.Ticker
	var rateChan <-chan time.Time
	if *rps > 0 {
		interval := time.Second / time.Duration(*rps)
		ticker = time.NewTicker(interval)
		rateChan = ticker.C
	}

	// Shared HTTP client with increased connection pool
	transport := &http.Transport{
		MaxIdleConns:        10000,
		MaxIdleConnsPerHost: 10000,
		MaxConnsPerHost:     10000,
		IdleConnTimeout:     90 * time.Second,
	}
	sharedClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: transport,
	}

	// Workers
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		worker := i
		go func() {
			defer wg.Done()
			ctx := context.Background()

			c, err := client.NewChatClient(*base, sharedClient)
			if err != nil {
				fmt.Printf("worker %d: create client: %v\n", worker, err)
				return
			}
			email := fmt.Sprintf("load-%d-%d@example.com", start.Unix(), worker)
			if _, err := c.Signup(ctx, email, *password); err != nil && !strings.Contains(err.Error(), "already registered") {
				fmt.Printf("worker %d: signup: %v\n", worker, err)
				return
			}
			if _, err := c.Login(ctx, email, *password); err != nil {
				fmt.Printf("worker %d: login: %v\n", worker, err)
				return
			}

			// The first turn creates the session; later turns grow it so the
			// daemon also exercises window assembly.
			sessionID := ""
			for {
				select {
				case <-done:
					return
				default:
					if rateChan != nil {
						<-rateChan // Rate limiting
					}

					streamStart := time.Now()
					initiated, err := c.Initiate(ctx, sessionID, *message)
					if err != nil {
						atomic.AddInt64(&stats.totalStreams, 1)
						atomic.AddInt64(&stats.totalErrors, 1)
						continue
					}
					sessionID = initiated.SessionID

					gotFirst := false
					var firstAt time.Duration
					err = c.Stream(ctx, initiated.StreamID, func(fragment string) error {
						if !gotFirst {
							gotFirst = true
							firstAt = time.Since(streamStart)
						}
						atomic.AddInt64(&stats.totalFragments, 1)
						return nil
					})
					latency := time.Since(streamStart).Microseconds()

					atomic.AddInt64(&stats.totalStreams, 1)
					if err != nil {
						atomic.AddInt64(&stats.totalErrors, 1)
					}

					stats.mu.Lock()
					stats.latencies = append(stats.latencies, latency)
					if gotFirst {
						stats.firstFragment = append(stats.firstFragment, firstAt.Microseconds())
					}
					stats.mu.Unlock()
				}
			}
		}()
	}

	// Timer
	time.AfterFunc(time.Duration(*duration)*time.Second, func() {
		close(done)
	})

	wg.Wait()
	if ticker != nil {
		ticker.Stop()
	}

	elapsed := time.Since(start).Seconds()

	sort.Slice(stats.latencies, func(i, j int) bool {
		return stats.latencies[i] < stats.latencies[j]
	})
	sort.Slice(stats.firstFragment, func(i, j int) bool {
		return stats.firstFragment[i] < stats.firstFragment[j]
	})

	// Results
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("Benchmark Results")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total Streams:      %d\n", stats.totalStreams)
	fmt.Printf("Total Failures:     %d\n", stats.totalErrors)
	fmt.Printf("Total Fragments:    %d\n", stats.totalFragments)
	fmt.Printf("Duration:           %.2f seconds\n", elapsed)
	fmt.Printf("Streams/sec:        %.2f\n", float64(stats.totalStreams)/elapsed)
	fmt.Printf("Fragments/sec:      %.2f\n", float64(stats.totalFragments)/elapsed)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("First Fragment P50: %.2f ms\n", float64(percentile(stats.firstFragment, 0.50))/1000)
	fmt.Printf("First Fragment P95: %.2f ms\n", float64(percentile(stats.firstFragment, 0.95))/1000)
	fmt.Printf("First Fragment P99: %.2f ms\n", float64(percentile(stats.firstFragment, 0.99))/1000)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Stream P50:         %.2f ms\n", float64(percentile(stats.latencies, 0.50))/1000)
	fmt.Printf("Stream P95:         %.2f ms\n", float64(percentile(stats.latencies, 0.95))/1000)
	fmt.Printf("Stream P99:         %.2f ms\n", float64(percentile(stats.latencies, 0.99))/1000)
	fmt.Println(strings.Repeat("-", 60))
	if stats.totalStreams > 0 {
		fmt.Printf("Error Rate:         %.2f%%\n", float64(stats.totalErrors)/float64(stats.totalStreams)*100)
	}
	fmt.Println(strings.Repeat("=", 60))
}

func percentile(latencies []int64, p float64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	index := int(float64(len(latencies)) * p)
	if index >= len(latencies) {
		index = len(latencies) - 1
	}
	return latencies[index]
}
