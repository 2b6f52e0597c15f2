package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	campaigns   int
	replayRate  float64
	targetRPS   float64
)

var (
	totalRequests uint64
	created201    uint64
	duplicate409  uint64 // replayed transaction references
	rejected4xx   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&campaigns, "campaigns", 1000, "Number of seeded campaigns")
	flag.Float64Var(&targetRPS, "rps", 0, "Overall request rate cap, 0 for unlimited")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that resend an earlier transaction reference")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if targetRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(targetRPS), concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(ctx, &wg, limiter)
	}
	wg.Wait()
	printResults(time.Since(start))
}

// campaignAddress matches the addresses written by the seeder.
func campaignAddress(i int) string {
	return fmt.Sprintf("0x%040x", 0xc0ffee000000+i)
}

func worker(ctx context.Context, wg *sync.WaitGroup, limiter *rate.Limiter) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	contributor := fmt.Sprintf("0x%040x", rand.Int63())
	var lastRef, lastCampaign string

	for limiter.Wait(ctx) == nil {
		campaign := pickCampaign()
		txRef := "0x" + uuid.NewString()
		if lastRef != "" && rand.Float64() < replayRate {
			campaign, txRef = lastCampaign, lastRef
		}
		lastRef, lastCampaign = txRef, campaign

		body, _ := json.Marshal(map[string]string{
			"contributor": contributor,
			"asset":       "ETH",
			"amount":      "0.01",
		})
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/campaigns/"+campaign+"/contributions", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", txRef)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&created201, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&duplicate409, 1)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&rejected4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickCampaign() string {
	// Hotspot: 90% of traffic goes to campaign 1
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return campaignAddress(1)
	}
	return campaignAddress(rand.Intn(campaigns) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created201)
	d409 := atomic.LoadUint64(&duplicate409)
	r4xx := atomic.LoadUint64(&rejected4xx)
	fErr := atomic.LoadUint64(&failOther)

	var dupRate float64
	if total > 0 {
		dupRate = float64(d409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"created":           c201,
		"duplicates":        d409,
		"duplicate_pct":     dupRate,
		"rejected":          r4xx,
		"errors":            fErr,
		"contributions_eth": float64(c201) * 0.01,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
