// Command turnsim fires concurrent synthetic turns at a running
// taleweaver server and reports latency percentiles. Point it at a
// stub-mode server for an offline smoke run, or at a real deployment
// to size the rate limits.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// turnRequest mirrors the POST /api/v1/turns body.
type turnRequest struct {
	CharacterID  string `json:"character_id"`
	PlayerAction string `json:"player_action"`
	DryRun       bool   `json:"dry_run,omitempty"`
}

// turnResponse carries the result fields the probe reports on.
type turnResponse struct {
	TurnID         string `json:"turn_id"`
	Classification string `json:"classification"`
	DurationMs     int64  `json:"duration_ms"`
}

// errorResponse is the service error envelope.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var playerActions = []string{
	"I scout the ridge ahead for signs of the caravan.",
	"I ask the innkeeper about the rumors from the mine.",
	"I follow the river north, keeping to the treeline.",
	"I search the ruined watchtower for anything useful.",
	"I strike at the nearest bandit before they can regroup.",
	"I set up camp and take stock of my supplies.",
}

type result struct {
	latency time.Duration
	status  int
	class   string
	err     error
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8700", "base URL of a running taleweaver server")
		characters  = flag.Int("characters", 8, "synthetic characters to spread turns across")
		concurrency = flag.Int("concurrency", 4, "concurrent in-flight turns")
		count       = flag.Int("count", 50, "total turns to fire")
		timeout     = flag.Duration("timeout", 90*time.Second, "per-request timeout")
		dryRun      = flag.Bool("dry-run", false, "skip journey-log writes on the server")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *characters < 1 || *concurrency < 1 || *count < 1 {
		logger.Error("characters, concurrency, and count must all be at least 1")
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/turns"

	logger.Info("starting turn probe",
		"endpoint", endpoint, "characters", *characters,
		"concurrency", *concurrency, "count", *count, "dry_run", *dryRun)

	results := make([]result, *count)
	var next atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= *count {
					return
				}
				results[i] = fireTurn(client, endpoint, i, *characters, *dryRun)
			}
		}()
	}
	wg.Wait()

	report(results, time.Since(start))
}

func fireTurn(client *http.Client, endpoint string, seq, characters int, dryRun bool) result {
	body, err := json.Marshal(&turnRequest{
		CharacterID:  fmt.Sprintf("sim-char-%03d", seq%characters),
		PlayerAction: playerActions[seq%len(playerActions)],
		DryRun:       dryRun,
	})
	if err != nil {
		return result{err: err}
	}

	begin := time.Now()
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return result{latency: time.Since(begin), err: err}
	}
	defer resp.Body.Close()

	res := result{latency: time.Since(begin), status: resp.StatusCode}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		res.err = err
		return res
	}

	if resp.StatusCode == http.StatusOK {
		var tr turnResponse
		if err := json.Unmarshal(payload, &tr); err != nil {
			res.err = err
			return res
		}
		res.class = tr.Classification
		return res
	}

	var er errorResponse
	if err := json.Unmarshal(payload, &er); err == nil && er.Kind != "" {
		res.class = er.Kind
	}
	return res
}

func report(results []result, elapsed time.Duration) {
	var latencies []time.Duration
	outcomes := map[string]int{}
	rateLimited, transportErrs := 0, 0

	for _, r := range results {
		switch {
		case r.err != nil:
			transportErrs++
		case r.status == http.StatusTooManyRequests:
			rateLimited++
		default:
			latencies = append(latencies, r.latency)
			outcomes[fmt.Sprintf("%d %s", r.status, r.class)]++
		}
	}

	fmt.Printf("\nTurns fired:      %d in %s (%.1f/s)\n",
		len(results), elapsed.Round(time.Millisecond), float64(len(results))/elapsed.Seconds())
	fmt.Printf("Rate limited:     %d\n", rateLimited)
	fmt.Printf("Transport errors: %d\n", transportErrs)

	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, outcomes[k])
	}

	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("\nLatency (completed requests):\n")
	for _, q := range []float64{0.50, 0.90, 0.99} {
		fmt.Printf("  p%-3.0f %s\n", q*100, percentile(latencies, q).Round(time.Millisecond))
	}
	fmt.Printf("  max  %s\n", latencies[len(latencies)-1].Round(time.Millisecond))
}

// percentile returns the q-quantile of sorted latencies using the
// nearest-rank method.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
