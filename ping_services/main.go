// Ping a running commentary server to measure network latency.
//
// Measures the /health HTTP round-trip and websocket ping/pong times.
//
// Usage:
//
//	go run ./ping_services                          # default: localhost:3001, 20 requests
//	go run ./ping_services -addr feed.example:3001  # remote server
//	go run ./ping_services -n 50 -ws                # 50 requests, plus websocket ping/pong
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const httpTimeout = 10 * time.Second

func main() {
	addr := flag.String("addr", "localhost:3001", "commentary server host:port")
	n := flag.Int("n", 20, "Number of requests per endpoint")
	ws := flag.Bool("ws", false, "Also measure websocket ping/pong latency")
	flag.Parse()

	healthURL := (&url.URL{Scheme: "http", Host: *addr, Path: "/health"}).String()
	wsURL := (&url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}).String()

	fmt.Printf("\n%s\n", strings.Repeat("=", 55))
	fmt.Printf("  COMMENTARY SERVER %s\n", *addr)
	fmt.Printf("%s\n", strings.Repeat("=", 55))

	fmt.Println("\n  Cold-start request (TCP + HTTP):")
	ms, code, err := measureHTTP(healthURL, nil)
	if err != nil {
		fmt.Printf("    FAILED: %v\n", err)
		return
	}
	fmt.Printf("    %.1f ms  (HTTP %d)\n", ms, code)
	printHealth(healthURL)

	fmt.Printf("\n  Warm HTTP latency (%d requests, keep-alive):\n", *n)
	client := &http.Client{Timeout: httpTimeout}
	latencies := make([]float64, 0, *n)
	pad := len(fmt.Sprintf("%d", *n))
	for i := 1; i <= *n; i++ {
		ms, code, err := measureHTTP(healthURL, client)
		if err != nil {
			fmt.Printf("  [%*d/%d]  FAILED: %v\n", pad, i, *n, err)
			continue
		}
		latencies = append(latencies, ms)
		fmt.Printf("  [%*d/%d]  %7.1f ms  (HTTP %d)\n", pad, i, *n, ms, code)
	}
	printStats(latencies, "Health HTTP")

	if *ws {
		fmt.Printf("\n  Websocket ping/pong latency (%d pings):\n", *n)
		wsLatencies := measureWSLatency(wsURL, *n)
		for i, ms := range wsLatencies {
			fmt.Printf("  [%*d/%d]  %7.1f ms  (WS ping/pong)\n", pad, i+1, *n, ms)
		}
		printStats(wsLatencies, "Websocket")
	}
	fmt.Println()
}

func printHealth(healthURL string) {
	resp, err := http.Get(healthURL)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var h struct {
		Status   string `json:"status"`
		Clients  int    `json:"clients"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return
	}
	fmt.Printf("    status=%s  clients=%d  sessions=%d\n", h.Status, h.Clients, h.Sessions)
}

func measureHTTP(url string, client *http.Client) (ms float64, statusCode int, err error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	c := client
	if c == nil {
		c = &http.Client{Timeout: httpTimeout}
	}
	start := time.Now()
	resp, err := c.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return float64(elapsed.Microseconds()) / 1000, resp.StatusCode, nil
}

// measureWSLatency connects without joining, so no playback session is
// started on the server; only the greeting arrives.
func measureWSLatency(wsURL string, n int) []float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Printf("  [!] Websocket dial failed: %v\n", err)
		return nil
	}
	defer conn.Close()

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	// control frames are only processed while reading
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latencies := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
			fmt.Printf("  [!] WS ping failed: %v\n", err)
			break
		}
		select {
		case <-pongCh:
			latencies = append(latencies, float64(time.Since(start).Microseconds())/1000)
		case <-time.After(5 * time.Second):
			fmt.Printf("  [!] WS pong timeout\n")
			return latencies
		}
	}
	return latencies
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)

	fmt.Printf("\n  --- %s Stats (%d requests) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  Median: %7.1f ms\n", sorted[len(sorted)/2])
	fmt.Printf("  Stdev:  %7.1f ms\n", math.Sqrt(variance))
	fmt.Printf("  p95:    %7.1f ms\n", sorted[min(int(float64(len(sorted))*0.95), len(sorted)-1)])
	fmt.Printf("  p99:    %7.1f ms\n", sorted[min(int(float64(len(sorted))*0.99), len(sorted)-1)])
}
