package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	baseURL    = flag.String("url", "http://localhost:8080", "Server base URL")
	env        = flag.String("env", "dev", "Env to watch and write")
	namespace  = flag.String("ns", "default", "Namespace to watch and write")
	sdkKey     = flag.String("key", "flagplane-dev-key", "SDK key sent as X-SDK-Key")
	username   = flag.String("user", "admin", "Operator used by the writer")
	password   = flag.String("pass", "admin123", "Password of the writer operator")
	totalVUs   = flag.Int("c", 2000, "Concurrent stream subscribers")
	rampUp     = flag.Duration("ramp", 60*time.Second, "Ramp up duration")
	writeEvery = flag.Duration("write", time.Second, "Interval between measured writes; 0 disables the writer")
	featureKey = flag.String("feature", "loadtest.latency", "Flag key written by the writer")
	adminMode  = flag.Bool("admin", false, "Watch the dashboard stream with the writer's token instead of the SDK stream")
	monitor    = flag.Duration("monitor", 5*time.Second, "Interval between /metrics polls; 0 disables")
)

var (
	activeClients int64
	totalConnects int64
	connectErrors int64
	disconnects   int64
	messagesRx    int64
	pingsRx       int64
	latencySum    int64 // milliseconds
	latencyCount  int64
	latencyMax    int64
	writeErrors   int64
)

type streamEvent struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

func main() {
	flag.Parse()

	fmt.Printf("Starting load test\n")
	fmt.Printf("   Target: %s (env=%s ns=%s)\n", *baseURL, *env, *namespace)
	fmt.Printf("   VUs: %d\n", *totalVUs)
	fmt.Printf("   Ramp: %v\n", *rampUp)

	transport := http.DefaultTransport.(*http.Transport)
	transport.MaxIdleConns = *totalVUs
	transport.MaxConnsPerHost = *totalVUs + 8

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go report(ctx)
	if *monitor > 0 {
		go monitorServer(ctx)
	}

	var token string
	if *writeEvery > 0 || *adminMode {
		var err error
		if token, err = login(ctx); err != nil {
			fmt.Printf("login failed: %v\n", err)
			if *adminMode {
				return
			}
		}
	}
	if *writeEvery > 0 && token != "" {
		go runWriter(ctx, token)
	}

	var wg sync.WaitGroup
	interval := *rampUp / time.Duration(*totalVUs)
	for i := 0; i < *totalVUs && ctx.Err() == nil; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, id, token)
		}(i)
		time.Sleep(interval)
	}

	fmt.Println("All VUs launched. Waiting...")
	wg.Wait()
	fmt.Println(scrapeSummary())
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latSum := atomic.SwapInt64(&latencySum, 0)
			latCnt := atomic.SwapInt64(&latencyCount, 0)
			avgLat := float64(0)
			if latCnt > 0 {
				avgLat = float64(latSum) / float64(latCnt)
			}
			fmt.Printf("[%s] Active: %d | Total: %d | Errors: %d | Dropped: %d | Msgs/s: %d | Pings/s: %d | Avg Latency: %.2f ms | Max: %d ms | Write errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&activeClients),
				atomic.LoadInt64(&totalConnects),
				atomic.LoadInt64(&connectErrors),
				atomic.LoadInt64(&disconnects),
				atomic.SwapInt64(&messagesRx, 0),
				atomic.SwapInt64(&pingsRx, 0),
				avgLat,
				atomic.SwapInt64(&latencyMax, 0),
				atomic.LoadInt64(&writeErrors))
		}
	}
}

func login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": *username, "password": *password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// runWriter updates the measured flag with the send time in unix millis, so
// subscribers can compute end-to-end latency from the value they receive.
func runWriter(ctx context.Context, token string) {
	ticker := time.NewTicker(*writeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, _ := json.Marshal(map[string]string{
				"namespace": *namespace,
				"env":       *env,
				"key":       *featureKey,
				"type":      "number",
				"value":     strconv.FormatInt(time.Now().UnixMilli(), 10),
			})
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/v1/feature", bytes.NewReader(body))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				atomic.AddInt64(&writeErrors, 1)
				continue
			}
			if resp.StatusCode != http.StatusOK {
				atomic.AddInt64(&writeErrors, 1)
			}
			resp.Body.Close()
		}
	}
}

func runClient(ctx context.Context, id int, token string) {
	url := fmt.Sprintf("%s/v1/stream/watch?env=%s&namespace=%s", *baseURL, *env, *namespace)
	if *adminMode {
		url = fmt.Sprintf("%s/v1/admin/stream?env=%s&namespace=%s&token=%s", *baseURL, *env, *namespace, token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("Client %d error: %v\n", id, err)
		return
	}
	if !*adminMode {
		req.Header.Set("X-SDK-Key", *sdkKey)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		if atomic.AddInt64(&connectErrors, 1) == 1 {
			fmt.Printf("Error connecting: %v\n", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if atomic.AddInt64(&connectErrors, 1) == 1 {
			fmt.Printf("Error status code: %d\n", resp.StatusCode)
		}
		return
	}

	atomic.AddInt64(&activeClients, 1)
	atomic.AddInt64(&totalConnects, 1)
	defer atomic.AddInt64(&activeClients, -1)

	reader := bufio.NewReader(resp.Body)
	event := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&disconnects, 1)
			}
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event == "ping" {
				atomic.AddInt64(&pingsRx, 1)
				continue
			}
			var msg streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &msg); err != nil {
				continue
			}
			atomic.AddInt64(&messagesRx, 1)
			if msg.Key == *featureKey {
				recordLatency(msg.Value)
			}
		}
	}
}

func recordLatency(value string) {
	sent, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return
	}
	latency := time.Now().UnixMilli() - sent
	// ignore clock skew
	if latency < 0 || latency >= 10000 {
		return
	}
	atomic.AddInt64(&latencySum, latency)
	atomic.AddInt64(&latencyCount, 1)
	for {
		cur := atomic.LoadInt64(&latencyMax)
		if latency <= cur || atomic.CompareAndSwapInt64(&latencyMax, cur, latency) {
			return
		}
	}
}

// scrape returns the exposition lines starting with any of the prefixes.
func scrape(prefixes ...string) ([]string, error) {
	resp, err := http.Get(*baseURL + "/metrics")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		for _, p := range prefixes {
			if strings.HasPrefix(line, p) {
				out = append(out, line)
				break
			}
		}
	}
	return out, sc.Err()
}

// monitorServer watches heap and goroutines while subscribers churn. Both
// should plateau once every VU is connected.
func monitorServer(ctx context.Context) {
	ticker := time.NewTicker(*monitor)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lines, err := scrape("go_goroutines ", "go_memstats_heap_alloc_bytes ", "flagplane_stream_subscribers ")
			if err != nil {
				fmt.Printf("[monitor] metrics unavailable: %v\n", err)
				continue
			}
			fmt.Printf("[monitor] %s\n", strings.Join(lines, " | "))
		}
	}
}

func scrapeSummary() string {
	lines, err := scrape("flagplane_stream_")
	if err != nil {
		return fmt.Sprintf("metrics unavailable: %v", err)
	}
	return "Server metrics:\n   " + strings.Join(lines, "\n   ")
}
