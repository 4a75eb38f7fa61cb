// callback_replay 向本地服务并发重放同一条托管收银台回调，用于验证回调幂等
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"storefront/internal/domain/payment/strategy"
)

var httpClient *http.Client

func init() {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 500
	t.MaxIdleConnsPerHost = 500
	t.MaxConnsPerHost = 500
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "service base url")
	secret := flag.String("secret", os.Getenv("PAYMENT_HOSTED_SECRET"), "hosted gateway shared secret")
	ref := flag.String("ref", "", "payment correlation reference")
	amount := flag.String("amount", "", "amount claimed by the callback, e.g. 150.00")
	currency := flag.String("currency", "CNY", "currency claimed by the callback")
	status := flag.String("status", "PAID", "PAID, PENDING or FAILED")
	copies := flag.Int("n", 50, "number of concurrent deliveries")
	forge := flag.Bool("forge", false, "send with a wrong signature")
	flag.Parse()

	if *ref == "" || *amount == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "ref, amount and secret are required")
		os.Exit(2)
	}

	fields := map[string]string{
		"reference":      *ref,
		"status":         *status,
		"amount":         *amount,
		"currency":       *currency,
		"txn_code":       "REPLAY-" + *ref,
		"payment_method": "card",
	}
	signingSecret := *secret
	if *forge {
		signingSecret += "-forged"
	}
	fields["signature"] = strategy.Sign(signingSecret, fields)
	body, _ := json.Marshal(fields)

	fmt.Printf("重放回调: %d 次并发, reference=%s amount=%s status=%s\n", *copies, *ref, *amount, *status)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	start := time.Now()
	for i := 0; i < *copies; i++ {
		wg.Add(1)
		path := "/payments/callback/hosted"
		if i%2 == 1 {
			path = "/"
		}
		go func() {
			defer wg.Done()
			code := deliver(*baseURL+path, body)
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	fmt.Println("--------------------------------------------------")
	fmt.Printf("耗时: %v\n", time.Since(start))
	for code, n := range codes {
		fmt.Printf("HTTP %d: %d\n", code, n)
	}
	fmt.Println("--------------------------------------------------")
}

func deliver(url string, body []byte) int {
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}
