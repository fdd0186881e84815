// Benchmark replays labeled PaySim transactions against a running Fraudwatch
// and scores its verdicts.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// PaySim's step column counts hours from the start of the simulation; it is
// mapped onto a timestamp so that time-of-day rules take part.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// simulationStart is the instant PaySim step 0 is mapped to.
var simulationStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// PaySimTransaction is one labeled row of the dataset.
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         string
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	IsFraud        bool
}

// evaluateRequest mirrors the /evaluate transaction body.
type evaluateRequest struct {
	TransactionID   string         `json:"transaction_id"`
	UserID          string         `json:"user_id"`
	FromAccount     string         `json:"from_account"`
	ToAccount       string         `json:"to_account"`
	Amount          json.Number    `json:"amount"`
	Currency        string         `json:"currency"`
	Timestamp       string         `json:"timestamp"`
	TransactionType string         `json:"transaction_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type evaluateResponse struct {
	IsFraud    bool     `json:"is_fraud"`
	FinalScore float64  `json:"final_score"`
	Triggered  []string `json:"triggered_rules"`
}

// confusion accumulates predicted-versus-actual counts. It is safe for
// concurrent use.
type confusion struct {
	tp, fp, tn, fn atomic.Int64
	errors         atomic.Int64
	latencyMs      atomic.Int64
}

func (c *confusion) add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.tp.Add(1)
	case predicted:
		c.fp.Add(1)
	case actual:
		c.fn.Add(1)
	default:
		c.tn.Add(1)
	}
}

func (c *confusion) total() int64 {
	return c.tp.Load() + c.fp.Load() + c.tn.Load() + c.fn.Load()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c *confusion) precision() float64 { return ratio(c.tp.Load(), c.tp.Load()+c.fp.Load()) }
func (c *confusion) recall() float64    { return ratio(c.tp.Load(), c.tp.Load()+c.fn.Load()) }
func (c *confusion) accuracy() float64  { return ratio(c.tp.Load()+c.tn.Load(), c.total()) }

func (c *confusion) f1() float64 {
	p, r := c.precision(), c.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Fraudwatch base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Fraudwatch not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	transactions, err := readPaySim(f, *limit, *fraudOnly, *sampleRate)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(transactions), *csvPath)

	start := time.Now()
	result := replay(transactions, *baseURL, *workers, *verbose)
	printResults(result, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readPaySim parses the dataset. Malformed rows are skipped.
func readPaySim(r io.Reader, limit int, fraudOnly bool, sampleRate float64) ([]PaySimTransaction, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"step", "type", "amount", "nameorig", "namedest", "isfraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	get := func(record []string, name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var out []PaySimTransaction
	sampled := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		isFraud := get(record, "isfraud") == "1"
		if fraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1.0 {
			sampled++
			if float64(sampled%100)/100.0 >= sampleRate {
				continue
			}
		}

		step, err := strconv.Atoi(get(record, "step"))
		if err != nil {
			continue
		}
		oldBalance, _ := strconv.ParseFloat(get(record, "oldbalanceorg"), 64)
		newBalance, _ := strconv.ParseFloat(get(record, "newbalanceorig"), 64)

		out = append(out, PaySimTransaction{
			Step:           step,
			Type:           get(record, "type"),
			Amount:         get(record, "amount"),
			NameOrig:       get(record, "nameorig"),
			OldBalanceOrg:  oldBalance,
			NewBalanceOrig: newBalance,
			NameDest:       get(record, "namedest"),
			IsFraud:        isFraud,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// toRequest maps a dataset row onto an /evaluate body.
func toRequest(i int, tx PaySimTransaction) evaluateRequest {
	return evaluateRequest{
		TransactionID:   fmt.Sprintf("paysim-%d", i),
		UserID:          tx.NameOrig,
		FromAccount:     tx.NameOrig,
		ToAccount:       tx.NameDest,
		Amount:          json.Number(tx.Amount),
		Currency:        "USD",
		Timestamp:       simulationStart.Add(time.Duration(tx.Step) * time.Hour).Format(time.RFC3339),
		TransactionType: strings.ToLower(tx.Type),
		Metadata: map[string]any{
			"old_balance": tx.OldBalanceOrg,
			"new_balance": tx.NewBalanceOrig,
			"step":        tx.Step,
		},
	}
}

func replay(transactions []PaySimTransaction, baseURL string, numWorkers int, verbose bool) *confusion {
	result := &confusion{}
	type job struct {
		i  int
		tx PaySimTransaction
	}
	work := make(chan job, 100)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for j := range work {
				start := time.Now()
				resp, err := evaluate(client, baseURL, toRequest(j.i, j.tx))
				result.latencyMs.Add(time.Since(start).Milliseconds())
				if err != nil {
					result.errors.Add(1)
					if verbose {
						fmt.Printf("ERROR %s: %v\n", j.tx.NameOrig, err)
					}
					continue
				}
				result.add(resp.IsFraud, j.tx.IsFraud)
				if verbose {
					mark := "ok  "
					if resp.IsFraud != j.tx.IsFraud {
						mark = "MISS"
					}
					fmt.Printf("%s %-10s %-8s %14s fraud=%-5v score=%.2f rules=%v\n",
						mark, j.tx.NameOrig, j.tx.Type, j.tx.Amount, j.tx.IsFraud, resp.FinalScore, resp.Triggered)
				}
			}
		}()
	}

	for i, tx := range transactions {
		work <- job{i: i, tx: tx}
	}
	close(work)
	wg.Wait()

	return result
}

func evaluate(client *http.Client, baseURL string, req evaluateRequest) (*evaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func printResults(c *confusion, duration time.Duration) {
	fmt.Println()
	fmt.Println("CONFUSION MATRIX        predicted fraud   predicted clean")
	fmt.Printf("   actual fraud        %15d   %15d\n", c.tp.Load(), c.fn.Load())
	fmt.Printf("   actual clean        %15d   %15d\n", c.fp.Load(), c.tn.Load())
	fmt.Println()
	fmt.Printf("   Precision:  %.4f\n", c.precision())
	fmt.Printf("   Recall:     %.4f\n", c.recall())
	fmt.Printf("   F1-Score:   %.4f\n", c.f1())
	fmt.Printf("   Accuracy:   %.4f\n", c.accuracy())
	fmt.Printf("   Errors:     %d\n", c.errors.Load())
	fmt.Println()

	processed := c.total() + c.errors.Load()
	fmt.Printf("   Duration:   %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   Latency:    %.2f ms avg\n", float64(c.latencyMs.Load())/float64(processed))
		fmt.Printf("   Throughput: %.2f tx/sec\n", float64(processed)/duration.Seconds())
	}
}
