// Load generator for exercising the Harrier ingestion pipeline.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -files 4 -records 1000
//
// This tool:
//   1. Generates synthetic transaction CSV files with a configurable
//      share of suspicious patterns (large amounts, bursts, keywords)
//   2. Uploads them as one multipart batch to POST /uploads
//   3. Polls GET /uploads/{id} until the job completes
//   4. Prints throughput plus the accepted/rejected/alert breakdown
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// jobStatus mirrors the upload job response shape.
type jobStatus struct {
	ID    string `json:"id"`
	Done  bool   `json:"done"`
	Files []struct {
		Name            string `json:"name"`
		State           string `json:"state"`
		RecordsTotal    int    `json:"recordsTotal"`
		RecordsAccepted int    `json:"recordsAccepted"`
		RecordsRejected int    `json:"recordsRejected"`
		Failure         string `json:"failure,omitempty"`
	} `json:"files"`
	Summary struct {
		RecordsTotal    int `json:"recordsTotal"`
		RecordsAccepted int `json:"recordsAccepted"`
		RecordsRejected int `json:"recordsRejected"`
		AlertsCreated   int `json:"alertsCreated"`
		AlertsUpdated   int `json:"alertsUpdated"`
	} `json:"summary"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	fileCount := flag.Int("files", 4, "Number of CSV files per batch")
	recordCount := flag.Int("records", 1000, "Records per file")
	accounts := flag.Int("accounts", 50, "Distinct sender accounts")
	suspicious := flag.Float64("suspicious", 0.05, "Share of records with suspicious patterns (0.0-1.0)")
	badRate := flag.Float64("bad", 0.01, "Share of malformed records (0.0-1.0)")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible batches")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HARRIER LOADGEN - Ingestion Pipeline               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Files:       %d\n", *fileCount)
	fmt.Printf("Records:     %d per file\n", *recordCount)
	fmt.Printf("Accounts:    %d\n", *accounts)
	fmt.Printf("Suspicious:  %.2f\n", *suspicious)
	fmt.Printf("Bad rows:    %.2f\n", *badRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	rng := rand.New(rand.NewSource(*seed))

	// Build the multipart batch
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i := 0; i < *fileCount; i++ {
		part, err := mw.CreateFormFile("files", fmt.Sprintf("batch-%03d.csv", i))
		if err != nil {
			fmt.Printf("ERROR: failed to build multipart body: %v\n", err)
			os.Exit(1)
		}
		writeSyntheticCSV(part, rng, i, *recordCount, *accounts, *suspicious, *badRate)
	}
	mw.Close()

	fmt.Printf("\nUploading %d files (%d bytes)...\n", *fileCount, body.Len())
	start := time.Now()

	status, err := upload(*baseURL, &body, mw.FormDataContentType())
	if err != nil {
		fmt.Printf("ERROR: upload failed: %v\n", err)
		os.Exit(1)
	}

	status, err = waitForJob(*baseURL, status.ID)
	if err != nil {
		fmt.Printf("ERROR: polling failed: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(start)

	printResults(status, duration)
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

// writeSyntheticCSV emits a header plus n records. A suspicious record
// is either a very large amount, a near-ceiling amount, a high-risk
// keyword description, or part of a burst to one recipient.
func writeSyntheticCSV(w io.Writer, rng *rand.Rand, fileIndex, n, accounts int, suspicious, badRate float64) {
	fmt.Fprintln(w, "id,date,from_account,to_account,amount,description")

	base := time.Now().UTC().AddDate(0, 0, -30)
	descriptions := []string{"invoice payment", "salary", "rent", "consulting fee", "subscription"}
	keywords := []string{"cash withdrawal", "offshore transfer", "crypto purchase", "loan repayment"}

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("f%d-tx-%06d", fileIndex, i)
		date := base.AddDate(0, 0, rng.Intn(30)).Format("2006-01-02")
		from := fmt.Sprintf("acc-%04d", rng.Intn(accounts))
		to := fmt.Sprintf("acc-%04d", accounts+rng.Intn(accounts))

		if rng.Float64() < badRate {
			// Malformed date; the pipeline should reject the row and
			// keep going.
			fmt.Fprintf(w, "%s,not-a-date,%s,%s,100.00,%s\n", id, from, to, descriptions[rng.Intn(len(descriptions))])
			continue
		}

		amount := 50 + rng.Float64()*2000
		description := descriptions[rng.Intn(len(descriptions))]

		if rng.Float64() < suspicious {
			switch rng.Intn(3) {
			case 0:
				amount = 60000 + rng.Float64()*40000
			case 1:
				amount = 48000 + rng.Float64()*1500 // just under the ceiling
			case 2:
				description = keywords[rng.Intn(len(keywords))]
			}
		}

		fmt.Fprintf(w, "%s,%s,%s,%s,%.2f,%s\n", id, date, from, to, amount, description)
	}
}

func upload(baseURL string, body io.Reader, contentType string) (*jobStatus, error) {
	resp, err := http.Post(baseURL+"/uploads", contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func waitForJob(baseURL, jobID string) (*jobStatus, error) {
	for {
		resp, err := http.Get(baseURL + "/uploads/" + jobID)
		if err != nil {
			return nil, err
		}

		var status jobStatus
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if status.Done {
			return &status, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printResults(status *jobStatus, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          RESULTS                              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nJob:       %s\n", status.ID)
	fmt.Printf("Duration:  %s\n", duration.Round(time.Millisecond))

	fmt.Println("\nPer file:")
	for _, f := range status.Files {
		if f.Failure != "" {
			fmt.Printf("  %-16s %-10s %s\n", f.Name, f.State, f.Failure)
			continue
		}
		fmt.Printf("  %-16s %-10s total=%d accepted=%d rejected=%d\n",
			f.Name, f.State, f.RecordsTotal, f.RecordsAccepted, f.RecordsRejected)
	}

	s := status.Summary
	fmt.Println("\nTotals:")
	fmt.Printf("  Records:   %d (accepted %d, rejected %d)\n", s.RecordsTotal, s.RecordsAccepted, s.RecordsRejected)
	fmt.Printf("  Alerts:    %d created, %d merged\n", s.AlertsCreated, s.AlertsUpdated)

	if duration > 0 && s.RecordsTotal > 0 {
		rate := float64(s.RecordsTotal) / duration.Seconds()
		fmt.Printf("  Rate:      %.0f records/sec\n", rate)
	}
	fmt.Println()
}
