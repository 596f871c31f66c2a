//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier ingestion pipeline.
//
// These tests verify the COMPLETE pipeline against a running server:
//
//	Upload → Parse → Normalize → Score → Persist → Alert → Lifecycle → Export
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. UPLOAD: A multipart batch of transaction files (CSV, JSON or XLSX).
//    Accepted with HTTP 202 and processed asynchronously as a job.
//
// 2. SCORING: Each record is annotated with a risk score (0.0 to 10.0)
//    and a set of flags naming the patterns that fired:
//   - large_amount             amount above the ceiling
//   - pattern_threshold_avoidance  amounts just under the ceiling
//   - high_risk_keywords       suspicious description terms
//   - high_frequency           burst of transfers from one account
//   - recipient_pattern        fan-in of round amounts to one receiver
//
// 3. ALERT: Flagged transactions roll up into alerts keyed by
//    (account, type). Re-scoring the same pattern merges into the open
//    alert instead of creating a duplicate.
//
// 4. LIFECYCLE: active → investigating → resolved, with dismissal from
//    active and reopening from investigating. Terminal states reject
//    further transitions with HTTP 409.
//
// The server must be running with a clean store; tests use unique
// account and transaction IDs so reruns do not collide.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// uniq makes IDs unique per test run so reruns against the same store
// do not merge into stale alerts.
func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ============================================================================
// API Request/Response Types (matching Harrier's API contract)
// ============================================================================

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
		RecordsAccepted int `json:"recordsAccepted"`
		AlertsCreated   int `json:"alertsCreated"`
		AlertsUpdated   int `json:"alertsUpdated"`
	} `json:"summary"`
}

type transaction struct {
	ID        string   `json:"id"`
	RiskScore float64  `json:"riskScore"`
	Status    string   `json:"status"`
	Flags     []string `json:"flags"`
}

type alert struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Account  string   `json:"accountId"`
	Severity string   `json:"severity"`
	Status   string   `json:"status"`
	TxRefs   []string `json:"txRefs"`
}

type alertList struct {
	Alerts []alert `json:"alerts"`
	Count  int     `json:"count"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var client = &http.Client{Timeout: 10 * time.Second}

func uploadCSV(t *testing.T, config TestConfig, name, content string) jobStatus {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", name)
	if err != nil {
		t.Fatalf("Failed to build multipart body: %v", err)
	}
	io.WriteString(part, content)
	mw.Close()

	resp, err := client.Post(config.BaseURL+"/uploads", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", resp.StatusCode, respBody)
	}

	var status jobStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		t.Fatalf("Failed to unmarshal job status: %v (body: %s)", err, respBody)
	}
	return status
}

func waitForJob(t *testing.T, config TestConfig, jobID string) jobStatus {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status jobStatus
		getJSON(t, config, "/uploads/"+jobID, &status)
		if status.Done {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Job %s did not complete within 10s", jobID)
	return jobStatus{}
}

func getJSON(t *testing.T, config TestConfig, path string, out any) {
	t.Helper()

	resp, err := client.Get(config.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected status 200, got %d: %s", path, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		t.Fatalf("GET %s: failed to unmarshal: %v (body: %s)", path, err, respBody)
	}
}

func transition(t *testing.T, config TestConfig, alertID, status string) *http.Response {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"status": status})
	resp, err := client.Post(config.BaseURL+"/alerts/"+alertID+"/transition",
		"application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Transition request failed: %v", err)
	}
	return resp
}

// ============================================================================
// SCENARIO 1: Clean File (No Alerts)
// ============================================================================

func TestCleanFile_NoAlerts(t *testing.T) {
	/*
	   SCENARIO: A file of ordinary small transfers between distinct parties

	   EXPECTED BEHAVIOR:
	   - All records accepted, none rejected
	   - Risk scores stay low, status "normal"
	   - No alerts are created
	*/
	config := getTestConfig()
	from := uniq("acc-clean")

	var sb strings.Builder
	sb.WriteString("id,date,from_account,to_account,amount,description\n")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&sb, "%s,2026-08-%02d,%s,%s,%d.00,groceries\n",
			uniq("tx-clean"), 10+i*3, from, uniq("acc-shop"), 40+i*10)
	}

	job := uploadCSV(t, config, "clean.csv", sb.String())
	result := waitForJob(t, config, job.ID)

	if result.Summary.RecordsAccepted != 3 {
		t.Errorf("Expected 3 accepted records, got %d", result.Summary.RecordsAccepted)
	}
	if result.Summary.AlertsCreated != 0 {
		t.Errorf("Expected no alerts for clean file, got %d", result.Summary.AlertsCreated)
	}
	for _, f := range result.Files {
		if f.State != "completed" {
			t.Errorf("File %s: expected state completed, got %s (%s)", f.Name, f.State, f.Failure)
		}
	}

	t.Logf("✓ Clean file processed: accepted=%d, alerts=%d",
		result.Summary.RecordsAccepted, result.Summary.AlertsCreated)
}

// ============================================================================
// SCENARIO 2: Large Amount Triggers Scoring and an Alert
// ============================================================================

func TestLargeAmount_ScoredAndAlerted(t *testing.T) {
	/*
	   SCENARIO: A single $75,000 transfer, well above the $50,000 ceiling

	   EXPECTED BEHAVIOR:
	   - Record accepted and persisted with the large_amount flag
	   - Risk score high enough for "flagged" or "suspicious" status
	   - One unusual_amount alert created for the sending account
	*/
	config := getTestConfig()
	txID := uniq("tx-large")
	from := uniq("acc-large")

	csv := "id,date,from_account,to_account,amount,description\n" +
		fmt.Sprintf("%s,2026-08-20,%s,%s,75000.00,equipment purchase\n", txID, from, uniq("acc-vendor"))

	job := uploadCSV(t, config, "large.csv", csv)
	result := waitForJob(t, config, job.ID)

	if result.Summary.AlertsCreated != 1 {
		t.Fatalf("Expected 1 alert created, got %d", result.Summary.AlertsCreated)
	}

	var tx transaction
	getJSON(t, config, "/transactions/"+txID, &tx)

	hasFlag := false
	for _, f := range tx.Flags {
		if f == "large_amount" {
			hasFlag = true
		}
	}
	if !hasFlag {
		t.Errorf("Expected large_amount flag, got %v", tx.Flags)
	}
	if tx.RiskScore <= 0 {
		t.Errorf("Expected positive risk score, got %.2f", tx.RiskScore)
	}

	var alerts alertList
	getJSON(t, config, "/alerts?account="+from+"&open=true", &alerts)
	if alerts.Count != 1 {
		t.Fatalf("Expected 1 open alert for %s, got %d", from, alerts.Count)
	}
	al := alerts.Alerts[0]
	if al.Type != "amount" {
		t.Errorf("Expected amount alert, got %s", al.Type)
	}
	if len(al.TxRefs) != 1 || al.TxRefs[0] != txID {
		t.Errorf("Expected alert to reference %s, got %v", txID, al.TxRefs)
	}

	t.Logf("✓ Large amount alerted: score=%.2f, flags=%v, alert=%s/%s",
		tx.RiskScore, tx.Flags, al.Type, al.Severity)
}

// ============================================================================
// SCENARIO 3: Re-upload Merges Into the Open Alert
// ============================================================================

func TestReupload_MergesIntoOpenAlert(t *testing.T) {
	/*
	   SCENARIO: Two uploads flag the same account for the same pattern

	   EXPECTED BEHAVIOR:
	   - First upload creates an alert
	   - Second upload merges into it (alertsUpdated, not alertsCreated)
	   - The open alert references both transactions
	*/
	config := getTestConfig()
	from := uniq("acc-merge")
	tx1 := uniq("tx-merge-a")
	tx2 := uniq("tx-merge-b")

	header := "id,date,from_account,to_account,amount,description\n"

	job1 := uploadCSV(t, config, "merge-1.csv",
		header+fmt.Sprintf("%s,2026-08-20,%s,%s,80000.00,wire out\n", tx1, from, uniq("acc-x")))
	r1 := waitForJob(t, config, job1.ID)
	if r1.Summary.AlertsCreated != 1 {
		t.Fatalf("Expected first upload to create 1 alert, got %d", r1.Summary.AlertsCreated)
	}

	job2 := uploadCSV(t, config, "merge-2.csv",
		header+fmt.Sprintf("%s,2026-08-21,%s,%s,90000.00,wire out\n", tx2, from, uniq("acc-y")))
	r2 := waitForJob(t, config, job2.ID)
	if r2.Summary.AlertsCreated != 0 || r2.Summary.AlertsUpdated != 1 {
		t.Fatalf("Expected second upload to merge (created=0, updated=1), got created=%d updated=%d",
			r2.Summary.AlertsCreated, r2.Summary.AlertsUpdated)
	}

	var alerts alertList
	getJSON(t, config, "/alerts?account="+from+"&open=true", &alerts)
	if alerts.Count != 1 {
		t.Fatalf("Expected exactly 1 open alert after merge, got %d", alerts.Count)
	}
	if len(alerts.Alerts[0].TxRefs) != 2 {
		t.Errorf("Expected merged alert to reference 2 transactions, got %v", alerts.Alerts[0].TxRefs)
	}

	t.Logf("✓ Re-upload merged: alert=%s, refs=%v", alerts.Alerts[0].ID, alerts.Alerts[0].TxRefs)
}

// ============================================================================
// SCENARIO 4: Alert Lifecycle
// ============================================================================

func TestAlertLifecycle(t *testing.T) {
	/*
	   SCENARIO: Walk an alert through active → investigating → resolved,
	   then verify the terminal state rejects further transitions.

	   EXPECTED BEHAVIOR:
	   - active → investigating: 200
	   - investigating → resolved: 200
	   - resolved → active: 409 Conflict with current/requested in the body
	*/
	config := getTestConfig()
	from := uniq("acc-life")

	csv := "id,date,from_account,to_account,amount,description\n" +
		fmt.Sprintf("%s,2026-08-22,%s,%s,95000.00,transfer\n", uniq("tx-life"), from, uniq("acc-z"))
	job := uploadCSV(t, config, "lifecycle.csv", csv)
	waitForJob(t, config, job.ID)

	var alerts alertList
	getJSON(t, config, "/alerts?account="+from+"&open=true", &alerts)
	if alerts.Count != 1 {
		t.Fatalf("Expected 1 open alert to exercise, got %d", alerts.Count)
	}
	alertID := alerts.Alerts[0].ID

	for _, next := range []string{"investigating", "resolved"} {
		resp := transition(t, config, alertID, next)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Transition to %s: expected 200, got %d: %s", next, resp.StatusCode, body)
		}
	}

	resp := transition(t, config, alertID, "active")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 reopening a resolved alert, got %d: %s", resp.StatusCode, body)
	}

	var conflict struct {
		Current   string `json:"current"`
		Requested string `json:"requested"`
	}
	if err := json.Unmarshal(body, &conflict); err != nil {
		t.Fatalf("Failed to unmarshal conflict body: %v (%s)", err, body)
	}
	if conflict.Current != "resolved" || conflict.Requested != "active" {
		t.Errorf("Expected current=resolved requested=active, got %+v", conflict)
	}

	t.Logf("✓ Lifecycle enforced: %s resolved, terminal state locked", alertID)
}

// ============================================================================
// SCENARIO 5: Malformed Rows Are Rejected, the File Still Completes
// ============================================================================

func TestMalformedRows_PartialAcceptance(t *testing.T) {
	/*
	   SCENARIO: A file mixing valid records with unparseable dates

	   EXPECTED BEHAVIOR:
	   - Valid records accepted, bad records counted as rejected
	   - File completes (at least one survivor) rather than failing
	*/
	config := getTestConfig()
	from := uniq("acc-mixed")

	var sb strings.Builder
	sb.WriteString("id,date,from_account,to_account,amount,description\n")
	fmt.Fprintf(&sb, "%s,2026-08-15,%s,%s,120.00,rent\n", uniq("tx-ok"), from, uniq("acc-a"))
	fmt.Fprintf(&sb, "%s,not-a-date,%s,%s,130.00,rent\n", uniq("tx-bad"), from, uniq("acc-b"))
	fmt.Fprintf(&sb, "%s,2026-08-16,%s,%s,140.00,rent\n", uniq("tx-ok2"), from, uniq("acc-c"))

	job := uploadCSV(t, config, "mixed.csv", sb.String())
	result := waitForJob(t, config, job.ID)

	f := result.Files[0]
	if f.State != "completed" {
		t.Fatalf("Expected completed file, got %s (%s)", f.State, f.Failure)
	}
	if f.RecordsAccepted != 2 || f.RecordsRejected != 1 {
		t.Errorf("Expected 2 accepted / 1 rejected, got %d/%d", f.RecordsAccepted, f.RecordsRejected)
	}

	t.Logf("✓ Partial acceptance: total=%d accepted=%d rejected=%d",
		f.RecordsTotal, f.RecordsAccepted, f.RecordsRejected)
}

// ============================================================================
// SCENARIO 6: Export Includes Scored Transactions
// ============================================================================

func TestExport_ContainsScoredTransaction(t *testing.T) {
	/*
	   SCENARIO: Upload a transaction, then download the CSV export

	   EXPECTED BEHAVIOR:
	   - Export is served as text/csv with an attachment disposition
	   - The uploaded transaction ID appears in the export body
	*/
	config := getTestConfig()
	txID := uniq("tx-export")

	csv := "id,date,from_account,to_account,amount,description\n" +
		fmt.Sprintf("%s,2026-08-23,%s,%s,250.00,office supplies\n", txID, uniq("acc-e"), uniq("acc-f"))
	job := uploadCSV(t, config, "export.csv", csv)
	waitForJob(t, config, job.ID)

	resp, err := client.Get(config.BaseURL + "/transactions/export")
	if err != nil {
		t.Fatalf("Export request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from export, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv content type, got %s", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), txID) {
		t.Errorf("Export does not contain uploaded transaction %s", txID)
	}

	t.Logf("✓ Export served %d bytes including %s", len(body), txID)
}

// ============================================================================
// SCENARIO 7: Health and Readiness
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	config := getTestConfig()

	for _, path := range []string{"/health", "/ready"} {
		resp, err := client.Get(config.BaseURL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	t.Logf("✓ Health endpoints responding")
}
