// Package test holds end-to-end scenarios run against a live quest gateway
// serving the content in data/quests.
package test

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/questengine/internal/testclient"
)

// uniqueCounter provides unique IDs for test players within a single run
var uniqueCounter uint64

// runID keeps player IDs from colliding with earlier runs against the same
// persistent store.
var runID = uuid.NewString()[:8]

// uniqueName generates a unique player ID for a test
func uniqueName(base string) string {
	counter := atomic.AddUint64(&uniqueCounter, 1)
	return fmt.Sprintf("%s-%s-%d", base, runID, counter)
}

// Verbose controls whether detailed logging is shown during tests
var Verbose = false

// Token, when set, returns a signed token for a player. Used against
// gateways that require JWT authentication.
var Token func(playerID string) (string, error)

// TestResult represents the result of a test
type TestResult struct {
	Name    string
	Passed  bool
	Message string
}

// logAction logs a test action when verbose mode is enabled
func logAction(testName, action string) {
	if Verbose {
		fmt.Printf("  [%s] %s\n", testName, action)
	}
}

// logResult logs an expected vs actual result when verbose mode is enabled
func logResult(testName string, success bool, detail string) {
	if Verbose {
		status := "OK"
		if !success {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", testName, status, detail)
	}
}

// connect opens a client for a new or existing player.
func connect(playerID, serverAddr, locale string) (*testclient.TestClient, error) {
	opts := testclient.Options{Locale: locale}
	if Token != nil {
		token, err := Token(playerID)
		if err != nil {
			return nil, err
		}
		opts.Token = token
	}
	return testclient.NewTestClient(playerID, serverAddr, opts)
}

// fail builds a failed result.
func fail(testName, format string, args ...any) TestResult {
	return TestResult{Name: testName, Passed: false, Message: fmt.Sprintf(format, args...)}
}

// RunAllTests runs every scenario in order
func RunAllTests(serverAddr string) []TestResult {
	results := make([]TestResult, 0)
	for _, t := range getAllTests() {
		results = append(results, t.Func(serverAddr))
	}
	return results
}

// testEntry holds a test function and its name
type testEntry struct {
	Name string
	Func func(string) TestResult
}

// getAllTests returns all test entries in order
func getAllTests() []testEntry {
	return []testEntry{
		// Group 1: Connection
		{"Basic Connection", TestBasicConnection},
		{"Multiple Connections", TestMultipleConnections},
		{"Localized Notices", TestLocalizedNotices},

		// Group 2: Quest Lifecycle
		{"Available Quests", TestAvailableQuests},
		{"Start Quest", TestStartQuest},
		{"Complete Quest", TestCompleteQuest},
		{"Abandon Quest", TestAbandonQuest},
		{"Unknown Quest", TestUnknownQuest},

		// Group 3: Objectives & Gating
		{"Kill Count", TestKillCount},
		{"Sequential Objectives", TestSequentialObjectives},
		{"Prerequisites", TestPrerequisites},
		{"Level Gate", TestLevelGate},
	}
}

// GetTestNames returns the names of all available tests
func GetTestNames() []string {
	tests := getAllTests()
	names := make([]string, len(tests))
	for i, t := range tests {
		names[i] = t.Name
	}
	return names
}

// RunFilteredTests runs only tests whose names contain the filter string (case-insensitive)
func RunFilteredTests(serverAddr string, filter string) []TestResult {
	results := make([]TestResult, 0)
	filterLower := strings.ToLower(filter)

	for _, t := range getAllTests() {
		if strings.Contains(strings.ToLower(t.Name), filterLower) {
			results = append(results, t.Func(serverAddr))
		}
	}

	return results
}

// PrintResults prints all test results in a formatted way
func PrintResults(results []TestResult) {
	passed := 0
	failed := 0

	fmt.Println("============================================================")
	fmt.Println("Integration Test Results")
	fmt.Println("============================================================")
	fmt.Println()

	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			failed++
		} else {
			passed++
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Name, r.Message)
	}

	fmt.Println()
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Total: %d | Passed: %d | Failed: %d\n", len(results), passed, failed)
	fmt.Println("------------------------------------------------------------")
}
