package test

import (
	"fmt"
	"strings"
	"time"

	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/server"
	"github.com/lawnchairsociety/questengine/internal/testclient"
)

const noticeTimeout = 2 * time.Second

// =============================================================================
// Helpers
// =============================================================================

// expectOK checks a reply succeeded
func expectOK(f testclient.Frame, err error) error {
	if err != nil {
		return err
	}
	if !f.OK {
		if f.Error != nil {
			return fmt.Errorf("%s failed: %s (%s)", f.Op, f.Error.Code, f.Error.Message)
		}
		return fmt.Errorf("%s failed", f.Op)
	}
	return nil
}

// expectCode checks a reply failed with the given error code
func expectCode(f testclient.Frame, err error, code quest.Code) error {
	if err != nil {
		return err
	}
	if f.OK || f.Error == nil || f.Error.Code != string(code) {
		return fmt.Errorf("%s: expected %s, got ok=%v error=%+v", f.Op, code, f.OK, f.Error)
	}
	return nil
}

// findProgress returns a quest's entry in a progress reply
func findProgress(f testclient.Frame, questID quest.ID) (server.ProgressView, bool) {
	for _, p := range f.Progress {
		if p.Quest == questID {
			return p, true
		}
	}
	return server.ProgressView{}, false
}

// completeWelcome starts and finishes the tutorial quest
func completeWelcome(client *testclient.TestClient) error {
	if err := expectOK(client.Start("welcome")); err != nil {
		return err
	}
	if err := expectOK(client.Event(quest.Interact("elder"))); err != nil {
		return err
	}
	if _, ok := client.WaitForNotice("quest_complete", "welcome", noticeTimeout); !ok {
		return fmt.Errorf("welcome did not complete")
	}
	return nil
}

// completeRatProblem finishes the innkeeper's quest; welcome must be done
func completeRatProblem(client *testclient.TestClient) error {
	if err := expectOK(client.Start("rat_problem")); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := expectOK(client.Event(quest.Kill("rat"))); err != nil {
			return err
		}
	}
	if _, ok := client.WaitForNotice("quest_complete", "rat_problem", noticeTimeout); !ok {
		return fmt.Errorf("rat_problem did not complete")
	}
	return nil
}

// =============================================================================
// Group 1: Connection
// =============================================================================

// TestBasicConnection tests connecting and reading an empty quest log
func TestBasicConnection(serverAddr string) TestResult {
	const testName = "Basic Connection"

	client, err := connect(uniqueName("conn"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	logAction(testName, "Requesting quest log...")
	f, err := client.Progress()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}
	logResult(testName, len(f.Progress) == 0, "New player has an empty quest log")
	if len(f.Progress) != 0 {
		return fail(testName, "Expected empty quest log, got %d entries", len(f.Progress))
	}

	return TestResult{Name: testName, Passed: true, Message: "Connected and read quest log"}
}

// TestMultipleConnections tests that notices reach every connection of a player
func TestMultipleConnections(serverAddr string) TestResult {
	const testName = "Multiple Connections"

	name := uniqueName("multi")
	first, err := connect(name, serverAddr, "")
	if err != nil {
		return fail(testName, "First connection failed: %v", err)
	}
	defer first.Close()
	second, err := connect(name, serverAddr, "")
	if err != nil {
		return fail(testName, "Second connection failed: %v", err)
	}
	defer second.Close()

	// A round trip on the second connection proves it is registered.
	if err := expectOK(second.Progress()); err != nil {
		return fail(testName, "%v", err)
	}

	logAction(testName, "Starting quest on first connection...")
	if err := expectOK(first.Start("welcome")); err != nil {
		return fail(testName, "%v", err)
	}

	_, ok := second.WaitForNotice("quest_started", "welcome", noticeTimeout)
	logResult(testName, ok, "Second connection received quest_started")
	if !ok {
		return fail(testName, "Second connection missed the notice")
	}

	return TestResult{Name: testName, Passed: true, Message: "Notices reach every connection"}
}

// TestLocalizedNotices tests that notices use the connection's locale
func TestLocalizedNotices(serverAddr string) TestResult {
	const testName = "Localized Notices"

	client, err := connect(uniqueName("locale"), serverAddr, "de")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := expectOK(client.Start("welcome")); err != nil {
		return fail(testName, "%v", err)
	}
	n, ok := client.WaitForNotice("quest_started", "welcome", noticeTimeout)
	if !ok {
		return fail(testName, "No quest_started notice")
	}

	localized := strings.Contains(n.Text, "Willkommen")
	logResult(testName, localized, "Notice text is German: "+n.Text)
	if !localized {
		return fail(testName, "Expected German notice, got %q", n.Text)
	}

	return TestResult{Name: testName, Passed: true, Message: "Notices follow the client locale"}
}

// =============================================================================
// Group 2: Quest Lifecycle
// =============================================================================

// TestAvailableQuests tests that only eligible quests are offered
func TestAvailableQuests(serverAddr string) TestResult {
	const testName = "Available Quests"

	client, err := connect(uniqueName("avail"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	f, err := client.Available()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}

	offered := make(map[quest.ID]bool)
	for _, q := range f.Quests {
		offered[q.ID] = true
	}
	logAction(testName, fmt.Sprintf("Offered: %v", offered))

	if !offered["welcome"] || !offered["herb_gathering"] {
		return fail(testName, "Expected starter quests to be offered, got %v", offered)
	}
	if offered["rat_problem"] || offered["lighthouse"] {
		return fail(testName, "Quests with unmet prerequisites were offered: %v", offered)
	}

	return TestResult{Name: testName, Passed: true, Message: "Available list respects prerequisites"}
}

// TestStartQuest tests starting a quest and refusing a second start
func TestStartQuest(serverAddr string) TestResult {
	const testName = "Start Quest"

	client, err := connect(uniqueName("start"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	logAction(testName, "Starting welcome...")
	if err := expectOK(client.Start("welcome")); err != nil {
		return fail(testName, "%v", err)
	}
	if _, ok := client.WaitForNotice("quest_started", "welcome", noticeTimeout); !ok {
		return fail(testName, "No quest_started notice")
	}

	logAction(testName, "Starting welcome again...")
	f, err := client.Start("welcome")
	if err := expectCode(f, err, quest.CodeAlreadyStarted); err != nil {
		return fail(testName, "%v", err)
	}

	f, err = client.Progress()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}
	p, ok := findProgress(f, "welcome")
	if !ok || p.Status != quest.StatusInProgress || p.Percent != 0 {
		return fail(testName, "Unexpected progress: %+v", p)
	}

	return TestResult{Name: testName, Passed: true, Message: "Quest started once"}
}

// TestCompleteQuest tests finishing a quest and its notices
func TestCompleteQuest(serverAddr string) TestResult {
	const testName = "Complete Quest"

	client, err := connect(uniqueName("complete"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := completeWelcome(client); err != nil {
		return fail(testName, "%v", err)
	}
	if !client.HasNotice("objective_complete", "welcome") {
		return fail(testName, "No objective_complete notice")
	}

	f, err := client.Progress()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}
	p, ok := findProgress(f, "welcome")
	logResult(testName, ok && p.Status == quest.StatusCompleted, fmt.Sprintf("Progress: %+v", p))
	if !ok || p.Status != quest.StatusCompleted || p.Percent != 100 {
		return fail(testName, "Expected completed quest, got %+v", p)
	}

	return TestResult{Name: testName, Passed: true, Message: "Quest completed with notices"}
}

// TestAbandonQuest tests abandoning and restarting a quest
func TestAbandonQuest(serverAddr string) TestResult {
	const testName = "Abandon Quest"

	client, err := connect(uniqueName("abandon"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := expectOK(client.Start("wheat_harvest")); err != nil {
		return fail(testName, "%v", err)
	}
	if err := expectOK(client.Event(quest.HarvestCrop("wheat", 4))); err != nil {
		return fail(testName, "%v", err)
	}

	logAction(testName, "Abandoning wheat_harvest...")
	if err := expectOK(client.Abandon("wheat_harvest")); err != nil {
		return fail(testName, "%v", err)
	}
	f, err := client.Abandon("wheat_harvest")
	if err := expectCode(f, err, quest.CodeNotInProgress); err != nil {
		return fail(testName, "%v", err)
	}

	// Harvesting after abandoning counts for nothing.
	if err := expectOK(client.Event(quest.HarvestCrop("wheat", 4))); err != nil {
		return fail(testName, "%v", err)
	}

	logAction(testName, "Restarting wheat_harvest...")
	if err := expectOK(client.Start("wheat_harvest")); err != nil {
		return fail(testName, "Restart after abandon: %v", err)
	}
	f, err = client.Progress()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}
	p, ok := findProgress(f, "wheat_harvest")
	if !ok || p.Status != quest.StatusInProgress || p.Objectives[0].Current != 0 {
		return fail(testName, "Restarted quest should begin from zero, got %+v", p)
	}

	return TestResult{Name: testName, Passed: true, Message: "Abandoned quest restarts from zero"}
}

// TestUnknownQuest tests errors for quests that do not exist
func TestUnknownQuest(serverAddr string) TestResult {
	const testName = "Unknown Quest"

	client, err := connect(uniqueName("unknown"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	f, err := client.Start("no_such_quest")
	if err := expectCode(f, err, quest.CodeUnknownQuest); err != nil {
		return fail(testName, "%v", err)
	}
	f, err = client.Eligible("no_such_quest")
	if err := expectCode(f, err, quest.CodeUnknownQuest); err != nil {
		return fail(testName, "%v", err)
	}

	return TestResult{Name: testName, Passed: true, Message: "Unknown quests are rejected"}
}

// =============================================================================
// Group 3: Objectives & Gating
// =============================================================================

// TestKillCount tests kill objectives count only matching mobs
func TestKillCount(serverAddr string) TestResult {
	const testName = "Kill Count"

	client, err := connect(uniqueName("kills"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := completeWelcome(client); err != nil {
		return fail(testName, "%v", err)
	}
	if err := expectOK(client.Start("rat_problem")); err != nil {
		return fail(testName, "%v", err)
	}

	logAction(testName, "Killing a wolf and two rats...")
	for _, mob := range []string{"wolf", "rat", "rat"} {
		if err := expectOK(client.Event(quest.Kill(mob))); err != nil {
			return fail(testName, "%v", err)
		}
	}

	f, err := client.Progress()
	if err := expectOK(f, err); err != nil {
		return fail(testName, "%v", err)
	}
	p, ok := findProgress(f, "rat_problem")
	if !ok {
		return fail(testName, "rat_problem missing from quest log")
	}
	logResult(testName, p.Percent == 66, fmt.Sprintf("Progress: %d%%", p.Percent))
	if p.Status != quest.StatusInProgress || p.Objectives[0].Current != 2 || p.Percent != 66 {
		return fail(testName, "Expected 2/3 rats, got %+v", p)
	}

	if err := expectOK(client.Event(quest.Kill("rat"))); err != nil {
		return fail(testName, "%v", err)
	}
	if _, ok := client.WaitForNotice("quest_complete", "rat_problem", noticeTimeout); !ok {
		return fail(testName, "Quest did not complete on the third rat")
	}

	return TestResult{Name: testName, Passed: true, Message: "Only matching kills count"}
}

// TestSequentialObjectives tests that ordered objectives wait their turn
func TestSequentialObjectives(serverAddr string) TestResult {
	const testName = "Sequential Objectives"

	client, err := connect(uniqueName("seq"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := expectOK(client.Start("herb_gathering")); err != nil {
		return fail(testName, "%v", err)
	}

	herbs := map[string]int{"herb": 3}
	logAction(testName, "Delivering before gathering...")
	if err := expectOK(client.Event(quest.Deliver("healer", herbs))); err != nil {
		return fail(testName, "%v", err)
	}
	if client.HasNotice("objective_complete", "herb_gathering") {
		return fail(testName, "Delivery counted before herbs were gathered")
	}

	if err := expectOK(client.Event(quest.Collect("herb", 3))); err != nil {
		return fail(testName, "%v", err)
	}
	if err := expectOK(client.Event(quest.Deliver("healer", herbs))); err != nil {
		return fail(testName, "%v", err)
	}
	_, ok := client.WaitForNotice("quest_complete", "herb_gathering", noticeTimeout)
	logResult(testName, ok, "Quest completed after ordered objectives")
	if !ok {
		return fail(testName, "Quest did not complete")
	}

	return TestResult{Name: testName, Passed: true, Message: "Objectives progress in order"}
}

// TestPrerequisites tests that a quest unlocks when its prerequisite completes
func TestPrerequisites(serverAddr string) TestResult {
	const testName = "Prerequisites"

	client, err := connect(uniqueName("prereq"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	f, err := client.Eligible("rat_problem")
	if err := expectCode(f, err, quest.CodeNotEligible); err != nil {
		return fail(testName, "Before welcome: %v", err)
	}
	f, err = client.Start("rat_problem")
	if err := expectCode(f, err, quest.CodeNotEligible); err != nil {
		return fail(testName, "Start before welcome: %v", err)
	}

	if err := completeWelcome(client); err != nil {
		return fail(testName, "%v", err)
	}

	logAction(testName, "Checking rat_problem after welcome...")
	if err := expectOK(client.Eligible("rat_problem")); err != nil {
		return fail(testName, "After welcome: %v", err)
	}

	return TestResult{Name: testName, Passed: true, Message: "Completing a prerequisite unlocks the quest"}
}

// TestLevelGate tests that a minimum level blocks a quest whose prerequisites are met
func TestLevelGate(serverAddr string) TestResult {
	const testName = "Level Gate"

	client, err := connect(uniqueName("level"), serverAddr, "")
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	if err := completeWelcome(client); err != nil {
		return fail(testName, "%v", err)
	}
	if err := completeRatProblem(client); err != nil {
		return fail(testName, "%v", err)
	}

	// 110 experience is still level 1; the lighthouse needs level 3.
	f, err := client.Eligible("lighthouse")
	if err := expectCode(f, err, quest.CodeNotEligible); err != nil {
		return fail(testName, "%v", err)
	}

	return TestResult{Name: testName, Passed: true, Message: "Low-level players cannot start gated quests"}
}
