// questcheck validates quest content before it is deployed: definitions
// must build, prerequisites must exist and not form cycles, and every
// locale should carry the text each quest needs.
//
// Usage:
//
//	go run ./cmd/questcheck -quests data/quests -text data/text
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
	"github.com/lawnchairsociety/questengine/internal/text"
)

// noticeKeys are the gateway notice templates the default locale must have.
var noticeKeys = []string{
	"notice.quest_started",
	"notice.objective_complete",
	"notice.quest_complete",
	"notice.reward_deferred",
}

// report counts problems found by a check.
type report struct {
	errors   int
	warnings int
}

func main() {
	questsDir := flag.String("quests", "data/quests", "Path to quest definitions directory")
	textDir := flag.String("text", "data/text", "Path to text catalogs directory")
	defaultLocale := flag.String("locale", "en", "Default text locale")
	strict := flag.Bool("strict", false, "Treat missing text as an error")
	flag.Parse()

	logger.InitializeWriter(os.Stderr, "text", "WARN")

	r, err := check(os.Stdout, *questsDir, *textDir, *defaultLocale)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	fmt.Printf("\n%d error(s), %d warning(s)\n", r.errors, r.warnings)
	if r.errors > 0 || (*strict && r.warnings > 0) {
		os.Exit(1)
	}
}

func check(w io.Writer, questsDir, textDir, defaultLocale string) (report, error) {
	var r report

	qc, err := quest.LoadQuestsFromDirectory(questsDir)
	if err != nil {
		return r, err
	}
	defs, errs := qc.Build()
	for _, err := range errs {
		fmt.Fprintf(w, "ERROR %v\n", err)
		r.errors++
	}
	fmt.Fprintf(w, "Built %d of %d quests\n", len(defs), len(qc.Quests))

	byID := make(map[quest.ID]*quest.Definition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	for _, def := range defs {
		for _, prereq := range def.Prereqs {
			if _, ok := byID[prereq]; !ok {
				fmt.Fprintf(w, "ERROR quest %s: unknown prerequisite %s\n", def.ID, prereq)
				r.errors++
			}
		}
	}
	for _, cycle := range prereqCycles(byID) {
		fmt.Fprintf(w, "ERROR prerequisite cycle: %v\n", cycle)
		r.errors++
	}

	resolver, err := text.LoadDirectory(textDir, defaultLocale)
	if err != nil {
		return r, err
	}
	for _, key := range noticeKeys {
		if !resolver.Has(key, defaultLocale) {
			fmt.Fprintf(w, "WARN  %s: missing %s\n", defaultLocale, key)
			r.warnings++
		}
	}
	for _, locale := range resolver.Locales() {
		for _, def := range defs {
			for _, key := range resolver.MissingKeys(def, locale) {
				fmt.Fprintf(w, "WARN  %s: missing %s\n", locale, key)
				r.warnings++
			}
		}
	}
	return r, nil
}

// prereqCycles returns each prerequisite cycle once, as the quest IDs along
// it starting from the smallest.
func prereqCycles(defs map[quest.ID]*quest.Definition) [][]quest.ID {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[quest.ID]int, len(defs))
	var stack []quest.ID
	var cycles [][]quest.ID

	var visit func(id quest.ID)
	visit = func(id quest.ID) {
		state[id] = visiting
		stack = append(stack, id)
		for _, next := range defs[id].Prereqs {
			if _, ok := defs[next]; !ok {
				continue
			}
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycles = append(cycles, rotate(append([]quest.ID(nil), stack[i:]...)))
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	ids := make([]quest.ID, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}

// rotate starts a cycle at its smallest ID.
func rotate(cycle []quest.ID) []quest.ID {
	start := 0
	for i, id := range cycle {
		if id < cycle[start] {
			start = i
		}
	}
	return append(cycle[start:], cycle[:start]...)
}
