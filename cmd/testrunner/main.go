package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/server"
	"github.com/lawnchairsociety/questengine/test"
)

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "Quest gateway address")
	filter := flag.String("run", "", "Only run scenarios whose name contains this text")
	list := flag.Bool("list", false, "List scenario names and exit")
	verbose := flag.Bool("v", false, "Verbose output - show detailed actions for each test")
	flag.Parse()

	if *list {
		fmt.Println(strings.Join(test.GetTestNames(), "\n"))
		return
	}

	// Sign tokens when the gateway requires them
	if secret := os.Getenv("QUEST_AUTH_JWT_SECRET"); secret != "" {
		auth := server.NewAuthenticator(config.AuthConfig{JWTSecret: secret, Issuer: os.Getenv("QUEST_AUTH_ISSUER")})
		test.Token = func(playerID string) (string, error) {
			return auth.IssueToken(playerID, 10*time.Minute)
		}
	}

	// Set verbose mode
	test.Verbose = *verbose

	fmt.Printf("Running integration tests against %s\n", *serverAddr)
	fmt.Println("Make sure questd is running with the content in data/quests!")
	if *verbose {
		fmt.Println("Verbose mode enabled - showing detailed test actions")
	}
	fmt.Println()

	var results []test.TestResult
	if *filter != "" {
		results = test.RunFilteredTests(*serverAddr, *filter)
	} else {
		results = test.RunAllTests(*serverAddr)
	}
	test.PrintResults(results)

	// Exit with error code if any tests failed
	for _, result := range results {
		if !result.Passed {
			os.Exit(1)
		}
	}
}
