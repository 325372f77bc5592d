package cmd

import (
	"fmt"
	"os"
)

// printVersionInfo displays version and build information.
func printVersionInfo() error {
	fmt.Printf("chatgraph v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)

	if key := os.Getenv("GEMINI_API_KEY"); key != "" && len(key) > 8 {
		fmt.Printf("GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
	} else {
		fmt.Println("GEMINI_API_KEY: not set")
	}
	return nil
}
