package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(*cobra.Command, []string) error {
		fmt.Printf("Echobase %s\n", AppVersion)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		if key := os.Getenv("GEMINI_API_KEY"); key != "" && len(key) > 8 {
			fmt.Printf("GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
		} else {
			fmt.Println("GEMINI_API_KEY: not set")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
