package main

import (
	"log"
	"os"
	"time"

	"shopping-assistant/internal/apiclient"
	"shopping-assistant/internal/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverAddr string
	timeout    time.Duration
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "shopctl",
		Short: "Talk to the shopping assistant and run checkouts from the terminal",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				if err := util.InitLogger("development", "shopctl"); err != nil {
					log.Fatalf("Failed to initialize logger: %v", err)
				}
				return
			}
			util.SetLogger(zap.NewNop())
		},
	}
)

func init() {
	defaultServer := os.Getenv("SHOPCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer, "assistant server address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log flow progress")

	rootCmd.AddCommand(chatCmd, checkoutCmd)
}

func newClient() (*apiclient.Client, error) {
	return apiclient.NewClient(serverAddr, timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
