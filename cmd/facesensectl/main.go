package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"facesense/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "facesensectl",
	Short: "Administer the FaceSense attendance service",
	Long: `facesensectl enrolls faces in bulk, trains the face model and manages
the campus boundary against the same stores the API uses.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(enrollCmd, trainCmd, campusCmd)
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
}

func loadConfig() config.App { return config.Load() }
