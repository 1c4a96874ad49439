package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/version"
)

// Process exit codes. Scripts branch on these, so they are part of the CLI
// contract.
const (
	exitOK          = 0
	exitUsage       = 1
	exitConfig      = 2
	exitUnavailable = 3
	exitFailed      = 4
)

var rootCmd = &cobra.Command{
	Use:     "ai-hub",
	Short:   "Run the AI Hub",
	Long:    "AI Hub orchestrates ML training jobs, HPO studies, the model registry and the feature store of the EMS suite.",
	Version: fmt.Sprintf("gitVersion=%s, gitCommit=%s", version.GitVersion, version.GitCommit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitUsage)
	}
}

// exitCodeFor maps the error taxonomy onto process exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return exitUsage
	case errs.KindConfig:
		return exitConfig
	case errs.KindUnavailable:
		return exitUnavailable
	}
	return exitFailed
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportFeaturesCmd)
}
