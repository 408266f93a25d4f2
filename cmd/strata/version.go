package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pthm/strata/internal/update"
	"github.com/pthm/strata/internal/version"
)

var (
	versionShort bool
	versionCheck bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information.

With --check, also ask GitHub whether a newer release exists. The answer is
cached for a day under $XDG_CACHE_HOME/strata.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if versionShort {
			_, _ = fmt.Fprintln(out, version.Short())
		} else {
			_, _ = fmt.Fprintln(out, version.Info())
		}
		if !versionCheck {
			return nil
		}

		checker, err := update.NewChecker()
		if err != nil {
			return err
		}
		info, err := checker.Check(cmd.Context(), version.Version)
		if err != nil {
			// Offline or rate limited; not worth failing the command over.
			logger.Warn("update check failed", zap.Error(err))
			return nil
		}
		if info.UpdateAvailable {
			_, _ = fmt.Fprintf(out, "A newer release is available: %s (you have %s)\n", info.LatestVersion, version.Short())
			if info.ReleaseURL != "" {
				_, _ = fmt.Fprintf(out, "  %s\n", info.ReleaseURL)
			}
		} else {
			_, _ = fmt.Fprintln(out, "strata is up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}
