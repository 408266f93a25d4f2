package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/strata/internal/cli"
)

const redacted = "********"

var configShowSource bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging defaults, config file,
.env files and environment variables. Passwords are redacted.`,
	Example: `  # Show effective configuration
  strata config show

  # Show configuration with source file path
  strata config show --source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			if configPath != "" {
				fmt.Printf("Config file: %s\n\n", configPath)
			} else {
				fmt.Println("Config file: (none, using defaults)")
				fmt.Println()
			}
		}

		out, err := yaml.Marshal(redactConfig(*cfg))
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show config file source")
	configCmd.AddCommand(configShowCmd)
}

// redactConfig masks the password field and any password in the URL.
func redactConfig(c cli.Config) cli.Config {
	if c.Database.Password != "" {
		c.Database.Password = redacted
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), redacted)
				c.Database.URL = u.String()
			}
		}
	}
	return c
}
