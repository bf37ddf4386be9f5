package main

import (
	"fmt"
	"os"

	"github.com/metorial/agentsched/internal/cli"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "schedctl",
	Short: "CLI for the agent task scheduler",
	Long: `schedctl is a command-line interface for the task scheduler controller.

It registers agents, defines and runs tasks, shows upcoming scheduled runs and
inspects the execution history.`,
	SilenceUsage: true,
}

// render prints data as JSON when --json is set, otherwise with table.
func render(data map[string]interface{}, table func(map[string]interface{}) error) error {
	if outputJSON {
		return cli.FormatJSON(os.Stdout, data)
	}
	return table(data)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check controller health",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).Health()
		if err != nil {
			return err
		}

		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Status: %v\n", d["status"])
			fmt.Printf("Database: %v\n", d["database"])
			return nil
		})
	},
}

func init() {
	defaultServerURL := os.Getenv("CONTROLLER_URL")
	if defaultServerURL == "" {
		defaultServerURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServerURL, "Controller server URL")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(scriptsCmd)
}
