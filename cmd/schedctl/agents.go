package main

import (
	"fmt"
	"os"

	"github.com/metorial/agentsched/internal/cli"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
}

var listAgentsCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).ListAgents()
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatAgentsTable(os.Stdout, d)
		})
	},
}

var getAgentCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).GetAgent(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatAgentDetail(os.Stdout, d)
		})
	},
}

var addAgentCmd = &cobra.Command{
	Use:   "add [host[:port]]",
	Short: "Register an agent by address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).AddAgent(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Registered agent %v (%v)\n", d["hostname"], d["id"])
			return nil
		})
	},
}

var removeAgentCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove an agent with its tasks and executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).RemoveAgent(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Println(d["message"])
			return nil
		})
	},
}

var pingAgentCmd = &cobra.Command{
	Use:   "ping [id]",
	Short: "Check an agent's liveness and record the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).PingAgent(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Status: %v\n", d["status"])
			return nil
		})
	},
}

var agentScriptsCmd = &cobra.Command{
	Use:   "scripts [id]",
	Short: "List the scripts stored on an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).AgentScripts(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatScriptsTable(os.Stdout, d)
		})
	},
}

func init() {
	agentsCmd.AddCommand(listAgentsCmd)
	agentsCmd.AddCommand(getAgentCmd)
	agentsCmd.AddCommand(addAgentCmd)
	agentsCmd.AddCommand(removeAgentCmd)
	agentsCmd.AddCommand(pingAgentCmd)
	agentsCmd.AddCommand(agentScriptsCmd)
}
