package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metorial/agentsched/internal/cli"
	"github.com/spf13/cobra"
)

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"logs"},
	Short:   "Inspect execution history",
}

var listExecutionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetString("task")
		limit, _ := cmd.Flags().GetInt("limit")

		data, err := cli.NewClient(serverURL).ListExecutions(taskID, limit)
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatExecutionsTable(os.Stdout, d)
		})
	},
}

var getExecutionCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show an execution with its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).GetExecution(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatExecutionDetail(os.Stdout, d)
		})
	},
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Manage the script template library",
}

var listScriptsCmd = &cobra.Command{
	Use:   "list",
	Short: "List script templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).ListScripts()
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatScriptsTable(os.Stdout, d)
		})
	},
}

var getScriptCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a script template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).GetScript(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Name: %v\nType: %v\n\n%v\n", d["name"], d["type"], d["content"])
			return nil
		})
	},
}

var addScriptCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Add a script template from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script file: %w", err)
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}
		scriptType, _ := cmd.Flags().GetString("type")
		if scriptType == "" {
			scriptType = typeFromName(name)
		}
		description, _ := cmd.Flags().GetString("description")
		pairs, _ := cmd.Flags().GetStringArray("param")
		params, err := cli.ParseParams(pairs)
		if err != nil {
			return err
		}

		data, err := cli.NewClient(serverURL).CreateScript(map[string]interface{}{
			"name":        name,
			"description": description,
			"type":        scriptType,
			"content":     string(content),
			"parameters":  params,
		})
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Added script %v (%v)\n", d["name"], d["id"])
			return nil
		})
	},
}

func typeFromName(name string) string {
	switch {
	case strings.HasSuffix(name, ".py"):
		return "python"
	case strings.HasSuffix(name, ".js"):
		return "javascript"
	default:
		return "bash"
	}
}

func init() {
	listExecutionsCmd.Flags().String("task", "", "Only show executions of this task")
	listExecutionsCmd.Flags().IntP("limit", "l", 100, "Number of executions to retrieve (max: 1000)")

	executionsCmd.AddCommand(listExecutionsCmd)
	executionsCmd.AddCommand(getExecutionCmd)

	addScriptCmd.Flags().StringP("name", "n", "", "Template name (defaults to the file name)")
	addScriptCmd.Flags().String("type", "", "Script type (python, bash, javascript)")
	addScriptCmd.Flags().String("description", "", "Template description")
	addScriptCmd.Flags().StringArrayP("param", "p", nil, "Default parameter as key=value (repeatable)")

	scriptsCmd.AddCommand(listScriptsCmd)
	scriptsCmd.AddCommand(getScriptCmd)
	scriptsCmd.AddCommand(addScriptCmd)
}
