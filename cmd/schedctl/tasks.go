package main

import (
	"fmt"
	"os"

	"github.com/metorial/agentsched/internal/cli"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage and run tasks",
}

var listTasksCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).ListTasks()
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatTasksTable(os.Stdout, d)
		})
	},
}

var getTaskCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).GetTask(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatTaskDetail(os.Stdout, d)
		})
	},
}

var createTaskCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		description, _ := flags.GetString("description")
		agentID, _ := flags.GetString("agent")
		scriptName, _ := flags.GetString("script")
		contentFile, _ := flags.GetString("file")
		schedule, _ := flags.GetString("schedule")
		template, _ := flags.GetString("template")
		inactive, _ := flags.GetBool("inactive")
		pairs, _ := flags.GetStringArray("param")

		params, err := cli.ParseParams(pairs)
		if err != nil {
			return err
		}

		def := map[string]interface{}{
			"name":        name,
			"description": description,
			"agent_id":    agentID,
			"script_name": scriptName,
			"schedule":    schedule,
			"parameters":  params,
			"active":      !inactive,
		}
		if template != "" {
			def["template_id"] = template
		}
		if contentFile != "" {
			content, err := os.ReadFile(contentFile)
			if err != nil {
				return fmt.Errorf("read script file: %w", err)
			}
			def["script_content"] = string(content)
		}

		data, err := cli.NewClient(serverURL).CreateTask(def)
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Printf("Created task %v (%v)\n", d["name"], d["id"])
			return nil
		})
	},
}

var deleteTaskCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a task and its executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).DeleteTask(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			fmt.Println(d["message"])
			return nil
		})
	},
}

var runTaskCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Execute a task now and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cli.NewClient(serverURL).ExecuteTask(args[0])
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatExecutionDetail(os.Stdout, d)
		})
	},
}

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "Show the next scheduled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		data, err := cli.NewClient(serverURL).Upcoming(limit)
		if err != nil {
			return err
		}
		return render(data, func(d map[string]interface{}) error {
			return cli.FormatUpcomingTable(os.Stdout, d)
		})
	},
}

func init() {
	createTaskCmd.Flags().StringP("name", "n", "", "Task name")
	createTaskCmd.Flags().String("description", "", "Task description")
	createTaskCmd.Flags().StringP("agent", "a", "", "Agent ID")
	createTaskCmd.Flags().String("script", "", "Script name (selects the interpreter by extension)")
	createTaskCmd.Flags().StringP("file", "f", "", "Read script content from file")
	createTaskCmd.Flags().String("schedule", "", "Cron expression; empty for manual-only")
	createTaskCmd.Flags().StringP("template", "t", "", "Script template ID or name")
	createTaskCmd.Flags().Bool("inactive", false, "Create the task inactive")
	createTaskCmd.Flags().StringArrayP("param", "p", nil, "Parameter as key=value (repeatable)")
	createTaskCmd.MarkFlagRequired("name")
	createTaskCmd.MarkFlagRequired("agent")

	upcomingCmd.Flags().IntP("limit", "l", 5, "Number of entries to show")

	tasksCmd.AddCommand(listTasksCmd)
	tasksCmd.AddCommand(getTaskCmd)
	tasksCmd.AddCommand(createTaskCmd)
	tasksCmd.AddCommand(deleteTaskCmd)
	tasksCmd.AddCommand(runTaskCmd)
	tasksCmd.AddCommand(upcomingCmd)
}
