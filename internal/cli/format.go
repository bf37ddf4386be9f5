package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

func FormatJSON(out io.Writer, data interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatAgentsTable(out io.Writer, data map[string]interface{}) error {
	agents, ok := data["agents"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid agents data")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOSTNAME\tADDRESS\tSTATUS\tOS\tLAST SEEN")

	for _, a := range agents {
		agent := a.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\t%s\t%s\n",
			getString(agent["id"]),
			getString(agent["hostname"]),
			getString(agent["ip"]),
			formatNumber(agent["port"]),
			getString(agent["status"]),
			getString(agent["os"]),
			formatTime(agent["last_seen"]),
		)
	}

	return w.Flush()
}

func FormatAgentDetail(out io.Writer, agent map[string]interface{}) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", getString(agent["id"]))
	fmt.Fprintf(w, "Hostname:\t%s\n", getString(agent["hostname"]))
	fmt.Fprintf(w, "Address:\t%s:%s\n", getString(agent["ip"]), formatNumber(agent["port"]))
	fmt.Fprintf(w, "Status:\t%s\n", getString(agent["status"]))
	fmt.Fprintf(w, "OS:\t%s\n", getString(agent["os"]))
	fmt.Fprintf(w, "Arch:\t%s\n", getString(agent["arch"]))
	fmt.Fprintf(w, "CPU:\t%s\n", getString(agent["cpu"]))
	fmt.Fprintf(w, "RAM:\t%s\n", getString(agent["ram"]))
	fmt.Fprintf(w, "Last Seen:\t%s\n", formatTime(agent["last_seen"]))
	return w.Flush()
}

func FormatTasksTable(out io.Writer, data map[string]interface{}) error {
	tasks, ok := data["tasks"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid tasks data")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGENT\tSCRIPT\tSCHEDULE\tACTIVE")

	for _, t := range tasks {
		task := t.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			getString(task["id"]),
			getString(task["name"]),
			getString(task["agent_hostname"]),
			getString(task["script_name"]),
			formatSchedule(task["schedule"]),
			formatBool(task["active"]),
		)
	}

	return w.Flush()
}

func FormatTaskDetail(out io.Writer, task map[string]interface{}) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", getString(task["id"]))
	fmt.Fprintf(w, "Name:\t%s\n", getString(task["name"]))
	if desc := getString(task["description"]); desc != "" {
		fmt.Fprintf(w, "Description:\t%s\n", desc)
	}
	fmt.Fprintf(w, "Agent:\t%s (%s)\n", getString(task["agent_hostname"]), getString(task["agent_id"]))
	fmt.Fprintf(w, "Script:\t%s\n", getString(task["script_name"]))
	fmt.Fprintf(w, "Schedule:\t%s\n", formatSchedule(task["schedule"]))
	fmt.Fprintf(w, "Active:\t%s\n", formatBool(task["active"]))
	fmt.Fprintf(w, "Parameters:\t%s\n", formatParameters(task["parameters"]))
	fmt.Fprintf(w, "Created:\t%s\n", formatTime(task["created_at"]))
	return w.Flush()
}

func FormatUpcomingTable(out io.Writer, data map[string]interface{}) error {
	upcoming, ok := data["upcoming"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid upcoming data")
	}
	if len(upcoming) == 0 {
		fmt.Fprintln(out, "No scheduled tasks")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAGENT\tSCHEDULE\tNEXT RUN\tIN")

	for _, u := range upcoming {
		entry := u.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			getString(entry["name"]),
			getString(entry["agent"]),
			getString(entry["schedule"]),
			formatTime(entry["next_run"]),
			strings.TrimPrefix(getString(entry["time_until"]), "in "),
		)
	}

	return w.Flush()
}

func FormatExecutionsTable(out io.Writer, data map[string]interface{}) error {
	execs, ok := data["executions"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid executions data")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tAGENT\tSTATUS\tSTARTED\tDURATION")

	for _, e := range execs {
		exec := e.(map[string]interface{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			getString(exec["id"]),
			getString(exec["task_name"]),
			getString(exec["agent_hostname"]),
			formatStatus(exec),
			formatTime(exec["started_at"]),
			formatDuration(exec["duration"]),
		)
	}

	return w.Flush()
}

func FormatExecutionDetail(out io.Writer, exec map[string]interface{}) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", getString(exec["id"]))
	fmt.Fprintf(w, "Task:\t%s (%s)\n", getString(exec["task_name"]), getString(exec["task_id"]))
	fmt.Fprintf(w, "Agent:\t%s\n", getString(exec["agent_hostname"]))
	fmt.Fprintf(w, "Status:\t%s\n", formatStatus(exec))
	fmt.Fprintf(w, "Started:\t%s\n", formatTime(exec["started_at"]))
	fmt.Fprintf(w, "Finished:\t%s\n", formatTime(exec["finished_at"]))
	fmt.Fprintf(w, "Duration:\t%s\n", formatDuration(exec["duration"]))
	if err := w.Flush(); err != nil {
		return err
	}

	if output := getString(exec["output"]); output != "" {
		fmt.Fprintf(out, "\nOutput:\n%s\n", strings.TrimRight(output, "\n"))
	}
	if msg := getString(exec["error_message"]); msg != "" {
		fmt.Fprintf(out, "\nError:\n%s\n", strings.TrimRight(msg, "\n"))
	}
	return nil
}

func FormatScriptsTable(out io.Writer, data map[string]interface{}) error {
	scripts, ok := data["scripts"].([]interface{})
	if !ok {
		return fmt.Errorf("invalid scripts data")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tDESCRIPTION")

	for _, s := range scripts {
		script, ok := s.(map[string]interface{})
		if !ok {
			// Agent script listings are bare file names.
			fmt.Fprintf(w, "\t%s\t\t\n", getString(s))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			getString(script["id"]),
			getString(script["name"]),
			getString(script["type"]),
			getString(script["description"]),
		)
	}

	return w.Flush()
}

func getString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func formatNumber(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	default:
		return "0"
	}
}

func formatBool(v interface{}) string {
	if b, ok := v.(bool); ok && b {
		return "yes"
	}
	return "no"
}

func formatSchedule(v interface{}) string {
	if s := getString(v); s != "" {
		return s
	}
	return "manual"
}

func formatStatus(exec map[string]interface{}) string {
	status := getString(exec["status"])
	if kind := getString(exec["failure_kind"]); kind != "" {
		return status + " (" + kind + ")"
	}
	return status
}

func formatTime(v interface{}) string {
	if s, ok := v.(string); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return "-"
}

func formatDuration(v interface{}) string {
	ms, ok := v.(float64)
	if !ok {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func formatParameters(v interface{}) string {
	params, ok := v.(map[string]interface{})
	if !ok || len(params) == 0 {
		return "-"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, " ")
}
