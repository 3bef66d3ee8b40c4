package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printAgentTable renders agent records with status markers, PID and the
// latest resource sample.
func printAgentTable(agents []map[string]any) {
	fmt.Println()
	fmt.Println("Registered Agents")
	fmt.Println("=================")
	for _, a := range agents {
		status, _ := a["status"].(string)
		marker := "?"
		switch status {
		case "running":
			marker = "+"
		case "stopped":
			marker = "-"
		case "failed":
			marker = "x"
		}
		line := fmt.Sprintf("%s %-20v status: %-10v", marker, a["name"], status)
		if pid, ok := a["pid"].(float64); ok && pid > 0 {
			line += fmt.Sprintf(" pid: %-6d", int(pid))
		}
		if res, ok := a["resources"].(map[string]any); ok {
			if cpu, ok := res["cpu_percent"].(float64); ok {
				line += fmt.Sprintf(" cpu: %.1f%%", cpu)
			}
			if rss, ok := res["memory_rss"].(float64); ok {
				line += fmt.Sprintf(" mem: %.0fMB", rss/1024/1024)
			}
		}
		fmt.Println(line)
	}
	fmt.Println()
}
