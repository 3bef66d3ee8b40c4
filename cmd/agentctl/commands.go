package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func apiFor(gf *GlobalFlags) (*APIClient, error) {
	client := NewAPIClient(gf.APIUrl, gf.APITimeout)
	if !client.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable - start it first with 'agentctl serve'")
	}
	return client, nil
}

func createListCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiFor(gf)
			if err != nil {
				return err
			}
			agents, err := client.ListAgents()
			if err != nil {
				return err
			}
			printAgentTable(agents)
			return nil
		},
	}
}

func createStartCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiFor(gf)
			if err != nil {
				return err
			}
			if err := client.StartAgent(args[0]); err != nil {
				return err
			}
			fmt.Printf("Agent %s started\n", args[0])
			return nil
		},
	}
}

func createStopCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiFor(gf)
			if err != nil {
				return err
			}
			if err := client.StopAgent(args[0]); err != nil {
				return err
			}
			fmt.Printf("Agent %s stopped\n", args[0])
			return nil
		},
	}
}

func createStatusCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show one agent's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiFor(gf)
			if err != nil {
				return err
			}
			rec, err := client.AgentStatus(args[0])
			if err != nil {
				return err
			}
			printJSON(rec)
			return nil
		},
	}
}

// SubmitFlags holds flags for the submit command.
type SubmitFlags struct {
	Agent    string
	Action   string
	Priority int
	Params   map[string]string
}

func createSubmitCommand(gf *GlobalFlags) *cobra.Command {
	f := &SubmitFlags{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Agent == "" || f.Action == "" {
				return fmt.Errorf("--agent and --action are required")
			}
			client, err := apiFor(gf)
			if err != nil {
				return err
			}
			params := make(map[string]any, len(f.Params))
			for k, v := range f.Params {
				params[k] = v
			}
			id, err := client.SubmitTask(f.Agent, f.Action, params, f.Priority)
			if err != nil {
				return err
			}
			fmt.Printf("Task submitted: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Agent, "agent", "", "target agent name")
	cmd.Flags().StringVar(&f.Action, "action", "", "task action")
	cmd.Flags().IntVar(&f.Priority, "priority", 5, "task priority (higher dequeues first)")
	cmd.Flags().StringToStringVar(&f.Params, "param", nil, "task parameter key=value (repeatable)")
	return cmd
}
