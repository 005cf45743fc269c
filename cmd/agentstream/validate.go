package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentstream/internal/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and print the agent roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "port:     %d\n", cfg.Server.Port)
	fmt.Fprintf(w, "storage:  %s\n", cfg.Storage.Type)
	fmt.Fprintf(w, "engine:   %s (%s)\n", cfg.Engine.Type, cfg.Engine.OpenAI.Model)
	fmt.Fprintf(w, "agents:   %d, default %s\n", len(cfg.Agents), cfg.DefaultAgent)
	for _, a := range cfg.Agents {
		line := "  - " + a.Name
		if len(a.Handoffs) > 0 {
			line += " -> " + strings.Join(a.Handoffs, ", ")
		}
		if len(a.Tools) > 0 {
			line += " [" + strings.Join(a.Tools, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
}
