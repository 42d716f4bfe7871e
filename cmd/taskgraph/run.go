package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/taskgraph"
)

func newRunCmd(a *app) *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Register a definition and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := taskgraph.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			values, err := parseVars(vars)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, a.cfg, taskgraph.BuiltinExecutor(), engineOptions(a)...)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Engine.RegisterDefinition(ctx, def); err != nil {
				return err
			}
			run, err := b.Engine.Run(ctx, def.ID, values)
			if err != nil {
				return err
			}
			report, err := b.Engine.GetStatus(ctx, run.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if run.Status != taskgraph.RunCompleted {
				return fmt.Errorf("run %s finished %s", run.ID, run.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "run variable as key=value; values are parsed as YAML scalars")
	return cmd
}

// parseVars turns key=value pairs into run variables. "n=3" yields an int
// and "ok=true" a bool; anything else stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		switch v.(type) {
		case map[string]any, []any:
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
