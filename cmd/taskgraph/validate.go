package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/taskgraph"
)

func newValidateCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed []error
			for _, path := range args {
				def, err := taskgraph.LoadDefinitionFile(path)
				if err == nil {
					err = taskgraph.Validate(def)
				}
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s %s, %d tasks)\n", path, def.ID, def.Version, len(def.Tasks))
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d definitions invalid: %w", len(failed), len(args), errors.Join(failed...))
			}
			return nil
		},
	}
}
