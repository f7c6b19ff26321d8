package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-pipeline/internal/model"
)

var researchStreamOutput bool

var researchCmd = &cobra.Command{
	Use:   "research <contact-id>",
	Short: "Run deep research on a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)

		var failure string
		for ev := range env.Research.Stream(ctx, args[0]) {
			if researchStreamOutput {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			} else if ev.Type == model.EventTypeStatus {
				fmt.Fprintf(out, "%s...\n", ev.Stage)
			}
			if ev.Type == model.EventTypeError {
				failure = ev.Message
			}
		}
		if failure != "" {
			return fmt.Errorf("research failed: %s", failure)
		}

		contact, err := env.Store.GetContact(ctx, args[0])
		if err != nil {
			return err
		}
		return printOutput(out, contact)
	},
}

func init() {
	researchCmd.Flags().BoolVar(&researchStreamOutput, "events", false, "emit raw progress events as NDJSON")
	rootCmd.AddCommand(researchCmd)
}
