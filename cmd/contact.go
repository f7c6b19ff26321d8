package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contact-pipeline/internal/merge"
	"github.com/sells-group/contact-pipeline/internal/schema"
)

var (
	outputFormat   string
	mergeForce     bool
	mergePatchFile string
)

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Inspect and merge contacts",
}

var contactShowCmd = &cobra.Command{
	Use:   "show <contact-id>",
	Short: "Show a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		contact, err := env.Store.GetContact(ctx, args[0])
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), contact)
	},
}

var contactMergeCmd = &cobra.Command{
	Use:   "merge <contact-id>",
	Short: "Merge an extraction payload into a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		patch, err := os.ReadFile(mergePatchFile)
		if err != nil {
			return fmt.Errorf("read patch file: %w", err)
		}
		var in schema.Extraction
		if err := json.Unmarshal(patch, &in); err != nil {
			return fmt.Errorf("parse patch file: %w", err)
		}
		in.Normalize()

		contact, err := env.Store.GetContact(ctx, args[0])
		if err != nil {
			return err
		}

		result := merge.Apply(contact, &in, mergeForce)
		if len(result.Conflicts) > 0 {
			if err := printOutput(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return fmt.Errorf("merge blocked by %d conflict(s); re-run with --force to overwrite", len(result.Conflicts))
		}

		if err := env.Store.PutContact(ctx, contact); err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), map[string]any{
			"result":  result,
			"contact": contact,
		})
	},
}

// printOutput renders v in the selected output format.
func printOutput(w io.Writer, v any) error {
	switch outputFormat {
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func init() {
	contactMergeCmd.Flags().StringVar(&mergePatchFile, "patch", "", "path to a JSON extraction payload")
	contactMergeCmd.Flags().BoolVar(&mergeForce, "force", false, "overwrite on identity conflicts")
	contactMergeCmd.MarkFlagRequired("patch")

	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "json", "output format (json or yaml)")

	contactCmd.AddCommand(contactShowCmd, contactMergeCmd)
	rootCmd.AddCommand(contactCmd)
}
