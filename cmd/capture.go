package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-pipeline/internal/capture"
	"github.com/sells-group/contact-pipeline/internal/model"
)

var (
	captureTextFile     string
	captureImagePaths   []string
	captureDeepResearch bool
	captureOwner        string
	captureWorkspace    string
	captureListStatus   string
	captureListLimit    int
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Submit and inspect capture jobs",
}

var captureSubmitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Submit a capture and process it to completion",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var text string
		if len(args) > 0 {
			text = args[0]
		}
		if captureTextFile != "" {
			data, err := os.ReadFile(captureTextFile)
			if err != nil {
				return fmt.Errorf("read text file: %w", err)
			}
			text = string(data)
		}

		sub := capture.Submission{
			OwnerID:      captureOwner,
			WorkspaceID:  captureWorkspace,
			Text:         text,
			DeepResearch: captureDeepResearch,
		}
		for _, path := range captureImagePaths {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read image %s: %w", path, err)
			}
			sub.Images = append(sub.Images, capture.ImageUpload{
				Data:        data,
				ContentType: http.DetectContentType(data),
			})
		}

		c, err := env.Captures.Submit(ctx, sub)
		if err != nil {
			return err
		}
		if err := env.Captures.Process(ctx, c.ID); err != nil {
			return err
		}

		c, err = env.Store.GetCapture(ctx, c.ID)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), c)
	},
}

var captureShowCmd = &cobra.Command{
	Use:   "show <capture-id>",
	Short: "Show a capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Store.GetCapture(ctx, args[0])
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), c)
	},
}

var captureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captures for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		captures, err := env.Store.ListCaptures(ctx, captureOwner,
			model.CaptureStatus(captureListStatus), captureListLimit)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), captures)
	},
}

var captureRetryCmd = &cobra.Command{
	Use:   "retry <capture-id>",
	Short: "Re-queue a failed capture and process it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Captures.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		if err := env.Captures.Process(ctx, c.ID); err != nil {
			return err
		}

		c, err = env.Store.GetCapture(ctx, c.ID)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), c)
	},
}

func init() {
	captureSubmitCmd.Flags().StringVar(&captureTextFile, "file", "", "read capture text from a file")
	captureSubmitCmd.Flags().StringArrayVar(&captureImagePaths, "image", nil, "attach an image file (repeatable)")
	captureSubmitCmd.Flags().BoolVar(&captureDeepResearch, "deep-research", false, "run deep research after extraction")

	captureListCmd.Flags().StringVar(&captureListStatus, "status", "", "filter by status")
	captureListCmd.Flags().IntVar(&captureListLimit, "limit", 20, "maximum captures to list")

	captureCmd.PersistentFlags().StringVar(&captureOwner, "owner", "local", "owner id")
	captureCmd.PersistentFlags().StringVar(&captureWorkspace, "workspace", "", "workspace id")

	captureCmd.AddCommand(captureSubmitCmd, captureShowCmd, captureListCmd, captureRetryCmd)
	rootCmd.AddCommand(captureCmd)
}
