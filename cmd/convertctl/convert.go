package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/convert-relay/internal/relayclient"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a file through the relay",
	Long: `Convert uploads a file to the relay with the given input and output
formats and writes the converted bytes to disk. With --async the file is
submitted as a job and the command polls until the job finishes.

The input format defaults to the file's extension.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("from", "", "input format (default: file extension)")
	convertCmd.Flags().String("to", "", "output format")
	convertCmd.Flags().StringP("output", "o", "", "output path (default: server-suggested filename)")
	convertCmd.Flags().Bool("push", false, "archive the result to the relay's S3 bucket")
	convertCmd.Flags().Bool("async", false, "submit as a background job and wait for it")
	convertCmd.Flags().Duration("poll", 2*time.Second, "job poll interval with --async")
	_ = convertCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	path := args[0]
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	output, _ := cmd.Flags().GetString("output")
	push, _ := cmd.Flags().GetBool("push")
	async, _ := cmd.Flags().GetBool("async")
	poll, _ := cmd.Flags().GetDuration("poll")

	if async && poll <= 0 {
		return fmt.Errorf("--poll must be positive, got %s", poll)
	}

	if from == "" {
		from = strings.TrimPrefix(filepath.Ext(path), ".")
		if from == "" {
			return fmt.Errorf("cannot infer input format from %q, pass --from", path)
		}
	}

	client := newClient()
	ctx := cmd.Context()

	var (
		res *relayclient.Result
		err error
	)
	if async {
		res, err = convertAsync(cmd, client, path, from, to, push, poll)
	} else {
		res, err = client.Convert(ctx, path, from, to, push)
	}
	if err != nil {
		return err
	}

	if output == "" {
		output = res.Filename
	}
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", output, len(res.Data))
	if res.CacheHit {
		fmt.Fprintln(out, "Served from cache")
	}
	if res.URL != "" {
		fmt.Fprintf(out, "Archived to %s\n", res.URL)
	}
	return nil
}

func convertAsync(cmd *cobra.Command, client *relayclient.Client, path, from, to string, push bool, poll time.Duration) (*relayclient.Result, error) {
	ctx := cmd.Context()

	job, err := client.SubmitJob(ctx, path, from, to, push)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Submitted job %s\n", job.ID)

	job, err = client.WaitForJob(ctx, job.ID, poll)
	if err != nil {
		return nil, err
	}

	res, err := client.DownloadResult(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if res.URL == "" {
		res.URL = job.ResultURL
	}
	return res, nil
}
