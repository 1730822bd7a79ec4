package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"redub/internal/jobs"
)

func newJobsCommand(configFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage dubbing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newJobsListCommand(configFlag))
	cmd.AddCommand(newJobsShowCommand(configFlag))
	cmd.AddCommand(newJobsDeleteCommand(configFlag))
	return cmd
}

func openStore(configFlag string) (*jobs.Store, error) {
	cfg, err := loadConfig(configFlag)
	if err != nil {
		return nil, err
	}
	return jobs.Open(cfg.JobsFile())
}

func newJobsListCommand(configFlag *string) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configFlag)
			if err != nil {
				return err
			}
			list, err := store.List()
			if err != nil {
				return err
			}
			if jsonFlag {
				return json.NewEncoder(os.Stdout).Encode(list)
			}
			renderJobsTable(list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}

func renderJobsTable(list []jobs.Job) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "FILE", "STATUS", "STEP", "CREATED", "ERROR"})
	for _, job := range list {
		tw.AppendRow(table.Row{
			shortID(job.ID),
			job.Filename,
			statusCell(job.Status),
			job.CurrentStep,
			job.CreatedAt.Local().Format(time.DateTime),
			truncate(job.Error, 48),
		})
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
		tw.Style().Options.DrawBorder = false
	}
	tw.Render()
}

func statusCell(status jobs.Status) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return string(status)
	}
	switch status {
	case jobs.StatusCompleted:
		return text.FgGreen.Sprint(status)
	case jobs.StatusFailed:
		return text.FgRed.Sprint(status)
	case jobs.StatusProcessing:
		return text.FgYellow.Sprint(status)
	default:
		return string(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}

func newJobsShowCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configFlag)
			if err != nil {
				return err
			}
			job, err := resolveJob(store, args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(job)
		},
	}
}

func newJobsDeleteCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job, its input file, and its working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configFlag)
			if err != nil {
				return err
			}
			job, err := resolveJob(store, args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(job.ID); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", job.ID)
			return nil
		},
	}
}

// resolveJob accepts a full id or an unambiguous prefix.
func resolveJob(store *jobs.Store, ref string) (jobs.Job, error) {
	if job, err := store.Get(ref); err == nil {
		return job, nil
	}
	list, err := store.List()
	if err != nil {
		return jobs.Job{}, err
	}
	var match *jobs.Job
	for i := range list {
		if len(ref) >= 4 && len(list[i].ID) >= len(ref) && list[i].ID[:len(ref)] == ref {
			if match != nil {
				return jobs.Job{}, fmt.Errorf("job id prefix %q is ambiguous", ref)
			}
			match = &list[i]
		}
	}
	if match == nil {
		return jobs.Job{}, fmt.Errorf("no job matches %q", ref)
	}
	return *match, nil
}
