package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apicize/apicize-go/pkg/engine"
	"github.com/apicize/apicize-go/pkg/report"
	"github.com/apicize/apicize-go/pkg/results"
	"github.com/apicize/apicize-go/pkg/storage"
)

// runWorkbook opens the workbook, executes the requested roots (or every
// top-level entry) and emits the report. Ctrl-C cancels the run
// cooperatively; a cancelled run returns the Cancelled error and emits no
// report.
func runWorkbook(path string, names []string) error {
	workbook, err := storage.OpenWorkbook(path)
	if err != nil {
		return err
	}
	ws := workbook.ToWorkspace()

	allowedPath := dataPath
	if allowedPath == "" {
		allowedPath = filepath.Dir(path)
	}

	opts := []engine.Option{engine.WithAllowedDataPath(allowedPath)}
	if overrideRuns > 0 {
		opts = append(opts, engine.WithOverrideRuns(overrideRuns))
	}
	if rateLimit > 0 {
		opts = append(opts, engine.WithRateLimit(rateLimit))
	}
	if enableTrace {
		opts = append(opts, engine.WithTrace())
	}
	runner := engine.NewRunnerContext(ws, opts...)

	ids := ws.Requests.TopLevelIDs
	if len(names) > 0 {
		ids = make([]string, 0, len(names))
		for _, name := range names {
			id, err := ws.Requests.FindByIDOrName(name)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("workbook has no requests to run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	executed, err := runner.Run(ctx, ids)
	if err != nil {
		return err
	}

	builder := results.NewBuilder()
	allSuccessful := true
	var rows []report.Row
	for i, result := range executed {
		indexed := builder.ProcessResult([]engine.Result{result}, ids[i])
		rows = append(rows, report.Generate(indexed)...)
		if !result.ResultTallies().Success {
			allSuccessful = false
		}
	}

	writer := io.Writer(os.Stdout)
	if reportFile != "" {
		file, err := os.Create(reportFile)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		writer = file
	}

	switch reportFormat {
	case "csv":
		err = report.WriteCSV(writer, rows)
	case "json":
		err = report.WriteJSON(writer, rows)
	default:
		_, err = io.WriteString(writer, report.Render(rows))
	}
	if err != nil {
		return err
	}

	if !allSuccessful {
		os.Exit(1)
	}
	return nil
}

// importCmd converts a Postman collection into a workbook file.
func importCmd() *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "import <collection.json>",
		Short: "Import a Postman v2.1 collection as a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open collection: %w", err)
			}
			defer file.Close()

			workbook, err := storage.ImportPostman(file)
			if err != nil {
				return err
			}

			if outputFile == "" {
				base := filepath.Base(args[0])
				outputFile = base[:len(base)-len(filepath.Ext(base))] + ".apicize.yaml"
			}
			if err := storage.SaveWorkbook(workbook, outputFile); err != nil {
				return err
			}
			fmt.Printf("Imported %d top-level entries -> %s\n", len(workbook.Requests), outputFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Workbook file to write")
	return cmd
}
