package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage [record files...]",
	Short: "Load raw record files into the staging store",
	Long: `Stages raw records for a later ingest run. Useful when fetchers and
the pipeline run on different schedules: fetchers stage, the pipeline
drains with 'pkgraph ingest --from-staging'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStage,
}

func runStage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	records, err := loadRecordFiles(args)
	if err != nil {
		return err
	}

	store, err := buildStaging(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, rec := range records {
		if _, err := store.Insert(ctx, rec); err != nil {
			return err
		}
	}

	fmt.Printf("staged %d records\n", len(records))
	return nil
}
