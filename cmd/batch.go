package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finresearch-cli/internal/model"
)

var (
	batchCompanies []string
	batchQuarters  []string
	batchYear      int
	batchFile      string
	batchWorkers   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline for many company-quarters",
	Long:  "Runs every company against every quarter of --year, or the items listed in --file, over a bounded worker pool. Item failures are reported, never fatal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := batchItems()
		if err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Orchestrator().Run(ctx, items, batchWorkers)
		if err != nil {
			return eris.Wrap(err, "run batch")
		}

		zap.L().Info("batch finished",
			zap.String("job_id", snap.ID),
			zap.Int("succeeded", snap.Succeeded),
			zap.Int("failed", snap.Failed),
			zap.Int("skipped", snap.Skipped),
		)
		printSummary(snap)
		return nil
	},
}

type batchDoc struct {
	Items []model.Period `yaml:"items"`
}

// batchItems builds the work list from flags, or from --file when given.
func batchItems() ([]model.Period, error) {
	if batchFile != "" {
		return loadBatchFile(batchFile)
	}
	return expandItems(batchCompanies, batchQuarters, batchYear)
}

func loadBatchFile(path string) ([]model.Period, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch file %s", path)
	}
	var doc batchDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse batch file %s", path)
	}
	for i := range doc.Items {
		q, err := model.ParseQuarter(doc.Items[i].Quarter)
		if err != nil {
			return nil, eris.Wrapf(err, "batch file item %d", i+1)
		}
		doc.Items[i].Quarter = q
		if err := doc.Items[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "batch file item %d", i+1)
		}
	}
	if len(doc.Items) == 0 {
		return nil, eris.Errorf("batch file %s has no items", path)
	}
	return doc.Items, nil
}

// expandItems crosses companies with quarters. No quarters means all four.
func expandItems(companies, quarters []string, year int) ([]model.Period, error) {
	if len(companies) == 0 {
		return nil, eris.New("at least one --companies entry or --file is required")
	}
	if len(quarters) == 0 {
		quarters = []string{"Q1", "Q2", "Q3", "Q4"}
	}

	var items []model.Period
	for _, c := range companies {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, raw := range quarters {
			q, err := model.ParseQuarter(raw)
			if err != nil {
				return nil, err
			}
			p := model.Period{Company: c, Quarter: q, Year: year}
			if err := p.Validate(); err != nil {
				return nil, err
			}
			items = append(items, p)
		}
	}
	if len(items) == 0 {
		return nil, eris.New("no batch items")
	}
	return items, nil
}

func printSummary(snap *model.BatchSnapshot) {
	fmt.Printf("Batch %s: %d succeeded, %d failed, %d skipped\n", snap.ID, snap.Succeeded, snap.Failed, snap.Skipped)
	for _, it := range snap.Items {
		line := fmt.Sprintf("  %-32s %s", it.Period.String(), it.Status)
		if it.Record != nil {
			line += fmt.Sprintf("  source=%s completeness=%.0f%%", it.Record.Source, it.Record.Completeness*100)
		}
		if it.Error != "" {
			line += "  error=" + it.Error
		}
		fmt.Println(line)
	}
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchCompanies, "companies", nil, "comma-separated company names")
	batchCmd.Flags().StringSliceVar(&batchQuarters, "quarters", nil, "quarters to run (default all four)")
	batchCmd.Flags().IntVar(&batchYear, "year", 0, "fiscal year")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file with an items list of company/quarter/year")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "max concurrent items (0 uses batch.max_workers)")
	rootCmd.AddCommand(batchCmd)
}
