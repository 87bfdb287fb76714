package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/pipeline"
)

var (
	runCompany string
	runQuarter string
	runYear    int
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one company-quarter",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q, err := model.ParseQuarter(runQuarter)
		if err != nil {
			return err
		}
		period := model.Period{Company: runCompany, Quarter: q, Year: runYear}
		if err := period.Validate(); err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx, period)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Print(pipeline.FormatReport(res))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runCompany, "company", "", "company name (required)")
	runCmd.Flags().StringVar(&runQuarter, "quarter", "", "fiscal quarter, Q1-Q4 (required)")
	runCmd.Flags().IntVar(&runYear, "year", 0, "fiscal year the quarter belongs to (required)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	_ = runCmd.MarkFlagRequired("company")
	_ = runCmd.MarkFlagRequired("quarter")
	_ = runCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(runCmd)
}
