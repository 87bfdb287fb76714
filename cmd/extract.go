package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/pipeline"
)

var (
	extractCompany string
	extractQuarter string
	extractYear    int
	extractJSON    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract indicators from a saved answer or results page",
	Long:  "Runs the extractor over a local text, markdown or HTML file without calling any source. Company, quarter and year are optional hints used to pick table columns and score context.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		hints, err := extractHints(extractCompany, extractQuarter, extractYear)
		if err != nil {
			return err
		}

		res, err := newExtractor().ExtractDetailed(string(data), hints)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		if extractJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printExtraction(cmd, res)
		return nil
	},
}

func extractHints(company, quarter string, year int) (extract.Hints, error) {
	h := extract.Hints{Company: company, Year: year}
	if quarter != "" {
		q, err := model.ParseQuarter(quarter)
		if err != nil {
			return h, err
		}
		h.Quarter = q
	}
	return h, nil
}

func printExtraction(cmd *cobra.Command, res *extract.Result) {
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(res.Indicators))
	for name := range res.Indicators {
		names = append(names, string(name))
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Extracted %d indicators (%s)\n", len(names), res.Source)
	for _, n := range names {
		ind := res.Indicators[model.IndicatorName(n)]
		fmt.Fprintf(out, "  %-28s %14.2f  confidence=%.2f\n", pipeline.DisplayName(ind.Name), ind.Value, ind.Confidence)
	}
	if len(res.Rejections) > 0 {
		fmt.Fprintf(out, "Rejected %d candidates\n", len(res.Rejections))
		for _, r := range res.Rejections {
			fmt.Fprintf(out, "  %-28s %s\n", r.Indicator, r.Reason)
		}
	}
}

func init() {
	extractCmd.Flags().StringVar(&extractCompany, "company", "", "company hint")
	extractCmd.Flags().StringVar(&extractQuarter, "quarter", "", "quarter hint, Q1-Q4")
	extractCmd.Flags().IntVar(&extractYear, "year", 0, "fiscal year hint")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(extractCmd)
}
