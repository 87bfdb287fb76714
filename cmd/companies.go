package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/source"
)

var companiesFile string

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage the results portal company directory",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies the portal source can resolve",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir, err := initDirectory(ctx, st)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCODE\tURL")
		for _, c := range dir.Companies() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Code, source.QuarterlyResultsURL(cfg.Moneycontrol.BaseURL, c))
		}
		return w.Flush()
	},
}

var companiesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Persist the built-in, configured and --file companies to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		companies := append(source.DefaultCompanies(), cfg.Moneycontrol.Companies...)
		if companiesFile != "" {
			extra, err := loadCompaniesFile(companiesFile)
			if err != nil {
				return err
			}
			companies = append(companies, extra...)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertCompanies(ctx, companies)
		if err != nil {
			return eris.Wrap(err, "sync companies")
		}
		zap.L().Info("companies synced", zap.Int64("rows", n))
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d companies\n", n)
		return nil
	},
}

type companiesDoc struct {
	Companies []model.Company `yaml:"companies" validate:"dive"`
}

func loadCompaniesFile(path string) ([]model.Company, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read companies file %s", path)
	}
	var doc companiesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "parse companies file %s", path)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, eris.Wrapf(err, "invalid companies file %s", path)
	}
	return doc.Companies, nil
}

func init() {
	companiesSyncCmd.Flags().StringVar(&companiesFile, "file", "", "YAML file with a companies list of name/slug/code")
	companiesCmd.AddCommand(companiesListCmd, companiesSyncCmd)
	rootCmd.AddCommand(companiesCmd)
}
