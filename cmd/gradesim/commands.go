package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gradehub/orientation-engine/config"
	"github.com/gradehub/orientation-engine/internal/application/query"
	"github.com/gradehub/orientation-engine/internal/domain/grade"
	"github.com/gradehub/orientation-engine/internal/domain/simulation"
	"github.com/gradehub/orientation-engine/internal/infrastructure/persistence/memory"
	"github.com/gradehub/orientation-engine/pkg/logger"
	"github.com/gradehub/orientation-engine/pkg/timeutil"
)

// options are the flags shared by every subcommand.
type options struct {
	input      string
	configPath string
	yearFlag   string
	year       int
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "gradesim",
		Short: "Evaluate orientation scores and what-if simulations from a dataset file",
		Long: `gradesim loads student records and cohort history from a YAML or JSON
dataset and runs the orientation engine on them.

Overrides use the form subject:KIND=value, for example analyse1:EXAM=14.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.yearFlag == "" {
				opts.year = timeutil.AcademicYear(time.Now())
				return nil
			}
			year, err := timeutil.ParseAcademicYear(opts.yearFlag)
			if err != nil {
				return err
			}
			opts.year = year
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "engine rules file (default: built-in rules)")
	root.PersistentFlags().StringVarP(&opts.yearFlag, "year", "y", "", `academic year, "2025" or "2024-2025" (default: current)`)
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newSimulateCmd(opts),
		newReportCmd(opts),
		newRankingCmd(opts),
		newValidateConfigCmd(opts),
	)
	return root
}

// --- simulate ---

func newSimulateCmd(opts *options) *cobra.Command {
	var (
		student   string
		overrides []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate grade changes for one student",
		Example: `  gradesim simulate -i grades.yaml -s s042 -o analyse1:EXAM=14 -o algo1:DS=12
  gradesim simulate -i grades.json -c engine.yaml -s s042 -o prog1:TP=18`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed := make([]simulation.Override, 0, len(overrides))
			for _, raw := range overrides {
				o, err := simulation.ParseOverride(raw)
				if err != nil {
					return err
				}
				parsed = append(parsed, o)
			}

			sources, err := opts.sources(cmd)
			if err != nil {
				return err
			}
			res, err := query.NewSimulateHandler(sources, nil, nil).Handle(cmd.Context(), query.SimulateQuery{
				StudentID: grade.StudentID(student),
				Year:      opts.year,
				Overrides: parsed,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "dataset file (YAML or JSON)")
	cmd.Flags().StringVarP(&student, "student", "s", "", "student id")
	cmd.Flags().StringArrayVarP(&overrides, "override", "o", nil, "override in subject:KIND=value form (repeatable)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

// --- report ---

func newReportCmd(opts *options) *cobra.Command {
	var student string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the orientation report of one student",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources, err := opts.sources(cmd)
			if err != nil {
				return err
			}
			rep, err := query.NewGetOrientationReportHandler(sources).Handle(cmd.Context(), query.GetOrientationReportQuery{
				StudentID: grade.StudentID(student),
				Year:      opts.year,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "dataset file (YAML or JSON)")
	cmd.Flags().StringVarP(&student, "student", "s", "", "student id")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

// --- ranking ---

func newRankingCmd(opts *options) *cobra.Command {
	var (
		section  string
		page     int
		pageSize int
		viewer   string
		around   int
	)

	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Print the standings of a section",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources, err := opts.sources(cmd)
			if err != nil {
				return err
			}
			res, err := query.NewGetSectionRankingHandler(sources).Handle(cmd.Context(), query.GetSectionRankingQuery{
				Section:  grade.Section(section),
				Year:     opts.year,
				Page:     page,
				PageSize: pageSize,
				ViewerID: grade.StudentID(viewer),
				Around:   around,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "dataset file (YAML or JSON)")
	cmd.Flags().StringVar(&section, "section", "", "section code")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "entries per page")
	cmd.Flags().StringVar(&viewer, "viewer", "", "student whose line is shown with its id")
	cmd.Flags().IntVar(&around, "around", 0, "also print this many lines on each side of the viewer")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("section")
	return cmd
}

// --- validate-config ---

func newValidateConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate an engine rules file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := config.LoadEngine(opts.configPath)
			if err != nil {
				return err
			}
			formulas := engine.Orientation.Formulas()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d formulas, history years %v\n", len(formulas), engine.HistoryYears())
			for _, f := range formulas {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-4s %s v%d\n", f.Track, f.ID, f.Version)
			}
			return nil
		},
	}
}

// --- helpers ---

// sources loads the engine rules and the dataset into query sources.
func (o *options) sources(cmd *cobra.Command) (*query.Sources, error) {
	engine, err := config.LoadEngine(o.configPath)
	if err != nil {
		return nil, err
	}
	ds, err := memory.LoadDataset(o.input)
	if err != nil {
		return nil, err
	}
	grades, cohorts := ds.Stores()

	log := logger.Nop()
	if o.verbose {
		log = logger.New(logger.Options{Output: cmd.ErrOrStderr(), Level: logger.LevelDebug, Pretty: true})
	}
	log.Debug("dataset loaded",
		logger.String("input", o.input),
		logger.Int("records", len(ds.Records)),
		logger.Int("baselines", len(ds.Baselines)),
	)

	return &query.Sources{
		Grades:       grades,
		Cohorts:      cohorts,
		Orientation:  engine.Orientation,
		TieBreak:     engine.TieBreak(),
		HistoryYears: engine.HistoryYears(),
		RulesDigest:  engine.Digest(),
		Logger:       log,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
