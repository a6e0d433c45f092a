package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgallion1/designdoc/internal/pipeline"
)

const (
	tokenUse    = "token <path|url>"
	costUse     = "cost <path|url>"
	mapUse      = "map <path|url>"
	generateUse = "generate [path|url]"

	tokenUsageExample = `  # Count tokens of a local checkout for the default map tier
  designdoc token ./myrepo

  # Count with the large tier's encoding
  designdoc token github.com/acme/widgets --model large`

	generateUsageExample = `  # Generate after an interactive cost prompt
  designdoc generate ./myrepo --html

  # Skip the prompt and write to a chosen directory
  designdoc generate github.com/acme/widgets --yes --out ./docs

  # Rebuild the design doc from a saved summary tree
  designdoc generate --from generated/myrepo/summary.json`

	modelFlagDescription = "model tier name or model id used for the map stage and estimates"
	outFlagDescription   = "output directory (default <OUTPUT_DIR>/<repo name>)"
	yesFlagDescription   = "skip the cost confirmation prompt"
	htmlFlagDescription  = "also render design.html"
	fromFlagDescription  = "reduce an existing summary.json instead of reading a source"
	freshFlagDescription = "discard checkpointed model answers before running"
)

type runOptions struct {
	model string
	out   string
	yes   bool
	html  bool
	from  string
	fresh bool
}

func (a *App) tokenCommand() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:     tokenUse,
		Short:   "count tokens of every source file",
		Example: tokenUsageExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			est, err := a.estimate(cmd.Context(), args[0], tier)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), resultFormat, est.Tokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, modelFlagName, "", modelFlagDescription)
	return cmd
}

func (a *App) costCommand() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   costUse,
		Short: "estimate the input cost of summarizing every source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			est, err := a.estimate(cmd.Context(), args[0], tier)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), resultFormat, strconv.FormatFloat(est.Dollars, 'f', -1, 64))
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, modelFlagName, "", modelFlagDescription)
	return cmd
}

func (a *App) estimate(ctx context.Context, locator, tier string) (pipeline.CostEstimate, error) {
	log := a.logger("text")
	runner, _, err := a.runner(ctx, log, false, false)
	if err != nil {
		return pipeline.CostEstimate{}, err
	}
	return runner.EstimateLocator(ctx, locator, tier)
}

func (a *App) mapCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   mapUse,
		Short: "summarize every source file and write summary.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := a.logger("text")
			runner, cleanup, err := a.runner(cmd.Context(), log, true, opts.fresh)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := runner.MapOnly(cmd.Context(), pipeline.Request{
				Locator:   args[0],
				OutputDir: opts.out,
				MapTier:   opts.model,
				Confirm:   a.confirm(opts.yes),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), resultFormat, res.SummaryPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.model, modelFlagName, "", modelFlagDescription)
	cmd.Flags().StringVar(&opts.out, outFlagName, "", outFlagDescription)
	cmd.Flags().BoolVarP(&opts.yes, yesFlagName, "y", false, yesFlagDescription)
	cmd.Flags().BoolVar(&opts.fresh, freshFlagName, false, freshFlagDescription)
	return cmd
}

func (a *App) generateCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:     generateUse,
		Short:   "generate a design document for a repository",
		Example: generateUsageExample,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.from != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := a.logger("text")
			runner, cleanup, err := a.runner(cmd.Context(), log, true, opts.fresh)
			if err != nil {
				return err
			}
			defer cleanup()

			var res *pipeline.Result
			if opts.from != "" {
				res, err = runner.ReduceFromTree(cmd.Context(), opts.from, opts.out, opts.html)
			} else {
				res, err = runner.Run(cmd.Context(), pipeline.Request{
					Locator:   args[0],
					OutputDir: opts.out,
					MapTier:   opts.model,
					Confirm:   a.confirm(opts.yes),
					HTML:      opts.html,
				})
			}
			if err != nil {
				if res != nil && res.SummaryPath != "" {
					log.Warn("map results kept", "path", res.SummaryPath)
				}
				return err
			}
			if r := res.Report; r != nil {
				log.Info("done", "leaves", len(r.Leaves), "collapse_iterations", r.CollapseIterations)
			}
			fmt.Fprintf(cmd.OutOrStdout(), resultFormat, res.DesignPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.model, modelFlagName, "", modelFlagDescription)
	cmd.Flags().StringVar(&opts.out, outFlagName, "", outFlagDescription)
	cmd.Flags().BoolVarP(&opts.yes, yesFlagName, "y", false, yesFlagDescription)
	cmd.Flags().BoolVar(&opts.html, htmlFlagName, false, htmlFlagDescription)
	cmd.Flags().StringVar(&opts.from, fromFlagName, "", fromFlagDescription)
	cmd.Flags().BoolVar(&opts.fresh, freshFlagName, false, freshFlagDescription)
	return cmd
}

// confirm shows the estimate and asks before any model call. Without a
// terminal the run is declined unless yes is set.
func (a *App) confirm(yes bool) pipeline.ConfirmFunc {
	return func(_ context.Context, est pipeline.CostEstimate) (bool, error) {
		fmt.Fprintf(a.Stderr, "%s files, %s tokens on %s (%s): estimated input cost $%s\n",
			humanize.Comma(int64(est.Documents)),
			humanize.Comma(int64(est.Tokens)),
			est.Tier, est.Model,
			humanize.FormatFloat("#,###.####", est.Dollars))
		if yes {
			return true, nil
		}
		if a.IsTerminal == nil || !a.IsTerminal() {
			fmt.Fprintln(a.Stderr, "stdin is not a terminal; pass --yes to proceed")
			return false, nil
		}

		fmt.Fprint(a.Stderr, "Proceed? [y/N] ")
		line, err := bufio.NewReader(a.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
