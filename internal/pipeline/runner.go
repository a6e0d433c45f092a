package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dgallion1/designdoc/internal/config"
	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/source"
	"github.com/dgallion1/designdoc/internal/store"
	"github.com/dgallion1/designdoc/internal/summarize"
	"github.com/dgallion1/designdoc/internal/tokenizer"
)

// ErrNotConfirmed is returned when the cost confirmation is declined. No
// model call has been made and no file written.
var ErrNotConfirmed = errors.New("run not confirmed")

// CostEstimate is the pre-flight token count and price for a source.
type CostEstimate struct {
	Tokens    int     `json:"tokens"`
	Documents int     `json:"documents"`
	Tier      string  `json:"tier"`
	Model     string  `json:"model"`
	Dollars   float64 `json:"dollars"`
}

// ConfirmFunc decides whether to proceed after seeing the estimate.
type ConfirmFunc func(ctx context.Context, est CostEstimate) (bool, error)

// MaxCostConfirm accepts any estimate at or under limit.
func MaxCostConfirm(limit float64) ConfirmFunc {
	return func(_ context.Context, est CostEstimate) (bool, error) {
		return est.Dollars <= limit, nil
	}
}

// Request describes one run.
type Request struct {
	Locator string
	// OutputDir defaults to <OUTPUT_DIR>/<source name>.
	OutputDir string
	// MapTier overrides the configured map tier by name or model.
	MapTier string
	Confirm ConfirmFunc
	Hooks   summarize.Hooks
	HTML    bool
}

// Result lists what a run produced.
type Result struct {
	Estimate    CostEstimate      `json:"estimate"`
	Report      *summarize.Report `json:"-"`
	OutputDir   string            `json:"output_dir"`
	SummaryPath string            `json:"summary_path,omitempty"`
	DesignPath  string            `json:"design_path,omitempty"`
	HTMLPath    string            `json:"html_path,omitempty"`
}

// Runner wires sources, the summarizer and persistence together.
type Runner struct {
	cfg        config.Config
	catalog    *model.Catalog
	tok        *tokenizer.Tokenizer
	model      summarize.Model
	checkpoint summarize.Checkpoint
	log        *slog.Logger
}

func NewRunner(cfg config.Config, catalog *model.Catalog, tok *tokenizer.Tokenizer, m summarize.Model, cp summarize.Checkpoint, log *slog.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		catalog:    catalog,
		tok:        tok,
		model:      m,
		checkpoint: cp,
		log:        log,
	}
}

// SourceOptions builds source options from configuration.
func (r *Runner) SourceOptions() source.Options {
	return source.Options{
		Extensions:  r.cfg.SourceExtensions,
		IncludeDocs: r.cfg.IncludeDocs,
		IgnoreDirs:  r.cfg.IgnoreDirs,
		Token:       r.cfg.GitHubToken,
		BaseURL:     r.cfg.GitHubAPIURL,
		Log:         r.log,
	}
}

// Tier resolves a tier name, falling back to the configured map tier.
func (r *Runner) Tier(nameOrModel string) (model.Tier, error) {
	if nameOrModel == "" {
		nameOrModel = r.cfg.MapTier
	}
	return r.catalog.Lookup(nameOrModel)
}

// Estimate counts the tokens of every document under tier. Unreadable
// documents count as empty.
func (r *Runner) Estimate(ctx context.Context, src source.Source, tier model.Tier) (CostEstimate, error) {
	est := CostEstimate{Tier: tier.Name, Model: tier.Model}
	for doc, err := range src.Documents(ctx) {
		if err != nil {
			return est, err
		}
		n, err := r.tok.CountTokens(doc.Content, tier)
		if err != nil {
			return est, fmt.Errorf("count %s: %w", doc.Path, err)
		}
		est.Tokens += n
		est.Documents++
	}
	est.Dollars = tokenizer.EstimateCost(est.Tokens, tier)
	return est, nil
}

// EstimateLocator opens a locator and estimates it under the named tier.
func (r *Runner) EstimateLocator(ctx context.Context, locator, tierName string) (CostEstimate, error) {
	tier, err := r.Tier(tierName)
	if err != nil {
		return CostEstimate{}, err
	}
	src, err := source.Open(locator, r.SourceOptions())
	if err != nil {
		return CostEstimate{}, err
	}
	return r.Estimate(ctx, src, tier)
}

// summarizer builds a Summarizer for one run.
func (r *Runner) summarizer(mapTier string, hooks summarize.Hooks) (*summarize.Summarizer, error) {
	mt, err := r.Tier(mapTier)
	if err != nil {
		return nil, fmt.Errorf("map tier: %w", err)
	}
	ct, err := r.catalog.Lookup(r.cfg.CollapseTier)
	if err != nil {
		return nil, fmt.Errorf("collapse tier: %w", err)
	}
	rt, err := r.catalog.Lookup(r.cfg.ReduceTier)
	if err != nil {
		return nil, fmt.Errorf("reduce tier: %w", err)
	}
	return summarize.New(summarize.Config{
		MapTier:               mt,
		CollapseTier:          ct,
		ReduceTier:            rt,
		MaxConcurrentMap:      r.cfg.MaxConcurrentMap,
		MaxConcurrentCollapse: r.cfg.MaxConcurrentCollapse,
		TruncateTokenCeiling:  r.cfg.TruncateTokenCeiling,
		TruncateChars:         r.cfg.TruncateChars,
		OutputReserve:         r.cfg.OutputReserve,
		ReduceOutputReserve:   r.cfg.ReduceOutputReserve,
		MaxCollapseDepth:      r.cfg.MaxCollapseDepth,
	}, r.model, r.tok, r.log, summarize.WithCheckpoint(r.checkpoint), summarize.WithHooks(hooks))
}

// prepare opens the source, estimates it and asks for confirmation.
func (r *Runner) prepare(ctx context.Context, req Request) (source.Source, *summarize.Summarizer, CostEstimate, error) {
	src, err := source.Open(req.Locator, r.SourceOptions())
	if err != nil {
		return nil, nil, CostEstimate{}, err
	}
	sum, err := r.summarizer(req.MapTier, req.Hooks)
	if err != nil {
		return nil, nil, CostEstimate{}, err
	}
	est, err := r.Estimate(ctx, src, sum.Config().MapTier)
	if err != nil {
		return nil, nil, est, fmt.Errorf("estimate: %w", err)
	}
	r.log.Info("estimate", "locator", req.Locator, "documents", est.Documents, "tokens", est.Tokens, "dollars", est.Dollars, "tier", est.Tier)

	if req.Confirm != nil {
		ok, err := req.Confirm(ctx, est)
		if err != nil {
			return nil, nil, est, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return nil, nil, est, ErrNotConfirmed
		}
	}
	return src, sum, est, nil
}

func (r *Runner) outputDir(req Request) string {
	if req.OutputDir != "" {
		return req.OutputDir
	}
	return filepath.Join(r.cfg.OutputDir, RunName(req.Locator))
}

// Run executes estimate, confirmation, map, collapse and reduce. The summary
// tree is written before the aggregate stages start so that a failure there
// leaves the map results on disk.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	src, sum, est, err := r.prepare(ctx, req)
	res := &Result{Estimate: est}
	if err != nil {
		return res, err
	}
	res.OutputDir = r.outputDir(req)

	leaves, mapErr := sum.Map(ctx, src.Documents(ctx))
	res.Report = &summarize.Report{Leaves: leaves}
	if len(leaves) > 0 {
		res.SummaryPath = filepath.Join(res.OutputDir, store.SummaryFile)
		if err := TreeFromLeaves(leaves).SaveJSON(res.SummaryPath); err != nil {
			return res, fmt.Errorf("save summary: %w", err)
		}
	}
	if mapErr != nil {
		return res, mapErr
	}

	report, err := sum.Collapse(ctx, summarize.Entries(leaves))
	report.Leaves = leaves
	res.Report = report
	if err != nil {
		return res, err
	}
	if err := r.writeDesign(res, RunName(req.Locator), report.DesignDoc, req.HTML); err != nil {
		return res, err
	}
	return res, nil
}

// MapOnly runs the map stage and writes the summary tree.
func (r *Runner) MapOnly(ctx context.Context, req Request) (*Result, error) {
	src, sum, est, err := r.prepare(ctx, req)
	res := &Result{Estimate: est}
	if err != nil {
		return res, err
	}
	res.OutputDir = r.outputDir(req)

	leaves, mapErr := sum.Map(ctx, src.Documents(ctx))
	res.Report = &summarize.Report{Leaves: leaves}
	if len(leaves) > 0 {
		res.SummaryPath = filepath.Join(res.OutputDir, store.SummaryFile)
		if err := TreeFromLeaves(leaves).SaveJSON(res.SummaryPath); err != nil {
			return res, fmt.Errorf("save summary: %w", err)
		}
	}
	return res, mapErr
}

// ReduceFromTree runs collapse and reduce over a saved summary tree.
func (r *Runner) ReduceFromTree(ctx context.Context, treePath, outDir string, html bool) (*Result, error) {
	tree, err := store.LoadJSON(treePath)
	if err != nil {
		return nil, err
	}
	sum, err := r.summarizer("", summarize.Hooks{})
	if err != nil {
		return nil, err
	}
	if outDir == "" {
		outDir = filepath.Dir(treePath)
	}
	entries := make([]string, 0)
	for _, e := range tree.Flatten() {
		entries = append(entries, summarize.LeafEntry(e.Path, e.Summary))
	}

	res := &Result{OutputDir: outDir, SummaryPath: treePath}
	report, err := sum.Collapse(ctx, entries)
	res.Report = report
	if err != nil {
		return res, err
	}
	title := filepath.Base(filepath.Dir(treePath))
	if err := r.writeDesign(res, title, report.DesignDoc, html); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) writeDesign(res *Result, title, doc string, html bool) error {
	res.DesignPath = filepath.Join(res.OutputDir, store.DesignFile)
	if err := store.SaveText(res.DesignPath, doc); err != nil {
		return fmt.Errorf("save design doc: %w", err)
	}
	if html {
		res.HTMLPath = filepath.Join(res.OutputDir, store.HTMLFile)
		if err := store.SaveHTML(res.HTMLPath, title, doc); err != nil {
			return fmt.Errorf("save html: %w", err)
		}
	}
	r.log.Info("design doc written", "path", res.DesignPath)
	return nil
}

// TreeFromLeaves nests leaf summaries by path. It keeps exactly the leaves
// Entries renders, so reducing the saved tree sees the same input as a
// direct run.
func TreeFromLeaves(leaves []summarize.LeafResult) store.Tree {
	tree := store.Tree{}
	for _, l := range leaves {
		if !l.Aggregated() {
			continue
		}
		// Paths are unique within a run, so Insert only fails on a file
		// that shadows a directory, which a filesystem cannot produce.
		_ = tree.Insert(l.Path, l.Summary)
	}
	return tree
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// RunName derives a directory name from a locator.
func RunName(locator string) string {
	l := strings.TrimRight(locator, "/")
	l = strings.TrimSuffix(l, ".git")
	if _, rest, ok := strings.Cut(l, "github.com/"); ok {
		parts := strings.Split(rest, "/")
		if len(parts) >= 2 {
			l = parts[1]
		}
	} else {
		l = filepath.Base(filepath.Clean(l))
	}
	l = unsafeName.ReplaceAllString(l, "_")
	if l == "" || l == "." || l == ".." || l == "_" {
		return "run"
	}
	return l
}
