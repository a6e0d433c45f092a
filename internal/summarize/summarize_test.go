package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/designdoc/internal/model"
	"github.com/dgallion1/designdoc/internal/source"
)

// wordCounter counts whitespace-separated words so budgets are easy to reason
// about in tests.
type wordCounter struct{}

func (wordCounter) CountTokens(text string, _ model.Tier) (int, error) {
	return len(strings.Fields(text)), nil
}

type transientErr struct{}

func (transientErr) Error() string   { return "rate limited" }
func (transientErr) Retryable() bool { return true }

// fakeModel answers by stage. Map summaries are four words, collapse
// summaries are "merged" plus the first word of the batch, and reduce echoes
// its input.
type fakeModel struct {
	mu       sync.Mutex
	calls    map[string]int
	prompts  []string
	failPath map[string]error
	failStg  map[string]error
	flaky    map[string]int
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		calls:    map[string]int{},
		failPath: map[string]error{},
		failStg:  map[string]error{},
		flaky:    map[string]int{},
	}
}

func stageOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Give one line"):
		return StageMap
	case strings.HasPrefix(prompt, "Give a concise"):
		return StageCollapse
	default:
		return StageReduce
	}
}

func (m *fakeModel) Complete(ctx context.Context, _ model.Tier, prompt string, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stage := stageOf(prompt)
	lines := strings.Split(prompt, "\n")

	m.mu.Lock()
	m.calls[stage]++
	m.prompts = append(m.prompts, prompt)
	if err, ok := m.failStg[stage]; ok {
		m.mu.Unlock()
		return "", err
	}
	if stage == StageMap {
		path := lines[1]
		if err, ok := m.failPath[path]; ok {
			m.mu.Unlock()
			return "", err
		}
		if m.flaky[path] > 0 {
			m.flaky[path]--
			m.mu.Unlock()
			return "", transientErr{}
		}
	}
	m.mu.Unlock()

	switch stage {
	case StageMap:
		return "alpha beta gamma delta", nil
	case StageCollapse:
		return "merged " + strings.Fields(lines[1])[0], nil
	default:
		_, body, _ := strings.Cut(prompt, "Encoded codebase is:\n")
		return "DOC\n" + strings.TrimSpace(body), nil
	}
}

func (m *fakeModel) count(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[stage]
}

type memCheckpoint struct {
	mu   sync.Mutex
	vals map[string]string
}

func (c *memCheckpoint) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	return v, ok, nil
}

func (c *memCheckpoint) Put(_ context.Context, key, _, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = value
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func words(s string) int { n, _ := wordCounter{}.CountTokens(s, model.Tier{}); return n }

// testConfig sizes the collapse window so that it holds exactly
// collapseRoom words of entries and the reduce window so that it holds
// reduceRoom words.
func testConfig(collapseRoom, reduceRoom int) Config {
	const reserve = 10
	return Config{
		MapTier:               model.Tier{Name: "map", Model: "m-small", ContextWindow: 10000},
		CollapseTier:          model.Tier{Name: "collapse", Model: "m-small", ContextWindow: words(BuildCollapsePrompt(nil)) + reserve + collapseRoom},
		ReduceTier:            model.Tier{Name: "reduce", Model: "m-large", ContextWindow: words(BuildReducePrompt(nil)) + reserve + reduceRoom},
		MaxConcurrentMap:      4,
		MaxConcurrentCollapse: 2,
		OutputReserve:         reserve,
		ReduceOutputReserve:   reserve,
	}
}

func seqOf(docs ...source.Document) iter.Seq2[source.Document, error] {
	return func(yield func(source.Document, error) bool) {
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func docsN(n int) []source.Document {
	docs := make([]source.Document, n)
	for i := range docs {
		docs[i] = source.Document{Path: fmt.Sprintf("f%d.py", i), Content: "def f(): pass"}
	}
	return docs
}

func newTestSummarizer(t *testing.T, cfg Config, m Model, opts ...Option) *Summarizer {
	t.Helper()
	opts = append([]Option{WithBackoff(func(int) time.Duration { return 0 })}, opts...)
	s, err := New(cfg, m, wordCounter{}, discard(), opts...)
	require.NoError(t, err)
	return s
}

func TestPack(t *testing.T) {
	tests := []struct {
		name     string
		costs    []int
		capacity int
		want     [][]int
	}{
		{"even split", []int{5, 5, 5, 5}, 12, [][]int{{0, 1}, {2, 3}}},
		{"exact fit", []int{4, 6, 5}, 10, [][]int{{0, 1}, {2}}},
		{"oversized alone", []int{3, 20, 3}, 10, [][]int{{0}, {1}, {2}}},
		{"all in one", []int{1, 2, 3}, 100, [][]int{{0, 1, 2}}},
		{"empty", nil, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Pack(tt.costs, tt.capacity))
		})
	}
}

func TestPackDeterministic(t *testing.T) {
	costs := []int{7, 3, 9, 1, 4, 4, 8, 2}
	first := Pack(costs, 11)
	for range 20 {
		assert.Equal(t, first, Pack(costs, 11))
	}
}

func TestRunSmallRepoSkipsCollapse(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	report, err := s.Run(context.Background(), seqOf(docsN(3)...))
	require.NoError(t, err)

	assert.Equal(t, 3, m.count(StageMap))
	assert.Equal(t, 0, m.count(StageCollapse))
	assert.Equal(t, 1, m.count(StageReduce))
	assert.Equal(t, 0, report.CollapseIterations)
	assert.Equal(t, "DOC\nf0.py: alpha beta gamma delta\n\nf1.py: alpha beta gamma delta\n\nf2.py: alpha beta gamma delta", report.DesignDoc)
	require.Len(t, report.Leaves, 3)
	for i, l := range report.Leaves {
		assert.Equal(t, i, l.Index)
		assert.Equal(t, OutcomeOK, l.Outcome)
	}
}

func TestCollapseIterationCount(t *testing.T) {
	// Each leaf entry is five words. Eight entries need 40 words.
	tests := []struct {
		name       string
		reduceRoom int
		iterations int
		levelSizes []int
	}{
		{"fits directly", 40, 0, nil},
		{"one level", 12, 1, []int{4}},
		{"two levels", 6, 2, []int{4, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeModel()
			s := newTestSummarizer(t, testConfig(10, tt.reduceRoom), m)

			report, err := s.Run(context.Background(), seqOf(docsN(8)...))
			require.NoError(t, err)
			assert.Equal(t, tt.iterations, report.CollapseIterations)
			var sizes []int
			for _, lvl := range report.Levels {
				sizes = append(sizes, len(lvl))
			}
			assert.Equal(t, tt.levelSizes, sizes)
			assert.Equal(t, 1, m.count(StageReduce))
		})
	}
}

func TestCollapseBatchesFollowPackOrder(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(10, 12), m)

	report, err := s.Run(context.Background(), seqOf(docsN(8)...))
	require.NoError(t, err)
	require.Len(t, report.Levels, 1)
	assert.Equal(t, []string{"merged f0.py:", "merged f2.py:", "merged f4.py:", "merged f6.py:"}, report.Levels[0])
}

func TestRunIsByteIdentical(t *testing.T) {
	run := func() *Report {
		s := newTestSummarizer(t, testConfig(10, 6), newFakeModel())
		report, err := s.Run(context.Background(), seqOf(docsN(13)...))
		require.NoError(t, err)
		return report
	}
	first := run()
	for range 3 {
		again := run()
		assert.Equal(t, first.DesignDoc, again.DesignDoc)
		assert.Equal(t, first.Levels, again.Levels)
		assert.Equal(t, first.CollapseIterations, again.CollapseIterations)
	}
}

func TestMapFailureIsIsolated(t *testing.T) {
	m := newFakeModel()
	m.failPath["f1.py"] = errors.New("content policy violation")
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	report, err := s.Run(context.Background(), seqOf(docsN(3)...))
	require.NoError(t, err)

	require.Len(t, report.Leaves, 3)
	assert.Equal(t, OutcomeOK, report.Leaves[0].Outcome)
	assert.Equal(t, OutcomeModelError, report.Leaves[1].Outcome)
	assert.Equal(t, OutcomeOK, report.Leaves[2].Outcome)

	var mie *ModelInvocationError
	require.True(t, errors.As(report.Leaves[1].Err, &mie))
	assert.Equal(t, StageMap, mie.Stage)
	assert.Equal(t, "f1.py", mie.Path)
	assert.Contains(t, report.Leaves[1].Summary, "content policy violation")
	assert.Equal(t, "alpha beta gamma delta", report.Leaves[2].Summary)
	assert.Contains(t, report.DesignDoc, "f2.py: alpha beta gamma delta")
}

func TestMapRetriesTransientErrors(t *testing.T) {
	m := newFakeModel()
	m.flaky["f0.py"] = 2
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	leaves, err := s.Map(context.Background(), seqOf(docsN(1)...))
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, OutcomeOK, leaves[0].Outcome)
	assert.Equal(t, 3, m.count(StageMap))
}

func TestMapGivesUpAfterMaxRetries(t *testing.T) {
	m := newFakeModel()
	m.flaky["f0.py"] = 10
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	leaves, err := s.Map(context.Background(), seqOf(docsN(1)...))
	require.NoError(t, err)
	assert.Equal(t, OutcomeModelError, leaves[0].Outcome)
	assert.Equal(t, MaxRetries, m.count(StageMap))
}

func TestMapTruncatesLongDocuments(t *testing.T) {
	m := newFakeModel()
	cfg := testConfig(100, 1000)
	cfg.TruncateTokenCeiling = 5
	cfg.TruncateChars = 11
	s := newTestSummarizer(t, cfg, m)

	long := source.Document{Path: "big.py", Content: "one two three four five six seven eight"}
	short := source.Document{Path: "small.py", Content: "one two"}
	leaves, err := s.Map(context.Background(), seqOf(long, short))
	require.NoError(t, err)

	assert.True(t, leaves[0].Truncated)
	assert.Equal(t, 8, leaves[0].Tokens)
	assert.False(t, leaves[1].Truncated)

	var bigPrompt string
	for _, p := range m.prompts {
		if strings.Contains(p, "big.py") {
			bigPrompt = p
		}
	}
	assert.Contains(t, bigPrompt, "big.py\none two thr\n")
	assert.NotContains(t, bigPrompt, "four")
}

func TestMapSkipsPromptsOverBudget(t *testing.T) {
	m := newFakeModel()
	cfg := testConfig(100, 1000)
	cfg.MapTier.ContextWindow = words(BuildMapPrompt("x.py", "")) + cfg.OutputReserve + 3
	s := newTestSummarizer(t, cfg, m)

	fits := source.Document{Path: "a.py", Content: "one two"}
	over := source.Document{Path: "b.py", Content: "one two three four"}
	report, err := s.Run(context.Background(), seqOf(fits, over))
	require.NoError(t, err)

	assert.Equal(t, OutcomeOK, report.Leaves[0].Outcome)
	assert.Equal(t, OutcomeSkipped, report.Leaves[1].Outcome)
	var overflow *BudgetOverflowError
	require.True(t, errors.As(report.Leaves[1].Err, &overflow))
	assert.Equal(t, "b.py", overflow.Path)
	assert.Equal(t, 1, m.count(StageMap))
	assert.NotContains(t, report.DesignDoc, "b.py")
}

func TestLeafAggregated(t *testing.T) {
	tests := []struct {
		name string
		leaf LeafResult
		want bool
	}{
		{"ok", LeafResult{Outcome: OutcomeOK}, true},
		{"model error", LeafResult{Outcome: OutcomeModelError, Err: errors.New("quota")}, true},
		{"canceled", LeafResult{Outcome: OutcomeModelError, Err: &ModelInvocationError{Stage: StageMap, Err: context.Canceled}}, false},
		{"deadline", LeafResult{Outcome: OutcomeModelError, Err: fmt.Errorf("call: %w", context.DeadlineExceeded)}, false},
		{"unreadable", LeafResult{Outcome: OutcomeUnreadable, Err: errors.New("not utf-8")}, false},
		{"skipped", LeafResult{Outcome: OutcomeSkipped}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.leaf.Aggregated())
		})
	}
}

func TestMapUnreadableMakesNoModelCall(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	bad := source.Document{Path: "bin.py", Unreadable: true, ReadErr: errors.New("not utf-8")}
	report, err := s.Run(context.Background(), seqOf(bad, docsN(1)[0]))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnreadable, report.Leaves[0].Outcome)
	assert.Contains(t, report.Leaves[0].Summary, "unreadable")
	assert.Equal(t, 1, m.count(StageMap))
	assert.NotContains(t, report.DesignDoc, "bin.py")
}

func TestMapCancelledBeforeDispatch(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	leaves, err := s.Map(ctx, seqOf(docsN(5)...))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, leaves)
	assert.Equal(t, 0, m.count(StageMap))
}

func TestMapStopsDispatchingOnCancel(t *testing.T) {
	m := newFakeModel()
	cfg := testConfig(100, 1000)
	cfg.MaxConcurrentMap = 1
	s := newTestSummarizer(t, cfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	docs := docsN(10)
	seq := func(yield func(source.Document, error) bool) {
		for i, d := range docs {
			if i == 3 {
				cancel()
			}
			if !yield(d, nil) {
				return
			}
		}
	}
	leaves, err := s.Map(ctx, seq)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, leaves, 3)
	for i, l := range leaves {
		assert.Equal(t, i, l.Index)
	}
}

func TestMapSourceErrorStopsRun(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	boom := errors.New("walk failed")
	seq := func(yield func(source.Document, error) bool) {
		if !yield(docsN(1)[0], nil) {
			return
		}
		yield(source.Document{}, boom)
	}
	report, err := s.Run(context.Background(), seq)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, report.Leaves, 1)
	assert.Equal(t, 0, m.count(StageReduce))
}

func TestCollapseFailureIsFatal(t *testing.T) {
	m := newFakeModel()
	m.failStg[StageCollapse] = errors.New("bad request")
	s := newTestSummarizer(t, testConfig(10, 12), m)

	report, err := s.Run(context.Background(), seqOf(docsN(8)...))
	var mie *ModelInvocationError
	require.True(t, errors.As(err, &mie))
	assert.Equal(t, StageCollapse, mie.Stage)
	assert.Equal(t, 0, mie.Level)
	assert.Len(t, report.Leaves, 8)
	assert.Empty(t, report.DesignDoc)
	assert.Equal(t, 0, m.count(StageReduce))
}

func TestReduceFailureIsFatal(t *testing.T) {
	m := newFakeModel()
	m.failStg[StageReduce] = errors.New("server overloaded")
	s := newTestSummarizer(t, testConfig(100, 1000), m)

	_, err := s.Run(context.Background(), seqOf(docsN(2)...))
	var mie *ModelInvocationError
	require.True(t, errors.As(err, &mie))
	assert.Equal(t, StageReduce, mie.Stage)
}

func TestCollapseNothingToReduce(t *testing.T) {
	s := newTestSummarizer(t, testConfig(100, 1000), newFakeModel())
	_, err := s.Collapse(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestCollapseClipsOversizedSummary(t *testing.T) {
	m := newFakeModel()
	s := newTestSummarizer(t, testConfig(10, 4), m)

	huge := "root: " + strings.Repeat("word ", 50)
	report, err := s.Collapse(context.Background(), []string{huge})
	require.NoError(t, err)
	assert.Equal(t, 1, report.CollapseIterations)

	var collapsePrompt string
	for _, p := range m.prompts {
		if stageOf(p) == StageCollapse {
			collapsePrompt = p
		}
	}
	assert.LessOrEqual(t, words(collapsePrompt), s.cfg.CollapseTier.ContextWindow-s.cfg.OutputReserve)
}

// denseCounter charges 1000 tokens for any word longer than 20 characters,
// so no prefix of such a word fits a small window.
type denseCounter struct{}

func (denseCounter) CountTokens(text string, _ model.Tier) (int, error) {
	n := 0
	for _, w := range strings.Fields(text) {
		if len(w) > 20 {
			n += 1000
			continue
		}
		n++
	}
	return n, nil
}

func TestCollapseUnclippableSummaryIsAnError(t *testing.T) {
	m := newFakeModel()
	s, err := New(testConfig(10, 4), m, denseCounter{}, discard(), WithBackoff(func(int) time.Duration { return 0 }))
	require.NoError(t, err)

	entries := []string{"a.go: " + strings.Repeat("x", 40), "b.go: reads input"}
	_, err = s.Collapse(context.Background(), entries)

	var overflow *BudgetOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "collapse level 0 entry 0", overflow.Path)
	assert.Equal(t, 1001, overflow.Tokens)
	assert.Equal(t, 10, overflow.Limit)
	assert.Zero(t, m.count(StageCollapse))
	assert.Zero(t, m.count(StageReduce))
}

func TestCheckpointResumesWithoutModelCalls(t *testing.T) {
	cp := &memCheckpoint{vals: map[string]string{}}

	first := newFakeModel()
	s := newTestSummarizer(t, testConfig(10, 6), first, WithCheckpoint(cp))
	want, err := s.Run(context.Background(), seqOf(docsN(8)...))
	require.NoError(t, err)
	require.Positive(t, first.count(StageMap))

	second := newFakeModel()
	s = newTestSummarizer(t, testConfig(10, 6), second, WithCheckpoint(cp))
	got, err := s.Run(context.Background(), seqOf(docsN(8)...))
	require.NoError(t, err)

	assert.Equal(t, want.DesignDoc, got.DesignDoc)
	assert.Equal(t, 0, second.count(StageMap)+second.count(StageCollapse)+second.count(StageReduce))
}

func TestHooksSeeEveryLeafAndStage(t *testing.T) {
	var mu sync.Mutex
	var leaves []string
	var stages []string
	hooks := Hooks{
		OnLeaf: func(l LeafResult) {
			mu.Lock()
			leaves = append(leaves, l.Path)
			mu.Unlock()
		},
		OnStage: func(stage string, level, _ int) {
			stages = append(stages, fmt.Sprintf("%s/%d", stage, level))
		},
	}
	s := newTestSummarizer(t, testConfig(10, 12), newFakeModel(), WithHooks(hooks))
	_, err := s.Run(context.Background(), seqOf(docsN(8)...))
	require.NoError(t, err)

	assert.Len(t, leaves, 8)
	assert.Equal(t, []string{"map/0", "collapse/0", "reduce/1"}, stages)
}

func TestConfigValidateRejectsReserveOverWindow(t *testing.T) {
	cfg := testConfig(10, 10)
	cfg.ReduceOutputReserve = cfg.ReduceTier.ContextWindow
	_, err := New(cfg, newFakeModel(), wordCounter{}, discard())
	assert.Error(t, err)
}
