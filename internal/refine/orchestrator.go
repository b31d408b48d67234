// Package refine runs the bounded plan, generate, judge loop behind
// /query_plus and the single-shot path behind /query.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"repoquery/internal/jsonutil"
	"repoquery/internal/llmclient"
	"repoquery/internal/prompts"
	"repoquery/internal/types"
)

const (
	DefaultMaxLoops   = 2
	DefaultNumSamples = 2

	// EarlyStopScore ends iteration as soon as any verdict reaches it.
	EarlyStopScore = 85
)

var ErrAllFailed = errors.New("refine: every generation attempt failed")

// Analyzer, Retriever, Selector and ClientSource are the collaborators the
// orchestrator drives. They are interfaces so tests can substitute fakes.
type Analyzer interface {
	Analyze(query string) types.QueryAnalysis
}

type Retriever interface {
	Retrieve(ctx context.Context, qa types.QueryAnalysis, topK int) (types.RetrievalContext, error)
}

type Selector interface {
	Select(qa types.QueryAnalysis) (types.ModelDescriptor, error)
}

type ClientSource interface {
	For(ctx context.Context, desc types.ModelDescriptor) (llmclient.Client, error)
}

// Options bound one refinement run.
type Options struct {
	TopK         int
	NumSamples   int
	MaxLoops     int
	MaxNewTokens int
	Temperature  float64
}

func (o Options) normalized() Options {
	if o.NumSamples <= 0 {
		o.NumSamples = DefaultNumSamples
	}
	if o.MaxLoops <= 0 {
		o.MaxLoops = DefaultMaxLoops
	}
	return o
}

// Result is the terminal state of a run.
type Result struct {
	RunID       string             `json:"run_id"`
	Model       string             `json:"model"`
	Strategy    string             `json:"strategy"`
	Retrieved   int                `json:"retrieved"`
	Answer      types.Answer       `json:"result"`
	Spec        types.TaskSpec     `json:"task_spec"`
	BestVerdict *types.Verdict     `json:"best_verdict,omitempty"`
	Best        *types.Candidate   `json:"best_candidate,omitempty"`
	Trail       []types.LoopRecord `json:"trail"`
}

// state is owned by exactly one run and discarded with it.
type state struct {
	loop        int
	best        *candidate
	bestVerdict *types.Verdict
	signals     []string
}

type candidate struct {
	types.Candidate
	parsed prompts.AnswerResponse
	ok     bool
}

// Orchestrator coordinates the collaborators for both query paths.
type Orchestrator struct {
	analyzer  Analyzer
	retriever Retriever
	selector  Selector
	clients   ClientSource
	sink      Sink
}

func New(a Analyzer, r Retriever, s Selector, c ClientSource, sink Sink) *Orchestrator {
	if sink == nil {
		sink = NopSink
	}
	return &Orchestrator{analyzer: a, retriever: r, selector: s, clients: c, sink: sink}
}

// Answer is the single-shot path: analyze, retrieve, one generation call,
// parse. Metadata-only queries skip generation entirely.
func (o *Orchestrator) Answer(ctx context.Context, query string, opts Options) (Result, error) {
	qa := o.analyzer.Analyze(query)
	rc, err := o.retriever.Retrieve(ctx, qa, opts.TopK)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RunID:     uuid.NewString(),
		Strategy:  rc.Strategy,
		Retrieved: rc.TotalChunks,
	}

	if rc.Strategy == types.StrategyMetadata {
		res.Model = "none"
		res.Answer = types.Answer{Analysis: rc.Summary, Confidence: 1}
		return res, nil
	}

	desc, err := o.selector.Select(qa)
	if err != nil {
		return Result{}, err
	}
	res.Model = desc.Name
	cli, err := o.clients.For(ctx, desc)
	if err != nil {
		return Result{}, err
	}

	raw, err := cli.Generate(ctx, llmclient.RoleAnswer, prompts.Answer(qa, rc), o.params(opts, desc))
	if err != nil {
		return Result{}, fmt.Errorf("refine: generation failed: %w", err)
	}
	res.Answer = parseAnswer(raw, qa.Confidence)
	return res, nil
}

// Refine runs PLAN, then up to MaxLoops ITERATE rounds, then DONE.
func (o *Orchestrator) Refine(ctx context.Context, query string, opts Options) (Result, error) {
	opts = opts.normalized()
	runID := uuid.NewString()
	o.sink.Publish(Event{RunID: runID, Type: EventRunStarted, Message: query, At: time.Now()})

	qa := o.analyzer.Analyze(query)
	desc, err := o.selector.Select(qa)
	if err != nil {
		return Result{}, err
	}
	cli, err := o.clients.For(ctx, desc)
	if err != nil {
		return Result{}, err
	}
	params := o.params(opts, desc)

	// PLAN: one planner call over the raw-query context. Failures degrade to
	// a goal-only spec and never block generation.
	planCtx, err := o.retriever.Retrieve(ctx, qa, opts.TopK)
	if err != nil {
		return Result{}, err
	}
	spec := o.plan(ctx, cli, query, planCtx, params)
	o.sink.Publish(Event{RunID: runID, Type: EventPlanDone, Message: spec.Goal, At: time.Now()})

	st := &state{signals: spec.Signals()}
	var trail []types.LoopRecord
	strategy := planCtx.Strategy

	for st.loop = 1; st.loop <= opts.MaxLoops; st.loop++ {
		o.sink.Publish(Event{RunID: runID, Type: EventLoopStart, Loop: st.loop, At: time.Now()})
		started := time.Now()

		// Refined retrieval re-runs strategy selection over the query plus
		// the planner's signals instead of reusing the PLAN context.
		refined := query
		if len(st.signals) > 0 {
			refined = query + " " + strings.Join(st.signals, " ")
		}
		loopQA := o.analyzer.Analyze(refined)
		rc, err := o.retriever.Retrieve(ctx, loopQA, opts.TopK)
		if err != nil {
			rc = planCtx
		}
		strategy = rc.Strategy

		cands, failed := o.generate(ctx, runID, cli, spec, rc, params, opts.NumSamples, st.loop)
		rec := types.LoopRecord{
			Loop:      st.loop,
			Strategy:  rc.Strategy,
			Generated: len(cands),
			Failed:    failed,
		}

		for i := range cands {
			v, err := o.judge(ctx, cli, spec, &cands[i], params)
			if err != nil {
				log.Printf("refine: judge loop=%d sample=%d: %v", st.loop, cands[i].Sample, err)
				continue
			}
			rec.Verdicts = append(rec.Verdicts, v)
			o.sink.Publish(Event{RunID: runID, Type: EventVerdict, Loop: st.loop, Sample: cands[i].Sample, Score: v.Score, At: time.Now()})
			// Strict improvement only: ties keep the earlier candidate.
			if st.bestVerdict == nil || v.Score > st.bestVerdict.Score {
				c := cands[i]
				vv := v
				st.best = &c
				st.bestVerdict = &vv
			}
		}

		if st.bestVerdict != nil {
			rec.BestScore = st.bestVerdict.Score
		}
		rec.EarlyStop = st.bestVerdict != nil && st.bestVerdict.Score >= EarlyStopScore
		rec.DurationMS = time.Since(started).Milliseconds()
		trail = append(trail, rec)
		o.sink.Publish(Event{RunID: runID, Type: EventLoopDone, Loop: st.loop, Score: rec.BestScore, At: time.Now()})

		if rec.EarlyStop {
			break
		}
	}

	res := Result{
		RunID:     runID,
		Model:     desc.Name,
		Strategy:  strategy,
		Retrieved: planCtx.TotalChunks,
		Spec:      spec,
		Trail:     trail,
	}

	if st.best == nil {
		// Every candidate failed: fall back to the single-shot analysis
		// wrapper instead of erroring out.
		raw, err := cli.Generate(ctx, llmclient.RoleAnswer, prompts.Answer(qa, planCtx), params)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrAllFailed, err)
		}
		res.Answer = parseAnswer(raw, qa.Confidence)
		o.sink.Publish(Event{RunID: runID, Type: EventRunDone, Message: "fallback", At: time.Now()})
		return res, nil
	}

	res.Best = &st.best.Candidate
	res.BestVerdict = st.bestVerdict
	res.Answer = answerOf(*st.best, st.bestVerdict)
	o.sink.Publish(Event{RunID: runID, Type: EventRunDone, Score: st.bestVerdict.Score, At: time.Now()})
	return res, nil
}

func (o *Orchestrator) plan(ctx context.Context, cli llmclient.Client, query string, rc types.RetrievalContext, params llmclient.Params) types.TaskSpec {
	params.JSON = true
	raw, err := cli.Generate(ctx, llmclient.RolePlanner, prompts.Planner(query, rc), params)
	if err != nil {
		log.Printf("refine: planner call failed, degrading to goal-only spec: %v", err)
		return types.TaskSpec{Goal: query}
	}
	var pr prompts.PlanResponse
	if err := jsonutil.DecodeModel(raw, &pr); err != nil || strings.TrimSpace(pr.Goal) == "" {
		log.Printf("refine: planner output unparseable, degrading to goal-only spec")
		return types.TaskSpec{Goal: query}
	}
	return types.TaskSpec{
		Goal:        pr.Goal,
		Constraints: pr.Constraints,
		Acceptance:  pr.Acceptance,
		Keywords:    pr.TargetSignals,
		FileHints:   pr.HintPaths,
	}
}

// generate issues numSamples independent coder calls. A failure in one does
// not cancel the others; failed generations are counted, not judged.
func (o *Orchestrator) generate(ctx context.Context, runID string, cli llmclient.Client, spec types.TaskSpec, rc types.RetrievalContext, params llmclient.Params, numSamples, loop int) ([]candidate, int) {
	params.JSON = true
	prompt := prompts.Coder(spec, rc)

	outs := make([]*candidate, numSamples)
	var wg sync.WaitGroup
	for i := 0; i < numSamples; i++ {
		wg.Add(1)
		go func(sample int) {
			defer wg.Done()
			raw, err := cli.Generate(ctx, llmclient.RoleCoder, prompt, params)
			if err != nil {
				log.Printf("refine: coder loop=%d sample=%d: %v", loop, sample, err)
				return
			}
			c := candidate{Candidate: types.Candidate{Loop: loop, Sample: sample, Text: raw}}
			if err := jsonutil.DecodeModel(raw, &c.parsed); err == nil {
				c.ok = true
				c.Analysis = c.parsed.Analysis
				if len(c.parsed.Changes) > 0 {
					c.Diff = c.parsed.Changes[0].Diff
				}
			} else {
				// Unparseable output still competes as an analysis wrapper.
				c.Analysis = raw
			}
			outs[sample] = &c
		}(i)
	}
	wg.Wait()

	var cands []candidate
	failed := 0
	for _, c := range outs {
		if c == nil {
			failed++
			continue
		}
		cands = append(cands, *c)
		o.sink.Publish(Event{RunID: runID, Type: EventCandidate, Loop: loop, Sample: c.Sample, At: time.Now()})
	}
	return cands, failed
}

func (o *Orchestrator) judge(ctx context.Context, cli llmclient.Client, spec types.TaskSpec, c *candidate, params llmclient.Params) (types.Verdict, error) {
	params.JSON = true
	raw, err := cli.Generate(ctx, llmclient.RoleJudge, prompts.Judge(spec, c.Text), params)
	if err != nil {
		return types.Verdict{}, err
	}
	var jr prompts.JudgeResponse
	if err := jsonutil.DecodeModel(raw, &jr); err != nil {
		return types.Verdict{}, fmt.Errorf("refine: judge output unparseable: %w", err)
	}
	if jr.Score < 0 {
		jr.Score = 0
	}
	if jr.Score > 100 {
		jr.Score = 100
	}
	return types.Verdict{
		Score:   jr.Score,
		Pass:    strings.EqualFold(jr.Verdict, "pass"),
		Reasons: jr.Reasons,
		Risks:   jr.Risks,
	}, nil
}

func (o *Orchestrator) params(opts Options, desc types.ModelDescriptor) llmclient.Params {
	temp := opts.Temperature
	if temp == 0 {
		temp = desc.Temperature
	}
	return llmclient.Params{
		MaxNewTokens: opts.MaxNewTokens,
		Temperature:  temp,
		JSON:         true,
	}
}

func parseAnswer(raw string, confidence float64) types.Answer {
	var ar prompts.AnswerResponse
	if err := jsonutil.DecodeModel(raw, &ar); err != nil {
		// Raw text still reaches the caller as an analysis wrapper.
		return types.Answer{Analysis: raw, Confidence: confidence}
	}
	return types.Answer{
		Analysis:   ar.Analysis,
		Plan:       ar.Plan,
		Changes:    changesOf(ar.Changes),
		Confidence: confidence,
	}
}

func answerOf(c candidate, v *types.Verdict) types.Answer {
	conf := 0.0
	if v != nil {
		conf = float64(v.Score) / 100
	}
	if !c.ok {
		return types.Answer{Analysis: c.Analysis, Confidence: conf}
	}
	return types.Answer{
		Analysis:   c.parsed.Analysis,
		Plan:       c.parsed.Plan,
		Changes:    changesOf(c.parsed.Changes),
		Confidence: conf,
	}
}

func changesOf(items []prompts.ChangeItem) []types.Change {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.Change, len(items))
	for i, it := range items {
		out[i] = types.Change{
			FilePath:  it.Path,
			Type:      "edit",
			Diff:      it.Diff,
			Reasoning: it.Rationale,
		}
	}
	return out
}
