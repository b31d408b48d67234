package refine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"repoquery/internal/llmclient"
	"repoquery/internal/types"
)

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(query string) types.QueryAnalysis {
	return types.QueryAnalysis{
		Original:   query,
		Intent:     types.IntentChanges,
		Complexity: types.ComplexityComplex,
		Confidence: 0.8,
	}
}

type fakeRetriever struct {
	mu       sync.Mutex
	calls    int
	strategy string
}

func (f *fakeRetriever) Retrieve(_ context.Context, qa types.QueryAnalysis, topK int) (types.RetrievalContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	strategy := f.strategy
	if strategy == "" {
		strategy = types.StrategySemantic
	}
	return types.RetrievalContext{
		Chunks:      []types.CodeChunk{{ID: "c000000", FilePath: "a.go", Content: "package a"}},
		TotalChunks: 1,
		FileCount:   1,
		Strategy:    strategy,
	}, nil
}

type fakeSelector struct{}

func (fakeSelector) Select(types.QueryAnalysis) (types.ModelDescriptor, error) {
	return types.ModelDescriptor{Name: "fake-model", Provider: "fake"}, nil
}

// scriptedLLM routes each role to a scripted response function; callIdx is
// per role, starting at 0.
type scriptedLLM struct {
	mu     sync.Mutex
	counts map[string]int
	script map[string]func(callIdx int) (string, error)
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{counts: map[string]int{}, script: map[string]func(int) (string, error){}}
}

func (s *scriptedLLM) Name() string { return "scripted" }
func (s *scriptedLLM) Close() error { return nil }

func (s *scriptedLLM) Generate(_ context.Context, role, prompt string, _ llmclient.Params) (string, error) {
	s.mu.Lock()
	idx := s.counts[role]
	s.counts[role]++
	fn := s.script[role]
	s.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("no script for role %q", role)
	}
	return fn(idx)
}

func (s *scriptedLLM) callCount(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[role]
}

type fakeClients struct {
	cli llmclient.Client
}

func (f fakeClients) For(context.Context, types.ModelDescriptor) (llmclient.Client, error) {
	return f.cli, nil
}

const goodPlan = `{"goal":"add a flag","target_signals":["flag"],"constraints":["keep API"],"acceptance":["tests pass"],"hint_paths":["a.go"]}`
const goodCandidate = `{"analysis":"looks fine","plan":"edit a.go","changes":[{"path":"a.go","rationale":"add flag","diff":"--- a.go\n+++ a.go\n"}]}`

func judgeJSON(score int) string {
	verdict := "fail"
	if score >= 70 {
		verdict = "pass"
	}
	return fmt.Sprintf(`{"score":%d,"verdict":"%s","reasons":["r"],"risks":[]}`, score, verdict)
}

func newOrchestrator(llm *scriptedLLM, ret *fakeRetriever) *Orchestrator {
	return New(fakeAnalyzer{}, ret, fakeSelector{}, fakeClients{cli: llm}, nil)
}

func TestRefineEarlyStop(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return goodPlan, nil }
	llm.script[llmclient.RoleCoder] = func(int) (string, error) { return goodCandidate, nil }
	llm.script[llmclient.RoleJudge] = func(i int) (string, error) {
		if i == 0 {
			return judgeJSON(70), nil
		}
		return judgeJSON(90), nil
	}
	ret := &fakeRetriever{}
	o := newOrchestrator(llm, ret)

	res, err := o.Refine(context.Background(), "add a flag to a.go", Options{NumSamples: 2, MaxLoops: 2})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}

	if len(res.Trail) != 1 {
		t.Fatalf("trail: got %d loops want 1 (early stop)", len(res.Trail))
	}
	if !res.Trail[0].EarlyStop {
		t.Fatalf("expected early stop flag on loop 1")
	}
	if res.BestVerdict == nil || res.BestVerdict.Score != 90 {
		t.Fatalf("best verdict: %+v", res.BestVerdict)
	}
	if llm.callCount(llmclient.RoleCoder) != 2 || llm.callCount(llmclient.RoleJudge) != 2 {
		t.Fatalf("call counts: coder=%d judge=%d", llm.callCount(llmclient.RoleCoder), llm.callCount(llmclient.RoleJudge))
	}
	if res.Spec.Goal != "add a flag" {
		t.Fatalf("spec goal: %q", res.Spec.Goal)
	}
	if res.Answer.Confidence != 0.9 {
		t.Fatalf("answer confidence: %v", res.Answer.Confidence)
	}
}

func TestRefineRespectsLoopAndCallBudget(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return goodPlan, nil }
	llm.script[llmclient.RoleCoder] = func(int) (string, error) { return goodCandidate, nil }
	llm.script[llmclient.RoleJudge] = func(int) (string, error) { return judgeJSON(50), nil }
	ret := &fakeRetriever{}
	o := newOrchestrator(llm, ret)

	res, err := o.Refine(context.Background(), "change something", Options{NumSamples: 2, MaxLoops: 2})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if len(res.Trail) != 2 {
		t.Fatalf("trail: got %d loops want 2", len(res.Trail))
	}
	if got := llm.callCount(llmclient.RoleCoder); got != 4 {
		t.Fatalf("coder calls: got %d want 4", got)
	}
	if got := llm.callCount(llmclient.RoleJudge); got != 4 {
		t.Fatalf("judge calls: got %d want 4", got)
	}
	// One retrieval for PLAN plus one per loop.
	if ret.calls != 3 {
		t.Fatalf("retrievals: got %d want 3", ret.calls)
	}
}

func TestRefineTieKeepsEarlierCandidate(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return goodPlan, nil }
	llm.script[llmclient.RoleCoder] = func(int) (string, error) { return goodCandidate, nil }
	llm.script[llmclient.RoleJudge] = func(int) (string, error) { return judgeJSON(60), nil }
	o := newOrchestrator(llm, &fakeRetriever{})

	res, err := o.Refine(context.Background(), "change something", Options{NumSamples: 2, MaxLoops: 2})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if res.Best == nil {
		t.Fatalf("expected a best candidate")
	}
	if res.Best.Loop != 1 || res.Best.Sample != 0 {
		t.Fatalf("tie must keep earliest candidate, got loop=%d sample=%d", res.Best.Loop, res.Best.Sample)
	}
}

func TestRefineSkipsFailedGenerations(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return goodPlan, nil }
	llm.script[llmclient.RoleCoder] = func(i int) (string, error) {
		if i%2 == 1 {
			return "", fmt.Errorf("model backend unavailable")
		}
		return goodCandidate, nil
	}
	llm.script[llmclient.RoleJudge] = func(int) (string, error) { return judgeJSON(75), nil }
	o := newOrchestrator(llm, &fakeRetriever{})

	res, err := o.Refine(context.Background(), "change something", Options{NumSamples: 2, MaxLoops: 1})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if res.Trail[0].Generated != 1 || res.Trail[0].Failed != 1 {
		t.Fatalf("loop record: generated=%d failed=%d", res.Trail[0].Generated, res.Trail[0].Failed)
	}
	// A failed generation never reaches the judge.
	if got := llm.callCount(llmclient.RoleJudge); got != 1 {
		t.Fatalf("judge calls: got %d want 1", got)
	}
}

func TestRefineAllFailedFallsBackToAnalysis(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return goodPlan, nil }
	llm.script[llmclient.RoleCoder] = func(int) (string, error) { return "", fmt.Errorf("down") }
	llm.script[llmclient.RoleAnswer] = func(int) (string, error) { return "plain text about the code", nil }
	o := newOrchestrator(llm, &fakeRetriever{})

	res, err := o.Refine(context.Background(), "change something", Options{NumSamples: 2, MaxLoops: 2})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if res.Best != nil || res.BestVerdict != nil {
		t.Fatalf("expected no best candidate, got %+v", res.Best)
	}
	if res.Answer.Analysis != "plain text about the code" {
		t.Fatalf("fallback analysis: %q", res.Answer.Analysis)
	}
	if got := llm.callCount(llmclient.RoleJudge); got != 0 {
		t.Fatalf("judge calls: got %d want 0", got)
	}
}

func TestPlanParseFailureDegradesToGoalOnly(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RolePlanner] = func(int) (string, error) { return "not json at all", nil }
	llm.script[llmclient.RoleCoder] = func(int) (string, error) { return goodCandidate, nil }
	llm.script[llmclient.RoleJudge] = func(int) (string, error) { return judgeJSON(88), nil }
	o := newOrchestrator(llm, &fakeRetriever{})

	res, err := o.Refine(context.Background(), "rename the thing", Options{NumSamples: 1, MaxLoops: 1})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if res.Spec.Goal != "rename the thing" {
		t.Fatalf("degraded spec goal: %q", res.Spec.Goal)
	}
}

func TestAnswerMetadataSkipsGeneration(t *testing.T) {
	llm := newScriptedLLM()
	ret := &fakeRetriever{strategy: types.StrategyMetadata}
	o := newOrchestrator(llm, ret)

	res, err := o.Answer(context.Background(), "how many files?", Options{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Model != "none" {
		t.Fatalf("model: got %q want none", res.Model)
	}
	if llm.callCount(llmclient.RoleAnswer) != 0 {
		t.Fatalf("generation call made for metadata query")
	}
}

func TestAnswerParsesModelJSON(t *testing.T) {
	llm := newScriptedLLM()
	llm.script[llmclient.RoleAnswer] = func(int) (string, error) { return goodCandidate, nil }
	o := newOrchestrator(llm, &fakeRetriever{})

	res, err := o.Answer(context.Background(), "explain a.go", Options{})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Answer.Analysis != "looks fine" || len(res.Answer.Changes) != 1 {
		t.Fatalf("parsed answer: %+v", res.Answer)
	}
	if res.Answer.Changes[0].FilePath != "a.go" {
		t.Fatalf("change path: %q", res.Answer.Changes[0].FilePath)
	}
}
