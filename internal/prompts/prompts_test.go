package prompts

import (
	"strings"
	"testing"

	"repoquery/internal/types"
)

func sampleContext() types.RetrievalContext {
	return types.RetrievalContext{
		Chunks: []types.CodeChunk{
			{ID: "c000000", FilePath: "lib/a.go", StartLine: 1, EndLine: 20, Language: "go", Content: "package a"},
		},
		Summary:     "Repository: 1 files, 1 chunks",
		TotalChunks: 1,
		FileCount:   1,
		Strategy:    types.StrategySemantic,
	}
}

func TestRenderContextHeaders(t *testing.T) {
	out := RenderContext(sampleContext())
	if !strings.Contains(out, "FILE: lib/a.go (lines 1-20)") {
		t.Fatalf("missing file header:\n%s", out)
	}
	if !strings.Contains(out, "LANGUAGE: go") {
		t.Fatalf("missing language header:\n%s", out)
	}
	if !strings.Contains(out, "REPOSITORY OVERVIEW:") {
		t.Fatalf("missing overview:\n%s", out)
	}
}

func TestSchemaJSONReflectsContract(t *testing.T) {
	schema := SchemaJSON[JudgeResponse]()
	for _, field := range []string{"score", "verdict", "reasons", "risks"} {
		if !strings.Contains(schema, field) {
			t.Fatalf("schema missing %q:\n%s", field, schema)
		}
	}
}

func TestPlannerPromptCarriesQueryAndSchema(t *testing.T) {
	p := Planner("add rate limiting", sampleContext())
	if !strings.Contains(p, "add rate limiting") {
		t.Fatalf("planner prompt missing request")
	}
	if !strings.Contains(p, "target_signals") {
		t.Fatalf("planner prompt missing schema")
	}
}

func TestJudgePromptCarriesSpecAndCandidate(t *testing.T) {
	spec := types.TaskSpec{Goal: "add flag", Acceptance: []string{"tests pass"}}
	p := Judge(spec, `{"analysis":"x"}`)
	for _, want := range []string{"add flag", "tests pass", `{"analysis":"x"}`} {
		if !strings.Contains(p, want) {
			t.Fatalf("judge prompt missing %q", want)
		}
	}
}

func TestAnswerPromptMentionsBothPartsForMultiIntent(t *testing.T) {
	qa := types.QueryAnalysis{
		Original:    "how many files and how does a.go work",
		Intent:      types.IntentAnalysis,
		MultiIntent: true,
	}
	p := Answer(qa, sampleContext())
	if !strings.Contains(p, "two parts") {
		t.Fatalf("multi-intent instruction missing:\n%s", p)
	}
}
