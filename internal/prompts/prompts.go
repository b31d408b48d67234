// Package prompts builds role prompts for the generation backends and owns
// the JSON response contracts the models are asked to honor.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"repoquery/internal/types"
)

// PlanResponse is the contract for the planner role.
type PlanResponse struct {
	Goal          string   `json:"goal" jsonschema:"required"`
	TargetSignals []string `json:"target_signals"`
	Constraints   []string `json:"constraints"`
	Acceptance    []string `json:"acceptance"`
	HintPaths     []string `json:"hint_paths"`
}

// JudgeResponse is the contract for the judge role.
type JudgeResponse struct {
	Score   int      `json:"score" jsonschema:"required"`
	Verdict string   `json:"verdict" jsonschema:"required"` // "pass" or "fail"
	Reasons []string `json:"reasons"`
	Risks   []string `json:"risks"`
}

// AnswerResponse is the contract for the coder and answer roles.
type AnswerResponse struct {
	Analysis string       `json:"analysis" jsonschema:"required"`
	Plan     string       `json:"plan"`
	Changes  []ChangeItem `json:"changes"`
}

type ChangeItem struct {
	Path      string `json:"path"`
	Rationale string `json:"rationale"`
	Diff      string `json:"diff"`
}

// SchemaJSON reflects T into a schema the prompt embeds so models see the
// exact shape they must return.
func SchemaJSON[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RenderContext formats retrieved chunks for a prompt, grouped in retrieval
// order with a header per chunk so the model can cite exact locations.
func RenderContext(rc types.RetrievalContext) string {
	var b strings.Builder
	if rc.Summary != "" {
		b.WriteString("REPOSITORY OVERVIEW:\n")
		b.WriteString(rc.Summary)
		b.WriteString("\n\n")
	}
	for _, c := range rc.Chunks {
		fmt.Fprintf(&b, "FILE: %s (lines %d-%d)\n", c.FilePath, c.StartLine, c.EndLine)
		if c.Language != "" {
			fmt.Fprintf(&b, "LANGUAGE: %s\n", c.Language)
		}
		b.WriteString(c.Content)
		if !strings.HasSuffix(c.Content, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Planner converts the raw request plus initial context into a task spec.
func Planner(query string, rc types.RetrievalContext) string {
	var b strings.Builder
	b.WriteString("You are a senior tech lead and requirements engineer. ")
	b.WriteString("Convert the user's request into a precise task spec for code work in this repository.\n")
	b.WriteString("Return STRICT JSON matching this schema, no markdown fences:\n")
	b.WriteString(SchemaJSON[PlanResponse]())
	b.WriteString("\n\nRequest: ")
	b.WriteString(query)
	b.WriteString("\n\nContext:\n")
	b.WriteString(RenderContext(rc))
	b.WriteString("\nExtract concrete targets (methods, files, symbols) and acceptance checks.")
	return b.String()
}

// Coder produces a candidate change-set from the refined context and spec.
func Coder(spec types.TaskSpec, rc types.RetrievalContext) string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer working on a private codebase.\n")
	b.WriteString("Propose a minimal, robust change-set with focused diffs and a short plan. ")
	b.WriteString("Follow the repo's existing style. Prefer small surgical patches.\n")
	b.WriteString("Return STRICT JSON matching this schema, no markdown fences. ")
	b.WriteString("Each diff must be a unified diff that applies cleanly:\n")
	b.WriteString(SchemaJSON[AnswerResponse]())
	b.WriteString("\n\nGoal: ")
	b.WriteString(spec.Goal)
	writeList(&b, "Constraints", spec.Constraints)
	writeList(&b, "Acceptance", spec.Acceptance)
	b.WriteString("\n\nContext:\n")
	b.WriteString(RenderContext(rc))
	b.WriteString("\nKeep external behavior compatible unless the goal says otherwise. Now produce the JSON response.")
	return b.String()
}

// Judge scores one candidate against the task spec.
func Judge(spec types.TaskSpec, candidate string) string {
	var b strings.Builder
	b.WriteString("You are a code reviewer. Score the candidate against the task spec.\n")
	b.WriteString("Return STRICT JSON matching this schema, no markdown fences:\n")
	b.WriteString(SchemaJSON[JudgeResponse]())
	b.WriteString("\n\nTask spec:\nGoal: ")
	b.WriteString(spec.Goal)
	writeList(&b, "Constraints", spec.Constraints)
	writeList(&b, "Acceptance", spec.Acceptance)
	b.WriteString("\n\nCandidate:\n")
	b.WriteString(candidate)
	b.WriteString("\n\nAssess correctness, minimality, and style compliance.")
	return b.String()
}

// Answer builds the single-shot prompt used by /query.
func Answer(qa types.QueryAnalysis, rc types.RetrievalContext) string {
	var b strings.Builder
	b.WriteString("You are a codebase assistant answering questions about a private repository.\n")
	b.WriteString(intentGuidance(qa))
	b.WriteString("Return STRICT JSON matching this schema, no markdown fences:\n")
	b.WriteString(SchemaJSON[AnswerResponse]())
	b.WriteString("\n\nTask: ")
	b.WriteString(qa.Original)
	if len(qa.FileRefs) > 0 {
		names := make([]string, len(qa.FileRefs))
		for i, ref := range qa.FileRefs {
			names[i] = ref.Filename
		}
		b.WriteString("\nFiles mentioned: ")
		b.WriteString(strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "\n\nContext (%d relevant code chunks):\n", rc.TotalChunks)
	b.WriteString(RenderContext(rc))
	if qa.MultiIntent {
		b.WriteString("\nThe question has two parts. Answer the statistics part from the repository overview and the content part from the code chunks; both must be covered.")
	}
	b.WriteString("\nProvide your analysis in the JSON format above.")
	return b.String()
}

func intentGuidance(qa types.QueryAnalysis) string {
	switch qa.Intent {
	case types.IntentDebug:
		return "Focus on likely failure causes, tracing from symptoms to root cause.\n"
	case types.IntentChanges:
		return "Propose concrete edits with unified diffs where possible.\n"
	case types.IntentReview:
		return "Review for correctness, style, and risk; point at exact lines.\n"
	case types.IntentSearch:
		return "Locate and cite the relevant definitions and usages.\n"
	default:
		return "Explain how the relevant code works, citing file and line spans.\n"
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(label)
	b.WriteString(":\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}
