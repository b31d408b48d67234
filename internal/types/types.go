package types

// Intent is the closed category describing what kind of help the user wants.
type Intent string

const (
	IntentAnalysis Intent = "analysis"
	IntentDebug    Intent = "debug"
	IntentChanges  Intent = "changes"
	IntentReview   Intent = "review"
	IntentSearch   Intent = "search"
	IntentGeneral  Intent = "general"
)

// Complexity tiers derived from query shape. Ordered: simple < medium < complex.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Rank returns the ordinal of a complexity tier for comparisons.
func (c Complexity) Rank() int {
	switch c {
	case ComplexityMedium:
		return 1
	case ComplexityComplex:
		return 2
	default:
		return 0
	}
}

// Repository index ---------------------------------------------------------------

// FileNode describes one indexed file. Identity is the repo-relative path.
type FileNode struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Ext      string `json:"ext"`
	Language string `json:"language,omitempty"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash,omitempty"`
}

// CodeChunk is the unit of retrieval: a contiguous, possibly overlapping slice
// of a file. Identity is ID; immutable after creation.
type CodeChunk struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Language  string    `json:"language,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Query analysis -----------------------------------------------------------------

// FileReference is a filename or path mentioned in a query.
type FileReference struct {
	Filename   string  `json:"filename"`
	FullPath   string  `json:"full_path,omitempty"`
	Line       int     `json:"line,omitempty"`
	Confidence float64 `json:"confidence"`
}

// QueryAnalysis is produced once per incoming query and never mutated.
type QueryAnalysis struct {
	Original   string          `json:"original"`
	Normalized string          `json:"normalized"`
	Intent     Intent          `json:"intent"`
	Complexity Complexity      `json:"complexity"`
	FileRefs   []FileReference `json:"file_references,omitempty"`
	Entities   []string        `json:"entities,omitempty"`
	Confidence float64         `json:"confidence"`

	// Metadata marks a pure statistics/listing question answerable from the
	// index alone (file counts, language breakdown).
	Metadata bool `json:"metadata,omitempty"`

	// MultiIntent marks a query whose conjunction joins a metadata-style
	// clause and a content-style clause; both halves must be answered.
	MultiIntent  bool   `json:"multi_intent,omitempty"`
	MetadataPart string `json:"metadata_part,omitempty"`
	ContentPart  string `json:"content_part,omitempty"`
}

// Retrieval ----------------------------------------------------------------------

// Strategy labels name which retrieval path produced a context.
const (
	StrategyMetadata     = "metadata"
	StrategyMultiIntent  = "multi_intent"
	StrategyFileSpecific = "file_specific"
	StrategyHybrid       = "hybrid"
	StrategySemantic     = "semantic"
)

// RetrievalContext is the ordered result of one retrieval call. Chunks are in
// relevance order, not file order.
type RetrievalContext struct {
	Chunks      []CodeChunk `json:"chunks"`
	Summary     string      `json:"summary,omitempty"`
	TotalChunks int         `json:"total_chunks"`
	FileCount   int         `json:"file_count"`
	Strategy    string      `json:"strategy"`
}

// Models -------------------------------------------------------------------------

// ModelDescriptor is one entry of the static model registry.
type ModelDescriptor struct {
	Name         string   `json:"name" yaml:"name"`
	Provider     string   `json:"provider" yaml:"provider"`
	Kind         string   `json:"kind" yaml:"kind"` // "small", "code" or "large"
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	MaxContext   int      `json:"max_context" yaml:"max_context"`
	Temperature  float64  `json:"temperature" yaml:"temperature"`
}

// HasCapability reports whether the descriptor carries the given tag.
func (m ModelDescriptor) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Refinement ---------------------------------------------------------------------

// TaskSpec is the planner's parsed task specification.
type TaskSpec struct {
	Goal        string   `json:"goal"`
	Constraints []string `json:"constraints,omitempty"`
	Acceptance  []string `json:"acceptance_criteria,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	FileHints   []string `json:"file_hints,omitempty"`
}

// Signals are the retrieval hints a task spec contributes to later loops.
func (t TaskSpec) Signals() []string {
	out := make([]string, 0, len(t.Keywords)+len(t.FileHints))
	out = append(out, t.Keywords...)
	out = append(out, t.FileHints...)
	return out
}

// Candidate is one generated answer or patch proposal. It lives only for the
// duration of one refinement run.
type Candidate struct {
	Loop     int    `json:"loop"`
	Sample   int    `json:"sample"`
	Text     string `json:"text"`
	Analysis string `json:"analysis,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

// Verdict is the judge's evaluation of exactly one candidate.
type Verdict struct {
	Score   int      `json:"score"`
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons,omitempty"`
	Risks   []string `json:"risks,omitempty"`
}

// LoopRecord is the observability trail of one refinement iteration.
type LoopRecord struct {
	Loop       int       `json:"loop"`
	Strategy   string    `json:"strategy"`
	Generated  int       `json:"generated"`
	Failed     int       `json:"failed"`
	Verdicts   []Verdict `json:"verdicts"`
	BestScore  int       `json:"best_score"`
	EarlyStop  bool      `json:"early_stop"`
	DurationMS int64     `json:"duration_ms"`
}

// Responses ----------------------------------------------------------------------

// Change is one proposed file modification inside an answer.
type Change struct {
	FilePath  string `json:"file_path"`
	Type      string `json:"type,omitempty"`
	NewCode   string `json:"new_code,omitempty"`
	Diff      string `json:"diff,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Answer is the structured payload parsed from a model response. When the
// model output is not valid JSON the raw text lands in Analysis.
type Answer struct {
	Analysis   string   `json:"analysis"`
	Plan       string   `json:"plan,omitempty"`
	Changes    []Change `json:"changes,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}
