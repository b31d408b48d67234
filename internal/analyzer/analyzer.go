// Package analyzer turns raw query text into a structured analysis: intent,
// complexity, file references, entities, and an overall confidence.
package analyzer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"repoquery/internal/types"
)

// File-reference confidence ladder. Confidence strictly decreases as match
// specificity decreases.
const (
	ConfExactPath  = 0.95 // exact repository-known path
	ConfUniqueName = 0.9  // bare filename matching exactly one indexed file
	ConfAmbiguous  = 0.6  // filename matching multiple indexed files
	ConfUnknown    = 0.3  // file-shaped token not found in the index
)

// FileResolver answers which paths the repository index knows about. The
// analyzer only reads from it; it never triggers I/O.
type FileResolver interface {
	HasPath(path string) bool
	PathsForName(name string) []string
}

// Analyzer classifies queries against a static pattern table.
type Analyzer struct {
	resolver FileResolver
}

func New(resolver FileResolver) *Analyzer {
	return &Analyzer{resolver: resolver}
}

// Analyze is deterministic for a given query and index snapshot. It never
// fails: empty input yields a GENERAL analysis with zero confidence.
func (a *Analyzer) Analyze(query string) types.QueryAnalysis {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return types.QueryAnalysis{
			Original:   query,
			Normalized: normalized,
			Intent:     types.IntentGeneral,
			Complexity: types.ComplexitySimple,
		}
	}

	// File tokens keep the original casing so exact path lookups work on
	// case-sensitive trees.
	refs := a.detectFiles(strings.TrimSpace(query))
	intent := classifyIntent(normalized)
	entities := extractEntities(query, refs)
	complexity := classifyComplexity(normalized, entities, refs)

	qa := types.QueryAnalysis{
		Original:   query,
		Normalized: normalized,
		Intent:     intent,
		Complexity: complexity,
		FileRefs:   refs,
		Entities:   entities,
		Metadata:   reMetadata.MatchString(normalized),
	}
	if meta, content, ok := splitMultiIntent(normalized); ok {
		qa.MultiIntent = true
		qa.MetadataPart = meta
		qa.ContentPart = content
		// A combined question is not answerable from the index alone.
		qa.Metadata = false
	}
	qa.Confidence = confidence(qa)
	return qa
}

// --- file detection -------------------------------------------------------

var (
	reFileToken = regexp.MustCompile(`([A-Za-z0-9_\-./]*[A-Za-z0-9_\-]\.[A-Za-z0-9]{1,5})(?::(\d+))?`)
	// Abbreviations that look like filenames but are prose.
	fileFalsePositives = map[string]struct{}{"e.g": {}, "i.e": {}, "etc.": {}, "vs.": {}}
)

func (a *Analyzer) detectFiles(query string) []types.FileReference {
	var refs []types.FileReference
	seen := map[string]struct{}{}

	add := func(r types.FileReference) {
		key := strings.ToLower(r.Filename) + "|" + r.FullPath
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, r)
	}

	for _, m := range reFileToken.FindAllStringSubmatch(query, -1) {
		token := strings.Trim(m[1], "./")
		if _, bad := fileFalsePositives[strings.ToLower(token)]; bad || len(token) < 4 {
			continue
		}
		line := 0
		if m[2] != "" {
			line, _ = strconv.Atoi(m[2])
		}
		name := token
		if i := strings.LastIndexByte(token, '/'); i >= 0 {
			name = token[i+1:]
		}

		if a.resolver != nil && strings.ContainsRune(token, '/') && a.resolver.HasPath(token) {
			add(types.FileReference{Filename: name, FullPath: token, Line: line, Confidence: ConfExactPath})
			continue
		}
		var paths []string
		if a.resolver != nil {
			paths = a.resolver.PathsForName(name)
		}
		switch len(paths) {
		case 0:
			add(types.FileReference{Filename: name, Line: line, Confidence: ConfUnknown})
		case 1:
			add(types.FileReference{Filename: name, FullPath: paths[0], Line: line, Confidence: ConfUniqueName})
		default:
			// Ambiguous: return all matches, stable order by path.
			sort.Strings(paths)
			for _, p := range paths {
				add(types.FileReference{Filename: name, FullPath: p, Line: line, Confidence: ConfAmbiguous})
			}
		}
	}
	return refs
}

// --- intent ---------------------------------------------------------------

type intentRule struct {
	re     *regexp.Regexp
	intent types.Intent
}

// Priority order matters: debug and change verbs are checked before the
// generic analysis phrasings, so "fix the authentication bug" never lands in
// ANALYSIS just because it also reads like an explanation request.
var intentRules = []intentRule{
	{regexp.MustCompile(`\b(fix|bug|error|issue|problem|debug|troubleshoot)\b`), types.IntentDebug},
	{regexp.MustCompile(`\bwhy\b.*\b(not working|failing|broken|crash)`), types.IntentDebug},
	{regexp.MustCompile(`\b(add|create|implement|modify|change|refactor|update|write|build)\b`), types.IntentChanges},
	{regexp.MustCompile(`\b(review|validate|improve|optimize|assess|audit)\b`), types.IntentReview},
	{regexp.MustCompile(`\b(find|search|locate|list)\b|\bwhere\s+is\b|\bshow\s+all\b`), types.IntentSearch},
	{regexp.MustCompile(`\bhow\s+(does|is|do|are)\b|\b(explain|understand|analyze|describe)\b|\bwhat\s+(is|does|do)\b|\bshow\s+me\b`), types.IntentAnalysis},
}

func classifyIntent(normalized string) types.Intent {
	for _, r := range intentRules {
		if r.re.MatchString(normalized) {
			return r.intent
		}
	}
	return types.IntentGeneral
}

// --- multi-intent ---------------------------------------------------------

var (
	reConjunction = regexp.MustCompile(`\s+(?:and|also)\s+`)
	reMetadata    = regexp.MustCompile(`\bhow many\b|\bcount\b|\blist\b.*\b(files?|endpoints?|functions?|classes)\b|\bwhat languages\b|\blanguage breakdown\b|\bproject (size|structure)\b`)
	reContent     = regexp.MustCompile(`\bhow\b.*\bworks?\b|\b(explain|show me|analyze|describe|fix|debug|implement|review)\b`)
)

// splitMultiIntent detects a conjunction joining a metadata-style clause and a
// content-style clause; both halves are preserved for downstream retrieval.
func splitMultiIntent(normalized string) (meta, content string, ok bool) {
	loc := reConjunction.FindStringIndex(normalized)
	if loc == nil {
		return "", "", false
	}
	left := strings.TrimSpace(normalized[:loc[0]])
	right := strings.TrimSpace(normalized[loc[1]:])
	if left == "" || right == "" {
		return "", "", false
	}
	switch {
	case reMetadata.MatchString(left) && reContent.MatchString(right):
		return left, right, true
	case reMetadata.MatchString(right) && reContent.MatchString(left):
		return right, left, true
	}
	return "", "", false
}

// --- complexity -----------------------------------------------------------

// Thresholds are monotonic in every input: a longer query with more entities
// or file references never ranks simpler, all else equal.
const (
	complexLenChars = 120
	mediumLenChars  = 40
	complexEntities = 4
	mediumEntities  = 2
	complexRefs     = 2
)

func classifyComplexity(normalized string, entities []string, refs []types.FileReference) types.Complexity {
	switch {
	case len(normalized) >= complexLenChars || len(entities) >= complexEntities || len(refs) >= complexRefs:
		return types.ComplexityComplex
	case len(normalized) >= mediumLenChars || len(entities) >= mediumEntities || len(refs) >= 1:
		return types.ComplexityMedium
	default:
		return types.ComplexitySimple
	}
}

// --- entities -------------------------------------------------------------

var (
	reQuoted = regexp.MustCompile("[`\"']([^`\"']{2,64})[`\"']")
	reIdent  = regexp.MustCompile(`\b([A-Z][A-Za-z0-9]*[a-z][A-Za-z0-9]*|[a-z][a-z0-9]*_[a-z0-9_]+|[a-z][a-zA-Z0-9]*[A-Z][A-Za-z0-9]*)\b`)

	stopWords = map[string]struct{}{
		"the": {}, "is": {}, "are": {}, "how": {}, "what": {}, "why": {},
		"when": {}, "where": {}, "this": {}, "that": {}, "does": {}, "do": {},
	}
)

const maxEntities = 10

// extractEntities collects identifier-shaped tokens, deduplicated in
// insertion order. Tokens already detected as file references are skipped.
func extractEntities(original string, refs []types.FileReference) []string {
	isFile := map[string]struct{}{}
	for _, r := range refs {
		isFile[strings.ToLower(r.Filename)] = struct{}{}
	}

	var out []string
	seen := map[string]struct{}{}
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		low := strings.ToLower(tok)
		if tok == "" || len(out) >= maxEntities {
			return
		}
		if _, stop := stopWords[low]; stop {
			return
		}
		if _, file := isFile[low]; file || strings.ContainsRune(tok, '.') {
			return
		}
		if _, dup := seen[low]; dup {
			return
		}
		seen[low] = struct{}{}
		out = append(out, tok)
	}

	for _, m := range reQuoted.FindAllStringSubmatch(original, -1) {
		add(m[1])
	}
	for _, m := range reIdent.FindAllStringSubmatch(original, -1) {
		add(m[1])
	}
	return out
}

// --- confidence -----------------------------------------------------------

// confidence is a weighted blend of file-reference strength, entity presence,
// and intent clarity, reported in [0,1]. It is informational: no query is
// dropped over a low value.
func confidence(qa types.QueryAnalysis) float64 {
	c := 0.5
	if n := len(qa.FileRefs); n > 0 {
		best := 0.0
		for _, r := range qa.FileRefs {
			if r.Confidence > best {
				best = r.Confidence
			}
		}
		c += 0.2 * best
	}
	if n := len(qa.Entities); n > 0 {
		if n > 5 {
			n = 5
		}
		c += 0.1 * float64(n) / 5
	}
	if qa.Intent != types.IntentGeneral {
		c += 0.2
	}
	if c > 1 {
		c = 1
	}
	return c
}
