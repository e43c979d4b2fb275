// Package intent maps raw text to a processing mode when the user has not
// pinned one. Classification is a pure function of the input and static rule
// tables; it makes no external calls.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Result is a classification outcome. Reason is a join of the matched rule
// descriptions, for diagnostics only.
type Result struct {
	Mode       string
	Confidence float64
	Reason     string
}

type rule struct {
	patterns    []*regexp.Regexp
	keywords    []string
	confidence  float64
	lengthBased bool
}

var rules = map[string]rule{
	"maths": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^\s*[\d+\-*/().\s^%]+\s*$`),
			regexp.MustCompile(`^\s*\d+(\.\d+)?\s*[+\-*/]\s*\d+(\.\d+)?\s*$`),
			regexp.MustCompile(`(?i)calculate|compute|solve|math|equation|formula`),
			regexp.MustCompile(`(?i)what\s+is\s+\d+`),
			regexp.MustCompile(`\d+\s*[+\-*/]\s*\d+`),
			regexp.MustCompile(`(?i)(\d+\s*%|\d+\s*percent)`),
		},
		keywords:   []string{"calculate", "compute", "solve", "math", "equation", "formula", "result", "answer"},
		confidence: 0.9,
	},
	"translate": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)translate|translation|convert.*language|language.*convert`),
			regexp.MustCompile(`(?i)(spanish|french|german|italian|portuguese|chinese|japanese|korean|arabic|hindi|russian)`),
			regexp.MustCompile(`(?i)what.*mean.*in\s+(english|spanish|french)`),
			regexp.MustCompile(`(?i)how.*say.*in\s+(english|spanish|french)`),
			regexp.MustCompile(`(?i)\b(hola|bonjour|guten tag|ciao|konnichiwa|привет|你好)`),
		},
		keywords:   []string{"translate", "translation", "language", "mean", "say", "español", "français"},
		confidence: 0.85,
	},
	"explain": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)explain|clarify|what.*mean|how.*work|why.*important`),
			regexp.MustCompile(`(?i)can.*you.*explain|please.*explain|help.*understand`),
			regexp.MustCompile(`(?i)what.*is|how.*does|why.*does|when.*should`),
			regexp.MustCompile(`(?i)definition|concept|principle|theory|mechanism`),
		},
		keywords:   []string{"explain", "clarify", "understand", "mean", "definition", "concept", "how", "why", "what"},
		confidence: 0.75,
	},
	"simplify": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)simplify|simple.*terms|easier.*understand|break.*down`),
			regexp.MustCompile(`(?i)too.*complex|complicated|difficult.*understand`),
			regexp.MustCompile(`(?i)plain.*english|layman.*terms|simple.*words`),
			regexp.MustCompile(`(?i)make.*simpler|easier.*version`),
		},
		keywords:   []string{"simplify", "simple", "easier", "complex", "complicated", "plain", "layman"},
		confidence: 0.8,
	},
	"summarize": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)summary|summarize|brief|overview|key.*points`),
			regexp.MustCompile(`(?i)main.*points|important.*parts|tl;dr|tldr`),
			regexp.MustCompile(`(?i)condense|compress|short.*version`),
		},
		keywords:    []string{"summary", "summarize", "brief", "overview", "key", "main", "important"},
		confidence:  0.7,
		lengthBased: true,
	},
}

// Classify scores the input against every mode's rule set and returns the
// best candidate, falling back to a length-based default when nothing scores
// above 0.3. Deterministic and side-effect free.
func Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Mode: "summarize", Confidence: 0.5, Reason: "default"}
	}

	clean := strings.ToLower(strings.TrimSpace(text))

	var candidates []Result
	for mode, r := range rules {
		var score float64
		var matches []string

		for _, p := range r.patterns {
			if p.MatchString(text) {
				score += 0.3
				matches = append(matches, "pattern: "+truncate(p.String(), 50))
			}
		}

		var keywordHits int
		for _, kw := range r.keywords {
			if strings.Contains(clean, kw) {
				keywordHits++
				matches = append(matches, "keyword: "+kw)
			}
		}
		if keywordHits > 0 {
			score += float64(keywordHits) / float64(len(r.keywords)) * 0.4
		}

		if r.lengthBased && len(text) > 500 {
			score += 0.3
			matches = append(matches, "length-based trigger")
		}

		if mode == "maths" && isMathExpression(text) {
			score += 0.5
			matches = append(matches, "math expression detected")
		}

		final := score * r.confidence
		if final > 1.0 {
			final = 1.0
		}
		if final > 0 {
			candidates = append(candidates, Result{
				Mode:       mode,
				Confidence: final,
				Reason:     strings.Join(matches, ", "),
			})
		}
	}

	// Stable ordering: score descending, mode name as tie-break so equal
	// scores classify the same way on every run.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Mode < candidates[j].Mode
	})

	if len(candidates) > 0 && candidates[0].Confidence > 0.3 {
		return candidates[0]
	}

	return defaultIntent(text)
}

var (
	mathOnlyRe = regexp.MustCompile(`^[\d+\-*/().\s^%=]+$`)
	operatorRe = regexp.MustCompile(`[+\-*/^%]`)
	digitRe    = regexp.MustCompile(`\d`)
	mathCharRe = regexp.MustCompile(`[\d+\-*/().\s^%=]`)
)

// isMathExpression reports whether text is a pure math expression, or
// contains a digit and an operator with at least 70% of its characters drawn
// from the math character set.
func isMathExpression(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if mathOnlyRe.MatchString(trimmed) {
		return true
	}
	if operatorRe.MatchString(trimmed) && digitRe.MatchString(trimmed) {
		mathChars := len(mathCharRe.FindAllString(trimmed, -1))
		return float64(mathChars)/float64(len(trimmed)) > 0.7
	}
	return false
}

func defaultIntent(text string) Result {
	switch n := len(text); {
	case n < 50:
		return Result{Mode: "explain", Confidence: 0.4, Reason: "short text - default to explanation"}
	case n < 200:
		return Result{Mode: "simplify", Confidence: 0.4, Reason: "medium text - default to simplification"}
	default:
		return Result{Mode: "summarize", Confidence: 0.5, Reason: "long text - default to summarization"}
	}
}

// Modes returns the set of classifiable modes.
func Modes() []string {
	out := make([]string, 0, len(rules))
	for mode := range rules {
		out = append(out, mode)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
