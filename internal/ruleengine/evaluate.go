package ruleengine

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Result is the outcome of evaluating a payload against a RuleTable.
type Result struct {
	Pipelines []string
	Stdout    bool
}

// Evaluate matches payload against every group in table and unions the
// contributions of every group that has at least one matching clause. It
// never panics or returns an error to the caller: any internal failure is
// contained and reported as a diagnostic, yielding a no-op result.
func Evaluate(table *RuleTable, payload map[string]any, logger *slog.Logger) Result {
	result := Result{Pipelines: []string{}}
	if table == nil {
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("rule evaluation panicked", "panic", fmt.Sprintf("%v", r))
			}
			result = Result{Pipelines: []string{}}
		}
	}()

	pipelineSet := make(map[string]struct{})
	for _, group := range table.Groups {
		if !anyClauseMatches(group.Clauses, payload) {
			continue
		}
		result.Stdout = result.Stdout || group.Action.Stdout
		for _, p := range group.Action.Pipelines {
			pipelineSet[p] = struct{}{}
		}
	}

	for p := range pipelineSet {
		result.Pipelines = append(result.Pipelines, p)
	}
	return result
}

func anyClauseMatches(clauses []RuleClause, payload map[string]any) bool {
	for _, clause := range clauses {
		if clauseMatches(clause, payload) {
			return true
		}
	}
	return false
}

func clauseMatches(clause RuleClause, payload map[string]any) bool {
	if clause.AnyMatch {
		for _, cond := range clause.Conditions {
			if matchCondition(payload, cond) {
				return true
			}
		}
		return false
	}

	for _, cond := range clause.Conditions {
		if !matchCondition(payload, cond) {
			return false
		}
	}
	return true
}

func matchCondition(payload map[string]any, cond Condition) bool {
	value, ok := lookupPath(payload, cond.Key)
	if !ok {
		// A missing (nil) value always fails the comparison; negation
		// then flips that failure into a match.
		return cond.Negate
	}

	var matched bool
	switch cond.Type {
	case ConditionExact:
		matched = fmt.Sprint(value) == cond.Value
	case ConditionPartial:
		matched = strings.Contains(fmt.Sprint(value), cond.Value)
	case ConditionRegex:
		matched = matchAnchoredRegex(cond.Value, fmt.Sprint(value))
	}

	if cond.Negate {
		return !matched
	}
	return matched
}

// lookupPath walks a dotted key path through nested maps, returning
// (nil, false) the moment any segment is absent or not itself a map.
func lookupPath(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// matchAnchoredRegex mirrors Python's re.match semantics: the pattern need
// only match a prefix of the subject, not the whole string.
func matchAnchoredRegex(pattern, subject string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	loc := re.FindStringIndex(subject)
	return loc != nil && loc[0] == 0
}
