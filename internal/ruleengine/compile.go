package ruleengine

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// compiledGroup is the JSON-on-disk shape of a RuleGroup, kept separate from
// RuleGroup itself so the cache format doesn't depend on in-memory layout.
type compiledGroup struct {
	Action struct {
		Stdout    bool     `json:"stdout,omitempty"`
		Pipelines []string `json:"pipelines,omitempty"`
	} `json:"action"`
	Clauses []struct {
		AnyMatch   bool        `json:"any_condition_match,omitempty"`
		Conditions []Condition `json:"conditions"`
	} `json:"clauses"`
}

// CompileFiles reads every rules/*.yml and rules/*.yaml file under dir,
// compiles them into a RuleTable, and writes the compiled form to
// cachePath as JSON. It always recompiles from source; callers wanting the
// cache-first behaviour should use LoadOrCompile.
func CompileFiles(dir, cachePath string) (*RuleTable, error) {
	paths, err := ruleFilePaths(dir)
	if err != nil {
		return nil, err
	}

	var raw []RawRule
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var fileRules []RawRule
		if err := yaml.Unmarshal(data, &fileRules); err != nil {
			return nil, err
		}
		raw = append(raw, fileRules...)
	}

	table := Compile(raw)
	if err := writeCache(cachePath, table); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadOrCompile reads the compiled cache at cachePath if present, otherwise
// compiles from the rule files under dir and populates the cache.
func LoadOrCompile(dir, cachePath string) (*RuleTable, error) {
	if table, err := readCache(cachePath); err == nil {
		return table, nil
	}
	return CompileFiles(dir, cachePath)
}

func ruleFilePaths(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, "rules", pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// Compile validates and buckets raw rules by the Action they request,
// merging duplicate clauses, and drops rules that have no conditions or
// whose action is a no-op (neither stdout nor any pipeline).
func Compile(raw []RawRule) *RuleTable {
	type bucket struct {
		action     Action
		anyClause  map[string]Condition // dedup by condition identity
		anyOrder   []string
		allClauses map[string][]Condition // dedup whole-clause sets by canonical key
		allOrder   []string
	}

	order := []string{}
	buckets := map[string]*bucket{}

	for _, r := range raw {
		if len(r.Conditions) == 0 {
			continue
		}
		pipelines := append([]string(nil), r.Pipelines...)
		if !r.Stdout && len(pipelines) == 0 {
			continue
		}

		anyMatch := r.AnyConditionMatch
		if len(r.Conditions) == 1 {
			anyMatch = true
		}

		action := Action{Stdout: r.Stdout, Pipelines: pipelines}
		key := action.key()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				action:     action,
				anyClause:  map[string]Condition{},
				allClauses: map[string][]Condition{},
			}
			buckets[key] = b
			order = append(order, key)
		} else if len(pipelines) > len(b.action.Pipelines) {
			// Prefer the fuller pipeline list if two raw rules collapse to
			// the same key despite differing ordering; pipelines are a set.
			b.action.Pipelines = mergePipelines(b.action.Pipelines, pipelines)
		}

		conditions := make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			conditions[i] = Condition{Key: c.Key, Type: c.Type, Negate: c.Negate, Value: c.Value}
		}

		if anyMatch {
			for _, c := range conditions {
				ck := conditionKey(c)
				if _, seen := b.anyClause[ck]; !seen {
					b.anyClause[ck] = c
					b.anyOrder = append(b.anyOrder, ck)
				}
			}
		} else {
			ck := clauseKey(conditions)
			if _, seen := b.allClauses[ck]; !seen {
				b.allClauses[ck] = conditions
				b.allOrder = append(b.allOrder, ck)
			}
		}
	}

	table := &RuleTable{}
	for _, key := range order {
		b := buckets[key]
		group := RuleGroup{Action: b.action}

		if len(b.anyOrder) > 0 {
			conds := make([]Condition, 0, len(b.anyOrder))
			for _, ck := range b.anyOrder {
				conds = append(conds, b.anyClause[ck])
			}
			group.Clauses = append(group.Clauses, RuleClause{AnyMatch: true, Conditions: conds})
		}

		for _, ck := range b.allOrder {
			group.Clauses = append(group.Clauses, RuleClause{AnyMatch: false, Conditions: b.allClauses[ck]})
		}

		table.Groups = append(table.Groups, group)
	}

	return table
}

func mergePipelines(a, b []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func conditionKey(c Condition) string {
	neg := "0"
	if c.Negate {
		neg = "1"
	}
	return string(c.Type) + "\x00" + c.Key + "\x00" + neg + "\x00" + c.Value
}

func clauseKey(conditions []Condition) string {
	s := ""
	for _, c := range conditions {
		s += conditionKey(c) + "\x01"
	}
	return s
}

func writeCache(path string, table *RuleTable) error {
	groups := toWireGroups(table)
	data, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readCache(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var groups []compiledGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, err
	}
	return fromWireGroups(groups), nil
}

func toWireGroups(table *RuleTable) []compiledGroup {
	out := make([]compiledGroup, 0, len(table.Groups))
	for _, g := range table.Groups {
		var wg compiledGroup
		wg.Action.Stdout = g.Action.Stdout
		wg.Action.Pipelines = g.Action.Pipelines
		for _, c := range g.Clauses {
			wg.Clauses = append(wg.Clauses, struct {
				AnyMatch   bool        `json:"any_condition_match,omitempty"`
				Conditions []Condition `json:"conditions"`
			}{AnyMatch: c.AnyMatch, Conditions: c.Conditions})
		}
		out = append(out, wg)
	}
	return out
}

func fromWireGroups(groups []compiledGroup) *RuleTable {
	table := &RuleTable{}
	for _, wg := range groups {
		group := RuleGroup{Action: Action{Stdout: wg.Action.Stdout, Pipelines: wg.Action.Pipelines}}
		for _, c := range wg.Clauses {
			group.Clauses = append(group.Clauses, RuleClause{AnyMatch: c.AnyMatch, Conditions: c.Conditions})
		}
		table.Groups = append(table.Groups, group)
	}
	return table
}
