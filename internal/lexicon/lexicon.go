package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type MappingRule struct {
	Triggers []string `yaml:"triggers"`
	Table    string   `yaml:"table"`
	Hints    []string `yaml:"hints"`
}

type ruleFile struct {
	Rules []MappingRule `yaml:"rules"`
}

// Lexicon maps domain vocabulary to canonical tables. It is immutable after
// construction and safe for concurrent use.
type Lexicon struct {
	rules []MappingRule
}

// Default returns the lexicon compiled into the binary.
func Default() (*Lexicon, error) {
	return Parse(defaultRules)
}

// Load reads rules from path, or returns the default lexicon when path is empty.
func Load(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	lex, err := Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return lex, nil
}

func Parse(payload []byte) (*Lexicon, error) {
	var file ruleFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon rules: %w", err)
	}
	rules := make([]MappingRule, 0, len(file.Rules))
	for i, rule := range file.Rules {
		rule.Table = strings.TrimSpace(rule.Table)
		if rule.Table == "" {
			return nil, fmt.Errorf("rule %d: table is required", i)
		}
		triggers := make([]string, 0, len(rule.Triggers))
		for _, trigger := range rule.Triggers {
			normalized := normalize(trigger)
			if normalized == "" {
				continue
			}
			triggers = append(triggers, normalized)
		}
		if len(triggers) == 0 {
			return nil, fmt.Errorf("rule %d (%s): at least one trigger is required", i, rule.Table)
		}
		rule.Triggers = triggers
		rules = append(rules, rule)
	}
	return &Lexicon{rules: rules}, nil
}

func (l *Lexicon) Rules() []MappingRule {
	out := make([]MappingRule, len(l.rules))
	for i, rule := range l.rules {
		out[i] = cloneRule(rule)
	}
	return out
}

// Resolve returns every rule with a trigger in question, most specific first:
// rules are ordered by the length of their longest matching trigger, ties
// keep declaration order.
func (l *Lexicon) Resolve(question string) []MappingRule {
	text := normalize(question)
	if text == "" {
		return []MappingRule{}
	}

	type match struct {
		rule    MappingRule
		longest int
	}
	matches := make([]match, 0)
	for _, rule := range l.rules {
		longest := 0
		for _, trigger := range rule.Triggers {
			if len(trigger) > longest && containsTerm(text, trigger) {
				longest = len(trigger)
			}
		}
		if longest > 0 {
			matches = append(matches, match{rule: rule, longest: longest})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].longest > matches[j].longest
	})

	out := make([]MappingRule, 0, len(matches))
	for _, m := range matches {
		out = append(out, cloneRule(m.rule))
	}
	return out
}

func containsTerm(text, term string) bool {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if isBoundaryBefore(text, start) && isTermEnd(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isBoundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	return !isWordByte(text[idx-1])
}

func isTermEnd(text string, end int) bool {
	if end >= len(text) || !isWordByte(text[end]) {
		return true
	}
	for _, suffix := range []string{"s", "es"} {
		if strings.HasPrefix(text[end:], suffix) {
			after := end + len(suffix)
			if after >= len(text) || !isWordByte(text[after]) {
				return true
			}
		}
	}
	return false
}

func isWordByte(b byte) bool {
	r := rune(b)
	return b >= 0x80 || unicode.IsLetter(r) || unicode.IsDigit(r) || b == '_'
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func cloneRule(rule MappingRule) MappingRule {
	return MappingRule{
		Triggers: append([]string(nil), rule.Triggers...),
		Table:    rule.Table,
		Hints:    append([]string(nil), rule.Hints...),
	}
}
