// Package extract implements the rule-based extraction pass that turns
// user-authored message text into candidate facts. It is a deliberately
// naive placeholder for a learned extractor: the rule list is data, not
// code, and is externally configurable.
package extract

import (
	"strings"
	"unicode"

	"github.com/hrygo/mnemos/memory"
)

// Policy controls how many candidates a rule may emit.
type Policy string

const (
	// PolicyFirst stops at the first matching trigger of the rule and emits
	// exactly one candidate.
	PolicyFirst Policy = "first"
	// PolicyAll emits one candidate per trigger occurrence anywhere in the
	// text, with no deduplication.
	PolicyAll Policy = "all"
)

// Rule is one (trigger list, category, confidence, policy) tuple. Rules are
// evaluated in declared order; triggers within a rule are ordered too.
type Rule struct {
	Name       string              `mapstructure:"name" yaml:"name"`
	Category   memory.FactCategory `mapstructure:"category" yaml:"category"`
	Key        string              `mapstructure:"key" yaml:"key"`
	Triggers   []string            `mapstructure:"triggers" yaml:"triggers"`
	Confidence float32             `mapstructure:"confidence" yaml:"confidence"`
	Policy     Policy              `mapstructure:"policy" yaml:"policy"`
}

// Default returns the built-in rule list: name and employer fire once at
// their category confidence, hobby fires on every occurrence.
func Default() []Rule {
	return []Rule{
		{
			Name:       "name",
			Category:   memory.CategoryPersonal,
			Key:        "name",
			Triggers:   []string{"my name is ", "i am called ", "call me "},
			Confidence: 0.7,
			Policy:     PolicyFirst,
		},
		{
			Name:       "employer",
			Category:   memory.CategoryWork,
			Key:        "employer",
			Triggers:   []string{"i work at ", "i work for ", "my employer is ", "my company is "},
			Confidence: 0.6,
			Policy:     PolicyFirst,
		},
		{
			Name:       "hobby",
			Category:   memory.CategoryHobby,
			Key:        "hobby",
			Triggers:   []string{"i enjoy ", "i like ", "my hobby is ", "i love "},
			Confidence: 0.5,
			Policy:     PolicyAll,
		},
	}
}

// Pipeline applies an ordered rule list to conversation transcripts.
type Pipeline struct {
	rules []Rule
}

// NewPipeline creates a pipeline. Empty rules fall back to Default().
func NewPipeline(rules []Rule) *Pipeline {
	if len(rules) == 0 {
		rules = Default()
	}
	return &Pipeline{rules: rules}
}

// Rules returns the pipeline's rule list.
func (p *Pipeline) Rules() []Rule {
	return p.rules
}

// Run concatenates the user-authored message bodies and evaluates every
// rule against the result. No match is a normal outcome and yields empty
// slices, never an error.
func (p *Pipeline) Run(messages []memory.Message) []*memory.UserFact {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Role != memory.RoleUser {
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	text := sb.String()
	lower := strings.ToLower(text)

	var facts []*memory.UserFact
	for _, rule := range p.rules {
		facts = append(facts, applyRule(rule, text, lower)...)
	}
	return facts
}

func applyRule(rule Rule, text, lower string) []*memory.UserFact {
	var facts []*memory.UserFact
	for _, trigger := range rule.Triggers {
		trigger = strings.ToLower(trigger)
		from := 0
		for {
			idx := strings.Index(lower[from:], trigger)
			if idx < 0 {
				break
			}
			start := from + idx + len(trigger)
			value := captureValue(text[start:])
			if value != "" {
				facts = append(facts, &memory.UserFact{
					Category:   rule.Category,
					Key:        rule.Key,
					Value:      value,
					Confidence: rule.Confidence,
					Source:     memory.SourceInferred,
				})
				if rule.Policy == PolicyFirst {
					return facts
				}
			}
			from = start
		}
	}
	return facts
}

// maxValueLen caps a captured value when no sentence boundary is found.
const maxValueLen = 80

// captureValue takes the text after a trigger up to the next sentence
// boundary.
func captureValue(rest string) string {
	end := len(rest)
	for i, r := range rest {
		if r == '.' || r == ',' || r == ';' || r == '!' || r == '?' || r == '\n' {
			end = i
			break
		}
	}
	if end > maxValueLen {
		end = maxValueLen
	}
	return strings.TrimFunc(rest[:end], unicode.IsSpace)
}
