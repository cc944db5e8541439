// Package rules classifies free-text status cells into canonical
// payment and deed statuses using an ordered rule table embedded at
// build time. Rule order is the priority order: the first matching
// rule wins, and unmatched values fall through to the field default.
package rules

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/cartorio-systems/escriba/internal/domain"
)

//go:embed rules.yaml
var embeddedRules []byte

// Rule matches when every Contains token is present in the normalized
// input and no NotContains token is.
type Rule struct {
	Name        string   `yaml:"name"`
	Contains    []string `yaml:"contains"`
	NotContains []string `yaml:"not_contains"`
	Status      string   `yaml:"status"`
}

func (r Rule) matches(normalized string) bool {
	for _, tok := range r.Contains {
		if !strings.Contains(normalized, tok) {
			return false
		}
	}
	for _, tok := range r.NotContains {
		if strings.Contains(normalized, tok) {
			return false
		}
	}
	return true
}

type ruleFile struct {
	Payment []Rule `yaml:"payment"`
	Deed    []Rule `yaml:"deed"`
}

// Engine holds the loaded rule tables.
type Engine struct {
	payment []Rule
	deed    []Rule
}

// NewEngine parses and validates a YAML rule table.
func NewEngine(data []byte) (*Engine, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	for i, r := range rf.Payment {
		if err := validateRule(r, domain.ValidatePaymentStatus(domain.PaymentStatus(r.Status))); err != nil {
			return nil, fmt.Errorf("payment rule %d (%s): %w", i, r.Name, err)
		}
	}
	for i, r := range rf.Deed {
		if err := validateRule(r, domain.ValidateDeedStatus(domain.DeedStatus(r.Status))); err != nil {
			return nil, fmt.Errorf("deed rule %d (%s): %w", i, r.Name, err)
		}
	}
	return &Engine{payment: rf.Payment, deed: rf.Deed}, nil
}

func validateRule(r Rule, statusValid bool) error {
	if len(r.Contains) == 0 {
		return fmt.Errorf("rule has no contains tokens")
	}
	for _, tok := range append(append([]string{}, r.Contains...), r.NotContains...) {
		if tok == "" {
			return fmt.Errorf("empty match token")
		}
		if tok != NormalizeText(tok) {
			return fmt.Errorf("token %q is not normalized (want %q)", tok, NormalizeText(tok))
		}
	}
	if !statusValid {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// LoadEmbedded loads the rule table shipped with the binary.
func LoadEmbedded() (*Engine, error) {
	return NewEngine(embeddedRules)
}

var textNormalizer = transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}), norm.NFC)

// NormalizeText lowercases the input and strips diacritics so that
// "Não Enviado" and "nao enviado" classify identically.
func NormalizeText(s string) string {
	stripped, _, err := transform.String(textNormalizer, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(strings.TrimSpace(stripped))
}

// ClassifyPayment maps a free-text payment status cell to its
// canonical value. Unrecognized text defaults to "A gerar".
func (e *Engine) ClassifyPayment(text string) domain.PaymentStatus {
	normalized := NormalizeText(text)
	for _, r := range e.payment {
		if r.matches(normalized) {
			return domain.PaymentStatus(r.Status)
		}
	}
	return domain.PaymentToGenerate
}

// ClassifyDeed maps a free-text deed status cell to its canonical
// value. Unrecognized text defaults to "Em tramitação".
func (e *Engine) ClassifyDeed(text string) domain.DeedStatus {
	normalized := NormalizeText(text)
	for _, r := range e.deed {
		if r.matches(normalized) {
			return domain.DeedStatus(r.Status)
		}
	}
	return domain.DeedInProgress
}
