// Package columnmap resolves arbitrary, frequently misspelled source
// spreadsheet headers to canonical record fields. Matching runs against
// an ordered synonym table: exact match on the normalized header first,
// then substring containment in either direction. First matching field
// wins, in table order.
package columnmap

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"github.com/schollz/closestmatch"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed columns.yaml
var embeddedTable []byte

// Field is a canonical record field name, as stored.
type Field string

const (
	FieldTicket        Field = "talao"
	FieldPaymentStatus Field = "statusPagamento"
	FieldDeedStatus    Field = "statusEscritura"
	FieldDeliveryRef   Field = "rgiEntrega"
	FieldNature        Field = "natureza"
	FieldParties       Field = "edificioAdquirenteResponsavel"
	FieldFees          Field = "valorEmolumentos"
	FieldBroker        Field = "valorCorretor"
	FieldAdvisory      Field = "valorAssessoria"
	FieldCaseNumber    Field = "numeroSicase"
)

type fieldEntry struct {
	Name     Field    `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

type tableFile struct {
	Fields []fieldEntry `yaml:"fields"`
}

// Table is the loaded synonym table plus a fuzzy index used only for
// suggestions on headers that match nothing.
type Table struct {
	fields  []fieldEntry
	byToken map[string]Field
	cm      *closestmatch.ClosestMatch
}

// NewTable parses a YAML synonym table. Entry order is preserved; it is
// the documented tie-break for ambiguous headers.
func NewTable(data []byte) (*Table, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse column table YAML: %w", err)
	}
	if len(tf.Fields) == 0 {
		return nil, fmt.Errorf("column table has no fields")
	}

	byToken := make(map[string]Field)
	var tokens []string
	for i, f := range tf.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: name cannot be empty", i)
		}
		if len(f.Synonyms) == 0 {
			return nil, fmt.Errorf("field %d (%s): needs at least one synonym", i, f.Name)
		}
		for _, s := range f.Synonyms {
			if s != Normalize(s) {
				return nil, fmt.Errorf("field %s: synonym %q is not normalized", f.Name, s)
			}
			if _, seen := byToken[s]; !seen {
				byToken[s] = f.Name
				tokens = append(tokens, s)
			}
		}
	}

	return &Table{
		fields:  tf.Fields,
		byToken: byToken,
		cm:      closestmatch.New(tokens, []int{2, 3, 4}),
	}, nil
}

// LoadEmbedded loads the synonym table compiled into the binary.
func LoadEmbedded() (*Table, error) {
	t, err := NewTable(embeddedTable)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded column table: %w", err)
	}
	return t, nil
}

// Normalize lowercases a header, strips diacritics and drops everything
// that is not a letter or digit.
func Normalize(header string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}))
	decomposed, _, _ := transform.String(t, strings.ToLower(strings.TrimSpace(header)))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps a raw header to its canonical field. Exact normalized
// match first; otherwise the first table entry with a synonym that
// contains, or is contained in, the normalized header.
func (t *Table) Resolve(header string) (Field, bool) {
	normalized := Normalize(header)
	if normalized == "" {
		return "", false
	}

	for _, f := range t.fields {
		for _, s := range f.Synonyms {
			if s == normalized {
				return f.Name, true
			}
		}
	}

	for _, f := range t.fields {
		for _, s := range f.Synonyms {
			if strings.Contains(normalized, s) || strings.Contains(s, normalized) {
				return f.Name, true
			}
		}
	}

	return "", false
}

// Suggest returns the canonical field of the synonym closest to an
// unresolvable header, for "did you mean" warnings. Empty when nothing
// is remotely close.
func (t *Table) Suggest(header string) Field {
	normalized := Normalize(header)
	if normalized == "" {
		return ""
	}
	closest := t.cm.Closest(normalized)
	if closest == "" {
		return ""
	}
	return t.byToken[closest]
}

// MapHeaders resolves every header of a group, dropping blanks, the
// financial-control banner cell the office spreadsheets carry, and
// anything that matches no field. Unresolved non-empty headers come
// back as warnings so the preview can show what was ignored.
func (t *Table) MapHeaders(headers []string) (map[string]Field, []string) {
	columnMap := make(map[string]Field)
	var warnings []string

	for _, header := range headers {
		trimmed := strings.TrimSpace(header)
		if trimmed == "" || strings.Contains(trimmed, "CONTROLE FINANCEIRO") {
			continue
		}
		field, ok := t.Resolve(trimmed)
		if !ok {
			w := fmt.Sprintf("coluna %q ignorada: nenhum campo correspondente", trimmed)
			if suggested := t.Suggest(trimmed); suggested != "" {
				w = fmt.Sprintf("%s (mais próximo: %s)", w, suggested)
			}
			warnings = append(warnings, w)
			continue
		}
		columnMap[header] = field
	}

	return columnMap, warnings
}
