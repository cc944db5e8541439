// Package registry selects the right parser for a file by extension
// and header inspection.
package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/cartorio-systems/escriba/internal/parser"
)

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates an empty registry. Built-in parsers are registered by
// the composition root so this package stays import-cycle free.
func New() *Registry {
	return &Registry{}
}

// Register adds a parser. Registration order is the probe order.
func (r *Registry) Register(p parser.Parser) {
	r.parsers = append(r.parsers, p)
}

// Find returns the first parser that accepts the file name and header
// bytes. Used for uploads already held in memory.
func (r *Registry) Find(name string, header []byte) (parser.Parser, error) {
	for _, p := range r.parsers {
		if p.CanParse(name, header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser found for file: %s", name)
}

// FindParser returns the best parser for a file on disk. Reads the
// first 512 bytes for format detection, enough for the zip magic of
// .xlsx and the OLE magic of legacy .xls.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// EOF is fine, small CSV files may be under 512 bytes.
	return r.Find(path, header[:n])
}

// ListParsers returns the names of all registered parsers
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
