// Package registry accepts subgraph SDL submissions from subgraph operators,
// validates them, and recomposes the supergraph.
package registry

import (
	"fmt"

	"github.com/n9te9/goliteql/schema"
)

// ValidateSDL parses src with goliteql's independent SDL parser as an outer
// strictness check before a subgraph's schema is accepted into composition —
// a submission that goliteql itself cannot parse never reaches the
// graphql-parser-based Composer.
func ValidateSDL(src []byte) error {
	_, err := schema.NewParser(schema.NewLexer()).Parse(src)
	if err != nil {
		return fmt.Errorf("invalid subgraph SDL: %w", err)
	}
	return nil
}
