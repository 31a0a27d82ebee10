package registry

import (
	"errors"
	"fmt"
	"strings"
)

// Metadata problem codes (E101-E199).
const (
	ErrDuplicateEntity    = "E101" // entity declared twice
	ErrEmptyKey           = "E102" // key with zero properties
	ErrMissingKeyProperty = "E103" // key names an absent, duplicate, or nullable property
	ErrUnknownTarget      = "E104" // relationship target does not exist
	ErrMissingForeignKey  = "E105" // foreign key property absent on the dependent type
	ErrForeignKeyArity    = "E106" // foreign key length differs from principal key
	ErrForeignKeyKind     = "E107" // foreign key kind differs from principal key kind
	ErrInvalidGenerated   = "E108" // @generated on a non-int, non-key, or composite key
	ErrDuplicateProperty  = "E109" // duplicate property, column, or navigation name
	ErrInvalidIdentifier  = "E110" // name unusable as a SQL identifier
)

// Problem is one metadata defect.
type Problem struct {
	Code    string `json:"code"`
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Field != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", p.Code, p.Entity, p.Field, p.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", p.Code, p.Entity, p.Message)
}

// ConfigurationError reports metadata that cannot be used to build a
// registry. It is fatal at startup; no session can start from it.
type ConfigurationError struct {
	Problems []Problem
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "invalid entity metadata: " + strings.Join(parts, "; ")
}

// HasCode reports whether any problem carries code.
func (e *ConfigurationError) HasCode(code string) bool {
	for _, p := range e.Problems {
		if p.Code == code {
			return true
		}
	}
	return false
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
