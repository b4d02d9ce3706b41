// Package assembler turns a claims payload plus a credential configuration
// into an unsigned credential body, one variant per wire format. Assemblers
// are registered at startup; dispatch is a map lookup on the format string.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
)

// Input carries everything an assembler needs for one credential.
type Input struct {
	CredentialID string
	IssuerID     string
	// HolderID is the holder key identifier extracted from the proof.
	HolderID string
	Claims   map[string]any
	Metadata credential.Metadata
	// Statuses are the allocated status entries, one per purpose the
	// configuration participates in; empty means no credentialStatus.
	Statuses []credential.StatusEntry
	IssuedAt time.Time
}

// Assembler builds the unsigned credential body for one format.
type Assembler interface {
	Format() credential.Format
	CreateCredential(ctx context.Context, in Input) (string, error)
}

// Registry dispatches to the assembler registered for a format.
type Registry struct {
	assemblers map[credential.Format]Assembler
}

func NewRegistry(assemblers ...Assembler) *Registry {
	r := &Registry{assemblers: make(map[credential.Format]Assembler)}
	for _, a := range assemblers {
		r.assemblers[a.Format()] = a
	}
	return r
}

func (r *Registry) CreateCredential(ctx context.Context, in Input) (string, error) {
	a, ok := r.assemblers[in.Metadata.Format]
	if !ok {
		return "", derrors.Newf(derrors.CodeInvalidRequest, "unsupported credential format %s", in.Metadata.Format)
	}
	return a.CreateCredential(ctx, in)
}

// creationFailed collapses any serialization or formatting failure into the
// single kind upstream callers see; the cause stays attached for logs only.
func creationFailed(err error) error {
	return derrors.Wrap(err, derrors.CodeInternal, "credential creation failed")
}

// renderSubject produces the credentialSubject document: the configuration
// template with {{name}} placeholders substituted, or the raw claims when no
// template is configured. The result is validated against the configuration
// schema when one is present.
func renderSubject(in Input) (map[string]any, error) {
	subject := make(map[string]any)
	if tpl := in.Metadata.Template; tpl != "" {
		rendered := tpl
		for name, value := range in.Claims {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("encode claim %q: %w", name, err)
			}
			// String values substitute bare so templates can place them
			// inside larger strings; everything else substitutes as JSON.
			if s, ok := value.(string); ok {
				rendered = strings.ReplaceAll(rendered, "{{"+name+"}}", s)
			} else {
				rendered = strings.ReplaceAll(rendered, "\"{{"+name+"}}\"", string(encoded))
			}
		}
		if err := json.Unmarshal([]byte(rendered), &subject); err != nil {
			return nil, fmt.Errorf("rendered template is not valid JSON: %w", err)
		}
	} else {
		for k, v := range in.Claims {
			subject[k] = v
		}
	}

	if in.HolderID != "" {
		subject["id"] = in.HolderID
	}

	if schema := in.Metadata.SchemaJSON; schema != "" {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewGoLoader(subject),
		)
		if err != nil {
			return nil, fmt.Errorf("evaluate claims schema: %w", err)
		}
		if !result.Valid() {
			var problems []string
			for _, desc := range result.Errors() {
				problems = append(problems, desc.String())
			}
			return nil, fmt.Errorf("claims do not satisfy schema: %s", strings.Join(problems, "; "))
		}
	}
	return subject, nil
}
