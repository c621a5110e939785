package program

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// UnmarshalYAML accepts the names understood by ParseCallKind.
func (k *CallKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	kind, err := ParseCallKind(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*k = kind
	return nil
}

// MarshalYAML writes the canonical name.
func (k CallKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// Load decodes a YAML program model, validates it and links it.
func Load(r io.Reader) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Program
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode program model: empty document")
		}
		return nil, fmt.Errorf("decode program model: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	if err := p.Link(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads a YAML program model from path.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open program model: %w", err)
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the structural constraints of the model: required names
// and signatures are present. Cross references are checked by Link.
func Validate(p *Program) error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q", ErrInconsistent, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("validate program model: %w", err)
	}
	return nil
}
