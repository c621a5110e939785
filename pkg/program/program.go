// Package program holds the in-memory model of an object-oriented program
// that call graph construction runs over: classes and interfaces, their
// declared methods, and the call-containing statements of each method body.
//
// A Program is built either by decoding a YAML document (see Load) or by a
// frontend that fills in the exported fields directly. In both cases Link must
// succeed before the model is handed to the analysis; it resolves every name
// reference into a pointer and rejects internally inconsistent models.
package program

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInconsistent is wrapped by every error that reports a malformed model:
// dangling names, duplicate declarations or cyclic hierarchies.
var ErrInconsistent = errors.New("inconsistent program model")

// CallKind tags a call site as statically bound or dynamically dispatched.
type CallKind int

const (
	// Direct calls bind to exactly one implementation regardless of receiver
	// (static calls, constructor calls, super calls).
	Direct CallKind = iota
	// Virtual calls dispatch on the runtime class of the receiver
	// (virtual and interface calls).
	Virtual
)

func (k CallKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Virtual:
		return "virtual"
	default:
		return fmt.Sprintf("CallKind(%d)", int(k))
	}
}

// ParseCallKind parses the textual form used in model files.
func ParseCallKind(s string) (CallKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "static", "special":
		return Direct, nil
	case "virtual", "interface":
		return Virtual, nil
	}
	return 0, fmt.Errorf("unknown call kind %q", s)
}

// MethodRef names a method by declaring class and signature.
type MethodRef struct {
	Class string `yaml:"class" validate:"required"`
	Sig   string `yaml:"sig" validate:"required"`
}

func (r MethodRef) String() string { return "<" + r.Class + ": " + r.Sig + ">" }

// CallSite is one call-containing statement of a method body.
type CallSite struct {
	Kind CallKind `yaml:"kind"`

	// Target is the compile-time resolved callee.
	Target MethodRef `yaml:"target"`

	// Receiver is the declared type of the receiver expression of a Virtual
	// call. Array types ("T[]") and the empty string denote receivers that
	// are not class types.
	Receiver string `yaml:"receiver,omitempty"`

	// Text is a printable rendering of the call used in listings.
	Text string `yaml:"text,omitempty"`

	callee *Method
}

// Callee returns the resolved compile-time target. Valid after Link.
func (c *CallSite) Callee() *Method { return c.callee }

// ReceiverIsClass reports whether the declared receiver type names a class
// or interface.
func (c *CallSite) ReceiverIsClass() bool {
	return c.Receiver != "" && !IsArrayType(c.Receiver)
}

// String renders the call for listings.
func (c *CallSite) String() string {
	if c.Text != "" {
		return c.Text
	}
	if c.Kind == Virtual {
		return fmt.Sprintf("%s(%s) %s", c.Kind, c.Receiver, c.Target)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Target)
}

// IsArrayType reports whether a type name denotes an array.
func IsArrayType(t string) bool {
	return strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "[]")
}

// Method is a method declared by a class.
type Method struct {
	Sig      string      `yaml:"sig" validate:"required"`
	Static   bool        `yaml:"static,omitempty"`
	Native   bool        `yaml:"native,omitempty"`
	Abstract bool        `yaml:"abstract,omitempty"`
	Calls    []*CallSite `yaml:"calls,omitempty" validate:"dive"`

	class *Class
}

// Class returns the declaring class. Valid after Link.
func (m *Method) Class() *Class { return m.class }

// Library reports whether the method is out-of-project code.
func (m *Method) Library() bool { return m.class != nil && m.class.Library }

// HasBody reports whether the method has statements to scan.
func (m *Method) HasBody() bool { return !m.Native && !m.Abstract }

// Name extracts the method name from its signature: the identifier right
// before the parameter list.
func (m *Method) Name() string {
	s := m.Sig
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// Ref returns the reference naming this method.
func (m *Method) Ref() MethodRef {
	var class string
	if m.class != nil {
		class = m.class.Name
	}
	return MethodRef{Class: class, Sig: m.Sig}
}

// String returns the method descriptor "<Class: sig>".
func (m *Method) String() string { return m.Ref().String() }

// Class is a class or interface of the program.
type Class struct {
	Name       string    `yaml:"name" validate:"required"`
	Super      string    `yaml:"super,omitempty"`
	Interfaces []string  `yaml:"interfaces,omitempty"`
	Interface  bool      `yaml:"interface,omitempty"`
	Abstract   bool      `yaml:"abstract,omitempty"`
	Library    bool      `yaml:"library,omitempty"`
	Methods    []*Method `yaml:"methods,omitempty" validate:"dive"`

	index      int
	super      *Class
	interfaces []*Class
	bySig      map[string]*Method
}

// Index is the position of the class in Program.Classes.
func (c *Class) Index() int { return c.index }

// Superclass returns the resolved superclass, nil at the root.
func (c *Class) Superclass() *Class { return c.super }

// ImplementedInterfaces returns the resolved interfaces the class declares.
// For an interface these are the interfaces it extends.
func (c *Class) ImplementedInterfaces() []*Class { return c.interfaces }

// Concrete reports whether instances of the class can exist at run time.
func (c *Class) Concrete() bool { return !c.Abstract && !c.Interface }

// Method returns the method c declares with signature sig, or nil.
func (c *Class) Method(sig string) *Method { return c.bySig[sig] }

func (c *Class) String() string { return c.Name }

// Conventions names the methods the runtime invokes implicitly.
// An empty field disables the corresponding rule.
type Conventions struct {
	Constructor string `yaml:"constructor"`
	Finalizer   string `yaml:"finalizer"`
	StaticInit  string `yaml:"static_init"`
}

// DefaultConventions follows JVM naming.
var DefaultConventions = Conventions{
	Constructor: "<init>",
	Finalizer:   "void finalize()",
	StaticInit:  "void <clinit>()",
}

// Program is a whole program: every application and library class.
type Program struct {
	Entry       MethodRef    `yaml:"entry"`
	Conventions *Conventions `yaml:"conventions,omitempty"`
	Classes     []*Class     `yaml:"classes" validate:"required,dive"`

	byName map[string]*Class
	entry  *Method
}

// Class looks up a class by name. Valid after Link.
func (p *Program) Class(name string) *Class { return p.byName[name] }

// EntryMethod returns the resolved entry method. Valid after Link.
func (p *Program) EntryMethod() *Method { return p.entry }

// Rules returns the conventions in effect.
func (p *Program) Rules() Conventions {
	if p.Conventions != nil {
		return *p.Conventions
	}
	return DefaultConventions
}

// IsConstructor reports whether m is an instance constructor.
func (p *Program) IsConstructor(m *Method) bool {
	name := p.Rules().Constructor
	return name != "" && !m.Static && m.Name() == name
}

// Finalizer returns the finalizer c declares, or nil.
func (p *Program) Finalizer(c *Class) *Method {
	sig := p.Rules().Finalizer
	if sig == "" {
		return nil
	}
	return c.Method(sig)
}

// StaticInitializer returns the static initializer c declares, or nil.
func (p *Program) StaticInitializer(c *Class) *Method {
	sig := p.Rules().StaticInit
	if sig == "" {
		return nil
	}
	return c.Method(sig)
}

// Lookup resolves a method reference.
func (p *Program) Lookup(ref MethodRef) (*Method, error) {
	c := p.byName[ref.Class]
	if c == nil {
		return nil, fmt.Errorf("%w: unknown class %q", ErrInconsistent, ref.Class)
	}
	m := c.Method(ref.Sig)
	if m == nil {
		return nil, fmt.Errorf("%w: class %s declares no method %q", ErrInconsistent, ref.Class, ref.Sig)
	}
	return m, nil
}

// Link resolves every name reference of the model. It must be called after
// the model is assembled and before analysis; calling it again re-resolves
// from the exported fields.
func (p *Program) Link() error {
	p.byName = make(map[string]*Class, len(p.Classes))
	for i, c := range p.Classes {
		if c == nil {
			return fmt.Errorf("%w: nil class at index %d", ErrInconsistent, i)
		}
		if _, dup := p.byName[c.Name]; dup {
			return fmt.Errorf("%w: duplicate class %q", ErrInconsistent, c.Name)
		}
		c.index = i
		p.byName[c.Name] = c
		c.bySig = make(map[string]*Method, len(c.Methods))
		for _, m := range c.Methods {
			if _, dup := c.bySig[m.Sig]; dup {
				return fmt.Errorf("%w: class %s declares %q twice", ErrInconsistent, c.Name, m.Sig)
			}
			m.class = c
			c.bySig[m.Sig] = m
		}
	}

	for _, c := range p.Classes {
		c.super = nil
		if c.Super != "" {
			if c.super = p.byName[c.Super]; c.super == nil {
				return fmt.Errorf("%w: class %s extends unknown %q", ErrInconsistent, c.Name, c.Super)
			}
			if c.super.Interface && !c.Interface {
				return fmt.Errorf("%w: class %s extends interface %s", ErrInconsistent, c.Name, c.Super)
			}
		}
		c.interfaces = c.interfaces[:0]
		for _, name := range c.Interfaces {
			iface := p.byName[name]
			if iface == nil {
				return fmt.Errorf("%w: class %s implements unknown %q", ErrInconsistent, c.Name, name)
			}
			if !iface.Interface {
				return fmt.Errorf("%w: class %s implements non-interface %s", ErrInconsistent, c.Name, name)
			}
			c.interfaces = append(c.interfaces, iface)
		}
	}
	if err := p.checkAcyclic(); err != nil {
		return err
	}

	for _, c := range p.Classes {
		for _, m := range c.Methods {
			for i, call := range m.Calls {
				callee, err := p.Lookup(call.Target)
				if err != nil {
					return fmt.Errorf("%s call %d: %w", m, i+1, err)
				}
				call.callee = callee
				if call.Kind == Virtual && call.ReceiverIsClass() && p.byName[call.Receiver] == nil {
					return fmt.Errorf("%w: %s call %d: unknown receiver type %q", ErrInconsistent, m, i+1, call.Receiver)
				}
			}
		}
	}

	entry, err := p.Lookup(p.Entry)
	if err != nil {
		return fmt.Errorf("entry method: %w", err)
	}
	p.entry = entry
	return nil
}

// checkAcyclic verifies the subtype relation is a DAG.
func (p *Program) checkAcyclic() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(p.Classes))
	var visit func(c *Class) error
	visit = func(c *Class) error {
		switch state[c.index] {
		case active:
			return fmt.Errorf("%w: cyclic hierarchy through %s", ErrInconsistent, c.Name)
		case done:
			return nil
		}
		state[c.index] = active
		if c.super != nil {
			if err := visit(c.super); err != nil {
				return err
			}
		}
		for _, i := range c.interfaces {
			if err := visit(i); err != nil {
				return err
			}
		}
		state[c.index] = done
		return nil
	}
	for _, c := range p.Classes {
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}
