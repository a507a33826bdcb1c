package sane

import (
	"fmt"
	"log/slog"
)

// Constraint restricts the legal values of an option. It is one of
// NoConstraint, *RangeConstraint, WordListConstraint or
// StringListConstraint, matching the option's constraint kind.
type Constraint interface {
	constraintType() ConstraintType
}

// NoConstraint means the option accepts any value of its type.
type NoConstraint struct{}

func (NoConstraint) constraintType() ConstraintType { return ConstraintNone }

// RangeConstraint restricts a numeric option to [Min, Max] in steps of
// Quant. The words are projected as integers or fixed-point numbers
// depending on the option's value type; Quant zero means unquantized.
type RangeConstraint struct {
	Min, Max, Quant Word
}

func (*RangeConstraint) constraintType() ConstraintType { return ConstraintRange }

// WordListConstraint restricts a numeric option to an explicit list of
// words, again projected per the option's value type.
type WordListConstraint []Word

func (WordListConstraint) constraintType() ConstraintType { return ConstraintWordList }

// StringListConstraint restricts a string option to an explicit list.
type StringListConstraint []string

func (StringListConstraint) constraintType() ConstraintType { return ConstraintStringList }

// OptionDescriptor is the backend-supplied metadata of one option.
type OptionDescriptor struct {
	Name         string
	Title        string
	Description  string
	Type         ValueType
	Unit         Unit
	Size         int // value buffer size in bytes
	Capabilities CapabilitySet
	Constraint   Constraint
}

// elementCount returns how many value elements the option holds:
// size/4 for the word-backed types, 1 for bool and string, 0 for
// button and group.
func (d *OptionDescriptor) elementCount() int {
	switch d.Type {
	case TypeInt, TypeFixed:
		return d.Size / 4
	case TypeBool, TypeString:
		return 1
	default:
		return 0
	}
}

// optionDescriptor reads one pointer-preceded option descriptor.
func (r *reader) optionDescriptor() (*OptionDescriptor, error) {
	// The descriptor itself is pointer-preceded like every serialized
	// structure; a null pointer here would leave nothing to read.
	if _, err := r.pointer(); err != nil {
		return nil, err
	}

	d := &OptionDescriptor{}
	var err error
	if d.Name, err = r.str(); err != nil {
		return nil, err
	}
	if d.Title, err = r.str(); err != nil {
		return nil, err
	}
	if d.Description, err = r.str(); err != nil {
		return nil, err
	}

	typ, err := r.word()
	if err != nil {
		return nil, err
	}
	d.Type = ValueType(typ)

	unit, err := r.word()
	if err != nil {
		return nil, err
	}
	d.Unit = Unit(unit)

	size, err := r.word()
	if err != nil {
		return nil, err
	}
	d.Size = int(size.Int())

	caps, err := r.word()
	if err != nil {
		return nil, err
	}
	d.Capabilities = CapabilitySet(caps)

	kind, err := r.word()
	if err != nil {
		return nil, err
	}
	if d.Constraint, err = r.constraint(ConstraintType(kind)); err != nil {
		return nil, fmt.Errorf("option %q: %w", d.Name, err)
	}

	// Only {string, string list}, {int/fixed, range or word list} and
	// {anything, none} are meaningful pairings. Anything else is a
	// backend bug: keep the option but treat it as unconstrained.
	if !validConstraintPairing(d.Type, d.Constraint.constraintType()) {
		slog.Warn("option has mismatched constraint, treating as unconstrained",
			"option", d.Name, "type", d.Type, "constraint", d.Constraint.constraintType())
		d.Constraint = NoConstraint{}
	}
	return d, nil
}

func validConstraintPairing(t ValueType, c ConstraintType) bool {
	switch c {
	case ConstraintNone:
		return true
	case ConstraintStringList:
		return t == TypeString
	case ConstraintRange, ConstraintWordList:
		return t == TypeInt || t == TypeFixed
	default:
		return false
	}
}

// constraint reads the constraint payload for the given kind.
func (r *reader) constraint(kind ConstraintType) (Constraint, error) {
	switch kind {
	case ConstraintNone:
		return NoConstraint{}, nil

	case ConstraintRange:
		present, err := r.pointer()
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, protocolf("range constraint with null pointer")
		}
		var c RangeConstraint
		if c.Min, err = r.word(); err != nil {
			return nil, err
		}
		if c.Max, err = r.word(); err != nil {
			return nil, err
		}
		if c.Quant, err = r.word(); err != nil {
			return nil, err
		}
		return &c, nil

	case ConstraintWordList:
		n, err := r.word()
		if err != nil {
			return nil, err
		}
		count := int(n.Int())
		if count < 1 {
			return nil, protocolf("word list of length %d", count)
		}
		// The first element repeats the element count.
		list := make(WordListConstraint, 0, count-1)
		for i := 0; i < count; i++ {
			w, err := r.word()
			if err != nil {
				return nil, err
			}
			if i == 0 {
				if int(w.Int()) != count {
					return nil, protocolf("word list self-count %d does not match length %d", w.Int(), count)
				}
				continue
			}
			list = append(list, w)
		}
		return list, nil

	case ConstraintStringList:
		n, err := r.word()
		if err != nil {
			return nil, err
		}
		count := int(n.Int())
		if count < 1 {
			return nil, protocolf("string list of length %d", count)
		}
		// The final string is the empty terminator.
		list := make(StringListConstraint, 0, count-1)
		for i := 0; i < count; i++ {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			if i < count-1 {
				list = append(list, s)
			}
		}
		return list, nil

	default:
		return nil, protocolf("unknown constraint kind %d", Word(kind).Int())
	}
}
