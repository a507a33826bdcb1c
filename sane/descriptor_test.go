package sane

import (
	"bytes"
	"testing"
)

// descriptorFixture writes one wire-format option descriptor.
type descriptorFixture struct {
	name, title, desc string
	typ               ValueType
	unit              Unit
	size              int
	caps              CapabilitySet
	constraintKind    ConstraintType
	rangeWords        [3]Word
	words             []Word
	strings           []string
}

func (f descriptorFixture) encode(t *testing.T, w *writer) {
	t.Helper()
	must := func(err error) {
		if err != nil {
			t.Fatalf("encode descriptor: %v", err)
		}
	}
	must(w.word(1)) // descriptor pointer
	must(w.str(f.name))
	must(w.str(f.title))
	must(w.str(f.desc))
	must(w.word(Word(f.typ)))
	must(w.word(Word(f.unit)))
	must(w.word(Word(uint32(f.size))))
	must(w.word(Word(f.caps)))
	must(w.word(Word(f.constraintKind)))
	switch f.constraintKind {
	case ConstraintRange:
		must(w.word(1)) // range pointer
		for _, v := range f.rangeWords {
			must(w.word(v))
		}
	case ConstraintWordList:
		must(w.word(Word(uint32(len(f.words) + 1))))
		must(w.word(Word(uint32(len(f.words) + 1)))) // self-count
		for _, v := range f.words {
			must(w.word(v))
		}
	case ConstraintStringList:
		must(w.word(Word(uint32(len(f.strings) + 1))))
		for _, s := range f.strings {
			must(w.str(s))
		}
		must(w.str("")) // list terminator
	}
}

func decodeDescriptor(t *testing.T, f descriptorFixture) (*OptionDescriptor, error) {
	t.Helper()
	var buf bytes.Buffer
	w := newWriter(&buf)
	f.encode(t, w)
	if err := w.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return newReader(&buf).optionDescriptor()
}

func TestDescriptorRange(t *testing.T) {
	d, err := decodeDescriptor(t, descriptorFixture{
		name:           "resolution",
		title:          "Scan resolution",
		desc:           "Sets the resolution of the scanned image.",
		typ:            TypeInt,
		unit:           UnitDPI,
		size:           4,
		caps:           Caps(CapSoftSelect, CapSoftDetect),
		constraintKind: ConstraintRange,
		rangeWords:     [3]Word{IntWord(50), IntWord(600), IntWord(10)},
	})
	if err != nil {
		t.Fatalf("optionDescriptor: %v", err)
	}
	if d.Name != "resolution" || d.Type != TypeInt || d.Unit != UnitDPI || d.Size != 4 {
		t.Errorf("descriptor fields = %+v", d)
	}
	r, ok := d.Constraint.(*RangeConstraint)
	if !ok {
		t.Fatalf("constraint = %T, want *RangeConstraint", d.Constraint)
	}
	if r.Min.Int() != 50 || r.Max.Int() != 600 || r.Quant.Int() != 10 {
		t.Errorf("range = %d..%d/%d", r.Min.Int(), r.Max.Int(), r.Quant.Int())
	}
	if d.elementCount() != 1 {
		t.Errorf("elementCount = %d, want 1", d.elementCount())
	}
}

func TestDescriptorWordList(t *testing.T) {
	d, err := decodeDescriptor(t, descriptorFixture{
		name:           "resolution",
		title:          "Scan resolution",
		typ:            TypeInt,
		unit:           UnitDPI,
		size:           4,
		caps:           Caps(CapSoftSelect, CapSoftDetect),
		constraintKind: ConstraintWordList,
		words:          []Word{IntWord(75), IntWord(150), IntWord(300)},
	})
	if err != nil {
		t.Fatalf("optionDescriptor: %v", err)
	}
	list, ok := d.Constraint.(WordListConstraint)
	if !ok {
		t.Fatalf("constraint = %T, want WordListConstraint", d.Constraint)
	}
	if len(list) != 3 || list[0].Int() != 75 || list[2].Int() != 300 {
		t.Errorf("word list = %v", list)
	}
}

func TestDescriptorWordListBadSelfCount(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	f := descriptorFixture{
		name: "resolution", typ: TypeInt, size: 4,
		caps:           Caps(CapSoftSelect, CapSoftDetect),
		constraintKind: ConstraintWordList,
		words:          []Word{IntWord(75)},
	}
	// Encode by hand with a lying self-count.
	w.word(1)
	w.str(f.name)
	w.str("")
	w.str("")
	w.word(Word(f.typ))
	w.word(Word(f.unit))
	w.word(Word(uint32(f.size)))
	w.word(Word(f.caps))
	w.word(Word(ConstraintWordList))
	w.word(2)
	w.word(7) // should be 2
	w.word(IntWord(75))
	w.flush()

	if _, err := newReader(&buf).optionDescriptor(); err == nil {
		t.Fatal("expected error for mismatched word list self-count")
	}
}

func TestDescriptorStringList(t *testing.T) {
	d, err := decodeDescriptor(t, descriptorFixture{
		name:           "mode",
		title:          "Scan mode",
		typ:            TypeString,
		unit:           UnitNone,
		size:           32,
		caps:           Caps(CapSoftSelect, CapSoftDetect),
		constraintKind: ConstraintStringList,
		strings:        []string{"Lineart", "Gray", "Color"},
	})
	if err != nil {
		t.Fatalf("optionDescriptor: %v", err)
	}
	list, ok := d.Constraint.(StringListConstraint)
	if !ok {
		t.Fatalf("constraint = %T, want StringListConstraint", d.Constraint)
	}
	if len(list) != 3 || list[0] != "Lineart" || list[2] != "Color" {
		t.Errorf("string list = %v", list)
	}
}

// A string option with a range constraint is a backend bug; the option
// survives as unconstrained.
func TestDescriptorMismatchedConstraint(t *testing.T) {
	d, err := decodeDescriptor(t, descriptorFixture{
		name:           "weird",
		typ:            TypeString,
		size:           16,
		caps:           Caps(CapSoftSelect, CapSoftDetect),
		constraintKind: ConstraintRange,
		rangeWords:     [3]Word{0, 100, 1},
	})
	if err != nil {
		t.Fatalf("optionDescriptor: %v", err)
	}
	if _, ok := d.Constraint.(NoConstraint); !ok {
		t.Errorf("constraint = %T, want NoConstraint", d.Constraint)
	}
}

func TestDescriptorNone(t *testing.T) {
	d, err := decodeDescriptor(t, descriptorFixture{
		name: "preview",
		typ:  TypeBool,
		size: 4,
		caps: Caps(CapSoftSelect, CapSoftDetect),
	})
	if err != nil {
		t.Fatalf("optionDescriptor: %v", err)
	}
	if _, ok := d.Constraint.(NoConstraint); !ok {
		t.Errorf("constraint = %T, want NoConstraint", d.Constraint)
	}
	if d.elementCount() != 1 {
		t.Errorf("elementCount = %d, want 1", d.elementCount())
	}
}

func TestDescriptorElementCounts(t *testing.T) {
	cases := []struct {
		typ  ValueType
		size int
		want int
	}{
		{TypeInt, 16, 4},
		{TypeFixed, 8, 2},
		{TypeBool, 4, 1},
		{TypeString, 64, 1},
		{TypeButton, 0, 0},
		{TypeGroup, 0, 0},
	}
	for _, c := range cases {
		d := &OptionDescriptor{Type: c.typ, Size: c.size}
		if got := d.elementCount(); got != c.want {
			t.Errorf("elementCount(%s, %d) = %d, want %d", c.typ, c.size, got, c.want)
		}
	}
}
