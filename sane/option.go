package sane

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
)

// OptionGroup is a titled run of consecutive options, opened by a
// group-typed descriptor in the option list.
type OptionGroup struct {
	title   string
	options []*Option
}

// Title returns the group title.
func (g *OptionGroup) Title() string { return g.title }

// Options returns the group members in descriptor order.
func (g *OptionGroup) Options() []*Option {
	out := make([]*Option, len(g.options))
	copy(out, g.options)
	return out
}

// Option is one tunable parameter of an open device. Values are read and
// written over SANE_NET_CONTROL_OPTION with the precondition checks the
// descriptor demands.
type Option struct {
	device *Device
	index  int
	desc   *OptionDescriptor
	group  *OptionGroup
}

// Name returns the option name, e.g. "resolution".
func (o *Option) Name() string { return o.desc.Name }

// Title returns the human-readable option title.
func (o *Option) Title() string { return o.desc.Title }

// Description returns the long option description.
func (o *Option) Description() string { return o.desc.Description }

// Type returns the option's value type.
func (o *Option) Type() ValueType { return o.desc.Type }

// Unit returns the option's physical unit.
func (o *Option) Unit() Unit { return o.desc.Unit }

// Size returns the value buffer size in bytes.
func (o *Option) Size() int { return o.desc.Size }

// Capabilities returns the option's capability set.
func (o *Option) Capabilities() CapabilitySet { return o.desc.Capabilities }

// Constraint returns the option's value constraint.
func (o *Option) Constraint() Constraint { return o.desc.Constraint }

// Group returns the group the option belongs to, or nil.
func (o *Option) Group() *OptionGroup { return o.group }

// Active reports whether the option is currently active; inactive
// options cannot be read or written until another option write
// activates them.
func (o *Option) Active() bool { return !o.desc.Capabilities.Has(CapInactive) }

// Readable reports whether the option value can be read in software.
func (o *Option) Readable() bool { return o.desc.Capabilities.Has(CapSoftDetect) }

// Writable reports whether the option value can be set in software.
func (o *Option) Writable() bool { return o.desc.Capabilities.Has(CapSoftSelect) }

func (o *Option) String() string {
	return fmt.Sprintf("option %q (%s, %s)", o.desc.Name, o.desc.Type, o.desc.Unit)
}

// controlResult is the decoded reply of one CONTROL_OPTION exchange.
type controlResult struct {
	info  InfoSet
	typ   ValueType
	size  int
	value []byte // raw value payload; nil when the pointer was null
}

// word returns the i-th word of the value payload.
func (r *controlResult) word(i int) (Word, error) {
	if (i+1)*4 > len(r.value) {
		return 0, protocolf("value payload of %d bytes has no word %d", len(r.value), i)
	}
	return Word(binary.BigEndian.Uint32(r.value[i*4:])), nil
}

// current re-resolves the option against the device's descriptor cache,
// re-fetching the list if a previous write invalidated it. Called with
// the session lock held.
func (o *Option) current() (*Option, error) {
	d := o.device
	if err := d.ensureDescriptors(); err != nil {
		return nil, err
	}
	if cur, ok := d.optionsByName[o.desc.Name]; ok {
		return cur, nil
	}
	return o, nil
}

// control performs one CONTROL_OPTION round trip. payload writes the
// request value; it may be nil for an empty payload. Called with the
// session lock held.
func (o *Option) control(action Word, typ ValueType, size, count int, payload func(*writer) error) (*controlResult, error) {
	d := o.device
	s := d.session
	s.deadline()

	for _, w := range []Word{Word(OpControlOption), d.handle, Word(uint32(o.index)), action, Word(typ), Word(uint32(size)), Word(uint32(count))} {
		if err := s.w.word(w); err != nil {
			return nil, err
		}
	}
	if payload != nil {
		if err := payload(s.w); err != nil {
			return nil, err
		}
	}
	if err := s.w.flush(); err != nil {
		return nil, err
	}

	// The reply is (status, info, type, size, ptr, value?, resource);
	// a non-empty resource interrupts it for authorization and the
	// whole reply is sent again.
	for {
		status, err := s.r.status()
		if err != nil {
			return nil, err
		}
		info, err := s.r.word()
		if err != nil {
			return nil, err
		}
		replyType, err := s.r.word()
		if err != nil {
			return nil, err
		}
		replySize, err := s.r.word()
		if err != nil {
			return nil, err
		}
		present, err := s.r.pointer()
		if err != nil {
			return nil, err
		}
		var value []byte
		if present {
			if ValueType(replyType) == TypeString {
				if value, err = s.r.strBytes(); err != nil {
					return nil, err
				}
			} else {
				n := int(replySize.Int())
				if n < 0 {
					return nil, protocolf("negative value size %d", n)
				}
				if value, err = s.r.bytes(n); err != nil {
					return nil, err
				}
			}
		}
		resource, err := s.r.str()
		if err != nil {
			return nil, err
		}
		if resource != "" {
			if err := s.authorize(resource); err != nil {
				return nil, err
			}
			continue
		}
		if status != StatusGood {
			return nil, &StatusError{Op: fmt.Sprintf("control option %q", o.desc.Name), Status: status}
		}

		result := &controlResult{
			info:  InfoSet(info),
			typ:   ValueType(replyType),
			size:  int(replySize.Int()),
			value: value,
		}
		if action != actionGetValue {
			d.applyInfo(result.info)
		}
		return result, nil
	}
}

// applyInfo reacts to the write-info bits of a successful write: reload
// demands invalidate the descriptor cache, and a parameter reload
// additionally re-fetches it immediately. Called with the session lock
// held.
func (d *Device) applyInfo(info InfoSet) {
	if !info.Has(InfoReloadOptions) {
		return
	}
	slog.Debug("write invalidated option descriptors", "device", d.name, "info", info)
	d.invalidateDescriptors()
	if info.Has(InfoReloadParameters) {
		if err := d.fetchDescriptors(); err != nil {
			slog.Warn("descriptor re-fetch after write failed", "device", d.name, "err", err)
		}
	}
}

// checkRead verifies the preconditions of a typed read.
func (o *Option) checkRead(want ValueType) error {
	if o.desc.Type != want {
		return preconditionf("option %q is %s, not %s", o.desc.Name, o.desc.Type, want)
	}
	if !o.Readable() {
		return preconditionf("option %q is not readable", o.desc.Name)
	}
	if !o.Active() {
		return preconditionf("option %q is inactive", o.desc.Name)
	}
	return nil
}

// checkWrite verifies the preconditions of a typed write.
func (o *Option) checkWrite(want ValueType) error {
	if o.desc.Type != want {
		return preconditionf("option %q is %s, not %s", o.desc.Name, o.desc.Type, want)
	}
	if !o.Writable() {
		return preconditionf("option %q is not writable", o.desc.Name)
	}
	if !o.Active() {
		return preconditionf("option %q is inactive", o.desc.Name)
	}
	return nil
}

func (o *Option) checkSingleton() error {
	if n := o.desc.elementCount(); n != 1 {
		return preconditionf("option %q holds %d elements, not 1", o.desc.Name, n)
	}
	return nil
}

// zeroValuePayload writes an all-zero value container of the given
// byte size, used as the request payload of reads.
func zeroValuePayload(size int) func(*writer) error {
	return func(w *writer) error {
		return w.bytes(make([]byte, size))
	}
}

// zeroStringPayload writes an empty string container of the given total
// byte size, used as the request payload of string reads.
func zeroStringPayload(size int) func(*writer) error {
	return func(w *writer) error {
		if err := w.word(Word(uint32(size))); err != nil {
			return err
		}
		return w.bytes(make([]byte, size))
	}
}

// wordValuePayload writes the given words as a value container.
func wordValuePayload(words []Word) func(*writer) error {
	return func(w *writer) error {
		for _, v := range words {
			if err := w.word(v); err != nil {
				return err
			}
		}
		return nil
	}
}

// ReadBool reads a boolean singleton option.
func (o *Option) ReadBool() (bool, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return false, err
	}
	if err := o.checkRead(TypeBool); err != nil {
		return false, err
	}
	if err := o.checkSingleton(); err != nil {
		return false, err
	}
	result, err := o.control(actionGetValue, TypeBool, 4, 1, zeroValuePayload(4))
	if err != nil {
		return false, err
	}
	w, err := result.word(0)
	if err != nil {
		return false, err
	}
	return w != 0, nil
}

// ReadInt reads an integer singleton option.
func (o *Option) ReadInt() (int, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return 0, err
	}
	if err := o.checkRead(TypeInt); err != nil {
		return 0, err
	}
	if err := o.checkSingleton(); err != nil {
		return 0, err
	}
	result, err := o.control(actionGetValue, TypeInt, 4, 1, zeroValuePayload(4))
	if err != nil {
		return 0, err
	}
	w, err := result.word(0)
	if err != nil {
		return 0, err
	}
	return int(w.Int()), nil
}

// ReadIntArray reads an integer array option. Singleton options yield a
// one-element slice.
func (o *Option) ReadIntArray() ([]int, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return nil, err
	}
	if err := o.checkRead(TypeInt); err != nil {
		return nil, err
	}
	count := o.desc.elementCount()
	result, err := o.control(actionGetValue, TypeInt, o.desc.Size, count, zeroValuePayload(o.desc.Size))
	if err != nil {
		return nil, err
	}
	values := make([]int, count)
	for i := range values {
		w, err := result.word(i)
		if err != nil {
			return nil, err
		}
		values[i] = int(w.Int())
	}
	return values, nil
}

// ReadFixed reads a fixed-point singleton option.
func (o *Option) ReadFixed() (float64, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return 0, err
	}
	if err := o.checkRead(TypeFixed); err != nil {
		return 0, err
	}
	if err := o.checkSingleton(); err != nil {
		return 0, err
	}
	result, err := o.control(actionGetValue, TypeFixed, 4, 1, zeroValuePayload(4))
	if err != nil {
		return 0, err
	}
	w, err := result.word(0)
	if err != nil {
		return 0, err
	}
	return w.Fixed(), nil
}

// ReadFixedArray reads a fixed-point array option.
func (o *Option) ReadFixedArray() ([]float64, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return nil, err
	}
	if err := o.checkRead(TypeFixed); err != nil {
		return nil, err
	}
	count := o.desc.elementCount()
	result, err := o.control(actionGetValue, TypeFixed, o.desc.Size, count, zeroValuePayload(o.desc.Size))
	if err != nil {
		return nil, err
	}
	values := make([]float64, count)
	for i := range values {
		w, err := result.word(i)
		if err != nil {
			return nil, err
		}
		values[i] = w.Fixed()
	}
	return values, nil
}

// ReadString reads a string option. The value is truncated at the first
// NUL and decoded as ISO-8859-1.
func (o *Option) ReadString() (string, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return "", err
	}
	if err := o.checkRead(TypeString); err != nil {
		return "", err
	}
	result, err := o.control(actionGetValue, TypeString, o.desc.Size, 1, zeroStringPayload(o.desc.Size))
	if err != nil {
		return "", err
	}
	return fromLatin1(result.value), nil
}

// WriteBool sets a boolean option and returns the value the backend
// settled on.
func (o *Option) WriteBool(value bool) (bool, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return false, err
	}
	if err := o.checkWrite(TypeBool); err != nil {
		return false, err
	}
	if err := o.checkSingleton(); err != nil {
		return false, err
	}
	result, err := o.control(actionSetValue, TypeBool, 4, 1, wordValuePayload([]Word{BoolWord(value)}))
	if err != nil {
		return false, err
	}
	w, err := result.word(0)
	if err != nil {
		return false, err
	}
	return w != 0, nil
}

// WriteInt sets an integer singleton option and returns the value the
// backend settled on, which may differ when the reply carries the
// inexact info bit.
func (o *Option) WriteInt(value int) (int, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return 0, err
	}
	if err := o.checkWrite(TypeInt); err != nil {
		return 0, err
	}
	if err := o.checkSingleton(); err != nil {
		return 0, err
	}
	if value < math.MinInt32 || value > math.MaxInt32 {
		return 0, preconditionf("value %d does not fit a protocol word", value)
	}
	result, err := o.control(actionSetValue, TypeInt, 4, 1, wordValuePayload([]Word{IntWord(int32(value))}))
	if err != nil {
		return 0, err
	}
	w, err := result.word(0)
	if err != nil {
		return 0, err
	}
	return int(w.Int()), nil
}

// WriteIntArray sets an integer array option; the value must match the
// option's element count exactly.
func (o *Option) WriteIntArray(values []int) ([]int, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return nil, err
	}
	if err := o.checkWrite(TypeInt); err != nil {
		return nil, err
	}
	count := o.desc.elementCount()
	if len(values) != count {
		return nil, preconditionf("option %q holds %d elements, got %d", o.desc.Name, count, len(values))
	}
	words := make([]Word, len(values))
	for i, v := range values {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, preconditionf("value %d does not fit a protocol word", v)
		}
		words[i] = IntWord(int32(v))
	}
	result, err := o.control(actionSetValue, TypeInt, o.desc.Size, count, wordValuePayload(words))
	if err != nil {
		return nil, err
	}
	out := make([]int, count)
	for i := range out {
		w, err := result.word(i)
		if err != nil {
			return nil, err
		}
		out[i] = int(w.Int())
	}
	return out, nil
}

// WriteFixed sets a fixed-point singleton option; the value must lie in
// the representable Q15.16 domain.
func (o *Option) WriteFixed(value float64) (float64, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return 0, err
	}
	if err := o.checkWrite(TypeFixed); err != nil {
		return 0, err
	}
	if err := o.checkSingleton(); err != nil {
		return 0, err
	}
	word, err := FixedWord(value)
	if err != nil {
		return 0, err
	}
	result, err := o.control(actionSetValue, TypeFixed, 4, 1, wordValuePayload([]Word{word}))
	if err != nil {
		return 0, err
	}
	w, err := result.word(0)
	if err != nil {
		return 0, err
	}
	return w.Fixed(), nil
}

// WriteFixedArray sets a fixed-point array option.
func (o *Option) WriteFixedArray(values []float64) ([]float64, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return nil, err
	}
	if err := o.checkWrite(TypeFixed); err != nil {
		return nil, err
	}
	count := o.desc.elementCount()
	if len(values) != count {
		return nil, preconditionf("option %q holds %d elements, got %d", o.desc.Name, count, len(values))
	}
	words := make([]Word, len(values))
	for i, v := range values {
		word, err := FixedWord(v)
		if err != nil {
			return nil, err
		}
		words[i] = word
	}
	result, err := o.control(actionSetValue, TypeFixed, o.desc.Size, count, wordValuePayload(words))
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		w, err := result.word(i)
		if err != nil {
			return nil, err
		}
		out[i] = w.Fixed()
	}
	return out, nil
}

// WriteString sets a string option. The encoded value must leave room
// for the NUL terminator within the option's buffer size. Unless the
// reply carries the inexact info bit the backend must echo the value
// unchanged.
func (o *Option) WriteString(value string) (string, error) {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return "", err
	}
	if err := o.checkWrite(TypeString); err != nil {
		return "", err
	}
	encoded, err := latin1(value)
	if err != nil {
		return "", err
	}
	// The terminator occupies the final byte of the value buffer.
	if len(encoded) >= o.desc.Size {
		return "", preconditionf("option %q holds %d bytes, value needs %d", o.desc.Name, o.desc.Size, len(encoded)+1)
	}
	result, err := o.control(actionSetValue, TypeString, len(encoded)+1, 1, func(w *writer) error {
		return w.str(value)
	})
	if err != nil {
		return "", err
	}
	returned := fromLatin1(result.value)
	if !result.info.Has(InfoInexact) && returned != value {
		return "", protocolf("option %q: backend returned %q for exact write of %q", o.desc.Name, returned, value)
	}
	return returned, nil
}

// PressButton triggers a button option.
func (o *Option) PressButton() error {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return err
	}
	if err := o.checkWrite(TypeButton); err != nil {
		return err
	}
	_, err = o.control(actionSetValue, TypeButton, 0, 0, nil)
	return err
}

// SetAuto asks the backend to choose the option value itself. The option
// must advertise the automatic capability.
func (o *Option) SetAuto() error {
	s := o.device.session
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := o.current()
	if err != nil {
		return err
	}
	if !o.desc.Capabilities.Has(CapAutomatic) {
		return preconditionf("option %q has no automatic mode", o.desc.Name)
	}
	if !o.Writable() {
		return preconditionf("option %q is not writable", o.desc.Name)
	}
	_, err = o.control(actionSetAuto, o.desc.Type, 0, 0, nil)
	return err
}
