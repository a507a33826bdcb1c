package sane

import (
	"fmt"
	"log/slog"
)

// Device is one scanner offered by the daemon. A device may be open at
// most once per session; while open it owns its handle and its option
// descriptor cache.
type Device struct {
	session *Session
	name    string
	vendor  string
	model   string
	typ     string

	opened bool
	handle Word

	// Descriptor cache, rebuilt lazily after invalidation.
	descriptorsValid bool
	options          []*Option
	optionsByName    map[string]*Option
	groups           []*OptionGroup
}

// Name returns the device name used to open it.
func (d *Device) Name() string { return d.name }

// Vendor returns the vendor string, if the device came from ListDevices.
func (d *Device) Vendor() string { return d.vendor }

// Model returns the model string, if the device came from ListDevices.
func (d *Device) Model() string { return d.model }

// Type returns the device type string, if the device came from
// ListDevices.
func (d *Device) Type() string { return d.typ }

func (d *Device) String() string {
	return fmt.Sprintf("device %q (%s %s)", d.name, d.vendor, d.model)
}

// Open opens the device and obtains its handle. The daemon may demand
// authorization before handing it out.
func (d *Device) Open() error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return preconditionf("session is closed")
	}
	if d.opened {
		return preconditionf("device %q is already open", d.name)
	}
	s.deadline()

	if err := s.w.word(Word(OpOpen)); err != nil {
		return err
	}
	if err := s.w.str(d.name); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}

	// The reply is (status, handle, resource). A non-empty resource
	// interrupts it for the authorization dance, after which the whole
	// triple is sent again.
	for {
		status, err := s.r.status()
		if err != nil {
			return err
		}
		handle, err := s.r.word()
		if err != nil {
			return err
		}
		resource, err := s.r.str()
		if err != nil {
			return err
		}
		if resource != "" {
			if err := s.authorize(resource); err != nil {
				return err
			}
			continue
		}
		if status != StatusGood {
			return &StatusError{Op: "open", Status: status}
		}
		d.handle = handle
		d.opened = true
		d.descriptorsValid = false
		slog.Debug("device opened", "device", d.name, "handle", uint32(handle))
		return nil
	}
}

// Close releases the device handle. Closing a device that is not open is
// a precondition error.
func (d *Device) Close() error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.opened {
		return preconditionf("device %q is not open", d.name)
	}
	s.deadline()

	if err := s.w.word(Word(OpClose)); err != nil {
		return err
	}
	if err := s.w.word(d.handle); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}
	status, err := s.r.status()
	if err != nil {
		return err
	}
	d.opened = false
	d.invalidateDescriptors()
	if status != StatusGood {
		return &StatusError{Op: "close", Status: status}
	}
	slog.Debug("device closed", "device", d.name)
	return nil
}

// Cancel aborts the current operation on the device. Between scans it is
// a no-op from the caller's perspective. It may be called from another
// goroutine while a scan is blocked on the data socket.
func (d *Device) Cancel() error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.opened {
		return preconditionf("device %q is not open", d.name)
	}
	s.deadline()

	if err := s.w.word(Word(OpCancel)); err != nil {
		return err
	}
	if err := s.w.word(d.handle); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}
	status, err := s.r.status()
	if err != nil {
		return err
	}
	if status != StatusGood {
		return &StatusError{Op: "cancel", Status: status}
	}
	return nil
}

// ListOptions returns the device's visible options in descriptor order,
// fetching them from the daemon if the cache is invalid.
func (d *Device) ListOptions() ([]*Option, error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.ensureDescriptors(); err != nil {
		return nil, err
	}
	out := make([]*Option, len(d.options))
	copy(out, d.options)
	return out, nil
}

// OptionGroups returns the option groups in descriptor order. Options
// preceding the first group descriptor belong to no group.
func (d *Device) OptionGroups() ([]*OptionGroup, error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.ensureDescriptors(); err != nil {
		return nil, err
	}
	out := make([]*OptionGroup, len(d.groups))
	copy(out, d.groups)
	return out, nil
}

// Option returns the named option.
func (d *Device) Option(name string) (*Option, error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := d.ensureDescriptors(); err != nil {
		return nil, err
	}
	opt, ok := d.optionsByName[name]
	if !ok {
		return nil, preconditionf("device %q has no option %q", d.name, name)
	}
	return opt, nil
}

// invalidateDescriptors drops the descriptor cache; the next option
// access re-fetches the full list. Called with the session lock held.
func (d *Device) invalidateDescriptors() {
	d.descriptorsValid = false
	d.options = nil
	d.optionsByName = nil
	d.groups = nil
}

// ensureDescriptors fetches the option descriptors if the cache is
// invalid. Called with the session lock held.
func (d *Device) ensureDescriptors() error {
	if !d.opened {
		return preconditionf("device %q is not open", d.name)
	}
	if d.descriptorsValid {
		return nil
	}
	return d.fetchDescriptors()
}

// fetchDescriptors issues GET_OPTION_DESCRIPTORS and rebuilds the option
// list, groups and name index. Called with the session lock held.
func (d *Device) fetchDescriptors() error {
	s := d.session
	s.deadline()

	if err := s.w.word(Word(OpGetOptionDescriptors)); err != nil {
		return err
	}
	if err := s.w.word(d.handle); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}

	length, err := s.r.word()
	if err != nil {
		return err
	}
	count := int(length.Int()) - 1
	if count < 0 {
		return protocolf("option descriptor count %d", length.Int())
	}

	var options []*Option
	var groups []*OptionGroup
	byName := make(map[string]*Option)
	var currentGroup *OptionGroup

	for i := 0; i < count; i++ {
		desc, err := s.r.optionDescriptor()
		if err != nil {
			return fmt.Errorf("option descriptor %d: %w", i, err)
		}

		// A group descriptor opens a new group; every following
		// non-group option is attached to it.
		if desc.Type == TypeGroup {
			currentGroup = &OptionGroup{title: desc.Title}
			groups = append(groups, currentGroup)
			continue
		}

		// Certain backends emit descriptors with empty names past
		// index 0; they are not addressable and are dropped.
		if i > 0 && desc.Name == "" {
			continue
		}
		if !optionVisible(desc.Capabilities) {
			slog.Debug("option hidden by capability filter", "option", desc.Name, "caps", desc.Capabilities)
			continue
		}

		opt := &Option{device: d, index: i, desc: desc, group: currentGroup}
		options = append(options, opt)
		if desc.Name != "" {
			byName[desc.Name] = opt
		}
		if currentGroup != nil {
			currentGroup.options = append(currentGroup.options, opt)
		}
	}

	d.options = options
	d.optionsByName = byName
	d.groups = groups
	d.descriptorsValid = true
	slog.Debug("option descriptors fetched", "device", d.name, "options", len(options), "groups", len(groups))
	return nil
}

// optionVisible applies the capability filter: an option is hidden when
// it is both hard- and soft-selectable, when it is soft-selectable but
// not detectable, or when it is neither selectable nor detectable.
func optionVisible(caps CapabilitySet) bool {
	softSelect := caps.Has(CapSoftSelect)
	hardSelect := caps.Has(CapHardSelect)
	softDetect := caps.Has(CapSoftDetect)
	switch {
	case softSelect && hardSelect:
		return false
	case softSelect && !softDetect:
		return false
	case !softSelect && !softDetect && !hardSelect:
		return false
	}
	return true
}
