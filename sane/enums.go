package sane

import (
	"fmt"
	"strings"
)

// Status is a SANE operation status word.
type Status Word

// Status values defined by the protocol.
const (
	StatusGood         Status = 0
	StatusUnsupported  Status = 1
	StatusCancelled    Status = 2
	StatusDeviceBusy   Status = 3
	StatusInval        Status = 4
	StatusEOF          Status = 5
	StatusJammed       Status = 6
	StatusNoDocs       Status = 7
	StatusCoverOpen    Status = 8
	StatusIOError      Status = 9
	StatusNoMem        Status = 10
	StatusAccessDenied Status = 11
)

var statusNames = map[Status]string{
	StatusGood:         "good",
	StatusUnsupported:  "unsupported",
	StatusCancelled:    "cancelled",
	StatusDeviceBusy:   "device busy",
	StatusInval:        "invalid argument",
	StatusEOF:          "end of file",
	StatusJammed:       "document feeder jammed",
	StatusNoDocs:       "no documents",
	StatusCoverOpen:    "cover open",
	StatusIOError:      "I/O error",
	StatusNoMem:        "out of memory",
	StatusAccessDenied: "access denied",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown status %d", Word(s).Int())
}

// Opcode is a SANE network RPC code sent at the start of every request.
type Opcode Word

// RPC opcodes.
const (
	OpInit                 Opcode = 0
	OpGetDevices           Opcode = 1
	OpOpen                 Opcode = 2
	OpClose                Opcode = 3
	OpGetOptionDescriptors Opcode = 4
	OpControlOption        Opcode = 5
	OpGetParameters        Opcode = 6
	OpStart                Opcode = 7
	OpCancel               Opcode = 8
	OpAuthorize            Opcode = 9
	OpExit                 Opcode = 10
)

var opcodeNames = map[Opcode]string{
	OpInit:                 "SANE_NET_INIT",
	OpGetDevices:           "SANE_NET_GET_DEVICES",
	OpOpen:                 "SANE_NET_OPEN",
	OpClose:                "SANE_NET_CLOSE",
	OpGetOptionDescriptors: "SANE_NET_GET_OPTION_DESCRIPTORS",
	OpControlOption:        "SANE_NET_CONTROL_OPTION",
	OpGetParameters:        "SANE_NET_GET_PARAMETERS",
	OpStart:                "SANE_NET_START",
	OpCancel:               "SANE_NET_CANCEL",
	OpAuthorize:            "SANE_NET_AUTHORIZE",
	OpExit:                 "SANE_NET_EXIT",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("unknown opcode %d", Word(o).Int())
}

// FrameType identifies the channel content of one frame.
type FrameType Word

// Frame types.
const (
	FrameGray  FrameType = 0
	FrameRGB   FrameType = 1
	FrameRed   FrameType = 2
	FrameGreen FrameType = 3
	FrameBlue  FrameType = 4
)

var frameNames = map[FrameType]string{
	FrameGray:  "gray",
	FrameRGB:   "rgb",
	FrameRed:   "red",
	FrameGreen: "green",
	FrameBlue:  "blue",
}

func (f FrameType) String() string {
	if name, ok := frameNames[f]; ok {
		return name
	}
	return fmt.Sprintf("unknown frame type %d", Word(f).Int())
}

// singleFrame reports whether a frame of this type carries a complete
// image on its own (as opposed to one pass of a three-pass scan).
func (f FrameType) singleFrame() bool {
	return f == FrameGray || f == FrameRGB
}

// ValueType is the type of an option value.
type ValueType Word

// Option value types.
const (
	TypeBool   ValueType = 0
	TypeInt    ValueType = 1
	TypeFixed  ValueType = 2
	TypeString ValueType = 3
	TypeButton ValueType = 4
	TypeGroup  ValueType = 5
)

var typeNames = map[ValueType]string{
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeFixed:  "fixed",
	TypeString: "string",
	TypeButton: "button",
	TypeGroup:  "group",
}

func (t ValueType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown value type %d", Word(t).Int())
}

// Unit is the physical unit of an option value.
type Unit Word

// Option units.
const (
	UnitNone        Unit = 0
	UnitPixel       Unit = 1
	UnitBit         Unit = 2
	UnitMM          Unit = 3
	UnitDPI         Unit = 4
	UnitPercent     Unit = 5
	UnitMicrosecond Unit = 6
)

var unitNames = map[Unit]string{
	UnitNone:        "none",
	UnitPixel:       "px",
	UnitBit:         "bit",
	UnitMM:          "mm",
	UnitDPI:         "dpi",
	UnitPercent:     "%",
	UnitMicrosecond: "us",
}

func (u Unit) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return fmt.Sprintf("unknown unit %d", Word(u).Int())
}

// ConstraintType identifies the constraint attached to an option.
type ConstraintType Word

// Constraint kinds.
const (
	ConstraintNone       ConstraintType = 0
	ConstraintRange      ConstraintType = 1
	ConstraintWordList   ConstraintType = 2
	ConstraintStringList ConstraintType = 3
)

var constraintNames = map[ConstraintType]string{
	ConstraintNone:       "none",
	ConstraintRange:      "range",
	ConstraintWordList:   "word list",
	ConstraintStringList: "string list",
}

func (c ConstraintType) String() string {
	if name, ok := constraintNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown constraint type %d", Word(c).Int())
}

// Capability is a single option capability flag.
type Capability Word

// Capability flags.
const (
	CapSoftSelect Capability = 1
	CapHardSelect Capability = 2
	CapSoftDetect Capability = 4
	CapEmulated   Capability = 8
	CapAutomatic  Capability = 16
	CapInactive   Capability = 32
	CapAdvanced   Capability = 64
)

var capabilityNames = map[Capability]string{
	CapSoftSelect: "soft-select",
	CapHardSelect: "hard-select",
	CapSoftDetect: "soft-detect",
	CapEmulated:   "emulated",
	CapAutomatic:  "automatic",
	CapInactive:   "inactive",
	CapAdvanced:   "advanced",
}

// allCapabilities in ascending bit order, for stable set decoding.
var allCapabilities = []Capability{
	CapSoftSelect, CapHardSelect, CapSoftDetect,
	CapEmulated, CapAutomatic, CapInactive, CapAdvanced,
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown capability %#x", Word(c))
}

// CapabilitySet is an integer-backed set of capability flags.
type CapabilitySet Word

// Caps builds a capability set from its members.
func Caps(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether the set contains the given flag.
func (s CapabilitySet) Has(c Capability) bool {
	return Word(s)&Word(c) != 0
}

// Members returns the flags present in the set, in ascending bit order.
func (s CapabilitySet) Members() []Capability {
	var members []Capability
	for _, c := range allCapabilities {
		if s.Has(c) {
			members = append(members, c)
		}
	}
	return members
}

func (s CapabilitySet) String() string {
	members := s.Members()
	names := make([]string, len(members))
	for i, c := range members {
		names[i] = c.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Info is a single write-info flag returned by a CONTROL_OPTION reply.
type Info Word

// Write-info flags.
const (
	InfoInexact          Info = 1
	InfoReloadOptions    Info = 2
	InfoReloadParameters Info = 4
)

var infoNames = map[Info]string{
	InfoInexact:          "inexact",
	InfoReloadOptions:    "reload-options",
	InfoReloadParameters: "reload-parameters",
}

var allInfos = []Info{InfoInexact, InfoReloadOptions, InfoReloadParameters}

func (i Info) String() string {
	if name, ok := infoNames[i]; ok {
		return name
	}
	return fmt.Sprintf("unknown info flag %#x", Word(i))
}

// InfoSet is an integer-backed set of write-info flags.
type InfoSet Word

// Infos builds an info set from its members.
func Infos(infos ...Info) InfoSet {
	var s InfoSet
	for _, i := range infos {
		s |= InfoSet(i)
	}
	return s
}

// Has reports whether the set contains the given flag.
func (s InfoSet) Has(i Info) bool {
	return Word(s)&Word(i) != 0
}

// Members returns the flags present in the set, in ascending bit order.
func (s InfoSet) Members() []Info {
	var members []Info
	for _, i := range allInfos {
		if s.Has(i) {
			members = append(members, i)
		}
	}
	return members
}

func (s InfoSet) String() string {
	members := s.Members()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Control-option actions.
const (
	actionGetValue Word = 0
	actionSetValue Word = 1
	actionSetAuto  Word = 2
)

// Byte order markers returned by SANE_NET_START.
const (
	byteOrderBig    Word = 0x4321
	byteOrderLittle Word = 0x1234
)
