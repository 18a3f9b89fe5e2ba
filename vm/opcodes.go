package vm

import (
	"fmt"
	"sort"
)

// Opcode is the low two decimal digits of an instruction word.
type Opcode Word

const (
	OpAdd                Opcode = 1  // target = a + b
	OpMul                Opcode = 2  // target = a * b
	OpInput              Opcode = 3  // target = next input word
	OpOutput             Opcode = 4  // emit a
	OpJumpIfNonZero      Opcode = 5  // if a != 0, pc = b
	OpJumpIfZero         Opcode = 6  // if a == 0, pc = b
	OpLessThan           Opcode = 7  // target = a < b
	OpEqual              Opcode = 8  // target = a == b
	OpAdjustRelativeBase Opcode = 9  // rb += a
	OpHalt               Opcode = 99 // stop
)

// OpcodeInfo provides metadata about each opcode for decoding and listing.
type OpcodeInfo struct {
	Name   string // Mnemonic used by the disassembler
	Reads  int    // Read parameters (any mode)
	Writes int    // Write parameters (position or relative)
}

// Params returns the total parameter count.
func (i OpcodeInfo) Params() int {
	return i.Reads + i.Writes
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpAdd:                {"ADD", 2, 1},
	OpMul:                {"MUL", 2, 1},
	OpInput:              {"IN", 0, 1},
	OpOutput:             {"OUT", 1, 0},
	OpJumpIfNonZero:      {"JNZ", 2, 0},
	OpJumpIfZero:         {"JZ", 2, 0},
	OpLessThan:           {"LT", 2, 1},
	OpEqual:              {"EQ", 2, 1},
	OpAdjustRelativeBase: {"ARB", 1, 0},
	OpHalt:               {"HALT", 0, 0},
}

// LookupOpcode returns the metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// GetOpcodeInfo returns metadata for an opcode, or an "UNKNOWN" entry.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", int64(op))}
}

func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Width returns the instruction length in words, opcode included.
func (op Opcode) Width() Address {
	return Address(1 + GetOpcodeInfo(op).Params())
}

// IsJump reports whether op may redirect the program counter.
func (op Opcode) IsJump() bool {
	return op == OpJumpIfNonZero || op == OpJumpIfZero
}

// IsIO reports whether op is a suspension point.
func (op Opcode) IsIO() bool {
	return op == OpInput || op == OpOutput
}

// AllOpcodes returns every defined opcode in ascending order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// Mode is a parameter addressing mode.
type Mode uint8

const (
	ModePosition  Mode = 0
	ModeImmediate Mode = 1
	ModeRelative  Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeImmediate:
		return "immediate"
	case ModeRelative:
		return "relative"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}
