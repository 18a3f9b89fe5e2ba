package vm

import "fmt"

// Param describes a read operand. Only the field selected by Mode is
// meaningful.
type Param struct {
	Mode   Mode
	Addr   Address        // ModePosition
	Value  Word           // ModeImmediate
	Offset RelativeOffset // ModeRelative
}

// Target describes a write operand. Mode is never ModeImmediate.
type Target struct {
	Mode   Mode
	Addr   Address        // ModePosition
	Offset RelativeOffset // ModeRelative
}

// Instruction is a decoded instruction. Operands are descriptors; relative
// operands are resolved against the relative base when executed.
type Instruction struct {
	Op     Opcode
	Params [2]Param
	Target Target
}

// Width returns the instruction length in words.
func (in Instruction) Width() Address {
	return in.Op.Width()
}

// Decode decodes the instruction whose first word is word, located at pc.
// All parameter words must lie within mem.
func Decode(word Word, pc Address, mem *Memory) (Instruction, error) {
	op := Opcode(word % 100)
	info, ok := LookupOpcode(op)
	if !ok {
		return Instruction{}, fmt.Errorf("%w: unknown opcode %d in word %d", ErrInvalidInstruction, word%100, word)
	}
	inst := Instruction{Op: op}
	n := info.Params()
	if n == 0 {
		return inst, nil
	}

	last := pc.Param(n - 1)
	if end, ok := mem.MaxAddress(); !ok || last > end || last < pc {
		return Instruction{}, fmt.Errorf("%w: %s at %d needs parameters through %d, memory length %d",
			ErrOutOfBounds, op, pc, last, mem.Len())
	}

	modes := word / 100
	for i := 0; i < n; i++ {
		digit := modes % 10
		modes /= 10
		raw := mem.words[pc.Param(i)]
		if i < info.Reads {
			p, err := decodeParam(digit, raw)
			if err != nil {
				return Instruction{}, fmt.Errorf("%s parameter %d: %w", op, i, err)
			}
			inst.Params[i] = p
			continue
		}
		t, err := decodeTarget(digit, raw)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s parameter %d: %w", op, i, err)
		}
		inst.Target = t
	}
	return inst, nil
}

func decodeParam(digit, raw Word) (Param, error) {
	switch digit {
	case Word(ModePosition):
		a, err := NewAddress(raw)
		if err != nil {
			return Param{}, err
		}
		return Param{Mode: ModePosition, Addr: a}, nil
	case Word(ModeImmediate):
		return Param{Mode: ModeImmediate, Value: raw}, nil
	case Word(ModeRelative):
		return Param{Mode: ModeRelative, Offset: RelativeOffset(raw)}, nil
	}
	return Param{}, fmt.Errorf("%w: invalid input mode %d", ErrInvalidInstruction, digit)
}

func decodeTarget(digit, raw Word) (Target, error) {
	switch digit {
	case Word(ModePosition):
		a, err := NewAddress(raw)
		if err != nil {
			return Target{}, err
		}
		return Target{Mode: ModePosition, Addr: a}, nil
	case Word(ModeRelative):
		return Target{Mode: ModeRelative, Offset: RelativeOffset(raw)}, nil
	}
	return Target{}, fmt.Errorf("%w: invalid output mode %d", ErrInvalidInstruction, digit)
}
