package vm

import "fmt"

// MaxMemoryWords caps how far a write may extend memory when no smaller
// limit is set.
const MaxMemoryWords = 1 << 30

// State is the execution state of a Machine.
type State int

const (
	Running State = iota
	AwaitingInput
	AwaitingOutput
	Halted
	Faulted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case AwaitingInput:
		return "awaiting-input"
	case AwaitingOutput:
		return "awaiting-output"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Machine is the I/O-free core of an engine. Step executes instructions
// until the machine parks on an Input or Output; the driver completes the
// parked instruction with Provide or TakeOutput. A Machine does no blocking
// and can be driven by either scheduler.
type Machine struct {
	id    int
	mem   *Memory
	pc    Address
	rb    Address
	state State
	limit int

	parked Instruction
	out    Word
	err    *ExecutionError
	steps  uint64
}

// NewMachine returns a machine with pc and relative base at 0. The machine
// takes ownership of mem.
func NewMachine(id int, mem *Memory) *Machine {
	if mem == nil {
		mem = NewMemory()
	}
	return &Machine{id: id, mem: mem}
}

func (m *Machine) ID() int { return m.id }

// PC returns the program counter. While parked it points at the parked
// instruction.
func (m *Machine) PC() Address { return m.pc }

func (m *Machine) RelativeBase() Address { return m.rb }

func (m *Machine) State() State { return m.state }

func (m *Machine) Memory() *Memory { return m.mem }

// Steps returns the number of instructions decoded so far.
func (m *Machine) Steps() uint64 { return m.steps }

// SetMemoryLimit bounds the address space writes may extend into. Zero means
// MaxMemoryWords.
func (m *Machine) SetMemoryLimit(n int) { m.limit = n }

// Done reports whether the machine halted or faulted.
func (m *Machine) Done() bool {
	return m.state == Halted || m.state == Faulted
}

// Err returns the sticky fault, if any.
func (m *Machine) Err() error {
	if m.err == nil {
		return nil
	}
	return m.err
}

// PendingOutput returns the word a parked Output is waiting to emit.
func (m *Machine) PendingOutput() (Word, bool) {
	return m.out, m.state == AwaitingOutput
}

// Step executes one instruction. It returns Running after an ordinary
// instruction, AwaitingInput or AwaitingOutput when parked, and Halted or
// Faulted when finished. Calling Step while parked or finished is a no-op.
func (m *Machine) Step() (State, error) {
	switch m.state {
	case Running:
	case Faulted:
		return m.state, m.err
	default:
		return m.state, nil
	}

	word, err := m.mem.Read(m.pc)
	if err != nil {
		return m.fault(err)
	}
	inst, err := Decode(word, m.pc, m.mem)
	if err != nil {
		return m.fault(err)
	}
	m.steps++

	switch inst.Op {
	case OpAdd, OpMul, OpLessThan, OpEqual:
		a, err := m.load(inst.Params[0])
		if err != nil {
			return m.fault(err)
		}
		b, err := m.load(inst.Params[1])
		if err != nil {
			return m.fault(err)
		}
		if err := m.store(inst.Target, arith(inst.Op, a, b)); err != nil {
			return m.fault(err)
		}
		m.pc += inst.Width()

	case OpInput:
		m.parked = inst
		m.state = AwaitingInput

	case OpOutput:
		v, err := m.load(inst.Params[0])
		if err != nil {
			return m.fault(err)
		}
		m.parked = inst
		m.out = v
		m.state = AwaitingOutput

	case OpJumpIfNonZero, OpJumpIfZero:
		cond, err := m.load(inst.Params[0])
		if err != nil {
			return m.fault(err)
		}
		dest, err := m.load(inst.Params[1])
		if err != nil {
			return m.fault(err)
		}
		if (cond != 0) == (inst.Op == OpJumpIfNonZero) {
			a, err := NewAddress(dest)
			if err != nil {
				return m.fault(fmt.Errorf("jump target: %w", err))
			}
			m.pc = a
		} else {
			m.pc += inst.Width()
		}

	case OpAdjustRelativeBase:
		d, err := m.load(inst.Params[0])
		if err != nil {
			return m.fault(err)
		}
		rb, err := m.rb.Offset(RelativeOffset(d))
		if err != nil {
			return m.fault(fmt.Errorf("relative base: %w", err))
		}
		m.rb = rb
		m.pc += inst.Width()

	case OpHalt:
		m.state = Halted
	}
	return m.state, nil
}

// Run steps until the machine parks or finishes.
func (m *Machine) Run() (State, error) {
	for {
		st, err := m.Step()
		if err != nil || st != Running {
			return st, err
		}
	}
}

// Provide completes a parked Input with w.
func (m *Machine) Provide(w Word) error {
	if m.state != AwaitingInput {
		return fmt.Errorf("%w: provide on %s machine %d", ErrNotParked, m.state, m.id)
	}
	if err := m.store(m.parked.Target, w); err != nil {
		_, err = m.fault(err)
		return err
	}
	m.pc += m.parked.Width()
	m.state = Running
	return nil
}

// TakeOutput completes a parked Output and returns the emitted word.
func (m *Machine) TakeOutput() (Word, error) {
	if m.state != AwaitingOutput {
		return 0, fmt.Errorf("%w: take output on %s machine %d", ErrNotParked, m.state, m.id)
	}
	m.pc += m.parked.Width()
	m.state = Running
	return m.out, nil
}

// Fail faults the machine at its current pc. Drivers use it for port
// failures. The returned error is the sticky *ExecutionError.
func (m *Machine) Fail(err error) error {
	if m.state == Faulted {
		return m.err
	}
	_, err = m.fault(err)
	return err
}

func (m *Machine) fault(err error) (State, error) {
	m.state = Faulted
	m.err = newExecutionError(m.id, m.pc, err)
	return m.state, m.err
}

func (m *Machine) load(p Param) (Word, error) {
	switch p.Mode {
	case ModeImmediate:
		return p.Value, nil
	case ModePosition:
		return m.mem.ReadOrZero(p.Addr), nil
	case ModeRelative:
		a, err := m.rb.Offset(p.Offset)
		if err != nil {
			return 0, err
		}
		return m.mem.ReadOrZero(a), nil
	}
	return 0, fmt.Errorf("%w: invalid input mode %d", ErrInvalidInstruction, p.Mode)
}

func (m *Machine) store(t Target, v Word) error {
	var a Address
	switch t.Mode {
	case ModePosition:
		a = t.Addr
	case ModeRelative:
		var err error
		if a, err = m.rb.Offset(t.Offset); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: invalid output mode %d", ErrInvalidInstruction, t.Mode)
	}
	limit := uint64(MaxMemoryWords)
	if m.limit > 0 && uint64(m.limit) < limit {
		limit = uint64(m.limit)
	}
	if uint64(a) >= limit {
		return fmt.Errorf("%w: write at %d exceeds memory limit %d", ErrOutOfBounds, a, limit)
	}
	m.mem.WriteExtending(a, v)
	return nil
}

// arith evaluates the binary opcodes with wrapping 64-bit arithmetic.
func arith(op Opcode, a, b Word) Word {
	switch op {
	case OpAdd:
		return a + b
	case OpMul:
		return a * b
	case OpLessThan:
		if a < b {
			return 1
		}
	case OpEqual:
		if a == b {
			return 1
		}
	}
	return 0
}
