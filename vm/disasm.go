package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a listing of mem, one instruction per line. Words
// that do not decode are listed as DATA and the scan resumes at the next
// word, so the listing of a self-modifying program is only a best guess.
func Disassemble(mem *Memory) string {
	var sb strings.Builder
	for _, line := range DisassembleToLines(mem) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleToLines returns the listing as individual lines.
func DisassembleToLines(mem *Memory) []string {
	var lines []string
	pc := Address(0)
	for mem.inBounds(pc) {
		line, width := DisassembleInstruction(mem, pc)
		lines = append(lines, line)
		pc += width
	}
	return lines
}

// DisassembleInstruction formats the instruction at pc and returns it with
// the number of words it covers.
func DisassembleInstruction(mem *Memory, pc Address) (string, Address) {
	word := mem.ReadOrZero(pc)
	inst, err := Decode(word, pc, mem)
	if err != nil {
		return fmt.Sprintf("%04d  %-5s %d", pc, "DATA", word), 1
	}

	info := GetOpcodeInfo(inst.Op)
	operands := make([]string, 0, info.Params())
	for i := 0; i < info.Reads; i++ {
		operands = append(operands, formatParam(inst.Params[i]))
	}
	if info.Writes > 0 {
		operands = append(operands, "-> "+formatTarget(inst.Target))
	}

	line := fmt.Sprintf("%04d  %-5s", pc, info.Name)
	if len(operands) > 0 {
		line += " " + strings.Join(operands, " ")
	}
	return strings.TrimRight(line, " "), inst.Width()
}

func formatParam(p Param) string {
	switch p.Mode {
	case ModeImmediate:
		return fmt.Sprintf("%d", p.Value)
	case ModeRelative:
		return formatRelative(p.Offset)
	}
	return fmt.Sprintf("[%d]", p.Addr)
}

func formatTarget(t Target) string {
	if t.Mode == ModeRelative {
		return formatRelative(t.Offset)
	}
	return fmt.Sprintf("[%d]", t.Addr)
}

func formatRelative(o RelativeOffset) string {
	return fmt.Sprintf("[rb%+d]", o)
}
