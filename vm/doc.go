// Package vm implements the Intcode virtual machine.
//
// This package contains:
//   - Memory, the growable word store a program runs in
//   - Address and RelativeOffset arithmetic
//   - The instruction decoder and opcode metadata
//   - Machine, an I/O-free state machine that parks on Input/Output
//   - Engine, the blocking realization driven through Source/Sink ports
//   - Pipes connecting one engine's output to another's input
package vm
