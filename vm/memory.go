package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Word is a single memory cell and the unit of program I/O.
type Word int64

// Memory is the zero-indexed word store of one program. It is owned by a
// single Machine while that machine runs.
type Memory struct {
	words []Word
}

// NewMemory returns a Memory holding a copy of words.
func NewMemory(words ...Word) *Memory {
	return &Memory{words: append([]Word(nil), words...)}
}

// ParseMemory parses comma-separated program text. Whitespace around tokens
// and empty tokens (a trailing comma, blank lines) are ignored.
func ParseMemory(text string) (*Memory, error) {
	tokens := strings.Split(text, ",")
	words := make([]Word, 0, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d: %q is not an integer", ErrMalformedProgram, i, tok)
		}
		words = append(words, Word(v))
	}
	return &Memory{words: words}, nil
}

// Len returns the number of addressable cells.
func (m *Memory) Len() int {
	return len(m.words)
}

// Words returns a copy of the memory contents.
func (m *Memory) Words() []Word {
	out := make([]Word, len(m.words))
	copy(out, m.words)
	return out
}

// Clone returns an independent copy, used to start a fresh engine from the
// same program image.
func (m *Memory) Clone() *Memory {
	return NewMemory(m.words...)
}

// MaxAddress returns the last valid address. ok is false for empty memory.
func (m *Memory) MaxAddress() (addr Address, ok bool) {
	if len(m.words) == 0 {
		return 0, false
	}
	return Address(len(m.words) - 1), true
}

func (m *Memory) inBounds(a Address) bool {
	return uint64(a) < uint64(len(m.words))
}

// Read returns the word at a.
func (m *Memory) Read(a Address) (Word, error) {
	if !m.inBounds(a) {
		return 0, fmt.Errorf("%w: read at %d, memory length %d", ErrOutOfBounds, a, len(m.words))
	}
	return m.words[a], nil
}

// ReadOrZero returns the word at a, or 0 past the high-water mark.
func (m *Memory) ReadOrZero(a Address) Word {
	if !m.inBounds(a) {
		return 0
	}
	return m.words[a]
}

// Write stores v at an existing address and returns the previous value.
func (m *Memory) Write(a Address, v Word) (Word, error) {
	if !m.inBounds(a) {
		return 0, fmt.Errorf("%w: write at %d, memory length %d", ErrOutOfBounds, a, len(m.words))
	}
	prev := m.words[a]
	m.words[a] = v
	return prev, nil
}

// WriteExtending stores v at a, growing memory with zeroes when a is past
// the end. It returns the previous value (0 for fresh cells).
func (m *Memory) WriteExtending(a Address, v Word) Word {
	if !m.inBounds(a) {
		m.words = append(m.words, make([]Word, int(a)+1-len(m.words))...)
	}
	prev := m.words[a]
	m.words[a] = v
	return prev
}

// String renders the canonical comma-separated form accepted by ParseMemory.
func (m *Memory) String() string {
	var sb strings.Builder
	for i, w := range m.words {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(int64(w), 10))
	}
	return sb.String()
}
