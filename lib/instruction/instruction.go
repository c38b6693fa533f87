package instruction

import (
	"fmt"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// Op is an operation tag.
type Op uint8

const (
	OpPut    Op = 1
	OpDelete Op = 2
	OpDrop   Op = 3
	OpSync   Op = 4
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpDrop:
		return "drop"
	case OpSync:
		return "sync"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

func (o Op) valid() bool {
	return o >= OpPut && o <= OpSync
}

// hasKey reports whether entries of o carry a key
func (o Op) hasKey() bool {
	return o == OpPut || o == OpDelete
}

// Flags modify an instruction. Only the low 24 bits are encoded.
type Flags uint32

const (
	FlagAppend        Flags = 1 << iota // put: key sorts after all existing keys
	FlagNoOverwrite                     // put: fail if the key exists
	FlagNoDupData                       // put: fail if the key/value pair exists
	FlagVersion                         // put: Version is set explicitly
	FlagIfVersion                       // put/delete: apply only if the stored version equals IfVersion
	FlagValue                           // delete: remove only the duplicate given by Value
	FlagJustFreePages                   // drop: empty the database but keep it

	flagMask Flags = 1<<24 - 1
)

// Signal is an in-stream control entry.
type Signal uint8

const (
	// SignalInterrupt asks the writer to commit what it applied so far.
	SignalInterrupt Signal = iota + 1
	// SignalAllowCommit lets the writer commit without waiting for more work.
	SignalAllowCommit
	// SignalRestart asks the writer to abort and restart its transaction.
	SignalRestart
)

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "interrupt"
	case SignalAllowCommit:
		return "allow-commit"
	case SignalRestart:
		return "restart"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Instruction is a decoded operation.
type Instruction struct {
	Op        Op
	Flags     Flags
	DBI       engine.DBI
	Key       []byte
	Value     []byte
	Version   uint64
	IfVersion uint64
}

// Has reports whether all flags in f are set.
func (i Instruction) Has(f Flags) bool {
	return i.Flags&f == f
}

func (i Instruction) String() string {
	switch i.Op {
	case OpPut:
		return fmt.Sprintf("put(dbi=%d, key=%q, %d bytes)", i.DBI, i.Key, len(i.Value))
	case OpDelete:
		return fmt.Sprintf("delete(dbi=%d, key=%q)", i.DBI, i.Key)
	case OpDrop:
		return fmt.Sprintf("drop(dbi=%d, delete=%t)", i.DBI, !i.Has(FlagJustFreePages))
	default:
		return i.Op.String()
	}
}

// Kind distinguishes the entries produced by a Reader.
type Kind uint8

const (
	KindInstruction Kind = iota + 1
	KindSignal
)

// Entry is one decoded element of the stream. Index numbers the instructions
// of a buffer from 0 and is -1 for signals.
type Entry struct {
	Kind        Kind
	Signal      Signal
	Instruction Instruction
	Index       int
}
