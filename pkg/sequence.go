package bump

import "fmt"

// SequenceIntent names what a draft input wants from the mempool's
// replacement rules; ResolveSequence maps it to the reserved nSequence
// encoding. Keeping the intent symbolic (rather than passing raw uint32s
// around) means a builder cannot accidentally produce a replaceable draft
// that was meant to be final.
type SequenceIntent int

const (
	// SeqFinal: the input can never be replaced by a conflicting
	// transaction.
	SeqFinal SequenceIntent = iota

	// SeqReplaceable: the input explicitly opts in to BIP-125 replacement
	// while unconfirmed.
	SeqReplaceable

	// SeqNonFinalSpendable: spendable immediately without advertising
	// replacement opt-in; used by dependents spending a not-yet-confirmed
	// output (CPFP children, anchor spends).
	SeqNonFinalSpendable
)

const (
	// SequenceFinal disables replacement entirely.
	SequenceFinal uint32 = 0xffffffff

	// SequenceReplaceable is the highest sequence value that still signals
	// BIP-125 opt-in replaceability.
	SequenceReplaceable uint32 = 0xfffffffd

	// SequenceNonFinal is spendable but does not itself signal opt-in.
	SequenceNonFinal uint32 = 0xfffffffe
)

// ResolveSequence is a total function over the SequenceIntent enumeration.
func ResolveSequence(intent SequenceIntent) uint32 {
	switch intent {
	case SeqFinal:
		return SequenceFinal
	case SeqReplaceable:
		return SequenceReplaceable
	case SeqNonFinalSpendable:
		return SequenceNonFinal
	default:
		panic(fmt.Sprintf("unknown SequenceIntent %d", intent))
	}
}

func (i SequenceIntent) String() string {
	switch i {
	case SeqFinal:
		return "final"
	case SeqReplaceable:
		return "replaceable"
	case SeqNonFinalSpendable:
		return "non-final"
	default:
		return fmt.Sprintf("SequenceIntent(%d)", int(i))
	}
}
