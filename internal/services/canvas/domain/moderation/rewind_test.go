package moderation

import (
	"testing"

	"github.com/mosaicforge/tessella/internal/services/canvas/domain/record"
)

const (
	targetID   = 7
	bystander  = 3
	seedAuthor = 0
)

func encodeChain(t *testing.T, records ...record.Record) []byte {
	t.Helper()
	chain := make([]byte, 0, len(records)*record.Size)
	for _, r := range records {
		block, err := record.Encode(r)
		if err != nil {
			t.Fatalf("encode chain entry: %v", err)
		}
		chain = append(chain, block[:]...)
	}
	return chain
}

func TestRewindRestoresFirstForeignEntry(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12}
	middle := record.Record{Payload: 20, Provenance: targetID, EditCount: 2, LastModifiedAt: 11}
	safe := record.Record{Payload: 10, Provenance: bystander, EditCount: 1, LastModifiedAt: 9, Link: 0xAB}

	chain := encodeChain(t, current, middle, safe)

	got, outcome := RewindCell(chain, current, targetID)
	if outcome != OutcomeReverted {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeReverted)
	}
	if got != safe {
		t.Fatalf("restored record = %+v, want %+v", got, safe)
	}
}

func TestRewindNoRollbackPoint(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 2, LastModifiedAt: 12}
	older := record.Record{Payload: 20, Provenance: targetID, EditCount: 1, LastModifiedAt: 11}

	chain := encodeChain(t, current, older)

	if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeNoRollbackPoint {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeNoRollbackPoint)
	}
}

func TestRewindSingleEntryChain(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 2, LastModifiedAt: 12}
	chain := encodeChain(t, current)

	if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeNoRollbackPoint {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeNoRollbackPoint)
	}
}

func TestRewindStateMismatch(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12}
	claimed := record.Record{Payload: 31, Provenance: targetID, EditCount: 3, LastModifiedAt: 12}
	safe := record.Record{Payload: 10, Provenance: bystander, EditCount: 1, LastModifiedAt: 9}

	chain := encodeChain(t, claimed, safe)

	if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeStateMismatch {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeStateMismatch)
	}
}

func TestRewindEveryFieldMustMatch(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12, Link: 5}
	safe := record.Record{Payload: 10, Provenance: bystander, EditCount: 1, LastModifiedAt: 9}

	mutations := []record.Record{
		{Payload: 31, Provenance: targetID, EditCount: 3, LastModifiedAt: 12, Link: 5},
		{Payload: 30, Provenance: bystander, EditCount: 3, LastModifiedAt: 12, Link: 5},
		{Payload: 30, Provenance: targetID, EditCount: 4, LastModifiedAt: 12, Link: 5},
		{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 13, Link: 5},
		{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12, Link: 6},
	}

	for _, claimed := range mutations {
		chain := encodeChain(t, claimed, safe)
		if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeStateMismatch {
			t.Fatalf("claimed %+v: outcome = %s, want %s", claimed, outcome, OutcomeStateMismatch)
		}
	}
}

func TestRewindNotTarget(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: bystander, EditCount: 3, LastModifiedAt: 12}
	older := record.Record{Payload: 20, Provenance: targetID, EditCount: 2, LastModifiedAt: 11}

	chain := encodeChain(t, current, older)

	if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeNotTarget {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeNotTarget)
	}
}

func TestRewindUnregisteredTargetSkips(t *testing.T) {
	// A seed cell carries provenance 0; an unregistered target must not be
	// able to claim it.
	current := record.Seed(9)
	chain := encodeChain(t, current)

	if _, outcome := RewindCell(chain, current, seedAuthor); outcome != OutcomeNotTarget {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeNotTarget)
	}
}

func TestRewindMalformedChains(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12}

	tests := []struct {
		name  string
		chain []byte
	}{
		{"empty", nil},
		{"partial block", make([]byte, record.Size-3)},
		{"trailing bytes", append(encodeChain(t, current), 0xFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, outcome := RewindCell(tt.chain, current, targetID); outcome != OutcomeMalformedChain {
				t.Fatalf("outcome = %s, want %s", outcome, OutcomeMalformedChain)
			}
		})
	}
}

func TestRewindUndecodableEntry(t *testing.T) {
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 3, LastModifiedAt: 12}

	// A block with the reserved payload sentinel decodes to an invalid record.
	bad := make([]byte, record.Size)
	for i := 0; i < 4; i++ {
		bad[i] = 0xFF
	}
	chain := append(encodeChain(t, current), bad...)

	if _, outcome := RewindCell(chain, current, targetID); outcome != OutcomeMalformedChain {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeMalformedChain)
	}
}

func TestRewindRestoresSeedRecord(t *testing.T) {
	// A chain may legitimately bottom out at the seed record.
	current := record.Record{Payload: 30, Provenance: targetID, EditCount: 1, LastModifiedAt: 12}
	seed := record.Seed(0)

	chain := encodeChain(t, current, seed)

	got, outcome := RewindCell(chain, current, targetID)
	if outcome != OutcomeReverted {
		t.Fatalf("outcome = %s, want %s", outcome, OutcomeReverted)
	}
	if got != seed {
		t.Fatalf("restored record = %+v, want seed %+v", got, seed)
	}
}
