package utxo

import (
	"testing"

	"github.com/stasis-chain/stasis/crypto"
	"github.com/stasis-chain/stasis/tx"
)

func pub(seed byte) crypto.PublicKey {
	var h crypto.Hash
	h[0] = seed
	return crypto.ScalarBaseMult(crypto.ScalarFromHash(h))
}

func TestBatchCommitAppliesSpendsAndCreations(t *testing.T) {
	set := New()

	seedRef := tx.OutputRef{TxHash: crypto.HashBytes([]byte("seed")), Index: 0}
	seedKey := seedRef.Key()
	set.entries[seedKey] = tx.UTXO{Output: tx.Output{Value: 100, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(1).Bytes()}, Type: tx.OutputPayment}}

	spend := &tx.Transaction{
		Inputs:  []tx.Input{{Ref: seedRef}},
		Outputs: []tx.Output{{Value: 90, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(2).Bytes()}, Type: tx.OutputPayment}},
	}

	batch := set.NewBatch()
	if err := batch.Apply(spend, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := batch.Finder(seedKey); ok {
		t.Fatalf("spent UTXO must not be visible through the batch finder")
	}
	if _, ok := set.Peek(seedKey); !ok {
		t.Fatalf("base set must be untouched before Commit")
	}

	newRef := tx.OutputRef{TxHash: spend.Hash(), Index: 0}
	if u, ok := batch.Finder(newRef.Key()); !ok || u.Output.Value != 90 {
		t.Fatalf("newly created output must be visible through the batch finder")
	}

	batch.Commit()

	if _, ok := set.Peek(seedKey); ok {
		t.Fatalf("spent UTXO must be removed from base after Commit")
	}
	if u, ok := set.Peek(newRef.Key()); !ok || u.UnlockHeight != 5 {
		t.Fatalf("created output must be present in base after Commit with correct unlock height")
	}
}

func TestBatchRejectsDoubleSpendWithinSet(t *testing.T) {
	set := New()
	seedRef := tx.OutputRef{TxHash: crypto.HashBytes([]byte("seed")), Index: 0}
	set.entries[seedRef.Key()] = tx.UTXO{Output: tx.Output{Value: 100, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(1).Bytes()}, Type: tx.OutputPayment}}

	spendA := &tx.Transaction{
		Inputs:  []tx.Input{{Ref: seedRef}},
		Outputs: []tx.Output{{Value: 50, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(2).Bytes()}, Type: tx.OutputPayment}},
	}
	spendB := &tx.Transaction{
		Inputs:  []tx.Input{{Ref: seedRef}},
		Outputs: []tx.Output{{Value: 50, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(3).Bytes()}, Type: tx.OutputPayment}},
	}

	batch := set.NewBatch()
	if err := batch.Apply(spendA, 1); err != nil {
		t.Fatalf("first spend should succeed: %v", err)
	}
	if err := batch.Apply(spendB, 1); err == nil {
		t.Fatalf("expected second spend of the same UTXO within one batch to fail")
	}
}

func TestBatchUpdateEnrollmentUnlock(t *testing.T) {
	set := New()
	freezeRef := tx.OutputRef{TxHash: crypto.HashBytes([]byte("stake")), Index: 0}
	freezeKey := freezeRef.Key()
	set.entries[freezeKey] = tx.UTXO{
		UnlockHeight: 10,
		Output:       tx.Output{Value: 50000, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(1).Bytes()}, Type: tx.OutputFreeze},
	}

	batch := set.NewBatch()
	if err := batch.UpdateEnrollmentUnlock(freezeKey, 1010); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if u, ok := batch.Finder(freezeKey); !ok || u.UnlockHeight != 1010 {
		t.Fatalf("batch view must reflect the updated unlock height, got %+v ok=%v", u, ok)
	}
	if u, _ := set.Peek(freezeKey); u.UnlockHeight != 10 {
		t.Fatalf("base set must be untouched before Commit")
	}

	batch.Commit()

	u, ok := set.Peek(freezeKey)
	if !ok {
		t.Fatalf("updated UTXO must still be present after Commit")
	}
	if u.UnlockHeight != 1010 {
		t.Fatalf("expected unlock height 1010 after Commit, got %d", u.UnlockHeight)
	}
	if u.Output.Value != 50000 {
		t.Fatalf("UpdateEnrollmentUnlock must not change the output's value")
	}
}

func TestBatchUpdateEnrollmentUnlockRejectsUnknownUTXO(t *testing.T) {
	set := New()
	batch := set.NewBatch()
	unknown := tx.OutputRef{TxHash: crypto.HashBytes([]byte("nope")), Index: 0}.Key()
	if err := batch.UpdateEnrollmentUnlock(unknown, 100); err == nil {
		t.Fatalf("expected error for unknown UTXO")
	}
}

func TestBatchSkipsCoinbaseInput(t *testing.T) {
	set := New()
	coinbase := &tx.Transaction{
		Inputs:  []tx.Input{tx.CoinbaseInput(20)},
		Outputs: []tx.Output{{Value: 50, Lock: tx.Lock{Type: tx.LockKey, Bytes: pub(1).Bytes()}, Type: tx.OutputCoinbase}},
	}
	batch := set.NewBatch()
	if err := batch.Apply(coinbase, 20); err != nil {
		t.Fatalf("coinbase apply should not fail: %v", err)
	}
	batch.Commit()
	if set.Len() != 1 {
		t.Fatalf("expected exactly the coinbase output to be created, got %d entries", set.Len())
	}
}
