package escrow

import "testing"

func tag(b byte) AssetTag {
	var a AssetTag
	a[0] = b
	return a
}

func principal(b byte) Principal {
	var p Principal
	p[19] = b
	return p
}

// TestStashBookOrderingUnderGrowth checks that three principals depositing
// in one order, then a later deposit and two partial withdrawals, keep
// the list sorted descending by value at every step.
func TestStashBookOrderingUnderGrowth(t *testing.T) {
	b := NewStashBook()
	asset := tag(1)
	A, B, C := principal(1), principal(2), principal(3)

	mustDeposit(t, b, asset, A, 30)
	mustDeposit(t, b, asset, B, 20)
	mustDeposit(t, b, asset, C, 10)
	assertOrder(t, b, asset, []Principal{A, B, C})

	mustDeposit(t, b, asset, C, 25) // C: 10 -> 35
	assertOrder(t, b, asset, []Principal{C, A, B})

	mustWithdraw(t, b, asset, B, 15) // B: 20 -> 5
	assertOrder(t, b, asset, []Principal{C, A, B})

	mustWithdraw(t, b, asset, B, 5) // B: 5 -> 0, removed
	assertOrder(t, b, asset, []Principal{C, A})
}

// TestStashBookTieBreakIsFIFO checks that owners tied at the same value
// keep their relative arrival order, and that an update which leaves an
// owner's amount within the same tie band doesn't jump them ahead of
// owners who were already there.
func TestStashBookTieBreakIsFIFO(t *testing.T) {
	b := NewStashBook()
	asset := tag(1)
	A, B, C := principal(1), principal(2), principal(3)

	mustDeposit(t, b, asset, A, 10)
	mustDeposit(t, b, asset, B, 10)
	mustDeposit(t, b, asset, C, 10)
	assertOrder(t, b, asset, []Principal{A, B, C})

	// B tops up but stays tied at 10 overall after a matching withdrawal;
	// it should land at the back of the tie band, behind C.
	mustDeposit(t, b, asset, B, 5) // B: 10 -> 15
	assertOrder(t, b, asset, []Principal{B, A, C})
	mustWithdraw(t, b, asset, B, 5) // B: 15 -> 10, rejoins the tie at the back
	assertOrder(t, b, asset, []Principal{A, C, B})
}

func TestStashBookWithdrawTooMuch(t *testing.T) {
	b := NewStashBook()
	asset := tag(1)
	owner := principal(1)
	mustDeposit(t, b, asset, owner, 10)

	if _, err := b.Withdraw(NativeToken, asset, owner, NewAmount(11)); err == nil {
		t.Fatalf("Withdraw() over balance: want error, got nil")
	}
}

func TestStashBookZeroDelta(t *testing.T) {
	b := NewStashBook()
	asset := tag(1)
	owner := principal(1)
	if _, err := b.Deposit(NativeToken, asset, owner, ZeroAmount()); err == nil {
		t.Fatalf("Deposit(0): want error, got nil")
	}
}

func TestStashBookMove(t *testing.T) {
	b := NewStashBook()
	from, to := tag(1), tag(2)
	owner := principal(1)
	mustDeposit(t, b, from, owner, 40)

	if err := b.Move(NativeToken, from, to, owner, NewAmount(15)); err != nil {
		t.Fatalf("Move() unexpected error: %v", err)
	}
	if got := b.ValueOf(NativeToken, from, owner); got.Cmp(NewAmount(25)) != 0 {
		t.Fatalf("ValueOf(from) = %s, want 25", got.Dec())
	}
	if got := b.ValueOf(NativeToken, to, owner); got.Cmp(NewAmount(15)) != 0 {
		t.Fatalf("ValueOf(to) = %s, want 15", got.Dec())
	}
}

func mustDeposit(t *testing.T, b *StashBook, asset AssetTag, owner Principal, amount uint64) {
	t.Helper()
	if _, err := b.Deposit(NativeToken, asset, owner, NewAmount(amount)); err != nil {
		t.Fatalf("Deposit(%x, %d) unexpected error: %v", owner, amount, err)
	}
}

func mustWithdraw(t *testing.T, b *StashBook, asset AssetTag, owner Principal, amount uint64) {
	t.Helper()
	if _, err := b.Withdraw(NativeToken, asset, owner, NewAmount(amount)); err != nil {
		t.Fatalf("Withdraw(%x, %d) unexpected error: %v", owner, amount, err)
	}
}

func assertOrder(t *testing.T, b *StashBook, asset AssetTag, want []Principal) {
	t.Helper()
	got := b.Owners(NativeToken, asset)
	if len(got) != len(want) {
		t.Fatalf("Owners() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Owners()[%d] = %x, want %x", i, got[i], want[i])
		}
	}
}
