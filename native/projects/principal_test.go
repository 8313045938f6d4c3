package projects

import (
	"errors"
	"math/big"
	"testing"
)

func TestUnlockedTranches(t *testing.T) {
	funded := int64(1_700_000_000)
	cases := []struct {
		elapsedYears int64
		want         uint8
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, 1},
		{4, 2},
		{5, 3},
		{7, 5},
		{20, 5},
	}
	for _, tc := range cases {
		now := funded + tc.elapsedYears*secondsPerYear + 1
		if got := unlockedTranches(funded, now); got != tc.want {
			t.Fatalf("tranches after %d years = %d, want %d", tc.elapsedYears, got, tc.want)
		}
	}
	if got := unlockedTranches(0, funded); got != 0 {
		t.Fatalf("tranches without funding completion = %d", got)
	}
}

func TestPrincipalLockedThroughCliff(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := setupCompletedProject(t, env, investor, units(100_000))
	for _, years := range []int64{1, 2} {
		env.now = 1_700_000_000 + years*secondsPerYear
		available, err := env.engine.AvailablePrincipal(id, investor)
		if err != nil {
			t.Fatalf("available principal: %v", err)
		}
		if available.Sign() != 0 {
			t.Fatalf("principal at %d years = %s, want 0", years, available)
		}
		if _, err := env.engine.ClaimPrincipal(id, investor); !errors.Is(err, ErrNoPrincipalAvailable) {
			t.Fatalf("claim at %d years: %v", years, err)
		}
	}
}

func TestFirstTrancheVestsAtThreeYears(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := setupCompletedProject(t, env, investor, units(100_000))
	env.advance(3*secondsPerYear + 1)

	paid, err := env.engine.ClaimPrincipal(id, investor)
	if err != nil {
		t.Fatalf("claim principal: %v", err)
	}
	if paid.Cmp(units(20_000)) != 0 {
		t.Fatalf("first tranche = %s, want %s", paid, units(20_000))
	}
	investment, err := env.engine.GetInvestment(id, investor)
	if err != nil {
		t.Fatalf("investment: %v", err)
	}
	if investment.TranchesClaimed != 1 {
		t.Fatalf("tranches claimed = %d", investment.TranchesClaimed)
	}
	if investment.PrincipalRemaining.Cmp(units(80_000)) != 0 {
		t.Fatalf("principal remaining = %s", investment.PrincipalRemaining)
	}
	if _, err := env.engine.ClaimPrincipal(id, investor); !errors.Is(err, ErrNoPrincipalAvailable) {
		t.Fatalf("re-claim same tranche: %v", err)
	}
}

func TestSkippedTranchesPayOutTogether(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := setupCompletedProject(t, env, investor, units(100_000))
	env.advance(5*secondsPerYear + 1)

	paid, err := env.engine.ClaimPrincipal(id, investor)
	if err != nil {
		t.Fatalf("claim principal: %v", err)
	}
	if paid.Cmp(units(60_000)) != 0 {
		t.Fatalf("three tranches = %s, want %s", paid, units(60_000))
	}
}

func TestFullScheduleReturnsExactPrincipal(t *testing.T) {
	// An amount the tranche division truncates, so the final sweep matters.
	principal := big.NewInt(1_000_003)
	env := newTestEnv(t)
	investor := addr(0x10)
	id := env.createProject(t, principal, 60)
	env.fundProject(t, id, investor, principal)
	env.completeProject(t, id)

	total := big.NewInt(0)
	for year := int64(3); year <= 7; year++ {
		env.now = 1_700_000_000 + year*secondsPerYear + 1
		paid, err := env.engine.ClaimPrincipal(id, investor)
		if err != nil {
			t.Fatalf("claim at year %d: %v", year, err)
		}
		total.Add(total, paid)
	}
	if total.Cmp(principal) != 0 {
		t.Fatalf("schedule total = %s, want %s", total, principal)
	}
	investment, err := env.engine.GetInvestment(id, investor)
	if err != nil {
		t.Fatalf("investment: %v", err)
	}
	if investment.PrincipalRemaining.Sign() != 0 || investment.TranchesClaimed != principalTrancheCount {
		t.Fatalf("final position = %+v", investment)
	}
	if _, err := env.engine.ClaimPrincipal(id, investor); !errors.Is(err, ErrNoPrincipalAvailable) {
		t.Fatalf("claim after full schedule: %v", err)
	}
}

func TestLateSingleClaimSweepsEverything(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := setupCompletedProject(t, env, investor, units(100_000))
	env.advance(9 * secondsPerYear)

	paid, err := env.engine.ClaimPrincipal(id, investor)
	if err != nil {
		t.Fatalf("claim principal: %v", err)
	}
	if paid.Cmp(units(100_000)) != 0 {
		t.Fatalf("late sweep = %s, want %s", paid, units(100_000))
	}
}

func TestClaimPrincipalGuards(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := env.createProject(t, units(1_000), 60)
	env.fundProject(t, id, investor, units(1_000))
	if _, err := env.engine.ClaimPrincipal(id, investor); !errors.Is(err, ErrProjectNotCompleted) {
		t.Fatalf("claim before completion: %v", err)
	}
	env.completeProject(t, id)
	env.advance(3*secondsPerYear + 1)
	if _, err := env.engine.ClaimPrincipal(id, addr(0x99)); !errors.Is(err, ErrNoInvestment) {
		t.Fatalf("claim by stranger: %v", err)
	}
	env.token.balances[escrowPoolAddress] = big.NewInt(0)
	if _, err := env.engine.ClaimPrincipal(id, investor); !errors.Is(err, ErrInsufficientAsset) {
		t.Fatalf("claim from empty pool: %v", err)
	}
}

func TestClaimPrincipalRestoresStateOnTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := setupCompletedProject(t, env, investor, units(100_000))
	env.advance(3*secondsPerYear + 1)

	env.token.failOut = true
	if _, err := env.engine.ClaimPrincipal(id, investor); err == nil {
		t.Fatal("claim with failing transfer succeeded")
	}
	investment, err := env.engine.GetInvestment(id, investor)
	if err != nil {
		t.Fatalf("investment: %v", err)
	}
	if investment.TranchesClaimed != 0 || investment.PrincipalRemaining.Cmp(units(100_000)) != 0 {
		t.Fatalf("state mutated despite failed transfer: %+v", investment)
	}
	env.token.failOut = false
	if _, err := env.engine.ClaimPrincipal(id, investor); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
}
