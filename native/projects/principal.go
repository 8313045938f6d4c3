package projects

import "math/big"

const (
	principalCliffYears   = 2
	principalTrancheCount = 5
	principalTrancheBps   = 2_000
)

// unlockedTranches returns how many annual 20% tranches have vested at now.
// The first tranche vests three years after funding completion: a two-year
// cliff followed by annual unlocks, capped at five.
func unlockedTranches(fundingCompletedAt, now int64) uint8 {
	if fundingCompletedAt == 0 || now <= fundingCompletedAt {
		return 0
	}
	years := (now - fundingCompletedAt) / secondsPerYear
	if years <= principalCliffYears {
		return 0
	}
	tranches := years - principalCliffYears
	if tranches > principalTrancheCount {
		tranches = principalTrancheCount
	}
	return uint8(tranches)
}

func (e *Engine) availablePrincipal(project *Project, investment *Investment, now int64) (*big.Int, uint8) {
	if !project.IsCompleted {
		return big.NewInt(0), 0
	}
	if investment.PrincipalAmount.Sign() <= 0 || investment.PrincipalRemaining.Sign() <= 0 {
		return big.NewInt(0), 0
	}
	unlocked := unlockedTranches(project.FundingCompletedAt, now)
	if unlocked <= investment.TranchesClaimed {
		return big.NewInt(0), unlocked
	}
	if unlocked >= principalTrancheCount {
		// Final tranche sweeps the remainder so truncation never strands dust.
		return newBigInt(investment.PrincipalRemaining), unlocked
	}
	due := big.NewInt(int64(unlocked - investment.TranchesClaimed))
	amount := new(big.Int).Mul(investment.PrincipalAmount, big.NewInt(principalTrancheBps))
	amount.Mul(amount, due)
	amount.Div(amount, basisPoints)
	if amount.Cmp(investment.PrincipalRemaining) > 0 {
		amount = newBigInt(investment.PrincipalRemaining)
	}
	return amount, unlocked
}

// AvailablePrincipal returns the principal claimable right now by the
// investor under the amortization schedule.
func (e *Engine) AvailablePrincipal(projectID uint64, investor [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	project, err := e.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	investment, ok, err := e.state.InvestmentGet(projectID, investor)
	if err != nil {
		return nil, err
	}
	if !ok || investment == nil {
		return big.NewInt(0), nil
	}
	amount, _ := e.availablePrincipal(project, investment, e.now())
	return amount, nil
}

// ClaimPrincipal pays out every vested but unclaimed tranche in a single
// transfer. Across the full schedule the tranches sum exactly to the original
// principal.
func (e *Engine) ClaimPrincipal(projectID uint64, investor [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	if !project.IsCompleted {
		return nil, ErrProjectNotCompleted
	}
	investment, ok, err := e.state.InvestmentGet(projectID, investor)
	if err != nil {
		return nil, err
	}
	if !ok || investment == nil || investment.PrincipalAmount.Sign() <= 0 {
		return nil, ErrNoInvestment
	}
	now := e.now()
	amount, unlocked := e.availablePrincipal(project, investment, now)
	if amount.Sign() <= 0 {
		return nil, ErrNoPrincipalAvailable
	}
	pool, err := e.token.BalanceOf(escrowPoolAddress)
	if err != nil {
		return nil, err
	}
	if pool.Cmp(amount) < 0 {
		return nil, ErrInsufficientAsset
	}

	before := investment.Clone()
	investment.PrincipalRemaining = new(big.Int).Sub(investment.PrincipalRemaining, amount)
	investment.TotalPrincipalClaimed = new(big.Int).Add(investment.TotalPrincipalClaimed, amount)
	investment.TranchesClaimed = unlocked
	if err := e.state.InvestmentPut(investment); err != nil {
		return nil, err
	}
	if err := e.token.TransferOut(investor, amount); err != nil {
		if restoreErr := e.state.InvestmentPut(before); restoreErr != nil {
			return nil, restoreErr
		}
		return nil, err
	}
	e.emit(NewPrincipalClaimedEvent(projectID, investor, amount, unlocked))
	return amount, nil
}
