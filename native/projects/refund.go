package projects

import "math/big"

// ClaimRefund returns an investor's full principal after a project's funding
// has failed. Each position refunds exactly once, and the refunded principal
// is excluded from any future interest or amortization math.
func (e *Engine) ClaimRefund(projectID uint64, investor [20]byte) (*big.Int, error) {
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
	if !project.IsFailed {
		return nil, ErrProjectNotFailed
	}
	investment, ok, err := e.state.InvestmentGet(projectID, investor)
	if err != nil {
		return nil, err
	}
	if !ok || investment == nil || investment.PrincipalAmount.Sign() <= 0 {
		return nil, ErrNoInvestment
	}
	if investment.RefundClaimed {
		return nil, ErrRefundAlreadyClaimed
	}

	amount := newBigInt(investment.PrincipalAmount)
	before := investment.Clone()
	investment.RefundClaimed = true
	investment.PrincipalRemaining = big.NewInt(0)
	if err := e.state.InvestmentPut(investment); err != nil {
		return nil, err
	}
	if err := e.token.TransferOut(investor, amount); err != nil {
		if restoreErr := e.state.InvestmentPut(before); restoreErr != nil {
			return nil, restoreErr
		}
		return nil, err
	}
	e.emit(NewRefundClaimedEvent(projectID, investor, amount))
	return amount, nil
}
