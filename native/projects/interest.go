package projects

import "math/big"

const (
	tierOneRateBps   = 500
	tierTwoRateBps   = 700
	tierThreeRateBps = 900

	weeksPerYear = 52
)

// Settlement-asset amounts carry six decimal places.
var (
	assetUnit      = big.NewInt(1_000_000)
	tierTwoFloor   = new(big.Int).Mul(big.NewInt(2_000), assetUnit)
	tierThreeFloor = new(big.Int).Mul(big.NewInt(20_000), assetUnit)
)

// InterestRateBps returns the annual interest rate in basis points for a
// cumulative principal amount. Tier boundaries are inclusive lower bounds.
func InterestRateBps(principal *big.Int) uint32 {
	if principal == nil {
		return tierOneRateBps
	}
	if principal.Cmp(tierThreeFloor) >= 0 {
		return tierThreeRateBps
	}
	if principal.Cmp(tierTwoFloor) >= 0 {
		return tierTwoRateBps
	}
	return tierOneRateBps
}

// accruedInterest computes the interest owed on principal at rateBps over a
// whole number of weeks. The multiplication happens before the division so
// truncation is applied once, at the end.
func accruedInterest(principal *big.Int, rateBps uint32, weeks int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || weeks <= 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(principal, big.NewInt(int64(rateBps)))
	amount.Mul(amount, big.NewInt(weeks))
	amount.Div(amount, new(big.Int).Mul(basisPoints, big.NewInt(weeksPerYear)))
	return amount
}

// interestMark returns the timestamp interest has been paid through for the
// position. A zero mark means accrual starts at construction completion.
func interestMark(project *Project, investment *Investment) int64 {
	if investment.InterestMark > 0 {
		return investment.InterestMark
	}
	return project.ConstructionCompletedAt
}

func (e *Engine) availableInterest(project *Project, investment *Investment, now int64) (*big.Int, int64) {
	if !project.IsCompleted || project.ConstructionCompletedAt == 0 {
		return big.NewInt(0), 0
	}
	if investment.PrincipalAmount.Sign() <= 0 {
		return big.NewInt(0), 0
	}
	mark := interestMark(project, investment)
	if now <= mark {
		return big.NewInt(0), 0
	}
	weeks := (now - mark) / secondsPerWeek
	if weeks <= 0 {
		return big.NewInt(0), 0
	}
	rate := InterestRateBps(investment.PrincipalAmount)
	return accruedInterest(investment.PrincipalAmount, rate, weeks), weeks
}

// AvailableInterest returns the interest claimable right now by the investor.
// Interest accrues on the original principal in whole seven-day periods from
// construction completion, at the tier rate of the cumulative principal.
func (e *Engine) AvailableInterest(projectID uint64, investor [20]byte) (*big.Int, error) {
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
	amount, _ := e.availableInterest(project, investment, e.now())
	return amount, nil
}

// ClaimInterest pays out all interest accrued since the investor's last claim
// and advances the paid-through mark by the whole weeks settled, carrying any
// partial week into the next period.
func (e *Engine) ClaimInterest(projectID uint64, investor [20]byte) (*big.Int, error) {
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
	amount, weeks := e.availableInterest(project, investment, now)
	if amount.Sign() <= 0 {
		return nil, ErrNoInterestAvailable
	}
	pool, err := e.token.BalanceOf(escrowPoolAddress)
	if err != nil {
		return nil, err
	}
	if pool.Cmp(amount) < 0 {
		return nil, ErrInsufficientAsset
	}

	before := investment.Clone()
	investment.InterestMark = interestMark(project, investment) + weeks*secondsPerWeek
	investment.TotalInterestClaimed = new(big.Int).Add(investment.TotalInterestClaimed, amount)
	if err := e.state.InvestmentPut(investment); err != nil {
		return nil, err
	}
	if err := e.token.TransferOut(investor, amount); err != nil {
		if restoreErr := e.state.InvestmentPut(before); restoreErr != nil {
			return nil, restoreErr
		}
		return nil, err
	}
	e.emit(NewInterestClaimedEvent(projectID, investor, amount))
	return amount, nil
}
