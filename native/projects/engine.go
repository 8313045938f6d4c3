package projects

import (
	"math/big"
	"sync"
	"time"

	"gridfund/core/events"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay
	secondsPerYear = 365 * secondsPerDay

	maxFundingDurationDays = 365
)

var basisPoints = big.NewInt(10_000)

// TokenAdapter is the contract of the external settlement-asset ledger. The
// engine never assumes a transfer succeeds silently: a returned error aborts
// the enclosing operation with no observable state change.
type TokenAdapter interface {
	// TransferIn moves amount from the payer into the escrow pool.
	TransferIn(payer [20]byte, amount *big.Int) error
	// TransferOut moves amount from the escrow pool to the payee.
	TransferOut(payee [20]byte, amount *big.Int) error
	// BalanceOf reports the holder's balance in the settlement asset.
	BalanceOf(holder [20]byte) (*big.Int, error)
}

type engineState interface {
	ProjectCount() (uint64, error)
	PutProjectCount(count uint64) error
	ProjectGet(id uint64) (*Project, bool, error)
	ProjectPut(project *Project) error
	InvestmentGet(projectID uint64, investor [20]byte) (*Investment, bool, error)
	InvestmentPut(investment *Investment) error
	InvestorsGet(projectID uint64) ([][20]byte, error)
	InvestorsAppend(projectID uint64, investor [20]byte) error
	EnergyRecordsGet(projectID uint64) ([]*EnergyRecord, error)
	EnergyRecordAppend(record *EnergyRecord) error
	AdminsGet() ([][20]byte, error)
	AdminsPut(admins [][20]byte) error
}

// Engine wires the escrow ledger business logic with persistence, the
// settlement-asset adapter and event emission. Mutating operations on the same
// project are serialized through a per-project lock that spans the state
// mutation and the external transfer.
type Engine struct {
	state   engineState
	token   TokenAdapter
	emitter events.Emitter
	nowFn   func() int64
	owner   [20]byte

	mu    sync.Mutex // guards locks and project creation
	locks map[uint64]*sync.Mutex
}

// NewEngine constructs a projects engine with a no-op emitter and the wall
// clock as its time source.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   make(map[uint64]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the settlement-asset adapter.
func (e *Engine) SetToken(token TokenAdapter) { e.token = token }

// SetOwner configures the distinguished owner identity that gates admin
// management and shares project-creation rights with the admin set.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// Owner returns the configured owner identity.
func (e *Engine) Owner() [20]byte { return e.owner }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) projectLock(id uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return nil
}

func (e *Engine) loadProject(id uint64) (*Project, error) {
	project, ok, err := e.state.ProjectGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || project == nil {
		return nil, ErrProjectNotFound
	}
	return project, nil
}

// IsAuthorized reports whether the caller is the owner or a registered admin.
func (e *Engine) IsAuthorized(caller [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if caller == e.owner && !isZeroAddress(caller) {
		return true, nil
	}
	admins, err := e.state.AdminsGet()
	if err != nil {
		return false, err
	}
	for _, admin := range admins {
		if admin == caller {
			return true, nil
		}
	}
	return false, nil
}

// AddAdmin registers a new admin identity. Only the owner may grow the set.
func (e *Engine) AddAdmin(caller, admin [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner || isZeroAddress(caller) {
		return ErrOnlyOwner
	}
	if isZeroAddress(admin) {
		return ErrZeroAddress
	}
	if admin == e.owner {
		return ErrAdminExists
	}
	admins, err := e.state.AdminsGet()
	if err != nil {
		return err
	}
	for _, existing := range admins {
		if existing == admin {
			return ErrAdminExists
		}
	}
	if err := e.state.AdminsPut(append(admins, admin)); err != nil {
		return err
	}
	e.emit(NewAdminAddedEvent(admin))
	return nil
}

// RemoveAdmin drops an admin identity from the set. Only the owner may shrink
// the set; the owner itself is not part of it.
func (e *Engine) RemoveAdmin(caller, admin [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner || isZeroAddress(caller) {
		return ErrOnlyOwner
	}
	admins, err := e.state.AdminsGet()
	if err != nil {
		return err
	}
	kept := make([][20]byte, 0, len(admins))
	found := false
	for _, existing := range admins {
		if existing == admin {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return ErrAdminUnknown
	}
	if err := e.state.AdminsPut(kept); err != nil {
		return err
	}
	e.emit(NewAdminRemovedEvent(admin))
	return nil
}

// Admins returns the registered admin identities in insertion order.
func (e *Engine) Admins() ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	admins, err := e.state.AdminsGet()
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, len(admins))
	copy(out, admins)
	return out, nil
}

// CreateProject registers a new project and returns its identifier. The caller
// must be the owner or an admin; validation failures are reported as distinct
// errors and inputs are never silently clamped.
func (e *Engine) CreateProject(caller [20]byte, name, description, location string, projectType ProjectType, targetAmount *big.Int, fundingDurationDays uint32) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	authorized, err := e.IsAuthorized(caller)
	if err != nil {
		return 0, err
	}
	if !authorized {
		return 0, ErrNotAuthorized
	}
	if !projectType.Valid() {
		return 0, ErrInvalidProjectType
	}
	if targetAmount == nil || targetAmount.Sign() <= 0 {
		return 0, ErrZeroTargetAmount
	}
	if fundingDurationDays == 0 {
		return 0, ErrZeroDuration
	}
	if fundingDurationDays > maxFundingDurationDays {
		return 0, ErrExcessiveDuration
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	count, err := e.state.ProjectCount()
	if err != nil {
		return 0, err
	}
	now := e.now()
	project := &Project{
		ID:              count,
		Name:            name,
		Description:     description,
		Location:        location,
		Type:            projectType,
		Owner:           caller,
		TargetAmount:    newBigInt(targetAmount),
		TotalInvested:   big.NewInt(0),
		TotalEnergyCost: big.NewInt(0),
		CreatedAt:       now,
		FundingDeadline: now + int64(fundingDurationDays)*secondsPerDay,
		IsActive:        true,
	}
	if err := e.state.ProjectPut(project); err != nil {
		return 0, err
	}
	if err := e.state.PutProjectCount(count + 1); err != nil {
		return 0, err
	}
	e.emit(NewProjectCreatedEvent(project))
	return project.ID, nil
}

// Invest pulls amount from the investor into escrow and records the position.
// An exact match of the remaining gap is legal; exceeding it is a hard
// failure. Reaching the target sets FundingCompletedAt exactly once.
func (e *Engine) Invest(projectID uint64, investor [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if !project.IsActive {
		return ErrProjectNotActive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	now := e.now()
	if now > project.FundingDeadline {
		return ErrDeadlinePassed
	}
	gap := new(big.Int).Sub(project.TargetAmount, project.TotalInvested)
	if amount.Cmp(gap) > 0 {
		return ErrExceedsTarget
	}

	if err := e.token.TransferIn(investor, amount); err != nil {
		return err
	}
	funded, err := e.recordInvestment(project, investor, amount, now)
	if err != nil {
		// Return the pulled funds if the position could not be recorded.
		if refundErr := e.token.TransferOut(investor, amount); refundErr != nil {
			return refundErr
		}
		return err
	}
	e.emit(NewInvestmentMadeEvent(project.ID, investor, amount))
	if funded {
		e.emit(NewFundingCompletedEvent(project.ID, now))
	}
	return nil
}

func (e *Engine) recordInvestment(project *Project, investor [20]byte, amount *big.Int, now int64) (bool, error) {
	investment, ok, err := e.state.InvestmentGet(project.ID, investor)
	if err != nil {
		return false, err
	}
	if !ok || investment == nil {
		investment = newInvestment(project.ID, investor)
		if err := e.state.InvestorsAppend(project.ID, investor); err != nil {
			return false, err
		}
	}
	before := investment.Clone()
	investment.PrincipalAmount = new(big.Int).Add(investment.PrincipalAmount, amount)
	investment.PrincipalRemaining = new(big.Int).Add(investment.PrincipalRemaining, amount)
	if err := e.state.InvestmentPut(investment); err != nil {
		return false, err
	}
	project.TotalInvested = new(big.Int).Add(project.TotalInvested, amount)
	funded := project.TotalInvested.Cmp(project.TargetAmount) == 0 && project.FundingCompletedAt == 0
	if funded {
		project.FundingCompletedAt = now
	}
	if err := e.state.ProjectPut(project); err != nil {
		if restoreErr := e.state.InvestmentPut(before); restoreErr != nil {
			return false, restoreErr
		}
		return false, err
	}
	return funded, nil
}

// MarkFundingFailed flips an underfunded project into the failed terminal
// state once its deadline has lapsed. Anyone may invoke it. A project that
// reached its target can never be marked failed; funding success is permanent
// and checked first.
func (e *Engine) MarkFundingFailed(projectID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if project.FundingCompletedAt != 0 || project.TotalInvested.Cmp(project.TargetAmount) >= 0 {
		return ErrFundingSucceeded
	}
	now := e.now()
	if now <= project.FundingDeadline {
		return ErrDeadlineNotReached
	}
	if project.IsFailed {
		return ErrAlreadyFailed
	}
	project.IsFailed = true
	project.IsActive = false
	if err := e.state.ProjectPut(project); err != nil {
		return err
	}
	e.emit(NewFundingFailedEvent(project.ID, now, project.TotalInvested, project.TargetAmount))
	return nil
}

// CompleteConstruction marks a fully funded project as operational. Only the
// project owner may complete, exactly once, and only after the target was
// reached. Interest accrual starts at the completion timestamp.
func (e *Engine) CompleteConstruction(projectID uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if caller != project.Owner {
		return ErrOnlyProjectOwner
	}
	if project.FundingCompletedAt == 0 {
		return ErrFundingNotCompleted
	}
	if project.IsCompleted {
		return ErrAlreadyCompleted
	}
	project.IsCompleted = true
	project.IsActive = false
	project.ConstructionCompletedAt = e.now()
	if err := e.state.ProjectPut(project); err != nil {
		return err
	}
	e.emit(NewConstructionCompletedEvent(project.ID))
	return nil
}

// DepositPayoutFunds tops up the shared escrow pool from the caller's balance.
// The pool is not tracked per project; project owners are expected to
// replenish it before investor claims are honored.
func (e *Engine) DepositPayoutFunds(from [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.token.TransferIn(from, amount); err != nil {
		return err
	}
	e.emit(NewPayoutDepositedEvent(from, amount))
	return nil
}

// ProjectCount returns the number of projects created so far.
func (e *Engine) ProjectCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.ProjectCount()
}

// GetProject returns a copy of the stored project record.
func (e *Engine) GetProject(id uint64) (*Project, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	project, err := e.loadProject(id)
	if err != nil {
		return nil, err
	}
	return project.Clone(), nil
}

// GetInvestment returns a copy of the stored position for the pair. An
// investor without a position gets a zeroed record, mirroring the read
// semantics of the ledger's external surface.
func (e *Engine) GetInvestment(projectID uint64, investor [20]byte) (*Investment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadProject(projectID); err != nil {
		return nil, err
	}
	investment, ok, err := e.state.InvestmentGet(projectID, investor)
	if err != nil {
		return nil, err
	}
	if !ok || investment == nil {
		return newInvestment(projectID, investor), nil
	}
	return investment.Clone(), nil
}

// GetTimeline returns the lifecycle timestamps of a project.
func (e *Engine) GetTimeline(projectID uint64) (*Timeline, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	project, err := e.loadProject(projectID)
	if err != nil {
		return nil, err
	}
	return &Timeline{
		CreatedAt:               project.CreatedAt,
		FundingDeadline:         project.FundingDeadline,
		FundingCompletedAt:      project.FundingCompletedAt,
		ConstructionCompletedAt: project.ConstructionCompletedAt,
	}, nil
}

// GetInvestors returns the project's investors in first-deposit order. Repeat
// deposits do not duplicate membership.
func (e *Engine) GetInvestors(projectID uint64) ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadProject(projectID); err != nil {
		return nil, err
	}
	investors, err := e.state.InvestorsGet(projectID)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, len(investors))
	copy(out, investors)
	return out, nil
}

// IsFundingFailed reports whether the project's deadline has lapsed below
// target. Purely derived; it does not require MarkFundingFailed to have run.
func (e *Engine) IsFundingFailed(projectID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	project, err := e.loadProject(projectID)
	if err != nil {
		return false, err
	}
	if project.FundingCompletedAt != 0 {
		return false, nil
	}
	return e.now() > project.FundingDeadline && project.TotalInvested.Cmp(project.TargetAmount) < 0, nil
}

// EscrowBalance reports the settlement-asset balance of the shared escrow
// pool.
func (e *Engine) EscrowBalance() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.token.BalanceOf(escrowPoolAddress)
}

// escrowPoolAddress is the well-known holder identity of the pooled escrow
// balance inside the settlement-asset ledger.
var escrowPoolAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], "gridfund/escrow-pool")
	return addr
}()

// EscrowPoolAddress returns the holder identity of the pooled escrow balance.
func EscrowPoolAddress() [20]byte { return escrowPoolAddress }
