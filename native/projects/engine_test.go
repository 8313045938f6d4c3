package projects

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"gridfund/core/events"
)

type mockState struct {
	count             uint64
	projects          map[uint64]*Project
	investments       map[string]*Investment
	investors         map[uint64][][20]byte
	energy            map[uint64][]*EnergyRecord
	admins            [][20]byte
	failInvestmentPut bool
}

func newMockState() *mockState {
	return &mockState{
		projects:    make(map[uint64]*Project),
		investments: make(map[string]*Investment),
		investors:   make(map[uint64][][20]byte),
		energy:      make(map[uint64][]*EnergyRecord),
	}
}

func investmentKey(projectID uint64, investor [20]byte) string {
	return fmt.Sprintf("%d/%x", projectID, investor)
}

func (m *mockState) ProjectCount() (uint64, error)      { return m.count, nil }
func (m *mockState) PutProjectCount(count uint64) error { m.count = count; return nil }

func (m *mockState) ProjectGet(id uint64) (*Project, bool, error) {
	project, ok := m.projects[id]
	if !ok {
		return nil, false, nil
	}
	return project.Clone(), true, nil
}

func (m *mockState) ProjectPut(project *Project) error {
	if project == nil {
		return nil
	}
	m.projects[project.ID] = project.Clone()
	return nil
}

func (m *mockState) InvestmentGet(projectID uint64, investor [20]byte) (*Investment, bool, error) {
	investment, ok := m.investments[investmentKey(projectID, investor)]
	if !ok {
		return nil, false, nil
	}
	return investment.Clone(), true, nil
}

func (m *mockState) InvestmentPut(investment *Investment) error {
	if m.failInvestmentPut {
		return errors.New("investment put failed")
	}
	if investment == nil {
		return nil
	}
	m.investments[investmentKey(investment.ProjectID, investment.Investor)] = investment.Clone()
	return nil
}

func (m *mockState) InvestorsGet(projectID uint64) ([][20]byte, error) {
	return m.investors[projectID], nil
}

func (m *mockState) InvestorsAppend(projectID uint64, investor [20]byte) error {
	for _, entry := range m.investors[projectID] {
		if entry == investor {
			return nil
		}
	}
	m.investors[projectID] = append(m.investors[projectID], investor)
	return nil
}

func (m *mockState) EnergyRecordsGet(projectID uint64) ([]*EnergyRecord, error) {
	return m.energy[projectID], nil
}

func (m *mockState) EnergyRecordAppend(record *EnergyRecord) error {
	if record == nil {
		return nil
	}
	m.energy[record.ProjectID] = append(m.energy[record.ProjectID], record.Clone())
	return nil
}

func (m *mockState) AdminsGet() ([][20]byte, error)    { return m.admins, nil }
func (m *mockState) AdminsPut(admins [][20]byte) error { m.admins = admins; return nil }

type mockToken struct {
	balances map[[20]byte]*big.Int
	failOut  bool
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[[20]byte]*big.Int)}
}

func (m *mockToken) balance(holder [20]byte) *big.Int {
	if bal, ok := m.balances[holder]; ok {
		return bal
	}
	bal := big.NewInt(0)
	m.balances[holder] = bal
	return bal
}

func (m *mockToken) mint(holder [20]byte, amount int64) {
	m.balance(holder).Add(m.balance(holder), big.NewInt(amount))
}

func (m *mockToken) TransferIn(payer [20]byte, amount *big.Int) error {
	if m.balance(payer).Cmp(amount) < 0 {
		return errors.New("token: insufficient balance")
	}
	m.balance(payer).Sub(m.balance(payer), amount)
	m.balance(escrowPoolAddress).Add(m.balance(escrowPoolAddress), amount)
	return nil
}

func (m *mockToken) TransferOut(payee [20]byte, amount *big.Int) error {
	if m.failOut {
		return errors.New("token: transfer rejected")
	}
	if m.balance(escrowPoolAddress).Cmp(amount) < 0 {
		return errors.New("token: escrow underfunded")
	}
	m.balance(escrowPoolAddress).Sub(m.balance(escrowPoolAddress), amount)
	m.balance(payee).Add(m.balance(payee), amount)
	return nil
}

func (m *mockToken) BalanceOf(holder [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(holder)), nil
}

func (m *mockToken) totalSupply() *big.Int {
	total := big.NewInt(0)
	for _, bal := range m.balances {
		total.Add(total, bal)
	}
	return total
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) types() []string {
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.EventType()
	}
	return out
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), assetUnit)
}

type testEnv struct {
	engine  *Engine
	state   *mockState
	token   *mockToken
	emitter *recordingEmitter
	owner   [20]byte
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockState(),
		token:   newMockToken(),
		emitter: &recordingEmitter{},
		owner:   addr(0xaa),
		now:     1_700_000_000,
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetToken(env.token)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetOwner(env.owner)
	env.engine.SetNowFunc(func() int64 { return env.now })
	return env
}

func (env *testEnv) advance(seconds int64) { env.now += seconds }

func (env *testEnv) createProject(t *testing.T, target *big.Int, durationDays uint32) uint64 {
	t.Helper()
	id, err := env.engine.CreateProject(env.owner, "Rooftop Array", "community solar", "Valencia", ProjectSolar, target, durationDays)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return id
}

func (env *testEnv) fundProject(t *testing.T, id uint64, investor [20]byte, amount *big.Int) {
	t.Helper()
	env.token.mint(investor, 0)
	env.token.balance(investor).Add(env.token.balance(investor), amount)
	if err := env.engine.Invest(id, investor, amount); err != nil {
		t.Fatalf("invest: %v", err)
	}
}

func (env *testEnv) completeProject(t *testing.T, id uint64) {
	t.Helper()
	if err := env.engine.CompleteConstruction(id, env.owner); err != nil {
		t.Fatalf("complete construction: %v", err)
	}
}

func TestCreateProjectAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	for want := uint64(0); want < 3; want++ {
		id := env.createProject(t, units(1_000), 30)
		if id != want {
			t.Fatalf("project id = %d, want %d", id, want)
		}
	}
	count, err := env.engine.ProjectCount()
	if err != nil {
		t.Fatalf("project count: %v", err)
	}
	if count != 3 {
		t.Fatalf("project count = %d, want 3", count)
	}
	project, err := env.engine.GetProject(0)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if !project.IsActive || project.IsCompleted || project.IsFailed {
		t.Fatalf("fresh project flags = active %v completed %v failed %v", project.IsActive, project.IsCompleted, project.IsFailed)
	}
	if project.FundingDeadline != env.now+30*secondsPerDay {
		t.Fatalf("funding deadline = %d, want %d", project.FundingDeadline, env.now+30*secondsPerDay)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	stranger := addr(0x01)
	if _, err := env.engine.CreateProject(stranger, "n", "d", "l", ProjectSolar, units(1), 30); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("unauthorized create: %v", err)
	}
	if _, err := env.engine.CreateProject(env.owner, "n", "d", "l", ProjectSolar, big.NewInt(0), 30); !errors.Is(err, ErrZeroTargetAmount) {
		t.Fatalf("zero target: %v", err)
	}
	if _, err := env.engine.CreateProject(env.owner, "n", "d", "l", ProjectSolar, units(1), 0); !errors.Is(err, ErrZeroDuration) {
		t.Fatalf("zero duration: %v", err)
	}
	if _, err := env.engine.CreateProject(env.owner, "n", "d", "l", ProjectSolar, units(1), 366); !errors.Is(err, ErrExcessiveDuration) {
		t.Fatalf("excessive duration: %v", err)
	}
	if _, err := env.engine.CreateProject(env.owner, "n", "d", "l", ProjectType(250), units(1), 30); !errors.Is(err, ErrInvalidProjectType) {
		t.Fatalf("invalid type: %v", err)
	}
}

func TestAdminsCanCreateProjects(t *testing.T) {
	env := newTestEnv(t)
	admin := addr(0x02)
	if err := env.engine.AddAdmin(env.owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if _, err := env.engine.CreateProject(admin, "n", "d", "l", ProjectWind, units(10), 30); err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if err := env.engine.RemoveAdmin(env.owner, admin); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	if _, err := env.engine.CreateProject(admin, "n", "d", "l", ProjectWind, units(10), 30); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("removed admin create: %v", err)
	}
}

func TestAdminManagementRules(t *testing.T) {
	env := newTestEnv(t)
	admin := addr(0x02)
	if err := env.engine.AddAdmin(addr(0x03), admin); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("non-owner add: %v", err)
	}
	if err := env.engine.AddAdmin(env.owner, [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero admin: %v", err)
	}
	if err := env.engine.AddAdmin(env.owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := env.engine.AddAdmin(env.owner, admin); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("duplicate add: %v", err)
	}
	if err := env.engine.RemoveAdmin(env.owner, addr(0x09)); !errors.Is(err, ErrAdminUnknown) {
		t.Fatalf("remove unknown: %v", err)
	}
}

func TestInvestAccumulatesAndDeduplicatesInvestors(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(10_000), 30)
	alice := addr(0x10)
	bob := addr(0x11)
	env.fundProject(t, id, alice, units(1_000))
	env.fundProject(t, id, bob, units(2_000))
	env.fundProject(t, id, alice, units(500))

	investors, err := env.engine.GetInvestors(id)
	if err != nil {
		t.Fatalf("investors: %v", err)
	}
	if len(investors) != 2 || investors[0] != alice || investors[1] != bob {
		t.Fatalf("investor list = %x", investors)
	}
	investment, err := env.engine.GetInvestment(id, alice)
	if err != nil {
		t.Fatalf("investment: %v", err)
	}
	if investment.PrincipalAmount.Cmp(units(1_500)) != 0 {
		t.Fatalf("alice principal = %s, want %s", investment.PrincipalAmount, units(1_500))
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.TotalInvested.Cmp(units(3_500)) != 0 {
		t.Fatalf("total invested = %s", project.TotalInvested)
	}
	if got := env.token.balance(escrowPoolAddress); got.Cmp(units(3_500)) != 0 {
		t.Fatalf("escrow balance = %s", got)
	}
}

func TestInvestRejectsOverfundingButAcceptsExactFill(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	alice := addr(0x10)
	env.fundProject(t, id, alice, units(600))

	env.token.balance(alice).Add(env.token.balance(alice), units(500))
	if err := env.engine.Invest(id, alice, units(401)); !errors.Is(err, ErrExceedsTarget) {
		t.Fatalf("overfund: %v", err)
	}
	if err := env.engine.Invest(id, alice, units(400)); err != nil {
		t.Fatalf("exact fill: %v", err)
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.FundingCompletedAt != env.now {
		t.Fatalf("funding completed at = %d, want %d", project.FundingCompletedAt, env.now)
	}
	if err := env.engine.Invest(id, alice, units(1)); !errors.Is(err, ErrExceedsTarget) {
		t.Fatalf("post-fill invest: %v", err)
	}
}

func TestInvestRejectsAfterDeadlineAndBadInputs(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	alice := addr(0x10)
	if err := env.engine.Invest(id, alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if err := env.engine.Invest(99, alice, units(1)); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("unknown project: %v", err)
	}
	env.advance(31 * secondsPerDay)
	env.token.mint(alice, 0)
	env.token.balance(alice).Add(env.token.balance(alice), units(1))
	if err := env.engine.Invest(id, alice, units(1)); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("late invest: %v", err)
	}
}

func TestMarkFundingFailedOrdering(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	alice := addr(0x10)
	env.fundProject(t, id, alice, units(400))

	if err := env.engine.MarkFundingFailed(id); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("early mark: %v", err)
	}
	env.advance(31 * secondsPerDay)
	failed, err := env.engine.IsFundingFailed(id)
	if err != nil || !failed {
		t.Fatalf("derived failure = %v, %v", failed, err)
	}
	if err := env.engine.MarkFundingFailed(id); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := env.engine.MarkFundingFailed(id); !errors.Is(err, ErrAlreadyFailed) {
		t.Fatalf("double mark: %v", err)
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.IsActive || !project.IsFailed {
		t.Fatalf("failed project flags = active %v failed %v", project.IsActive, project.IsFailed)
	}
}

func TestMarkFundingFailedRejectsFundedProject(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	env.fundProject(t, id, addr(0x10), units(1_000))
	env.advance(31 * secondsPerDay)
	if err := env.engine.MarkFundingFailed(id); !errors.Is(err, ErrFundingSucceeded) {
		t.Fatalf("mark funded project: %v", err)
	}
	failed, err := env.engine.IsFundingFailed(id)
	if err != nil || failed {
		t.Fatalf("derived failure on funded project = %v, %v", failed, err)
	}
}

func TestCompleteConstructionRules(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	if err := env.engine.CompleteConstruction(id, env.owner); !errors.Is(err, ErrFundingNotCompleted) {
		t.Fatalf("complete unfunded: %v", err)
	}
	env.fundProject(t, id, addr(0x10), units(1_000))
	if err := env.engine.CompleteConstruction(id, addr(0x10)); !errors.Is(err, ErrOnlyProjectOwner) {
		t.Fatalf("complete by stranger: %v", err)
	}
	env.completeProject(t, id)
	if err := env.engine.CompleteConstruction(id, env.owner); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("double complete: %v", err)
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if !project.IsCompleted || project.IsActive || project.ConstructionCompletedAt != env.now {
		t.Fatalf("completed project = %+v", project)
	}
}

func TestRecordEnergyProduction(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	env.fundProject(t, id, addr(0x10), units(1_000))
	if err := env.engine.RecordEnergyProduction(id, env.owner, 100, units(5), ""); !errors.Is(err, ErrProjectNotCompleted) {
		t.Fatalf("record before completion: %v", err)
	}
	env.completeProject(t, id)
	if err := env.engine.RecordEnergyProduction(id, addr(0x44), 100, units(5), ""); !errors.Is(err, ErrOnlyProjectOwner) {
		t.Fatalf("non-owner record: %v", err)
	}
	if err := env.engine.RecordEnergyProduction(id, env.owner, 0, units(5), ""); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero kwh: %v", err)
	}
	if err := env.engine.RecordEnergyProduction(id, env.owner, 120, units(6), "first sunny month"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := env.engine.RecordEnergyProduction(id, env.owner, 80, units(4), ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Free or self-consumed energy carries a zero cost.
	if err := env.engine.RecordEnergyProduction(id, env.owner, 50, big.NewInt(0), "self-consumed"); err != nil {
		t.Fatalf("zero-cost record: %v", err)
	}
	records, err := env.engine.EnergyRecords(id)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 || records[0].KWh != 120 || records[1].KWh != 80 || records[2].KWh != 50 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Notes != "first sunny month" {
		t.Fatalf("notes = %q", records[0].Notes)
	}
	if records[2].DollarCost.Sign() != 0 {
		t.Fatalf("zero-cost record cost = %s", records[2].DollarCost)
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.EnergyProducedKWh != 250 || project.TotalEnergyCost.Cmp(units(10)) != 0 {
		t.Fatalf("rollup = %d kwh, %s cost", project.EnergyProducedKWh, project.TotalEnergyCost)
	}
}

func TestDepositPayoutFunds(t *testing.T) {
	env := newTestEnv(t)
	env.token.balance(env.owner).Add(env.token.balance(env.owner), units(50))
	if err := env.engine.DepositPayoutFunds(env.owner, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero deposit: %v", err)
	}
	if err := env.engine.DepositPayoutFunds(env.owner, units(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	pool, err := env.engine.EscrowBalance()
	if err != nil {
		t.Fatalf("escrow balance: %v", err)
	}
	if pool.Cmp(units(50)) != 0 {
		t.Fatalf("pool = %s", pool)
	}
}

func TestLifecycleEmitsEvents(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, units(1_000), 30)
	env.fundProject(t, id, addr(0x10), units(1_000))
	env.completeProject(t, id)

	want := []string{
		EventTypeProjectCreated,
		EventTypeInvestmentMade,
		EventTypeFundingCompleted,
		EventTypeConstructionCompleted,
	}
	got := env.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOperationsPreserveTotalSupply(t *testing.T) {
	env := newTestEnv(t)
	alice := addr(0x10)
	bob := addr(0x11)
	env.token.balance(alice).Add(env.token.balance(alice), units(5_000))
	env.token.balance(bob).Add(env.token.balance(bob), units(5_000))
	supply := env.token.totalSupply()

	id := env.createProject(t, units(4_000), 30)
	if err := env.engine.Invest(id, alice, units(2_500)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if err := env.engine.Invest(id, bob, units(1_500)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	env.completeProject(t, id)
	env.advance(8 * secondsPerDay)
	if _, err := env.engine.ClaimInterest(id, alice); err != nil {
		t.Fatalf("claim interest: %v", err)
	}
	if got := env.token.totalSupply(); got.Cmp(supply) != 0 {
		t.Fatalf("total supply drifted: %s, want %s", got, supply)
	}
}

func TestFullLifecyclePayouts(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := env.createProject(t, units(100_000), 90)
	env.fundProject(t, id, investor, units(100_000))

	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.FundingCompletedAt != env.now {
		t.Fatalf("funding completed at = %d", project.FundingCompletedAt)
	}
	env.completeProject(t, id)

	env.advance(7 * secondsPerDay)
	interest, err := env.engine.ClaimInterest(id, investor)
	if err != nil {
		t.Fatalf("claim interest: %v", err)
	}
	// 100,000 units at 900 bps for one week: 100_000e6*900/520_000.
	if interest.Cmp(big.NewInt(173_076_923)) != 0 {
		t.Fatalf("week of interest = %s", interest)
	}

	env.advance(3*secondsPerYear - 7*secondsPerDay)
	principal, err := env.engine.ClaimPrincipal(id, investor)
	if err != nil {
		t.Fatalf("claim principal: %v", err)
	}
	if principal.Cmp(units(20_000)) != 0 {
		t.Fatalf("first tranche = %s", principal)
	}

	investment, err := env.engine.GetInvestment(id, investor)
	if err != nil {
		t.Fatalf("investment: %v", err)
	}
	if investment.PrincipalRemaining.Cmp(units(80_000)) != 0 {
		t.Fatalf("remaining = %s", investment.PrincipalRemaining)
	}
	sum := new(big.Int).Add(investment.PrincipalRemaining, investment.TotalPrincipalClaimed)
	if sum.Cmp(investment.PrincipalAmount) != 0 {
		t.Fatalf("principal accounting: %s + %s != %s",
			investment.PrincipalRemaining, investment.TotalPrincipalClaimed, investment.PrincipalAmount)
	}
	if got := env.token.balance(investor); got.Cmp(new(big.Int).Add(units(20_000), interest)) != 0 {
		t.Fatalf("investor balance = %s", got)
	}
}

func TestInvestRefundsPullOnStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	investor := addr(0x10)
	id := env.createProject(t, units(1_000), 30)
	env.token.balance(investor).Add(env.token.balance(investor), units(400))

	env.state.failInvestmentPut = true
	if err := env.engine.Invest(id, investor, units(400)); err == nil {
		t.Fatal("expected invest to fail")
	}
	if got := env.token.balance(investor); got.Cmp(units(400)) != 0 {
		t.Fatalf("investor balance = %s, want pull returned", got)
	}
	if got := env.token.balance(escrowPoolAddress); got.Sign() != 0 {
		t.Fatalf("pool balance = %s, want 0", got)
	}
	project, err := env.engine.GetProject(id)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if project.TotalInvested.Sign() != 0 {
		t.Fatalf("total invested = %s", project.TotalInvested)
	}

	env.state.failInvestmentPut = false
	if err := env.engine.Invest(id, investor, units(400)); err != nil {
		t.Fatalf("invest after recovery: %v", err)
	}
	investors, err := env.engine.GetInvestors(id)
	if err != nil {
		t.Fatalf("investors: %v", err)
	}
	if len(investors) != 1 {
		t.Fatalf("investors = %d, want 1", len(investors))
	}
}
