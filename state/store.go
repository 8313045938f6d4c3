package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"gridfund/native/projects"
	"gridfund/storage"
)

// Key layout inside the backing store. Values are JSON documents with
// decimal-string amounts and hex addresses so records survive backend swaps.
const (
	keyProjectCount = "meta/project-count"
	keyAdmins       = "meta/admins"
)

func projectKey(id uint64) []byte {
	return []byte(fmt.Sprintf("projects/%d", id))
}

func investmentKey(projectID uint64, investor [20]byte) []byte {
	return []byte(fmt.Sprintf("investments/%d/%s", projectID, hex.EncodeToString(investor[:])))
}

func investorsKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("investors/%d", projectID))
}

func energyKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("energy/%d", projectID))
}

// Store persists the projects ledger through a storage.Database backend.
type Store struct {
	db storage.Database
}

// NewStore wraps a key-value backend in the ledger persistence layer.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type projectRecord struct {
	ID                      uint64 `json:"id"`
	Name                    string `json:"name"`
	Description             string `json:"description"`
	Location                string `json:"location"`
	Type                    uint8  `json:"type"`
	Owner                   string `json:"owner"`
	TargetAmount            string `json:"targetAmount"`
	TotalInvested           string `json:"totalInvested"`
	TotalEnergyCost         string `json:"totalEnergyCost"`
	EnergyProducedKWh       uint64 `json:"energyProducedKwh"`
	CreatedAt               int64  `json:"createdAt"`
	FundingDeadline         int64  `json:"fundingDeadline"`
	FundingCompletedAt      int64  `json:"fundingCompletedAt"`
	ConstructionCompletedAt int64  `json:"constructionCompletedAt"`
	IsActive                bool   `json:"isActive"`
	IsCompleted             bool   `json:"isCompleted"`
	IsFailed                bool   `json:"isFailed"`
}

type investmentRecord struct {
	ProjectID             uint64 `json:"projectId"`
	Investor              string `json:"investor"`
	PrincipalAmount       string `json:"principalAmount"`
	PrincipalRemaining    string `json:"principalRemaining"`
	TotalInterestClaimed  string `json:"totalInterestClaimed"`
	TotalPrincipalClaimed string `json:"totalPrincipalClaimed"`
	InterestMark          int64  `json:"interestMark"`
	TranchesClaimed       uint8  `json:"tranchesClaimed"`
	RefundClaimed         bool   `json:"refundClaimed"`
}

type energyRecord struct {
	ProjectID  uint64 `json:"projectId"`
	KWh        uint64 `json:"kwh"`
	DollarCost string `json:"dollarCost"`
	Notes      string `json:"notes,omitempty"`
	RecordedAt int64  `json:"recordedAt"`
}

func encodeAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func decodeAddress(encoded string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return addr, fmt.Errorf("state: decode address: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("state: address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func decodeAmount(encoded string) (*big.Int, error) {
	if encoded == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(encoded, 10)
	if !ok {
		return nil, fmt.Errorf("state: decode amount %q", encoded)
	}
	return amount, nil
}

func (s *Store) ProjectCount() (uint64, error) {
	raw, err := s.db.Get([]byte(keyProjectCount))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := json.Unmarshal(raw, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) PutProjectCount(count uint64) error {
	raw, err := json.Marshal(count)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(keyProjectCount), raw)
}

func (s *Store) ProjectGet(id uint64) (*projects.Project, bool, error) {
	raw, err := s.db.Get(projectKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var record projectRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, err
	}
	owner, err := decodeAddress(record.Owner)
	if err != nil {
		return nil, false, err
	}
	target, err := decodeAmount(record.TargetAmount)
	if err != nil {
		return nil, false, err
	}
	invested, err := decodeAmount(record.TotalInvested)
	if err != nil {
		return nil, false, err
	}
	energyCost, err := decodeAmount(record.TotalEnergyCost)
	if err != nil {
		return nil, false, err
	}
	return &projects.Project{
		ID:                      record.ID,
		Name:                    record.Name,
		Description:             record.Description,
		Location:                record.Location,
		Type:                    projects.ProjectType(record.Type),
		Owner:                   owner,
		TargetAmount:            target,
		TotalInvested:           invested,
		TotalEnergyCost:         energyCost,
		EnergyProducedKWh:       record.EnergyProducedKWh,
		CreatedAt:               record.CreatedAt,
		FundingDeadline:         record.FundingDeadline,
		FundingCompletedAt:      record.FundingCompletedAt,
		ConstructionCompletedAt: record.ConstructionCompletedAt,
		IsActive:                record.IsActive,
		IsCompleted:             record.IsCompleted,
		IsFailed:                record.IsFailed,
	}, true, nil
}

func (s *Store) ProjectPut(project *projects.Project) error {
	if project == nil {
		return errors.New("state: nil project")
	}
	record := projectRecord{
		ID:                      project.ID,
		Name:                    project.Name,
		Description:             project.Description,
		Location:                project.Location,
		Type:                    uint8(project.Type),
		Owner:                   encodeAddress(project.Owner),
		TargetAmount:            encodeAmount(project.TargetAmount),
		TotalInvested:           encodeAmount(project.TotalInvested),
		TotalEnergyCost:         encodeAmount(project.TotalEnergyCost),
		EnergyProducedKWh:       project.EnergyProducedKWh,
		CreatedAt:               project.CreatedAt,
		FundingDeadline:         project.FundingDeadline,
		FundingCompletedAt:      project.FundingCompletedAt,
		ConstructionCompletedAt: project.ConstructionCompletedAt,
		IsActive:                project.IsActive,
		IsCompleted:             project.IsCompleted,
		IsFailed:                project.IsFailed,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Put(projectKey(project.ID), raw)
}

func (s *Store) InvestmentGet(projectID uint64, investor [20]byte) (*projects.Investment, bool, error) {
	raw, err := s.db.Get(investmentKey(projectID, investor))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var record investmentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, err
	}
	holder, err := decodeAddress(record.Investor)
	if err != nil {
		return nil, false, err
	}
	principal, err := decodeAmount(record.PrincipalAmount)
	if err != nil {
		return nil, false, err
	}
	remaining, err := decodeAmount(record.PrincipalRemaining)
	if err != nil {
		return nil, false, err
	}
	interestClaimed, err := decodeAmount(record.TotalInterestClaimed)
	if err != nil {
		return nil, false, err
	}
	principalClaimed, err := decodeAmount(record.TotalPrincipalClaimed)
	if err != nil {
		return nil, false, err
	}
	return &projects.Investment{
		ProjectID:             record.ProjectID,
		Investor:              holder,
		PrincipalAmount:       principal,
		PrincipalRemaining:    remaining,
		TotalInterestClaimed:  interestClaimed,
		TotalPrincipalClaimed: principalClaimed,
		InterestMark:          record.InterestMark,
		TranchesClaimed:       record.TranchesClaimed,
		RefundClaimed:         record.RefundClaimed,
	}, true, nil
}

func (s *Store) InvestmentPut(investment *projects.Investment) error {
	if investment == nil {
		return errors.New("state: nil investment")
	}
	record := investmentRecord{
		ProjectID:             investment.ProjectID,
		Investor:              encodeAddress(investment.Investor),
		PrincipalAmount:       encodeAmount(investment.PrincipalAmount),
		PrincipalRemaining:    encodeAmount(investment.PrincipalRemaining),
		TotalInterestClaimed:  encodeAmount(investment.TotalInterestClaimed),
		TotalPrincipalClaimed: encodeAmount(investment.TotalPrincipalClaimed),
		InterestMark:          investment.InterestMark,
		TranchesClaimed:       investment.TranchesClaimed,
		RefundClaimed:         investment.RefundClaimed,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Put(investmentKey(investment.ProjectID, investment.Investor), raw)
}

func (s *Store) InvestorsGet(projectID uint64) ([][20]byte, error) {
	raw, err := s.db.Get(investorsKey(projectID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	investors := make([][20]byte, 0, len(encoded))
	for _, entry := range encoded {
		addr, err := decodeAddress(entry)
		if err != nil {
			return nil, err
		}
		investors = append(investors, addr)
	}
	return investors, nil
}

func (s *Store) InvestorsAppend(projectID uint64, investor [20]byte) error {
	investors, err := s.InvestorsGet(projectID)
	if err != nil {
		return err
	}
	encoded := make([]string, 0, len(investors)+1)
	for _, entry := range investors {
		if entry == investor {
			return nil
		}
		encoded = append(encoded, encodeAddress(entry))
	}
	encoded = append(encoded, encodeAddress(investor))
	raw, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	return s.db.Put(investorsKey(projectID), raw)
}

func (s *Store) EnergyRecordsGet(projectID uint64) ([]*projects.EnergyRecord, error) {
	raw, err := s.db.Get(energyKey(projectID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []energyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	out := make([]*projects.EnergyRecord, 0, len(records))
	for _, record := range records {
		cost, err := decodeAmount(record.DollarCost)
		if err != nil {
			return nil, err
		}
		out = append(out, &projects.EnergyRecord{
			ProjectID:  record.ProjectID,
			KWh:        record.KWh,
			DollarCost: cost,
			Notes:      record.Notes,
			RecordedAt: record.RecordedAt,
		})
	}
	return out, nil
}

func (s *Store) EnergyRecordAppend(record *projects.EnergyRecord) error {
	if record == nil {
		return errors.New("state: nil energy record")
	}
	existing, err := s.EnergyRecordsGet(record.ProjectID)
	if err != nil {
		return err
	}
	records := make([]energyRecord, 0, len(existing)+1)
	for _, entry := range existing {
		records = append(records, energyRecord{
			ProjectID:  entry.ProjectID,
			KWh:        entry.KWh,
			DollarCost: encodeAmount(entry.DollarCost),
			Notes:      entry.Notes,
			RecordedAt: entry.RecordedAt,
		})
	}
	records = append(records, energyRecord{
		ProjectID:  record.ProjectID,
		KWh:        record.KWh,
		DollarCost: encodeAmount(record.DollarCost),
		Notes:      record.Notes,
		RecordedAt: record.RecordedAt,
	})
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.db.Put(energyKey(record.ProjectID), raw)
}

func (s *Store) AdminsGet() ([][20]byte, error) {
	raw, err := s.db.Get([]byte(keyAdmins))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	admins := make([][20]byte, 0, len(encoded))
	for _, entry := range encoded {
		addr, err := decodeAddress(entry)
		if err != nil {
			return nil, err
		}
		admins = append(admins, addr)
	}
	return admins, nil
}

func (s *Store) AdminsPut(admins [][20]byte) error {
	encoded := make([]string, 0, len(admins))
	for _, admin := range admins {
		encoded = append(encoded, encodeAddress(admin))
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(keyAdmins), raw)
}
