package projects

import (
	"fmt"
	"math/big"
	"strings"
)

// ProjectType classifies the energy source a project is built around.
type ProjectType uint8

const (
	ProjectSolar ProjectType = iota
	ProjectWind
	ProjectHydro
	ProjectThermal
	ProjectGeothermal
	ProjectBiomass
	ProjectOther
)

// Valid reports whether the value is within the supported range.
func (t ProjectType) Valid() bool {
	return t <= ProjectOther
}

func (t ProjectType) String() string {
	switch t {
	case ProjectSolar:
		return "solar"
	case ProjectWind:
		return "wind"
	case ProjectHydro:
		return "hydro"
	case ProjectThermal:
		return "thermal"
	case ProjectGeothermal:
		return "geothermal"
	case ProjectBiomass:
		return "biomass"
	case ProjectOther:
		return "other"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseProjectType resolves a case-insensitive type name into its enum value.
func ParseProjectType(name string) (ProjectType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "solar":
		return ProjectSolar, nil
	case "wind":
		return ProjectWind, nil
	case "hydro":
		return ProjectHydro, nil
	case "thermal":
		return ProjectThermal, nil
	case "geothermal":
		return ProjectGeothermal, nil
	case "biomass":
		return ProjectBiomass, nil
	case "other":
		return ProjectOther, nil
	default:
		return 0, fmt.Errorf("unsupported project type: %s", name)
	}
}

// Project captures the metadata and lifecycle status of a single crowdfunded
// energy project. Identifiers are assigned sequentially in creation order.
// Exactly one of IsActive, IsCompleted, IsFailed reflects the live state;
// FundingCompletedAt and ConstructionCompletedAt stay zero until set and are
// never reset.
type Project struct {
	ID                      uint64
	Name                    string
	Description             string
	Location                string
	Type                    ProjectType
	Owner                   [20]byte
	TargetAmount            *big.Int
	TotalInvested           *big.Int
	EnergyProducedKWh       uint64
	TotalEnergyCost         *big.Int
	CreatedAt               int64
	FundingDeadline         int64
	FundingCompletedAt      int64
	ConstructionCompletedAt int64
	IsActive                bool
	IsCompleted             bool
	IsFailed                bool
}

// Clone returns a deep copy of the project so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TargetAmount = newBigInt(p.TargetAmount)
	clone.TotalInvested = newBigInt(p.TotalInvested)
	clone.TotalEnergyCost = newBigInt(p.TotalEnergyCost)
	return &clone
}

// Investment is the escrow position of one investor in one project. Repeat
// deposits accumulate into the same record. PrincipalRemaining plus
// TotalPrincipalClaimed always equals PrincipalAmount.
type Investment struct {
	ProjectID             uint64
	Investor              [20]byte
	PrincipalAmount       *big.Int
	PrincipalRemaining    *big.Int
	TotalInterestClaimed  *big.Int
	TotalPrincipalClaimed *big.Int
	// InterestMark is the unix timestamp interest has been paid through. Zero
	// means no claim yet; accrual then starts at construction completion.
	InterestMark int64
	// TranchesClaimed counts the annual principal unlocks already paid out.
	TranchesClaimed uint8
	RefundClaimed   bool
}

// Clone returns a deep copy of the investment record.
func (i *Investment) Clone() *Investment {
	if i == nil {
		return nil
	}
	clone := *i
	clone.PrincipalAmount = newBigInt(i.PrincipalAmount)
	clone.PrincipalRemaining = newBigInt(i.PrincipalRemaining)
	clone.TotalInterestClaimed = newBigInt(i.TotalInterestClaimed)
	clone.TotalPrincipalClaimed = newBigInt(i.TotalPrincipalClaimed)
	return &clone
}

func newInvestment(projectID uint64, investor [20]byte) *Investment {
	return &Investment{
		ProjectID:             projectID,
		Investor:              investor,
		PrincipalAmount:       big.NewInt(0),
		PrincipalRemaining:    big.NewInt(0),
		TotalInterestClaimed:  big.NewInt(0),
		TotalPrincipalClaimed: big.NewInt(0),
	}
}

// EnergyRecord is one owner-reported production entry. The journal is
// append-only; records are never mutated or deleted.
type EnergyRecord struct {
	ProjectID  uint64
	KWh        uint64
	DollarCost *big.Int
	Notes      string
	RecordedAt int64
}

// Clone returns a deep copy of the record.
func (r *EnergyRecord) Clone() *EnergyRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.DollarCost = newBigInt(r.DollarCost)
	return &clone
}

// Timeline bundles the four lifecycle timestamps of a project. Unset stages
// report zero.
type Timeline struct {
	CreatedAt               int64
	FundingDeadline         int64
	FundingCompletedAt      int64
	ConstructionCompletedAt int64
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
