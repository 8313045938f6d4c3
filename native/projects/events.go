package projects

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/google/uuid"
)

const (
	// EventTypeProjectCreated is emitted when a new project enters the registry.
	EventTypeProjectCreated = "projects.created"
	// EventTypeInvestmentMade is emitted when an investor deposits into a project.
	EventTypeInvestmentMade = "projects.investment_made"
	// EventTypeFundingCompleted is emitted when a project reaches its target.
	EventTypeFundingCompleted = "projects.funding_completed"
	// EventTypeFundingFailed is emitted when a project is marked failed after its deadline.
	EventTypeFundingFailed = "projects.funding_failed"
	// EventTypeConstructionCompleted is emitted when a funded project becomes operational.
	EventTypeConstructionCompleted = "projects.construction_completed"
	// EventTypeInterestClaimed is emitted when an investor collects accrued interest.
	EventTypeInterestClaimed = "projects.interest_claimed"
	// EventTypePrincipalClaimed is emitted when an investor collects vested principal.
	EventTypePrincipalClaimed = "projects.principal_claimed"
	// EventTypeRefundClaimed is emitted when an investor recovers principal from a failed project.
	EventTypeRefundClaimed = "projects.refund_claimed"
	// EventTypeEnergyRecorded is emitted when a production reading is journaled.
	EventTypeEnergyRecorded = "projects.energy_recorded"
	// EventTypePayoutDeposited is emitted when the escrow pool is topped up.
	EventTypePayoutDeposited = "projects.payout_deposited"
	// EventTypeAdminAdded is emitted when the owner grows the admin set.
	EventTypeAdminAdded = "projects.admin_added"
	// EventTypeAdminRemoved is emitted when the owner shrinks the admin set.
	EventTypeAdminRemoved = "projects.admin_removed"
)

// Event is the structured notification payload produced by the engine. Each
// carries a unique identifier so downstream consumers can deduplicate.
type Event struct {
	ID         string
	Type       string
	Attributes map[string]string
}

// EventType implements events.Event.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

func newEvent(eventType string, attributes map[string]string) *Event {
	return &Event{ID: uuid.NewString(), Type: eventType, Attributes: attributes}
}

func hexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// NewProjectCreatedEvent captures the registration of a project.
func NewProjectCreatedEvent(project *Project) *Event {
	return newEvent(EventTypeProjectCreated, map[string]string{
		"projectId":       strconv.FormatUint(project.ID, 10),
		"name":            project.Name,
		"projectType":     project.Type.String(),
		"owner":           hexAddress(project.Owner),
		"targetAmount":    amountString(project.TargetAmount),
		"fundingDeadline": strconv.FormatInt(project.FundingDeadline, 10),
	})
}

// NewInvestmentMadeEvent captures a deposit into a project.
func NewInvestmentMadeEvent(projectID uint64, investor [20]byte, amount *big.Int) *Event {
	return newEvent(EventTypeInvestmentMade, map[string]string{
		"projectId": strconv.FormatUint(projectID, 10),
		"investor":  hexAddress(investor),
		"amount":    amountString(amount),
	})
}

// NewFundingCompletedEvent captures a project reaching its target.
func NewFundingCompletedEvent(projectID uint64, completedAt int64) *Event {
	return newEvent(EventTypeFundingCompleted, map[string]string{
		"projectId":   strconv.FormatUint(projectID, 10),
		"completedAt": strconv.FormatInt(completedAt, 10),
	})
}

// NewFundingFailedEvent captures a project missing its target by the deadline.
func NewFundingFailedEvent(projectID uint64, failedAt int64, totalInvested, targetAmount *big.Int) *Event {
	return newEvent(EventTypeFundingFailed, map[string]string{
		"projectId":     strconv.FormatUint(projectID, 10),
		"failedAt":      strconv.FormatInt(failedAt, 10),
		"totalInvested": amountString(totalInvested),
		"targetAmount":  amountString(targetAmount),
	})
}

// NewConstructionCompletedEvent captures a project turning operational.
func NewConstructionCompletedEvent(projectID uint64) *Event {
	return newEvent(EventTypeConstructionCompleted, map[string]string{
		"projectId": strconv.FormatUint(projectID, 10),
	})
}

// NewInterestClaimedEvent captures an interest payout.
func NewInterestClaimedEvent(projectID uint64, investor [20]byte, amount *big.Int) *Event {
	return newEvent(EventTypeInterestClaimed, map[string]string{
		"projectId": strconv.FormatUint(projectID, 10),
		"investor":  hexAddress(investor),
		"amount":    amountString(amount),
	})
}

// NewPrincipalClaimedEvent captures a principal tranche payout.
func NewPrincipalClaimedEvent(projectID uint64, investor [20]byte, amount *big.Int, tranches uint8) *Event {
	return newEvent(EventTypePrincipalClaimed, map[string]string{
		"projectId": strconv.FormatUint(projectID, 10),
		"investor":  hexAddress(investor),
		"amount":    amountString(amount),
		"tranches":  strconv.FormatUint(uint64(tranches), 10),
	})
}

// NewRefundClaimedEvent captures a refund payout from a failed project.
func NewRefundClaimedEvent(projectID uint64, investor [20]byte, amount *big.Int) *Event {
	return newEvent(EventTypeRefundClaimed, map[string]string{
		"projectId": strconv.FormatUint(projectID, 10),
		"investor":  hexAddress(investor),
		"amount":    amountString(amount),
	})
}

// NewEnergyRecordedEvent captures a journaled production reading.
func NewEnergyRecordedEvent(projectID uint64, kwh uint64, dollarCost *big.Int) *Event {
	return newEvent(EventTypeEnergyRecorded, map[string]string{
		"projectId":  strconv.FormatUint(projectID, 10),
		"kwh":        strconv.FormatUint(kwh, 10),
		"dollarCost": amountString(dollarCost),
	})
}

// NewPayoutDepositedEvent captures an escrow pool top-up.
func NewPayoutDepositedEvent(from [20]byte, amount *big.Int) *Event {
	return newEvent(EventTypePayoutDeposited, map[string]string{
		"from":   hexAddress(from),
		"amount": amountString(amount),
	})
}

// NewAdminAddedEvent captures the owner adding an admin.
func NewAdminAddedEvent(admin [20]byte) *Event {
	return newEvent(EventTypeAdminAdded, map[string]string{
		"admin": hexAddress(admin),
	})
}

// NewAdminRemovedEvent captures the owner removing an admin.
func NewAdminRemovedEvent(admin [20]byte) *Event {
	return newEvent(EventTypeAdminRemoved, map[string]string{
		"admin": hexAddress(admin),
	})
}
