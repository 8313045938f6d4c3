package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"gridfund/native/projects"
)

type createProjectParams struct {
	Caller              string `json:"caller"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Location            string `json:"location"`
	ProjectType         string `json:"projectType"`
	TargetAmount        string `json:"targetAmount"`
	FundingDurationDays uint32 `json:"fundingDurationDays"`
}

type projectIDParams struct {
	ProjectID uint64 `json:"projectId"`
}

type projectActorParams struct {
	ProjectID uint64 `json:"projectId"`
	Caller    string `json:"caller"`
}

type investParams struct {
	ProjectID uint64 `json:"projectId"`
	Investor  string `json:"investor"`
	Amount    string `json:"amount"`
}

type depositParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type recordEnergyParams struct {
	ProjectID  uint64 `json:"projectId"`
	Caller     string `json:"caller"`
	KWh        uint64 `json:"kwh"`
	DollarCost string `json:"dollarCost"`
	Notes      string `json:"notes"`
}

type investmentQueryParams struct {
	ProjectID uint64 `json:"projectId"`
	Investor  string `json:"investor"`
}

type adminParams struct {
	Caller string `json:"caller"`
	Admin  string `json:"admin"`
}

type mintParams struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

type holderParams struct {
	Holder string `json:"holder"`
}

type amountQueryParams struct {
	Amount string `json:"amount"`
}

type projectJSON struct {
	ID                      uint64 `json:"id"`
	Name                    string `json:"name"`
	Description             string `json:"description"`
	Location                string `json:"location"`
	ProjectType             string `json:"projectType"`
	Owner                   string `json:"owner"`
	TargetAmount            string `json:"targetAmount"`
	TotalInvested           string `json:"totalInvested"`
	TotalEnergyCost         string `json:"totalEnergyCost"`
	EnergyProducedKWh       uint64 `json:"energyProducedKwh"`
	CreatedAt               int64  `json:"createdAt"`
	FundingDeadline         int64  `json:"fundingDeadline"`
	FundingCompletedAt      int64  `json:"fundingCompletedAt,omitempty"`
	ConstructionCompletedAt int64  `json:"constructionCompletedAt,omitempty"`
	IsActive                bool   `json:"isActive"`
	IsCompleted             bool   `json:"isCompleted"`
	IsFailed                bool   `json:"isFailed"`
}

type investmentJSON struct {
	ProjectID             uint64 `json:"projectId"`
	Investor              string `json:"investor"`
	PrincipalAmount       string `json:"principalAmount"`
	PrincipalRemaining    string `json:"principalRemaining"`
	TotalInterestClaimed  string `json:"totalInterestClaimed"`
	TotalPrincipalClaimed string `json:"totalPrincipalClaimed"`
	TranchesClaimed       uint8  `json:"tranchesClaimed"`
	RefundClaimed         bool   `json:"refundClaimed"`
	AvailableInterest     string `json:"availableInterest"`
	AvailablePrincipal    string `json:"availablePrincipal"`
}

type timelineJSON struct {
	CreatedAt               int64 `json:"createdAt"`
	FundingDeadline         int64 `json:"fundingDeadline"`
	FundingCompletedAt      int64 `json:"fundingCompletedAt,omitempty"`
	ConstructionCompletedAt int64 `json:"constructionCompletedAt,omitempty"`
}

type energyRecordJSON struct {
	ProjectID  uint64 `json:"projectId"`
	KWh        uint64 `json:"kwh"`
	DollarCost string `json:"dollarCost"`
	Notes      string `json:"notes,omitempty"`
	RecordedAt int64  `json:"recordedAt"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected one parameter object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(field, value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return addr, fmt.Errorf("%s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return addr, fmt.Errorf("%s is not a valid address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid decimal amount", field)
	}
	return amount, nil
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, projects.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, id, codeLedgerNotFound, err.Error(), nil)
	case projects.IsAuthorizationError(err):
		writeError(w, http.StatusForbidden, id, codeLedgerForbidden, err.Error(), nil)
	case projects.IsValidationError(err):
		writeError(w, http.StatusBadRequest, id, codeLedgerInvalidParams, err.Error(), nil)
	case projects.IsInsufficientAssetError(err):
		writeError(w, http.StatusConflict, id, codeLedgerUnderfunded, err.Error(), nil)
	case projects.IsStateError(err), projects.IsCapacityError(err), projects.IsClaimError(err):
		writeError(w, http.StatusConflict, id, codeLedgerConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeLedgerInternal, "internal error", err.Error())
	}
}

func projectToJSON(project *projects.Project) projectJSON {
	return projectJSON{
		ID:                      project.ID,
		Name:                    project.Name,
		Description:             project.Description,
		Location:                project.Location,
		ProjectType:             project.Type.String(),
		Owner:                   common.Address(project.Owner).Hex(),
		TargetAmount:            project.TargetAmount.String(),
		TotalInvested:           project.TotalInvested.String(),
		TotalEnergyCost:         project.TotalEnergyCost.String(),
		EnergyProducedKWh:       project.EnergyProducedKWh,
		CreatedAt:               project.CreatedAt,
		FundingDeadline:         project.FundingDeadline,
		FundingCompletedAt:      project.FundingCompletedAt,
		ConstructionCompletedAt: project.ConstructionCompletedAt,
		IsActive:                project.IsActive,
		IsCompleted:             project.IsCompleted,
		IsFailed:                project.IsFailed,
	}
}

func investmentToJSON(investment *projects.Investment, availableInterest, availablePrincipal *big.Int) investmentJSON {
	return investmentJSON{
		ProjectID:             investment.ProjectID,
		Investor:              common.Address(investment.Investor).Hex(),
		PrincipalAmount:       investment.PrincipalAmount.String(),
		PrincipalRemaining:    investment.PrincipalRemaining.String(),
		TotalInterestClaimed:  investment.TotalInterestClaimed.String(),
		TotalPrincipalClaimed: investment.TotalPrincipalClaimed.String(),
		TranchesClaimed:       investment.TranchesClaimed,
		RefundClaimed:         investment.RefundClaimed,
		AvailableInterest:     availableInterest.String(),
		AvailablePrincipal:    availablePrincipal.String(),
	}
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, req *RPCRequest) {
	var params createProjectParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	projectType, err := projects.ParseProjectType(params.ProjectType)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := parseAmount("targetAmount", params.TargetAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	id, err := s.engine.CreateProject(caller, params.Name, params.Description, params.Location, projectType, target, params.FundingDurationDays)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"projectId": id})
}

func (s *Server) handleProjectGet(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	project, err := s.engine.GetProject(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, projectToJSON(project))
}

func (s *Server) handleProjectCount(w http.ResponseWriter, req *RPCRequest) {
	count, err := s.engine.ProjectCount()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"count": count})
}

func (s *Server) handleInvest(w http.ResponseWriter, req *RPCRequest) {
	var params investParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investor, err := parseAddress("investor", params.Investor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Invest(params.ProjectID, investor, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleMarkFundingFailed(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.MarkFundingFailed(params.ProjectID); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleCompleteConstruction(w http.ResponseWriter, req *RPCRequest) {
	var params projectActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.CompleteConstruction(params.ProjectID, caller); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleDepositPayoutFunds(w http.ResponseWriter, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.DepositPayoutFunds(from, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleClaimInterest(w http.ResponseWriter, req *RPCRequest) {
	s.handleClaim(w, req, s.engine.ClaimInterest)
}

func (s *Server) handleClaimPrincipal(w http.ResponseWriter, req *RPCRequest) {
	s.handleClaim(w, req, s.engine.ClaimPrincipal)
}

func (s *Server) handleClaimRefund(w http.ResponseWriter, req *RPCRequest) {
	s.handleClaim(w, req, s.engine.ClaimRefund)
}

func (s *Server) handleClaim(w http.ResponseWriter, req *RPCRequest, claim func(uint64, [20]byte) (*big.Int, error)) {
	var params investmentQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investor, err := parseAddress("investor", params.Investor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	paid, err := claim(params.ProjectID, investor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: paid.String()})
}

func (s *Server) handleRecordEnergy(w http.ResponseWriter, req *RPCRequest) {
	var params recordEnergyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	cost, err := parseAmount("dollarCost", params.DollarCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RecordEnergyProduction(params.ProjectID, caller, params.KWh, cost, params.Notes); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEnergyRecords(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	records, err := s.engine.EnergyRecords(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]energyRecordJSON, 0, len(records))
	for _, record := range records {
		out = append(out, energyRecordJSON{
			ProjectID:  record.ProjectID,
			KWh:        record.KWh,
			DollarCost: record.DollarCost.String(),
			Notes:      record.Notes,
			RecordedAt: record.RecordedAt,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleInvestors(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investors, err := s.engine.GetInvestors(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(investors))
	for _, investor := range investors {
		out = append(out, common.Address(investor).Hex())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleInvestment(w http.ResponseWriter, req *RPCRequest) {
	var params investmentQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investor, err := parseAddress("investor", params.Investor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investment, err := s.engine.GetInvestment(params.ProjectID, investor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	availableInterest, err := s.engine.AvailableInterest(params.ProjectID, investor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	availablePrincipal, err := s.engine.AvailablePrincipal(params.ProjectID, investor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, investmentToJSON(investment, availableInterest, availablePrincipal))
}

func (s *Server) handleTimeline(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	timeline, err := s.engine.GetTimeline(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, timelineJSON{
		CreatedAt:               timeline.CreatedAt,
		FundingDeadline:         timeline.FundingDeadline,
		FundingCompletedAt:      timeline.FundingCompletedAt,
		ConstructionCompletedAt: timeline.ConstructionCompletedAt,
	})
}

func (s *Server) handleAvailableInterest(w http.ResponseWriter, req *RPCRequest) {
	s.handleAvailable(w, req, s.engine.AvailableInterest)
}

func (s *Server) handleAvailablePrincipal(w http.ResponseWriter, req *RPCRequest) {
	s.handleAvailable(w, req, s.engine.AvailablePrincipal)
}

func (s *Server) handleAvailable(w http.ResponseWriter, req *RPCRequest, query func(uint64, [20]byte) (*big.Int, error)) {
	var params investmentQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investor, err := parseAddress("investor", params.Investor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := query(params.ProjectID, investor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: amount.String()})
}

func (s *Server) handleIsFundingFailed(w http.ResponseWriter, req *RPCRequest) {
	var params projectIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	failed, err := s.engine.IsFundingFailed(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"failed": failed})
}

func (s *Server) handleInterestRate(w http.ResponseWriter, req *RPCRequest) {
	var params amountQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]uint32{"rateBps": projects.InterestRateBps(amount)})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.engine.EscrowBalance()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleAdminAdd(w http.ResponseWriter, req *RPCRequest) {
	s.handleAdminChange(w, req, s.engine.AddAdmin)
}

func (s *Server) handleAdminRemove(w http.ResponseWriter, req *RPCRequest) {
	s.handleAdminChange(w, req, s.engine.RemoveAdmin)
}

func (s *Server) handleAdminChange(w http.ResponseWriter, req *RPCRequest, change func([20]byte, [20]byte) error) {
	var params adminParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	admin, err := parseAddress("admin", params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := change(caller, admin); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleAdminList(w http.ResponseWriter, req *RPCRequest) {
	admins, err := s.engine.Admins()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(admins))
	for _, admin := range admins {
		out = append(out, common.Address(admin).Hex())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleTokenMint(w http.ResponseWriter, req *RPCRequest) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "ledger unavailable", nil)
		return
	}
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	holder, err := parseAddress("holder", params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Mint(holder, amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeLedgerInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, req *RPCRequest) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "ledger unavailable", nil)
		return
	}
	var params holderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	holder, err := parseAddress("holder", params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.ledger.BalanceOf(holder)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeLedgerInternal, "internal error", err.Error())
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}
