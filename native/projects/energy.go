package projects

import "math/big"

// RecordEnergyProduction appends a production reading to the project journal
// and rolls the totals forward. Only the project owner may record, and only
// for operational projects. A zero cost is legal.
func (e *Engine) RecordEnergyProduction(projectID uint64, caller [20]byte, kwh uint64, energyDollarCost *big.Int, notes string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if kwh == 0 {
		return ErrZeroAmount
	}
	if energyDollarCost == nil || energyDollarCost.Sign() < 0 {
		return ErrZeroAmount
	}
	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	project, err := e.loadProject(projectID)
	if err != nil {
		return err
	}
	if project.Owner != caller {
		return ErrOnlyProjectOwner
	}
	if !project.IsCompleted {
		return ErrProjectNotCompleted
	}
	record := &EnergyRecord{
		ProjectID:  projectID,
		KWh:        kwh,
		DollarCost: newBigInt(energyDollarCost),
		Notes:      notes,
		RecordedAt: e.now(),
	}
	if err := e.state.EnergyRecordAppend(record); err != nil {
		return err
	}
	project.EnergyProducedKWh += kwh
	project.TotalEnergyCost = new(big.Int).Add(project.TotalEnergyCost, energyDollarCost)
	if err := e.state.ProjectPut(project); err != nil {
		return err
	}
	e.emit(NewEnergyRecordedEvent(projectID, kwh, energyDollarCost))
	return nil
}

// EnergyRecords returns the project's production journal in append order.
func (e *Engine) EnergyRecords(projectID uint64) ([]*EnergyRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadProject(projectID); err != nil {
		return nil, err
	}
	records, err := e.state.EnergyRecordsGet(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*EnergyRecord, len(records))
	for i, record := range records {
		out[i] = record.Clone()
	}
	return out, nil
}
