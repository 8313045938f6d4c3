package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"gridfund/native/projects"
	"gridfund/storage"
)

var (
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
)

// Ledger is the settlement-asset account book. Balances are denominated in
// base units of the six-decimal asset and persisted through the node's
// key-value store. It satisfies the escrow engine's transfer contract by
// moving funds between holders and the shared escrow pool.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger wraps a key-value backend in the asset ledger.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(holder [20]byte) []byte {
	return []byte("balances/" + hex.EncodeToString(holder[:]))
}

func (l *Ledger) load(holder [20]byte) (*big.Int, error) {
	raw, err := l.db.Get(balanceKey(holder))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("token ledger: corrupt balance %q", raw)
	}
	return balance, nil
}

func (l *Ledger) store(holder [20]byte, balance *big.Int) error {
	return l.db.Put(balanceKey(holder), []byte(balance.String()))
}

// Mint credits freshly issued units to the holder. Bridging deposits from the
// external asset into the node's book go through here.
func (l *Ledger) Mint(holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.load(holder)
	if err != nil {
		return err
	}
	return l.store(holder, balance.Add(balance, amount))
}

// Burn removes units from the holder, the counterpart of Mint for
// withdrawals back to the external asset.
func (l *Ledger) Burn(holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.load(holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.store(holder, balance.Sub(balance, amount))
}

// Transfer moves amount between two holders.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, amount)
}

func (l *Ledger) transfer(from, to [20]byte, amount *big.Int) error {
	source, err := l.load(from)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	dest, err := l.load(to)
	if err != nil {
		return err
	}
	if err := l.store(from, source.Sub(source, amount)); err != nil {
		return err
	}
	if err := l.store(to, dest.Add(dest, amount)); err != nil {
		// Put the debit back so a half-applied transfer never sticks.
		restoreErr := l.store(from, source.Add(source, amount))
		if restoreErr != nil {
			return restoreErr
		}
		return err
	}
	return nil
}

// TransferIn moves amount from the payer into the escrow pool.
func (l *Ledger) TransferIn(payer [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(payer, projects.EscrowPoolAddress(), amount)
}

// TransferOut moves amount from the escrow pool to the payee.
func (l *Ledger) TransferOut(payee [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(projects.EscrowPoolAddress(), payee, amount)
}

// BalanceOf reports the holder's balance.
func (l *Ledger) BalanceOf(holder [20]byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(holder)
}
