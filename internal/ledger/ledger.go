// Package ledger tracks running account balances during a waterfall run.
//
// The ledger is a pure accumulator: it never enforces non-negative
// balances. Callers check available cash before debiting.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

// Transaction is the optional audit record produced by a credit or debit.
type Transaction struct {
	Reference    uuid.UUID       `json:"reference"`
	Account      string          `json:"account"`
	CashType     model.CashType  `json:"cash_type"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
	Description  string          `json:"description,omitempty"`
	At           time.Time       `json:"at"`
}

// Account holds separately tracked interest and principal cash.
type Account struct {
	Name      string
	Type      model.AccountType
	interest  decimal.Decimal
	principal decimal.Decimal
}

// Add credits amount to the given cash bucket. Negative amounts are a
// validation error; an unrecognized cash type is a configuration error.
func (a *Account) Add(ct model.CashType, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.Validationf("ledger: negative credit %s to account %q", amount, a.Name)
	}
	switch ct {
	case model.CashInterest:
		a.interest = a.interest.Add(amount)
	case model.CashPrincipal:
		a.principal = a.principal.Add(amount)
	default:
		return errs.Configf("ledger: unknown cash type %q for account %q", ct, a.Name)
	}
	return nil
}

// Withdraw debits amount from the given cash bucket. The balance may go
// negative; verifying available cash is the caller's job.
func (a *Account) Withdraw(ct model.CashType, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.Validationf("ledger: negative debit %s from account %q", amount, a.Name)
	}
	switch ct {
	case model.CashInterest:
		a.interest = a.interest.Sub(amount)
	case model.CashPrincipal:
		a.principal = a.principal.Sub(amount)
	default:
		return errs.Configf("ledger: unknown cash type %q for account %q", ct, a.Name)
	}
	return nil
}

// Balance reads a single cash bucket without mutating.
func (a *Account) Balance(ct model.CashType) (decimal.Decimal, error) {
	switch ct {
	case model.CashInterest:
		return a.interest, nil
	case model.CashPrincipal:
		return a.principal, nil
	default:
		return decimal.Zero, errs.Configf("ledger: unknown cash type %q for account %q", ct, a.Name)
	}
}

// Total is always interest + principal.
func (a *Account) Total() decimal.Decimal {
	return a.interest.Add(a.principal)
}

// Ledger is the set of accounts for one deal instance. It is not safe
// for concurrent use; each engine instance owns its own ledger.
type Ledger struct {
	accounts map[string]*Account
	order    []string
	txns     []Transaction
}

// New builds a ledger from the deal's account definitions.
func New(defs []model.AccountDef) (*Ledger, error) {
	l := &Ledger{accounts: make(map[string]*Account, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, errs.Configf("ledger: account with empty name")
		}
		if _, dup := l.accounts[def.Name]; dup {
			return nil, errs.Configf("ledger: duplicate account %q", def.Name)
		}
		acct := &Account{
			Name:      def.Name,
			Type:      def.Type,
			interest:  def.OpeningInterest.Decimal,
			principal: def.OpeningPrincipal.Decimal,
		}
		l.accounts[def.Name] = acct
		l.order = append(l.order, def.Name)
	}
	return l, nil
}

// Account returns the named account.
func (l *Ledger) Account(name string) (*Account, error) {
	acct, ok := l.accounts[name]
	if !ok {
		return nil, errs.Validationf("ledger: unknown account %q", name)
	}
	return acct, nil
}

// ByType returns the first account of the given type, or nil.
func (l *Ledger) ByType(t model.AccountType) *Account {
	for _, name := range l.order {
		if l.accounts[name].Type == t {
			return l.accounts[name]
		}
	}
	return nil
}

// Credit adds cash to an account and appends an audit transaction.
func (l *Ledger) Credit(name string, ct model.CashType, amount decimal.Decimal, counterparty, description string) (Transaction, error) {
	acct, err := l.Account(name)
	if err != nil {
		return Transaction{}, err
	}
	if err := acct.Add(ct, amount); err != nil {
		return Transaction{}, err
	}
	txn := Transaction{
		Reference:    uuid.New(),
		Account:      name,
		CashType:     ct,
		Amount:       amount,
		Counterparty: counterparty,
		Description:  description,
		At:           time.Now().UTC(),
	}
	l.txns = append(l.txns, txn)
	return txn, nil
}

// Debit withdraws cash from an account and appends an audit transaction
// with a negated amount.
func (l *Ledger) Debit(name string, ct model.CashType, amount decimal.Decimal, counterparty, description string) (Transaction, error) {
	acct, err := l.Account(name)
	if err != nil {
		return Transaction{}, err
	}
	if err := acct.Withdraw(ct, amount); err != nil {
		return Transaction{}, err
	}
	txn := Transaction{
		Reference:    uuid.New(),
		Account:      name,
		CashType:     ct,
		Amount:       amount.Neg(),
		Counterparty: counterparty,
		Description:  description,
		At:           time.Now().UTC(),
	}
	l.txns = append(l.txns, txn)
	return txn, nil
}

// Transactions returns the audit trail accumulated so far.
func (l *Ledger) Transactions() []Transaction {
	out := make([]Transaction, len(l.txns))
	copy(out, l.txns)
	return out
}

// Balances snapshots every account's total, in definition order.
func (l *Ledger) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.order))
	for _, name := range l.order {
		out[name] = l.accounts[name].Total()
	}
	return out
}
