package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypePayment = "payment"
	TypeEMI     = "EMI"
)

type Loan struct {
	ID           string
	CustomerID   string
	Principal    decimal.Decimal
	Years        int
	Rate         decimal.Decimal
	Interest     decimal.Decimal
	TotalAmount  decimal.Decimal
	EMI          decimal.Decimal
	AmountPaid   decimal.Decimal
	CreatedAt    time.Time
	Transactions []Transaction
}

type Transaction struct {
	LoanID    string
	Seq       int
	Type      string
	Amount    decimal.Decimal
	Timestamp time.Time
}

// NewLoan builds an unsaved loan with every derived amount fixed.
func NewLoan(customerID string, principal decimal.Decimal, years int, rate decimal.Decimal) (*Loan, error) {
	interest, total, emi, err := Compute(principal, years, rate)
	if err != nil {
		return nil, err
	}

	return &Loan{
		CustomerID:   customerID,
		Principal:    principal,
		Years:        years,
		Rate:         rate,
		Interest:     interest,
		TotalAmount:  total,
		EMI:          emi,
		AmountPaid:   decimal.Zero,
		Transactions: []Transaction{},
	}, nil
}

func (l *Loan) Balance() decimal.Decimal {
	return Balance(l.TotalAmount, l.AmountPaid)
}

func (l *Loan) EMIsLeft() int64 {
	return EMIsLeft(l.Balance(), l.EMI)
}

// TransactionTotal sums the transactions held by this snapshot.
func (l *Loan) TransactionTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, txn := range l.Transactions {
		sum = sum.Add(txn.Amount)
	}
	return sum
}

// Clone returns a deep copy so stores never hand out their own state.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	c.Transactions = make([]Transaction, len(l.Transactions))
	copy(c.Transactions, l.Transactions)
	return &c
}
