package loan

import "github.com/shopspring/decimal"

type LedgerView struct {
	LoanID       string
	CustomerID   string
	Principal    decimal.Decimal
	TotalAmount  decimal.Decimal
	EMI          decimal.Decimal
	AmountPaid   decimal.Decimal
	Balance      decimal.Decimal
	EMIsLeft     int64
	EMIsPaid     int
	Transactions []Transaction
}

type LoanSummary struct {
	LoanID      string
	Principal   decimal.Decimal
	TotalAmount decimal.Decimal
	EMI         decimal.Decimal
	Interest    decimal.Decimal
	AmountPaid  decimal.Decimal
	EMIsLeft    int64
}

func (l *Loan) Ledger() LedgerView {
	emisPaid := 0
	for _, txn := range l.Transactions {
		if txn.Type == TypeEMI {
			emisPaid++
		}
	}

	transactions := make([]Transaction, len(l.Transactions))
	copy(transactions, l.Transactions)

	return LedgerView{
		LoanID:       l.ID,
		CustomerID:   l.CustomerID,
		Principal:    l.Principal,
		TotalAmount:  l.TotalAmount,
		EMI:          l.EMI,
		AmountPaid:   l.AmountPaid,
		Balance:      l.Balance(),
		EMIsLeft:     l.EMIsLeft(),
		EMIsPaid:     emisPaid,
		Transactions: transactions,
	}
}

func (l *Loan) Summary() LoanSummary {
	return LoanSummary{
		LoanID:      l.ID,
		Principal:   l.Principal,
		TotalAmount: l.TotalAmount,
		EMI:         l.EMI,
		Interest:    l.Interest,
		AmountPaid:  l.AmountPaid,
		EMIsLeft:    l.EMIsLeft(),
	}
}
