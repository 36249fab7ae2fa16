// Package receiptformat defines the receipt document handed to the printer driver
package receiptformat

import "time"

// PaymentMethod is how the customer paid
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
)

// Store is the header block printed at the top of every receipt
type Store struct {
	Name     string `json:"storeName"`
	Location string `json:"storeLocation,omitempty"`
	Phone    string `json:"storePhone,omitempty"`
}

// Item is a single sold line
type Item struct {
	Name      string `json:"name" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=1"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
}

// LineTotal returns quantity times unit price
func (i Item) LineTotal() int64 {
	return i.Quantity * i.UnitPrice
}

// Receipt is the per-print document. It is built for one print call and
// discarded afterwards.
type Receipt struct {
	Store
	CustomerName  string        `json:"customerName,omitempty"`
	Items         []Item        `json:"items" validate:"required,min=1,dive"`
	Total         int64         `json:"total" validate:"gte=0"`
	PaymentMethod PaymentMethod `json:"paymentMethod" validate:"required,oneof=cash transfer"`
	CashAmount    *int64        `json:"cashAmount,omitempty" validate:"omitempty,gte=0"`
	ChangeAmount  *int64        `json:"changeAmount,omitempty" validate:"omitempty,gte=0"`
	TransactionID string        `json:"transactionId" validate:"required"`
	Date          time.Time     `json:"date" validate:"required"`
}

// AmountPaid is the cash amount, or the total when no cash amount was given
func (r *Receipt) AmountPaid() int64 {
	if r.CashAmount != nil {
		return *r.CashAmount
	}
	return r.Total
}

// Change is the change amount, or zero when none was given
func (r *Receipt) Change() int64 {
	if r.ChangeAmount != nil {
		return *r.ChangeAmount
	}
	return 0
}

// WithStore returns a copy of the receipt with blank store fields filled
// from defaults. The receipt's own values win.
func (r Receipt) WithStore(defaults Store) Receipt {
	if r.Store.Name == "" {
		r.Store.Name = defaults.Name
	}
	if r.Store.Location == "" {
		r.Store.Location = defaults.Location
	}
	if r.Store.Phone == "" {
		r.Store.Phone = defaults.Phone
	}
	return r
}

// Amount is a small helper for the optional money fields
func Amount(v int64) *int64 {
	return &v
}
