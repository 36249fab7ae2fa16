package receiptformat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReceipt() *Receipt {
	return &Receipt{
		Store:         Store{Name: "Warung Kopi"},
		Items:         []Item{{Name: "Kopi", Quantity: 2, UnitPrice: 15000}},
		Total:         30000,
		PaymentMethod: PaymentCash,
		CashAmount:    Amount(50000),
		TransactionID: "TRX-20240101-000123",
		Date:          time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestValidate_ValidReceipt(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(validReceipt()))
}

func TestValidate_Nil(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
}

func TestValidate_NoItems(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.Items = nil

	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Items")
}

func TestValidate_UnknownPaymentMethod(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.PaymentMethod = "credit"

	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestValidate_ItemWithoutName(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.Items = append(r.Items, Item{Quantity: 1, UnitPrice: 1000})

	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name")
}

func TestValidate_MissingTransactionID(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.TransactionID = ""

	require.Error(t, Validate(r))
}

func TestParse(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"storeName": "Warung Kopi",
		"customerName": "Budi",
		"items": [{"name": "Kopi", "quantity": 2, "unitPrice": 15000}],
		"total": 30000,
		"paymentMethod": "cash",
		"cashAmount": 50000,
		"changeAmount": 20000,
		"transactionId": "TRX-1",
		"date": "2024-01-01T09:30:00Z"
	}`)

	r, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "Warung Kopi", r.Name)
	assert.Equal(t, "Budi", r.CustomerName)
	require.Len(t, r.Items, 1)
	assert.Equal(t, int64(30000), r.Items[0].LineTotal())
	assert.Equal(t, int64(50000), r.AmountPaid())
	assert.Equal(t, int64(20000), r.Change())
}

func TestParse_InvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"items":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse receipt")
}

func TestAmountFallbacks(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.CashAmount = nil
	r.ChangeAmount = nil

	assert.Equal(t, r.Total, r.AmountPaid())
	assert.Equal(t, int64(0), r.Change())
}

func TestWithStore(t *testing.T) {
	t.Parallel()

	r := validReceipt()
	r.Store = Store{Phone: "0812"}

	filled := r.WithStore(Store{Name: "Toko", Location: "Bandung", Phone: "0000"})

	assert.Equal(t, "Toko", filled.Name)
	assert.Equal(t, "Bandung", filled.Location)
	assert.Equal(t, "0812", filled.Phone)
	assert.Empty(t, r.Name, "original is not modified")
}
