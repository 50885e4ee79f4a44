// internal/domain/bank_account.go
package domain

import "time"

// BankAccount is a stored payout destination. Account and routing numbers are
// encrypted at rest; only BankDetails ever carries plaintext.
type BankAccount struct {
	ID                     int64     `json:"id" db:"id"`
	CreatorID              string    `json:"creator_id" db:"creator_id"`
	AccountNumberEncrypted string    `json:"-" db:"account_number_encrypted"`
	RoutingNumberEncrypted string    `json:"-" db:"routing_number_encrypted"`
	AccountHolderName      string    `json:"account_holder_name" db:"account_holder_name"`
	Currency               string    `json:"currency" db:"currency"`
	IsVerified             bool      `json:"is_verified" db:"is_verified"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
}

// BankDetails is a decrypted payout destination. It lives in memory for the
// duration of one transfer call and is never persisted or logged.
type BankDetails struct {
	AccountNumber     string
	RoutingNumber     string
	AccountHolderName string
	Currency          string
	Country           string
}

// MaskedAccountNumber returns the last four digits prefixed with asterisks,
// the only form of the account number that may appear in logs or ledger rows.
func (d *BankDetails) MaskedAccountNumber() string {
	n := d.AccountNumber
	if len(n) <= 4 {
		return "****"
	}
	return "****" + n[len(n)-4:]
}

// CreatorProfile is the slice of the creator record the payout core reads.
type CreatorProfile struct {
	CreatorID   string  `json:"creator_id" db:"creator_id"`
	CountryCode *string `json:"country_code,omitempty" db:"country_code"`
}
