package identity

import (
	"fmt"
	"time"

	"github.com/identikit/identikit/internal/common"
)

// ConfirmationRecord marks a contact value as confirmed and remembers when.
type ConfirmationRecord struct {
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// ContactMarker is a small document whose key encodes a normalized unique
// contact value (e-mail or phone number). Its presence is the uniqueness
// proof: the store has no unique-index primitive, so the second writer
// claiming the same value loses the key collision at commit.
//
// This only holds when the owning session has optimistic concurrency enabled
// for its entire lifetime; the account store enforces that at construction.
type ContactMarker struct {
	ID           string              `json:"id"`
	AccountID    string              `json:"accountId"`
	Value        string              `json:"value"`
	Confirmation *ConfirmationRecord `json:"confirmation,omitempty"`
}

// NewEmailMarker claims an e-mail address for the given account.
func NewEmailMarker(email, accountID string) (*ContactMarker, error) {
	key, err := EmailKey(email)
	if err != nil {
		return nil, err
	}
	return newMarker(key, email, accountID)
}

// NewPhoneNumberMarker claims a phone number for the given account.
func NewPhoneNumberMarker(phoneNumber, accountID string) (*ContactMarker, error) {
	key, err := PhoneNumberKey(phoneNumber)
	if err != nil {
		return nil, err
	}
	return newMarker(key, phoneNumber, accountID)
}

func newMarker(key, value, accountID string) (*ContactMarker, error) {
	if accountID == "" {
		return nil, fmt.Errorf("marker account id: %w", common.ErrInvalidArgument)
	}
	return &ContactMarker{ID: key, AccountID: accountID, Value: value}, nil
}

// Confirmed reports whether the contact value has been confirmed.
func (m *ContactMarker) Confirmed() bool {
	return m.Confirmation != nil
}

// SetConfirmed records confirmation. Confirming an already-confirmed value
// keeps the original timestamp.
func (m *ContactMarker) SetConfirmed() {
	if m.Confirmation == nil {
		m.Confirmation = &ConfirmationRecord{ConfirmedAt: time.Now().UTC()}
	}
}

// SetUnconfirmed drops the confirmation record.
func (m *ContactMarker) SetUnconfirmed() {
	m.Confirmation = nil
}
