package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// SignatureRepository provides data access for contract signatures.
type SignatureRepository struct {
	BaseRepository
}

// NewSignatureRepository creates a new signature repository.
func NewSignatureRepository(db *DB) *SignatureRepository {
	return &SignatureRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Sign records a signed contract for a booking. Signing again replaces the
// previous signature.
func (r *SignatureRepository) Sign(ctx context.Context, sig *models.ContractSignature) error {
	now := r.Now()
	sig.ID = GenerateID()
	sig.Status = models.SignatureStatusSigned
	sig.SignedAt = &now

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO contract_signatures (id, booking_id, signature, signer_email, signer_ip, status, signed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(booking_id) DO UPDATE SET
			signature = excluded.signature,
			signer_email = excluded.signer_email,
			signer_ip = excluded.signer_ip,
			status = excluded.status,
			signed_at = excluded.signed_at
	`,
		sig.ID, sig.BookingID, sig.Signature, sig.SignerEmail, sig.SignerIP, sig.Status, now,
	)
	if err != nil {
		return fmt.Errorf("inserting signature: %w", err)
	}

	return nil
}

// GetByBookingID retrieves the signature for a booking.
func (r *SignatureRepository) GetByBookingID(ctx context.Context, bookingID string) (*models.ContractSignature, error) {
	sig := &models.ContractSignature{}

	err := r.DB().QueryRowContext(ctx, `
		SELECT id, booking_id, signature, signer_email, signer_ip, status, signed_at
		FROM contract_signatures WHERE booking_id = ?
	`, bookingID).Scan(
		&sig.ID, &sig.BookingID, &sig.Signature, &sig.SignerEmail, &sig.SignerIP, &sig.Status, &sig.SignedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying signature: %w", err)
	}

	return sig, nil
}
