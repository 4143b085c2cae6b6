package ledger

import (
	"context"
	"fmt"
)

// Service runs each ledger operation in its own transaction and reports it to the OperationLogger.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service. now returns epoch milliseconds.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns total, blocked and available amounts.
func (service *Service) Balance(ctx context.Context, userID UserID, unit Unit) (Balance, error) {
	return service.poster(service.store).Balance(ctx, userID, unit)
}

// Grant appends a positive grant (optionally expiring).
func (service *Service) Grant(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, idempotencyKey IdempotencyKey, expiresUnixMilli int64, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.poster(transactionStore).Grant(ctx, userID, unit, amount, idempotencyKey, expiresUnixMilli, metadata)
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationGrant,
		UserID:         userID,
		Unit:           unit,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Reserve appends a negative hold if sufficient available balance.
func (service *Service) Reserve(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.poster(transactionStore).Reserve(ctx, userID, unit, amount, reservationID, idempotencyKey, metadata)
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:      operationReserve,
		UserID:         userID,
		Unit:           unit,
		ReservationID:  &reservationRef,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Capture finalizes a reservation by reversing the hold and spending the funds with distinct idempotency keys.
func (service *Service) Capture(ctx context.Context, userID UserID, reservationID ReservationID, idempotencyKey IdempotencyKey, amount PositiveAmountCents, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.poster(transactionStore).Capture(ctx, userID, reservationID, idempotencyKey, amount, metadata)
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:      operationCapture,
		UserID:         userID,
		ReservationID:  &reservationRef,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Release cancels a reservation by writing a reverse-hold entry.
func (service *Service) Release(ctx context.Context, userID UserID, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	var releasedAmount AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		amount, err := service.poster(transactionStore).Release(ctx, userID, reservationID, idempotencyKey, metadata)
		releasedAmount = amount
		return err
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:      operationRelease,
		UserID:         userID,
		ReservationID:  &reservationRef,
		Amount:         releasedAmount,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Spend debits the user's available balance immediately (no hold).
func (service *Service) Spend(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.poster(transactionStore).Spend(ctx, userID, unit, amount, nil, idempotencyKey, metadata)
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationSpend,
		UserID:         userID,
		Unit:           unit,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Refund credits back an earlier spend.
func (service *Service) Refund(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return service.poster(transactionStore).Refund(ctx, userID, unit, amount, reservationID, idempotencyKey, metadata)
	})
	reservationRef := reservationID
	service.logOperation(ctx, OperationLog{
		Operation:      operationRefund,
		UserID:         userID,
		Unit:           unit,
		ReservationID:  &reservationRef,
		Amount:         amount.ToAmountCents(),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	return operationError
}

// Audit verifies that the stored balance matches a replay of the entry log.
func (service *Service) Audit(ctx context.Context, userID UserID, unit Unit) (Balance, error) {
	var audited Balance
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := service.poster(transactionStore).Audit(ctx, userID, unit)
		audited = balance
		return err
	})
	if operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationAudit,
			UserID:    userID,
			Unit:      unit,
			Error:     operationError,
		})
		return Balance{}, operationError
	}
	return audited, nil
}

// ListEntries lists ledger entries for a user before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, userID UserID, beforeUnixMilli int64, limit int) ([]Entry, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, accountID, beforeUnixMilli, limit)
}

func (service *Service) poster(store Store) Poster {
	return Poster{store: store, nowFn: service.nowFn}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
