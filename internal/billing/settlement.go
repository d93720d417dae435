package billing

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// SetPayment upserts the settlement record of one line.
func (s *Service) SetPayment(ctx context.Context, actor shared.Actor, in SetPaymentInput) (Financials, error) {
	if err := actor.Validate(); err != nil {
		return Financials{}, err
	}
	var financials Financials
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.IsClosed() {
			return shared.ErrInvoiceClosed
		}
		if err := shared.ValidateStruct(s.validate, in); err != nil {
			return err
		}
		if !in.ItemType.Valid() {
			return shared.Invalid("item_type", "must be one of visit injection procedure consumable")
		}
		if in.Channel != nil && !in.Channel.Valid() {
			return shared.Invalid("channel", "must be one of cash card")
		}
		lines, err := tx.ListLines(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if !hasLine(lines, in.ItemType, in.ItemID) {
			return fmt.Errorf("%s %d on invoice %d: %w", in.ItemType, in.ItemID, in.InvoiceID, shared.ErrNotFound)
		}
		if err := tx.UpsertPayment(ctx, PaymentRecord{
			InvoiceID: in.InvoiceID,
			ItemType:  in.ItemType,
			ItemID:    in.ItemID,
			Channel:   in.Channel,
			IsPaid:    in.IsPaid,
			UpdatedAt: s.now(),
		}); err != nil {
			return err
		}
		items, _, err := s.recompute(ctx, tx, in.InvoiceID)
		if err != nil {
			return err
		}
		financials = Summarize(items)
		return nil
	})
	if err != nil {
		return Financials{}, fmt.Errorf("billing: set payment: %w", err)
	}
	s.record(ctx, actor, "invoice.payment.set", in.InvoiceID, map[string]any{
		"item_type": in.ItemType,
		"item_id":   in.ItemID,
		"is_paid":   in.IsPaid,
	})
	return financials, nil
}

// UnpaidItems lists every line of the invoice without a paid record.
func (s *Service) UnpaidItems(ctx context.Context, invoiceID int64) ([]ledger.ItemRef, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	lines, err := s.repo.ListLines(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return UnpaidRefs(lines, payments), nil
}

// SettleAll marks every line paid through channel. Each line is written in its
// own savepoint; lines that fail are reported and skipped.
func (s *Service) SettleAll(ctx context.Context, actor shared.Actor, invoiceID int64, channel Channel) (SettleResult, error) {
	if err := actor.Validate(); err != nil {
		return SettleResult{}, err
	}
	result := SettleResult{Settled: []ledger.ItemRef{}, Failed: []ledger.ItemRef{}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.IsClosed() {
			return shared.ErrInvoiceClosed
		}
		if !channel.Valid() {
			return shared.Invalid("channel", "must be one of cash card")
		}
		lines, err := tx.ListLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		ch := channel
		for _, line := range lines {
			ref := ledger.Ref(line)
			err := tx.Savepoint(ctx, func(ctx context.Context, sp TxRepository) error {
				return sp.UpsertPayment(ctx, PaymentRecord{
					InvoiceID: invoiceID,
					ItemType:  line.Type(),
					ItemID:    line.Base().ID,
					Channel:   &ch,
					IsPaid:    true,
					UpdatedAt: s.now(),
				})
			})
			if err != nil {
				s.logger.Warn("settle line failed",
					"invoice_id", invoiceID, "item_type", ref.Type, "item_id", ref.ID, "error", err)
				result.Failed = append(result.Failed, ref)
				continue
			}
			result.Settled = append(result.Settled, ref)
		}
		_, err = s.RecomputeTotal(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return SettleResult{}, fmt.Errorf("billing: settle all: %w", err)
	}
	s.record(ctx, actor, "invoice.payment.settle_all", invoiceID, map[string]any{
		"channel": channel,
		"settled": len(result.Settled),
		"failed":  len(result.Failed),
	})
	return result, nil
}

func hasLine(lines []ledger.Line, itemType ledger.ItemType, itemID int64) bool {
	for _, line := range lines {
		if line.Type() == itemType && line.Base().ID == itemID {
			return true
		}
	}
	return false
}
