package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pitchside/pitchside/internal/domain"
)

const invoiceColumns = `id, club_id, season_id, parent_user_id, child_user_id,
	invoice_number, status, subtotal, tax_amount, discount_amount,
	total_amount, amount_paid, issue_date, due_date, paid_date, notes,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		inv                                     domain.Invoice
		id, clubID, seasonID, parentID, childID pgtype.UUID
		subtotal, tax, discount, total, paid    pgtype.Numeric
		paidDate                                pgtype.Timestamptz
		notes                                   pgtype.Text
	)

	err := row.Scan(&id, &clubID, &seasonID, &parentID, &childID,
		&inv.InvoiceNumber, &inv.Status, &subtotal, &tax, &discount,
		&total, &paid, &inv.IssueDate, &inv.DueDate, &paidDate, &notes,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	inv.ID = fromPgUUID(id)
	inv.ClubID = fromPgUUID(clubID)
	inv.SeasonID = fromPgUUIDPtr(seasonID)
	inv.ParentUserID = fromPgUUID(parentID)
	inv.ChildUserID = fromPgUUID(childID)
	inv.Subtotal = fromPgNumeric(subtotal)
	inv.TaxAmount = fromPgNumeric(tax)
	inv.DiscountAmount = fromPgNumeric(discount)
	inv.TotalAmount = fromPgNumeric(total)
	inv.AmountPaid = fromPgNumeric(paid)
	inv.PaidDate = fromPgTimePtr(paidDate)
	if notes.Valid {
		inv.Notes = notes.String
	}

	return &inv, nil
}

// CountInvoicesByNumberPrefix returns how many invoices in the club carry a
// number starting with the given prefix. Used for the year-scoped sequence
// component of new invoice numbers.
func (s *Store) CountInvoicesByNumberPrefix(ctx context.Context, clubID uuid.UUID, prefix string) (int64, error) {
	const q = `SELECT COUNT(*) FROM invoices WHERE club_id = $1 AND invoice_number LIKE $2 || '%'`

	var count int64
	if err := s.pool.QueryRow(ctx, q, pgUUID(clubID), prefix).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return count, nil
}

// InsertInvoiceWithItems inserts an invoice and its line items in one
// transaction. Returns ErrDuplicateInvoiceNumber when the invoice_number
// unique constraint fires, so the caller can retry with a fresh number.
func (s *Store) InsertInvoiceWithItems(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceItem) error {
	const insertInvoice = `
		INSERT INTO invoices (id, club_id, season_id, parent_user_id, child_user_id,
			invoice_number, status, subtotal, tax_amount, discount_amount,
			total_amount, amount_paid, issue_date, due_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertInvoice,
			pgUUID(inv.ID), pgUUID(inv.ClubID), pgUUIDPtr(inv.SeasonID),
			pgUUID(inv.ParentUserID), pgUUID(inv.ChildUserID),
			inv.InvoiceNumber, string(inv.Status),
			pgNumeric(inv.Subtotal), pgNumeric(inv.TaxAmount),
			pgNumeric(inv.DiscountAmount), pgNumeric(inv.TotalAmount),
			pgNumeric(inv.AmountPaid), inv.IssueDate, inv.DueDate,
			pgText(inv.Notes),
		).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "invoices_invoice_number_key") {
				return ErrDuplicateInvoiceNumber
			}
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		return insertItems(ctx, tx, inv.ID, items)
	})
}

func insertItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.InvoiceItem) error {
	const insertItem = `
		INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for i := range items {
		items[i].InvoiceID = invoiceID
		_, err := tx.Exec(ctx, insertItem,
			pgUUID(items[i].ID), pgUUID(invoiceID), items[i].Description,
			items[i].Quantity, pgNumeric(items[i].UnitPrice), pgNumeric(items[i].TotalPrice))
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}
	return nil
}

// GetInvoice loads the invoice aggregate, items and payments included.
func (s *Store) GetInvoice(ctx context.Context, clubID, id uuid.UUID) (*domain.InvoiceDetail, error) {
	getInvoice := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 AND club_id = $2`

	inv, err := scanInvoice(s.pool.QueryRow(ctx, getInvoice, pgUUID(id), pgUUID(clubID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	detail := &domain.InvoiceDetail{Invoice: *inv}

	if detail.Items, err = s.listItems(ctx, id); err != nil {
		return nil, err
	}
	if detail.Payments, err = s.listPayments(ctx, id); err != nil {
		return nil, err
	}

	return detail, nil
}

func (s *Store) listItems(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceItem, error) {
	const q = `
		SELECT id, invoice_id, description, quantity, unit_price, total_price
		FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, pgUUID(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	var items []domain.InvoiceItem
	for rows.Next() {
		var (
			item            domain.InvoiceItem
			id, invID       pgtype.UUID
			unitPrc, totPrc pgtype.Numeric
		)
		if err := rows.Scan(&id, &invID, &item.Description, &item.Quantity, &unitPrc, &totPrc); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		item.ID = fromPgUUID(id)
		item.InvoiceID = fromPgUUID(invID)
		item.UnitPrice = fromPgNumeric(unitPrc)
		item.TotalPrice = fromPgNumeric(totPrc)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) listPayments(ctx context.Context, invoiceID uuid.UUID) ([]domain.Payment, error) {
	const q = `
		SELECT id, invoice_id, amount, method, reference, paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at, id`

	rows, err := s.pool.Query(ctx, q, pgUUID(invoiceID))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var (
			p         domain.Payment
			id, invID pgtype.UUID
			amount    pgtype.Numeric
			ref       pgtype.Text
		)
		if err := rows.Scan(&id, &invID, &amount, &p.Method, &ref, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.ID = fromPgUUID(id)
		p.InvoiceID = fromPgUUID(invID)
		p.Amount = fromPgNumeric(amount)
		if ref.Valid {
			p.Reference = ref.String
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListInvoiceFilter narrows ListInvoices. Nil fields are not applied.
type ListInvoiceFilter struct {
	Status       *domain.InvoiceStatus
	ParentUserID *uuid.UUID
	Limit        int32
	Offset       int32
}

// ListInvoices returns club invoices newest first.
func (s *Store) ListInvoices(ctx context.Context, clubID uuid.UUID, filter ListInvoiceFilter) ([]domain.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE club_id = $1
		AND ($2::text IS NULL OR status = $2)
		AND ($3::uuid IS NULL OR parent_user_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var status pgtype.Text
	if filter.Status != nil {
		status = pgText(string(*filter.Status))
	}

	rows, err := s.pool.Query(ctx, q, pgUUID(clubID), status, pgUUIDPtr(filter.ParentUserID), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// lockInvoiceStatus locks the invoice row and returns its current status.
func lockInvoiceStatus(ctx context.Context, tx pgx.Tx, clubID, id uuid.UUID) (domain.InvoiceStatus, error) {
	const q = `SELECT status FROM invoices WHERE id = $1 AND club_id = $2 FOR UPDATE`

	var status domain.InvoiceStatus
	if err := tx.QueryRow(ctx, q, pgUUID(id), pgUUID(clubID)).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to lock invoice: %w", err)
	}
	return status, nil
}

// UpdateDraftInvoice rewrites a draft invoice's mutable fields and replaces
// its line items wholesale. Non-draft invoices are rejected with an
// InvalidTransitionError carrying the current status.
func (s *Store) UpdateDraftInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceItem) error {
	const update = `
		UPDATE invoices SET season_id = $3, child_user_id = $4, subtotal = $5,
			tax_amount = $6, discount_amount = $7, total_amount = $8,
			due_date = $9, notes = $10, updated_at = now()
		WHERE id = $1 AND club_id = $2
		RETURNING updated_at`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockInvoiceStatus(ctx, tx, inv.ClubID, inv.ID)
		if err != nil {
			return err
		}
		if status != domain.InvoiceStatusDraft {
			return &InvalidTransitionError{Entity: "invoice", Current: string(status)}
		}

		err = tx.QueryRow(ctx, update,
			pgUUID(inv.ID), pgUUID(inv.ClubID), pgUUIDPtr(inv.SeasonID),
			pgUUID(inv.ChildUserID), pgNumeric(inv.Subtotal),
			pgNumeric(inv.TaxAmount), pgNumeric(inv.DiscountAmount),
			pgNumeric(inv.TotalAmount), inv.DueDate, pgText(inv.Notes),
		).Scan(&inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, pgUUID(inv.ID)); err != nil {
			return fmt.Errorf("failed to clear invoice items: %w", err)
		}

		return insertItems(ctx, tx, inv.ID, items)
	})
}

// DeleteDraftInvoice hard-deletes a draft invoice and its items. Items go
// via ON DELETE CASCADE.
func (s *Store) DeleteDraftInvoice(ctx context.Context, clubID, id uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockInvoiceStatus(ctx, tx, clubID, id)
		if err != nil {
			return err
		}
		if status != domain.InvoiceStatusDraft {
			return &InvalidTransitionError{Entity: "invoice", Current: string(status)}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, pgUUID(id)); err != nil {
			return fmt.Errorf("failed to delete invoice: %w", err)
		}
		return nil
	})
}

// TransitionInvoiceStatus moves an invoice to a new status if and only if
// its current status, read under row lock, is in allowedFrom.
func (s *Store) TransitionInvoiceStatus(ctx context.Context, clubID, id uuid.UUID, to domain.InvoiceStatus, allowedFrom ...domain.InvoiceStatus) (*domain.Invoice, error) {
	update := `UPDATE invoices SET status = $3, updated_at = now()
		WHERE id = $1 AND club_id = $2
		RETURNING ` + invoiceColumns

	var inv *domain.Invoice
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockInvoiceStatus(ctx, tx, clubID, id)
		if err != nil {
			return err
		}
		if !statusAllowed(status, allowedFrom) {
			return &InvalidTransitionError{Entity: "invoice", Current: string(status)}
		}

		inv, err = scanInvoice(tx.QueryRow(ctx, update, pgUUID(id), pgUUID(clubID), string(to)))
		if err != nil {
			return fmt.Errorf("failed to transition invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func statusAllowed(current domain.InvoiceStatus, allowed []domain.InvoiceStatus) bool {
	for _, a := range allowed {
		if current == a {
			return true
		}
	}
	return false
}

// markPaidAllowedFrom lists the statuses a payment confirmation may settle.
// Draft is included so an offline payment recorded before the invoice is
// published still lands.
var markPaidAllowedFrom = []domain.InvoiceStatus{
	domain.InvoiceStatusDraft,
	domain.InvoiceStatusPending,
	domain.InvoiceStatusOverdue,
}

// MarkInvoicePaidParams records one payment against an invoice.
type MarkInvoicePaidParams struct {
	Amount    decimal.Decimal
	Method    string
	Reference string
	PaidAt    time.Time
}

// MarkInvoicePaid transitions a draft, pending or overdue invoice to paid
// and appends the payment row, all in one transaction.
func (s *Store) MarkInvoicePaid(ctx context.Context, clubID, id uuid.UUID, p MarkInvoicePaidParams) (*domain.Invoice, error) {
	update := `UPDATE invoices SET status = $3, amount_paid = amount_paid + $4,
			paid_date = $5, updated_at = now()
		WHERE id = $1 AND club_id = $2
		RETURNING ` + invoiceColumns

	const insertPayment = `
		INSERT INTO payments (id, invoice_id, amount, method, reference, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var inv *domain.Invoice
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockInvoiceStatus(ctx, tx, clubID, id)
		if err != nil {
			return err
		}
		if !statusAllowed(status, markPaidAllowedFrom) {
			return &InvalidTransitionError{Entity: "invoice", Current: string(status)}
		}

		inv, err = scanInvoice(tx.QueryRow(ctx, update,
			pgUUID(id), pgUUID(clubID), string(domain.InvoiceStatusPaid),
			pgNumeric(p.Amount), p.PaidAt))
		if err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}

		_, err = tx.Exec(ctx, insertPayment,
			pgUUID(uuid.New()), pgUUID(id), pgNumeric(p.Amount),
			p.Method, pgText(p.Reference), p.PaidAt)
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkOverdueInvoices flips every pending invoice past its due date to
// overdue in a single statement, which makes the sweep naturally idempotent.
func (s *Store) MarkOverdueInvoices(ctx context.Context, clubID uuid.UUID, asOf time.Time) (int64, error) {
	const q = `
		UPDATE invoices SET status = $3, updated_at = now()
		WHERE club_id = $1 AND status = $2 AND due_date < $4`

	tag, err := s.pool.Exec(ctx, q, pgUUID(clubID),
		string(domain.InvoiceStatusPending), string(domain.InvoiceStatusOverdue), asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindInvoiceByID looks an invoice up without club scoping. Webhooks carry
// the invoice UUID in provider metadata and have no club context.
func (s *Store) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(s.pool.QueryRow(ctx, q, pgUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	return inv, nil
}
