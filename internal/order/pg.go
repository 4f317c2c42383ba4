package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/money"
)

// PgStore persists orders across three tables: orders, order_lines and
// status_history. The price breakdown is stored as jsonb since it is
// written once at placement and only ever read back whole.
type PgStore struct {
	DB *pgxpool.Pool
}

func (s *PgStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback(ctx)

	breakdown, err := json.Marshal(o.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, breakdown, discount_code, points_redeemed,
			points_earned, reservation_id, payment_ref, amount_paid_cents,
			status, scheduled_for, cancel_reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.CustomerID, breakdown, o.DiscountCode, o.PointsRedeemed,
		o.PointsEarned, o.ReservationID, o.PaymentRef, int64(o.AmountPaid),
		string(o.Status), o.ScheduledFor, o.CancelReason, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	for i, l := range o.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, position, item_id, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, i, l.ItemID, l.Name, l.Qty, int64(l.UnitPrice))
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	for _, h := range o.History {
		if err := insertHistory(ctx, tx, o.ID, h); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, id string) (Order, error) {
	var (
		o          Order
		breakdown  []byte
		status     string
		amountPaid int64
		scheduled  *time.Time
	)
	err := s.DB.QueryRow(ctx, `
		SELECT id, customer_id, breakdown, discount_code, points_redeemed,
		       points_earned, reservation_id, payment_ref, amount_paid_cents,
		       status, scheduled_for, cancel_reason, created_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.CustomerID, &breakdown, &o.DiscountCode, &o.PointsRedeemed,
		&o.PointsEarned, &o.ReservationID, &o.PaymentRef, &amountPaid,
		&status, &scheduled, &o.CancelReason, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, faults.Newf(faults.Validation, "order %s not found", id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order %s: %w", id, err)
	}
	if err := json.Unmarshal(breakdown, &o.Breakdown); err != nil {
		return Order{}, fmt.Errorf("decode breakdown for %s: %w", id, err)
	}
	o.Status = Status(status)
	o.AmountPaid = money.Cents(amountPaid)
	o.ScheduledFor = scheduled

	rows, err := s.DB.Query(ctx, `
		SELECT item_id, name, qty, unit_price_cents
		FROM order_lines WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return Order{}, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		var unit int64
		if err := rows.Scan(&l.ItemID, &l.Name, &l.Qty, &unit); err != nil {
			return Order{}, fmt.Errorf("scan order line: %w", err)
		}
		l.UnitPrice = money.Cents(unit)
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	hrows, err := s.DB.Query(ctx, `
		SELECT status, at, note
		FROM status_history WHERE order_id = $1 ORDER BY at, id`, id)
	if err != nil {
		return Order{}, fmt.Errorf("select status history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var h HistoryEntry
		var st string
		if err := hrows.Scan(&st, &h.At, &h.Note); err != nil {
			return Order{}, fmt.Errorf("scan status history: %w", err)
		}
		h.Status = Status(st)
		o.History = append(o.History, h)
	}
	return o, hrows.Err()
}

// Update rewrites the mutable columns and appends any history entries not
// yet persisted. Lines and the breakdown are immutable after placement.
func (s *PgStore) Update(ctx context.Context, o *Order) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update order: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, reservation_id = $3, cancel_reason = $4,
		       points_earned = $5
		WHERE id = $1`,
		o.ID, string(o.Status), o.ReservationID, o.CancelReason, o.PointsEarned)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.Validation, "order %s not found", o.ID)
	}

	var have int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM status_history WHERE order_id = $1`, o.ID).Scan(&have); err != nil {
		return fmt.Errorf("count status history: %w", err)
	}
	for _, h := range o.History[have:] {
		if err := insertHistory(ctx, tx, o.ID, h); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) HasOrders(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)`, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check customer orders: %w", err)
	}
	return exists, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, orderID string, h HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO status_history (order_id, status, at, note)
		VALUES ($1,$2,$3,$4)`, orderID, string(h.Status), h.At, h.Note)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}
