package stock

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hotplate/takeaway/internal/faults"
)

// PgLedger is the durable ledger. Row locks are taken in ascending item-id
// order so two concurrent reservations can never deadlock, and the whole
// claim commits or rolls back as one transaction.
type PgLedger struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

func (p *PgLedger) Reserve(ctx context.Context, orderID string, lines []LineReq) (Reservation, error) {
	if len(lines) == 0 {
		return Reservation{}, faults.New(faults.Validation, "reservation needs at least one line")
	}
	sorted := append([]LineReq(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, err
	}
	defer tx.Rollback(ctx)

	if err := p.expireTx(ctx, tx); err != nil {
		return Reservation{}, err
	}

	var violations []faults.Violation
	for _, l := range sorted {
		var available, reserved int
		err := tx.QueryRow(ctx,
			`SELECT available, reserved FROM stock_items WHERE item_id=$1 FOR UPDATE`,
			l.ItemID).Scan(&available, &reserved)
		if err == pgx.ErrNoRows {
			violations = append(violations, faults.Violation{Ref: l.ItemID, Reason: "unknown item", Required: l.Qty})
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		if available-reserved < l.Qty {
			violations = append(violations, faults.Violation{
				Ref: l.ItemID, Reason: "insufficient stock", Required: l.Qty, Available: available - reserved,
			})
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE stock_items SET reserved = reserved + $2 WHERE item_id=$1`,
			l.ItemID, l.Qty); err != nil {
			return Reservation{}, err
		}
	}
	if len(violations) > 0 {
		// rollback via defer: no partial reservation ever lands
		return Reservation{}, faults.New(faults.Availability, "stock unavailable").WithViolations(violations...)
	}

	now := time.Now().UTC()
	res := Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Lines:     lines,
		Status:    ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(p.TTL),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(id, order_id, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)`,
		res.ID, res.OrderID, string(res.Status), res.CreatedAt, res.ExpiresAt); err != nil {
		return Reservation{}, err
	}
	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservation_lines(reservation_id, item_id, qty)
			VALUES ($1,$2,$3)`,
			res.ID, l.ItemID, l.Qty); err != nil {
			return Reservation{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (p *PgLedger) Release(ctx context.Context, reservationID string) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status, err := p.lockStatus(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	switch ReservationStatus(status) {
	case ReservationReleased:
		return nil
	case ReservationConsumed:
		return faults.New(faults.StateTransition, "reservation already consumed")
	}
	if err := p.returnLines(ctx, tx, reservationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status=$2 WHERE id=$1`,
		reservationID, string(ReservationReleased)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PgLedger) Consume(ctx context.Context, reservationID string) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status, err := p.lockStatus(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if ReservationStatus(status) != ReservationActive {
		return faults.Newf(faults.StateTransition, "reservation is %s, not active", status)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE stock_items s
		SET available = s.available - rl.qty, reserved = s.reserved - rl.qty
		FROM reservation_lines rl
		WHERE rl.reservation_id=$1 AND rl.item_id = s.item_id`,
		reservationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status=$2 WHERE id=$1`,
		reservationID, string(ReservationConsumed)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PgLedger) Entry(ctx context.Context, itemID string) (Entry, error) {
	var e Entry
	e.ItemID = itemID
	err := p.DB.QueryRow(ctx,
		`SELECT available, reserved FROM stock_items WHERE item_id=$1`,
		itemID).Scan(&e.Available, &e.Reserved)
	if err == pgx.ErrNoRows {
		return Entry{}, faults.Newf(faults.Validation, "item %s not tracked", itemID)
	}
	return e, err
}

func (p *PgLedger) lockStatus(ctx context.Context, tx pgx.Tx, reservationID string) (string, error) {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM reservations WHERE id=$1 FOR UPDATE`,
		reservationID).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", faults.Newf(faults.Validation, "reservation %s not found", reservationID)
	}
	return status, err
}

func (p *PgLedger) returnLines(ctx context.Context, tx pgx.Tx, reservationID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE stock_items s
		SET reserved = s.reserved - rl.qty
		FROM reservation_lines rl
		WHERE rl.reservation_id=$1 AND rl.item_id = s.item_id`,
		reservationID)
	return err
}

// expireTx releases active reservations past their grace window before a
// new claim is attempted.
func (p *PgLedger) expireTx(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `
		SELECT id FROM reservations
		WHERE status=$1 AND expires_at < now()
		FOR UPDATE SKIP LOCKED`,
		string(ReservationActive))
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := p.returnLines(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET status=$2 WHERE id=$1`,
			id, string(ReservationReleased)); err != nil {
			return err
		}
	}
	return nil
}
