package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Scan is the journal entry of a single scan request. The report itself
// is ephemeral, only host, port count and the outcome are kept.
type Scan struct {
	UUID          string
	Host          string
	Requested     int
	StartedAt     time.Time
	InProgress    bool
	Success       *bool
	OpenCount     *int
	FailureReason *string
}

type ScanRow struct {
	Scan
	ID int
}

func (s ScanRow) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("uuid: %q, host: %q, requested: %d, in_progress: %t",
		s.UUID, s.Host, s.Requested, s.InProgress))
	if s.Success != nil {
		sb.WriteString(fmt.Sprintf(", success: %t", *s.Success))
	} else {
		sb.WriteString(", success: nil")
	}
	if s.OpenCount != nil {
		sb.WriteString(fmt.Sprintf(", open_count: %d", *s.OpenCount))
	} else {
		sb.WriteString(", open_count: nil")
	}
	if s.FailureReason != nil {
		sb.WriteString(fmt.Sprintf(", failure_reason: %q", *s.FailureReason))
	} else {
		sb.WriteString(", failure_reason: nil")
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			host TEXT NOT NULL,
			requested INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			open_count INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

type TxCallback = func(ctx context.Context, tx *sql.Tx) error

func Tx(ctx context.Context, db *sql.DB, fn TxCallback) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("Calling `tx.Rollback()` failed.", slog.String("err", err.Error()))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}

	return nil
}

// Start persists, on success, information that a scan identified by 'uuid'
// against 'host' with 'requested' ports is in progress.
// If a scan identified by `uuid` is still in progress, no error is returned,
// if it has already finished ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, uuid, host string, requested int) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var scanRow ScanRow
		row := tx.QueryRowContext(ctx,
			`SELECT in_progress FROM scans WHERE uuid=?`, uuid,
		)
		err := row.Scan(&scanRow.InProgress)
		switch {
		case err == nil && scanRow.InProgress:
			return nil
		case err == nil && !scanRow.InProgress:
			return ErrAlreadyFinished
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("executing sql query failed: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO scans (uuid, host, requested, started_at, in_progress) VALUES (?,?,?,?,?);`,
			uuid, host, requested, time.Now().UTC().Format(time.RFC3339), true,
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}

		return nil
	})
}

// Get returns info about a scan identified by 'uuid' on success,
// ErrNotFound when scan identified by 'uuid' does not exist,
// error otherwise.
func Get(ctx context.Context, db *sql.DB, uuid string) (ScanRow, error) {
	var scanRow ScanRow
	txErr := Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT * FROM scans WHERE uuid=?`, uuid,
		)
		var startedAt string
		err := row.Scan(
			&scanRow.ID,
			&scanRow.UUID,
			&scanRow.Host,
			&scanRow.Requested,
			&startedAt,
			&scanRow.InProgress,
			&scanRow.Success,
			&scanRow.OpenCount,
			&scanRow.FailureReason,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("executing sql query failed: %w", err)
		}

		scanRow.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return fmt.Errorf("parsing started_at failed: %w", err)
		}

		return nil
	})
	return scanRow, txErr
}

// List returns up to 'limit' most recent scans, newest first.
func List(ctx context.Context, db *sql.DB, limit int) ([]ScanRow, error) {
	var ret []ScanRow
	txErr := Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT * FROM scans ORDER BY id DESC LIMIT ?`, limit,
		)
		if err != nil {
			return fmt.Errorf("executing sql query failed: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			var scanRow ScanRow
			var startedAt string
			err := rows.Scan(
				&scanRow.ID,
				&scanRow.UUID,
				&scanRow.Host,
				&scanRow.Requested,
				&startedAt,
				&scanRow.InProgress,
				&scanRow.Success,
				&scanRow.OpenCount,
				&scanRow.FailureReason,
			)
			if err != nil {
				return fmt.Errorf("scanning sql row failed: %w", err)
			}
			scanRow.StartedAt, err = time.Parse(time.RFC3339, startedAt)
			if err != nil {
				return fmt.Errorf("parsing started_at failed: %w", err)
			}
			ret = append(ret, scanRow)
		}
		return rows.Err()
	})
	return ret, txErr
}

// FinishOK on success stores information that scan, identified by 'uuid',
// has finished successfully and stores the open port count with it,
// if the scan has already finished, ErrAlreadyFinished is returned,
// if the scan doesn't exist, ErrNotFound is returned,
// error otherwise.
func FinishOK(ctx context.Context, db *sql.DB, uuid string, openCount int) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if err := checkIsInProgress(ctx, tx, uuid); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE scans
			 SET
				in_progress = false,
				success = true,
				open_count = ?
			WHERE uuid = ?;
			`, openCount, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}

		return nil
	})
}

// FinishErr stores information that scan, identified by 'uuid', has failed
// and stores the failure reason with it,
// if the scan has already finished, ErrAlreadyFinished is returned,
// if the scan doesn't exist, ErrNotFound is returned,
// error otherwise.
func FinishErr(ctx context.Context, db *sql.DB, uuid, reason string) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if err := checkIsInProgress(ctx, tx, uuid); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE scans
			 SET
				in_progress = false,
				success = false,
				failure_reason = ?
			WHERE uuid = ?;
			`, reason, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}

		return nil
	})
}

func checkIsInProgress(ctx context.Context, tx *sql.Tx, uuid string) error {
	var scanRow ScanRow
	row := tx.QueryRowContext(ctx,
		`SELECT in_progress FROM scans WHERE uuid=?`, uuid,
	)
	err := row.Scan(&scanRow.InProgress)
	switch {
	case err == nil && !scanRow.InProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}
	return nil
}

// Delete deletes scan identified by 'uuid' on success,
// ErrNotFound when scan identified by 'uuid' does not exist,
// error otherwise.
func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM scans WHERE uuid=?`, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql delete failed: %w", err)
		}

		ra, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("fetching affected rows failed: %w", err)
		}
		if ra != 1 {
			return ErrNotFound
		}

		return nil
	})
}
