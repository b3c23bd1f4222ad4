package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/models"
)

const presenceNotifyChannel = "presence_changed"

const presenceSchema = `CREATE TABLE IF NOT EXISTS presence (
	user_id    TEXT PRIMARY KEY,
	doc        JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresPresenceRepository stores each document as JSONB.
// The top-level `||` operator gives merge-write semantics.
type PostgresPresenceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPresenceRepository(pool *pgxpool.Pool) *PostgresPresenceRepository {
	return &PostgresPresenceRepository{pool: pool}
}

func (r *PostgresPresenceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, presenceSchema); err != nil {
		return fmt.Errorf("failed to create presence table: %w", err)
	}
	return nil
}

func (r *PostgresPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	query := `SELECT doc FROM presence WHERE user_id = $1`

	var doc []byte
	err := r.pool.QueryRow(ctx, query, userID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.UserPresence
	if err := json.Unmarshal(doc, &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	presence.UserID = userID
	return &presence, nil
}

// MergePresence upserts the patch and notifies listeners in the same transaction,
// so the notification is only delivered once the write is visible.
func (r *PostgresPresenceRepository) MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error {
	if patch.IsEmpty() {
		return nil
	}
	doc, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal presence patch: %w", err)
	}

	err = r.mergeTx(ctx, userID, doc)
	if err != nil {
		metrics.PresenceWritesTotal.WithLabelValues("postgres", "failure").Inc()
		return err
	}
	metrics.PresenceWritesTotal.WithLabelValues("postgres", "success").Inc()
	return nil
}

func (r *PostgresPresenceRepository) mergeTx(ctx context.Context, userID string, doc []byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin presence merge: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO presence (user_id, doc)
	          VALUES ($1, $2::jsonb)
	          ON CONFLICT (user_id) DO UPDATE
	          SET doc = presence.doc || EXCLUDED.doc,
	              updated_at = NOW()`
	if _, err := tx.Exec(ctx, query, userID, string(doc)); err != nil {
		return fmt.Errorf("failed to merge presence: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, presenceNotifyChannel, userID); err != nil {
		return fmt.Errorf("failed to notify presence change: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit presence merge: %w", err)
	}
	return nil
}

// Watch holds one pooled connection in LISTEN for the life of the stream.
// A dropped connection is re-acquired with backoff and the document re-read.
func (r *PostgresPresenceRepository) Watch(ctx context.Context, userID string) (PresenceStream, error) {
	conn, err := r.listen(ctx)
	if err != nil {
		return nil, err
	}

	stream, streamCtx := NewChannelStream(ctx)
	go func() {
		defer func() {
			if conn != nil {
				r.unlisten(conn)
			}
		}()

		reconnect := backoff.NewExponentialBackOff()
		reconnect.MaxElapsedTime = 0

		for {
			if err := r.sendSnapshot(streamCtx, stream, userID); err != nil {
				stream.Finish(streamCtx, err)
				return
			}

			err := r.waitForUser(streamCtx, conn, userID, func() error {
				return r.sendSnapshot(streamCtx, stream, userID)
			})
			if streamCtx.Err() != nil {
				stream.Finish(streamCtx, nil)
				return
			}
			glog.Warningf("[presence]listen %s error = %s\n", userID, err)
			r.unlisten(conn)
			conn = nil

			for conn == nil {
				select {
				case <-streamCtx.Done():
					stream.Finish(streamCtx, nil)
					return
				case <-time.After(reconnect.NextBackOff()):
				}
				conn, err = r.listen(streamCtx)
				if err != nil {
					glog.Warningf("[presence]relisten %s error = %s\n", userID, err)
				}
			}
			reconnect.Reset()
		}
	}()
	return stream, nil
}

func (r *PostgresPresenceRepository) waitForUser(ctx context.Context, conn *pgxpool.Conn, userID string, onChange func() error) error {
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if notification.Payload != userID {
			continue
		}
		if err := onChange(); err != nil {
			return err
		}
	}
}

func (r *PostgresPresenceRepository) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+presenceNotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for presence: %w", err)
	}
	return conn, nil
}

func (r *PostgresPresenceRepository) unlisten(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// Do not hand a connection with a live LISTEN back to the pool.
		conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}

func (r *PostgresPresenceRepository) sendSnapshot(ctx context.Context, stream *ChannelStream, userID string) error {
	snap := models.PresenceSnapshot{UserID: userID}
	presence, err := r.GetPresence(ctx, userID)
	switch {
	case err == nil:
		snap.Presence = presence
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	if !stream.Send(ctx, snap) {
		return ctx.Err()
	}
	return nil
}
