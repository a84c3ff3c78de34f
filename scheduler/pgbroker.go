package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kombat-farm-bot/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DefaultChannel = "kombat_schedules"

// ReconnectDelay is the pause between attempts to restore a lost listener.
var ReconnectDelay = 2 * time.Second

// PGBroker carries schedule events over Postgres LISTEN/NOTIFY so stores in
// different processes see each other's changes.
type PGBroker struct {
	Pool    *pgxpool.Pool
	Channel string

	log zerolog.Logger
}

func NewPGBroker(ctx context.Context, dsn string) (*PGBroker, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open event broker: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping event broker: %w", err)
	}
	return &PGBroker{
		Pool:    pool,
		Channel: DefaultChannel,
		log:     logging.For(logging.Scheduler),
	}, nil
}

func (b *PGBroker) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
}

func (b *PGBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.Pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.Channel, string(payload))
	return err
}

func (b *PGBroker) Subscribe(ctx context.Context, fn func(Event)) (func(), error) {
	conn, err := b.listen(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.loop(ctx, conn, fn)
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (b *PGBroker) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := b.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.Channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", b.Channel, err)
	}
	return conn, nil
}

func (b *PGBroker) loop(ctx context.Context, conn *pgxpool.Conn, fn func(Event)) {
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error().Err(err).Msg("event broker connection lost, reconnecting")
			conn.Release()
			if conn = b.reconnect(ctx); conn == nil {
				return
			}
			fn(Event{Type: EventResync})
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			b.log.Warn().Err(err).Str("payload", n.Payload).Msg("bad schedule event")
			continue
		}
		fn(ev)
	}
}

// reconnect retries LISTEN until it succeeds. It returns nil once ctx is done.
func (b *PGBroker) reconnect(ctx context.Context) *pgxpool.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ReconnectDelay):
		}
		conn, err := b.listen(ctx)
		if err == nil {
			b.log.Info().Msg("event broker reconnected")
			return conn
		}
		b.log.Error().Err(err).Msg("event broker reconnect failed")
	}
}

var _ Broker = (*PGBroker)(nil)
var _ Broker = (*LocalBroker)(nil)
