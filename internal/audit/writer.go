package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"program-trader/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Evaluation is one audit row: what fired, what came back, and how it was
// resolved. One row per trigger that reached a worker.
type Evaluation struct {
	Time         time.Time
	InvocationID string
	Account      string
	Strategy     string
	TriggerType  string
	Symbol       string
	PoolName     string
	Operation    string
	Fault        string
	Reason       string
	StepsUsed    int64
	ElapsedMS    float64
	Dispatched   bool
}

// LogLine is one captured strategy log line, attributed to its invocation.
type LogLine struct {
	Time         time.Time
	InvocationID string
	Seq          int
	Line         string
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	evaluations chan Evaluation
	logs        chan LogLine
	started     atomic.Bool
	dropEval    atomic.Uint64
	dropLog     atomic.Uint64
}

func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		evaluations: make(chan Evaluation, queueSize),
		logs:        make(chan LogLine, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueEvaluation never blocks the evaluation path; rows are dropped when
// the queue is full.
func (w *Writer) EnqueueEvaluation(row Evaluation) {
	if w == nil {
		return
	}
	select {
	case w.evaluations <- row:
		return
	default:
		if w.dropEval.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit evaluation queue full")
		}
	}
}

func (w *Writer) EnqueueLogs(invocationID string, at time.Time, lines []string) {
	if w == nil {
		return
	}
	for i, line := range lines {
		row := LogLine{Time: at, InvocationID: invocationID, Seq: i, Line: line}
		select {
		case w.logs <- row:
		default:
			if w.dropLog.Add(1) == 1 && w.log != nil {
				w.log.Warn("audit log queue full")
			}
			return
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.evaluations:
			w.writeEvaluation(ctx, row)
		case row := <-w.logs:
			w.writeLogLine(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		invocation_id TEXT NOT NULL,
		account TEXT NOT NULL,
		strategy TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		pool_name TEXT NOT NULL,
		operation TEXT NOT NULL,
		fault TEXT NOT NULL,
		reason TEXT NOT NULL,
		steps_used BIGINT NOT NULL,
		elapsed_ms DOUBLE PRECISION NOT NULL,
		dispatched BOOLEAN NOT NULL
	)`, w.table("evaluations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		invocation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		line TEXT NOT NULL
	)`, w.table("strategy_logs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"evaluations", "strategy_logs"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("audit hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeEvaluation(ctx context.Context, row Evaluation) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, invocation_id, account, strategy, trigger_type, symbol, pool_name,
		operation, fault, reason, steps_used, elapsed_ms, dispatched
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("evaluations"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.InvocationID,
		row.Account,
		row.Strategy,
		row.TriggerType,
		row.Symbol,
		row.PoolName,
		row.Operation,
		row.Fault,
		row.Reason,
		row.StepsUsed,
		row.ElapsedMS,
		row.Dispatched,
	); err != nil && w.log != nil {
		w.log.Warn("audit evaluation insert failed", zap.Error(err))
	}
}

func (w *Writer) writeLogLine(ctx context.Context, row LogLine) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, invocation_id, seq, line) VALUES ($1,$2,$3,$4)`, w.table("strategy_logs"))
	if _, err := w.db.ExecContext(ctx, query, row.Time, row.InvocationID, row.Seq, row.Line); err != nil && w.log != nil {
		w.log.Warn("audit log insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
