// 包 store：同步日志的数据访问层；记录每次快照合并的结果并维护按类别的累计值
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"map-api/internal/logger"
	"map-api/internal/metrics"
	"map-api/internal/reconcile"
	"map-api/internal/utils"
)

// Store：数据库访问入口，持有连接池与方言
type Store struct {
	db     *sql.DB
	driver string
}

func AttachDB(db *sql.DB, driver string) *Store { return &Store{db: db, driver: driver} }

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// rebind：语句统一用 ? 书写，Postgres 下改写为 $n
func (s *Store) rebind(q string) string {
	if s.driver != utils.DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// 文档注释：记录一次合并结果
// 背景：追加一行日志并累加类别汇总；失败只影响审计数据，不影响内存状态，由调用方记录告警。
// 约束：水位线只在新值更大时覆盖，与内存中的只进不退保持一致。
func (s *Store) Record(ctx context.Context, d reconcile.Delta) error {
	at := d.AppliedAt.Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.JournalErrorsTotal.Inc()
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO _map_sync_log(category, mode, seq, added, updated, rejected, watermark, applied_at)
        VALUES(?,?,?,?,?,?,?,?)`),
		d.Category, string(d.Mode), int64(d.Seq), d.Added, d.Updated, d.Rejected, d.Watermark, at); err != nil {
		metrics.JournalErrorsTotal.Inc()
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO _map_sync_totals(category, syncs, added, updated, rejected, last_watermark, last_applied_at)
        VALUES(?, 1, ?, ?, ?, ?, ?)
        ON CONFLICT (category) DO UPDATE SET
            syncs=_map_sync_totals.syncs+1,
            added=_map_sync_totals.added+EXCLUDED.added,
            updated=_map_sync_totals.updated+EXCLUDED.updated,
            rejected=_map_sync_totals.rejected+EXCLUDED.rejected,
            last_watermark=CASE WHEN EXCLUDED.last_watermark > _map_sync_totals.last_watermark THEN EXCLUDED.last_watermark ELSE _map_sync_totals.last_watermark END,
            last_applied_at=EXCLUDED.last_applied_at`),
		d.Category, d.Added, d.Updated, d.Rejected, d.Watermark, at); err != nil {
		metrics.JournalErrorsTotal.Inc()
		return err
	}
	if err := tx.Commit(); err != nil {
		metrics.JournalErrorsTotal.Inc()
		return err
	}
	logger.L().Debug("journal_record", "category", d.Category, "mode", string(d.Mode), "seq", d.Seq)
	return nil
}

// Totals：类别累计值
type Totals struct {
	Category      string `json:"category"`
	Syncs         int64  `json:"syncs"`
	Added         int64  `json:"added"`
	Updated       int64  `json:"updated"`
	Rejected      int64  `json:"rejected"`
	LastWatermark int64  `json:"last_watermark"`
	LastAppliedAt int64  `json:"last_applied_at"`
}

// GetTotals：按类别名排序返回累计值
func (s *Store) GetTotals(ctx context.Context) ([]Totals, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, syncs, added, updated, rejected, last_watermark, last_applied_at
        FROM _map_sync_totals ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Totals
	for rows.Next() {
		var t Totals
		if err := rows.Scan(&t.Category, &t.Syncs, &t.Added, &t.Updated, &t.Rejected, &t.LastWatermark, &t.LastAppliedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	logger.L().Debug("journal_totals", "categories", len(out))
	return out, rows.Err()
}

// Entry：单条同步日志
type Entry struct {
	Category  string `json:"category"`
	Mode      string `json:"mode"`
	Seq       int64  `json:"seq"`
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
	Rejected  int    `json:"rejected"`
	Watermark int64  `json:"watermark"`
	AppliedAt int64  `json:"applied_at"`
}

// Recent：最近的同步日志，新的在前；limit<=0 时取 50
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT category, mode, seq, added, updated, rejected, watermark, applied_at
        FROM _map_sync_log ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Category, &e.Mode, &e.Seq, &e.Added, &e.Updated, &e.Rejected, &e.Watermark, &e.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
