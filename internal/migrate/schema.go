package migrate

import (
	"database/sql"
	"fmt"

	"map-api/internal/logger"
	"map-api/internal/utils"
)

// 背景：首次运行自动创建同步日志表与汇总表，Postgres 与 SQLite 共用同一组语句，仅主键写法不同
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；时间统一存 unix 秒，避免两种驱动的时间类型差异
func EnsureSchema(db *sql.DB, driver string) error {
	var pk string
	switch driver {
	case utils.DriverPostgres:
		pk = "id BIGSERIAL PRIMARY KEY"
	case utils.DriverSQLite:
		pk = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _map_sync_log (
            ` + pk + `,
            category TEXT NOT NULL,
            mode TEXT NOT NULL,
            seq BIGINT NOT NULL,
            added INT NOT NULL DEFAULT 0,
            updated INT NOT NULL DEFAULT 0,
            rejected INT NOT NULL DEFAULT 0,
            watermark BIGINT NOT NULL DEFAULT 0,
            applied_at BIGINT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_map_sync_log_cat_applied ON _map_sync_log(category, applied_at)`,
		`CREATE TABLE IF NOT EXISTS _map_sync_totals (
            category TEXT PRIMARY KEY,
            syncs BIGINT NOT NULL DEFAULT 0,
            added BIGINT NOT NULL DEFAULT 0,
            updated BIGINT NOT NULL DEFAULT 0,
            rejected BIGINT NOT NULL DEFAULT 0,
            last_watermark BIGINT NOT NULL DEFAULT 0,
            last_applied_at BIGINT NOT NULL DEFAULT 0
        )`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i, "driver", driver)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done", "driver", driver)
	return nil
}
