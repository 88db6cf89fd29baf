// 包 utils：数据库与 Redis 连接工具，统一环境变量读取
package utils

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// 同步日志支持的驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

func BuildPostgresDSNFromEnv() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "mapapi"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func OpenPostgresFromEnv() (*sql.DB, error) {
	db, err := OpenPostgres(BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			db.SetMaxOpenConns(n)
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			db.SetMaxIdleConns(n)
		}
	}
	return db, nil
}

// OpenSQLite：打开嵌入式 SQLite；单连接串行写入，:memory: 也因此共享同一个库
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		path += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// OpenJournal：按驱动名打开同步日志库；postgres 的连接参数来自 PG_* 环境变量
func OpenJournal(driver, sqlitePath string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgresFromEnv()
	case DriverSQLite:
		return OpenSQLite(sqlitePath)
	}
	return nil, fmt.Errorf("unsupported journal driver %q", driver)
}
