package rollupdb

import "database/sql"

// stdlibOpen opens a database/sql.DB over the registered "pgx" driver for
// sqlx, which needs the database/sql interface rather than pgxpool's native
// one. Connection pooling for this handle stays modest since it backs named
// upserts only; the pgxpool.Pool above does the heavy lifting.
func stdlibOpen(dsn string) *sql.DB {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		// sql.Open only fails on a malformed driver name, which is a
		// programmer error here, not a runtime condition to recover from.
		panic(err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db
}
