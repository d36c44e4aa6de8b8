package importelem

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStateKeeper persists slot names in a single `kv` table, the same
// database/sql + modernc.org/sqlite shape snapetech-plexTuner uses for its
// own SQLite access.
type SQLiteStateKeeper struct {
	db *sql.DB
	ns string
}

// NewSQLiteStateKeeper opens (creating if needed) a SQLite database at
// path and scopes every row to namespace ns, so one database file can back
// several import elements.
func NewSQLiteStateKeeper(path, ns string) (*SQLiteStateKeeper, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("importelem: open state db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("importelem: create kv table: %w", err)
	}
	return &SQLiteStateKeeper{db: db, ns: ns}, nil
}

func (k *SQLiteStateKeeper) Save(name string) error {
	_, err := k.db.Exec(`INSERT INTO kv (namespace, key, value) VALUES (?, ?, '')
		ON CONFLICT(namespace, key) DO NOTHING`, k.ns, name)
	return err
}

func (k *SQLiteStateKeeper) Delete(name string) error {
	_, err := k.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, k.ns, name)
	return err
}

func (k *SQLiteStateKeeper) LoadAll() ([]string, error) {
	rows, err := k.db.Query(`SELECT key FROM kv WHERE namespace = ?`, k.ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (k *SQLiteStateKeeper) Close() error { return k.db.Close() }
