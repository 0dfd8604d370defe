package store

import (
	"database/sql"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"

	_ "github.com/mattn/go-sqlite3"
)

var SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS package (
	id TEXT NOT NULL PRIMARY KEY,
	topology TEXT NOT NULL,
	anchor_value TEXT NOT NULL,
	outcome TEXT NOT NULL,
	created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS draft (
	package_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	draft_txid TEXT NOT NULL,
	broadcast_txid TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	confirm_height INTEGER NOT NULL DEFAULT 0,
	hex TEXT NOT NULL,
	PRIMARY KEY (package_id, seq)
);

CREATE INDEX IF NOT EXISTS draft_broadcast_i ON draft (broadcast_txid);

CREATE TABLE IF NOT EXISTS chainpos (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	best_hash TEXT NOT NULL,
	best_height INTEGER NOT NULL
);
`

// interface guard ensures SQLiteStore implements bump.Store
var _ bump.Store = SQLiteStore{}
var _ bump.StoreTransaction = &SQLiteStoreTransaction{}

type SQLiteStore struct {
	db *sql.DB
}

type SQLiteStoreTransaction struct {
	tx       *sql.Tx
	finished bool
}

// Queryable is the common query surface of sql.DB and sql.Tx, so reads
// can be shared between the store and its transactions.
type Queryable interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

// NewSQLiteStore returns a bump.Store implementor that uses sqlite
func NewSQLiteStore(fileName string) (SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return SQLiteStore{}, dbErr(err, "opening database")
	}
	// sqlite will happily open the same file from two connections and
	// corrupt writes; a single connection serialises everything.
	db.SetMaxOpenConns(1)
	_, err = db.Exec(SETUP_SQL)
	if err != nil {
		return SQLiteStore{}, dbErr(err, "creating tables")
	}
	return SQLiteStore{db}, nil
}

// Defer this until shutdown
func (s SQLiteStore) Close() {
	s.db.Close()
}

func (s SQLiteStore) Begin() (bump.StoreTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return &SQLiteStoreTransaction{}, dbErr(err, "beginning transaction")
	}
	return &SQLiteStoreTransaction{tx: tx}, nil
}

func (s SQLiteStore) GetPackage(id string) (*bump.Package, error) {
	return getPackage(s.db, id)
}

func (s SQLiteStore) ListActivePackages() ([]*bump.Package, error) {
	return listActivePackages(s.db)
}

func (s SQLiteStore) GetChainPos() (bump.ChainPos, error) {
	return getChainPos(s.db)
}

func (t *SQLiteStoreTransaction) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		return dbErr(err, "committing transaction")
	}
	t.finished = true
	return nil
}

// Rollback is safe to call after Commit (deferred rollback idiom).
func (t *SQLiteStoreTransaction) Rollback() error {
	if t.finished {
		return nil
	}
	return t.tx.Rollback()
}

func (t *SQLiteStoreTransaction) GetPackage(id string) (*bump.Package, error) {
	return getPackage(t.tx, id)
}

func (t *SQLiteStoreTransaction) ListActivePackages() ([]*bump.Package, error) {
	return listActivePackages(t.tx)
}

func (t *SQLiteStoreTransaction) CreatePackage(p *bump.Package) error {
	_, err := t.tx.Exec(
		"INSERT INTO package (id, topology, anchor_value, outcome, created) VALUES (?,?,?,?,?)",
		p.ID, p.Topology.String(), p.Anchor.String(), string(p.Outcome), time.Now().Unix())
	if err != nil {
		return dbErr(err, "inserting package "+p.ID)
	}
	for i, d := range p.Drafts {
		h, err := d.Hex()
		if err != nil {
			return err
		}
		_, err = t.tx.Exec(
			"INSERT INTO draft (package_id, seq, draft_txid, broadcast_txid, state, confirm_height, hex) VALUES (?,?,?,?,?,?,?)",
			p.ID, i, d.TxID(), p.Status[i].BroadcastTxID, string(p.Status[i].State), p.Status[i].ConfirmHeight, h)
		if err != nil {
			return dbErr(err, "inserting draft for "+p.ID)
		}
	}
	return nil
}

func (t *SQLiteStoreTransaction) UpdatePackage(p *bump.Package) error {
	res, err := t.tx.Exec(
		"UPDATE package SET outcome=? WHERE id=?", string(p.Outcome), p.ID)
	if err != nil {
		return dbErr(err, "updating package "+p.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "updating package "+p.ID)
	}
	if n == 0 {
		return bump.NewErr(bump.NotFound, "package not found: %s", p.ID)
	}
	for i, d := range p.Drafts {
		// hex is rewritten because rebinding a dependent draft changes it.
		h, err := d.Hex()
		if err != nil {
			return err
		}
		_, err = t.tx.Exec(
			"UPDATE draft SET draft_txid=?, broadcast_txid=?, state=?, confirm_height=?, hex=? WHERE package_id=? AND seq=?",
			d.TxID(), p.Status[i].BroadcastTxID, string(p.Status[i].State), p.Status[i].ConfirmHeight, h, p.ID, i)
		if err != nil {
			return dbErr(err, "updating draft for "+p.ID)
		}
	}
	return nil
}

func (t *SQLiteStoreTransaction) GetChainPos() (bump.ChainPos, error) {
	return getChainPos(t.tx)
}

func (t *SQLiteStoreTransaction) UpdateChainPos(pos bump.ChainPos) error {
	_, err := t.tx.Exec(
		"INSERT INTO chainpos (id, best_hash, best_height) VALUES (1,?,?) ON CONFLICT (id) DO UPDATE SET best_hash=?, best_height=?",
		pos.BestBlockHash, pos.BestBlockHeight, pos.BestBlockHash, pos.BestBlockHeight)
	if err != nil {
		return dbErr(err, "updating chain position")
	}
	return nil
}

func getPackage(q Queryable, id string) (*bump.Package, error) {
	row := q.QueryRow("SELECT id, topology, anchor_value, outcome FROM package WHERE id = ?", id)
	p, err := scanPackage(row)
	if err == sql.ErrNoRows {
		return nil, bump.NewErr(bump.NotFound, "package not found: %s", id)
	}
	if err != nil {
		return nil, dbErr(err, "fetching package "+id)
	}
	if err := loadDrafts(q, p); err != nil {
		return nil, err
	}
	return p, nil
}

func listActivePackages(q Queryable) ([]*bump.Package, error) {
	rows, err := q.Query(
		"SELECT id, topology, anchor_value, outcome FROM package WHERE outcome NOT IN (?) ORDER BY created",
		string(bump.OutcomeBothConfirmed))
	if err != nil {
		return nil, dbErr(err, "listing active packages")
	}
	defer rows.Close()
	var packages []*bump.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, dbErr(err, "listing active packages")
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "listing active packages")
	}
	for _, p := range packages {
		if err := loadDrafts(q, p); err != nil {
			return nil, err
		}
	}
	return packages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*bump.Package, error) {
	var id, topology, anchor, outcome string
	if err := row.Scan(&id, &topology, &anchor, &outcome); err != nil {
		return nil, err
	}
	top, err := bump.TopologyFromName(topology)
	if err != nil {
		return nil, err
	}
	av, err := bump.AnchorValueFromName(anchor)
	if err != nil {
		return nil, err
	}
	return &bump.Package{
		ID:       id,
		Topology: top,
		Anchor:   av,
		Outcome:  bump.PackageOutcome(outcome),
	}, nil
}

func loadDrafts(q Queryable, p *bump.Package) error {
	rows, err := q.Query(
		"SELECT broadcast_txid, state, confirm_height, hex FROM draft WHERE package_id = ? ORDER BY seq",
		p.ID)
	if err != nil {
		return dbErr(err, "fetching drafts for "+p.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var broadcastTxID, state, h string
		var confirmHeight int64
		if err := rows.Scan(&broadcastTxID, &state, &confirmHeight, &h); err != nil {
			return dbErr(err, "fetching drafts for "+p.ID)
		}
		d, err := bump.DraftFromHex(h)
		if err != nil {
			return err
		}
		st := bump.DraftState(state)
		if st != bump.DraftBuilt {
			d.Freeze()
		}
		p.Drafts = append(p.Drafts, d)
		p.Status = append(p.Status, bump.DraftStatus{
			State:         st,
			BroadcastTxID: broadcastTxID,
			ConfirmHeight: confirmHeight,
		})
	}
	if err := rows.Err(); err != nil {
		return dbErr(err, "fetching drafts for "+p.ID)
	}
	return nil
}

func getChainPos(q Queryable) (bump.ChainPos, error) {
	row := q.QueryRow("SELECT best_hash, best_height FROM chainpos WHERE id = 1")
	var pos bump.ChainPos
	err := row.Scan(&pos.BestBlockHash, &pos.BestBlockHeight)
	if err == sql.ErrNoRows {
		return bump.ChainPos{}, bump.NewErr(bump.NotFound, "chain position not stored yet")
	}
	if err != nil {
		return bump.ChainPos{}, dbErr(err, "fetching chain position")
	}
	return pos, nil
}

func dbErr(err error, where string) error {
	return bump.NewErr(bump.NotAvailable, "store: %s: %v", where, err)
}
