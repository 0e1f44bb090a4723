package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/mrds/internal/param"
)

const sqliteSchema = `
CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE sources (
	path TEXT PRIMARY KEY
);
CREATE TABLE subjects (
	name TEXT PRIMARY KEY
);
CREATE TABLE sessions (
	subject TEXT NOT NULL,
	name TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	PRIMARY KEY (subject, name)
);
CREATE TABLE sequences (
	subject TEXT NOT NULL,
	session TEXT NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (subject, session, name)
);
CREATE TABLE compliance (
	subject TEXT NOT NULL,
	session TEXT NOT NULL,
	sequence TEXT NOT NULL,
	member TEXT NOT NULL,
	compliant INTEGER NOT NULL,
	reason TEXT
);
CREATE TABLE runs (
	id INTEGER PRIMARY KEY,
	subject TEXT NOT NULL,
	session TEXT NOT NULL,
	sequence TEXT NOT NULL,
	name TEXT NOT NULL,
	echo_time REAL NOT NULL,
	echo_number INTEGER NOT NULL,
	acquired_at TEXT NOT NULL,
	UNIQUE (subject, session, sequence, name)
);
CREATE TABLE params (
	run_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	value JSON NOT NULL,
	PRIMARY KEY (run_id, name)
) WITHOUT ROWID;
CREATE TABLE files (
	run_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY (run_id, path)
) WITHOUT ROWID;
`

// sqliteCodec stores the tree as relational tables, one row per node.
type sqliteCodec struct{}

func (sqliteCodec) save(doc *document, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	// The file is renamed into place only after a successful commit.
	for _, pragma := range []string{"PRAGMA synchronous = OFF", "PRAGMA journal_mode = MEMORY"} {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := writeDocument(tx, doc); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func writeDocument(tx *sql.Tx, doc *document) error {
	meta := map[string]string{
		"schema_version": strconv.Itoa(doc.Version),
		"name":           doc.Name,
		"format":         doc.Format,
		"metadata_root":  doc.MetadataRoot,
		"is_complete":    strconv.FormatBool(doc.IsComplete),
	}
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, meta[k]); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}
	for _, src := range doc.DataSource {
		if _, err := tx.Exec(`INSERT INTO sources (path) VALUES (?)`, src); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}

	stmts := map[string]string{
		"subject":  `INSERT INTO subjects (name) VALUES (?)`,
		"session":  `INSERT INTO sessions (subject, name, acquired_at) VALUES (?, ?, ?)`,
		"sequence": `INSERT INTO sequences (subject, session, name) VALUES (?, ?, ?)`,
		"member":   `INSERT INTO compliance (subject, session, sequence, member, compliant, reason) VALUES (?, ?, ?, ?, ?, ?)`,
		"run":      `INSERT INTO runs (subject, session, sequence, name, echo_time, echo_number, acquired_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"param":    `INSERT INTO params (run_id, name, value) VALUES (?, ?, ?)`,
		"file":     `INSERT INTO files (run_id, path) VALUES (?, ?)`,
	}
	prepared := make(map[string]*sql.Stmt, len(stmts))
	defer func() {
		for _, st := range prepared {
			_ = st.Close()
		}
	}()
	for name, query := range stmts {
		st, err := tx.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		prepared[name] = st
	}

	for _, sd := range doc.Subjects {
		if _, err := prepared["subject"].Exec(sd.Name); err != nil {
			return fmt.Errorf("insert subject %s: %w", sd.Name, err)
		}
		for _, xd := range sd.Sessions {
			if _, err := prepared["session"].Exec(sd.Name, xd.Name, xd.AcquiredAt); err != nil {
				return fmt.Errorf("insert session %s/%s: %w", sd.Name, xd.Name, err)
			}
			for _, qd := range xd.Sequences {
				at := sd.Name + "/" + xd.Name + "/" + qd.Name
				if _, err := prepared["sequence"].Exec(sd.Name, xd.Name, qd.Name); err != nil {
					return fmt.Errorf("insert sequence %s: %w", at, err)
				}
				for _, m := range qd.Compliant {
					if _, err := prepared["member"].Exec(sd.Name, xd.Name, qd.Name, m, 1, nil); err != nil {
						return fmt.Errorf("insert compliance %s: %w", at, err)
					}
				}
				for _, nc := range qd.NonCompliant {
					// A subject without reasons still needs one row.
					reasons := []*string{nil}
					if len(nc.Reasons) > 0 {
						reasons = reasons[:0]
						for _, r := range nc.Reasons {
							reasons = append(reasons, &r)
						}
					}
					for _, r := range reasons {
						if _, err := prepared["member"].Exec(sd.Name, xd.Name, qd.Name, nc.Subject, 0, r); err != nil {
							return fmt.Errorf("insert compliance %s: %w", at, err)
						}
					}
				}
				for _, rd := range qd.Runs {
					if err := writeRun(prepared, sd.Name, xd.Name, qd.Name, rd); err != nil {
						return fmt.Errorf("insert run %s/%s: %w", at, rd.Name, err)
					}
				}
			}
		}
	}
	return nil
}

func writeRun(prepared map[string]*sql.Stmt, subject, session, sequence string, rd runDoc) error {
	res, err := prepared["run"].Exec(subject, session, sequence, rd.Name, rd.EchoTime, rd.EchoNumber, rd.AcquiredAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, name := range rd.Params.Names() {
		value, err := json.Marshal(rd.Params[name])
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		if _, err := prepared["param"].Exec(id, name, string(value)); err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
	}
	for _, f := range rd.Files {
		if _, err := prepared["file"].Exec(id, f); err != nil {
			return fmt.Errorf("file %s: %w", f, err)
		}
	}
	return nil
}

func (sqliteCodec) load(path string) (*document, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	var version string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: read schema version: %w", path, err))
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: schema version %q: %w", path, version, err))
	}
	if err := checkVersion(v); err != nil {
		return nil, err
	}
	doc, err := readDocument(db)
	if err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: %w", path, err))
	}
	doc.Version = v
	return doc, nil
}

type seqPath [3]string

func readDocument(db *sql.DB) (*document, error) {
	doc := &document{}
	meta := map[string]string{}
	if err := query(db, `SELECT key, value FROM meta`, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		meta[k] = v
		return nil
	}); err != nil {
		return nil, err
	}
	doc.Name, doc.Format, doc.MetadataRoot = meta["name"], meta["format"], meta["metadata_root"]
	complete, err := strconv.ParseBool(meta["is_complete"])
	if err != nil {
		return nil, fmt.Errorf("is_complete: %w", err)
	}
	doc.IsComplete = complete

	if err := query(db, `SELECT path FROM sources ORDER BY path`, func(rows *sql.Rows) error {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		doc.DataSource = append(doc.DataSource, p)
		return nil
	}); err != nil {
		return nil, err
	}

	subjects := map[string]*subjectDoc{}
	sessions := map[[2]string]*sessionDoc{}
	sequences := map[seqPath]*sequenceDoc{}
	runs := map[int64]*runDoc{}
	runSeq := map[int64]seqPath{}

	if err := query(db, `SELECT name FROM subjects`, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		subjects[name] = &subjectDoc{Name: name}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := query(db, `SELECT subject, name, acquired_at FROM sessions`, func(rows *sql.Rows) error {
		var sd sessionDoc
		var subject string
		if err := rows.Scan(&subject, &sd.Name, &sd.AcquiredAt); err != nil {
			return err
		}
		if _, ok := subjects[subject]; !ok {
			return fmt.Errorf("session %s/%s has no subject", subject, sd.Name)
		}
		sessions[[2]string{subject, sd.Name}] = &sd
		return nil
	}); err != nil {
		return nil, err
	}
	if err := query(db, `SELECT subject, session, name FROM sequences`, func(rows *sql.Rows) error {
		var p seqPath
		if err := rows.Scan(&p[0], &p[1], &p[2]); err != nil {
			return err
		}
		if _, ok := sessions[[2]string{p[0], p[1]}]; !ok {
			return fmt.Errorf("sequence %s/%s/%s has no session", p[0], p[1], p[2])
		}
		sequences[p] = &sequenceDoc{Name: p[2]}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := readCompliance(db, sequences); err != nil {
		return nil, err
	}
	if err := query(db, `SELECT id, subject, session, sequence, name, echo_time, echo_number, acquired_at FROM runs`, func(rows *sql.Rows) error {
		var id int64
		var p seqPath
		rd := &runDoc{Params: param.Params{}}
		if err := rows.Scan(&id, &p[0], &p[1], &p[2], &rd.Name, &rd.EchoTime, &rd.EchoNumber, &rd.AcquiredAt); err != nil {
			return err
		}
		if _, ok := sequences[p]; !ok {
			return fmt.Errorf("run %s has no sequence %s/%s/%s", rd.Name, p[0], p[1], p[2])
		}
		runs[id], runSeq[id] = rd, p
		return nil
	}); err != nil {
		return nil, err
	}
	if err := query(db, `SELECT run_id, name, value FROM params`, func(rows *sql.Rows) error {
		var id int64
		var name, raw string
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return err
		}
		rd, ok := runs[id]
		if !ok {
			return fmt.Errorf("param %s refers to missing run %d", name, id)
		}
		var v param.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		rd.Params[name] = v
		return nil
	}); err != nil {
		return nil, err
	}
	if err := query(db, `SELECT run_id, path FROM files ORDER BY path`, func(rows *sql.Rows) error {
		var id int64
		var p string
		if err := rows.Scan(&id, &p); err != nil {
			return err
		}
		rd, ok := runs[id]
		if !ok {
			return fmt.Errorf("file %s refers to missing run %d", p, id)
		}
		rd.Files = append(rd.Files, p)
		return nil
	}); err != nil {
		return nil, err
	}

	// Assemble bottom-up; restore orders every level by name.
	for _, id := range slices.Sorted(maps.Keys(runs)) {
		seq := sequences[runSeq[id]]
		seq.Runs = append(seq.Runs, *runs[id])
	}
	for _, p := range slices.SortedFunc(maps.Keys(sequences), compareSeqPath) {
		sess := sessions[[2]string{p[0], p[1]}]
		sess.Sequences = append(sess.Sequences, *sequences[p])
	}
	for _, k := range slices.SortedFunc(maps.Keys(sessions), compareSessionKey) {
		sub := subjects[k[0]]
		sub.Sessions = append(sub.Sessions, *sessions[k])
	}
	for _, name := range slices.Sorted(maps.Keys(subjects)) {
		doc.Subjects = append(doc.Subjects, *subjects[name])
	}
	return doc, nil
}

func readCompliance(db *sql.DB, sequences map[seqPath]*sequenceDoc) error {
	return query(db, `SELECT subject, session, sequence, member, compliant, reason FROM compliance ORDER BY member, reason`, func(rows *sql.Rows) error {
		var p seqPath
		var member string
		var compliant bool
		var reason sql.NullString
		if err := rows.Scan(&p[0], &p[1], &p[2], &member, &compliant, &reason); err != nil {
			return err
		}
		seq, ok := sequences[p]
		if !ok {
			return fmt.Errorf("compliance row for missing sequence %s/%s/%s", p[0], p[1], p[2])
		}
		if compliant {
			seq.Compliant = append(seq.Compliant, member)
			return nil
		}
		n := len(seq.NonCompliant)
		if n == 0 || seq.NonCompliant[n-1].Subject != member {
			seq.NonCompliant = append(seq.NonCompliant, nonCompliantDoc{Subject: member})
			n++
		}
		if reason.Valid {
			seq.NonCompliant[n-1].Reasons = append(seq.NonCompliant[n-1].Reasons, reason.String)
		}
		return nil
	})
}

func query(db *sql.DB, q string, fn func(*sql.Rows) error) error {
	rows, err := db.Query(q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }() // safe to ignore
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func compareSeqPath(a, b seqPath) int {
	return slices.Compare(a[:], b[:])
}

func compareSessionKey(a, b [2]string) int {
	return slices.Compare(a[:], b[:])
}
