package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	_ "modernc.org/sqlite"
)

// ErrChainBroken indicates the journal's hash chain failed verification.
var ErrChainBroken = errors.New("audit chain broken")

// Entry is one journaled mutation together with its chain linkage. Hash
// covers every field plus the previous entry's hash, so any retroactive edit
// breaks verification from that row onward.
type Entry struct {
	Seq          int64
	ID           string
	Timestamp    time.Time
	Actor        string
	Method       string
	Path         string
	Status       int
	RequestBody  []byte
	ResponseBody []byte
	PrevHash     string
	Hash         string
}

// Journal persists mutating gateway requests into SQLite as a hash chain.
type Journal struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
	nowFn    func() time.Time
}

// Open creates or reopens the journal at path and resumes the chain from the
// newest stored entry.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	journal := &Journal{db: db, nowFn: time.Now}
	if err := journal.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) init() error {
	const stmt = `CREATE TABLE IF NOT EXISTS audit_log (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        entry_id TEXT NOT NULL UNIQUE,
        occurred_at INTEGER NOT NULL,
        actor TEXT NOT NULL,
        method TEXT NOT NULL,
        path TEXT NOT NULL,
        status INTEGER NOT NULL,
        request_body BLOB,
        response_body BLOB,
        prev_hash TEXT NOT NULL,
        hash TEXT NOT NULL
    );`
	if _, err := j.db.Exec(stmt); err != nil {
		return err
	}
	row := j.db.QueryRow(`SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`)
	var last string
	err := row.Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	j.lastHash = last
	return nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Append links the entry to the chain and persists it. ID and Timestamp are
// filled when unset; the stored entry is returned with its sequence number.
func (j *Journal) Append(ctx context.Context, entry Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = j.nowFn().UTC()
	}
	entry.PrevHash = j.lastHash
	entry.Hash = chainHash(entry)

	const stmt = `INSERT INTO audit_log(entry_id, occurred_at, actor, method, path, status, request_body, response_body, prev_hash, hash)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := j.db.ExecContext(ctx, stmt,
		entry.ID, entry.Timestamp.UnixNano(), entry.Actor, entry.Method, entry.Path,
		entry.Status, entry.RequestBody, entry.ResponseBody, entry.PrevHash, entry.Hash)
	if err != nil {
		return Entry{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Entry{}, err
	}
	entry.Seq = seq
	j.lastHash = entry.Hash
	return entry, nil
}

// Verify walks the whole chain in order, recomputing every hash. It returns
// the number of verified entries, or ErrChainBroken naming the first bad row.
func (j *Journal) Verify(ctx context.Context) (int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT seq, entry_id, occurred_at, actor, method, path, status, request_body, response_body, prev_hash, hash
        FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	prev := ""
	count := 0
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return count, err
		}
		if entry.PrevHash != prev {
			return count, fmt.Errorf("%w: entry %d links %q, expected %q", ErrChainBroken, entry.Seq, entry.PrevHash, prev)
		}
		if recomputed := chainHash(entry); recomputed != entry.Hash {
			return count, fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, entry.Seq)
		}
		prev = entry.Hash
		count++
	}
	return count, rows.Err()
}

// Tail returns up to limit most recent entries, oldest first.
func (j *Journal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `SELECT seq, entry_id, occurred_at, actor, method, path, status, request_body, response_body, prev_hash, hash
        FROM audit_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, n := 0, len(entries); i < n/2; i++ {
		entries[i], entries[n-1-i] = entries[n-1-i], entries[i]
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var occurredAt int64
	if err := rows.Scan(&entry.Seq, &entry.ID, &occurredAt, &entry.Actor, &entry.Method, &entry.Path,
		&entry.Status, &entry.RequestBody, &entry.ResponseBody, &entry.PrevHash, &entry.Hash); err != nil {
		return Entry{}, err
	}
	entry.Timestamp = time.Unix(0, occurredAt).UTC()
	return entry, nil
}

// chainHash digests the entry fields behind length prefixes so adjacent
// fields cannot be reinterpreted as each other.
func chainHash(entry Entry) string {
	buf := new(bytes.Buffer)
	writeField := func(field []byte) {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(field)))
		buf.Write(size[:])
		buf.Write(field)
	}
	writeField([]byte(entry.PrevHash))
	writeField([]byte(entry.ID))
	writeField([]byte(strconv.FormatInt(entry.Timestamp.UnixNano(), 10)))
	writeField([]byte(entry.Actor))
	writeField([]byte(entry.Method))
	writeField([]byte(entry.Path))
	writeField([]byte(strconv.Itoa(entry.Status)))
	writeField(entry.RequestBody)
	writeField(entry.ResponseBody)
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
