package chat

import (
	"context"
	"database/sql"
	"log"
)

type archiveOp int

const (
	opInsert archiveOp = iota
	opMarkDeleted
	opTrim
)

type archiveJob struct {
	op       archiveOp
	msg      Message
	beforeID int64
}

// PostgresArchive persists store mutations to the chat_messages table in
// the background. Chat operations never wait on it: jobs go through a
// buffered channel and, when the archive cannot keep up, new jobs are
// dropped with a log line rather than blocking the append path. The
// in-memory store stays the single source of truth; the archive only
// rebuilds it on restart.
type PostgresArchive struct {
	db   *sql.DB
	jobs chan archiveJob
	done chan struct{}
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{
		db:   db,
		jobs: make(chan archiveJob, 256),
		done: make(chan struct{}),
	}
}

// MessageAppended implements Archiver.
func (a *PostgresArchive) MessageAppended(msg Message) {
	a.enqueue(archiveJob{op: opInsert, msg: msg})
}

// MessageDeleted implements Archiver.
func (a *PostgresArchive) MessageDeleted(msg Message) {
	a.enqueue(archiveJob{op: opMarkDeleted, msg: msg})
}

// MessagesTrimmed implements Archiver.
func (a *PostgresArchive) MessagesTrimmed(beforeID int64) {
	a.enqueue(archiveJob{op: opTrim, beforeID: beforeID})
}

func (a *PostgresArchive) enqueue(job archiveJob) {
	select {
	case a.jobs <- job:
	default:
		log.Printf("archive: queue full, dropping job op=%d id=%d", job.op, job.msg.ID)
	}
}

// Run drains the job queue until Close is called. Run it in its own
// goroutine right after construction.
func (a *PostgresArchive) Run(ctx context.Context) {
	defer close(a.done)

	for job := range a.jobs {
		var err error
		switch job.op {
		case opInsert:
			_, err = a.db.ExecContext(ctx,
				`INSERT INTO chat_messages (id, sender_id, sender_username, content, reply_to_id, deleted, created_at)
                 VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7)
                 ON CONFLICT (id) DO NOTHING`,
				job.msg.ID, job.msg.SenderID, job.msg.Sender, job.msg.Content,
				job.msg.ReplyToID, job.msg.Deleted, job.msg.CreatedAt)
		case opMarkDeleted:
			_, err = a.db.ExecContext(ctx,
				`UPDATE chat_messages SET deleted = TRUE WHERE id = $1`, job.msg.ID)
		case opTrim:
			_, err = a.db.ExecContext(ctx,
				`DELETE FROM chat_messages WHERE id < $1`, job.beforeID)
		}
		if err != nil {
			log.Printf("archive: op=%d: %v", job.op, err)
		}
	}
}

// Close stops accepting jobs and waits for the queue to drain.
func (a *PostgresArchive) Close() {
	close(a.jobs)
	<-a.done
}

// LoadAll returns the archived log in ascending id order, for seeding the
// store at startup.
func (a *PostgresArchive) LoadAll(ctx context.Context) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, sender_id, sender_username, content, COALESCE(reply_to_id, 0), deleted, created_at
         FROM chat_messages ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Sender, &m.Content, &m.ReplyToID, &m.Deleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
