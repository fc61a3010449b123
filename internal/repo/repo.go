package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that a guarded write matched no row because the
	// record was no longer in the expected state.
	ErrConflict = errors.New("conflict")
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const questionColumns = `id,author_id,COALESCE(author_address,''),title,body_md,content_cid,content_hash,status,
bounty_requested_wei,tx_hash,tx_state,COALESCE(tx_error,''),onchain_id,chain_id_unknown,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner, extra ...any) (domain.Question, error) {
	var q domain.Question
	var txHash, onchainID sql.NullString
	dest := []any{&q.ID, &q.AuthorID, &q.AuthorAddress, &q.Title, &q.BodyMD, &q.ContentCID, &q.ContentHash, &q.Status,
		&q.BountyRequestedWei, &txHash, &q.TxState, &q.TxError, &onchainID, &q.ChainIDUnknown, &q.CreatedAt, &q.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	q.TxHash = optionalString(txHash)
	q.OnchainID = optionalString(onchainID)
	return q, nil
}

// InsertQuestion stores a new question and returns its id.
func (r Repo) InsertQuestion(ctx context.Context, tx *sql.Tx, q domain.Question) (int64, error) {
	if q.Status == "" {
		q.Status = domain.StatusOpen
	}
	if q.BountyRequestedWei == "" {
		q.BountyRequestedWei = "0"
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO questions(author_id,author_address,title,body_md,content_cid,content_hash,status,bounty_requested_wei,tx_state,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		q.AuthorID, nullable(q.AuthorAddress), q.Title, q.BodyMD, q.ContentCID, q.ContentHash, q.Status, q.BountyRequestedWei, q.TxState, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	return r.GetQuestionTx(ctx, nil, id)
}

func (r Repo) GetQuestionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Question, error) {
	return scanQuestion(r.on(tx).QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=?`, id))
}

// ListQuestionsFilter narrows ListQuestions. BeforeID is an exclusive cursor
// on the descending id order.
type ListQuestionsFilter struct {
	AuthorID string
	Status   string
	BeforeID int64
	Limit    int
}

// ListQuestions returns newest questions first with answer aggregates.
func (r Repo) ListQuestions(ctx context.Context, f ListQuestionsFilter) ([]domain.QuestionSummary, error) {
	var (
		where []string
		args  []any
	)
	if f.AuthorID != "" {
		where = append(where, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.BeforeID > 0 {
		where = append(where, "id<?")
		args = append(args, f.BeforeID)
	}
	query := `SELECT ` + questionColumns + `,
(SELECT COUNT(*) FROM answers a WHERE a.question_id=questions.id),
COALESCE((SELECT a.id FROM answers a WHERE a.question_id=questions.id AND a.is_best=1),0)
FROM questions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionSummary
	for rows.Next() {
		var s domain.QuestionSummary
		q, err := scanQuestion(rows, &s.AnswerCount, &s.AcceptedAnswerID)
		if err != nil {
			return nil, err
		}
		s.Question = q
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateQuestionContent rewrites title and body while the question is Open.
func (r Repo) UpdateQuestionContent(ctx context.Context, tx *sql.Tx, q domain.Question) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE questions SET title=?, body_md=?, content_cid=?, content_hash=?, updated_at=? WHERE id=? AND status='Open'`,
		q.Title, q.BodyMD, q.ContentCID, q.ContentHash, q.UpdatedAt, q.ID)
	return expectOne(res, err)
}

// SetAskTx records the hash of a submitted ask transaction.
func (r Repo) SetAskTx(ctx context.Context, tx *sql.Tx, id int64, hash, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE questions SET tx_hash=?, tx_state='submitted', tx_error=NULL, updated_at=? WHERE id=?`, hash, now, id)
	return expectOne(res, err)
}

// MarkAskConfirmed stores the on-chain identifier, or flags it unknown when
// onchainID is nil.
func (r Repo) MarkAskConfirmed(ctx context.Context, tx *sql.Tx, id int64, onchainID *string, now string) error {
	unknown := onchainID == nil
	var value any
	if onchainID != nil {
		value = *onchainID
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE questions SET tx_state='confirmed', onchain_id=?, chain_id_unknown=?, updated_at=? WHERE id=?`,
		value, unknown, now, id)
	return expectOne(res, err)
}

// MarkAskFailed flags the question's bounty as not backed on-chain. The
// hash is kept when one exists.
func (r Repo) MarkAskFailed(ctx context.Context, tx *sql.Tx, id int64, reason, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE questions SET tx_state='failed', tx_error=?, updated_at=? WHERE id=?`, reason, now, id)
	return expectOne(res, err)
}

// TransitionQuestion moves an Open question with no pending ask transaction
// to status. It returns ErrConflict when another writer got there first.
func (r Repo) TransitionQuestion(ctx context.Context, tx *sql.Tx, id int64, status, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE questions SET status=?, updated_at=? WHERE id=? AND status='Open' AND tx_state<>'submitted'`,
		status, now, id)
	return expectOne(res, err)
}

func scanAnswer(row rowScanner) (domain.Answer, error) {
	var a domain.Answer
	err := row.Scan(&a.ID, &a.QuestionID, &a.AuthorID, &a.AuthorAddress, &a.BodyMD, &a.ContentCID, &a.ContentHash, &a.IsBest, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

const answerColumns = `id,question_id,author_id,COALESCE(author_address,''),body_md,content_cid,content_hash,is_best,created_at`

// InsertAnswer stores an answer only while its question is Open.
func (r Repo) InsertAnswer(ctx context.Context, tx *sql.Tx, a domain.Answer) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO answers(question_id,author_id,author_address,body_md,content_cid,content_hash,is_best,created_at)
SELECT ?,?,?,?,?,?,0,? WHERE EXISTS (SELECT 1 FROM questions WHERE id=? AND status='Open')`,
		a.QuestionID, a.AuthorID, nullable(a.AuthorAddress), a.BodyMD, a.ContentCID, a.ContentHash, a.CreatedAt, a.QuestionID)
	if err := expectOne(res, err); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetAnswer(ctx context.Context, id int64) (domain.Answer, error) {
	return scanAnswer(r.DB.QueryRowContext(ctx, `SELECT `+answerColumns+` FROM answers WHERE id=?`, id))
}

func (r Repo) ListAnswers(ctx context.Context, questionID int64) ([]domain.Answer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+answerColumns+` FROM answers WHERE question_id=? ORDER BY id`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// MarkBestAnswer flags one answer of the question as accepted.
func (r Repo) MarkBestAnswer(ctx context.Context, tx *sql.Tx, questionID, answerID int64) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE answers SET is_best=1 WHERE id=? AND question_id=?`, answerID, questionID)
	if err := expectOne(res, err); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optionalString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
