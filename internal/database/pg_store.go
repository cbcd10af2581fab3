// internal/database/pg_store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/quizsync/internal/models"
)

// Schema is applied by Migrate. Quiz questions are authored elsewhere; this
// service only reads them.
const Schema = `
CREATE TABLE IF NOT EXISTS quiz_questions (
	quiz_id        UUID    NOT NULL,
	position       INT     NOT NULL,
	prompt         TEXT    NOT NULL,
	options        TEXT[]  NOT NULL,
	correct_option INT     NOT NULL,
	time_limit_sec INT     NOT NULL DEFAULT 20,
	points         INT     NOT NULL DEFAULT 1000,
	PRIMARY KEY (quiz_id, position)
);

CREATE TABLE IF NOT EXISTS live_games (
	id                     UUID PRIMARY KEY,
	game_code              TEXT NOT NULL UNIQUE,
	quiz_id                UUID NOT NULL,
	host_id                UUID NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'lobby',
	current_question_index INT  NOT NULL DEFAULT -1,
	total_questions        INT  NOT NULL,
	sync_mode              TEXT NOT NULL DEFAULT 'sync',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS live_players (
	id        UUID PRIMARY KEY,
	game_id   UUID NOT NULL REFERENCES live_games(id) ON DELETE CASCADE,
	nickname  TEXT NOT NULL,
	avatar    TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS score_events (
	seq            BIGSERIAL PRIMARY KEY,
	game_id        UUID NOT NULL REFERENCES live_games(id) ON DELETE CASCADE,
	participant_id UUID NOT NULL,
	question_index INT  NOT NULL,
	points         INT  NOT NULL,
	total          INT  NOT NULL,
	correct        BOOLEAN NOT NULL,
	streak         INT  NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (game_id, participant_id, question_index)
);

CREATE TABLE IF NOT EXISTS session_events (
	game_id     UUID   NOT NULL,
	seq         INT    NOT NULL,
	event_type  TEXT   NOT NULL,
	actor_id    UUID,
	payload     JSONB,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, seq)
);
`

// PgStore implements Store on Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PgStore) CreateGame(ctx context.Context, g *models.Game) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.GameCode = strings.ToUpper(g.GameCode)
	q := `
		INSERT INTO live_games (id, game_code, quiz_id, host_id, status, current_question_index, total_questions, sync_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := s.pool.QueryRow(ctx, q,
		g.ID, g.GameCode, g.QuizID, g.HostID,
		string(g.Status), g.CurrentQuestionIndex, g.TotalQuestions, string(g.SyncMode),
	).Scan(&g.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

const selectGame = `
	SELECT id, game_code, quiz_id, host_id, status, current_question_index, total_questions, sync_mode, created_at
	FROM live_games
`

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	var status, mode string
	err := row.Scan(&g.ID, &g.GameCode, &g.QuizID, &g.HostID, &status, &g.CurrentQuestionIndex, &g.TotalQuestions, &mode, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Status = models.GameStatus(status)
	g.SyncMode = models.SyncMode(mode)
	return &g, nil
}

func (s *PgStore) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return scanGame(s.pool.QueryRow(ctx, selectGame+` WHERE id = $1`, id))
}

func (s *PgStore) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	return scanGame(s.pool.QueryRow(ctx, selectGame+` WHERE game_code = $1`, strings.ToUpper(code)))
}

func (s *PgStore) UpdateGameProgress(ctx context.Context, id uuid.UUID, status models.GameStatus, questionIndex int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE live_games SET status = $2, current_question_index = $3 WHERE id = $1`,
		id, string(status), questionIndex,
	)
	if err != nil {
		return fmt.Errorf("update game %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) AddPlayer(ctx context.Context, p *models.Player) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	q := `
		INSERT INTO live_players (id, game_id, nickname, avatar)
		VALUES ($1, $2, $3, $4)
		RETURNING joined_at
	`
	err := s.pool.QueryRow(ctx, q, p.ID, p.GameID, p.Nickname, p.Avatar).Scan(&p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *PgStore) GetPlayer(ctx context.Context, gameID, playerID uuid.UUID) (*models.Player, error) {
	var p models.Player
	err := s.pool.QueryRow(ctx,
		`SELECT id, game_id, nickname, avatar, joined_at FROM live_players WHERE game_id = $1 AND id = $2`,
		gameID, playerID,
	).Scan(&p.ID, &p.GameID, &p.Nickname, &p.Avatar, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, game_id, nickname, avatar, joined_at FROM live_players WHERE game_id = $1 ORDER BY joined_at`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.Nickname, &p.Avatar, &p.JoinedAt); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *PgStore) QuizQuestions(ctx context.Context, quizID uuid.UUID) ([]models.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT prompt, options, correct_option, time_limit_sec, points
		FROM quiz_questions
		WHERE quiz_id = $1
		ORDER BY position
	`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.Prompt, &q.Options, &q.CorrectOption, &q.TimeLimitSec, &q.Points); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNotFound
	}
	return questions, nil
}

// AppendScoreEvent inserts the event; a duplicate for the same answer is ignored.
func (s *PgStore) AppendScoreEvent(ctx context.Context, ev models.ScoreEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO score_events (game_id, participant_id, question_index, points, total, correct, streak, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_id, participant_id, question_index) DO NOTHING
	`, ev.GameID, ev.ParticipantID, ev.QuestionIndex, ev.Points, ev.Total, ev.Correct, ev.Streak, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert score event: %w", err)
	}
	return nil
}

func (s *PgStore) ScoreEvents(ctx context.Context, gameID uuid.UUID) ([]models.ScoreEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id, participant_id, question_index, points, total, correct, streak, created_at
		FROM score_events
		WHERE game_id = $1
		ORDER BY seq
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ScoreEvent
	for rows.Next() {
		var ev models.ScoreEvent
		if err := rows.Scan(&ev.GameID, &ev.ParticipantID, &ev.QuestionIndex, &ev.Points, &ev.Total, &ev.Correct, &ev.Streak, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SeedQuiz replaces the questions of quizID in one transaction.
func (s *PgStore) SeedQuiz(ctx context.Context, quizID uuid.UUID, questions []models.Question) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM quiz_questions WHERE quiz_id = $1`, quizID); err != nil {
			return err
		}
		for i, q := range questions {
			_, err := tx.Exec(ctx, `
				INSERT INTO quiz_questions (quiz_id, position, prompt, options, correct_option, time_limit_sec, points)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, quizID, i, q.Prompt, q.Options, q.CorrectOption, q.TimeLimitSec, q.Points)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", i, err)
			}
		}
		return nil
	})
}

// InsertEvents writes a batch of event log records in one transaction. Records
// already present are skipped so a redelivered batch is harmless.
func (s *PgStore) InsertEvents(ctx context.Context, records []models.EventRecord) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			var actor *uuid.UUID
			if rec.ActorID != uuid.Nil {
				actor = &rec.ActorID
			}
			var payload []byte
			if len(rec.Payload) > 0 {
				payload = rec.Payload
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO session_events (game_id, seq, event_type, actor_id, payload, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (game_id, seq) DO NOTHING
			`, rec.GameID, rec.Seq, rec.Type, actor, payload, time.UnixMilli(rec.Timestamp))
			if err != nil {
				return fmt.Errorf("insert event %s/%d: %w", rec.GameID, rec.Seq, err)
			}
		}
		return nil
	})
}

// Close releases the pool.
func (s *PgStore) Close() {
	s.pool.Close()
}
