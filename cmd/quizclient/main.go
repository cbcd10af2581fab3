// cmd/quizclient/main.go is a terminal client that hosts or joins a live game
// and logs everything the session observes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/client"
	"github.com/jason-s-yu/quizsync/internal/models"
	"github.com/jason-s-yu/quizsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8080", "server base URL")
		token    = flag.String("token", os.Getenv("QUIZ_HOST_TOKEN"), "host bearer token")
		quiz     = flag.String("quiz", "", "quiz id to host a new game of")
		game     = flag.String("game", "", "existing game id to host")
		mode     = flag.String("mode", "sync", "sync or async, for new games")
		code     = flag.String("join", "", "join code; joins as a player")
		nickname = flag.String("nick", "player", "nickname when joining")
		avatar   = flag.String("avatar", "", "avatar when joining")
		backoff  = flag.Bool("backoff", false, "use capped exponential backoff for reconnects")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := client.Config{BaseURL: *server, Logger: logger}
	if *backoff {
		cfg.Reconnect = client.CappedBackoff{Min: time.Second, Max: 30 * time.Second}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		s   *client.Session
		err error
	)
	if *code != "" {
		s, err = client.JoinSession(ctx, cfg, *code, *nickname, *avatar, callbacks(logger))
	} else {
		s, err = hostSession(ctx, cfg, *token, *quiz, *game, models.SyncMode(*mode), logger)
	}
	if err != nil {
		logger.Fatalf("quizclient: %v", err)
	}

	if err := s.Connect(); err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer s.Disconnect()

	go readCommands(ctx, s, logger)
	<-ctx.Done()
}

func hostSession(ctx context.Context, cfg client.Config, token, quiz, game string, mode models.SyncMode, logger *logrus.Logger) (*client.Session, error) {
	if token == "" {
		return nil, client.ErrMissingCredential
	}
	cfg.Role = models.RoleHost
	cfg.Token = client.StaticToken(token)

	if game != "" {
		id, err := uuid.Parse(game)
		if err != nil {
			return nil, fmt.Errorf("bad -game: %w", err)
		}
		cfg.GameID = id
		return client.NewSession(cfg, callbacks(logger)), nil
	}

	quizID, err := uuid.Parse(quiz)
	if err != nil {
		return nil, fmt.Errorf("bad -quiz: %w", err)
	}
	snap, err := client.NewAPI(cfg.BaseURL, nil, cfg.Token).CreateGame(ctx, quizID, mode)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"game": snap.ID, "code": snap.GameCode}).Info("game created")
	cfg.GameID = snap.ID
	return client.NewSession(cfg, callbacks(logger)), nil
}

func callbacks(logger *logrus.Logger) client.Callbacks {
	return client.Callbacks{
		OnConnection: func(up bool) {
			if up {
				logger.Info("connected")
			} else {
				logger.Warn("disconnected; polling for state")
			}
		},
		OnPhase: func(p client.Phase) {
			logger.WithField("question", p.QuestionIndex).Infof("phase %s", p.Status)
		},
		OnQuestion: func(q models.QuestionSnapshot) {
			logger.Infof("Q%d (%ds, %d pts): %s", q.Index, q.TimeLimitSec, q.Points, q.Prompt)
			for i, opt := range q.Options {
				logger.Infof("  [%d] %s", i, opt)
			}
		},
		OnQuestionEnd: func(m protocol.QuestionEnd) {
			logger.Infof("Q%d closed; correct option %d", m.QuestionIndex, m.CorrectOption)
		},
		OnResults: func(m protocol.Results) { logStandings(logger, m.Leaderboard) },
		OnGameEnd: func(m protocol.GameEnd) {
			logger.Infof("game over (%s)", m.Reason)
			logStandings(logger, m.Leaderboard)
		},
		OnTimer:  func(idx, secs int) { logger.Debugf("Q%d: %ds left", idx, secs) },
		OnRoster: func(n int, _ []models.PlayerSummary) { logger.Infof("%d players connected", n) },
		OnScore: func(ev models.ScoreEvent) {
			logger.Infof("score: +%d (total %d, streak %d)", ev.Points, ev.Total, ev.Streak)
		},
		OnError: func(err error) { logger.WithError(err).Error("session error") },
		OnHostDisconnected: func() {
			logger.Warn("host disconnected")
		},
	}
}

func logStandings(logger *logrus.Logger, board []models.Standing) {
	for _, st := range board {
		logger.Infof("  #%d %s %d", st.Rank, st.Nickname, st.Score)
	}
}

// readCommands accepts start|next|end for hosts and the option number for players.
func readCommands(ctx context.Context, s *client.Session, logger *logrus.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var err error
		switch line {
		case "":
			continue
		case "start":
			err = s.StartGame(ctx)
		case "next":
			err = s.NextQuestion(ctx)
		case "end":
			err = s.EndGame(ctx)
		case "reconnect":
			s.Reconnect()
		case "state":
			p := s.Phase()
			logger.Infof("phase %s q%d, %d players, polling=%v", p.Status, p.QuestionIndex, s.PlayerCount(), s.Polling())
		default:
			option, convErr := strconv.Atoi(line)
			if convErr != nil {
				logger.Warnf("unknown command %q", line)
				continue
			}
			err = s.SubmitAnswer(ctx, s.Phase().QuestionIndex, option)
		}
		if err != nil {
			logger.WithError(err).Error("command failed")
		}
	}
}
