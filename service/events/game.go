package events

import (
	"strconv"

	"quizlink/tools/decode"
)

// Wire names are the backend's: the result of an answer arrives as
// game.answer.received and the end of a match as game.over.
const (
	TypeGameConnect            = "game.connect"
	TypeGameAnswerSubmit       = "game.answer.submit"
	TypeGameStarted            = "game.started"
	TypeGameQuestionsAll       = "game.questions.all"
	TypeGameQuestionNew        = "game.question.new"
	TypeGameAnswerReceived     = "game.answer.received"
	TypeGameOpponentAnswered   = "game.opponent.answered"
	TypeGameBattleUpdate       = "game.battle.update"
	TypeGamePlayerDisconnected = "game.player.disconnected"
	TypeGameOver               = "game.over"
)

// NotReported marks numeric fields the payload did not carry.
const NotReported = -1

type GameEvent interface {
	isGame()
	// Match returns the match the event belongs to, "" when the payload has none.
	Match() string
}

type Question struct {
	QuestionID    string
	Text          string
	Options       []string
	CorrectAnswer string
	Category      string
}

type GamePlayer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Position string `json:"position"`
}

type GameStarted struct {
	MatchID         string
	TotalQuestions  int
	TimePerQuestion int
	Players         []GamePlayer
}

type GameAllQuestions struct {
	MatchID   string
	Questions []Question
}

type GameQuestionNew struct {
	MatchID       string
	QuestionIndex int
	TimeLimit     int
	Question      Question
}

type AnswerResult struct {
	MatchID        string
	QuestionIndex  int
	IsCorrect      bool
	CorrectAnswer  string
	CorrectIndex   int
	Points         int
	TimeBonus      int
	PlayerScore    int
	PlayerHealth   int
	OpponentHealth int
}

type OpponentAnswered struct {
	MatchID       string
	QuestionIndex int
}

type BattleUpdate struct {
	MatchID        string
	PlayerHealth   int
	OpponentHealth int
	PlayerScore    int
	OpponentScore  int
}

type PlayerDisconnected struct {
	MatchID string
	UserID  string
}

type Rewards struct {
	Coins      int
	Points     int
	Experience int
}

type GameOver struct {
	MatchID         string
	WinnerID        string
	PlayerScore     int
	PlayerCorrect   int
	OpponentScore   int
	OpponentCorrect int
	HasStats        bool // playerStats/opponentStats present
	WinnerRewards   Rewards
	LoserRewards    Rewards
}

type GameUnknown struct{ Type string }

func (GameStarted) isGame()        {}
func (GameAllQuestions) isGame()   {}
func (GameQuestionNew) isGame()    {}
func (AnswerResult) isGame()       {}
func (OpponentAnswered) isGame()   {}
func (BattleUpdate) isGame()       {}
func (PlayerDisconnected) isGame() {}
func (GameOver) isGame()           {}
func (GameUnknown) isGame()        {}

func (e GameStarted) Match() string        { return e.MatchID }
func (e GameAllQuestions) Match() string   { return e.MatchID }
func (e GameQuestionNew) Match() string    { return e.MatchID }
func (e AnswerResult) Match() string       { return e.MatchID }
func (e OpponentAnswered) Match() string   { return e.MatchID }
func (e BattleUpdate) Match() string       { return e.MatchID }
func (e PlayerDisconnected) Match() string { return e.MatchID }
func (e GameOver) Match() string           { return e.MatchID }
func (GameUnknown) Match() string          { return "" }

func DecodeGame(env decode.Envelope) GameEvent {
	p := env.Payload
	matchID := decode.String(p, "matchId", "")
	switch env.Type {
	case TypeGameStarted:
		rows := decode.Maps(p, "players")
		players := make([]GamePlayer, 0, len(rows))
		for _, r := range rows {
			players = append(players, decode.Into(r, GamePlayer{}))
		}
		return GameStarted{
			MatchID:         matchID,
			TotalQuestions:  decode.Int(p, "totalQuestions", 10),
			TimePerQuestion: decode.Int(p, "timePerQuestion", 30),
			Players:         players,
		}
	case TypeGameQuestionsAll:
		rows := decode.Maps(p, "questions")
		qs := make([]Question, 0, len(rows))
		for _, r := range rows {
			qs = append(qs, decodeQuestion(r))
		}
		return GameAllQuestions{MatchID: matchID, Questions: qs}
	case TypeGameQuestionNew:
		q := decode.Map(p, "question")
		if len(q) == 0 {
			q = p
		}
		return GameQuestionNew{
			MatchID:       matchID,
			QuestionIndex: decode.Int(p, "questionIndex", 0),
			TimeLimit:     decode.Int(p, "timeLimit", decode.Int(p, "timePerQuestion", 30)),
			Question:      decodeQuestion(q),
		}
	case TypeGameAnswerReceived:
		correct := decode.String(p, "correctAnswer", "")
		idx := decode.Int(p, "correctAnswerIndex", NotReported)
		if idx == NotReported && correct != "" {
			if n, err := strconv.Atoi(correct); err == nil {
				idx = n
			}
		}
		return AnswerResult{
			MatchID:        matchID,
			QuestionIndex:  decode.Int(p, "questionIndex", NotReported),
			IsCorrect:      decode.Bool(p, "isCorrect", false),
			CorrectAnswer:  correct,
			CorrectIndex:   idx,
			Points:         decode.Int(p, "points", 0),
			TimeBonus:      decode.Int(p, "timeBonus", 0),
			PlayerScore:    decode.Int(p, "playerScore", NotReported),
			PlayerHealth:   decode.Int(p, "playerHealth", NotReported),
			OpponentHealth: decode.Int(p, "opponentHealth", NotReported),
		}
	case TypeGameOpponentAnswered:
		return OpponentAnswered{MatchID: matchID, QuestionIndex: decode.Int(p, "questionIndex", NotReported)}
	case TypeGameBattleUpdate:
		return BattleUpdate{
			MatchID:        matchID,
			PlayerHealth:   decode.Int(p, "playerHealth", NotReported),
			OpponentHealth: decode.Int(p, "opponentHealth", NotReported),
			PlayerScore:    decode.Int(p, "playerScore", NotReported),
			OpponentScore:  decode.Int(p, "opponentScore", NotReported),
		}
	case TypeGamePlayerDisconnected:
		return PlayerDisconnected{MatchID: matchID, UserID: decode.String(p, "userId", "")}
	case TypeGameOver:
		return decodeGameOver(p, matchID)
	}
	return GameUnknown{Type: env.Type}
}

func decodeQuestion(m map[string]any) Question {
	opts := decode.Strings(m, "options")
	if opts == nil {
		opts = decode.Strings(m, "answers")
	}
	return Question{
		QuestionID:    decode.String(m, "questionId", ""),
		Text:          decode.String(m, "questionText", decode.String(m, "question", "")),
		Options:       opts,
		CorrectAnswer: decode.String(m, "correctAnswer", ""),
		Category:      decode.String(m, "category", ""),
	}
}

// winner may be a bare id or {userId, ...}.
func decodeGameOver(p map[string]any, matchID string) GameOver {
	winner := decode.String(p, "winner", "")
	if winner == "" {
		winner = decode.String(decode.Map(p, "winner"), "userId", "")
	}
	if winner == "" {
		winner = decode.String(p, "winnerId", "")
	}
	ps, os := decode.Map(p, "playerStats"), decode.Map(p, "opponentStats")
	rw := decode.Map(p, "rewards")
	wr, lr := decode.Map(rw, "winner"), decode.Map(rw, "loser")
	if len(wr) == 0 {
		wr = decode.Map(p, "winnerRewards")
	}
	if len(lr) == 0 {
		lr = decode.Map(p, "loserRewards")
	}
	return GameOver{
		MatchID:         matchID,
		WinnerID:        winner,
		PlayerScore:     decode.Int(ps, "score", 0),
		PlayerCorrect:   decode.Int(ps, "correctAnswers", 0),
		OpponentScore:   decode.Int(os, "score", 0),
		OpponentCorrect: decode.Int(os, "correctAnswers", 0),
		HasStats:        len(ps) > 0 || len(os) > 0,
		WinnerRewards:   decodeRewards(wr),
		LoserRewards:    decodeRewards(lr),
	}
}

func decodeRewards(m map[string]any) Rewards {
	return Rewards{
		Coins:      decode.Int(m, "coins", 0),
		Points:     decode.Int(m, "points", 0),
		Experience: decode.Int(m, "experience", decode.Int(m, "xp", 0)),
	}
}

func GameConnect(matchID string) decode.Envelope {
	return decode.NewEnvelope(TypeGameConnect, map[string]any{"matchId": matchID})
}

// AnswerSubmission is the body of game.answer.submit.
type AnswerSubmission struct {
	UserID        string
	MatchID       string
	QuestionID    string
	QuestionIndex int
	AnswerIndex   int
	AnswerTimeMs  int64
	Timestamp     int64 // unix ms
}

func SubmitAnswer(s AnswerSubmission) decode.Envelope {
	return decode.NewEnvelope(TypeGameAnswerSubmit, map[string]any{
		"userId":        s.UserID,
		"matchId":       s.MatchID,
		"questionId":    s.QuestionID,
		"questionIndex": s.QuestionIndex,
		"answerIndex":   s.AnswerIndex,
		"answerTime":    s.AnswerTimeMs,
		"timestamp":     s.Timestamp,
	})
}
