package app_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jiaweing/IoT-Quiz/internal/app"
	"github.com/jiaweing/IoT-Quiz/internal/domain"
	"github.com/jiaweing/IoT-Quiz/internal/infra/memory"
	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

// recordBus captures every published message for assertions.
type recordBus struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (b *recordBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, transport.Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *recordBus) byTopic(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.msgs {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (b *recordBus) last(t *testing.T, topic string) []byte {
	t.Helper()
	msgs := b.byTopic(topic)
	if len(msgs) == 0 {
		t.Fatalf("no message published on %s", topic)
	}
	return msgs[len(msgs)-1]
}

var testBase = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	engine    *app.Engine
	repo      *memory.Repository
	bus       *recordBus
	sessionID string
	question  string            // broadcast question id
	options   map[string]string // option text -> id
}

func newFixture(t *testing.T, drafts []app.QuestionDraft) *fixture {
	t.Helper()
	repo := memory.NewRepository()
	bus := &recordBus{}
	engine := app.NewEngineWithClock(repo, bus, nil, 30*time.Second, func() time.Time { return testBase })
	engine.SetClientCountDelay(0)

	sessionID, err := engine.CreateSession(context.Background(), "Quiz Night", "1221", drafts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &fixture{engine: engine, repo: repo, bus: bus, sessionID: sessionID}
}

func (f *fixture) join(t *testing.T, identity, name string) domain.Player {
	t.Helper()
	player, err := f.engine.AuthorizeJoin(context.Background(), f.sessionID, "1221", identity, name)
	if err != nil {
		t.Fatalf("join %s: %v", identity, err)
	}
	return player
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.engine.StartSession(context.Background(), f.sessionID); err != nil {
		t.Fatalf("start session: %v", err)
	}
	var payload struct {
		ID      string `json:"id"`
		Options []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"options"`
	}
	if err := json.Unmarshal(f.bus.last(t, transport.TopicQuestion), &payload); err != nil {
		t.Fatalf("decode question payload: %v", err)
	}
	f.question = payload.ID
	f.options = make(map[string]string, len(payload.Options))
	for _, o := range payload.Options {
		f.options[o.Text] = o.ID
	}
}

// submit sends a response stamped elapsed milliseconds after the broadcast.
func (f *fixture) submit(identity string, sel domain.Selection, elapsed int64) {
	f.engine.SubmitResponse(context.Background(), identity, f.question, sel, testBase.UnixMilli()+elapsed)
}

func singleDraft() []app.QuestionDraft {
	correct := 0
	return []app.QuestionDraft{{
		Text:         "Which option is right?",
		Type:         domain.SingleSelect,
		Answers:      []string{"A", "B"},
		CorrectIndex: &correct,
	}}
}

func multiDraft() []app.QuestionDraft {
	return []app.QuestionDraft{{
		Text:           "Pick all that apply",
		Type:           domain.MultiSelect,
		Answers:        []string{"A", "B", "C"},
		CorrectAnswers: []bool{true, false, true},
	}}
}

func TestSingleSelectScoringAndRevision(t *testing.T) {
	f := newFixture(t, singleDraft())
	p1 := f.join(t, "dev-1", "Alice")
	p2 := f.join(t, "dev-2", "Bob")
	f.start(t)

	// Player1 answers the correct option instantly.
	f.submit("dev-1", domain.SingleChoice{OptionID: f.options["A"]}, 0)
	if got := playerScore(t, f, "dev-1"); got != 1000 {
		t.Fatalf("expected 1000 points at elapsed=0, got %d", got)
	}
	dist, unique := f.engine.Distribution()
	if dist[f.options["A"]] != 1 || dist[f.options["B"]] != 0 || unique != 1 {
		t.Fatalf("unexpected distribution after first answer: %v unique=%d", dist, unique)
	}

	// Player2 answers wrong.
	f.submit("dev-2", domain.SingleChoice{OptionID: f.options["B"]}, 0)
	dist, unique = f.engine.Distribution()
	if dist[f.options["A"]] != 1 || dist[f.options["B"]] != 1 || unique != 2 {
		t.Fatalf("unexpected distribution after second answer: %v unique=%d", dist, unique)
	}

	// Player1 revises to the wrong option: the prior award is reverted and
	// exactly one row remains.
	f.submit("dev-1", domain.SingleChoice{OptionID: f.options["B"]}, 1000)
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("expected score to revert to 0, got %d", got)
	}
	dist, unique = f.engine.Distribution()
	if dist[f.options["A"]] != 0 || dist[f.options["B"]] != 2 || unique != 2 {
		t.Fatalf("unexpected distribution after revision: %v unique=%d", dist, unique)
	}
	rows, err := f.repo.Responses(context.Background(), p1.ID, f.question)
	if err != nil {
		t.Fatalf("load responses: %v", err)
	}
	if len(rows) != 1 || rows[0].OptionID != f.options["B"] || rows[0].PointsAwarded != 0 {
		t.Fatalf("expected one replaced row for option B, got %+v", rows)
	}

	var score struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	}
	if err := json.Unmarshal(f.bus.last(t, transport.PlayerScoreTopic(p2.ID)), &score); err != nil {
		t.Fatalf("decode score payload: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("expected Bob's broadcast score 0, got %d", score.Score)
	}
}

func TestSingleSelectTimeDecay(t *testing.T) {
	cases := []struct {
		identity string
		elapsed  int64
		want     int
	}{
		{"dev-0", 0, 1000},
		{"dev-half", 15000, 500},
		{"dev-edge", 29999, 0},
	}
	f := newFixture(t, singleDraft())
	for _, tc := range cases {
		f.join(t, tc.identity, tc.identity)
	}
	late := f.join(t, "dev-late", "Late")
	f.start(t)

	for _, tc := range cases {
		f.submit(tc.identity, domain.SingleChoice{OptionID: f.options["A"]}, tc.elapsed)
		if got := playerScore(t, f, tc.identity); got != tc.want {
			t.Fatalf("elapsed=%d: expected %d points, got %d", tc.elapsed, tc.want, got)
		}
	}

	// One past the limit is dropped outright: no row, no score, no
	// distribution change.
	before, uniqueBefore := f.engine.Distribution()
	f.submit("dev-late", domain.SingleChoice{OptionID: f.options["A"]}, 30001)
	if got := playerScore(t, f, "dev-late"); got != 0 {
		t.Fatalf("late single-select must not score, got %d", got)
	}
	rows, _ := f.repo.Responses(context.Background(), late.ID, f.question)
	if len(rows) != 0 {
		t.Fatalf("late single-select must not write rows, got %+v", rows)
	}
	after, uniqueAfter := f.engine.Distribution()
	if uniqueBefore != uniqueAfter || after[f.options["A"]] != before[f.options["A"]] {
		t.Fatalf("late single-select must not touch distribution")
	}
}

func TestMultiSelectExactMatchAndResubmission(t *testing.T) {
	f := newFixture(t, multiDraft())
	player := f.join(t, "dev-1", "Alice")
	f.start(t)
	ctx := context.Background()

	// Subset only: no partial credit, but rows are written.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["A"]}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("subset must score 0, got %d", got)
	}
	rows, _ := f.repo.Responses(ctx, player.ID, f.question)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for 1 selected option, got %d", len(rows))
	}

	// Exact match at half time: 500 points, old rows replaced by two.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["C"], f.options["A"]}}, 15000)
	if got := playerScore(t, f, "dev-1"); got != 500 {
		t.Fatalf("exact match at 15000ms must score 500, got %d", got)
	}
	rows, _ = f.repo.Responses(ctx, player.ID, f.question)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after resubmission, got %d", len(rows))
	}
	for _, row := range rows {
		if !row.IsCorrect || row.PointsAwarded != 500 {
			t.Fatalf("rows must share the submission's correctness and points, got %+v", row)
		}
	}
	dist, unique := f.engine.Distribution()
	if dist[f.options["A"]] != 1 || dist[f.options["B"]] != 0 || dist[f.options["C"]] != 1 {
		t.Fatalf("unexpected distribution: %v", dist)
	}
	if unique != 1 {
		t.Fatalf("one player in two sets must count once, got unique=%d", unique)
	}

	// Late resubmission is accepted at zero points; delta pulls the score
	// down and clamps at zero.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["A"], f.options["C"]}}, 30001)
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("late multi-select must land at score 0, got %d", got)
	}
	rows, _ = f.repo.Responses(ctx, player.ID, f.question)
	if len(rows) != 2 {
		t.Fatalf("late multi-select must still write its rows, got %d", len(rows))
	}
}

func TestMultiSelectEmptySetMatchesEmptyCorrectSet(t *testing.T) {
	f := newFixture(t, []app.QuestionDraft{{
		Text:           "Select every true statement",
		Type:           domain.MultiSelect,
		Answers:        []string{"A", "B"},
		CorrectAnswers: []bool{false, false},
	}})
	player := f.join(t, "dev-1", "Alice")
	f.start(t)
	ctx := context.Background()

	// Selecting nothing is the exact match here.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 1000 {
		t.Fatalf("empty selection against empty correct set must score 1000, got %d", got)
	}
	rows, err := f.repo.Responses(ctx, player.ID, f.question)
	if err != nil {
		t.Fatalf("load responses: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("empty selection must persist no rows, got %+v", rows)
	}

	// Resubmitting the same empty selection is idempotent.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 1000 {
		t.Fatalf("resubmitting the empty selection must not change the score, got %d", got)
	}

	// Revising to a non-empty (wrong) selection reverts the award.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["A"]}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("revision to a wrong selection must revert to 0, got %d", got)
	}
	rows, _ = f.repo.Responses(ctx, player.ID, f.question)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after revision, got %d", len(rows))
	}
}

func TestMultiSelectForeignOptionIDsNeverPersist(t *testing.T) {
	f := newFixture(t, multiDraft())
	player := f.join(t, "dev-1", "Alice")
	f.start(t)
	ctx := context.Background()

	// A foreign id breaks exact-match correctness but must not reach the
	// response table.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["A"], f.options["C"], "not-an-option"}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("selection with a foreign id must not score, got %d", got)
	}
	rows, err := f.repo.Responses(ctx, player.ID, f.question)
	if err != nil {
		t.Fatalf("load responses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected only the question's own options persisted, got %d rows", len(rows))
	}
	for _, row := range rows {
		if row.OptionID != f.options["A"] && row.OptionID != f.options["C"] {
			t.Fatalf("foreign option id leaked into responses: %+v", row)
		}
	}

	// A clean resubmission still grades normally.
	f.submit("dev-1", domain.MultiChoice{OptionIDs: []string{f.options["A"], f.options["C"]}}, 0)
	if got := playerScore(t, f, "dev-1"); got != 1000 {
		t.Fatalf("exact resubmission must score 1000, got %d", got)
	}
}

func TestJoinWindowAndAuth(t *testing.T) {
	f := newFixture(t, singleDraft())
	ctx := context.Background()

	if _, err := f.engine.AuthorizeJoin(ctx, "nope", "1221", "dev-1", "Alice"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.engine.AuthorizeJoin(ctx, f.sessionID, "9999", "dev-1", "Alice"); err != domain.ErrInvalidAuth {
		t.Fatalf("expected ErrInvalidAuth, got %v", err)
	}

	first := f.join(t, "dev-1", "Alice")
	again := f.join(t, "dev-1", "Alice")
	if first.ID != again.ID {
		t.Fatalf("repeated join must be idempotent: %s vs %s", first.ID, again.ID)
	}

	f.start(t)
	if _, err := f.engine.AuthorizeJoin(ctx, f.sessionID, "1221", "dev-2", "Bob"); err != domain.ErrSessionActive {
		t.Fatalf("join after start must fail with ErrSessionActive, got %v", err)
	}
}

func TestResetScoresKeepsResponseHistory(t *testing.T) {
	f := newFixture(t, singleDraft())
	player := f.join(t, "dev-1", "Alice")
	f.start(t)
	f.submit("dev-1", domain.SingleChoice{OptionID: f.options["A"]}, 0)
	if got := playerScore(t, f, "dev-1"); got != 1000 {
		t.Fatalf("precondition: expected 1000, got %d", got)
	}

	if err := f.engine.ResetScores(context.Background(), f.sessionID); err != nil {
		t.Fatalf("reset scores: %v", err)
	}
	if got := playerScore(t, f, "dev-1"); got != 0 {
		t.Fatalf("expected score 0 after reset, got %d", got)
	}
	var score struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(f.bus.last(t, transport.PlayerScoreTopic(player.ID)), &score); err != nil {
		t.Fatalf("decode score payload: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("expected broadcast score 0, got %d", score.Score)
	}
	rows, _ := f.repo.Responses(context.Background(), player.ID, f.question)
	if len(rows) != 1 {
		t.Fatalf("reset must not delete response history, got %d rows", len(rows))
	}
}

func TestCloseQuestionIsIdempotent(t *testing.T) {
	f := newFixture(t, singleDraft())
	f.join(t, "dev-1", "Alice")
	f.start(t)
	ctx := context.Background()

	if err := f.engine.CloseQuestion(ctx, f.sessionID, f.question); err != nil {
		t.Fatalf("close question: %v", err)
	}
	if err := f.engine.CloseQuestion(ctx, f.sessionID, f.question); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := len(f.bus.byTopic(transport.TopicQuestionDone)); got != 1 {
		t.Fatalf("expected exactly one closed event, got %d", got)
	}
}

func TestDeadlineAutoClosesQuestion(t *testing.T) {
	repo := memory.NewRepository()
	bus := &recordBus{}
	engine := app.NewEngine(repo, bus, nil, 50*time.Millisecond)
	engine.SetClientCountDelay(0)
	ctx := context.Background()

	sessionID, err := engine.CreateSession(ctx, "Speed Round", "1221", singleDraft())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := engine.AuthorizeJoin(ctx, sessionID, "1221", "dev-1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.StartSession(ctx, sessionID); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(bus.byTopic(transport.TopicQuestionDone)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("question never auto-closed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A manual close after the deadline fired is a no-op.
	var payload struct {
		QuestionID string `json:"questionId"`
	}
	_ = json.Unmarshal(bus.last(t, transport.TopicQuestionDone), &payload)
	if err := engine.CloseQuestion(ctx, sessionID, payload.QuestionID); err != nil {
		t.Fatalf("close after auto-close: %v", err)
	}
	if got := len(bus.byTopic(transport.TopicQuestionDone)); got != 1 {
		t.Fatalf("expected exactly one closed event, got %d", got)
	}
}

func TestQuestionPayloadNeverLeaksCorrectness(t *testing.T) {
	f := newFixture(t, singleDraft())
	f.join(t, "dev-1", "Alice")
	f.start(t)

	payload := string(f.bus.last(t, transport.TopicQuestion))
	if strings.Contains(payload, "isCorrect") || strings.Contains(payload, "correctOptionIds") {
		t.Fatalf("question payload leaks correctness: %s", payload)
	}

	var key struct {
		QuestionID       string   `json:"questionId"`
		CorrectOptionIDs []string `json:"correctOptionIds"`
	}
	if err := json.Unmarshal(f.bus.last(t, transport.TopicQuestionKey), &key); err != nil {
		t.Fatalf("decode answer key: %v", err)
	}
	if key.QuestionID != f.question || len(key.CorrectOptionIDs) != 1 || key.CorrectOptionIDs[0] != f.options["A"] {
		t.Fatalf("unexpected answer key: %+v", key)
	}
}

func TestBroadcastPastLastQuestionSignalsFinished(t *testing.T) {
	f := newFixture(t, singleDraft())
	f.join(t, "dev-1", "Alice")
	f.start(t)

	finished, err := f.engine.BroadcastQuestion(context.Background(), f.sessionID, 1)
	if err != nil {
		t.Fatalf("broadcast past end: %v", err)
	}
	if !finished {
		t.Fatalf("expected finished signal past the last question")
	}
}

func TestSubmitWithoutActiveSessionIsDropped(t *testing.T) {
	f := newFixture(t, singleDraft())
	player := f.join(t, "dev-1", "Alice")

	// No StartSession: nothing may be scored or published.
	f.engine.SubmitResponse(context.Background(), "dev-1", "some-question", domain.SingleChoice{OptionID: "o1"}, testBase.UnixMilli())
	if msgs := f.bus.byTopic(transport.PlayerScoreTopic(player.ID)); len(msgs) != 0 {
		t.Fatalf("expected no score events, got %d", len(msgs))
	}
}

func TestCloneSessionCopiesContent(t *testing.T) {
	f := newFixture(t, multiDraft())
	ctx := context.Background()

	cloneID, err := f.engine.CloneSession(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if cloneID == f.sessionID {
		t.Fatalf("clone must get a fresh id")
	}
	clone, err := f.repo.GetSession(ctx, cloneID)
	if err != nil {
		t.Fatalf("load clone: %v", err)
	}
	if clone.Status != domain.StatusPending {
		t.Fatalf("clone must start pending, got %s", clone.Status)
	}
	count, _ := f.repo.CountQuestions(ctx, cloneID)
	if count != 1 {
		t.Fatalf("expected 1 cloned question, got %d", count)
	}
	question, err := f.repo.QuestionByOrdinal(ctx, cloneID, 0)
	if err != nil {
		t.Fatalf("cloned question: %v", err)
	}
	options, _ := f.repo.OptionsForQuestion(ctx, question.ID)
	if len(options) != 3 {
		t.Fatalf("expected 3 cloned options, got %d", len(options))
	}
}

func playerScore(t *testing.T, f *fixture, identity string) int {
	t.Helper()
	player, err := f.repo.PlayerByIdentity(context.Background(), f.sessionID, identity)
	if err != nil {
		t.Fatalf("load player %s: %v", identity, err)
	}
	return player.Score
}
