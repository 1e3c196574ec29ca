package app

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/jiaweing/IoT-Quiz/internal/domain"
	"github.com/jiaweing/IoT-Quiz/internal/transport"
)

// SubmitResponse scores one answer submission. Invalid submissions (stale
// session, unknown question or option, late single-select) are dropped with a
// log line and no reply: an error event back to the sender would hand
// cheating clients a timing oracle.
//
// The runtime lock is held for the whole path, persistence included, so the
// score -> rows -> distribution sequence is atomic with respect to every
// other submission and the close deadline.
func (e *Engine) SubmitResponse(ctx context.Context, identity, questionID string, selection domain.Selection, clientTimestamp int64) {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()

	active := e.rt.activeSession
	if active == "" {
		log.Printf("[SECURITY] drop response from %s: %v", identity, domain.ErrNoActiveSession)
		return
	}
	player, err := e.repo.PlayerByIdentity(ctx, active, identity)
	if err != nil {
		log.Printf("[SECURITY] drop response from %s: %v", identity, err)
		return
	}
	question, err := e.repo.QuestionByID(ctx, questionID)
	if err != nil {
		log.Printf("[QUIZ] drop response from %s: %v", identity, err)
		return
	}
	if question.SessionID != active {
		log.Printf("[SECURITY] drop response from %s: question %s not in active session", identity, questionID)
		return
	}

	elapsed := e.elapsedLocked(questionID, clientTimestamp)
	latency := e.rt.now().UnixMilli() - clientTimestamp
	log.Printf("[QUIZ] response from %s for question %s: elapsed=%dms latency=%dms", identity, questionID, elapsed, latency)

	switch sel := selection.(type) {
	case domain.SingleChoice:
		e.scoreSingleLocked(ctx, player, question, sel.OptionID, elapsed)
	case domain.MultiChoice:
		e.scoreMultiLocked(ctx, player, question, sel.OptionIDs, elapsed)
	default:
		log.Printf("[QUIZ] drop response from %s: unknown selection shape", identity)
	}
}

// elapsedLocked computes the response time against the question's broadcast
// timestamp. A missing timestamp means the question was never broadcast by
// this process; logged, and the response is treated as instant.
func (e *Engine) elapsedLocked(questionID string, clientTimestamp int64) int64 {
	broadcastAt, ok := e.rt.broadcastAt[questionID]
	if !ok {
		log.Printf("[QUIZ] no broadcast timestamp recorded for question %s", questionID)
		return 0
	}
	return clientTimestamp - broadcastAt
}

func (e *Engine) scoreSingleLocked(ctx context.Context, player domain.Player, question domain.Question, optionID string, elapsed int64) {
	limit := e.timeLimit.Milliseconds()
	if elapsed > limit {
		log.Printf("[QUIZ] drop late single-select from %s: %dms > %dms", player.Identity, elapsed, limit)
		return
	}
	option, err := e.repo.OptionByID(ctx, question.ID, optionID)
	if err != nil {
		log.Printf("[QUIZ] drop response from %s: %v", player.Identity, err)
		return
	}
	points := awardPoints(question.Points, option.IsCorrect, elapsed, limit)

	previous, revised, err := e.repo.Response(ctx, player.ID, question.ID)
	if err != nil {
		log.Printf("[QUIZ] load previous response for %s: %v", player.ID, err)
		return
	}

	var newScore int
	if revised {
		// Resubmission replaces the row in place; the prior award is
		// subtracted before the new one lands.
		newScore = clampScore(player.Score - previous.PointsAwarded + points)
		row := previous
		row.OptionID = option.ID
		row.ResponseTimeMs = elapsed
		row.IsCorrect = option.IsCorrect
		row.PointsAwarded = points
		if err := e.repo.ReplaceResponse(ctx, &row); err != nil {
			log.Printf("[QUIZ] replace response for %s: %v", player.ID, err)
			return
		}
	} else {
		newScore = clampScore(player.Score + points)
		row := domain.Response{
			ID:             uuid.NewString(),
			SessionID:      question.SessionID,
			QuestionID:     question.ID,
			PlayerID:       player.ID,
			OptionID:       option.ID,
			ResponseTimeMs: elapsed,
			IsCorrect:      option.IsCorrect,
			PointsAwarded:  points,
		}
		if err := e.repo.InsertResponse(ctx, &row); err != nil {
			log.Printf("[QUIZ] insert response for %s: %v", player.ID, err)
			return
		}
	}
	if err := e.repo.SetPlayerScore(ctx, player.ID, newScore); err != nil {
		log.Printf("[QUIZ] persist score for %s: %v", player.ID, err)
		return
	}

	// Durable writes succeeded; only now may the live distribution move.
	if revised {
		e.rt.removeRespondentLocked(previous.OptionID, player.ID)
	}
	e.rt.addRespondentLocked(option.ID, player.ID)

	e.publish(ctx, transport.PlayerScoreTopic(player.ID), scorePayload{ID: player.ID, Score: newScore})
	e.publishDistributionLocked(ctx)
	log.Printf("[QUIZ] %s answered %s; score %d", player.Identity, map[bool]string{true: "correctly", false: "incorrectly"}[option.IsCorrect], newScore)
}

func (e *Engine) scoreMultiLocked(ctx context.Context, player domain.Player, question domain.Question, optionIDs []string, elapsed int64) {
	limit := e.timeLimit.Milliseconds()
	// An empty selection is a valid answer: a question whose correct set is
	// empty is answered correctly by selecting nothing.
	submitted := dedupeSorted(optionIDs)

	// Option ids from other questions never reach the response table, but
	// they still count against exact-match correctness below.
	options, err := e.repo.OptionsForQuestion(ctx, question.ID)
	if err != nil {
		log.Printf("[QUIZ] load options for question %s: %v", question.ID, err)
		return
	}
	known := make(map[string]struct{}, len(options))
	for _, option := range options {
		known[option.ID] = struct{}{}
	}
	persisted := make([]string, 0, len(submitted))
	for _, optionID := range submitted {
		if _, ok := known[optionID]; ok {
			persisted = append(persisted, optionID)
		}
	}
	if len(persisted) < len(submitted) {
		log.Printf("[QUIZ] %s submitted %d option ids foreign to question %s", player.Identity, len(submitted)-len(persisted), question.ID)
	}

	correct, err := e.answers.CorrectOptionIDs(ctx, question.ID)
	if err != nil {
		log.Printf("[QUIZ] load correct set for question %s: %v", question.ID, err)
		return
	}
	sort.Strings(correct)
	exact := equalSets(submitted, correct)

	// Late multi-select submissions are accepted at zero points rather than
	// dropped, unlike single-select. Intentional asymmetry.
	factor := 0.0
	if elapsed < limit {
		factor = 1 - float64(elapsed)/float64(limit)
	}
	points := 0
	if exact {
		points = int(math.Round(float64(question.Points) * factor))
	}

	previousRows, err := e.repo.Responses(ctx, player.ID, question.ID)
	if err != nil {
		log.Printf("[QUIZ] load previous responses for %s: %v", player.ID, err)
		return
	}
	// Every row of a multi-select submission carries the same points value;
	// the previous total is that one value, not a per-row sum. A previous
	// submission that left no rows has its award remembered in the runtime.
	awardKey := question.ID + "|" + player.ID
	previousPoints := e.rt.rowlessAwards[awardKey]
	if len(previousRows) > 0 {
		previousPoints = previousRows[0].PointsAwarded
	}
	newScore := clampScore(player.Score + points - previousPoints)

	if len(previousRows) > 0 {
		if err := e.repo.DeleteResponses(ctx, player.ID, question.ID); err != nil {
			log.Printf("[QUIZ] delete previous responses for %s: %v", player.ID, err)
			return
		}
	}
	for _, optionID := range persisted {
		row := domain.Response{
			ID:             uuid.NewString(),
			SessionID:      question.SessionID,
			QuestionID:     question.ID,
			PlayerID:       player.ID,
			OptionID:       optionID,
			ResponseTimeMs: elapsed,
			IsCorrect:      exact,
			PointsAwarded:  points,
		}
		if err := e.repo.InsertResponse(ctx, &row); err != nil {
			log.Printf("[QUIZ] insert response for %s: %v", player.ID, err)
			return
		}
	}
	if err := e.repo.SetPlayerScore(ctx, player.ID, newScore); err != nil {
		log.Printf("[QUIZ] persist score for %s: %v", player.ID, err)
		return
	}
	if len(persisted) == 0 {
		e.rt.rowlessAwards[awardKey] = points
	} else {
		delete(e.rt.rowlessAwards, awardKey)
	}

	// Unconditional removal first handles shrinking, growing, or wholly
	// changed selections between resubmissions.
	e.rt.removeEverywhereLocked(player.ID)
	for _, optionID := range persisted {
		e.rt.addRespondentLocked(optionID, player.ID)
	}

	e.publish(ctx, transport.PlayerScoreTopic(player.ID), scorePayload{ID: player.ID, Score: newScore})
	e.publishDistributionLocked(ctx)
	log.Printf("[QUIZ] %s multi-select processed: exact=%v points=%d score=%d", player.Identity, exact, points, newScore)
}

// publishDistributionLocked folds the respondent sets into per-option counts
// plus the size of their union and republishes the snapshot.
func (e *Engine) publishDistributionLocked(ctx context.Context) {
	distribution := make(map[string]int, len(e.rt.respondents))
	union := make(map[string]struct{})
	for optionID, set := range e.rt.respondents {
		distribution[optionID] = len(set)
		for playerID := range set {
			union[playerID] = struct{}{}
		}
	}
	e.publish(ctx, transport.TopicDistribution, distributionPayload{
		Distribution:      distribution,
		UniqueRespondents: len(union),
	})
}

// Distribution returns the live per-option counts and unique-respondent
// count. Used by tests and the dashboard poll fallback.
func (e *Engine) Distribution() (map[string]int, int) {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	distribution := make(map[string]int, len(e.rt.respondents))
	union := make(map[string]struct{})
	for optionID, set := range e.rt.respondents {
		distribution[optionID] = len(set)
		for playerID := range set {
			union[playerID] = struct{}{}
		}
	}
	return distribution, len(union)
}

func timeFactor(elapsedMs, limitMs int64) float64 {
	factor := 1 - float64(elapsedMs)/float64(limitMs)
	if factor < 0 {
		return 0
	}
	return factor
}

func awardPoints(budget int, correct bool, elapsedMs, limitMs int64) int {
	if !correct {
		return 0
	}
	return int(math.Round(float64(budget) * timeFactor(elapsedMs, limitMs)))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	return score
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
