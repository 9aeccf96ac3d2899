package voting

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"quorum/internal/oracle"
	"quorum/internal/unit"
	"quorum/internal/validate"
)

const (
	voteA = `{"iVar1": "count"}`
	voteB = `{"iVar1": "index"}`
)

func testUnit() *unit.Context {
	return &unit.Context{
		ID:        "decode_frame@0x401000",
		AllowList: []string{"iVar1", "uVar2"},
	}
}

func newTestEngine(o oracle.Oracle, margin, maxSamples int) *Engine {
	return NewEngine(o, validate.New(4000), margin, maxSamples, nil)
}

func TestRun_FirstToAheadByK(t *testing.T) {
	// Oracle sequence A A B A A with k=3: the lead over B grows
	// 1, 2, 1, 2, 3 and consensus lands exactly on the fifth sample.
	o := oracle.NewReplay(voteA, voteA, voteB, voteA, voteA)
	e := newTestEngine(o, 3, 100)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusConsensusReached {
		t.Fatalf("status = %s, want %s", res.Status, StatusConsensusReached)
	}
	if !res.Authoritative {
		t.Error("consensus result must be authoritative")
	}
	if res.TotalAttempts != 5 || res.ValidVotes != 5 {
		t.Errorf("attempts/valid = %d/%d, want 5/5", res.TotalAttempts, res.ValidVotes)
	}
	if res.MarginAchieved != 3 {
		t.Errorf("margin achieved = %d, want 3", res.MarginAchieved)
	}
	if res.Winner == nil || res.Winner.Payload["iVar1"] != "count" {
		t.Errorf("winner = %+v, want candidate A", res.Winner)
	}
	if o.Calls() != 5 {
		t.Errorf("oracle calls = %d, want exactly 5 (no sampling past consensus)", o.Calls())
	}
}

func TestRun_AlternatingVotesNeverConverge(t *testing.T) {
	outputs := make([]string, 20)
	for i := range outputs {
		if i%2 == 0 {
			outputs[i] = voteA
		} else {
			outputs[i] = voteB
		}
	}
	e := newTestEngine(oracle.NewReplay(outputs...), 2, 20)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusBudgetExhausted {
		t.Fatalf("status = %s, want %s", res.Status, StatusBudgetExhausted)
	}
	if res.Authoritative {
		t.Error("budget-exhausted leader must not be authoritative")
	}
	if res.TotalAttempts != 20 || res.ValidVotes != 20 {
		t.Errorf("attempts/valid = %d/%d, want 20/20", res.TotalAttempts, res.ValidVotes)
	}
	if res.MarginAchieved != 0 {
		t.Errorf("margin achieved = %d, want 0 (tied tally)", res.MarginAchieved)
	}
	if res.Winner == nil {
		t.Error("best-effort winner missing despite valid votes")
	}
}

func TestRun_RejectionsNeverVote(t *testing.T) {
	long := fmt.Sprintf(`{"iVar1": %q}`, make([]byte, 5000))
	o := oracle.NewReplay(
		long,             // response_too_long
		`not json`,       // invalid_format
		`{"ghost": "x"}`, // hallucinated_reference
		voteA, voteA,     // two clean votes, margin 2
	)
	e := newTestEngine(o, 2, 100)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusConsensusReached {
		t.Fatalf("status = %s, want consensus", res.Status)
	}
	if res.TotalAttempts != 5 || res.ValidVotes != 2 {
		t.Errorf("attempts/valid = %d/%d, want 5/2", res.TotalAttempts, res.ValidVotes)
	}
	wantDiscards := map[string]int{
		validate.ReasonTooLong:       1,
		validate.ReasonInvalidFormat: 1,
		validate.ReasonHallucinated:  1,
	}
	if diff := cmp.Diff(wantDiscards, res.Discarded); diff != "" {
		t.Errorf("discards mismatch (-want +got):\n%s", diff)
	}
	if len(res.Tally) != 1 {
		t.Errorf("tally has %d entries, want 1 (rejections must not tally)", len(res.Tally))
	}
}

func TestRun_TransientOracleErrorsConsumeBudget(t *testing.T) {
	transient := errors.New("connection reset")
	o := oracle.NewReplaySteps(
		oracle.Step{Err: transient},
		oracle.Step{Err: transient},
		oracle.Step{Output: voteA},
	)
	e := newTestEngine(o, 1, 3)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusConsensusReached {
		t.Fatalf("status = %s, want consensus", res.Status)
	}
	if res.TotalAttempts != 3 || res.ValidVotes != 1 {
		t.Errorf("attempts/valid = %d/%d, want 3/1", res.TotalAttempts, res.ValidVotes)
	}
	if res.Discarded[DiscardOracleError] != 2 {
		t.Errorf("oracle_error discards = %d, want 2", res.Discarded[DiscardOracleError])
	}
}

func TestRun_PersistentTransientFailureHitsBudget(t *testing.T) {
	steps := make([]oracle.Step, 10)
	for i := range steps {
		steps[i] = oracle.Step{Err: errors.New("timeout")}
	}
	e := newTestEngine(oracle.NewReplaySteps(steps...), 2, 10)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusBudgetExhausted {
		t.Fatalf("status = %s, want %s", res.Status, StatusBudgetExhausted)
	}
	if res.Winner != nil {
		t.Errorf("winner = %+v, want nil (no valid vote ever cast)", res.Winner)
	}
	if res.Discarded[DiscardOracleError] != 10 {
		t.Errorf("oracle_error discards = %d, want 10", res.Discarded[DiscardOracleError])
	}
}

func TestRun_FatalOracleErrorAbortsImmediately(t *testing.T) {
	o := oracle.NewReplaySteps(
		oracle.Step{Output: voteA},
		oracle.Step{Err: fmt.Errorf("wrapped: %w", oracle.ErrUnavailable)},
		oracle.Step{Output: voteA}, // must never be reached
	)
	e := newTestEngine(o, 5, 100)

	res := e.Run(context.Background(), testUnit())

	if res.Status != StatusFatalError {
		t.Fatalf("status = %s, want %s", res.Status, StatusFatalError)
	}
	if !errors.Is(res.Err, oracle.ErrUnavailable) {
		t.Errorf("result error = %v, want ErrUnavailable", res.Err)
	}
	if o.Calls() != 2 {
		t.Errorf("oracle calls = %d, want 2 (abort consumes no further budget)", o.Calls())
	}
}

func TestRun_CancellationIsCleanAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := oracle.NewReplay(voteA, voteA)
	e := newTestEngine(o, 1, 100)

	res := e.Run(ctx, testUnit())

	if res.Status != StatusBudgetExhausted {
		t.Fatalf("status = %s, want clean abort as %s", res.Status, StatusBudgetExhausted)
	}
	if o.Calls() != 0 {
		t.Errorf("oracle calls = %d, want 0 (cancellation honored before sampling)", o.Calls())
	}
}

func TestRun_ReplayIsDeterministic(t *testing.T) {
	script := []string{voteA, `not json`, voteB, voteA, voteA, voteA}

	run := func() Result {
		e := newTestEngine(oracle.NewReplay(script...), 3, 50)
		return e.Run(context.Background(), testUnit())
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Result{}, "Elapsed")); diff != "" {
		t.Errorf("replayed sessions differ (-first +second):\n%s", diff)
	}
}
