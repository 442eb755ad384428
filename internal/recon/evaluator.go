package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"botdesk/internal/models"
)

// EvalRequest carries everything the strategy evaluator needs: both
// legs' candle series, the trade parameters, and strategy metadata.
type EvalRequest struct {
	Trade       models.Trade      `json:"trade"`
	Candles     []models.Candle   `json:"candles"`
	PairCandles []models.Candle   `json:"pair_candles,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EvalDecision is the evaluator's structured verdict. Exit=false is the
// normal "no exit" answer, not an error.
type EvalDecision struct {
	Exit      bool      `json:"exit"`
	Reason    string    `json:"reason,omitempty"`
	Price     float64   `json:"price,omitempty"`
	PairPrice float64   `json:"pair_price,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// StrategyEvaluator decides strategy-specific exits. Price trades are
// evaluated in-process; spread trades delegate to an out-of-process
// bridge so strategy logic stays pluggable behind one seam.
type StrategyEvaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (*EvalDecision, error)
}

// ProcessEvaluator invokes the external strategy evaluator as a bounded
// subprocess: request JSON on stdin, decision JSON on stdout. The call
// carries a hard timeout; on expiry the process is killed and the check
// reported as failed, never as "no exit".
type ProcessEvaluator struct {
	command string
	args    []string
	timeout time.Duration
	logger  zerolog.Logger
}

// ProcessEvaluatorConfig holds configuration for the subprocess bridge.
type ProcessEvaluatorConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewProcessEvaluator creates the subprocess-backed evaluator.
func NewProcessEvaluator(cfg ProcessEvaluatorConfig) *ProcessEvaluator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ProcessEvaluator{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: timeout,
		logger:  cfg.Logger,
	}
}

// Evaluate runs one evaluator invocation for a trade.
func (e *ProcessEvaluator) Evaluate(ctx context.Context, req EvalRequest) (*EvalDecision, error) {
	if e.command == "" {
		return nil, fmt.Errorf("%w: no strategy evaluator configured", ErrExternalFailure)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding evaluator request: %v", ErrExternalFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn().Str("trade_id", req.Trade.ID).Dur("elapsed", elapsed).
			Msg("Strategy evaluator timed out, process killed")
		return nil, fmt.Errorf("%w: evaluator timed out after %s", ErrExternalFailure, e.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: evaluator exited: %v (stderr: %s)", ErrExternalFailure, err, stderr.String())
	}

	var decision EvalDecision
	if err := json.Unmarshal(stdout.Bytes(), &decision); err != nil {
		return nil, fmt.Errorf("%w: unparsable evaluator output: %v", ErrExternalFailure, err)
	}

	e.logger.Debug().Str("trade_id", req.Trade.ID).Bool("exit", decision.Exit).
		Str("reason", decision.Reason).Dur("elapsed", elapsed).
		Msg("Strategy evaluator decision")

	return &decision, nil
}
