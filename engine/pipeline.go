package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/hooks"
	"github.com/becomeliminal/nim-runtime/llm"
	"github.com/becomeliminal/nim-runtime/logger"
	"github.com/becomeliminal/nim-runtime/memory"
)

const maxLoggedText = 80

// Run outcomes reported to the metrics recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Client facing error texts. Internals never reach the client.
const (
	replyFailed   = "Something went wrong while processing your message."
	replyNotReady = "The agent is starting up, please try again shortly."
	replyLimited  = "Too many messages, please slow down."
	replyInvalid  = "The message could not be processed."
)

// run holds the state threaded through the stages of one message.
type run struct {
	id      string
	userID  string
	session *memory.Session
	wm      *memory.WorkingMemory
	hc      *hooks.Context

	msg      *core.Message
	query    string
	vector   []float32
	recalled map[string][]core.MemoryPoint
	result   *llm.Result
	resp     *core.Response
}

// Handle runs one message through the pipeline for userID and returns the
// outgoing message. On failure no working memory change is committed and the
// error is typed: *core.ValidationError, *core.StageFailure or
// core.ErrNotReady.
func (e *Engine) Handle(ctx context.Context, userID string, msg *core.Message) (*core.Response, error) {
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return nil, &core.ValidationError{Field: "text", Message: "message text is empty", Err: core.ErrEmptyMessage}
	}

	sess, err := e.sessions.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	if err := e.beginRun(ctx); err != nil {
		e.metrics.ObserveRun(OutcomeRejected, 0)
		return nil, err
	}
	defer e.runMu.RUnlock()

	start := time.Now()
	r := &run{id: uuid.New().String(), userID: userID, session: sess, msg: msg}
	e.log.Debug().
		Str("run_id", r.id).
		Str("user_id", userID).
		Str("text", logger.Truncate(msg.Text, maxLoggedText)).
		Msg("run started")

	err = sess.Transact(ctx, func(wm *memory.WorkingMemory) error {
		r.wm = wm
		r.hc = &hooks.Context{
			SessionID:     sess.ID,
			UserID:        userID,
			WorkingMemory: wm,
			Vectors:       e.vectors,
		}
		return e.execute(ctx, r)
	})
	if err != nil {
		e.metrics.ObserveRun(OutcomeFailure, time.Since(start))
		e.log.Warn().Err(err).Str("run_id", r.id).Str("user_id", userID).Msg("run aborted")
		return nil, err
	}

	e.metrics.ObserveRun(OutcomeSuccess, time.Since(start))
	e.storeEpisode(ctx, r)

	e.log.Info().
		Str("run_id", r.id).
		Str("user_id", userID).
		Dur("took", time.Since(start)).
		Msg("run complete")
	return r.resp, nil
}

// Reply is Handle for transports: every failure becomes a generic error
// response.
func (e *Engine) Reply(ctx context.Context, userID string, msg *core.Message) *core.Response {
	resp, err := e.Handle(ctx, userID, msg)
	if err == nil {
		return resp
	}
	switch {
	case errors.Is(err, core.ErrNotReady):
		return core.NewErrorResponse(replyNotReady)
	case errors.Is(err, core.ErrRateLimited):
		return core.NewErrorResponse(replyLimited)
	case errors.Is(err, core.ErrEmptyMessage):
		return core.NewErrorResponse(replyInvalid)
	default:
		return core.NewErrorResponse(replyFailed)
	}
}

func (e *Engine) execute(ctx context.Context, r *run) error {
	if err := e.runStage(ctx, core.StageIntake, func(ctx context.Context) error {
		return e.intake(ctx, r)
	}); err != nil {
		return err
	}
	if err := e.runStage(ctx, core.StageRecall, func(ctx context.Context) error {
		return e.recall(ctx, r)
	}); err != nil {
		return err
	}
	if err := e.runStage(ctx, core.StageReasoning, func(ctx context.Context) error {
		return e.reason(ctx, r)
	}); err != nil {
		return err
	}
	return e.runStage(ctx, core.StageResponse, func(ctx context.Context) error {
		return e.respond(ctx, r)
	})
}

func (e *Engine) intake(ctx context.Context, r *run) error {
	if e.guardrails != nil {
		result, err := e.guardrails.Check(ctx, r.userID)
		if err != nil {
			return fmt.Errorf("guardrails check failed: %w", err)
		}
		if !result.Allowed {
			return fmt.Errorf("request blocked by guardrails: %s: %w", result.Warning, core.ErrRateLimited)
		}
	}

	msg, err := e.registry.RunMessageReceived(ctx, r.hc, r.msg)
	if err != nil {
		return err
	}
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return core.ErrEmptyMessage
	}
	r.msg = msg
	return nil
}

func (e *Engine) recall(ctx context.Context, r *run) error {
	query, err := e.registry.RunBuildRecallQuery(ctx, r.hc, r.msg.Text)
	if err != nil {
		return err
	}
	r.query = query
	r.wm.SetMemoryQuery(query)

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed recall query: %w", err)
	}
	r.vector = vector

	params, err := e.registry.RunBeforeRecall(ctx, r.hc, query, e.vectors.Collections())
	if err != nil {
		return err
	}

	recalled, err := e.recaller.RecallAll(ctx, memory.RecallRequest{
		Vector: vector,
		UserID: r.userID,
		Params: params,
	})
	if err != nil {
		return err
	}
	r.recalled = recalled
	for _, name := range e.vectors.Collections() {
		r.wm.SetRecalled(name, recalled[name])
		e.metrics.ObserveRecall(name, len(recalled[name]))
	}

	if err := e.registry.RunQueryObservers(ctx, hooks.AfterRecall, r.hc, query); err != nil {
		return err
	}
	return e.registry.RunQueryObservers(ctx, hooks.AfterMemoriesRecalled, r.hc, query)
}

func (e *Engine) reason(ctx context.Context, r *run) error {
	memories := make(map[string][]core.MemoryPoint, len(r.recalled))
	for _, name := range e.vectors.Collections() {
		memories[name] = r.wm.Recalled(name)
	}

	result, err := e.reasoner.Reason(ctx, &llm.Request{
		SessionID:   r.session.ID,
		UserID:      r.userID,
		Text:        r.msg.Text,
		History:     r.wm.History(),
		Memories:    memories,
		Collections: e.vectors.Collections(),
	})
	if err != nil {
		return fmt.Errorf("reasoner: %w", err)
	}
	if result == nil {
		return errors.New("reasoner returned no result")
	}
	r.result = result
	return nil
}

func (e *Engine) respond(ctx context.Context, r *run) error {
	reports := make(map[string][]core.MemoryReport, len(r.recalled))
	for _, name := range e.vectors.Collections() {
		points := r.wm.Recalled(name)
		list := make([]core.MemoryReport, 0, len(points))
		for _, p := range points {
			list = append(list, p.Report())
		}
		reports[name] = list
	}

	resp := &core.Response{
		Type:    core.ResponseTypeChat,
		Content: r.result.Output,
		Why: &core.Why{
			Input:             r.msg.Text,
			Output:            r.result.Output,
			IntermediateSteps: append([]core.Step{}, r.result.Steps...),
			Memory:            reports,
		},
	}

	out, err := e.registry.RunBeforeSendResponse(ctx, r.hc, resp)
	if err != nil {
		return err
	}
	if out == nil {
		out = resp
	}
	r.resp = out

	now := time.Now()
	r.wm.AppendHistory(core.Turn{Role: core.RoleHuman, Message: r.msg.Text, When: now})
	r.wm.AppendHistory(core.Turn{Role: core.RoleAI, Message: out.Content, When: now})
	return nil
}

// storeEpisode writes the user message to the episodic collection. Failures
// are logged; the run has already succeeded.
func (e *Engine) storeEpisode(ctx context.Context, r *run) {
	if !e.episodicWrites || !e.vectors.Has(core.CollectionEpisodic) {
		return
	}

	vector := r.vector
	if r.query != r.msg.Text || len(vector) == 0 {
		var err error
		vector, err = e.embedder.Embed(ctx, r.msg.Text)
		if err != nil {
			e.log.Warn().Err(err).Str("run_id", r.id).Msg("episodic embed failed")
			return
		}
	}

	id, err := e.vectors.Add(ctx, core.CollectionEpisodic, memory.Point{
		Content: r.msg.Text,
		Vector:  vector,
		Metadata: map[string]any{
			core.MetadataSource: r.userID,
			"when":              float64(time.Now().Unix()),
			"text":              r.msg.Text,
		},
	})
	if err != nil {
		e.log.Warn().Err(err).Str("run_id", r.id).Msg("episodic write failed")
		return
	}
	e.log.Debug().Str("run_id", r.id).Str("id", id).Msg("episode stored")
}

// runStage runs fn under the stage timeout. A failure or timeout is returned
// as a *core.StageFailure. On timeout fn keeps running in the background but
// only touches the run's discarded draft.
func (e *Engine) runStage(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	return e.stage(ctx, stage, fn, false)
}

// runSettledStage is runStage for work that touches shared state: on timeout
// it still reports the failure, but only after fn has returned.
func (e *Engine) runSettledStage(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	return e.stage(ctx, stage, fn, true)
}

func (e *Engine) stage(ctx context.Context, stage string, fn func(ctx context.Context) error, settle bool) error {
	sctx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- fn(sctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-sctx.Done():
		err = fmt.Errorf("timed out after %s: %w", e.stageTimeout, sctx.Err())
		if settle {
			<-done
		}
	}
	e.metrics.ObserveStage(stage, time.Since(start), err)

	if err != nil {
		return &core.StageFailure{Stage: stage, Err: err}
	}
	return nil
}
