package pipeline

import (
	"context"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"dream/message"
)

func statusStage(status int) StageFunc {
	return func(ctx context.Context, req *message.Message) (Result, error) {
		out := req.Clone()
		out.Status = status
		return Normal(out), nil
	}
}

func TestRunSkipsMainOnPrologueFailure(t *testing.T) {
	c := qt.New(t)
	mainCalled := false
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindPrologue, Fn: statusStage(400)},
			{Kind: KindMain, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				mainCalled = true
				return Normal(req), nil
			}},
			{Kind: KindEpilogue, Fn: statusStage(400)},
		},
		MainIndex: 1,
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(mainCalled, qt.IsFalse)
	c.Assert(resp.Status, qt.Equals, 400)
}

func TestRunExceptionTranslation(t *testing.T) {
	c := qt.New(t)
	boom := errors.New("boom")
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindMain, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				return Result{}, boom
			}},
		},
		MainIndex: 0,
		Translators: []ExceptionTranslator{
			func(ctx context.Context, err error) (*message.Message, bool) {
				if err == boom {
					m := message.New()
					m.Status = 422
					return m, true
				}
				return nil, false
			},
		},
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(resp.Status, qt.Equals, 422)
}

func TestRunUntranslatedExceptionBecomes500(t *testing.T) {
	c := qt.New(t)
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindMain, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				return Result{}, errors.New("boom")
			}},
		},
		MainIndex: 0,
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(resp.Status, qt.Equals, 500)
}

func TestRunAbortForwardsResponseAndContinues(t *testing.T) {
	c := qt.New(t)
	epilogueRan := false
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindMain, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				m := message.New()
				m.Status = 201
				return Abort(m), nil
			}},
			{Kind: KindEpilogue, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				epilogueRan = true
				return Normal(req), nil
			}},
		},
		MainIndex: 0,
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(resp.Status, qt.Equals, 201)
	c.Assert(epilogueRan, qt.IsTrue)
}

func TestRunCachedBypassesRemainingStages(t *testing.T) {
	c := qt.New(t)
	epilogueRan := false
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindMain, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				m := message.New()
				m.Status = 200
				return Cached(m), nil
			}},
			{Kind: KindEpilogue, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				epilogueRan = true
				return Normal(req), nil
			}},
		},
		MainIndex: 0,
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(resp.Status, qt.Equals, 200)
	c.Assert(epilogueRan, qt.IsFalse)
}

func TestRunAccessLevelSkipsStage(t *testing.T) {
	c := qt.New(t)
	called := false
	p := &Pipeline{
		Stages: []Stage{
			{Kind: KindMain, Access: Private, Fn: func(ctx context.Context, req *message.Message) (Result, error) {
				called = true
				return Normal(req), nil
			}},
		},
		MainIndex: 0,
	}

	resp := Run(context.Background(), p, Public, message.New())
	c.Assert(called, qt.IsFalse)
	c.Assert(resp.Status, qt.Equals, 403)
}
