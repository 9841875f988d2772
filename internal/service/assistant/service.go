package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"modalhub/internal/logging"
	"modalhub/internal/models"
)

// Recorder receives assistant events for metrics.
type Recorder interface {
	IntentClassified(intent string)
	GenerationFailed(generator string)
	SessionCreated()
}

type nopRecorder struct{}

func (nopRecorder) IntentClassified(string) {}
func (nopRecorder) GenerationFailed(string) {}
func (nopRecorder) SessionCreated()         {}

// Dispatcher schedules generator calls. Submit returns once fn has run, or
// with an error when fn was never run or the caller stopped waiting.
type Dispatcher interface {
	Submit(ctx context.Context, key string, fn func(ctx context.Context)) error
	Cancel(key string)
}

// GenerationError reports a generator failure.
type GenerationError struct {
	Generator string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generator: %v", e.Generator, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ScheduleError reports a generation the dispatcher refused or abandoned; the
// generator did not produce a result.
type ScheduleError struct {
	Err error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("schedule generation: %v", e.Err)
}

func (e *ScheduleError) Unwrap() error {
	return e.Err
}

// Response is the chat reply returned to clients.
type Response struct {
	Reply            string         `json:"reply"`
	SessionID        string         `json:"session_id"`
	GeneratedContent map[string]any `json:"generated_content"`
	GeneratorUsed    string         `json:"generator_used"`
}

// Options configure a Service. Nil fields fall back to defaults.
type Options struct {
	Generators map[Intent]Generator
	Policy     Policy
	Logger     *logging.Logger
	Recorder   Recorder
	Dispatcher Dispatcher
}

// Service routes chat messages to generators and records the conversation.
type Service struct {
	sessions   SessionStore
	generators map[Intent]Generator
	logger     *logging.Logger
	recorder   Recorder
	dispatcher Dispatcher
	now        func() time.Time
}

// NewService builds a Service over the given session store.
func NewService(sessions SessionStore, opts Options) *Service {
	gens := DefaultGenerators()
	for intent, g := range opts.Generators {
		if g != nil {
			gens[intent] = g
		}
	}
	for intent, g := range gens {
		gens[intent] = WithPolicy(g, opts.Policy)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		sessions:   sessions,
		generators: gens,
		logger:     logger.Named("assistant"),
		recorder:   recorder,
		dispatcher: opts.Dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateSession returns id when it names a live session, otherwise a new id.
func (s *Service) GetOrCreateSession(ctx context.Context, id string) (string, error) {
	se, err := s.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	return se.ID, nil
}

func (s *Service) resolve(ctx context.Context, id string) (*models.Session, error) {
	se, created, err := s.sessions.GetOrCreate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if created {
		s.recorder.SessionCreated()
		s.logger.Debug(logging.WithSessionID(ctx, se.ID), "session created")
	}
	return se, nil
}

// HandleChat classifies message, runs the matching generator and appends both
// turns to the session. A failed generation leaves the history untouched.
func (s *Service) HandleChat(ctx context.Context, message, sessionID string) (*Response, error) {
	se, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, se.ID)

	intent := ClassifyIntent(message)
	s.recorder.IntentClassified(string(intent))

	gen, ok := s.generators[intent]
	if !ok {
		return nil, &GenerationError{Generator: string(intent), Err: errors.New("no generator registered")}
	}
	res, err := s.generate(ctx, se.ID, gen, Request{Prompt: message, History: se.History})
	var schedErr *ScheduleError
	if errors.As(err, &schedErr) {
		s.logger.Warn(ctx, "generation not scheduled", zap.Error(schedErr.Err))
		return nil, err
	}
	if err != nil {
		s.recorder.GenerationFailed(string(intent))
		s.logger.Warn(ctx, "generation failed", zap.String("intent", string(intent)), zap.Error(err))
		return nil, &GenerationError{Generator: string(intent), Err: err}
	}
	if res.Generator == "" {
		res.Generator = string(intent)
	}

	now := s.now()
	_, err = s.sessions.Append(ctx, se.ID,
		models.Message{Role: models.RoleUser, Content: message, Timestamp: now},
		models.Message{Role: models.RoleAssistant, Content: res.Reply, Timestamp: now, Generator: res.Generator},
	)
	if err != nil {
		return nil, fmt.Errorf("append turns: %w", err)
	}
	s.logger.Info(ctx, "chat handled", zap.String("intent", string(intent)), zap.String("generator", res.Generator))

	return &Response{
		Reply:            res.Reply,
		SessionID:        se.ID,
		GeneratedContent: res.Content,
		GeneratorUsed:    res.Generator,
	}, nil
}

// generate runs gen inline or through the dispatcher keyed by session.
func (s *Service) generate(ctx context.Context, sessionID string, gen Generator, req Request) (*Result, error) {
	if s.dispatcher == nil {
		return gen.Generate(ctx, req)
	}
	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)
	err := s.dispatcher.Submit(ctx, sessionID, func(ctx context.Context) {
		res, err := gen.Generate(ctx, req)
		out <- outcome{res, err}
	})
	if err != nil {
		return nil, &ScheduleError{Err: err}
	}
	o := <-out
	return o.res, o.err
}

// History returns the session with its turns.
func (s *Service) History(ctx context.Context, id string) (*models.Session, error) {
	return s.sessions.Get(ctx, id)
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	if s.dispatcher != nil {
		s.dispatcher.Cancel(id)
	}
	s.logger.Info(logging.WithSessionID(ctx, id), "session deleted")
	return nil
}
