package game

import (
	"context"

	"github.com/kiliankoe/twentyq/internal/schema"
)

// Service pairs an Engine with a Manager so transports can address sessions
// by ID. Every method returns the session snapshot taken after the
// operation, also when the operation failed.
type Service struct {
	Engine  *Engine
	Manager *Manager
}

func NewService(engine *Engine, manager *Manager) *Service {
	return &Service{Engine: engine, Manager: manager}
}

// Create starts a session and registers it. A failed secret pick still
// registers the lost session so its failure can be inspected.
func (s *Service) Create(ctx context.Context, gameType GameType, budget int) (Session, error) {
	sess, err := s.Engine.Start(ctx, gameType, budget)
	if sess == nil {
		return Session{}, err
	}
	s.Manager.Add(sess)
	return sess.clone(), err
}

func (s *Service) Get(id string) (Session, error) {
	return s.Manager.Get(id)
}

func (s *Service) SetSecret(id, title string) (Session, error) {
	return s.Manager.Do(id, func(sess *Session) error {
		return s.Engine.SetSecret(sess, title)
	})
}

func (s *Service) Ask(ctx context.Context, id, question string) (Session, schema.Classified, error) {
	var reply schema.Classified
	snap, err := s.Manager.Do(id, func(sess *Session) error {
		var err error
		reply, err = s.Engine.Ask(ctx, sess, question)
		return err
	})
	return snap, reply, err
}

func (s *Service) Guess(id, guess string) (Session, float64, error) {
	var score float64
	snap, err := s.Manager.Do(id, func(sess *Session) error {
		var err error
		score, err = s.Engine.Guess(sess, guess)
		return err
	})
	return snap, score, err
}

func (s *Service) Turn(ctx context.Context, id, answer string) (Session, schema.Classified, error) {
	var reply schema.Classified
	snap, err := s.Manager.Do(id, func(sess *Session) error {
		var err error
		reply, err = s.Engine.Turn(ctx, sess, answer)
		return err
	})
	return snap, reply, err
}
