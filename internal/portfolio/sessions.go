package portfolio

import (
	"context"
	"log"
	"sync"
)

// FeedTracker recibe los ids que deben refrescarse en segundo plano.
// Cada llamada reemplaza el conjunto anterior.
type FeedTracker interface {
	SetTracked(feedIDs ...string)
}

type session struct {
	done      chan struct{}
	portfolio *Portfolio
	err       error
}

func (s *session) loaded() bool {
	select {
	case <-s.done:
		return s.err == nil
	default:
		return false
	}
}

// Sessions mantiene un portafolio cargado por usuario
type Sessions struct {
	deps    Deps
	tracker FeedTracker

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(deps Deps, tracker FeedTracker) *Sessions {
	return &Sessions{
		deps:     deps,
		tracker:  tracker,
		sessions: make(map[string]*session),
	}
}

// Get devuelve el portafolio del usuario, cargándolo la primera vez.
// La carga es compartida: si ctx se cancela sólo este llamador deja de esperar.
func (s *Sessions) Get(ctx context.Context, userID string) (*Portfolio, error) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{portfolio: New(userID, "", s.deps), done: make(chan struct{})}
		s.sessions[userID] = sess
		go s.load(context.WithoutCancel(ctx), userID, sess)
	}
	s.mu.Unlock()

	select {
	case <-sess.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if sess.err != nil {
		return nil, sess.err
	}

	s.syncTracked()
	return sess.portfolio, nil
}

func (s *Sessions) load(ctx context.Context, userID string, sess *session) {
	defer close(sess.done)
	sess.err = sess.portfolio.Load(ctx)
	if sess.err == nil {
		return
	}

	s.mu.Lock()
	if s.sessions[userID] == sess {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	sess.portfolio.Close()
	log.Printf("Error al cargar portafolio del usuario %s: %v", userID, sess.err)
}

// syncTracked publica en el tracker la unión de ids de los portafolios cargados
func (s *Sessions) syncTracked() {
	if s.tracker == nil {
		return
	}

	s.mu.Lock()
	seen := make(map[string]struct{})
	var ids []string
	for _, sess := range s.sessions {
		if !sess.loaded() {
			continue
		}
		for _, id := range sess.portfolio.FeedIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	s.tracker.SetTracked(ids...)
}

// Evict descarta el portafolio del usuario y deja de seguir sus ids
func (s *Sessions) Evict(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.portfolio.Close()
	s.syncTracked()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll descarta todos los portafolios
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.portfolio.Close()
	}
	s.syncTracked()
}
