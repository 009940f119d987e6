package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

// Session is the authenticated state read off a session token. Claims
// are decoded without signature verification: the client is not the
// trust boundary, the server is, and the claims are only used to know
// who we are and when the token lapses.
type Session struct {
	Token     string
	UserId    int
	ExpiresAt time.Time
}

func (s Session) valid() bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}

// Store holds the current session and notifies listeners when it
// changes. It is the collaborator the lifecycle controller reads
// {token, isAuthenticated} from.
type Store struct {
	log *log.Logger

	mu        sync.Mutex
	session   Session
	parseErr  bool
	listeners map[int]func(token string, authenticated bool)
	nextId    int
}

func NewStore(logger *log.Logger) *Store {
	return &Store{
		log:       logger,
		listeners: make(map[int]func(string, bool)),
	}
}

// SetToken installs a new session token. An empty token is a logout.
// Tokens with unparsable or expired claims are stored but report
// not-authenticated, so the lifecycle controller never opens a channel
// with a dead credential.
func (s *Store) SetToken(token string) {
	sess := Session{Token: token}
	var parseErr bool
	if token != "" {
		parsed, err := parseClaims(token)
		if err != nil {
			s.log.Println("parse session token:", err)
			parseErr = true
		} else {
			sess = parsed
		}
	}

	s.mu.Lock()
	s.session = sess
	s.parseErr = parseErr
	s.mu.Unlock()

	s.notify()
}

// Clear drops the session. Equivalent to SetToken("").
func (s *Store) Clear() {
	s.SetToken("")
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Token
}

func (s *Store) IsAuthenticated() bool {
	sess, ok := s.Session()
	return ok && sess.Token != ""
}

// Session returns the current session and whether it is usable.
func (s *Store) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, !s.parseErr && s.session.valid()
}

// OnChange registers a listener invoked with the token and
// authentication state after every change. Returns an unsubscribe
// function safe to call multiple times.
func (s *Store) OnChange(fn func(token string, authenticated bool)) func() {
	s.mu.Lock()
	id := s.nextId
	s.nextId++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	sess := s.session
	authenticated := !s.parseErr && sess.valid()
	fns := make([]func(string, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sess.Token, authenticated)
	}
}

func parseClaims(token string) (Session, error) {
	claims := jwt.MapClaims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}

	sess := Session{Token: token}
	if exp, ok := claims["exp"].(float64); ok {
		sess.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if sub, ok := claims["sub"].(float64); ok {
		sess.UserId = int(sub)
	}
	if uid, ok := claims["user_id"].(float64); ok {
		sess.UserId = int(uid)
	}

	return sess, nil
}
