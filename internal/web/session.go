package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/render"
)

const sessionCookieName = "policydash_session"

// session is the controller state of one browser: its notification banner and
// the request generation of every region.
type session struct {
	id    string
	notes *notify.Center

	mu       sync.Mutex
	gens     map[render.Region]uint64
	lastSeen time.Time
	streams  int
}

// begin starts a new exchange for region and returns its generation. Any
// exchange started earlier for the same region becomes stale.
func (s *session) begin(r render.Region) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[r]++
	return s.gens[r]
}

// current reports whether gen is still the newest exchange for region.
func (s *session) current(r render.Region, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[r] == gen
}

// invalidate makes every in-flight exchange for region stale.
func (s *session) invalidate(r render.Region) {
	s.mu.Lock()
	s.gens[r]++
	s.mu.Unlock()
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// attach marks an open notification stream. A session with an attached
// stream is never evicted; the returned func detaches it.
func (s *session) attach() func() {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.streams--
			s.mu.Unlock()
		})
	}
}

// idle reports whether the session has no open stream and made no request
// within ttl of now.
func (s *session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams == 0 && now.Sub(s.lastSeen) > ttl
}

type sessionRegistry struct {
	ttl     time.Duration
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	byID      map[string]*session
	lastSweep time.Time
}

func newSessionRegistry(notificationTTL, idleTTL time.Duration) *sessionRegistry {
	return &sessionRegistry{
		ttl:     notificationTTL,
		idleTTL: idleTTL,
		now:     time.Now,
		byID:    map[string]*session{},
	}
}

// ensure returns the request's session, creating it and setting the cookie when
// the request carries none. It must run before the response is committed.
func (r *sessionRegistry) ensure(w http.ResponseWriter, req *http.Request) *session {
	if c, err := req.Cookie(sessionCookieName); err == nil {
		if s := r.lookup(strings.TrimSpace(c.Value)); s != nil {
			return s
		}
	}
	s := r.create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

func (r *sessionRegistry) lookup(id string) *session {
	if id == "" {
		return nil
	}
	now := r.now()
	r.mu.Lock()
	r.sweepLocked(now)
	s := r.byID[id]
	r.mu.Unlock()
	if s != nil {
		s.touch(now)
	}
	return s
}

func (r *sessionRegistry) create() *session {
	now := r.now()
	s := &session{
		id:       uuid.NewString(),
		notes:    notify.NewCenter(r.ttl),
		gens:     map[render.Region]uint64{},
		lastSeen: now,
	}
	r.mu.Lock()
	r.sweepLocked(now)
	r.byID[s.id] = s
	r.mu.Unlock()
	return s
}

func (r *sessionRegistry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < time.Minute {
		return
	}
	r.lastSweep = now
	for id, s := range r.byID {
		if s.idle(now, r.idleTTL) {
			s.notes.Stop()
			delete(r.byID, id)
		}
	}
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		s.notes.Stop()
	}
}
