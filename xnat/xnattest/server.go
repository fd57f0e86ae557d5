// Package xnattest provides an in-process XNAT server for tests.
package xnattest

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

const sessionCookie = "JSESSIONID"

// Server keeps entities and files in memory. Every path is relative to the
// data root, for example "projects/P1/subjects/S1".
type Server struct {
	*httptest.Server

	Username string
	Password string

	mu          sync.Mutex
	tokens      map[string]bool
	issued      int
	rejectLogin bool
	entities    map[string]bool
	files       map[string][]byte
	queries     map[string]url.Values
	creates     map[string]int
	failures    map[string][]int
	requests    []string
}

// NewServer starts a TLS server with a self-signed certificate accepting
// the given credentials.
func NewServer(username, password string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		Username: username,
		Password: password,
		tokens:   map[string]bool{},
		entities: map[string]bool{},
		files:    map[string][]byte{},
		queries:  map[string]url.Values{},
		creates:  map[string]int{},
		failures: map[string][]int{},
	}

	r := gin.New()
	r.Any("/data/*path", s.handle)
	s.Server = httptest.NewTLSServer(r)
	return s
}

func (s *Server) handle(c *gin.Context) {
	path := strings.Trim(c.Param("path"), "/")
	method := c.Request.Method

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, method+" "+path)

	if path == "JSESSION" && method == http.MethodPost {
		s.login(c)
		return
	}

	cookie, err := c.Request.Cookie(sessionCookie)
	if err != nil || !s.tokens[cookie.Value] {
		c.String(http.StatusUnauthorized, "session expired")
		return
	}

	key := method + " " + path
	if queued := s.failures[key]; len(queued) > 0 {
		s.failures[key] = queued[1:]
		c.String(queued[0], "injected failure")
		return
	}

	isFile := strings.Contains(path, "/files/")
	switch method {
	case http.MethodGet:
		if s.entities[path] || (isFile && s.files[path] != nil) {
			c.String(http.StatusOK, path)
			return
		}
		c.String(http.StatusNotFound, "not found")
	case http.MethodPut:
		if isFile {
			if s.files[path] != nil {
				c.String(http.StatusConflict, "file exists")
				return
			}
			body, err := ioutil.ReadAll(c.Request.Body)
			if err != nil {
				c.String(http.StatusBadRequest, err.Error())
				return
			}
			if body == nil {
				body = []byte{}
			}
			s.files[path] = body
			s.queries[path] = c.Request.URL.Query()
			s.creates[path]++
			c.String(http.StatusCreated, path)
			return
		}
		if s.entities[path] {
			c.String(http.StatusConflict, "already exists")
			return
		}
		s.entities[path] = true
		s.queries[path] = c.Request.URL.Query()
		s.creates[path]++
		c.String(http.StatusOK, path)
	default:
		c.String(http.StatusMethodNotAllowed, "unsupported")
	}
}

func (s *Server) login(c *gin.Context) {
	user, pass, ok := c.Request.BasicAuth()
	if s.rejectLogin || !ok || user != s.Username || pass != s.Password {
		c.String(http.StatusUnauthorized, "bad credentials")
		return
	}
	s.issued++
	token := fmt.Sprintf("session-%d", s.issued)
	s.tokens[token] = true
	c.String(http.StatusOK, token)
}

// ExpireSessions invalidates every issued token.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]bool{}
}

// RejectLogin makes every login attempt fail while reject is set.
func (s *Server) RejectLogin(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLogin = reject
}

// Seed marks the given entity paths as existing.
func (s *Server) Seed(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.entities[p] = true
	}
}

// SeedFile stores a file as if it had been uploaded before.
func (s *Server) SeedFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte{}, content...)
}

// FailNext makes the next requests of method on path answer the given
// statuses, one per request.
func (s *Server) FailNext(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], statuses...)
}

func (s *Server) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[path]
}

// File returns the content of an uploaded file.
func (s *Server) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return b, ok
}

// Files returns the paths of every stored file.
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	return out
}

// Query returns the query string a path was created with.
func (s *Server) Query(path string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[path]
}

// Creates returns how many times path was created.
func (s *Server) Creates(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[path]
}

// Logins returns the number of sessions issued.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

// Count returns how many requests matched method with a path starting with
// prefix.
func (s *Server) Count(method, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if strings.HasPrefix(r, method+" "+prefix) {
			n++
		}
	}
	return n
}
