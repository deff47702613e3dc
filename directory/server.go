package directory

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glauth/ldap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/christian-2/ldap-authx/sanitize"
)

type account struct {
	User
	dn           string
	passwordHash []byte
}

func (a *account) passwordMatches(password string) bool {
	if password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
}

func (a *account) hasYubiKeyID(publicID string) bool {
	for _, id := range a.YubiKeyIDs {
		if id == publicID {
			return true
		}
	}
	return false
}

func (a *account) recipientFor(mechanismName string) string {
	switch {
	case strings.EqualFold(mechanismName, "SMS"):
		return a.Mobile
	case strings.EqualFold(mechanismName, "E-Mail"):
		return a.Mail
	default:
		return ""
	}
}

// Server is an in-process LDAP server serving the accounts and delivery
// mechanisms of its Config.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics
	registry  *prometheus.Registry
	tokenizer *sanitize.Tokenizer

	accounts       []*account
	accountsByDN   map[string]*account
	accountsByName map[string]*account
	tree           []*ldap.Entry

	listener   net.Listener
	quit       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	conns      map[net.Conn]struct{}
	csn        atomic.Uint32
	totalConns atomic.Uint64
	startTime  time.Time
}

// New builds a Server from cfg. Passwords are hashed here; the server never
// holds them in the clear.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:            cfg,
		log:            cfg.Logger,
		metrics:        newMetrics(registry),
		registry:       registry,
		tokenizer:      sanitize.NewTokenizer(cfg.LogPepper),
		accountsByDN:   make(map[string]*account, len(cfg.Users)),
		accountsByName: make(map[string]*account, len(cfg.Users)),
		quit:           make(chan struct{}),
		conns:          make(map[net.Conn]struct{}),
	}
	for _, user := range cfg.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("directory: hashing the password for %q: %w", user.Username, err)
		}
		user.Password = ""
		acct := &account{User: user, dn: s.userDN(user.Username), passwordHash: hash}
		s.accounts = append(s.accounts, acct)
		s.accountsByDN[strings.ToLower(acct.dn)] = acct
		s.accountsByName[strings.ToLower(user.Username)] = acct
	}
	s.tree = append(s.tree, s.baseEntry(), s.peopleEntry())
	for _, acct := range s.accounts {
		s.tree = append(s.tree, s.accountToEntry(acct))
	}
	return s, nil
}

// Start begins accepting connections. The listen address is available from
// Addr once Start returns.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("directory: listening on %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Info().Str("addr", listener.Addr().String()).Msg("directory server listening")
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Registry returns the metrics registry the server reports into.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Shutdown stops the listener, closes all client connections and waits for
// the session goroutines to finish.
func (s *Server) Shutdown() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
			default:
				s.log.Error().Err(err).Msg("accepting a connection failed")
			}
			return
		}
		s.track(conn)
		s.totalConns.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.metrics.activeConnections.Inc()
			defer s.metrics.activeConnections.Dec()
			newSession(s, conn).serve()
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) accountByDN(dn string) *account {
	return s.accountsByDN[strings.ToLower(dn)]
}

func (s *Server) accountByUsername(username string) *account {
	return s.accountsByName[strings.ToLower(username)]
}

// resolveAuthenticationID resolves the "u:<username>" and "dn:<dn>"
// authentication ID forms to an account.
func (s *Server) resolveAuthenticationID(id string) *account {
	if username, ok := strings.CutPrefix(id, "u:"); ok {
		return s.accountByUsername(username)
	}
	if dn, ok := strings.CutPrefix(id, "dn:"); ok {
		return s.accountByDN(dn)
	}
	return nil
}

func (s *Server) entries() []*ldap.Entry {
	return s.tree
}

func (s *Server) tokenize(value string) string {
	return s.tokenizer.Tokenize(value)
}
