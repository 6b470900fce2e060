package services

import (
	"github.com/charmbracelet/log"
)

// Session is the per-user context handed to the core components.
// Each (user, session) pair gets its own remote handle, retry policy and
// undo guard; nothing is shared between sessions.
type Session struct {
	UserID string
	Remote RemoteStore
	Retry  RetryPolicy
	Logger *log.Logger

	lister    *ListerServiceImpl
	crawler   *CrawlerServiceImpl
	assembler *TreeAssembler
	executor  *ExecutorServiceImpl
	undo      *UndoServiceImpl
}

// NewSession wires the core components for one user
func NewSession(userID string, remote RemoteStore, retry RetryPolicy, logger *log.Logger) *Session {
	if logger == nil {
		logger = discardLogger()
	}
	logger = logger.With("user", userID)

	s := &Session{UserID: userID, Remote: remote, Retry: retry, Logger: logger}

	s.lister = NewListerService(remote, retry)
	s.lister.SetLogger(logger.WithPrefix("lister"))

	s.crawler = NewCrawlerService(s.lister)
	s.crawler.SetLogger(logger.WithPrefix("crawler"))

	s.assembler = NewTreeAssembler()
	s.assembler.SetLogger(logger.WithPrefix("assembler"))

	s.executor = NewExecutorService(remote)
	s.executor.SetLogger(logger.WithPrefix("executor"))

	s.undo = NewUndoService(remote)
	s.undo.SetLogger(logger.WithPrefix("undo"))
	return s
}

func (s *Session) Lister() *ListerServiceImpl     { return s.lister }
func (s *Session) Crawler() *CrawlerServiceImpl   { return s.crawler }
func (s *Session) Assembler() *TreeAssembler      { return s.assembler }
func (s *Session) Executor() *ExecutorServiceImpl { return s.executor }
func (s *Session) UndoEngine() *UndoServiceImpl   { return s.undo }
