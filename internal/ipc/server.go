package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/pkg/fileutil"
)

const writeTimeout = time.Second

type client struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(b)
	return err
}

// Server broadcasts the widget state to socket clients and to the widget
// file, and accepts control commands from the same clients. One lock file
// keeps a second instance from taking over the socket.
type Server struct {
	socketPath   string
	widgetFile   string
	ctrl         Controller
	listener     net.Listener
	clients      map[*client]struct{}
	clientsLock  sync.Mutex
	state        []byte
	stateLock    sync.Mutex
	lockFile     *os.File
	lockFilePath string
	logger       zerolog.Logger
}

// NewServer creates a server. widgetFile may be empty; ctrl may be nil, in
// which case commands are rejected.
func NewServer(socketPath, widgetFile string, ctrl Controller) *Server {
	return &Server{
		socketPath:   socketPath,
		widgetFile:   widgetFile,
		ctrl:         ctrl,
		clients:      make(map[*client]struct{}),
		lockFilePath: socketPath + ".lock",
		logger:       log.With().Str("component", "ipc").Logger(),
	}
}

func (s *Server) checkAndCleanOldLock() {
	content, err := os.ReadFile(s.lockFilePath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		s.logger.Warn().Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	if !isProcessRunning(pid) {
		s.logger.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return
	}
	s.logger.Info().Int("existing_pid", pid).Msg("Another process is still running")
}

// kill(pid, 0) sends nothing, it only checks that the process exists
func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (s *Server) acquireLock() error {
	s.checkAndCleanOldLock()

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return errors.New("another lyricsync instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := file.Truncate(0); err == nil {
		_, err = fmt.Fprintf(file, "%d\n", os.Getpid())
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	s.logger.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile == nil {
		return
	}
	syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	s.lockFile.Close()
	os.Remove(s.lockFilePath)
	s.logger.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
	s.lockFile = nil
}

func (s *Server) Start() error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener

	s.logger.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	go s.acceptConnections()
	return nil
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	c := &client{conn: conn}
	s.clientsLock.Lock()
	s.clients[c] = struct{}{}
	s.clientsLock.Unlock()

	s.logger.Debug().Msg("Client connected")

	s.stateLock.Lock()
	state := s.state
	s.stateLock.Unlock()
	if state != nil {
		if err := c.write(state); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send initial state")
		}
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.execute(line)
		b, err := encodeLine(reply)
		if err != nil {
			continue
		}
		if err := c.write(b); err != nil {
			break
		}
	}

	s.clientsLock.Lock()
	delete(s.clients, c)
	s.clientsLock.Unlock()
	conn.Close()
	s.logger.Debug().Msg("Client disconnected")
}

func (s *Server) execute(line string) Reply {
	if s.ctrl == nil {
		return Reply{Error: "commands are not accepted", Kind: "unknown"}
	}
	reply := Execute(s.ctrl, line)
	l := s.logger.Info()
	if !reply.OK {
		l = s.logger.Warn().Str("error", reply.Error)
	}
	l.Str("command", line).Msg("Handled command")
	return reply
}

// Broadcast sends state to every client and rewrites the widget file.
func (s *Server) Broadcast(state WidgetState) {
	b, err := encodeLine(state)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode widget state")
		return
	}

	if s.widgetFile != "" {
		if err := fileutil.WriteFileAtomic(s.widgetFile, b, 0644); err != nil {
			s.logger.Warn().Err(err).Str("path", s.widgetFile).Msg("Failed to write widget file")
		}
	}

	s.stateLock.Lock()
	s.state = b
	s.stateLock.Unlock()

	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	for c := range s.clients {
		if err := c.write(b); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write to client, removing")
			c.conn.Close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.clientsLock.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clientsLock.Unlock()
	s.releaseLock()
}
