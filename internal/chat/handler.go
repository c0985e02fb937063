package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"
	"unicode/utf8"

	"github.com/papochat/papo/internal/config"
	"github.com/papochat/papo/internal/db"
	"github.com/papochat/papo/internal/protocol"
)

// Username and password length bounds, enforced at registration.
const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
	maxPasswordLen = 50
)

// Authentication error codes surfaced in AuthResponse.Code.
const (
	CodeLengthInvalid      = "LENGTH_INVALID"
	CodeNameTaken          = "NAME_TAKEN"
	CodeAlreadyOnline      = "ALREADY_ONLINE"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInternal           = "INTERNAL"
)

// Handler owns one connection: the authentication loop, then the message
// loop. It never writes to other clients' sockets; fan-out goes through the
// dispatcher.
type Handler struct {
	users      UserRepository
	registry   *Registry
	dispatcher *Dispatcher
	cfg        config.ChatServer
}

// NewHandler creates a connection handler.
func NewHandler(users UserRepository, registry *Registry, dispatcher *Dispatcher, cfg config.ChatServer) *Handler {
	return &Handler{
		users:      users,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Handle runs the full connection lifecycle: authenticate, register in the
// registry, pump messages, clean up.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	client, err := NewClient(conn, h.cfg.SendQueueSize, h.cfg.WriteTimeout)
	if err != nil {
		slog.Error("failed to create client", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	go client.writePump()
	defer client.Close()

	slog.Info("new connection", "remote", client.IP())

	reader := protocol.NewReader(conn, h.cfg.ReadBufferSize)

	if !h.authenticate(ctx, client, reader) {
		return
	}

	h.messageLoop(ctx, client, reader)
}

// authenticate reads frames under the auth read deadline until a LOGIN
// succeeds. REGISTER and failed LOGIN attempts keep the connection open for
// retries. Returns false when the connection should close without a session.
func (h *Handler) authenticate(ctx context.Context, client *Client, reader *protocol.Reader) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if err := client.Conn().SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout)); err != nil {
			slog.Error("setting auth read deadline", "remote", client.IP(), "error", err)
			return false
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				slog.Warn("malformed frame during auth, skipping", "remote", client.IP(), "error", err)
				continue
			}
			// Timeout or EOF: close without side effects.
			return false
		}

		switch frame.Action {
		case protocol.ActionRegister:
			h.handleRegister(ctx, client, frame)
		case protocol.ActionLogin:
			if h.handleLogin(ctx, client, frame) {
				if err := client.Conn().SetReadDeadline(time.Time{}); err != nil {
					slog.Error("clearing read deadline", "remote", client.IP(), "error", err)
					return false
				}
				return true
			}
		default:
			// Anything else before login is ignored.
		}
	}
}

func (h *Handler) handleRegister(ctx context.Context, client *Client, frame *protocol.ClientFrame) {
	if !validLengths(frame.Username, frame.Password) {
		h.replyError(client, CodeLengthInvalid, "Nome de usuário ou senha com tamanho inválido.")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	err := h.users.Register(opCtx, frame.Username, frame.Password)
	switch {
	case errors.Is(err, db.ErrNameTaken):
		h.replyError(client, CodeNameTaken, "Nome de usuário já existe.")
	case err != nil:
		slog.Error("registration failed", "user", frame.Username, "error", err)
		h.replyError(client, CodeInternal, "Erro interno do servidor.")
	default:
		slog.Info("user registered", "user", frame.Username, "remote", client.IP())
		_ = client.SendFrame(protocol.AuthResponse{
			Status:  protocol.StatusSuccess,
			Message: "Registro realizado com sucesso.",
		})
	}
}

// handleLogin returns true when the client is authenticated and registered.
func (h *Handler) handleLogin(ctx context.Context, client *Client, frame *protocol.ClientFrame) bool {
	if h.registry.Online(frame.Username) {
		h.replyError(client, CodeAlreadyOnline, "Usuário já está online.")
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	ok, err := h.users.Verify(opCtx, frame.Username, frame.Password)
	if err != nil {
		slog.Error("credential check failed", "user", frame.Username, "error", err)
		h.replyError(client, CodeInternal, "Erro interno do servidor.")
		return false
	}
	if !ok {
		h.replyError(client, CodeInvalidCredentials, "Credenciais inválidas")
		return false
	}

	client.SetUsername(frame.Username)
	if err := h.registry.Add(client); err != nil {
		// Lost the race against a concurrent login of the same name.
		client.SetUsername("")
		h.replyError(client, CodeAlreadyOnline, "Usuário já está online.")
		return false
	}

	_ = client.SendFrame(protocol.AuthResponse{Status: protocol.StatusSuccess})
	slog.Info("login", "user", frame.Username, "remote", client.IP())

	h.dispatcher.BroadcastSystem(frame.Username + " entrou no chat")
	h.dispatcher.BroadcastUserList()
	h.dispatcher.DeliverOffline(frame.Username)
	return true
}

// messageLoop reads frames without a deadline and hands each to the
// dispatcher. Any decode or transport failure ends the session.
func (h *Handler) messageLoop(ctx context.Context, client *Client, reader *protocol.Reader) {
	defer func() {
		username, registered := h.registry.Remove(client)
		if registered {
			slog.Info("client disconnected", "user", username)
			h.dispatcher.BroadcastSystem(username + " saiu do chat")
			h.dispatcher.BroadcastUserList()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrMalformed):
				slog.Warn("malformed frame, closing connection", "user", client.Username(), "error", err)
			case errors.Is(err, io.EOF):
			default:
				slog.Debug("read failed", "user", client.Username(), "error", err)
			}
			return
		}

		client.Touch()
		h.dispatcher.Process(frame, client)
	}
}

func (h *Handler) replyError(client *Client, code, message string) {
	_ = client.SendFrame(protocol.AuthResponse{
		Status:  protocol.StatusError,
		Code:    code,
		Message: message,
	})
}

func validLengths(username, password string) bool {
	ulen := utf8.RuneCountInString(username)
	plen := utf8.RuneCountInString(password)
	return ulen >= minUsernameLen && ulen <= maxUsernameLen &&
		plen >= minPasswordLen && plen <= maxPasswordLen
}
