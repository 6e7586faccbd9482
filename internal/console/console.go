// Package console は端末上の行指向のビュー層を提供する。
// 1行1コマンドでSession ManagerとConversation Coordinatorの操作を呼び出し、
// 選択中の会話に届いたメッセージを随時表示する。
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/rentnest/internal/messaging"
	"github.com/hitoshi/rentnest/internal/model"
	"github.com/hitoshi/rentnest/internal/session"
)

// SessionManager はコンソールが利用するSession Managerの操作。
type SessionManager interface {
	Snapshot() session.Snapshot
	Watch() (<-chan session.Snapshot, func())
	Login(ctx context.Context, email, password string) error
	Signup(ctx context.Context, email, password string, role model.Role, lang model.Language) error
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error)
	ToggleSaveProperty(ctx context.Context, propertyID int64) error
	FetchAllUsers(ctx context.Context) ([]*model.Profile, error)
	DeleteUserByAdmin(ctx context.Context, userID string) error
}

// Conversations はコンソールが利用するConversation Coordinatorの操作。
type Conversations interface {
	Conversations() []messaging.Summary
	SelectConversationByID(ctx context.Context, id int64) error
	StartConversation(ctx context.Context, recipientID string) (*model.Conversation, error)
	SendMessage(ctx context.Context, content string, opts ...messaging.SendOption) error
	Selected() *model.Conversation
	Messages() []model.Message
	LoadingConversations() bool
	LoadingMessages() bool
	Changes() <-chan struct{}
}

// errQuit はquitコマンドで入力ループを終了するための番兵。
var errQuit = errors.New("quit")

// Console は入力を1行ずつ解釈してコマンドを実行する。
type Console struct {
	in       io.Reader
	out      io.Writer
	sessions SessionManager
	chats    Conversations
	logger   *slog.Logger

	mu      sync.Mutex // outへの書き込みとprintedを保護する
	printed map[int64]struct{}
	openID  int64
}

// New はConsoleを生成する。
func New(in io.Reader, out io.Writer, sessions SessionManager, chats Conversations, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		in:       in,
		out:      out,
		sessions: sessions,
		chats:    chats,
		logger:   logger,
		printed:  make(map[int64]struct{}),
	}
}

// Run は入力が終わるかquitが入力されるまでコマンドを処理する。
// 戻る前に表示用のgoroutineの終了を待つ。
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	snapshots, unwatch := c.sessions.Watch()
	defer unwatch()

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.watchSession(ctx, snapshots)
	}()
	go func() {
		defer wg.Done()
		c.watchMessages(ctx)
	}()

	c.printf("%s\n", c.text("welcome"))

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printError(err)
			}
		}
	}
}

// watchSession はサインイン・サインアウトの遷移を表示する。最初の状態は表示しない。
func (c *Console) watchSession(ctx context.Context, snapshots <-chan session.Snapshot) {
	first := true
	var last session.State
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if first || snap.State == last {
				first, last = false, snap.State
				continue
			}
			last = snap.State
			switch snap.State {
			case session.StateAuthenticated:
				c.printf(c.textFor(snap.PreferredLanguage(), "signed_in")+"\n", snap.Identity.Email)
			case session.StateAnonymous:
				c.printf("%s\n", c.text("signed_out"))
			}
		}
	}
}

// watchMessages は選択中の会話に届いた未表示のメッセージを表示する。
func (c *Console) watchMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.chats.Changes():
			c.printNewMessages()
		}
	}
}

func (c *Console) printNewMessages() {
	selected := c.chats.Selected()
	msgs := c.chats.Messages()
	me := ""
	if id := c.sessions.Snapshot().Identity; id != nil {
		me = id.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if selected == nil || selected.ID != c.openID {
		return
	}
	for _, m := range msgs {
		if _, ok := c.printed[m.ID]; ok {
			continue
		}
		c.printed[m.ID] = struct{}{}
		fmt.Fprintln(c.out, formatMessage(m, me))
	}
}

func formatMessage(m model.Message, me string) string {
	sender := m.SenderID
	if sender == me {
		sender = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("2006-01-02 15:04"), sender, m.Content)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// printError はエラーを利用者向けに表示する。
func (c *Console) printError(err error) {
	var delErr *model.AdminDeletionError
	if errors.As(err, &delErr) {
		if delErr.CredentialOrphaned() {
			c.printf("error: %s failed, profile deleted but credential remains for %s: %v\n", delErr.Step, delErr.UserID, delErr.Err)
		} else {
			c.printf("error: %s failed for %s: %v\n", delErr.Step, delErr.UserID, delErr.FallbackErr)
		}
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		c.printf("error: %s %s\n", apiErr.Message, apiErr.Action)
		return
	}
	c.printf("error: %v\n", err)
}

// setOpen は表示対象の会話を切り替え、表示済みの記録を破棄する。
func (c *Console) setOpen(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openID = id
	c.printed = make(map[int64]struct{})
}

func (c *Console) text(key string) string {
	return c.textFor(c.sessions.Snapshot().PreferredLanguage(), key)
}

// textFor は表示言語に応じた文言を返す。
func (c *Console) textFor(lang model.Language, key string) string {
	if s, ok := messages[lang][key]; ok {
		return s
	}
	return messages[model.LanguageEnglish][key]
}

var messages = map[model.Language]map[string]string{
	model.LanguageEnglish: {
		"welcome":               "rentnest console. Type 'help' for commands.",
		"signed_in":             "Signed in as %s.",
		"signed_out":            "Signed out.",
		"signup_ok":             "Account created. Check your email, then log in.",
		"login_sent":            "Signing in...",
		"saved":                 "Saved properties updated.",
		"profile_ok":            "Profile updated.",
		"no_conversations":      "No conversations yet.",
		"loading_conversations": "Loading conversations...",
		"loading_messages":      "Loading messages...",
		"deleted":               "User deleted.",
		"sent":                  "Message sent.",
	},
	model.LanguageSpanish: {
		"welcome":               "Consola de rentnest. Escribe 'help' para ver los comandos.",
		"signed_in":             "Sesión iniciada como %s.",
		"signed_out":            "Sesión cerrada.",
		"signup_ok":             "Cuenta creada. Revisa tu correo y luego inicia sesión.",
		"login_sent":            "Iniciando sesión...",
		"saved":                 "Propiedades guardadas actualizadas.",
		"profile_ok":            "Perfil actualizado.",
		"no_conversations":      "Todavía no hay conversaciones.",
		"loading_conversations": "Cargando conversaciones...",
		"loading_messages":      "Cargando mensajes...",
		"deleted":               "Usuario eliminado.",
		"sent":                  "Mensaje enviado.",
	},
}

func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
