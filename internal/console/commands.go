package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/rentnest/internal/messaging"
	"github.com/hitoshi/rentnest/internal/model"
)

const helpText = `commands:
  signup <email> <password> <renter|landlord|admin> [en|es]
  login <email> <password>
  logout
  whoami
  profile [name=<name>] [phone=<phone>] [lang=<en|es>]
  save <propertyID>
  conversations
  open <conversationID>
  contact <userID> <text...>
  send <text...>
  users
  delete-user <userID>
  quit`

// Execute は1行のコマンドを実行する。quitの場合はerrQuitを返す。
func (c *Console) Execute(ctx context.Context, line string) error {
	cmd, args := splitCommand(line)
	switch cmd {
	case "":
		return nil
	case "help":
		c.printf("%s\n", helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "signup":
		return c.signup(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.sessions.Logout(ctx)
	case "whoami":
		c.whoami()
		return nil
	case "profile":
		return c.profile(ctx, args)
	case "save":
		return c.save(ctx, args)
	case "conversations":
		c.listConversations()
		return nil
	case "open":
		return c.open(ctx, args)
	case "contact":
		return c.contact(ctx, args)
	case "send":
		return c.send(ctx, args)
	case "users":
		return c.users(ctx)
	case "delete-user":
		return c.deleteUser(ctx, args)
	default:
		return model.NewInvalidRequestError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func usage(format string) error {
	return model.NewInvalidRequestError("usage: " + format)
}

func (c *Console) signup(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("signup <email> <password> <renter|landlord|admin> [en|es]")
	}
	role := model.Role(strings.ToLower(args[2]))
	if !role.Valid() {
		return model.NewInvalidRequestError("role must be renter, landlord or admin")
	}
	lang := model.LanguageEnglish
	if len(args) > 3 {
		lang = model.Language(strings.ToLower(args[3]))
		if !lang.Valid() {
			return model.NewInvalidRequestError("language must be en or es")
		}
	}
	if err := c.sessions.Signup(ctx, args[0], args[1], role, lang); err != nil {
		return err
	}
	c.printf("%s\n", c.textFor(lang, "signup_ok"))
	return nil
}

func (c *Console) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("login <email> <password>")
	}
	c.printf("%s\n", c.text("login_sent"))
	return c.sessions.Login(ctx, args[0], args[1])
}

func (c *Console) whoami() {
	snap := c.sessions.Snapshot()
	if snap.Identity == nil {
		c.printf("state: %s\n", snap.State)
		return
	}
	c.printf("state: %s\nid: %s\nemail: %s\n", snap.State, snap.Identity.ID, snap.Identity.Email)
	p := snap.Identity.Profile
	if p == nil {
		c.printf("profile: unavailable\n")
		return
	}
	c.printf("role: %s\nlanguage: %s\nname: %s\nphone: %s\n", p.Role, p.PreferredLanguage, p.ContactName, p.ContactPhone)
	if p.Role == model.RoleRenter {
		c.printf("saved: %v\n", p.SavedProperties)
	}
}

// profile は key=value 形式の引数から部分更新を組み立てる。
func (c *Console) profile(ctx context.Context, args []string) error {
	var update model.ProfileUpdate
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return usage("profile [name=<name>] [phone=<phone>] [lang=<en|es>]")
		}
		switch strings.ToLower(key) {
		case "name":
			update.ContactName = &value
		case "phone":
			update.ContactPhone = &value
		case "lang":
			lang := model.Language(strings.ToLower(value))
			if !lang.Valid() {
				return model.NewInvalidRequestError("language must be en or es")
			}
			update.PreferredLanguage = &lang
		default:
			return model.NewInvalidRequestError(fmt.Sprintf("unknown profile field %q", key))
		}
	}
	if _, err := c.sessions.UpdateProfile(ctx, update); err != nil {
		return err
	}
	c.printf("%s\n", c.text("profile_ok"))
	return nil
}

func (c *Console) save(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("save <propertyID>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return model.NewInvalidRequestError("property id must be a positive integer")
	}
	if err := c.sessions.ToggleSaveProperty(ctx, id); err != nil {
		return err
	}
	c.printf("%s\n", c.text("saved"))
	return nil
}

func (c *Console) listConversations() {
	list := c.chats.Conversations()
	loading := c.chats.LoadingConversations()
	if loading {
		c.printf("%s\n", c.text("loading_conversations"))
	}
	if len(list) == 0 {
		if !loading {
			c.printf("%s\n", c.text("no_conversations"))
		}
		return
	}
	for _, s := range list {
		last := ""
		if s.Conversation.LastMessageContent != "" {
			last = " - " + s.Conversation.LastMessageContent
		}
		c.printf("#%d %s (%s)%s\n", s.Conversation.ID, s.OtherName, s.OtherID, last)
	}
}

func (c *Console) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("open <conversationID>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return model.NewInvalidRequestError("conversation id must be a positive integer")
	}
	c.setOpen(id)
	if err := c.chats.SelectConversationByID(ctx, id); err != nil {
		c.setOpen(0)
		return err
	}
	// 別の選択が進行中であれば履歴は届き次第watchMessagesが表示する
	if c.chats.LoadingMessages() {
		c.printf("%s\n", c.text("loading_messages"))
	}
	c.printNewMessages()
	return nil
}

// contact は会話を開始し、返された会話IDを明示して最初のメッセージを送る。
func (c *Console) contact(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("contact <userID> <text...>")
	}
	conv, err := c.chats.StartConversation(ctx, args[0])
	if err != nil {
		return err
	}
	if err := c.chats.SendMessage(ctx, strings.Join(args[1:], " "), messaging.WithConversation(conv.ID)); err != nil {
		return err
	}
	c.printf("%s (#%d)\n", c.text("sent"), conv.ID)
	return nil
}

func (c *Console) send(ctx context.Context, args []string) error {
	return c.chats.SendMessage(ctx, strings.Join(args, " "))
}

func (c *Console) users(ctx context.Context) error {
	profiles, err := c.sessions.FetchAllUsers(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		c.printf("%s\t%s\t%s\t%s\t%s\n", p.ID, p.Role, p.ContactName, p.ContactPhone, p.Email)
	}
	return nil
}

func (c *Console) deleteUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete-user <userID>")
	}
	if err := c.sessions.DeleteUserByAdmin(ctx, args[0]); err != nil {
		return err
	}
	c.printf("%s\n", c.text("deleted"))
	return nil
}
