package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"zonemarket/client"
	"zonemarket/internal/logger"
	"zonemarket/internal/model"
)

type chatOptions struct {
	APIURL   string
	CacheDir string
}

// chatSession is an API client bound to the local cache.
type chatSession struct {
	api     *client.Client
	cache   *client.PebbleCache
	session *client.Session
}

func (s *chatSession) Close() error { return s.cache.Close() }

func defaultAPIURL() string {
	if v := os.Getenv("ZONE_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// open binds a client to the cache. With requireLogin it also resumes the
// stored session.
func (o *chatOptions) open(requireLogin bool) (*chatSession, error) {
	cache, err := client.OpenPebbleCache(o.CacheDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open cache", err)
	}
	s := &chatSession{api: client.New(o.APIURL), cache: cache}
	if !requireLogin {
		return s, nil
	}

	session, ok, err := client.Resume(s.api, cache)
	if err != nil {
		cache.Close()
		return nil, WrapExitError(ExitCommandError, "read session", err)
	}
	if !ok {
		cache.Close()
		return nil, NewExitError(ExitCommandError, "not logged in; run zonectl chat login")
	}
	s.session = session
	return s, nil
}

// apiFailure maps client errors onto exit codes.
func apiFailure(message string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 401 {
		return WrapExitError(ExitCommandError, message+" (session expired, log in again)", err)
	}
	return WrapExitError(ExitFailure, message, err)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q", arg))
	}
	return id, nil
}

func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Use the marketplace chat from the terminal",
	}
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", defaultAPIURL(), "API base URL")
	cmd.PersistentFlags().StringVar(&opts.CacheDir, "cache-dir", defaultCacheDir(), "local cache directory")

	cmd.AddCommand(newChatLoginCommand(rootOpts, opts))
	cmd.AddCommand(newChatLogoutCommand(rootOpts, opts))
	cmd.AddCommand(newChatConversationsCommand(rootOpts, opts))
	cmd.AddCommand(newChatShowCommand(rootOpts, opts))
	cmd.AddCommand(newChatSendCommand(rootOpts, opts))
	cmd.AddCommand(newChatHideCommand(rootOpts, opts, true))
	cmd.AddCommand(newChatHideCommand(rootOpts, opts, false))
	cmd.AddCommand(newChatDeleteCommand(rootOpts, opts))
	cmd.AddCommand(newChatNotificationsCommand(rootOpts, opts))
	cmd.AddCommand(newChatListenCommand(rootOpts, opts))
	return cmd
}

func newChatLoginCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	var email, password string
	var admin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := opts.open(false)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			login := s.api.Login
			if admin {
				login = s.api.LoginAdmin
			}
			session, err := login(cmd.Context(), email, password)
			if err != nil {
				return f.Failure(apiFailure("login", err))
			}
			prev, _, err := client.LoadSession(s.cache)
			if err != nil {
				logger.Warnf("[chat login] ❌ Failed to read previous session: %v", err)
			}
			if err := client.SaveSession(s.cache, session); err != nil {
				return f.Failure(WrapExitError(ExitFailure, "save session", err))
			}
			// 別アカウントの一覧は残さない
			if prev == nil || prev.User == nil || prev.User.ID != session.User.ID {
				for _, key := range []string{client.KeyCachedConversations, client.KeyCachedNotifications} {
					if err := s.cache.Invalidate(key); err != nil {
						logger.Warnf("[chat login] ❌ Failed to clear %s: %v", key, err)
					}
				}
			}
			if err := client.SetAvatar(s.cache, session.User.ID, session.User.Avatar); err != nil {
				logger.Warnf("[chat login] ❌ Failed to cache avatar of user %d: %v", session.User.ID, err)
			}
			return f.Success(session.User, func(w io.Writer) {
				fmt.Fprintf(w, "✅ Logged in as %s (%s)\n", session.User.Name, session.User.Role)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&admin, "admin", false, "log in as administrator")
	return cmd
}

func newChatLogoutCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and clear cached lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()
			if err := client.SignOut(cmd.Context(), s.api, s.cache); err != nil {
				return f.Failure(apiFailure("logout", err))
			}
			return f.Success(nil, func(w io.Writer) { fmt.Fprintln(w, "👋 Logged out") })
		},
	}
}

func newChatConversationsCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations (hidden ones are left out)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			list := client.NewConversationList(s.api, s.cache, nil)
			convs, err := list.Load(cmd.Context(), nil)
			if err != nil {
				if convs == nil {
					return f.Failure(apiFailure("list conversations", err))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  Showing cached conversations: %v\n", err)
			}
			me := s.session.User.ID
			return f.Success(convs, func(w io.Writer) {
				if len(convs) == 0 {
					fmt.Fprintln(w, "No conversations")
					return
				}
				for _, c := range convs {
					fmt.Fprintln(w, conversationLine(c, me))
				}
			})
		},
	}
}

func conversationLine(c model.Conversation, me int64) string {
	other := c.User
	if c.UserID == me {
		other = c.Seller
	}
	name := "?"
	if other != nil {
		name = other.Name
	}
	line := fmt.Sprintf("#%d  %s", c.ID, name)
	if c.Product != nil {
		line += "  [" + c.Product.Title + "]"
	}
	if c.UnreadCount > 0 {
		line += fmt.Sprintf("  (%d unread)", c.UnreadCount)
	}
	if c.LastMessage != nil {
		line += "  " + humanize.Time(c.LastMessage.CreatedAt)
	}
	return line
}

func newChatShowCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return f.Failure(err)
			}
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			chat := client.NewChat(s.api, *s.session.User.Brief(), client.ExistingConversation{ID: id})
			if err := chat.Refresh(cmd.Context()); err != nil {
				return f.Failure(apiFailure("load conversation", err))
			}
			msgs := chat.Messages()
			return f.Success(msgs, func(w io.Writer) {
				for _, m := range msgs {
					fmt.Fprintln(w, messageLine(m, s.session.User.ID))
				}
			})
		},
	}
}

func messageLine(m client.Message, me int64) string {
	who := "them"
	if m.SenderID == me {
		who = "me"
	} else if m.Sender != nil && m.Sender.Name != "" {
		who = m.Sender.Name
	}
	body := m.Text
	if m.Image != "" {
		body = strings.TrimSpace(body + " [image " + m.Image + "]")
	}
	return fmt.Sprintf("%s  %s: %s", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, body)
}

func newChatSendCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	var conversationID, sellerID, productID int64
	var image string
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message to a conversation or start one with a seller",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			var target client.Target
			switch {
			case conversationID > 0 && sellerID > 0:
				return f.Failure(NewExitError(ExitCommandError, "use either --conversation or --seller"))
			case conversationID > 0:
				target = client.ExistingConversation{ID: conversationID}
			case sellerID > 0:
				target = client.NewConversation{SellerID: sellerID, ProductID: productID}
			default:
				return f.Failure(NewExitError(ExitCommandError, "--conversation or --seller is required"))
			}

			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			// 次の conversations が一覧を取り直すよう、キャッシュに残るカウンタを進める
			chat := client.NewChat(s.api, *s.session.User.Brief(), target,
				client.WithRefreshCounter(client.NewRefreshCounter(s.cache)))
			m, err := chat.Send(cmd.Context(), strings.Join(args, " "), image)
			switch {
			case errors.Is(err, client.ErrEmptyMessage):
				return f.Failure(WrapExitError(ExitCommandError, "send", err))
			case err != nil:
				return f.Failure(apiFailure("send", err))
			}
			return f.Success(m, func(w io.Writer) {
				if m.Unconfirmed {
					fmt.Fprintf(w, "⚠️  Sent to conversation #%d, but the server did not confirm the message\n", chat.ConversationID())
					return
				}
				fmt.Fprintf(w, "✅ Message #%d sent to conversation #%d\n", m.ID, chat.ConversationID())
			})
		},
	}
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "existing conversation id")
	cmd.Flags().Int64Var(&sellerID, "seller", 0, "seller id, to start or continue a conversation")
	cmd.Flags().Int64Var(&productID, "product", 0, "product id the conversation is about")
	cmd.Flags().StringVar(&image, "image", "", "image reference to attach")
	return cmd
}

func newChatHideCommand(rootOpts *RootOptions, opts *chatOptions, hide bool) *cobra.Command {
	use, short := "hide <conversation-id>", "Hide a conversation on this device only"
	if !hide {
		use, short = "unhide <conversation-id>", "Show a hidden conversation again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return f.Failure(err)
			}
			s, err := opts.open(false)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			list := client.NewConversationList(s.api, s.cache, nil)
			if hide {
				err = list.Hide(id)
			} else {
				err = list.Unhide(id)
			}
			if err != nil {
				return f.Failure(WrapExitError(ExitFailure, "update hidden conversations", err))
			}
			return f.Success(map[string]interface{}{"id": id, "hidden": hide}, func(w io.Writer) {
				if hide {
					fmt.Fprintf(w, "🙈 Conversation #%d hidden on this device\n", id)
					return
				}
				fmt.Fprintf(w, "👀 Conversation #%d visible again\n", id)
			})
		},
	}
}

func newChatDeleteCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation for both participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return f.Failure(err)
			}
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			if err := client.NewConversationList(s.api, s.cache, nil).DeleteForEveryone(cmd.Context(), id); err != nil {
				return f.Failure(apiFailure("delete conversation", err))
			}
			return f.Success(map[string]int64{"deleted": id}, func(w io.Writer) {
				fmt.Fprintf(w, "🗑️  Conversation #%d deleted\n", id)
			})
		},
	}
}

func newChatNotificationsCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	var markAll bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			feed := client.NewNotificationFeed(s.api, s.cache)
			items, err := feed.Load(cmd.Context())
			if err != nil {
				if items == nil {
					return f.Failure(apiFailure("list notifications", err))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  Showing cached notifications: %v\n", err)
			}
			if markAll {
				if err := feed.MarkAllRead(cmd.Context()); err != nil {
					return f.Failure(apiFailure("mark notifications read", err))
				}
			}
			return f.Success(items, func(w io.Writer) {
				if len(items) == 0 {
					fmt.Fprintln(w, "No notifications")
					return
				}
				for _, n := range items {
					mark := " "
					if !n.Read {
						mark = "•"
					}
					from := ""
					if n.Sender != nil {
						from = n.Sender.Name + " "
					}
					fmt.Fprintf(w, "%s %s%s  %s\n", mark, from, n.Content, humanize.Time(n.CreatedAt))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&markAll, "mark-read", false, "mark every notification as read")
	return cmd
}

func newChatListenCommand(rootOpts *RootOptions, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print messages and notifications as they arrive (Ctrl+C to stop)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := opts.open(true)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return listen(ctx, s, cmd.OutOrStdout())
		},
	}
}

func listen(ctx context.Context, s *chatSession, w io.Writer) error {
	feed := client.NewNotificationFeed(s.api, s.cache)
	me := s.session.User.ID
	err := s.api.Listen(ctx, client.Handlers{
		OnMessage: func(m client.Message) {
			fmt.Fprintf(w, "#%d  %s\n", m.ConversationID, messageLine(m, me))
		},
		OnNotification: func(n model.Notification) {
			if err := feed.Push(n); err != nil {
				logger.Warnf("[chat listen] ❌ Failed to cache notification %d: %v", n.ID, err)
			}
		},
		OnConversationDeleted: func(id int64) {
			fmt.Fprintf(w, "🗑️  Conversation #%d was deleted\n", id)
		},
	})
	if err != nil {
		return apiFailure("listen", err)
	}
	return nil
}
