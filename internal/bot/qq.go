package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/ragbot/internal/config"
)

// QQBot 通过 OneBot(NapCat) websocket 接入 QQ
type QQBot struct {
	cfg     config.NapCatConfig
	handler *Handler
	cancel  context.CancelFunc
}

func NewQQBot(cfg config.NapCatConfig, handler *Handler) *QQBot {
	return &QQBot{cfg: cfg, handler: handler}
}

func (b *QQBot) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	ws := driver.NewWebSocketClient(
		b.cfg.WSURL,
		b.cfg.AccessToken,
	)

	// 管理命令：owner 发 /status 查看状态
	zero.OnCommand("status", zero.SuperUserPermission).SetBlock(true).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text("ragbot running"))
	})

	// 私聊或群里 @ 机器人
	zero.OnMessage(zero.OnlyToMe).Handle(func(zctx *zero.Ctx) {
		b.handleMessage(ctx, zctx)
	})

	slog.Info("qq bot starting", "ws_url", b.cfg.WSURL)

	var superUsers []int64
	if b.cfg.OwnerQQ != 0 {
		superUsers = append(superUsers, b.cfg.OwnerQQ)
	}
	zero.RunAndBlock(&zero.Config{
		NickName:      []string{"ragbot"},
		CommandPrefix: "/",
		SuperUsers:    superUsers,
		Driver:        []zero.Driver{ws},
	}, nil)
}

func (b *QQBot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *QQBot) handleMessage(ctx context.Context, zctx *zero.Ctx) {
	text := strings.TrimSpace(zctx.ExtractPlainText())
	if text == "" || strings.HasPrefix(text, "/") {
		return // 跳过纯表情/图片和命令
	}

	ev := Mention{
		Channel: qqChannel(zctx.Event.GroupID, zctx.Event.UserID),
		User:    strconv.FormatInt(zctx.Event.UserID, 10),
		Text:    text,
	}
	b.handler.HandleMention(ctx, ev, newQQMessenger(zeroSender(zctx)))
}

func qqChannel(groupID, userID int64) string {
	if groupID != 0 {
		return fmt.Sprintf("group:%d", groupID)
	}
	return fmt.Sprintf("private:%d", userID)
}

// sendFunc 发送一条消息，返回撤回它的函数
type sendFunc func(text string) (recall func())

func zeroSender(zctx *zero.Ctx) sendFunc {
	return func(text string) func() {
		id := zctx.Send(message.Text(text))
		return func() { zctx.DeleteMessage(id) }
	}
}

// qqMessenger QQ 不能编辑消息，更新 = 撤回旧消息再发新消息
type qqMessenger struct {
	send    sendFunc
	mu      sync.Mutex
	recalls map[string]func()
}

func newQQMessenger(send sendFunc) *qqMessenger {
	return &qqMessenger{send: send, recalls: make(map[string]func())}
}

func (m *qqMessenger) Send(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := uuid.NewString()
	m.recalls[handle] = m.send(text)
	return handle, nil
}

func (m *qqMessenger) Update(_ context.Context, handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recall, ok := m.recalls[handle]
	if !ok {
		return fmt.Errorf("unknown message handle %q", handle)
	}
	recall()
	m.recalls[handle] = m.send(text)
	return nil
}
