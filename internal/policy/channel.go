package policy

import (
	"strings"

	"github.com/xela07ax/academy-automation/internal/domain"
)

// Легаси-названия каналов, которые ещё встречаются в настройках тенантов
var channelAliases = map[string]domain.Channel{
	"sms":      domain.ChannelSMS,
	"text":     domain.ChannelSMS,
	"lms":      domain.ChannelSMS,
	"email":    domain.ChannelEmail,
	"mail":     domain.ChannelEmail,
	"e-mail":   domain.ChannelEmail,
	"push":     domain.ChannelPush,
	"app":      domain.ChannelPush,
	"app_push": domain.ChannelPush,
	"chat":     domain.ChannelChat,
	"kakao":    domain.ChannelChat,
	"alimtalk": domain.ChannelChat,
}

// NormalizeChannel приводит значение к каноническому каналу
func NormalizeChannel(raw string) (domain.Channel, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if ch, ok := channelAliases[key]; ok {
		return ch, nil
	}
	return "", domain.WrapError(domain.CodeInvalidParams, "unknown channel: "+raw, nil)
}
