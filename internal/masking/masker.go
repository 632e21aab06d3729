package masking

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Порядок важен: сначала длинные номера (RRN, карты), потом телефоны.
var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// Номер регистрации резидента: 6 цифр даты + 7 цифр, дефис опционален
	nationalIDRe = regexp.MustCompile(`\b\d{6}-?[1-4]\d{6}\b`)
	cardRe       = regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)
	phoneRe      = regexp.MustCompile(`(?:\+?\d{1,3}[- .]?)?\(?0?\d{2,3}\)?[- .]?\d{3,4}[- .]?\d{4}\b`)
	digitRe      = regexp.MustCompile(`\d`)
)

type keyKind int

const (
	keyPlain keyKind = iota
	keyIdentifier
	keyName
	keyContact
	keyText
)

var sensitiveKeys = map[string]keyKind{
	"name":           keyName,
	"guardian_name":  keyName,
	"student_name":   keyName,
	"recipient_name": keyName,
	"phone":          keyContact,
	"email":          keyContact,
	"recipient":      keyContact,
	"address":        keyContact,
	"content":        keyText,
	"body":           keyText,
}

// Masker: фильтр PII перед журналом аудита и логами
type Masker struct{}

func New() *Masker { return &Masker{} }

// MaskString маскирует PII внутри свободного текста
func (m *Masker) MaskString(s string) string {
	if s == "" {
		return s
	}
	out := emailRe.ReplaceAllStringFunc(s, maskEmail)
	out = nationalIDRe.ReplaceAllString(out, "******-*******")
	out = cardRe.ReplaceAllStringFunc(out, func(match string) string {
		return "****-****-****-" + lastDigits(match, 4)
	})
	out = phoneRe.ReplaceAllStringFunc(out, func(match string) string {
		return "***-****-" + lastDigits(match, 4)
	})
	return out
}

// MaskValue обходит map/slice. Значения под чувствительными ключами маскируются целиком,
// идентификаторы (id, *_id) не трогаются, остальной текст проходит через MaskString.
func (m *Masker) MaskValue(v any) any {
	return m.maskUnder(keyPlain, v)
}

// MaskMap удобная обёртка для execution_context/result
func (m *Masker) MaskMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out, _ := m.MaskValue(in).(map[string]any)
	return out
}

// MaskStruct проводит произвольную структуру через JSON и маскирует результат
func (m *Masker) MaskStruct(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return m.MaskValue(generic), nil
}

// Field: zap-поле с уже замаскированным значением
func (m *Masker) Field(key, value string) zap.Field {
	return zap.String(key, m.maskUnder(classify(key), value).(string))
}

func (m *Masker) maskUnder(kind keyKind, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = m.maskUnder(inherit(kind, classify(k)), item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = m.maskUnder(inherit(kind, classify(k)), item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskUnder(kind, item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskUnder(kind, item)
		}
		return out
	case string:
		return m.maskLeaf(kind, val)
	default:
		return v
	}
}

func (m *Masker) maskLeaf(kind keyKind, s string) string {
	switch kind {
	case keyIdentifier:
		return s
	case keyName:
		return keepFirstRune(s)
	case keyContact:
		if masked := m.MaskString(s); masked != s {
			return masked
		}
		return keepFirstRune(s)
	case keyText:
		if s == "" {
			return s
		}
		return "[masked text]"
	default:
		return m.MaskString(s)
	}
}

func classify(key string) keyKind {
	k := strings.ToLower(key)
	if kind, ok := sensitiveKeys[k]; ok {
		return kind
	}
	if k == "id" || strings.HasSuffix(k, "_id") || strings.HasSuffix(k, "_ids") {
		return keyIdentifier
	}
	return keyPlain
}

// Чувствительность родителя сильнее, чем обычный ключ внутри него
func inherit(parent, child keyKind) keyKind {
	if child != keyPlain {
		return child
	}
	if parent == keyIdentifier {
		return keyPlain
	}
	return parent
}

func maskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return "***"
	}
	first, _ := utf8.DecodeRuneInString(addr)
	return string(first) + "***" + addr[at:]
}

func keepFirstRune(s string) string {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return s
	}
	first, _ := utf8.DecodeRuneInString(s)
	if n == 1 {
		return "*"
	}
	return string(first) + strings.Repeat("*", n-1)
}

func lastDigits(s string, n int) string {
	digits := strings.Join(digitRe.FindAllString(s, -1), "")
	if len(digits) <= n {
		return digits
	}
	return digits[len(digits)-n:]
}

var std = New()

func MaskString(s string) string { return std.MaskString(s) }

func MaskValue(v any) any { return std.MaskValue(v) }

func MaskMap(in map[string]any) map[string]any { return std.MaskMap(in) }

func Field(key, value string) zap.Field { return std.Field(key, value) }
