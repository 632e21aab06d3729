package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskString(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact minsu.kim@example.com please", "contact m***@example.com please"},
		{"mobile", "call 010-1234-5678 now", "call ***-****-5678 now"},
		{"international", "+82 10-1234-5678", "***-****-5678"},
		{"national id", "RRN 900101-1234567", "RRN ******-*******"},
		{"card", "card 4111 1111 1111 1111 on file", "card ****-****-****-1111 on file"},
		{"date untouched", "absent on 2026-03-09", "absent on 2026-03-09"},
		{"amount untouched", "due 150000 KRW", "due 150000 KRW"},
		{"empty", "", ""},
	}
	m := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.MaskString(tc.in))
		})
	}
}

func TestMaskValue(t *testing.T) {
	in := map[string]any{
		"task_id":      "task-1",
		"student_name": "김민수",
		"guardian": map[string]any{
			"name":  "Lee Young",
			"phone": "010-9876-5432",
		},
		"recipients": []any{
			map[string]any{"id": "g1", "address": "parent@example.com"},
		},
		"content": "Dear parent, your child was absent",
		"note":    "call 010-1111-2222",
		"count":   3,
	}

	out := MaskMap(in)
	require.NotNil(t, out)

	assert.Equal(t, "task-1", out["task_id"])
	assert.Equal(t, "김**", out["student_name"])
	guardian := out["guardian"].(map[string]any)
	assert.Equal(t, "L********", guardian["name"])
	assert.Equal(t, "***-****-5432", guardian["phone"])

	rec := out["recipients"].([]any)[0].(map[string]any)
	assert.Equal(t, "g1", rec["id"])
	assert.Equal(t, "p***@example.com", rec["address"])

	assert.Equal(t, "[masked text]", out["content"])
	assert.Equal(t, "call ***-****-2222", out["note"])
	assert.Equal(t, 3, out["count"])

	// исходная мапа не меняется
	assert.Equal(t, "김민수", in["student_name"])
}

func TestMaskSensitiveListUnderKey(t *testing.T) {
	out := MaskValue(map[string]any{
		"recipient": []string{"010-2222-3333", "someone"},
	}).(map[string]any)

	assert.Equal(t, []any{"***-****-3333", "s******"}, out["recipient"])
}

func TestMaskStruct(t *testing.T) {
	type recipient struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	out, err := New().MaskStruct(struct {
		Recipients []recipient `json:"recipients"`
	}{Recipients: []recipient{{ID: "g1", Name: "Park", Address: "010-3333-4444"}}})
	require.NoError(t, err)

	rec := out.(map[string]any)["recipients"].([]any)[0].(map[string]any)
	assert.Equal(t, "g1", rec["id"])
	assert.Equal(t, "P***", rec["name"])
	assert.Equal(t, "***-****-4444", rec["address"])
}

func TestField(t *testing.T) {
	f := Field("recipient", "010-1234-5678")
	assert.Equal(t, "recipient", f.Key)
	assert.Equal(t, "***-****-5678", f.String)

	f = Field("trace", "plain text")
	assert.Equal(t, "plain text", f.String)
}
