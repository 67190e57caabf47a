package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		reason string
	}{
		{"not json", `not json`, ReasonInvalidFormat},
		{"json array", `["push"]`, ReasonInvalidFormat},
		{"json null", `null`, ReasonInvalidFormat},
		{"missing cmd", `{"cwd":"/a","args":["f"]}`, ReasonNoCmd},
		{"empty cmd", `{"cmd":"","cwd":"/a","args":["f"]}`, ReasonNoCmd},
		{"numeric cmd", `{"cmd":3}`, ReasonNoCmd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rej := Parse([]byte(tc.line))
			require.NotNil(t, rej)
			assert.Equal(t, StatusBadRequest, rej.Status)
			assert.Equal(t, tc.reason, rej.Reason)
		})
	}
}

func TestRequestTaskValidation(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		reason string
	}{
		{"missing cwd", `{"cmd":"push","args":["f"]}`, ReasonNoCwd},
		{"empty cwd", `{"cmd":"push","cwd":"","args":["f"]}`, ReasonNoCwd},
		{"missing args", `{"cmd":"push","cwd":"/a"}`, ReasonNoArgs},
		{"null args", `{"cmd":"push","cwd":"/a","args":null}`, ReasonNoArgs},
		{"empty list", `{"cmd":"push","cwd":"/a","args":[]}`, ReasonNoArgs},
		{"empty string", `{"cmd":"push","cwd":"/a","args":""}`, ReasonNoArgs},
		{"empty object", `{"cmd":"push","cwd":"/a","args":{}}`, ReasonNoArgs},
		{"zero", `{"cmd":"push","cwd":"/a","args":0}`, ReasonNoArgs},
		{"false", `{"cmd":"push","cwd":"/a","args":false}`, ReasonNoArgs},
		{"bare string", `{"cmd":"push","cwd":"/a","args":"not-a-list"}`, ReasonArgsNotList},
		{"object", `{"cmd":"push","cwd":"/a","args":{"a":1}}`, ReasonArgsNotList},
		{"number", `{"cmd":"push","cwd":"/a","args":7}`, ReasonArgsNotList},
		{"mixed list", `{"cmd":"push","cwd":"/a","args":["f",1]}`, ReasonArgsNotList},
		{"newline in arg", `{"cmd":"push","cwd":"/a","args":["x\n[pending] cmd:quit"]}`, ReasonLineBreak},
		{"carriage return in arg", `{"cmd":"push","cwd":"/a","args":["ok","x\ry"]}`, ReasonLineBreak},
		{"newline in cwd", `{"cmd":"push","cwd":"/a\n[pending] cmd:quit","args":["f"]}`, ReasonLineBreak},
		{"newline in cmd", `{"cmd":"push\nx","cwd":"/a","args":["f"]}`, ReasonLineBreak},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, rej := Parse([]byte(tc.line))
			require.Nil(t, rej)

			task, rej := req.Task()
			require.NotNil(t, rej)
			assert.Nil(t, task)
			assert.Equal(t, tc.reason, rej.Reason)
		})
	}
}

func TestRequestTaskBuildsTask(t *testing.T) {
	req, rej := Parse([]byte(`{"cmd":"push","cwd":"/a","args":["f1","f2"],"extra":true}`))
	require.Nil(t, rej)

	task, rej := req.Task()
	require.Nil(t, rej)
	assert.Equal(t, "/a", task.Cwd)
	assert.Equal(t, "push", task.Cmd)
	assert.Equal(t, []string{"f1", "f2"}, task.Args)
}
