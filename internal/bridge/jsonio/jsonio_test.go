package jsonio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJSONObjectLine(t *testing.T) {
	assert.True(t, IsJSONObjectLine(`{"type":"result"}`))
	assert.True(t, IsJSONObjectLine(`  {"type":"result"}  `))
	assert.False(t, IsJSONObjectLine(`plain text`))
	assert.False(t, IsJSONObjectLine(`{"type":`))
	assert.False(t, IsJSONObjectLine(`[1,2,3]`))
	assert.False(t, IsJSONObjectLine(``))
}

func TestExtractLastJSONLine(t *testing.T) {
	output := "npm warn something\n" +
		`{"type":"system","subtype":"init"}` + "\n" +
		"some stray text\n" +
		`{"type":"result","result":"done"}` + "\n" +
		"trailing diagnostic"

	assert.Equal(t, `{"type":"result","result":"done"}`, ExtractLastJSONLine(output))
}

func TestExtractLastJSONLine_SkipsInvalidJSON(t *testing.T) {
	output := `{"type":"system"}` + "\n" + `{"broken":`
	assert.Equal(t, `{"type":"system"}`, ExtractLastJSONLine(output))
}

func TestExtractLastJSONLine_NoJSON(t *testing.T) {
	assert.Equal(t, "", ExtractLastJSONLine("just\nplain\ntext"))
	assert.Equal(t, "", ExtractLastJSONLine(""))
}

func TestDecodeObjectLine(t *testing.T) {
	obj := DecodeObjectLine(`{"type":"result","is_error":false}`)
	if assert.NotNil(t, obj) {
		assert.Contains(t, obj, "type")
		assert.Contains(t, obj, "is_error")
	}

	assert.Nil(t, DecodeObjectLine("not json"))
	assert.Nil(t, DecodeObjectLine(`{"bad":`))
}
