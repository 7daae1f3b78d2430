package i18n

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForCode(t *testing.T) {
	assert.Equal(t, "Insufficient balance.", ForCode(LangEN, "INSUFFICIENT_FUNDS"))
	assert.Equal(t, "餘額不足。", ForCode(LangZH, "INSUFFICIENT_FUNDS"))
	assert.Equal(t, "NoSuchCode", ForCode(LangEN, "NO_SUCH_CODE"))
}

func TestParseAcceptLanguage(t *testing.T) {
	assert.Equal(t, LangZH, ParseAcceptLanguage("zh-TW,zh;q=0.9,en;q=0.8"))
	assert.Equal(t, LangEN, ParseAcceptLanguage("en-US"))
	assert.Equal(t, GetLanguage(), ParseAcceptLanguage("fr-FR"))
}

func TestEveryMessageTranslated(t *testing.T) {
	en, zh := reflect.ValueOf(messagesEN), reflect.ValueOf(messagesZH)
	for i := 0; i < en.NumField(); i++ {
		name := en.Type().Field(i).Name
		assert.NotEmpty(t, en.Field(i).String(), "en %s", name)
		assert.NotEmpty(t, zh.Field(i).String(), "zh %s", name)
	}
}
