package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithPostcardID(ctx, "pc-123")

	log.Error(ctx, "boom", errors.New("boom"))

	assert.Contains(t, buf.String(), `"postcard_id"`)
	assert.Contains(t, buf.String(), `"stack"`)
}

func TestLoggerFieldsAccumulate(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithUserID(context.Background(), "user-1")
	ctx = log.WithStage(ctx, "translating")
	log.Info(ctx, "stage start")

	assert.Contains(t, buf.String(), `"user_id":"user-1"`)
	assert.Contains(t, buf.String(), `"stage":"translating"`)
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, ParseLevel(""), ParseLevel("info"))
	assert.Equal(t, ParseLevel("bogus"), ParseLevel("info"))
}
