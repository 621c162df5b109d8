package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/logger"
)

func TestFromError(t *testing.T) {
	o := FromError(apperr.New(apperr.KindInsufficientBalance, "Saldo insuficiente", "dotação 170 sem saldo"))
	assert.Equal(t, LevelError, o.Level)
	assert.Equal(t, "Saldo insuficiente", o.Title)
	assert.Equal(t, "dotação 170 sem saldo", o.Message)
	assert.Equal(t, apperr.KindInsufficientBalance, o.Kind)

	o = FromError(errors.New("boom"))
	assert.Equal(t, "Erro", o.Title)
}

func TestAsyncSinkDeliversAll(t *testing.T) {
	rec := &Recorder{}
	sink := NewAsyncSink(rec, logger.Discard(), 10)
	for i := 0; i < 5; i++ {
		sink.Notify(context.Background(), Success("Processo assinado", "ok"))
	}
	sink.Close()
	sink.Close()

	assert.Len(t, rec.Outcomes(), 5)
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Notify(context.Context, Outcome) { <-b.release }

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	var buf bytes.Buffer
	block := blockingSink{release: make(chan struct{})}
	sink := NewAsyncSink(block, logger.New(logger.LevelWarn, &buf), 1)

	// first is picked up by the worker and blocks, second fills the buffer
	for i := 0; i < 5; i++ {
		sink.Notify(context.Background(), Success("t", "m"))
	}
	close(block.release)
	sink.Close()

	require.Contains(t, buf.String(), "Queue full")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logger.New(logger.LevelDebug, &buf))
	s.Notify(context.Background(), Outcome{Level: LevelWarning, Title: "Divergência", Message: "OB difere do DL", Protocol: "TJPA-DIA-2026-0001"})
	assert.Contains(t, buf.String(), "[WARN] [Notify] Divergência: OB difere do DL protocol=TJPA-DIA-2026-0001")
}
