package documents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadIsPDF(t *testing.T) {
	tests := []struct {
		name string
		u    *Upload
		want bool
	}{
		{"pdf", &Upload{Filename: "ne.pdf", Data: []byte("%PDF-1.7\n1 0 obj\n")}, true},
		{"png named pdf", &Upload{Filename: "ne.pdf", Data: []byte("\x89PNG\r\n\x1a\n0000")}, false},
		{"empty", &Upload{Filename: "ne.pdf"}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.u.IsPDF())
		})
	}
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://localhost:8080/files/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "processos/abc/portaria.txt", []byte("PORTARIA"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/processos/abc/portaria.txt", url)

	b, err := os.ReadFile(filepath.Join(dir, "processos", "abc", "portaria.txt"))
	require.NoError(t, err)
	assert.Equal(t, "PORTARIA", string(b))
}

func TestLocalStoreStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://x")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://x/etc/passwd", url)
	_, err = os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.NoError(t, err)

	_, err = s.Put(context.Background(), "", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	url, err := s.Put(context.Background(), "a/b.pdf", []byte("%PDF-"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "memory://documents/a/b.pdf", url)

	b, ok := s.Get("a/b.pdf")
	require.True(t, ok)
	assert.Equal(t, "%PDF-", string(b))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(context.Background(), "a/b.pdf"))
	assert.Equal(t, 0, s.Len())
	assert.NoError(t, s.Delete(context.Background(), "a/b.pdf"))
}

func TestLocalStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://x")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "processos/abc/ne.pdf", []byte("%PDF-"), "application/pdf")
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), "processos/abc/ne.pdf"))

	_, err = os.Stat(filepath.Join(dir, "processos", "abc", "ne.pdf"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Delete(context.Background(), "processos/abc/ne.pdf"), "missing documents are ignored")
}

func TestRenderPortaria(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC) }
	out, err := RenderPortaria(PortariaData{
		Numero:        "12/2026-SF",
		Protocol:      "TJPA-DIA-2026-0007",
		RequesterName: "Maria Souza",
		Registration:  "12345",
		City:          "Brasília",
		State:         "DF",
		DepartureDate: day(10),
		ReturnDate:    day(12),
		Purpose:       "participar de curso",
		PtresCode:     "8193",
		Dotacoes:      []string{"170", "171"},
		Value:         decimal.RequireFromString("1234.5"),
		IssuedAt:      day(1),
	})
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "PORTARIA Nº 12/2026-SF")
	assert.Contains(t, text, "Brasília/DF no período de\n10/03/2026 a 12/03/2026")
	assert.Contains(t, text, "valor de R$")
	assert.Contains(t, text, "dotação(ões) 170, 171")
}

func TestRenderCertidao(t *testing.T) {
	out, err := RenderCertidao(CertidaoData{Protocol: "TJPA-PAS-2026-0001", RequesterName: "João", Registration: "9", IssuedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "Processo: TJPA-PAS-2026-0001")
	assert.Contains(t, string(out), "02/01/2026")
}
