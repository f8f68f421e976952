package rag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkerRejectsEmptyRequest(t *testing.T) {
	c := NewChunker(512, 128)
	if _, err := c.Chunk(&IndexRequest{DatasetID: "ds"}); err == nil {
		t.Fatal("expected error for empty content and qa_pairs")
	}
}

func TestChunkerSplitsLongText(t *testing.T) {
	c := NewChunker(100, 20)

	paras := make([]string, 10)
	for i := range paras {
		paras[i] = strings.Repeat("x", 60)
	}
	req := &IndexRequest{
		DatasetID: "ds1",
		Title:     "doc",
		Content:   strings.Join(paras, "\n"),
		Tags:      []string{"t1"},
	}

	chunks, err := c.Chunk(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.DocID != chunks[0].DocID {
			t.Fatal("all chunks must share one doc_id")
		}
		if chunk.ChunkID == "" || chunk.DatasetID != "ds1" {
			t.Fatalf("chunk %d missing identity: %+v", i, chunk)
		}
		if chunk.Metadata["type"] != "text" {
			t.Fatalf("chunk %d: expected text type, got %v", i, chunk.Metadata)
		}
	}
}

func TestChunkerHardSplitsOversizedParagraph(t *testing.T) {
	c := NewChunker(50, 10)
	req := &IndexRequest{Content: strings.Repeat("a", 200)}

	chunks, err := c.Chunk(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 4 {
		t.Fatalf("expected hard split into >=4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf8.RuneCountInString(chunk.Content); n > 50 {
			t.Fatalf("chunk %d exceeds size limit: %d runes", i, n)
		}
	}
}

func TestChunkerQAPairs(t *testing.T) {
	c := NewChunker(512, 128)
	req := &IndexRequest{
		DatasetID: "ds1",
		QAPairs: []QAPair{
			{Question: "What is Go?", Answer: "A programming language."},
			{Question: "", Answer: "skipped, no question"},
			{Question: "Who made it?", Answer: "Google."},
		},
	}

	chunks, err := c.Chunk(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 qa chunks (blank question skipped), got %d", len(chunks))
	}
	if chunks[0].Metadata["type"] != "qa" {
		t.Fatalf("expected qa type, got %v", chunks[0].Metadata)
	}
	if !strings.HasPrefix(chunks[0].Content, "Q: What is Go?") {
		t.Fatalf("unexpected qa content: %q", chunks[0].Content)
	}
	if chunks[0].Title != "What is Go?" {
		t.Fatalf("qa chunk title should be the question, got %q", chunks[0].Title)
	}
}
