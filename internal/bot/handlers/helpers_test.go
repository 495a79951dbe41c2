package handlers

import (
	"reflect"
	"strings"
	"testing"

	"github.com/edgard/chatscribe/internal/audit"
	"github.com/edgard/chatscribe/internal/database"
)

func TestChunkText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits", "hello", 10, []string{"hello"}},
		{"exact boundary", "abcdef", 3, []string{"abc", "def"}},
		{"uneven split", "abcdefg", 3, []string{"abc", "def", "g"}},
		{"zero size", "abc", 0, []string{"abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkText(tt.text, tt.size); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ChunkText(%q, %d) = %v, want %v", tt.text, tt.size, got, tt.want)
			}
		})
	}
}

func TestChunkTextRuneBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 10)
	chunks := ChunkText(text, 4)

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		if !strings.ContainsRune("é", []rune(chunk)[0]) {
			t.Errorf("chunk %q starts mid-rune", chunk)
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != text {
		t.Error("chunks do not reassemble into the original text")
	}
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want []string
	}{
		{"/settings", nil},
		{"/settings language pt", []string{"language", "pt"}},
		{"/settings   language   pt  ", []string{"language", "pt"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := commandArgs(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("commandArgs(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTranscribable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kind  string
		media *audit.Media
		want  bool
	}{
		{"voice", database.MessageKindVoice, &audit.Media{}, true},
		{"audio", database.MessageKindAudio, &audit.Media{}, true},
		{"video", database.MessageKindVideo, &audit.Media{}, true},
		{"video note", database.MessageKindVideoNote, &audit.Media{}, true},
		{"audio document", database.MessageKindDocument, &audit.Media{MimeType: "audio/flac"}, true},
		{"video document", database.MessageKindDocument, &audit.Media{MimeType: "video/x-matroska"}, true},
		{"pdf document", database.MessageKindDocument, &audit.Media{MimeType: "application/pdf"}, false},
		{"photo", database.MessageKindPhoto, &audit.Media{MimeType: "image/jpeg"}, false},
		{"text", database.MessageKindText, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transcribable(tt.kind, tt.media); got != tt.want {
				t.Errorf("transcribable(%q) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
