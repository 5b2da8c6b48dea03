package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name    string
		payload *gmail.MessagePart
		want    string
	}{
		{
			name: "first text/plain wins depth-first",
			payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "multipart/related",
						Parts: []*gmail.MessagePart{
							{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("nested plain")}},
						},
					},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("sibling plain")}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
				},
			},
			want: "nested plain",
		},
		{
			name: "single part message",
			payload: &gmail.MessagePart{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: b64("Total: $5.00")},
			},
			want: "Total: $5.00",
		},
		{
			name: "payload body fallback",
			payload: &gmail.MessagePart{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: b64("<p>only html</p>")},
			},
			want: "<p>only html</p>",
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    "",
		},
		{
			name: "no body anywhere",
			payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{MimeType: "application/pdf", Filename: "r.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a"}},
				},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBody(tt.payload); got != tt.want {
				t.Errorf("extractBody = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollectAttachments(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("body")}},
			{
				MimeType: "application/pdf",
				Filename: "receipt.pdf",
				Body:     &gmail.MessagePartBody{AttachmentId: "att1", Size: 1024},
			},
			{
				MimeType: "application/octet-stream",
				Filename: "invoice.PDF",
				Body:     &gmail.MessagePartBody{AttachmentId: "att2", Size: 2048},
			},
			{
				MimeType: "application/octet-stream",
				Filename: "data.bin",
				Body:     &gmail.MessagePartBody{AttachmentId: "att3"},
			},
			{
				MimeType: "image/png",
				Filename: "logo.png",
				Body:     &gmail.MessagePartBody{AttachmentId: "att4"},
			},
			{
				MimeType: "multipart/related",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "application/pdf",
						Filename: "nested.pdf",
						Body:     &gmail.MessagePartBody{AttachmentId: "att5", Size: 512},
					},
				},
			},
		},
	}

	refs := collectAttachments(payload)
	if len(refs) != 3 {
		t.Fatalf("got %d attachments, want 3: %+v", len(refs), refs)
	}
	if refs[0].Filename != "receipt.pdf" || refs[0].AttachmentID != "att1" || refs[0].Size != 1024 {
		t.Errorf("refs[0] = %+v", refs[0])
	}
	if refs[1].Filename != "invoice.PDF" {
		t.Errorf("octet-stream pdf missed: %+v", refs[1])
	}
	if refs[2].Filename != "nested.pdf" {
		t.Errorf("nested pdf missed: %+v", refs[2])
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxSubjectLen+50)
	if got := truncate(long, maxSubjectLen); len(got) != maxSubjectLen {
		t.Errorf("len = %d, want %d", len(got), maxSubjectLen)
	}
	if got := truncate("short", maxSubjectLen); got != "short" {
		t.Errorf("got %q, want unchanged", got)
	}
}
