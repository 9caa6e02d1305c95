package talkbase

import (
	"context"
	"strings"
	"testing"
)

func TestFilesUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("upload returns a usable attachment", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")

		att, err := c.Files().Upload(ctx, []byte("png-bytes"), &UploadOptions{FileName: "pic.png"})
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if att.URL == "" {
			t.Fatal("expected a url")
		}
		if att.FileName != "pic.png" || att.FileSize != 9 {
			t.Fatalf("unexpected attachment: %+v", att)
		}
		if att.MimeType != "image/png" {
			t.Fatalf("expected image/png, got %s", att.MimeType)
		}
	})

	t.Run("file name required", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		if _, err := c.Files().Upload(ctx, []byte("x"), nil); err == nil {
			t.Fatal("expected error for missing file name")
		}
	})

	t.Run("oversized upload rejected", func(t *testing.T) {
		c := newTestClient(t)
		signUp(t, c, "ada@example.com", "Ada")
		big := make([]byte, MaxUploadSize+1)
		if _, err := c.Files().Upload(ctx, big, &UploadOptions{FileName: "big.bin"}); err == nil {
			t.Fatal("expected error for oversized file")
		}
	})
}

func TestFilesSendFile(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	room, _, _ := newTestRoom(t, c)

	msg, err := c.Files().SendFile(ctx, room.ID, []byte("report"), "Q3 numbers", &UploadOptions{FileName: "report.pdf"})
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if msg.Kind != KindPDF {
		t.Fatalf("expected pdf kind, got %s", msg.Kind)
	}
	if msg.Text != "Q3 numbers" {
		t.Fatalf("expected caption as text, got %q", msg.Text)
	}
	if msg.Attachment == nil || msg.Attachment.FileName != "report.pdf" {
		t.Fatalf("unexpected attachment: %+v", msg.Attachment)
	}

	got, err := c.Rooms().Get(ctx, room.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Kind != KindPDF {
		t.Fatalf("expected room summary to carry the file kind, got %+v", got.LastMessage)
	}
}

func TestKindForMime(t *testing.T) {
	cases := map[string]MessageKind{
		"image/png":       KindImage,
		"video/mp4":       KindVideo,
		"audio/ogg":       KindAudio,
		"application/pdf": KindPDF,
		"text/plain":      KindDocument,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindDocument,
		"application/zip": KindFile,
	}
	for mimeType, want := range cases {
		if got := kindForMime(mimeType); got != want {
			t.Fatalf("kindForMime(%q) = %s, want %s", mimeType, got, want)
		}
	}
}

func TestGuessMimeType(t *testing.T) {
	cases := map[string]string{
		"notes.md":  "text/markdown",
		"pic.webp":  "image/webp",
		"clip.webm": "video/webm",
		"data.json": "application/json",
		"blob":      "application/octet-stream",
	}
	for name, want := range cases {
		got := guessMimeType(name)
		if !strings.EqualFold(got, want) {
			t.Fatalf("guessMimeType(%q) = %s, want %s", name, got, want)
		}
	}
}
