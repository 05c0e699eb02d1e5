package models

import (
	"fmt"
	"net/mail"
	"time"
)

// AttachmentRef is a read-only copy of a FileRecord's addressing fields.
// Attaching a file to an email never mutates the file library entry.
type AttachmentRef struct {
	Filename string       `json:"filename"`
	URL      string       `json:"url"`
	Size     int64        `json:"size"`
	Category MimeCategory `json:"mime_category"`
}

// AttachmentFromFile copies the shareable fields out of a file record.
func AttachmentFromFile(f *FileRecord) AttachmentRef {
	return AttachmentRef{
		Filename: f.Filename,
		URL:      f.URL,
		Size:     f.Size,
		Category: f.Category,
	}
}

// EmailDraft is an unsent message kept in the drafts collection.
type EmailDraft struct {
	RecordMeta
	To          []string        `json:"to"`
	Subject     string          `json:"subject"`
	Body        string          `json:"body"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// Clone returns a deep copy used as the pre-mutation snapshot for rollback.
func (d *EmailDraft) Clone() *EmailDraft {
	if d == nil {
		return nil
	}
	cp := *d
	cp.To = append([]string(nil), d.To...)
	cp.Attachments = append([]AttachmentRef(nil), d.Attachments...)
	return &cp
}

// EmailTemplate is a reusable message body with {{placeholder}} tokens.
type EmailTemplate struct {
	RecordMeta
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Clone returns a copy used as the pre-mutation snapshot for rollback.
func (t *EmailTemplate) Clone() *EmailTemplate {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// SentEmail is one row of the append-only sent log.
type SentEmail struct {
	RecordMeta
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// Clone returns a deep copy of the log row.
func (s *SentEmail) Clone() *SentEmail {
	if s == nil {
		return nil
	}
	cp := *s
	cp.To = append([]string(nil), s.To...)
	return &cp
}

// ValidateAddresses rejects malformed recipient lists before any local or
// remote mutation is attempted.
func ValidateAddresses(addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no recipients")
	}
	for _, a := range addrs {
		if _, err := mail.ParseAddress(a); err != nil {
			return fmt.Errorf("invalid address %q: %w", a, err)
		}
	}
	return nil
}
