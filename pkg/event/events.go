package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationCreated  = "conversation.created"
	ConversationUpdated  = "conversation.updated"
	ConversationDeleted  = "conversation.deleted"
	ConversationReverted = "conversation.reverted"
	FileUploaded         = "file.uploaded"
	FileUpdated          = "file.updated"
	FileDeleted          = "file.deleted"
	FileReverted         = "file.reverted"
	DraftSaved           = "email.draftSaved"
	DraftDeleted         = "email.draftDeleted"
	TemplateSaved        = "email.templateSaved"
	TemplateDeleted      = "email.templateDeleted"
	EmailSent            = "email.sent"
	PrefsUpdated         = "prefs.updated"
	PrefsReset           = "prefs.reset"
	SessionChanged       = "auth.sessionChanged"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationCreatedEvent is emitted when a conversation enters the cache.
type ConversationCreatedEvent struct {
	RecordKey string `json:"record_key"`
	Tool      string `json:"tool"`
}

func (e ConversationCreatedEvent) EventName() string { return ConversationCreated }

// ConversationUpdatedEvent is emitted after a rename or message append.
type ConversationUpdatedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationDeletedEvent is emitted once the remote delete is confirmed.
type ConversationDeletedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e ConversationDeletedEvent) EventName() string { return ConversationDeleted }

// ConversationRevertedEvent is emitted when a failed mutation rolls back.
type ConversationRevertedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e ConversationRevertedEvent) EventName() string { return ConversationReverted }

// ============================================================================
// File Events
// ============================================================================

// FileUploadedEvent is emitted when a file record enters the cache.
type FileUploadedEvent struct {
	RecordKey string `json:"record_key"`
	Filename  string `json:"filename"`
}

func (e FileUploadedEvent) EventName() string { return FileUploaded }

// FileUpdatedEvent is emitted after a description change.
type FileUpdatedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e FileUpdatedEvent) EventName() string { return FileUpdated }

// FileDeletedEvent is emitted when a file is soft-deleted locally.
type FileDeletedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e FileDeletedEvent) EventName() string { return FileDeleted }

// FileRevertedEvent is emitted when a failed file mutation rolls back.
type FileRevertedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e FileRevertedEvent) EventName() string { return FileReverted }

// ============================================================================
// Email Events
// ============================================================================

// DraftSavedEvent is emitted after a draft create or update.
type DraftSavedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e DraftSavedEvent) EventName() string { return DraftSaved }

// DraftDeletedEvent is emitted once the remote draft delete is confirmed.
type DraftDeletedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e DraftDeletedEvent) EventName() string { return DraftDeleted }

// TemplateSavedEvent is emitted after a template create or update.
type TemplateSavedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e TemplateSavedEvent) EventName() string { return TemplateSaved }

// TemplateDeletedEvent is emitted once the remote template delete is confirmed.
type TemplateDeletedEvent struct {
	RecordKey string `json:"record_key"`
}

func (e TemplateDeletedEvent) EventName() string { return TemplateDeleted }

// EmailSentEvent is emitted after the mailer accepts a message.
type EmailSentEvent struct {
	RecordKey string `json:"record_key"`
	Subject   string `json:"subject"`
}

func (e EmailSentEvent) EventName() string { return EmailSent }

// ============================================================================
// Preference / Session Events
// ============================================================================

// PrefsUpdatedEvent is emitted when a preference field changes locally.
type PrefsUpdatedEvent struct {
	Category string `json:"category"`
	Key      string `json:"key,omitempty"`
}

func (e PrefsUpdatedEvent) EventName() string { return PrefsUpdated }

// PrefsResetEvent is emitted when a category is restored to defaults.
type PrefsResetEvent struct {
	Category string `json:"category"`
}

func (e PrefsResetEvent) EventName() string { return PrefsReset }

// SessionChangedEvent is emitted on login and logout.
type SessionChangedEvent struct {
	UserID string `json:"user_id,omitempty"`
}

func (e SessionChangedEvent) EventName() string { return SessionChanged }
