package store

import "time"

type User struct {
	ID                    string     `db:"id"`
	Email                 string     `db:"email"`
	DisplayName           string     `db:"display_name"`
	PasswordHash          string     `db:"password_hash"`
	Role                  string     `db:"role"`
	IsEmailVerified       bool       `db:"is_email_verified"`
	VerificationToken     string     `db:"verification_token"`
	VerificationExpiresAt *time.Time `db:"verification_expires_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

type Doc struct {
	ID            string     `db:"id"`
	OwnerID       string     `db:"owner_id"`
	Name          string     `db:"name"`
	Slug          string     `db:"slug"`
	Description   string     `db:"description"`
	IsPublished   bool       `db:"is_published"`
	PublishedAt   *time.Time `db:"published_at"`
	LandingPageID *string    `db:"landing_page_id"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// DocListing is a doc together with the caller's membership role, empty when
// the caller only sees the doc as owner or global admin.
type DocListing struct {
	Doc
	MemberRole string `db:"member_role"`
}

type DocMember struct {
	DocID     string    `db:"doc_id"`
	UserID    string    `db:"user_id"`
	Role      string    `db:"role"`
	InvitedBy string    `db:"invited_by"`
	CreatedAt time.Time `db:"created_at"`
}

// Member is a DocMember joined with the user's profile.
type Member struct {
	DocMember
	Email       string `db:"email"`
	DisplayName string `db:"display_name"`
}

type NavSection struct {
	ID        string    `db:"id"`
	DocID     string    `db:"doc_id"`
	ParentID  *string   `db:"parent_id"`
	Title     string    `db:"title"`
	Position  int       `db:"position"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const (
	NavItemPage = "page"
	NavItemLink = "link"
)

type NavItem struct {
	ID        string    `db:"id"`
	DocID     string    `db:"doc_id"`
	SectionID *string   `db:"section_id"`
	ParentID  *string   `db:"parent_id"`
	Kind      string    `db:"kind"`
	Label     string    `db:"label"`
	PageID    *string   `db:"page_id"`
	URL       string    `db:"url"`
	Position  int       `db:"position"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NavMove places one section or item at a new parent and position.
type NavMove struct {
	Type      string
	ID        string
	ParentID  *string
	SectionID *string
	Position  int
}

const (
	PageDraft     = "draft"
	PagePublished = "published"
)

type Page struct {
	ID                 string     `db:"id"`
	DocID              string     `db:"doc_id"`
	Title              string     `db:"title"`
	Slug               string     `db:"slug"`
	Content            string     `db:"content"`
	Status             string     `db:"status"`
	PublishedTitle     string     `db:"published_title"`
	PublishedContent   string     `db:"published_content"`
	PublishedAt        *time.Time `db:"published_at"`
	ScheduledPublishAt *time.Time `db:"scheduled_publish_at"`
	Version            int        `db:"version"`
	CreatedBy          string     `db:"created_by"`
	UpdatedBy          string     `db:"updated_by"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

const (
	RevisionAutosave = "autosave"
	RevisionManual   = "manual"
	RevisionPublish  = "publish"
	RevisionRestore  = "restore"
)

type PageRevision struct {
	ID        string    `db:"id"`
	PageID    string    `db:"page_id"`
	Number    int       `db:"number"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Content   string    `db:"content"`
	Message   string    `db:"message"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

// DraftUpdate is one optimistic write of a page draft. Revision is recorded
// in the same transaction when non-nil; autosave revisions beyond
// KeepAutosaves are pruned when KeepAutosaves is positive.
type DraftUpdate struct {
	PageID        string
	BaseVersion   int
	Title         string
	Slug          string
	Content       string
	UpdatedBy     string
	Revision      *PageRevision
	KeepAutosaves int
}

type Asset struct {
	ID          string    `db:"id"`
	DocID       string    `db:"doc_id"`
	ObjectKey   string    `db:"object_key"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	SizeBytes   int64     `db:"size_bytes"`
	UploadedBy  string    `db:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at"`
}

// PurgeStats counts rows removed by PurgeExpired.
type PurgeStats struct {
	RefreshSessions int64
	RevokedTokens   int64
	PasswordResets  int64
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
