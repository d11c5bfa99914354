package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"helppages/api/internal/assets"
	"helppages/api/internal/authpw"
	"helppages/api/internal/autosave"
	"helppages/api/internal/config"
	"helppages/api/internal/email"
	"helppages/api/internal/export"
	"helppages/api/internal/gitrepo"
	"helppages/api/internal/metrics"
	"helppages/api/internal/rbac"
	"helppages/api/internal/search"
	"helppages/api/internal/session"
	"helppages/api/internal/store"
)

// reindexDelay coalesces search updates after bursts of autosaves.
const reindexDelay = 3 * time.Second

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	session.RefreshStore

	Ping(ctx context.Context) error
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserRole(context.Context, string, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	PurgeExpired(context.Context, time.Time) (store.PurgeStats, error)

	CreateDoc(context.Context, store.Doc, store.PageSeed) error
	GetDoc(context.Context, string) (store.Doc, error)
	ListDocsForUser(context.Context, string, bool) ([]store.DocListing, error)
	UpdateDoc(context.Context, store.Doc) (store.Doc, error)
	SetDocPublished(context.Context, string, bool, time.Time) (store.Doc, error)
	DeleteDoc(context.Context, string) error
	CountPublishedPages(context.Context, string) (int, error)

	GetMemberRole(context.Context, string, string) (string, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	AddMember(context.Context, store.DocMember) error
	UpdateMemberRole(context.Context, string, string, string) error
	RemoveMember(context.Context, string, string) error

	ListNavSections(context.Context, string) ([]store.NavSection, error)
	ListNavItems(context.Context, string) ([]store.NavItem, error)
	GetNavSection(context.Context, string, string) (store.NavSection, error)
	GetNavItem(context.Context, string, string) (store.NavItem, error)
	InsertNavSection(context.Context, store.NavSection) (store.NavSection, error)
	UpdateNavSection(context.Context, store.NavSection) (store.NavSection, error)
	DeleteNavSection(context.Context, string, string) error
	InsertNavItem(context.Context, store.NavItem) (store.NavItem, error)
	UpdateNavItem(context.Context, store.NavItem) (store.NavItem, error)
	DeleteNavItem(context.Context, string, string) error
	ApplyNavMoves(context.Context, string, []store.NavMove) error

	CreatePage(context.Context, store.PageSeed) error
	GetPage(context.Context, string) (store.Page, error)
	ListPages(context.Context, string) ([]store.Page, error)
	ListPagesWithContent(context.Context, string) ([]store.Page, error)
	PageSlugTaken(context.Context, string, string, string) (bool, error)
	UpdateDraft(context.Context, store.DraftUpdate) (store.Page, error)
	PublishPage(context.Context, string, store.PageRevision, time.Time) (store.Page, error)
	UnpublishPage(context.Context, string, string) (store.Page, error)
	SetPageSchedule(context.Context, string, *time.Time) (store.Page, error)
	ListDuePages(context.Context, time.Time) ([]store.Page, error)
	DeletePage(context.Context, string) error
	LatestRevision(context.Context, string) (*store.PageRevision, error)
	ListRevisions(context.Context, string) ([]store.PageRevision, error)
	GetRevision(context.Context, string, int) (store.PageRevision, error)

	InsertAsset(context.Context, store.Asset) (store.Asset, error)
	ListAssets(context.Context, string) ([]store.Asset, error)
	GetAsset(context.Context, string, string) (store.Asset, error)
	DeleteAsset(context.Context, string, string) error
}

type historyRepo interface {
	CommitSnapshot(docID string, snap gitrepo.Snapshot, author, message string) (store.CommitInfo, error)
	History(docID string, limit int) ([]store.CommitInfo, error)
	SnapshotAt(docID, hash string) (gitrepo.Snapshot, store.CommitInfo, error)
	Remove(docID string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPage(rec search.PageRecord)
	DeletePages(ids ...string)
	ReindexDoc(ctx context.Context, docID string)
}

type siteCache interface {
	Invalidate(ctx context.Context, docID string)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInvitationEmail(to, inviterName, docName, role, docURL string) error
}

// Deps are the collaborators of Service. Only Store is required; every other
// dependency degrades to a no-op or a 503 when nil.
type Deps struct {
	Store    *store.PostgresStore
	Sessions session.RefreshStore
	Git      *gitrepo.Service
	Search   *search.Service
	Site     siteCache
	Export   *export.Service
	Assets   *assets.Service
	Mail     *email.Service
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions session.RefreshStore
	git      historyRepo
	search   searchIndex
	site     siteCache
	exporter *export.Service
	assets   *assets.Service
	mail     mailer
	accounts *authpw.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	policy   autosave.Policy
	reindex  *autosave.Debouncer
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		site:     deps.Site,
		exporter: deps.Export,
		assets:   deps.Assets,
		accounts: authpw.NewService(deps.Store),
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if deps.Git != nil {
		s.git = deps.Git
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Mail != nil {
		s.mail = deps.Mail
	}
	return s.init()
}

// init fills the defaults shared by New and tests.
func (s *Service) init() *Service {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sessions == nil {
		s.sessions = s.store
	}
	if s.exporter == nil {
		s.exporter = export.NewService(nil)
	}
	if s.assets == nil {
		s.assets = assets.NewService(nil)
	}
	if s.accounts == nil {
		s.accounts = authpw.NewService(s.store)
	}
	if s.reindex == nil {
		s.reindex = autosave.NewDebouncer(reindexDelay)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.policy = autosave.Policy{
		MinChangeRatio: s.cfg.AutosaveMinChange,
		MaxInterval:    s.cfg.AutosaveMaxInterval,
	}
	return s
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close flushes pending search updates.
func (s *Service) Close() {
	s.reindex.Flush()
	s.reindex.Stop()
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// docAccess loads a doc and resolves the caller's role on it. Callers without
// any access get the same 404 as for a missing doc.
func (s *Service) docAccess(ctx context.Context, sess Session, docID string) (store.Doc, rbac.Access, error) {
	doc, err := s.store.GetDoc(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Doc{}, rbac.Access{}, notFoundError("Doc")
		}
		return store.Doc{}, rbac.Access{}, err
	}
	memberRole := ""
	if doc.OwnerID != sess.UserID {
		memberRole, err = s.store.GetMemberRole(ctx, doc.ID, sess.UserID)
		if err != nil {
			return store.Doc{}, rbac.Access{}, err
		}
	}
	access := rbac.Resolve(rbac.ResolveInput{
		IsOwner:    doc.OwnerID == sess.UserID,
		GlobalRole: sess.Role,
		MemberRole: memberRole,
	})
	if !access.HasAccess() {
		return store.Doc{}, rbac.Access{}, notFoundError("Doc")
	}
	return doc, access, nil
}

func (s *Service) authorizeDoc(ctx context.Context, sess Session, docID string, action rbac.Action) (store.Doc, rbac.Access, error) {
	doc, access, err := s.docAccess(ctx, sess, docID)
	if err != nil {
		return store.Doc{}, rbac.Access{}, err
	}
	if !access.Can(action) {
		return store.Doc{}, rbac.Access{}, forbiddenError()
	}
	return doc, access, nil
}

// authorizePage resolves access through the page's doc.
func (s *Service) authorizePage(ctx context.Context, sess Session, pageID string, action rbac.Action) (store.Page, store.Doc, rbac.Access, error) {
	page, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Page{}, store.Doc{}, rbac.Access{}, notFoundError("Page")
		}
		return store.Page{}, store.Doc{}, rbac.Access{}, err
	}
	doc, access, err := s.docAccess(ctx, sess, page.DocID)
	if err != nil {
		if isNotFound(err) {
			return store.Page{}, store.Doc{}, rbac.Access{}, notFoundError("Page")
		}
		return store.Page{}, store.Doc{}, rbac.Access{}, err
	}
	if !access.Can(action) {
		return store.Page{}, store.Doc{}, rbac.Access{}, forbiddenError()
	}
	return page, doc, access, nil
}

// changed invalidates the public site of a doc.
func (s *Service) changed(ctx context.Context, docID string) {
	if s.site != nil {
		s.site.Invalidate(ctx, docID)
	}
}

func isNotFound(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status == 404
	}
	return errors.Is(err, store.ErrNotFound)
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefStr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
