package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"helppages/api/internal/config"
	"helppages/api/internal/gitrepo"
	"helppages/api/internal/search"
	"helppages/api/internal/store"
)

type fakeStore struct {
	pingFn                 func(context.Context) error
	getUserByIDFn          func(context.Context, string) (store.User, error)
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	listUsersFn            func(context.Context) ([]store.User, error)
	updateUserRoleFn       func(context.Context, string, string) error
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)
	saveRefreshFn          func(context.Context, string, string, time.Time) error
	consumeRefreshFn       func(context.Context, string) (string, error)
	createDocFn            func(context.Context, store.Doc, store.PageSeed) error
	getDocFn               func(context.Context, string) (store.Doc, error)
	listDocsForUserFn      func(context.Context, string, bool) ([]store.DocListing, error)
	updateDocFn            func(context.Context, store.Doc) (store.Doc, error)
	setDocPublishedFn      func(context.Context, string, bool, time.Time) (store.Doc, error)
	deleteDocFn            func(context.Context, string) error
	countPublishedPagesFn  func(context.Context, string) (int, error)
	getMemberRoleFn        func(context.Context, string, string) (string, error)
	listMembersFn          func(context.Context, string) ([]store.Member, error)
	addMemberFn            func(context.Context, store.DocMember) error
	listNavSectionsFn      func(context.Context, string) ([]store.NavSection, error)
	listNavItemsFn         func(context.Context, string) ([]store.NavItem, error)
	getNavSectionFn        func(context.Context, string, string) (store.NavSection, error)
	insertNavSectionFn     func(context.Context, store.NavSection) (store.NavSection, error)
	insertNavItemFn        func(context.Context, store.NavItem) (store.NavItem, error)
	applyNavMovesFn        func(context.Context, string, []store.NavMove) error
	createPageFn           func(context.Context, store.PageSeed) error
	getPageFn              func(context.Context, string) (store.Page, error)
	listPagesFn            func(context.Context, string) ([]store.Page, error)
	listPagesWithContentFn func(context.Context, string) ([]store.Page, error)
	pageSlugTakenFn        func(context.Context, string, string, string) (bool, error)
	updateDraftFn          func(context.Context, store.DraftUpdate) (store.Page, error)
	publishPageFn          func(context.Context, string, store.PageRevision, time.Time) (store.Page, error)
	listDuePagesFn         func(context.Context, time.Time) ([]store.Page, error)
	deletePageFn           func(context.Context, string) error
	latestRevisionFn       func(context.Context, string) (*store.PageRevision, error)
	getRevisionFn          func(context.Context, string, int) (store.PageRevision, error)
	listAssetsFn           func(context.Context, string) ([]store.Asset, error)
	purgeExpiredFn         func(context.Context, time.Time) (store.PurgeStats, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	return user, nil
}
func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(context.Context, string) error {
	return nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error {
	return nil
}
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", store.ErrNotFound
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }
func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, hash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) ConsumeRefreshSession(ctx context.Context, hash string) (string, error) {
	if f.consumeRefreshFn != nil {
		return f.consumeRefreshFn(ctx, hash)
	}
	return "", store.ErrNotFound
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, userID, role)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) PurgeExpired(ctx context.Context, now time.Time) (store.PurgeStats, error) {
	if f.purgeExpiredFn != nil {
		return f.purgeExpiredFn(ctx, now)
	}
	return store.PurgeStats{}, nil
}
func (f *fakeStore) CreateDoc(ctx context.Context, doc store.Doc, seed store.PageSeed) error {
	if f.createDocFn != nil {
		return f.createDocFn(ctx, doc, seed)
	}
	return nil
}
func (f *fakeStore) GetDoc(ctx context.Context, docID string) (store.Doc, error) {
	if f.getDocFn != nil {
		return f.getDocFn(ctx, docID)
	}
	return store.Doc{}, store.ErrNotFound
}
func (f *fakeStore) ListDocsForUser(ctx context.Context, userID string, all bool) ([]store.DocListing, error) {
	if f.listDocsForUserFn != nil {
		return f.listDocsForUserFn(ctx, userID, all)
	}
	return nil, nil
}
func (f *fakeStore) UpdateDoc(ctx context.Context, doc store.Doc) (store.Doc, error) {
	if f.updateDocFn != nil {
		return f.updateDocFn(ctx, doc)
	}
	return doc, nil
}
func (f *fakeStore) SetDocPublished(ctx context.Context, docID string, published bool, at time.Time) (store.Doc, error) {
	if f.setDocPublishedFn != nil {
		return f.setDocPublishedFn(ctx, docID, published, at)
	}
	return store.Doc{ID: docID, IsPublished: published}, nil
}
func (f *fakeStore) DeleteDoc(ctx context.Context, docID string) error {
	if f.deleteDocFn != nil {
		return f.deleteDocFn(ctx, docID)
	}
	return nil
}
func (f *fakeStore) CountPublishedPages(ctx context.Context, docID string) (int, error) {
	if f.countPublishedPagesFn != nil {
		return f.countPublishedPagesFn(ctx, docID)
	}
	return 0, nil
}
func (f *fakeStore) GetMemberRole(ctx context.Context, docID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, docID, userID)
	}
	return "", nil
}
func (f *fakeStore) ListMembers(ctx context.Context, docID string) ([]store.Member, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) AddMember(ctx context.Context, member store.DocMember) error {
	if f.addMemberFn != nil {
		return f.addMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) UpdateMemberRole(context.Context, string, string, string) error {
	return nil
}
func (f *fakeStore) RemoveMember(context.Context, string, string) error {
	return nil
}
func (f *fakeStore) ListNavSections(ctx context.Context, docID string) ([]store.NavSection, error) {
	if f.listNavSectionsFn != nil {
		return f.listNavSectionsFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) ListNavItems(ctx context.Context, docID string) ([]store.NavItem, error) {
	if f.listNavItemsFn != nil {
		return f.listNavItemsFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) GetNavSection(ctx context.Context, docID, sectionID string) (store.NavSection, error) {
	if f.getNavSectionFn != nil {
		return f.getNavSectionFn(ctx, docID, sectionID)
	}
	return store.NavSection{}, store.ErrNotFound
}
func (f *fakeStore) GetNavItem(context.Context, string, string) (store.NavItem, error) {
	return store.NavItem{}, store.ErrNotFound
}
func (f *fakeStore) InsertNavSection(ctx context.Context, section store.NavSection) (store.NavSection, error) {
	if f.insertNavSectionFn != nil {
		return f.insertNavSectionFn(ctx, section)
	}
	return section, nil
}
func (f *fakeStore) UpdateNavSection(_ context.Context, section store.NavSection) (store.NavSection, error) {
	return section, nil
}
func (f *fakeStore) DeleteNavSection(context.Context, string, string) error { return nil }
func (f *fakeStore) InsertNavItem(ctx context.Context, item store.NavItem) (store.NavItem, error) {
	if f.insertNavItemFn != nil {
		return f.insertNavItemFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) UpdateNavItem(_ context.Context, item store.NavItem) (store.NavItem, error) {
	return item, nil
}
func (f *fakeStore) DeleteNavItem(context.Context, string, string) error { return nil }
func (f *fakeStore) ApplyNavMoves(ctx context.Context, docID string, moves []store.NavMove) error {
	if f.applyNavMovesFn != nil {
		return f.applyNavMovesFn(ctx, docID, moves)
	}
	return nil
}
func (f *fakeStore) CreatePage(ctx context.Context, seed store.PageSeed) error {
	if f.createPageFn != nil {
		return f.createPageFn(ctx, seed)
	}
	return nil
}
func (f *fakeStore) GetPage(ctx context.Context, pageID string) (store.Page, error) {
	if f.getPageFn != nil {
		return f.getPageFn(ctx, pageID)
	}
	return store.Page{}, store.ErrNotFound
}
func (f *fakeStore) ListPages(ctx context.Context, docID string) ([]store.Page, error) {
	if f.listPagesFn != nil {
		return f.listPagesFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) ListPagesWithContent(ctx context.Context, docID string) ([]store.Page, error) {
	if f.listPagesWithContentFn != nil {
		return f.listPagesWithContentFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) PageSlugTaken(ctx context.Context, docID, slug, exceptPageID string) (bool, error) {
	if f.pageSlugTakenFn != nil {
		return f.pageSlugTakenFn(ctx, docID, slug, exceptPageID)
	}
	return false, nil
}
func (f *fakeStore) UpdateDraft(ctx context.Context, update store.DraftUpdate) (store.Page, error) {
	if f.updateDraftFn != nil {
		return f.updateDraftFn(ctx, update)
	}
	return store.Page{ID: update.PageID, Title: update.Title, Slug: update.Slug, Content: update.Content, Version: update.BaseVersion + 1}, nil
}
func (f *fakeStore) PublishPage(ctx context.Context, pageID string, rev store.PageRevision, at time.Time) (store.Page, error) {
	if f.publishPageFn != nil {
		return f.publishPageFn(ctx, pageID, rev, at)
	}
	return store.Page{ID: pageID, Status: store.PagePublished, PublishedAt: &at}, nil
}
func (f *fakeStore) UnpublishPage(_ context.Context, pageID, _ string) (store.Page, error) {
	return store.Page{ID: pageID, Status: store.PageDraft}, nil
}
func (f *fakeStore) SetPageSchedule(_ context.Context, pageID string, at *time.Time) (store.Page, error) {
	return store.Page{ID: pageID, ScheduledPublishAt: at}, nil
}
func (f *fakeStore) ListDuePages(ctx context.Context, now time.Time) ([]store.Page, error) {
	if f.listDuePagesFn != nil {
		return f.listDuePagesFn(ctx, now)
	}
	return nil, nil
}
func (f *fakeStore) DeletePage(ctx context.Context, pageID string) error {
	if f.deletePageFn != nil {
		return f.deletePageFn(ctx, pageID)
	}
	return nil
}
func (f *fakeStore) LatestRevision(ctx context.Context, pageID string) (*store.PageRevision, error) {
	if f.latestRevisionFn != nil {
		return f.latestRevisionFn(ctx, pageID)
	}
	return nil, nil
}
func (f *fakeStore) ListRevisions(context.Context, string) ([]store.PageRevision, error) {
	return nil, nil
}
func (f *fakeStore) GetRevision(ctx context.Context, pageID string, number int) (store.PageRevision, error) {
	if f.getRevisionFn != nil {
		return f.getRevisionFn(ctx, pageID, number)
	}
	return store.PageRevision{}, store.ErrNotFound
}
func (f *fakeStore) InsertAsset(_ context.Context, asset store.Asset) (store.Asset, error) {
	return asset, nil
}
func (f *fakeStore) ListAssets(ctx context.Context, docID string) ([]store.Asset, error) {
	if f.listAssetsFn != nil {
		return f.listAssetsFn(ctx, docID)
	}
	return nil, nil
}
func (f *fakeStore) GetAsset(context.Context, string, string) (store.Asset, error) {
	return store.Asset{}, store.ErrNotFound
}
func (f *fakeStore) DeleteAsset(context.Context, string, string) error { return nil }

type fakeGit struct {
	mu        sync.Mutex
	commits   []string
	commitFn  func(string, gitrepo.Snapshot, string, string) (store.CommitInfo, error)
	historyFn func(string, int) ([]store.CommitInfo, error)
}

func (f *fakeGit) CommitSnapshot(docID string, snap gitrepo.Snapshot, author, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	f.commits = append(f.commits, message)
	f.mu.Unlock()
	if f.commitFn != nil {
		return f.commitFn(docID, snap, author, message)
	}
	return store.CommitInfo{Hash: "abc123", Message: message, Author: author}, nil
}
func (f *fakeGit) History(docID string, limit int) ([]store.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(docID, limit)
	}
	return nil, nil
}
func (f *fakeGit) SnapshotAt(string, string) (gitrepo.Snapshot, store.CommitInfo, error) {
	return gitrepo.Snapshot{}, store.CommitInfo{}, gitrepo.ErrUnknownCommit
}
func (f *fakeGit) Remove(string) error { return nil }

type fakeSearch struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
	events  []string
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Query: q.Text}
}
func (f *fakeSearch) IndexPage(rec search.PageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec.ID)
	f.events = append(f.events, "index:"+rec.ID+":"+rec.Status)
}
func (f *fakeSearch) DeletePages(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	for _, id := range ids {
		f.events = append(f.events, "delete:"+id)
	}
}
func (f *fakeSearch) ReindexDoc(context.Context, string) {}

type fakeSite struct {
	invalidated []string
}

func (f *fakeSite) Invalidate(_ context.Context, docID string) {
	f.invalidated = append(f.invalidated, docID)
}

func newTestService(fs *fakeStore, fg *fakeGit) *Service {
	svc := &Service{
		cfg: config.Config{
			JWTSecret:           "test-secret",
			AccessTTL:           time.Hour,
			RefreshTTL:          24 * time.Hour,
			RootDomain:          "helppages.test",
			PublicScheme:        "https",
			AutosaveMinChange:   0.2,
			AutosaveMaxInterval: 10 * time.Minute,
			RevisionLimit:       100,
		},
		store: fs,
	}
	if fg != nil {
		svc.git = fg
	}
	return svc.init()
}

// Users and memberships shared by most tests: owner-1 owns doc-1, editor-1
// and viewer-1 are members, outsider-1 has no access, admin-1 is a global
// admin.
var testUsers = map[string]store.User{
	"owner-1":    {ID: "owner-1", DisplayName: "Owner", Email: "owner@example.com", Role: "editor"},
	"editor-1":   {ID: "editor-1", DisplayName: "Eddie", Email: "eddie@example.com", Role: "editor"},
	"viewer-1":   {ID: "viewer-1", DisplayName: "Vera", Email: "vera@example.com", Role: "viewer"},
	"outsider-1": {ID: "outsider-1", DisplayName: "Otto", Email: "otto@example.com", Role: "editor"},
	"admin-1":    {ID: "admin-1", DisplayName: "Ada", Email: "ada@example.com", Role: "admin"},
}

func testSession(userID string) Session {
	user := testUsers[userID]
	return Session{UserID: user.ID, UserName: user.DisplayName, Email: user.Email, Role: user.Role}
}

func seededStore() *fakeStore {
	doc := store.Doc{ID: "doc-1", OwnerID: "owner-1", Name: "Acme Help", Slug: "acme"}
	page := store.Page{ID: "pg-1", DocID: "doc-1", Title: "Intro", Slug: "intro", Content: "# Intro\n\nHello world.\n", Status: store.PageDraft, Version: 3}
	members := map[string]string{"editor-1": "editor", "viewer-1": "viewer"}
	return &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			if user, ok := testUsers[id]; ok {
				return user, nil
			}
			return store.User{}, store.ErrNotFound
		},
		getDocFn: func(_ context.Context, id string) (store.Doc, error) {
			if id == doc.ID {
				return doc, nil
			}
			return store.Doc{}, store.ErrNotFound
		},
		getMemberRoleFn: func(_ context.Context, docID, userID string) (string, error) {
			if docID != doc.ID {
				return "", nil
			}
			return members[userID], nil
		},
		getPageFn: func(_ context.Context, id string) (store.Page, error) {
			if id == page.ID {
				return page, nil
			}
			return store.Page{}, store.ErrNotFound
		},
	}
}

func expectDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	gotStatus, gotCode, _, _ := mapError(err)
	if gotStatus != status || gotCode != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, gotStatus, gotCode, err)
	}
}

func TestDocAccessHidesDocsFromOutsiders(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	_, err := svc.GetDoc(context.Background(), testSession("outsider-1"), "doc-1")
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.GetDoc(context.Background(), testSession("outsider-1"), "doc-missing")
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestDocAccessByRole(t *testing.T) {
	cases := []struct {
		user       string
		wantRole   string
		wantManage bool
	}{
		{"owner-1", "admin", true},
		{"admin-1", "admin", true},
		{"editor-1", "editor", false},
		{"viewer-1", "viewer", false},
	}
	for _, tc := range cases {
		t.Run(tc.user, func(t *testing.T) {
			svc := newTestService(seededStore(), nil)
			doc, err := svc.GetDoc(context.Background(), testSession(tc.user), "doc-1")
			if err != nil {
				t.Fatalf("get doc: %v", err)
			}
			if doc["role"] != tc.wantRole {
				t.Fatalf("expected role %s, got %v", tc.wantRole, doc["role"])
			}
			name := "Renamed"
			_, err = svc.UpdateDoc(context.Background(), testSession(tc.user), "doc-1", UpdateDocInput{Name: &name})
			if tc.wantManage && err != nil {
				t.Fatalf("expected update to succeed, got %v", err)
			}
			if !tc.wantManage {
				expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
			}
		})
	}
}

func TestViewerCannotEditPages(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	_, err := svc.AutosavePage(context.Background(), testSession("viewer-1"), "pg-1", AutosaveInput{Content: "changed", BaseVersion: 3})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = svc.AutosavePage(context.Background(), testSession("outsider-1"), "pg-1", AutosaveInput{Content: "changed", BaseVersion: 3})
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestOnlyOwnerAndAdminsDeleteDocs(t *testing.T) {
	var deleted []string
	fs := seededStore()
	fs.deleteDocFn = func(_ context.Context, docID string) error {
		deleted = append(deleted, docID)
		return nil
	}
	svc := newTestService(fs, &fakeGit{})

	err := svc.DeleteDoc(context.Background(), testSession("editor-1"), "doc-1")
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	if err := svc.DeleteDoc(context.Background(), testSession("admin-1"), "doc-1"); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "doc-1" {
		t.Fatalf("expected doc-1 deleted once, got %v", deleted)
	}
}

func TestCreateDocSeedsGettingStartedPage(t *testing.T) {
	var (
		gotDoc  store.Doc
		gotSeed store.PageSeed
	)
	fs := seededStore()
	fs.createDocFn = func(_ context.Context, doc store.Doc, seed store.PageSeed) error {
		gotDoc, gotSeed = doc, seed
		return nil
	}
	fs.getDocFn = func(context.Context, string) (store.Doc, error) { return gotDoc, nil }
	fsearch := &fakeSearch{}
	svc := newTestService(fs, nil)
	svc.search = fsearch

	doc, err := svc.CreateDoc(context.Background(), testSession("editor-1"), CreateDocInput{Name: "  Billing Guide  "})
	if err != nil {
		t.Fatalf("create doc: %v", err)
	}
	if gotDoc.Slug != "billing-guide" || gotDoc.OwnerID != "editor-1" || gotDoc.Name != "Billing Guide" {
		t.Fatalf("unexpected doc row %+v", gotDoc)
	}
	if gotSeed.Page.Slug != "getting-started" || gotSeed.NavItem == nil || gotSeed.Revision.Kind != store.RevisionManual {
		t.Fatalf("unexpected seed %+v", gotSeed)
	}
	if doc["publicUrl"] != "https://billing-guide.helppages.test" {
		t.Fatalf("unexpected publicUrl %v", doc["publicUrl"])
	}
	if len(fsearch.indexed) != 1 || fsearch.indexed[0] != gotSeed.Page.ID {
		t.Fatalf("expected the seeded page indexed, got %v", fsearch.indexed)
	}
}

func TestCreateDocRejections(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	_, err := svc.CreateDoc(context.Background(), testSession("viewer-1"), CreateDocInput{Name: "Docs"})
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = svc.CreateDoc(context.Background(), testSession("editor-1"), CreateDocInput{Name: "API", Slug: "api"})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "SLUG_RESERVED")

	_, err = svc.CreateDoc(context.Background(), testSession("editor-1"), CreateDocInput{Name: "Docs", Slug: "Bad Slug!"})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.CreateDoc(context.Background(), testSession("editor-1"), CreateDocInput{Name: ""})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCreateDocSlugTaken(t *testing.T) {
	fs := seededStore()
	fs.createDocFn = func(context.Context, store.Doc, store.PageSeed) error {
		return &pgconn.PgError{Code: "23505", ConstraintName: "docs_slug_key"}
	}
	svc := newTestService(fs, nil)

	_, err := svc.CreateDoc(context.Background(), testSession("editor-1"), CreateDocInput{Name: "Acme"})
	expectDomainError(t, err, http.StatusConflict, "SLUG_TAKEN")
}

func TestPublishDocRequiresPublishedPage(t *testing.T) {
	fs := seededStore()
	fg := &fakeGit{}
	svc := newTestService(fs, fg)

	_, err := svc.PublishDoc(context.Background(), testSession("owner-1"), "doc-1")
	expectDomainError(t, err, http.StatusUnprocessableEntity, "NOTHING_PUBLISHED")

	fs.countPublishedPagesFn = func(context.Context, string) (int, error) { return 2, nil }
	fs.setDocPublishedFn = func(_ context.Context, docID string, published bool, at time.Time) (store.Doc, error) {
		return store.Doc{ID: docID, OwnerID: "owner-1", Name: "Acme Help", Slug: "acme", IsPublished: published, PublishedAt: &at}, nil
	}
	site := &fakeSite{}
	svc.site = site
	doc, err := svc.PublishDoc(context.Background(), testSession("editor-1"), "doc-1")
	if err != nil {
		t.Fatalf("publish doc: %v", err)
	}
	if doc["isPublished"] != true {
		t.Fatalf("expected isPublished, got %v", doc["isPublished"])
	}
	if len(site.invalidated) != 1 {
		t.Fatalf("expected site cache invalidation, got %v", site.invalidated)
	}
	if len(fg.commits) != 1 || !strings.HasPrefix(fg.commits[0], "Publish ") {
		t.Fatalf("expected a publish commit, got %v", fg.commits)
	}

	_, err = svc.PublishDoc(context.Background(), testSession("viewer-1"), "doc-1")
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestAutosaveOutcomes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := "# Intro\n\nHello world.\n"

	cases := []struct {
		name        string
		content     string
		latest      *store.PageRevision
		wantOutcome string
		wantWrite   bool
		wantRev     bool
	}{
		{
			name:        "unchanged draft writes nothing",
			content:     base,
			latest:      &store.PageRevision{Title: "Intro", Content: base, CreatedAt: now},
			wantOutcome: "unchanged",
		},
		{
			name:        "small edit saves draft only",
			content:     "# Intro\n\nHello world!\n",
			latest:      &store.PageRevision{Title: "Intro", Content: base, CreatedAt: now.Add(-time.Minute)},
			wantOutcome: "saved",
			wantWrite:   true,
		},
		{
			name:        "large edit records revision",
			content:     "# Something else entirely\n\nA completely different body of text.\n",
			latest:      &store.PageRevision{Title: "Intro", Content: base, CreatedAt: now.Add(-time.Minute)},
			wantOutcome: "revision",
			wantWrite:   true,
			wantRev:     true,
		},
		{
			name:        "stale revision records revision",
			content:     "# Intro\n\nHello world!\n",
			latest:      &store.PageRevision{Title: "Intro", Content: base, CreatedAt: now.Add(-time.Hour)},
			wantOutcome: "revision",
			wantWrite:   true,
			wantRev:     true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *store.DraftUpdate
			fs := seededStore()
			fs.latestRevisionFn = func(context.Context, string) (*store.PageRevision, error) { return tc.latest, nil }
			fs.updateDraftFn = func(_ context.Context, update store.DraftUpdate) (store.Page, error) {
				got = &update
				return store.Page{ID: update.PageID, DocID: "doc-1", Title: update.Title, Content: update.Content, Version: update.BaseVersion + 1}, nil
			}
			svc := newTestService(fs, nil)
			svc.now = func() time.Time { return now }
			t.Cleanup(svc.Close)

			result, err := svc.AutosavePage(context.Background(), testSession("editor-1"), "pg-1", AutosaveInput{Content: tc.content, BaseVersion: 3})
			if err != nil {
				t.Fatalf("autosave: %v", err)
			}
			if fmt.Sprint(result["outcome"]) != tc.wantOutcome {
				t.Fatalf("expected outcome %s, got %v", tc.wantOutcome, result["outcome"])
			}
			if (got != nil) != tc.wantWrite {
				t.Fatalf("expected write=%v, got %+v", tc.wantWrite, got)
			}
			if got != nil && (got.Revision != nil) != tc.wantRev {
				t.Fatalf("expected revision=%v, got %+v", tc.wantRev, got.Revision)
			}
			if got != nil && got.Revision != nil {
				if got.Revision.Kind != store.RevisionAutosave || got.KeepAutosaves != 100 {
					t.Fatalf("unexpected revision update %+v", got)
				}
			}
		})
	}
}

func TestAutosaveVersionConflict(t *testing.T) {
	fs := seededStore()
	svc := newTestService(fs, nil)

	_, err := svc.AutosavePage(context.Background(), testSession("editor-1"), "pg-1", AutosaveInput{Content: "new", BaseVersion: 2})
	expectDomainError(t, err, http.StatusConflict, "VERSION_CONFLICT")
	_, _, _, details := mapError(err)
	page, ok := details.(map[string]any)["page"].(map[string]any)
	if !ok || page["version"] != 3 {
		t.Fatalf("expected current page in conflict details, got %v", details)
	}

	fs.updateDraftFn = func(context.Context, store.DraftUpdate) (store.Page, error) {
		return store.Page{}, store.ErrVersionConflict
	}
	_, err = svc.AutosavePage(context.Background(), testSession("editor-1"), "pg-1", AutosaveInput{Content: "new", BaseVersion: 3})
	expectDomainError(t, err, http.StatusConflict, "VERSION_CONFLICT")
}

func TestSavePageRecordsManualRevision(t *testing.T) {
	var got store.DraftUpdate
	fs := seededStore()
	fs.updateDraftFn = func(_ context.Context, update store.DraftUpdate) (store.Page, error) {
		got = update
		return store.Page{ID: update.PageID, Title: update.Title, Slug: update.Slug, Content: update.Content, Version: 4}, nil
	}
	svc := newTestService(fs, nil)

	page, err := svc.SavePage(context.Background(), testSession("editor-1"), "pg-1", SavePageInput{
		Title:       "Intro",
		Content:     "# Intro\n\nRewritten.\n",
		BaseVersion: 3,
		Message:     "tidy",
	})
	if err != nil {
		t.Fatalf("save page: %v", err)
	}
	if got.Revision == nil || got.Revision.Kind != store.RevisionManual || got.Revision.Message != "tidy" {
		t.Fatalf("expected manual revision, got %+v", got.Revision)
	}
	if page["version"] != 4 {
		t.Fatalf("expected version 4, got %v", page["version"])
	}
}

func TestSavePageSlugTaken(t *testing.T) {
	fs := seededStore()
	fs.pageSlugTakenFn = func(_ context.Context, _, slug, except string) (bool, error) {
		return slug == "setup" && except == "pg-1", nil
	}
	svc := newTestService(fs, nil)

	slug := "setup"
	_, err := svc.SavePage(context.Background(), testSession("editor-1"), "pg-1", SavePageInput{Title: "Intro", Slug: &slug, BaseVersion: 3})
	expectDomainError(t, err, http.StatusConflict, "SLUG_TAKEN")
}

func TestCreatePagePicksUniqueSlug(t *testing.T) {
	var seed store.PageSeed
	fs := seededStore()
	fs.pageSlugTakenFn = func(_ context.Context, _, slug, _ string) (bool, error) {
		return slug == "setup" || slug == "setup-2", nil
	}
	fs.createPageFn = func(_ context.Context, s store.PageSeed) error {
		seed = s
		return nil
	}
	svc := newTestService(fs, nil)

	page, err := svc.CreatePage(context.Background(), testSession("editor-1"), "doc-1", CreatePageInput{Title: "Setup", AddToNav: true})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	if page["slug"] != "setup-3" {
		t.Fatalf("expected slug setup-3, got %v", page["slug"])
	}
	if seed.NavItem == nil || seed.NavItem.Label != "Setup" {
		t.Fatalf("expected nav item for the page, got %+v", seed.NavItem)
	}
}

func TestCreatePageRejectsForeignSection(t *testing.T) {
	svc := newTestService(seededStore(), nil)
	section := "sec-other"

	_, err := svc.CreatePage(context.Background(), testSession("editor-1"), "doc-1", CreatePageInput{Title: "Setup", SectionID: &section})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCompareRevisions(t *testing.T) {
	fs := seededStore()
	fs.getRevisionFn = func(_ context.Context, _ string, number int) (store.PageRevision, error) {
		switch number {
		case 1:
			return store.PageRevision{Number: 1, Title: "Intro", Content: "one\ntwo\nthree\n"}, nil
		case 2:
			return store.PageRevision{Number: 2, Title: "Intro v2", Content: "one\n2\nthree\nfour\n"}, nil
		}
		return store.PageRevision{}, store.ErrNotFound
	}
	svc := newTestService(fs, nil)

	diff, err := svc.CompareRevisions(context.Background(), testSession("viewer-1"), "pg-1", 1, 2)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if diff["titleChanged"] != true {
		t.Fatalf("expected titleChanged")
	}
	if diff["added"] != 2 || diff["removed"] != 1 {
		t.Fatalf("expected +2 -1, got +%v -%v", diff["added"], diff["removed"])
	}

	_, err = svc.CompareRevisions(context.Background(), testSession("viewer-1"), "pg-1", 1, 9)
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestRestoreRevisionRecordsRestore(t *testing.T) {
	var got store.DraftUpdate
	fs := seededStore()
	fs.getRevisionFn = func(_ context.Context, _ string, number int) (store.PageRevision, error) {
		return store.PageRevision{Number: number, Title: "Old", Content: "old body"}, nil
	}
	fs.updateDraftFn = func(_ context.Context, update store.DraftUpdate) (store.Page, error) {
		got = update
		return store.Page{ID: update.PageID, Title: update.Title, Content: update.Content, Version: 4}, nil
	}
	svc := newTestService(fs, nil)

	if _, err := svc.RestoreRevision(context.Background(), testSession("editor-1"), "pg-1", 2); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got.BaseVersion != 3 || got.Content != "old body" || got.Revision == nil {
		t.Fatalf("unexpected update %+v", got)
	}
	if got.Revision.Kind != store.RevisionRestore || got.Revision.Message != "Restored revision #2" {
		t.Fatalf("unexpected restore revision %+v", got.Revision)
	}
}

func TestNavRejectsCyclesAndDepth(t *testing.T) {
	ptr := func(s string) *string { return &s }
	fs := seededStore()
	fs.listNavSectionsFn = func(context.Context, string) ([]store.NavSection, error) {
		return []store.NavSection{
			{ID: "s1", DocID: "doc-1"},
			{ID: "s2", DocID: "doc-1", ParentID: ptr("s1")},
			{ID: "s3", DocID: "doc-1", ParentID: ptr("s2")},
			{ID: "s4", DocID: "doc-1", ParentID: ptr("s3")},
		}, nil
	}
	svc := newTestService(fs, nil)

	_, err := svc.UpdateSection(context.Background(), testSession("editor-1"), "doc-1", "s1", SectionInput{Title: "Root", ParentID: ptr("s3")})
	expectDomainError(t, err, http.StatusConflict, "NAV_CYCLE")

	_, err = svc.CreateSection(context.Background(), testSession("editor-1"), "doc-1", SectionInput{Title: "Too deep", ParentID: ptr("s4")})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "NAV_TOO_DEEP")

	_, err = svc.CreateSection(context.Background(), testSession("editor-1"), "doc-1", SectionInput{Title: "Orphan", ParentID: ptr("missing")})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "NAV_INVALID_PARENT")

	section, err := svc.CreateSection(context.Background(), testSession("editor-1"), "doc-1", SectionInput{Title: "Guides", ParentID: ptr("s3")})
	if err != nil {
		t.Fatalf("create section: %v", err)
	}
	if section["title"] != "Guides" {
		t.Fatalf("unexpected section %v", section)
	}
}

func TestReorderNavValidatesMovesInOrder(t *testing.T) {
	ptr := func(s string) *string { return &s }
	var applied []store.NavMove
	fs := seededStore()
	fs.listNavSectionsFn = func(context.Context, string) ([]store.NavSection, error) {
		return []store.NavSection{{ID: "s1"}, {ID: "s2"}}, nil
	}
	fs.listNavItemsFn = func(context.Context, string) ([]store.NavItem, error) {
		return []store.NavItem{
			{ID: "a", SectionID: ptr("s1"), Kind: store.NavItemPage},
			{ID: "b", SectionID: ptr("s2"), Kind: store.NavItemPage},
		}, nil
	}
	fs.applyNavMovesFn = func(_ context.Context, _ string, moves []store.NavMove) error {
		applied = moves
		return nil
	}
	svc := newTestService(fs, nil)

	_, err := svc.ReorderNav(context.Background(), testSession("editor-1"), "doc-1", []NavMoveInput{
		{Type: "item", ID: "b", ParentID: ptr("a")},
		{Type: "item", ID: "a", ParentID: ptr("b")},
	})
	expectDomainError(t, err, http.StatusConflict, "NAV_CYCLE")
	if applied != nil {
		t.Fatalf("expected nothing applied, got %+v", applied)
	}

	if _, err := svc.ReorderNav(context.Background(), testSession("editor-1"), "doc-1", []NavMoveInput{
		{Type: "item", ID: "b", ParentID: ptr("a"), Position: 0},
	}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(applied) != 1 || applied[0].SectionID == nil || *applied[0].SectionID != "s1" {
		t.Fatalf("expected child to inherit parent's section, got %+v", applied)
	}
}

func navWithNestedItem(applied *[][]store.NavMove) *fakeStore {
	ptr := func(s string) *string { return &s }
	fs := seededStore()
	fs.listNavSectionsFn = func(context.Context, string) ([]store.NavSection, error) {
		return []store.NavSection{{ID: "s1"}, {ID: "s2"}}, nil
	}
	fs.listNavItemsFn = func(context.Context, string) ([]store.NavItem, error) {
		return []store.NavItem{
			{ID: "a", SectionID: ptr("s1"), Kind: store.NavItemLink, Label: "A", URL: "https://a.example.com"},
			{ID: "b", SectionID: ptr("s1"), ParentID: ptr("a"), Position: 3, Kind: store.NavItemLink, Label: "B", URL: "https://b.example.com"},
			{ID: "c", SectionID: ptr("s1"), ParentID: ptr("b"), Position: 1, Kind: store.NavItemLink, Label: "C", URL: "https://c.example.com"},
		}, nil
	}
	fs.applyNavMovesFn = func(_ context.Context, _ string, moves []store.NavMove) error {
		*applied = append(*applied, moves)
		return nil
	}
	return fs
}

func expectFollowMoves(t *testing.T, moves []store.NavMove) {
	t.Helper()
	want := map[string]struct {
		parent   string
		position int
	}{"b": {"a", 3}, "c": {"b", 1}}
	for _, move := range moves {
		w, ok := want[move.ID]
		if !ok {
			continue
		}
		if move.SectionID == nil || *move.SectionID != "s2" {
			t.Fatalf("%s stayed outside the new section: %+v", move.ID, move)
		}
		if move.ParentID == nil || *move.ParentID != w.parent || move.Position != w.position {
			t.Fatalf("%s lost its place: %+v", move.ID, move)
		}
		delete(want, move.ID)
	}
	if len(want) != 0 {
		t.Fatalf("descendants not moved: %v in %+v", want, moves)
	}
}

func TestReorderNavCarriesSubtreeIntoNewSection(t *testing.T) {
	ptr := func(s string) *string { return &s }
	var applied [][]store.NavMove
	svc := newTestService(navWithNestedItem(&applied), nil)

	if _, err := svc.ReorderNav(context.Background(), testSession("editor-1"), "doc-1", []NavMoveInput{
		{Type: "item", ID: "a", SectionID: ptr("s2"), Position: 0},
	}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(applied) != 1 || len(applied[0]) != 3 {
		t.Fatalf("expected the item and both descendants, got %+v", applied)
	}
	if applied[0][0].ID != "a" {
		t.Fatalf("moved item must come first, got %+v", applied[0])
	}
	expectFollowMoves(t, applied[0])
}

func TestUpdateItemCarriesSubtreeIntoNewSection(t *testing.T) {
	ptr := func(s string) *string { return &s }
	var applied [][]store.NavMove
	svc := newTestService(navWithNestedItem(&applied), nil)

	if _, err := svc.UpdateItem(context.Background(), testSession("editor-1"), "doc-1", "a", ItemInput{
		Kind: "link", Label: "A", URL: "https://a.example.com", SectionID: ptr("s2"),
	}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	if len(applied) != 1 || len(applied[0]) != 2 {
		t.Fatalf("expected both descendants moved, got %+v", applied)
	}
	expectFollowMoves(t, applied[0])

	applied = nil
	if _, err := svc.UpdateItem(context.Background(), testSession("editor-1"), "doc-1", "a", ItemInput{
		Kind: "link", Label: "Renamed", URL: "https://a.example.com", SectionID: ptr("s1"),
	}); err != nil {
		t.Fatalf("rename item: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("same-section update must not move descendants, got %+v", applied)
	}
}

func TestCreateLinkItemValidation(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	_, err := svc.CreateItem(context.Background(), testSession("editor-1"), "doc-1", ItemInput{Kind: "link", Label: "Status", URL: "javascript:alert(1)"})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	item, err := svc.CreateItem(context.Background(), testSession("editor-1"), "doc-1", ItemInput{Kind: "link", Label: "Status", URL: "https://status.example.com"})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if item["url"] != "https://status.example.com" {
		t.Fatalf("unexpected item %v", item)
	}

	pageID := "pg-1"
	item, err = svc.CreateItem(context.Background(), testSession("editor-1"), "doc-1", ItemInput{PageID: &pageID})
	if err != nil {
		t.Fatalf("create page item: %v", err)
	}
	if item["label"] != "Intro" {
		t.Fatalf("expected label from page title, got %v", item["label"])
	}
}

func TestImportPagePublishesWhenAllowed(t *testing.T) {
	fs := seededStore()
	var created store.PageSeed
	fs.createPageFn = func(_ context.Context, seed store.PageSeed) error {
		created = seed
		return nil
	}
	published := false
	fs.publishPageFn = func(_ context.Context, pageID string, _ store.PageRevision, at time.Time) (store.Page, error) {
		published = true
		return store.Page{ID: pageID, Title: created.Page.Title, Status: store.PagePublished, PublishedAt: &at}, nil
	}
	svc := newTestService(fs, &fakeGit{})

	src := []byte("---\ntitle: Billing FAQ\nstatus: published\n---\n# Billing\n\nAnswers.\n")
	page, err := svc.ImportPage(context.Background(), testSession("editor-1"), "doc-1", src)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if created.Page.Title != "Billing FAQ" || created.Page.Slug != "billing-faq" {
		t.Fatalf("unexpected imported page %+v", created.Page)
	}
	if !published || page["status"] != store.PagePublished {
		t.Fatalf("expected imported page to be published, got %v", page["status"])
	}

	_, err = svc.ImportPage(context.Background(), testSession("viewer-1"), "doc-1", src)
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestImportPageRemovesDraftWhenPublishFails(t *testing.T) {
	fs := seededStore()
	var created store.PageSeed
	fs.createPageFn = func(_ context.Context, seed store.PageSeed) error {
		created = seed
		return nil
	}
	fs.publishPageFn = func(context.Context, string, store.PageRevision, time.Time) (store.Page, error) {
		return store.Page{}, errors.New("publish failed")
	}
	var deleted []string
	fs.deletePageFn = func(_ context.Context, pageID string) error {
		deleted = append(deleted, pageID)
		return nil
	}
	svc := newTestService(fs, &fakeGit{})

	src := []byte("---\ntitle: Billing FAQ\nstatus: published\n---\nAnswers.\n")
	if _, err := svc.ImportPage(context.Background(), testSession("editor-1"), "doc-1", src); err == nil {
		t.Fatal("expected publish error")
	}
	if len(deleted) != 1 || deleted[0] != created.Page.ID {
		t.Fatalf("expected draft %s removed, got %v", created.Page.ID, deleted)
	}
}

func TestPublishDuePages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := seededStore()
	fs.listDuePagesFn = func(_ context.Context, at time.Time) ([]store.Page, error) {
		if !at.Equal(now) {
			t.Fatalf("expected due query at %v, got %v", now, at)
		}
		return []store.Page{
			{ID: "pg-1", DocID: "doc-1", Title: "Intro"},
			{ID: "pg-2", DocID: "doc-gone", Title: "Orphan"},
		}, nil
	}
	fg := &fakeGit{}
	svc := newTestService(fs, fg)
	svc.now = func() time.Time { return now }

	count, err := svc.PublishDuePages(context.Background())
	if err != nil {
		t.Fatalf("publish due: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 page published, got %d", count)
	}
	if len(fg.commits) != 1 {
		t.Fatalf("expected one history commit, got %v", fg.commits)
	}
}

func TestSchedulePublishRequiresFutureTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(seededStore(), nil)
	svc.now = func() time.Time { return now }

	_, err := svc.SchedulePublish(context.Background(), testSession("editor-1"), "pg-1", now.Add(-time.Minute))
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	page, err := svc.SchedulePublish(context.Background(), testSession("editor-1"), "pg-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if page["scheduledPublishAt"] == nil {
		t.Fatalf("expected scheduledPublishAt to be set")
	}
}

func TestSearchScopesToReadableDocs(t *testing.T) {
	fs := seededStore()
	fs.listDocsForUserFn = func(_ context.Context, userID string, _ bool) ([]store.DocListing, error) {
		return []store.DocListing{{Doc: store.Doc{ID: "doc-1"}}, {Doc: store.Doc{ID: "doc-2"}}}, nil
	}
	fsearch := &fakeSearch{}
	svc := newTestService(fs, nil)
	svc.search = fsearch

	if _, err := svc.Search(context.Background(), testSession("editor-1"), "billing", "", 10, 0); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := svc.Search(context.Background(), testSession("admin-1"), "billing", "", 10, 0); err != nil {
		t.Fatalf("admin search: %v", err)
	}
	_, err := svc.Search(context.Background(), testSession("outsider-1"), "billing", "doc-1", 10, 0)
	expectDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	if len(fsearch.queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(fsearch.queries))
	}
	if got := fsearch.queries[0]; got.AllDocs || len(got.DocIDs) != 2 {
		t.Fatalf("expected member search scoped to 2 docs, got %+v", got)
	}
	if !fsearch.queries[1].AllDocs {
		t.Fatalf("expected admin search across all docs")
	}
}

func TestUpdateUserRoleGuards(t *testing.T) {
	var updated string
	fs := seededStore()
	fs.updateUserRoleFn = func(_ context.Context, userID, role string) error {
		updated = userID + ":" + role
		return nil
	}
	svc := newTestService(fs, nil)

	_, err := svc.UpdateUserRole(context.Background(), testSession("editor-1"), "viewer-1", "editor")
	expectDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	_, err = svc.UpdateUserRole(context.Background(), testSession("admin-1"), "admin-1", "viewer")
	expectDomainError(t, err, http.StatusConflict, "SELF_ROLE_CHANGE")

	if _, err := svc.UpdateUserRole(context.Background(), testSession("admin-1"), "viewer-1", "editor"); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if updated != "viewer-1:editor" {
		t.Fatalf("unexpected update %q", updated)
	}
}

func TestAssetsUnavailableWithoutStorage(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	_, err := svc.ListAssets(context.Background(), testSession("editor-1"), "doc-1")
	expectDomainError(t, err, http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE")

	_, err = svc.UploadAsset(context.Background(), testSession("editor-1"), "doc-1", "logo.png", strings.NewReader("x"), 1)
	expectDomainError(t, err, http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE")
}

func TestExportPageSources(t *testing.T) {
	svc := newTestService(seededStore(), nil)

	result, err := svc.ExportPage(context.Background(), testSession("viewer-1"), "pg-1", "md", "draft")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(result.Data), "Hello world.") || !strings.HasPrefix(string(result.Data), "---\n") {
		t.Fatalf("expected markdown with front matter, got %q", result.Data)
	}

	_, err = svc.ExportPage(context.Background(), testSession("viewer-1"), "pg-1", "md", "published")
	expectDomainError(t, err, http.StatusConflict, "NOT_PUBLISHED")

	_, err = svc.ExportPage(context.Background(), testSession("viewer-1"), "pg-1", "pdf", "draft")
	expectDomainError(t, err, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE")
}

// autosaveStore is seededStore with a mutable pg-1 so later reads see the
// effect of deletes and publishes.
func autosaveStore() (*fakeStore, *store.Page) {
	fs := seededStore()
	current := &store.Page{ID: "pg-1", DocID: "doc-1", Title: "Intro", Slug: "intro", Content: "# Intro\n\nHello world.\n", Status: store.PageDraft, Version: 3}
	deleted := false
	fs.getPageFn = func(_ context.Context, id string) (store.Page, error) {
		if id != current.ID || deleted {
			return store.Page{}, store.ErrNotFound
		}
		return *current, nil
	}
	fs.updateDraftFn = func(_ context.Context, update store.DraftUpdate) (store.Page, error) {
		current.Title, current.Content = update.Title, update.Content
		current.Version++
		return *current, nil
	}
	fs.publishPageFn = func(context.Context, string, store.PageRevision, time.Time) (store.Page, error) {
		current.Status = store.PagePublished
		current.PublishedTitle, current.PublishedContent = current.Title, current.Content
		return *current, nil
	}
	fs.deletePageFn = func(context.Context, string) error {
		deleted = true
		return nil
	}
	return fs, current
}

func autosaveEdit(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.AutosavePage(context.Background(), testSession("editor-1"), "pg-1", AutosaveInput{Content: "# Intro\n\nHello world, edited.\n", BaseVersion: 3})
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
}

func TestDeleteAfterAutosaveKeepsPageOutOfIndex(t *testing.T) {
	fs, _ := autosaveStore()
	fsearch := &fakeSearch{}
	svc := newTestService(fs, nil)
	svc.search = fsearch

	autosaveEdit(t, svc)
	if err := svc.DeletePage(context.Background(), testSession("editor-1"), "pg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	svc.Close()

	if got := fmt.Sprint(fsearch.events); got != "[delete:pg-1]" {
		t.Fatalf("unexpected index events %s", got)
	}
}

func TestPublishAfterAutosaveKeepsPublishedRecord(t *testing.T) {
	fs, _ := autosaveStore()
	fsearch := &fakeSearch{}
	svc := newTestService(fs, nil)
	svc.search = fsearch

	autosaveEdit(t, svc)
	if _, err := svc.PublishPage(context.Background(), testSession("owner-1"), "pg-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	svc.Close()

	if got := fmt.Sprint(fsearch.events); got != "[index:pg-1:published]" {
		t.Fatalf("unexpected index events %s", got)
	}
}

func TestDebouncedIndexReloadsPage(t *testing.T) {
	fs, current := autosaveStore()
	fsearch := &fakeSearch{}
	svc := newTestService(fs, nil)
	svc.search = fsearch

	autosaveEdit(t, svc)
	current.Status = store.PagePublished
	svc.Close()

	if got := fmt.Sprint(fsearch.events); got != "[index:pg-1:published]" {
		t.Fatalf("expected the current row to be indexed, got %s", got)
	}
}
