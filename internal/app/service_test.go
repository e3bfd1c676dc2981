package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"lectern/api/internal/authpw"
	"lectern/api/internal/config"
	"lectern/api/internal/export"
	"lectern/api/internal/filestore"
	"lectern/api/internal/rank"
	"lectern/api/internal/search"
	"lectern/api/internal/session"
	"lectern/api/internal/store"
)

// fakeStore implements DataStore. Unset functions return zero values.
type fakeStore struct {
	pingFn               func(context.Context) error
	getUserByIDFn        func(context.Context, string) (store.User, error)
	listSubjectsFn       func(context.Context) ([]store.Subject, error)
	getSubjectFn         func(context.Context, string) (store.Subject, error)
	insertSubjectFn      func(context.Context, store.Subject, store.Position, store.Placer) (store.Subject, error)
	updateSubjectFn      func(context.Context, store.Subject) (store.Subject, error)
	moveSubjectFn        func(context.Context, string, store.Position, store.Placer, string) (store.Subject, error)
	listTopicsFn         func(context.Context, string) ([]store.Topic, error)
	listAllTopicsFn      func(context.Context) ([]store.Topic, error)
	getTopicFn           func(context.Context, string) (store.Topic, error)
	insertTopicFn        func(context.Context, store.Topic, store.Position, store.Placer) (store.Topic, error)
	moveTopicFn          func(context.Context, string, string, store.Position, store.Placer, string) (store.Topic, error)
	listArticlesFn       func(context.Context, string) ([]store.Article, error)
	listAllArticlesFn    func(context.Context) ([]store.Article, error)
	getArticleFn         func(context.Context, string) (store.Article, error)
	insertArticleFn      func(context.Context, store.Article, store.Position, store.Placer) (store.Article, error)
	updateArticleFn      func(context.Context, store.Article) (store.Article, error)
	setArticleFileFn     func(context.Context, string, string, string) error
	moveArticleFn        func(context.Context, string, string, store.Position, store.Placer, string) (store.Article, error)
	deleteArticleFn      func(context.Context, string) error
	getArticleLocationFn func(context.Context, string) (store.ArticleLocation, error)
	rebalanceScopeFn     func(context.Context, store.Scope, store.Rebalancer) (int, error)
	longestRankFn        func(context.Context, store.Scope) (int, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByEmail(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertUser(_ context.Context, user store.User) (store.User, error) {
	return user, nil
}
func (f *fakeStore) ListSubjects(ctx context.Context) ([]store.Subject, error) {
	if f.listSubjectsFn != nil {
		return f.listSubjectsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetSubject(ctx context.Context, id string) (store.Subject, error) {
	if f.getSubjectFn != nil {
		return f.getSubjectFn(ctx, id)
	}
	return store.Subject{ID: id, Title: "Subject", Slug: "subject"}, nil
}
func (f *fakeStore) InsertSubject(ctx context.Context, item store.Subject, pos store.Position, place store.Placer) (store.Subject, error) {
	if f.insertSubjectFn != nil {
		return f.insertSubjectFn(ctx, item, pos, place)
	}
	return item, nil
}
func (f *fakeStore) UpdateSubject(ctx context.Context, item store.Subject) (store.Subject, error) {
	if f.updateSubjectFn != nil {
		return f.updateSubjectFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) MoveSubject(ctx context.Context, id string, pos store.Position, place store.Placer, by string) (store.Subject, error) {
	if f.moveSubjectFn != nil {
		return f.moveSubjectFn(ctx, id, pos, place, by)
	}
	return store.Subject{ID: id}, nil
}
func (f *fakeStore) DeleteSubject(context.Context, string) error { return nil }
func (f *fakeStore) ListTopics(ctx context.Context, subjectID string) ([]store.Topic, error) {
	if f.listTopicsFn != nil {
		return f.listTopicsFn(ctx, subjectID)
	}
	return nil, nil
}
func (f *fakeStore) ListAllTopics(ctx context.Context) ([]store.Topic, error) {
	if f.listAllTopicsFn != nil {
		return f.listAllTopicsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetTopic(ctx context.Context, id string) (store.Topic, error) {
	if f.getTopicFn != nil {
		return f.getTopicFn(ctx, id)
	}
	return store.Topic{ID: id, SubjectID: "sub_1", Title: "Topic", Slug: "topic"}, nil
}
func (f *fakeStore) InsertTopic(ctx context.Context, item store.Topic, pos store.Position, place store.Placer) (store.Topic, error) {
	if f.insertTopicFn != nil {
		return f.insertTopicFn(ctx, item, pos, place)
	}
	return item, nil
}
func (f *fakeStore) UpdateTopic(_ context.Context, item store.Topic) (store.Topic, error) {
	return item, nil
}
func (f *fakeStore) MoveTopic(ctx context.Context, id, subjectID string, pos store.Position, place store.Placer, by string) (store.Topic, error) {
	if f.moveTopicFn != nil {
		return f.moveTopicFn(ctx, id, subjectID, pos, place, by)
	}
	return store.Topic{ID: id, SubjectID: subjectID}, nil
}
func (f *fakeStore) DeleteTopic(context.Context, string) error { return nil }
func (f *fakeStore) ListArticles(ctx context.Context, topicID string) ([]store.Article, error) {
	if f.listArticlesFn != nil {
		return f.listArticlesFn(ctx, topicID)
	}
	return nil, nil
}
func (f *fakeStore) ListAllArticles(ctx context.Context) ([]store.Article, error) {
	if f.listAllArticlesFn != nil {
		return f.listAllArticlesFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetArticle(ctx context.Context, id string) (store.Article, error) {
	if f.getArticleFn != nil {
		return f.getArticleFn(ctx, id)
	}
	return store.Article{}, sql.ErrNoRows
}
func (f *fakeStore) InsertArticle(ctx context.Context, item store.Article, pos store.Position, place store.Placer) (store.Article, error) {
	if f.insertArticleFn != nil {
		return f.insertArticleFn(ctx, item, pos, place)
	}
	return item, nil
}
func (f *fakeStore) UpdateArticle(ctx context.Context, item store.Article) (store.Article, error) {
	if f.updateArticleFn != nil {
		return f.updateArticleFn(ctx, item)
	}
	return item, nil
}
func (f *fakeStore) SetArticleFile(ctx context.Context, id, path, sha string) error {
	if f.setArticleFileFn != nil {
		return f.setArticleFileFn(ctx, id, path, sha)
	}
	return nil
}
func (f *fakeStore) MoveArticle(ctx context.Context, id, topicID string, pos store.Position, place store.Placer, by string) (store.Article, error) {
	if f.moveArticleFn != nil {
		return f.moveArticleFn(ctx, id, topicID, pos, place, by)
	}
	return store.Article{ID: id, TopicID: topicID}, nil
}
func (f *fakeStore) DeleteArticle(ctx context.Context, id string) error {
	if f.deleteArticleFn != nil {
		return f.deleteArticleFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) GetArticleLocation(ctx context.Context, id string) (store.ArticleLocation, error) {
	if f.getArticleLocationFn != nil {
		return f.getArticleLocationFn(ctx, id)
	}
	return store.ArticleLocation{SubjectSlug: "subject", TopicSlug: "topic", ArticleSlug: id}, nil
}
func (f *fakeStore) RebalanceScope(ctx context.Context, scope store.Scope, rebalance store.Rebalancer) (int, error) {
	if f.rebalanceScopeFn != nil {
		return f.rebalanceScopeFn(ctx, scope, rebalance)
	}
	return 0, nil
}
func (f *fakeStore) LongestRank(ctx context.Context, scope store.Scope) (int, error) {
	if f.longestRankFn != nil {
		return f.longestRankFn(ctx, scope)
	}
	return 0, nil
}

// fakeFiles is an in-memory FileMirror keyed by path.
type fakeFiles struct {
	mu      sync.Mutex
	files   map[string]string
	deleted []string
	failOn  string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string]string)}
}

func (f *fakeFiles) Create(_ context.Context, path, body, _, _ string) (filestore.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "create" {
		return filestore.File{}, errors.New("disk full")
	}
	if _, ok := f.files[path]; ok {
		return filestore.File{}, filestore.ErrExists
	}
	f.files[path] = body
	return filestore.File{Path: path, SHA: filestore.BlobSHA(body), Body: body}, nil
}

func (f *fakeFiles) Update(_ context.Context, path, body, _, _, expectedSHA string) (filestore.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.files[path]
	if !ok {
		return filestore.File{}, filestore.ErrNotFound
	}
	if filestore.BlobSHA(current) != expectedSHA {
		return filestore.File{}, filestore.ErrSHAMismatch
	}
	f.files[path] = body
	return filestore.File{Path: path, SHA: filestore.BlobSHA(body), Body: body}, nil
}

func (f *fakeFiles) Delete(_ context.Context, path, _, _, expectedSHA string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.files[path]
	if !ok {
		return store.CommitInfo{}, filestore.ErrNotFound
	}
	if filestore.BlobSHA(current) != expectedSHA {
		return store.CommitInfo{}, filestore.ErrSHAMismatch
	}
	delete(f.files, path)
	f.deleted = append(f.deleted, path)
	return store.CommitInfo{Hash: "deadbeef"}, nil
}

func (f *fakeFiles) FetchSHA(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[path]
	if !ok {
		return "", filestore.ErrNotFound
	}
	return filestore.BlobSHA(body), nil
}

func (f *fakeFiles) History(path string, _ int) ([]store.CommitInfo, error) {
	return []store.CommitInfo{{Hash: "abc123", Message: "Create " + path, Author: "Avery"}}, nil
}

type fakeSearch struct {
	mu       sync.Mutex
	articles []search.ArticleRecord
	topics   []search.TopicRecord
	deleted  []string
	lastQ    search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "fake"}
}
func (f *fakeSearch) IndexSubject(search.SubjectRecord) {}
func (f *fakeSearch) IndexTopic(r search.TopicRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, r)
}
func (f *fakeSearch) IndexArticle(r search.ArticleRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles = append(f.articles, r)
}
func (f *fakeSearch) Delete(kind search.ResultType, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, string(kind)+":"+id)
}

type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]store.User
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: make(map[string]store.User), revoked: make(map[string]bool)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[hash]
	if !ok {
		return store.User{}, session.ErrSessionNotFound
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}
func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}
func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakePasswords struct {
	users map[string]store.User
	saved []authpw.SaveUserRequest
}

func (f *fakePasswords) SignIn(_ context.Context, email, password string) (store.User, error) {
	user, ok := f.users[email]
	if !ok || password != "correct-horse" {
		return store.User{}, authpw.ErrInvalidCredentials
	}
	return user, nil
}
func (f *fakePasswords) SaveUser(_ context.Context, req authpw.SaveUserRequest) (store.User, error) {
	if len(req.Password) < 8 {
		return store.User{}, authpw.ErrInvalidInput
	}
	f.saved = append(f.saved, req)
	return store.User{ID: "usr_new", Email: req.Email, DisplayName: req.DisplayName, Role: req.Role}, nil
}
func (f *fakePasswords) EnsureAdmin(_ context.Context, email, _ string) (store.User, bool, error) {
	return store.User{ID: "usr_admin", Email: email, Role: "admin"}, true, nil
}

type fakeExporter struct {
	req export.Request
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	f.req = req
	return &export.Result{Data: []byte("%PDF"), Filename: "subject-topic.pdf", MimeType: "application/pdf"}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.AccessTTL = time.Hour
	cfg.RefreshTTL = 24 * time.Hour
	cfg.RankRebalanceThreshold = 12
	return cfg
}

type testDeps struct {
	store    *fakeStore
	files    *fakeFiles
	search   *fakeSearch
	sessions *fakeSessions
}

func newTestService(t *testing.T, fs *fakeStore) (*Service, testDeps) {
	t.Helper()
	deps := testDeps{store: fs, files: newFakeFiles(), search: &fakeSearch{}, sessions: newFakeSessions()}
	svc, err := New(testConfig(), Deps{
		Store:     fs,
		Files:     deps.files,
		Search:    deps.search,
		Sessions:  deps.sessions,
		Passwords: &fakePasswords{users: map[string]store.User{}},
		Exporter:  &fakeExporter{},
	})
	require.NoError(t, err)
	return svc, deps
}

// requireDomainError asserts how err surfaces over HTTP.
func requireDomainError(t *testing.T, err error, wantStatus int, wantCode string) {
	t.Helper()
	require.Error(t, err)
	status, code, _, _ := mapError(err)
	require.Equal(t, wantStatus, status, "err=%v", err)
	require.Equal(t, wantCode, code, "err=%v", err)
}

func strPtr(s string) *string { return &s }

var (
	editor = Session{UserID: "usr_editor", UserName: "Avery", Role: "editor"}
	viewer = Session{UserID: "usr_viewer", UserName: "Jamie", Role: "viewer"}
	admin  = Session{UserID: "usr_admin", UserName: "Sam", Role: "admin"}
)

func TestCreateSubjectAppendsWithEngineRank(t *testing.T) {
	var gotPos store.Position
	fs := &fakeStore{
		insertSubjectFn: func(_ context.Context, item store.Subject, pos store.Position, place store.Placer) (store.Subject, error) {
			gotPos = pos
			value, err := place("", "0|i00000")
			if err != nil {
				return store.Subject{}, err
			}
			item.Rank = value
			return item, nil
		},
	}
	svc, _ := newTestService(t, fs)

	view, err := svc.CreateSubject(context.Background(), editor, SubjectInput{Title: "  Cell Biology "})
	require.NoError(t, err)
	assert.True(t, gotPos.IsEnd(), "expected append position, got %+v", gotPos)
	assert.Equal(t, "cell-biology", view["slug"])
	assert.Equal(t, "0|i00008", view["rank"])
	assert.Equal(t, false, view["rebalanceSuggested"])
	assert.True(t, strings.HasPrefix(view["id"].(string), "sub_"), "id=%v", view["id"])
}

func TestCreateSubjectRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})
	_, err := svc.CreateSubject(context.Background(), editor, SubjectInput{Title: "   "})
	requireDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestViewerCannotMutate(t *testing.T) {
	called := false
	fs := &fakeStore{
		moveSubjectFn: func(context.Context, string, store.Position, store.Placer, string) (store.Subject, error) {
			called = true
			return store.Subject{}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.MoveSubject(context.Background(), viewer, "sub_1", MoveInput{})
	requireDomainError(t, err, 403, "FORBIDDEN")
	assert.False(t, called, "store must not be called before authorization")
}

func TestMoveMapsInvalidPosition(t *testing.T) {
	fs := &fakeStore{
		moveSubjectFn: func(context.Context, string, store.Position, store.Placer, string) (store.Subject, error) {
			return store.Subject{}, store.ErrInvalidPosition
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.MoveSubject(context.Background(), editor, "sub_1", MoveInput{Position: store.Position{AfterID: "sub_3", BeforeID: "sub_2"}})
	requireDomainError(t, err, 400, "INVALID_REORDER")
}

func TestPlacerFailsClosedOnMalformedRank(t *testing.T) {
	fs := &fakeStore{
		moveSubjectFn: func(_ context.Context, id string, _ store.Position, place store.Placer, _ string) (store.Subject, error) {
			_, err := place("not-a-rank", "")
			return store.Subject{}, err
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.MoveSubject(context.Background(), editor, "sub_1", MoveInput{})
	require.ErrorIs(t, err, rank.ErrMalformed)
	requireDomainError(t, err, 500, "RANK_CORRUPT")
}

func TestMoveRetriesRankConflict(t *testing.T) {
	attempts := 0
	fs := &fakeStore{
		moveTopicFn: func(_ context.Context, id, subjectID string, _ store.Position, place store.Placer, _ string) (store.Topic, error) {
			attempts++
			if attempts < 3 {
				return store.Topic{}, store.ErrRankConflict
			}
			value, err := place("0|i00000", "0|hzzzzz")
			return store.Topic{ID: id, SubjectID: subjectID, Rank: value}, err
		},
	}
	svc, _ := newTestService(t, fs)

	view, err := svc.MoveTopic(context.Background(), editor, "top_1", MoveInput{Position: store.Position{AfterID: "top_a", BeforeID: "top_b"}})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	value := view["rank"].(string)
	assert.Less(t, "0|hzzzzz", value)
	assert.Less(t, value, "0|i00000")
}

func TestMoveGivesUpAfterRepeatedConflicts(t *testing.T) {
	fs := &fakeStore{
		moveArticleFn: func(context.Context, string, string, store.Position, store.Placer, string) (store.Article, error) {
			return store.Article{}, store.ErrRankConflict
		},
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, TopicID: "top_1"}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.MoveArticle(context.Background(), editor, "art_1", MoveInput{})
	requireDomainError(t, err, 409, "RANK_CONFLICT")
}

func TestMoveTopicKeepsParentWhenUnset(t *testing.T) {
	var gotSubject string
	fs := &fakeStore{
		getTopicFn: func(_ context.Context, id string) (store.Topic, error) {
			return store.Topic{ID: id, SubjectID: "sub_home"}, nil
		},
		moveTopicFn: func(_ context.Context, id, subjectID string, _ store.Position, _ store.Placer, _ string) (store.Topic, error) {
			gotSubject = subjectID
			return store.Topic{ID: id, SubjectID: subjectID}, nil
		},
	}
	svc, deps := newTestService(t, fs)

	_, err := svc.MoveTopic(context.Background(), editor, "top_1", MoveInput{})
	require.NoError(t, err)
	assert.Equal(t, "sub_home", gotSubject)
	assert.Empty(t, deps.search.topics, "same-parent move must not reindex the topic")
}

func TestRebalanceSpreadsIntoNextBucket(t *testing.T) {
	var rewritten []string
	fs := &fakeStore{
		rebalanceScopeFn: func(_ context.Context, scope store.Scope, rebalance store.Rebalancer) (int, error) {
			assert.Equal(t, "article:top_1", scope.Key())
			out, err := rebalance([]string{"0|hzzzzzzzzzzzzz", "0|i00000", "0|i0000001"})
			rewritten = out
			return len(out), err
		},
	}
	svc, _ := newTestService(t, fs)

	result, err := svc.Rebalance(context.Background(), editor, store.ArticleScope("top_1"))
	require.NoError(t, err)
	assert.Equal(t, 3, result["items"])
	require.Len(t, rewritten, 3)
	for i, value := range rewritten {
		assert.True(t, strings.HasPrefix(value, "1|"), "expected bucket 1, got %q", value)
		if i > 0 {
			assert.Less(t, rewritten[i-1], value)
		}
	}
}

func TestRebalanceRejectsCorruptScope(t *testing.T) {
	fs := &fakeStore{
		rebalanceScopeFn: func(_ context.Context, _ store.Scope, rebalance store.Rebalancer) (int, error) {
			_, err := rebalance([]string{"0|i00000", "garbage"})
			return 0, err
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.Rebalance(context.Background(), admin, store.SubjectScope())
	require.ErrorIs(t, err, rank.ErrMalformed)
}

func TestRebalanceUnknownParent(t *testing.T) {
	fs := &fakeStore{
		getSubjectFn: func(context.Context, string) (store.Subject, error) {
			return store.Subject{}, sql.ErrNoRows
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.Rebalance(context.Background(), editor, store.TopicScope("sub_missing"))
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRankStatusSuggestsRebalance(t *testing.T) {
	fs := &fakeStore{
		longestRankFn: func(context.Context, store.Scope) (int, error) { return 20, nil },
	}
	svc, _ := newTestService(t, fs)

	status, err := svc.RankStatus(context.Background(), editor, store.SubjectScope())
	require.NoError(t, err)
	assert.Equal(t, 18, status["longestPrecision"])
	assert.Equal(t, true, status["rebalanceSuggested"])
}

func TestComputeRank(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	result, err := svc.ComputeRank(editor, "0|i00001", "0|hzzzzz")
	require.NoError(t, err)
	assert.Equal(t, "between", result["mode"])
	value := result["rank"].(string)
	assert.Less(t, "0|hzzzzz", value)
	assert.Less(t, value, "0|i00001")

	_, err = svc.ComputeRank(editor, "0|hzzzzz", "0|i00001")
	requireDomainError(t, err, 400, "INVALID_REORDER")
}

func TestComputeRankBetweenTrailingZeroSpellings(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	result, err := svc.ComputeRank(editor, "0|i00000", "0|i")
	require.NoError(t, err)
	value := result["rank"].(string)
	assert.Less(t, "0|i", value)
	assert.Less(t, value, "0|i00000")

	_, err = svc.ComputeRank(editor, "0|i0", "0|i")
	requireDomainError(t, err, 400, "INVALID_REORDER")
}

func TestCreateArticleMirrorsAndIndexes(t *testing.T) {
	var recordedPath, recordedSHA string
	fs := &fakeStore{
		getTopicFn: func(_ context.Context, id string) (store.Topic, error) {
			return store.Topic{ID: id, SubjectID: "sub_bio", Slug: "cells"}, nil
		},
		getArticleLocationFn: func(context.Context, string) (store.ArticleLocation, error) {
			return store.ArticleLocation{SubjectSlug: "biology", TopicSlug: "cells", ArticleSlug: "membranes"}, nil
		},
		setArticleFileFn: func(_ context.Context, _, path, sha string) error {
			recordedPath, recordedSHA = path, sha
			return nil
		},
	}
	svc, deps := newTestService(t, fs)
	published := true

	view, err := svc.CreateArticle(context.Background(), editor, ArticleInput{
		TopicID:   "top_cells",
		Title:     "Membranes",
		Body:      strPtr("# Membranes"),
		Published: &published,
	})
	require.NoError(t, err)
	assert.Equal(t, "biology/cells/membranes.md", recordedPath)
	assert.Equal(t, filestore.BlobSHA("# Membranes"), recordedSHA)
	assert.Equal(t, recordedSHA, view["sha"])
	assert.Equal(t, "# Membranes", deps.files.files["biology/cells/membranes.md"])
	require.Len(t, deps.search.articles, 1)
	assert.Equal(t, "sub_bio", deps.search.articles[0].SubjectID)
}

func TestMirrorFailureDoesNotFailWrite(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fs := &fakeStore{}
	svc, deps := newTestService(t, fs)
	svc.log = zap.New(core)
	deps.files.failOn = "create"

	_, err := svc.CreateArticle(context.Background(), editor, ArticleInput{TopicID: "top_1", Title: "Draft"})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("article mirror failed").Len())
}

func TestUpdateArticleRejectsStaleSHA(t *testing.T) {
	updated := false
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, TopicID: "top_1", Title: "Membranes", Slug: "membranes", FilePath: "bio/cells/membranes.md"}, nil
		},
		updateArticleFn: func(_ context.Context, item store.Article) (store.Article, error) {
			updated = true
			return item, nil
		},
	}
	svc, deps := newTestService(t, fs)
	deps.files.files["bio/cells/membranes.md"] = "current body"

	_, err := svc.UpdateArticle(context.Background(), editor, "art_1", ArticleInput{Body: strPtr("new"), SHA: filestore.BlobSHA("older body")})
	requireDomainError(t, err, 409, "STALE_SHA")
	assert.False(t, updated, "database must not be written on a stale sha")
}

func TestUpdateArticleRewritesMirror(t *testing.T) {
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, TopicID: "top_1", Title: "Membranes", Slug: "membranes", FilePath: "subject/topic/art_1.md"}, nil
		},
	}
	svc, deps := newTestService(t, fs)
	deps.files.files["subject/topic/art_1.md"] = "old"

	view, err := svc.UpdateArticle(context.Background(), editor, "art_1", ArticleInput{Body: strPtr("new"), SHA: filestore.BlobSHA("old")})
	require.NoError(t, err)
	assert.Equal(t, "new", deps.files.files["subject/topic/art_1.md"])
	assert.Equal(t, filestore.BlobSHA("new"), view["sha"])
}

func TestUpdateArticleKeepsBodyWhenOmitted(t *testing.T) {
	var stored store.Article
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, TopicID: "top_1", Title: "Old", Slug: "old", Body: "precious body", Published: true}, nil
		},
		updateArticleFn: func(_ context.Context, item store.Article) (store.Article, error) {
			stored = item
			return item, nil
		},
	}
	svc, _ := newTestService(t, fs)

	view, err := svc.UpdateArticle(context.Background(), editor, "art_1", ArticleInput{Title: "New"})
	require.NoError(t, err)
	assert.Equal(t, "precious body", stored.Body)
	assert.Equal(t, "New", stored.Title)
	assert.True(t, stored.Published, "published flag must survive a title-only update")
	assert.Equal(t, "New", view["title"])

	_, err = svc.UpdateArticle(context.Background(), editor, "art_1", ArticleInput{Body: strPtr("")})
	require.NoError(t, err)
	assert.Empty(t, stored.Body, "an explicit empty body clears the article")
}

func TestMoveArticleAcrossTopicsRelocatesFile(t *testing.T) {
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, TopicID: "top_old", FilePath: "bio/old/membranes.md"}, nil
		},
		moveArticleFn: func(_ context.Context, id, topicID string, _ store.Position, place store.Placer, _ string) (store.Article, error) {
			value, err := place("", "")
			return store.Article{ID: id, TopicID: topicID, Body: "text", Rank: value}, err
		},
		getArticleLocationFn: func(context.Context, string) (store.ArticleLocation, error) {
			return store.ArticleLocation{SubjectSlug: "bio", TopicSlug: "new", ArticleSlug: "membranes"}, nil
		},
	}
	svc, deps := newTestService(t, fs)
	deps.files.files["bio/old/membranes.md"] = "text"

	view, err := svc.MoveArticle(context.Background(), editor, "art_1", MoveInput{ParentID: "top_new"})
	require.NoError(t, err)
	assert.Equal(t, rank.Middle().String(), view["rank"], "empty scope gets the middle rank")
	assert.NotContains(t, deps.files.files, "bio/old/membranes.md")
	assert.Equal(t, "text", deps.files.files["bio/new/membranes.md"])
}

func TestDeleteTopicForgetsArticles(t *testing.T) {
	fs := &fakeStore{
		listArticlesFn: func(context.Context, string) ([]store.Article, error) {
			return []store.Article{{ID: "art_1", FilePath: "a/b/one.md"}, {ID: "art_2"}}, nil
		},
	}
	svc, deps := newTestService(t, fs)
	deps.files.files["a/b/one.md"] = "one"

	require.NoError(t, svc.DeleteTopic(context.Background(), editor, "top_1"))
	assert.Equal(t, []string{"a/b/one.md"}, deps.files.deleted)
	assert.Equal(t, []string{"article:art_1", "article:art_2", "topic:top_1"}, deps.search.deleted)
}

func TestTreeHidesDraftsFromViewers(t *testing.T) {
	fs := &fakeStore{
		listSubjectsFn: func(context.Context) ([]store.Subject, error) {
			return []store.Subject{{ID: "sub_1", Rank: "0|a"}, {ID: "sub_2", Rank: "0|b"}}, nil
		},
		listAllTopicsFn: func(context.Context) ([]store.Topic, error) {
			return []store.Topic{{ID: "top_1", SubjectID: "sub_1"}}, nil
		},
		listAllArticlesFn: func(context.Context) ([]store.Article, error) {
			return []store.Article{
				{ID: "art_pub", TopicID: "top_1", Published: true},
				{ID: "art_draft", TopicID: "top_1"},
			}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	tree, err := svc.Tree(context.Background(), viewer)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	topics := tree[0]["topics"].([]map[string]any)
	articles := topics[0]["articles"].([]map[string]any)
	require.Len(t, articles, 1, "viewer should see only published articles")
	assert.Equal(t, "art_pub", articles[0]["id"])
	assert.Empty(t, tree[1]["topics"].([]map[string]any))

	tree, err = svc.Tree(context.Background(), editor)
	require.NoError(t, err)
	articles = tree[0]["topics"].([]map[string]any)[0]["articles"].([]map[string]any)
	assert.Len(t, articles, 2, "editor should see drafts")
}

func TestGetArticleHidesDraft(t *testing.T) {
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.Article, error) {
			return store.Article{ID: id, Published: false}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.GetArticle(context.Background(), viewer, "art_1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	_, err = svc.GetArticle(context.Background(), editor, "art_1")
	require.NoError(t, err)
}

func TestSearchForcesPublishedForViewers(t *testing.T) {
	svc, deps := newTestService(t, &fakeStore{})

	_, err := svc.Search(context.Background(), viewer, search.Query{Text: "cell"})
	require.NoError(t, err)
	assert.True(t, deps.search.lastQ.PublishedOnly, "viewer search must be published only")

	_, err = svc.Search(context.Background(), editor, search.Query{Text: "cell"})
	require.NoError(t, err)
	assert.False(t, deps.search.lastQ.PublishedOnly, "editor search should include drafts")
}

func TestSaveUserRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	_, err := svc.SaveUser(context.Background(), editor, authpw.SaveUserRequest{Email: "a@b.c", Password: "longenough"})
	requireDomainError(t, err, 403, "FORBIDDEN")

	user, err := svc.SaveUser(context.Background(), admin, authpw.SaveUserRequest{Email: "a@b.c", Password: "longenough", Role: "editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor", user.Role)
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Avery", Role: "admin"}, nil
		},
	}
	svc, _ := newTestService(t, fs)
	first, err := svc.issueSession(context.Background(), store.User{ID: "usr_1", DisplayName: "Avery", Role: "editor"})
	require.NoError(t, err)

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken, "refresh token must rotate")
	assert.Equal(t, "admin", second.Role)

	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	assert.Error(t, err, "old refresh token must be revoked")
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Avery", Role: "editor"}, nil
		},
	}
	svc, _ := newTestService(t, fs)
	session, err := svc.issueSession(context.Background(), store.User{ID: "usr_1", DisplayName: "Avery", Role: "editor"})
	require.NoError(t, err)

	_, err = svc.SessionFromToken(context.Background(), session.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(context.Background(), session, session.RefreshToken))

	_, err = svc.SessionFromToken(context.Background(), session.Token)
	assert.Error(t, err, "revoked token must be rejected")
}

func TestExportTopicPublishedOnlyForViewers(t *testing.T) {
	exporter := &fakeExporter{}
	svc, _ := newTestService(t, &fakeStore{})
	svc.exporter = exporter

	_, err := svc.ExportTopic(context.Background(), viewer, "top_1")
	require.NoError(t, err)
	assert.True(t, exporter.req.PublishedOnly)
	assert.Equal(t, "top_1", exporter.req.TopicID)
}
