package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Subject struct {
	ID        string
	Title     string
	Slug      string
	Rank      string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Topic struct {
	ID        string
	SubjectID string
	Title     string
	Slug      string
	Rank      string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Article struct {
	ID        string
	TopicID   string
	Title     string
	Slug      string
	Rank      string
	Body      string
	Published bool
	// FilePath and FileSHA locate the mirrored copy of Body.
	FilePath  string
	FileSHA   string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArticleLocation carries the slugs needed to build an article's mirror path.
type ArticleLocation struct {
	SubjectSlug string
	TopicSlug   string
	ArticleSlug string
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// Kind names one of the three ordered levels.
type Kind string

const (
	KindSubject Kind = "subject"
	KindTopic   Kind = "topic"
	KindArticle Kind = "article"
)

func (k Kind) Valid() bool {
	return k == KindSubject || k == KindTopic || k == KindArticle
}

// Scope is the set of rows whose ranks must be unique and totally ordered:
// all subjects, the topics of one subject, or the articles of one topic.
type Scope struct {
	Kind     Kind
	ParentID string
}

func SubjectScope() Scope               { return Scope{Kind: KindSubject} }
func TopicScope(subjectID string) Scope { return Scope{Kind: KindTopic, ParentID: subjectID} }
func ArticleScope(topicID string) Scope { return Scope{Kind: KindArticle, ParentID: topicID} }

// Key identifies the scope for advisory locking.
func (s Scope) Key() string {
	if s.Kind == KindSubject {
		return string(KindSubject)
	}
	return string(s.Kind) + ":" + s.ParentID
}

// Position names the items the new or moved item should sit between. Both
// empty means append to the end of the scope.
type Position struct {
	AfterID  string
	BeforeID string
}

func (p Position) IsEnd() bool {
	return p.AfterID == "" && p.BeforeID == ""
}

// Placer turns neighbour ranks into the rank to store. before is the rank of
// the item that will follow, after the rank of the item that will precede;
// either may be empty.
type Placer func(before, after string) (string, error)

// Rebalancer receives the ranks of a whole scope in order and returns their
// replacements, one per input.
type Rebalancer func(current []string) ([]string, error)
