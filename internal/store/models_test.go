package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "subject", SubjectScope().Key())
	assert.Equal(t, "topic:sub_1", TopicScope("sub_1").Key())
	assert.Equal(t, "article:top_1", ArticleScope("top_1").Key())
}

func TestScopeFilter(t *testing.T) {
	table, err := tableFor(KindSubject)
	require.NoError(t, err)
	where, args := table.filter(SubjectScope(), 1)
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)

	table, err = tableFor(KindArticle)
	require.NoError(t, err)
	where, args = table.filter(ArticleScope("top_9"), 3)
	assert.Equal(t, "topic_id = $3", where)
	assert.Equal(t, []any{"top_9"}, args)

	_, err = tableFor(Kind("chapter"))
	require.Error(t, err)
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindSubject.Valid())
	assert.True(t, KindTopic.Valid())
	assert.True(t, KindArticle.Valid())
	assert.False(t, Kind("").Valid())
}

func TestPositionIsEnd(t *testing.T) {
	assert.True(t, Position{}.IsEnd())
	assert.False(t, Position{AfterID: "a"}.IsEnd())
	assert.False(t, Position{BeforeID: "b"}.IsEnd())
}
