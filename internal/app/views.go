package app

import (
	"strings"

	"lectern/api/internal/store"
)

func subjectView(subject store.Subject) map[string]any {
	return map[string]any{
		"id":        subject.ID,
		"title":     subject.Title,
		"slug":      subject.Slug,
		"rank":      subject.Rank,
		"updatedBy": subject.UpdatedBy,
		"updatedAt": subject.UpdatedAt,
	}
}

func topicView(topic store.Topic) map[string]any {
	return map[string]any{
		"id":        topic.ID,
		"subjectId": topic.SubjectID,
		"title":     topic.Title,
		"slug":      topic.Slug,
		"rank":      topic.Rank,
		"updatedBy": topic.UpdatedBy,
		"updatedAt": topic.UpdatedAt,
	}
}

func articleSummary(article store.Article) map[string]any {
	return map[string]any{
		"id":        article.ID,
		"topicId":   article.TopicID,
		"title":     article.Title,
		"slug":      article.Slug,
		"rank":      article.Rank,
		"published": article.Published,
		"updatedAt": article.UpdatedAt,
	}
}

func articleView(article store.Article) map[string]any {
	view := articleSummary(article)
	view["body"] = article.Body
	view["path"] = article.FilePath
	view["sha"] = article.FileSHA
	view["updatedBy"] = article.UpdatedBy
	return view
}

func userView(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
	}
}

func nonNilViews(views []map[string]any) []map[string]any {
	if views == nil {
		return []map[string]any{}
	}
	return views
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
