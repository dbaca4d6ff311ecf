package testfixtures

import (
	"fmt"
	"time"

	"embeddingjob/internal/domain/entity"
)

// PublishedState is the publish state the fixtures use.
const PublishedState = "Published"

// Cutoff is the display date cutoff the fixtures are built around.
var Cutoff = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // test fixture

// PublishedArticle builds a published document displayed at displayDate.
func PublishedArticle(id string, displayDate time.Time) *entity.Document {
	headline := "Headline " + id
	return &entity.Document{
		ID:          id,
		Headline:    headline,
		Standfirst:  "Standfirst " + id,
		Body:        []entity.ContentBlock{{Type: entity.ContentBlockTypeText, HTML: "<p>Body of " + id + "</p>"}},
		DisplayDate: displayDate,
		State:       PublishedState,
		Fields: map[string]any{
			entity.MetadataHeadline:    headline,
			entity.MetadataState:       PublishedState,
			entity.MetadataDisplayDate: displayDate,
		},
	}
}

// PublishedArticles builds n published documents a01..aNN, newest first, one
// day apart and all after Cutoff.
func PublishedArticles(n int) []*entity.Document {
	newest := Cutoff.AddDate(1, 0, 0)
	docs := make([]*entity.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, PublishedArticle(fmt.Sprintf("a%02d", i+1), newest.AddDate(0, 0, -i)))
	}
	return docs
}
