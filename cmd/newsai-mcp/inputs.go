package main

// Input types for MCP tools. The SDK infers JSON Schema from these structs.
// Pointer types are optional; value types are required.

type listArticlesInput struct {
	Page     *int    `json:"page,omitempty"      jsonschema:"Page number, starting at 1 (default 1). Out-of-range pages are clamped."`
	PageSize *int    `json:"page_size,omitempty" jsonschema:"Articles per page (default from server config)"`
	FeedIDs  []int64 `json:"feed_ids,omitempty"  jsonschema:"Only articles from these feed IDs"`
	TagIDs   []int64 `json:"tag_ids,omitempty"   jsonschema:"Only articles carrying every one of these tag IDs"`
	Keyword  *string `json:"keyword,omitempty"   jsonschema:"Case-insensitive match against title and scraped text"`
}

type articleIDInput struct {
	ArticleID int64 `json:"article_id" jsonschema:"The article ID"`
}

type chatInput struct {
	ArticleID int64   `json:"article_id"       jsonschema:"The article ID to ask about"`
	Question  string  `json:"question"         jsonschema:"The question"`
	Prompt    *string `json:"prompt,omitempty" jsonschema:"Optional chat prompt template using {{.ArticleText}} and {{.Question}}"`
}

type regenerateInput struct {
	ArticleID      int64   `json:"article_id"                jsonschema:"The article ID"`
	Prompt         *string `json:"prompt,omitempty"          jsonschema:"Optional summary prompt template using {{.Text}}"`
	RegenerateTags *bool   `json:"regenerate_tags,omitempty" jsonschema:"Also replace the article's tags"`
}

type feedAddInput struct {
	URL                  string  `json:"url"                              jsonschema:"The RSS/Atom feed URL"`
	Name                 *string `json:"name,omitempty"                   jsonschema:"Optional display name. Defaults to the URL host."`
	FetchIntervalMinutes *int    `json:"fetch_interval_minutes,omitempty" jsonschema:"Minutes between fetches (default from server config)"`
}

type feedIDInput struct {
	FeedID int64 `json:"feed_id" jsonschema:"The feed ID"`
}

type emptyInput struct{}
