// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle status of a recurring job.
type JobStatus string

// Supported job statuses.
const (
	JobActive JobStatus = "active"
	JobPaused JobStatus = "paused"
	JobError  JobStatus = "error"
)

// Job represents a recurring content-to-podcast configuration.
type Job struct {
	ID         int64
	OwnerID    int64
	Name       string
	Status     JobStatus
	Sources    []Source
	Schedule   Schedule
	Filter     FilterSpec
	Generation GenerationSpec
	Channels   []ChannelBinding
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	CreatedAt  time.Time
}

// SourceKind discriminates the source union.
type SourceKind string

// Supported source kinds.
const (
	SourceFeed  SourceKind = "feed"
	SourcePage  SourceKind = "page"
	SourceForum SourceKind = "forum"
)

// ForumSort is the listing order for forum sources.
type ForumSort string

// Supported forum sort orders.
const (
	ForumHot      ForumSort = "hot"
	ForumNew      ForumSort = "new"
	ForumTopDay   ForumSort = "top_day"
	ForumTopWeek  ForumSort = "top_week"
	ForumTopMonth ForumSort = "top_month"
)

// Source is a tagged union of the three supported article sources.
// Kind selects which fields are meaningful.
type Source struct {
	Kind SourceKind `json:"kind"`

	// feed, page
	URL string `json:"url,omitempty"`

	// forum
	Community       string    `json:"community,omitempty"`
	Sort            ForumSort `json:"sort,omitempty"`
	IncludeComments bool      `json:"include_comments,omitempty"`
}

// Validate rejects sources with an unknown kind or missing required fields.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceFeed, SourcePage:
		if s.URL == "" {
			return fmt.Errorf("source kind %q requires a url", s.Kind)
		}
	case SourceForum:
		if s.Community == "" {
			return fmt.Errorf("forum source requires a community")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// ScheduleMode selects the recurrence pattern.
type ScheduleMode string

// Supported schedule modes.
const (
	ScheduleDaily  ScheduleMode = "daily"
	ScheduleWeekly ScheduleMode = "weekly"
)

// Schedule describes when a job recurs, in the owner's local time.
type Schedule struct {
	Mode      ScheduleMode `json:"mode"`
	TimeOfDay string       `json:"time_of_day"` // "HH:MM", 24-hour
	Timezone  string       `json:"timezone"`    // IANA zone name
	// Weekday is only meaningful for weekly mode. When nil, Monday is
	// assumed; this is a documented default, not a derived value.
	Weekday *time.Weekday `json:"weekday,omitempty"`
}

// Validate rejects schedules with an unknown mode or missing fields.
func (s Schedule) Validate() error {
	switch s.Mode {
	case ScheduleDaily, ScheduleWeekly:
	default:
		return fmt.Errorf("unknown schedule mode %q", s.Mode)
	}
	if s.TimeOfDay == "" {
		return fmt.Errorf("schedule requires a time of day")
	}
	if s.Timezone == "" {
		return fmt.Errorf("schedule requires a timezone")
	}
	return nil
}

// FilterSpec configures the article selection pipeline.
type FilterSpec struct {
	IncludeKeywords []string `json:"include_keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	InterestPrompt  string   `json:"interest_prompt,omitempty"`
	MaxArticles     int      `json:"max_articles,omitempty"`
}

// DialogueStyle selects the script template.
type DialogueStyle string

// Supported dialogue styles.
const (
	StyleNewsBrief    DialogueStyle = "news_brief"
	StyleCasual       DialogueStyle = "casual"
	StyleDeepAnalysis DialogueStyle = "deep_analysis"
	StyleTalkShow     DialogueStyle = "talk_show"
)

// GenerationSpec configures script and audio generation.
type GenerationSpec struct {
	Style         DialogueStyle `json:"style,omitempty"`
	Language      string        `json:"language,omitempty"` // empty = match source language
	TargetMinutes int           `json:"target_minutes,omitempty"`
	VoiceA        string        `json:"voice_a"`
	VoiceB        string        `json:"voice_b"`
}

// ChannelKind discriminates the delivery channel union.
type ChannelKind string

// Supported channel kinds.
const (
	ChannelTelegram ChannelKind = "telegram"
	ChannelPush     ChannelKind = "push"
)

// DeliveryFormat selects what gets delivered to a channel.
type DeliveryFormat string

// Supported delivery formats.
const (
	FormatAudio DeliveryFormat = "audio"
	FormatLink  DeliveryFormat = "link"
	FormatBoth  DeliveryFormat = "both"
)

// ChannelBinding attaches a delivery channel and format to a job.
type ChannelBinding struct {
	Kind   ChannelKind    `json:"kind"`
	Format DeliveryFormat `json:"format"`

	// telegram
	ChatID int64 `json:"chat_id,omitempty"`

	// push
	UserIDs []string `json:"user_ids,omitempty"`
}

// Validate rejects bindings with an unknown kind or format.
func (c ChannelBinding) Validate() error {
	switch c.Kind {
	case ChannelTelegram:
		if c.ChatID == 0 {
			return fmt.Errorf("telegram channel requires a chat_id")
		}
	case ChannelPush:
		if len(c.UserIDs) == 0 {
			return fmt.Errorf("push channel requires user_ids")
		}
	default:
		return fmt.Errorf("unknown channel kind %q", c.Kind)
	}
	switch c.Format {
	case FormatAudio, FormatLink, FormatBoth:
	default:
		return fmt.Errorf("unknown delivery format %q", c.Format)
	}
	return nil
}

// RunStatus is a state in the run state machine.
type RunStatus string

// Run states. Non-terminal states advance strictly in order; failed is
// reachable from any non-terminal state, skipped only from filtering.
const (
	RunPending          RunStatus = "pending"
	RunFetching         RunStatus = "fetching"
	RunFiltering        RunStatus = "filtering"
	RunGeneratingScript RunStatus = "generating_script"
	RunGeneratingAudio  RunStatus = "generating_audio"
	RunPublishing       RunStatus = "publishing"
	RunCompleted        RunStatus = "completed"
	RunSkipped          RunStatus = "skipped"
	RunFailed           RunStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunSkipped, RunFailed:
		return true
	}
	return false
}

// Run is one execution attempt of a job.
type Run struct {
	ID               string
	JobID            int64
	Status           RunStatus
	ArticlesFound    int
	ArticlesSelected int
	Selections       []Selection
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       *time.Time
	EpisodeTitle     string
	EpisodeURL       string
	EpisodeDuration  time.Duration
}

// Article is a fetched article before filtering. Never persisted standalone.
type Article struct {
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
}

// Selection is the audit trail for one article chosen for an episode.
type Selection struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Speaker identifies one of the two dialogue hosts.
type Speaker string

// The two hosts.
const (
	SpeakerA Speaker = "A"
	SpeakerB Speaker = "B"
)

// MaxLineLength caps the text of a single dialogue line.
const MaxLineLength = 500

// ScriptLine is one spoken turn. Order within a script is the spoken order.
type ScriptLine struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Script is the structured dialogue produced for one episode.
type Script struct {
	Title string       `json:"title"`
	Lines []ScriptLine `json:"dialogue"`
}

// Episode is the finished audio artifact of one successful run.
type Episode struct {
	Title    string
	AudioURL string
	Duration time.Duration
	Lines    []ScriptLine
}
