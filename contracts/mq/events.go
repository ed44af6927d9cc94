package mq

import (
	"encoding/json"
	"fmt"
)

// Event kinds routed into the engine. Routing key = "event." + kind.
const (
	KindTaskAssigned   = "task.assigned"
	KindTaskCompleted  = "task.completed"
	KindCommentPosted  = "comment.posted"
	KindMemberJoined   = "member.joined"
	KindMentionCreated = "mention.created"
	KindProjectUpdated = "project.updated"
)

// Event is a domain event entering the delivery pipeline. Each kind has
// its own payload struct; the union is closed by DecodeEvent.
type Event interface {
	Kind() string
	ActorID() string
	RecipientIDs() []string
	TemplateData() map[string]string
}

type TaskAssignedPayload struct {
	TaskID      string   `json:"task_id"`
	TaskTitle   string   `json:"task_title"`
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	AssignerID  string   `json:"assigner_id"`
	AssigneeIDs []string `json:"assignee_ids"`
	DueDate     string   `json:"due_date,omitempty"`
}

func (p TaskAssignedPayload) Kind() string           { return KindTaskAssigned }
func (p TaskAssignedPayload) ActorID() string        { return p.AssignerID }
func (p TaskAssignedPayload) RecipientIDs() []string { return p.AssigneeIDs }
func (p TaskAssignedPayload) TemplateData() map[string]string {
	return map[string]string{
		"taskTitle":   p.TaskTitle,
		"projectName": p.ProjectName,
		"dueDate":     p.DueDate,
	}
}

type TaskCompletedPayload struct {
	TaskID      string   `json:"task_id"`
	TaskTitle   string   `json:"task_title"`
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	CompletedBy string   `json:"completed_by"`
	WatcherIDs  []string `json:"watcher_ids"`
}

func (p TaskCompletedPayload) Kind() string           { return KindTaskCompleted }
func (p TaskCompletedPayload) ActorID() string        { return p.CompletedBy }
func (p TaskCompletedPayload) RecipientIDs() []string { return p.WatcherIDs }
func (p TaskCompletedPayload) TemplateData() map[string]string {
	return map[string]string{
		"taskTitle":   p.TaskTitle,
		"projectName": p.ProjectName,
	}
}

type CommentPostedPayload struct {
	CommentID      string   `json:"comment_id"`
	TaskID         string   `json:"task_id"`
	TaskTitle      string   `json:"task_title"`
	ProjectID      string   `json:"project_id"`
	AuthorID       string   `json:"author_id"`
	AuthorName     string   `json:"author_name"`
	Excerpt        string   `json:"excerpt"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (p CommentPostedPayload) Kind() string           { return KindCommentPosted }
func (p CommentPostedPayload) ActorID() string        { return p.AuthorID }
func (p CommentPostedPayload) RecipientIDs() []string { return p.ParticipantIDs }
func (p CommentPostedPayload) TemplateData() map[string]string {
	return map[string]string{
		"authorName": p.AuthorName,
		"taskTitle":  p.TaskTitle,
		"excerpt":    p.Excerpt,
	}
}

type MemberJoinedPayload struct {
	WorkspaceID   string   `json:"workspace_id"`
	WorkspaceName string   `json:"workspace_name"`
	MemberID      string   `json:"member_id"`
	MemberName    string   `json:"member_name"`
	MemberIDs     []string `json:"member_ids"`
}

func (p MemberJoinedPayload) Kind() string           { return KindMemberJoined }
func (p MemberJoinedPayload) ActorID() string        { return p.MemberID }
func (p MemberJoinedPayload) RecipientIDs() []string { return p.MemberIDs }
func (p MemberJoinedPayload) TemplateData() map[string]string {
	return map[string]string{
		"memberName":    p.MemberName,
		"workspaceName": p.WorkspaceName,
	}
}

type MentionCreatedPayload struct {
	SourceID    string `json:"source_id"`
	SourceType  string `json:"source_type"` // task or comment
	TaskTitle   string `json:"task_title"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name"`
	MentionedID string `json:"mentioned_id"`
	Excerpt     string `json:"excerpt"`
}

func (p MentionCreatedPayload) Kind() string           { return KindMentionCreated }
func (p MentionCreatedPayload) ActorID() string        { return p.AuthorID }
func (p MentionCreatedPayload) RecipientIDs() []string { return []string{p.MentionedID} }
func (p MentionCreatedPayload) TemplateData() map[string]string {
	return map[string]string{
		"authorName": p.AuthorName,
		"taskTitle":  p.TaskTitle,
		"excerpt":    p.Excerpt,
	}
}

type ProjectUpdatedPayload struct {
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	UpdatedBy   string   `json:"updated_by"`
	UpdaterName string   `json:"updater_name"`
	Summary     string   `json:"summary"`
	MemberIDs   []string `json:"member_ids"`
}

func (p ProjectUpdatedPayload) Kind() string           { return KindProjectUpdated }
func (p ProjectUpdatedPayload) ActorID() string        { return p.UpdatedBy }
func (p ProjectUpdatedPayload) RecipientIDs() []string { return p.MemberIDs }
func (p ProjectUpdatedPayload) TemplateData() map[string]string {
	return map[string]string{
		"updaterName": p.UpdaterName,
		"projectName": p.ProjectName,
		"summary":     p.Summary,
	}
}

// DecodeEvent unmarshals the payload for a known event kind.
func DecodeEvent(kind string, data json.RawMessage) (Event, error) {
	var (
		evt Event
		err error
	)
	switch kind {
	case KindTaskAssigned:
		var p TaskAssignedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	case KindTaskCompleted:
		var p TaskCompletedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	case KindCommentPosted:
		var p CommentPostedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	case KindMemberJoined:
		var p MemberJoinedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	case KindMentionCreated:
		var p MentionCreatedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	case KindProjectUpdated:
		var p ProjectUpdatedPayload
		err = json.Unmarshal(data, &p)
		evt = p
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}
