package catalog

import (
	"fmt"

	"notification-engine/contracts/mq"
	"notification-engine/internal/model"
)

// Entry binds an event kind to the template and classification used when
// delivering it.
type Entry struct {
	TemplateType string
	Category     string
	Priority     model.Priority
	// GroupBy names the template-data field whose value scopes the
	// notification group (empty means ungrouped).
	GroupBy string
}

// Catalog is the fixed event -> template mapping. It is pure data,
// built once at process start and passed by injection; never mutated.
type Catalog struct {
	entries map[string]Entry
}

// Default returns the built-in event mapping for the collaboration app.
func Default() *Catalog {
	return &Catalog{entries: map[string]Entry{
		mq.KindTaskAssigned: {
			TemplateType: "task_assigned",
			Category:     "tasks",
			Priority:     model.PriorityHigh,
			GroupBy:      "projectName",
		},
		mq.KindTaskCompleted: {
			TemplateType: "task_completed",
			Category:     "tasks",
			Priority:     model.PriorityNormal,
			GroupBy:      "projectName",
		},
		mq.KindCommentPosted: {
			TemplateType: "comment_posted",
			Category:     "comments",
			Priority:     model.PriorityNormal,
			GroupBy:      "taskTitle",
		},
		mq.KindMemberJoined: {
			TemplateType: "member_joined",
			Category:     "workspace",
			Priority:     model.PriorityLow,
			GroupBy:      "workspaceName",
		},
		mq.KindMentionCreated: {
			TemplateType: "mention_created",
			Category:     "mentions",
			Priority:     model.PriorityUrgent,
		},
		mq.KindProjectUpdated: {
			TemplateType: "project_updated",
			Category:     "projects",
			Priority:     model.PriorityLow,
			GroupBy:      "projectName",
		},
	}}
}

// Lookup resolves the entry for an event kind.
func (c *Catalog) Lookup(kind string) (Entry, error) {
	e, ok := c.entries[kind]
	if !ok {
		return Entry{}, fmt.Errorf("no catalog entry for event kind: %s", kind)
	}
	return e, nil
}

// Kinds lists every mapped event kind, for consumer registration.
func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.entries))
	for k := range c.entries {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultTemplates returns the seed templates for every mapped event
// kind, used to populate the registry on first boot.
func DefaultTemplates() []model.Template {
	return []model.Template{
		{
			Type:      "task_assigned",
			Title:     "New task: {{taskTitle}}",
			Body:      "You were assigned {{taskTitle}} in {{projectName}}.",
			Variables: map[string]bool{"taskTitle": true, "projectName": true, "dueDate": false},
			IsActive:  true,
		},
		{
			Type:      "task_completed",
			Title:     "Task completed",
			Body:      "{{taskTitle}} in {{projectName}} was marked complete.",
			Variables: map[string]bool{"taskTitle": true, "projectName": false},
			IsActive:  true,
		},
		{
			Type:      "comment_posted",
			Title:     "{{authorName}} commented",
			Body:      "{{authorName}} commented on {{taskTitle}}: {{excerpt}}",
			Variables: map[string]bool{"authorName": true, "taskTitle": true, "excerpt": false},
			IsActive:  true,
		},
		{
			Type:      "member_joined",
			Title:     "{{memberName}} joined",
			Body:      "{{memberName}} joined {{workspaceName}}.",
			Variables: map[string]bool{"memberName": true, "workspaceName": true},
			IsActive:  true,
		},
		{
			Type:      "mention_created",
			Title:     "{{authorName}} mentioned you",
			Body:      "{{authorName}} mentioned you on {{taskTitle}}: {{excerpt}}",
			Variables: map[string]bool{"authorName": true, "taskTitle": false, "excerpt": false},
			IsActive:  true,
		},
		{
			Type:      "project_updated",
			Title:     "{{projectName}} updated",
			Body:      "{{updaterName}} updated {{projectName}}: {{summary}}",
			Variables: map[string]bool{"updaterName": true, "projectName": true, "summary": false},
			IsActive:  true,
		},
	}
}
