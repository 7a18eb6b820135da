package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ADO event types handled by the formatter, grouped by family. Anything else
// is dropped.
const (
	eventPRCreated = "git.pullrequest.created"
	eventPRUpdated = "git.pullrequest.updated"
	eventPRMerged  = "git.pullrequest.merged"
	eventPRComment = "ms.vss-code.git-pullrequest-comment-event"

	eventBuildComplete     = "build.complete"
	eventReleaseCreated    = "ms.vss-release.release-created-event"
	eventDeployCompleted   = "ms.vss-release.deployment-completed-event"
	eventReleaseAbandoned  = "ms.vss-release.release-abandoned-event"
	workitemEventPrefix    = "workitem."
	workitemEventCommented = "workitem.commented"
	workitemEventCreated   = "workitem.created"
	workitemEventResolved  = "workitem.resolved"
	workitemEventClosed    = "workitem.closed"
)

// buildStatusImage maps build.complete result strings to status image keys.
var buildStatusImage = map[string]string{
	"succeeded":          "success",
	"failed":             "failure",
	"partiallysucceeded": "failure",
	"canceled":           "cancelled",
	"cancelled":          "cancelled",
}

// deployStatusImage maps deployment environment statuses to status image keys.
var deployStatusImage = map[string]string{
	"succeeded": "success",
	"rejected":  "failure",
	"failed":    "failure",
	"canceled":  "cancelled",
	"cancelled": "cancelled",
}

// Formatter converts raw ADO webhook payloads into Notifications. Payloads
// are untyped trees whose shape varies per event type, so every extraction
// tolerates missing or variant fields.
type Formatter struct {
	identity IdentityResolver
	logger   *zap.Logger
}

// NewFormatter creates a Formatter that resolves actor avatars through the
// given identity service.
func NewFormatter(identity IdentityResolver, logger *zap.Logger) *Formatter {
	return &Formatter{
		identity: identity,
		logger:   logger.Named("formatter"),
	}
}

// Format builds a Notification from an ADO webhook payload, or returns nil
// for event types the formatter does not handle.
func (f *Formatter) Format(ctx context.Context, eventType string, payload map[string]any) *Notification {
	resource := getMap(payload, "resource")
	project := getString(getMap(getMap(payload, "resourceContainers"), "project"), "name")
	if project == "" {
		project = getString(resource, "teamProject")
	}

	switch eventType {
	case eventPRCreated, eventPRUpdated, eventPRMerged, eventPRComment:
		return f.formatPR(ctx, eventType, resource, project)
	case eventBuildComplete, eventReleaseCreated, eventDeployCompleted, eventReleaseAbandoned:
		return f.formatPipeline(ctx, eventType, resource, project)
	}
	if strings.HasPrefix(eventType, workitemEventPrefix) {
		return f.formatWorkitem(ctx, eventType, resource, project)
	}

	f.logger.Debug("unhandled event type", zap.String("event_type", eventType))
	return nil
}

func (f *Formatter) formatPR(ctx context.Context, eventType string, resource map[string]any, project string) *Notification {
	// Comment events nest the PR one level down.
	pr := resource
	if _, ok := resource["pullRequestId"]; !ok {
		if nested := getMap(resource, "pullRequest"); nested != nil {
			pr = nested
		}
	}

	prID := getNumber(pr, "pullRequestId")
	title := getStringDefault(pr, "title", "Pull Request")
	repo := getString(getMap(pr, "repository"), "name")
	source := strings.TrimPrefix(getString(pr, "sourceRefName"), "refs/heads/")
	target := strings.TrimPrefix(getString(pr, "targetRefName"), "refs/heads/")
	status := getString(pr, "status")
	createdBy := identityAt(pr, "createdBy")
	reviewers := identityList(pr, "reviewers")

	url := getString(getMap(getMap(pr, "_links"), "web"), "href")
	if url == "" {
		url = getString(pr, "remoteUrl")
	}
	if url == "" {
		url = getString(pr, "url")
	}

	var (
		heading, body, statusImage string
		actor                      identityRef
		mentioned                  Mentions
	)

	switch eventType {
	case eventPRComment:
		actor = identityAt(getMap(resource, "comment"), "author")
		heading = "PR Comment"
		body = fmt.Sprintf("💬 %s commented on PR #%s: %s", actor.name(), prID, title)
		statusImage = "pr comment"
		mentioned = buildMentions(actor.ID, append([]identityRef{createdBy}, reviewers...)...)

	case eventPRCreated:
		actor = createdBy
		heading = "New Pull Request"
		body = fmt.Sprintf("%s opened PR #%s in %s\n%s → %s", actor.name(), prID, repo, source, target)
		statusImage = "new pr"
		mentioned = buildMentions(actor.ID, reviewers...)

	case eventPRMerged:
		actor = identityAt(resource, "closedBy")
		if actor.ID == "" && actor.DisplayName == "" {
			actor = createdBy
		}
		heading = "PR Merged"
		body = fmt.Sprintf("PR #%s merged in %s\n%s", prID, repo, title)
		statusImage = "pr merged"
		// Reviewers are notified as usual, and the PR author is always
		// added — even when they clicked merge themselves — so they know
		// their PR completed.
		mentioned = buildMentions(actor.ID, reviewers...)
		mentioned.add(createdBy)

	default: // updated
		actor = createdBy
		heading = "PR Updated"
		body = fmt.Sprintf("PR #%s updated (%s): %s", prID, status, title)
		statusImage = "pr updated"
		mentioned = buildMentions(actor.ID, reviewers...)
	}

	return &Notification{
		EventType:   EventPR,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.identity.Avatar(ctx, actor.ID),
		StatusImage: statusImage,
		Actor:       actor.name(),
		ActorID:     actor.ID,
		Mentions:    mentioned,
		Meta: map[string]any{
			"pr_id":  prID,
			"repo":   repo,
			"status": status,
		},
	}
}

func (f *Formatter) formatWorkitem(ctx context.Context, eventType string, resource map[string]any, project string) *Notification {
	fields := getMap(resource, "fields")
	wiID := getNumber(resource, "id")
	wiType := getStringDefault(fields, "System.WorkItemType", "Work Item")
	wiTitle := getStringDefault(fields, "System.Title", "Untitled")
	state := getString(fields, "System.State")

	// AssignedTo and ChangedBy arrive as identity objects on 5.1-preview
	// and as bare display strings on legacy API versions.
	assignedTo, assignedToName := flexIdentity(fields, "System.AssignedTo")
	actor, actorName := flexIdentity(fields, "System.ChangedBy")
	if actorName == "" {
		actorName = "Someone"
	}

	// The resource URL points at the REST API; rewrite it to the web UI path.
	url := strings.Replace(getString(resource, "url"), "/_apis/wit/workItems/", "/_workitems/edit/", 1)

	var heading, body string
	switch eventType {
	case workitemEventCreated:
		heading = fmt.Sprintf("New %s", wiType)
		body = fmt.Sprintf("%s created %s #%s: %s", actorName, wiType, wiID, wiTitle)
		if assignedToName != "" {
			body += "\nAssigned to: " + assignedToName
		}
	case workitemEventCommented:
		heading = fmt.Sprintf("%s Comment", wiType)
		body = fmt.Sprintf("%s commented on %s #%s: %s", actorName, wiType, wiID, wiTitle)
	case workitemEventResolved, workitemEventClosed:
		heading = fmt.Sprintf("%s %s", wiType, state)
		body = fmt.Sprintf("%s %s %s #%s: %s", actorName, strings.ToLower(state), wiType, wiID, wiTitle)
	default:
		heading = fmt.Sprintf("%s Updated", wiType)
		body = fmt.Sprintf("✏ %s updated %s #%s: %s", actorName, wiType, wiID, wiTitle)
		if state != "" {
			body += " [" + state + "]"
		}
	}

	statusImage := strings.ToLower(wiType)
	if eventType == workitemEventCommented {
		statusImage = "workitem comment"
	}

	return &Notification{
		EventType:   EventWorkitem,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.identity.Avatar(ctx, actor.ID),
		StatusImage: statusImage,
		Actor:       actorName,
		ActorID:     actor.ID,
		Mentions:    buildMentions(actor.ID, assignedTo),
		Meta: map[string]any{
			"wi_id":       wiID,
			"wi_type":     wiType,
			"state":       state,
			"assigned_to": assignedToName,
		},
	}
}

func (f *Formatter) formatPipeline(ctx context.Context, eventType string, resource map[string]any, project string) *Notification {
	var (
		heading, body, url, statusImage string
		actor                           identityRef
		mentioned                       = newMentions()
	)

	switch eventType {
	case eventBuildComplete:
		buildID := getNumber(resource, "id")
		buildNum := getStringDefault(resource, "buildNumber", buildID)
		definition := getStringDefault(getMap(resource, "definition"), "name", "Pipeline")
		result := strings.ToLower(getStringDefault(resource, "result", "unknown"))
		actor = identityAt(resource, "requestedFor")
		url = getString(getMap(getMap(resource, "_links"), "web"), "href")
		if url == "" {
			url = getString(resource, "url")
		}
		heading = "Build " + title(strings.Replace(result, "partiallysucceeded", "partially succeeded", 1))
		body = fmt.Sprintf("%s #%s %s\nTriggered by: %s", definition, buildNum, result, actor.name())
		statusImage = buildStatusImage[result]
		// The triggering user is always mentioned — it's their build result.
		mentioned = buildMentions("", actor)

	case eventReleaseCreated:
		relName := getStringDefault(resource, "name", "Release")
		definition := getString(getMap(resource, "releaseDefinition"), "name")
		actor = identityAt(resource, "createdBy")
		url = getString(getMap(getMap(resource, "_links"), "web"), "href")
		heading = "Release Created"
		body = fmt.Sprintf("%s created %s", actor.name(), relName)
		if definition != "" {
			body += " (" + definition + ")"
		}

	case eventDeployCompleted:
		env := getMap(resource, "environment")
		envName := getStringDefault(env, "name", "Environment")
		relName := getStringDefault(getMap(resource, "release"), "name", "Release")
		status := strings.ToLower(getStringDefault(env, "status", "unknown"))
		actor = identityAt(getMap(resource, "deployment"), "requestedFor")
		url = getString(getMap(getMap(getMap(resource, "release"), "_links"), "web"), "href")
		heading = "Deployment " + title(status)
		body = fmt.Sprintf("%s → %s: %s", relName, envName, status)
		statusImage = deployStatusImage[status]
		mentioned = buildMentions("", actor)

	case eventReleaseAbandoned:
		relName := getStringDefault(resource, "name", "Release")
		actor = identityAt(resource, "modifiedBy")
		url = getString(getMap(getMap(resource, "_links"), "web"), "href")
		heading = "Release Abandoned"
		body = fmt.Sprintf("%s abandoned %s", actor.name(), relName)
		statusImage = "cancelled"
	}

	return &Notification{
		EventType:   EventPipeline,
		Heading:     heading,
		Body:        body,
		URL:         cleanURL(url),
		Project:     project,
		AvatarB64:   f.identity.Avatar(ctx, actor.ID),
		StatusImage: statusImage,
		Actor:       actor.name(),
		ActorID:     actor.ID,
		Mentions:    mentioned,
		Meta:        map[string]any{"raw_event": eventType},
	}
}

// cleanURL drops raw REST API URLs — they are not usable in a browser. The
// rewritten work-item edit path is the one /_apis/ URL that survives.
func cleanURL(url string) string {
	if strings.Contains(url, "/_apis/") && !strings.Contains(url, "/_workitems") {
		return ""
	}
	return url
}

// title upper-cases the first letter of every space-separated word.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
