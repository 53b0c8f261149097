package tools

import (
	"sort"

	"m365gate/internal/upstream"
)

// scopeTools maps an upstream scope to the tools it unlocks. Scopes not
// listed unlock nothing.
var scopeTools = map[string][]string{
	"Mail.Read":      {"getInbox", "getEmailDetails", "searchEmails", "search"},
	"Mail.ReadBasic": {"getInbox", "searchEmails"},
	"Mail.ReadWrite": {
		"getInbox", "getEmailDetails", "searchEmails", "flagEmail", "markAsRead",
		"addMailAttachment", "removeMailAttachment", "search",
	},
	"Mail.Send": {"sendEmail"},

	"Calendars.Read":      {"getEvents", "getAvailability", "search"},
	"Calendars.ReadWrite": {"getEvents", "getAvailability", "createEvent", "updateEvent", "cancelEvent", "search"},

	"Files.Read":          {"listFiles", "searchFiles", "downloadFile", "getFileMetadata", "search"},
	"Files.Read.All":      {"listFiles", "searchFiles", "downloadFile", "getFileMetadata", "search"},
	"Files.ReadWrite":     {"listFiles", "searchFiles", "downloadFile", "getFileMetadata", "uploadFile", "search"},
	"Files.ReadWrite.All": {"listFiles", "searchFiles", "downloadFile", "getFileMetadata", "uploadFile", "search"},
	"Sites.Read.All":      {"search"},

	"People.Read":        {"findPeople", "getRelevantPeople"},
	"User.ReadBasic.All": {"getPersonById"},
	"User.Read.All":      {"getPersonById"},

	"Chat.Read":          {"listChats", "getChatMessages"},
	"Chat.ReadWrite":     {"listChats", "getChatMessages", "sendChatMessage"},
	"ChatMessage.Send":   {"sendChatMessage"},
	"Team.ReadBasic.All": {"listJoinedTeams"},

	"Tasks.Read":      {"listTaskLists", "getTasks"},
	"Tasks.ReadWrite": {"listTaskLists", "getTasks", "createTask", "updateTask"},

	"Contacts.Read":      {"listContacts", "getContact"},
	"Contacts.ReadWrite": {"listContacts", "getContact", "createContact"},

	"Group.Read.All":       {"listGroups", "getGroupMembers"},
	"GroupMember.Read.All": {"listGroups", "getGroupMembers"},
}

// KnownScopes returns every scope that unlocks at least one tool, sorted.
func KnownScopes() []string {
	out := make([]string, 0, len(scopeTools))
	for s := range scopeTools {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// scopesFor returns the scopes that unlock tool, sorted.
func scopesFor(tool string) []string {
	var out []string
	for scope, names := range scopeTools {
		for _, n := range names {
			if n == tool {
				out = append(out, scope)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// AvailableTools returns the union of tools unlocked by scopes, in catalogue
// order, each listed once.
func AvailableTools(scopes []string) []string {
	allowed := make(map[string]bool)
	for _, s := range upstream.NormalizeScopes(scopes) {
		for _, name := range scopeTools[s] {
			allowed[name] = true
		}
	}
	out := make([]string, 0, len(allowed))
	for _, a := range aliasTable {
		if allowed[a.Name] {
			out = append(out, a.Name)
		}
	}
	return out
}

// Permissions is the scope projection reported by /v1/permissions.
type Permissions struct {
	Scopes         []string `json:"scopes"`
	AvailableTools []string `json:"availableTools"`
	ScopeCount     int      `json:"scopeCount"`
	ToolCount      int      `json:"toolCount"`
}

// PermissionsFor projects scopes onto the catalogue.
func PermissionsFor(scopes []string) Permissions {
	scopes = upstream.NormalizeScopes(scopes)
	if scopes == nil {
		scopes = []string{}
	}
	avail := AvailableTools(scopes)
	return Permissions{
		Scopes:         scopes,
		AvailableTools: avail,
		ScopeCount:     len(scopes),
		ToolCount:      len(avail),
	}
}
