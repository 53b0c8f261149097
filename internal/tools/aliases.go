package tools

// alias maps a public tool name to a module method.
type alias struct {
	Name string
	Ref  Ref
}

// aliasTable lists every public tool in catalogue order.
var aliasTable = []alias{
	{"getInbox", Ref{"mail", "listMessages"}},
	{"sendEmail", Ref{"mail", "send"}},
	{"searchEmails", Ref{"mail", "search"}},
	{"flagEmail", Ref{"mail", "flag"}},
	{"markAsRead", Ref{"mail", "markRead"}},
	{"getEmailDetails", Ref{"mail", "getMessage"}},
	{"addMailAttachment", Ref{"mail", "addAttachment"}},
	{"removeMailAttachment", Ref{"mail", "removeAttachment"}},

	{"getEvents", Ref{"calendar", "listEvents"}},
	{"createEvent", Ref{"calendar", "createEvent"}},
	{"updateEvent", Ref{"calendar", "updateEvent"}},
	{"cancelEvent", Ref{"calendar", "cancelEvent"}},
	{"getAvailability", Ref{"calendar", "getSchedule"}},

	{"listFiles", Ref{"files", "list"}},
	{"searchFiles", Ref{"files", "search"}},
	{"downloadFile", Ref{"files", "download"}},
	{"getFileMetadata", Ref{"files", "metadata"}},
	{"uploadFile", Ref{"files", "upload"}},

	{"findPeople", Ref{"people", "find"}},
	{"getRelevantPeople", Ref{"people", "relevant"}},
	{"getPersonById", Ref{"people", "get"}},

	{"search", Ref{"search", "query"}},

	{"listChats", Ref{"teams", "listChats"}},
	{"getChatMessages", Ref{"teams", "listChatMessages"}},
	{"sendChatMessage", Ref{"teams", "sendChatMessage"}},
	{"listJoinedTeams", Ref{"teams", "listJoinedTeams"}},

	{"listTaskLists", Ref{"todo", "listLists"}},
	{"getTasks", Ref{"todo", "listTasks"}},
	{"createTask", Ref{"todo", "createTask"}},
	{"updateTask", Ref{"todo", "updateTask"}},

	{"listContacts", Ref{"contacts", "list"}},
	{"getContact", Ref{"contacts", "get"}},
	{"createContact", Ref{"contacts", "create"}},

	{"listGroups", Ref{"groups", "list"}},
	{"getGroupMembers", Ref{"groups", "listMembers"}},
}
