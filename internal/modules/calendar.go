package modules

import (
	"context"
	"net/http"
	"time"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

const defaultEventWindow = 7 * 24 * time.Hour

type event struct {
	ID              string      `json:"id"`
	Subject         string      `json:"subject"`
	Start           dateTimeTZ  `json:"start"`
	End             dateTimeTZ  `json:"end"`
	Location        *location   `json:"location,omitempty"`
	Organizer       *recipient  `json:"organizer,omitempty"`
	Attendees       []attendee  `json:"attendees,omitempty"`
	IsOnlineMeeting bool        `json:"isOnlineMeeting"`
	OnlineMeeting   *onlineInfo `json:"onlineMeeting,omitempty"`
	IsCancelled     bool        `json:"isCancelled"`
	WebLink         string      `json:"webLink,omitempty"`
	BodyPreview     string      `json:"bodyPreview,omitempty"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

type attendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type onlineInfo struct {
	JoinURL string `json:"joinUrl"`
}

type calendarModule struct {
	client *graph.Client
	now    func() time.Time
}

// Calendar exposes calendar tools.
func Calendar(client *graph.Client) tools.Module {
	c := &calendarModule{client: client, now: time.Now}
	timeZone := tools.Param{Name: "timeZone", Type: tools.TypeString, Description: "IANA or Windows time zone of start and end", Default: "UTC"}
	return tools.Module{
		Name: "calendar",
		Methods: []*tools.Method{
			{
				Name:        "listEvents",
				Description: "List calendar events in a time window (defaults to the next 7 days)",
				HTTPMethod:  http.MethodGet,
				Path:        "/calendar",
				Params: []tools.Param{
					{Name: "startDateTime", Type: tools.TypeString, Description: "Window start, RFC 3339"},
					{Name: "endDateTime", Type: tools.TypeString, Description: "Window end, RFC 3339"},
					topParam(25),
				},
				Handler: c.listEvents,
			},
			{
				Name:        "createEvent",
				Description: "Create a calendar event and invite attendees",
				HTTPMethod:  http.MethodPost,
				Path:        "/calendar/create",
				Params: []tools.Param{
					{Name: "subject", Type: tools.TypeString, Description: "Event title", Required: true},
					{Name: "start", Type: tools.TypeString, Description: "Start date-time, e.g. 2024-05-01T09:00:00", Required: true},
					{Name: "end", Type: tools.TypeString, Description: "End date-time", Required: true},
					timeZone,
					{Name: "attendees", Type: tools.TypeArray, Description: "Attendee email addresses"},
					{Name: "location", Type: tools.TypeString, Description: "Location name"},
					{Name: "body", Type: tools.TypeString, Description: "Event description"},
					{Name: "isOnlineMeeting", Type: tools.TypeBoolean, Description: "Create an online meeting link", Default: false},
				},
				Handler: c.createEvent,
			},
			{
				Name:        "updateEvent",
				Description: "Update fields of an existing event",
				HTTPMethod:  http.MethodPut,
				Path:        "/calendar/events/{id}",
				Params: []tools.Param{
					idParam("id", "Event id"),
					{Name: "subject", Type: tools.TypeString, Description: "New title"},
					{Name: "start", Type: tools.TypeString, Description: "New start date-time"},
					{Name: "end", Type: tools.TypeString, Description: "New end date-time"},
					timeZone,
					{Name: "location", Type: tools.TypeString, Description: "New location name"},
					{Name: "body", Type: tools.TypeString, Description: "New description"},
				},
				Handler: c.updateEvent,
			},
			{
				Name:        "cancelEvent",
				Description: "Cancel an event the user organizes and notify attendees",
				HTTPMethod:  http.MethodDelete,
				Path:        "/calendar/events/{id}",
				Params: []tools.Param{
					idParam("id", "Event id"),
					{Name: "comment", Type: tools.TypeString, Description: "Message sent to attendees"},
				},
				Handler: c.cancelEvent,
			},
			{
				Name:        "getSchedule",
				Description: "Get free/busy availability for a set of users",
				HTTPMethod:  http.MethodPost,
				Path:        "/calendar/availability",
				Params: []tools.Param{
					{Name: "schedules", Type: tools.TypeArray, Description: "Email addresses to check", Required: true},
					{Name: "start", Type: tools.TypeString, Description: "Window start date-time", Required: true},
					{Name: "end", Type: tools.TypeString, Description: "Window end date-time", Required: true},
					timeZone,
					{Name: "interval", Type: tools.TypeInteger, Description: "Slot length in minutes", Default: 30, Min: 5, Max: 1440},
				},
				Handler: c.getSchedule,
			},
		},
	}
}

func (c *calendarModule) listEvents(ctx context.Context, args tools.Args) (any, error) {
	start := args.String("startDateTime")
	end := args.String("endDateTime")
	if start == "" {
		start = c.now().UTC().Format(time.RFC3339)
	}
	if end == "" {
		from, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, tools.InvalidArgument("startDateTime", "must be an RFC 3339 timestamp")
		}
		end = from.Add(defaultEventWindow).Format(time.RFC3339)
	}
	q := query(
		"startDateTime", start,
		"endDateTime", end,
		"$top", itoa(args.Int("top", 25)),
		"$orderby", "start/dateTime",
		"$select", "id,subject,start,end,location,organizer,attendees,isOnlineMeeting,onlineMeeting,isCancelled,webLink,bodyPreview",
	)
	var out collection[event]
	if err := c.client.Get(ctx, args.AccessToken(), "/me/calendarView", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func attendeesFrom(addrs []string) []attendee {
	out := make([]attendee, 0, len(addrs))
	for _, r := range recipients(addrs) {
		out = append(out, attendee{EmailAddress: r.EmailAddress, Type: "required"})
	}
	return out
}

func (c *calendarModule) createEvent(ctx context.Context, args tools.Args) (any, error) {
	tz := args.String("timeZone")
	body := map[string]any{
		"subject": args.String("subject"),
		"start":   dateTimeTZ{DateTime: args.String("start"), TimeZone: tz},
		"end":     dateTimeTZ{DateTime: args.String("end"), TimeZone: tz},
	}
	if a := attendeesFrom(args.Strings("attendees")); len(a) > 0 {
		body["attendees"] = a
	}
	if loc := args.String("location"); loc != "" {
		body["location"] = location{DisplayName: loc}
	}
	if b := args.String("body"); b != "" {
		body["body"] = itemBody{ContentType: "text", Content: b}
	}
	if args.Bool("isOnlineMeeting", false) {
		body["isOnlineMeeting"] = true
		body["onlineMeetingProvider"] = "teamsForBusiness"
	}
	var created event
	if err := c.client.Send(ctx, args.AccessToken(), http.MethodPost, "/me/events", body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (c *calendarModule) updateEvent(ctx context.Context, args tools.Args) (any, error) {
	tz := args.String("timeZone")
	body := map[string]any{}
	if s := args.String("subject"); s != "" {
		body["subject"] = s
	}
	if s := args.String("start"); s != "" {
		body["start"] = dateTimeTZ{DateTime: s, TimeZone: tz}
	}
	if s := args.String("end"); s != "" {
		body["end"] = dateTimeTZ{DateTime: s, TimeZone: tz}
	}
	if s := args.String("location"); s != "" {
		body["location"] = location{DisplayName: s}
	}
	if s := args.String("body"); s != "" {
		body["body"] = itemBody{ContentType: "text", Content: s}
	}
	if len(body) == 0 {
		return nil, tools.InvalidArgument("subject", "at least one field to update is required")
	}
	var updated event
	if err := c.client.Send(ctx, args.AccessToken(), http.MethodPatch, "/me/events/"+seg(args.String("id")), body, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *calendarModule) cancelEvent(ctx context.Context, args tools.Args) (any, error) {
	body := map[string]string{"comment": args.String("comment")}
	if err := c.client.Send(ctx, args.AccessToken(), http.MethodPost, "/me/events/"+seg(args.String("id"))+"/cancel", body, nil); err != nil {
		return nil, err
	}
	return success{Success: true, ID: args.String("id"), Message: "Event cancelled"}, nil
}

func (c *calendarModule) getSchedule(ctx context.Context, args tools.Args) (any, error) {
	tz := args.String("timeZone")
	body := map[string]any{
		"schedules":                args.Strings("schedules"),
		"startTime":                dateTimeTZ{DateTime: args.String("start"), TimeZone: tz},
		"endTime":                  dateTimeTZ{DateTime: args.String("end"), TimeZone: tz},
		"availabilityViewInterval": args.Int("interval", 30),
	}
	var out struct {
		Value []map[string]any `json:"value"`
	}
	if err := c.client.Send(ctx, args.AccessToken(), http.MethodPost, "/me/calendar/getSchedule", body, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		out.Value = []map[string]any{}
	}
	return map[string]any{"schedules": out.Value}, nil
}
