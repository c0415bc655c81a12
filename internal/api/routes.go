package api

import "github.com/tedsuo/rata"

const (
	GetState           = "GetState"
	ListPushes         = "ListPushes"
	GetPush            = "GetPush"
	ListPushJobs       = "ListPushJobs"
	FetchNextPushes    = "FetchNextPushes"
	ListDecisionTasks  = "ListDecisionTasks"
	GetBug             = "GetBug"
	ListNotifications  = "ListNotifications"
	ClearNotification  = "ClearNotification"
	ClearNotifications = "ClearNotifications"
	Navigate           = "Navigate"
	ApplyFilter        = "ApplyFilter"
	ChangeSelection    = "ChangeSelection"
	StreamEvents       = "StreamEvents"
)

var Routes = rata.Routes{
	{Path: "/api/state", Method: "GET", Name: GetState},

	{Path: "/api/pushes", Method: "GET", Name: ListPushes},
	{Path: "/api/pushes/next", Method: "POST", Name: FetchNextPushes},
	{Path: "/api/pushes/:push_id", Method: "GET", Name: GetPush},
	{Path: "/api/pushes/:push_id/jobs", Method: "GET", Name: ListPushJobs},
	{Path: "/api/decision_tasks", Method: "GET", Name: ListDecisionTasks},
	{Path: "/api/bugs/:bug_id", Method: "GET", Name: GetBug},

	{Path: "/api/notifications", Method: "GET", Name: ListNotifications},
	{Path: "/api/notifications", Method: "DELETE", Name: ClearNotifications},
	{Path: "/api/notifications/:notification_id", Method: "DELETE", Name: ClearNotification},

	{Path: "/api/location", Method: "PUT", Name: Navigate},
	{Path: "/api/filters/:op", Method: "POST", Name: ApplyFilter},
	{Path: "/api/selection", Method: "POST", Name: ChangeSelection},

	{Path: "/api/events", Method: "GET", Name: StreamEvents},
}
