package envelope

// FuturesPath is the path where servers expose parked invocations.
const FuturesPath = "/.futures"

// Query parameters understood by kson servers.
const (
	QueryAction   = "action"
	QueryCursor   = "cursor"
	QueryFutureID = "id"
)

// ActionCreate is the built-in Collection action that adds an item.
const ActionCreate = "create"

// Error codes carried in the state of failed Responses.
const (
	CodeActionNotFound = "ActionNotFound"
)
