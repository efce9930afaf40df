package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the SecureWatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeLogin = mcp.NewTool("analyze_login",
	mcp.WithDescription(
		"Score one login attempt and get an ALLOW, MFA_CHALLENGE or BLOCK verdict. "+
			"The attempt is recorded in the incident ledger and critical logins raise an alert. "+
			"Returns the verdict, fused risk score, reason code and the per-model score breakdown."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Identity attempting to log in (letters, digits, '_', '.', '@', '-')")),
	mcp.WithArray("features",
		mcp.Required(),
		mcp.Description("Numeric feature vector describing the attempt (at least one finite number)"),
		mcp.Items(map[string]any{"type": "number"})),
	mcp.WithArray("sequence_data",
		mcp.Description("Recent session actions, one numeric vector per action, oldest first"),
		mcp.Items(map[string]any{"type": "array", "items": map[string]any{"type": "number"}})),
	mcp.WithString("location",
		mcp.Description("Where the login came from, e.g. 'Lagos, NG'")),
	mcp.WithString("device",
		mcp.Description("Device or browser description")),
	mcp.WithString("ip",
		mcp.Description("Client IP address")),
	mcp.WithString("target_email",
		mcp.Description("Address that receives the alert email for this login")),
)

var ToolListIncidents = mcp.NewTool("list_incidents",
	mcp.WithDescription(
		"List recent login decisions from the incident ledger, newest first. "+
			"Use this to review what was blocked or challenged."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of incidents to return (default 20)")),
	mcp.WithString("verdict",
		mcp.Description("Only return incidents with this verdict"),
		mcp.Enum("ALLOW", "MFA_CHALLENGE", "BLOCK")),
)

var ToolGetIncident = mcp.NewTool("get_incident",
	mcp.WithDescription(
		"Get one incident by ID, including its narrative summary, status and any analyst feedback."),
	mcp.WithString("incident_id",
		mcp.Required(),
		mcp.Description("The incident ID returned by analyze_login or list_incidents")),
)

var ToolSubmitFeedback = mcp.NewTool("submit_feedback",
	mcp.WithDescription(
		"Record an analyst verdict on an incident. "+
			"'confirm_fraud' marks it as confirmed fraud; 'verify_safe' marks it as a false positive."),
	mcp.WithString("incident_id",
		mcp.Required(),
		mcp.Description("The incident to label")),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("Analyst action"),
		mcp.Enum("confirm_fraud", "verify_safe")),
)

var ToolResetLedger = mcp.NewTool("reset_ledger",
	mcp.WithDescription(
		"Delete every incident from the ledger. This cannot be undone. "+
			"Requires the server's admin secret to be configured for this MCP server."),
	mcp.WithBoolean("confirm",
		mcp.Required(),
		mcp.Description("Must be true to actually reset")),
)
