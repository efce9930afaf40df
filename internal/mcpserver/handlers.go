package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/securewatch/securewatch/internal/apiclient"
	"github.com/securewatch/securewatch/internal/decision"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/risk"
)

const defaultListLimit = 20

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeLogin scores one login attempt.
func (h *Handlers) HandleAnalyzeLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	args := req.GetArguments()
	features, err := floatList(args["features"])
	if err != nil {
		return mcp.NewToolResultError("features: " + err.Error()), nil
	}
	if len(features) == 0 {
		return mcp.NewToolResultError("features must contain at least one number"), nil
	}

	var sequence [][]float64
	if raw, ok := args["sequence_data"].([]any); ok {
		for i, row := range raw {
			vals, err := floatList(row)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("sequence_data[%d]: %v", i, err)), nil
			}
			sequence = append(sequence, vals)
		}
	}

	res, err := h.client.AnalyzeLogin(ctx, decision.Request{
		UserID:       userID,
		Features:     features,
		SequenceData: sequence,
		TargetEmail:  req.GetString("target_email", ""),
		IP:           req.GetString("ip", ""),
		Location:     req.GetString("location", ""),
		Device:       req.GetString("device", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze login: %v", err)), nil
	}

	return mcp.NewToolResultText(formatResult(res)), nil
}

// HandleListIncidents lists the ledger.
func (h *Handlers) HandleListIncidents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultListLimit
	if f, ok := getFloat(req.GetArguments(), "limit"); ok && f >= 1 {
		limit = int(f)
	}
	verdict := risk.Verdict(strings.ToUpper(req.GetString("verdict", "")))

	recs, err := h.client.History(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list incidents: %v", err)), nil
	}

	var filtered []*incidents.Record
	for _, r := range recs {
		if verdict != "" && r.Verdict != verdict {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) == limit {
			break
		}
	}

	return mcp.NewToolResultText(formatIncidentList(filtered)), nil
}

// HandleGetIncident returns one incident.
func (h *Handlers) HandleGetIncident(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("incident_id", "")
	if id == "" {
		return mcp.NewToolResultError("incident_id is required"), nil
	}

	rec, err := h.client.Incident(ctx, id)
	if errors.Is(err, apiclient.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No incident with ID %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get incident: %v", err)), nil
	}

	return mcp.NewToolResultText(formatIncident(rec)), nil
}

// HandleSubmitFeedback labels an incident.
func (h *Handlers) HandleSubmitFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("incident_id", "")
	action := incidents.Action(req.GetString("action", ""))
	if id == "" || action == "" {
		return mcp.NewToolResultError("incident_id and action are required"), nil
	}

	rec, err := h.client.Feedback(ctx, id, action)
	if errors.Is(err, apiclient.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No incident with ID %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit feedback: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Feedback recorded.\n\nIncident: %s\nStatus: %s\nFeedback: %s",
		rec.ID, rec.Status, rec.Feedback,
	)), nil
}

// HandleResetLedger clears the ledger.
func (h *Handlers) HandleResetLedger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if confirm, _ := req.GetArguments()["confirm"].(bool); !confirm {
		return mcp.NewToolResultError("Refusing to reset: set confirm to true"), nil
	}

	n, err := h.client.Reset(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reset ledger: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Incident ledger cleared. %d records remain.", n)), nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func formatResult(res *decision.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", res.Verdict)
	fmt.Fprintf(&sb, "Risk score: %.4f\n", res.RiskScore)
	fmt.Fprintf(&sb, "Reason: %s\n", res.Reason)
	fmt.Fprintf(&sb, "Incident ID: %s\n", res.IncidentID)
	if res.Alerted {
		sb.WriteString("Critical alert raised.\n")
	}
	if len(res.Breakdown) > 0 {
		sb.WriteString("\nModel scores:\n")
		for _, k := range []string{"iso", "ae", "lstm", "network"} {
			if v, ok := res.Breakdown[k]; ok {
				fmt.Fprintf(&sb, "  %-8s %.4f\n", k, v)
			}
		}
	}
	return sb.String()
}

func formatIncidentList(recs []*incidents.Record) string {
	if len(recs) == 0 {
		return "No incidents recorded."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d incident(s):\n\n", len(recs))
	for i, r := range recs {
		fmt.Fprintf(&sb, "%d. [%s] %s  risk %.4f  %s\n", i+1, r.Verdict, r.Identity, r.Risk, r.Reason)
		fmt.Fprintf(&sb, "   %s  %s  %s  ID: %s\n", r.Time, r.Location, r.IP, r.ID)
	}
	return sb.String()
}

func formatIncident(r *incidents.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident %s\n\n", r.ID)
	fmt.Fprintf(&sb, "User: %s\n", r.Identity)
	fmt.Fprintf(&sb, "Time: %s\n", r.Time)
	fmt.Fprintf(&sb, "Location: %s\n", r.Location)
	fmt.Fprintf(&sb, "IP: %s\n", r.IP)
	fmt.Fprintf(&sb, "Device: %s\n", r.Device)
	fmt.Fprintf(&sb, "Verdict: %s (risk %.4f)\n", r.Verdict, r.Risk)
	fmt.Fprintf(&sb, "Reason: %s\n", r.Reason)
	fmt.Fprintf(&sb, "Status: %s\n", r.Status)
	if r.Feedback != "" {
		fmt.Fprintf(&sb, "Analyst feedback: %s\n", r.Feedback)
	}
	if r.Summary != "" {
		fmt.Fprintf(&sb, "\n%s\n", r.Summary)
	}
	return sb.String()
}

// floatList converts a decoded JSON array into numbers.
func floatList(v any) ([]float64, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.New("expected an array of numbers")
	}
	out := make([]float64, 0, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out = append(out, f)
	}
	return out, nil
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
