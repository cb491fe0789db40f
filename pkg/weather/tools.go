package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Alert thresholds for derived weather alerts (metric units).
const (
	highTempThreshold    = 35.0 // °C
	extremeColdThreshold = -10.0
	highWindThreshold    = 15.0 // m/s
)

// ToolHandler handles MCP tool requests backed by the weather client.
type ToolHandler struct {
	client     *Client
	serverName string
	version    string
	instanceID string
	startedAt  time.Time
}

// NewToolHandler creates a new tool handler.
func NewToolHandler(client *Client, serverName, version string) *ToolHandler {
	return &ToolHandler{
		client:     client,
		serverName: serverName,
		version:    version,
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}
}

// RegisterTools registers all weather tools on the MCP server.
func (h *ToolHandler) RegisterTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.Tool{
		Name:        "get_current_time",
		Description: "Get the current time in a human-readable format",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.getCurrentTime)

	mcpServer.AddTool(mcp.Tool{
		Name:        "echo_message",
		Description: "Echo back the provided message",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "The message to echo back",
				},
			},
			Required: []string{"message"},
		},
	}, h.echoMessage)

	mcpServer.AddTool(mcp.Tool{
		Name:        "add_numbers",
		Description: "Add two numbers together",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"a": map[string]interface{}{
					"type":        "number",
					"description": "First number",
				},
				"b": map[string]interface{}{
					"type":        "number",
					"description": "Second number",
				},
			},
			Required: []string{"a", "b"},
		},
	}, h.addNumbers)

	mcpServer.AddTool(mcp.Tool{
		Name:        "get_weather",
		Description: "Get current weather information for a city",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "Name of the city (e.g., 'London', 'New York', 'Tokyo')",
				},
			},
			Required: []string{"city"},
		},
	}, h.getWeather)

	mcpServer.AddTool(mcp.Tool{
		Name:        "get_forecast",
		Description: "Get weather forecast for a city",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "Name of the city (e.g., 'London', 'New York', 'Tokyo')",
				},
				"days": map[string]interface{}{
					"type":        "integer",
					"description": "Number of days to forecast (1-5, default: 3)",
				},
			},
			Required: []string{"city"},
		},
	}, h.getForecast)

	mcpServer.AddTool(mcp.Tool{
		Name:        "get_weather_alerts",
		Description: "Get weather alerts for a city (if available)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "Name of the city",
				},
			},
			Required: []string{"city"},
		},
	}, h.getWeatherAlerts)

	mcpServer.AddTool(mcp.Tool{
		Name:        "compare_cities_weather",
		Description: "Compare weather between two cities",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"city1": map[string]interface{}{
					"type":        "string",
					"description": "First city name",
				},
				"city2": map[string]interface{}{
					"type":        "string",
					"description": "Second city name",
				},
			},
			Required: []string{"city1", "city2"},
		},
	}, h.compareCitiesWeather)

	mcpServer.AddTool(mcp.Tool{
		Name:        "get_server_info",
		Description: "Get information about this MCP server",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.getServerInfo)
}

// getCurrentTime returns the current time in a human-readable format.
func (*ToolHandler) getCurrentTime(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(
		fmt.Sprintf("Current time: %s", time.Now().Format("2006-01-02 15:04:05")),
	), nil
}

// echoMessage echoes back the provided message.
func (*ToolHandler) echoMessage(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		Message string `json:"message"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Echo: %s", args.Message)), nil
}

// addNumbers adds two numbers together.
func (*ToolHandler) addNumbers(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%g + %g = %g", args.A, args.B, args.A+args.B)), nil
}

// getWeather reports current conditions for a city.
func (h *ToolHandler) getWeather(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		City string `json:"city"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	cond, err := h.client.Current(ctx, args.City)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching weather: %v", err)), nil
	}

	text := fmt.Sprintf(`Weather in %s:
Temperature: %g°C (feels like %g°C)
Condition: %s - %s
Humidity: %d%%
Pressure: %d hPa
Wind: %g m/s
Visibility: %d meters`,
		args.City, cond.Temp, cond.FeelsLike, cond.Condition, cond.Description,
		cond.Humidity, cond.Pressure, cond.WindSpeed, cond.Visibility)

	return mcp.NewToolResultText(text), nil
}

// getForecast reports the forecast for a city over 1-5 days.
func (h *ToolHandler) getForecast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		City string `json:"city"`
		Days int    `json:"days,omitempty"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}
	if args.Days == 0 {
		args.Days = 3
	}
	if args.Days < 1 || args.Days > 5 {
		return mcp.NewToolResultError("Days must be between 1 and 5"), nil
	}

	entries, err := h.client.Forecast(ctx, args.City, args.Days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching forecast: %v", err)), nil
	}

	// Two slots per day keeps the summary readable.
	shown := args.Days * 2
	if shown > len(entries) {
		shown = len(entries)
	}
	lines := make([]string, 0, shown)
	for _, entry := range entries[:shown] {
		lines = append(lines, fmt.Sprintf("%s: %g°C, %s", entry.Time, entry.Temp, entry.Description))
	}

	text := fmt.Sprintf("Forecast for %s (next %d days):\n%s",
		args.City, args.Days, strings.Join(lines, "\n"))
	return mcp.NewToolResultText(text), nil
}

// getWeatherAlerts derives alerts from current conditions.
func (h *ToolHandler) getWeatherAlerts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		City string `json:"city"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	cond, err := h.client.Current(ctx, args.City)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching weather data: %v", err)), nil
	}

	var alerts []string
	if strings.Contains(strings.ToLower(cond.Condition), "storm") {
		alerts = append(alerts, "Thunderstorm alert")
	}
	if cond.Temp > highTempThreshold {
		alerts = append(alerts, "High temperature warning")
	} else if cond.Temp < extremeColdThreshold {
		alerts = append(alerts, "Extreme cold warning")
	}
	if cond.WindSpeed > highWindThreshold {
		alerts = append(alerts, "High wind warning")
	}

	if len(alerts) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No weather alerts for %s", args.City)), nil
	}
	return mcp.NewToolResultText(
		fmt.Sprintf("Weather alerts for %s:\n%s", args.City, strings.Join(alerts, "\n")),
	), nil
}

// compareCitiesWeather compares current conditions between two cities.
func (h *ToolHandler) compareCitiesWeather(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := struct {
		City1 string `json:"city1"`
		City2 string `json:"city2"`
	}{}

	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse arguments: %v", err)), nil
	}

	cond1, err := h.client.Current(ctx, args.City1)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching weather for %s: %v", args.City1, err)), nil
	}
	cond2, err := h.client.Current(ctx, args.City2)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error fetching weather for %s: %v", args.City2, err)), nil
	}

	tempDiff := cond1.Temp - cond2.Temp
	warmerCity := args.City1
	if cond2.Temp > cond1.Temp {
		warmerCity = args.City2
		tempDiff = -tempDiff
	}

	text := fmt.Sprintf(`Weather comparison:
%s: %g°C, %s
%s: %g°C, %s

%s is warmer by %.1f°C`,
		args.City1, cond1.Temp, cond1.Description,
		args.City2, cond2.Temp, cond2.Description,
		warmerCity, tempDiff)

	return mcp.NewToolResultText(text), nil
}

// getServerInfo reports server metadata and the available tools.
func (h *ToolHandler) getServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := map[string]interface{}{
		"name":        h.serverName,
		"version":     h.version,
		"instance_id": h.instanceID,
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"description": "MCP server with weather and forecast functionality",
		"tools": []string{
			"get_current_time",
			"echo_message",
			"add_numbers",
			"get_weather",
			"get_forecast",
			"get_weather_alerts",
			"compare_cities_weather",
			"get_server_info",
		},
		"note": "Weather data requires a valid OpenWeatherMap API key",
	}
	return mcp.NewToolResultStructuredOnly(info), nil
}
