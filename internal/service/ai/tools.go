package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"modalhub/internal/config"
	"modalhub/internal/logging"
	"modalhub/internal/service/todo"
)

// InitTools builds the tool set described by cfg. Tools that cannot be
// initialised are logged and skipped.
func InitTools(ctx context.Context, cfg config.ToolsConfig, todos todo.Store, logger *logging.Logger) []tool.BaseTool {
	if logger == nil {
		logger = logging.NewNop()
	}
	var tools []tool.BaseTool
	if cfg.Todos && todos != nil {
		tools = append(tools, TodoTools(todos)...)
	}
	if cfg.WebSearch {
		if ws := InitWebSearch(ctx, cfg, logger); ws != nil {
			tools = append(tools, ws)
		}
	}
	if cfg.RateLimit > 0 {
		limiter := newToolRateLimiter(cfg.RateLimit, ToolRateWindow)
		for i, t := range tools {
			if inv, ok := t.(tool.InvokableTool); ok {
				tools[i] = &limitedTool{InvokableTool: inv, limiter: limiter}
			}
		}
	}
	return tools
}

type todoIDParams struct {
	ID int64 `json:"id"`
}

type addTodoParams struct {
	Title string `json:"title"`
}

type completeTodoParams struct {
	ID        int64 `json:"id"`
	Completed *bool `json:"completed,omitempty"`
}

type todoTools struct {
	store todo.Store
}

// TodoTools exposes the todo list to the model.
func TodoTools(store todo.Store) []tool.BaseTool {
	t := &todoTools{store: store}
	idParam := map[string]*schema.ParameterInfo{
		"id": {Desc: "Id of the todo item.", Type: schema.Integer, Required: true},
	}
	return []tool.BaseTool{
		utils.NewTool(&schema.ToolInfo{
			Name:        "list_todos",
			Desc:        "List every todo item with its id, title and completion state.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		}, t.list),
		utils.NewTool(&schema.ToolInfo{
			Name: "add_todo",
			Desc: "Add a todo item to the user's list.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {Desc: "Title of the new todo.", Type: schema.String, Required: true},
			}),
		}, t.add),
		utils.NewTool(&schema.ToolInfo{
			Name: "complete_todo",
			Desc: "Mark a todo item as completed, or pass completed=false to reopen it.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"id":        idParam["id"],
				"completed": {Desc: "Completion state, default true.", Type: schema.Boolean},
			}),
		}, t.complete),
		utils.NewTool(&schema.ToolInfo{
			Name:        "delete_todo",
			Desc:        "Delete a todo item.",
			ParamsOneOf: schema.NewParamsOneOfByParams(idParam),
		}, t.delete),
	}
}

func (t *todoTools) list(ctx context.Context, _ *struct{}) (string, error) {
	items, err := t.store.List(ctx)
	if err != nil {
		return "", err
	}
	return encodeToolResult(items)
}

func (t *todoTools) add(ctx context.Context, params *addTodoParams) (string, error) {
	if params == nil {
		return "", errors.New("title is required")
	}
	item, err := t.store.Create(ctx, params.Title)
	if err != nil {
		return "", err
	}
	return encodeToolResult(item)
}

func (t *todoTools) complete(ctx context.Context, params *completeTodoParams) (string, error) {
	if params == nil || params.ID <= 0 {
		return "", errors.New("id is required")
	}
	completed := true
	if params.Completed != nil {
		completed = *params.Completed
	}
	item, err := t.store.Update(ctx, params.ID, todo.UpdateParams{Completed: &completed})
	if err != nil {
		return "", err
	}
	return encodeToolResult(item)
}

func (t *todoTools) delete(ctx context.Context, params *todoIDParams) (string, error) {
	if params == nil || params.ID <= 0 {
		return "", errors.New("id is required")
	}
	if err := t.store.Delete(ctx, params.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("todo %d deleted", params.ID), nil
}

func encodeToolResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(data), nil
}

// InitWebSearch combines Google (when keyed) and DuckDuckGo behind one tool.
func InitWebSearch(ctx context.Context, cfg config.ToolsConfig, logger *logging.Logger) tool.InvokableTool {
	googleTool := initGoogleSearch(ctx, cfg, logger)
	duckTool := initDDGSearch(ctx, logger)
	if googleTool == nil && duckTool == nil {
		logger.Warn(ctx, "web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		logger:     logger,
	}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for information, falling back to another provider if needed. " +
			"A URL query fetches that page instead.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	logger     *logging.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.logger.Warn(ctx, "web url fetch failed", zap.Error(err))
	}

	payload, err := encodeToolResult(webSearchParams{Query: query})
	if err != nil {
		return "", err
	}
	providers := []struct {
		name string
		tool tool.InvokableTool
	}{{"google", w.google}, {"duckduckgo", w.duck}}
	for _, p := range providers {
		if p.tool == nil {
			continue
		}
		result, err := p.tool.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		w.logger.Warn(ctx, "web search provider failed", zap.String("provider", p.name), zap.Error(err))
	}
	return "", errors.New("no search provider succeeded")
}

func initDDGSearch(ctx context.Context, logger *logging.Logger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		logger.Warn(ctx, "duckduckgo search disabled", zap.Error(err))
		return nil
	}
	return duckTool
}

func initGoogleSearch(ctx context.Context, cfg config.ToolsConfig, logger *logging.Logger) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleSearchEngineID == "" {
		logger.Debug(ctx, "google search disabled: missing api key or search engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		logger.Warn(ctx, "google search disabled", zap.Error(err))
		return nil
	}
	return googleTool
}
