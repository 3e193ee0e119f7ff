package tabular

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/kitool/pkg/toolexecutor"
	"github.com/harun/kitool/pkg/workspace"
)

// Options configures spreadsheet tool registration.
type Options struct {
	Workspace *workspace.Workspace
	// Timeout bounds each spreadsheet call; zero uses the dispatcher default.
	Timeout time.Duration
}

// RegisterTools registers read_excel, excel_groupby and to_csv_from_excel.
func RegisterTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Workspace == nil {
		opts.Workspace = workspace.New("", false)
	}

	minHead := 0.0
	sheetParam := func(required bool) toolexecutor.ToolParameter {
		return toolexecutor.ToolParameter{
			Name:        "sheet",
			Type:        "string",
			Description: "Sheet name, or null for the first sheet",
			Required:    required,
			Nullable:    true,
		}
	}

	tools := []toolexecutor.ToolDefinition{
		{
			Name:        "read_excel",
			Description: "Load a spreadsheet sheet and return structure info plus a preview as JSON: rows, columns, dtypes, na_counts, preview.",
			Category:    toolexecutor.CategoryData,
			Timeout:     opts.Timeout,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Spreadsheet file path (.xlsx, .xlsm, .xltx, .xltm or .csv)", Required: true},
				sheetParam(false),
				{Name: "head", Type: "integer", Description: "Number of preview rows to include", Default: DefaultHead, Minimum: &minHead},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
				h, err := loadParam(ctx, opts.Workspace, params)
				if err != nil {
					return "", err
				}
				head, err := toolexecutor.IntParam(params, "head", DefaultHead)
				if err != nil {
					return "", err
				}
				d, err := Describe(h, head)
				if err != nil {
					return "", toolexecutor.ValidationError(err)
				}
				return d.JSON()
			},
		},
		{
			Name:        "excel_groupby",
			Description: "Group a spreadsheet sheet by columns and aggregate a value column. Returns the result table as Markdown, one row per group, sorted by key.",
			Category:    toolexecutor.CategoryData,
			Timeout:     opts.Timeout,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Spreadsheet file path", Required: true},
				sheetParam(true),
				{Name: "by", Type: "array", Items: "string", Description: "Column names to group by", Required: true},
				{Name: "value", Type: "string", Description: "Value column to aggregate", Required: true},
				{Name: "agg", Type: "string", Description: "Aggregation function", Default: string(AggSum), Enum: AggregationNames()},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
				by, err := toolexecutor.StringSliceParam(params, "by")
				if err != nil {
					return "", err
				}
				agg, err := ParseAggregation(toolexecutor.StringParam(params, "agg"))
				if err != nil {
					return "", toolexecutor.ValidationError(err)
				}
				h, err := loadParam(ctx, opts.Workspace, params)
				if err != nil {
					return "", err
				}
				out, err := GroupAggregate(h, by, toolexecutor.StringParam(params, "value"), agg)
				if err != nil {
					return "", err
				}
				return Markdown(out), nil
			},
		},
		{
			Name:        "to_csv_from_excel",
			Description: "Export a spreadsheet sheet to CSV, creating parent folders as needed.",
			Category:    toolexecutor.CategoryData,
			Timeout:     opts.Timeout,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Spreadsheet file path", Required: true},
				sheetParam(true),
				{Name: "out_csv", Type: "string", Description: "Output CSV path", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
				outArg := toolexecutor.StringParam(params, "out_csv")
				outPath, err := opts.Workspace.Resolve(ctx, outArg)
				if err != nil {
					return "", err
				}
				h, err := loadParam(ctx, opts.Workspace, params)
				if err != nil {
					return "", err
				}
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if err := ExportCSV(h, outPath); err != nil {
					return "", err
				}
				return "saved:" + outArg, nil
			},
		},
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func loadParam(ctx context.Context, ws *workspace.Workspace, params map[string]interface{}) (*Handle, error) {
	target, err := ws.Resolve(ctx, toolexecutor.StringParam(params, "path"))
	if err != nil {
		return nil, err
	}
	return Load(target, toolexecutor.StringParam(params, "sheet"))
}
