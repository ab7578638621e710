package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsClient reads tabs from a Google Sheets spreadsheet.
type SheetsClient struct {
	svc *sheets.Service
}

// NewSheetsClient authenticates with a service account key file. An empty
// path falls back to application default credentials.
func NewSheetsClient(ctx context.Context, credentialsFile string) (*SheetsClient, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	if strings.HasPrefix(strings.TrimSpace(credentialsFile), "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsFile)))
	} else if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsClient{svc: svc}, nil
}

// Fetch reads the named tabs, or every tab when tabs is empty. Values are
// requested unformatted with dates as day serials, the same shape
// DecodeXLSX produces.
func (c *SheetsClient) Fetch(ctx context.Context, spreadsheetID string, tabs []string, skip Skip) ([]Table, error) {
	if len(tabs) == 0 {
		ss, err := c.svc.Spreadsheets.Get(spreadsheetID).
			Fields("sheets.properties.title").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("get spreadsheet %s: %w", spreadsheetID, err)
		}
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				tabs = append(tabs, sh.Properties.Title)
			}
		}
	}

	var names, ranges []string
	for _, tab := range tabs {
		if skip != nil && skip(tab) {
			continue
		}
		names = append(names, tab)
		ranges = append(ranges, quoteRange(tab))
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("spreadsheet %s: %w", spreadsheetID, ErrNoHeader)
	}

	resp, err := c.svc.Spreadsheets.Values.BatchGet(spreadsheetID).
		Ranges(ranges...).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet %s: %w", spreadsheetID, err)
	}
	return tablesFromValueRanges(names, resp.ValueRanges)
}

func tablesFromValueRanges(names []string, ranges []*sheets.ValueRange) ([]Table, error) {
	var tables []Table
	for i, vr := range ranges {
		if i >= len(names) || vr == nil {
			continue
		}
		records := make([][]string, len(vr.Values))
		for r, row := range vr.Values {
			records[r] = make([]string, len(row))
			for col, cell := range row {
				records[r][col] = cellString(cell)
			}
		}
		table, err := newTable(names[i], records)
		if errors.Is(err, ErrNoHeader) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("spreadsheet: %w", ErrNoHeader)
	}
	return tables, nil
}

// cellString renders an unformatted cell value as text.
func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func quoteRange(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
