package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const sheetsAPIBase = "https://sheets.googleapis.com/v4/spreadsheets"

// SheetsConfig carries the OAuth access token for the google_sheets
// transport. Token refresh is the connector layer's job, not ours.
type SheetsConfig struct {
	AccessToken string `mapstructure:"access_token"`
}

type sheetsTransport struct {
	cfg SheetsConfig
}

func NewSheetsTransport(cfg SheetsConfig) Transport {
	return &sheetsTransport{cfg: cfg}
}

type appendRowPayload struct {
	SpreadsheetID string          `json:"spreadsheet_id"`
	Range         string          `json:"range"`
	Values        [][]interface{} `json:"values"`
}

func (t *sheetsTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	if operation != "append_row" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported google_sheets operation %q", operation)}
	}

	var row appendRowPayload
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "google_sheets payload must carry spreadsheet_id/range/values"}
	}
	if row.SpreadsheetID == "" || row.Range == "" || len(row.Values) == 0 {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "google_sheets payload requires spreadsheet_id, range and values"}
	}

	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=USER_ENTERED",
		sheetsAPIBase, url.PathEscape(row.SpreadsheetID), url.PathEscape(row.Range))

	return doJSON(ctx, http.MethodPost, endpoint, map[string]string{
		"Authorization": "Bearer " + t.cfg.AccessToken,
	}, map[string]interface{}{
		"values": row.Values,
	})
}
