package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"pushpoint/internal/types"
)

// DefaultExpoBaseURL is the production Expo push gateway.
const DefaultExpoBaseURL = "https://exp.host"

const expoSendPath = "/--/api/v2/push/send"

// expoTokenPattern matches both current and legacy Expo push token forms.
var expoTokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]]+\]$`)

// ExpoClient delivers push notifications through Expo's HTTP API. It embeds
// BaseClient so every send inherits circuit breaking and retries.
type ExpoClient struct {
	*BaseClient
	baseURL     string
	accessToken string
}

// NewExpoClient creates an ExpoClient. accessToken may be empty for
// unauthenticated projects; baseURL may be empty to use the production
// gateway.
func NewExpoClient(httpClient *http.Client, baseURL, accessToken string, opts ...BaseClientOption) *ExpoClient {
	if baseURL == "" {
		baseURL = DefaultExpoBaseURL
	}
	return &ExpoClient{
		BaseClient:  NewBaseClient(httpClient, "expo", DefaultRetryPolicy(), "pushpoint/1.0", opts...),
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

// IsValidDestination reports whether token has the shape of an Expo push
// token. Shape only; it does not prove the device is still registered.
func (c *ExpoClient) IsValidDestination(token string) bool {
	return expoTokenPattern.MatchString(token)
}

// expoMessage is one entry in the gateway's send request.
type expoMessage struct {
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

// expoSendResponse is the gateway's per-message ticket envelope.
type expoSendResponse struct {
	Data []expoTicket `json:"data"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// Send delivers one notification to destination. A DeviceNotRegistered
// ticket maps to an invalid-destination error so callers can distinguish a
// dead token from a gateway outage.
func (c *ExpoClient) Send(ctx context.Context, destination, title, body string) error {
	payload, err := json.Marshal([]expoMessage{{
		To:    destination,
		Title: title,
		Body:  body,
		Sound: "default",
	}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+expoSendPath, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamPushProvider,
			fmt.Sprintf("push gateway returned %d", resp.StatusCode),
			nil,
			map[string]any{"response": string(respBody)},
		)
	}

	var parsed expoSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPushProvider, "failed to decode push gateway response", err)
	}
	if len(parsed.Data) == 0 {
		return types.NewAppError(types.ErrCodeUpstreamPushProvider, "push gateway returned no tickets", nil)
	}

	ticket := parsed.Data[0]
	if ticket.Status == "error" {
		if ticket.Details.Error == "DeviceNotRegistered" {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidDestination,
				"destination device is no longer registered",
				nil,
				map[string]any{"ticket_message": ticket.Message},
			)
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamPushProvider,
			"push gateway rejected the message",
			nil,
			map[string]any{"ticket_error": ticket.Details.Error, "ticket_message": ticket.Message},
		)
	}

	return nil
}
