// Package publish implements the marketplace Publish Gateway.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/types"
)

// Params configures the gateway.
type Params struct {
	Mode          string // DRY_RUN or LIVE
	Marketplace   string
	SandboxURL    string
	ProductionURL string
	Timeout       time.Duration
}

// Gateway performs the actual marketplace listing call. It makes exactly one
// attempt per Publish invocation; retry policy lives with the caller's
// next-cycle scheduling.
type Gateway struct {
	params  Params
	clients map[types.Environment]*Client
}

var _ interfaces.PublishGateway = (*Gateway)(nil)

func NewGateway(params Params) *Gateway {
	if params.Timeout <= 0 {
		params.Timeout = 30 * time.Second
	}
	return &Gateway{
		params: params,
		clients: map[types.Environment]*Client{
			types.EnvSandbox: NewClient(
				WithBaseURL(params.SandboxURL),
				WithTimeout(params.Timeout),
				WithLogging(true),
			),
			types.EnvProduction: NewClient(
				WithBaseURL(params.ProductionURL),
				WithTimeout(params.Timeout),
				WithLogging(true),
			),
		},
	}
}

type listingRequest struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	SKU       string `json:"sku"`
}

type listingResponse struct {
	ListingID string `json:"listing_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Publish lists the opportunity on the marketplace using the resolved
// credentials. The returned attempt records the outcome either way; the
// error mirrors attempt.Error for callers that branch on it.
func (g *Gateway) Publish(ctx context.Context, opp types.Opportunity, creds types.ResolvedCredentials) (types.PublishAttempt, error) {
	attempt := types.PublishAttempt{
		OpportunityID: opp.ID,
		Marketplace:   g.params.Marketplace,
		Environment:   creds.Environment,
		Timestamp:     time.Now(),
	}

	if g.params.Mode == "DRY_RUN" {
		attempt.Success = true
		attempt.ListingID = "dry-" + uuid.NewString()
		logger.Publish(ctx, opp.ID, g.params.Marketplace, string(creds.Environment), true, "mode", "DRY_RUN")
		return attempt, nil
	}

	client, ok := g.clients[creds.Environment]
	if !ok {
		attempt.Error = fmt.Sprintf("no endpoint configured for environment %q", creds.Environment)
		return attempt, fmt.Errorf("%s", attempt.Error)
	}

	req := listingRequest{
		Title:     opp.Title,
		SourceURL: opp.SourceURL,
		Price:     opp.EstimatedSalePrice.StringFixed(2),
		Currency:  "USD",
		SKU:       opp.ID,
	}
	headers := map[string]string{}
	if token, ok := creds.Credentials["api_token"]; ok {
		headers["Authorization"] = "Bearer " + token
	}

	var resp listingResponse
	if err := client.PostJSON(ctx, "/listings", req, headers, &resp); err != nil {
		attempt.Error = err.Error()
		logger.Publish(ctx, opp.ID, g.params.Marketplace, string(creds.Environment), false, "error", err.Error())
		return attempt, err
	}

	attempt.Success = true
	attempt.ListingID = resp.ListingID
	logger.Publish(ctx, opp.ID, g.params.Marketplace, string(creds.Environment), true, "listing_id", resp.ListingID)
	return attempt, nil
}
