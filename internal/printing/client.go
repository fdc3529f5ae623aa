package printing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/storyforge/api/internal/domain"
	"github.com/storyforge/api/internal/platform/storage"
)

const (
	defaultBaseURL = "https://order.gelatoapis.com"
	defaultTimeout = 30 * time.Second

	productUIDSoftcover = "BOOK_A4_SOFTCOVER"
	productUIDHardcover = "BOOK_A4_HARDCOVER"
)

// ErrNotPrintable indicates the order cannot be submitted for printing.
var ErrNotPrintable = errors.New("printing: order not printable")

// ClientConfig configures the print partner API client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// AssetBaseURL prefixes asset object paths so the partner can download
	// the interior PDF.
	AssetBaseURL string
	HTTPClient   *http.Client
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Client submits print orders to the partner API.
type Client struct {
	baseURL      string
	apiKey       string
	assetBaseURL string
	httpClient   *http.Client
	logger       func(context.Context, string, map[string]any)
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("printing client: api key is required")
	}
	if strings.TrimSpace(cfg.AssetBaseURL) == "" {
		return nil, errors.New("printing client: asset base url is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		assetBaseURL: strings.TrimRight(strings.TrimSpace(cfg.AssetBaseURL), "/"),
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type printOrderRequest struct {
	OrderType       string           `json:"orderType"`
	OrderReference  string           `json:"orderReference"`
	Currency        string           `json:"currency"`
	ShippingAddress *shippingAddress `json:"shippingAddress"`
	Items           []printOrderItem `json:"items"`
}

type shippingAddress struct {
	Name       string `json:"name"`
	AddressL1  string `json:"addressLine1"`
	AddressL2  string `json:"addressLine2,omitempty"`
	PostalCode string `json:"postCode"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

type printOrderItem struct {
	ProductUID string           `json:"productUid"`
	Quantity   int              `json:"quantity"`
	Files      []printOrderFile `json:"files"`
}

type printOrderFile struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// SubmitPrintOrder sends a paid physical order to the partner. The interior
// file is the rendered book PDF in the asset store.
func (c *Client) SubmitPrintOrder(ctx context.Context, order domain.Order) error {
	if !order.Format.Physical() {
		return fmt.Errorf("%w: format %s is digital", ErrNotPrintable, order.Format)
	}
	if order.ShippingAddress == nil {
		return fmt.Errorf("%w: order %s has no shipping address", ErrNotPrintable, order.ID)
	}

	pdfPath, err := storage.BookPDFPath(order.BookID)
	if err != nil {
		return err
	}

	body := printOrderRequest{
		OrderType:      "order",
		OrderReference: order.ID,
		Currency:       order.Currency,
		ShippingAddress: &shippingAddress{
			Name:       order.ShippingAddress.Name,
			AddressL1:  order.ShippingAddress.Line1,
			AddressL2:  order.ShippingAddress.Line2,
			PostalCode: order.ShippingAddress.PostalCode,
			City:       order.ShippingAddress.City,
			Country:    order.ShippingAddress.Country,
		},
		Items: []printOrderItem{
			{
				ProductUID: productUID(order.Format),
				Quantity:   1,
				Files: []printOrderFile{
					{URL: c.assetBaseURL + "/" + pdfPath, Type: "interior"},
				},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("printing: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v4/orders", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("printing: build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("printing: submit order %s: %w", order.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("printing: submit order %s: status %d: %s", order.ID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("printing: decode response: %w", err)
	}

	c.logger(ctx, "printing.order.submitted", map[string]any{
		"order":   order.ID,
		"partner": created.ID,
		"product": productUID(order.Format),
	})
	return nil
}

func productUID(format domain.BookFormat) string {
	if format == domain.FormatPremiumPrint {
		return productUIDHardcover
	}
	return productUIDSoftcover
}
