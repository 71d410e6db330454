package polar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	polargo "github.com/polarsource/polar-go"
	"github.com/polarsource/polar-go/models/apierrors"
	"github.com/polarsource/polar-go/models/components"
	"github.com/polarsource/polar-go/models/operations"
)

const (
	ProductionURL = "https://api.polar.sh"
	SandboxURL    = "https://sandbox-api.polar.sh"

	defaultTimeout = 15 * time.Second
	pageSize       = 100
)

var (
	ErrNotConfigured = errors.New("polar client is not configured")
	ErrNotFound      = errors.New("polar resource not found")
	ErrAPI           = errors.New("polar api error")
)

// ServerURL maps the POLAR_SERVER setting to an API base URL
func ServerURL(server string) string {
	if strings.EqualFold(server, "production") {
		return ProductionURL
	}
	return SandboxURL
}

// Client wraps the Polar SDK and returns the package's own types
type Client struct {
	sdk   *polargo.Polar
	token string
}

func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	return &Client{
		sdk: polargo.New(
			polargo.WithServerURL(strings.TrimRight(baseURL, "/")),
			polargo.WithSecurity(accessToken),
			polargo.WithClient(httpClient),
		),
		token: accessToken,
	}
}

// Configured reports whether an access token is set
func (c *Client) Configured() bool {
	return c != nil && c.sdk != nil && c.token != ""
}

func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	res, err := c.sdk.Products.Get(ctx, id)
	if err != nil {
		return nil, apiError(err)
	}
	if res.Product == nil {
		return nil, fmt.Errorf("%w: empty product response", ErrAPI)
	}

	var p Product
	if err := convert(res.Product, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns published products across all pages
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	res, err := c.sdk.Products.List(ctx, operations.ProductsListRequest{
		IsArchived: polargo.Pointer(false),
		Limit:      polargo.Pointer[int64](pageSize),
	})
	if err != nil {
		return nil, apiError(err)
	}

	var out []Product
	for res != nil && res.ListResourceProduct != nil {
		var page ListResource[Product]
		if err := convert(res.ListResourceProduct, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if len(page.Items) == 0 || res.Next == nil {
			break
		}
		if res, err = res.Next(); err != nil {
			return nil, apiError(err)
		}
	}
	return out, nil
}

// GetCustomerStateByExternalID looks a customer up by our account id.
// A customer that never purchased returns ErrNotFound.
func (c *Client) GetCustomerStateByExternalID(ctx context.Context, externalID string) (*CustomerState, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	res, err := c.sdk.Customers.GetStateExternal(ctx, externalID)
	if err != nil {
		return nil, apiError(err)
	}
	if res.CustomerState == nil {
		return nil, fmt.Errorf("%w: empty customer state response", ErrAPI)
	}

	var st CustomerState
	if err := convert(res.CustomerState, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) CreateCheckout(ctx context.Context, p CheckoutParams) (*Checkout, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req := components.CheckoutCreate{Products: p.Products}
	if p.SuccessURL != "" {
		req.SuccessURL = polargo.String(p.SuccessURL)
	}
	if p.ExternalCustomerID != "" {
		req.ExternalCustomerID = polargo.String(p.ExternalCustomerID)
	}
	if p.CustomerEmail != "" {
		req.CustomerEmail = polargo.String(p.CustomerEmail)
	}

	res, err := c.sdk.Checkouts.Create(ctx, req)
	if err != nil {
		return nil, apiError(err)
	}
	if res.Checkout == nil {
		return nil, fmt.Errorf("%w: empty checkout response", ErrAPI)
	}
	return &Checkout{ID: res.Checkout.ID, URL: res.Checkout.URL}, nil
}

func (c *Client) CreateCustomerSession(ctx context.Context, externalCustomerID string) (*CustomerSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req := operations.CreateCustomerSessionsCreateCustomerSessionCreateCustomerSessionCustomerExternalIDCreate(
		components.CustomerSessionCustomerExternalIDCreate{ExternalCustomerID: externalCustomerID},
	)

	res, err := c.sdk.CustomerSessions.Create(ctx, req)
	if err != nil {
		return nil, apiError(err)
	}
	if res.CustomerSession == nil {
		return nil, fmt.Errorf("%w: empty customer session response", ErrAPI)
	}
	return &CustomerSession{
		Token:             res.CustomerSession.Token,
		CustomerPortalURL: res.CustomerSession.CustomerPortalURL,
	}, nil
}

// apiError folds SDK errors into ErrNotFound and ErrAPI
func apiError(err error) error {
	var notFound *apierrors.ResourceNotFound
	if errors.As(err, &notFound) {
		return ErrNotFound
	}
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("%w: status=%d body=%s", ErrAPI, apiErr.StatusCode, apiErr.Body)
	}
	return fmt.Errorf("%w: %v", ErrAPI, err)
}

// convert re-decodes an SDK model through its wire JSON. Price and
// metadata unions land in the package's flat types this way.
func convert(src, dst interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("%w: encode response: %v", ErrAPI, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrAPI, err)
	}
	return nil
}
