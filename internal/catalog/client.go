// Package catalog is a stateless read-only client for the public product
// catalog API. Every call is a single network attempt with no caching;
// callers surface failures and let the user retry.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shopez/internal/domain"
)

// FetchError wraps a catalog network, status or decode failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client fetches products and categories from the catalog API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client for the API at baseURL. httpClient may be nil, in
// which case a client with a 15s timeout is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// apiProduct matches the catalog wire format, where ids are numeric.
type apiProduct struct {
	ID          json.Number   `json:"id"`
	Title       string        `json:"title"`
	Price       float64       `json:"price"`
	Image       string        `json:"image"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Rating      domain.Rating `json:"rating"`
}

func (p apiProduct) toDomain() domain.Product {
	return domain.Product{
		ID:          p.ID.String(),
		Title:       p.Title,
		Price:       p.Price,
		Image:       p.Image,
		Category:    p.Category,
		Description: p.Description,
		Rating:      p.Rating,
	}
}

// ListProducts fetches the full product list.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var raw []apiProduct
	if err := c.getJSON(ctx, "/products", &raw); err != nil {
		return nil, err
	}
	return toDomainList(raw), nil
}

// ListProductsByCategory fetches the products in one category.
func (c *Client) ListProductsByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	var raw []apiProduct
	if err := c.getJSON(ctx, "/products/category/"+url.PathEscape(category), &raw); err != nil {
		return nil, err
	}
	return toDomainList(raw), nil
}

// ListCategories fetches the category names.
func (c *Client) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := c.getJSON(ctx, "/products/categories", &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	reqURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &FetchError{URL: reqURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &FetchError{URL: reqURL, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{URL: reqURL, Err: err}
	}
	return nil
}

func toDomainList(raw []apiProduct) []domain.Product {
	products := make([]domain.Product, 0, len(raw))
	for _, p := range raw {
		products = append(products, p.toDomain())
	}
	return products
}
