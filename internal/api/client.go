// Package api is the typed client for the mess server's domain endpoints:
// meals, bazar (grocery) entries, payments, and users. All calls go through
// the dispatcher, so reads are cache-backed and writes queue while offline.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rahat/mess/internal/dispatch"
)

// Client wraps the dispatcher with the server's endpoint surface.
type Client struct {
	d *dispatch.Dispatcher
}

// New creates a Client over the given dispatcher.
func New(d *dispatch.Dispatcher) *Client {
	return &Client{d: d}
}

// ReadOnlyEndpoint reports whether an endpoint only serves reads. Used when
// resolving legacy queue entries whose CREATE tag may mean a deferred fetch.
func ReadOnlyEndpoint(endpoint string) bool {
	for _, p := range []string{"/meals/summary", "/bazar/summary", "/users/me", "/health"} {
		if strings.HasPrefix(endpoint, p) {
			return true
		}
	}
	return false
}

// --- Auth ---

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the token pair plus user issued on login.
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// User is a member of the mess.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Login authenticates with email/password. A 401 here is a wrong-credentials
// domain outcome, never a session fault.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, dispatch.Result) {
	return post[LoginResponse](c, ctx, "/auth/login", LoginRequest{Email: email, Password: password}, dispatch.Options{NoAuth: true})
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, name, email, password string) (*LoginResponse, dispatch.Result) {
	body := map[string]string{"name": name, "email": email, "password": password}
	return post[LoginResponse](c, ctx, "/auth/register", body, dispatch.Options{NoAuth: true})
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, dispatch.Result) {
	return get[User](c, ctx, "/users/me", dispatch.Options{Cacheable: true})
}

// --- Meals ---

// Meal records one member-day of meals.
type Meal struct {
	ID        string  `json:"id,omitempty"`
	UserID    string  `json:"userId,omitempty"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Breakfast float64 `json:"breakfast"`
	Lunch     float64 `json:"lunch"`
	Dinner    float64 `json:"dinner"`
}

// ListMeals fetches meals for a month (YYYY-MM).
func (c *Client) ListMeals(ctx context.Context, month string) ([]Meal, dispatch.Result) {
	return getSlice[Meal](c, ctx, "/meals?month="+month, dispatch.Options{Cacheable: true})
}

// CreateMeal records a meal entry; queues when offline.
func (c *Client) CreateMeal(ctx context.Context, m Meal) (*Meal, dispatch.Result) {
	return post[Meal](c, ctx, "/meals", m, dispatch.Options{AllowQueue: true, Invalidate: []string{"/meals"}})
}

// UpdateMeal rewrites a meal entry; queues when offline.
func (c *Client) UpdateMeal(ctx context.Context, id string, m Meal) (*Meal, dispatch.Result) {
	return send[Meal](c, ctx, http.MethodPut, "/meals/"+id, m, dispatch.Options{AllowQueue: true, Invalidate: []string{"/meals"}})
}

// DeleteMeal removes a meal entry; queues when offline.
func (c *Client) DeleteMeal(ctx context.Context, id string) dispatch.Result {
	_, res := send[struct{}](c, ctx, http.MethodDelete, "/meals/"+id, nil, dispatch.Options{AllowQueue: true, Invalidate: []string{"/meals"}})
	return res
}

// --- Bazar ---

// BazarEntry is one grocery purchase.
type BazarEntry struct {
	ID          string  `json:"id,omitempty"`
	UserID      string  `json:"userId,omitempty"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// ListBazar fetches bazar entries for a month (YYYY-MM).
func (c *Client) ListBazar(ctx context.Context, month string) ([]BazarEntry, dispatch.Result) {
	return getSlice[BazarEntry](c, ctx, "/bazar?month="+month, dispatch.Options{Cacheable: true})
}

// CreateBazar records a purchase; queues when offline.
func (c *Client) CreateBazar(ctx context.Context, e BazarEntry) (*BazarEntry, dispatch.Result) {
	return post[BazarEntry](c, ctx, "/bazar", e, dispatch.Options{AllowQueue: true, Invalidate: []string{"/bazar", "/meals/summary"}})
}

// UpdateBazar rewrites a purchase; queues when offline.
func (c *Client) UpdateBazar(ctx context.Context, id string, e BazarEntry) (*BazarEntry, dispatch.Result) {
	return send[BazarEntry](c, ctx, http.MethodPut, "/bazar/"+id, e, dispatch.Options{AllowQueue: true, Invalidate: []string{"/bazar", "/meals/summary"}})
}

// DeleteBazar removes a purchase; queues when offline.
func (c *Client) DeleteBazar(ctx context.Context, id string) dispatch.Result {
	_, res := send[struct{}](c, ctx, http.MethodDelete, "/bazar/"+id, nil, dispatch.Options{AllowQueue: true, Invalidate: []string{"/bazar", "/meals/summary"}})
	return res
}

// --- Payments ---

// Payment is one member deposit toward the shared expenses.
type Payment struct {
	ID     string  `json:"id,omitempty"`
	UserID string  `json:"userId,omitempty"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// ListPayments fetches payments for a month (YYYY-MM).
func (c *Client) ListPayments(ctx context.Context, month string) ([]Payment, dispatch.Result) {
	return getSlice[Payment](c, ctx, "/payments?month="+month, dispatch.Options{Cacheable: true})
}

// CreatePayment records a deposit; queues when offline.
func (c *Client) CreatePayment(ctx context.Context, p Payment) (*Payment, dispatch.Result) {
	return post[Payment](c, ctx, "/payments", p, dispatch.Options{AllowQueue: true, Invalidate: []string{"/payments", "/meals/summary"}})
}

// --- Summary ---

// Summary is the server's month aggregation: totals and the per-meal rate.
type Summary struct {
	Month        string  `json:"month"`
	TotalMeals   float64 `json:"totalMeals"`
	TotalBazar   float64 `json:"totalBazar"`
	MealRate     float64 `json:"mealRate"`
	TotalDeposit float64 `json:"totalDeposit"`
}

// MonthSummary fetches the aggregated month report.
func (c *Client) MonthSummary(ctx context.Context, month string) (*Summary, dispatch.Result) {
	return get[Summary](c, ctx, "/meals/summary?month="+month, dispatch.Options{Cacheable: true})
}

// --- helpers ---

func get[T any](c *Client, ctx context.Context, endpoint string, opts dispatch.Options) (*T, dispatch.Result) {
	res := c.d.Request(ctx, http.MethodGet, endpoint, nil, opts)
	return decode[T](res)
}

func getSlice[T any](c *Client, ctx context.Context, endpoint string, opts dispatch.Options) ([]T, dispatch.Result) {
	res := c.d.Request(ctx, http.MethodGet, endpoint, nil, opts)
	if !res.Success || len(res.Data) == 0 {
		return nil, res
	}
	var out []T
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return nil, decodeFailure(res, err)
	}
	return out, res
}

func post[T any](c *Client, ctx context.Context, endpoint string, body any, opts dispatch.Options) (*T, dispatch.Result) {
	return send[T](c, ctx, http.MethodPost, endpoint, body, opts)
}

func send[T any](c *Client, ctx context.Context, method, endpoint string, body any, opts dispatch.Options) (*T, dispatch.Result) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, dispatch.Result{Failure: &dispatch.Failure{
				Class:   dispatch.ClassClient,
				Message: fmt.Sprintf("marshal request: %v", err),
			}}
		}
		raw = data
	}
	res := c.d.Request(ctx, method, endpoint, raw, opts)
	return decode[T](res)
}

func decode[T any](res dispatch.Result) (*T, dispatch.Result) {
	if !res.Success || len(res.Data) == 0 {
		return nil, res
	}
	var out T
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return nil, decodeFailure(res, err)
	}
	return &out, res
}

func decodeFailure(res dispatch.Result, err error) dispatch.Result {
	return dispatch.Result{
		Status: res.Status,
		Failure: &dispatch.Failure{
			Class:   dispatch.ClassClient,
			Status:  res.Status,
			Message: fmt.Sprintf("unmarshal response: %v", err),
		},
	}
}
